package main

import (
	"errors"

	"github.com/spf13/cobra"

	"github.com/MrWong99/bookalign/internal/section"
	"github.com/MrWong99/bookalign/pkg/asr"
	"github.com/MrWong99/bookalign/pkg/manuscript"
)

var sectionCmd = &cobra.Command{
	Use:   "section [transcript.asr.json]",
	Short: "Show which book section a chapter maps to",
	Long: `Resolve a chapter to a book section, either by --label or by detecting
the spoken heading at the start of a transcript. Without either, list the
sections of the book index.`,
	Args: cobra.MaximumNArgs(1),
	RunE: runSection,
}

func init() {
	sectionCmd.Flags().StringVarP(&bookPath, "book", "b", "book.index.json", "book index JSON")
	sectionCmd.Flags().StringVarP(&label, "label", "l", "", "chapter label to resolve")

	rootCmd.AddCommand(sectionCmd)
}

func runSection(cmd *cobra.Command, args []string) error {
	idx, err := manuscript.Load(bookPath)
	if err != nil {
		return err
	}
	loc := section.New(idx, section.WithPrefixLength(cfg.Section.PrefixLength))
	w := cmd.OutOrStdout()

	var (
		sec   manuscript.Section
		found bool
	)
	switch {
	case label != "":
		sec, found = loc.ResolveByTitle(label)
	case len(args) == 1:
		tr, err := asr.Load(args[0])
		if err != nil {
			return err
		}
		sec, found = loc.DetectTokens(tr)
	default:
		for _, s := range loc.Sections() {
			printf(w, "%4d  [%d,%d)  %s\n", s.ID, s.Start, s.End, s.Title)
		}
		return nil
	}

	if !found {
		return errors.New("no matching section")
	}
	printf(w, "%d  [%d,%d)  %s\n", sec.ID, sec.Start, sec.End, sec.Title)
	return nil
}
