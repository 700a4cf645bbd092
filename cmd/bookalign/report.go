package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/MrWong99/bookalign/internal/artifact"
	"github.com/MrWong99/bookalign/internal/hydrate"
	"github.com/MrWong99/bookalign/internal/report"
)

var reportCmd = &cobra.Command{
	Use:   "report [chapter...]",
	Short: "Print validation reports of stored chapters",
	Long: `Print the plain-text validation report of each named chapter, or of
every stored chapter in natural order when no chapter is named.`,
	RunE: runReport,
}

func init() {
	rootCmd.AddCommand(reportCmd)
}

func runReport(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	store, release, err := openStore(ctx)
	if err != nil {
		return err
	}
	defer release()

	names := args
	if len(names) == 0 {
		if names, err = store.List(ctx); err != nil {
			return err
		}
		report.SortChapters(names)
	}

	w := cmd.OutOrStdout()
	for i, name := range names {
		a, found, err := store.Get(ctx, name, artifact.KindHydrated)
		if err != nil {
			return err
		}
		if !found {
			return fmt.Errorf("report not found: %s", name)
		}
		var t hydrate.Transcript
		if err := a.Decode(&t); err != nil {
			return err
		}
		if i > 0 {
			fmt.Fprintln(w)
		}
		if err := report.Render(w, name, &t); err != nil {
			return err
		}
	}
	return nil
}
