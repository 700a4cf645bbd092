package main

import (
	"context"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/MrWong99/bookalign/internal/artifact"
	"github.com/MrWong99/bookalign/internal/pipeline"
	"github.com/MrWong99/bookalign/pkg/asr"
	"github.com/MrWong99/bookalign/pkg/manuscript"
)

// asrSuffix is the file name suffix of ASR transcripts.
const asrSuffix = ".asr.json"

var (
	bookPath  string
	chapterAs string
	label     string
	audioPath string
	dryRun    bool
)

var alignCmd = &cobra.Command{
	Use:   "align <transcript.asr.json>",
	Short: "Align one chapter transcript with the book index",
	Long: `Align one ASR transcript with the book index and store its anchor set,
transcript index and hydrated transcript. The chapter name defaults to the
transcript file name without the .asr.json suffix and is also used to
resolve the chapter when --label is not given and the heading cannot be
detected from the audio.`,
	Args: cobra.ExactArgs(1),
	RunE: runAlign,
}

func init() {
	alignCmd.Flags().StringVarP(&bookPath, "book", "b", "book.index.json", "book index JSON")
	alignCmd.Flags().StringVarP(&chapterAs, "name", "n", "", "chapter name (default: transcript stem)")
	alignCmd.Flags().StringVarP(&label, "label", "l", "", "chapter label used to resolve the section, e.g. \"03 - The Storm\"")
	alignCmd.Flags().StringVarP(&audioPath, "audio", "a", "", "audio file recorded in the provenance")
	alignCmd.Flags().BoolVar(&dryRun, "dry-run", false, "align without storing artifacts")

	rootCmd.AddCommand(alignCmd)
}

func runAlign(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	tr, err := asr.Load(args[0])
	if err != nil {
		return err
	}
	name := chapterAs
	if name == "" {
		name = chapterStem(args[0])
	}

	r, release, err := newRunner(ctx, !dryRun)
	if err != nil {
		return err
	}
	defer release()

	res, err := r.Run(ctx, pipeline.Chapter{
		Name:       name,
		Label:      label,
		AudioPath:  audioPath,
		ScriptPath: args[0],
		Transcript: tr,
	})
	if err != nil {
		return err
	}
	printResult(cmd.OutOrStdout(), res)
	return nil
}

// newRunner loads the book index and builds a runner from the active
// config, with the configured store unless persist is false.
func newRunner(ctx context.Context, persist bool) (*pipeline.Runner, func(), error) {
	idx, err := manuscript.Load(bookPath)
	if err != nil {
		return nil, nil, err
	}
	release := func() {}
	var opts []pipeline.Option
	if persist {
		store, closeStore, err := openStore(ctx)
		if err != nil {
			return nil, nil, err
		}
		opts = append(opts, pipeline.WithStore(store))
		release = closeStore
	}
	r, err := pipeline.New(idx, cfg.Params(), opts...)
	if err != nil {
		release()
		return nil, nil, err
	}
	return r, release, nil
}

// chapterStem derives a chapter name from a transcript path:
// "asr/03 - The Storm.asr.json" becomes "03 - The Storm".
func chapterStem(path string) string {
	base := filepath.Base(path)
	if stem, ok := strings.CutSuffix(base, asrSuffix); ok {
		return stem
	}
	return strings.TrimSuffix(base, filepath.Ext(base))
}

func printResult(w io.Writer, res *pipeline.Result) {
	s := res.Hydrated.Summary
	section := res.Section.Title
	if res.SectionFallback {
		section = "whole book (fallback)"
	}
	printf(w, "%s: section %q, %d anchors, %d windows, %d sentences (avg WER %.2f%%, flagged %d) in %s\n",
		res.Chapter, section, len(res.Anchors.Anchors), len(res.Index.Windows),
		s.SentenceCount, s.AvgWER*100, s.Flagged, res.Duration.Round(time.Millisecond))
	for _, kind := range artifact.Kinds {
		if result, ok := res.Writes[kind]; ok {
			printf(w, "  %-8s %s\n", kind, result)
		}
	}
}
