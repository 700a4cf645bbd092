package main

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/MrWong99/bookalign/internal/pipeline"
	"github.com/MrWong99/bookalign/internal/report"
	"github.com/MrWong99/bookalign/pkg/asr"
)

var (
	asrDir      string
	audioDir    string
	audioExt    string
	concurrency int
)

var batchCmd = &cobra.Command{
	Use:   "batch",
	Short: "Align every chapter transcript in a directory",
	Long: `Align every *.asr.json transcript in --asr-dir. Each transcript stem is
used as the chapter name and as the label for section resolution. Chapters
run in parallel; a chapter with malformed input is reported and skipped,
while an internal consistency failure stops the whole batch.`,
	Args: cobra.NoArgs,
	RunE: runBatch,
}

func init() {
	batchCmd.Flags().StringVarP(&bookPath, "book", "b", "book.index.json", "book index JSON")
	batchCmd.Flags().StringVarP(&asrDir, "asr-dir", "d", "asr", "directory holding *.asr.json transcripts")
	batchCmd.Flags().StringVar(&audioDir, "audio-dir", "", "directory holding the chapter audio, recorded in the provenance")
	batchCmd.Flags().StringVar(&audioExt, "audio-ext", ".mp3", "audio file extension")
	batchCmd.Flags().IntVarP(&concurrency, "concurrency", "j", 0, "chapters aligned in parallel (default: workers.concurrency)")
	batchCmd.Flags().BoolVar(&dryRun, "dry-run", false, "align without storing artifacts")

	rootCmd.AddCommand(batchCmd)
}

func runBatch(cmd *cobra.Command, _ []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	paths, err := discoverTranscripts(asrDir)
	if err != nil {
		return err
	}
	if len(paths) == 0 {
		return fmt.Errorf("no %s files in %s", asrSuffix, asrDir)
	}

	// Malformed transcripts fail their own chapter only.
	chapters := make([]pipeline.Chapter, 0, len(paths))
	var loadErrs []error
	for _, p := range paths {
		name := chapterStem(p)
		tr, err := asr.Load(p)
		if err != nil {
			slog.Error("skipping chapter", "chapter", name, "err", err)
			loadErrs = append(loadErrs, err)
			continue
		}
		ch := pipeline.Chapter{Name: name, Label: name, ScriptPath: p, Transcript: tr}
		if audioDir != "" {
			ch.AudioPath = filepath.Join(audioDir, name+audioExt)
		}
		chapters = append(chapters, ch)
	}

	r, release, err := newRunner(ctx, !dryRun)
	if err != nil {
		return err
	}
	defer release()

	n := concurrency
	if n < 1 {
		n = cfg.Workers.Concurrency
	}
	outcomes, batchErr := r.RunBatch(ctx, chapters, n)

	w := cmd.OutOrStdout()
	failed := len(loadErrs)
	for _, o := range outcomes {
		switch {
		case o.Err != nil:
			failed++
			printf(w, "%s: FAILED: %v\n", o.Chapter, o.Err)
		case o.Result != nil:
			printResult(w, o.Result)
		default:
			printf(w, "%s: skipped\n", o.Chapter)
		}
	}
	if batchErr != nil {
		return batchErr
	}
	if failed > 0 {
		return errors.Join(append(loadErrs, fmt.Errorf("%d of %d chapters failed", failed, len(paths)))...)
	}
	return nil
}

// discoverTranscripts lists the transcripts in dir in natural chapter order.
func discoverTranscripts(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("read transcript dir: %w", err)
	}
	byStem := make(map[string]string)
	var stems []string
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), asrSuffix) {
			continue
		}
		stem := chapterStem(e.Name())
		byStem[stem] = filepath.Join(dir, e.Name())
		stems = append(stems, stem)
	}
	report.SortChapters(stems)

	paths := make([]string, len(stems))
	for i, s := range stems {
		paths[i] = byStem[s]
	}
	return paths, nil
}
