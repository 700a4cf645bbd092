package report_test

import (
	"bytes"
	"context"
	"slices"
	"strings"
	"testing"
	"time"

	"github.com/MrWong99/bookalign/internal/align"
	"github.com/MrWong99/bookalign/internal/anchor"
	"github.com/MrWong99/bookalign/internal/hydrate"
	"github.com/MrWong99/bookalign/internal/report"
	"github.com/MrWong99/bookalign/internal/section"
	"github.com/MrWong99/bookalign/pkg/asr"
	"github.com/MrWong99/bookalign/pkg/manuscript"
)

func hydrated(t *testing.T) *hydrate.Transcript {
	t.Helper()
	idx := manuscript.Build(manuscript.SectionText{Title: "One", Paragraphs: [][]string{
		{"One two three.", "Four five six.", "Seven eight nine."},
	}})
	idx.SourcePath = "book.index.json"
	tr := asr.FromWords("one two three seven eight nine", 0, 1)
	b, err := align.New(align.DefaultParams())
	if err != nil {
		t.Fatal(err)
	}
	x, err := b.Build(context.Background(), idx, tr, &anchor.Set{Bounds: section.Whole(idx, tr)})
	if err != nil {
		t.Fatal(err)
	}
	x.Provenance.AudioPath = "ch01.mp3"
	x.Provenance.ScriptPath = "ch01.asr.json"
	x.Provenance.CreatedAt = time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC)
	h, err := hydrate.New()
	if err != nil {
		t.Fatal(err)
	}
	out, err := h.Hydrate(context.Background(), x, idx)
	if err != nil {
		t.Fatal(err)
	}
	return out
}

func TestRender(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	if err := report.Render(&buf, "ch01", hydrated(t)); err != nil {
		t.Fatalf("Render: %v", err)
	}
	out := buf.String()
	lines := strings.Split(out, "\n")

	header := []string{
		"Audio     : ch01.mp3",
		"Script    : ch01.asr.json",
		"Book Index: book.index.json",
		"Created   : 2024-03-01T10:00:00Z",
		"Sentences : 3 (Avg WER 33.33%, Max WER 100.00%, Flagged 1)",
		"Paragraphs: 1 (Avg WER ",
	}
	for _, h := range header {
		found := false
		for _, l := range lines[:10] {
			if strings.HasPrefix(l, h) {
				found = true
			}
		}
		if !found {
			t.Errorf("header line %q missing from the first ten lines:\n%s", h, out)
		}
	}

	// The unheard middle sentence has the worst WER and is listed first.
	i := slices.Index(lines, "All sentences by WER:")
	if i < 0 || i+6 >= len(lines) {
		t.Fatalf("sentence block missing:\n%s", out)
	}
	want := []string{
		"  #1 | WER 100.0% | CER 100.0% | Status unreliable",
		"    Book range: [3,6)",
		"    Script range: none",
		"    Timing: 2.900s → 3.000s (Δ 0.100s) [interpolated]",
		"    Book   : Four five six.",
		"    Script : ",
		"  #0 | WER 0.0% | CER 0.0% | Status ok",
	}
	for k, w := range want {
		if got := lines[i+1+k]; got != w {
			t.Errorf("line %d = %q, want %q", i+1+k, got, w)
		}
	}

	if !strings.Contains(out, "All paragraphs by WER:\n  #0 | WER ") {
		t.Errorf("paragraph block missing:\n%s", out)
	}
}

func TestSortChapters(t *testing.T) {
	t.Parallel()

	names := []string{"Epilogue", "ch10", "Chapter 2 - Storm", "ch2", "11- Aboard", "appendix", "ch1"}
	report.SortChapters(names)
	want := []string{"ch1", "ch2", "Chapter 2 - Storm", "ch10", "11- Aboard", "appendix", "Epilogue"}
	if !slices.Equal(names, want) {
		t.Errorf("SortChapters = %v, want %v", names, want)
	}
}
