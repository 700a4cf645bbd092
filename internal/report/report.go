// Package report renders the plain-text validation report of a hydrated
// chapter and orders chapter names the way reviewers expect.
package report

import (
	"bytes"
	"cmp"
	"fmt"
	"io"
	"regexp"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/MrWong99/bookalign/internal/align"
	"github.com/MrWong99/bookalign/internal/hydrate"
	"github.com/MrWong99/bookalign/pkg/span"
)

// Render writes the validation report of t. Sentences and paragraphs are
// listed by WER, worst first, ties broken by id.
func Render(w io.Writer, chapter string, t *hydrate.Transcript) error {
	var b bytes.Buffer
	p := t.Provenance
	s := t.Summary

	fmt.Fprintf(&b, "Validation report: %s\n", chapter)
	fmt.Fprintf(&b, "Audio     : %s\n", orNone(p.AudioPath))
	fmt.Fprintf(&b, "Script    : %s\n", orNone(p.ScriptPath))
	fmt.Fprintf(&b, "Book Index: %s\n", orNone(p.IndexPath))
	fmt.Fprintf(&b, "Created   : %s\n", p.CreatedAt.UTC().Format(time.RFC3339))
	fmt.Fprintf(&b, "Model     : %s (%s)\n", orNone(p.ModelVersion), p.Normalization)
	fmt.Fprintf(&b, "Sentences : %d (Avg WER %.2f%%, Max WER %.2f%%, Flagged %d)\n",
		s.SentenceCount, pct(s.AvgWER), pct(s.MaxWER), s.Flagged)
	fmt.Fprintf(&b, "Paragraphs: %d (Avg WER %.2f%%, Avg Coverage %.2f%%)\n",
		s.ParagraphCount, pct(s.ParagraphAvgWER), pct(s.AvgCoverage))

	b.WriteString("\nAll sentences by WER:\n")
	sentences := slices.Clone(t.Sentences)
	slices.SortStableFunc(sentences, func(a, b hydrate.Sentence) int { return byWER(a.Segment, b.Segment) })
	for _, st := range sentences {
		fmt.Fprintf(&b, "  #%d | WER %.1f%% | CER %.1f%% | Status %s\n", st.ID, pct(st.Metrics.WER), pct(st.Metrics.CER), st.Status)
		fmt.Fprintf(&b, "    Book range: %s\n", st.Manuscript)
		fmt.Fprintf(&b, "    Script range: %s\n", scriptRange(st.ASR))
		fmt.Fprintf(&b, "    Timing: %s\n", timing(st.Timing, st.TimingSource))
		fmt.Fprintf(&b, "    Book   : %s\n", st.Text)
		fmt.Fprintf(&b, "    Script : %s\n", st.Hypothesis)
	}

	b.WriteString("\nAll paragraphs by WER:\n")
	paragraphs := slices.Clone(t.Paragraphs)
	slices.SortStableFunc(paragraphs, func(a, b hydrate.Paragraph) int { return byWER(a.Segment, b.Segment) })
	for _, pg := range paragraphs {
		fmt.Fprintf(&b, "  #%d | WER %.1f%% | Coverage %.1f%% | Status %s\n", pg.ID, pct(pg.Metrics.WER), pct(pg.Metrics.Coverage), pg.Status)
		fmt.Fprintf(&b, "    Book range: %s\n", pg.Manuscript)
		fmt.Fprintf(&b, "    Timing: %s\n", timing(pg.Timing, pg.TimingSource))
		fmt.Fprintf(&b, "    Book   : %s\n", pg.Text)
	}

	_, err := w.Write(b.Bytes())
	return err
}

func byWER(a, b hydrate.Segment) int {
	if c := cmp.Compare(b.Metrics.WER, a.Metrics.WER); c != 0 {
		return c
	}
	return cmp.Compare(a.ID, b.ID)
}

func pct(f float64) float64 { return f * 100 }

func orNone(s string) string {
	if s == "" {
		return "-"
	}
	return s
}

func scriptRange(r *span.Range) string {
	if r == nil {
		return "none"
	}
	return r.String()
}

func timing(t align.Timing, src hydrate.TimingSource) string {
	return fmt.Sprintf("%.3fs → %.3fs (Δ %.3fs) [%s]", t.Start, t.End, t.Duration(), src)
}

var digits = regexp.MustCompile(`\d+`)

// SortChapters orders chapter names in place: names containing digits come
// first, by their first number and then case-insensitively by name; names
// without digits follow in case-insensitive order.
func SortChapters(names []string) {
	type key struct {
		numbered bool
		n        int
		lower    string
	}
	keyOf := func(name string) key {
		k := key{lower: strings.ToLower(name)}
		if m := digits.FindString(name); m != "" {
			k.numbered = true
			k.n, _ = strconv.Atoi(m)
		}
		return k
	}
	slices.SortStableFunc(names, func(a, b string) int {
		ka, kb := keyOf(a), keyOf(b)
		if ka.numbered != kb.numbered {
			if ka.numbered {
				return -1
			}
			return 1
		}
		return cmp.Or(cmp.Compare(ka.n, kb.n), cmp.Compare(ka.lower, kb.lower))
	})
}
