// Package manuscript defines the book-index data contract consumed by the
// alignment engine: the ordered manuscript words together with the sentence,
// paragraph and section structure produced by the book indexer.
//
// An [Index] is immutable for the duration of a run. It is safe to share one
// Index between chapters aligned in parallel.
package manuscript

import (
	"errors"
	"fmt"
	"strings"

	"github.com/MrWong99/bookalign/pkg/span"
)

// ErrMalformed is wrapped by every structural validation failure.
var ErrMalformed = errors.New("manuscript: malformed index")

// NoSection marks a word that lies outside every section (front matter).
const NoSection = -1

// Word is a single manuscript word. Sentence, Paragraph and Section are
// positions in the owning [Index] slices.
type Word struct {
	Index     int    `json:"index"`
	Text      string `json:"text"`
	Sentence  int    `json:"sentence"`
	Paragraph int    `json:"paragraph"`
	Section   int    `json:"section"`
}

// Sentence is a contiguous word range with a stable id.
type Sentence struct {
	ID int `json:"id"`
	span.Range
	Paragraph int `json:"paragraph"`
}

// Paragraph is a contiguous word range with a stable id.
type Paragraph struct {
	ID int `json:"id"`
	span.Range
	Section int `json:"section"`
}

// Section is a titled chapter-like word range.
type Section struct {
	ID    int    `json:"id"`
	Title string `json:"title"`
	span.Range
}

// Index is the complete book index.
type Index struct {
	SourcePath string      `json:"sourcePath,omitempty"`
	Words      []Word      `json:"words"`
	Sentences  []Sentence  `json:"sentences"`
	Paragraphs []Paragraph `json:"paragraphs"`
	Sections   []Section   `json:"sections"`
}

// WordRange returns the range covering every word.
func (x *Index) WordRange() span.Range { return span.New(0, len(x.Words)) }

// Text joins the words in r with single spaces. r is clamped to the index.
func (x *Index) Text(r span.Range) string {
	start, end := max(0, r.Start), min(len(x.Words), r.End)
	if start >= end {
		return ""
	}
	var b strings.Builder
	for i := start; i < end; i++ {
		if i > start {
			b.WriteByte(' ')
		}
		b.WriteString(x.Words[i].Text)
	}
	return b.String()
}

// maxReported caps the number of validation failures joined into one error.
const maxReported = 20

// Validate checks the structural invariants the aligner relies on: words are
// numbered by position, sentences and paragraphs tile the word sequence in
// order, sections are ordered and disjoint, and every word's owning indices
// agree with the ranges. It returns all failures joined, each wrapping
// [ErrMalformed].
func (x *Index) Validate() error {
	var errs []error
	fail := func(format string, args ...any) {
		if len(errs) < maxReported {
			errs = append(errs, fmt.Errorf("%w: "+format, append([]any{ErrMalformed}, args...)...))
		}
	}

	if len(x.Words) == 0 {
		fail("no words")
		return errors.Join(errs...)
	}
	if len(x.Sentences) == 0 {
		fail("no sentences")
	}
	if len(x.Paragraphs) == 0 {
		fail("no paragraphs")
	}
	if len(errs) > 0 {
		return errors.Join(errs...)
	}

	checkTiling := func(kind string, ranges []span.Range) {
		next := 0
		for i, r := range ranges {
			if r.Start != next {
				fail("%s[%d] starts at %d, want %d", kind, i, r.Start, next)
			}
			if r.Empty() {
				fail("%s[%d] range %s is empty", kind, i, r)
			}
			next = r.End
		}
		if next != len(x.Words) {
			fail("%s end at word %d, want %d", kind, next, len(x.Words))
		}
	}
	sentenceRanges := make([]span.Range, len(x.Sentences))
	for i, s := range x.Sentences {
		sentenceRanges[i] = s.Range
		if s.Paragraph < 0 || s.Paragraph >= len(x.Paragraphs) {
			fail("sentences[%d].paragraph %d out of range", i, s.Paragraph)
		}
	}
	checkTiling("sentences", sentenceRanges)
	paragraphRanges := make([]span.Range, len(x.Paragraphs))
	for i, p := range x.Paragraphs {
		paragraphRanges[i] = p.Range
	}
	checkTiling("paragraphs", paragraphRanges)

	prevEnd := 0
	for i, s := range x.Sections {
		if s.Empty() || s.Start < prevEnd || s.End > len(x.Words) {
			fail("sections[%d] range %s is empty, overlapping or out of bounds", i, s.Range)
		}
		prevEnd = s.End
	}

	seenSentence := make(map[int]int, len(x.Sentences))
	for i, s := range x.Sentences {
		if prev, ok := seenSentence[s.ID]; ok {
			fail("sentences[%d].id %d duplicates sentences[%d]", i, s.ID, prev)
		}
		seenSentence[s.ID] = i
	}
	seenParagraph := make(map[int]int, len(x.Paragraphs))
	for i, p := range x.Paragraphs {
		if prev, ok := seenParagraph[p.ID]; ok {
			fail("paragraphs[%d].id %d duplicates paragraphs[%d]", i, p.ID, prev)
		}
		seenParagraph[p.ID] = i
	}
	if len(errs) > 0 {
		return errors.Join(errs...)
	}

	for i, w := range x.Words {
		if w.Index != i {
			fail("words[%d].index is %d", i, w.Index)
		}
		if w.Sentence < 0 || w.Sentence >= len(x.Sentences) || !x.Sentences[w.Sentence].Contains(i) {
			fail("words[%d].sentence %d does not contain the word", i, w.Sentence)
			continue
		}
		if w.Paragraph < 0 || w.Paragraph >= len(x.Paragraphs) || !x.Paragraphs[w.Paragraph].Contains(i) {
			fail("words[%d].paragraph %d does not contain the word", i, w.Paragraph)
			continue
		}
		if x.Sentences[w.Sentence].Paragraph != w.Paragraph {
			fail("words[%d] sentence %d belongs to paragraph %d, word says %d",
				i, w.Sentence, x.Sentences[w.Sentence].Paragraph, w.Paragraph)
		}
		if want := x.sectionOf(i); w.Section != want {
			fail("words[%d].section is %d, want %d", i, w.Section, want)
		}
	}
	return errors.Join(errs...)
}

func (x *Index) sectionOf(word int) int {
	for i, s := range x.Sections {
		if s.Contains(word) {
			return i
		}
	}
	return NoSection
}
