package manuscript

import (
	"strings"

	"github.com/MrWong99/bookalign/pkg/span"
)

// SectionText is the input to [Build]: a titled section made of paragraphs,
// each made of sentences. Sentences are split on whitespace into words.
type SectionText struct {
	// Title is the section heading. When Heading is true the title words are
	// also emitted as the section's first paragraph, the way a narrator reads
	// the heading aloud.
	Title      string
	Heading    bool
	Paragraphs [][]string
}

// Build assembles a consistent [Index] from plain text. Sentence, paragraph
// and section ids are their positions. It is intended for tests and small
// tools; production indexes come from the book indexer.
func Build(sections ...SectionText) *Index {
	x := &Index{}
	addSentence := func(text string, section int) {
		words := strings.Fields(text)
		if len(words) == 0 {
			return
		}
		si := len(x.Sentences)
		pi := len(x.Paragraphs) - 1
		start := len(x.Words)
		for _, w := range words {
			x.Words = append(x.Words, Word{
				Index:     len(x.Words),
				Text:      w,
				Sentence:  si,
				Paragraph: pi,
				Section:   section,
			})
		}
		x.Sentences = append(x.Sentences, Sentence{ID: si, Range: span.New(start, len(x.Words)), Paragraph: pi})
		x.Paragraphs[pi].End = len(x.Words)
	}
	addParagraph := func(sentences []string, section int) {
		start := len(x.Words)
		x.Paragraphs = append(x.Paragraphs, Paragraph{ID: len(x.Paragraphs), Range: span.New(start, start), Section: section})
		for _, s := range sentences {
			addSentence(s, section)
		}
		if x.Paragraphs[len(x.Paragraphs)-1].Empty() {
			x.Paragraphs = x.Paragraphs[:len(x.Paragraphs)-1]
		}
	}

	for _, st := range sections {
		sec := len(x.Sections)
		start := len(x.Words)
		if st.Heading {
			addParagraph([]string{st.Title}, sec)
		}
		for _, p := range st.Paragraphs {
			addParagraph(p, sec)
		}
		x.Sections = append(x.Sections, Section{ID: sec, Title: st.Title, Range: span.New(start, len(x.Words))})
	}
	return x
}
