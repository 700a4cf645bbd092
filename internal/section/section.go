// Package section resolves which manuscript section a chapter of audio
// belongs to, either from the first words the narrator speaks or from an
// external chapter label such as a file name.
//
// Not finding a section is a normal outcome and is reported through the
// boolean result; callers fall back to the whole manuscript.
package section

import (
	"strconv"
	"strings"

	"github.com/MrWong99/bookalign/internal/textnorm"
	"github.com/MrWong99/bookalign/pkg/asr"
	"github.com/MrWong99/bookalign/pkg/manuscript"
	"github.com/MrWong99/bookalign/pkg/span"
)

// DefaultPrefixLength is the number of leading ASR tokens compared against
// section titles by [Locator.Detect].
const DefaultPrefixLength = 8

const (
	headingBoost        = 1
	minScore            = 2
	minScoreAfterHeader = 1
)

// Bounds scopes a chapter: the manuscript word range of its section and the
// ASR token range of its recording.
type Bounds struct {
	Manuscript span.Range `json:"manuscript"`
	ASR        span.Range `json:"asr"`
}

// BoundsFor returns the bounds pairing sec with the whole transcript.
func BoundsFor(sec manuscript.Section, tr *asr.Transcript) Bounds {
	return Bounds{Manuscript: sec.Range, ASR: tr.TokenRange()}
}

// Whole returns the bounds pairing the whole manuscript with the whole
// transcript.
func Whole(idx *manuscript.Index, tr *asr.Transcript) Bounds {
	return Bounds{Manuscript: idx.WordRange(), ASR: tr.TokenRange()}
}

// Option is a functional option for configuring a [Locator].
type Option func(*Locator)

// WithPrefixLength sets how many leading ASR tokens [Locator.Detect]
// considers. Non-positive values are ignored. Default: 8.
func WithPrefixLength(n int) Option {
	return func(l *Locator) {
		if n > 0 {
			l.prefixLen = n
		}
	}
}

// Locator matches chapters to manuscript sections. It precomputes the
// normalized title forms of every section and is safe for concurrent use.
type Locator struct {
	prefixLen int
	sections  []manuscript.Section

	// titles holds the normalized, number-collapsed title tokens.
	titles [][]string
	// numbers holds the chapter number extracted from each title, -1 if none.
	numbers []int
	// variants maps a joined title variant to the sections producing it, in
	// manuscript order.
	variants map[string][]int
}

// New builds a [Locator] over the sections of idx.
func New(idx *manuscript.Index, opts ...Option) *Locator {
	l := &Locator{
		prefixLen: DefaultPrefixLength,
		sections:  idx.Sections,
		titles:    make([][]string, len(idx.Sections)),
		numbers:   make([]int, len(idx.Sections)),
		variants:  make(map[string][]int),
	}
	for _, o := range opts {
		o(l)
	}
	for i, s := range idx.Sections {
		toks := textnorm.CollapseNumbers(textnorm.Normalize(s.Title))
		l.titles[i] = toks
		l.numbers[i] = -1
		if n, ok := chapterNumber(toks); ok {
			l.numbers[i] = n
		}
		seen := make(map[string]bool)
		for _, v := range variants(toks) {
			key := strings.Join(v, " ")
			if key == "" || seen[key] {
				continue
			}
			seen[key] = true
			l.variants[key] = append(l.variants[key], i)
		}
	}
	return l
}

// Sections returns the sections the locator searches, in manuscript order.
func (l *Locator) Sections() []manuscript.Section { return l.sections }

// Detect finds the section whose title the narrator reads at the start of
// the recording. words are the ASR tokens in order; only the first prefix
// length of them are used.
//
// The spoken words are normalized but keep numbers as words. Each section
// scores the number of its title tokens matched in order from the start of
// the spoken words, plus one when both start with the same heading keyword.
// A numeric title token ("3", "XII") matches the same number spoken as one
// or two words ("three", "twenty one"). The highest score wins, the first section in manuscript order on
// ties. The match needs a score of at least 2, or 1 when the first spoken
// word is itself a heading keyword.
func (l *Locator) Detect(words []string) (manuscript.Section, bool) {
	if len(words) > l.prefixLen {
		words = words[:l.prefixLen]
	}
	spoken := textnorm.Normalize(strings.Join(words, " "))
	if len(spoken) == 0 {
		return manuscript.Section{}, false
	}

	best, bestScore := -1, 0
	for i, title := range l.titles {
		score := titlePrefix(spoken, title)
		if score > 0 && textnorm.IsHeadingKeyword(spoken[0]) && spoken[0] == title[0] {
			score += headingBoost
		}
		if score > bestScore {
			best, bestScore = i, score
		}
	}

	need := minScore
	if textnorm.IsHeadingKeyword(spoken[0]) {
		need = minScoreAfterHeader
	}
	if best < 0 || bestScore < need {
		return manuscript.Section{}, false
	}
	return l.sections[best], true
}

// DetectTokens is [Locator.Detect] over the words of an ASR transcript.
func (l *Locator) DetectTokens(tr *asr.Transcript) (manuscript.Section, bool) {
	n := min(l.prefixLen, len(tr.Tokens))
	words := make([]string, n)
	for i := range n {
		words[i] = tr.Tokens[i].Word
	}
	return l.Detect(words)
}

// ResolveByTitle maps an arbitrary chapter label, such as a file name stem,
// to a section.
//
// A chapter number is extracted from the label first: a chapter keyword
// followed by a number ("chapter 5"), a keyword-prefixed token ("ch5"), or a
// bare leading number ("11- Aboard the Bounty"). If exactly one section
// carries that number it is returned. Otherwise the label's token variants
// (raw, without chapter keywords, without the leading number) are looked up
// among the title variants; a unique hit wins, and among several hits an
// exact title match wins.
func (l *Locator) ResolveByTitle(label string) (manuscript.Section, bool) {
	toks := textnorm.CollapseNumbers(textnorm.Tokenize(label))
	if len(toks) == 0 {
		return manuscript.Section{}, false
	}

	if n, ok := chapterNumber(toks); ok {
		match := -1
		for i, sn := range l.numbers {
			if sn != n {
				continue
			}
			if match >= 0 {
				match = -2
				break
			}
			match = i
		}
		if match >= 0 {
			return l.sections[match], true
		}
	}

	for _, v := range variants(toks) {
		key := strings.Join(v, " ")
		hits := l.variants[key]
		switch {
		case len(hits) == 1:
			return l.sections[hits[0]], true
		case len(hits) > 1:
			exact := -1
			for _, h := range hits {
				if strings.Join(l.titles[h], " ") != key {
					continue
				}
				if exact >= 0 {
					exact = -1
					break
				}
				exact = h
			}
			if exact >= 0 {
				return l.sections[exact], true
			}
		}
	}
	return manuscript.Section{}, false
}

// titlePrefix counts the collapsed title tokens matched in order from the
// start of spoken.
func titlePrefix(spoken, title []string) int {
	i := 0
	for n, tok := range title {
		if i >= len(spoken) {
			return n
		}
		if spoken[i] == tok {
			i++
			continue
		}
		k := spokenNumber(spoken, i, tok)
		if k == 0 {
			return n
		}
		i += k
	}
	return len(title)
}

// spokenNumber returns how many words of spoken from i on say the canonical
// number tok, preferring the longer reading, or 0. A chapter keyword right
// before i lets a single-letter roman numeral count.
func spokenNumber(spoken []string, i int, tok string) int {
	if !textnorm.IsCanonicalNumber(tok) {
		return 0
	}
	from := i
	if i > 0 && textnorm.IsChapterKeyword(spoken[i-1]) {
		from = i - 1
	}
	for k := min(2, len(spoken)-i); k > 0; k-- {
		c := textnorm.CollapseNumbers(spoken[from : i+k])[i-from:]
		if len(c) == 1 && c[0] == tok {
			return k
		}
	}
	return 0
}

// chapterNumber extracts a chapter number from collapsed tokens.
func chapterNumber(toks []string) (int, bool) {
	for i := 0; i+1 < len(toks); i++ {
		if textnorm.IsChapterKeyword(toks[i]) {
			if n, ok := canonical(toks[i+1]); ok {
				return n, true
			}
		}
	}
	for _, t := range toks {
		rest, ok := textnorm.CutChapterPrefix(t)
		if !ok {
			continue
		}
		// Roman numerals are not accepted here: "chi" is a word, not "ch i".
		if n, ok := textnorm.NumberValue(rest); ok {
			return n, true
		}
	}
	return canonical(toks[0])
}

func canonical(tok string) (int, bool) {
	if !textnorm.IsCanonicalNumber(tok) {
		return 0, false
	}
	n, err := strconv.Atoi(tok)
	return n, err == nil
}

// variants returns the lookup forms of a token sequence: the tokens as
// given, with leading chapter keywords stripped, and additionally with the
// leading number removed.
func variants(toks []string) [][]string {
	stripped := toks
	for len(stripped) > 0 && textnorm.IsChapterKeyword(stripped[0]) {
		stripped = stripped[1:]
	}
	out := [][]string{toks, stripped}
	if len(toks) > 0 && textnorm.IsCanonicalNumber(toks[0]) {
		out = append(out, toks[1:])
	}
	if len(stripped) > 0 && textnorm.IsCanonicalNumber(stripped[0]) {
		out = append(out, stripped[1:])
	}
	return out
}
