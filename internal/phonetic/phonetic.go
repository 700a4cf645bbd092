// Package phonetic scores how alike two spoken words sound, using Double
// Metaphone phonetic encoding combined with Jaro-Winkler string similarity.
//
// It serves two consumers:
//
//  1. The word-level aligner asks a [Scorer] for the cost of pairing a
//     manuscript word with an ASR token. Identical words cost 0; words
//     sharing a Double Metaphone code (homophones such as "their"/"there")
//     cost at most [Scorer.HomophoneCeiling]; everything else costs between
//     the mismatch floor and ceiling, scaled by Jaro-Winkler distance.
//
//  2. The diff glue pass compares [Skeleton] values to recognise a single
//     word that the recogniser split into several tokens ("recognize" vs
//     "wreck a nice") or merged from several.
//
// Codes are computed on normalized tokens (see package textnorm). All
// functions are deterministic and safe for concurrent use.
package phonetic

import (
	"strings"

	"github.com/antzucaro/matchr"
)

const (
	defaultHomophoneCeiling = 0.5
	defaultMismatchFloor    = 0.6
	defaultMismatchCeiling  = 1.5
)

// Code holds the Double Metaphone encodings of a single normalized token.
// The zero value encodes the empty token.
type Code struct {
	Text      string
	Primary   string
	Secondary string
}

// Encode computes the [Code] for a normalized token.
func Encode(token string) Code {
	c := Code{Text: token}
	if token == "" {
		return c
	}
	c.Primary, c.Secondary = matchr.DoubleMetaphone(token)
	return c
}

// EncodeAll encodes every token in order.
func EncodeAll(tokens []string) []Code {
	codes := make([]Code, len(tokens))
	for i, t := range tokens {
		codes[i] = Encode(t)
	}
	return codes
}

// Overlaps reports whether any non-empty code of c equals any non-empty code
// of o.
func (c Code) Overlaps(o Code) bool {
	for _, a := range [2]string{c.Primary, c.Secondary} {
		if a == "" {
			continue
		}
		if a == o.Primary || a == o.Secondary {
			return true
		}
	}
	return false
}

// Skeleton returns the primary Double Metaphone code of the concatenation of
// tokens. Tokens without letters contribute nothing; the result is "" when no
// consonant skeleton can be derived.
func Skeleton(tokens ...string) string {
	var b strings.Builder
	for _, t := range tokens {
		for _, r := range t {
			if r >= 'a' && r <= 'z' {
				b.WriteRune(r)
			}
		}
	}
	if b.Len() == 0 {
		return ""
	}
	primary, _ := matchr.DoubleMetaphone(b.String())
	return primary
}

// Option is a functional option for configuring a [Scorer].
type Option func(*Scorer)

// WithHomophoneCeiling sets the maximum cost of pairing two different words
// that share a phonetic code. Default: 0.5.
func WithHomophoneCeiling(c float64) Option {
	return func(s *Scorer) {
		s.homophoneCeiling = c
	}
}

// WithMismatchRange sets the cost range for words without a shared phonetic
// code. The ceiling should stay below 2 so that a substitution remains
// cheaper than a deletion plus an insertion. Default: [0.6, 1.5].
func WithMismatchRange(floor, ceiling float64) Option {
	return func(s *Scorer) {
		s.mismatchFloor = floor
		s.mismatchCeiling = ceiling
	}
}

// Scorer computes pairwise phonetic substitution costs. It is read-only after
// construction and safe for concurrent use.
type Scorer struct {
	homophoneCeiling float64
	mismatchFloor    float64
	mismatchCeiling  float64
}

// New returns a [Scorer] configured with the supplied options.
func New(opts ...Option) *Scorer {
	s := &Scorer{
		homophoneCeiling: defaultHomophoneCeiling,
		mismatchFloor:    defaultMismatchFloor,
		mismatchCeiling:  defaultMismatchCeiling,
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

// HomophoneCeiling returns the highest cost assigned to a phonetic match.
func (s *Scorer) HomophoneCeiling() float64 { return s.homophoneCeiling }

// Cost returns the cost of aligning a with b, in [0, mismatch ceiling].
//
//   - equal text: 0
//   - overlapping phonetic codes: homophoneCeiling × (1 − JW)
//   - otherwise: floor + (ceiling − floor) × (1 − JW)
//
// where JW is the Jaro-Winkler similarity of the texts.
func (s *Scorer) Cost(a, b Code) float64 {
	if a.Text == b.Text {
		return 0
	}
	if a.Text == "" || b.Text == "" {
		return s.mismatchCeiling
	}
	dist := 1 - matchr.JaroWinkler(a.Text, b.Text, false)
	if dist < 0 {
		dist = 0
	}
	if a.Overlaps(b) {
		return s.homophoneCeiling * dist
	}
	return s.mismatchFloor + (s.mismatchCeiling-s.mismatchFloor)*dist
}

// Similar reports whether a and b are either identical or phonetically
// equivalent.
func (s *Scorer) Similar(a, b Code) bool {
	return a.Text == b.Text || (a.Text != "" && b.Text != "" && a.Overlaps(b))
}
