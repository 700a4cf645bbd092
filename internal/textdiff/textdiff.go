// Package textdiff compares a reference text (the manuscript) with a
// hypothesis text (the recogniser output) and reports word and character
// error rates together with a token-level diff.
//
// Token diffs run on compact symbol strings: every distinct normalized token
// is assigned a dense rune from a dictionary shared by both sides, and the
// generic Myers diff from diffmatchpatch runs over those runes. The result is
// decoded back into token lists. A phonetic glue pass then repairs words the
// recogniser split or merged, e.g. "recognize" heard as "wreck a nice".
//
// Analysis is a pure function of its inputs: the symbol dictionary is built
// per call and the diff runs without a deadline, so the same inputs always
// produce the same output.
package textdiff

import (
	"strings"

	"github.com/sergi/go-diff/diffmatchpatch"

	"github.com/MrWong99/bookalign/internal/textnorm"
)

// Kind classifies a diff span.
type Kind string

const (
	Equal  Kind = "equal"
	Insert Kind = "insert"
	Delete Kind = "delete"
)

// Op is a contiguous diff span. Equal spans carry reference tokens.
type Op struct {
	Kind   Kind     `json:"kind"`
	Tokens []string `json:"tokens"`
}

// Stats summarises a diff.
type Stats struct {
	ReferenceTokens  int `json:"referenceTokens"`
	HypothesisTokens int `json:"hypothesisTokens"`
	Matches          int `json:"matches"`
	Insertions       int `json:"insertions"`
	Deletions        int `json:"deletions"`
}

// Payload is the serialisable token diff.
type Payload struct {
	Ops   []Op  `json:"ops"`
	Stats Stats `json:"stats"`
}

// Metrics holds the error rates derived from a comparison. All values are in
// [0, 1].
type Metrics struct {
	WER      float64 `json:"wer"`
	CER      float64 `json:"cer"`
	SpanWER  float64 `json:"spanWer"`
	Coverage float64 `json:"coverage"`
}

const defaultMaxGlueRun = 4

// Option is a functional option for configuring an [Analyzer].
type Option func(*Analyzer)

// WithMaxGlueRun limits how many consecutive tokens the glue pass may join
// when matching a single token on the other side. Default: 4.
func WithMaxGlueRun(n int) Option {
	return func(a *Analyzer) {
		if n >= 2 {
			a.maxGlueRun = n
		}
	}
}

// WithoutGlue disables the phonetic glue pass.
func WithoutGlue() Option {
	return func(a *Analyzer) {
		a.glue = false
	}
}

// Analyzer computes diffs and error metrics. It is read-only after
// construction and safe for concurrent use.
type Analyzer struct {
	maxGlueRun int
	glue       bool
}

// New returns an [Analyzer] configured with the supplied options.
func New(opts ...Option) *Analyzer {
	a := &Analyzer{
		maxGlueRun: defaultMaxGlueRun,
		glue:       true,
	}
	for _, o := range opts {
		o(a)
	}
	return a
}

// Analyze compares reference against hypothesis. Both texts are normalized
// (lowercase, contractions expanded, numbers kept) before comparison.
func (a *Analyzer) Analyze(reference, hypothesis string) (Metrics, Payload) {
	ref := textnorm.Normalize(reference)
	hyp := textnorm.Normalize(hypothesis)

	ops := a.tokenDiff(ref, hyp)
	if a.glue {
		ops = a.gluePass(ops)
	}
	ops = mergeAdjacent(ops)

	stats := Stats{ReferenceTokens: len(ref), HypothesisTokens: len(hyp)}
	for _, op := range ops {
		switch op.Kind {
		case Equal:
			stats.Matches += len(op.Tokens)
		case Insert:
			stats.Insertions += len(op.Tokens)
		case Delete:
			stats.Deletions += len(op.Tokens)
		}
	}

	m := Metrics{
		WER:     wordErrorRate(stats),
		CER:     charErrorRate(strings.Join(ref, " "), strings.Join(hyp, " ")),
		SpanWER: spanErrorRate(stats),
	}
	m.Coverage = 1 - min(1, float64(stats.Deletions)/float64(max(1, stats.ReferenceTokens)))

	return m, Payload{Ops: ops, Stats: stats}
}

func wordErrorRate(s Stats) float64 {
	if s.ReferenceTokens == 0 {
		if s.HypothesisTokens == 0 {
			return 0
		}
		return 1
	}
	return min(1, float64(s.Deletions+s.Insertions)/float64(s.ReferenceTokens))
}

func spanErrorRate(s Stats) float64 {
	if s.ReferenceTokens == 0 {
		return 0
	}
	return min(1, float64(s.Deletions)/float64(s.ReferenceTokens))
}

// newDMP returns a diffmatchpatch instance with the deadline disabled; a
// timeout would make the diff depend on machine speed.
func newDMP() *diffmatchpatch.DiffMatchPatch {
	dmp := diffmatchpatch.New()
	dmp.DiffTimeout = 0
	return dmp
}

// charErrorRate diffs the normalized strings character by character with
// semantic cleanup and returns (refLen − equal + inserted) / refLen.
func charErrorRate(ref, hyp string) float64 {
	refLen := len([]rune(ref))
	if refLen == 0 {
		if hyp == "" {
			return 0
		}
		return 1
	}

	dmp := newDMP()
	diffs := dmp.DiffCleanupSemantic(dmp.DiffMain(ref, hyp, false))

	var equal, inserted int
	for _, d := range diffs {
		switch d.Type {
		case diffmatchpatch.DiffEqual:
			equal += len([]rune(d.Text))
		case diffmatchpatch.DiffInsert:
			inserted += len([]rune(d.Text))
		}
	}
	cer := float64(refLen-equal+inserted) / float64(refLen)
	return max(0, min(1, cer))
}

func mergeAdjacent(ops []Op) []Op {
	out := make([]Op, 0, len(ops))
	for _, op := range ops {
		if len(op.Tokens) == 0 {
			continue
		}
		if n := len(out); n > 0 && out[n-1].Kind == op.Kind {
			out[n-1].Tokens = append(out[n-1].Tokens, op.Tokens...)
			continue
		}
		out = append(out, Op{Kind: op.Kind, Tokens: append([]string(nil), op.Tokens...)})
	}
	return out
}
