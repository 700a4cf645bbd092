// Package anchor finds a sparse, monotonic set of reliable correspondences
// between manuscript words and ASR tokens.
//
// An anchor is an n-gram of content words that occurs exactly once in the
// manuscript section and exactly once in the transcript. Anchors are accepted
// greedily in manuscript order and must keep a minimum distance from their
// neighbours on both axes, so the accepted sequence never crosses itself.
// When too few anchors are found the n-gram size shrinks and the new
// candidates are merged in under the same rule.
package anchor

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/MrWong99/bookalign/internal/section"
	"github.com/MrWong99/bookalign/internal/textnorm"
	"github.com/MrWong99/bookalign/pkg/asr"
	"github.com/MrWong99/bookalign/pkg/manuscript"
	"github.com/MrWong99/bookalign/pkg/span"
)

// ErrInvariant is wrapped by errors reporting a violated alignment invariant,
// such as non-monotonic anchors. It indicates a bug, not bad input.
var ErrInvariant = errors.New("alignment invariant violated")

// Policy holds the anchor search parameters.
type Policy struct {
	// NGram is the initial n-gram size.
	NGram int `json:"ngramSize"`
	// MinSeparation is the minimum distance, in words and in tokens, between
	// two accepted anchors.
	MinSeparation int `json:"minSeparation"`
	// RelaxationSteps bounds how many times the n-gram size shrinks by one.
	RelaxationSteps int `json:"relaxationSteps"`
	// TokensPerAnchor is the target density: one anchor per this many ASR
	// tokens.
	TokensPerAnchor int `json:"tokensPerAnchor"`
}

// DefaultPolicy returns the default anchor policy.
func DefaultPolicy() Policy {
	return Policy{NGram: 3, MinSeparation: 50, RelaxationSteps: 2, TokensPerAnchor: 50}
}

// Validate reports invalid parameters.
func (p Policy) Validate() error {
	var errs []error
	if p.NGram < 1 {
		errs = append(errs, fmt.Errorf("anchor: ngram size must be at least 1, got %d", p.NGram))
	}
	if p.MinSeparation < 1 {
		errs = append(errs, fmt.Errorf("anchor: min separation must be at least 1, got %d", p.MinSeparation))
	}
	if p.RelaxationSteps < 0 {
		errs = append(errs, fmt.Errorf("anchor: relaxation steps must not be negative, got %d", p.RelaxationSteps))
	}
	if p.TokensPerAnchor < 1 {
		errs = append(errs, fmt.Errorf("anchor: tokens per anchor must be at least 1, got %d", p.TokensPerAnchor))
	}
	return errors.Join(errs...)
}

// Point pairs a manuscript word index with an ASR token index.
type Point struct {
	Manuscript int `json:"manuscript"`
	ASR        int `json:"asr"`
}

// Stats describes how an anchor set was found.
type Stats struct {
	// Candidates counts unique n-grams seen across all sizes tried.
	Candidates int `json:"candidates"`
	// NGramSizes lists the n-gram sizes searched, in order.
	NGramSizes []int `json:"ngramSizes"`
	// Target is the number of anchors the density target asks for.
	Target int `json:"target"`
	// BelowTarget is set when fewer than Target anchors remain after the
	// last relaxation step.
	BelowTarget bool `json:"belowTarget"`
}

// Set is the anchor artifact of one chapter.
type Set struct {
	Anchors     []Point        `json:"anchors"`
	Policy      Policy         `json:"policy"`
	Bounds      section.Bounds `json:"bounds"`
	GeneratedAt time.Time      `json:"generatedAt"`
	Stats       Stats          `json:"stats"`
}

// Stream is a sequence of normalized tokens, each remembering the position of
// the manuscript word or ASR token it came from.
type Stream struct {
	Keys []string
	Pos  []int
}

// Len returns the number of tokens in the stream.
func (s Stream) Len() int { return len(s.Keys) }

func (s *Stream) add(text string, pos int) {
	for _, k := range textnorm.Normalize(text) {
		s.Keys = append(s.Keys, k)
		s.Pos = append(s.Pos, pos)
	}
}

// ManuscriptStream normalizes the manuscript words in r.
func ManuscriptStream(idx *manuscript.Index, r span.Range) Stream {
	var s Stream
	for i := max(0, r.Start); i < min(r.End, len(idx.Words)); i++ {
		s.add(idx.Words[i].Text, i)
	}
	return s
}

// ASRStream normalizes the transcript tokens in r.
func ASRStream(tr *asr.Transcript, r span.Range) Stream {
	var s Stream
	for i := max(0, r.Start); i < min(r.End, len(tr.Tokens)); i++ {
		s.add(tr.Tokens[i].Word, i)
	}
	return s
}

// Compute finds the anchors of one chapter within bounds. GeneratedAt is
// left zero for the caller to stamp.
func Compute(ctx context.Context, idx *manuscript.Index, tr *asr.Transcript, bounds section.Bounds, p Policy) (*Set, error) {
	if err := p.Validate(); err != nil {
		return nil, err
	}
	ms := ManuscriptStream(idx, bounds.Manuscript)
	as := ASRStream(tr, bounds.ASR)

	points, stats, err := Search(ctx, ms, as, p, bounds.ASR.Len())
	if err != nil {
		return nil, err
	}
	set := &Set{Anchors: points, Policy: p, Bounds: bounds, Stats: stats}
	if err := Verify(set); err != nil {
		return nil, err
	}
	return set, nil
}

// Search runs the anchor search over two prepared streams. asrLen is the
// number of ASR tokens the density target applies to.
func Search(ctx context.Context, ms, as Stream, p Policy, asrLen int) ([]Point, Stats, error) {
	stats := Stats{Target: asrLen / p.TokensPerAnchor}
	var accepted []Point
	for step, n := 0, p.NGram; step <= p.RelaxationSteps && n >= 1; step, n = step+1, n-1 {
		if err := ctx.Err(); err != nil {
			return nil, Stats{}, fmt.Errorf("anchor: search: %w", err)
		}
		cands := candidates(ms, as, n)
		stats.Candidates += len(cands)
		stats.NGramSizes = append(stats.NGramSizes, n)
		accepted = merge(accepted, cands, p.MinSeparation)
		if len(accepted) >= stats.Target {
			break
		}
	}
	stats.BelowTarget = len(accepted) < stats.Target
	if accepted == nil {
		accepted = []Point{}
	}
	return accepted, stats, nil
}

type gram struct {
	count int
	at    int
}

// contentGrams indexes the n-grams of the stream's non stop-word tokens by
// their joined key, recording the position of the first occurrence.
func contentGrams(s Stream, n int) (order []string, grams map[string]*gram) {
	content := make([]int, 0, s.Len())
	for i, k := range s.Keys {
		if !textnorm.IsStopWord(k) {
			content = append(content, i)
		}
	}
	grams = make(map[string]*gram)
	for i := 0; i+n <= len(content); i++ {
		parts := make([]string, n)
		for j := range n {
			parts[j] = s.Keys[content[i+j]]
		}
		key := strings.Join(parts, " ")
		if g, ok := grams[key]; ok {
			g.count++
			continue
		}
		grams[key] = &gram{count: 1, at: s.Pos[content[i]]}
		order = append(order, key)
	}
	return order, grams
}

// candidates returns the n-grams unique in both streams, ordered by
// manuscript position.
func candidates(ms, as Stream, n int) []Point {
	order, mg := contentGrams(ms, n)
	_, ag := contentGrams(as, n)
	var out []Point
	last := -1
	for _, key := range order {
		m, a := mg[key], ag[key]
		if m.count != 1 || a == nil || a.count != 1 {
			continue
		}
		// Two grams may start in the same word when a contraction expands.
		if m.at == last {
			continue
		}
		last = m.at
		out = append(out, Point{Manuscript: m.at, ASR: a.at})
	}
	return out
}

// merge inserts candidates into accepted, in order, keeping only those at
// least sep away on both axes from the anchors on either side.
func merge(accepted, cands []Point, sep int) []Point {
	for _, c := range cands {
		pos, _ := slices.BinarySearchFunc(accepted, c.Manuscript, func(p Point, m int) int {
			return p.Manuscript - m
		})
		if pos > 0 && !separated(accepted[pos-1], c, sep) {
			continue
		}
		if pos < len(accepted) && !separated(c, accepted[pos], sep) {
			continue
		}
		accepted = slices.Insert(accepted, pos, c)
	}
	return accepted
}

func separated(a, b Point, sep int) bool {
	return b.Manuscript-a.Manuscript >= sep && b.ASR-a.ASR >= sep
}

// Verify checks that the anchors lie within the set's bounds and strictly
// increase on both axes.
func Verify(set *Set) error {
	for i, a := range set.Anchors {
		if !set.Bounds.Manuscript.Contains(a.Manuscript) || !set.Bounds.ASR.Contains(a.ASR) {
			return fmt.Errorf("anchor: %w: anchor %d (%d,%d) outside bounds", ErrInvariant, i, a.Manuscript, a.ASR)
		}
		if i == 0 {
			continue
		}
		prev := set.Anchors[i-1]
		if a.Manuscript <= prev.Manuscript || a.ASR <= prev.ASR {
			return fmt.Errorf("anchor: %w: anchor %d (%d,%d) does not follow (%d,%d)",
				ErrInvariant, i, a.Manuscript, a.ASR, prev.Manuscript, prev.ASR)
		}
	}
	return nil
}
