// Package align performs dense word-level alignment between manuscript words
// and ASR tokens inside the windows bounded by consecutive anchors, and rolls
// the resulting operations up into sentences and paragraphs.
//
// Every manuscript word and every ASR token inside the chapter bounds is
// referenced by exactly one [WordOp]. Windows that look like anchor failures
// are split with a relaxed local anchor search, and emitted as unmatched when
// no finer split exists.
package align

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/MrWong99/bookalign/internal/anchor"
	"github.com/MrWong99/bookalign/internal/phonetic"
	"github.com/MrWong99/bookalign/internal/section"
	"github.com/MrWong99/bookalign/internal/textnorm"
	"github.com/MrWong99/bookalign/pkg/asr"
	"github.com/MrWong99/bookalign/pkg/manuscript"
	"github.com/MrWong99/bookalign/pkg/span"
)

// ErrInvariant is wrapped by coverage and ordering violations.
var ErrInvariant = anchor.ErrInvariant

// OpKind classifies a [WordOp].
type OpKind string

const (
	Match        OpKind = "match"
	Substitution OpKind = "substitution"
	Insertion    OpKind = "insertion"
	Deletion     OpKind = "deletion"
)

// WordRef references a manuscript word.
type WordRef struct {
	Index int    `json:"index"`
	Text  string `json:"text"`
}

// TokenRef references an ASR token together with its timing.
type TokenRef struct {
	Index int     `json:"index"`
	Word  string  `json:"word"`
	Start float64 `json:"start"`
	End   float64 `json:"end"`
}

// WordOp is one alignment operation. Match and Substitution carry both
// references, Deletion only Word and Insertion only Token.
type WordOp struct {
	Kind  OpKind    `json:"kind"`
	Word  *WordRef  `json:"word,omitempty"`
	Token *TokenRef `json:"token,omitempty"`
	Cost  float64   `json:"cost"`
	// Window is the position of the window that produced the op.
	Window int `json:"window"`
	// SentenceID and ParagraphID name the rollups the op is attributed to.
	SentenceID  int `json:"sentence"`
	ParagraphID int `json:"paragraph"`
}

// WindowKind records how a window was resolved.
type WindowKind string

const (
	// WindowAligned windows were aligned by dynamic programming.
	WindowAligned WindowKind = "aligned"
	// WindowSplit windows came from a fallback split and were then aligned.
	WindowSplit WindowKind = "split"
	// WindowUnmatched windows failed the sanity check and could not be split.
	WindowUnmatched WindowKind = "unmatched"
	// WindowEmpty windows have words or tokens on one side only.
	WindowEmpty WindowKind = "empty"
)

// Window is a resolved alignment window.
type Window struct {
	Manuscript span.Range `json:"manuscript"`
	ASR        span.Range `json:"asr"`
	Kind       WindowKind `json:"kind"`
	Depth      int        `json:"depth"`
	Ops        span.Range `json:"ops"`
}

// Provenance identifies the inputs and normalization behind an artifact.
type Provenance struct {
	AudioPath string `json:"audioPath,omitempty"`
	// ScriptPath is the ASR transcript file.
	ScriptPath string `json:"scriptPath,omitempty"`
	// IndexPath is the book index file.
	IndexPath     string    `json:"indexPath,omitempty"`
	ModelVersion  string    `json:"modelVersion,omitempty"`
	Normalization string    `json:"normalization"`
	CreatedAt     time.Time `json:"createdAt"`
}

// Index is the transcript index of one chapter.
type Index struct {
	Provenance Provenance     `json:"provenance"`
	Bounds     section.Bounds `json:"bounds"`
	Windows    []Window       `json:"windows"`
	Ops        []WordOp       `json:"ops"`
	Sentences  []Rollup       `json:"sentences"`
	Paragraphs []Rollup       `json:"paragraphs"`
}

// Params tunes window handling.
type Params struct {
	// MaxWindowRatio is the largest accepted ratio between the longer and
	// the shorter side of a window.
	MaxWindowRatio float64 `json:"maxWindowRatio"`
	// MinRatioWindow exempts windows whose longer side is shorter than this
	// from the ratio check.
	MinRatioWindow int `json:"minRatioWindow"`
	// MaxCells caps the dynamic programming table size of one window.
	MaxCells int `json:"maxCells"`
	// FallbackDepth bounds how often a window is split recursively.
	FallbackDepth int `json:"fallbackDepth"`
	// FallbackNGram and FallbackMinSeparation configure the local anchor
	// search used to split suspect windows.
	FallbackNGram         int `json:"fallbackNgramSize"`
	FallbackMinSeparation int `json:"fallbackMinSeparation"`
}

// DefaultParams returns the default window parameters.
func DefaultParams() Params {
	return Params{
		MaxWindowRatio:        3,
		MinRatioWindow:        20,
		MaxCells:              4_000_000,
		FallbackDepth:         2,
		FallbackNGram:         2,
		FallbackMinSeparation: 10,
	}
}

// Validate reports invalid parameters.
func (p Params) Validate() error {
	var errs []error
	if p.MaxWindowRatio < 1 {
		errs = append(errs, fmt.Errorf("align: max window ratio must be at least 1, got %g", p.MaxWindowRatio))
	}
	if p.MinRatioWindow < 0 {
		errs = append(errs, fmt.Errorf("align: min ratio window must not be negative, got %d", p.MinRatioWindow))
	}
	if p.MaxCells < 1 {
		errs = append(errs, fmt.Errorf("align: max cells must be positive, got %d", p.MaxCells))
	}
	if p.FallbackDepth < 0 {
		errs = append(errs, fmt.Errorf("align: fallback depth must not be negative, got %d", p.FallbackDepth))
	}
	if p.FallbackNGram < 1 || p.FallbackMinSeparation < 1 {
		errs = append(errs, fmt.Errorf("align: fallback ngram size and separation must be at least 1"))
	}
	return errors.Join(errs...)
}

// fallbackPolicy is the relaxed anchor policy of the local split search.
func (p Params) fallbackPolicy() anchor.Policy {
	return anchor.Policy{
		NGram:           p.FallbackNGram,
		MinSeparation:   p.FallbackMinSeparation,
		RelaxationSteps: p.FallbackNGram - 1,
		TokensPerAnchor: p.FallbackMinSeparation,
	}
}

// Option is a functional option for configuring a [Builder].
type Option func(*Builder)

// WithScorer sets the phonetic scorer used for substitution costs.
func WithScorer(s *phonetic.Scorer) Option {
	return func(b *Builder) {
		b.scorer = s
	}
}

// Builder builds transcript indexes. It is read-only after construction and
// safe for concurrent use.
type Builder struct {
	params Params
	scorer *phonetic.Scorer
}

// New returns a [Builder] using params.
func New(params Params, opts ...Option) (*Builder, error) {
	if err := params.Validate(); err != nil {
		return nil, err
	}
	b := &Builder{params: params, scorer: phonetic.New()}
	for _, o := range opts {
		o(b)
	}
	return b, nil
}

// chapter bundles the immutable inputs of one Build call.
type chapter struct {
	idx *manuscript.Index
	tr  *asr.Transcript

	// wordKey and tokenKey hold normalized keys, filled within the bounds.
	wordKey  []string
	tokenKey []string
}

// Build aligns the chapter described by set. Provenance.IndexPath is taken
// from idx; the audio and script paths and CreatedAt are left for the caller.
func (b *Builder) Build(ctx context.Context, idx *manuscript.Index, tr *asr.Transcript, set *anchor.Set) (*Index, error) {
	if err := anchor.Verify(set); err != nil {
		return nil, fmt.Errorf("align: %w", err)
	}
	bounds := set.Bounds
	if bounds.Manuscript.End > len(idx.Words) || bounds.ASR.End > len(tr.Tokens) {
		return nil, fmt.Errorf("align: bounds %s x %s exceed inputs (%d words, %d tokens)",
			bounds.Manuscript, bounds.ASR, len(idx.Words), len(tr.Tokens))
	}

	ch := &chapter{idx: idx, tr: tr}
	ch.wordKey = make([]string, len(idx.Words))
	for i := bounds.Manuscript.Start; i < bounds.Manuscript.End; i++ {
		ch.wordKey[i] = textnorm.Key(idx.Words[i].Text)
	}
	ch.tokenKey = make([]string, len(tr.Tokens))
	for i := bounds.ASR.Start; i < bounds.ASR.End; i++ {
		ch.tokenKey[i] = textnorm.Key(tr.Tokens[i].Word)
	}

	x := &Index{
		Provenance: Provenance{
			IndexPath:     idx.SourcePath,
			ModelVersion:  tr.ModelVersion,
			Normalization: textnorm.Version,
		},
		Bounds:  bounds,
		Windows: []Window{},
		Ops:     []WordOp{},
	}

	points := make([]anchor.Point, 0, len(set.Anchors)+2)
	points = append(points, anchor.Point{Manuscript: bounds.Manuscript.Start, ASR: bounds.ASR.Start})
	points = append(points, set.Anchors...)
	points = append(points, anchor.Point{Manuscript: bounds.Manuscript.End, ASR: bounds.ASR.End})
	for i := 1; i < len(points); i++ {
		w := Window{
			Manuscript: span.New(points[i-1].Manuscript, points[i].Manuscript),
			ASR:        span.New(points[i-1].ASR, points[i].ASR),
		}
		if err := b.resolve(ctx, ch, x, w); err != nil {
			return nil, err
		}
	}

	attribute(idx, x.Ops)
	x.Sentences, x.Paragraphs = rollup(idx, x)
	if err := VerifyCoverage(x); err != nil {
		return nil, err
	}
	return x, nil
}

// suspect reports whether a window looks like an anchor failure.
func (b *Builder) suspect(w Window) bool {
	m, a := w.Manuscript.Len(), w.ASR.Len()
	if m*a > b.params.MaxCells {
		return true
	}
	longer, shorter := max(m, a), min(m, a)
	if longer < b.params.MinRatioWindow {
		return false
	}
	return float64(longer) > b.params.MaxWindowRatio*float64(max(1, shorter))
}

// resolve appends the ops of w, splitting it first when it is suspect.
func (b *Builder) resolve(ctx context.Context, ch *chapter, x *Index, w Window) error {
	if w.Manuscript.Empty() && w.ASR.Empty() {
		return nil
	}
	if w.Manuscript.Empty() || w.ASR.Empty() {
		w.Kind = WindowEmpty
		b.emitUnaligned(ch, x, w)
		return nil
	}
	if !b.suspect(w) {
		if w.Depth > 0 {
			w.Kind = WindowSplit
		} else {
			w.Kind = WindowAligned
		}
		return b.emitAligned(ctx, ch, x, w)
	}

	if w.Depth < b.params.FallbackDepth {
		parts, err := b.split(ctx, ch, w)
		if err != nil {
			return err
		}
		if len(parts) > 1 {
			slog.Debug("align: split suspect window",
				"manuscript", w.Manuscript.String(), "asr", w.ASR.String(), "parts", len(parts), "depth", w.Depth)
			for _, p := range parts {
				if err := b.resolve(ctx, ch, x, p); err != nil {
					return err
				}
			}
			return nil
		}
	}

	slog.Warn("align: window left unmatched",
		"manuscript", w.Manuscript.String(), "asr", w.ASR.String(), "depth", w.Depth)
	w.Kind = WindowUnmatched
	b.emitUnaligned(ch, x, w)
	return nil
}

// split re-runs a relaxed anchor search inside w and returns the resulting
// sub-windows, or w alone when no interior anchor is found.
func (b *Builder) split(ctx context.Context, ch *chapter, w Window) ([]Window, error) {
	ms := anchor.ManuscriptStream(ch.idx, w.Manuscript)
	as := anchor.ASRStream(ch.tr, w.ASR)
	pts, _, err := anchor.Search(ctx, ms, as, b.params.fallbackPolicy(), w.ASR.Len())
	if err != nil {
		return nil, fmt.Errorf("align: fallback search: %w", err)
	}

	parts := make([]Window, 0, len(pts)+1)
	prev := anchor.Point{Manuscript: w.Manuscript.Start, ASR: w.ASR.Start}
	for _, p := range pts {
		if p == prev {
			continue
		}
		parts = append(parts, Window{
			Manuscript: span.New(prev.Manuscript, p.Manuscript),
			ASR:        span.New(prev.ASR, p.ASR),
			Depth:      w.Depth + 1,
		})
		prev = p
	}
	if len(parts) == 0 {
		return []Window{w}, nil
	}
	parts = append(parts, Window{
		Manuscript: span.New(prev.Manuscript, w.Manuscript.End),
		ASR:        span.New(prev.ASR, w.ASR.End),
		Depth:      w.Depth + 1,
	})
	return parts, nil
}

func (ch *chapter) wordRef(i int) *WordRef {
	return &WordRef{Index: i, Text: ch.idx.Words[i].Text}
}

func (ch *chapter) tokenRef(i int) *TokenRef {
	t := ch.tr.Tokens[i]
	return &TokenRef{Index: i, Word: t.Word, Start: t.Start, End: t.End()}
}

// emitUnaligned appends a Deletion for every word and an Insertion for every
// token of w.
func (b *Builder) emitUnaligned(ch *chapter, x *Index, w Window) {
	wi := len(x.Windows)
	start := len(x.Ops)
	for i := w.Manuscript.Start; i < w.Manuscript.End; i++ {
		x.Ops = append(x.Ops, WordOp{Kind: Deletion, Word: ch.wordRef(i), Cost: gapCost, Window: wi})
	}
	for j := w.ASR.Start; j < w.ASR.End; j++ {
		x.Ops = append(x.Ops, WordOp{Kind: Insertion, Token: ch.tokenRef(j), Cost: gapCost, Window: wi})
	}
	w.Ops = span.New(start, len(x.Ops))
	x.Windows = append(x.Windows, w)
}

// emitAligned runs the dynamic programming alignment over w.
func (b *Builder) emitAligned(ctx context.Context, ch *chapter, x *Index, w Window) error {
	steps, err := b.align(ctx, ch, w)
	if err != nil {
		return err
	}
	wi := len(x.Windows)
	start := len(x.Ops)
	for _, s := range steps {
		op := WordOp{Kind: s.kind, Cost: s.cost, Window: wi}
		if s.word >= 0 {
			op.Word = ch.wordRef(s.word)
		}
		if s.token >= 0 {
			op.Token = ch.tokenRef(s.token)
		}
		x.Ops = append(x.Ops, op)
	}
	w.Ops = span.New(start, len(x.Ops))
	x.Windows = append(x.Windows, w)
	return nil
}
