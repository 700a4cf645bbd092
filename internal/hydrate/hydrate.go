// Package hydrate resolves the rollups of a transcript index into the final
// reviewable transcript: manuscript text, recognised text, timing, error
// metrics and a token diff for every sentence and paragraph.
//
// Hydration is a pure function of the index and the manuscript. Running it
// twice on the same inputs produces identical output.
package hydrate

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/MrWong99/bookalign/internal/align"
	"github.com/MrWong99/bookalign/internal/textdiff"
	"github.com/MrWong99/bookalign/pkg/manuscript"
	"github.com/MrWong99/bookalign/pkg/span"
)

// Status grades a hydrated sentence or paragraph for review.
type Status string

const (
	StatusOK         Status = "ok"
	StatusAttention  Status = "attention"
	StatusUnreliable Status = "unreliable"
)

// TimingSource records where a timing range came from.
type TimingSource string

const (
	// TimingASR timings span the recognised tokens.
	TimingASR TimingSource = "asr"
	// TimingInterpolated timings were estimated from neighbours.
	TimingInterpolated TimingSource = "interpolated"
	// TimingRefined timings were supplied by forced alignment.
	TimingRefined TimingSource = "refined"
)

// Thresholds map word error rates to a [Status].
type Thresholds struct {
	// AttentionWER is the highest WER still graded ok.
	AttentionWER float64 `json:"attentionWer"`
	// UnreliableWER is the highest WER graded attention.
	UnreliableWER float64 `json:"unreliableWer"`
}

// DefaultThresholds returns the default grading thresholds.
func DefaultThresholds() Thresholds {
	return Thresholds{AttentionWER: 0.10, UnreliableWER: 0.35}
}

// Validate reports inconsistent thresholds.
func (t Thresholds) Validate() error {
	if t.AttentionWER < 0 || t.UnreliableWER > 1 || t.AttentionWER > t.UnreliableWER {
		return fmt.Errorf("hydrate: thresholds must satisfy 0 <= attention (%g) <= unreliable (%g) <= 1",
			t.AttentionWER, t.UnreliableWER)
	}
	return nil
}

// Segment is a hydrated sentence or paragraph.
type Segment struct {
	ID         int        `json:"id"`
	Manuscript span.Range `json:"manuscript"`
	// ASR is nil when no word of the segment was recognised.
	ASR          *span.Range      `json:"asr"`
	Text         string           `json:"text"`
	Hypothesis   string           `json:"hypothesis"`
	Timing       align.Timing     `json:"timing"`
	TimingSource TimingSource     `json:"timingSource"`
	Metrics      textdiff.Metrics `json:"metrics"`
	Diff         textdiff.Payload `json:"diff"`
	Alignment    align.Status     `json:"alignment"`
	Status       Status           `json:"status"`
}

// Sentence is a hydrated sentence.
type Sentence struct {
	Segment
	ParagraphID int `json:"paragraph"`
}

// Paragraph is a hydrated paragraph.
type Paragraph struct {
	Segment
	SentenceIDs []int `json:"sentences"`
}

// Summary aggregates a hydrated transcript.
type Summary struct {
	SentenceCount   int     `json:"sentenceCount"`
	AvgWER          float64 `json:"avgWer"`
	MaxWER          float64 `json:"maxWer"`
	Flagged         int     `json:"flagged"`
	ParagraphCount  int     `json:"paragraphCount"`
	ParagraphAvgWER float64 `json:"paragraphAvgWer"`
	AvgCoverage     float64 `json:"avgCoverage"`
}

// Transcript is the hydrated transcript of one chapter.
type Transcript struct {
	Provenance align.Provenance `json:"provenance"`
	Sentences  []Sentence       `json:"sentences"`
	Paragraphs []Paragraph      `json:"paragraphs"`
	Summary    Summary          `json:"summary"`
}

// Option is a functional option for configuring a [Hydrator].
type Option func(*Hydrator)

// WithAnalyzer sets the text diff analyzer.
func WithAnalyzer(a *textdiff.Analyzer) Option {
	return func(h *Hydrator) {
		h.analyzer = a
	}
}

// WithThresholds sets the grading thresholds.
func WithThresholds(t Thresholds) Option {
	return func(h *Hydrator) {
		h.thresholds = t
	}
}

// Hydrator hydrates transcript indexes. It is read-only after construction
// and safe for concurrent use.
type Hydrator struct {
	analyzer   *textdiff.Analyzer
	thresholds Thresholds
}

// New returns a [Hydrator] configured with the supplied options.
func New(opts ...Option) (*Hydrator, error) {
	h := &Hydrator{analyzer: textdiff.New(), thresholds: DefaultThresholds()}
	for _, o := range opts {
		o(h)
	}
	if err := h.thresholds.Validate(); err != nil {
		return nil, err
	}
	return h, nil
}

// Hydrate resolves every rollup of x against idx.
func (h *Hydrator) Hydrate(ctx context.Context, x *align.Index, idx *manuscript.Index) (*Transcript, error) {
	if x.Bounds.Manuscript.End > len(idx.Words) {
		return nil, fmt.Errorf("hydrate: index bounds %s exceed manuscript of %d words", x.Bounds.Manuscript, len(idx.Words))
	}
	sentencePos := make(map[int]int, len(idx.Sentences))
	for i, s := range idx.Sentences {
		sentencePos[s.ID] = i
	}

	t := &Transcript{
		Provenance: x.Provenance,
		Sentences:  make([]Sentence, 0, len(x.Sentences)),
		Paragraphs: make([]Paragraph, 0, len(x.Paragraphs)),
	}
	for _, r := range x.Sentences {
		if err := ctx.Err(); err != nil {
			return nil, fmt.Errorf("hydrate: %w", err)
		}
		pos, ok := sentencePos[r.ID]
		if !ok {
			return nil, fmt.Errorf("hydrate: sentence %d not in manuscript: %w", r.ID, manuscript.ErrMalformed)
		}
		s := Sentence{
			Segment:     h.segment(x, r, idx.Text(r.Manuscript)),
			ParagraphID: idx.Paragraphs[idx.Sentences[pos].Paragraph].ID,
		}
		t.Sentences = append(t.Sentences, s)
	}
	interpolate(t.Sentences, chapterTiming(x))

	for _, r := range x.Paragraphs {
		if err := ctx.Err(); err != nil {
			return nil, fmt.Errorf("hydrate: %w", err)
		}
		p := Paragraph{SentenceIDs: []int{}}
		var texts []string
		first := true
		for _, s := range t.Sentences {
			if s.ParagraphID != r.ID {
				continue
			}
			p.SentenceIDs = append(p.SentenceIDs, s.ID)
			texts = append(texts, s.Text)
			if first {
				p.Timing = s.Timing
				first = false
			} else {
				p.Timing.End = max(p.Timing.End, s.Timing.End)
			}
		}
		timing := p.Timing
		p.Segment = h.segment(x, r, strings.Join(texts, " "))
		if p.TimingSource != TimingASR {
			p.Timing = timing
		}
		t.Paragraphs = append(t.Paragraphs, p)
	}

	t.Summary = Summarize(t)
	return t, nil
}

// segment hydrates one rollup. Timing is resolved from ASR when possible and
// left for interpolation otherwise.
func (h *Hydrator) segment(x *align.Index, r align.Rollup, text string) Segment {
	var hyp []string
	for _, op := range x.Ops[r.Ops.Start:r.Ops.End] {
		if op.Token != nil {
			hyp = append(hyp, op.Token.Word)
		}
	}
	seg := Segment{
		ID:         r.ID,
		Manuscript: r.Manuscript,
		ASR:        r.ASR,
		Text:       text,
		Hypothesis: strings.Join(hyp, " "),
		Alignment:  r.Status,
	}
	seg.Metrics, seg.Diff = h.analyzer.Analyze(seg.Text, seg.Hypothesis)
	if r.Timing != nil {
		seg.Timing, seg.TimingSource = *r.Timing, TimingASR
	} else {
		seg.TimingSource = TimingInterpolated
	}
	seg.Status = h.grade(seg)
	return seg
}

func (h *Hydrator) grade(s Segment) Status {
	switch {
	case s.ASR == nil || s.Alignment == align.StatusUnmatched:
		return StatusUnreliable
	case s.Metrics.WER <= h.thresholds.AttentionWER:
		return StatusOK
	case s.Metrics.WER <= h.thresholds.UnreliableWER:
		return StatusAttention
	default:
		return StatusUnreliable
	}
}

// chapterTiming spans the first and last token referenced by x.
func chapterTiming(x *align.Index) align.Timing {
	var t align.Timing
	for _, op := range x.Ops {
		if op.Token != nil {
			t.Start = op.Token.Start
			break
		}
	}
	for i := len(x.Ops) - 1; i >= 0; i-- {
		if op := x.Ops[i]; op.Token != nil {
			t.End = op.Token.End
			break
		}
	}
	return t
}

// interpolate fills the timing of every run of unresolved sentences by
// dividing the gap between its resolved neighbours in proportion to word
// counts. A negative gap collapses the run onto the preceding end.
func interpolate(sentences []Sentence, chapter align.Timing) {
	for i := 0; i < len(sentences); {
		if sentences[i].TimingSource != TimingInterpolated {
			i++
			continue
		}
		j := i
		for j < len(sentences) && sentences[j].TimingSource == TimingInterpolated {
			j++
		}
		from, to := chapter.Start, chapter.End
		if i > 0 {
			from = sentences[i-1].Timing.End
		}
		if j < len(sentences) {
			to = sentences[j].Timing.Start
		}
		to = max(to, from)

		words := 0
		for k := i; k < j; k++ {
			words += max(1, sentences[k].Manuscript.Len())
		}
		at := from
		for k := i; k < j; k++ {
			share := (to - from) * float64(max(1, sentences[k].Manuscript.Len())) / float64(words)
			sentences[k].Timing = align.Timing{Start: at, End: at + share}
			at += share
		}
		sentences[j-1].Timing.End = to
		i = j
	}
}

// Summarize aggregates the metrics of t. Flagged counts sentences not
// graded ok.
func Summarize(t *Transcript) Summary {
	s := Summary{SentenceCount: len(t.Sentences), ParagraphCount: len(t.Paragraphs)}
	for _, sen := range t.Sentences {
		s.AvgWER += sen.Metrics.WER
		s.MaxWER = max(s.MaxWER, sen.Metrics.WER)
		if sen.Status != StatusOK {
			s.Flagged++
		}
	}
	if s.SentenceCount > 0 {
		s.AvgWER /= float64(s.SentenceCount)
	}
	for _, p := range t.Paragraphs {
		s.ParagraphAvgWER += p.Metrics.WER
		s.AvgCoverage += p.Metrics.Coverage
	}
	if s.ParagraphCount > 0 {
		s.ParagraphAvgWER /= float64(s.ParagraphCount)
		s.AvgCoverage /= float64(s.ParagraphCount)
	}
	return s
}

// ErrUnknownSentence is returned by [ApplyTimings] for a refinement naming a
// sentence the transcript does not contain.
var ErrUnknownSentence = errors.New("hydrate: unknown sentence")

// Refinement is an externally refined sentence timing, typically from forced
// alignment.
type Refinement struct {
	SentenceID int     `json:"sentence"`
	Start      float64 `json:"start"`
	End        float64 `json:"end"`
}

// ApplyTimings overwrites the timing of the refined sentences and recomputes
// the timing of paragraphs that contain one. Alignment, text, metrics and
// diffs are never touched. Nothing is changed when a refinement is invalid.
func ApplyTimings(t *Transcript, refinements []Refinement) error {
	pos := make(map[int]int, len(t.Sentences))
	for i, s := range t.Sentences {
		pos[s.ID] = i
	}
	for _, r := range refinements {
		if _, ok := pos[r.SentenceID]; !ok {
			return fmt.Errorf("%w: %d", ErrUnknownSentence, r.SentenceID)
		}
		if r.Start < 0 || r.End < r.Start {
			return fmt.Errorf("hydrate: refinement for sentence %d has invalid range [%g, %g]", r.SentenceID, r.Start, r.End)
		}
	}

	touched := make(map[int]bool)
	for _, r := range refinements {
		s := &t.Sentences[pos[r.SentenceID]]
		s.Timing = align.Timing{Start: r.Start, End: r.End}
		s.TimingSource = TimingRefined
		touched[s.ParagraphID] = true
	}
	for i := range t.Paragraphs {
		p := &t.Paragraphs[i]
		if !touched[p.ID] || len(p.SentenceIDs) == 0 {
			continue
		}
		first := t.Sentences[pos[p.SentenceIDs[0]]].Timing
		last := t.Sentences[pos[p.SentenceIDs[len(p.SentenceIDs)-1]]].Timing
		p.Timing = align.Timing{Start: first.Start, End: max(first.End, last.End)}
		p.TimingSource = TimingRefined
	}
	return nil
}
