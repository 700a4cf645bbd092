// Package pipeline runs the per-chapter alignment stages in order: section
// resolution, anchor computation, transcript indexing and hydration. The
// three artifacts are persisted only after every stage succeeded, so a
// failing or canceled chapter leaves the store untouched.
//
// Each stage sits behind a small interface so that tests and alternative
// engines can replace one stage without touching the others.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/MrWong99/bookalign/internal/align"
	"github.com/MrWong99/bookalign/internal/anchor"
	"github.com/MrWong99/bookalign/internal/artifact"
	"github.com/MrWong99/bookalign/internal/hydrate"
	"github.com/MrWong99/bookalign/internal/observe"
	"github.com/MrWong99/bookalign/internal/section"
	"github.com/MrWong99/bookalign/pkg/asr"
	"github.com/MrWong99/bookalign/pkg/manuscript"
)

// Stage names used for spans, metrics and errors.
const (
	StageSection = "section"
	StageAnchors = "anchors"
	StageIndex   = "index"
	StageHydrate = "hydrate"
	StagePersist = "persist"
)

// SectionResolver maps a chapter to a manuscript section.
type SectionResolver interface {
	ResolveByTitle(label string) (manuscript.Section, bool)
	DetectTokens(tr *asr.Transcript) (manuscript.Section, bool)
}

// AnchorComputer computes the anchor set of a chapter within bounds.
type AnchorComputer interface {
	Compute(ctx context.Context, idx *manuscript.Index, tr *asr.Transcript, bounds section.Bounds) (*anchor.Set, error)
}

// IndexBuilder builds the transcript index from an anchor set.
type IndexBuilder interface {
	Build(ctx context.Context, idx *manuscript.Index, tr *asr.Transcript, set *anchor.Set) (*align.Index, error)
}

// Hydrator turns a transcript index into a hydrated transcript.
type Hydrator interface {
	Hydrate(ctx context.Context, x *align.Index, idx *manuscript.Index) (*hydrate.Transcript, error)
}

// AnchorFunc adapts a function to [AnchorComputer].
type AnchorFunc func(ctx context.Context, idx *manuscript.Index, tr *asr.Transcript, bounds section.Bounds) (*anchor.Set, error)

// Compute calls f.
func (f AnchorFunc) Compute(ctx context.Context, idx *manuscript.Index, tr *asr.Transcript, bounds section.Bounds) (*anchor.Set, error) {
	return f(ctx, idx, tr, bounds)
}

// PolicyAnchors returns an [AnchorComputer] running [anchor.Compute] with p.
func PolicyAnchors(p anchor.Policy) AnchorComputer {
	return AnchorFunc(func(ctx context.Context, idx *manuscript.Index, tr *asr.Transcript, bounds section.Bounds) (*anchor.Set, error) {
		return anchor.Compute(ctx, idx, tr, bounds, p)
	})
}

// Params bundles every tunable that influences the artifacts.
type Params struct {
	PrefixLength int                `json:"prefixLength"`
	Anchors      anchor.Policy      `json:"anchors"`
	Alignment    align.Params       `json:"alignment"`
	Hydration    hydrate.Thresholds `json:"hydration"`
}

// DefaultParams returns the default tunables.
func DefaultParams() Params {
	return Params{
		PrefixLength: section.DefaultPrefixLength,
		Anchors:      anchor.DefaultPolicy(),
		Alignment:    align.DefaultParams(),
		Hydration:    hydrate.DefaultThresholds(),
	}
}

// Validate checks every parameter group.
func (p Params) Validate() error {
	var errs []error
	if p.PrefixLength < 1 {
		errs = append(errs, fmt.Errorf("pipeline: prefix length must be at least 1, got %d", p.PrefixLength))
	}
	errs = append(errs, p.Anchors.Validate(), p.Alignment.Validate(), p.Hydration.Validate())
	return errors.Join(errs...)
}

// Hashes returns the params hash of each artifact kind. A kind's hash covers
// exactly the parameters its content depends on, so changing hydration
// thresholds leaves the anchor and index hashes intact.
func (p Params) Hashes() (map[artifact.Kind]string, error) {
	type anchorsKey struct {
		PrefixLength int           `json:"prefixLength"`
		Anchors      anchor.Policy `json:"anchors"`
	}
	type indexKey struct {
		anchorsKey
		Alignment align.Params `json:"alignment"`
	}
	a := anchorsKey{p.PrefixLength, p.Anchors}
	i := indexKey{a, p.Alignment}
	out := make(map[artifact.Kind]string, 3)
	for kind, v := range map[artifact.Kind]any{
		artifact.KindAnchors:  a,
		artifact.KindIndex:    i,
		artifact.KindHydrated: p,
	} {
		h, err := artifact.ParamsHash(v)
		if err != nil {
			return nil, err
		}
		out[kind] = h
	}
	return out, nil
}

// Chapter is one unit of work: an ASR transcript to align against the
// runner's manuscript.
type Chapter struct {
	// Name keys the chapter's artifacts.
	Name string
	// Label is an optional title used to resolve the section. When empty
	// or unresolvable the section is detected from the transcript.
	Label      string
	AudioPath  string
	ScriptPath string
	Transcript *asr.Transcript
}

// Result is the outcome of a successful chapter run.
type Result struct {
	Chapter         string
	Section         manuscript.Section
	SectionFallback bool
	Anchors         *anchor.Set
	Index           *align.Index
	Hydrated        *hydrate.Transcript
	Writes          map[artifact.Kind]artifact.PutResult
	Duration        time.Duration
}

// StageError reports the stage a chapter failed in.
type StageError struct {
	Chapter string
	Stage   string
	Err     error
}

func (e *StageError) Error() string {
	return fmt.Sprintf("pipeline: chapter %q: %s: %v", e.Chapter, e.Stage, e.Err)
}

func (e *StageError) Unwrap() error { return e.Err }

// Option is a functional option for configuring a [Runner].
type Option func(*Runner)

// WithClock sets the clock used to stamp artifact timestamps. Re-running a
// chapter with a fixed clock produces byte-identical artifacts.
func WithClock(now func() time.Time) Option {
	return func(r *Runner) { r.now = now }
}

// WithMetrics sets the metrics sink. Defaults to [observe.DefaultMetrics].
func WithMetrics(m *observe.Metrics) Option {
	return func(r *Runner) { r.metrics = m }
}

// WithStore enables persistence. Without a store results are only returned.
func WithStore(s artifact.Store) Option {
	return func(r *Runner) { r.store = s }
}

// WithResolver replaces the section resolver.
func WithResolver(s SectionResolver) Option {
	return func(r *Runner) { r.resolver = s }
}

// WithAnchorComputer replaces the anchor stage.
func WithAnchorComputer(a AnchorComputer) Option {
	return func(r *Runner) { r.anchors = a }
}

// WithIndexBuilder replaces the indexing stage.
func WithIndexBuilder(b IndexBuilder) Option {
	return func(r *Runner) { r.builder = b }
}

// WithHydrator replaces the hydration stage.
func WithHydrator(h Hydrator) Option {
	return func(r *Runner) { r.hydrator = h }
}

// Runner aligns chapters against one manuscript. It is safe for concurrent
// use; every stage only reads the shared manuscript.
type Runner struct {
	idx      *manuscript.Index
	params   Params
	hashes   map[artifact.Kind]string
	resolver SectionResolver
	anchors  AnchorComputer
	builder  IndexBuilder
	hydrator Hydrator
	store    artifact.Store
	metrics  *observe.Metrics
	now      func() time.Time
}

// New returns a [Runner] over idx. Stages not replaced through options are
// built from params.
func New(idx *manuscript.Index, params Params, opts ...Option) (*Runner, error) {
	if idx == nil {
		return nil, errors.New("pipeline: nil manuscript")
	}
	if err := params.Validate(); err != nil {
		return nil, err
	}
	hashes, err := params.Hashes()
	if err != nil {
		return nil, err
	}
	r := &Runner{idx: idx, params: params, hashes: hashes, now: time.Now}
	for _, o := range opts {
		o(r)
	}
	if r.resolver == nil {
		r.resolver = section.New(idx, section.WithPrefixLength(params.PrefixLength))
	}
	if r.anchors == nil {
		r.anchors = PolicyAnchors(params.Anchors)
	}
	if r.builder == nil {
		if r.builder, err = align.New(params.Alignment); err != nil {
			return nil, err
		}
	}
	if r.hydrator == nil {
		if r.hydrator, err = hydrate.New(hydrate.WithThresholds(params.Hydration)); err != nil {
			return nil, err
		}
	}
	if r.metrics == nil {
		r.metrics = observe.DefaultMetrics()
	}
	return r, nil
}

// Params returns the runner's parameters.
func (r *Runner) Params() Params { return r.params }

// Run aligns one chapter and, when a store is configured, persists its
// artifacts. Errors wrapping [align.ErrInvariant] mean the engine produced
// an inconsistent result; nothing is persisted in that case.
func (r *Runner) Run(ctx context.Context, ch Chapter) (*Result, error) {
	start := time.Now()
	ctx, span := observe.StartChapter(ctx, ch.Name)
	defer span.End()

	r.metrics.ActiveChapters.Add(ctx, 1)
	defer r.metrics.ActiveChapters.Add(ctx, -1)

	res, err := r.run(ctx, ch)
	d := time.Since(start)
	log := observe.Logger(ctx)
	switch {
	case err == nil:
		res.Duration = d
		r.metrics.RecordChapter(ctx, "ok", d)
		s := res.Hydrated.Summary
		log.Info("chapter aligned",
			"section", res.Section.Title,
			"anchors", len(res.Anchors.Anchors),
			"sentences", s.SentenceCount,
			"avg_wer", s.AvgWER,
			"flagged", s.Flagged,
			"duration", d,
		)
		return res, nil
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		r.metrics.RecordChapter(ctx, "canceled", d)
		log.Warn("chapter canceled", "err", err)
	case errors.Is(err, align.ErrInvariant):
		r.metrics.RecordChapter(ctx, "invariant", d)
		log.Error("chapter violated an alignment invariant", "err", err)
	default:
		r.metrics.RecordChapter(ctx, "failed", d)
		log.Error("chapter failed", "err", err)
	}
	observe.Fail(span, err)
	return nil, err
}

func (r *Runner) run(ctx context.Context, ch Chapter) (*Result, error) {
	fail := func(stage string, err error) (*Result, error) {
		return nil, &StageError{Chapter: ch.Name, Stage: stage, Err: err}
	}
	if err := artifact.ValidateName(ch.Name); err != nil {
		return fail(StageSection, err)
	}
	if ch.Transcript == nil {
		return fail(StageSection, fmt.Errorf("%w: no transcript", asr.ErrMalformed))
	}
	if err := ch.Transcript.Validate(); err != nil {
		return fail(StageSection, err)
	}
	tr := ch.Transcript
	res := &Result{Chapter: ch.Name}

	var bounds section.Bounds
	err := r.stage(ctx, StageSection, func(ctx context.Context) error {
		bounds = r.resolve(ctx, ch, res)
		return nil
	})
	if err != nil {
		return fail(StageSection, err)
	}

	err = r.stage(ctx, StageAnchors, func(ctx context.Context) error {
		set, err := r.anchors.Compute(ctx, r.idx, tr, bounds)
		if err != nil {
			return err
		}
		set.GeneratedAt = r.stamp(ctx, ch.Name)
		r.metrics.AnchorsPerChapter.Record(ctx, int64(len(set.Anchors)))
		if set.Stats.BelowTarget {
			observe.Logger(ctx).Warn("anchor density below target",
				"anchors", len(set.Anchors),
				"target", set.Stats.Target,
				"ngram_sizes", set.Stats.NGramSizes,
			)
		}
		res.Anchors = set
		return nil
	})
	if err != nil {
		return fail(StageAnchors, err)
	}

	err = r.stage(ctx, StageIndex, func(ctx context.Context) error {
		x, err := r.builder.Build(ctx, r.idx, tr, res.Anchors)
		if err != nil {
			return err
		}
		x.Provenance.AudioPath = ch.AudioPath
		x.Provenance.ScriptPath = ch.ScriptPath
		x.Provenance.CreatedAt = res.Anchors.GeneratedAt
		for _, w := range x.Windows {
			r.metrics.RecordWindow(ctx, string(w.Kind))
		}
		res.Index = x
		return nil
	})
	if err != nil {
		return fail(StageIndex, err)
	}

	err = r.stage(ctx, StageHydrate, func(ctx context.Context) error {
		t, err := r.hydrator.Hydrate(ctx, res.Index, r.idx)
		if err != nil {
			return err
		}
		for _, s := range t.Sentences {
			r.metrics.RecordSentence(ctx, string(s.Status))
		}
		res.Hydrated = t
		return nil
	})
	if err != nil {
		return fail(StageHydrate, err)
	}

	if r.store != nil {
		if err := r.stage(ctx, StagePersist, func(ctx context.Context) error { return r.persist(ctx, res) }); err != nil {
			return fail(StagePersist, err)
		}
	}
	return res, nil
}

// resolve picks the chapter's section: by label first, then by detection,
// falling back to the whole manuscript.
func (r *Runner) resolve(ctx context.Context, ch Chapter, res *Result) section.Bounds {
	log := observe.Logger(ctx)
	if ch.Label != "" {
		if sec, ok := r.resolver.ResolveByTitle(ch.Label); ok {
			log.Debug("section resolved by title", "label", ch.Label, "section", sec.Title)
			res.Section = sec
			return section.BoundsFor(sec, ch.Transcript)
		}
		log.Warn("label matched no section, detecting from transcript", "label", ch.Label)
	}
	if sec, ok := r.resolver.DetectTokens(ch.Transcript); ok {
		log.Debug("section detected", "section", sec.Title)
		res.Section = sec
		return section.BoundsFor(sec, ch.Transcript)
	}
	log.Warn("no section resolved, aligning against the whole manuscript", "section_fallback", true)
	res.SectionFallback = true
	res.Section = manuscript.Section{ID: manuscript.NoSection, Range: r.idx.WordRange()}
	return section.Whole(r.idx, ch.Transcript)
}

// stamp returns the generation time for a chapter's artifacts. When the
// store already holds anchors produced by the same parameters their time is
// reused, so a deterministic re-run reproduces identical artifacts.
func (r *Runner) stamp(ctx context.Context, chapter string) time.Time {
	if r.store != nil {
		a, ok, err := r.store.Get(ctx, chapter, artifact.KindAnchors)
		if err != nil {
			observe.Logger(ctx).Warn("reading stored anchors failed, using current time", "err", err)
		} else if ok && a.ParamsHash == r.hashes[artifact.KindAnchors] {
			return a.CreatedAt.UTC()
		}
	}
	return r.now().UTC()
}

// stage runs fn inside a child span and records its duration.
func (r *Runner) stage(ctx context.Context, name string, fn func(context.Context) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	ctx, span := observe.StartStage(ctx, name)
	defer span.End()

	start := time.Now()
	err := fn(ctx)
	r.metrics.RecordStage(ctx, name, time.Since(start))
	observe.Fail(span, err)
	return err
}

// persist stores the three artifacts as one batch, so a chapter is either
// stored completely or left as it was.
func (r *Runner) persist(ctx context.Context, res *Result) error {
	values := map[artifact.Kind]any{
		artifact.KindAnchors:  res.Anchors,
		artifact.KindIndex:    res.Index,
		artifact.KindHydrated: res.Hydrated,
	}
	created := res.Anchors.GeneratedAt
	encoded := make([]artifact.Artifact, 0, len(artifact.Kinds))
	for _, kind := range artifact.Kinds {
		a, err := artifact.New(res.Chapter, kind, r.hashes[kind], values[kind], created)
		if err != nil {
			return err
		}
		encoded = append(encoded, a)
	}

	results, err := r.store.PutAll(ctx, encoded)
	if err != nil {
		for _, a := range encoded {
			r.metrics.RecordArtifactWrite(ctx, string(a.Kind), "error")
		}
		return err
	}
	res.Writes = make(map[artifact.Kind]artifact.PutResult, len(encoded))
	for i, a := range encoded {
		r.metrics.RecordArtifactWrite(ctx, string(a.Kind), string(results[i]))
		res.Writes[a.Kind] = results[i]
		observe.Logger(ctx).Debug("artifact stored", "kind", a.Kind, "result", results[i], "hash", a.ContentHash[:12])
	}
	return nil
}
