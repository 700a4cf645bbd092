// Package observe provides application-wide observability primitives for
// bookalign: OpenTelemetry metrics, distributed tracing, structured logging,
// and HTTP middleware that ties them together.
//
// Metrics are recorded through the OpenTelemetry Metrics API. A Prometheus
// exporter bridge is available via [InitProvider] so that metrics can still be
// scraped via the standard /metrics endpoint. A package-level default
// [Metrics] instance ([DefaultMetrics]) is provided for convenience; tests
// should use [NewMetrics] with a custom [metric.MeterProvider] to avoid
// cross-test pollution.
package observe

import (
	"context"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// meterName is the instrumentation scope name used for all bookalign metrics.
const meterName = "github.com/MrWong99/bookalign"

// Metrics holds all OpenTelemetry metric instruments for the application.
// All fields are safe for concurrent use.
type Metrics struct {
	// --- Latency histograms ---

	// ChapterDuration tracks the wall time of aligning one chapter. Use with
	// attribute:
	//   attribute.String("outcome", ...)
	ChapterDuration metric.Float64Histogram

	// StageDuration tracks the wall time of one pipeline stage. Use with
	// attribute:
	//   attribute.String("stage", ...)
	StageDuration metric.Float64Histogram

	// --- Distributions ---

	// AnchorsPerChapter tracks how many anchors each chapter produced.
	AnchorsPerChapter metric.Int64Histogram

	// --- Counters ---

	// Chapters counts finished chapters. Use with attribute:
	//   attribute.String("outcome", ...)
	Chapters metric.Int64Counter

	// Windows counts alignment windows. Use with attribute:
	//   attribute.String("kind", ...)
	Windows metric.Int64Counter

	// Sentences counts hydrated sentences. Use with attribute:
	//   attribute.String("status", ...)
	Sentences metric.Int64Counter

	// ArtifactWrites counts artifact store writes. Use with attributes:
	//   attribute.String("kind", ...), attribute.String("result", ...)
	ArtifactWrites metric.Int64Counter

	// --- Gauges ---

	// ActiveChapters tracks the number of chapters currently being aligned.
	ActiveChapters metric.Int64UpDownCounter

	// --- HTTP middleware ---

	// HTTPRequestDuration tracks HTTP request processing time. Use with attributes:
	//   attribute.String("method", ...), attribute.String("path", ...)
	HTTPRequestDuration metric.Float64Histogram
}

// durationBuckets defines histogram bucket boundaries (in seconds) for
// alignment work, from a tiny chapter to a pathological one.
var durationBuckets = []float64{
	0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60, 120,
}

// anchorBuckets defines histogram bucket boundaries for anchor counts.
var anchorBuckets = []float64{
	0, 1, 5, 10, 25, 50, 100, 250, 500,
}

// NewMetrics creates a fully initialised [Metrics] struct using the given
// [metric.MeterProvider]. Returns an error if any instrument creation fails.
func NewMetrics(mp metric.MeterProvider) (*Metrics, error) {
	m := mp.Meter(meterName)
	var err error
	met := &Metrics{}

	// Histograms.
	if met.ChapterDuration, err = m.Float64Histogram("bookalign.chapter.duration",
		metric.WithDescription("Wall time of aligning one chapter."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(durationBuckets...),
	); err != nil {
		return nil, err
	}
	if met.StageDuration, err = m.Float64Histogram("bookalign.stage.duration",
		metric.WithDescription("Wall time of one alignment stage by stage name."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(durationBuckets...),
	); err != nil {
		return nil, err
	}
	if met.AnchorsPerChapter, err = m.Int64Histogram("bookalign.anchors",
		metric.WithDescription("Number of anchors found per chapter."),
		metric.WithExplicitBucketBoundaries(anchorBuckets...),
	); err != nil {
		return nil, err
	}

	// Counters.
	if met.Chapters, err = m.Int64Counter("bookalign.chapters",
		metric.WithDescription("Total chapters processed by outcome."),
	); err != nil {
		return nil, err
	}
	if met.Windows, err = m.Int64Counter("bookalign.windows",
		metric.WithDescription("Total alignment windows by resolution kind."),
	); err != nil {
		return nil, err
	}
	if met.Sentences, err = m.Int64Counter("bookalign.sentences",
		metric.WithDescription("Total hydrated sentences by review status."),
	); err != nil {
		return nil, err
	}
	if met.ArtifactWrites, err = m.Int64Counter("bookalign.artifact.writes",
		metric.WithDescription("Total artifact writes by kind and result."),
	); err != nil {
		return nil, err
	}

	// Gauges (UpDownCounters).
	if met.ActiveChapters, err = m.Int64UpDownCounter("bookalign.active_chapters",
		metric.WithDescription("Number of chapters currently being aligned."),
	); err != nil {
		return nil, err
	}

	// HTTP middleware histogram.
	if met.HTTPRequestDuration, err = m.Float64Histogram("bookalign.http.request.duration",
		metric.WithDescription("HTTP request latency by method and path."),
		metric.WithUnit("s"),
	); err != nil {
		return nil, err
	}

	return met, nil
}

// defaultMetrics is the lazily-initialised package-level Metrics instance.
var (
	defaultMetrics     *Metrics
	defaultMetricsOnce sync.Once
)

// DefaultMetrics returns the package-level [Metrics] instance, creating it on
// first call using [otel.GetMeterProvider]. Subsequent calls return the same
// pointer. Panics if instrument creation fails (should not happen with the
// global provider).
func DefaultMetrics() *Metrics {
	defaultMetricsOnce.Do(func() {
		var err error
		defaultMetrics, err = NewMetrics(otel.GetMeterProvider())
		if err != nil {
			panic("observe: failed to create default metrics: " + err.Error())
		}
	})
	return defaultMetrics
}

// Attr is a convenience alias for [attribute.String] to reduce verbosity at
// call sites.
func Attr(key, value string) attribute.KeyValue {
	return attribute.String(key, value)
}

// RecordStage records the duration of one pipeline stage.
func (m *Metrics) RecordStage(ctx context.Context, stage string, d time.Duration) {
	m.StageDuration.Record(ctx, d.Seconds(),
		metric.WithAttributes(attribute.String("stage", stage)),
	)
}

// RecordChapter records a finished chapter with its outcome.
func (m *Metrics) RecordChapter(ctx context.Context, outcome string, d time.Duration) {
	attrs := metric.WithAttributes(attribute.String("outcome", outcome))
	m.Chapters.Add(ctx, 1, attrs)
	m.ChapterDuration.Record(ctx, d.Seconds(), attrs)
}

// RecordWindow records one alignment window of the given kind.
func (m *Metrics) RecordWindow(ctx context.Context, kind string) {
	m.Windows.Add(ctx, 1,
		metric.WithAttributes(attribute.String("kind", kind)),
	)
}

// RecordSentence records one hydrated sentence with its review status.
func (m *Metrics) RecordSentence(ctx context.Context, status string) {
	m.Sentences.Add(ctx, 1,
		metric.WithAttributes(attribute.String("status", status)),
	)
}

// RecordArtifactWrite records an artifact store write.
func (m *Metrics) RecordArtifactWrite(ctx context.Context, kind, result string) {
	m.ArtifactWrites.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("kind", kind),
			attribute.String("result", result),
		),
	)
}
