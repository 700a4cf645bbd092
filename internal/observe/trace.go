package observe

import (
	"context"
	"log/slog"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const tracerName = "github.com/MrWong99/bookalign"

// Span attributes of the alignment pipeline.
const (
	ChapterKey = attribute.Key("bookalign.chapter")
	StageKey   = attribute.Key("bookalign.stage")
)

// ChapterSpan is the name of the span covering one chapter run. Each stage
// runs in a child span named "pipeline.<stage>".
const ChapterSpan = "pipeline.chapter"

type chapterKey struct{}

// StartSpan starts a span on the global TracerProvider. The caller must end
// it.
func StartSpan(ctx context.Context, name string, opts ...trace.SpanStartOption) (context.Context, trace.Span) {
	return otel.Tracer(tracerName).Start(ctx, name, opts...)
}

// StartChapter starts the [ChapterSpan] for chapter and remembers the
// chapter name in the returned context for [Logger].
func StartChapter(ctx context.Context, chapter string) (context.Context, trace.Span) {
	ctx = context.WithValue(ctx, chapterKey{}, chapter)
	return StartSpan(ctx, ChapterSpan, trace.WithAttributes(ChapterKey.String(chapter)))
}

// StartStage starts the child span of one pipeline stage.
func StartStage(ctx context.Context, stage string) (context.Context, trace.Span) {
	attrs := []attribute.KeyValue{StageKey.String(stage)}
	if ch, ok := ctx.Value(chapterKey{}).(string); ok {
		attrs = append(attrs, ChapterKey.String(ch))
	}
	return StartSpan(ctx, "pipeline."+stage, trace.WithAttributes(attrs...))
}

// Fail marks span as failed with err. A nil err leaves the span untouched.
func Fail(span trace.Span, err error) {
	if err == nil {
		return
	}
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
}

// CorrelationID returns the trace ID of the active span in ctx, or "".
// The review API echoes it as X-Correlation-ID.
func CorrelationID(ctx context.Context) string {
	sc := trace.SpanContextFromContext(ctx)
	if sc.HasTraceID() {
		return sc.TraceID().String()
	}
	return ""
}

// Logger returns the default logger enriched with the chapter started by
// [StartChapter] and the trace_id and span_id of the active span.
func Logger(ctx context.Context) *slog.Logger {
	l := slog.Default()
	if ch, ok := ctx.Value(chapterKey{}).(string); ok {
		l = l.With(slog.String("chapter", ch))
	}
	sc := trace.SpanContextFromContext(ctx)
	if sc.HasTraceID() {
		l = l.With(
			slog.String("trace_id", sc.TraceID().String()),
			slog.String("span_id", sc.SpanID().String()),
		)
	}
	return l
}
