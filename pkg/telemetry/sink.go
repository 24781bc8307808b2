package telemetry

import (
	"context"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"
)

// Span is a live telemetry span. End must be called exactly once.
type Span interface {
	// SetAttr attaches a key-value attribute to the span.
	SetAttr(key string, value any)
	// RecordError marks the span as failed.
	RecordError(err error)
	End()
}

// Sink receives spans and point metrics from component boundaries.
// Implementations must be safe for concurrent use.
type Sink interface {
	// StartSpan opens a span named by operation. The returned context carries
	// the span for nesting.
	StartSpan(ctx context.Context, operation string) (context.Context, Span)
	// RecordLatency reports one timed operation.
	RecordLatency(ctx context.Context, operation string, d time.Duration)
	// RecordCount bumps a named counter.
	RecordCount(ctx context.Context, name string, delta int64)
}

// ---- no-op sink ----

type noopSpan struct{}

func (noopSpan) SetAttr(string, any) {}
func (noopSpan) RecordError(error)   {}
func (noopSpan) End()                {}

type noopSink struct{}

func (noopSink) StartSpan(ctx context.Context, _ string) (context.Context, Span) {
	return ctx, noopSpan{}
}
func (noopSink) RecordLatency(context.Context, string, time.Duration) {}
func (noopSink) RecordCount(context.Context, string, int64)           {}

// NewNoopSink returns a Sink that discards everything. Used in tests and as
// the default when telemetry is disabled.
func NewNoopSink() Sink { return noopSink{} }

// ---- otel-backed sink ----

type otelSink struct {
	tracer trace.Tracer
}

// NewOtelSink returns a Sink that emits OpenTelemetry spans via the given
// TracerProvider. Latencies and counters are attached as span events on the
// current span; exporter wiring is the embedder's concern.
func NewOtelSink(tp trace.TracerProvider) Sink {
	if tp == nil {
		tp = noop.NewTracerProvider()
	}
	return &otelSink{tracer: tp.Tracer("maestro")}
}

type otelSpan struct {
	span trace.Span
}

func (s *otelSpan) SetAttr(key string, value any) {
	switch v := value.(type) {
	case string:
		s.span.SetAttributes(attribute.String(key, v))
	case int:
		s.span.SetAttributes(attribute.Int(key, v))
	case int64:
		s.span.SetAttributes(attribute.Int64(key, v))
	case float64:
		s.span.SetAttributes(attribute.Float64(key, v))
	case bool:
		s.span.SetAttributes(attribute.Bool(key, v))
	default:
		s.span.SetAttributes(attribute.String(key, slog.AnyValue(v).String()))
	}
}

func (s *otelSpan) RecordError(err error) {
	if err != nil {
		s.span.RecordError(err)
	}
}

func (s *otelSpan) End() { s.span.End() }

func (s *otelSink) StartSpan(ctx context.Context, operation string) (context.Context, Span) {
	ctx, span := s.tracer.Start(ctx, operation)
	if txn, ok := FromContext(ctx); ok {
		span.SetAttributes(
			attribute.String("transaction_id", txn.TransactionID),
			attribute.String("session_id", txn.SessionID),
		)
	}
	return ctx, &otelSpan{span: span}
}

func (s *otelSink) RecordLatency(ctx context.Context, operation string, d time.Duration) {
	span := trace.SpanFromContext(ctx)
	span.AddEvent(operation, trace.WithAttributes(
		attribute.Int64("latency_ms", d.Milliseconds()),
	))
}

func (s *otelSink) RecordCount(ctx context.Context, name string, delta int64) {
	span := trace.SpanFromContext(ctx)
	span.AddEvent(name, trace.WithAttributes(attribute.Int64("delta", delta)))
}

// Logger returns a slog.Logger pre-stamped with the transaction id from ctx.
// Every log line emitted inside a transaction carries the same id.
func Logger(ctx context.Context) *slog.Logger {
	if txn, ok := FromContext(ctx); ok {
		return slog.With("transaction_id", txn.TransactionID)
	}
	return slog.Default()
}
