package observe

import (
	"context"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	tracenoop "go.opentelemetry.io/otel/trace/noop"
)

// Meta describes an instrumented operation. Component and Operation are
// required; the rest are set when known.
type Meta struct {
	Component string // gateway, healing, health
	Operation string // dispatch, stream, heal, probe
	Backend   string
	Model     string
	Strategy  string
}

// SpanName is "llmops.<component>.<operation>".
func (m Meta) SpanName() string {
	return "llmops." + m.Component + "." + m.Operation
}

// WithBackend returns a copy of m naming the given backend.
func (m Meta) WithBackend(name string) Meta {
	m.Backend = name
	return m
}

func (m Meta) attributes() []attribute.KeyValue {
	attrs := []attribute.KeyValue{
		attribute.String("llmops.component", m.Component),
		attribute.String("llmops.operation", m.Operation),
	}
	for _, opt := range [...]struct {
		key attribute.Key
		val string
	}{
		{"llmops.backend", m.Backend},
		{"llmops.model", m.Model},
		{"llmops.strategy", m.Strategy},
	} {
		if opt.val != "" {
			attrs = append(attrs, opt.key.String(opt.val))
		}
	}
	return attrs
}

// Tracer opens and closes spans for instrumented operations.
//
// Contract:
// - Concurrency: implementations must be safe for concurrent use.
// - Errors: EndSpan is best-effort and must not panic.
type Tracer interface {
	StartSpan(ctx context.Context, meta Meta) (context.Context, trace.Span)
	EndSpan(span trace.Span, err error)
}

type otelTracer struct {
	tracer trace.Tracer
}

// NewTracer wraps t. Spans that name a backend are client spans; the rest
// are internal.
func NewTracer(t trace.Tracer) Tracer {
	return &otelTracer{tracer: t}
}

func (t *otelTracer) StartSpan(ctx context.Context, meta Meta) (context.Context, trace.Span) {
	kind := trace.SpanKindInternal
	if meta.Backend != "" {
		kind = trace.SpanKindClient
	}
	return t.tracer.Start(ctx, meta.SpanName(),
		trace.WithSpanKind(kind),
		trace.WithAttributes(meta.attributes()...),
	)
}

// EndSpan marks the span failed when err is non-nil and ends it.
func (t *otelTracer) EndSpan(span trace.Span, err error) {
	span.SetAttributes(attribute.Bool("llmops.error", err != nil))
	if err == nil {
		span.SetStatus(codes.Ok, "")
	} else {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	span.End()
}

type noopTracer struct {
	tracer trace.Tracer
}

func newNoopTracer() Tracer {
	return noopTracer{tracer: tracenoop.NewTracerProvider().Tracer("llmops")}
}

func (t noopTracer) StartSpan(ctx context.Context, meta Meta) (context.Context, trace.Span) {
	return t.tracer.Start(ctx, meta.SpanName())
}

func (noopTracer) EndSpan(span trace.Span, _ error) { span.End() }
