package observe

import (
	"context"
	"errors"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// Metrics records dispatch and healing measurements.
//
// Contract:
// - Concurrency: implementations must be safe for concurrent use.
// - Errors: implementations must not panic.
type Metrics interface {
	// RecordExecution counts one finished operation and its duration.
	RecordExecution(ctx context.Context, meta Meta, duration time.Duration, err error)

	// RecordEvent counts a discrete event such as a failover, a breaker
	// transition or a backend marked unhealthy.
	RecordEvent(ctx context.Context, meta Meta, event string)
}

type otelMetrics struct {
	calls    metric.Int64Counter
	failures metric.Int64Counter
	events   metric.Int64Counter
	latency  metric.Float64Histogram
}

// NewMetrics registers the llmops instruments on meter:
//
//	llmops.op.total        operations finished
//	llmops.op.errors       operations that returned an error
//	llmops.op.duration_ms  operation latency, labelled with the outcome
//	llmops.events          events by llmops.event
func NewMetrics(meter metric.Meter) (Metrics, error) {
	var errs []error
	counter := func(name, desc, unit string) metric.Int64Counter {
		c, err := meter.Int64Counter(name, metric.WithDescription(desc), metric.WithUnit(unit))
		errs = append(errs, err)
		return c
	}

	m := &otelMetrics{
		calls:    counter("llmops.op.total", "Operations finished", "{call}"),
		failures: counter("llmops.op.errors", "Operations that failed", "{error}"),
		events:   counter("llmops.events", "Resilience events by kind", "{event}"),
	}
	h, err := meter.Float64Histogram("llmops.op.duration_ms",
		metric.WithDescription("Operation latency"),
		metric.WithUnit("ms"),
	)
	errs = append(errs, err)
	m.latency = h

	if err := errors.Join(errs...); err != nil {
		return nil, err
	}
	return m, nil
}

func (m *otelMetrics) RecordExecution(ctx context.Context, meta Meta, d time.Duration, err error) {
	attrs := meta.attributes()
	m.calls.Add(ctx, 1, metric.WithAttributes(attrs...))
	if err != nil {
		m.failures.Add(ctx, 1, metric.WithAttributes(attrs...))
	}

	outcome := "ok"
	if err != nil {
		outcome = "error"
	}
	attrs = append(attrs, attribute.String("llmops.outcome", outcome))
	m.latency.Record(ctx, float64(d)/float64(time.Millisecond), metric.WithAttributes(attrs...))
}

func (m *otelMetrics) RecordEvent(ctx context.Context, meta Meta, event string) {
	attrs := append(meta.attributes(), attribute.String("llmops.event", event))
	m.events.Add(ctx, 1, metric.WithAttributes(attrs...))
}

type noopMetrics struct{}

func (noopMetrics) RecordExecution(context.Context, Meta, time.Duration, error) {}
func (noopMetrics) RecordEvent(context.Context, Meta, string)                   {}
