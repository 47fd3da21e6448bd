package observe

import (
	"context"
	"errors"
	"time"
)

// ExecuteFunc is the signature Middleware wraps. Results travel through the
// closure; only the error is observed.
type ExecuteFunc func(ctx context.Context, meta Meta) error

// Middleware runs operations inside a span, records their metrics and logs
// their outcome.
//
// Contract:
//   - Concurrency: safe for concurrent use.
//   - Errors: the wrapped function's error is returned unchanged.
type Middleware struct {
	tracer  Tracer
	metrics Metrics
	logger  Logger
}

// NewMiddleware substitutes no-op implementations for nil arguments.
func NewMiddleware(tracer Tracer, metrics Metrics, logger Logger) *Middleware {
	m := &Middleware{tracer: tracer, metrics: metrics, logger: logger}
	if m.tracer == nil {
		m.tracer = newNoopTracer()
	}
	if m.metrics == nil {
		m.metrics = noopMetrics{}
	}
	if m.logger == nil {
		m.logger = noopLogger{}
	}
	return m
}

// Run executes fn under meta. Failures log at warn, except caller
// cancellation, which logs at debug with successes.
func (m *Middleware) Run(ctx context.Context, meta Meta, fn ExecuteFunc) error {
	ctx, span := m.tracer.StartSpan(ctx, meta)
	start := time.Now()
	err := fn(ctx, meta)
	elapsed := time.Since(start)

	m.tracer.EndSpan(span, err)
	m.metrics.RecordExecution(ctx, meta, elapsed, err)

	log := m.logger.WithMeta(meta)
	took := Field{Key: "duration_ms", Value: float64(elapsed) / float64(time.Millisecond)}
	switch {
	case err == nil:
		log.Debug(ctx, meta.Operation+" completed", took)
	case errors.Is(err, context.Canceled):
		log.Debug(ctx, meta.Operation+" canceled", took)
	default:
		log.Warn(ctx, meta.Operation+" failed", took, Field{Key: "error", Value: err.Error()})
	}
	return err
}

// Wrap binds fn to the middleware.
func (m *Middleware) Wrap(fn ExecuteFunc) ExecuteFunc {
	return func(ctx context.Context, meta Meta) error {
		return m.Run(ctx, meta, fn)
	}
}

// Event records a discrete event and logs it at info level.
func (m *Middleware) Event(ctx context.Context, meta Meta, event string, fields ...Field) {
	m.metrics.RecordEvent(ctx, meta, event)
	m.logger.WithMeta(meta).Info(ctx, event, fields...)
}

// Logger returns the middleware's logger.
func (m *Middleware) Logger() Logger {
	return m.logger
}

// MiddlewareFromObserver creates a Middleware from an Observer.
func MiddlewareFromObserver(obs Observer) (*Middleware, error) {
	if obs == nil {
		return nil, ErrNilObserver
	}

	metrics, err := NewMetrics(obs.Meter())
	if err != nil {
		return nil, err
	}

	return NewMiddleware(NewTracer(obs.Tracer()), metrics, obs.Logger()), nil
}

// NopMiddleware returns a Middleware that records nothing.
func NopMiddleware() *Middleware {
	return NewMiddleware(nil, nil, nil)
}
