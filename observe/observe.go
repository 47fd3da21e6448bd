package observe

import (
	"context"
	"errors"
	"fmt"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"
	metricnoop "go.opentelemetry.io/otel/metric/noop"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
	"go.opentelemetry.io/otel/trace"
	tracenoop "go.opentelemetry.io/otel/trace/noop"

	"github.com/jonwraymond/llmops/observe/exporters"
)

// Observer hands out the tracer, meter and logger the gateway instruments
// itself with.
//
// Contract:
//   - Concurrency: safe for concurrent use.
//   - Shutdown flushes pending telemetry within ctx and may be called more
//     than once.
type Observer interface {
	Tracer() trace.Tracer
	Meter() metric.Meter
	Logger() Logger
	Shutdown(ctx context.Context) error
}

// Logger is the structured logger every component accepts.
//
// Contract:
//   - Concurrency: safe for concurrent use.
//   - Logging is best effort and never panics.
//   - Fields named in RedactedFields never reach the output.
type Logger interface {
	Debug(ctx context.Context, msg string, fields ...Field)
	Info(ctx context.Context, msg string, fields ...Field)
	Warn(ctx context.Context, msg string, fields ...Field)
	Error(ctx context.Context, msg string, fields ...Field)
	WithMeta(meta Meta) Logger
}

// Field is one structured log value.
type Field struct {
	Key   string
	Value any
}

type observer struct {
	tracer trace.Tracer
	meter  metric.Meter
	logger Logger

	// shutdown funcs of the SDK providers that were built, in build order.
	shutdown []func(context.Context) error
}

// NewObserver validates cfg and builds the SDK providers it enables. The
// providers are also installed as the otel globals.
func NewObserver(ctx context.Context, cfg Config) (Observer, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	res, err := resource.New(ctx, resource.WithAttributes(
		semconv.ServiceName(cfg.ServiceName),
		semconv.ServiceVersion(cfg.Version),
	))
	if err != nil {
		return nil, fmt.Errorf("observe: resource: %w", err)
	}

	o := noopObserver()
	if cfg.Logging.Enabled {
		o.logger = NewLogger(cfg.Logging.Level)
	}

	if cfg.Tracing.Enabled {
		tp, err := tracerProvider(ctx, cfg.Tracing, res)
		if err != nil {
			return nil, err
		}
		otel.SetTracerProvider(tp)
		o.tracer = tp.Tracer(cfg.ServiceName)
		o.shutdown = append(o.shutdown, tp.Shutdown)
	}

	if cfg.Metrics.Enabled {
		mp, err := meterProvider(ctx, cfg.Metrics, res)
		if err != nil {
			_ = o.Shutdown(ctx)
			return nil, err
		}
		otel.SetMeterProvider(mp)
		o.meter = mp.Meter(cfg.ServiceName)
		o.shutdown = append(o.shutdown, mp.Shutdown)
	}

	return o, nil
}

// sampler maps the configured fraction onto a parent-based sampler so a
// caller's sampling decision carries through the gateway.
func sampler(pct float64) sdktrace.Sampler {
	switch {
	case pct >= 1:
		return sdktrace.ParentBased(sdktrace.AlwaysSample())
	case pct <= 0:
		return sdktrace.ParentBased(sdktrace.NeverSample())
	default:
		return sdktrace.ParentBased(sdktrace.TraceIDRatioBased(pct))
	}
}

func tracerProvider(ctx context.Context, cfg TracingConfig, res *resource.Resource) (*sdktrace.TracerProvider, error) {
	exp, err := exporters.NewSpanExporter(ctx, cfg.target())
	if err != nil {
		return nil, fmt.Errorf("observe: tracing: %w", err)
	}
	opts := []sdktrace.TracerProviderOption{
		sdktrace.WithResource(res),
		sdktrace.WithSampler(sampler(cfg.SamplePct)),
	}
	if exp != nil {
		opts = append(opts, sdktrace.WithBatcher(exp))
	}
	return sdktrace.NewTracerProvider(opts...), nil
}

func meterProvider(ctx context.Context, cfg MetricsConfig, res *resource.Resource) (*sdkmetric.MeterProvider, error) {
	reader, err := exporters.NewMetricReader(ctx, cfg.target())
	if err != nil {
		return nil, fmt.Errorf("observe: metrics: %w", err)
	}
	opts := []sdkmetric.Option{sdkmetric.WithResource(res)}
	if reader != nil {
		opts = append(opts, sdkmetric.WithReader(reader))
	}
	return sdkmetric.NewMeterProvider(opts...), nil
}

func (o *observer) Tracer() trace.Tracer { return o.tracer }
func (o *observer) Meter() metric.Meter  { return o.meter }
func (o *observer) Logger() Logger       { return o.logger }

// Shutdown stops the providers in reverse build order and joins their
// errors.
func (o *observer) Shutdown(ctx context.Context) error {
	var errs []error
	for i := len(o.shutdown) - 1; i >= 0; i-- {
		if err := o.shutdown[i](ctx); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func noopObserver() *observer {
	return &observer{
		tracer: tracenoop.NewTracerProvider().Tracer("llmops"),
		meter:  metricnoop.NewMeterProvider().Meter("llmops"),
		logger: noopLogger{},
	}
}

// NewNoop returns an Observer that discards everything.
func NewNoop() Observer { return noopObserver() }

// NewNoopLogger returns a Logger that drops every entry.
func NewNoopLogger() Logger { return noopLogger{} }

type noopLogger struct{}

func (noopLogger) Debug(context.Context, string, ...Field) {}
func (noopLogger) Info(context.Context, string, ...Field)  {}
func (noopLogger) Warn(context.Context, string, ...Field)  {}
func (noopLogger) Error(context.Context, string, ...Field) {}
func (l noopLogger) WithMeta(Meta) Logger                  { return l }
