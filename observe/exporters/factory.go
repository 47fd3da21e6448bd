// Package exporters builds the OpenTelemetry span exporters and metric
// readers named in observe.Config.
package exporters

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"

	promclient "github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetricgrpc"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/exporters/prometheus"
	"go.opentelemetry.io/otel/exporters/stdout/stdoutmetric"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
)

// Exporter names.
const (
	None       = "none"
	Stdout     = "stdout"
	OTLP       = "otlp"
	Jaeger     = "jaeger"
	Prometheus = "prometheus"
)

var (
	// TraceExporters lists the names NewSpanExporter accepts. The empty
	// name is None.
	TraceExporters = []string{"", None, Stdout, OTLP, Jaeger}

	// MetricExporters lists the names NewMetricReader accepts.
	MetricExporters = []string{"", None, Stdout, OTLP, Prometheus}
)

var (
	ErrUnknownExporter = errors.New("exporters: unknown exporter")
	ErrNoEndpoint      = errors.New("exporters: no collector endpoint configured")
)

// Target selects an exporter and where it sends.
type Target struct {
	Name string

	// Endpoint is a collector address, host:port or a URL. Empty falls back
	// to the OTEL_EXPORTER_OTLP_* environment.
	Endpoint string

	// Insecure disables TLS to the collector.
	Insecure bool

	// Interval between metric pushes. Zero uses the SDK default.
	Interval time.Duration

	// Writer receives stdout exporter output. Default: os.Stdout.
	Writer io.Writer
}

func (t Target) writer() io.Writer {
	if t.Writer != nil {
		return t.Writer
	}
	return os.Stdout
}

// endpoint resolves the collector address, preferring the explicit
// Endpoint, then the signal's variable, then the shared one.
func (t Target) endpoint(signalEnv string) (string, error) {
	if t.Endpoint != "" {
		return t.Endpoint, nil
	}
	for _, key := range []string{signalEnv, "OTEL_EXPORTER_OTLP_ENDPOINT"} {
		if v := os.Getenv(key); v != "" {
			return v, nil
		}
	}
	return "", fmt.Errorf("%w for %s: set an endpoint or %s", ErrNoEndpoint, t.Name, signalEnv)
}

// NewSpanExporter returns the exporter t names, or nil for None. Jaeger is
// reached over its native OTLP receiver.
func NewSpanExporter(ctx context.Context, t Target) (sdktrace.SpanExporter, error) {
	switch t.Name {
	case "", None:
		return nil, nil
	case Stdout:
		return stdouttrace.New(stdouttrace.WithWriter(t.writer()))
	case OTLP, Jaeger:
		env := "OTEL_EXPORTER_OTLP_TRACES_ENDPOINT"
		if t.Name == Jaeger {
			env = "OTEL_EXPORTER_JAEGER_ENDPOINT"
		}
		ep, err := t.endpoint(env)
		if err != nil {
			return nil, err
		}
		opts := []otlptracegrpc.Option{otlptracegrpc.WithEndpoint(ep)}
		if strings.Contains(ep, "://") {
			opts = []otlptracegrpc.Option{otlptracegrpc.WithEndpointURL(ep)}
		}
		if t.Insecure {
			opts = append(opts, otlptracegrpc.WithInsecure())
		}
		return otlptracegrpc.New(ctx, opts...)
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownExporter, t.Name)
	}
}

// NewMetricReader returns the reader t names, or nil for None. Prometheus
// registers with Registry and is pulled; the rest push periodically.
func NewMetricReader(ctx context.Context, t Target) (sdkmetric.Reader, error) {
	var exp sdkmetric.Exporter
	switch t.Name {
	case "", None:
		return nil, nil
	case Prometheus:
		return prometheus.New(prometheus.WithRegisterer(Registry))
	case Stdout:
		e, err := stdoutmetric.New(stdoutmetric.WithWriter(t.writer()))
		if err != nil {
			return nil, err
		}
		exp = e
	case OTLP:
		ep, err := t.endpoint("OTEL_EXPORTER_OTLP_METRICS_ENDPOINT")
		if err != nil {
			return nil, err
		}
		opts := []otlpmetricgrpc.Option{otlpmetricgrpc.WithEndpoint(ep)}
		if strings.Contains(ep, "://") {
			opts = []otlpmetricgrpc.Option{otlpmetricgrpc.WithEndpointURL(ep)}
		}
		if t.Insecure {
			opts = append(opts, otlpmetricgrpc.WithInsecure())
		}
		e, err := otlpmetricgrpc.New(ctx, opts...)
		if err != nil {
			return nil, err
		}
		exp = e
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownExporter, t.Name)
	}

	var opts []sdkmetric.PeriodicReaderOption
	if t.Interval > 0 {
		opts = append(opts, sdkmetric.WithInterval(t.Interval))
	}
	return sdkmetric.NewPeriodicReader(exp, opts...), nil
}

// Registry is the Prometheus registry the prometheus reader registers
// with. The engine gathers it next to its backend collector on /metrics.
var Registry = promclient.NewRegistry()

// MetricsHandler serves the Prometheus text exposition of Registry.
func MetricsHandler() http.Handler {
	return promhttp.HandlerFor(Registry, promhttp.HandlerOpts{
		ErrorHandling: promhttp.ContinueOnError,
	})
}
