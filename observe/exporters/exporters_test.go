package exporters

import (
	"bytes"
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	promclient "github.com/prometheus/client_golang/prometheus"
)

func TestNewSpanExporter(t *testing.T) {
	tests := []struct {
		name    string
		target  Target
		env     map[string]string
		wantNil bool
		wantErr error
	}{
		{name: "none", target: Target{Name: None}, wantNil: true},
		{name: "empty is none", target: Target{}, wantNil: true},
		{name: "stdout", target: Target{Name: Stdout, Writer: &bytes.Buffer{}}},
		{name: "otlp explicit endpoint", target: Target{Name: OTLP, Endpoint: "localhost:4317", Insecure: true}},
		{name: "otlp endpoint url", target: Target{Name: OTLP, Endpoint: "http://localhost:4317"}},
		{name: "otlp from env", target: Target{Name: OTLP}, env: map[string]string{"OTEL_EXPORTER_OTLP_ENDPOINT": "localhost:4317"}},
		{name: "otlp without endpoint", target: Target{Name: OTLP}, wantErr: ErrNoEndpoint},
		{name: "jaeger from env", target: Target{Name: Jaeger}, env: map[string]string{"OTEL_EXPORTER_JAEGER_ENDPOINT": "localhost:4317"}},
		{name: "jaeger without endpoint", target: Target{Name: Jaeger}, wantErr: ErrNoEndpoint},
		{name: "unknown", target: Target{Name: "zipkin"}, wantErr: ErrUnknownExporter},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			for _, key := range []string{"OTEL_EXPORTER_OTLP_ENDPOINT", "OTEL_EXPORTER_OTLP_TRACES_ENDPOINT", "OTEL_EXPORTER_JAEGER_ENDPOINT"} {
				t.Setenv(key, tt.env[key])
			}

			exp, err := NewSpanExporter(context.Background(), tt.target)
			if tt.wantErr != nil {
				if !errors.Is(err, tt.wantErr) {
					t.Fatalf("error = %v, want %v", err, tt.wantErr)
				}
				return
			}
			if err != nil {
				t.Fatalf("NewSpanExporter() error = %v", err)
			}
			if (exp == nil) != tt.wantNil {
				t.Fatalf("exporter = %v, wantNil %v", exp, tt.wantNil)
			}
			if exp != nil {
				_ = exp.Shutdown(context.Background())
			}
		})
	}
}

func TestNewMetricReader(t *testing.T) {
	tests := []struct {
		name    string
		target  Target
		wantNil bool
		wantErr error
	}{
		{name: "none", target: Target{Name: None}, wantNil: true},
		{name: "stdout", target: Target{Name: Stdout, Writer: &bytes.Buffer{}}},
		{name: "otlp", target: Target{Name: OTLP, Endpoint: "localhost:4317", Insecure: true}},
		{name: "otlp without endpoint", target: Target{Name: OTLP}, wantErr: ErrNoEndpoint},
		{name: "jaeger has no metrics", target: Target{Name: Jaeger}, wantErr: ErrUnknownExporter},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Setenv("OTEL_EXPORTER_OTLP_ENDPOINT", "")
			t.Setenv("OTEL_EXPORTER_OTLP_METRICS_ENDPOINT", "")

			r, err := NewMetricReader(context.Background(), tt.target)
			if tt.wantErr != nil {
				if !errors.Is(err, tt.wantErr) {
					t.Fatalf("error = %v, want %v", err, tt.wantErr)
				}
				return
			}
			if err != nil {
				t.Fatalf("NewMetricReader() error = %v", err)
			}
			if (r == nil) != tt.wantNil {
				t.Fatalf("reader = %v, wantNil %v", r, tt.wantNil)
			}
		})
	}
}

func TestNewMetricReader_Prometheus(t *testing.T) {
	r, err := NewMetricReader(context.Background(), Target{Name: Prometheus})
	if err != nil || r == nil {
		t.Fatalf("NewMetricReader(prometheus) = %v, %v", r, err)
	}
}

func TestMetricsHandler_ServesRegistry(t *testing.T) {
	gauge := promclient.NewGauge(promclient.GaugeOpts{
		Name: "llmops_exporters_test_gauge",
		Help: "test gauge",
	})
	if err := Registry.Register(gauge); err != nil {
		t.Fatal(err)
	}
	defer Registry.Unregister(gauge)
	gauge.Set(3)

	rec := httptest.NewRecorder()
	MetricsHandler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), "llmops_exporters_test_gauge 3") {
		t.Errorf("scrape output missing gauge:\n%s", rec.Body.String())
	}
}
