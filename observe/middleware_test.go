package observe

import (
	"bytes"
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
	"go.opentelemetry.io/otel/trace"
)

type harness struct {
	spans  *tracetest.SpanRecorder
	reader *sdkmetric.ManualReader
	logs   *bytes.Buffer
	mw     *Middleware
}

func newHarness(t *testing.T) *harness {
	t.Helper()

	spans := tracetest.NewSpanRecorder()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(spans))

	reader := sdkmetric.NewManualReader()
	mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	metrics, err := NewMetrics(mp.Meter("test"))
	if err != nil {
		t.Fatalf("NewMetrics failed: %v", err)
	}

	var logs bytes.Buffer
	return &harness{
		spans:  spans,
		reader: reader,
		logs:   &logs,
		mw:     NewMiddleware(NewTracer(tp.Tracer("test")), metrics, NewLoggerWithWriter("debug", &logs)),
	}
}

func (h *harness) collect(t *testing.T) metricdata.ResourceMetrics {
	t.Helper()
	var rm metricdata.ResourceMetrics
	if err := h.reader.Collect(context.Background(), &rm); err != nil {
		t.Fatalf("failed to collect metrics: %v", err)
	}
	return rm
}

// findMetric finds a metric by name in the collected data.
func findMetric(rm metricdata.ResourceMetrics, name string) *metricdata.Metrics {
	for _, sm := range rm.ScopeMetrics {
		for i := range sm.Metrics {
			if sm.Metrics[i].Name == name {
				return &sm.Metrics[i]
			}
		}
	}
	return nil
}

func counterTotal(m *metricdata.Metrics) int64 {
	sum, ok := m.Data.(metricdata.Sum[int64])
	if !ok {
		return -1
	}
	var total int64
	for _, dp := range sum.DataPoints {
		total += dp.Value
	}
	return total
}

// TestMiddleware_SuccessPath verifies successful execution records telemetry.
func TestMiddleware_SuccessPath(t *testing.T) {
	h := newHarness(t)
	meta := Meta{Component: "gateway", Operation: "dispatch", Backend: "primary"}

	var served string
	err := h.mw.Run(context.Background(), meta, func(ctx context.Context, meta Meta) error {
		served = "primary"
		return nil
	})
	if err != nil {
		t.Fatalf("expected no error, got: %v", err)
	}
	if served != "primary" {
		t.Error("wrapped function did not run")
	}

	spans := h.spans.Ended()
	if len(spans) != 1 {
		t.Fatalf("expected 1 span, got %d", len(spans))
	}
	if spans[0].Name() != "llmops.gateway.dispatch" {
		t.Errorf("span name = %q, want llmops.gateway.dispatch", spans[0].Name())
	}

	rm := h.collect(t)
	if m := findMetric(rm, "llmops.op.total"); m == nil || counterTotal(m) != 1 {
		t.Error("llmops.op.total not recorded once")
	}
	if m := findMetric(rm, "llmops.op.errors"); m != nil && counterTotal(m) != 0 {
		t.Error("llmops.op.errors recorded on success")
	}
	if findMetric(rm, "llmops.op.duration_ms") == nil {
		t.Error("llmops.op.duration_ms not recorded")
	}
}

// TestMiddleware_ErrorPath verifies failed execution records error telemetry.
func TestMiddleware_ErrorPath(t *testing.T) {
	h := newHarness(t)
	testErr := errors.New("all backends exhausted")

	err := h.mw.Run(context.Background(), Meta{Component: "gateway", Operation: "dispatch"},
		func(ctx context.Context, meta Meta) error { return testErr })
	if err != testErr {
		t.Errorf("expected error %v, got %v", testErr, err)
	}

	spans := h.spans.Ended()
	if len(spans) != 1 {
		t.Fatalf("expected 1 span, got %d", len(spans))
	}
	var flagged bool
	for _, attr := range spans[0].Attributes() {
		if string(attr.Key) == "llmops.error" {
			flagged = attr.Value.AsBool()
		}
	}
	if !flagged {
		t.Error("expected llmops.error=true on failed execution")
	}

	rm := h.collect(t)
	if m := findMetric(rm, "llmops.op.errors"); m == nil || counterTotal(m) != 1 {
		t.Error("llmops.op.errors not recorded once")
	}
	if !strings.Contains(h.logs.String(), "all backends exhausted") {
		t.Errorf("failure not logged: %s", h.logs.String())
	}
}

// TestMiddleware_Event verifies events are counted and logged.
func TestMiddleware_Event(t *testing.T) {
	h := newHarness(t)

	h.mw.Event(context.Background(), Meta{Component: "gateway", Operation: "dispatch", Backend: "a"},
		"backend_unhealthy", Field{Key: "error_rate", Value: 0.75})

	rm := h.collect(t)
	if m := findMetric(rm, "llmops.events"); m == nil || counterTotal(m) != 1 {
		t.Error("llmops.events not recorded once")
	}
	if !strings.Contains(h.logs.String(), `"msg":"backend_unhealthy"`) {
		t.Errorf("event not logged: %s", h.logs.String())
	}
}

// TestMiddleware_PropagatesSpanContext verifies the wrapped function sees the span.
func TestMiddleware_PropagatesSpanContext(t *testing.T) {
	h := newHarness(t)

	_ = h.mw.Run(context.Background(), Meta{Component: "healing", Operation: "heal"},
		func(ctx context.Context, meta Meta) error {
			time.Sleep(time.Millisecond)
			return nil
		})

	spans := h.spans.Ended()
	if len(spans) != 1 || !spans[0].SpanContext().IsValid() {
		t.Fatal("expected one valid span")
	}
}

func TestNopMiddleware_NoPanic(t *testing.T) {
	mw := NopMiddleware()
	err := mw.Run(context.Background(), Meta{Component: "x", Operation: "y"},
		func(ctx context.Context, meta Meta) error { return nil })
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	mw.Event(context.Background(), Meta{}, "noop")
}

func TestMiddlewareFromObserver(t *testing.T) {
	if _, err := MiddlewareFromObserver(nil); !errors.Is(err, ErrNilObserver) {
		t.Errorf("MiddlewareFromObserver(nil) error = %v, want ErrNilObserver", err)
	}

	mw, err := MiddlewareFromObserver(NewNoop())
	if err != nil || mw == nil {
		t.Fatalf("MiddlewareFromObserver(NewNoop()) = %v, %v", mw, err)
	}
}

func TestTracer_SpanKind(t *testing.T) {
	tests := []struct {
		meta Meta
		want trace.SpanKind
	}{
		{Meta{Component: "gateway", Operation: "dispatch"}, trace.SpanKindInternal},
		{Meta{Component: "gateway", Operation: "attempt", Backend: "a"}, trace.SpanKindClient},
	}
	for _, tt := range tests {
		h := newHarness(t)
		_ = h.mw.Run(context.Background(), tt.meta, func(context.Context, Meta) error { return nil })

		spans := h.spans.Ended()
		if len(spans) != 1 {
			t.Fatalf("spans = %d", len(spans))
		}
		if got := spans[0].SpanKind(); got != tt.want {
			t.Errorf("%s kind = %v, want %v", tt.meta.SpanName(), got, tt.want)
		}
	}
}
