package backend

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/jonwraymond/llmops/resilience"
)

type stubBackend struct {
	name string
	caps Capabilities
}

func (s *stubBackend) Name() string               { return s.name }
func (s *stubBackend) Capabilities() Capabilities { return s.caps }

func (s *stubBackend) Generate(ctx context.Context, req Request) (*Response, error) {
	return &Response{Content: "ok", Backend: s.name}, nil
}

func (s *stubBackend) GenerateStream(ctx context.Context, req Request) (Stream, error) {
	return NewSliceStream(Chunk{Content: "ok"}), nil
}

func newRegistry(t *testing.T, names ...string) *Registry {
	t.Helper()
	r := NewRegistry()
	for i, n := range names {
		if err := r.Register(&stubBackend{name: n}, i); err != nil {
			t.Fatalf("Register(%s) error = %v", n, err)
		}
	}
	return r
}

func candidateNames(es []*Entry) []string {
	out := make([]string, len(es))
	for i, e := range es {
		out[i] = e.Name()
	}
	return out
}

func equal(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

func approx(a, b float64) bool {
	d := a - b
	return d < 1e-9 && d > -1e-9
}

func TestRegistry_RegisterPriority(t *testing.T) {
	r := newRegistry(t, "a", "b", "c")

	if err := r.Register(&stubBackend{name: "first"}, 0); err != nil {
		t.Fatal(err)
	}
	if err := r.Register(&stubBackend{name: "last"}, 99); err != nil {
		t.Fatal(err)
	}
	if err := r.Register(&stubBackend{name: "neg"}, -4); err != nil {
		t.Fatal(err)
	}

	want := []string{"neg", "first", "a", "b", "c", "last"}
	if got := r.Names(); !equal(got, want) {
		t.Errorf("Names() = %v, want %v", got, want)
	}
}

func TestRegistry_RegisterErrors(t *testing.T) {
	r := newRegistry(t, "a")

	if err := r.Register(&stubBackend{name: "a"}, 0); !errors.Is(err, ErrDuplicateBackend) {
		t.Errorf("duplicate Register error = %v, want ErrDuplicateBackend", err)
	}
	if err := r.Register(nil, 0); !errors.Is(err, ErrInvalidBackend) {
		t.Errorf("nil Register error = %v, want ErrInvalidBackend", err)
	}
	if err := r.Register(&stubBackend{}, 0); !errors.Is(err, ErrInvalidBackend) {
		t.Errorf("unnamed Register error = %v, want ErrInvalidBackend", err)
	}
}

func TestRegistry_Deregister(t *testing.T) {
	r := newRegistry(t, "a", "b")

	if err := r.Deregister("a"); err != nil {
		t.Fatalf("Deregister error = %v", err)
	}
	if got := r.Names(); !equal(got, []string{"b"}) {
		t.Errorf("Names() = %v, want [b]", got)
	}
	if err := r.Deregister("a"); !errors.Is(err, ErrBackendNotFound) {
		t.Errorf("second Deregister error = %v, want ErrBackendNotFound", err)
	}
	if _, err := r.Get("a"); !errors.Is(err, ErrBackendNotFound) {
		t.Errorf("Get after Deregister error = %v", err)
	}
}

func TestRegistry_Candidates(t *testing.T) {
	tests := []struct {
		name      string
		setup     func(r *Registry)
		preferred string
		exclude   []string
		want      []string
	}{
		{
			name: "priority order",
			want: []string{"a", "b", "c"},
		},
		{
			name:  "unhealthy skipped",
			setup: func(r *Registry) { _ = r.MarkUnhealthy("a") },
			want:  []string{"b", "c"},
		},
		{
			name:      "preferred first",
			preferred: "c",
			want:      []string{"c", "a", "b"},
		},
		{
			name:      "unhealthy preferred ignored",
			setup:     func(r *Registry) { _ = r.MarkUnhealthy("c") },
			preferred: "c",
			want:      []string{"a", "b"},
		},
		{
			name:      "unknown preferred ignored",
			preferred: "zzz",
			want:      []string{"a", "b", "c"},
		},
		{
			name:  "degraded moved last",
			setup: func(r *Registry) { _, _ = r.SetDegraded("a", true) },
			want:  []string{"b", "c", "a"},
		},
		{
			name:    "excluded",
			exclude: []string{"b"},
			want:    []string{"a", "c"},
		},
		{
			name: "all unhealthy",
			setup: func(r *Registry) {
				for _, n := range []string{"a", "b", "c"} {
					_ = r.MarkUnhealthy(n)
				}
			},
			want: []string{},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := newRegistry(t, "a", "b", "c")
			if tt.setup != nil {
				tt.setup(r)
			}
			got := candidateNames(r.Candidates(tt.preferred, tt.exclude...))
			if !equal(got, tt.want) {
				t.Errorf("Candidates() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestEntry_Hysteresis(t *testing.T) {
	r := newRegistry(t, "a")
	e, _ := r.Get("a")
	boom := errors.New("boom")

	// Ten straight failures: error rate 1.0 but total not above 10.
	for i := 0; i < 10; i++ {
		if e.RecordFailure(boom) {
			t.Fatalf("marked unhealthy after %d failures", i+1)
		}
	}
	if !e.Healthy() {
		t.Fatal("unhealthy before sample threshold")
	}

	if !e.RecordFailure(boom) {
		t.Fatal("11th failure did not mark unhealthy")
	}
	if e.Healthy() {
		t.Error("Healthy() = true after hysteresis trip")
	}
	if e.RecordFailure(boom) {
		t.Error("RecordFailure reported a transition for an already unhealthy backend")
	}
}

func TestEntry_HysteresisNeedsMajorityFailures(t *testing.T) {
	r := newRegistry(t, "a")
	e, _ := r.Get("a")

	for i := 0; i < 20; i++ {
		if i%2 == 0 {
			e.RecordSuccess(10 * time.Millisecond)
		} else {
			e.RecordFailure(errors.New("flaky"))
		}
	}
	if !e.Healthy() {
		t.Errorf("error rate %.2f should not trip (needs > 0.5)", e.Metrics().ErrorRate)
	}
}

func TestEntry_LatencyEMA(t *testing.T) {
	r := newRegistry(t, "a")
	e, _ := r.Get("a")

	e.RecordSuccess(100 * time.Millisecond)
	m := e.Metrics()
	if m.AvgLatencyMs != 100 || m.BaselineLatencyMs != 100 {
		t.Fatalf("first sample: avg=%v baseline=%v, want 100/100", m.AvgLatencyMs, m.BaselineLatencyMs)
	}

	e.RecordSuccess(200 * time.Millisecond)
	m = e.Metrics()
	if !approx(m.AvgLatencyMs, 110) {
		t.Errorf("AvgLatencyMs = %v, want 110", m.AvgLatencyMs)
	}
	if !approx(m.BaselineLatencyMs, 101) {
		t.Errorf("BaselineLatencyMs = %v, want 101", m.BaselineLatencyMs)
	}
	if m.Total != 2 || m.Succeeded != 2 || m.ErrorRate != 0 {
		t.Errorf("counters = %+v", m)
	}
}

func TestEntry_FailureMetrics(t *testing.T) {
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	r := NewRegistry(WithClock(func() time.Time { return now }))
	_ = r.Register(&stubBackend{name: "a"}, 0)
	e, _ := r.Get("a")

	e.RecordSuccess(time.Millisecond)
	e.RecordFailure(errors.New("rate limited by upstream"))
	e.RecordFailure(errors.New("timeout"))

	m := e.Metrics()
	if m.Total != 3 || m.Failed != 2 || m.ConsecutiveFailures != 2 {
		t.Errorf("counters = %+v", m)
	}
	if m.LastError != "timeout" {
		t.Errorf("LastError = %q", m.LastError)
	}
	if want := 2.0 / 3.0; !approx(m.ErrorRate, want) {
		t.Errorf("ErrorRate = %v, want %v", m.ErrorRate, want)
	}
	if !m.LastUsed.Equal(now) {
		t.Errorf("LastUsed = %v, want %v", m.LastUsed, now)
	}

	e.ResetMetrics()
	if e.Metrics().Total != 0 {
		t.Error("ResetMetrics did not clear counters")
	}
}

func TestRegistry_LimitsAndSnapshot(t *testing.T) {
	r := NewRegistry(WithDefaultLimits(resilience.TokenBucketConfig{RequestsPerMinute: 30}))
	_ = r.Register(&stubBackend{name: "a", caps: Capabilities{MaxTokens: 4096}}, 0)
	_ = r.Register(&stubBackend{name: "b"}, 1,
		WithLimits(resilience.TokenBucketConfig{RequestsPerMinute: 10, UnitsPerMinute: 1000}),
		WithCapabilities(Capabilities{Streaming: true}),
	)
	_ = r.MarkUnhealthy("b")

	snap := r.Snapshot()
	if len(snap) != 2 {
		t.Fatalf("Snapshot len = %d", len(snap))
	}
	if snap[0].Tokens.RequestsCapacity != 30 || snap[0].Capabilities.MaxTokens != 4096 {
		t.Errorf("a status = %+v", snap[0])
	}
	if snap[1].Tokens.UnitsCapacity != 1000 || !snap[1].Capabilities.Streaming || snap[1].Healthy {
		t.Errorf("b status = %+v", snap[1])
	}
	if snap[1].Priority != 1 {
		t.Errorf("b priority = %d", snap[1].Priority)
	}
}

func TestRegistry_ConcurrentMetrics(t *testing.T) {
	r := newRegistry(t, "a", "b")
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(2)
		go func() {
			defer wg.Done()
			for _, e := range r.Candidates("") {
				e.RecordSuccess(time.Millisecond)
			}
		}()
		go func() {
			defer wg.Done()
			_ = r.Snapshot()
		}()
	}
	wg.Wait()

	e, _ := r.Get("a")
	if got := e.Metrics().Total; got != 50 {
		t.Errorf("Total = %d, want 50", got)
	}
}
