package gateway

import (
	"context"
	"errors"
	"io"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/jonwraymond/llmops/backend"
	"github.com/jonwraymond/llmops/cache"
	"github.com/jonwraymond/llmops/resilience"
)

var errUpstream = errors.New("upstream 503")

type fakeBackend struct {
	name  string
	caps  backend.Capabilities
	delay time.Duration

	mu       sync.Mutex
	fail     bool
	calls    int
	inflight atomic.Int32
	peak     atomic.Int32
	chunks   []backend.Chunk
	streamFn func() (backend.Stream, error)
}

func (f *fakeBackend) Name() string                       { return f.name }
func (f *fakeBackend) Capabilities() backend.Capabilities { return f.caps }

func (f *fakeBackend) setFail(v bool) {
	f.mu.Lock()
	f.fail = v
	f.mu.Unlock()
}

func (f *fakeBackend) Calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

func (f *fakeBackend) Generate(ctx context.Context, req backend.Request) (*backend.Response, error) {
	n := f.inflight.Add(1)
	defer f.inflight.Add(-1)
	for {
		p := f.peak.Load()
		if n <= p || f.peak.CompareAndSwap(p, n) {
			break
		}
	}

	f.mu.Lock()
	f.calls++
	fail := f.fail
	f.mu.Unlock()

	if f.delay > 0 {
		select {
		case <-time.After(f.delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if fail {
		return nil, errUpstream
	}
	return &backend.Response{Content: "from " + f.name}, nil
}

func (f *fakeBackend) GenerateStream(ctx context.Context, req backend.Request) (backend.Stream, error) {
	f.mu.Lock()
	f.calls++
	fail := f.fail
	f.mu.Unlock()
	if fail {
		return nil, errUpstream
	}
	if f.streamFn != nil {
		return f.streamFn()
	}
	return backend.NewSliceStream(f.chunks...), nil
}

var generous = resilience.TokenBucketConfig{RequestsPerMinute: 6000, UnitsPerMinute: 1_000_000}

func newRegistry(t *testing.T, backends ...*fakeBackend) *backend.Registry {
	t.Helper()
	reg := backend.NewRegistry(backend.WithDefaultLimits(generous))
	for i, b := range backends {
		if b.caps == (backend.Capabilities{}) {
			b.caps = backend.Capabilities{MaxTokens: 4096, Streaming: true}
		}
		if err := reg.Register(b, i); err != nil {
			t.Fatalf("Register(%s) error = %v", b.name, err)
		}
	}
	return reg
}

func newGateway(t *testing.T, reg *backend.Registry, opts ...Option) *Gateway {
	t.Helper()
	g, err := New(reg, opts...)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	return g
}

func TestNew_NilRegistry(t *testing.T) {
	if _, err := New(nil); !errors.Is(err, ErrNilRegistry) {
		t.Errorf("New(nil) error = %v, want ErrNilRegistry", err)
	}
}

func TestDispatch_FirstHealthyBackendWins(t *testing.T) {
	a := &fakeBackend{name: "a"}
	b := &fakeBackend{name: "b"}
	g := newGateway(t, newRegistry(t, a, b))

	req := backend.NewRequest("hello")
	resp, err := g.Dispatch(context.Background(), req)
	if err != nil {
		t.Fatalf("Dispatch() error = %v", err)
	}
	if resp.Backend != "a" || resp.Content != "from a" {
		t.Errorf("resp = %+v, want served by a", resp)
	}
	if resp.RequestID != req.ID {
		t.Errorf("RequestID = %q, want %q", resp.RequestID, req.ID)
	}
	if b.Calls() != 0 {
		t.Errorf("b called %d times, want 0", b.Calls())
	}
}

func TestDispatch_FailsOverInOrder(t *testing.T) {
	a := &fakeBackend{name: "a", fail: true}
	b := &fakeBackend{name: "b", fail: true}
	c := &fakeBackend{name: "c"}
	reg := newRegistry(t, a, b, c)
	g := newGateway(t, reg)

	resp, err := g.Dispatch(context.Background(), backend.NewRequest("hello"))
	if err != nil {
		t.Fatalf("Dispatch() error = %v", err)
	}
	if resp.Backend != "c" {
		t.Errorf("Backend = %q, want c", resp.Backend)
	}
	for _, f := range []*fakeBackend{a, b, c} {
		if f.Calls() != 1 {
			t.Errorf("%s called %d times, want 1", f.name, f.Calls())
		}
	}

	ea, _ := reg.Get("a")
	if m := ea.Metrics(); m.Failed != 1 || m.LastError == "" {
		t.Errorf("a metrics = %+v, want one recorded failure", m)
	}
}

func TestDispatch_PreferredFirst(t *testing.T) {
	a := &fakeBackend{name: "a"}
	b := &fakeBackend{name: "b"}
	g := newGateway(t, newRegistry(t, a, b))

	req := backend.NewRequest("hello")
	req.Preferred = "b"
	resp, err := g.Dispatch(context.Background(), req)
	if err != nil {
		t.Fatal(err)
	}
	if resp.Backend != "b" {
		t.Errorf("Backend = %q, want b", resp.Backend)
	}
}

func TestDispatch_ExhaustedError(t *testing.T) {
	a := &fakeBackend{name: "a", fail: true}
	b := &fakeBackend{name: "b", fail: true}
	g := newGateway(t, newRegistry(t, a, b))

	_, err := g.Dispatch(context.Background(), backend.NewRequest("hello"))
	if !errors.Is(err, ErrAllBackendsExhausted) {
		t.Fatalf("Dispatch() error = %v, want ErrAllBackendsExhausted", err)
	}
	if !errors.Is(err, errUpstream) {
		t.Error("exhausted error does not wrap the last backend error")
	}

	var ex *ExhaustedError
	if !errors.As(err, &ex) {
		t.Fatalf("error %T is not *ExhaustedError", err)
	}
	if ex.Attempts != 2 || len(ex.Tried) != 2 || ex.Tried[0] != "a" || ex.Tried[1] != "b" {
		t.Errorf("ExhaustedError = %+v, want attempts a then b", ex)
	}
	if FailedBackend(err) != "b" {
		t.Errorf("FailedBackend() = %q, want b", FailedBackend(err))
	}
}

func TestDispatch_NoCandidates(t *testing.T) {
	a := &fakeBackend{name: "a"}
	reg := newRegistry(t, a)
	_ = reg.MarkUnhealthy("a")
	g := newGateway(t, reg)

	_, err := g.Dispatch(context.Background(), backend.NewRequest("hello"))
	if !errors.Is(err, ErrAllBackendsExhausted) || !errors.Is(err, ErrNoCandidates) {
		t.Errorf("Dispatch() error = %v, want exhausted with no candidates", err)
	}
	if a.Calls() != 0 {
		t.Errorf("unhealthy backend called %d times", a.Calls())
	}
}

func TestDispatch_InvalidRequest(t *testing.T) {
	g := newGateway(t, newRegistry(t, &fakeBackend{name: "a"}))

	if _, err := g.Dispatch(context.Background(), backend.Request{}); !errors.Is(err, backend.ErrEmptyPrompt) {
		t.Errorf("Dispatch() error = %v, want ErrEmptyPrompt", err)
	}
}

// A backend that fails every call is marked unhealthy after its eleventh
// failure and is never called again.
func TestDispatch_UnhealthyAfterSustainedFailures(t *testing.T) {
	a := &fakeBackend{name: "a", fail: true}
	b := &fakeBackend{name: "b"}
	c := &fakeBackend{name: "c"}
	reg := backend.NewRegistry(backend.WithDefaultLimits(generous))
	limits := backend.WithLimits(resilience.TokenBucketConfig{RequestsPerMinute: 60})
	for i, f := range []*fakeBackend{a, b, c} {
		f.caps = backend.Capabilities{MaxTokens: 4096}
		var opts []backend.RegisterOption
		if f == a {
			opts = append(opts, limits)
		}
		if err := reg.Register(f, i, opts...); err != nil {
			t.Fatal(err)
		}
	}
	g := newGateway(t, reg, WithBreakerConfig(resilience.CircuitBreakerConfig{FailureThreshold: 100}))

	for i := 0; i < 61; i++ {
		req := backend.NewRequest("hello")
		req.Preferred = "a"
		resp, err := g.Dispatch(context.Background(), req)
		if err != nil {
			t.Fatalf("request %d: Dispatch() error = %v", i+1, err)
		}
		if resp.Backend != "b" {
			t.Fatalf("request %d served by %q, want b", i+1, resp.Backend)
		}
	}

	if a.Calls() != 11 {
		t.Errorf("a called %d times, want 11", a.Calls())
	}
	ea, _ := reg.Get("a")
	if ea.Healthy() {
		t.Error("a still healthy after 11 straight failures")
	}
	if m := ea.Metrics(); m.Total != 11 || m.ErrorRate != 1 {
		t.Errorf("a metrics = %+v", m)
	}
}

func TestDispatch_OpenBreakerSkipsWithoutCountingFailure(t *testing.T) {
	a := &fakeBackend{name: "a", fail: true}
	b := &fakeBackend{name: "b"}
	reg := newRegistry(t, a, b)
	g := newGateway(t, reg, WithBreakerConfig(resilience.CircuitBreakerConfig{
		FailureThreshold: 2,
		RecoveryTimeout:  time.Hour,
	}))

	for i := 0; i < 5; i++ {
		if _, err := g.Dispatch(context.Background(), backend.NewRequest("hello")); err != nil {
			t.Fatalf("Dispatch() error = %v", err)
		}
	}

	if a.Calls() != 2 {
		t.Errorf("a called %d times, want 2 before the breaker opened", a.Calls())
	}
	if g.Breakers().Get("a").State() != resilience.StateOpen {
		t.Error("breaker for a not open")
	}
	ea, _ := reg.Get("a")
	if m := ea.Metrics(); m.Total != 2 {
		t.Errorf("a Total = %d, want 2 (skips are not failures)", m.Total)
	}
}

func TestDispatch_RateLimitedBackendIsSkipped(t *testing.T) {
	a := &fakeBackend{name: "a", caps: backend.Capabilities{MaxTokens: 4096}}
	b := &fakeBackend{name: "b", caps: backend.Capabilities{MaxTokens: 4096}}
	reg := backend.NewRegistry(backend.WithDefaultLimits(generous))
	_ = reg.Register(a, 0, backend.WithLimits(resilience.TokenBucketConfig{RequestsPerMinute: 1}))
	_ = reg.Register(b, 1)
	g := newGateway(t, reg)

	ctx, cancel := context.WithTimeout(context.Background(), 500*time.Millisecond)
	defer cancel()

	first, err := g.Dispatch(ctx, backend.NewRequest("one"))
	if err != nil || first.Backend != "a" {
		t.Fatalf("first Dispatch() = %+v, %v; want a", first, err)
	}
	second, err := g.Dispatch(ctx, backend.NewRequest("two"))
	if err != nil {
		t.Fatalf("second Dispatch() error = %v", err)
	}
	if second.Backend != "b" {
		t.Errorf("second served by %q, want b while a refills", second.Backend)
	}
	if g.Breakers().Get("a").State() != resilience.StateClosed {
		t.Error("rate-limit skip moved the breaker")
	}
}

func TestDispatch_CapabilityMismatchSkips(t *testing.T) {
	small := &fakeBackend{name: "small", caps: backend.Capabilities{MaxTokens: 100}}
	big := &fakeBackend{name: "big", caps: backend.Capabilities{MaxTokens: 8000}}
	g := newGateway(t, newRegistry(t, small, big))

	req := backend.NewRequest("hello")
	req.MaxTokens = 2000
	resp, err := g.Dispatch(context.Background(), req)
	if err != nil {
		t.Fatal(err)
	}
	if resp.Backend != "big" || small.Calls() != 0 {
		t.Errorf("served by %q with small called %d times", resp.Backend, small.Calls())
	}

	req.MaxTokens = 9000
	_, err = g.Dispatch(context.Background(), req)
	if !errors.Is(err, ErrCapabilityMismatch) {
		t.Errorf("Dispatch() error = %v, want ErrCapabilityMismatch", err)
	}
}

func TestDispatch_DegradedTriedLast(t *testing.T) {
	a := &fakeBackend{name: "a"}
	b := &fakeBackend{name: "b"}
	reg := newRegistry(t, a, b)
	_, _ = reg.SetDegraded("a", true)
	g := newGateway(t, reg)

	resp, err := g.Dispatch(context.Background(), backend.NewRequest("hello"))
	if err != nil {
		t.Fatal(err)
	}
	if resp.Backend != "b" {
		t.Errorf("served by %q, want b ahead of degraded a", resp.Backend)
	}

	b.setFail(true)
	resp, err = g.Dispatch(context.Background(), backend.NewRequest("hello"))
	if err != nil {
		t.Fatal(err)
	}
	if resp.Backend != "a" {
		t.Errorf("served by %q, want degraded a as last resort", resp.Backend)
	}
}

func TestDispatch_Deadline(t *testing.T) {
	a := &fakeBackend{name: "a", delay: time.Second}
	b := &fakeBackend{name: "b", delay: time.Second}
	g := newGateway(t, newRegistry(t, a, b))

	req := backend.NewRequest("hello")
	req.Deadline = time.Now().Add(30 * time.Millisecond)

	start := time.Now()
	_, err := g.Dispatch(context.Background(), req)
	if !errors.Is(err, ErrDeadlineExceeded) {
		t.Fatalf("Dispatch() error = %v, want ErrDeadlineExceeded", err)
	}
	if time.Since(start) > 500*time.Millisecond {
		t.Error("Dispatch() ran well past the deadline")
	}
	if b.Calls() != 0 {
		t.Errorf("b called %d times after the deadline passed", b.Calls())
	}
}

func TestDispatch_DeadlineIsNotBackendFailure(t *testing.T) {
	a := &fakeBackend{name: "a", delay: time.Second}
	reg := newRegistry(t, a)
	g := newGateway(t, reg)

	for range 5 {
		req := backend.NewRequest("hello")
		req.Deadline = time.Now().Add(10 * time.Millisecond)
		if _, err := g.Dispatch(context.Background(), req); !errors.Is(err, ErrDeadlineExceeded) {
			t.Fatalf("Dispatch() error = %v, want ErrDeadlineExceeded", err)
		}
	}

	ea, _ := reg.Get("a")
	if m := ea.Metrics(); m.Failed != 0 || !ea.Healthy() {
		t.Errorf("caller deadlines counted against the backend: %+v", m)
	}
	if cb := g.Breakers().Get("a"); cb.State() != resilience.StateClosed || cb.Metrics().Failures != 0 {
		t.Errorf("breaker = %s with %d failures, want closed and clean", cb.State(), cb.Metrics().Failures)
	}
}

func TestDispatch_RateLimitWaitIsBounded(t *testing.T) {
	a := &fakeBackend{name: "a", caps: backend.Capabilities{MaxTokens: 4096}}
	b := &fakeBackend{name: "b", caps: backend.Capabilities{MaxTokens: 4096}}
	reg := backend.NewRegistry(backend.WithDefaultLimits(generous))
	_ = reg.Register(a, 0, backend.WithLimits(resilience.TokenBucketConfig{RequestsPerMinute: 1}))
	_ = reg.Register(b, 1)
	g := newGateway(t, reg)

	if _, err := g.Dispatch(context.Background(), backend.NewRequest("one")); err != nil {
		t.Fatalf("first Dispatch() error = %v", err)
	}

	start := time.Now()
	resp, err := g.Dispatch(context.Background(), backend.NewRequest("two"))
	if err != nil {
		t.Fatalf("second Dispatch() error = %v", err)
	}
	if resp.Backend != "b" {
		t.Errorf("second served by %q, want b", resp.Backend)
	}
	if elapsed := time.Since(start); elapsed > time.Second {
		t.Errorf("second Dispatch() took %v waiting on a's bucket", elapsed)
	}
}

func TestDispatch_DefaultTimeoutBoundsSlowBackend(t *testing.T) {
	a := &fakeBackend{name: "a", delay: 5 * time.Second}
	g := newGateway(t, newRegistry(t, a), WithDefaultTimeout(50*time.Millisecond))

	start := time.Now()
	_, err := g.Dispatch(context.Background(), backend.NewRequest("hello"))
	if !errors.Is(err, ErrDeadlineExceeded) {
		t.Fatalf("Dispatch() error = %v, want ErrDeadlineExceeded", err)
	}
	if time.Since(start) > time.Second {
		t.Error("default timeout was not applied")
	}

	// An explicit caller deadline takes precedence over the default.
	ctx, cancel := context.WithTimeout(context.Background(), 300*time.Millisecond)
	defer cancel()
	a.delay = 100 * time.Millisecond
	if _, err := g.Dispatch(ctx, backend.NewRequest("hello")); err != nil {
		t.Errorf("Dispatch() with caller deadline error = %v", err)
	}
}

func TestGateway_DeregisterResetsBreaker(t *testing.T) {
	a := &fakeBackend{name: "a", fail: true}
	reg := newRegistry(t, a)
	g := newGateway(t, reg, WithBreakerConfig(resilience.CircuitBreakerConfig{
		FailureThreshold: 1,
		RecoveryTimeout:  time.Hour,
	}))

	if _, err := g.Dispatch(context.Background(), backend.NewRequest("hello")); !errors.Is(err, ErrAllBackendsExhausted) {
		t.Fatalf("Dispatch() error = %v, want exhaustion", err)
	}
	if g.Breakers().Get("a").State() != resilience.StateOpen {
		t.Fatal("breaker did not open")
	}

	if err := g.Deregister("a"); err != nil {
		t.Fatalf("Deregister() error = %v", err)
	}
	if err := g.Deregister("a"); !errors.Is(err, backend.ErrBackendNotFound) {
		t.Errorf("second Deregister() error = %v, want ErrBackendNotFound", err)
	}

	a.setFail(false)
	if err := reg.Register(a, 0); err != nil {
		t.Fatalf("Register() error = %v", err)
	}
	if st := g.Breakers().Get("a").State(); st != resilience.StateClosed {
		t.Errorf("re-registered breaker = %s, want closed", st)
	}
	if resp, err := g.Dispatch(context.Background(), backend.NewRequest("hello")); err != nil || resp.Backend != "a" {
		t.Errorf("Dispatch() after re-register = %+v, %v", resp, err)
	}
}

func TestDispatch_CallerCanceled(t *testing.T) {
	a := &fakeBackend{name: "a", delay: time.Second}
	reg := newRegistry(t, a)
	g := newGateway(t, reg)

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(10 * time.Millisecond)
		cancel()
	}()

	_, err := g.Dispatch(ctx, backend.NewRequest("hello"))
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("Dispatch() error = %v, want context.Canceled", err)
	}
	ea, _ := reg.Get("a")
	if m := ea.Metrics(); m.Failed != 0 {
		t.Errorf("caller cancellation counted as backend failure: %+v", m)
	}
}

func TestDispatch_NoConcurrentAttemptsPerRequest(t *testing.T) {
	a := &fakeBackend{name: "a", fail: true, delay: 5 * time.Millisecond}
	b := &fakeBackend{name: "b", fail: true, delay: 5 * time.Millisecond}
	c := &fakeBackend{name: "c", delay: 5 * time.Millisecond}
	g := newGateway(t, newRegistry(t, a, b, c))

	var total atomic.Int32
	inflight := func() int32 { return a.inflight.Load() + b.inflight.Load() + c.inflight.Load() }

	done := make(chan struct{})
	go func() {
		defer close(done)
		_, _ = g.Dispatch(context.Background(), backend.NewRequest("hello"))
	}()
	for {
		select {
		case <-done:
			if total.Load() > 1 {
				t.Errorf("observed %d concurrent attempts for one request", total.Load())
			}
			return
		default:
			if n := inflight(); n > total.Load() {
				total.Store(n)
			}
		}
	}
}

func TestDispatch_CallerLimiter(t *testing.T) {
	g := newGateway(t, newRegistry(t, &fakeBackend{name: "a"}),
		WithCallerLimiter(resilience.CallerLimiterConfig{RequestsPerMinute: 60, Burst: 1}))

	req := backend.NewRequest("hello")
	req.Caller = "alice"
	if _, err := g.Dispatch(context.Background(), req); err != nil {
		t.Fatalf("first Dispatch() error = %v", err)
	}
	_, err := g.Dispatch(context.Background(), req)
	if !errors.Is(err, ErrCallerRateLimited) || !errors.Is(err, resilience.ErrRateLimitExceeded) {
		t.Errorf("second Dispatch() error = %v, want ErrCallerRateLimited", err)
	}
	if errors.Is(err, ErrAllBackendsExhausted) {
		t.Errorf("caller refusal reported as exhaustion: %v", err)
	}

	req.Caller = "bob"
	if _, err := g.Dispatch(context.Background(), req); err != nil {
		t.Errorf("bob rejected: %v", err)
	}
}

func TestDispatch_ResponseCache(t *testing.T) {
	a := &fakeBackend{name: "a"}
	rc, err := cache.NewResponseCache(cache.NewMemoryCache(cache.DefaultPolicy()), nil, cache.DefaultPolicy(), nil)
	if err != nil {
		t.Fatal(err)
	}
	g := newGateway(t, newRegistry(t, a), WithResponseCache(rc))

	for i := 0; i < 3; i++ {
		resp, err := g.Dispatch(context.Background(), backend.NewRequest("same prompt"))
		if err != nil {
			t.Fatal(err)
		}
		if resp.Content != "from a" {
			t.Errorf("Content = %q", resp.Content)
		}
	}
	if a.Calls() != 1 {
		t.Errorf("a called %d times, want 1 with a warm cache", a.Calls())
	}

	a.setFail(true)
	if _, err := g.Dispatch(context.Background(), backend.NewRequest("other prompt")); err == nil {
		t.Fatal("Dispatch() succeeded against a failing backend")
	}
	a.setFail(false)
	if _, err := g.Dispatch(context.Background(), backend.NewRequest("other prompt")); err != nil {
		t.Fatalf("Dispatch() after recovery error = %v", err)
	}
	if a.Calls() != 3 {
		t.Errorf("a called %d times, want 3: failures are not cached", a.Calls())
	}
}

func TestExecute_RetriesExhaustedPasses(t *testing.T) {
	a := &fakeBackend{name: "a", fail: true}
	g := newGateway(t, newRegistry(t, a),
		WithBreakerConfig(resilience.CircuitBreakerConfig{FailureThreshold: 100}),
		WithRetry(resilience.RetryConfig{
			MaxAttempts: 3,
			BaseDelay:   time.Millisecond,
			MaxJitter:   -1,
			OnRetry: func(attempt int, err error, delay time.Duration) {
				if attempt == 2 {
					a.setFail(false)
				}
			},
		}))

	resp, err := g.Execute(context.Background(), backend.NewRequest("hello"))
	if err != nil {
		t.Fatalf("Execute() error = %v", err)
	}
	if resp.Backend != "a" || a.Calls() != 3 {
		t.Errorf("resp from %q after %d calls, want a after 3", resp.Backend, a.Calls())
	}
}

func TestExecute_DoesNotRetryOtherErrors(t *testing.T) {
	g := newGateway(t, newRegistry(t, &fakeBackend{name: "a"}),
		WithBulkhead(resilience.BulkheadConfig{MaxConcurrent: 1}),
		WithRetry(resilience.RetryConfig{MaxAttempts: 5, BaseDelay: time.Millisecond, MaxJitter: -1}))

	_ = g.bulkhead.Acquire(context.Background())
	defer g.bulkhead.Release()

	_, err := g.Execute(context.Background(), backend.NewRequest("hello"))
	if !errors.Is(err, resilience.ErrBulkheadFull) {
		t.Errorf("Execute() error = %v, want ErrBulkheadFull", err)
	}
}

func TestExecute_GivesUpAtDeadline(t *testing.T) {
	a := &fakeBackend{name: "a", fail: true}
	g := newGateway(t, newRegistry(t, a),
		WithBreakerConfig(resilience.CircuitBreakerConfig{FailureThreshold: 100}),
		WithRetry(resilience.RetryConfig{MaxAttempts: 10, BaseDelay: time.Second, MaxJitter: -1}))

	req := backend.NewRequest("hello")
	req.Deadline = time.Now().Add(100 * time.Millisecond)

	start := time.Now()
	_, err := g.Execute(context.Background(), req)
	if !errors.Is(err, ErrAllBackendsExhausted) {
		t.Errorf("Execute() error = %v, want last exhausted error", err)
	}
	if a.Calls() != 1 || time.Since(start) > 50*time.Millisecond {
		t.Errorf("a called %d times in %v, want one pass without sleeping", a.Calls(), time.Since(start))
	}
}

func TestStream_CollectsAndRecordsSuccess(t *testing.T) {
	a := &fakeBackend{name: "a", fail: true}
	b := &fakeBackend{name: "b", chunks: []backend.Chunk{{Content: "hel"}, {Content: "lo", FinishReason: "stop"}}}
	reg := newRegistry(t, a, b)
	g := newGateway(t, reg, WithBulkhead(resilience.BulkheadConfig{MaxConcurrent: 1}))

	s, err := g.Stream(context.Background(), backend.NewRequest("hello"))
	if err != nil {
		t.Fatalf("Stream() error = %v", err)
	}
	if g.bulkhead.Metrics().Active != 1 {
		t.Error("open stream does not hold its bulkhead slot")
	}

	resp, err := backend.Collect(s)
	if err != nil {
		t.Fatalf("Collect() error = %v", err)
	}
	if resp.Content != "hello" || resp.FinishReason != "stop" {
		t.Errorf("resp = %+v", resp)
	}
	_ = s.Close()

	eb, _ := reg.Get("b")
	if eb.Metrics().Succeeded != 1 {
		t.Errorf("b metrics = %+v, want one success", eb.Metrics())
	}
	if g.bulkhead.Metrics().Active != 0 {
		t.Error("bulkhead slot not released after stream end")
	}
}

type brokenStream struct{ sent bool }

func (s *brokenStream) Recv() (backend.Chunk, error) {
	if !s.sent {
		s.sent = true
		return backend.Chunk{Content: "par"}, nil
	}
	return backend.Chunk{}, errUpstream
}

func (s *brokenStream) Close() error { return nil }

func TestStream_MidStreamFailureIsRecorded(t *testing.T) {
	a := &fakeBackend{name: "a", streamFn: func() (backend.Stream, error) { return &brokenStream{}, nil }}
	reg := newRegistry(t, a)
	g := newGateway(t, reg)

	s, err := g.Stream(context.Background(), backend.NewRequest("hello"))
	if err != nil {
		t.Fatal(err)
	}
	defer s.Close()

	if _, err := s.Recv(); err != nil {
		t.Fatalf("first Recv() error = %v", err)
	}
	if _, err := s.Recv(); !errors.Is(err, errUpstream) {
		t.Fatalf("second Recv() error = %v, want upstream error", err)
	}
	if _, err := s.Recv(); err == io.EOF {
		t.Error("stream resumed after failure")
	}

	ea, _ := reg.Get("a")
	if m := ea.Metrics(); m.Failed != 1 {
		t.Errorf("a metrics = %+v, want one failure", m)
	}
}

func TestStream_SkipsNonStreamingBackends(t *testing.T) {
	a := &fakeBackend{name: "a", caps: backend.Capabilities{MaxTokens: 4096}}
	b := &fakeBackend{name: "b", chunks: []backend.Chunk{{Content: "x"}}}
	g := newGateway(t, newRegistry(t, a, b))

	s, err := g.Stream(context.Background(), backend.NewRequest("hello"))
	if err != nil {
		t.Fatal(err)
	}
	defer s.Close()

	if a.Calls() != 0 || b.Calls() != 1 {
		t.Errorf("calls a=%d b=%d, want stream opened on b only", a.Calls(), b.Calls())
	}
}
