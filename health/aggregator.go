package health

import (
	"context"
	"slices"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"
)

// DefaultCheckTimeout bounds a check when the aggregator is built with none.
const DefaultCheckTimeout = 10 * time.Second

type entry struct {
	checker  Checker
	optional bool
}

// RegisterOption tunes how a check contributes to the overall status.
type RegisterOption func(*entry)

// Optional caps the check's contribution at Degraded. A single backend
// being down is optional: the gateway keeps serving through the others.
func Optional() RegisterOption {
	return func(e *entry) { e.optional = true }
}

// Report is the outcome of running every registered check.
type Report struct {
	Status    Status            `json:"status"`
	Checks    map[string]Result `json:"checks"`
	CheckedAt time.Time         `json:"checked_at"`
}

// Failing returns the names of checks that did not report healthy, sorted.
func (r Report) Failing() []string {
	var out []string
	for name, res := range r.Checks {
		if res.Status != StatusHealthy {
			out = append(out, name)
		}
	}
	slices.Sort(out)
	return out
}

// Aggregator runs a set of named checks concurrently and folds their
// statuses into a Report.
type Aggregator struct {
	timeout time.Duration

	mu      sync.RWMutex
	entries map[string]entry
	order   []string
}

// NewAggregator returns an empty aggregator. Each check is cut off after
// timeout; zero means DefaultCheckTimeout.
func NewAggregator(timeout time.Duration) *Aggregator {
	if timeout <= 0 {
		timeout = DefaultCheckTimeout
	}
	return &Aggregator{timeout: timeout, entries: make(map[string]entry)}
}

// Register adds c under name, replacing any check already registered there.
func (a *Aggregator) Register(name string, c Checker, opts ...RegisterOption) {
	e := entry{checker: c}
	for _, opt := range opts {
		opt(&e)
	}

	a.mu.Lock()
	defer a.mu.Unlock()
	if _, ok := a.entries[name]; !ok {
		a.order = append(a.order, name)
	}
	a.entries[name] = e
}

// Unregister removes the check under name.
func (a *Aggregator) Unregister(name string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	delete(a.entries, name)
	a.order = slices.DeleteFunc(a.order, func(n string) bool { return n == name })
}

// Names lists registered checks in registration order.
func (a *Aggregator) Names() []string {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return slices.Clone(a.order)
}

// Check runs the single check registered under name.
func (a *Aggregator) Check(ctx context.Context, name string) (Result, error) {
	a.mu.RLock()
	e, ok := a.entries[name]
	a.mu.RUnlock()
	if !ok {
		return Result{}, ErrCheckerNotFound
	}
	return a.run(ctx, e.checker), nil
}

// Run executes every check and reports the worst status. Optional checks
// that fail degrade the report instead of failing it.
func (a *Aggregator) Run(ctx context.Context) Report {
	a.mu.RLock()
	names := slices.Clone(a.order)
	entries := make([]entry, len(names))
	for i, n := range names {
		entries[i] = a.entries[n]
	}
	a.mu.RUnlock()

	results := make([]Result, len(entries))
	var g errgroup.Group
	for i, e := range entries {
		g.Go(func() error {
			results[i] = a.run(ctx, e.checker)
			return nil
		})
	}
	_ = g.Wait()

	rep := Report{
		Status:    StatusHealthy,
		Checks:    make(map[string]Result, len(names)),
		CheckedAt: time.Now(),
	}
	for i, name := range names {
		res := results[i]
		rep.Checks[name] = res
		s := res.Status
		if entries[i].optional {
			s = min(s, StatusDegraded)
		}
		rep.Status = rep.Status.Worse(s)
	}
	return rep
}

// run executes c under the per-check timeout. A check that ignores its
// context is abandoned and reported as timed out.
func (a *Aggregator) run(ctx context.Context, c Checker) Result {
	ctx, cancel := context.WithTimeout(ctx, a.timeout)
	defer cancel()

	start := time.Now()
	done := make(chan Result, 1)
	go func() { done <- c.Check(ctx) }()

	var res Result
	select {
	case res = <-done:
	case <-ctx.Done():
		res = Unhealthy("check timed out", ErrCheckTimeout)
	}
	res.Duration = time.Since(start)
	if res.CheckedAt.IsZero() {
		res.CheckedAt = start
	}
	return res
}
