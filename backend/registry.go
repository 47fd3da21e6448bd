package backend

import (
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/jonwraymond/llmops/resilience"
)

// Entry is a registered backend with its health flags, rate budget and
// metrics. All mutable state is guarded by the entry's own lock.
type Entry struct {
	backend Backend
	caps    Capabilities
	bucket  *resilience.TokenBucket
	now     func() time.Time

	mu       sync.Mutex
	healthy  bool
	degraded bool
	metrics  rollingMetrics
}

// Name returns the backend name.
func (e *Entry) Name() string { return e.backend.Name() }

// Backend returns the adapter.
func (e *Entry) Backend() Backend { return e.backend }

// Capabilities returns the effective capabilities.
func (e *Entry) Capabilities() Capabilities { return e.caps }

// Bucket returns the backend's rate budget.
func (e *Entry) Bucket() *resilience.TokenBucket { return e.bucket }

// Healthy reports the health flag.
func (e *Entry) Healthy() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.healthy
}

// Degraded reports whether the backend is deprioritized.
func (e *Entry) Degraded() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.degraded
}

// Metrics returns a copy of the rolling metrics.
func (e *Entry) Metrics() Metrics {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.metrics.snapshot()
}

// RecordSuccess records a successful call.
func (e *Entry) RecordSuccess(latency time.Duration) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.metrics.success(latency, e.now())
}

// RecordFailure records a failed call and applies the health hysteresis.
// It returns true when this failure marked the backend unhealthy.
func (e *Entry) RecordFailure(err error) bool {
	e.mu.Lock()
	defer e.mu.Unlock()

	e.metrics.failure(err, e.now())
	if e.healthy && e.metrics.total > UnhealthyMinRequests && e.metrics.errorRate() > UnhealthyErrorRate {
		e.healthy = false
		return true
	}
	return false
}

// ResetMetrics clears the rolling metrics, typically after recovery.
func (e *Entry) ResetMetrics() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.metrics = rollingMetrics{}
}

func (e *Entry) setHealthy(v bool) {
	e.mu.Lock()
	e.healthy = v
	e.mu.Unlock()
}

func (e *Entry) setDegraded(v bool) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	changed := e.degraded != v
	e.degraded = v
	return changed
}

// Status is a snapshot of one registered backend.
type Status struct {
	Name         string                    `json:"name"`
	Priority     int                       `json:"priority"`
	Healthy      bool                      `json:"healthy"`
	Degraded     bool                      `json:"degraded"`
	Capabilities Capabilities              `json:"capabilities"`
	Metrics      Metrics                   `json:"metrics"`
	Tokens       resilience.BucketSnapshot `json:"tokens"`
}

// RegisterOption configures a backend at registration.
type RegisterOption func(*registerOptions)

type registerOptions struct {
	limits *resilience.TokenBucketConfig
	caps   *Capabilities
}

// WithLimits sets the backend's rate budget. Without it the registry default
// applies.
func WithLimits(cfg resilience.TokenBucketConfig) RegisterOption {
	return func(o *registerOptions) { o.limits = &cfg }
}

// WithCapabilities overrides the capabilities reported by the backend.
func WithCapabilities(caps Capabilities) RegisterOption {
	return func(o *registerOptions) { o.caps = &caps }
}

// RegistryOption configures a Registry.
type RegistryOption func(*Registry)

// WithDefaultLimits sets the rate budget used when Register gets no
// WithLimits option.
func WithDefaultLimits(cfg resilience.TokenBucketConfig) RegistryOption {
	return func(r *Registry) { r.defaultLimits = cfg }
}

// WithClock sets the time source used for metric timestamps.
func WithClock(now func() time.Time) RegistryOption {
	return func(r *Registry) { r.now = now }
}

// Registry is an ordered collection of backends.
//
// Contract:
//   - Concurrency: safe for concurrent use. The registry lock covers the
//     backend list only; per-backend state has its own lock.
//   - Ownership: entries are never removed except by Deregister.
type Registry struct {
	defaultLimits resilience.TokenBucketConfig
	now           func() time.Time

	mu      sync.RWMutex
	entries []*Entry
	byName  map[string]*Entry
}

// NewRegistry creates an empty registry.
func NewRegistry(opts ...RegistryOption) *Registry {
	r := &Registry{
		now:    time.Now,
		byName: make(map[string]*Entry),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Register adds b at list position priority (0 is tried first). Positions
// past the end append; negative positions insert at the front. New backends
// start healthy.
func (r *Registry) Register(b Backend, priority int, opts ...RegisterOption) error {
	if b == nil || b.Name() == "" {
		return ErrInvalidBackend
	}

	var o registerOptions
	for _, opt := range opts {
		opt(&o)
	}

	limits := r.defaultLimits
	if o.limits != nil {
		limits = *o.limits
	}
	caps := b.Capabilities()
	if o.caps != nil {
		caps = *o.caps
	}

	entry := &Entry{
		backend: b,
		caps:    caps,
		bucket:  resilience.NewTokenBucket(limits),
		now:     r.now,
		healthy: true,
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.byName[b.Name()]; ok {
		return fmt.Errorf("%w: %s", ErrDuplicateBackend, b.Name())
	}
	pos := min(max(priority, 0), len(r.entries))
	r.entries = slices.Insert(r.entries, pos, entry)
	r.byName[b.Name()] = entry
	return nil
}

// Deregister removes the named backend.
func (r *Registry) Deregister(name string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.byName[name]; !ok {
		return fmt.Errorf("%w: %s", ErrBackendNotFound, name)
	}
	delete(r.byName, name)
	r.entries = slices.DeleteFunc(r.entries, func(e *Entry) bool { return e.Name() == name })
	return nil
}

// Get returns the entry for name.
func (r *Registry) Get(name string) (*Entry, error) {
	r.mu.RLock()
	e, ok := r.byName[name]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrBackendNotFound, name)
	}
	return e, nil
}

// MarkHealthy sets the named backend healthy.
func (r *Registry) MarkHealthy(name string) error {
	e, err := r.Get(name)
	if err != nil {
		return err
	}
	e.setHealthy(true)
	return nil
}

// MarkUnhealthy sets the named backend unhealthy. Unhealthy backends are
// never offered as candidates.
func (r *Registry) MarkUnhealthy(name string) error {
	e, err := r.Get(name)
	if err != nil {
		return err
	}
	e.setHealthy(false)
	return nil
}

// SetDegraded flags the named backend as degraded. Degraded backends remain
// candidates but are ordered after all non-degraded ones. It reports whether
// the flag changed.
func (r *Registry) SetDegraded(name string, degraded bool) (bool, error) {
	e, err := r.Get(name)
	if err != nil {
		return false, err
	}
	return e.setDegraded(degraded), nil
}

// Names returns backend names in priority order.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, len(r.entries))
	for i, e := range r.entries {
		names[i] = e.Name()
	}
	return names
}

// Entries returns all entries in priority order, healthy or not.
func (r *Registry) Entries() []*Entry {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return slices.Clone(r.entries)
}

// Candidates returns the dispatch order: the preferred backend first when it
// is healthy, then the remaining healthy backends in priority order with
// degraded ones moved to the back. Unhealthy and excluded backends never
// appear.
func (r *Registry) Candidates(preferred string, exclude ...string) []*Entry {
	entries := r.Entries()

	var first *Entry
	normal := make([]*Entry, 0, len(entries))
	var degraded []*Entry

	for _, e := range entries {
		name := e.Name()
		if slices.Contains(exclude, name) {
			continue
		}

		e.mu.Lock()
		healthy, isDegraded := e.healthy, e.degraded
		e.mu.Unlock()

		switch {
		case !healthy:
		case name == preferred && preferred != "":
			first = e
		case isDegraded:
			degraded = append(degraded, e)
		default:
			normal = append(normal, e)
		}
	}

	out := make([]*Entry, 0, len(normal)+len(degraded)+1)
	if first != nil {
		out = append(out, first)
	}
	out = append(out, normal...)
	return append(out, degraded...)
}

// Snapshot returns the status of every backend in priority order.
func (r *Registry) Snapshot() []Status {
	entries := r.Entries()

	out := make([]Status, len(entries))
	for i, e := range entries {
		e.mu.Lock()
		out[i] = Status{
			Name:         e.Name(),
			Priority:     i,
			Healthy:      e.healthy,
			Degraded:     e.degraded,
			Capabilities: e.caps,
			Metrics:      e.metrics.snapshot(),
		}
		e.mu.Unlock()
		out[i].Tokens = e.bucket.Tokens()
	}
	return out
}
