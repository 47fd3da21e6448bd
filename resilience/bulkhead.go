package resilience

import (
	"context"
	"sync"
	"time"

	"golang.org/x/sync/semaphore"
)

// BulkheadConfig configures a Bulkhead.
type BulkheadConfig struct {
	// MaxConcurrent is the number of slots. Default: 10
	MaxConcurrent int

	// MaxWait is how long Acquire queues for a slot. Zero fails at once.
	MaxWait time.Duration
}

// BulkheadMetrics is a snapshot of slot usage.
type BulkheadMetrics struct {
	MaxConcurrent int   `json:"max_concurrent"`
	Active        int   `json:"active"`
	Available     int   `json:"available"`
	Waiting       int   `json:"waiting"`
	MaxActive     int   `json:"max_active"`
	Admitted      int64 `json:"admitted"`
	Rejected      int64 `json:"rejected"`
}

// Bulkhead caps in-flight dispatches so a slow fleet cannot pile up
// unbounded goroutines behind it.
type Bulkhead struct {
	config BulkheadConfig
	sem    *semaphore.Weighted

	mu sync.Mutex
	m  BulkheadMetrics
}

// NewBulkhead applies defaults to config.
func NewBulkhead(config BulkheadConfig) *Bulkhead {
	if config.MaxConcurrent <= 0 {
		config.MaxConcurrent = 10
	}
	return &Bulkhead{
		config: config,
		sem:    semaphore.NewWeighted(int64(config.MaxConcurrent)),
		m:      BulkheadMetrics{MaxConcurrent: config.MaxConcurrent},
	}
}

// Acquire takes a slot, queueing up to MaxWait. It returns ErrBulkheadFull
// when none frees up in time, or ctx's error when ctx ends first.
func (b *Bulkhead) Acquire(ctx context.Context) error {
	if b.sem.TryAcquire(1) {
		b.admitted()
		return nil
	}
	if b.config.MaxWait <= 0 {
		b.rejected()
		return ErrBulkheadFull
	}

	b.mu.Lock()
	b.m.Waiting++
	b.mu.Unlock()
	defer func() {
		b.mu.Lock()
		b.m.Waiting--
		b.mu.Unlock()
	}()

	waitCtx, cancel := context.WithTimeout(ctx, b.config.MaxWait)
	defer cancel()
	if err := b.sem.Acquire(waitCtx, 1); err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		b.rejected()
		return ErrBulkheadFull
	}
	b.admitted()
	return nil
}

// Release returns a slot taken by Acquire.
func (b *Bulkhead) Release() {
	b.mu.Lock()
	b.m.Active--
	b.mu.Unlock()
	b.sem.Release(1)
}

// Execute runs op while holding a slot.
func (b *Bulkhead) Execute(ctx context.Context, op func(context.Context) error) error {
	if err := b.Acquire(ctx); err != nil {
		return err
	}
	defer b.Release()
	return op(ctx)
}

// Metrics returns a snapshot.
func (b *Bulkhead) Metrics() BulkheadMetrics {
	b.mu.Lock()
	defer b.mu.Unlock()
	m := b.m
	m.Available = m.MaxConcurrent - m.Active
	return m
}

func (b *Bulkhead) admitted() {
	b.mu.Lock()
	b.m.Active++
	b.m.Admitted++
	b.m.MaxActive = max(b.m.MaxActive, b.m.Active)
	b.mu.Unlock()
}

func (b *Bulkhead) rejected() {
	b.mu.Lock()
	b.m.Rejected++
	b.mu.Unlock()
}
