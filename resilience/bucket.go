package resilience

import (
	"context"
	"fmt"
	"math"
	"sync"
	"time"
)

// TokenBucketConfig configures a dual-dimension token bucket.
//
// Both dimensions are expressed per minute and refill continuously at
// capacity/60 tokens per second.
type TokenBucketConfig struct {
	// RequestsPerMinute is the request-count capacity.
	// Default: 60
	RequestsPerMinute float64

	// UnitsPerMinute is the throughput capacity (for example LLM tokens).
	// Zero or negative disables the throughput dimension.
	UnitsPerMinute float64

	// MaxWait bounds how long Acquire may suspend even without a deadline.
	// Default: 0 (bounded by the context deadline only)
	MaxWait time.Duration
}

// BucketSnapshot is a point-in-time view of a TokenBucket.
type BucketSnapshot struct {
	Requests         float64
	Units            float64
	RequestsCapacity float64
	UnitsCapacity    float64
}

// TokenBucket is a rate limiter with independent request and throughput
// buckets. A cost is admitted only if both dimensions can pay it at once.
type TokenBucket struct {
	config TokenBucketConfig
	now    func() time.Time

	mu         sync.Mutex
	requests   float64
	units      float64
	lastRefill time.Time
}

// NewTokenBucket creates a full token bucket.
func NewTokenBucket(config TokenBucketConfig) *TokenBucket {
	if config.RequestsPerMinute <= 0 {
		config.RequestsPerMinute = 60
	}
	if config.UnitsPerMinute < 0 {
		config.UnitsPerMinute = 0
	}

	b := &TokenBucket{
		config: config,
		now:    time.Now,
	}
	b.requests = config.RequestsPerMinute
	b.units = config.UnitsPerMinute
	b.lastRefill = b.now()
	return b
}

// Config returns the bucket configuration with defaults applied.
func (b *TokenBucket) Config() TokenBucketConfig {
	return b.config
}

// Acquire deducts the given costs, waiting for refill when necessary.
//
// It returns ErrRequestTooLarge when a cost exceeds capacity,
// ErrRateLimitExceeded when the wait would pass the context deadline (or
// MaxWait), and ctx.Err() when the context ends while waiting. No partial
// deduction ever happens.
func (b *TokenBucket) Acquire(ctx context.Context, requests, units float64) error {
	if err := b.checkCost(requests, units); err != nil {
		return err
	}

	var waited time.Duration
	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		wait, ok := b.reserve(requests, units)
		if ok {
			return nil
		}

		if deadline, has := ctx.Deadline(); has && b.now().Add(wait).After(deadline) {
			return fmt.Errorf("%w: need %v, deadline in %v", ErrRateLimitExceeded, wait, time.Until(deadline))
		}
		if b.config.MaxWait > 0 && waited+wait > b.config.MaxWait {
			return fmt.Errorf("%w: need %v, max wait %v", ErrRateLimitExceeded, wait, b.config.MaxWait)
		}

		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
		waited += wait
	}
}

// TryAcquire deducts the costs only if both dimensions can pay them now.
func (b *TokenBucket) TryAcquire(requests, units float64) bool {
	if b.checkCost(requests, units) != nil {
		return false
	}
	_, ok := b.reserve(requests, units)
	return ok
}

// Tokens returns the currently available tokens after refill.
func (b *TokenBucket) Tokens() BucketSnapshot {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.refillLocked()
	return BucketSnapshot{
		Requests:         b.requests,
		Units:            b.units,
		RequestsCapacity: b.config.RequestsPerMinute,
		UnitsCapacity:    b.config.UnitsPerMinute,
	}
}

// Reset refills both dimensions to capacity.
func (b *TokenBucket) Reset() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.requests = b.config.RequestsPerMinute
	b.units = b.config.UnitsPerMinute
	b.lastRefill = b.now()
}

func (b *TokenBucket) checkCost(requests, units float64) error {
	if requests < 0 || units < 0 {
		return fmt.Errorf("%w: negative cost", ErrRequestTooLarge)
	}
	if requests > b.config.RequestsPerMinute {
		return fmt.Errorf("%w: %.0f requests > capacity %.0f", ErrRequestTooLarge, requests, b.config.RequestsPerMinute)
	}
	if b.unitsEnabled() && units > b.config.UnitsPerMinute {
		return fmt.Errorf("%w: %.0f units > capacity %.0f", ErrRequestTooLarge, units, b.config.UnitsPerMinute)
	}
	return nil
}

// reserve refills, then deducts if possible. Otherwise it reports how long
// until both dimensions could pay.
func (b *TokenBucket) reserve(requests, units float64) (time.Duration, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.refillLocked()

	enoughUnits := !b.unitsEnabled() || b.units >= units
	if b.requests >= requests && enoughUnits {
		b.requests -= requests
		if b.unitsEnabled() {
			b.units -= units
		}
		return 0, true
	}

	wait := secondsUntil(requests-b.requests, b.config.RequestsPerMinute)
	if b.unitsEnabled() {
		wait = math.Max(wait, secondsUntil(units-b.units, b.config.UnitsPerMinute))
	}
	d := time.Duration(wait * float64(time.Second))
	if d < time.Millisecond {
		d = time.Millisecond
	}
	return d, false
}

func (b *TokenBucket) refillLocked() {
	now := b.now()
	elapsed := now.Sub(b.lastRefill).Seconds()
	if elapsed <= 0 {
		return
	}
	b.lastRefill = now

	b.requests = math.Min(b.config.RequestsPerMinute, b.requests+elapsed*b.config.RequestsPerMinute/60)
	if b.unitsEnabled() {
		b.units = math.Min(b.config.UnitsPerMinute, b.units+elapsed*b.config.UnitsPerMinute/60)
	}
}

func (b *TokenBucket) unitsEnabled() bool {
	return b.config.UnitsPerMinute > 0
}

func secondsUntil(deficit, perMinute float64) float64 {
	if deficit <= 0 {
		return 0
	}
	return deficit * 60 / perMinute
}
