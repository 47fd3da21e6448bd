package resilience

import (
	"context"
	"errors"
	"math/rand/v2"
	"time"
)

// RetryConfig configures Retry. Zero fields take the defaults noted.
type RetryConfig struct {
	// MaxAttempts counts the first call. Default: 3
	MaxAttempts int

	// BaseDelay is the wait before the first retry, before jitter.
	// Default: 1s
	BaseDelay time.Duration

	// MaxDelay caps the exponential part. Default: 30s
	MaxDelay time.Duration

	// MaxJitter bounds the uniform jitter added to each wait. Default: 1s;
	// negative disables jitter.
	MaxJitter time.Duration

	// RetryIf selects the errors worth another attempt. Default: all.
	RetryIf func(err error) bool

	// OnRetry runs before each wait with the 1-based attempt that failed.
	OnRetry func(attempt int, err error, delay time.Duration)
}

// RetryAfterer is implemented by errors carrying a server's requested
// wait, such as an HTTP 429 with Retry-After.
type RetryAfterer interface {
	RetryAfter() time.Duration
}

// Retry re-runs an operation with capped exponential backoff and jitter.
// The caller's deadline bounds the whole sequence: Retry never starts a
// wait that would end past it.
type Retry struct {
	config RetryConfig
}

// NewRetry applies defaults to config.
func NewRetry(config RetryConfig) *Retry {
	if config.MaxAttempts <= 0 {
		config.MaxAttempts = 3
	}
	if config.BaseDelay <= 0 {
		config.BaseDelay = time.Second
	}
	if config.MaxDelay <= 0 {
		config.MaxDelay = 30 * time.Second
	}
	if config.MaxJitter == 0 {
		config.MaxJitter = time.Second
	}
	if config.RetryIf == nil {
		config.RetryIf = func(error) bool { return true }
	}
	return &Retry{config: config}
}

// Execute calls op until it succeeds, returns an error RetryIf rejects, or
// attempts run out. The last error is returned unchanged. A RetryAfterer
// error stretches the following wait to at least its hint.
func (r *Retry) Execute(ctx context.Context, op func(context.Context) error) error {
	var err error
	for attempt := 1; ; attempt++ {
		if err = op(ctx); err == nil {
			return nil
		}
		if attempt >= r.config.MaxAttempts || !r.config.RetryIf(err) {
			return err
		}

		delay := r.Delay(attempt - 1)
		var hint RetryAfterer
		if errors.As(err, &hint) {
			delay = max(delay, hint.RetryAfter())
		}
		if deadline, ok := ctx.Deadline(); ok && time.Until(deadline) < delay {
			return err
		}

		if r.config.OnRetry != nil {
			r.config.OnRetry(attempt, err, delay)
		}
		if !sleep(ctx, delay) {
			return err
		}
	}
}

// Delay returns the wait before retry k (0-based): BaseDelay·2^k capped at
// MaxDelay, plus jitter in [0, MaxJitter).
func (r *Retry) Delay(k int) time.Duration {
	d := r.config.MaxDelay
	if k < 62 {
		if exp := r.config.BaseDelay << k; exp>>k == r.config.BaseDelay && exp < d {
			d = exp
		}
	}
	if j := r.config.MaxJitter; j > 0 {
		// #nosec G404 -- timing jitter, not a secret.
		d += rand.N(j)
	}
	return d
}

// Config returns the effective configuration.
func (r *Retry) Config() RetryConfig {
	return r.config
}

// sleep waits for d or ctx, reporting whether the full wait elapsed.
func sleep(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
