package resilience

import (
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// CallerLimiterConfig configures per-caller admission.
type CallerLimiterConfig struct {
	// RequestsPerMinute is the sustained rate granted to each caller.
	// Default: 60
	RequestsPerMinute float64

	// Burst is the bucket size per caller.
	// Default: RequestsPerMinute
	Burst int

	// IdleTTL drops limiters for callers not seen for this long.
	// Default: 10 minutes
	IdleTTL time.Duration
}

// CallerLimiter admits requests per caller identity. Each caller gets its
// own limiter so one noisy caller cannot starve the rest.
type CallerLimiter struct {
	config CallerLimiterConfig

	mu       sync.Mutex
	limiters map[string]*callerEntry
	lastGC   time.Time
}

type callerEntry struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// NewCallerLimiter creates a per-caller limiter.
func NewCallerLimiter(config CallerLimiterConfig) *CallerLimiter {
	if config.RequestsPerMinute <= 0 {
		config.RequestsPerMinute = 60
	}
	if config.Burst <= 0 {
		config.Burst = int(config.RequestsPerMinute)
		if config.Burst < 1 {
			config.Burst = 1
		}
	}
	if config.IdleTTL <= 0 {
		config.IdleTTL = 10 * time.Minute
	}

	return &CallerLimiter{
		config:   config,
		limiters: make(map[string]*callerEntry),
		lastGC:   time.Now(),
	}
}

// Allow reports whether caller may issue one more request now.
func (c *CallerLimiter) Allow(caller string) bool {
	return c.limiter(caller).Allow()
}

// Callers returns the number of tracked callers.
func (c *CallerLimiter) Callers() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.limiters)
}

func (c *CallerLimiter) limiter(caller string) *rate.Limiter {
	now := time.Now()

	c.mu.Lock()
	defer c.mu.Unlock()

	if now.Sub(c.lastGC) > c.config.IdleTTL {
		for k, e := range c.limiters {
			if now.Sub(e.lastSeen) > c.config.IdleTTL {
				delete(c.limiters, k)
			}
		}
		c.lastGC = now
	}

	e, ok := c.limiters[caller]
	if !ok {
		perSecond := rate.Limit(c.config.RequestsPerMinute / 60)
		e = &callerEntry{limiter: rate.NewLimiter(perSecond, c.config.Burst)}
		c.limiters[caller] = e
	}
	e.lastSeen = now
	return e.limiter
}
