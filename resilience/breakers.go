package resilience

import (
	"sort"
	"sync"
)

// BreakerSet owns one CircuitBreaker per key, created on first use with a
// shared configuration. The set lock only guards the map; each breaker
// serializes its own state.
type BreakerSet struct {
	config CircuitBreakerConfig

	mu       sync.Mutex
	breakers map[string]*CircuitBreaker
}

// NewBreakerSet creates an empty breaker set.
func NewBreakerSet(config CircuitBreakerConfig) *BreakerSet {
	return &BreakerSet{
		config:   config,
		breakers: make(map[string]*CircuitBreaker),
	}
}

// Get returns the breaker for key, creating it if needed.
func (s *BreakerSet) Get(key string) *CircuitBreaker {
	s.mu.Lock()
	defer s.mu.Unlock()

	cb, ok := s.breakers[key]
	if !ok {
		cfg := s.config
		if cfg.OnStateChange != nil {
			notify := s.config.onKeyedChange(key)
			cfg.OnStateChange = notify
		}
		cb = NewCircuitBreaker(cfg)
		s.breakers[key] = cb
	}
	return cb
}

// Remove drops the breaker for key.
func (s *BreakerSet) Remove(key string) {
	s.mu.Lock()
	delete(s.breakers, key)
	s.mu.Unlock()
}

// Keys returns the keys with a breaker, sorted.
func (s *BreakerSet) Keys() []string {
	s.mu.Lock()
	defer s.mu.Unlock()

	keys := make([]string, 0, len(s.breakers))
	for k := range s.breakers {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Snapshot returns metrics for every breaker in the set.
func (s *BreakerSet) Snapshot() map[string]CircuitBreakerMetrics {
	s.mu.Lock()
	breakers := make(map[string]*CircuitBreaker, len(s.breakers))
	for k, cb := range s.breakers {
		breakers[k] = cb
	}
	s.mu.Unlock()

	out := make(map[string]CircuitBreakerMetrics, len(breakers))
	for k, cb := range breakers {
		out[k] = cb.Metrics()
	}
	return out
}

// KeyedStateChange is an optional hook for BreakerSet users that want to
// know which key changed state.
type KeyedStateChange func(key string, from, to State)

// WithKeyedStateChange returns a copy of c whose state changes are reported
// with the breaker key when used through a BreakerSet.
func (c CircuitBreakerConfig) WithKeyedStateChange(fn KeyedStateChange) CircuitBreakerConfig {
	c.keyed = fn
	c.OnStateChange = func(from, to State) {}
	return c
}

func (c CircuitBreakerConfig) onKeyedChange(key string) func(from, to State) {
	if c.keyed == nil {
		return c.OnStateChange
	}
	keyed := c.keyed
	return func(from, to State) { keyed(key, from, to) }
}
