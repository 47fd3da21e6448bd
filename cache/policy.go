package cache

import (
	"time"

	"github.com/jonwraymond/llmops/backend"
)

// Policy decides which completions are cached and for how long.
type Policy struct {
	// TTL applies to every model without an entry in ModelTTL. Zero
	// disables caching.
	TTL time.Duration

	// ModelTTL overrides TTL per model name. A negative value never caches
	// that model.
	ModelTTL map[string]time.Duration

	// MaxEntries bounds the memory store. Default: 1024
	MaxEntries int

	// MaxTemperature is the highest sampling temperature cached. Sampled
	// output is not reproducible, so by default only temperature 0 is.
	MaxTemperature float64
}

// DefaultPolicy caches temperature-0 completions for five minutes.
func DefaultPolicy() Policy {
	return Policy{TTL: 5 * time.Minute, MaxEntries: 1024}
}

// TTLFor returns how long a completion from model is kept, zero when it is
// not cached at all.
func (p Policy) TTLFor(model string) time.Duration {
	ttl := p.TTL
	if v, ok := p.ModelTTL[model]; ok {
		ttl = v
	}
	return max(ttl, 0)
}

// Admits reports whether req's completion may be cached.
func (p Policy) Admits(req backend.Request) bool {
	return req.Temperature <= p.MaxTemperature && p.TTLFor(req.Model) > 0
}
