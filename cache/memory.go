package cache

import (
	"context"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
)

// MemoryCache is a bounded in-process Store: per-entry TTL, least recently
// used eviction past Policy.MaxEntries.
type MemoryCache struct {
	now func() time.Time

	mu    sync.Mutex
	lru   *lru.Cache[string, memEntry]
	stats Stats
}

type memEntry struct {
	value   []byte
	expires time.Time
}

// Stats counts MemoryCache traffic since construction.
type Stats struct {
	Hits    int64 `json:"hits"`
	Misses  int64 `json:"misses"`
	Expired int64 `json:"expired"`
	Evicted int64 `json:"evicted"`
}

// NewMemoryCache sizes the cache from policy.MaxEntries, falling back to the
// DefaultPolicy size.
func NewMemoryCache(policy Policy) *MemoryCache {
	size := policy.MaxEntries
	if size <= 0 {
		size = DefaultPolicy().MaxEntries
	}
	// lru.New only rejects non-positive sizes.
	l, _ := lru.New[string, memEntry](size)
	return &MemoryCache{lru: l, now: time.Now}
}

// Get returns the live value for key. An expired entry is dropped and
// reported as a miss.
func (c *MemoryCache) Get(_ context.Context, key string) ([]byte, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.lru.Get(key)
	switch {
	case !ok:
		c.stats.Misses++
		return nil, false
	case !c.now().Before(e.expires):
		c.lru.Remove(key)
		c.stats.Expired++
		c.stats.Misses++
		return nil, false
	}
	c.stats.Hits++
	return e.value, true
}

// Set stores value for ttl. A non-positive ttl stores nothing.
func (c *MemoryCache) Set(_ context.Context, key string, value []byte, ttl time.Duration) error {
	if err := checkKey(key); err != nil {
		return err
	}
	if ttl <= 0 {
		return nil
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.lru.Add(key, memEntry{value: value, expires: c.now().Add(ttl)}) {
		c.stats.Evicted++
	}
	return nil
}

// Delete removes key; deleting a missing key is not an error.
func (c *MemoryCache) Delete(_ context.Context, key string) error {
	c.mu.Lock()
	c.lru.Remove(key)
	c.mu.Unlock()
	return nil
}

// Len counts stored entries, including expired ones not yet dropped.
func (c *MemoryCache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lru.Len()
}

// Stats returns a snapshot of the counters.
func (c *MemoryCache) Stats() Stats {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.stats
}

var _ Store = (*MemoryCache)(nil)
