package cache

import (
	"context"
	"encoding/json"

	"github.com/jonwraymond/llmops/backend"
)

// MetadataNoCache is the request metadata key that opts a request out of
// caching when set to "true".
const MetadataNoCache = "no_cache"

// SkipRule reports whether a request must bypass the cache.
type SkipRule func(req backend.Request) bool

// DefaultSkipRule skips requests that opted out through metadata.
func DefaultSkipRule(req backend.Request) bool {
	return req.Metadata[MetadataNoCache] == "true"
}

// ResponseCache caches successful completions keyed by request content.
// Errors and degraded responses are never cached.
type ResponseCache struct {
	store    Store
	keyer    Keyer
	policy   Policy
	skipRule SkipRule
}

// NewResponseCache creates a response cache. A nil keyer uses DefaultKeyer
// and a nil skipRule uses DefaultSkipRule.
func NewResponseCache(s Store, keyer Keyer, policy Policy, skipRule SkipRule) (*ResponseCache, error) {
	if s == nil {
		return nil, ErrNilStore
	}
	if keyer == nil {
		keyer = NewDefaultKeyer()
	}
	if skipRule == nil {
		skipRule = DefaultSkipRule
	}
	return &ResponseCache{
		store:    s,
		keyer:    keyer,
		policy:   policy,
		skipRule: skipRule,
	}, nil
}

func (m *ResponseCache) key(req backend.Request) (string, bool) {
	if !m.policy.Admits(req) || m.skipRule(req) {
		return "", false
	}
	key, err := m.keyer.Key(req)
	if err != nil {
		return "", false
	}
	return key, true
}

// Lookup returns a cached response for req. The returned response carries
// req's ID.
func (m *ResponseCache) Lookup(ctx context.Context, req backend.Request) (*backend.Response, bool) {
	key, ok := m.key(req)
	if !ok {
		return nil, false
	}
	data, ok := m.store.Get(ctx, key)
	if !ok {
		return nil, false
	}
	var resp backend.Response
	if err := json.Unmarshal(data, &resp); err != nil {
		_ = m.store.Delete(ctx, key)
		return nil, false
	}
	resp.RequestID = req.ID
	return &resp, true
}

// Store caches resp for req when the policy allows it.
func (m *ResponseCache) Store(ctx context.Context, req backend.Request, resp *backend.Response) {
	if resp == nil || resp.Degraded {
		return
	}
	key, ok := m.key(req)
	if !ok {
		return
	}
	data, err := json.Marshal(resp)
	if err != nil {
		return
	}
	_ = m.store.Set(ctx, key, data, m.policy.TTLFor(req.Model))
}

// Execute returns a cached response for req or calls fn and caches its
// successful result.
func (m *ResponseCache) Execute(
	ctx context.Context,
	req backend.Request,
	fn func(ctx context.Context, req backend.Request) (*backend.Response, error),
) (*backend.Response, error) {
	if resp, ok := m.Lookup(ctx, req); ok {
		return resp, nil
	}
	resp, err := fn(ctx, req)
	if err != nil {
		return resp, err
	}
	m.Store(ctx, req, resp)
	return resp, nil
}
