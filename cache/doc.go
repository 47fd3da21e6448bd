// Package cache provides response caching and fallback templates for LLM
// dispatch.
//
// It provides a byte-oriented Store with a bounded in-memory
// implementation, SHA-256 request keys, per-model TTL policies, a ResponseCache that
// the gateway consults before dispatching, and Templates that serve canned
// responses when every backend is unavailable.
package cache
