// Package gateway executes requests against the best available backend.
//
// For every request the Gateway computes a candidate order from the
// registry (preferred backend first, then healthy backends by priority,
// degraded ones last) and walks it strictly one backend at a time:
//
//  1. the backend's circuit breaker must admit the call,
//  2. the backend's token bucket must grant one request plus the request's
//     estimated token cost,
//  3. the adapter is invoked with no gateway lock held.
//
// Breaker or rate-limit refusals skip the candidate without counting as a
// backend failure. A failed call updates the backend's metrics, reports to
// its breaker, may mark it unhealthy, and moves on to the next candidate.
// Only the aggregate outcome reaches the caller: a Response naming the
// backend that served it, an *ExhaustedError (matching
// ErrAllBackendsExhausted) carrying the last cause, or ErrDeadlineExceeded.
//
// Dispatch makes a single pass. Execute wraps Dispatch in an outer
// exponential backoff that is applied to whole passes only and shares the
// request deadline.
package gateway
