// Package resilience provides the guards that sit between callers and
// unreliable backends.
//
// # Patterns
//
//   - Token Bucket: two independent budgets (requests and throughput units)
//     refilled lazily per minute. Acquire is all-or-nothing and bounded by
//     the caller's deadline.
//
//   - Circuit Breaker: CLOSED/OPEN/HALF_OPEN state machine. Allow hands out a
//     Permit; the caller reports the outcome with Permit.Done or releases it
//     with Permit.Cancel. Only one probe runs while half-open.
//
//   - Breaker Set: one breaker per key (backend name, component).
//
//   - Retry: exponential backoff (base·2^k) plus uniform jitter, never
//     sleeping past the context deadline.
//
//   - Bulkhead: caps concurrent operations.
//
//   - Caller Limiter: per-caller admission for shared gateways.
//
// # Usage
//
//	bucket := resilience.NewTokenBucket(resilience.TokenBucketConfig{
//	    RequestsPerMinute: 60,
//	    UnitsPerMinute:    90000,
//	})
//	if err := bucket.Acquire(ctx, 1, 1200); err != nil {
//	    return err
//	}
//
//	cb := resilience.NewCircuitBreaker(resilience.CircuitBreakerConfig{
//	    FailureThreshold: 3,
//	    RecoveryTimeout:  30 * time.Second,
//	})
//	permit, err := cb.Allow()
//	if err != nil {
//	    return err // ErrCircuitOpen or ErrCircuitHalfOpenBusy
//	}
//	resp, err := callBackend(ctx)
//	permit.Done(err)
package resilience
