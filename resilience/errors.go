package resilience

import "errors"

// Refusals. None of these means the protected target failed: the call was
// never made.
var (
	// ErrCircuitOpen: the breaker is open and its recovery timeout has not
	// elapsed.
	ErrCircuitOpen = errors.New("resilience: circuit open")

	// ErrCircuitHalfOpenBusy: the half-open probe is already in flight.
	ErrCircuitHalfOpenBusy = errors.New("resilience: circuit half-open, probe in flight")

	// ErrRateLimitExceeded: tokens would not be available before the
	// deadline or MaxWait. Back off and try later.
	ErrRateLimitExceeded = errors.New("resilience: rate limit exceeded")

	// ErrRequestTooLarge: the cost exceeds bucket capacity, so no amount of
	// waiting helps.
	ErrRequestTooLarge = errors.New("resilience: cost exceeds bucket capacity")

	// ErrBulkheadFull: no slot freed up within MaxWait.
	ErrBulkheadFull = errors.New("resilience: bulkhead full")
)
