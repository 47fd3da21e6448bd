package gateway

import (
	"errors"
	"fmt"
)

var (
	// ErrAllBackendsExhausted indicates every candidate failed or was
	// unavailable. Returned errors are *ExhaustedError values.
	ErrAllBackendsExhausted = errors.New("gateway: all backends exhausted")

	// ErrNoCandidates indicates no healthy backend could be considered.
	ErrNoCandidates = errors.New("gateway: no candidate backends")

	// ErrDeadlineExceeded indicates the request deadline passed before a
	// backend answered.
	ErrDeadlineExceeded = errors.New("gateway: deadline exceeded")

	// ErrCapabilityMismatch indicates a candidate whose capabilities do not
	// fit the request (completion too large, or streaming unsupported).
	ErrCapabilityMismatch = errors.New("gateway: backend capabilities do not fit request")

	// ErrCallerRateLimited indicates the caller is over its admission
	// budget. It also matches resilience.ErrRateLimitExceeded; unlike a
	// backend bucket refusal it means no backend was considered at all.
	ErrCallerRateLimited = errors.New("gateway: caller rate limited")

	// ErrNilRegistry indicates New was called without a registry.
	ErrNilRegistry = errors.New("gateway: registry is nil")

	errNilResponse = errors.New("gateway: backend returned no response")
)

// BackendError is a failure returned by a backend adapter.
type BackendError struct {
	Backend string
	Err     error
}

func (e *BackendError) Error() string {
	return fmt.Sprintf("gateway: backend %s: %v", e.Backend, e.Err)
}

func (e *BackendError) Unwrap() error { return e.Err }

// ExhaustedError reports a dispatch pass in which no candidate succeeded.
type ExhaustedError struct {
	// Attempts is the number of backend calls made.
	Attempts int

	// Skipped is the number of candidates passed over because their breaker
	// or rate budget refused, or their capabilities did not fit.
	Skipped int

	// Tried lists the backends that were called, in order.
	Tried []string

	// Last is the last backend failure, or the last refusal when no
	// backend was called.
	Last error
}

func (e *ExhaustedError) Error() string {
	if e.Last == nil {
		return fmt.Sprintf("%s after %d attempts", ErrAllBackendsExhausted, e.Attempts)
	}
	return fmt.Sprintf("%s after %d attempts: %v", ErrAllBackendsExhausted, e.Attempts, e.Last)
}

// Is matches ErrAllBackendsExhausted.
func (e *ExhaustedError) Is(target error) bool {
	return target == ErrAllBackendsExhausted
}

// Unwrap returns the last cause.
func (e *ExhaustedError) Unwrap() error { return e.Last }

// FailedBackend returns the backend named by the last BackendError, if any.
func FailedBackend(err error) string {
	var be *BackendError
	if errors.As(err, &be) {
		return be.Backend
	}
	return ""
}
