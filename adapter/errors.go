package adapter

import (
	"errors"
	"fmt"
	"time"
)

var (
	// ErrMissingName indicates an adapter configured without a name.
	ErrMissingName = errors.New("adapter: name is required")

	// ErrMissingBaseURL indicates an HTTP adapter without a base URL.
	ErrMissingBaseURL = errors.New("adapter: base url is required")

	// ErrMissingModel indicates an OpenAI adapter without a default model.
	ErrMissingModel = errors.New("adapter: model is required")

	// ErrEmptyCompletion indicates a response with no choices.
	ErrEmptyCompletion = errors.New("adapter: empty completion")

	// ErrMalformedResponse indicates a payload that could not be decoded.
	ErrMalformedResponse = errors.New("adapter: malformed response")
)

// StatusError reports a non-2xx response from an HTTP endpoint.
type StatusError struct {
	Code int
	Body string

	// Retry is the server's Retry-After hint, zero when absent.
	Retry time.Duration
}

func (e *StatusError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("adapter: status %d", e.Code)
	}
	return fmt.Sprintf("adapter: status %d: %s", e.Code, e.Body)
}

// Retryable reports whether the status is worth retrying on another attempt.
func (e *StatusError) Retryable() bool {
	return e.Code == 429 || e.Code >= 500
}

// RetryAfter returns the server's requested wait before the next attempt.
func (e *StatusError) RetryAfter() time.Duration {
	return e.Retry
}
