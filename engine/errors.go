package engine

import "errors"

var (
	// ErrNilConfig indicates New was called without a configuration.
	ErrNilConfig = errors.New("engine: config is required")

	// ErrClosed indicates use of an engine after Close.
	ErrClosed = errors.New("engine: closed")

	// ErrAlreadyStarted indicates a second Start call.
	ErrAlreadyStarted = errors.New("engine: already started")
)
