package backend

import "errors"

var (
	// ErrDuplicateBackend indicates a backend with the same name is registered.
	ErrDuplicateBackend = errors.New("backend: duplicate backend")

	// ErrBackendNotFound indicates no backend is registered under the name.
	ErrBackendNotFound = errors.New("backend: backend not found")

	// ErrInvalidBackend indicates a nil backend or one with an empty name.
	ErrInvalidBackend = errors.New("backend: invalid backend")

	// ErrEmptyPrompt indicates a request without a prompt.
	ErrEmptyPrompt = errors.New("backend: prompt is required")

	// ErrInvalidMaxTokens indicates a negative MaxTokens.
	ErrInvalidMaxTokens = errors.New("backend: max tokens must not be negative")

	// ErrStreamingUnsupported is returned by adapters without streaming.
	ErrStreamingUnsupported = errors.New("backend: streaming not supported")
)
