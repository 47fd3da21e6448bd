package config

import "errors"

var (
	// ErrNoBackends indicates a configuration without backends.
	ErrNoBackends = errors.New("config: at least one backend is required")

	// ErrInvalidConfig is wrapped by every validation error.
	ErrInvalidConfig = errors.New("config: invalid configuration")
)
