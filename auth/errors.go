package auth

import "errors"

var (
	// ErrMissingAPIKey indicates an API-key credential without a key.
	ErrMissingAPIKey = errors.New("auth: api key is required")

	// ErrMissingSecret indicates a JWT credential without a signing secret.
	ErrMissingSecret = errors.New("auth: jwt secret is required")

	// ErrUnknownMode indicates an unsupported credential mode.
	ErrUnknownMode = errors.New("auth: unknown credential mode")
)
