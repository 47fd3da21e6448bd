package secret

import "errors"

var (
	// ErrMissingEnv indicates ${VAR} references to unset variables.
	ErrMissingEnv = errors.New("secret: missing required environment variables")

	// ErrInvalidRef indicates a secret reference without provider or ref.
	ErrInvalidRef = errors.New("secret: invalid secret reference")

	// ErrProviderNotRegistered indicates a reference to an unknown provider.
	ErrProviderNotRegistered = errors.New("secret: provider not registered")

	// ErrInvalidProvider indicates a nil factory or an empty provider name.
	ErrInvalidProvider = errors.New("secret: invalid provider registration")

	// ErrDuplicateProvider indicates a provider name registered twice.
	ErrDuplicateProvider = errors.New("secret: provider already registered")

	// ErrSecretNotFound indicates the provider has no value for the ref.
	ErrSecretNotFound = errors.New("secret: secret not found")

	// ErrEmptySecret indicates a strict resolver received an empty value.
	ErrEmptySecret = errors.New("secret: provider returned empty value")
)
