package auth

import (
	"context"
	"net/http"
)

// APIKeyConfig configures a static API key.
type APIKeyConfig struct {
	Key string

	// Header carries the key. "Authorization" (the default) sends
	// "Bearer <key>"; any other header sends the raw key.
	Header string
}

// APIKey sets a static key header on every request.
type APIKey struct {
	header string
	value  string
}

// NewAPIKey creates an API-key credential.
func NewAPIKey(cfg APIKeyConfig) (*APIKey, error) {
	if cfg.Key == "" {
		return nil, ErrMissingAPIKey
	}
	header := http.CanonicalHeaderKey(cfg.Header)
	if header == "" {
		header = "Authorization"
	}
	value := cfg.Key
	if header == "Authorization" {
		value = "Bearer " + cfg.Key
	}
	return &APIKey{header: header, value: value}, nil
}

// Apply implements Credential.
func (a *APIKey) Apply(_ context.Context, req *http.Request) error {
	req.Header.Set(a.header, a.value)
	return nil
}
