package auth

import (
	"context"
	"net/http"
	"time"
)

// Credential decorates an outbound request with authentication.
//
// Contract:
// - Concurrency: implementations must be safe for concurrent use.
// - Apply must not log credential material.
type Credential interface {
	Apply(ctx context.Context, req *http.Request) error
}

// None is a Credential that adds nothing.
type None struct{}

// Apply implements Credential.
func (None) Apply(context.Context, *http.Request) error { return nil }

// Credential modes.
const (
	ModeAPIKey = "apikey"
	ModeJWT    = "jwt"
	ModeNone   = "none"
)

// Config selects and configures a credential.
type Config struct {
	Mode string

	APIKey string
	// Header carries the API key. Default: Authorization (as a bearer token).
	Header string

	JWTSecret   string
	JWTIssuer   string
	JWTSubject  string
	JWTAudience string
	JWTTTL      time.Duration
}

// New builds the credential for cfg.Mode. An empty mode with an API key
// means apikey; with nothing set it means none.
func New(cfg Config) (Credential, error) {
	mode := cfg.Mode
	if mode == "" {
		mode = ModeNone
		if cfg.APIKey != "" {
			mode = ModeAPIKey
		}
	}

	cfg.Mode = mode
	return builtin.Create(cfg)
}
