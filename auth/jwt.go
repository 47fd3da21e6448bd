package auth

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// JWTConfig configures HS256 bearer token minting.
type JWTConfig struct {
	Secret   []byte
	Issuer   string
	Subject  string
	Audience string

	// TTL is the token lifetime.
	// Default: 5m
	TTL time.Duration

	// Refresh is how long before expiry a cached token is replaced.
	// Default: TTL/5
	Refresh time.Duration
}

// JWT mints and caches short-lived HS256 tokens.
type JWT struct {
	config JWTConfig
	now    func() time.Time

	mu      sync.Mutex
	token   string
	expires time.Time
}

// NewJWT creates a JWT credential.
func NewJWT(cfg JWTConfig) (*JWT, error) {
	if len(cfg.Secret) == 0 {
		return nil, ErrMissingSecret
	}
	if cfg.TTL <= 0 {
		cfg.TTL = 5 * time.Minute
	}
	if cfg.Refresh <= 0 || cfg.Refresh >= cfg.TTL {
		cfg.Refresh = cfg.TTL / 5
	}
	return &JWT{config: cfg, now: time.Now}, nil
}

// Token returns a valid signed token, minting a new one when the cached
// token is close to expiry.
func (j *JWT) Token() (string, error) {
	j.mu.Lock()
	defer j.mu.Unlock()

	now := j.now()
	if j.token != "" && now.Add(j.config.Refresh).Before(j.expires) {
		return j.token, nil
	}

	expires := now.Add(j.config.TTL)
	claims := jwt.RegisteredClaims{
		ID:        uuid.NewString(),
		Issuer:    j.config.Issuer,
		Subject:   j.config.Subject,
		IssuedAt:  jwt.NewNumericDate(now),
		NotBefore: jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(expires),
	}
	if j.config.Audience != "" {
		claims.Audience = jwt.ClaimStrings{j.config.Audience}
	}

	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(j.config.Secret)
	if err != nil {
		return "", fmt.Errorf("auth: sign token: %w", err)
	}
	j.token, j.expires = signed, expires
	return signed, nil
}

// Apply implements Credential.
func (j *JWT) Apply(_ context.Context, req *http.Request) error {
	token, err := j.Token()
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "Bearer "+token)
	return nil
}
