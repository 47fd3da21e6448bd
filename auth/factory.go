package auth

import (
	"errors"
	"fmt"
	"sort"
	"sync"
)

// Factory creates a credential from configuration.
type Factory func(cfg Config) (Credential, error)

// Registry maps credential modes to factories.
type Registry struct {
	mu        sync.RWMutex
	factories map[string]Factory
}

// NewRegistry creates an empty credential registry.
func NewRegistry() *Registry {
	return &Registry{factories: make(map[string]Factory)}
}

// NewBuiltinRegistry returns a registry with the apikey, jwt and none modes.
func NewBuiltinRegistry() *Registry {
	r := NewRegistry()
	_ = r.Register(ModeAPIKey, func(cfg Config) (Credential, error) {
		return NewAPIKey(APIKeyConfig{Key: cfg.APIKey, Header: cfg.Header})
	})
	_ = r.Register(ModeJWT, func(cfg Config) (Credential, error) {
		return NewJWT(JWTConfig{
			Secret:   []byte(cfg.JWTSecret),
			Issuer:   cfg.JWTIssuer,
			Subject:  cfg.JWTSubject,
			Audience: cfg.JWTAudience,
			TTL:      cfg.JWTTTL,
		})
	})
	_ = r.Register(ModeNone, func(Config) (Credential, error) { return None{}, nil })
	return r
}

// Register adds a factory for mode.
func (r *Registry) Register(mode string, factory Factory) error {
	if mode == "" || factory == nil {
		return errors.New("auth: invalid credential registration")
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.factories[mode]; exists {
		return fmt.Errorf("auth: credential mode %q already registered", mode)
	}
	r.factories[mode] = factory
	return nil
}

// Create builds the credential for cfg.Mode.
func (r *Registry) Create(cfg Config) (Credential, error) {
	r.mu.RLock()
	factory, ok := r.factories[cfg.Mode]
	r.mu.RUnlock()

	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownMode, cfg.Mode)
	}
	return factory(cfg)
}

// Modes returns the registered modes, sorted.
func (r *Registry) Modes() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	modes := make([]string, 0, len(r.factories))
	for m := range r.factories {
		modes = append(modes, m)
	}
	sort.Strings(modes)
	return modes
}

var builtin = NewBuiltinRegistry()
