package engine

import (
	"fmt"

	"github.com/jonwraymond/llmops/adapter"
	"github.com/jonwraymond/llmops/auth"
	"github.com/jonwraymond/llmops/backend"
	"github.com/jonwraymond/llmops/config"
)

// BackendFactory builds the adapter for one configured backend.
type BackendFactory func(cfg config.BackendConfig) (backend.Backend, error)

// NewBackend is the default BackendFactory. Credentials must already be
// resolved.
func NewBackend(cfg config.BackendConfig) (backend.Backend, error) {
	switch cfg.Kind {
	case config.KindOpenAI:
		// go-openai sends the API key itself; only JWT needs the transport.
		var cred auth.Credential = auth.None{}
		if cfg.Auth == config.AuthJWT {
			c, err := credential(cfg)
			if err != nil {
				return nil, fmt.Errorf("backend %q: %w", cfg.Name, err)
			}
			cred = c
		}
		return adapter.NewOpenAI(adapter.OpenAIConfig{
			Name:       cfg.Name,
			Model:      cfg.Model,
			APIKey:     cfg.APIKey,
			BaseURL:    cfg.BaseURL,
			MaxTokens:  cfg.MaxTokens,
			Streaming:  cfg.Streaming,
			HTTPClient: auth.NewClient(cred, cfg.Timeout),
		})

	case config.KindHTTP:
		cred, err := credential(cfg)
		if err != nil {
			return nil, fmt.Errorf("backend %q: %w", cfg.Name, err)
		}
		return adapter.NewHTTP(adapter.HTTPConfig{
			Name:       cfg.Name,
			BaseURL:    cfg.BaseURL,
			Model:      cfg.Model,
			MaxTokens:  cfg.MaxTokens,
			Streaming:  cfg.Streaming,
			Credential: cred,
			Timeout:    cfg.Timeout,
		})

	default:
		return nil, fmt.Errorf("%w: backend %q: unknown kind %q", config.ErrInvalidConfig, cfg.Name, cfg.Kind)
	}
}

func credential(cfg config.BackendConfig) (auth.Credential, error) {
	mode := cfg.Auth
	if mode == config.AuthAPIKey && cfg.APIKey == "" {
		mode = config.AuthNone
	}
	return auth.New(auth.Config{
		Mode:       mode,
		APIKey:     cfg.APIKey,
		Header:     cfg.APIKeyHeader,
		JWTSecret:  cfg.JWTSecret,
		JWTIssuer:  cfg.JWTIssuer,
		JWTSubject: cfg.Name,
	})
}
