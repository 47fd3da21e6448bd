// Package config loads the llmops configuration from a YAML file, overlays
// LLMOPS_* environment variables and resolves credential references.
package config

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/kelseyhightower/envconfig"
	"gopkg.in/yaml.v3"

	"github.com/jonwraymond/llmops/healing"
	"github.com/jonwraymond/llmops/observe"
	"github.com/jonwraymond/llmops/secret"
)

// EnvPrefix prefixes every environment override, e.g.
// LLMOPS_CIRCUIT_FAILURE_THRESHOLD.
const EnvPrefix = "LLMOPS"

// Backend kinds.
const (
	KindOpenAI = "openai"
	KindHTTP   = "http"
)

// Backend authentication modes.
const (
	AuthAPIKey = "apikey"
	AuthJWT    = "jwt"
	AuthNone   = "none"
)

// Config holds all configuration.
type Config struct {
	Gateway   GatewayConfig          `yaml:"gateway" envconfig:"GATEWAY"`
	Circuit   CircuitConfig          `yaml:"circuit" envconfig:"CIRCUIT"`
	Backends  []BackendConfig        `yaml:"backends" ignored:"true"`
	Callers   CallersConfig          `yaml:"callers" envconfig:"CALLERS"`
	Cache     CacheConfig            `yaml:"cache" envconfig:"CACHE"`
	Templates map[string]string      `yaml:"templates" ignored:"true"`
	Healing   HealingConfig          `yaml:"healing" envconfig:"HEALING"`
	Health    HealthConfig           `yaml:"health" envconfig:"HEALTH"`
	Secrets   []SecretProviderConfig `yaml:"secrets" ignored:"true"`
	Observe   observe.Config         `yaml:"observe" envconfig:"OBSERVE"`
}

// GatewayConfig configures dispatch and the outer retry.
type GatewayConfig struct {
	MaxOuterRetries int           `yaml:"max_outer_retries" envconfig:"MAX_OUTER_RETRIES"`
	BaseBackoff     time.Duration `yaml:"base_backoff" envconfig:"BASE_BACKOFF"`
	MaxBackoff      time.Duration `yaml:"max_backoff" envconfig:"MAX_BACKOFF"`
	MaxJitter       time.Duration `yaml:"max_jitter" envconfig:"MAX_JITTER"`
	// MaxConcurrent caps in-flight dispatches; zero disables the cap.
	MaxConcurrent int           `yaml:"max_concurrent" envconfig:"MAX_CONCURRENT"`
	MaxQueueWait  time.Duration `yaml:"max_queue_wait" envconfig:"MAX_QUEUE_WAIT"`
	// RequestTimeout bounds requests that arrive without a deadline; zero
	// leaves them unbounded.
	RequestTimeout time.Duration `yaml:"request_timeout" envconfig:"REQUEST_TIMEOUT"`
	// MaxRateWait is how long a backend's token bucket may hold a request
	// before the backend is skipped; zero waits up to the deadline.
	MaxRateWait time.Duration `yaml:"max_rate_wait" envconfig:"MAX_RATE_WAIT"`
}

// CircuitConfig configures every backend breaker.
type CircuitConfig struct {
	FailureThreshold int           `yaml:"failure_threshold" envconfig:"FAILURE_THRESHOLD"`
	RecoveryTimeout  time.Duration `yaml:"recovery_timeout" envconfig:"RECOVERY_TIMEOUT"`
}

// BackendConfig declares one backend.
type BackendConfig struct {
	Name     string `yaml:"name"`
	Kind     string `yaml:"kind"`
	Priority int    `yaml:"priority"`
	Model    string `yaml:"model"`
	BaseURL  string `yaml:"base_url"`

	// Auth is apikey (default), jwt or none.
	Auth         string `yaml:"auth"`
	APIKey       string `yaml:"api_key"`
	APIKeyHeader string `yaml:"api_key_header"`
	JWTSecret    string `yaml:"jwt_secret"`
	JWTIssuer    string `yaml:"jwt_issuer"`

	RequestsPerMinute float64       `yaml:"requests_per_minute"`
	TokensPerMinute   float64       `yaml:"tokens_per_minute"`
	MaxTokens         int           `yaml:"max_tokens"`
	Streaming         bool          `yaml:"streaming"`
	Timeout           time.Duration `yaml:"timeout"`
}

// CallersConfig configures per-caller admission.
type CallersConfig struct {
	Enabled           bool    `yaml:"enabled" envconfig:"ENABLED"`
	RequestsPerMinute float64 `yaml:"requests_per_minute" envconfig:"REQUESTS_PER_MINUTE"`
	Burst             int     `yaml:"burst" envconfig:"BURST"`
}

// CacheConfig configures the response cache.
type CacheConfig struct {
	Enabled        bool                     `yaml:"enabled" envconfig:"ENABLED"`
	TTL            time.Duration            `yaml:"ttl" envconfig:"TTL"`
	ModelTTL       map[string]time.Duration `yaml:"model_ttl" envconfig:"MODEL_TTL"`
	MaxEntries     int                      `yaml:"max_entries" envconfig:"MAX_ENTRIES"`
	MaxTemperature float64                  `yaml:"max_temperature" envconfig:"MAX_TEMPERATURE"`
}

// HealingConfig configures the healing controller.
type HealingConfig struct {
	Enabled       bool    `yaml:"enabled" envconfig:"ENABLED"`
	MinConfidence int     `yaml:"min_confidence" envconfig:"MIN_CONFIDENCE"`
	LearningRate  float64 `yaml:"learning_rate" envconfig:"LEARNING_RATE"`
	// StorePath is a SQLite file; empty keeps records in memory.
	StorePath string `yaml:"store_path" envconfig:"STORE_PATH"`
	// Strategies limits the executors; empty enables all.
	Strategies      []string          `yaml:"strategies" envconfig:"STRATEGIES"`
	DegradedMessage string            `yaml:"degraded_message" envconfig:"DEGRADED_MESSAGE"`
	Retention       RetentionConfig   `yaml:"retention" envconfig:"RETENTION"`
	Maintenance     MaintenanceConfig `yaml:"maintenance" envconfig:"MAINTENANCE"`
	Circuit         CircuitConfig     `yaml:"circuit" envconfig:"CIRCUIT"`
}

// RetentionConfig prunes rarely used strategy records.
type RetentionConfig struct {
	MaxAge      time.Duration `yaml:"max_age" envconfig:"MAX_AGE"`
	MinAttempts int           `yaml:"min_attempts" envconfig:"MIN_ATTEMPTS"`
}

// MaintenanceConfig configures predictive maintenance.
type MaintenanceConfig struct {
	healing.Thresholds `yaml:",inline"`

	MinSamples int64 `yaml:"min_samples" envconfig:"MIN_SAMPLES"`
	// Interval runs maintenance on a ticker; zero checks only on heal.
	Interval time.Duration `yaml:"interval" envconfig:"INTERVAL"`
}

// HealthConfig configures the health checks and automatic recovery.
type HealthConfig struct {
	// CheckTimeout bounds each check behind /readyz and /health.
	CheckTimeout time.Duration `yaml:"check_timeout" envconfig:"CHECK_TIMEOUT"`

	Probe         bool          `yaml:"probe" envconfig:"PROBE"`
	ProbeInterval time.Duration `yaml:"probe_interval" envconfig:"PROBE_INTERVAL"`
	ProbeTimeout  time.Duration `yaml:"probe_timeout" envconfig:"PROBE_TIMEOUT"`
}

// SecretProviderConfig declares a secret provider built from
// secret.NewBuiltinRegistry.
type SecretProviderConfig struct {
	Name    string            `yaml:"name"`
	Options map[string]string `yaml:"options"`
}

// Default returns the default configuration. It has no backends.
func Default() *Config {
	return &Config{
		Gateway: GatewayConfig{
			MaxOuterRetries: 3,
			BaseBackoff:     time.Second,
			MaxBackoff:      30 * time.Second,
			MaxJitter:       time.Second,
			MaxConcurrent:   10,
			RequestTimeout:  2 * time.Minute,
			MaxRateWait:     time.Second,
		},
		Circuit: CircuitConfig{
			FailureThreshold: 5,
			RecoveryTimeout:  30 * time.Second,
		},
		Callers: CallersConfig{
			RequestsPerMinute: 60,
			Burst:             10,
		},
		Cache: CacheConfig{
			TTL:        5 * time.Minute,
			MaxEntries: 1024,
		},
		Healing: HealingConfig{
			Enabled:       true,
			MinConfidence: healing.DefaultMinConfidence,
			LearningRate:  healing.DefaultLearningRate,
			Retention: RetentionConfig{
				MaxAge:      30 * 24 * time.Hour,
				MinAttempts: 3,
			},
			Maintenance: MaintenanceConfig{
				Thresholds: healing.DefaultThresholds(),
				MinSamples: 5,
			},
			Circuit: CircuitConfig{
				FailureThreshold: 5,
				RecoveryTimeout:  time.Minute,
			},
		},
		Health: HealthConfig{
			CheckTimeout:  5 * time.Second,
			ProbeInterval: 30 * time.Second,
			ProbeTimeout:  5 * time.Second,
		},
		Observe: observe.Config{
			ServiceName: "llmops",
			Logging:     observe.LoggingConfig{Enabled: true, Level: "info"},
		},
	}
}

// Load reads path (when non-empty) over the defaults, applies environment
// overrides and validates the result. Secret references are left for
// Resolve.
func Load(path string) (*Config, error) {
	var data []byte
	if path != "" {
		var err error
		data, err = os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
	}
	return Parse(data)
}

// Parse is Load for an in-memory YAML document.
func Parse(data []byte) (*Config, error) {
	cfg := Default()
	if len(data) > 0 {
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config: %w", err)
		}
	}
	if err := envconfig.Process(EnvPrefix, cfg); err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	cfg.applyBackendDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) applyBackendDefaults() {
	for i := range c.Backends {
		b := &c.Backends[i]
		if b.Kind == "" {
			b.Kind = KindOpenAI
		}
		if b.Auth == "" {
			b.Auth = AuthAPIKey
		}
		if b.RequestsPerMinute == 0 {
			b.RequestsPerMinute = 60
		}
		if b.Timeout == 0 {
			b.Timeout = time.Minute
		}
	}
}

// Validate checks the configuration and reports every problem found.
func (c *Config) Validate() error {
	var errs []error
	add := func(format string, args ...any) {
		errs = append(errs, fmt.Errorf("%w: "+format, append([]any{ErrInvalidConfig}, args...)...))
	}

	if len(c.Backends) == 0 {
		errs = append(errs, ErrNoBackends)
	}
	seen := make(map[string]bool, len(c.Backends))
	for i, b := range c.Backends {
		switch {
		case b.Name == "":
			add("backends[%d]: name is required", i)
		case seen[b.Name]:
			add("backends[%d]: duplicate name %q", i, b.Name)
		}
		seen[b.Name] = true

		switch b.Kind {
		case KindOpenAI:
		case KindHTTP:
			if b.BaseURL == "" {
				add("backend %q: base_url is required for kind http", b.Name)
			}
		default:
			add("backend %q: unknown kind %q", b.Name, b.Kind)
		}
		switch b.Auth {
		case AuthAPIKey, AuthNone:
		case AuthJWT:
			if b.JWTSecret == "" {
				add("backend %q: jwt_secret is required for auth jwt", b.Name)
			}
		default:
			add("backend %q: unknown auth %q", b.Name, b.Auth)
		}
		if b.RequestsPerMinute < 0 || b.TokensPerMinute < 0 || b.MaxTokens < 0 {
			add("backend %q: limits must not be negative", b.Name)
		}
	}

	if c.Gateway.MaxOuterRetries < 0 {
		add("gateway.max_outer_retries must not be negative")
	}
	if c.Gateway.BaseBackoff < 0 || c.Gateway.MaxBackoff < 0 {
		add("gateway backoff must not be negative")
	}
	if c.Gateway.RequestTimeout < 0 || c.Gateway.MaxRateWait < 0 {
		add("gateway.request_timeout and gateway.max_rate_wait must not be negative")
	}
	if c.Circuit.FailureThreshold < 0 {
		add("circuit.failure_threshold must not be negative")
	}
	if c.Healing.LearningRate < 0 || c.Healing.LearningRate > 1 {
		add("healing.learning_rate must be in [0, 1]")
	}
	for _, s := range c.Healing.Strategies {
		if _, err := healing.ParseStrategy(s); err != nil {
			add("healing.strategies: %v", err)
		}
	}
	th := c.Healing.Maintenance.Thresholds
	if th.ErrorRate < 0 || th.ErrorRate > 1 || th.ResourceUsage < 0 || th.ResourceUsage > 1 {
		add("healing.maintenance rates must be in [0, 1]")
	}
	if err := c.Observe.Validate(); err != nil {
		errs = append(errs, fmt.Errorf("observe: %w", err))
	}
	return errors.Join(errs...)
}

// Resolve replaces environment variables and secret references in backend
// credentials and URLs. The returned resolver owns the configured providers.
func (c *Config) Resolve(ctx context.Context) (*secret.Resolver, error) {
	resolver := secret.NewResolver(true, secret.NewEnvProvider())
	registry := secret.NewBuiltinRegistry()
	for _, sp := range c.Secrets {
		p, err := registry.Create(sp.Name, sp.Options)
		if err != nil {
			return nil, fmt.Errorf("secret provider %q: %w", sp.Name, err)
		}
		resolver.Register(p)
	}

	for i := range c.Backends {
		b := &c.Backends[i]
		if err := resolver.ResolveInPlace(ctx, &b.BaseURL, &b.APIKey, &b.JWTSecret); err != nil {
			_ = resolver.Close()
			return nil, fmt.Errorf("backend %q: %w", b.Name, err)
		}
	}
	return resolver, nil
}
