package healing

import (
	"context"
	"fmt"
	"time"

	"github.com/jonwraymond/llmops/backend"
	"github.com/jonwraymond/llmops/observe"
)

// Maintenance action kinds.
const (
	ActionDegradeBackend   = "degrade_backend"
	ActionRestoreBackend   = "restore_backend"
	ActionResourcePressure = "resource_pressure"
)

// Thresholds trigger proactive maintenance when exceeded.
type Thresholds struct {
	// ErrorRate is the backend error rate above which it is degraded.
	// Default: 0.1
	ErrorRate float64 `yaml:"error_rate" envconfig:"ERROR_RATE"`

	// LatencyIncreaseFactor is the ratio of average to baseline latency
	// above which a backend is degraded.
	// Default: 2.0
	LatencyIncreaseFactor float64 `yaml:"latency_increase_factor" envconfig:"LATENCY_INCREASE_FACTOR"`

	// ResourceUsage is the process resource usage ratio that raises a
	// resource_pressure action.
	// Default: 0.9
	ResourceUsage float64 `yaml:"resource_usage" envconfig:"RESOURCE_USAGE"`
}

// DefaultThresholds returns the standard thresholds.
func DefaultThresholds() Thresholds {
	return Thresholds{ErrorRate: 0.1, LatencyIncreaseFactor: 2.0, ResourceUsage: 0.9}
}

// ResourceSampler reports resource usage as a ratio in [0, 1].
// health.MemoryChecker.Usage is the usual implementation.
type ResourceSampler func(ctx context.Context) (float64, error)

// Action is one proactive maintenance step.
type Action struct {
	Kind      string  `json:"kind"`
	Backend   string  `json:"backend,omitempty"`
	Value     float64 `json:"value"`
	Threshold float64 `json:"threshold"`
	Reason    string  `json:"reason"`
}

// MaintenanceConfig configures Maintenance.
type MaintenanceConfig struct {
	Thresholds Thresholds

	// MinSamples is the number of requests a backend needs before its
	// metrics are judged.
	// Default: 5
	MinSamples int64

	// Sampler reports resource usage. Nil skips the resource check.
	Sampler ResourceSampler

	Logger     observe.Logger
	Middleware *observe.Middleware
}

// Maintenance degrades backends whose metrics breach thresholds before
// their breakers trip, and restores them once they recover.
//
// Contract:
//   - Concurrency: safe for concurrent use; each backend flag is changed
//     through the registry.
//   - Degraded backends stay candidates, ordered last.
type Maintenance struct {
	registry *backend.Registry
	config   MaintenanceConfig
	logger   observe.Logger
	mw       *observe.Middleware
}

// NewMaintenance creates a maintenance checker over reg.
func NewMaintenance(reg *backend.Registry, cfg MaintenanceConfig) (*Maintenance, error) {
	if reg == nil {
		return nil, ErrNilRegistry
	}
	def := DefaultThresholds()
	if cfg.Thresholds.ErrorRate <= 0 {
		cfg.Thresholds.ErrorRate = def.ErrorRate
	}
	if cfg.Thresholds.LatencyIncreaseFactor <= 0 {
		cfg.Thresholds.LatencyIncreaseFactor = def.LatencyIncreaseFactor
	}
	if cfg.Thresholds.ResourceUsage <= 0 {
		cfg.Thresholds.ResourceUsage = def.ResourceUsage
	}
	if cfg.MinSamples <= 0 {
		cfg.MinSamples = 5
	}

	mw := cfg.Middleware
	if mw == nil {
		mw = observe.NopMiddleware()
	}
	logger := cfg.Logger
	if logger == nil {
		logger = mw.Logger()
	}
	return &Maintenance{
		registry: reg,
		config:   cfg,
		logger:   logger.WithMeta(observe.Meta{Component: "maintenance"}),
		mw:       mw,
	}, nil
}

// Thresholds returns the effective thresholds.
func (m *Maintenance) Thresholds() Thresholds { return m.config.Thresholds }

// Check evaluates every backend and the resource sampler once and applies
// the resulting degrade and restore actions.
func (m *Maintenance) Check(ctx context.Context) []Action {
	var actions []Action
	th := m.config.Thresholds

	for _, e := range m.registry.Entries() {
		name := e.Name()
		met := e.Metrics()
		if met.Total < m.config.MinSamples {
			continue
		}

		var breach *Action
		switch inflation := met.LatencyInflation(); {
		case met.ErrorRate > th.ErrorRate:
			breach = &Action{
				Kind: ActionDegradeBackend, Backend: name,
				Value: met.ErrorRate, Threshold: th.ErrorRate,
				Reason: fmt.Sprintf("error rate %.2f above %.2f", met.ErrorRate, th.ErrorRate),
			}
		case inflation > th.LatencyIncreaseFactor:
			breach = &Action{
				Kind: ActionDegradeBackend, Backend: name,
				Value: inflation, Threshold: th.LatencyIncreaseFactor,
				Reason: fmt.Sprintf("latency %.1fx baseline above %.1fx", inflation, th.LatencyIncreaseFactor),
			}
		}

		if breach != nil {
			if changed, err := m.registry.SetDegraded(name, true); err == nil && changed {
				actions = append(actions, *breach)
			}
			continue
		}
		if changed, err := m.registry.SetDegraded(name, false); err == nil && changed {
			actions = append(actions, Action{
				Kind: ActionRestoreBackend, Backend: name,
				Value: met.ErrorRate, Threshold: th.ErrorRate,
				Reason: "metrics back within thresholds",
			})
		}
	}

	if m.config.Sampler != nil {
		usage, err := m.config.Sampler(ctx)
		switch {
		case err != nil:
			m.logger.Warn(ctx, "resource sample failed", observe.Field{Key: "error", Value: err})
		case usage > th.ResourceUsage:
			actions = append(actions, Action{
				Kind: ActionResourcePressure, Value: usage, Threshold: th.ResourceUsage,
				Reason: fmt.Sprintf("resource usage %.2f above %.2f", usage, th.ResourceUsage),
			})
		}
	}

	for _, a := range actions {
		m.mw.Event(ctx,
			observe.Meta{Component: "maintenance", Operation: "check", Backend: a.Backend},
			a.Kind,
			observe.Field{Key: "value", Value: a.Value},
			observe.Field{Key: "threshold", Value: a.Threshold},
			observe.Field{Key: "reason", Value: a.Reason},
		)
	}
	return actions
}

// Run calls Check every interval until ctx is done.
func (m *Maintenance) Run(ctx context.Context, interval time.Duration) error {
	if interval <= 0 {
		interval = time.Minute
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			m.Check(ctx)
		}
	}
}
