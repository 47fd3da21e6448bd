package health

import (
	"context"
	"fmt"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/jonwraymond/llmops/backend"
	"github.com/jonwraymond/llmops/observe"
)

// ProberConfig configures automatic health recovery.
type ProberConfig struct {
	// Interval between probe rounds.
	// Default: 30 seconds
	Interval time.Duration

	// Timeout bounds a single probe.
	// Default: 5 seconds
	Timeout time.Duration

	// MaxConcurrent bounds the probes run in parallel within a round.
	// Default: 4
	MaxConcurrent int

	// Logger receives recovery events.
	// Default: no-op
	Logger observe.Logger

	// OnRecovered is called after a backend is marked healthy again.
	OnRecovered func(name string)
}

// Prober restores unhealthy backends whose probe succeeds. Healthy backends
// are never probed; recovery resets the backend's metrics so stale failures
// cannot immediately trip the health hysteresis again.
type Prober struct {
	registry *backend.Registry
	config   ProberConfig
}

// NewProber creates a prober for reg.
func NewProber(reg *backend.Registry, config ProberConfig) *Prober {
	if config.Interval <= 0 {
		config.Interval = 30 * time.Second
	}
	if config.Timeout <= 0 {
		config.Timeout = 5 * time.Second
	}
	if config.MaxConcurrent <= 0 {
		config.MaxConcurrent = 4
	}
	if config.Logger == nil {
		config.Logger = observe.NewNoopLogger()
	}
	return &Prober{registry: reg, config: config}
}

// Run probes every Interval until ctx ends.
func (p *Prober) Run(ctx context.Context) {
	ticker := time.NewTicker(p.config.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			p.ProbeOnce(ctx)
		}
	}
}

// ProbeOnce probes all currently unhealthy backends and returns the names of
// those it recovered.
func (p *Prober) ProbeOnce(ctx context.Context) []string {
	var unhealthy []*backend.Entry
	for _, e := range p.registry.Entries() {
		if !e.Healthy() {
			unhealthy = append(unhealthy, e)
		}
	}
	if len(unhealthy) == 0 {
		return nil
	}

	recovered := make([]bool, len(unhealthy))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(p.config.MaxConcurrent)
	for i, e := range unhealthy {
		g.Go(func() error {
			if err := p.probe(gctx, e); err != nil {
				p.config.Logger.Debug(gctx, "probe failed",
					observe.Field{Key: "backend", Value: e.Name()},
					observe.Field{Key: "error", Value: err.Error()},
				)
				return nil
			}
			recovered[i] = true
			return nil
		})
	}
	_ = g.Wait()

	var names []string
	for i, ok := range recovered {
		if !ok {
			continue
		}
		e := unhealthy[i]
		e.ResetMetrics()
		if err := p.registry.MarkHealthy(e.Name()); err != nil {
			// Deregistered while probing.
			continue
		}
		names = append(names, e.Name())
		p.config.Logger.Info(ctx, "backend recovered", observe.Field{Key: "backend", Value: e.Name()})
		if p.config.OnRecovered != nil {
			p.config.OnRecovered(e.Name())
		}
	}
	return names
}

// probe uses Ping when the backend has one, else a one-token completion.
func (p *Prober) probe(ctx context.Context, e *backend.Entry) error {
	ctx, cancel := context.WithTimeout(ctx, p.config.Timeout)
	defer cancel()

	if pinger, ok := e.Backend().(backend.Pinger); ok {
		if err := pinger.Ping(ctx); err != nil {
			return fmt.Errorf("%w: %w", ErrProbeFailed, err)
		}
		return nil
	}

	req := backend.NewRequest("ping")
	req.MaxTokens = 1
	if _, err := e.Backend().Generate(ctx, req); err != nil {
		return fmt.Errorf("%w: %w", ErrProbeFailed, err)
	}
	return nil
}
