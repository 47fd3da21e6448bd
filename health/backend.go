package health

import (
	"context"
	"fmt"

	"github.com/jonwraymond/llmops/backend"
)

// BackendChecker reports a registered backend's health flags as a Result.
type BackendChecker struct {
	registry *backend.Registry
	name     string
}

// NewBackendChecker creates a checker for the named backend.
func NewBackendChecker(reg *backend.Registry, name string) *BackendChecker {
	return &BackendChecker{registry: reg, name: name}
}

// Name returns "backend:<name>".
func (c *BackendChecker) Name() string {
	return "backend:" + c.name
}

// Check maps the registry flags to a status: unhealthy backends are
// Unhealthy, degraded ones Degraded.
func (c *BackendChecker) Check(ctx context.Context) Result {
	e, err := c.registry.Get(c.name)
	if err != nil {
		return Unhealthy("backend not registered", err)
	}

	m := e.Metrics()
	details := map[string]any{
		"total":          m.Total,
		"error_rate":     m.ErrorRate,
		"avg_latency_ms": m.AvgLatencyMs,
	}

	switch {
	case !e.Healthy():
		msg := "backend marked unhealthy"
		if m.LastError != "" {
			msg = fmt.Sprintf("%s: %s", msg, m.LastError)
		}
		return Unhealthy(msg, ErrCheckFailed).WithDetails(details)
	case e.Degraded():
		return Degraded("backend degraded").WithDetails(details)
	default:
		return Healthy("backend available").WithDetails(details)
	}
}

// QuorumChecker reports Unhealthy when no registered backend is healthy and
// Degraded while only some are. An empty registry cannot serve and is
// Unhealthy too.
func QuorumChecker(reg *backend.Registry) Checker {
	return Func("backends", func(ctx context.Context) Result {
		snap := reg.Snapshot()
		var down []string
		for _, s := range snap {
			if !s.Healthy {
				down = append(down, s.Name)
			}
		}
		details := map[string]any{"unhealthy": down, "total": len(snap)}

		switch {
		case len(down) == len(snap):
			return Unhealthy("no backend available", ErrNoBackends).WithDetails(details)
		case len(down) > 0:
			return Degraded(fmt.Sprintf("%d of %d backends unhealthy", len(down), len(snap))).WithDetails(details)
		default:
			return Healthy("all backends available").WithDetails(details)
		}
	})
}

// RegisterBackends adds an optional BackendChecker for every backend in reg
// and the critical "backends" quorum check.
func RegisterBackends(agg *Aggregator, reg *backend.Registry) {
	for _, name := range reg.Names() {
		c := NewBackendChecker(reg, name)
		agg.Register(c.Name(), c, Optional())
	}
	agg.Register("backends", QuorumChecker(reg))
}
