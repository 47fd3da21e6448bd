package health

import (
	"context"
	"fmt"
	"math"
	"runtime"
	"runtime/debug"
)

// MemoryCheckerConfig configures the memory health checker.
type MemoryCheckerConfig struct {
	// WarningThreshold is the usage ratio that triggers degraded status.
	// Value should be between 0 and 1. Default: 0.8 (80%)
	WarningThreshold float64

	// CriticalThreshold is the usage ratio that triggers unhealthy status.
	// Value should be between 0 and 1. Default: 0.95 (95%)
	CriticalThreshold float64

	// MaxAlloc is the heap budget in bytes that usage is measured against.
	// Zero uses the runtime soft memory limit (GOMEMLIMIT) when one is set,
	// else the memory obtained from the OS.
	MaxAlloc uint64
}

// MemoryChecker checks heap usage against a budget.
type MemoryChecker struct {
	config MemoryCheckerConfig
	read   func(*runtime.MemStats)
	limit  func() int64
}

// NewMemoryChecker creates a new memory health checker.
func NewMemoryChecker(config MemoryCheckerConfig) *MemoryChecker {
	if config.WarningThreshold <= 0 || config.WarningThreshold >= 1 {
		config.WarningThreshold = 0.8
	}
	if config.CriticalThreshold <= 0 || config.CriticalThreshold >= 1 {
		config.CriticalThreshold = 0.95
	}
	if config.CriticalThreshold < config.WarningThreshold {
		config.CriticalThreshold = min(config.WarningThreshold+0.1, 0.99)
	}

	return &MemoryChecker{
		config: config,
		read:   runtime.ReadMemStats,
		limit:  func() int64 { return debug.SetMemoryLimit(-1) },
	}
}

// Name returns the name of this checker.
func (m *MemoryChecker) Name() string {
	return "memory"
}

func (m *MemoryChecker) sample() (runtime.MemStats, uint64, float64) {
	var stats runtime.MemStats
	m.read(&stats)

	budget := m.config.MaxAlloc
	if budget == 0 {
		if l := m.limit(); l > 0 && l < math.MaxInt64 {
			budget = uint64(l)
		} else {
			budget = stats.Sys
		}
	}
	if budget == 0 {
		return stats, 0, 0
	}
	return stats, budget, float64(stats.Alloc) / float64(budget)
}

// Usage returns the current heap usage ratio in [0, 1+]. It is the resource
// sampler predictive maintenance compares against its threshold.
func (m *MemoryChecker) Usage(ctx context.Context) (float64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	_, _, ratio := m.sample()
	return ratio, nil
}

// Check performs the memory health check.
func (m *MemoryChecker) Check(ctx context.Context) Result {
	if err := ctx.Err(); err != nil {
		return Unhealthy("context cancelled", err)
	}

	stats, budget, usage := m.sample()
	if budget == 0 {
		return Healthy("memory stats unavailable")
	}

	details := map[string]any{
		"alloc_bytes":   stats.Alloc,
		"max_alloc":     budget,
		"usage_percent": usage * 100,
		"heap_in_use":   stats.HeapInuse,
		"heap_objects":  stats.HeapObjects,
		"num_gc":        stats.NumGC,
		"goroutines":    runtime.NumGoroutine(),
	}

	switch {
	case usage >= m.config.CriticalThreshold:
		return Unhealthy(fmt.Sprintf("memory usage critical: %.1f%%", usage*100), ErrCheckFailed).WithDetails(details)
	case usage >= m.config.WarningThreshold:
		return Degraded(fmt.Sprintf("memory usage high: %.1f%%", usage*100)).WithDetails(details)
	default:
		return Healthy(fmt.Sprintf("memory usage normal: %.1f%%", usage*100)).WithDetails(details)
	}
}
