package engine

import (
	"encoding/json"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/jonwraymond/llmops/backend"
	"github.com/jonwraymond/llmops/cache"
	"github.com/jonwraymond/llmops/health"
	"github.com/jonwraymond/llmops/observe/exporters"
	"github.com/jonwraymond/llmops/resilience"
)

// Status is a point-in-time view of the runtime.
type Status struct {
	Backends        []backend.Status                            `json:"backends"`
	Breakers        map[string]resilience.CircuitBreakerMetrics `json:"breakers"`
	Cache           *cache.Stats                                `json:"cache,omitempty"`
	Concurrency     *resilience.BulkheadMetrics                 `json:"concurrency,omitempty"`
	HealingBreakers map[string]resilience.CircuitBreakerMetrics `json:"healing_breakers,omitempty"`
	Signatures      int                                         `json:"signatures"`
	Strategies      []string                                    `json:"strategies,omitempty"`
}

// Status returns the current runtime status.
func (e *Engine) Status() Status {
	s := Status{
		Backends: e.registry.Snapshot(),
		Breakers: e.gateway.Breakers().Snapshot(),
	}
	if m, ok := e.gateway.Concurrency(); ok {
		s.Concurrency = &m
	}
	if e.responses != nil {
		st := e.responses.Stats()
		s.Cache = &st
	}
	if e.healer != nil {
		s.HealingBreakers = e.healer.Breakers().Snapshot()
		s.Signatures = len(e.healer.Records())
		for _, st := range e.healer.Strategies() {
			s.Strategies = append(s.Strategies, st.String())
		}
	}
	return s
}

// Handler serves the operational endpoints: the health set from
// health.RegisterHandlers, /status and /metrics. /metrics gathers both
// the OpenTelemetry Prometheus exporter and the backend collector.
func (e *Engine) Handler() http.Handler {
	mux := http.NewServeMux()
	health.RegisterHandlers(mux, e.health, e.registry)

	mux.HandleFunc("/status", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(e.Status())
	})

	gatherers := prometheus.Gatherers{exporters.Registry, e.metrics}
	mux.Handle("/metrics", promhttp.HandlerFor(gatherers, promhttp.HandlerOpts{
		ErrorHandling: promhttp.ContinueOnError,
	}))
	return mux
}
