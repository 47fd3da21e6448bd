package backend

import "github.com/prometheus/client_golang/prometheus"

// Collector exports registry state as Prometheus gauges. It reads a fresh
// Snapshot on every scrape.
type Collector struct {
	registry *Registry

	healthy   *prometheus.Desc
	degraded  *prometheus.Desc
	errorRate *prometheus.Desc
	latency   *prometheus.Desc
	requests  *prometheus.Desc
	tokens    *prometheus.Desc
}

// NewCollector returns a Collector for r.
func NewCollector(r *Registry) *Collector {
	labels := []string{"backend"}
	return &Collector{
		registry:  r,
		healthy:   prometheus.NewDesc("llmops_backend_healthy", "1 when the backend is offered as a candidate.", labels, nil),
		degraded:  prometheus.NewDesc("llmops_backend_degraded", "1 when the backend is deprioritized.", labels, nil),
		errorRate: prometheus.NewDesc("llmops_backend_error_rate", "Failed calls over total calls.", labels, nil),
		latency:   prometheus.NewDesc("llmops_backend_latency_ms", "EMA of successful call latency.", labels, nil),
		requests:  prometheus.NewDesc("llmops_backend_requests_total", "Calls made to the backend.", []string{"backend", "outcome"}, nil),
		tokens:    prometheus.NewDesc("llmops_backend_tokens_available", "Tokens left in the rate budget.", []string{"backend", "dimension"}, nil),
	}
}

// Describe implements prometheus.Collector.
func (c *Collector) Describe(ch chan<- *prometheus.Desc) {
	ch <- c.healthy
	ch <- c.degraded
	ch <- c.errorRate
	ch <- c.latency
	ch <- c.requests
	ch <- c.tokens
}

// Collect implements prometheus.Collector.
func (c *Collector) Collect(ch chan<- prometheus.Metric) {
	for _, s := range c.registry.Snapshot() {
		ch <- prometheus.MustNewConstMetric(c.healthy, prometheus.GaugeValue, boolValue(s.Healthy), s.Name)
		ch <- prometheus.MustNewConstMetric(c.degraded, prometheus.GaugeValue, boolValue(s.Degraded), s.Name)
		ch <- prometheus.MustNewConstMetric(c.errorRate, prometheus.GaugeValue, s.Metrics.ErrorRate, s.Name)
		ch <- prometheus.MustNewConstMetric(c.latency, prometheus.GaugeValue, s.Metrics.AvgLatencyMs, s.Name)
		ch <- prometheus.MustNewConstMetric(c.requests, prometheus.CounterValue, float64(s.Metrics.Succeeded), s.Name, "success")
		ch <- prometheus.MustNewConstMetric(c.requests, prometheus.CounterValue, float64(s.Metrics.Failed), s.Name, "failure")
		ch <- prometheus.MustNewConstMetric(c.tokens, prometheus.GaugeValue, s.Tokens.Requests, s.Name, "requests")
		if s.Tokens.UnitsCapacity > 0 {
			ch <- prometheus.MustNewConstMetric(c.tokens, prometheus.GaugeValue, s.Tokens.Units, s.Name, "units")
		}
	}
}

func boolValue(b bool) float64 {
	if b {
		return 1
	}
	return 0
}
