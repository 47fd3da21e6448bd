package backend

import "time"

// Health hysteresis: a backend is marked unhealthy only once it has served
// more than UnhealthyMinRequests requests with an error rate above
// UnhealthyErrorRate.
const (
	UnhealthyErrorRate   = 0.5
	UnhealthyMinRequests = 10
)

const (
	latencyAlpha  = 0.1
	baselineAlpha = 0.01
)

// Metrics is a point-in-time copy of an entry's rolling statistics.
type Metrics struct {
	Total     int64 `json:"total"`
	Succeeded int64 `json:"succeeded"`
	Failed    int64 `json:"failed"`

	// AvgLatencyMs is an EMA (alpha 0.1) of successful call latency,
	// seeded with the first sample.
	AvgLatencyMs float64 `json:"avg_latency_ms"`

	// BaselineLatencyMs is a slow EMA (alpha 0.01) that the fast average is
	// compared against to detect latency inflation.
	BaselineLatencyMs float64 `json:"baseline_latency_ms"`

	// ErrorRate is 1 - Succeeded/Total, zero before the first call.
	ErrorRate float64 `json:"error_rate"`

	ConsecutiveFailures int       `json:"consecutive_failures"`
	LastError           string    `json:"last_error,omitempty"`
	LastUsed            time.Time `json:"last_used"`
}

// LatencyInflation returns AvgLatencyMs / BaselineLatencyMs, or 1 when
// there is no baseline yet.
func (m Metrics) LatencyInflation() float64 {
	if m.BaselineLatencyMs <= 0 {
		return 1
	}
	return m.AvgLatencyMs / m.BaselineLatencyMs
}

type rollingMetrics struct {
	total, succeeded, failed int64
	avgLatencyMs             float64
	baselineLatencyMs        float64
	consecutiveFailures      int
	lastError                string
	lastUsed                 time.Time
}

func (m *rollingMetrics) success(latency time.Duration, now time.Time) {
	ms := float64(latency.Microseconds()) / 1000
	if m.succeeded == 0 {
		m.avgLatencyMs = ms
		m.baselineLatencyMs = ms
	} else {
		m.avgLatencyMs = latencyAlpha*ms + (1-latencyAlpha)*m.avgLatencyMs
		m.baselineLatencyMs = baselineAlpha*ms + (1-baselineAlpha)*m.baselineLatencyMs
	}
	m.total++
	m.succeeded++
	m.consecutiveFailures = 0
	m.lastUsed = now
}

func (m *rollingMetrics) failure(err error, now time.Time) {
	m.total++
	m.failed++
	m.consecutiveFailures++
	if err != nil {
		m.lastError = err.Error()
	}
	m.lastUsed = now
}

func (m *rollingMetrics) errorRate() float64 {
	if m.total == 0 {
		return 0
	}
	return 1 - float64(m.succeeded)/float64(m.total)
}

func (m *rollingMetrics) snapshot() Metrics {
	return Metrics{
		Total:               m.total,
		Succeeded:           m.succeeded,
		Failed:              m.failed,
		AvgLatencyMs:        m.avgLatencyMs,
		BaselineLatencyMs:   m.baselineLatencyMs,
		ErrorRate:           m.errorRate(),
		ConsecutiveFailures: m.consecutiveFailures,
		LastError:           m.lastError,
		LastUsed:            m.lastUsed,
	}
}
