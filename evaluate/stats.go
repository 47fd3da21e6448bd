package evaluate

import (
	"sort"
	"time"

	"gonum.org/v1/gonum/stat"
)

// Latency summarizes a latency sample.
type Latency struct {
	Mean   time.Duration `json:"mean"`
	P50    time.Duration `json:"p50"`
	P95    time.Duration `json:"p95"`
	StdDev time.Duration `json:"stddev"`
	Total  time.Duration `json:"total"`
}

// Summarize computes latency statistics. An empty sample yields zeros.
func Summarize(samples []time.Duration) Latency {
	if len(samples) == 0 {
		return Latency{}
	}

	xs := make([]float64, len(samples))
	var total time.Duration
	for i, d := range samples {
		xs[i] = float64(d)
		total += d
	}
	sort.Float64s(xs)

	l := Latency{
		Mean:  time.Duration(stat.Mean(xs, nil)),
		P50:   time.Duration(stat.Quantile(0.5, stat.Empirical, xs, nil)),
		P95:   time.Duration(stat.Quantile(0.95, stat.Empirical, xs, nil)),
		Total: total,
	}
	if len(xs) > 1 {
		l.StdDev = time.Duration(stat.StdDev(xs, nil))
	}
	return l
}
