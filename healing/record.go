package healing

import (
	"maps"
	"time"
)

// Defaults for strategy learning.
const (
	DefaultMinConfidence = 3
	DefaultLearningRate  = 0.2
	DefaultPrior         = 0.5
)

// StrategyStats is what has been observed for one strategy on one signature.
type StrategyStats struct {
	Attempts    int       `json:"attempts"`
	Successes   int       `json:"successes"`
	SuccessRate float64   `json:"success_rate"`
	LastAttempt time.Time `json:"last_attempt"`
}

// Record holds the learned strategy statistics for a signature.
type Record struct {
	Signature  Signature                  `json:"signature"`
	Strategies map[Strategy]StrategyStats `json:"strategies"`
	FirstSeen  time.Time                  `json:"first_seen"`
	LastSeen   time.Time                  `json:"last_seen"`
}

// NewRecord creates an empty record first seen at now.
func NewRecord(sig Signature, now time.Time) *Record {
	return &Record{
		Signature:  sig,
		Strategies: make(map[Strategy]StrategyStats),
		FirstSeen:  now,
		LastSeen:   now,
	}
}

// Stats returns the statistics for s, or the prior when s is untried.
func (r *Record) Stats(s Strategy, prior float64) StrategyStats {
	if st, ok := r.Strategies[s]; ok {
		return st
	}
	return StrategyStats{SuccessRate: prior}
}

// Attempts sums attempts over all strategies.
func (r *Record) Attempts() int {
	n := 0
	for _, st := range r.Strategies {
		n += st.Attempts
	}
	return n
}

// Observe folds one outcome into the EMA for s.
func (r *Record) Observe(s Strategy, success bool, alpha, prior float64, now time.Time) {
	st := r.Stats(s, prior)
	x := 0.0
	if success {
		x = 1
		st.Successes++
	}
	st.Attempts++
	st.SuccessRate = alpha*x + (1-alpha)*st.SuccessRate
	st.LastAttempt = now
	r.Strategies[s] = st
	r.LastSeen = now
}

// Clone returns a deep copy.
func (r *Record) Clone() *Record {
	out := *r
	out.Strategies = maps.Clone(r.Strategies)
	if out.Strategies == nil {
		out.Strategies = make(map[Strategy]StrategyStats)
	}
	return &out
}

// selectStrategy picks from available, which is in declaration order.
// Strategies below minConfidence attempts are explored least-attempted
// first; otherwise the highest success rate wins.
func selectStrategy(r *Record, available []Strategy, minConfidence int, prior float64) (Strategy, bool) {
	explore := -1
	for i, s := range available {
		st := r.Stats(s, prior)
		if st.Attempts >= minConfidence {
			continue
		}
		if explore < 0 || st.Attempts < r.Stats(available[explore], prior).Attempts {
			explore = i
		}
	}
	if explore >= 0 {
		return available[explore], true
	}

	best := 0
	for i, s := range available {
		if r.Stats(s, prior).SuccessRate > r.Stats(available[best], prior).SuccessRate {
			best = i
		}
	}
	return available[best], false
}
