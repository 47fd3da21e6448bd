package resilience

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// State is a breaker state.
type State int

// Breaker states. Closed admits everything, Open admits nothing until the
// recovery timeout passes, HalfOpen admits a single probe.
const (
	StateClosed State = iota
	StateOpen
	StateHalfOpen
)

var stateNames = [...]string{
	StateClosed:   "closed",
	StateOpen:     "open",
	StateHalfOpen: "half-open",
}

func (s State) String() string {
	if s < 0 || int(s) >= len(stateNames) {
		return "unknown"
	}
	return stateNames[s]
}

// MarshalText renders the state by name, so breaker metrics read well as
// JSON.
func (s State) MarshalText() ([]byte, error) {
	if s.String() == "unknown" {
		return nil, fmt.Errorf("resilience: invalid breaker state %d", int(s))
	}
	return []byte(s.String()), nil
}

// UnmarshalText parses a name written by MarshalText.
func (s *State) UnmarshalText(b []byte) error {
	for i, name := range stateNames {
		if name == string(b) {
			*s = State(i)
			return nil
		}
	}
	return fmt.Errorf("resilience: unknown breaker state %q", b)
}

// CircuitBreakerConfig configures the circuit breaker.
type CircuitBreakerConfig struct {
	// FailureThreshold is the number of consecutive failures before opening
	// the circuit.
	// Default: 5
	FailureThreshold int

	// RecoveryTimeout is how long after the last failure a probe is allowed.
	// Default: 30 seconds
	RecoveryTimeout time.Duration

	// OnStateChange is called when the circuit state changes. It runs with
	// the breaker lock held and must not call back into the breaker.
	OnStateChange func(from, to State)

	// IsFailure determines if an error should count as a failure.
	// Default: all non-nil errors are failures.
	IsFailure func(err error) bool

	keyed KeyedStateChange
}

// CircuitBreaker implements the circuit breaker pattern.
//
// While half-open exactly one probe is admitted; concurrent callers are
// rejected with ErrCircuitHalfOpenBusy rather than queued.
type CircuitBreaker struct {
	config CircuitBreakerConfig
	now    func() time.Time

	mu            sync.Mutex
	state         State
	failures      int
	successes     int
	lastFailure   time.Time
	probeInFlight bool
	generation    uint64
}

// NewCircuitBreaker creates a new circuit breaker.
func NewCircuitBreaker(config CircuitBreakerConfig) *CircuitBreaker {
	if config.FailureThreshold <= 0 {
		config.FailureThreshold = 5
	}
	if config.RecoveryTimeout <= 0 {
		config.RecoveryTimeout = 30 * time.Second
	}
	if config.IsFailure == nil {
		config.IsFailure = func(err error) bool { return err != nil }
	}

	return &CircuitBreaker{
		config: config,
		now:    time.Now,
		state:  StateClosed,
	}
}

// Permit is an admission granted by Allow. Exactly one of Done or Cancel
// should be called; later calls are no-ops.
type Permit struct {
	cb         *CircuitBreaker
	generation uint64
	probe      bool

	once sync.Once
}

// Probe reports whether this permit is the half-open probe.
func (p *Permit) Probe() bool {
	return p.probe
}

// Done reports the outcome of the guarded call.
func (p *Permit) Done(err error) {
	p.once.Do(func() {
		p.cb.afterRequest(p, err)
	})
}

// Cancel releases the permit without recording an outcome.
func (p *Permit) Cancel() {
	p.once.Do(func() {
		p.cb.release(p)
	})
}

// Allow asks the breaker for admission. It never blocks.
func (cb *CircuitBreaker) Allow() (*Permit, error) {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	switch cb.currentStateLocked() {
	case StateOpen:
		return nil, ErrCircuitOpen
	case StateHalfOpen:
		if cb.probeInFlight {
			return nil, ErrCircuitHalfOpenBusy
		}
		cb.probeInFlight = true
		return &Permit{cb: cb, generation: cb.generation, probe: true}, nil
	}
	return &Permit{cb: cb, generation: cb.generation}, nil
}

// Execute runs the operation through the circuit breaker.
func (cb *CircuitBreaker) Execute(ctx context.Context, op func(context.Context) error) error {
	permit, err := cb.Allow()
	if err != nil {
		return err
	}

	err = op(ctx)
	permit.Done(err)
	return err
}

// State returns the current circuit state.
func (cb *CircuitBreaker) State() State {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.currentStateLocked()
}

// Reset resets the circuit breaker to closed state.
func (cb *CircuitBreaker) Reset() {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	cb.failures = 0
	cb.successes = 0
	cb.setStateLocked(StateClosed)
}

func (cb *CircuitBreaker) afterRequest(p *Permit, err error) {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	// A permit from an earlier generation reports on a state that is gone.
	if p.generation != cb.generation {
		return
	}
	if p.probe {
		cb.probeInFlight = false
	}

	if !cb.config.IsFailure(err) {
		cb.failures = 0
		if cb.state == StateHalfOpen {
			cb.successes = 0
			cb.setStateLocked(StateClosed)
			return
		}
		cb.successes++
		return
	}

	cb.failures++
	cb.lastFailure = cb.now()
	if cb.state == StateHalfOpen || cb.failures >= cb.config.FailureThreshold {
		cb.setStateLocked(StateOpen)
	}
}

func (cb *CircuitBreaker) release(p *Permit) {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	if p.probe && p.generation == cb.generation {
		cb.probeInFlight = false
	}
}

func (cb *CircuitBreaker) currentStateLocked() State {
	if cb.state == StateOpen && cb.now().Sub(cb.lastFailure) >= cb.config.RecoveryTimeout {
		cb.setStateLocked(StateHalfOpen)
	}
	return cb.state
}

func (cb *CircuitBreaker) setStateLocked(state State) {
	old := cb.state
	if old == state {
		return
	}
	cb.state = state
	cb.generation++
	cb.probeInFlight = false

	if cb.config.OnStateChange != nil {
		cb.config.OnStateChange(old, state)
	}
}

// Metrics returns current circuit breaker metrics.
func (cb *CircuitBreaker) Metrics() CircuitBreakerMetrics {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	return CircuitBreakerMetrics{
		State:         cb.currentStateLocked(),
		Failures:      cb.failures,
		Successes:     cb.successes,
		LastFailure:   cb.lastFailure,
		ProbeInFlight: cb.probeInFlight,
	}
}

// CircuitBreakerMetrics is a snapshot of one breaker. Failures counts
// consecutive failures; Successes counts successes since the last close.
type CircuitBreakerMetrics struct {
	State         State     `json:"state"`
	Failures      int       `json:"failures"`
	Successes     int       `json:"successes"`
	LastFailure   time.Time `json:"last_failure,omitzero"`
	ProbeInFlight bool      `json:"probe_in_flight,omitempty"`
}
