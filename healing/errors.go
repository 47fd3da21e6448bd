package healing

import (
	"errors"
	"fmt"
)

var (
	// ErrHealingFailed is matched by every *HealingError.
	ErrHealingFailed = errors.New("healing: recovery failed")

	// ErrNoStrategy indicates the controller has no executors.
	ErrNoStrategy = errors.New("healing: no recovery strategy available")

	// ErrDuplicateStrategy indicates two executors for the same strategy.
	ErrDuplicateStrategy = errors.New("healing: duplicate strategy executor")

	// ErrUnknownStrategy indicates a strategy name that does not parse.
	ErrUnknownStrategy = errors.New("healing: unknown strategy")

	// ErrNilDispatcher indicates an executor built without a dispatcher.
	ErrNilDispatcher = errors.New("healing: dispatcher is nil")

	// ErrNilRegistry indicates maintenance built without a registry.
	ErrNilRegistry = errors.New("healing: registry is nil")

	// ErrNilStore indicates a nil store or database handle.
	ErrNilStore = errors.New("healing: store is nil")
)

// HealingError is the terminal outcome of a failed recovery. It always
// requires human intervention.
type HealingError struct {
	Signature Signature
	// Strategy is unset when no strategy was attempted.
	Strategy  Strategy
	Attempted bool
	Err       error
}

func (e *HealingError) Error() string {
	if !e.Attempted {
		return fmt.Sprintf("healing: %s not attempted: %v", e.Signature, e.Err)
	}
	return fmt.Sprintf("healing: %s via %s: %v", e.Signature, e.Strategy, e.Err)
}

func (e *HealingError) Unwrap() error { return e.Err }

// Is reports ErrHealingFailed.
func (e *HealingError) Is(target error) bool { return target == ErrHealingFailed }

// RequiresHumanIntervention is always true for a healing failure.
func (e *HealingError) RequiresHumanIntervention() bool { return true }
