package healing

import "fmt"

// Strategy is a predefined recovery action. The declaration order breaks
// selection ties.
type Strategy int

const (
	StrategyRetryWithBackoff Strategy = iota
	StrategyFallbackToTemplate
	StrategyReduceComplexity
	StrategyAlternativeProvider
	StrategyGracefulDegradation
)

var strategyNames = [...]string{
	StrategyRetryWithBackoff:    "retry_with_backoff",
	StrategyFallbackToTemplate:  "fallback_to_template",
	StrategyReduceComplexity:    "reduce_complexity",
	StrategyAlternativeProvider: "alternative_provider",
	StrategyGracefulDegradation: "graceful_degradation",
}

// Strategies returns every strategy in declaration order.
func Strategies() []Strategy {
	out := make([]Strategy, len(strategyNames))
	for i := range strategyNames {
		out[i] = Strategy(i)
	}
	return out
}

func (s Strategy) String() string {
	if s < 0 || int(s) >= len(strategyNames) {
		return fmt.Sprintf("strategy(%d)", int(s))
	}
	return strategyNames[s]
}

// Valid reports whether s is a declared strategy.
func (s Strategy) Valid() bool {
	return s >= 0 && int(s) < len(strategyNames)
}

// ParseStrategy parses the snake_case strategy name.
func ParseStrategy(name string) (Strategy, error) {
	for i, n := range strategyNames {
		if n == name {
			return Strategy(i), nil
		}
	}
	return 0, fmt.Errorf("%w: %q", ErrUnknownStrategy, name)
}

// MarshalText implements encoding.TextMarshaler.
func (s Strategy) MarshalText() ([]byte, error) {
	if !s.Valid() {
		return nil, fmt.Errorf("%w: %d", ErrUnknownStrategy, int(s))
	}
	return []byte(s.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (s *Strategy) UnmarshalText(text []byte) error {
	v, err := ParseStrategy(string(text))
	if err != nil {
		return err
	}
	*s = v
	return nil
}
