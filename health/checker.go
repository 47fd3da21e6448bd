package health

import (
	"context"
	"encoding/json"
	"fmt"
	"time"
)

// Status is a health level. Larger values are worse, so the worst of two
// statuses is their maximum.
type Status int

const (
	StatusHealthy Status = iota
	StatusDegraded
	StatusUnhealthy
)

func (s Status) String() string {
	switch s {
	case StatusHealthy:
		return "healthy"
	case StatusDegraded:
		return "degraded"
	case StatusUnhealthy:
		return "unhealthy"
	default:
		return fmt.Sprintf("status(%d)", int(s))
	}
}

// MarshalText renders the status by name in JSON reports.
func (s Status) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// UnmarshalText accepts the names produced by MarshalText.
func (s *Status) UnmarshalText(b []byte) error {
	switch string(b) {
	case "healthy":
		*s = StatusHealthy
	case "degraded":
		*s = StatusDegraded
	case "unhealthy":
		*s = StatusUnhealthy
	default:
		return fmt.Errorf("health: unknown status %q", b)
	}
	return nil
}

// Worse returns the worse of s and o.
func (s Status) Worse(o Status) Status {
	return max(s, o)
}

// Result is the outcome of one check run.
type Result struct {
	Status    Status         `json:"status"`
	Message   string         `json:"message,omitempty"`
	Details   map[string]any `json:"details,omitempty"`
	Duration  time.Duration  `json:"-"`
	CheckedAt time.Time      `json:"checked_at"`

	// Err is why the check did not pass, when it has a cause.
	Err error `json:"-"`
}

func newResult(s Status, msg string, err error) Result {
	return Result{Status: s, Message: msg, Err: err, CheckedAt: time.Now()}
}

// Healthy returns a passing result.
func Healthy(msg string) Result { return newResult(StatusHealthy, msg, nil) }

// Degraded returns a result that still serves traffic.
func Degraded(msg string) Result { return newResult(StatusDegraded, msg, nil) }

// Unhealthy returns a failing result caused by err.
func Unhealthy(msg string, err error) Result { return newResult(StatusUnhealthy, msg, err) }

// WithDetails attaches structured context to r.
func (r Result) WithDetails(details map[string]any) Result {
	r.Details = details
	return r
}

// MarshalJSON renders Duration and Err as strings.
func (r Result) MarshalJSON() ([]byte, error) {
	type plain Result
	v := struct {
		plain
		Duration string `json:"duration"`
		Error    string `json:"error,omitempty"`
	}{plain: plain(r), Duration: r.Duration.String()}
	if r.Err != nil {
		v.Error = r.Err.Error()
	}
	return json.Marshal(v)
}

// Checker is one health check.
type Checker interface {
	Name() string
	Check(ctx context.Context) Result
}

// Func adapts fn to a Checker named name.
func Func(name string, fn func(context.Context) Result) Checker {
	return funcChecker{name: name, fn: fn}
}

type funcChecker struct {
	name string
	fn   func(context.Context) Result
}

func (f funcChecker) Name() string                     { return f.name }
func (f funcChecker) Check(ctx context.Context) Result { return f.fn(ctx) }
