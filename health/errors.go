package health

import "errors"

var (
	// ErrCheckFailed is the cause attached to a failing backend or
	// resource check.
	ErrCheckFailed = errors.New("health: check failed")

	// ErrCheckTimeout means the check outlived the aggregator's timeout.
	ErrCheckTimeout = errors.New("health: check timed out")

	ErrCheckerNotFound = errors.New("health: no such check")

	// ErrNoBackends means every registered backend is unhealthy.
	ErrNoBackends = errors.New("health: no backend available")

	// ErrProbeFailed wraps the error of a recovery probe.
	ErrProbeFailed = errors.New("health: probe failed")
)
