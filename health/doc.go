// Package health reports whether the gateway can serve, and brings
// unhealthy backends back.
//
// A Checker returns a Result with a Status of Healthy, Degraded or
// Unhealthy. An Aggregator runs its checks concurrently under a per-check
// timeout and folds them into a Report. Checks registered Optional can at
// worst degrade the report: RegisterBackends adds one optional check per
// backend plus the critical "backends" quorum, so a single backend outage
// degrades readiness while losing all of them fails it.
//
// # Automatic recovery
//
// The dispatch path only ever marks backends unhealthy. A Prober closes the
// loop: it periodically probes the unhealthy backends and marks them healthy
// again (with fresh metrics) once a probe succeeds.
//
//	prober := health.NewProber(registry, health.ProberConfig{
//	    Interval: 30 * time.Second,
//	    Timeout:  5 * time.Second,
//	})
//	go prober.Run(ctx)
//
// # HTTP endpoints
//
//	mux := http.NewServeMux()
//	health.RegisterHandlers(mux, aggregator, registry)
package health
