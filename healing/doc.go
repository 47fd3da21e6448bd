// Package healing recovers from dispatch failures by learning which recovery
// strategy works for which kind of failure.
//
// A Classifier reduces an error and its Context to a stable Signature. The
// Controller keeps a Record per signature with an exponential moving average
// of each strategy's success rate. It explores strategies until each has been
// tried MinConfidence times, then exploits the best one. Execution is guarded
// by a circuit breaker per component: when the breaker is open no strategy
// runs and the outcome requires human intervention.
//
// Records can be persisted through a Store (in memory, or SQLite through
// SQLStore) so learning survives restarts. An empty store is a cold start
// and simply means exploration.
//
// Maintenance compares backend error rate, latency inflation and process
// resource usage against static thresholds and degrades backends before
// their breakers trip.
package healing
