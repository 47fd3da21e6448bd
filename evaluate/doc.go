// Package evaluate benchmarks backends through the gateway.
//
// An Evaluator sends a prompt set to one backend at a time (every other
// backend excluded, so failover cannot hide a slow or failing target) and
// summarizes the latency distribution, success rate and throughput. Results
// accumulate in a history that can be ranked by metric.
package evaluate
