// Package observe provides observability primitives for LLM dispatch.
//
// Every instrumented operation is described by a Meta (component, operation,
// backend, model, strategy). The Middleware wraps an operation with an
// OpenTelemetry span, execution counters and a duration histogram, and one
// structured log line. The package performs no I/O of its own beyond exporter
// setup; the gateway and healing packages wire it in.
package observe
