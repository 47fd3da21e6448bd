// Package engine assembles a complete llmops runtime from config.Config.
//
// New resolves secrets, builds the telemetry stack, one adapter per
// configured backend, the registry, the gateway and (when enabled) the
// healing controller with predictive maintenance. Generate runs a request
// through the gateway and hands unrecovered failures to the healing
// controller. Start runs the background loops; Close stops them and
// releases every owned resource.
package engine
