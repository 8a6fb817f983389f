// Package telemetry provides structured logging, Prometheus metrics, and
// OpenTelemetry tracing for the devlab orchestrator. A single Config is
// assembled at startup and handed to every component; components never touch
// global logging state directly.
package telemetry
