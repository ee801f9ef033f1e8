// Package telemetry provides structured logging, Prometheus metrics and
// OpenTelemetry tracing for convergence runs.
package telemetry
