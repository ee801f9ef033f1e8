package telemetry

import (
	"time"
)

// LoggingConfig configures the logger.
type LoggingConfig struct {
	// Level is trace, debug, info, warn, error or fatal.
	Level string

	// Format is "json" or "console".
	Format string

	// Output is "stdout", "stderr" or a file path.
	Output string
}

// DefaultLoggingConfig returns console logging at info level.
func DefaultLoggingConfig() LoggingConfig {
	return LoggingConfig{
		Level:  "info",
		Format: "console",
		Output: "stderr",
	}
}

// MetricsConfig configures the Prometheus collector.
type MetricsConfig struct {
	// Enabled turns metric collection on.
	Enabled bool

	// Namespace prefixes every metric name.
	Namespace string

	// ListenAddress is the host:port for the scrape endpoint; empty
	// disables the listener even when collection is enabled.
	ListenAddress string

	// Path is the scrape endpoint path.
	Path string
}

// DefaultMetricsConfig returns collection enabled with no listener.
func DefaultMetricsConfig() MetricsConfig {
	return MetricsConfig{
		Enabled:   true,
		Namespace: "converge",
		Path:      "/metrics",
	}
}

// TracingConfig configures the OpenTelemetry tracer.
type TracingConfig struct {
	// Enabled turns tracing on.
	Enabled bool

	// Exporter is "stdout", "otlp" or "none".
	Exporter string

	// Endpoint is the OTLP collector endpoint.
	Endpoint string

	// Insecure disables TLS on the OTLP connection.
	Insecure bool

	// SamplingRate is the trace sampling ratio in [0, 1].
	SamplingRate float64

	// ExportTimeout bounds each export batch.
	ExportTimeout time.Duration
}

// DefaultTracingConfig returns tracing disabled.
func DefaultTracingConfig() TracingConfig {
	return TracingConfig{
		Exporter:      "none",
		SamplingRate:  1.0,
		ExportTimeout: 30 * time.Second,
	}
}
