package telemetry

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/convergekit/converge/pkg/engine"
)

// Metrics provides Prometheus metrics for convergence runs. It
// implements engine.MetricsRecorder; the zero-value (disabled) form is a
// safe no-op.
type Metrics struct {
	config MetricsConfig

	runsStarted   *prometheus.CounterVec
	runsCompleted *prometheus.CounterVec
	runDuration   *prometheus.HistogramVec

	resourcesConverged *prometheus.CounterVec
	resourceDuration   *prometheus.HistogramVec

	errorsByCode *prometheus.CounterVec

	activeRuns prometheus.Gauge

	registry *prometheus.Registry
}

// NewMetrics creates a new metrics collector with the given configuration.
func NewMetrics(cfg MetricsConfig) (*Metrics, error) {
	if !cfg.Enabled {
		return &Metrics{config: cfg}, nil
	}

	namespace := cfg.Namespace
	registry := prometheus.NewRegistry()

	m := &Metrics{
		config:   cfg,
		registry: registry,

		runsStarted: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "runs_started_total",
				Help:      "Total number of convergence runs started",
			},
			[]string{"dry_run"},
		),
		runsCompleted: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "runs_completed_total",
				Help:      "Total number of convergence runs completed",
			},
			[]string{"status"},
		),
		runDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "run_duration_seconds",
				Help:      "Duration of convergence runs in seconds",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"status"},
		),

		resourcesConverged: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "resources_converged_total",
				Help:      "Total number of resources converged by terminal status",
			},
			[]string{"kind", "status"},
		),
		resourceDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "resource_duration_seconds",
				Help:      "Duration of per-resource convergence in seconds",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"kind"},
		),

		errorsByCode: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "errors_by_code_total",
				Help:      "Total number of errors by error code",
			},
			[]string{"code"},
		),

		activeRuns: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "active_runs",
				Help:      "Current number of active convergence runs",
			},
		),
	}

	registry.MustRegister(
		m.runsStarted,
		m.runsCompleted,
		m.runDuration,
		m.resourcesConverged,
		m.resourceDuration,
		m.errorsByCode,
		m.activeRuns,
	)

	return m, nil
}

// RunStarted increments the started-run counter.
func (m *Metrics) RunStarted(dryRun bool) {
	if m.runsStarted == nil {
		return
	}
	label := "false"
	if dryRun {
		label = "true"
	}
	m.runsStarted.WithLabelValues(label).Inc()
	m.activeRuns.Inc()
}

// RunCompleted records a completed run with its status and duration.
func (m *Metrics) RunCompleted(status engine.RunStatus, duration time.Duration) {
	if m.runsCompleted == nil {
		return
	}
	m.runsCompleted.WithLabelValues(string(status)).Inc()
	m.runDuration.WithLabelValues(string(status)).Observe(duration.Seconds())
	m.activeRuns.Dec()
}

// ResourceConverged records one resource reaching a terminal status.
func (m *Metrics) ResourceConverged(kind string, status engine.ResourceStatus, duration time.Duration) {
	if m.resourcesConverged == nil {
		return
	}
	m.resourcesConverged.WithLabelValues(kind, string(status)).Inc()
	m.resourceDuration.WithLabelValues(kind).Observe(duration.Seconds())
}

// ErrorByCode records an error occurrence by its code.
func (m *Metrics) ErrorByCode(code string) {
	if m.errorsByCode == nil {
		return
	}
	m.errorsByCode.WithLabelValues(code).Inc()
}

// Handler returns an HTTP handler for the metrics endpoint.
func (m *Metrics) Handler() http.Handler {
	if m.registry == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{
		EnableOpenMetrics: true,
	})
}

// StartMetricsServer exposes the metrics endpoint when a listen address
// is configured. The server runs until the process exits.
func (m *Metrics) StartMetricsServer(logger *Logger) {
	if !m.config.Enabled || m.config.ListenAddress == "" {
		return
	}

	mux := http.NewServeMux()
	mux.Handle(m.config.Path, m.Handler())

	server := &http.Server{
		Addr:              m.config.ListenAddress,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.WithError(err).Error("metrics server failed")
		}
	}()
}
