package commands

import (
	"context"
	"fmt"

	"github.com/convergekit/converge/pkg/config"
	"github.com/convergekit/converge/pkg/engine"
	"github.com/convergekit/converge/pkg/host"
	sshhost "github.com/convergekit/converge/pkg/host/ssh"
	"github.com/convergekit/converge/pkg/modules/puppetcm"
	"github.com/convergekit/converge/pkg/resources"
	"github.com/convergekit/converge/pkg/telemetry"
)

// runtime holds the wired components shared by the run-oriented
// commands.
type runtime struct {
	cfg      *config.RunConfig
	logger   *telemetry.Logger
	metrics  *telemetry.Metrics
	tracer   *telemetry.Tracer
	registry *engine.Registry
	catalog  *engine.Catalog
}

// newRuntime loads configuration and builds the catalog with attribute
// validation. Telemetry is initialized from the config's telemetry
// section.
func newRuntime(version string) (*runtime, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, err
	}

	logCfg := telemetry.DefaultLoggingConfig()
	logCfg.Level = cfg.Telemetry.LogLevel
	if verbose {
		logCfg.Level = "debug"
	}
	logger, err := telemetry.NewLogger(logCfg)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize logging: %w", err)
	}

	metricsCfg := telemetry.DefaultMetricsConfig()
	metricsCfg.ListenAddress = cfg.Telemetry.MetricsListen
	metrics, err := telemetry.NewMetrics(metricsCfg)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize metrics: %w", err)
	}
	metrics.StartMetricsServer(logger)

	traceCfg := telemetry.DefaultTracingConfig()
	if cfg.Telemetry.Tracing != "none" {
		traceCfg.Enabled = true
		traceCfg.Exporter = cfg.Telemetry.Tracing
		traceCfg.Endpoint = cfg.Telemetry.OTLPEndpoint
		traceCfg.Insecure = true
	}
	tracer, err := telemetry.NewTracer(traceCfg, "converge", version)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize tracing: %w", err)
	}

	registry := resources.DefaultRegistry()
	catalog, err := puppetcm.Build(cfg,
		engine.WithRegistry(registry),
		engine.WithAttrValidator(config.NewSchemaRegistry()),
	)
	if err != nil {
		return nil, err
	}

	return &runtime{
		cfg:      cfg,
		logger:   logger,
		metrics:  metrics,
		tracer:   tracer,
		registry: registry,
		catalog:  catalog,
	}, nil
}

// connectHost opens the host transport the configuration selects. The
// returned cleanup function closes remote connections.
func (rt *runtime) connectHost(ctx context.Context) (host.Host, func(), error) {
	switch rt.cfg.Host.Transport {
	case "local", "":
		return host.NewLocal(), func() {}, nil
	case "ssh":
		sshCfg := sshhost.DefaultConfig(rt.cfg.Host.SSH.Host, rt.cfg.Host.SSH.User)
		sshCfg.Port = rt.cfg.Host.SSH.Port
		if rt.cfg.Host.SSH.PrivateKeyPath != "" {
			sshCfg.PrivateKeyPath = rt.cfg.Host.SSH.PrivateKeyPath
		}
		sshCfg.KnownHostsPath = rt.cfg.Host.SSH.KnownHostsPath

		h, err := sshhost.Connect(ctx, sshCfg)
		if err != nil {
			return nil, nil, err
		}
		return h, func() { _ = h.Close() }, nil
	default:
		return nil, nil, fmt.Errorf("unknown host transport: %s", rt.cfg.Host.Transport)
	}
}

// shutdown flushes telemetry.
func (rt *runtime) shutdown(ctx context.Context) {
	if rt.tracer != nil {
		_ = rt.tracer.Shutdown(ctx)
	}
}
