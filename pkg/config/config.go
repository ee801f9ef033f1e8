package config

import (
	"bytes"
	"errors"
	"fmt"
	"os"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"

	"github.com/convergekit/converge/pkg/engine"
)

// Default values applied when a run configuration omits a field.
const (
	DefaultConfDir     = "/etc/puppet"
	DefaultEnvironment = "production"
	DefaultHistoryPath = "converge.db"
	DefaultLogLevel    = "info"
)

var validate = validator.New(validator.WithRequiredStructEnabled())

// Load reads, decodes and validates a run configuration file. Unknown
// YAML keys are rejected so typos surface at load time.
func Load(path string) (*RunConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, engine.NewBuildError(engine.ErrCodeValidation,
			fmt.Sprintf("failed to read config file %s", path), err)
	}
	return Parse(data)
}

// Parse decodes and validates a run configuration from raw YAML.
func Parse(data []byte) (*RunConfig, error) {
	var cfg RunConfig
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&cfg); err != nil {
		// Custom unmarshalers emit classified errors; keep their code
		// instead of re-wrapping everything as a validation failure.
		var ee *engine.EngineError
		if errors.As(err, &ee) {
			return nil, ee
		}
		return nil, engine.NewBuildError(engine.ErrCodeValidation,
			"failed to decode config", err)
	}

	cfg.applyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *RunConfig) applyDefaults() {
	if c.ConfDir == "" {
		c.ConfDir = DefaultConfDir
	}
	if c.Agent.Environment == "" {
		c.Agent.Environment = DefaultEnvironment
	}
	if c.Agent.Ensure == "" {
		c.Agent.Ensure = "running"
	}
	if c.History.Enabled && c.History.Path == "" {
		c.History.Path = DefaultHistoryPath
	}
	// An omitted adapter key never reaches the union's unmarshaler, so
	// the default has to be applied here as well.
	if c.StoreConfigs.Enabled && c.StoreConfigs.Adapter.Name == "" {
		c.StoreConfigs.Adapter.Name = AdapterSqlite
	}
	if c.Host.Transport == "" {
		c.Host.Transport = "local"
	}
	if c.Host.SSH.Port == 0 {
		c.Host.SSH.Port = 22
	}
	if c.Telemetry.LogLevel == "" {
		c.Telemetry.LogLevel = DefaultLogLevel
	}
	if c.Telemetry.Tracing == "" {
		c.Telemetry.Tracing = "none"
	}
}

// Validate checks structural constraints and cross-field invariants.
func (c *RunConfig) Validate() error {
	if err := validate.Struct(c); err != nil {
		return engine.NewBuildError(engine.ErrCodeValidation,
			"config validation failed", err)
	}

	if c.StoreConfigs.Enabled && !c.Master.Enabled {
		return engine.NewBuildError(engine.ErrCodeValidation,
			"storeconfigs requires the master to be enabled", nil)
	}
	if c.Host.Transport == "ssh" {
		if c.Host.SSH.Host == "" || c.Host.SSH.User == "" {
			return engine.NewBuildError(engine.ErrCodeValidation,
				"ssh transport requires host and user", nil)
		}
	}
	return nil
}
