package config

import (
	"fmt"

	"gopkg.in/yaml.v3"

	"github.com/convergekit/converge/pkg/engine"
)

// RunConfig is the top-level configuration for one convergence run. It is
// passed explicitly into every catalog-building function; there are no
// ambient defaults.
type RunConfig struct {
	// Certname is the node's certificate name, used in puppet.conf.
	Certname string `yaml:"certname" validate:"required,hostname_rfc1123"`

	// ConfDir is the puppet configuration directory.
	ConfDir string `yaml:"confdir,omitempty"`

	// Version pins the puppet package version; empty means unpinned.
	Version string `yaml:"version,omitempty"`

	// Agent configures the puppet agent side of the node.
	Agent AgentConfig `yaml:"agent"`

	// Master configures the optional puppet master side of the node.
	Master MasterConfig `yaml:"master"`

	// StoreConfigs configures the database-backed stored-configuration
	// subsystem.
	StoreConfigs StoreConfigsConfig `yaml:"storeconfigs"`

	// History configures local run-history persistence.
	History HistoryConfig `yaml:"history"`

	// Host selects the host access transport.
	Host HostConfig `yaml:"host"`

	// Policy configures the pre-apply policy gate.
	Policy PolicyConfig `yaml:"policy"`

	// Telemetry configures logging, metrics and tracing.
	Telemetry TelemetryConfig `yaml:"telemetry"`
}

// AgentConfig configures the puppet agent resources.
type AgentConfig struct {
	// Server is the master the agent reports to.
	Server string `yaml:"server" validate:"required,hostname_rfc1123"`

	// Environment is the agent's environment name.
	Environment string `yaml:"environment,omitempty"`

	// Ensure is the desired agent service state: running or stopped.
	Ensure string `yaml:"ensure,omitempty" validate:"omitempty,oneof=running stopped"`
}

// MasterConfig configures the puppet master resources.
type MasterConfig struct {
	// Enabled declares the master resource subtree.
	Enabled bool `yaml:"enabled"`

	// Passenger selects the application-server deployment mode: the
	// master runs inside Apache/Passenger and the direct daemon is kept
	// stopped. The two modes are mutually exclusive; exactly one
	// service-management resource owns the master process per run.
	Passenger bool `yaml:"passenger"`

	// AutosignAll writes a wildcard autosign configuration. Intended for
	// lab setups only.
	AutosignAll bool `yaml:"autosign_all"`
}

// StoreConfigsConfig configures the stored-configuration subsystem.
type StoreConfigsConfig struct {
	// Enabled turns on stored configuration on the master.
	Enabled bool `yaml:"enabled"`

	// FragmentOnly emits the storeconfigs settings fragment without the
	// package and database subtree, for nodes whose database stack is
	// provisioned out of band.
	FragmentOnly bool `yaml:"fragment_only"`

	// Adapter selects the database adapter subtree.
	Adapter AdapterConfig `yaml:"adapter"`
}

// HistoryConfig configures the local run-history store.
type HistoryConfig struct {
	// Enabled turns on run-history persistence.
	Enabled bool `yaml:"enabled"`

	// Path is the SQLite database path.
	Path string `yaml:"path,omitempty" validate:"required_if=Enabled true"`
}

// HostConfig selects and configures the host access transport.
type HostConfig struct {
	// Transport is "local" (default) or "ssh".
	Transport string `yaml:"transport,omitempty" validate:"omitempty,oneof=local ssh"`

	// SSH configures the remote transport.
	SSH SSHConfig `yaml:"ssh,omitempty"`
}

// SSHConfig holds remote host connection settings.
type SSHConfig struct {
	// Host is the remote hostname or address.
	Host string `yaml:"host,omitempty"`

	// Port is the SSH port; 0 means 22.
	Port int `yaml:"port,omitempty" validate:"omitempty,min=1,max=65535"`

	// User is the SSH user name.
	User string `yaml:"user,omitempty"`

	// PrivateKeyPath is the path to the private key file.
	PrivateKeyPath string `yaml:"private_key,omitempty"`

	// KnownHostsPath is the path to the known_hosts file; empty disables
	// host key verification.
	KnownHostsPath string `yaml:"known_hosts,omitempty"`
}

// PolicyConfig configures the pre-apply policy gate.
type PolicyConfig struct {
	// Enabled turns on catalog policy evaluation before apply.
	Enabled bool `yaml:"enabled"`

	// Paths lists additional Rego policy files to load.
	Paths []string `yaml:"paths,omitempty"`
}

// TelemetryConfig configures logging, metrics and tracing.
type TelemetryConfig struct {
	// LogLevel is trace, debug, info, warn or error.
	LogLevel string `yaml:"log_level,omitempty" validate:"omitempty,oneof=trace debug info warn error"`

	// MetricsListen is an optional host:port for the Prometheus
	// endpoint; empty disables the listener.
	MetricsListen string `yaml:"metrics_listen,omitempty"`

	// Tracing is "none" (default), "stdout" or "otlp".
	Tracing string `yaml:"tracing,omitempty" validate:"omitempty,oneof=none stdout otlp"`

	// OTLPEndpoint is the collector endpoint for otlp tracing.
	OTLPEndpoint string `yaml:"otlp_endpoint,omitempty"`
}

// AdapterName identifies a supported database adapter.
type AdapterName string

const (
	// AdapterSqlite selects the file-backed sqlite3 adapter.
	AdapterSqlite AdapterName = "sqlite3"

	// AdapterMySQL selects the MySQL adapter.
	AdapterMySQL AdapterName = "mysql"
)

// AdapterConfig is a tagged union over the supported database adapters.
// Unknown adapter names are rejected at configuration parse time, never
// deep inside catalog build logic.
type AdapterConfig struct {
	// Name is the adapter tag.
	Name AdapterName

	// MySQL holds the MySQL options; non-nil exactly when Name is
	// AdapterMySQL.
	MySQL *MySQLOptions
}

// MySQLOptions are the MySQL adapter connection settings.
type MySQLOptions struct {
	// User is the database user.
	User string `yaml:"user"`

	// Password is the database password.
	Password string `yaml:"password"`

	// Server is the database server host.
	Server string `yaml:"server"`

	// Socket is the local socket path used by the database check.
	Socket string `yaml:"socket"`
}

// UnmarshalYAML decodes the adapter union and rejects unknown tags with
// UNSUPPORTED_ADAPTER.
func (a *AdapterConfig) UnmarshalYAML(value *yaml.Node) error {
	var raw struct {
		Name     string `yaml:"name"`
		User     string `yaml:"user"`
		Password string `yaml:"password"`
		Server   string `yaml:"server"`
		Socket   string `yaml:"socket"`
	}
	if err := value.Decode(&raw); err != nil {
		return err
	}

	switch AdapterName(raw.Name) {
	case AdapterSqlite:
		a.Name = AdapterSqlite
		a.MySQL = nil
	case AdapterMySQL:
		if raw.User == "" || raw.Password == "" {
			return engine.NewBuildError(engine.ErrCodeValidation,
				"mysql adapter requires user and password", nil)
		}
		server := raw.Server
		if server == "" {
			server = "localhost"
		}
		a.Name = AdapterMySQL
		a.MySQL = &MySQLOptions{
			User:     raw.User,
			Password: raw.Password,
			Server:   server,
			Socket:   raw.Socket,
		}
	case "":
		// An empty name defaults to sqlite3, the historical Puppet
		// storeconfigs default.
		a.Name = AdapterSqlite
	default:
		return engine.NewBuildError(engine.ErrCodeUnsupportedAdapter,
			fmt.Sprintf("unsupported database adapter %q", raw.Name), nil)
	}
	return nil
}
