package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/convergekit/converge/pkg/engine"
)

const minimalYAML = `
certname: node1.example.com
agent:
  server: puppet.example.com
`

func TestParse_Minimal(t *testing.T) {
	cfg, err := Parse([]byte(minimalYAML))
	if err != nil {
		t.Fatalf("Expected no error, got: %v", err)
	}

	if cfg.Certname != "node1.example.com" {
		t.Errorf("Expected certname node1.example.com, got %s", cfg.Certname)
	}
	if cfg.ConfDir != DefaultConfDir {
		t.Errorf("Expected default confdir %s, got %s", DefaultConfDir, cfg.ConfDir)
	}
	if cfg.Agent.Environment != DefaultEnvironment {
		t.Errorf("Expected default environment, got %s", cfg.Agent.Environment)
	}
	if cfg.Agent.Ensure != "running" {
		t.Errorf("Expected default agent ensure running, got %s", cfg.Agent.Ensure)
	}
	if cfg.Host.Transport != "local" {
		t.Errorf("Expected default transport local, got %s", cfg.Host.Transport)
	}
	if cfg.Telemetry.LogLevel != DefaultLogLevel {
		t.Errorf("Expected default log level, got %s", cfg.Telemetry.LogLevel)
	}
	if cfg.Master.Enabled || cfg.StoreConfigs.Enabled {
		t.Error("Expected master and storeconfigs disabled by default")
	}
}

func TestParse_MissingCertname(t *testing.T) {
	_, err := Parse([]byte("agent:\n  server: puppet.example.com\n"))
	if err == nil {
		t.Fatal("Expected missing certname to fail validation")
	}
	if engine.CodeOf(err) != engine.ErrCodeValidation {
		t.Errorf("Expected code %s, got %s", engine.ErrCodeValidation, engine.CodeOf(err))
	}
	if !engine.IsBuildError(err) {
		t.Error("Expected a build-fatal error")
	}
}

func TestParse_UnknownKeyRejected(t *testing.T) {
	_, err := Parse([]byte(minimalYAML + "certnam: typo\n"))
	if err == nil {
		t.Fatal("Expected unknown key to fail decoding")
	}
}

func TestParse_InvalidAgentEnsure(t *testing.T) {
	_, err := Parse([]byte(`
certname: node1.example.com
agent:
  server: puppet.example.com
  ensure: sideways
`))
	if engine.CodeOf(err) != engine.ErrCodeValidation {
		t.Errorf("Expected code %s, got %v", engine.ErrCodeValidation, err)
	}
}

func TestParse_StoreConfigsRequiresMaster(t *testing.T) {
	_, err := Parse([]byte(`
certname: node1.example.com
agent:
  server: puppet.example.com
storeconfigs:
  enabled: true
`))
	if err == nil {
		t.Fatal("Expected storeconfigs without master to fail")
	}
	if engine.CodeOf(err) != engine.ErrCodeValidation {
		t.Errorf("Expected code %s, got %s", engine.ErrCodeValidation, engine.CodeOf(err))
	}
}

func TestParse_SSHTransportRequiresHostAndUser(t *testing.T) {
	_, err := Parse([]byte(`
certname: node1.example.com
agent:
  server: puppet.example.com
host:
  transport: ssh
`))
	if err == nil {
		t.Fatal("Expected ssh transport without host to fail")
	}

	cfg, err := Parse([]byte(`
certname: node1.example.com
agent:
  server: puppet.example.com
host:
  transport: ssh
  ssh:
    host: node1.example.com
    user: root
`))
	if err != nil {
		t.Fatalf("Expected no error, got: %v", err)
	}
	if cfg.Host.SSH.Port != 22 {
		t.Errorf("Expected default ssh port 22, got %d", cfg.Host.SSH.Port)
	}
}

func TestParse_HistoryDefaultPath(t *testing.T) {
	cfg, err := Parse([]byte(`
certname: node1.example.com
agent:
  server: puppet.example.com
history:
  enabled: true
`))
	if err != nil {
		t.Fatalf("Expected no error, got: %v", err)
	}
	if cfg.History.Path != DefaultHistoryPath {
		t.Errorf("Expected default history path, got %s", cfg.History.Path)
	}
}

func TestAdapterConfig_Sqlite(t *testing.T) {
	cfg, err := Parse([]byte(`
certname: node1.example.com
agent:
  server: puppet.example.com
master:
  enabled: true
storeconfigs:
  enabled: true
  adapter:
    name: sqlite3
`))
	if err != nil {
		t.Fatalf("Expected no error, got: %v", err)
	}
	if cfg.StoreConfigs.Adapter.Name != AdapterSqlite {
		t.Errorf("Expected sqlite3 adapter, got %s", cfg.StoreConfigs.Adapter.Name)
	}
	if cfg.StoreConfigs.Adapter.MySQL != nil {
		t.Error("Expected no mysql options for sqlite adapter")
	}
}

func TestAdapterConfig_DefaultsToSqlite(t *testing.T) {
	cfg, err := Parse([]byte(`
certname: node1.example.com
agent:
  server: puppet.example.com
master:
  enabled: true
storeconfigs:
  enabled: true
`))
	if err != nil {
		t.Fatalf("Expected no error, got: %v", err)
	}
	if cfg.StoreConfigs.Adapter.Name != AdapterSqlite {
		t.Errorf("Expected omitted adapter to default to sqlite3, got %q", cfg.StoreConfigs.Adapter.Name)
	}
}

func TestAdapterConfig_MySQL(t *testing.T) {
	cfg, err := Parse([]byte(`
certname: node1.example.com
agent:
  server: puppet.example.com
master:
  enabled: true
storeconfigs:
  enabled: true
  adapter:
    name: mysql
    user: puppet
    password: secret
`))
	if err != nil {
		t.Fatalf("Expected no error, got: %v", err)
	}

	a := cfg.StoreConfigs.Adapter
	if a.Name != AdapterMySQL {
		t.Errorf("Expected mysql adapter, got %s", a.Name)
	}
	if a.MySQL == nil {
		t.Fatal("Expected mysql options to be populated")
	}
	if a.MySQL.Server != "localhost" {
		t.Errorf("Expected default server localhost, got %s", a.MySQL.Server)
	}
}

func TestAdapterConfig_MySQLRequiresCredentials(t *testing.T) {
	_, err := Parse([]byte(`
certname: node1.example.com
agent:
  server: puppet.example.com
master:
  enabled: true
storeconfigs:
  enabled: true
  adapter:
    name: mysql
    user: puppet
`))
	if err == nil {
		t.Fatal("Expected mysql without password to fail")
	}
	if engine.CodeOf(err) != engine.ErrCodeValidation {
		t.Errorf("Expected code %s, got %s", engine.ErrCodeValidation, engine.CodeOf(err))
	}
}

func TestAdapterConfig_UnknownRejectedAtParse(t *testing.T) {
	_, err := Parse([]byte(`
certname: node1.example.com
agent:
  server: puppet.example.com
master:
  enabled: true
storeconfigs:
  enabled: true
  adapter:
    name: postgresql
`))
	if err == nil {
		t.Fatal("Expected unknown adapter to be rejected at parse time")
	}
	if engine.CodeOf(err) != engine.ErrCodeUnsupportedAdapter {
		t.Errorf("Expected code %s, got %s", engine.ErrCodeUnsupportedAdapter, engine.CodeOf(err))
	}
}

func TestLoad_File(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "converge.yaml")
	if err := os.WriteFile(path, []byte(minimalYAML), 0o644); err != nil {
		t.Fatalf("Expected no error, got: %v", err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Expected no error, got: %v", err)
	}
	if cfg.Certname != "node1.example.com" {
		t.Errorf("Expected certname from file, got %s", cfg.Certname)
	}

	if _, err := Load(filepath.Join(dir, "missing.yaml")); err == nil {
		t.Error("Expected missing file to fail")
	}
}
