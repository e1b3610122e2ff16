// ABOUTME: Tests for configuration loading and parsing
// ABOUTME: Covers YAML and TOML loading, defaults, env var expansion, duration parsing and validation

package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func writeConfig(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("failed to write test config: %v", err)
	}
	return path
}

func TestLoad_ValidConfig(t *testing.T) {
	configPath := writeConfig(t, "sessions.yaml", `
database:
  path: "./test.db"
  driver: "sqlite3"
  busy_timeout: "750ms"

legacy:
  dir: "./legacy"
  import_on_create: false

naming:
  enabled: true
  threshold: 5
  schedule: "*/5 * * * *"
  provider: "openai"
  model: "gpt-4o"
  base_url: "http://localhost:11434/v1"
  api_key: "sk-test"

logging:
  level: "debug"
  format: "json"

metrics:
  enabled: true
`)

	cfg, err := Load(configPath)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	// Verify database config
	if cfg.Database.Path != "./test.db" {
		t.Errorf("Database.Path = %q, want %q", cfg.Database.Path, "./test.db")
	}
	if cfg.Database.Driver != "sqlite3" {
		t.Errorf("Database.Driver = %q, want %q", cfg.Database.Driver, "sqlite3")
	}
	if cfg.Database.BusyTimeout != 750*time.Millisecond {
		t.Errorf("Database.BusyTimeout = %v, want %v", cfg.Database.BusyTimeout, 750*time.Millisecond)
	}

	// Verify legacy config
	if cfg.Legacy.Dir != "./legacy" {
		t.Errorf("Legacy.Dir = %q, want %q", cfg.Legacy.Dir, "./legacy")
	}
	if cfg.Legacy.ImportOnCreate {
		t.Error("Legacy.ImportOnCreate = true, want false")
	}

	// Verify naming config
	if !cfg.Naming.Enabled {
		t.Error("Naming.Enabled = false, want true")
	}
	if cfg.Naming.Threshold != 5 {
		t.Errorf("Naming.Threshold = %d, want 5", cfg.Naming.Threshold)
	}
	if cfg.Naming.Schedule != "*/5 * * * *" {
		t.Errorf("Naming.Schedule = %q, want %q", cfg.Naming.Schedule, "*/5 * * * *")
	}
	if cfg.Naming.Provider != ProviderOpenAI {
		t.Errorf("Naming.Provider = %q, want %q", cfg.Naming.Provider, ProviderOpenAI)
	}
	if cfg.Naming.Model != "gpt-4o" {
		t.Errorf("Naming.Model = %q, want %q", cfg.Naming.Model, "gpt-4o")
	}
	if cfg.Naming.BaseURL != "http://localhost:11434/v1" {
		t.Errorf("Naming.BaseURL = %q, want %q", cfg.Naming.BaseURL, "http://localhost:11434/v1")
	}
	if cfg.Naming.APIKey != "sk-test" {
		t.Errorf("Naming.APIKey = %q, want %q", cfg.Naming.APIKey, "sk-test")
	}

	// Verify logging config
	if cfg.Logging.Level != "debug" {
		t.Errorf("Logging.Level = %q, want %q", cfg.Logging.Level, "debug")
	}
	if cfg.Logging.Format != "json" {
		t.Errorf("Logging.Format = %q, want %q", cfg.Logging.Format, "json")
	}

	// Verify metrics config
	if !cfg.Metrics.Enabled {
		t.Error("Metrics.Enabled = false, want true")
	}
}

func TestLoad_TOML(t *testing.T) {
	configPath := writeConfig(t, "sessions.toml", `
[database]
path = "./toml.db"
busy_timeout = "2s"

[naming]
enabled = true
threshold = 2

[logging]
format = "json"
`)

	cfg, err := Load(configPath)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.Database.Path != "./toml.db" {
		t.Errorf("Database.Path = %q, want %q", cfg.Database.Path, "./toml.db")
	}
	if cfg.Database.BusyTimeout != 2*time.Second {
		t.Errorf("Database.BusyTimeout = %v, want %v", cfg.Database.BusyTimeout, 2*time.Second)
	}
	if cfg.Naming.Threshold != 2 {
		t.Errorf("Naming.Threshold = %d, want 2", cfg.Naming.Threshold)
	}
	// Unset values keep defaults
	if cfg.Naming.Provider != ProviderFirstMessage {
		t.Errorf("Naming.Provider = %q, want %q", cfg.Naming.Provider, ProviderFirstMessage)
	}
	if cfg.Logging.Level != "info" {
		t.Errorf("Logging.Level = %q, want %q", cfg.Logging.Level, "info")
	}
}

func TestLoad_PartialFileKeepsDefaults(t *testing.T) {
	t.Setenv("XDG_DATA_HOME", "/data")
	configPath := writeConfig(t, "sessions.yaml", `
logging:
  level: "warn"
`)

	cfg, err := Load(configPath)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	want := filepath.Join("/data", "coven", "sessions", "sessions.db")
	if cfg.Database.Path != want {
		t.Errorf("Database.Path = %q, want %q", cfg.Database.Path, want)
	}
	if cfg.Database.BusyTimeout != 5*time.Second {
		t.Errorf("Database.BusyTimeout = %v, want %v", cfg.Database.BusyTimeout, 5*time.Second)
	}
	if !cfg.Legacy.ImportOnCreate {
		t.Error("Legacy.ImportOnCreate = false, want true")
	}
	if cfg.Naming.Threshold != 3 {
		t.Errorf("Naming.Threshold = %d, want 3", cfg.Naming.Threshold)
	}
	if cfg.Logging.Level != "warn" {
		t.Errorf("Logging.Level = %q, want %q", cfg.Logging.Level, "warn")
	}
}

func TestLoad_EnvVarExpansion(t *testing.T) {
	t.Setenv("TEST_OPENAI_KEY", "sk-from-env")
	t.Setenv("TEST_DB_DIR", "/var/lib/coven")

	configPath := writeConfig(t, "sessions.yaml", `
database:
  path: "${TEST_DB_DIR}/sessions.db"

naming:
  enabled: true
  provider: "openai"
  api_key: "${TEST_OPENAI_KEY}"
`)

	cfg, err := Load(configPath)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.Database.Path != "/var/lib/coven/sessions.db" {
		t.Errorf("Database.Path = %q, want %q", cfg.Database.Path, "/var/lib/coven/sessions.db")
	}
	if cfg.Naming.APIKey != "sk-from-env" {
		t.Errorf("Naming.APIKey = %q, want %q", cfg.Naming.APIKey, "sk-from-env")
	}
}

func TestLoad_EnvVarExpansion_UnsetVar(t *testing.T) {
	os.Unsetenv("UNSET_VAR_FOR_TEST")

	configPath := writeConfig(t, "sessions.yaml", `
naming:
  api_key: "${UNSET_VAR_FOR_TEST}"
`)

	cfg, err := Load(configPath)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	// Unset env vars should expand to empty string
	if cfg.Naming.APIKey != "" {
		t.Errorf("Naming.APIKey = %q, want empty string for unset env var", cfg.Naming.APIKey)
	}
}

func TestLoad_InvalidDuration(t *testing.T) {
	configPath := writeConfig(t, "sessions.yaml", `
database:
  busy_timeout: "soon"
`)

	_, err := Load(configPath)
	if err == nil {
		t.Fatal("Load() expected error for invalid duration, got nil")
	}
	if !strings.Contains(err.Error(), "busy_timeout") {
		t.Errorf("error = %v, want mention of busy_timeout", err)
	}
}

func TestLoad_InvalidYAML(t *testing.T) {
	configPath := writeConfig(t, "sessions.yaml", "database: [unclosed")

	if _, err := Load(configPath); err == nil {
		t.Fatal("Load() expected error for invalid YAML, got nil")
	}
}

func TestLoad_FileNotFound(t *testing.T) {
	if _, err := Load("/nonexistent/path/sessions.yaml"); err == nil {
		t.Fatal("Load() expected error for missing file, got nil")
	}
}

func TestLoadOrDefault_MissingFile(t *testing.T) {
	cfg, err := LoadOrDefault(filepath.Join(t.TempDir(), "absent.yaml"))
	if err != nil {
		t.Fatalf("LoadOrDefault() error = %v", err)
	}
	if cfg.Database.Path == "" {
		t.Error("Database.Path is empty, want default")
	}
	if cfg.Naming.Threshold != 3 {
		t.Errorf("Naming.Threshold = %d, want 3", cfg.Naming.Threshold)
	}
}

func TestLoadOrDefault_InvalidFileStillFails(t *testing.T) {
	configPath := writeConfig(t, "sessions.yaml", `
logging:
  level: "loud"
`)

	if _, err := LoadOrDefault(configPath); err == nil {
		t.Fatal("LoadOrDefault() expected validation error, got nil")
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{name: "defaults", mutate: func(*Config) {}},
		{
			name:    "missing database path",
			mutate:  func(c *Config) { c.Database.Path = "" },
			wantErr: "database.path",
		},
		{
			name:    "unknown driver",
			mutate:  func(c *Config) { c.Database.Driver = "postgres" },
			wantErr: "database.driver",
		},
		{
			name:    "negative busy timeout",
			mutate:  func(c *Config) { c.Database.BusyTimeout = -time.Second },
			wantErr: "busy_timeout",
		},
		{
			name:    "import without dir",
			mutate:  func(c *Config) { c.Legacy.Dir = "" },
			wantErr: "legacy.dir",
		},
		{
			name: "import disabled without dir",
			mutate: func(c *Config) {
				c.Legacy.Dir = ""
				c.Legacy.ImportOnCreate = false
			},
		},
		{
			name: "zero threshold",
			mutate: func(c *Config) {
				c.Naming.Enabled = true
				c.Naming.Threshold = 0
			},
			wantErr: "naming.threshold",
		},
		{
			name: "unknown provider",
			mutate: func(c *Config) {
				c.Naming.Enabled = true
				c.Naming.Provider = "carrier-pigeon"
			},
			wantErr: "naming.provider",
		},
		{
			name: "openai without credentials",
			mutate: func(c *Config) {
				c.Naming.Enabled = true
				c.Naming.Provider = ProviderOpenAI
			},
			wantErr: "naming.api_key",
		},
		{
			name: "openai with local base url",
			mutate: func(c *Config) {
				c.Naming.Enabled = true
				c.Naming.Provider = ProviderOpenAI
				c.Naming.BaseURL = "http://localhost:8080/v1"
			},
		},
		{
			name: "bad schedule",
			mutate: func(c *Config) {
				c.Naming.Enabled = true
				c.Naming.Schedule = "every now and then"
			},
			wantErr: "naming.schedule",
		},
		{
			name: "naming disabled ignores bad schedule",
			mutate: func(c *Config) {
				c.Naming.Schedule = "every now and then"
			},
		},
		{
			name:    "bad log level",
			mutate:  func(c *Config) { c.Logging.Level = "verbose" },
			wantErr: "logging.level",
		},
		{
			name:    "bad log format",
			mutate:  func(c *Config) { c.Logging.Format = "xml" },
			wantErr: "logging.format",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(cfg)
			err := cfg.Validate()

			if tt.wantErr == "" {
				if err != nil {
					t.Errorf("Validate() error = %v, want nil", err)
				}
				return
			}
			if err == nil {
				t.Fatalf("Validate() error = nil, want error containing %q", tt.wantErr)
			}
			if !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("Validate() error = %v, want error containing %q", err, tt.wantErr)
			}
		})
	}
}

func TestConfigPath(t *testing.T) {
	t.Setenv("COVEN_SESSIONS_CONFIG", "/etc/coven/custom.yaml")
	if got := ConfigPath(); got != "/etc/coven/custom.yaml" {
		t.Errorf("ConfigPath() = %q, want %q", got, "/etc/coven/custom.yaml")
	}

	t.Setenv("COVEN_SESSIONS_CONFIG", "")
	t.Setenv("XDG_CONFIG_HOME", "/xdg")
	want := filepath.Join("/xdg", "coven", "sessions.yaml")
	if got := ConfigPath(); got != want {
		t.Errorf("ConfigPath() = %q, want %q", got, want)
	}
}

func TestDataPath(t *testing.T) {
	t.Setenv("XDG_DATA_HOME", "/xdg-data")
	want := filepath.Join("/xdg-data", "coven")
	if got := DataPath(); got != want {
		t.Errorf("DataPath() = %q, want %q", got, want)
	}
}

func TestExpandEnvVars(t *testing.T) {
	t.Setenv("COVEN_TEST_A", "alpha")

	got := expandEnvVars("a=${COVEN_TEST_A} b=${COVEN_TEST_MISSING} c=$COVEN_TEST_A")
	want := "a=alpha b= c=$COVEN_TEST_A"
	if got != want {
		t.Errorf("expandEnvVars() = %q, want %q", got, want)
	}
}
