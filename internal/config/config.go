// ABOUTME: Configuration loading and parsing for coven-sessions
// ABOUTME: Supports YAML or TOML files with environment variable expansion and duration parsing

package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/robfig/cron/v3"
	"gopkg.in/yaml.v3"
)

// Naming provider identifiers.
const (
	ProviderOpenAI       = "openai"
	ProviderFirstMessage = "first_message"
)

// Config represents the complete coven-sessions configuration
type Config struct {
	Database DatabaseConfig `yaml:"database" toml:"database"`
	Legacy   LegacyConfig   `yaml:"legacy" toml:"legacy"`
	Naming   NamingConfig   `yaml:"naming" toml:"naming"`
	Logging  LoggingConfig  `yaml:"logging" toml:"logging"`
	Metrics  MetricsConfig  `yaml:"metrics" toml:"metrics"`
}

// DatabaseConfig holds database configuration
type DatabaseConfig struct {
	Path   string `yaml:"path" toml:"path"`
	Driver string `yaml:"driver" toml:"driver"`

	BusyTimeout time.Duration `yaml:"-" toml:"-"`

	// Raw string value for unmarshaling
	BusyTimeoutRaw string `yaml:"busy_timeout" toml:"busy_timeout"`
}

// LegacyConfig points at flat-file sessions imported when the database is created
type LegacyConfig struct {
	Dir            string `yaml:"dir" toml:"dir"`
	ImportOnCreate bool   `yaml:"import_on_create" toml:"import_on_create"`
}

// NamingConfig controls automatic session descriptions
type NamingConfig struct {
	Enabled   bool   `yaml:"enabled" toml:"enabled"`
	Threshold int    `yaml:"threshold" toml:"threshold"`
	Schedule  string `yaml:"schedule" toml:"schedule"` // cron spec for rename --watch
	Provider  string `yaml:"provider" toml:"provider"` // openai or first_message
	Model     string `yaml:"model" toml:"model"`
	BaseURL   string `yaml:"base_url" toml:"base_url"`
	APIKey    string `yaml:"api_key" toml:"api_key"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level  string `yaml:"level" toml:"level"`
	Format string `yaml:"format" toml:"format"`
}

// MetricsConfig toggles collection of tool ledger metrics
type MetricsConfig struct {
	Enabled bool `yaml:"enabled" toml:"enabled"`
}

// Default returns the configuration used when no file exists.
func Default() *Config {
	dataDir := DataPath()
	return &Config{
		Database: DatabaseConfig{
			Path:           filepath.Join(dataDir, "sessions", "sessions.db"),
			Driver:         "sqlite",
			BusyTimeout:    5 * time.Second,
			BusyTimeoutRaw: "5s",
		},
		Legacy: LegacyConfig{
			Dir:            filepath.Join(dataDir, "sessions"),
			ImportOnCreate: true,
		},
		Naming: NamingConfig{
			Threshold: 3,
			Schedule:  "@every 10m",
			Provider:  ProviderFirstMessage,
			Model:     "gpt-4o-mini",
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "text",
		},
	}
}

// ConfigPath returns the path to the sessions config file.
// Priority: COVEN_SESSIONS_CONFIG env var > XDG_CONFIG_HOME/coven/sessions.yaml > ~/.config/coven/sessions.yaml
func ConfigPath() string {
	if envPath := os.Getenv("COVEN_SESSIONS_CONFIG"); envPath != "" {
		return envPath
	}

	configDir := os.Getenv("XDG_CONFIG_HOME")
	if configDir == "" {
		homeDir, err := os.UserHomeDir()
		if err != nil {
			return "sessions.yaml" // fallback
		}
		configDir = filepath.Join(homeDir, ".config")
	}

	return filepath.Join(configDir, "coven", "sessions.yaml")
}

// DataPath returns the path to the coven data directory.
// Priority: XDG_DATA_HOME/coven > ~/.local/share/coven
func DataPath() string {
	dataDir := os.Getenv("XDG_DATA_HOME")
	if dataDir == "" {
		homeDir, err := os.UserHomeDir()
		if err != nil {
			return "data" // fallback
		}
		dataDir = filepath.Join(homeDir, ".local", "share")
	}

	return filepath.Join(dataDir, "coven")
}

// Load reads a configuration file from the given path and returns a parsed Config.
// Files ending in .toml are parsed as TOML, everything else as YAML.
// Values not present in the file keep their defaults.
// Environment variables in the format ${VAR_NAME} are expanded.
// Duration strings are parsed into time.Duration values.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	// Expand environment variables in the raw content
	expandedData := expandEnvVars(string(data))

	cfg := Default()
	if strings.EqualFold(filepath.Ext(path), ".toml") {
		if _, err := toml.Decode(expandedData, cfg); err != nil {
			return nil, fmt.Errorf("parsing config file: %w", err)
		}
	} else {
		if err := yaml.Unmarshal([]byte(expandedData), cfg); err != nil {
			return nil, fmt.Errorf("parsing config file: %w", err)
		}
	}

	if err := parseDurations(cfg); err != nil {
		return nil, fmt.Errorf("parsing durations: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return cfg, nil
}

// LoadOrDefault behaves like Load but returns Default() when path does not exist.
func LoadOrDefault(path string) (*Config, error) {
	cfg, err := Load(path)
	if errors.Is(err, os.ErrNotExist) {
		return Default(), nil
	}
	return cfg, err
}

// expandEnvVars replaces ${VAR_NAME} patterns with the corresponding environment variable values.
// If the environment variable is not set, it is replaced with an empty string.
func expandEnvVars(s string) string {
	re := regexp.MustCompile(`\$\{([^}]+)\}`)

	return re.ReplaceAllStringFunc(s, func(match string) string {
		varName := re.FindStringSubmatch(match)[1]
		return os.Getenv(varName)
	})
}

// Validate checks that all required configuration fields are present and valid.
// Returns an error describing the first validation failure encountered.
func (c *Config) Validate() error {
	if c.Database.Path == "" {
		return fmt.Errorf("database.path is required")
	}

	switch c.Database.Driver {
	case "", "sqlite", "sqlite3":
	default:
		return fmt.Errorf("database.driver must be sqlite or sqlite3, got %q", c.Database.Driver)
	}

	if c.Database.BusyTimeout < 0 {
		return fmt.Errorf("database.busy_timeout must not be negative")
	}

	if c.Legacy.ImportOnCreate && c.Legacy.Dir == "" {
		return fmt.Errorf("legacy.dir is required when legacy.import_on_create is set")
	}

	if c.Naming.Enabled {
		if c.Naming.Threshold < 1 {
			return fmt.Errorf("naming.threshold must be at least 1")
		}
		switch c.Naming.Provider {
		case ProviderFirstMessage:
		case ProviderOpenAI:
			if c.Naming.Model == "" {
				return fmt.Errorf("naming.model is required for the openai provider")
			}
			if c.Naming.APIKey == "" && c.Naming.BaseURL == "" {
				return fmt.Errorf("naming.api_key or naming.base_url is required for the openai provider")
			}
		default:
			return fmt.Errorf("naming.provider must be %s or %s, got %q", ProviderOpenAI, ProviderFirstMessage, c.Naming.Provider)
		}
		if c.Naming.Schedule != "" {
			if _, err := cron.ParseStandard(c.Naming.Schedule); err != nil {
				return fmt.Errorf("naming.schedule %q: %w", c.Naming.Schedule, err)
			}
		}
	}

	switch c.Logging.Level {
	case "", "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("logging.level must be debug, info, warn or error, got %q", c.Logging.Level)
	}

	switch c.Logging.Format {
	case "", "text", "json":
	default:
		return fmt.Errorf("logging.format must be text or json, got %q", c.Logging.Format)
	}

	return nil
}

// parseDurations converts the raw duration strings into time.Duration values
func parseDurations(cfg *Config) error {
	var err error

	if cfg.Database.BusyTimeoutRaw != "" {
		cfg.Database.BusyTimeout, err = time.ParseDuration(cfg.Database.BusyTimeoutRaw)
		if err != nil {
			return fmt.Errorf("parsing busy_timeout %q: %w", cfg.Database.BusyTimeoutRaw, err)
		}
	}

	return nil
}
