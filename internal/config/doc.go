// Package config handles configuration loading for coven-sessions.
//
// # Overview
//
// Configuration is loaded from YAML or TOML files with environment variable
// expansion. Anything the file leaves out keeps the value from Default().
//
// # Configuration File
//
// Default locations (in order):
//
//  1. Path from COVEN_SESSIONS_CONFIG environment variable
//  2. $XDG_CONFIG_HOME/coven/sessions.yaml
//  3. ~/.config/coven/sessions.yaml
//
// A missing file is not an error for LoadOrDefault. Files ending in .toml are
// decoded as TOML.
//
// # Environment Variable Expansion
//
// Configuration values can reference environment variables:
//
//	naming:
//	  api_key: "${OPENAI_API_KEY}"
//
// Syntax: ${VAR_NAME}. Unset variables expand to "".
//
// # Configuration Sections
//
// Database:
//
//	database:
//	  path: "~/.local/share/coven/sessions/sessions.db"
//	  driver: "sqlite"       # sqlite (pure Go) or sqlite3 (cgo)
//	  busy_timeout: "5s"
//
// Legacy import, run once when the database file is first created:
//
//	legacy:
//	  dir: "~/.local/share/coven/sessions"
//	  import_on_create: true
//
// Session naming:
//
//	naming:
//	  enabled: true
//	  threshold: 3              # rename while user turns <= threshold
//	  schedule: "@every 10m"    # cron spec used by rename --watch
//	  provider: "openai"        # openai or first_message
//	  model: "gpt-4o-mini"
//	  base_url: ""
//	  api_key: "${OPENAI_API_KEY}"
//
// Logging:
//
//	logging:
//	  level: "info"   # debug, info, warn, error
//	  format: "text"  # text, json
//
// Metrics:
//
//	metrics:
//	  enabled: false
//
// # Usage
//
//	cfg, err := config.LoadOrDefault(config.ConfigPath())
//	if err != nil {
//	    log.Fatal(err)
//	}
package config
