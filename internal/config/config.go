package config

import "context"

// Package config provides configuration management for the security monitor.
//
// Responsibilities:
//   - Load configuration from a YAML file and environment variables
//   - Validate configuration on startup
//   - Provide runtime access to all configuration
//   - Support configuration reloading of the engine-enablement and queue
//     settings that are safe to change without restarting the event pipeline
//   - Keep sensitive data (the LLM API key) out of the YAML file and the logs
//
// Configuration Sources (priority order, high to low):
//  1. Environment variables (SENTINEL_* prefix)
//  2. YAML config file (default: config.yaml)
//  3. Built-in defaults (lowest priority)
//
// The only command-line flag, -config in cmd/sentinel, selects the YAML
// file; no configuration value can be overridden from the command line.
//
// Main Configuration Sections:
//
//  1. Server
//     - port: health/metrics HTTP listen port (default 8081)
//     - allowed_origins: origins permitted to open the UI fan-out WebSocket
//
//  2. Source
//     - mode: "process" (spawn a subprocess and read its stdout) or "push"
//       (an in-process caller feeds events directly)
//     - process_path: path to the external event-producing process
//     - queue_capacity: size of the bounded channel between source and hub
//
//  3. Engines
//     - command_injection / filesystem_exposure / tool_poisoning /
//       data_exfiltration: per-engine enable flags
//
//  4. LLM (tool-poisoning classifier)
//     - provider / model / api_key (env-sourced) / base_url
//     - request_timeout_seconds, max_retries, base_backoff_seconds,
//       inter_request_delay_ms
//
//  5. Database
//     - sqlite_path
//
//  6. Correlation
//     - email_registry_capacity: FIFO eviction bound for the suspicious
//       email registry
//
//  7. Logging
//     - level / format
type Config struct {
	Server struct {
		Port int
		// AllowedOrigins is a list of origins permitted to open WebSocket
		// connections to the UI fan-out. Use ["*"] to allow any origin
		// (development only). If empty, defaults to
		// ["http://localhost:3000", "http://localhost:5173"].
		AllowedOrigins []string
	}

	Source struct {
		Mode          string // "process" | "push"
		ProcessPath   string
		QueueCapacity int
	}

	Engines struct {
		CommandInjection bool
		FilesystemExposure bool
		ToolPoisoning    bool
		DataExfiltration bool
	}

	LLM struct {
		Provider             string
		Model                string
		APIKey                string
		BaseURL              string
		RequestTimeoutSeconds int
		MaxRetries            int
		BaseBackoffSeconds    int
		InterRequestDelayMS   int
	}

	Database struct {
		SQLitePath string
	}

	Correlation struct {
		EmailRegistryCapacity int
	}

	Logging struct {
		Level  string
		Format string
	}
}

// ConfigManager defines the interface for configuration access.
type ConfigManager interface {
	// Load loads configuration from all sources.
	Load(ctx context.Context) error

	// Get returns the current configuration.
	Get(ctx context.Context) *Config

	// Validate validates configuration is correct and complete.
	Validate(ctx context.Context) error

	// Watch watches for configuration changes and reloads (if supported).
	Watch(ctx context.Context) <-chan Config

	// Reload reloads configuration from sources.
	Reload(ctx context.Context) error
}

// NewConfigManager creates a new configuration manager.
func NewConfigManager(configPath string) (ConfigManager, error) {
	mgr := &viperConfigManager{
		configPath: configPath,
		config:     DefaultConfig(),
		watchChan:  make(chan Config, 1),
	}
	return mgr, nil
}

// NewConfigManagerWithDefaults creates a config manager with the default config path.
func NewConfigManagerWithDefaults() (ConfigManager, error) {
	return NewConfigManager("config.yaml")
}
