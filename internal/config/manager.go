package config

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"
)

// viperConfigManager implements ConfigManager using Viper.
type viperConfigManager struct {
	configPath string
	config     *Config
	viper      *viper.Viper
	watchChan  chan Config
}

// Load loads configuration from all sources.
func (m *viperConfigManager) Load(ctx context.Context) error {
	m.viper = viper.New()

	m.viper.SetConfigFile(m.configPath)
	m.viper.SetConfigType("yaml")

	m.viper.SetEnvPrefix("SENTINEL")
	m.viper.AutomaticEnv()
	m.viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	m.setDefaults()

	if err := m.viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); ok {
			// Config file not found - use defaults + env vars.
		} else if os.IsNotExist(err) {
			// Config file not found - use defaults + env vars.
		} else {
			return fmt.Errorf("error reading config file: %w", err)
		}
	}

	if err := m.unmarshalConfig(); err != nil {
		return fmt.Errorf("error unmarshaling config: %w", err)
	}

	m.applyEnvOverrides()

	return nil
}

// Get returns the current configuration.
func (m *viperConfigManager) Get(ctx context.Context) *Config {
	return m.config
}

// Validate validates configuration is correct and complete.
func (m *viperConfigManager) Validate(ctx context.Context) error {
	errs := m.config.Validate()
	if len(errs) > 0 {
		var errMsgs []string
		for _, err := range errs {
			errMsgs = append(errMsgs, err.Error())
		}
		return fmt.Errorf("configuration validation failed:\n  - %s", strings.Join(errMsgs, "\n  - "))
	}
	return nil
}

// Watch watches for configuration changes and reloads.
func (m *viperConfigManager) Watch(ctx context.Context) <-chan Config {
	m.viper.WatchConfig()
	m.viper.OnConfigChange(func(e fsnotify.Event) {
		if err := m.unmarshalConfig(); err != nil {
			return
		}
		select {
		case m.watchChan <- *m.config:
		default:
			// Channel full, skip this update.
		}
	})

	return m.watchChan
}

// Reload reloads configuration from sources.
func (m *viperConfigManager) Reload(ctx context.Context) error {
	if err := m.viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return fmt.Errorf("error reading config file: %w", err)
		}
	}

	if err := m.unmarshalConfig(); err != nil {
		return fmt.Errorf("error unmarshaling config: %w", err)
	}

	m.applyEnvOverrides()

	return nil
}

// setDefaults sets default values in viper.
func (m *viperConfigManager) setDefaults() {
	defaults := DefaultConfig()

	m.viper.SetDefault("server.port", defaults.Server.Port)
	m.viper.SetDefault("server.allowed_origins", defaults.Server.AllowedOrigins)

	m.viper.SetDefault("source.mode", defaults.Source.Mode)
	m.viper.SetDefault("source.process_path", defaults.Source.ProcessPath)
	m.viper.SetDefault("source.queue_capacity", defaults.Source.QueueCapacity)

	m.viper.SetDefault("engines.command_injection", defaults.Engines.CommandInjection)
	m.viper.SetDefault("engines.filesystem_exposure", defaults.Engines.FilesystemExposure)
	m.viper.SetDefault("engines.tool_poisoning", defaults.Engines.ToolPoisoning)
	m.viper.SetDefault("engines.data_exfiltration", defaults.Engines.DataExfiltration)

	m.viper.SetDefault("llm.provider", defaults.LLM.Provider)
	m.viper.SetDefault("llm.model", defaults.LLM.Model)
	m.viper.SetDefault("llm.base_url", defaults.LLM.BaseURL)
	m.viper.SetDefault("llm.request_timeout_seconds", defaults.LLM.RequestTimeoutSeconds)
	m.viper.SetDefault("llm.max_retries", defaults.LLM.MaxRetries)
	m.viper.SetDefault("llm.base_backoff_seconds", defaults.LLM.BaseBackoffSeconds)
	m.viper.SetDefault("llm.inter_request_delay_ms", defaults.LLM.InterRequestDelayMS)

	m.viper.SetDefault("database.sqlite_path", defaults.Database.SQLitePath)

	m.viper.SetDefault("correlation.email_registry_capacity", defaults.Correlation.EmailRegistryCapacity)

	m.viper.SetDefault("logging.level", defaults.Logging.Level)
	m.viper.SetDefault("logging.format", defaults.Logging.Format)
}

// unmarshalConfig unmarshals viper config into the Config struct.
func (m *viperConfigManager) unmarshalConfig() error {
	cfg := &Config{}

	cfg.Server.Port = m.viper.GetInt("server.port")
	cfg.Server.AllowedOrigins = m.viper.GetStringSlice("server.allowed_origins")

	cfg.Source.Mode = m.viper.GetString("source.mode")
	cfg.Source.ProcessPath = m.viper.GetString("source.process_path")
	cfg.Source.QueueCapacity = m.viper.GetInt("source.queue_capacity")

	cfg.Engines.CommandInjection = m.viper.GetBool("engines.command_injection")
	cfg.Engines.FilesystemExposure = m.viper.GetBool("engines.filesystem_exposure")
	cfg.Engines.ToolPoisoning = m.viper.GetBool("engines.tool_poisoning")
	cfg.Engines.DataExfiltration = m.viper.GetBool("engines.data_exfiltration")

	cfg.LLM.Provider = m.viper.GetString("llm.provider")
	cfg.LLM.Model = m.viper.GetString("llm.model")
	cfg.LLM.BaseURL = m.viper.GetString("llm.base_url")
	cfg.LLM.RequestTimeoutSeconds = m.viper.GetInt("llm.request_timeout_seconds")
	cfg.LLM.MaxRetries = m.viper.GetInt("llm.max_retries")
	cfg.LLM.BaseBackoffSeconds = m.viper.GetInt("llm.base_backoff_seconds")
	cfg.LLM.InterRequestDelayMS = m.viper.GetInt("llm.inter_request_delay_ms")

	cfg.Database.SQLitePath = m.viper.GetString("database.sqlite_path")

	cfg.Correlation.EmailRegistryCapacity = m.viper.GetInt("correlation.email_registry_capacity")

	cfg.Logging.Level = m.viper.GetString("logging.level")
	cfg.Logging.Format = m.viper.GetString("logging.format")

	m.config = cfg
	return nil
}

// applyEnvOverrides applies environment variable overrides for sensitive data
// that must never live in the YAML file or be echoed back by Get/Validate
// logging.
func (m *viperConfigManager) applyEnvOverrides() {
	if apiKey := os.Getenv("SENTINEL_LLM_API_KEY"); apiKey != "" {
		m.config.LLM.APIKey = apiKey
	}

	if addr := os.Getenv("SENTINEL_SOURCE_PROCESS_PATH"); addr != "" {
		m.config.Source.ProcessPath = addr
	}

	if portEnv := os.Getenv("SENTINEL_PORT"); portEnv != "" {
		m.config.Server.Port = m.viper.GetInt("port")
	}
}
