package config

// DefaultConfig returns a configuration with all default values.
func DefaultConfig() *Config {
	cfg := &Config{}

	cfg.Server.Port = 8081
	cfg.Server.AllowedOrigins = nil

	cfg.Source.Mode = "push"
	cfg.Source.ProcessPath = ""
	cfg.Source.QueueCapacity = 256

	cfg.Engines.CommandInjection = true
	cfg.Engines.FilesystemExposure = true
	cfg.Engines.ToolPoisoning = true
	cfg.Engines.DataExfiltration = true

	cfg.LLM.Provider = "anthropic"
	cfg.LLM.Model = "claude-3-5-sonnet-20241022"
	cfg.LLM.APIKey = ""
	cfg.LLM.BaseURL = ""
	cfg.LLM.RequestTimeoutSeconds = 30
	cfg.LLM.MaxRetries = 3
	cfg.LLM.BaseBackoffSeconds = 2
	cfg.LLM.InterRequestDelayMS = 1000

	cfg.Database.SQLitePath = "sentinel.db"

	cfg.Correlation.EmailRegistryCapacity = 10000

	cfg.Logging.Level = "info"
	cfg.Logging.Format = "json"

	return cfg
}
