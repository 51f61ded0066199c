package config

import (
	"fmt"
	"strings"
)

// ValidationError represents a configuration validation error.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("config validation failed for %s: %s", e.Field, e.Message)
}

// Validate validates the configuration and returns validation errors.
func (c *Config) Validate() []error {
	var errs []error

	if c.Server.Port < 1 || c.Server.Port > 65535 {
		errs = append(errs, &ValidationError{
			Field:   "server.port",
			Message: fmt.Sprintf("port must be between 1 and 65535, got %d", c.Server.Port),
		})
	}

	switch c.Source.Mode {
	case "process":
		if c.Source.ProcessPath == "" {
			errs = append(errs, &ValidationError{
				Field:   "source.process_path",
				Message: "process_path is required when source.mode is 'process'",
			})
		}
	case "push":
		// No external process to validate.
	default:
		errs = append(errs, &ValidationError{
			Field:   "source.mode",
			Message: fmt.Sprintf("invalid mode '%s', must be one of: process, push", c.Source.Mode),
		})
	}

	if c.Source.QueueCapacity < 1 {
		errs = append(errs, &ValidationError{
			Field:   "source.queue_capacity",
			Message: fmt.Sprintf("queue_capacity must be at least 1, got %d", c.Source.QueueCapacity),
		})
	}

	if !c.Engines.CommandInjection && !c.Engines.FilesystemExposure &&
		!c.Engines.ToolPoisoning && !c.Engines.DataExfiltration {
		errs = append(errs, &ValidationError{
			Field:   "engines",
			Message: "at least one detection engine must be enabled",
		})
	}

	validProviders := map[string]bool{
		"openai":    true,
		"anthropic": true,
		"ollama":    true,
		"custom":    true,
	}
	if !validProviders[c.LLM.Provider] {
		errs = append(errs, &ValidationError{
			Field:   "llm.provider",
			Message: fmt.Sprintf("invalid provider '%s', must be one of: openai, anthropic, ollama, custom", c.LLM.Provider),
		})
	}

	if c.Engines.ToolPoisoning && c.LLM.Model == "" {
		errs = append(errs, &ValidationError{
			Field:   "llm.model",
			Message: "llm.model is required when tool_poisoning is enabled",
		})
	}

	if c.LLM.MaxRetries < 0 {
		errs = append(errs, &ValidationError{
			Field:   "llm.max_retries",
			Message: fmt.Sprintf("max_retries cannot be negative, got %d", c.LLM.MaxRetries),
		})
	}

	if c.LLM.BaseBackoffSeconds < 0 {
		errs = append(errs, &ValidationError{
			Field:   "llm.base_backoff_seconds",
			Message: fmt.Sprintf("base_backoff_seconds cannot be negative, got %d", c.LLM.BaseBackoffSeconds),
		})
	}

	if c.Database.SQLitePath == "" {
		errs = append(errs, &ValidationError{
			Field:   "database.sqlite_path",
			Message: "sqlite_path is required",
		})
	}

	if c.Correlation.EmailRegistryCapacity < 1 {
		errs = append(errs, &ValidationError{
			Field:   "correlation.email_registry_capacity",
			Message: fmt.Sprintf("email_registry_capacity must be at least 1, got %d", c.Correlation.EmailRegistryCapacity),
		})
	}

	validLogLevels := map[string]bool{
		"debug": true,
		"info":  true,
		"warn":  true,
		"error": true,
	}
	if !validLogLevels[strings.ToLower(c.Logging.Level)] {
		errs = append(errs, &ValidationError{
			Field:   "logging.level",
			Message: fmt.Sprintf("invalid log level '%s', must be one of: debug, info, warn, error", c.Logging.Level),
		})
	}

	validLogFormats := map[string]bool{
		"json": true,
		"text": true,
	}
	if !validLogFormats[strings.ToLower(c.Logging.Format)] {
		errs = append(errs, &ValidationError{
			Field:   "logging.format",
			Message: fmt.Sprintf("invalid log format '%s', must be one of: json, text", c.Logging.Format),
		})
	}

	return errs
}
