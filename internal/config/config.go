// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Aegis Contributors

// Package config loads and validates the Aegis configuration from YAML and
// environment variables.
package config

import (
	"errors"
	"net"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/viper"

	aegiserr "github.com/aegis-dev/aegis/pkg/errors"
)

// Config is the top-level Aegis configuration.
type Config struct {
	Server     ServerConfig              `mapstructure:"server" yaml:"server"`
	Agent      AgentConfig               `mapstructure:"agent" yaml:"agent"`
	Providers  map[string]ProviderConfig `mapstructure:"providers" yaml:"providers"`
	Retrieval  RetrievalConfig           `mapstructure:"retrieval" yaml:"retrieval"`
	Guardrails GuardrailsConfig          `mapstructure:"guardrails" yaml:"guardrails"`
	Tools      ToolsConfig               `mapstructure:"tools" yaml:"tools"`
	Memory     MemoryConfig              `mapstructure:"memory" yaml:"memory"`
	Storage    StorageConfig             `mapstructure:"storage" yaml:"storage"`
}

// ServerConfig controls the HTTP server.
type ServerConfig struct {
	Listen      string   `mapstructure:"listen" yaml:"listen"`
	CORSOrigins []string `mapstructure:"cors_origins" yaml:"cors_origins"`
}

// AgentConfig controls the conversation orchestrator.
type AgentConfig struct {
	Model         string   `mapstructure:"model" yaml:"model"`
	SystemPrompt  string   `mapstructure:"system_prompt" yaml:"system_prompt"`
	Temperature   *float32 `mapstructure:"temperature" yaml:"temperature"`
	MaxIterations int      `mapstructure:"max_iterations" yaml:"max_iterations"`
}

// ProviderConfig holds credentials for an LLM provider.
type ProviderConfig struct {
	APIKey  string `mapstructure:"api_key" yaml:"api_key"`
	BaseURL string `mapstructure:"base_url" yaml:"base_url"`
}

// RetrievalConfig controls semantic tool retrieval.
type RetrievalConfig struct {
	Enabled        bool   `mapstructure:"enabled" yaml:"enabled"`
	TopK           int    `mapstructure:"top_k" yaml:"top_k"`
	IndexPath      string `mapstructure:"index_path" yaml:"index_path"`
	EmbeddingModel string `mapstructure:"embedding_model" yaml:"embedding_model"`
}

// GuardrailsConfig controls the safety rails around tool execution.
type GuardrailsConfig struct {
	RateLimit        RateLimitConfig `mapstructure:"rate_limit" yaml:"rate_limit"`
	DestructiveTools []string        `mapstructure:"destructive_tools" yaml:"destructive_tools"`
	AuditLog         string          `mapstructure:"audit_log" yaml:"audit_log"`
}

// RateLimitConfig controls the sliding-window tool-call limiter.
type RateLimitConfig struct {
	MaxCalls int           `mapstructure:"max_calls" yaml:"max_calls"`
	Window   time.Duration `mapstructure:"window" yaml:"window"`
}

// ToolsConfig controls the built-in tool set.
type ToolsConfig struct {
	SandboxRoot    string `mapstructure:"sandbox_root" yaml:"sandbox_root"`
	BrowserEnabled bool   `mapstructure:"browser_enabled" yaml:"browser_enabled"`
}

// MemoryConfig controls long-term memory.
type MemoryConfig struct {
	Path string `mapstructure:"path" yaml:"path"`
}

// StorageConfig selects the checkpoint storage backend.
type StorageConfig struct {
	Backend string `mapstructure:"backend" yaml:"backend"`
	Path    string `mapstructure:"path" yaml:"path"`
}

// Load reads configuration from the given path (or defaults) with
// environment variable overrides (prefix AEGIS_).
func Load(path string) (*Config, error) {
	v := viper.New()

	// Defaults
	v.SetDefault("server.listen", "127.0.0.1:8372")
	v.SetDefault("agent.model", "google/gemini-2.5-flash")
	v.SetDefault("agent.max_iterations", 10)
	v.SetDefault("retrieval.enabled", true)
	v.SetDefault("retrieval.top_k", 3)
	v.SetDefault("retrieval.index_path", "data/tool_index.db")
	v.SetDefault("retrieval.embedding_model", "gemini-embedding-001")
	v.SetDefault("guardrails.rate_limit.max_calls", 30)
	v.SetDefault("guardrails.rate_limit.window", "60s")
	v.SetDefault("guardrails.destructive_tools", []string{"write_file", "append_to_file", "create_directory"})
	v.SetDefault("guardrails.audit_log", "data/audit.log")
	v.SetDefault("tools.sandbox_root", "workspace")
	v.SetDefault("tools.browser_enabled", false)
	v.SetDefault("memory.path", "data/memory.json")
	v.SetDefault("storage.backend", "sqlite")
	v.SetDefault("storage.path", "data/aegis.db")

	// Environment
	v.SetEnvPrefix("AEGIS")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// File
	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, aegiserr.Wrapf(err, aegiserr.CodeConfigLoadReadFailure, "reading config %s", path)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, aegiserr.Wrapf(err, aegiserr.CodeConfigValidateInvalidValue, "unmarshalling config")
	}

	if errs := cfg.Validate(); len(errs) > 0 {
		return nil, aegiserr.Wrap(errors.Join(errs...), aegiserr.CodeConfigValidateInvalidValue, "validating config")
	}

	return &cfg, nil
}

// Validate checks the configuration for logical errors, collecting all
// issues rather than stopping at the first one.
func (c *Config) Validate() []error {
	var errs []error

	errs = append(errs, c.validateServer()...)
	errs = append(errs, c.validateAgent()...)
	errs = append(errs, c.validateRetrieval()...)
	errs = append(errs, c.validateGuardrails()...)
	errs = append(errs, c.validateStorage()...)

	return errs
}

func (c *Config) validateServer() []error {
	var errs []error

	if c.Server.Listen == "" {
		errs = append(errs, aegiserr.New(aegiserr.CodeConfigValidateInvalidValue,
			"config: server.listen must not be empty"))
		return errs
	}

	_, portStr, err := net.SplitHostPort(c.Server.Listen)
	if err != nil {
		errs = append(errs, aegiserr.Errorf(aegiserr.CodeConfigValidateInvalidValue,
			"config: server.listen must be a valid host:port address, got %q", c.Server.Listen))
		return errs
	}
	port, err := strconv.Atoi(portStr)
	if err != nil {
		errs = append(errs, aegiserr.Errorf(aegiserr.CodeConfigValidateInvalidValue,
			"config: server.listen port must be a number, got %q", portStr))
	} else if port < 1 || port > 65535 {
		errs = append(errs, aegiserr.Errorf(aegiserr.CodeConfigValidateInvalidValue,
			"config: server.listen port must be between 1 and 65535, got %d", port))
	}

	return errs
}

func (c *Config) validateAgent() []error {
	var errs []error

	if c.Agent.Model == "" {
		errs = append(errs, aegiserr.New(aegiserr.CodeConfigValidateInvalidValue,
			"config: agent.model must not be empty"))
	} else if !strings.Contains(c.Agent.Model, "/") {
		errs = append(errs, aegiserr.Errorf(aegiserr.CodeConfigValidateInvalidValue,
			"config: agent.model must be in \"provider/model\" format, got %q", c.Agent.Model))
	} else if c.Providers != nil {
		// Only cross-reference providers when the providers section exists;
		// a nil map means defaults only, which is valid.
		name := providerFromModel(c.Agent.Model)
		if _, ok := c.Providers[name]; !ok {
			errs = append(errs, aegiserr.Errorf(aegiserr.CodeConfigValidateInvalidValue,
				"config: agent.model %q references provider %q which is not configured",
				c.Agent.Model, name))
		}
	}

	if c.Agent.MaxIterations <= 0 {
		errs = append(errs, aegiserr.Errorf(aegiserr.CodeConfigValidateInvalidValue,
			"config: agent.max_iterations must be greater than 0, got %d", c.Agent.MaxIterations))
	}
	if c.Agent.Temperature != nil && (*c.Agent.Temperature < 0 || *c.Agent.Temperature > 2) {
		errs = append(errs, aegiserr.Errorf(aegiserr.CodeConfigValidateInvalidValue,
			"config: agent.temperature must be between 0 and 2, got %g", *c.Agent.Temperature))
	}

	return errs
}

func (c *Config) validateRetrieval() []error {
	var errs []error

	if !c.Retrieval.Enabled {
		return errs
	}
	if c.Retrieval.TopK <= 0 {
		errs = append(errs, aegiserr.Errorf(aegiserr.CodeConfigValidateInvalidValue,
			"config: retrieval.top_k must be greater than 0, got %d", c.Retrieval.TopK))
	}
	if c.Retrieval.IndexPath == "" {
		errs = append(errs, aegiserr.New(aegiserr.CodeConfigValidateInvalidValue,
			"config: retrieval.index_path must not be empty"))
	}
	if c.Retrieval.EmbeddingModel == "" {
		errs = append(errs, aegiserr.New(aegiserr.CodeConfigValidateInvalidValue,
			"config: retrieval.embedding_model must not be empty"))
	}

	return errs
}

func (c *Config) validateGuardrails() []error {
	var errs []error

	if c.Guardrails.RateLimit.MaxCalls < 0 {
		errs = append(errs, aegiserr.Errorf(aegiserr.CodeConfigValidateInvalidValue,
			"config: guardrails.rate_limit.max_calls must not be negative, got %d",
			c.Guardrails.RateLimit.MaxCalls))
	}
	if c.Guardrails.RateLimit.Window < 0 {
		errs = append(errs, aegiserr.Errorf(aegiserr.CodeConfigValidateInvalidValue,
			"config: guardrails.rate_limit.window must not be negative, got %s",
			c.Guardrails.RateLimit.Window))
	}
	if c.Guardrails.AuditLog == "" {
		errs = append(errs, aegiserr.New(aegiserr.CodeConfigValidateInvalidValue,
			"config: guardrails.audit_log must not be empty"))
	}

	return errs
}

func (c *Config) validateStorage() []error {
	var errs []error

	validBackends := map[string]bool{"sqlite": true, "memory": true}
	if !validBackends[c.Storage.Backend] {
		errs = append(errs, aegiserr.Errorf(aegiserr.CodeConfigValidateInvalidValue,
			"config: storage.backend must be one of [sqlite, memory], got %q", c.Storage.Backend))
	}
	if c.Storage.Backend == "sqlite" && c.Storage.Path == "" {
		errs = append(errs, aegiserr.New(aegiserr.CodeConfigValidateInvalidValue,
			"config: storage.path must not be empty for the sqlite backend"))
	}

	return errs
}

// providerFromModel extracts the provider prefix from a "provider/model" string.
func providerFromModel(model string) string {
	if idx := strings.Index(model, "/"); idx > 0 {
		return model[:idx]
	}
	return model
}
