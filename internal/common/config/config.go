// Package config provides configuration management for the ACP gateway.
// It supports loading configuration from environment variables, config files, and defaults.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/viper"
)

// Config holds all configuration sections for the gateway.
type Config struct {
	Server  ServerConfig  `mapstructure:"server"`
	Agent   AgentConfig   `mapstructure:"agent"`
	Logging LoggingConfig `mapstructure:"logging"`
	History HistoryConfig `mapstructure:"history"`
	Tracing TracingConfig `mapstructure:"tracing"`
}

// ServerConfig holds WebSocket/HTTP server configuration.
type ServerConfig struct {
	Host         string `mapstructure:"host"`
	Port         int    `mapstructure:"port"`
	ReadTimeout  int    `mapstructure:"readTimeout"`  // in seconds
	WriteTimeout int    `mapstructure:"writeTimeout"` // in seconds
}

// AgentConfig describes how to spawn the ACP agent subprocess.
type AgentConfig struct {
	// Command is the executable to spawn for each session (default: claude-code-acp).
	Command string `mapstructure:"command"`
	// Args are passed to Command on every launch.
	Args []string `mapstructure:"args"`
	// Env holds additional KEY=VALUE pairs appended to the subprocess environment.
	Env []string `mapstructure:"env"`
}

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	Level      string `mapstructure:"level"`
	Format     string `mapstructure:"format"`
	OutputPath string `mapstructure:"outputPath"`
}

// HistoryConfig controls the on-disk session history loader.
type HistoryConfig struct {
	// MaxItems bounds how many trailing chat items a history load returns.
	MaxItems int `mapstructure:"maxItems"`
	// ProjectsRoot is the directory holding per-project JSONL session logs.
	ProjectsRoot string `mapstructure:"projectsRoot"`
}

// TracingConfig controls optional OpenTelemetry export.
type TracingConfig struct {
	// OTLPEndpoint is the OTLP/HTTP collector address. Empty disables tracing.
	OTLPEndpoint string `mapstructure:"otlpEndpoint"`
	ServiceName  string `mapstructure:"serviceName"`
}

// detectDefaultLogFormat returns the appropriate log format based on environment.
// Returns "json" if running in Kubernetes or other production environments.
// Returns "text" for terminal/development use (human-readable console format).
func detectDefaultLogFormat() string {
	if os.Getenv("KUBERNETES_SERVICE_HOST") != "" {
		return "json"
	}
	if env := os.Getenv("ACPGW_ENV"); env == "production" || env == "prod" {
		return "json"
	}
	return "text"
}

// defaultProjectsRoot returns $HOME/.claude/projects, falling back to a
// relative path if the home directory cannot be resolved.
func defaultProjectsRoot() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(".claude", "projects")
	}
	return filepath.Join(home, ".claude", "projects")
}

// setDefaults configures default values for all configuration options.
func setDefaults(v *viper.Viper) {
	v.SetDefault("server.host", "127.0.0.1")
	v.SetDefault("server.port", 7890)
	v.SetDefault("server.readTimeout", 30)
	v.SetDefault("server.writeTimeout", 30)

	v.SetDefault("agent.command", "claude-code-acp")
	v.SetDefault("agent.args", []string{})
	v.SetDefault("agent.env", []string{})

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", detectDefaultLogFormat())
	v.SetDefault("logging.outputPath", "stdout")

	v.SetDefault("history.maxItems", 200)
	v.SetDefault("history.projectsRoot", defaultProjectsRoot())

	v.SetDefault("tracing.otlpEndpoint", "")
	v.SetDefault("tracing.serviceName", "acp-gateway")
}

// Load reads configuration from environment variables, config file, and defaults.
// Environment variables use the prefix ACPGW_ with snake_case naming.
// Config file should be named config.yaml and placed in the current directory or /etc/acpgw/.
func Load() (*Config, error) {
	return LoadWithPath("")
}

// LoadWithPath reads configuration from the specified path or default locations.
func LoadWithPath(configPath string) (*Config, error) {
	v := viper.New()

	setDefaults(v)

	v.SetEnvPrefix("ACPGW")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// AutomaticEnv does not translate camelCase config keys to SNAKE_CASE,
	// so a few keys get an explicit binding. Unbound camelCase keys are read
	// from the run-together form, e.g. ACPGW_SERVER_READTIMEOUT.
	_ = v.BindEnv("agent.command", "ACPGW_AGENT_COMMAND")
	_ = v.BindEnv("logging.level", "ACPGW_LOG_LEVEL")
	_ = v.BindEnv("history.maxItems", "ACPGW_HISTORY_MAX_ITEMS")
	_ = v.BindEnv("history.projectsRoot", "ACPGW_HISTORY_PROJECTS_ROOT")
	_ = v.BindEnv("tracing.otlpEndpoint", "ACPGW_TRACING_OTLP_ENDPOINT")

	v.SetConfigName("config")
	v.SetConfigType("yaml")

	if configPath != "" {
		v.AddConfigPath(configPath)
	}
	v.AddConfigPath(".")
	v.AddConfigPath("/etc/acpgw/")

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}

	if err := validate(&cfg); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return &cfg, nil
}

// validate checks that all required configuration fields are set.
func validate(cfg *Config) error {
	var errs []string

	if cfg.Server.Port < 0 || cfg.Server.Port > 65535 {
		errs = append(errs, "server.port must be between 0 and 65535")
	}

	if cfg.Agent.Command == "" {
		errs = append(errs, "agent.command must not be empty")
	}

	validLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLevels[strings.ToLower(cfg.Logging.Level)] {
		errs = append(errs, "logging.level must be one of: debug, info, warn, error")
	}
	validFormats := map[string]bool{"json": true, "text": true, "console": true}
	if !validFormats[strings.ToLower(cfg.Logging.Format)] {
		errs = append(errs, "logging.format must be one of: json, text, console")
	}

	if cfg.History.MaxItems <= 0 {
		errs = append(errs, "history.maxItems must be positive")
	}

	if len(errs) > 0 {
		return fmt.Errorf("%s", strings.Join(errs, "; "))
	}

	return nil
}
