// Package config handles configuration loading for foreman.
// It supports XDG config paths, project-level overrides, and environment variables.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/viper"
)

// MaxConcurrencyCeiling is the hard upper bound on per-role concurrency.
// Values above it are clamped, not rejected.
const MaxConcurrencyCeiling = 5

// Config holds all configuration for foreman.
type Config struct {
	Anthropic AnthropicConfig `mapstructure:"anthropic"`
	Agent     AgentConfig     `mapstructure:"agent"`
	Run       RunConfig       `mapstructure:"run"`
	TUI       TUIConfig       `mapstructure:"tui"`
}

// AnthropicConfig holds Anthropic API settings for the planner.
type AnthropicConfig struct {
	APIKey string `mapstructure:"api_key"`
	// UseBedrock routes planner calls through AWS Bedrock instead of the
	// direct API.
	UseBedrock bool `mapstructure:"use_bedrock"`
	// Model is the planner model identifier.
	Model string `mapstructure:"model"`
}

// AgentConfig describes the worker agent binary.
type AgentConfig struct {
	Command string   `mapstructure:"command"`
	Args    []string `mapstructure:"args"`
	// Model is exported to sessions; empty defers to the agent's default.
	Model string `mapstructure:"model"`
}

// RunConfig holds run-loop settings.
type RunConfig struct {
	// MaxConcurrency caps coding and testing sessions per role.
	MaxConcurrency int `mapstructure:"max_concurrency"`
	// MaxTotal caps sessions across all roles. Zero derives it from
	// MaxConcurrency.
	MaxTotal int `mapstructure:"max_total"`
	// BatchSize caps features assigned to one session.
	BatchSize int `mapstructure:"batch_size"`
	// PollInterval is the run-loop tick period.
	PollInterval time.Duration `mapstructure:"poll_interval"`
	// GracePeriod bounds a graceful session stop.
	GracePeriod time.Duration `mapstructure:"grace_period"`
	// StuckThreshold flags sessions with stalled output.
	StuckThreshold time.Duration `mapstructure:"stuck_threshold"`
}

// TUIConfig holds dashboard display settings.
type TUIConfig struct {
	RefreshRate time.Duration `mapstructure:"refresh_rate"`
}

// Load loads configuration from XDG paths, project overrides, and
// environment variables. Precedence (highest to lowest):
//  1. Environment variables (ANTHROPIC_API_KEY, FOREMAN_*)
//  2. Project config (.foreman.yaml in current directory or a parent)
//  3. User config (~/.config/foreman/config.yaml)
//  4. Built-in defaults
func Load() (*Config, error) {
	v := viper.New()

	setDefaults(v)

	userConfigDir := getUserConfigDir()
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(userConfigDir)

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("reading user config: %w", err)
		}
	}

	projectConfig := FindProjectConfig()
	if projectConfig != "" {
		projectViper := viper.New()
		projectViper.SetConfigFile(projectConfig)
		if err := projectViper.ReadInConfig(); err == nil {
			if err := v.MergeConfigMap(projectViper.AllSettings()); err != nil {
				return nil, fmt.Errorf("merging project config: %w", err)
			}
		}
	}

	v.AutomaticEnv()
	v.BindEnv("anthropic.api_key", "ANTHROPIC_API_KEY")
	v.BindEnv("run.max_concurrency", "FOREMAN_MAX_CONCURRENCY")
	v.BindEnv("agent.command", "FOREMAN_AGENT_COMMAND")

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("unmarshaling config: %w", err)
	}

	cfg.Anthropic.APIKey = expandEnv(cfg.Anthropic.APIKey)
	cfg.normalize()
	return cfg, nil
}

// LoadFromPath loads configuration from a specific file (for testing).
func LoadFromPath(path string) (*Config, error) {
	v := viper.New()

	setDefaults(v)

	v.SetConfigFile(path)
	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("reading config from %s: %w", path, err)
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("unmarshaling config: %w", err)
	}

	cfg.Anthropic.APIKey = expandEnv(cfg.Anthropic.APIKey)
	cfg.normalize()
	return cfg, nil
}

// normalize clamps and derives values the rest of the system can rely on.
func (c *Config) normalize() {
	if c.Run.MaxConcurrency < 1 {
		c.Run.MaxConcurrency = 1
	}
	if c.Run.MaxConcurrency > MaxConcurrencyCeiling {
		c.Run.MaxConcurrency = MaxConcurrencyCeiling
	}
	if c.Run.MaxTotal <= 0 {
		// Coding plus testing can each hit the per-role cap.
		c.Run.MaxTotal = c.Run.MaxConcurrency * 2
	}
	if c.Run.BatchSize < 1 {
		c.Run.BatchSize = 1
	}
	if c.Run.PollInterval <= 0 {
		c.Run.PollInterval = 2 * time.Second
	}
}

// GetUserConfigPath returns the path to the user config file.
func GetUserConfigPath() string {
	return filepath.Join(getUserConfigDir(), "config.yaml")
}

// setDefaults configures default values.
func setDefaults(v *viper.Viper) {
	v.SetDefault("anthropic.api_key", "")
	v.SetDefault("anthropic.use_bedrock", false)
	v.SetDefault("anthropic.model", "claude-sonnet-4-20250514")

	v.SetDefault("agent.command", "agent")
	v.SetDefault("agent.model", "")

	v.SetDefault("run.max_concurrency", 3)
	v.SetDefault("run.batch_size", 1)
	v.SetDefault("run.poll_interval", "2s")
	v.SetDefault("run.grace_period", "30s")
	v.SetDefault("run.stuck_threshold", "10m")

	v.SetDefault("tui.refresh_rate", "100ms")
}

// getUserConfigDir returns the XDG config directory for foreman.
func getUserConfigDir() string {
	if xdgConfig := os.Getenv("XDG_CONFIG_HOME"); xdgConfig != "" {
		return filepath.Join(xdgConfig, "foreman")
	}

	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(".", ".config", "foreman")
	}
	return filepath.Join(home, ".config", "foreman")
}

// FindProjectConfig searches for .foreman.yaml in the current directory and
// parents, returning "" when none exists.
func FindProjectConfig() string {
	cwd, err := os.Getwd()
	if err != nil {
		return ""
	}

	dir := cwd
	for {
		candidate := filepath.Join(dir, ".foreman.yaml")
		if _, err := os.Stat(candidate); err == nil {
			return candidate
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			return ""
		}
		dir = parent
	}
}

// expandEnv expands ${VAR} references in a config value.
func expandEnv(value string) string {
	return os.Expand(value, func(key string) string {
		return os.Getenv(key)
	})
}
