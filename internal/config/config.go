// Package config loads and validates node-manager configuration via Viper.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config captures all service and client configuration knobs loaded via Viper.
type Config struct {
	Server   ServerConfig   `mapstructure:"server"`
	Auth     AuthConfig     `mapstructure:"auth"`
	Jobs     JobsConfig     `mapstructure:"jobs"`
	Poller   PollerConfig   `mapstructure:"poller"`
	Client   ClientConfig   `mapstructure:"client"`
	Nodes    NodesConfig    `mapstructure:"nodes"`
	Firmware FirmwareConfig `mapstructure:"firmware"`
	Logging  LoggingConfig  `mapstructure:"logging"`
}

// ServerConfig controls HTTP server behavior.
type ServerConfig struct {
	Port int `mapstructure:"port"`
}

// AuthConfig defines API authentication toggles.
type AuthConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	APIKey  string `mapstructure:"api_key"`
}

// JobsConfig governs how long finished jobs are kept before being dropped.
type JobsConfig struct {
	RetentionSeconds int `mapstructure:"retention_seconds"`
}

// PollerConfig controls the client-side status poller.
type PollerConfig struct {
	IntervalMs int `mapstructure:"interval_ms"`
}

// ClientConfig describes how the CLI reaches a running node manager.
type ClientConfig struct {
	BaseURL        string `mapstructure:"base_url"`
	TimeoutSeconds int    `mapstructure:"timeout_seconds"`
	UserAgent      string `mapstructure:"user_agent"`
	APIKey         string `mapstructure:"api_key"`
}

// NodesConfig points at the node description file and lists the UDIDs
// present on the simulated bus.
type NodesConfig struct {
	File      string   `mapstructure:"file"`
	Simulated []string `mapstructure:"simulated"`
}

// FirmwareConfig tunes the simulated firmware programmer.
type FirmwareConfig struct {
	PageDelayMs int `mapstructure:"page_delay_ms"`
}

// LoggingConfig toggles zap development features.
type LoggingConfig struct {
	Development bool `mapstructure:"development"`
}

// Load builds a Config from disk/environment.
func Load(path string) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix("NOCAN")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", 8080)
	v.SetDefault("auth.enabled", false)
	v.SetDefault("auth.api_key", "")
	v.SetDefault("jobs.retention_seconds", 60)
	v.SetDefault("poller.interval_ms", 500)
	v.SetDefault("client.base_url", "http://localhost:8080")
	v.SetDefault("client.timeout_seconds", 15)
	v.SetDefault("client.user_agent", "nocan-cli/0.1")
	v.SetDefault("client.api_key", "")
	v.SetDefault("nodes.file", "")
	v.SetDefault("nodes.simulated", []string{})
	v.SetDefault("firmware.page_delay_ms", 0)
	v.SetDefault("logging.development", true)
}

// Validate enforces required values and reasonable limits.
func (c Config) Validate() error {
	if c.Server.Port <= 0 {
		return fmt.Errorf("server.port must be > 0")
	}
	if c.Jobs.RetentionSeconds <= 0 {
		return fmt.Errorf("jobs.retention_seconds must be > 0")
	}
	if c.Poller.IntervalMs <= 0 {
		return fmt.Errorf("poller.interval_ms must be > 0")
	}
	if c.Client.TimeoutSeconds <= 0 {
		return fmt.Errorf("client.timeout_seconds must be > 0")
	}
	if strings.TrimSpace(c.Client.BaseURL) == "" {
		return fmt.Errorf("client.base_url must be set")
	}
	if c.Firmware.PageDelayMs < 0 {
		return fmt.Errorf("firmware.page_delay_ms must be >= 0")
	}
	if c.Auth.Enabled && c.Auth.APIKey == "" {
		return fmt.Errorf("auth.api_key must be set when auth is enabled")
	}
	return nil
}

// JobRetention converts the retention setting into a duration.
func (c Config) JobRetention() time.Duration {
	return time.Duration(c.Jobs.RetentionSeconds) * time.Second
}

// PollInterval converts the poller interval into a duration.
func (c Config) PollInterval() time.Duration {
	return time.Duration(c.Poller.IntervalMs) * time.Millisecond
}

// ClientTimeout converts the per-request client timeout into a duration.
func (c Config) ClientTimeout() time.Duration {
	return time.Duration(c.Client.TimeoutSeconds) * time.Second
}

// PageDelay converts the simulated per-page programming delay into a duration.
func (c Config) PageDelay() time.Duration {
	return time.Duration(c.Firmware.PageDelayMs) * time.Millisecond
}
