// Package config loads marketd configuration from file and environment.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config is the root configuration for the marketd process
type Config struct {
	Server     ServerConfig     `mapstructure:"server"`
	Projection ProjectionConfig `mapstructure:"projection"`
	Log        LogConfig        `mapstructure:"log"`
}

// ServerConfig holds HTTP transport settings
type ServerConfig struct {
	Addr string `mapstructure:"addr"`
}

// ProjectionConfig tunes the bounded retry used to read an order's view
// across the eventual consistency window.
type ProjectionConfig struct {
	RetryAttempts int           `mapstructure:"retry_attempts"`
	RetryDelay    time.Duration `mapstructure:"retry_delay"`
}

// LogConfig holds logging settings
type LogConfig struct {
	Level string `mapstructure:"level"`
}

// Load reads marketd.yaml (working dir or /etc/marketd) if present and
// applies MARKETD_* environment overrides on top of the defaults.
func Load() (*Config, error) {
	v := viper.New()

	v.SetDefault("server.addr", ":8080")
	v.SetDefault("projection.retry_attempts", 10)
	v.SetDefault("projection.retry_delay", 50*time.Millisecond)
	v.SetDefault("log.level", "info")

	v.SetConfigName("marketd")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	v.AddConfigPath("/etc/marketd")

	v.SetEnvPrefix("MARKETD")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks that the configuration is usable
func (c *Config) Validate() error {
	if c.Server.Addr == "" {
		return fmt.Errorf("server.addr must not be empty")
	}
	if c.Projection.RetryAttempts <= 0 {
		return fmt.Errorf("projection.retry_attempts must be positive")
	}
	if c.Projection.RetryDelay <= 0 {
		return fmt.Errorf("projection.retry_delay must be positive")
	}
	return nil
}
