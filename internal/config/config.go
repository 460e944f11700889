// Package config loads broker configuration from environment variables and
// an optional config file, layering spf13/viper defaults with an env
// prefix and an optional config file.
package config

import (
	"fmt"
	"time"

	"github.com/spf13/viper"
)

// Config holds all runtime configuration for the broker.
type Config struct {
	Server  ServerConfig  `mapstructure:"server"`
	Index   IndexConfig   `mapstructure:"index"`
	Session SessionConfig `mapstructure:"session"`
	Limits  LimitsConfig  `mapstructure:"limits"`
	Metrics MetricsConfig `mapstructure:"metrics"`
	Logging LoggingConfig `mapstructure:"logging"`
}

// ServerConfig contains the TCP listener address (port 8080, all
// interfaces, by default).
type ServerConfig struct {
	Host string `mapstructure:"host"`
	Port int    `mapstructure:"port"`
}

// IndexConfig controls the subscription index's periodic cleanup sweep
// (every 5 seconds by default, configurable).
type IndexConfig struct {
	CleanupInterval time.Duration `mapstructure:"cleanup_interval"`
}

// SessionConfig controls the per-session outbound write queue.
type SessionConfig struct {
	// SendQueueSize is the optional bound on a Session's outbound FIFO.
	// 0 means unbounded. When > 0, the oldest queued frame is dropped on
	// overflow rather than growing without bound.
	SendQueueSize int `mapstructure:"send_queue_size"`
}

// LimitsConfig controls accept-side connection admission.
type LimitsConfig struct {
	MaxConnections      int     `mapstructure:"max_connections"`
	ConnRateLimitBurst  int     `mapstructure:"conn_rate_limit_burst"`
	ConnRateLimitPerSec float64 `mapstructure:"conn_rate_limit_per_sec"`
}

// MetricsConfig controls the Prometheus/health HTTP exporter and the
// resource-monitor sampling interval.
type MetricsConfig struct {
	Enabled        bool          `mapstructure:"enabled"`
	ListenAddr     string        `mapstructure:"listen_addr"`
	Endpoint       string        `mapstructure:"endpoint"`
	SampleInterval time.Duration `mapstructure:"sample_interval"`
}

// LoggingConfig controls the zap logger's level and development mode; the
// encoding is always JSON.
type LoggingConfig struct {
	Level       string `mapstructure:"level"`
	Development bool   `mapstructure:"development"`
}

// Load reads configuration from environment variables (prefixed BROKER_)
// and an optional broker.yaml/broker.json config file in the working
// directory or ./config.
func Load() (Config, error) {
	v := viper.New()

	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", 8080)

	v.SetDefault("index.cleanup_interval", 5*time.Second)

	v.SetDefault("session.send_queue_size", 0)

	v.SetDefault("limits.max_connections", 100000)
	v.SetDefault("limits.conn_rate_limit_burst", 200)
	v.SetDefault("limits.conn_rate_limit_per_sec", 50.0)

	v.SetDefault("metrics.enabled", true)
	v.SetDefault("metrics.listen_addr", ":9090")
	v.SetDefault("metrics.endpoint", "/metrics")
	v.SetDefault("metrics.sample_interval", 15*time.Second)

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.development", false)

	v.SetConfigName("broker")
	v.AddConfigPath(".")
	v.AddConfigPath("./config")
	v.SetEnvPrefix("BROKER")
	v.AutomaticEnv()

	// Config file is optional; a missing file is not an error.
	_ = v.ReadInConfig()

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("config unmarshal: %w", err)
	}

	if err := cfg.validate(); err != nil {
		return Config{}, fmt.Errorf("config validation failed: %w", err)
	}

	return cfg, nil
}

func (c *Config) validate() error {
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("server.port must be 1-65535, got %d", c.Server.Port)
	}
	if c.Index.CleanupInterval <= 0 {
		return fmt.Errorf("index.cleanup_interval must be > 0")
	}
	if c.Limits.MaxConnections < 1 {
		return fmt.Errorf("limits.max_connections must be > 0, got %d", c.Limits.MaxConnections)
	}
	validLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLevels[c.Logging.Level] {
		return fmt.Errorf("logging.level must be one of debug/info/warn/error, got %q", c.Logging.Level)
	}
	return nil
}

// Addr returns the listen address in host:port form.
func (c ServerConfig) Addr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}
