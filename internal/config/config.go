// Package config loads the tracking server configuration from a YAML file
// with environment variable overrides, so secrets can live in .env locally
// and in real env vars on the deployment host.
package config

import (
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Config holds all configuration for the tracking platform.
type Config struct {
	Server   ServerConfig   `yaml:"server"`
	Database DatabaseConfig `yaml:"database"`
	Tracking TrackingConfig `yaml:"tracking"`
	Redis    RedisConfig    `yaml:"redis"`
	Events   EventsConfig   `yaml:"events"`
	SES      SESConfig      `yaml:"ses"`
}

// ServerConfig holds HTTP server configuration.
type ServerConfig struct {
	Port int    `yaml:"port"`
	Host string `yaml:"host"`
}

// GetHost returns the server host, listening on all interfaces when
// running in a container.
func (c ServerConfig) GetHost() string {
	if os.Getenv("ECS_CONTAINER_METADATA_URI") != "" || os.Getenv("AWS_EXECUTION_ENV") != "" {
		return "0.0.0.0"
	}
	if host := os.Getenv("SERVER_HOST"); host != "" {
		return host
	}
	return c.Host
}

// DatabaseConfig holds the Postgres connection settings.
type DatabaseConfig struct {
	URL string `yaml:"url"`
}

// TrackingConfig holds the public-facing tracking settings.
type TrackingConfig struct {
	// BaseURL is the public base of the tracking host; it goes into
	// pixel/click URLs and is the safe redirect default.
	BaseURL string `yaml:"base_url"`
	// RecordTimeoutMS bounds the persistence step of each hit.
	RecordTimeoutMS int `yaml:"record_timeout_ms"`
}

// RecordTimeout returns the persistence timeout as a duration.
func (c TrackingConfig) RecordTimeout() time.Duration {
	return time.Duration(c.RecordTimeoutMS) * time.Millisecond
}

// RedisConfig holds the optional token cache settings.
type RedisConfig struct {
	Enabled      bool   `yaml:"enabled"`
	Addr         string `yaml:"addr"`
	CacheTTLSecs int    `yaml:"cache_ttl_seconds"`
}

// CacheTTL returns the token cache TTL as a duration.
func (c RedisConfig) CacheTTL() time.Duration {
	return time.Duration(c.CacheTTLSecs) * time.Second
}

// EventsConfig holds the optional SQS fan-out settings.
type EventsConfig struct {
	Enabled  bool   `yaml:"enabled"`
	QueueURL string `yaml:"queue_url"`
}

// SESConfig holds outbound mail settings for campaign dispatch.
type SESConfig struct {
	Enabled bool   `yaml:"enabled"`
	Region  string `yaml:"region"`
}

// Load reads and parses the configuration file and fills defaults.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, err
	}

	if cfg.Server.Port == 0 {
		cfg.Server.Port = 8081
	}
	if cfg.Server.Host == "" {
		cfg.Server.Host = "localhost"
	}
	if cfg.Tracking.RecordTimeoutMS == 0 {
		cfg.Tracking.RecordTimeoutMS = 3000
	}
	if cfg.Redis.Addr == "" {
		cfg.Redis.Addr = "localhost:6379"
	}
	if cfg.Redis.CacheTTLSecs == 0 {
		cfg.Redis.CacheTTLSecs = 600
	}
	if cfg.SES.Region == "" {
		cfg.SES.Region = "us-east-1"
	}

	return &cfg, nil
}

// LoadFromEnv loads configuration with environment variable overrides. A
// .env file is loaded first if present (no error if missing).
func LoadFromEnv(path string) (*Config, error) {
	_ = godotenv.Load()

	cfg, err := Load(path)
	if err != nil {
		return nil, err
	}

	if v := os.Getenv("PORT"); v != "" {
		if p, err := strconv.Atoi(v); err == nil && p > 0 && p <= 65535 {
			cfg.Server.Port = p
		}
	}
	if v := os.Getenv("DATABASE_URL"); v != "" {
		cfg.Database.URL = v
	}
	if v := os.Getenv("TRACKING_BASE_URL"); v != "" {
		cfg.Tracking.BaseURL = v
	}
	if v := os.Getenv("REDIS_ADDR"); v != "" {
		cfg.Redis.Addr = v
		cfg.Redis.Enabled = true
	}
	if v := os.Getenv("SQS_EVENTS_QUEUE_URL"); v != "" {
		cfg.Events.QueueURL = v
		cfg.Events.Enabled = true
	}

	return cfg, nil
}
