// Package config loads and validates application configuration from YAML files
// and environment variables.
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the root application configuration.
type Config struct {
	Server        ServerConfig        `yaml:"server"`
	Store         StoreConfig         `yaml:"store"`
	Dedup         DedupConfig         `yaml:"dedup"`
	Dispatcher    DispatcherConfig    `yaml:"dispatcher"`
	Notifier      NotifierConfig      `yaml:"notifier"`
	Observability ObservabilityConfig `yaml:"observability"`
}

// ServerConfig describes HTTP server settings for the operational endpoints.
type ServerConfig struct {
	Port            int           `yaml:"port"`
	ReadTimeout     time.Duration `yaml:"read_timeout"`
	WriteTimeout    time.Duration `yaml:"write_timeout"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
}

// StoreConfig describes workflow state persistence settings.
type StoreConfig struct {
	Driver          string        `yaml:"driver"`
	DSNEnv          string        `yaml:"dsn_env"`
	MaxConns        int           `yaml:"max_conns"`
	ConnMaxLifetime time.Duration `yaml:"conn_max_lifetime"`
}

// DedupConfig describes event completion tracking settings.
type DedupConfig struct {
	Driver        string        `yaml:"driver"`
	AddrEnv       string        `yaml:"addr_env"`
	DB            int           `yaml:"db"`
	TTL           time.Duration `yaml:"ttl"`
	SweepInterval time.Duration `yaml:"sweep_interval"`
}

// DispatcherConfig describes how outbound commands leave the process.
type DispatcherConfig struct {
	Driver       string `yaml:"driver"`
	AddrEnv      string `yaml:"addr_env"`
	DB           int    `yaml:"db"`
	StreamPrefix string `yaml:"stream_prefix"`
}

// NotifierConfig describes how state-change notifications are published.
type NotifierConfig struct {
	Driver        string `yaml:"driver"`
	AddrEnv       string `yaml:"addr_env"`
	DB            int    `yaml:"db"`
	ChannelPrefix string `yaml:"channel_prefix"`
}

// ObservabilityConfig describes logging, tracing, and metrics settings.
type ObservabilityConfig struct {
	LogLevel string        `yaml:"log_level"`
	Tracing  TracingConfig `yaml:"tracing"`
	Metrics  MetricsConfig `yaml:"metrics"`
}

// TracingConfig describes distributed tracing settings.
type TracingConfig struct {
	Enabled      bool    `yaml:"enabled"`
	Exporter     string  `yaml:"exporter"`
	Endpoint     string  `yaml:"endpoint"`
	SamplingRate float64 `yaml:"sampling_rate"`
}

// MetricsConfig describes Prometheus metrics settings.
type MetricsConfig struct {
	Enabled bool   `yaml:"enabled"`
	Path    string `yaml:"path"`
}

// Defaults returns a Config with sensible default values.
func Defaults() *Config {
	return &Config{
		Server: ServerConfig{
			Port:            8080,
			ReadTimeout:     30 * time.Second,
			WriteTimeout:    30 * time.Second,
			ShutdownTimeout: 30 * time.Second,
		},
		Store: StoreConfig{
			Driver:          "memory",
			DSNEnv:          "DOCFORGE_STORE_DSN",
			MaxConns:        25,
			ConnMaxLifetime: 5 * time.Minute,
		},
		Dedup: DedupConfig{
			Driver:        "memory",
			AddrEnv:       "DOCFORGE_REDIS_ADDR",
			TTL:           24 * time.Hour,
			SweepInterval: 10 * time.Minute,
		},
		Dispatcher: DispatcherConfig{
			Driver:       "log",
			AddrEnv:      "DOCFORGE_REDIS_ADDR",
			StreamPrefix: "docforge:commands",
		},
		Notifier: NotifierConfig{
			Driver:        "log",
			AddrEnv:       "DOCFORGE_REDIS_ADDR",
			ChannelPrefix: "docforge:workflow",
		},
		Observability: ObservabilityConfig{
			LogLevel: "info",
			Tracing: TracingConfig{
				Exporter:     "otlp",
				SamplingRate: 0.1,
			},
			Metrics: MetricsConfig{
				Enabled: true,
				Path:    "/metrics",
			},
		},
	}
}

// Load reads a YAML config file, applies environment variable overrides,
// and validates required fields. An empty path skips the file and uses
// defaults plus environment overrides.
func Load(path string) (*Config, error) {
	cfg := Defaults()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("config: reading %s: %w", path, err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("config: parsing %s: %w", path, err)
		}
	}

	applyEnvOverrides(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config: validation: %w", err)
	}

	return cfg, nil
}

// Validate checks that all required fields are present and valid.
func (c *Config) Validate() error {
	var errs []string

	if c.Server.Port < 1 || c.Server.Port > 65535 {
		errs = append(errs, "server.port must be between 1 and 65535")
	}
	switch c.Store.Driver {
	case "memory", "postgres":
	default:
		errs = append(errs, fmt.Sprintf("store.driver %q must be memory or postgres", c.Store.Driver))
	}
	if c.Store.Driver == "postgres" && os.Getenv(c.Store.DSNEnv) == "" {
		errs = append(errs, fmt.Sprintf("store.dsn_env: environment variable %s is empty", c.Store.DSNEnv))
	}
	switch c.Dedup.Driver {
	case "memory", "redis":
	default:
		errs = append(errs, fmt.Sprintf("dedup.driver %q must be memory or redis", c.Dedup.Driver))
	}
	if c.Dedup.TTL < 0 {
		errs = append(errs, "dedup.ttl must not be negative")
	}
	switch c.Dispatcher.Driver {
	case "log", "redis":
	default:
		errs = append(errs, fmt.Sprintf("dispatcher.driver %q must be log or redis", c.Dispatcher.Driver))
	}
	switch c.Notifier.Driver {
	case "log", "redis":
	default:
		errs = append(errs, fmt.Sprintf("notifier.driver %q must be log or redis", c.Notifier.Driver))
	}

	if len(errs) > 0 {
		return fmt.Errorf("%s", strings.Join(errs, "; "))
	}
	return nil
}

// applyEnvOverrides reads DOCFORGE_* environment variables and overrides
// config values. Only the most commonly overridden fields are supported.
func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("DOCFORGE_SERVER_PORT"); v != "" {
		var port int
		if _, err := fmt.Sscanf(v, "%d", &port); err == nil {
			cfg.Server.Port = port
		}
	}
	if v := os.Getenv("DOCFORGE_STORE_DRIVER"); v != "" {
		cfg.Store.Driver = v
	}
	if v := os.Getenv("DOCFORGE_DEDUP_DRIVER"); v != "" {
		cfg.Dedup.Driver = v
	}
	if v := os.Getenv("DOCFORGE_DISPATCHER_DRIVER"); v != "" {
		cfg.Dispatcher.Driver = v
	}
	if v := os.Getenv("DOCFORGE_NOTIFIER_DRIVER"); v != "" {
		cfg.Notifier.Driver = v
	}
	if v := os.Getenv("DOCFORGE_OBSERVABILITY_LOG_LEVEL"); v != "" {
		cfg.Observability.LogLevel = v
	}
}
