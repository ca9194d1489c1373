package config

import (
	"testing"
	"time"
)

func TestLoad_valid(t *testing.T) {
	cfg, err := Load("testdata/valid.yaml")
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.Server.Port != 9090 {
		t.Errorf("Server.Port = %d, want 9090", cfg.Server.Port)
	}
	if cfg.Server.ReadTimeout != 15*time.Second {
		t.Errorf("Server.ReadTimeout = %v, want 15s", cfg.Server.ReadTimeout)
	}
	if cfg.Dedup.TTL != 12*time.Hour {
		t.Errorf("Dedup.TTL = %v, want 12h", cfg.Dedup.TTL)
	}
	if cfg.Dedup.SweepInterval != 5*time.Minute {
		t.Errorf("Dedup.SweepInterval = %v, want 5m", cfg.Dedup.SweepInterval)
	}
	if cfg.Dispatcher.Driver != "redis" {
		t.Errorf("Dispatcher.Driver = %q, want redis", cfg.Dispatcher.Driver)
	}
	if cfg.Dispatcher.StreamPrefix != "docforge:test:commands" {
		t.Errorf("Dispatcher.StreamPrefix = %q", cfg.Dispatcher.StreamPrefix)
	}
	if cfg.Observability.LogLevel != "debug" {
		t.Errorf("LogLevel = %q, want debug", cfg.Observability.LogLevel)
	}
	if cfg.Observability.Tracing.Exporter != "stdout" {
		t.Errorf("Tracing.Exporter = %q, want stdout", cfg.Observability.Tracing.Exporter)
	}
}

func TestLoad_missing_file(t *testing.T) {
	_, err := Load("testdata/nonexistent.yaml")
	if err == nil {
		t.Fatal("Load() with missing file should return error")
	}
}

func TestLoad_bad_drivers(t *testing.T) {
	_, err := Load("testdata/bad_driver.yaml")
	if err == nil {
		t.Fatal("Load() with unknown drivers should return error")
	}
}

func TestLoad_empty_path_uses_defaults(t *testing.T) {
	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load(\"\") error = %v", err)
	}
	if cfg.Server.Port != 8080 {
		t.Errorf("Server.Port = %d, want 8080", cfg.Server.Port)
	}
	if cfg.Store.Driver != "memory" {
		t.Errorf("Store.Driver = %q, want memory", cfg.Store.Driver)
	}
}

func TestDefaults(t *testing.T) {
	cfg := Defaults()
	if cfg.Server.Port != 8080 {
		t.Errorf("default Server.Port = %d, want 8080", cfg.Server.Port)
	}
	if cfg.Dedup.TTL != 24*time.Hour {
		t.Errorf("default Dedup.TTL = %v, want 24h", cfg.Dedup.TTL)
	}
	if cfg.Dispatcher.StreamPrefix != "docforge:commands" {
		t.Errorf("default StreamPrefix = %q", cfg.Dispatcher.StreamPrefix)
	}
	if cfg.Notifier.ChannelPrefix != "docforge:workflow" {
		t.Errorf("default ChannelPrefix = %q", cfg.Notifier.ChannelPrefix)
	}
	if cfg.Observability.LogLevel != "info" {
		t.Errorf("default LogLevel = %q, want info", cfg.Observability.LogLevel)
	}
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("DOCFORGE_SERVER_PORT", "3000")
	t.Setenv("DOCFORGE_DEDUP_DRIVER", "redis")
	t.Setenv("DOCFORGE_OBSERVABILITY_LOG_LEVEL", "error")

	cfg, err := Load("testdata/valid.yaml")
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.Server.Port != 3000 {
		t.Errorf("Server.Port = %d, want 3000 (env override)", cfg.Server.Port)
	}
	if cfg.Dedup.Driver != "redis" {
		t.Errorf("Dedup.Driver = %q, want redis (env override)", cfg.Dedup.Driver)
	}
	if cfg.Observability.LogLevel != "error" {
		t.Errorf("LogLevel = %q, want error (env override)", cfg.Observability.LogLevel)
	}
}

func TestValidate_invalid_port(t *testing.T) {
	cfg := Defaults()
	cfg.Server.Port = 0

	if err := cfg.Validate(); err == nil {
		t.Fatal("Validate() with port 0 should return error")
	}
}

func TestValidate_postgres_requires_dsn(t *testing.T) {
	cfg := Defaults()
	cfg.Store.Driver = "postgres"
	cfg.Store.DSNEnv = "DOCFORGE_TEST_UNSET_DSN"

	if err := cfg.Validate(); err == nil {
		t.Fatal("Validate() with postgres driver and empty DSN env should return error")
	}

	t.Setenv("DOCFORGE_TEST_UNSET_DSN", "postgres://localhost/docforge")
	if err := cfg.Validate(); err != nil {
		t.Fatalf("Validate() error = %v", err)
	}
}
