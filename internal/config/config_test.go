package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoadMissingFileUsesDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	if err != nil {
		t.Fatalf("load: %v", err)
	}

	if cfg.HTTP.Addr != ":8090" {
		t.Fatalf("addr=%q", cfg.HTTP.Addr)
	}
	if cfg.Cache.StaleAfter != 5*time.Minute {
		t.Fatalf("stale_after=%v", cfg.Cache.StaleAfter)
	}
	if cfg.Cache.MinRequestInterval != 6*time.Second || cfg.Cache.ThrottleWait != time.Second {
		t.Fatalf("throttle settings=%v/%v", cfg.Cache.MinRequestInterval, cfg.Cache.ThrottleWait)
	}
	if cfg.Cache.MaxBytes != 2*1024*1024 || cfg.Cache.MinRetained != 10 {
		t.Fatalf("size bound=%d/%d", cfg.Cache.MaxBytes, cfg.Cache.MinRetained)
	}
	if cfg.Cache.DefaultSeason != "2024" {
		t.Fatalf("default season=%q", cfg.Cache.DefaultSeason)
	}
	if !cfg.Cache.SingleFlightEnabled() {
		t.Fatalf("single flight should default to on")
	}
	if cfg.Storage.Driver != "file" {
		t.Fatalf("driver=%q", cfg.Storage.Driver)
	}
}

func TestLoadYAMLAndEnvOverride(t *testing.T) {
	path := filepath.Join(t.TempDir(), "local.yaml")
	raw := `
backend:
  base_url: "http://backend:9000"
  timeout: 3s
cache:
  stale_after: 2m
  single_flight: false
storage:
  driver: memory
`
	if err := os.WriteFile(path, []byte(raw), 0o600); err != nil {
		t.Fatalf("write: %v", err)
	}
	t.Setenv("FIVES_BACKEND_URL", "http://override:8000")
	t.Setenv("FIVES_LOG_LEVEL", "debug")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Backend.BaseURL != "http://override:8000" {
		t.Fatalf("base url=%q", cfg.Backend.BaseURL)
	}
	if cfg.Backend.Timeout != 3*time.Second {
		t.Fatalf("timeout=%v", cfg.Backend.Timeout)
	}
	if cfg.Cache.StaleAfter != 2*time.Minute {
		t.Fatalf("stale_after=%v", cfg.Cache.StaleAfter)
	}
	if cfg.Cache.SingleFlightEnabled() {
		t.Fatalf("single flight should be off")
	}
	if cfg.Log.LevelStr != "debug" {
		t.Fatalf("log level=%q", cfg.Log.LevelStr)
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr bool
	}{
		{name: "ok", mutate: func(*Config) {}},
		{name: "unknown driver", mutate: func(c *Config) { c.Storage.Driver = "s3" }, wantErr: true},
		{name: "redis without redis", mutate: func(c *Config) { c.Storage.Driver = "redis" }, wantErr: true},
		{name: "redis enabled", mutate: func(c *Config) { c.Storage.Driver = "redis"; c.Redis.Enabled = true }},
		{name: "zero retained", mutate: func(c *Config) { c.Cache.MinRetained = 0 }, wantErr: true},
		{name: "empty key", mutate: func(c *Config) { c.Cache.StorageKey = "" }, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
			if err != nil {
				t.Fatalf("load: %v", err)
			}
			tt.mutate(&cfg)
			err = cfg.Validate()
			if tt.wantErr && err == nil {
				t.Fatalf("expected error")
			}
			if !tt.wantErr && err != nil {
				t.Fatalf("unexpected err: %v", err)
			}
		})
	}
}
