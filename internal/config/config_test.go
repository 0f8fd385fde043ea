package config

import (
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	t.Setenv("CONFIG_PATH", "")
	t.Setenv("APP_BASE_URL", "https://notes.example.com/")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.Env != EnvLocal {
		t.Errorf("Env = %q, want %q", cfg.Env, EnvLocal)
	}
	if cfg.Dispatch.ClaimTTL != 2*time.Minute {
		t.Errorf("ClaimTTL = %v, want 2m", cfg.Dispatch.ClaimTTL)
	}
	if cfg.Dispatch.BatchSize != 200 {
		t.Errorf("BatchSize = %d, want 200", cfg.Dispatch.BatchSize)
	}
	if cfg.Sweep.Retention != 48*time.Hour {
		t.Errorf("Retention = %v, want 48h", cfg.Sweep.Retention)
	}
	if cfg.Dispatch.Schedule != "@every 1m" {
		t.Errorf("Dispatch.Schedule = %q", cfg.Dispatch.Schedule)
	}
	if cfg.AppBaseURL != "https://notes.example.com" {
		t.Errorf("AppBaseURL = %q, trailing slash not trimmed", cfg.AppBaseURL)
	}
}

func TestLoadOverrides(t *testing.T) {
	t.Setenv("CONFIG_PATH", "")
	t.Setenv("ENV", "prod")
	t.Setenv("CLAIM_TTL", "45s")
	t.Setenv("DISPATCH_BATCH_SIZE", "50")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.Env != EnvProd {
		t.Errorf("Env = %q, want prod", cfg.Env)
	}
	if cfg.Dispatch.ClaimTTL != 45*time.Second {
		t.Errorf("ClaimTTL = %v, want 45s", cfg.Dispatch.ClaimTTL)
	}
	if cfg.Dispatch.BatchSize != 50 {
		t.Errorf("BatchSize = %d, want 50", cfg.Dispatch.BatchSize)
	}
}

func TestValidate(t *testing.T) {
	base := Config{
		Env:         EnvLocal,
		DatabaseURL: "x.db",
		Dispatch:    Dispatch{ClaimTTL: time.Minute, BatchSize: 1},
		Sweep:       Sweep{Retention: time.Hour, BatchSize: 1},
		Push:        Push{Timeout: time.Second},
	}
	if err := base.Validate(); err != nil {
		t.Fatalf("base config should be valid: %v", err)
	}

	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{name: "unknown env", mutate: func(c *Config) { c.Env = "staging" }},
		{name: "empty dsn", mutate: func(c *Config) { c.DatabaseURL = "" }},
		{name: "zero ttl", mutate: func(c *Config) { c.Dispatch.ClaimTTL = 0 }},
		{name: "zero batch", mutate: func(c *Config) { c.Dispatch.BatchSize = 0 }},
		{name: "zero retention", mutate: func(c *Config) { c.Sweep.Retention = 0 }},
		{name: "smtp without from", mutate: func(c *Config) { c.SMTP.Host = "smtp.example.com" }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := base
			tt.mutate(&cfg)
			if err := cfg.Validate(); err == nil {
				t.Fatal("expected validation error")
			}
		})
	}
}
