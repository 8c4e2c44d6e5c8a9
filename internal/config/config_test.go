package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	t.Parallel()

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.Server.Port != 5000 {
		t.Fatalf("expected default port 5000, got %d", cfg.Server.Port)
	}
	if !cfg.Logging.Development {
		t.Fatalf("expected development logging by default")
	}
	if !cfg.Scraper.Headless {
		t.Fatalf("expected headless browsing by default")
	}
	if cfg.Scraper.MaxParallel != 2 {
		t.Fatalf("expected max_parallel 2, got %d", cfg.Scraper.MaxParallel)
	}
	if cfg.Scraper.UserAgent == "" {
		t.Fatalf("expected a default user agent")
	}
	if got := cfg.Scraper.NavTimeout(); got != 60*time.Second {
		t.Fatalf("expected nav timeout 60s, got %v", got)
	}
	if got := cfg.Scraper.LoginTimeout(); got != 45*time.Second {
		t.Fatalf("expected login timeout 45s, got %v", got)
	}
	if got := cfg.Scraper.ScrollPause(); got != 3*time.Second {
		t.Fatalf("expected scroll pause 3s, got %v", got)
	}
	if got := cfg.Scraper.TaskTimeout(); got != time.Hour {
		t.Fatalf("expected task timeout 1h, got %v", got)
	}
}

func TestLoadWithFileOverrides(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	configYAML := `
server:
  port: 8080
logging:
  development: false
scraper:
  headless: false
  max_parallel: 4
  user_agent: test-agent
  nav_timeout_seconds: 30
  login_timeout_seconds: 20
  scroll_pause_ms: 500
  task_timeout_minutes: 15
`
	if err := os.WriteFile(path, []byte(configYAML), 0o600); err != nil {
		t.Fatalf("failed to write config: %v", err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.Server.Port != 8080 {
		t.Fatalf("expected port 8080, got %d", cfg.Server.Port)
	}
	if cfg.Logging.Development {
		t.Fatalf("expected production logging")
	}
	if cfg.Scraper.Headless {
		t.Fatalf("expected headless disabled")
	}
	if cfg.Scraper.UserAgent != "test-agent" {
		t.Fatalf("expected user agent override, got %q", cfg.Scraper.UserAgent)
	}
	if got := cfg.Scraper.ScrollPause(); got != 500*time.Millisecond {
		t.Fatalf("expected scroll pause 500ms, got %v", got)
	}
	if got := cfg.Scraper.TaskTimeout(); got != 15*time.Minute {
		t.Fatalf("expected task timeout 15m, got %v", got)
	}
}

func TestLoadMissingFile(t *testing.T) {
	t.Parallel()

	if _, err := Load(filepath.Join(t.TempDir(), "absent.yaml")); err == nil {
		t.Fatalf("expected error for missing config file")
	}
}

func TestValidateRejectsBadValues(t *testing.T) {
	t.Parallel()

	base := Config{
		Server: ServerConfig{Port: 5000},
		Scraper: ScraperConfig{
			MaxParallel:     2,
			NavTimeoutSec:   60,
			LoginTimeoutSec: 45,
			TaskTimeoutMin:  60,
		},
	}
	if err := base.Validate(); err != nil {
		t.Fatalf("expected base config to validate, got %v", err)
	}

	mutations := []func(*Config){
		func(c *Config) { c.Server.Port = 0 },
		func(c *Config) { c.Scraper.MaxParallel = 0 },
		func(c *Config) { c.Scraper.NavTimeoutSec = -1 },
		func(c *Config) { c.Scraper.LoginTimeoutSec = 0 },
		func(c *Config) { c.Scraper.TaskTimeoutMin = 0 },
	}
	for i, mutate := range mutations {
		cfg := base
		mutate(&cfg)
		if err := cfg.Validate(); err == nil {
			t.Fatalf("mutation %d: expected validation error", i)
		}
	}
}
