// Package config loads and validates service configuration via Viper.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config captures all service configuration knobs loaded via Viper.
type Config struct {
	Server  ServerConfig  `mapstructure:"server"`
	Logging LoggingConfig `mapstructure:"logging"`
	Scraper ScraperConfig `mapstructure:"scraper"`
}

// ServerConfig controls HTTP server behavior.
type ServerConfig struct {
	Port int `mapstructure:"port"`
}

// LoggingConfig toggles zap development features.
type LoggingConfig struct {
	Development bool `mapstructure:"development"`
}

// ScraperConfig governs the headless browser subsystem.
type ScraperConfig struct {
	Headless        bool   `mapstructure:"headless"`
	MaxParallel     int    `mapstructure:"max_parallel"`
	UserAgent       string `mapstructure:"user_agent"`
	NavTimeoutSec   int    `mapstructure:"nav_timeout_seconds"`
	LoginTimeoutSec int    `mapstructure:"login_timeout_seconds"`
	ScrollPauseMs   int    `mapstructure:"scroll_pause_ms"`
	TaskTimeoutMin  int    `mapstructure:"task_timeout_minutes"`
}

// Load builds a Config from disk/environment.
func Load(path string) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix("KUMO")
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
	v.SetDefault("server.port", 5000)
	v.SetDefault("logging.development", true)
	v.SetDefault("scraper.headless", true)
	v.SetDefault("scraper.max_parallel", 2)
	v.SetDefault("scraper.user_agent",
		"Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/110.0.0.0 Safari/537.36")
	v.SetDefault("scraper.nav_timeout_seconds", 60)
	v.SetDefault("scraper.login_timeout_seconds", 45)
	v.SetDefault("scraper.scroll_pause_ms", 3000)
	v.SetDefault("scraper.task_timeout_minutes", 60)
}

// Validate enforces required values and reasonable limits.
func (c Config) Validate() error {
	if c.Server.Port <= 0 {
		return fmt.Errorf("server.port must be > 0")
	}
	if c.Scraper.MaxParallel <= 0 {
		return fmt.Errorf("scraper.max_parallel must be > 0")
	}
	if c.Scraper.NavTimeoutSec <= 0 {
		return fmt.Errorf("scraper.nav_timeout_seconds must be > 0")
	}
	if c.Scraper.LoginTimeoutSec <= 0 {
		return fmt.Errorf("scraper.login_timeout_seconds must be > 0")
	}
	if c.Scraper.TaskTimeoutMin <= 0 {
		return fmt.Errorf("scraper.task_timeout_minutes must be > 0")
	}
	return nil
}

// NavTimeout is the per-navigation budget for the headless browser.
func (c ScraperConfig) NavTimeout() time.Duration {
	return time.Duration(c.NavTimeoutSec) * time.Second
}

// LoginTimeout bounds the wait for a login outcome after submit.
func (c ScraperConfig) LoginTimeout() time.Duration {
	return time.Duration(c.LoginTimeoutSec) * time.Second
}

// ScrollPause is the wait between history scroll passes.
func (c ScraperConfig) ScrollPause() time.Duration {
	return time.Duration(c.ScrollPauseMs) * time.Millisecond
}

// TaskTimeout bounds one whole enumerate or scrape run.
func (c ScraperConfig) TaskTimeout() time.Duration {
	return time.Duration(c.TaskTimeoutMin) * time.Minute
}
