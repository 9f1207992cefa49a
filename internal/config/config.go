// Package config loads and validates service configuration. Values come
// from an optional YAML file, overridden by environment variables (a .env
// file is honored when present). The rest of the code never reads the
// environment directly.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Config holds every externally supplied setting.
type Config struct {
	TelegramToken      string        `yaml:"telegram_token"`
	WebhookSecret      string        `yaml:"webhook_secret"`
	Addr               string        `yaml:"addr"`
	LogLevel           string        `yaml:"log_level"`
	TelegramChatID     int64         `yaml:"telegram_chat_id"`
	RateLimit          int           `yaml:"rate_limit"`
	MaxConnsPerIP      int           `yaml:"max_conns_per_ip"`
	MaxConnsTotal      int           `yaml:"max_conns_total"`
	CacheMaxSize       int           `yaml:"cache_max_size"`
	CacheWindow        time.Duration `yaml:"cache_window"`
	CacheSweepInterval time.Duration `yaml:"cache_sweep_interval"`
	RequireGitHubIP    bool          `yaml:"require_github_ip"`
}

// Defaults returns the built-in configuration.
func Defaults() *Config {
	return &Config{
		Addr:               ":8080",
		LogLevel:           "info",
		RateLimit:          100, // requests per minute per IP
		MaxConnsPerIP:      10,
		MaxConnsTotal:      1000,
		CacheMaxSize:       10000,
		CacheWindow:        24 * time.Hour,
		CacheSweepInterval: time.Hour,
	}
}

// Load builds the configuration: defaults, then the YAML file at path (if
// any), then environment variables. A .env file in the working directory
// is loaded into the environment first, ignoring absence.
func Load(path string) (*Config, error) {
	_ = godotenv.Load()

	cfg := Defaults()

	if path != "" {
		raw, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config file: %w", err)
		}
		if err := yaml.Unmarshal(raw, cfg); err != nil {
			return nil, fmt.Errorf("parse config file %s: %w", path, err)
		}
	}

	if err := cfg.applyEnv(); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) applyEnv() error {
	if v := os.Getenv("TELEGRAM_BOT_TOKEN"); v != "" {
		c.TelegramToken = v
	}
	if v := os.Getenv("GITHUB_WEBHOOK_SECRET"); v != "" {
		c.WebhookSecret = v
	}
	if v := os.Getenv("ADDR"); v != "" {
		c.Addr = v
	}
	if v := os.Getenv("LOG_LEVEL"); v != "" {
		c.LogLevel = v
	}
	if v := os.Getenv("TELEGRAM_CHAT_ID"); v != "" {
		id, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			return fmt.Errorf("invalid TELEGRAM_CHAT_ID %q: %w", v, err)
		}
		c.TelegramChatID = id
	}

	for _, e := range []struct {
		dst  *int
		name string
	}{
		{&c.RateLimit, "RATE_LIMIT"},
		{&c.MaxConnsPerIP, "MAX_CONNS_PER_IP"},
		{&c.MaxConnsTotal, "MAX_CONNS_TOTAL"},
		{&c.CacheMaxSize, "CACHE_MAX_SIZE"},
	} {
		v := os.Getenv(e.name)
		if v == "" {
			continue
		}
		i, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("invalid %s %q: %w", e.name, v, err)
		}
		*e.dst = i
	}

	for _, e := range []struct {
		dst  *time.Duration
		name string
	}{
		{&c.CacheWindow, "CACHE_WINDOW"},
		{&c.CacheSweepInterval, "CACHE_SWEEP_INTERVAL"},
	} {
		v := os.Getenv(e.name)
		if v == "" {
			continue
		}
		d, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("invalid %s %q: %w", e.name, v, err)
		}
		*e.dst = d
	}

	if v := os.Getenv("REQUIRE_GITHUB_IP"); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("invalid REQUIRE_GITHUB_IP %q: %w", v, err)
		}
		c.RequireGitHubIP = b
	}

	return nil
}

// Validate reports the first missing required setting. Failures here are
// fatal at startup.
func (c *Config) Validate() error {
	switch {
	case c.TelegramToken == "":
		return errors.New("telegram bot token is required (TELEGRAM_BOT_TOKEN)")
	case c.TelegramChatID == 0:
		return errors.New("telegram chat id is required (TELEGRAM_CHAT_ID)")
	case c.WebhookSecret == "":
		return errors.New("webhook secret is required (GITHUB_WEBHOOK_SECRET)")
	case c.CacheMaxSize <= 0:
		return errors.New("cache_max_size must be positive")
	case c.CacheWindow <= 0:
		return errors.New("cache_window must be positive")
	}
	return nil
}
