// Package config loads process configuration in three layers — built-in defaults, an
// optional YAML file, then environment variables (highest priority) — using koanf,
// matching the env-var surface in spec §6.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/structs"
	"github.com/knadh/koanf/v2"
)

// ConfigPathEnvVar overrides the search path for the optional YAML config file.
const ConfigPathEnvVar = "CONFIG_PATH"

// DefaultConfigPaths are searched, in order, when CONFIG_PATH is unset.
var DefaultConfigPaths = []string{"config.yaml", "config.yml", "/etc/eventscrape/config.yaml"}

// Config is the full process configuration. Fields map 1:1 onto the env vars listed in
// spec §6; koanf tags give the file/struct-provider keys (lowercase, dot-nested).
type Config struct {
	DatabaseURL           string        `koanf:"database_url"`
	RedisURL              string        `koanf:"redis_url"`
	Env                   string        `koanf:"node_env"`
	Port                  int           `koanf:"port"`
	CORSAllowedOrigins    []string      `koanf:"cors_allowed_origins"`
	ExportDir             string        `koanf:"export_dir"`
	InstagramImagesDir    string        `koanf:"instagram_images_dir"`
	BackupDir             string        `koanf:"backup_dir"`
	APIRateLimitMax       int           `koanf:"api_rate_limit_max"`
	APIRateLimitWindow    time.Duration `koanf:"api_rate_limit_time_window"`
	PlaywrightHeadless    bool          `koanf:"playwright_headless"`
	WorkerConcurrency     int           `koanf:"worker_concurrency"`
	BrowserPoolSize       int           `koanf:"browser_pool_size"`
	LogLevel              string        `koanf:"log_level"`
	LogFormat             string        `koanf:"log_format"`
}

func defaultConfig() *Config {
	return &Config{
		DatabaseURL:        "./data/eventscrape.duckdb",
		RedisURL:           "redis://127.0.0.1:6379/0",
		Env:                "development",
		Port:               3000,
		CORSAllowedOrigins: []string{"*"},
		ExportDir:          "./data/exports",
		InstagramImagesDir: "./data/instagram-images",
		BackupDir:          "./data/backups",
		APIRateLimitMax:    100,
		APIRateLimitWindow: time.Minute,
		PlaywrightHeadless: true,
		WorkerConcurrency:  1,
		BrowserPoolSize:    3,
		LogLevel:           "info",
		LogFormat:          "json",
	}
}

// envTransform maps EVENTSCRAPE-style upper-snake env var names onto koanf's dot path,
// e.g. API_RATE_LIMIT_MAX -> api_rate_limit_max.
func envTransform(s string) string {
	return strings.ToLower(s)
}

// Load reads defaults, then an optional YAML file, then environment variables (which win),
// and returns the fully-populated Config.
func Load() (*Config, error) {
	k := koanf.New(".")

	if err := k.Load(structs.Provider(defaultConfig(), "koanf"), nil); err != nil {
		return nil, fmt.Errorf("load config defaults: %w", err)
	}

	if path := findConfigFile(); path != "" {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("load config file %s: %w", path, err)
		}
	}

	if err := k.Load(env.Provider("", ".", envTransform), nil); err != nil {
		return nil, fmt.Errorf("load environment variables: %w", err)
	}

	if err := applyCommaListOverrides(k); err != nil {
		return nil, err
	}

	cfg := &Config{}
	if err := k.Unmarshal("", cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}
	return cfg, nil
}

func findConfigFile() string {
	if p := os.Getenv(ConfigPathEnvVar); p != "" {
		if _, err := os.Stat(p); err == nil {
			return p
		}
	}
	for _, p := range DefaultConfigPaths {
		if _, err := os.Stat(p); err == nil {
			return p
		}
	}
	return ""
}

// applyCommaListOverrides re-splits CORS_ALLOWED_ORIGINS (a comma-separated env var) into
// a slice, since koanf's env provider otherwise stores it as one scalar string.
func applyCommaListOverrides(k *koanf.Koanf) error {
	if raw := os.Getenv("CORS_ALLOWED_ORIGINS"); raw != "" {
		parts := strings.Split(raw, ",")
		for i := range parts {
			parts[i] = strings.TrimSpace(parts[i])
		}
		if err := k.Set("cors_allowed_origins", parts); err != nil {
			return fmt.Errorf("apply cors_allowed_origins override: %w", err)
		}
	}
	if raw := os.Getenv("API_RATE_LIMIT_TIME_WINDOW"); raw != "" {
		if secs, err := strconv.Atoi(raw); err == nil {
			if err := k.Set("api_rate_limit_time_window", time.Duration(secs)*time.Second); err != nil {
				return fmt.Errorf("apply api_rate_limit_time_window override: %w", err)
			}
		}
	}
	return nil
}

// Validate rejects configurations the rest of the system cannot safely run with.
func (c *Config) Validate() error {
	if c.DatabaseURL == "" {
		return fmt.Errorf("database_url must not be empty")
	}
	if c.RedisURL == "" {
		return fmt.Errorf("redis_url must not be empty")
	}
	if c.Port <= 0 || c.Port > 65535 {
		return fmt.Errorf("port out of range: %d", c.Port)
	}
	if c.WorkerConcurrency <= 0 {
		c.WorkerConcurrency = 1
	}
	if c.BrowserPoolSize <= 0 {
		c.BrowserPoolSize = 3
	}
	return nil
}
