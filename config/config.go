// Package config loads the server configuration from YAML and environment.
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/robfig/cron/v3"
	"gopkg.in/yaml.v3"
)

// Config represents the application configuration
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Database  DatabaseConfig  `yaml:"database"`
	JWT       JWTConfig       `yaml:"jwt"`
	Log       LogConfig       `yaml:"log"`
	Scheduler SchedulerConfig `yaml:"scheduler"`
	Demo      DemoConfig      `yaml:"demo"`
}

type ServerConfig struct {
	Host           string   `yaml:"host"`
	Port           int      `yaml:"port"`
	AllowedOrigins []string `yaml:"allowed_origins"`
}

// DatabaseConfig points at the SQLite file. ":memory:" keeps everything in
// process memory.
type DatabaseConfig struct {
	Path string `yaml:"path"`
}

type JWTConfig struct {
	Secret             string `yaml:"secret"`
	Issuer             string `yaml:"issuer"`
	TokenExpiryMinutes int    `yaml:"token_expiry_minutes"`
}

type LogConfig struct {
	Level  string `yaml:"level"`  // "debug", "info", "warn", "error"
	Format string `yaml:"format"` // "json" or "text"
}

// SchedulerConfig holds cron specs with a seconds field.
type SchedulerConfig struct {
	RepairOwnership string `yaml:"repair_ownership"`
}

// DemoConfig enables the demo scenario endpoints and token minting.
type DemoConfig struct {
	Enabled bool `yaml:"enabled"`
}

const MinSecretLength = 32

// Default returns the configuration used when no file is given.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Port:           8080,
			AllowedOrigins: []string{"http://localhost:*", "http://127.0.0.1:*"},
		},
		Database: DatabaseConfig{Path: "./data/cards.db"},
		JWT: JWTConfig{
			Issuer:             "card-engine",
			TokenExpiryMinutes: 60,
		},
		Log: LogConfig{Level: "info", Format: "text"},
		Scheduler: SchedulerConfig{
			RepairOwnership: "0 0 3 * * *", // 3 AM UTC
		},
	}
}

// Load reads configuration from a YAML file layered over Default. An empty
// path skips the file. Environment variables override both.
func Load(configPath string) (*Config, error) {
	cfg := Default()

	if configPath != "" {
		data, err := os.ReadFile(configPath)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config file: %w", err)
		}
	}

	cfg.overrideWithEnv()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// overrideWithEnv overrides config values with environment variables
func (c *Config) overrideWithEnv() {
	if val := os.Getenv("CARD_ENGINE_HOST"); val != "" {
		c.Server.Host = val
	}
	if val := os.Getenv("CARD_ENGINE_PORT"); val != "" {
		fmt.Sscanf(val, "%d", &c.Server.Port)
	}
	if val := os.Getenv("CARD_ENGINE_ALLOWED_ORIGINS"); val != "" {
		c.Server.AllowedOrigins = splitList(val)
	}
	if val := os.Getenv("CARD_ENGINE_DB"); val != "" {
		c.Database.Path = val
	}
	if val := os.Getenv("CARD_ENGINE_DEMO"); val != "" {
		c.Demo.Enabled = val == "1" || strings.EqualFold(val, "true")
	}

	if val := os.Getenv("JWT_SECRET"); val != "" {
		c.JWT.Secret = val
	}

	if val := os.Getenv("LOG_LEVEL"); val != "" {
		c.Log.Level = val
	}
	if val := os.Getenv("LOG_FORMAT"); val != "" {
		c.Log.Format = val
	}

	if val := os.Getenv("REPAIR_SCHEDULE"); val != "" {
		c.Scheduler.RepairOwnership = val
	}
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid server port: %d", c.Server.Port)
	}
	if c.Database.Path == "" {
		return errors.New("database path is required")
	}

	if c.JWT.Secret == "" {
		return errors.New("JWT secret is required")
	}
	if len(c.JWT.Secret) < MinSecretLength {
		return fmt.Errorf("JWT secret must be at least %d characters", MinSecretLength)
	}
	if c.JWT.TokenExpiryMinutes <= 0 {
		return fmt.Errorf("invalid token expiry: %d minutes", c.JWT.TokenExpiryMinutes)
	}

	switch strings.ToLower(c.Log.Format) {
	case "", "text", "json":
	default:
		return fmt.Errorf("invalid log format: %q", c.Log.Format)
	}

	if c.Scheduler.RepairOwnership != "" {
		parser := cron.NewParser(cron.Second | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)
		if _, err := parser.Parse(c.Scheduler.RepairOwnership); err != nil {
			return fmt.Errorf("invalid repair schedule %q: %w", c.Scheduler.RepairOwnership, err)
		}
	}
	return nil
}

// Address returns the HTTP listen address.
func (c *Config) Address() string {
	return fmt.Sprintf("%s:%d", c.Server.Host, c.Server.Port)
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
