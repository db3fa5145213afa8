package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testSecret = "0123456789abcdef0123456789abcdef"

// clearEnv blanks every variable Load reads so the host environment does
// not leak into a test.
func clearEnv(t *testing.T) {
	t.Helper()
	for _, key := range []string{
		"CARD_ENGINE_HOST", "CARD_ENGINE_PORT", "CARD_ENGINE_ALLOWED_ORIGINS", "CARD_ENGINE_DB",
		"CARD_ENGINE_DEMO", "JWT_SECRET", "LOG_LEVEL", "LOG_FORMAT", "REPAIR_SCHEDULE",
	} {
		t.Setenv(key, "")
	}
}

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestLoad_YAMLOverDefaults(t *testing.T) {
	clearEnv(t)
	path := writeConfig(t, `
server:
  port: 9090
  allowed_origins: ["https://cards.example.com"]
database:
  path: /var/lib/cards.db
jwt:
  secret: `+testSecret+`
log:
  format: json
demo:
  enabled: true
`)

	cfg, err := Load(path)

	require.NoError(t, err)
	assert.Equal(t, 9090, cfg.Server.Port)
	assert.Equal(t, []string{"https://cards.example.com"}, cfg.Server.AllowedOrigins)
	assert.Equal(t, "/var/lib/cards.db", cfg.Database.Path)
	assert.Equal(t, "json", cfg.Log.Format)
	assert.True(t, cfg.Demo.Enabled)
	// Untouched sections keep their defaults.
	assert.Equal(t, "card-engine", cfg.JWT.Issuer)
	assert.Equal(t, 60, cfg.JWT.TokenExpiryMinutes)
	assert.Equal(t, "0 0 3 * * *", cfg.Scheduler.RepairOwnership)
	assert.Equal(t, ":9090", cfg.Address())
}

func TestLoad_EnvironmentWins(t *testing.T) {
	clearEnv(t)
	path := writeConfig(t, "server:\n  port: 9090\njwt:\n  secret: "+testSecret+"\n")
	t.Setenv("CARD_ENGINE_PORT", "7070")
	t.Setenv("CARD_ENGINE_HOST", "127.0.0.1")
	t.Setenv("CARD_ENGINE_ALLOWED_ORIGINS", "https://a.example.com, https://b.example.com,")
	t.Setenv("CARD_ENGINE_DB", ":memory:")
	t.Setenv("CARD_ENGINE_DEMO", "true")
	t.Setenv("LOG_LEVEL", "debug")
	t.Setenv("REPAIR_SCHEDULE", "@hourly")

	cfg, err := Load(path)

	require.NoError(t, err)
	assert.Equal(t, "127.0.0.1:7070", cfg.Address())
	assert.Equal(t, []string{"https://a.example.com", "https://b.example.com"}, cfg.Server.AllowedOrigins)
	assert.Equal(t, ":memory:", cfg.Database.Path)
	assert.True(t, cfg.Demo.Enabled)
	assert.Equal(t, "debug", cfg.Log.Level)
	assert.Equal(t, "@hourly", cfg.Scheduler.RepairOwnership)
}

func TestLoad_NoFileUsesDefaultsAndEnv(t *testing.T) {
	clearEnv(t)
	t.Setenv("JWT_SECRET", testSecret)

	cfg, err := Load("")

	require.NoError(t, err)
	assert.Equal(t, 8080, cfg.Server.Port)
	assert.Equal(t, "./data/cards.db", cfg.Database.Path)
}

func TestLoad_Errors(t *testing.T) {
	clearEnv(t)

	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.ErrorContains(t, err, "failed to read config file")

	_, err = Load(writeConfig(t, "server: [not, a, map"))
	assert.ErrorContains(t, err, "failed to parse config file")

	_, err = Load("")
	assert.ErrorContains(t, err, "JWT secret is required")
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		modify  func(c *Config)
		wantErr string
	}{
		{"valid", func(c *Config) {}, ""},
		{"port zero", func(c *Config) { c.Server.Port = 0 }, "invalid server port"},
		{"port too high", func(c *Config) { c.Server.Port = 70000 }, "invalid server port"},
		{"no database", func(c *Config) { c.Database.Path = "" }, "database path is required"},
		{"short secret", func(c *Config) { c.JWT.Secret = "short" }, "at least 32 characters"},
		{"no expiry", func(c *Config) { c.JWT.TokenExpiryMinutes = 0 }, "invalid token expiry"},
		{"bad log format", func(c *Config) { c.Log.Format = "xml" }, "invalid log format"},
		{"bad schedule", func(c *Config) { c.Scheduler.RepairOwnership = "every night" }, "invalid repair schedule"},
		{"five field schedule", func(c *Config) { c.Scheduler.RepairOwnership = "0 3 * * *" }, "invalid repair schedule"},
		{"disabled schedule", func(c *Config) { c.Scheduler.RepairOwnership = "" }, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			cfg.JWT.Secret = testSecret
			tt.modify(cfg)

			err := cfg.Validate()

			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.True(t, strings.Contains(err.Error(), tt.wantErr), "got %q", err)
		})
	}
}
