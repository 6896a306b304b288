package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	t.Setenv("ENV", "development")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "8080", cfg.ServerPort)
	assert.Equal(t, "data/autoreply.db", cfg.DatabasePath)
	assert.Equal(t, "v24.0", cfg.WhatsAppAPIVersion)
	assert.Equal(t, 10*time.Second, cfg.WhatsAppHTTPTimeout)
	assert.Equal(t, RateModeBurst, cfg.RateMode)
	assert.Equal(t, 5*time.Second, cfg.ReplyWindow())
	assert.Equal(t, 30*time.Minute, cfg.PauseDuration)
	assert.Equal(t, "gpt-4o-mini", cfg.LLMModel)
	assert.Equal(t, 500, cfg.LLMMaxTokens)
	assert.InDelta(t, 0.3, cfg.LLMTemperature, 1e-9)
	assert.True(t, cfg.LLMEnabled)
	assert.Equal(t, "Asia/Kuala_Lumpur", cfg.Location().String())
}

func TestLoadOverrides(t *testing.T) {
	t.Setenv("ENV", "development")
	t.Setenv("AUTO_REPLY_RATE_MODE", "cooldown")
	t.Setenv("AUTO_REPLY_COOLDOWN_WINDOW", "2m")
	t.Setenv("LLM_PROVIDER", "anthropic")
	t.Setenv("ANTHROPIC_API_KEY", "ak")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, 2*time.Minute, cfg.ReplyWindow())
	assert.Equal(t, "ak", cfg.LLMAPIKey())
}

func TestLoadFromFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("env: development\nport: \"9090\"\nbusiness_timezone: UTC\n"), 0o600))
	t.Setenv("CONFIG_FILE", path)

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, "9090", cfg.ServerPort)
	assert.Equal(t, time.UTC.String(), cfg.Location().String())
}

func TestValidate(t *testing.T) {
	base := func() *Config {
		return &Config{
			Env:              "development",
			RateMode:         RateModeBurst,
			LLMProvider:      "openai",
			BurstWindow:      5 * time.Second,
			CooldownWindow:   90 * time.Second,
			PauseDuration:    30 * time.Minute,
			BusinessTimezone: "UTC",
			JWTSecret:        developmentJWTSecret,
			CredentialsKey:   developmentCredentialsKey,
		}
	}

	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr bool
	}{
		{"valid", func(*Config) {}, false},
		{"bad rate mode", func(c *Config) { c.RateMode = "sometimes" }, true},
		{"bad provider", func(c *Config) { c.LLMProvider = "mystery" }, true},
		{"bad timezone", func(c *Config) { c.BusinessTimezone = "Mars/Olympus" }, true},
		{"zero pause", func(c *Config) { c.PauseDuration = 0 }, true},
		{"production default secrets", func(c *Config) { c.Env = "production" }, true},
		{"production real secrets", func(c *Config) {
			c.Env = "production"
			c.JWTSecret = "real"
			c.CredentialsKey = "real"
		}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := base()
			tt.mutate(c)
			err := c.Validate()
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}
