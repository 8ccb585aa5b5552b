package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func validConfig() *Config {
	cfg := DefaultConfig()
	cfg.Token.Secret = "test-secret"
	cfg.Delivery.Regions = map[string]string{"eu": "https://eu.mirror.example.net/payloads"}
	return cfg
}

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	assert.Equal(t, 8750, cfg.Server.Port)
	assert.Equal(t, "memory", cfg.Quota.Backend)
	assert.Equal(t, "4m", cfg.Token.Window)
	assert.NotEmpty(t, cfg.Delivery.AllowedTools)
	assert.NotEmpty(t, cfg.Delivery.BlockedTools)
	assert.Contains(t, cfg.Delivery.Variants, "win11-pro")
	assert.Contains(t, cfg.Abuse.Classes, "delivery")
}

func TestValidate_RequiresTokenSecret(t *testing.T) {
	cfg := validConfig()
	cfg.Token.Secret = ""

	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "token.secret")
}

func TestValidate_QuotaBackend(t *testing.T) {
	cfg := validConfig()
	cfg.Quota.Backend = "redis"
	require.Error(t, cfg.Validate())

	cfg.Quota.Backend = "postgres"
	require.Error(t, cfg.Validate(), "postgres backend without DSN must fail")

	cfg.Quota.Postgres.DSN = "postgres://provisd:pw@localhost:5432/provisd"
	require.NoError(t, cfg.Validate())
}

func TestValidate_BadDurations(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"token window", func(c *Config) { c.Token.Window = "soon" }},
		{"abuse class window", func(c *Config) {
			c.Abuse.Classes["delivery"] = AbuseClassConfig{Window: "x", MaxCount: 1, BlockFor: "1m"}
		}},
		{"heartbeat", func(c *Config) { c.Notify.HeartbeatInterval = "" }},
		{"shutdown timeout", func(c *Config) { c.Server.ShutdownTimeout = "10" }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validConfig()
			tt.mutate(cfg)
			assert.Error(t, cfg.Validate())
		})
	}
}

func TestValidate_AbuseMaxCount(t *testing.T) {
	cfg := validConfig()
	cfg.Abuse.Classes["delivery"] = AbuseClassConfig{Window: "1m", MaxCount: 0, BlockFor: "1m"}
	assert.Error(t, cfg.Validate())
}

func TestTokenValidityWindow(t *testing.T) {
	assert.Equal(t, 90*time.Second, TokenConfig{Window: "90s"}.ValidityWindow())
	assert.Equal(t, 4*time.Minute, TokenConfig{}.ValidityWindow(), "zero value falls back to default")
}

func TestLoad_FromFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "provisd.yml")

	content := `
server:
  port: 9000
token:
  secret: file-secret
  window: 2m
delivery:
  regions:
    us: https://us.mirror.example.net/payloads
quota:
  backend: memory
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, 9000, cfg.Server.Port)
	assert.Equal(t, "file-secret", cfg.Token.Secret)
	assert.Equal(t, 2*time.Minute, cfg.Token.ValidityWindow())
	assert.Equal(t, "https://us.mirror.example.net/payloads", cfg.Delivery.Regions["us"])
	// Untouched sections keep their defaults
	assert.Equal(t, "memory", cfg.Quota.Backend)
	assert.NotEmpty(t, cfg.Delivery.AllowedTools)
}

func TestLoad_EnvOverridesSecret(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "provisd.yml")

	content := `
token:
  secret: file-secret
delivery:
  regions:
    us: https://us.mirror.example.net/payloads
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
	t.Setenv("PROVISD_TOKEN_SECRET", "env-secret")

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "env-secret", cfg.Token.Secret)
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load("/nonexistent/provisd.yml")
	assert.Error(t, err)
}
