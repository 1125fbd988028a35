package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	assert.Equal(t, ":3000", cfg.Server.Address)
	assert.Equal(t, 100, cfg.Store.MaxSpecial)
	assert.Equal(t, 400, cfg.Store.MaxDefault)
	assert.Equal(t, 30*time.Second, cfg.Store.WaitTimeout)
	assert.Equal(t, 7*24*time.Hour, cfg.Auth.SessionTTL)
	assert.Equal(t, 15*time.Second, cfg.Sync.PastBuffer)
	assert.Equal(t, 60*time.Second, cfg.Sync.FutureBuffer)
	assert.Equal(t, 20*time.Second, cfg.Sync.FutureBufferView)
	assert.Equal(t, 5*time.Second, cfg.Sync.MaxDrift)
	assert.Equal(t, 2*time.Second, cfg.Sync.MaxDriftPaused)
	assert.Equal(t, 500*time.Millisecond, cfg.Sync.ResyncMin)
	assert.NoError(t, cfg.Validate())
}

func TestLoadOverridesDefaults(t *testing.T) {
	content := `
server:
  address: ":4000"
store:
  max_special: 50
  max_default: 200
auth:
  jwt_secret: "secret"
  host_codes:
    - "alpha"
    - "beta"
profiles:
  - name: "720p"
    max_width: 1280
    video_bitrate: 4000000
logging:
  level: "debug"
`
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, ":4000", cfg.Server.Address)
	assert.Equal(t, 50, cfg.Store.MaxSpecial)
	assert.Equal(t, 200, cfg.Store.MaxDefault)
	assert.Equal(t, []string{"alpha", "beta"}, cfg.Auth.HostCodes)
	require.Len(t, cfg.Profiles, 1)
	assert.Equal(t, "720p", cfg.Profiles[0].Name)
	assert.Equal(t, 1280, cfg.Profiles[0].MaxWidth)
	assert.Equal(t, "debug", cfg.Logging.Level)

	// untouched sections keep defaults
	assert.Equal(t, 60*time.Second, cfg.Sync.FutureBuffer)
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	assert.Error(t, err)
}

func TestValidateRejectsBadValues(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"empty address", func(c *Config) { c.Server.Address = "" }},
		{"zero special cap", func(c *Config) { c.Store.MaxSpecial = 0 }},
		{"zero default cap", func(c *Config) { c.Store.MaxDefault = 0 }},
		{"pong under ping", func(c *Config) { c.Realtime.PongTimeout = c.Realtime.PingInterval }},
		{"drift ordering", func(c *Config) { c.Sync.MaxDrift = c.Sync.MaxDriftPaused }},
		{"bad log level", func(c *Config) { c.Logging.Level = "verbose" }},
		{"rate limit without rps", func(c *Config) {
			c.RateLimiting.Enabled = true
			c.RateLimiting.RequestsPerSecond = 0
		}},
		{"tracing without jaeger", func(c *Config) {
			c.Tracing.Enabled = true
			c.Tracing.JaegerURL = ""
		}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(cfg)
			assert.Error(t, cfg.Validate())
		})
	}
}
