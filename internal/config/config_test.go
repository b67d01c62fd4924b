package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultConfigIsValid(t *testing.T) {
	cfg := Default()
	require.NoError(t, cfg.Validate())

	assert.Equal(t, 34890, cfg.Server.Port)
	assert.Equal(t, 376, cfg.Stream.RingMargin)
	assert.Equal(t, time.Second, cfg.Server.PollInterval)
	assert.Equal(t, "sqlite", cfg.Store.Driver)
	assert.False(t, cfg.Redis.Enabled)
}

func TestLoadConfig(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "vnsid.yaml")

	configContent := `
server:
  port: 34891
  write_retries: 5
  idle_shutdown: 30m

stream:
  ring_size: 1048576
  inactivity_timeout: 3s

store:
  dsn: "file::memory:"

logging:
  level: "debug"
  format: "text"

metrics:
  enabled: false
`
	require.NoError(t, os.WriteFile(path, []byte(configContent), 0o600))

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, 34891, cfg.Server.Port)
	assert.Equal(t, 5, cfg.Server.WriteRetries)
	assert.Equal(t, 30*time.Minute, cfg.Server.IdleShutdown)
	assert.Equal(t, 1048576, cfg.Stream.RingSize)
	assert.Equal(t, 3*time.Second, cfg.Stream.InactivityTimeout)
	// untouched keys keep their defaults
	assert.Equal(t, 100*time.Millisecond, cfg.Stream.GetTimeout)
	assert.Equal(t, "debug", cfg.Logging.Level)
	assert.False(t, cfg.Metrics.Enabled)
}

func TestLoadConfigEnvOverride(t *testing.T) {
	t.Setenv("VNSID_SERVER_PORT", "40000")
	t.Setenv("VNSID_LOGGING_LEVEL", "warn")

	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, 40000, cfg.Server.Port)
	assert.Equal(t, "warn", cfg.Logging.Level)
}

func TestSettings(t *testing.T) {
	t.Setenv("VNSID_SERVER_MAX_SESSIONS", "7")

	settings, err := Settings("")
	require.NoError(t, err)

	server, ok := settings["server"].(map[string]interface{})
	require.True(t, ok)
	assert.Equal(t, "7", server["max_sessions"])
	assert.Equal(t, 34890, server["port"])
}

func TestLoadConfigErrors(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to read config")

	path := filepath.Join(t.TempDir(), "bad.yaml")
	require.NoError(t, os.WriteFile(path, []byte("stream:\n  ring_margin: 10\n"), 0o600))
	_, err = Load(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "ring_margin")
}

func TestConfigValidation(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(c *Config)
		wantErr bool
		errMsg  string
	}{
		{
			name:   "defaults",
			mutate: func(c *Config) {},
		},
		{
			name:    "invalid server port",
			mutate:  func(c *Config) { c.Server.Port = 0 },
			wantErr: true,
			errMsg:  "invalid server port",
		},
		{
			name:    "metrics port collides",
			mutate:  func(c *Config) { c.Metrics.Port = c.Server.Port },
			wantErr: true,
			errMsg:  "collides",
		},
		{
			name:    "notify faster than poll",
			mutate:  func(c *Config) { c.Server.NotifyInterval = 100 * time.Millisecond },
			wantErr: true,
			errMsg:  "notify_interval",
		},
		{
			name:    "ring too small for margin",
			mutate:  func(c *Config) { c.Stream.RingSize = 1000 },
			wantErr: true,
			errMsg:  "ring_size",
		},
		{
			name:    "unknown store driver",
			mutate:  func(c *Config) { c.Store.Driver = "postgres" },
			wantErr: true,
			errMsg:  "unsupported store driver",
		},
		{
			name: "redis disabled skips address check",
			mutate: func(c *Config) {
				c.Redis.Enabled = false
				c.Redis.Addresses = nil
			},
		},
		{
			name: "redis enabled needs address",
			mutate: func(c *Config) {
				c.Redis.Enabled = true
				c.Redis.Addresses = nil
			},
			wantErr: true,
			errMsg:  "at least one Redis address",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(cfg)
			err := cfg.Validate()
			if tt.wantErr {
				assert.Error(t, err)
				if err != nil {
					assert.Contains(t, err.Error(), tt.errMsg)
				}
			} else {
				assert.NoError(t, err)
			}
		})
	}
}
