package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "maestro.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, 3600, cfg.Session.TTLSeconds)
	assert.Equal(t, 1800, cfg.Session.IdleTimeoutSeconds)
	assert.Equal(t, 256, cfg.Session.EventQueueCapacity)
	assert.Equal(t, 16, cfg.Scheduler.ParallelMaxInFlight)
	assert.Equal(t, 256, cfg.Scheduler.ProcessMaxInFlight)
	assert.Equal(t, 60, cfg.Scheduler.DefaultTimeoutSeconds)
	assert.Equal(t, 3, cfg.AgentClient.MaxRetries)
	assert.Equal(t, 250, cfg.AgentClient.BackoffBaseMs)
	assert.Equal(t, 4000, cfg.AgentClient.BackoffCapMs)
	assert.Equal(t, 30, cfg.Registry.HeartbeatTimeoutSeconds)
	assert.Equal(t, "deny", cfg.Policy.Default)
	assert.True(t, cfg.Policy.ReloadOnSignalEnabled())
}

func TestLoadUserOverrides(t *testing.T) {
	path := writeConfig(t, `
session:
  ttl_seconds: 120
  event_queue_capacity: 32
scheduler:
  parallel_max_in_flight: 4
policy:
  default: allow
  reload_on_signal: false
`)

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, 120, cfg.Session.TTLSeconds)
	assert.Equal(t, 32, cfg.Session.EventQueueCapacity)
	assert.Equal(t, 4, cfg.Scheduler.ParallelMaxInFlight)
	assert.Equal(t, "allow", cfg.Policy.Default)
	assert.False(t, cfg.Policy.ReloadOnSignalEnabled())

	// Untouched sections keep defaults.
	assert.Equal(t, 1800, cfg.Session.IdleTimeoutSeconds)
	assert.Equal(t, 3, cfg.AgentClient.MaxRetries)
}

func TestLoadEnvExpansion(t *testing.T) {
	t.Setenv("MAESTRO_REDIS_URL", "redis://cache:6379/2")
	path := writeConfig(t, "redis:\n  url: {{.MAESTRO_REDIS_URL}}\n")

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "redis://cache:6379/2", cfg.Redis.URL)
}

func TestLoadValidation(t *testing.T) {
	tests := []struct {
		name    string
		content string
		wantErr string
	}{
		{
			name:    "zero ttl",
			content: "session:\n  ttl_seconds: -5\n",
			wantErr: "ttl_seconds",
		},
		{
			name:    "process below parallel",
			content: "scheduler:\n  parallel_max_in_flight: 64\n  process_max_in_flight: 8\n",
			wantErr: "process_max_in_flight",
		},
		{
			name:    "bad policy default",
			content: "policy:\n  default: maybe\n",
			wantErr: "policy.default",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Load(writeConfig(t, tt.content))
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	require.Error(t, err)
}

func TestExpandEnvLeavesDollarAlone(t *testing.T) {
	t.Setenv("SOME_VAR", "value")
	in := []byte("pattern: ^secret.*$\nother: ${SOME_VAR}")
	assert.Equal(t, in, ExpandEnv(in))
}
