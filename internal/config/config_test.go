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
	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, "0.0.0.0", cfg.Server.Host)
	assert.Equal(t, 8000, cfg.Server.Port)
	assert.Equal(t, "0.0.0.0:8000", cfg.Server.Addr())
	assert.Equal(t, 30*time.Second, cfg.Server.ReadTimeout)
	assert.Equal(t, 10*time.Second, cfg.Server.ShutdownTimeout)
	assert.Contains(t, cfg.Server.CORSOrigins, "http://localhost:5173")

	assert.Equal(t, "policies.yaml", cfg.Policy.File)
	assert.True(t, cfg.Policy.Watch)

	assert.Empty(t, cfg.Notifier.SlackWebhookURL)
	assert.Equal(t, "http://localhost:3000", cfg.Notifier.DashboardURL)
	assert.Equal(t, 2, cfg.Notifier.Workers)
	assert.Equal(t, 100, cfg.Notifier.QueueSize)
	assert.Equal(t, 10*time.Second, cfg.Notifier.Timeout)

	assert.False(t, cfg.Audit.Enabled)
	assert.Equal(t, "info", cfg.Log.Level)
	assert.False(t, cfg.Tracing.Enabled)
}

func TestLoadFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "sudomode.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
server:
  port: 9090
  read_timeout: 5s
policy:
  file: /etc/sudomode/rules.yaml
  watch: false
notifier:
  workers: 4
log:
  level: DEBUG
`), 0644))

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, 9090, cfg.Server.Port)
	assert.Equal(t, 5*time.Second, cfg.Server.ReadTimeout)
	assert.Equal(t, "/etc/sudomode/rules.yaml", cfg.Policy.File)
	assert.False(t, cfg.Policy.Watch)
	assert.Equal(t, 4, cfg.Notifier.Workers)
	assert.Equal(t, "debug", cfg.Log.Level)
	assert.Equal(t, "0.0.0.0", cfg.Server.Host)
}

func TestLoadEnvOverrides(t *testing.T) {
	t.Setenv("SUDOMODE_SERVER_PORT", "7000")
	t.Setenv("SUDOMODE_AUDIT_ENABLED", "true")
	t.Setenv("SUDOMODE_NOTIFIER_TIMEOUT", "3s")

	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, 7000, cfg.Server.Port)
	assert.True(t, cfg.Audit.Enabled)
	assert.Equal(t, 3*time.Second, cfg.Notifier.Timeout)
}

func TestLoadEnvAliases(t *testing.T) {
	t.Setenv("SLACK_WEBHOOK_URL", "https://hooks.slack.com/services/T000/B000/XXX")
	t.Setenv("POLICIES_FILE", "custom.yaml")
	t.Setenv("PORT", "8123")

	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, "https://hooks.slack.com/services/T000/B000/XXX", cfg.Notifier.SlackWebhookURL)
	assert.Equal(t, "custom.yaml", cfg.Policy.File)
	assert.Equal(t, 8123, cfg.Server.Port)
}

func TestPrefixedEnvBeatsAlias(t *testing.T) {
	t.Setenv("PORT", "8123")
	t.Setenv("SUDOMODE_SERVER_PORT", "8124")

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, 8124, cfg.Server.Port)
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}

func TestLoadMalformedFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad.yaml")
	require.NoError(t, os.WriteFile(path, []byte("server: [unclosed"), 0644))

	_, err := Load(path)
	assert.Error(t, err)
}

func TestValidation(t *testing.T) {
	tests := []struct {
		name string
		env  map[string]string
	}{
		{"port out of range", map[string]string{"SUDOMODE_SERVER_PORT": "70000"}},
		{"bad log level", map[string]string{"SUDOMODE_LOG_LEVEL": "loud"}},
		{"bad webhook", map[string]string{"SUDOMODE_NOTIFIER_SLACK_WEBHOOK_URL": "not a url"}},
		{"zero workers", map[string]string{"SUDOMODE_NOTIFIER_WORKERS": "0"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			for k, v := range tt.env {
				t.Setenv(k, v)
			}
			_, err := Load("")
			assert.ErrorContains(t, err, "config validation failed")
		})
	}
}
