package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func TestLoadConfigDefaults(t *testing.T) {
	path := writeConfig(t, "environment: dev\n")

	cfg, err := LoadConfig(path)
	require.NoError(t, err)

	assert.Equal(t, "postgres", cfg.Storage.Driver)
	assert.Equal(t, ":8080", cfg.Server.Addr)
	assert.Equal(t, 24*time.Hour, cfg.Schedule.DefaultDuration)
	assert.Equal(t, "sink", cfg.Schedule.Anchor)
	assert.Equal(t, 10*time.Second, cfg.Automation.WebhookTimeout)
	assert.Equal(t, path, cfg.ConfigFile)
	assert.True(t, cfg.IsDev())
}

func TestLoadConfigFileValues(t *testing.T) {
	path := writeConfig(t, `
environment: prod
storage:
  driver: memory
schedule:
  default_duration: 8h
  anchor: project
auth:
  okta_domain: "https://acme.okta.com/oauth2/default/"
db:
  host: db.internal
  port: 6543
`)

	cfg, err := LoadConfig(path)
	require.NoError(t, err)

	assert.Equal(t, "memory", cfg.Storage.Driver)
	assert.Equal(t, 8*time.Hour, cfg.Schedule.DefaultDuration)
	assert.Equal(t, "project", cfg.Schedule.Anchor)
	assert.Equal(t, "https://acme.okta.com/oauth2/default", cfg.Auth.OktaDomain)
	assert.Contains(t, cfg.DSN(), "host=db.internal port=6543")
	assert.False(t, cfg.IsDev())
}

func TestLoadConfigEnvOverride(t *testing.T) {
	path := writeConfig(t, "environment: dev\n")
	t.Setenv("ACCUTE_STORAGE_DRIVER", "memory")
	t.Setenv("ACCUTE_SCHEDULE_ANCHOR", "project")

	cfg, err := LoadConfig(path)
	require.NoError(t, err)

	assert.Equal(t, "memory", cfg.Storage.Driver)
	assert.Equal(t, "project", cfg.Schedule.Anchor)
}

func TestLoadConfigRejectsInvalidValues(t *testing.T) {
	path := writeConfig(t, "storage:\n  driver: mongo\nschedule:\n  anchor: nowhere\n")

	_, err := LoadConfig(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "Storage.Driver")
	assert.Contains(t, err.Error(), "Schedule.Anchor")
}

func TestValidateCustomNotifyNeedsTemplate(t *testing.T) {
	path := writeConfig(t, "automation:\n  notify_format: custom\n  notify_webhook_url: https://hooks.example.com/x\n")

	_, err := LoadConfig(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "notify_template")
}

func TestLoadConfigMissingExplicitFile(t *testing.T) {
	_, err := LoadConfig(filepath.Join(t.TempDir(), "absent.yaml"))
	assert.Error(t, err)
}

func TestNormalizeOktaIssuer(t *testing.T) {
	assert.Equal(t, "https://x.okta.com", normalizeOktaIssuer(" https://x.okta.com/ "))
	assert.Equal(t, "", normalizeOktaIssuer(""))
}
