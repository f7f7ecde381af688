package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestLoadAppliesDefaults(t *testing.T) {
	path := writeConfig(t, `
database:
  path: /tmp/kassir-test/kassir.db
remote:
  base_url: https://backoffice.example.com
`)

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "kassir", cfg.App.Name)
	assert.Equal(t, 3, cfg.Sync.MaxInvoiceRetries)
	assert.Equal(t, 20, cfg.Sync.QueueBatchSize)
	assert.Equal(t, 30, cfg.Sync.PruneAfterDays)
	assert.Equal(t, 8080, cfg.API.Port)
	assert.Equal(t, "x-api-key", cfg.API.Auth.HeaderAPIKey)

	assert.Equal(t, 15*time.Second, cfg.RemoteTimeout())
	assert.Equal(t, 2*time.Second, cfg.Sync.PollIntervalDuration())
	assert.Equal(t, 30*time.Second, cfg.Sync.ProbeIntervalDuration())
	assert.Equal(t, 2*time.Second, cfg.Sync.RetryInitialDelayDuration())
	assert.Equal(t, time.Minute, cfg.Sync.RetryMaxDelayDuration())
}

func TestLoadExpandsEnv(t *testing.T) {
	t.Setenv("KASSIR_TEST_API_KEY", "env-secret")

	path := writeConfig(t, `
database:
  path: /tmp/kassir-test/kassir.db
remote:
  base_url: https://backoffice.example.com
  api_key: ${KASSIR_TEST_API_KEY}
`)

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "env-secret", cfg.Remote.APIKey)
}

func TestValidateRequiresDatabasePath(t *testing.T) {
	path := writeConfig(t, `
remote:
  base_url: https://backoffice.example.com
`)

	_, err := Load(path)
	assert.Error(t, err)
}

func TestValidateRequiresRemoteURL(t *testing.T) {
	path := writeConfig(t, `
database:
  path: /tmp/kassir-test/kassir.db
`)

	_, err := Load(path)
	assert.Error(t, err)
}

func TestLoadOverrides(t *testing.T) {
	path := writeConfig(t, `
database:
  path: /tmp/kassir-test/kassir.db
remote:
  base_url: https://backoffice.example.com
  timeout: 3s
sync:
  max_invoice_retries: 5
  probe_interval: 10s
api:
  enabled: true
  port: 9000
`)

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 5, cfg.Sync.MaxInvoiceRetries)
	assert.Equal(t, 3*time.Second, cfg.RemoteTimeout())
	assert.Equal(t, 10*time.Second, cfg.Sync.ProbeIntervalDuration())
	assert.Equal(t, 9000, cfg.API.Port)
	// Включённый API включает аутентификацию по умолчанию
	assert.True(t, cfg.API.Auth.Enabled)
}
