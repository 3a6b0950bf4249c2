package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func clearEnv(t *testing.T) {
	t.Helper()
	for _, key := range []string{
		"PORT", "DB_DRIVER", "DATABASE_URL", "GAME_SERVICE_TOKEN", "REDIS_ADDR",
		"LEDGER_MODE", "LEDGER_URL", "LEDGER_TOKEN", "WALLET_SYNC_URL",
		"WALLET_SYNC_INTERVAL", "TICK_INTERVAL", "SWEEP_INTERVAL", "ARCHIVE_INTERVAL",
		"TICK_BATCH_SIZE", "TICK_CONCURRENCY", "WORKFLOW_POLICY_FILE",
		"CLOUDFLARE_ACCOUNT_ID", "R2_ACCESS_KEY_ID", "R2_ACCESS_KEY_SECRET", "R2_BUCKET_NAME",
	} {
		t.Setenv(key, "")
	}
}

func TestLoadDefaults(t *testing.T) {
	clearEnv(t)
	t.Setenv("DATABASE_URL", "postgres://localhost/rewards")
	t.Setenv("LEDGER_URL", "http://ledger:8080")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, "5200", cfg.Port)
	assert.Equal(t, "postgres", cfg.DBDriver)
	assert.Equal(t, "http", cfg.LedgerMode)
	assert.Equal(t, 2*time.Second, cfg.TickInterval)
	assert.Equal(t, 50, cfg.TickBatchSize)
	assert.Equal(t, 8, cfg.TickConcurrency)
	assert.False(t, cfg.R2.Enabled())
	assert.Equal(t, 5, cfg.Policy.DefaultRetry.MaxAttempts)
}

func TestLoadOverrides(t *testing.T) {
	clearEnv(t)
	policy := filepath.Join(t.TempDir(), "policy.yaml")
	require.NoError(t, os.WriteFile(policy, []byte(`
default_retry:
  max_attempts: 7
steps:
  submit-burn:
    retry:
      max_attempts: 2
`), 0o644))

	t.Setenv("DATABASE_URL", "file:test.db")
	t.Setenv("DB_DRIVER", "sqlite")
	t.Setenv("LEDGER_MODE", "sandbox")
	t.Setenv("TICK_INTERVAL", "500ms")
	t.Setenv("TICK_CONCURRENCY", "3")
	t.Setenv("WORKFLOW_POLICY_FILE", policy)
	t.Setenv("CLOUDFLARE_ACCOUNT_ID", "acct")
	t.Setenv("R2_BUCKET_NAME", "audit")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, "sqlite", cfg.DBDriver)
	assert.Equal(t, 500*time.Millisecond, cfg.TickInterval)
	assert.Equal(t, 3, cfg.TickConcurrency)
	assert.True(t, cfg.R2.Enabled())
	assert.Equal(t, 7, cfg.Policy.DefaultRetry.MaxAttempts)
	assert.Equal(t, 2, cfg.Policy.Steps["submit-burn"].Retry.MaxAttempts)
}

func TestLoadRejectsBadSettings(t *testing.T) {
	tests := []struct {
		name string
		env  map[string]string
	}{
		{"missing database", map[string]string{"LEDGER_MODE": "sandbox"}},
		{"http ledger without url", map[string]string{"DATABASE_URL": "x"}},
		{"unknown ledger mode", map[string]string{"DATABASE_URL": "x", "LEDGER_MODE": "mainnet"}},
		{"bad duration", map[string]string{"DATABASE_URL": "x", "LEDGER_MODE": "sandbox", "TICK_INTERVAL": "soon"}},
		{"bad int", map[string]string{"DATABASE_URL": "x", "LEDGER_MODE": "sandbox", "TICK_BATCH_SIZE": "many"}},
		{"zero concurrency", map[string]string{"DATABASE_URL": "x", "LEDGER_MODE": "sandbox", "TICK_CONCURRENCY": "0"}},
		{"missing policy file", map[string]string{"DATABASE_URL": "x", "LEDGER_MODE": "sandbox", "WORKFLOW_POLICY_FILE": "/nonexistent/policy.yaml"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			clearEnv(t)
			for k, v := range tt.env {
				t.Setenv(k, v)
			}
			_, err := Load()
			assert.Error(t, err)
		})
	}
}
