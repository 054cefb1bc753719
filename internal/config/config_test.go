package config_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/unclebandit/outreach-funnel/internal/config"
)

func TestLoadDefaults(t *testing.T) {
	chdir(t, t.TempDir())

	cfg, err := config.Load()
	require.NoError(t, err)

	assert.Equal(t, "8080", cfg.Port)
	assert.Equal(t, "postgres", cfg.DatabaseDriver)
	assert.Equal(t, 3, cfg.RetryMaxRetries)
	assert.Equal(t, 500*time.Millisecond, cfg.RetryBaseDelay)
	assert.Equal(t, 50.0, cfg.QuotaSuspensionThreshold)
	assert.Equal(t, 15*time.Minute, cfg.ReconcileInterval)
}

func TestLoadOverrides(t *testing.T) {
	chdir(t, t.TempDir())
	t.Setenv("PORT", "9090")
	t.Setenv("RETRY_MAX_DELAY", "2s")
	t.Setenv("QUOTA_SUSPENSION_THRESHOLD", "70.5")
	t.Setenv("WEBHOOK_TOKEN", "secret")

	cfg, err := config.Load()
	require.NoError(t, err)

	assert.Equal(t, "9090", cfg.Port)
	assert.Equal(t, 2*time.Second, cfg.RetryOptions().MaxDelay)
	assert.Equal(t, 70.5, cfg.QuotaSuspensionThreshold)
	assert.Equal(t, "secret", cfg.WebhookToken)
}

func TestLoadRejectsBadDuration(t *testing.T) {
	chdir(t, t.TempDir())
	t.Setenv("RECONCILE_INTERVAL", "soon")

	_, err := config.Load()
	assert.Error(t, err)
}

func TestDSN(t *testing.T) {
	cfg := config.Config{
		DBUser:     "funnel",
		DBPassword: "p@ss",
		DBHost:     "db",
		DBPort:     "5432",
		DBName:     "outreach",
	}
	assert.Equal(t, "postgres://funnel:p%40ss@db:5432/outreach?sslmode=disable", cfg.DSN())

	cfg.DatabaseURL = "file:local.db"
	assert.Equal(t, "file:local.db", cfg.DSN())
}
