package config

import (
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var configKeys = []string{
	"TELEGRAM_BOT_TOKEN", "DATABASE_URL", "ADMIN_TELEGRAM_ID", "LOG_LEVEL", "ENVIRONMENT",
	"MONITORING_INTERVAL", "RETRY_DELAY", "MAX_RETRIES", "NOTIFICATION_RETRY_DELAY",
	"MAX_CONCURRENT_REQUESTS", "REQUEST_TIMEOUT", "REQUESTS_PER_SECOND", "NOTIFY_POLICY",
	"STARTUP_SETTLE_DELAY", "SHUTDOWN_TIMEOUT", "DATA_RETENTION_DAYS",
	"CRON_SPEC_CLEANUP", "CRON_SPEC_DEACTIVATE", "HTTP_ADDR", "RZD_BASE_URL",
}

// clearEnv unsets every config variable for the duration of the test.
func clearEnv(t *testing.T) {
	t.Helper()
	for _, k := range configKeys {
		t.Setenv(k, "")
		require.NoError(t, os.Unsetenv(k))
	}
}

func TestLoad_Defaults(t *testing.T) {
	clearEnv(t)

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, 5*time.Minute, cfg.MonitoringInterval)
	assert.Equal(t, time.Minute, cfg.RetryDelay)
	assert.Equal(t, 3, cfg.MaxRetries)
	assert.Equal(t, 5*time.Second, cfg.NotificationRetryDelay)
	assert.Equal(t, 10, cfg.MaxConcurrentRequests)
	assert.Equal(t, 30*time.Second, cfg.RequestTimeout)
	assert.Equal(t, 2.0, cfg.RequestsPerSecond)
	assert.Equal(t, "edge", cfg.NotifyPolicy)
	assert.Equal(t, 30, cfg.DataRetentionDays)
	assert.Equal(t, "0 3 * * *", cfg.CronSpecCleanup)
	assert.Equal(t, ":8080", cfg.HTTPAddr)
	assert.Equal(t, "https://pass.rzd.ru", cfg.RZDBaseURL)
	assert.Equal(t, "info", cfg.LogLevel)
	assert.Equal(t, "development", cfg.Environment)
	assert.Zero(t, cfg.AdminTelegramID)

	assert.True(t, cfg.UseMemoryStore())
	assert.Error(t, cfg.RequireTelegram())
}

func TestLoad_Overrides(t *testing.T) {
	clearEnv(t)
	t.Setenv("TELEGRAM_BOT_TOKEN", "123:abc")
	t.Setenv("DATABASE_URL", "postgres://bot@localhost/rzd")
	t.Setenv("ADMIN_TELEGRAM_ID", "777")
	t.Setenv("MONITORING_INTERVAL", "120")
	t.Setenv("MAX_RETRIES", "5")
	t.Setenv("REQUESTS_PER_SECOND", "0.5")
	t.Setenv("NOTIFY_POLICY", "EVERY")
	t.Setenv("LOG_LEVEL", "DEBUG")
	t.Setenv("RZD_BASE_URL", "http://localhost:9000/")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, int64(777), cfg.AdminTelegramID)
	assert.Equal(t, 2*time.Minute, cfg.MonitoringInterval)
	assert.Equal(t, 5, cfg.MaxRetries)
	assert.Equal(t, 0.5, cfg.RequestsPerSecond)
	assert.Equal(t, "every", cfg.NotifyPolicy)
	assert.Equal(t, "debug", cfg.LogLevel)
	assert.Equal(t, "http://localhost:9000", cfg.RZDBaseURL)
	assert.False(t, cfg.UseMemoryStore())
	assert.NoError(t, cfg.RequireTelegram())
}

func TestLoad_EmptyHTTPAddrDisablesServer(t *testing.T) {
	clearEnv(t)
	t.Setenv("HTTP_ADDR", "")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Empty(t, cfg.HTTPAddr)
}

func TestLoad_Invalid(t *testing.T) {
	tests := []struct {
		key   string
		value string
	}{
		{"MONITORING_INTERVAL", "five"},
		{"MAX_RETRIES", "-1"},
		{"ADMIN_TELEGRAM_ID", "admin"},
		{"REQUESTS_PER_SECOND", "0"},
		{"DATA_RETENTION_DAYS", "1.5"},
	}

	for _, tt := range tests {
		t.Run(tt.key, func(t *testing.T) {
			clearEnv(t)
			t.Setenv(tt.key, tt.value)

			_, err := Load()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.key)
		})
	}
}
