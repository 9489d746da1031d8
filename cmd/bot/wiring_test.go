package main

import (
	"context"
	"testing"
	"time"

	domainTelegram "rzd_seat_bot/internal/domain/telegram"
	"rzd_seat_bot/internal/infra/config"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func memoryConfig() *config.AppConfig {
	return &config.AppConfig{
		NotifyPolicy:          "edge",
		MonitoringInterval:    5 * time.Minute,
		MaxRetries:            3,
		MaxConcurrentRequests: 10,
		RequestTimeout:        30 * time.Second,
		RequestsPerSecond:     2,
		DataRetentionDays:     30,
	}
}

func TestNewRuntime_MemoryStore(t *testing.T) {
	rt, err := newRuntime(memoryConfig(), botNone)
	require.NoError(t, err)
	defer rt.Close()

	assert.Nil(t, rt.bot)
	assert.Equal(t, 5*time.Minute, rt.monitoring.CheckInterval())

	st, err := rt.monitoring.GetMonitoringStats(context.Background())
	require.NoError(t, err)
	assert.Zero(t, st.ActiveSubscriptions)
	assert.NoError(t, rt.monitoring.CheckAll(context.Background()))
}

func TestNewRuntime_Errors(t *testing.T) {
	t.Run("unknown notify policy", func(t *testing.T) {
		cfg := memoryConfig()
		cfg.NotifyPolicy = "sometimes"
		_, err := newRuntime(cfg, botNone)
		assert.Error(t, err)
	})

	t.Run("telegram required", func(t *testing.T) {
		_, err := newRuntime(memoryConfig(), botOffline)
		assert.ErrorContains(t, err, "TELEGRAM_BOT_TOKEN")
	})
}

func TestUnconfiguredNotifier(t *testing.T) {
	err := unconfiguredNotifier{}.SendHTML(context.Background(), 1, "hi")
	assert.ErrorIs(t, err, errNoTelegram)
	assert.False(t, domainTelegram.IsRetryable(err))
}
