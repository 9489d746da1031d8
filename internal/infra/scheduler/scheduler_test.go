package scheduler

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"rzd_seat_bot/internal/domain/subscription"
	"rzd_seat_bot/internal/infra/logger"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type countingHousekeeper struct {
	cleanups     atomic.Int32
	deactivation atomic.Int32
}

func (h *countingHousekeeper) Cleanup(ctx context.Context) (*subscription.CleanupResult, error) {
	h.cleanups.Add(1)
	return &subscription.CleanupResult{}, nil
}

func (h *countingHousekeeper) DeactivateDeparted(ctx context.Context) (int, error) {
	h.deactivation.Add(1)
	return 0, nil
}

func TestHousekeepingScheduler_RunsJobs(t *testing.T) {
	hk := &countingHousekeeper{}
	s := NewHousekeepingScheduler(hk, logger.Discard(), "@every 1s", "@every 1s")

	require.NoError(t, s.Start())
	assert.Eventually(t, func() bool {
		return hk.cleanups.Load() > 0 && hk.deactivation.Load() > 0
	}, 3*time.Second, 50*time.Millisecond)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	s.Stop(ctx)
}

func TestHousekeepingScheduler_InvalidSchedule(t *testing.T) {
	tests := []struct {
		name       string
		cleanup    string
		deactivate string
	}{
		{"bad cleanup schedule", "not a schedule", "5 0 * * *"},
		{"bad deactivate schedule", "0 3 * * *", "61 * * * *"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := NewHousekeepingScheduler(&countingHousekeeper{}, logger.Discard(), tt.cleanup, tt.deactivate)
			assert.Error(t, s.Start())
		})
	}
}
