package app

import (
	"context"
	"errors"
	"fmt"
	"time"

	"rzd_seat_bot/internal/domain/subscription"
	"rzd_seat_bot/internal/infra/metrics"

	"github.com/sirupsen/logrus"
)

// DefaultRetentionDays is how long check history and notifications are kept.
const DefaultRetentionDays = 30

// HousekeepingService trims old history and retires subscriptions whose
// train has already left. Both jobs are safe to run repeatedly.
type HousekeepingService struct {
	subRepo       subscription.Repository
	retentionDays int
	logger        *logrus.Entry
	now           func() time.Time
}

func NewHousekeepingService(subRepo subscription.Repository, retentionDays int, logger *logrus.Entry) *HousekeepingService {
	if retentionDays <= 0 {
		retentionDays = DefaultRetentionDays
	}
	return &HousekeepingService{
		subRepo:       subRepo,
		retentionDays: retentionDays,
		logger:        logger.WithField("component", "housekeeping"),
		now:           time.Now,
	}
}

// Cleanup deletes check records and notifications older than the retention
// window and deactivates subscriptions with a departure date before today.
func (s *HousekeepingService) Cleanup(ctx context.Context) (*subscription.CleanupResult, error) {
	now := s.now()
	cutoff := now.AddDate(0, 0, -s.retentionDays)
	today := startOfDay(now)

	res, err := s.subRepo.Cleanup(ctx, cutoff, today)
	if err != nil {
		return nil, fmt.Errorf("failed to clean up old data: %w", err)
	}
	metrics.RecordCleanup(res.CheckRecordsDeleted, res.NotificationsDeleted, res.SubscriptionsDeactivated)
	s.logger.WithFields(logrus.Fields{
		"cutoff":                    cutoff.Format(time.RFC3339),
		"check_records_deleted":     res.CheckRecordsDeleted,
		"notifications_deleted":     res.NotificationsDeleted,
		"subscriptions_deactivated": res.SubscriptionsDeactivated,
	}).Info("Retention cleanup finished")
	return res, nil
}

// DeactivateDeparted deactivates active subscriptions whose departure date
// has passed. Returns how many were deactivated.
func (s *HousekeepingService) DeactivateDeparted(ctx context.Context) (int, error) {
	subs, err := s.subRepo.ListActive(ctx)
	if err != nil {
		return 0, fmt.Errorf("failed to list active subscriptions: %w", err)
	}
	now := s.now()
	count := 0
	for _, sub := range subs {
		if !sub.DepartedBefore(now) {
			continue
		}
		if err := s.subRepo.Deactivate(ctx, sub.ID); err != nil {
			if errors.Is(err, subscription.ErrNotFound) {
				continue
			}
			s.logger.WithError(err).WithField("subscription_id", sub.ID).Error("Failed to deactivate departed subscription")
			continue
		}
		count++
	}
	if count > 0 {
		metrics.RecordCleanup(0, 0, int64(count))
	}
	s.logger.WithField("deactivated", count).Info("Departed subscriptions deactivated")
	return count, nil
}

func startOfDay(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, t.Location())
}
