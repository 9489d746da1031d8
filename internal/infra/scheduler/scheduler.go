package scheduler

import (
	"context"
	"fmt"
	"time"

	"rzd_seat_bot/internal/domain/subscription"

	"github.com/robfig/cron/v3"
	"github.com/sirupsen/logrus"
)

const jobTimeout = 5 * time.Minute

// Housekeeper is the part of the app layer the cron jobs drive.
type Housekeeper interface {
	Cleanup(ctx context.Context) (*subscription.CleanupResult, error)
	DeactivateDeparted(ctx context.Context) (int, error)
}

// HousekeepingScheduler runs retention cleanup and past-date deactivation on
// cron schedules. The monitoring loop itself is not cron driven because its
// interval can change at runtime.
type HousekeepingScheduler struct {
	cronEngine         *cron.Cron
	housekeeper        Housekeeper
	logger             *logrus.Entry
	cronSpecCleanup    string
	cronSpecDeactivate string
}

func NewHousekeepingScheduler(
	housekeeper Housekeeper,
	logger *logrus.Entry,
	cronSpecCleanup string, // e.g. "0 3 * * *" (03:00 daily)
	cronSpecDeactivate string, // e.g. "5 0 * * *" (00:05 daily)
) *HousekeepingScheduler {
	logger = logger.WithField("component", "scheduler")
	cronLogger := cron.PrintfLogger(logger)
	return &HousekeepingScheduler{
		cronEngine: cron.New(
			cron.WithLocation(time.Local), // server's local time, same day boundary as the date checks
			cron.WithChain(cron.Recover(cronLogger), cron.SkipIfStillRunning(cronLogger)),
		),
		housekeeper:        housekeeper,
		logger:             logger,
		cronSpecCleanup:    cronSpecCleanup,
		cronSpecDeactivate: cronSpecDeactivate,
	}
}

// Start registers the jobs and starts the cron engine.
func (s *HousekeepingScheduler) Start() error {
	s.logger.Info("Starting housekeeping scheduler...")

	if _, err := s.cronEngine.AddFunc(s.cronSpecCleanup, s.runCleanup); err != nil {
		return fmt.Errorf("could not add cleanup cron job %q: %w", s.cronSpecCleanup, err)
	}
	if _, err := s.cronEngine.AddFunc(s.cronSpecDeactivate, s.runDeactivate); err != nil {
		return fmt.Errorf("could not add deactivation cron job %q: %w", s.cronSpecDeactivate, err)
	}

	s.cronEngine.Start()
	s.logger.WithFields(logrus.Fields{
		"cleanup":    s.cronSpecCleanup,
		"deactivate": s.cronSpecDeactivate,
	}).Info("Housekeeping scheduler started with jobs.")
	return nil
}

func (s *HousekeepingScheduler) runCleanup() {
	s.logger.Info("Cron job triggered for retention cleanup.")
	ctx, cancel := context.WithTimeout(context.Background(), jobTimeout)
	defer cancel()
	if _, err := s.housekeeper.Cleanup(ctx); err != nil {
		s.logger.WithError(err).Error("Error during retention cleanup")
	}
}

func (s *HousekeepingScheduler) runDeactivate() {
	s.logger.Info("Cron job triggered for departed subscription deactivation.")
	ctx, cancel := context.WithTimeout(context.Background(), jobTimeout)
	defer cancel()
	if _, err := s.housekeeper.DeactivateDeparted(ctx); err != nil {
		s.logger.WithError(err).Error("Error during departed subscription deactivation")
	}
}

// Stop stops scheduling and waits for a running job, at most until ctx ends.
func (s *HousekeepingScheduler) Stop(ctx context.Context) {
	s.logger.Info("Stopping housekeeping scheduler...")
	select {
	case <-s.cronEngine.Stop().Done():
		s.logger.Info("Housekeeping scheduler gracefully stopped.")
	case <-ctx.Done():
		s.logger.Warn("Housekeeping scheduler stop timed out with a job still running")
	}
}
