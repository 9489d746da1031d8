package app

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"rzd_seat_bot/internal/domain/availability"
	"rzd_seat_bot/internal/domain/subscription"
	domainTelegram "rzd_seat_bot/internal/domain/telegram"
	"rzd_seat_bot/internal/infra/metrics"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
)

// MinCheckInterval is the floor for the polling interval. Anything lower
// would hammer the ticketing site.
const MinCheckInterval = 60 * time.Second

var ErrAlreadyRunning = errors.New("monitoring service is already running")

// MonitoringConfig holds the tunables of the monitoring loop.
type MonitoringConfig struct {
	CheckInterval          time.Duration
	RetryDelay             time.Duration // pause after a failed cycle
	MaxRetries             int           // notification delivery attempts
	NotificationRetryDelay time.Duration // first delivery backoff, doubles per attempt
	MaxConcurrentChecks    int
	CheckTimeout           time.Duration
	SettleDelay            time.Duration // wait after the store reports ready
	Policy                 NotifyPolicy
}

// DefaultMonitoringConfig returns production defaults.
func DefaultMonitoringConfig() MonitoringConfig {
	return MonitoringConfig{
		CheckInterval:          5 * time.Minute,
		RetryDelay:             time.Minute,
		MaxRetries:             3,
		NotificationRetryDelay: 5 * time.Second,
		MaxConcurrentChecks:    10,
		CheckTimeout:           30 * time.Second,
		SettleDelay:            5 * time.Second,
		Policy:                 NotifyOnEdge,
	}
}

// MonitoringStats is what /stats shows.
type MonitoringStats struct {
	TotalUsers           int  `json:"total_users"`
	ActiveSubscriptions  int  `json:"active_subscriptions"`
	NotificationsLast24h int  `json:"notifications_last_24h"`
	IsRunning            bool `json:"is_running"`
	CheckIntervalSeconds int  `json:"check_interval_seconds"`
}

// MonitoringService periodically re-checks every active subscription and
// notifies the owner when seats show up.
type MonitoringService struct {
	subRepo  subscription.Repository
	source   availability.Source
	notifier domainTelegram.Client
	logger   *logrus.Entry
	now      func() time.Time

	mu      sync.RWMutex
	cfg     MonitoringConfig
	running bool
	stopCh  chan struct{}
	done    chan struct{}

	inflight sync.WaitGroup // out-of-cycle checks started by StartMonitoring

	locksMu  sync.Mutex
	subLocks map[int64]*subLock
}

// subLock serializes checks of one subscription. refs counts holders and
// waiters so the entry can be dropped once nobody needs it.
type subLock struct {
	sync.Mutex
	refs int
}

func NewMonitoringService(
	subRepo subscription.Repository,
	source availability.Source,
	notifier domainTelegram.Client,
	cfg MonitoringConfig,
	logger *logrus.Entry,
) *MonitoringService {
	defaults := DefaultMonitoringConfig()
	if cfg.CheckInterval < MinCheckInterval {
		cfg.CheckInterval = MinCheckInterval
	}
	if cfg.RetryDelay <= 0 {
		cfg.RetryDelay = defaults.RetryDelay
	}
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = 1
	}
	if cfg.MaxConcurrentChecks <= 0 {
		cfg.MaxConcurrentChecks = defaults.MaxConcurrentChecks
	}
	if cfg.CheckTimeout <= 0 {
		cfg.CheckTimeout = defaults.CheckTimeout
	}
	if cfg.Policy == "" {
		cfg.Policy = NotifyOnEdge
	}
	return &MonitoringService{
		subRepo:  subRepo,
		source:   source,
		notifier: notifier,
		logger:   logger.WithField("component", "monitoring"),
		now:      time.Now,
		cfg:      cfg,
		subLocks: make(map[int64]*subLock),
	}
}

// lockSubscription blocks until no other check of id is running. The
// returned func releases the lock.
func (s *MonitoringService) lockSubscription(id int64) func() {
	s.locksMu.Lock()
	l, ok := s.subLocks[id]
	if !ok {
		l = &subLock{}
		s.subLocks[id] = l
	}
	l.refs++
	s.locksMu.Unlock()

	l.Lock()
	return func() {
		l.Unlock()
		s.locksMu.Lock()
		l.refs--
		if l.refs == 0 {
			delete(s.subLocks, id)
		}
		s.locksMu.Unlock()
	}
}

// Run blocks until Stop is called or ctx is cancelled. It waits for the store
// to become ready, then checks all active subscriptions once per interval.
// A failed cycle is followed by RetryDelay instead of the interval.
func (s *MonitoringService) Run(ctx context.Context) error {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return ErrAlreadyRunning
	}
	s.running = true
	stopCh := make(chan struct{})
	done := make(chan struct{})
	s.stopCh = stopCh
	s.done = done
	settle := s.cfg.SettleDelay
	s.mu.Unlock()

	defer func() {
		s.mu.Lock()
		s.running = false
		s.mu.Unlock()
		close(done)
		s.logger.Info("Monitoring loop stopped")
	}()

	s.logger.Info("Monitoring loop starting, waiting for store")
	select {
	case <-s.subRepo.Ready():
	case <-stopCh:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
	if !pause(ctx, stopCh, settle) {
		return ctx.Err()
	}
	s.logger.WithField("interval", s.CheckInterval()).Info("Monitoring loop started")

	for {
		delay := s.CheckInterval()
		if err := s.CheckAll(ctx); err != nil {
			metrics.RecordCycleError()
			s.mu.RLock()
			delay = s.cfg.RetryDelay
			s.mu.RUnlock()
			s.logger.WithError(err).WithField("retry_in", delay).Error("Monitoring cycle failed")
		}
		if !pause(ctx, stopCh, delay) {
			return ctx.Err()
		}
	}
}

// pause sleeps for d. Returns false when stopped or cancelled first.
func pause(ctx context.Context, stopCh <-chan struct{}, d time.Duration) bool {
	if d <= 0 {
		select {
		case <-stopCh:
			return false
		case <-ctx.Done():
			return false
		default:
			return true
		}
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return true
	case <-stopCh:
		return false
	case <-ctx.Done():
		return false
	}
}

// Stop asks the loop to exit and waits for it, and for any out-of-cycle
// checks, until ctx expires. When the loop has already exited only the
// out-of-cycle checks are awaited.
func (s *MonitoringService) Stop(ctx context.Context) error {
	s.mu.Lock()
	running := s.running
	done := s.done
	if running {
		s.running = false
		close(s.stopCh)
	}
	s.mu.Unlock()

	if running {
		s.logger.Info("Stopping monitoring loop...")
		select {
		case <-done:
		case <-ctx.Done():
			return fmt.Errorf("monitoring loop did not stop in time: %w", ctx.Err())
		}
	}

	idle := make(chan struct{})
	go func() {
		s.inflight.Wait()
		close(idle)
	}()
	select {
	case <-idle:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("in-flight checks did not finish in time: %w", ctx.Err())
	}
}

// IsRunning reports whether the loop is active.
func (s *MonitoringService) IsRunning() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.running
}

// CheckInterval returns the current polling interval.
func (s *MonitoringService) CheckInterval() time.Duration {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.cfg.CheckInterval
}

// UpdateCheckInterval sets a new polling interval, clamped to MinCheckInterval,
// and returns the effective value. It applies from the next sleep on.
func (s *MonitoringService) UpdateCheckInterval(seconds int) time.Duration {
	interval := time.Duration(seconds) * time.Second
	if interval < MinCheckInterval {
		interval = MinCheckInterval
	}
	s.mu.Lock()
	s.cfg.CheckInterval = interval
	s.mu.Unlock()
	s.logger.WithField("interval", interval).Info("Check interval updated")
	return interval
}

// GetMonitoringStats merges store counters with the loop state.
func (s *MonitoringService) GetMonitoringStats(ctx context.Context) (*MonitoringStats, error) {
	st, err := s.subRepo.GetStatistics(ctx, s.now())
	if err != nil {
		return nil, fmt.Errorf("failed to get statistics: %w", err)
	}
	return &MonitoringStats{
		TotalUsers:           st.TotalUsers,
		ActiveSubscriptions:  st.ActiveSubscriptions,
		NotificationsLast24h: st.NotificationsLast24h,
		IsRunning:            s.IsRunning(),
		CheckIntervalSeconds: int(s.CheckInterval() / time.Second),
	}, nil
}

// StartMonitoring checks one subscription right away, outside the regular
// cycle, so a fresh subscriber does not wait a whole interval.
func (s *MonitoringService) StartMonitoring(ctx context.Context, subscriptionID int64) error {
	s.inflight.Add(1)
	defer s.inflight.Done()

	log := s.logger.WithField("subscription_id", subscriptionID)
	log.Info("Starting immediate check for subscription")

	sub, err := s.subRepo.GetByID(ctx, subscriptionID)
	if err != nil {
		if errors.Is(err, subscription.ErrNotFound) {
			log.Warn("Subscription not found, nothing to check")
			return nil
		}
		return fmt.Errorf("failed to get subscription %d: %w", subscriptionID, err)
	}
	return s.checkSubscription(ctx, log, sub)
}

// CheckAll runs one monitoring cycle: every active subscription is checked
// concurrently (bounded by MaxConcurrentChecks). Individual check failures are
// logged and counted; only failing to list subscriptions fails the cycle.
func (s *MonitoringService) CheckAll(ctx context.Context) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("monitoring cycle panicked: %v", r)
		}
	}()

	started := s.now()
	log := s.logger.WithField("cycle_id", uuid.NewString())

	subs, err := s.subRepo.ListActive(ctx)
	if err != nil {
		return fmt.Errorf("failed to list active subscriptions: %w", err)
	}
	log.Infof("Checking %d active subscriptions", len(subs))

	s.mu.RLock()
	limit := s.cfg.MaxConcurrentChecks
	s.mu.RUnlock()

	var failed atomic.Int64
	var g errgroup.Group
	g.SetLimit(limit)
	for _, sub := range subs {
		g.Go(func() error {
			subLog := log.WithField("subscription_id", sub.ID)
			defer func() {
				if r := recover(); r != nil {
					failed.Add(1)
					subLog.Errorf("Subscription check panicked: %v", r)
				}
			}()
			if err := s.checkSubscription(ctx, subLog, sub); err != nil {
				failed.Add(1)
			}
			return nil
		})
	}
	_ = g.Wait()

	elapsed := s.now().Sub(started)
	metrics.RecordCycle(len(subs), elapsed)
	log.WithFields(logrus.Fields{
		"checked":  len(subs),
		"failed":   failed.Load(),
		"duration": elapsed,
	}).Info("Monitoring cycle finished")
	return nil
}

// checkSubscription probes one subscription, records the outcome and sends a
// notification when the policy says so. Checks of the same subscription never
// overlap, so the previous state read here is always the latest one. The
// returned error only feeds cycle statistics; it is already logged.
func (s *MonitoringService) checkSubscription(ctx context.Context, log *logrus.Entry, sub *subscription.Subscription) error {
	unlock := s.lockSubscription(sub.ID)
	defer unlock()

	current, err := s.subRepo.GetByID(ctx, sub.ID)
	if err != nil {
		if errors.Is(err, subscription.ErrNotFound) {
			log.Debug("Subscription vanished before check, skipping")
			return nil
		}
		log.WithError(err).Error("Failed to reload subscription")
		return err
	}
	if !current.IsActive {
		log.Debug("Subscription deactivated before check, skipping")
		return nil
	}
	log = log.WithFields(logrus.Fields{
		"train": current.TrainNumber,
		"date":  current.DepartureDate.Format(subscription.DateLayout),
	})

	checkCtx, cancel := context.WithTimeout(ctx, s.cfg.CheckTimeout)
	probeStart := time.Now()
	verdict, err := s.source.CheckAvailability(checkCtx, queryFor(current))
	probeTime := time.Since(probeStart)
	cancel()
	if err == nil && verdict == nil {
		err = availability.ErrNoData
	}
	if err != nil {
		metrics.RecordCheck(metrics.CheckFailed, probeTime)
		log.WithError(err).Warn("Availability check failed")
		s.recordFailedCheck(ctx, log, current.ID, err)
		return fmt.Errorf("availability check for subscription %d: %w", current.ID, err)
	}

	checkedAt := s.now()
	if verdict.Available {
		metrics.RecordCheck(metrics.CheckAvailable, probeTime)
	} else {
		metrics.RecordCheck(metrics.CheckUnavailable, probeTime)
	}

	// Read the previous state before this result becomes the newest record.
	previous, err := s.subRepo.LastKnownAvailability(ctx, current.ID)
	if err != nil {
		log.WithError(err).Warn("Failed to read last known availability, treating as unknown")
		previous = nil
	}

	detail, err := json.Marshal(verdict)
	if err != nil {
		log.WithError(err).Warn("Failed to serialize verdict")
	}
	rec := &subscription.CheckRecord{
		SubscriptionID: current.ID,
		CheckedAt:      checkedAt,
		SeatsAvailable: verdict.Available,
		SeatsInfo:      sql.NullString{String: string(detail), Valid: len(detail) > 0},
	}
	if err := s.subRepo.AppendCheckHistory(ctx, rec); err != nil {
		logStoreError(log, err, "Failed to append check history")
	}
	if err := s.subRepo.UpdateLastChecked(ctx, current.ID, checkedAt); err != nil {
		logStoreError(log, err, "Failed to update last checked time")
	}

	if !s.cfg.Policy.ShouldNotify(previous, verdict.Available) {
		if verdict.Available {
			metrics.RecordNotification(metrics.NotificationSuppressed)
			log.Debug("Seats still available, already notified")
		}
		log.WithField("available", verdict.Available).Debug("Subscription check finished")
		return nil
	}

	s.sendNotification(ctx, log, current, verdict)
	log.WithField("available", verdict.Available).Info("Subscription check finished")
	return nil
}

func (s *MonitoringService) recordFailedCheck(ctx context.Context, log *logrus.Entry, subscriptionID int64, cause error) {
	rec := &subscription.CheckRecord{
		SubscriptionID: subscriptionID,
		CheckedAt:      s.now(),
		SeatsAvailable: false,
		Error:          sql.NullString{String: cause.Error(), Valid: true},
	}
	if err := s.subRepo.AppendCheckHistory(ctx, rec); err != nil {
		logStoreError(log, err, "Failed to record failed check")
	}
}

// sendNotification delivers the seat message with retries and, once
// delivered, stores it. Delivery failures never propagate.
func (s *MonitoringService) sendNotification(ctx context.Context, log *logrus.Entry, sub *subscription.Subscription, verdict *availability.Verdict) {
	message := FormatNotificationMessage(sub, verdict, s.now())

	if err := s.deliver(ctx, sub.UserID, message); err != nil {
		metrics.RecordNotification(metrics.NotificationFailed)
		log.WithError(err).WithField("user_id", sub.UserID).Error("Failed to send seat notification")
		return
	}
	metrics.RecordNotification(metrics.NotificationSent)
	log.WithField("user_id", sub.UserID).Info("Seat notification sent")

	n := &subscription.Notification{
		SubscriptionID: sub.ID,
		Message:        message,
		SentAt:         s.now(),
	}
	if err := s.subRepo.AppendNotification(ctx, n); err != nil {
		logStoreError(log, err, "Failed to record sent notification")
	}
}

// logStoreError logs a lost write. Writes for a subscription deleted
// mid-check are expected and only logged at debug level.
func logStoreError(log *logrus.Entry, err error, msg string) {
	if errors.Is(err, subscription.ErrNotFound) {
		log.WithError(err).Debug(msg + ", subscription is gone")
		return
	}
	log.WithError(err).Error(msg)
}

// deliver sends text to chatID, retrying retryable errors with exponential
// backoff up to MaxRetries attempts.
func (s *MonitoringService) deliver(ctx context.Context, chatID int64, text string) error {
	s.mu.RLock()
	attempts := s.cfg.MaxRetries
	backoff := s.cfg.NotificationRetryDelay
	s.mu.RUnlock()

	var err error
	for attempt := 1; attempt <= attempts; attempt++ {
		err = s.notifier.SendHTML(ctx, chatID, text)
		if err == nil {
			return nil
		}
		if !domainTelegram.IsRetryable(err) || attempt == attempts {
			break
		}
		s.logger.WithError(err).WithFields(logrus.Fields{
			"attempt":      attempt,
			"max_attempts": attempts,
			"backoff":      backoff,
		}).Warn("Notification send failed, retrying")
		if !pause(ctx, nil, backoff) {
			return fmt.Errorf("notification retry cancelled: %w", ctx.Err())
		}
		backoff *= 2
	}
	return err
}

// TestNotification sends a probe message so a user can verify delivery.
func (s *MonitoringService) TestNotification(ctx context.Context, chatID int64) error {
	if err := s.notifier.SendHTML(ctx, chatID, FormatTestMessage(s.now())); err != nil {
		return fmt.Errorf("failed to send test notification: %w", err)
	}
	s.logger.WithField("chat_id", chatID).Info("Test notification sent")
	return nil
}

func queryFor(sub *subscription.Subscription) availability.Query {
	return availability.Query{
		TrainNumber:      sub.TrainNumber,
		DepartureStation: sub.DepartureStation,
		ArrivalStation:   sub.ArrivalStation,
		DepartureDate:    sub.DepartureDate,
		SeatClass:        string(sub.SeatClass),
		Berth:            string(sub.Berth),
	}
}
