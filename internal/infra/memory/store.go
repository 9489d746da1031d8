// Package memory is a process-local store used when no database is
// configured, and by tests.
package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"rzd_seat_bot/internal/domain/subscription"
	"rzd_seat_bot/internal/domain/user"
)

// Store implements subscription.Repository and user.Repository in memory.
// Returned entities are copies.
type Store struct {
	mu            sync.RWMutex
	users         map[int64]*user.User // by telegram id
	subscriptions map[int64]*subscription.Subscription
	history       []subscription.CheckRecord
	notifications []subscription.Notification
	nextID        int64
	ready         chan struct{}
}

// NewStore creates an empty store that is ready immediately.
func NewStore() *Store {
	ready := make(chan struct{})
	close(ready)
	return &Store{
		users:         make(map[int64]*user.User),
		subscriptions: make(map[int64]*subscription.Subscription),
		ready:         ready,
	}
}

func (s *Store) Ready() <-chan struct{} {
	return s.ready
}

func (s *Store) id() int64 {
	s.nextID++
	return s.nextID
}

// Register adds the user or refreshes its profile fields.
func (s *Store) Register(ctx context.Context, u *user.User) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if existing, ok := s.users[u.TelegramID]; ok {
		existing.Username = u.Username
		existing.FirstName = u.FirstName
		existing.LastName = u.LastName
		u.ID = existing.ID
		u.CreatedAt = existing.CreatedAt
		return false, nil
	}
	u.ID = s.id()
	u.CreatedAt = time.Now()
	stored := *u
	s.users[u.TelegramID] = &stored
	return true, nil
}

func (s *Store) GetByTelegramID(ctx context.Context, telegramID int64) (*user.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	u, ok := s.users[telegramID]
	if !ok {
		return nil, user.ErrNotFound
	}
	cp := *u
	return &cp, nil
}

// Create stores sub unless an identical active one exists.
func (s *Store) Create(ctx context.Context, sub *subscription.Subscription) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := sub.Key()
	for _, existing := range s.subscriptions {
		if existing.IsActive && existing.Key() == key {
			*sub = *existing
			return false, nil
		}
	}
	sub.ID = s.id()
	sub.IsActive = true
	sub.CreatedAt = time.Now()
	stored := *sub
	s.subscriptions[sub.ID] = &stored
	return true, nil
}

func (s *Store) GetByID(ctx context.Context, id int64) (*subscription.Subscription, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	sub, ok := s.subscriptions[id]
	if !ok {
		return nil, subscription.ErrNotFound
	}
	cp := *sub
	return &cp, nil
}

func (s *Store) ListActive(ctx context.Context) ([]*subscription.Subscription, error) {
	return s.listActive(func(*subscription.Subscription) bool { return true }), nil
}

func (s *Store) ListActiveByUser(ctx context.Context, userID int64) ([]*subscription.Subscription, error) {
	return s.listActive(func(sub *subscription.Subscription) bool { return sub.UserID == userID }), nil
}

func (s *Store) listActive(match func(*subscription.Subscription) bool) []*subscription.Subscription {
	s.mu.RLock()
	defer s.mu.RUnlock()

	subs := make([]*subscription.Subscription, 0)
	for _, sub := range s.subscriptions {
		if sub.IsActive && match(sub) {
			cp := *sub
			subs = append(subs, &cp)
		}
	}
	sort.Slice(subs, func(i, j int) bool { return subs[i].ID < subs[j].ID })
	return subs
}

func (s *Store) UpdateLastChecked(ctx context.Context, id int64, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if sub, ok := s.subscriptions[id]; ok {
		sub.LastCheckedAt.Time = at
		sub.LastCheckedAt.Valid = true
	}
	return nil
}

func (s *Store) Deactivate(ctx context.Context, id int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	sub, ok := s.subscriptions[id]
	if !ok {
		return subscription.ErrNotFound
	}
	sub.IsActive = false
	return nil
}

// Delete drops the subscription with its history and notifications.
func (s *Store) Delete(ctx context.Context, id int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.subscriptions[id]; !ok {
		return subscription.ErrNotFound
	}
	delete(s.subscriptions, id)

	history := s.history[:0]
	for _, rec := range s.history {
		if rec.SubscriptionID != id {
			history = append(history, rec)
		}
	}
	s.history = history

	notifications := s.notifications[:0]
	for _, n := range s.notifications {
		if n.SubscriptionID != id {
			notifications = append(notifications, n)
		}
	}
	s.notifications = notifications
	return nil
}

func (s *Store) AppendCheckHistory(ctx context.Context, rec *subscription.CheckRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.subscriptions[rec.SubscriptionID]; !ok {
		return subscription.ErrNotFound
	}
	rec.ID = s.id()
	s.history = append(s.history, *rec)
	return nil
}

func (s *Store) LastKnownAvailability(ctx context.Context, subscriptionID int64) (*bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var last *subscription.CheckRecord
	for i := range s.history {
		rec := &s.history[i]
		if rec.SubscriptionID != subscriptionID || rec.Error.Valid {
			continue
		}
		if last == nil || !rec.CheckedAt.Before(last.CheckedAt) {
			last = rec
		}
	}
	if last == nil {
		return nil, nil
	}
	available := last.SeatsAvailable
	return &available, nil
}

func (s *Store) AppendNotification(ctx context.Context, n *subscription.Notification) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.subscriptions[n.SubscriptionID]; !ok {
		return subscription.ErrNotFound
	}
	n.ID = s.id()
	s.notifications = append(s.notifications, *n)
	return nil
}

func (s *Store) GetStatistics(ctx context.Context, now time.Time) (*subscription.Stats, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	st := &subscription.Stats{TotalUsers: len(s.users)}
	for _, sub := range s.subscriptions {
		if sub.IsActive {
			st.ActiveSubscriptions++
		}
	}
	since := now.Add(-24 * time.Hour)
	for _, n := range s.notifications {
		if n.SentAt.After(since) {
			st.NotificationsLast24h++
		}
	}
	return st, nil
}

func (s *Store) Cleanup(ctx context.Context, olderThan time.Time, today time.Time) (*subscription.CleanupResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	res := &subscription.CleanupResult{}

	history := s.history[:0]
	for _, rec := range s.history {
		if rec.CheckedAt.Before(olderThan) {
			res.CheckRecordsDeleted++
			continue
		}
		history = append(history, rec)
	}
	s.history = history

	notifications := s.notifications[:0]
	for _, n := range s.notifications {
		if n.SentAt.Before(olderThan) {
			res.NotificationsDeleted++
			continue
		}
		notifications = append(notifications, n)
	}
	s.notifications = notifications

	for _, sub := range s.subscriptions {
		if sub.IsActive && sub.DepartedBefore(today) {
			sub.IsActive = false
			res.SubscriptionsDeactivated++
		}
	}
	return res, nil
}

// CheckHistory returns the records of one subscription in insertion order.
func (s *Store) CheckHistory(subscriptionID int64) []subscription.CheckRecord {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]subscription.CheckRecord, 0)
	for _, rec := range s.history {
		if rec.SubscriptionID == subscriptionID {
			out = append(out, rec)
		}
	}
	return out
}

// Notifications returns the notifications of one subscription in insertion order.
func (s *Store) Notifications(subscriptionID int64) []subscription.Notification {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]subscription.Notification, 0)
	for _, n := range s.notifications {
		if n.SubscriptionID == subscriptionID {
			out = append(out, n)
		}
	}
	return out
}
