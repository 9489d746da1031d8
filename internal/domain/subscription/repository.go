// internal/domain/subscription/repository.go
package subscription

import (
	"context"
	"errors"
	"time"
)

var ErrNotFound = errors.New("subscription not found")

// Repository is the durable store for subscriptions and their history.
type Repository interface {
	// Ready is closed once the schema exists and the store accepts traffic.
	Ready() <-chan struct{}

	// Create inserts s unless an identical active subscription exists, in which
	// case s is filled from the existing row. created reports which happened.
	Create(ctx context.Context, s *Subscription) (created bool, err error)
	GetByID(ctx context.Context, id int64) (*Subscription, error)
	ListActive(ctx context.Context) ([]*Subscription, error)
	ListActiveByUser(ctx context.Context, userID int64) ([]*Subscription, error)
	UpdateLastChecked(ctx context.Context, id int64, at time.Time) error
	Deactivate(ctx context.Context, id int64) error
	Delete(ctx context.Context, id int64) error

	AppendCheckHistory(ctx context.Context, rec *CheckRecord) error
	// LastKnownAvailability returns the result of the newest successful check,
	// or nil when no successful check has been recorded yet.
	LastKnownAvailability(ctx context.Context, subscriptionID int64) (*bool, error)
	AppendNotification(ctx context.Context, n *Notification) error

	GetStatistics(ctx context.Context, now time.Time) (*Stats, error)
	// Cleanup deletes history and notifications older than olderThan and
	// deactivates subscriptions departing before today's date.
	Cleanup(ctx context.Context, olderThan time.Time, today time.Time) (*CleanupResult, error)
}
