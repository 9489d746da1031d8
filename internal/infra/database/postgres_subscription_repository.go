package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"rzd_seat_bot/internal/domain/subscription"
)

const subscriptionColumns = `id, user_id, departure_station, arrival_station, departure_date,
               train_number, seat_class, berth, is_active, created_at, last_checked_at`

type PostgresSubscriptionRepository struct {
	db        *sql.DB
	readiness *Readiness
}

func NewPostgresSubscriptionRepository(db *sql.DB, readiness *Readiness) *PostgresSubscriptionRepository {
	return &PostgresSubscriptionRepository{db: db, readiness: readiness}
}

func (r *PostgresSubscriptionRepository) Ready() <-chan struct{} {
	return r.readiness.Ready()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanSubscription(row rowScanner) (*subscription.Subscription, error) {
	s := &subscription.Subscription{}
	var seatClass, berth string
	err := row.Scan(&s.ID, &s.UserID, &s.DepartureStation, &s.ArrivalStation, &s.DepartureDate,
		&s.TrainNumber, &seatClass, &berth, &s.IsActive, &s.CreatedAt, &s.LastCheckedAt)
	if err != nil {
		return nil, err
	}
	s.SeatClass = subscription.SeatClass(seatClass)
	s.Berth = subscription.BerthPreference(berth)
	return s, nil
}

// Create inserts s unless an identical active subscription exists, in which
// case s receives the existing id and created is false.
func (r *PostgresSubscriptionRepository) Create(ctx context.Context, s *subscription.Subscription) (bool, error) {
	existing, err := r.findActiveByKey(ctx, s)
	if err == nil {
		*s = *existing
		return false, nil
	}
	if !errors.Is(err, subscription.ErrNotFound) {
		return false, err
	}

	query := `INSERT INTO subscriptions
               (user_id, departure_station, arrival_station, departure_date, train_number, seat_class, berth, is_active)
               VALUES ($1, $2, $3, $4::date, $5, $6, $7, TRUE)
               RETURNING id, created_at`
	err = r.db.QueryRowContext(ctx, query, s.UserID, s.DepartureStation, s.ArrivalStation,
		s.DepartureDate.Format(subscription.DateLayout), s.TrainNumber, string(s.SeatClass), string(s.Berth),
	).Scan(&s.ID, &s.CreatedAt)
	if err != nil {
		// Lost a race against a concurrent identical insert.
		if isPgError(err, pgUniqueViolation) {
			existing, findErr := r.findActiveByKey(ctx, s)
			if findErr != nil {
				return false, fmt.Errorf("error re-reading duplicate subscription: %w", findErr)
			}
			*s = *existing
			return false, nil
		}
		return false, fmt.Errorf("error creating subscription: %w", err)
	}
	s.IsActive = true
	return true, nil
}

func (r *PostgresSubscriptionRepository) findActiveByKey(ctx context.Context, s *subscription.Subscription) (*subscription.Subscription, error) {
	query := `SELECT ` + subscriptionColumns + `
               FROM subscriptions
               WHERE user_id = $1 AND departure_station = $2 AND arrival_station = $3
                 AND departure_date = $4::date AND train_number = $5 AND seat_class = $6 AND berth = $7
                 AND is_active = TRUE
               LIMIT 1`
	row := r.db.QueryRowContext(ctx, query, s.UserID, s.DepartureStation, s.ArrivalStation,
		s.DepartureDate.Format(subscription.DateLayout), s.TrainNumber, string(s.SeatClass), string(s.Berth))
	found, err := scanSubscription(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, subscription.ErrNotFound
		}
		return nil, fmt.Errorf("error looking up subscription by key: %w", err)
	}
	return found, nil
}

func (r *PostgresSubscriptionRepository) GetByID(ctx context.Context, id int64) (*subscription.Subscription, error) {
	query := `SELECT ` + subscriptionColumns + ` FROM subscriptions WHERE id = $1`
	s, err := scanSubscription(r.db.QueryRowContext(ctx, query, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, subscription.ErrNotFound
		}
		return nil, fmt.Errorf("error getting subscription by ID: %w", err)
	}
	return s, nil
}

func (r *PostgresSubscriptionRepository) ListActive(ctx context.Context) ([]*subscription.Subscription, error) {
	query := `SELECT ` + subscriptionColumns + `
               FROM subscriptions WHERE is_active = TRUE ORDER BY id`
	return r.list(ctx, query)
}

func (r *PostgresSubscriptionRepository) ListActiveByUser(ctx context.Context, userID int64) ([]*subscription.Subscription, error) {
	query := `SELECT ` + subscriptionColumns + `
               FROM subscriptions WHERE is_active = TRUE AND user_id = $1
               ORDER BY departure_date, id`
	return r.list(ctx, query, userID)
}

func (r *PostgresSubscriptionRepository) list(ctx context.Context, query string, args ...any) ([]*subscription.Subscription, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("error listing subscriptions: %w", err)
	}
	defer rows.Close()

	subs := make([]*subscription.Subscription, 0)
	for rows.Next() {
		s, err := scanSubscription(rows)
		if err != nil {
			return nil, fmt.Errorf("error scanning subscription: %w", err)
		}
		subs = append(subs, s)
	}
	if err = rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating subscriptions: %w", err)
	}
	return subs, nil
}

// UpdateLastChecked is a no-op for a subscription that no longer exists.
func (r *PostgresSubscriptionRepository) UpdateLastChecked(ctx context.Context, id int64, at time.Time) error {
	query := `UPDATE subscriptions SET last_checked_at = $1 WHERE id = $2`
	if _, err := r.db.ExecContext(ctx, query, at, id); err != nil {
		return fmt.Errorf("error updating last_checked_at: %w", err)
	}
	return nil
}

func (r *PostgresSubscriptionRepository) Deactivate(ctx context.Context, id int64) error {
	query := `UPDATE subscriptions SET is_active = FALSE WHERE id = $1`
	return r.execOne(ctx, query, id, "deactivating")
}

// Delete removes the subscription; history and notifications cascade.
func (r *PostgresSubscriptionRepository) Delete(ctx context.Context, id int64) error {
	query := `DELETE FROM subscriptions WHERE id = $1`
	return r.execOne(ctx, query, id, "deleting")
}

func (r *PostgresSubscriptionRepository) execOne(ctx context.Context, query string, id int64, action string) error {
	res, err := r.db.ExecContext(ctx, query, id)
	if err != nil {
		return fmt.Errorf("error %s subscription: %w", action, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("error %s subscription: %w", action, err)
	}
	if n == 0 {
		return subscription.ErrNotFound
	}
	return nil
}

func (r *PostgresSubscriptionRepository) AppendCheckHistory(ctx context.Context, rec *subscription.CheckRecord) error {
	query := `INSERT INTO check_history (subscription_id, checked_at, seats_available, seats_info, error)
               VALUES ($1, $2, $3, $4, $5)
               RETURNING id`
	err := r.db.QueryRowContext(ctx, query, rec.SubscriptionID, rec.CheckedAt, rec.SeatsAvailable, rec.SeatsInfo, rec.Error).Scan(&rec.ID)
	if err != nil {
		if isPgError(err, pgForeignKeyViolation) {
			return subscription.ErrNotFound
		}
		return fmt.Errorf("error appending check history: %w", err)
	}
	return nil
}

// LastKnownAvailability returns the outcome of the newest successful check,
// or nil when there is none.
func (r *PostgresSubscriptionRepository) LastKnownAvailability(ctx context.Context, subscriptionID int64) (*bool, error) {
	query := `SELECT seats_available FROM check_history
               WHERE subscription_id = $1 AND error IS NULL
               ORDER BY checked_at DESC, id DESC
               LIMIT 1`
	var available bool
	err := r.db.QueryRowContext(ctx, query, subscriptionID).Scan(&available)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("error reading last known availability: %w", err)
	}
	return &available, nil
}

func (r *PostgresSubscriptionRepository) AppendNotification(ctx context.Context, n *subscription.Notification) error {
	query := `INSERT INTO notifications (subscription_id, message, sent_at)
               VALUES ($1, $2, $3)
               RETURNING id`
	err := r.db.QueryRowContext(ctx, query, n.SubscriptionID, n.Message, n.SentAt).Scan(&n.ID)
	if err != nil {
		if isPgError(err, pgForeignKeyViolation) {
			return subscription.ErrNotFound
		}
		return fmt.Errorf("error appending notification: %w", err)
	}
	return nil
}

func (r *PostgresSubscriptionRepository) GetStatistics(ctx context.Context, now time.Time) (*subscription.Stats, error) {
	query := `SELECT
                 (SELECT COUNT(*) FROM users),
                 (SELECT COUNT(*) FROM subscriptions WHERE is_active = TRUE),
                 (SELECT COUNT(*) FROM notifications WHERE sent_at > $1)`
	st := &subscription.Stats{}
	err := r.db.QueryRowContext(ctx, query, now.Add(-24*time.Hour)).Scan(&st.TotalUsers, &st.ActiveSubscriptions, &st.NotificationsLast24h)
	if err != nil {
		return nil, fmt.Errorf("error getting statistics: %w", err)
	}
	return st, nil
}

// Cleanup runs the retention pass in one transaction.
func (r *PostgresSubscriptionRepository) Cleanup(ctx context.Context, olderThan time.Time, today time.Time) (*subscription.CleanupResult, error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("error starting cleanup transaction: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	res := &subscription.CleanupResult{}
	steps := []struct {
		query string
		arg   any
		dest  *int64
	}{
		{`DELETE FROM check_history WHERE checked_at < $1`, olderThan, &res.CheckRecordsDeleted},
		{`DELETE FROM notifications WHERE sent_at < $1`, olderThan, &res.NotificationsDeleted},
		{`UPDATE subscriptions SET is_active = FALSE WHERE is_active = TRUE AND departure_date < $1::date`,
			today.Format(subscription.DateLayout), &res.SubscriptionsDeactivated},
	}
	for _, step := range steps {
		result, err := tx.ExecContext(ctx, step.query, step.arg)
		if err != nil {
			return nil, fmt.Errorf("error running cleanup: %w", err)
		}
		if *step.dest, err = result.RowsAffected(); err != nil {
			return nil, fmt.Errorf("error counting cleaned rows: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("error committing cleanup: %w", err)
	}
	return res, nil
}
