// internal/domain/subscription/subscription.go
package subscription

import (
	"database/sql"
	"time"
)

// SeatClass is the carriage class a user is watching.
type SeatClass string

const (
	SeatClassReserved    SeatClass = "плацкарт"
	SeatClassCompartment SeatClass = "купе"
	SeatClassSleeper     SeatClass = "св"
)

// BerthPreference only matters for SeatClassCompartment.
type BerthPreference string

const (
	BerthUpper BerthPreference = "верхняя"
	BerthLower BerthPreference = "нижняя"
	BerthAny   BerthPreference = "любая"
)

// DateLayout is how departure dates are stored and passed to the ticketing site.
const DateLayout = "2006-01-02"

// Subscription is a standing watch request for one route/date/train/class/berth.
// Corresponds to the 'subscriptions' table.
type Subscription struct {
	ID               int64
	UserID           int64 // users.telegram_id, also the chat to notify
	DepartureStation string
	ArrivalStation   string
	DepartureDate    time.Time // date only
	TrainNumber      string
	SeatClass        SeatClass
	Berth            BerthPreference
	IsActive         bool
	CreatedAt        time.Time
	LastCheckedAt    sql.NullTime
}

// Key is the tuple that must be unique among active subscriptions.
type Key struct {
	UserID           int64
	DepartureStation string
	ArrivalStation   string
	DepartureDate    string
	TrainNumber      string
	SeatClass        SeatClass
	Berth            BerthPreference
}

// Key returns the de-duplication key of s.
func (s *Subscription) Key() Key {
	return Key{
		UserID:           s.UserID,
		DepartureStation: s.DepartureStation,
		ArrivalStation:   s.ArrivalStation,
		DepartureDate:    s.DepartureDate.Format(DateLayout),
		TrainNumber:      s.TrainNumber,
		SeatClass:        s.SeatClass,
		Berth:            s.Berth,
	}
}

// DepartedBefore reports whether the departure date is strictly before the
// calendar day of now.
func (s *Subscription) DepartedBefore(now time.Time) bool {
	return s.DepartureDate.Format(DateLayout) < now.Format(DateLayout)
}

// CheckRecord is one availability probe. Corresponds to 'check_history'.
type CheckRecord struct {
	ID             int64
	SubscriptionID int64
	CheckedAt      time.Time
	SeatsAvailable bool
	SeatsInfo      sql.NullString // serialized verdict
	Error          sql.NullString // set when the probe itself failed
}

// Notification is a message that was delivered for a subscription.
type Notification struct {
	ID             int64
	SubscriptionID int64
	Message        string
	SentAt         time.Time
}

// Stats are the aggregate counters shown by /stats.
type Stats struct {
	TotalUsers           int
	ActiveSubscriptions  int
	NotificationsLast24h int
}

// CleanupResult reports what a retention pass touched.
type CleanupResult struct {
	CheckRecordsDeleted      int64
	NotificationsDeleted     int64
	SubscriptionsDeactivated int64
}
