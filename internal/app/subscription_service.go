package app

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"rzd_seat_bot/internal/domain/subscription"
	"rzd_seat_bot/internal/domain/user"

	"github.com/go-playground/validator/v10"
)

// Application-level errors for subscription use cases.
var (
	ErrInvalidDraft      = errors.New("subscription draft is invalid")
	ErrDateInPast        = errors.New("departure date is in the past")
	ErrNotOwner          = errors.New("subscription belongs to another user")
	ErrNotAuthorized     = errors.New("performing user is not authorized as an admin")
	ErrUserNotRegistered = errors.New("user is not registered")
)

// SubscriptionDraft is what the conversation collects before saving.
type SubscriptionDraft struct {
	UserID           int64     `validate:"required"`
	DepartureStation string    `validate:"required,max=100"`
	ArrivalStation   string    `validate:"required,max=100,nefield=DepartureStation"`
	DepartureDate    time.Time `validate:"required"`
	TrainNumber      string    `validate:"required,max=16"`
	SeatClass        string    `validate:"required,oneof=плацкарт купе св"`
	Berth            string    `validate:"omitempty,oneof=верхняя нижняя любая"`
}

// SubscriptionService holds the front-end use cases: user registration and
// subscription management.
type SubscriptionService struct {
	subRepo         subscription.Repository
	userRepo        user.Repository
	adminTelegramID int64
	validate        *validator.Validate
	now             func() time.Time
}

func NewSubscriptionService(sr subscription.Repository, ur user.Repository, adminID int64) *SubscriptionService {
	return &SubscriptionService{
		subRepo:         sr,
		userRepo:        ur,
		adminTelegramID: adminID,
		validate:        validator.New(),
		now:             time.Now,
	}
}

// IsAdmin reports whether telegramID may run admin commands.
func (s *SubscriptionService) IsAdmin(telegramID int64) bool {
	return s.adminTelegramID != 0 && telegramID == s.adminTelegramID
}

// RequireAdmin returns ErrNotAuthorized for everybody but the admin.
func (s *SubscriptionService) RequireAdmin(telegramID int64) error {
	if !s.IsAdmin(telegramID) {
		return ErrNotAuthorized
	}
	return nil
}

// RegisterUser stores the user on first contact. Repeated calls are no-ops.
func (s *SubscriptionService) RegisterUser(ctx context.Context, telegramID int64, username, firstName, lastName string) (*user.User, error) {
	u := &user.User{
		TelegramID: telegramID,
		Username:   nullString(username),
		FirstName:  firstName,
		LastName:   nullString(lastName),
	}
	if _, err := s.userRepo.Register(ctx, u); err != nil {
		return nil, fmt.Errorf("failed to register user %d: %w", telegramID, err)
	}
	return u, nil
}

// CreateSubscription validates the draft and saves it. If an identical active
// subscription exists, that one is returned with created=false.
func (s *SubscriptionService) CreateSubscription(ctx context.Context, draft SubscriptionDraft) (*subscription.Subscription, bool, error) {
	draft.DepartureStation = strings.TrimSpace(draft.DepartureStation)
	draft.ArrivalStation = strings.TrimSpace(draft.ArrivalStation)
	draft.TrainNumber = strings.TrimSpace(draft.TrainNumber)
	draft.SeatClass = strings.ToLower(strings.TrimSpace(draft.SeatClass))
	draft.Berth = strings.ToLower(strings.TrimSpace(draft.Berth))

	if err := s.validate.Struct(draft); err != nil {
		return nil, false, fmt.Errorf("%w: %v", ErrInvalidDraft, err)
	}
	if startOfDay(draft.DepartureDate).Before(startOfDay(s.now())) {
		return nil, false, ErrDateInPast
	}

	if _, err := s.userRepo.GetByTelegramID(ctx, draft.UserID); err != nil {
		if errors.Is(err, user.ErrNotFound) {
			return nil, false, ErrUserNotRegistered
		}
		return nil, false, fmt.Errorf("failed to look up user: %w", err)
	}

	berth := subscription.BerthPreference(draft.Berth)
	if subscription.SeatClass(draft.SeatClass) != subscription.SeatClassCompartment || berth == "" {
		berth = subscription.BerthAny
	}

	sub := &subscription.Subscription{
		UserID:           draft.UserID,
		DepartureStation: draft.DepartureStation,
		ArrivalStation:   draft.ArrivalStation,
		DepartureDate:    startOfDay(draft.DepartureDate),
		TrainNumber:      draft.TrainNumber,
		SeatClass:        subscription.SeatClass(draft.SeatClass),
		Berth:            berth,
		IsActive:         true,
	}
	created, err := s.subRepo.Create(ctx, sub)
	if err != nil {
		return nil, false, fmt.Errorf("failed to create subscription: %w", err)
	}
	return sub, created, nil
}

// ListUserSubscriptions returns the user's active subscriptions.
func (s *SubscriptionService) ListUserSubscriptions(ctx context.Context, userID int64) ([]*subscription.Subscription, error) {
	subs, err := s.subRepo.ListActiveByUser(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to list subscriptions of user %d: %w", userID, err)
	}
	return subs, nil
}

// DeleteSubscription removes a subscription owned by userID, together with
// its history.
func (s *SubscriptionService) DeleteSubscription(ctx context.Context, userID, subscriptionID int64) error {
	sub, err := s.subRepo.GetByID(ctx, subscriptionID)
	if err != nil {
		if errors.Is(err, subscription.ErrNotFound) {
			return subscription.ErrNotFound
		}
		return fmt.Errorf("failed to get subscription for deletion: %w", err)
	}
	if sub.UserID != userID {
		return ErrNotOwner
	}
	if err := s.subRepo.Delete(ctx, subscriptionID); err != nil {
		return fmt.Errorf("failed to delete subscription %d: %w", subscriptionID, err)
	}
	return nil
}

func nullString(v string) sql.NullString {
	v = strings.TrimSpace(v)
	return sql.NullString{String: v, Valid: v != ""}
}
