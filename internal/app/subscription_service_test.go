package app

import (
	"context"
	"testing"
	"time"

	"rzd_seat_bot/internal/domain/subscription"
	"rzd_seat_bot/internal/infra/memory"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestSubscriptionService(t *testing.T) (*SubscriptionService, *memory.Store) {
	t.Helper()
	store := memory.NewStore()
	svc := NewSubscriptionService(store, store, 1000)
	svc.now = func() time.Time { return testNow }

	_, err := svc.RegisterUser(context.Background(), 42, "ivan", "Иван", "")
	require.NoError(t, err)
	return svc, store
}

func validDraft() SubscriptionDraft {
	return SubscriptionDraft{
		UserID:           42,
		DepartureStation: "Москва",
		ArrivalStation:   "Казань",
		DepartureDate:    time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC),
		TrainNumber:      "001М",
		SeatClass:        "купе",
		Berth:            "нижняя",
	}
}

func TestSubscriptionService_CreateSubscription(t *testing.T) {
	svc, _ := newTestSubscriptionService(t)

	sub, created, err := svc.CreateSubscription(context.Background(), validDraft())
	require.NoError(t, err)
	assert.True(t, created)
	assert.NotZero(t, sub.ID)
	assert.True(t, sub.IsActive)
	assert.Equal(t, subscription.SeatClassCompartment, sub.SeatClass)
	assert.Equal(t, subscription.BerthLower, sub.Berth)
	assert.Equal(t, "2025-06-01", sub.DepartureDate.Format(subscription.DateLayout))
}

func TestSubscriptionService_CreateSubscription_Deduplicates(t *testing.T) {
	svc, store := newTestSubscriptionService(t)
	ctx := context.Background()

	first, created, err := svc.CreateSubscription(ctx, validDraft())
	require.NoError(t, err)
	require.True(t, created)

	draft := validDraft()
	draft.DepartureStation = "  Москва "
	draft.SeatClass = "КУПЕ"
	second, created, err := svc.CreateSubscription(ctx, draft)
	require.NoError(t, err)
	assert.False(t, created)
	assert.Equal(t, first.ID, second.ID)

	// A different berth is a different subscription.
	draft = validDraft()
	draft.Berth = "верхняя"
	third, created, err := svc.CreateSubscription(ctx, draft)
	require.NoError(t, err)
	assert.True(t, created)
	assert.NotEqual(t, first.ID, third.ID)

	active, err := store.ListActiveByUser(ctx, 42)
	require.NoError(t, err)
	assert.Len(t, active, 2)
}

func TestSubscriptionService_CreateSubscription_BerthOnlyForCompartment(t *testing.T) {
	svc, _ := newTestSubscriptionService(t)

	tests := []struct {
		name      string
		class     string
		berth     string
		wantBerth subscription.BerthPreference
	}{
		{"reserved ignores berth", "плацкарт", "нижняя", subscription.BerthAny},
		{"sleeper ignores berth", "св", "верхняя", subscription.BerthAny},
		{"compartment without berth", "купе", "", subscription.BerthAny},
		{"compartment keeps berth", "купе", "верхняя", subscription.BerthUpper},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			draft := validDraft()
			draft.SeatClass = tt.class
			draft.Berth = tt.berth
			sub, _, err := svc.CreateSubscription(context.Background(), draft)
			require.NoError(t, err)
			assert.Equal(t, tt.wantBerth, sub.Berth)
		})
	}
}

func TestSubscriptionService_CreateSubscription_Rejects(t *testing.T) {
	svc, _ := newTestSubscriptionService(t)

	tests := []struct {
		name    string
		mutate  func(d *SubscriptionDraft)
		wantErr error
	}{
		{"same stations", func(d *SubscriptionDraft) { d.ArrivalStation = "Москва" }, ErrInvalidDraft},
		{"unknown class", func(d *SubscriptionDraft) { d.SeatClass = "люкс" }, ErrInvalidDraft},
		{"unknown berth", func(d *SubscriptionDraft) { d.Berth = "боковая" }, ErrInvalidDraft},
		{"empty train", func(d *SubscriptionDraft) { d.TrainNumber = " " }, ErrInvalidDraft},
		{"date in past", func(d *SubscriptionDraft) { d.DepartureDate = testNow.AddDate(0, 0, -1) }, ErrDateInPast},
		{"unregistered user", func(d *SubscriptionDraft) { d.UserID = 7 }, ErrUserNotRegistered},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			draft := validDraft()
			tt.mutate(&draft)
			_, _, err := svc.CreateSubscription(context.Background(), draft)
			assert.ErrorIs(t, err, tt.wantErr)
		})
	}
}

func TestSubscriptionService_CreateSubscription_TodayIsAllowed(t *testing.T) {
	svc, _ := newTestSubscriptionService(t)
	draft := validDraft()
	draft.DepartureDate = time.Date(testNow.Year(), testNow.Month(), testNow.Day(), 0, 0, 0, 0, time.UTC)

	_, created, err := svc.CreateSubscription(context.Background(), draft)
	require.NoError(t, err)
	assert.True(t, created)
}

func TestSubscriptionService_DeleteSubscription(t *testing.T) {
	svc, store := newTestSubscriptionService(t)
	ctx := context.Background()
	_, err := svc.RegisterUser(ctx, 43, "", "Пётр", "")
	require.NoError(t, err)

	sub, _, err := svc.CreateSubscription(ctx, validDraft())
	require.NoError(t, err)

	assert.ErrorIs(t, svc.DeleteSubscription(ctx, 43, sub.ID), ErrNotOwner)
	assert.ErrorIs(t, svc.DeleteSubscription(ctx, 42, 9999), subscription.ErrNotFound)

	require.NoError(t, svc.DeleteSubscription(ctx, 42, sub.ID))
	_, err = store.GetByID(ctx, sub.ID)
	assert.ErrorIs(t, err, subscription.ErrNotFound)

	subs, err := svc.ListUserSubscriptions(ctx, 42)
	require.NoError(t, err)
	assert.Empty(t, subs)
}

func TestSubscriptionService_RegisterUser_Idempotent(t *testing.T) {
	svc, store := newTestSubscriptionService(t)
	ctx := context.Background()

	_, err := svc.RegisterUser(ctx, 42, "ivan_new", "Иван", "Петров")
	require.NoError(t, err)

	u, err := store.GetByTelegramID(ctx, 42)
	require.NoError(t, err)
	assert.Equal(t, "ivan_new", u.Username.String)
	assert.Equal(t, "Петров", u.LastName.String)

	st, err := store.GetStatistics(ctx, testNow)
	require.NoError(t, err)
	assert.Equal(t, 1, st.TotalUsers)
}

func TestSubscriptionService_Admin(t *testing.T) {
	svc, _ := newTestSubscriptionService(t)

	assert.True(t, svc.IsAdmin(1000))
	assert.False(t, svc.IsAdmin(42))
	assert.NoError(t, svc.RequireAdmin(1000))
	assert.ErrorIs(t, svc.RequireAdmin(42), ErrNotAuthorized)

	noAdmin := NewSubscriptionService(memory.NewStore(), memory.NewStore(), 0)
	assert.False(t, noAdmin.IsAdmin(0))
}
