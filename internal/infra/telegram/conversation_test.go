package telegram

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"rzd_seat_bot/internal/app"
	"rzd_seat_bot/internal/domain/availability"
	"rzd_seat_bot/internal/infra/logger"
	"rzd_seat_bot/internal/infra/memory"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/telebot.v3"
)

type fakeSearcher struct {
	trains []availability.Train
	err    error
	calls  int
}

func (f *fakeSearcher) SearchTrains(ctx context.Context, departure, arrival string, date time.Time) ([]availability.Train, error) {
	f.calls++
	return f.trains, f.err
}

type fakeMonitor struct {
	mu      sync.Mutex
	started []int64
}

func (f *fakeMonitor) StartMonitoring(ctx context.Context, subscriptionID int64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.started = append(f.started, subscriptionID)
	return nil
}

type conversationFixture struct {
	conv     *Conversation
	searcher *fakeSearcher
	monitor  *fakeMonitor
	store    *memory.Store
	date     string
}

const testUser = int64(42)

func newConversationFixture(t *testing.T) *conversationFixture {
	t.Helper()
	store := memory.NewStore()
	subs := app.NewSubscriptionService(store, store, 0)
	_, err := subs.RegisterUser(context.Background(), testUser, "ivan", "Иван", "")
	require.NoError(t, err)

	searcher := &fakeSearcher{trains: []availability.Train{
		{Number: "001М", DepartureTime: "23:55", ArrivalTime: "11:50", Duration: "11 ч 55 мин"},
		{Number: "003М", DepartureTime: "21:10", ArrivalTime: "09:00"},
	}}
	monitor := &fakeMonitor{}
	conv := NewConversation(NewSessionStore(0), searcher, subs, monitor, logger.Discard())
	conv.async = func(f func()) { f() }

	return &conversationFixture{
		conv:     conv,
		searcher: searcher,
		monitor:  monitor,
		store:    store,
		date:     time.Now().AddDate(0, 0, 10).Format(inputDateLayout),
	}
}

// walkToClass drives the dialogue up to the class choice for train 001М.
func (f *conversationFixture) walkToClass(t *testing.T) {
	t.Helper()
	ctx := context.Background()
	f.conv.Begin(testUser, "Иван")
	f.conv.HandleText(ctx, testUser, "Москва")
	f.conv.HandleText(ctx, testUser, "Казань")
	f.conv.HandleText(ctx, testUser, f.date)
	f.conv.SelectTrain(testUser, "001М")
	require.Equal(t, StateAwaitingClass, f.conv.sessions.Get(testUser).State)
}

func callbackData(markup *telebot.ReplyMarkup) []string {
	var data []string
	if markup == nil {
		return data
	}
	for _, row := range markup.InlineKeyboard {
		for _, btn := range row {
			data = append(data, btn.Data)
		}
	}
	return data
}

func TestConversation_FullCompartmentFlow(t *testing.T) {
	f := newConversationFixture(t)
	ctx := context.Background()

	reply := f.conv.Begin(testUser, "Иван")
	assert.Contains(t, reply.Text, "Добро пожаловать, Иван")
	assert.Equal(t, []string{cbMySubscriptions, cbHelp}, callbackData(reply.Markup))
	assert.Equal(t, StateAwaitingDeparture, f.conv.sessions.Get(testUser).State)

	reply = f.conv.HandleText(ctx, testUser, "Москва")
	assert.Contains(t, reply.Text, "станцию прибытия")
	assert.Equal(t, StateAwaitingArrival, f.conv.sessions.Get(testUser).State)

	reply = f.conv.HandleText(ctx, testUser, "москва")
	assert.Contains(t, reply.Text, "совпадают")
	assert.Equal(t, StateAwaitingArrival, f.conv.sessions.Get(testUser).State)

	reply = f.conv.HandleText(ctx, testUser, "Казань")
	assert.Contains(t, reply.Text, "Москва → Казань")
	assert.Equal(t, StateAwaitingDate, f.conv.sessions.Get(testUser).State)

	reply = f.conv.HandleText(ctx, testUser, "2025-06-01")
	assert.Contains(t, reply.Text, "Неверный формат")

	reply = f.conv.HandleText(ctx, testUser, time.Now().AddDate(0, 0, -1).Format(inputDateLayout))
	assert.Contains(t, reply.Text, "в прошлом")
	assert.Equal(t, StateAwaitingDate, f.conv.sessions.Get(testUser).State)

	reply = f.conv.HandleText(ctx, testUser, f.date)
	assert.Contains(t, reply.Text, "Найдено поездов: 2")
	assert.Contains(t, reply.Text, "<b>001М</b>")
	assert.Equal(t, []string{cbSelectTrain + "001М", cbSelectTrain + "003М", cbBackToStart}, callbackData(reply.Markup))
	assert.Equal(t, StateAwaitingTrain, f.conv.sessions.Get(testUser).State)

	reply = f.conv.HandleText(ctx, testUser, "001М")
	assert.Contains(t, reply.Text, "кнопок")

	reply = f.conv.SelectTrain(testUser, "999Я")
	assert.Contains(t, reply.Text, "нет в результатах")

	reply = f.conv.SelectTrain(testUser, "001М")
	assert.Contains(t, reply.Text, "Выбран поезд 001М")
	assert.Equal(t, []string{
		cbSelectSeat + "плацкарт", cbSelectSeat + "купе", cbSelectSeat + "св", cbBackToStart,
	}, callbackData(reply.Markup))

	reply = f.conv.SelectClass(ctx, testUser, "купе")
	assert.Contains(t, reply.Text, "Выберите полку")
	assert.Equal(t, []string{
		cbSelectBerth + "верхняя", cbSelectBerth + "нижняя", cbSelectBerth + "любая", cbBackToStart,
	}, callbackData(reply.Markup))

	reply = f.conv.SelectBerth(ctx, testUser, "нижняя")
	assert.Contains(t, reply.Text, "Подписка создана")
	assert.Contains(t, reply.Text, "купе (нижняя)")
	assert.Equal(t, StateIdle, f.conv.sessions.Get(testUser).State)

	subs, err := f.store.ListActiveByUser(ctx, testUser)
	require.NoError(t, err)
	require.Len(t, subs, 1)
	assert.Equal(t, "001М", subs[0].TrainNumber)
	assert.Equal(t, []int64{subs[0].ID}, f.monitor.started)
}

func TestConversation_ReservedCompletesWithoutBerth(t *testing.T) {
	f := newConversationFixture(t)
	f.walkToClass(t)

	reply := f.conv.SelectClass(context.Background(), testUser, "плацкарт")
	assert.Contains(t, reply.Text, "Подписка создана")
	assert.Contains(t, reply.Text, "плацкарт (любая)")
	assert.Len(t, f.monitor.started, 1)
}

func TestConversation_DuplicateSubscription(t *testing.T) {
	f := newConversationFixture(t)
	ctx := context.Background()

	f.walkToClass(t)
	f.conv.SelectClass(ctx, testUser, "св")

	f.walkToClass(t)
	reply := f.conv.SelectClass(ctx, testUser, "св")
	assert.Contains(t, reply.Text, "уже есть")
	assert.Len(t, f.monitor.started, 1, "existing subscription is not re-checked")

	subs, err := f.store.ListActiveByUser(ctx, testUser)
	require.NoError(t, err)
	assert.Len(t, subs, 1)
}

func TestConversation_UnregisteredUser(t *testing.T) {
	f := newConversationFixture(t)
	ctx := context.Background()
	const stranger = int64(7)

	f.conv.Begin(stranger, "")
	f.conv.HandleText(ctx, stranger, "Москва")
	f.conv.HandleText(ctx, stranger, "Казань")
	f.conv.HandleText(ctx, stranger, f.date)
	f.conv.SelectTrain(stranger, "001М")

	reply := f.conv.SelectClass(ctx, stranger, "плацкарт")
	assert.Contains(t, reply.Text, "/start")
	assert.Empty(t, f.monitor.started)
}

func TestConversation_SearchOutcomes(t *testing.T) {
	tests := []struct {
		name     string
		trains   []availability.Train
		err      error
		contains string
		state    State
		buttons  int
	}{
		{"search failure", nil, errors.New("connection reset"), "Поиск не удался", StateIdle, 0},
		{"no data", nil, fmt.Errorf("search: %w", availability.ErrNoData), "не найдены", StateIdle, 0},
		{"empty result", []availability.Train{}, nil, "не найдены", StateIdle, 0},
		{"capped result", manyTrains(15), nil, "Найдено поездов: 10", StateAwaitingTrain, 11},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newConversationFixture(t)
			f.searcher.trains = tt.trains
			f.searcher.err = tt.err
			ctx := context.Background()

			f.conv.Begin(testUser, "Иван")
			f.conv.HandleText(ctx, testUser, "Москва")
			f.conv.HandleText(ctx, testUser, "Казань")
			reply := f.conv.HandleText(ctx, testUser, f.date)

			assert.Contains(t, reply.Text, tt.contains)
			assert.Equal(t, tt.state, f.conv.sessions.Get(testUser).State)
			assert.Len(t, callbackData(reply.Markup), tt.buttons)
		})
	}
}

func manyTrains(n int) []availability.Train {
	trains := make([]availability.Train, n)
	for i := range trains {
		trains[i] = availability.Train{Number: fmt.Sprintf("%03dА", i+100)}
	}
	return trains
}

func TestConversation_StaleButtons(t *testing.T) {
	f := newConversationFixture(t)
	ctx := context.Background()

	assert.Equal(t, staleReply(), f.conv.SelectTrain(testUser, "001М"))
	assert.Equal(t, staleReply(), f.conv.SelectClass(ctx, testUser, "купе"))
	assert.Equal(t, staleReply(), f.conv.SelectBerth(ctx, testUser, "нижняя"))

	reply := f.conv.HandleText(ctx, testUser, "привет")
	assert.Contains(t, reply.Text, "/start")
}

func TestConversation_Cancel(t *testing.T) {
	f := newConversationFixture(t)
	f.walkToClass(t)

	f.conv.Cancel(testUser)
	assert.Equal(t, StateIdle, f.conv.sessions.Get(testUser).State)
	assert.Equal(t, staleReply(), f.conv.SelectClass(context.Background(), testUser, "купе"))
}

func TestConversation_UnknownChoices(t *testing.T) {
	f := newConversationFixture(t)
	ctx := context.Background()
	f.walkToClass(t)

	reply := f.conv.SelectClass(ctx, testUser, "люкс")
	assert.Contains(t, reply.Text, "Неизвестный тип места")

	f.conv.SelectClass(ctx, testUser, "купе")
	reply = f.conv.SelectBerth(ctx, testUser, "боковая")
	assert.Contains(t, reply.Text, "Неизвестный тип полки")
	assert.Empty(t, f.monitor.started)
}
