package telegram

import (
	"context"
	"errors"
	"fmt"
	"html"
	"strings"
	"time"

	"rzd_seat_bot/internal/app"
	"rzd_seat_bot/internal/domain/availability"
	"rzd_seat_bot/internal/domain/subscription"

	"github.com/sirupsen/logrus"
	"gopkg.in/telebot.v3"
)

// Callback data prefixes. Telegram limits callback data to 64 bytes.
const (
	cbSelectTrain     = "select_train_"
	cbSelectSeat      = "select_seat_"
	cbSelectBerth     = "select_berth_"
	cbDeleteSub       = "delete_sub_"
	cbBackToStart     = "back_to_start"
	cbHelp            = "help"
	cbMySubscriptions = "my_subscriptions"
)

const (
	inputDateLayout = "02.01.2006"
	maxTrainChoices = 10
	searchTimeout   = 30 * time.Second
)

// Reply is what the bot answers with.
type Reply struct {
	Text   string
	Markup *telebot.ReplyMarkup
}

// SubscriptionCreator saves a completed draft.
type SubscriptionCreator interface {
	CreateSubscription(ctx context.Context, draft app.SubscriptionDraft) (*subscription.Subscription, bool, error)
}

// MonitorStarter triggers the first check of a new subscription.
type MonitorStarter interface {
	StartMonitoring(ctx context.Context, subscriptionID int64) error
}

// Conversation drives the subscription dialogue:
// departure → arrival → date → train → class → berth (купе only).
type Conversation struct {
	sessions      *SessionStore
	searcher      availability.Searcher
	subscriptions SubscriptionCreator
	monitor       MonitorStarter
	logger        *logrus.Entry
	now           func() time.Time
	async         func(func())
}

func NewConversation(
	sessions *SessionStore,
	searcher availability.Searcher,
	subscriptions SubscriptionCreator,
	monitor MonitorStarter,
	logger *logrus.Entry,
) *Conversation {
	return &Conversation{
		sessions:      sessions,
		searcher:      searcher,
		subscriptions: subscriptions,
		monitor:       monitor,
		logger:        logger.WithField("component", "conversation"),
		now:           time.Now,
		async:         func(f func()) { go f() },
	}
}

// Begin resets the dialogue and asks for the departure station.
func (c *Conversation) Begin(userID int64, firstName string) Reply {
	c.sessions.Put(userID, Session{State: StateAwaitingDeparture})

	markup := &telebot.ReplyMarkup{}
	markup.InlineKeyboard = [][]telebot.InlineButton{
		{{Text: "📋 Мои подписки", Data: cbMySubscriptions}},
		{{Text: "❓ Помощь", Data: cbHelp}},
	}
	name := strings.TrimSpace(firstName)
	if name == "" {
		name = "путешественник"
	}
	return Reply{
		Text: fmt.Sprintf("🚂 Добро пожаловать, %s!\n\n"+
			"Я помогу найти и отслеживать свободные места на поездах РЖД.\n\n"+
			"Для начала введите станцию отправления:", html.EscapeString(name)),
		Markup: markup,
	}
}

// Cancel drops the dialogue.
func (c *Conversation) Cancel(userID int64) Reply {
	c.sessions.Reset(userID)
	return Reply{Text: "Диалог сброшен. Чтобы создать подписку, используйте /start"}
}

// HandleText consumes free text according to the current state.
func (c *Conversation) HandleText(ctx context.Context, userID int64, text string) Reply {
	text = strings.TrimSpace(text)
	sess := c.sessions.Get(userID)

	switch sess.State {
	case StateAwaitingDeparture:
		if text == "" {
			return Reply{Text: "Введите станцию отправления:"}
		}
		sess.DepartureStation = text
		sess.State = StateAwaitingArrival
		c.sessions.Put(userID, sess)
		return Reply{Text: fmt.Sprintf("📍 Станция отправления: %s\n\nТеперь введите станцию прибытия:", html.EscapeString(text))}

	case StateAwaitingArrival:
		if text == "" {
			return Reply{Text: "Введите станцию прибытия:"}
		}
		if strings.EqualFold(text, sess.DepartureStation) {
			return Reply{Text: "❌ Станции отправления и прибытия совпадают. Введите другую станцию прибытия:"}
		}
		sess.ArrivalStation = text
		sess.State = StateAwaitingDate
		c.sessions.Put(userID, sess)
		return Reply{Text: fmt.Sprintf("📍 Маршрут: %s → %s\n\nВведите дату поездки в формате ДД.ММ.ГГГГ (например, %s):",
			html.EscapeString(sess.DepartureStation), html.EscapeString(text), c.now().AddDate(0, 0, 7).Format(inputDateLayout))}

	case StateAwaitingDate:
		date, err := time.ParseInLocation(inputDateLayout, text, c.now().Location())
		if err != nil {
			return Reply{Text: "❌ Неверный формат даты. Введите дату в формате ДД.ММ.ГГГГ:"}
		}
		if date.Before(startOfDay(c.now())) {
			return Reply{Text: "❌ Дата не может быть в прошлом. Введите корректную дату:"}
		}
		sess.DepartureDate = date
		return c.searchTrains(ctx, userID, sess)

	case StateAwaitingTrain, StateAwaitingClass, StateAwaitingBerth:
		return Reply{Text: "Выберите вариант с помощью кнопок выше или начните заново: /start"}

	default:
		return Reply{Text: "Не понимаю команду. Используйте /start для начала работы."}
	}
}

func (c *Conversation) searchTrains(ctx context.Context, userID int64, sess Session) Reply {
	log := c.logger.WithFields(logrus.Fields{
		"user_id":   userID,
		"departure": sess.DepartureStation,
		"arrival":   sess.ArrivalStation,
		"date":      sess.DepartureDate.Format(subscription.DateLayout),
	})

	searchCtx, cancel := context.WithTimeout(ctx, searchTimeout)
	defer cancel()
	trains, err := c.searcher.SearchTrains(searchCtx, sess.DepartureStation, sess.ArrivalStation, sess.DepartureDate)
	if err != nil && !errors.Is(err, availability.ErrNoData) {
		log.WithError(err).Warn("Train search failed")
		c.sessions.Reset(userID)
		return Reply{Text: "❌ Поиск не удался, попробуйте позже. Начать заново: /start"}
	}
	if len(trains) == 0 {
		log.Info("No trains found")
		c.sessions.Reset(userID)
		return Reply{Text: "❌ Поезда по данному маршруту не найдены. Попробуйте другой маршрут: /start"}
	}
	if len(trains) > maxTrainChoices {
		trains = trains[:maxTrainChoices]
	}

	sess.Trains = trains
	sess.State = StateAwaitingTrain
	c.sessions.Put(userID, sess)

	var b strings.Builder
	fmt.Fprintf(&b, "🚂 Найдено поездов: %d\n\n", len(trains))
	markup := &telebot.ReplyMarkup{}
	for _, t := range trains {
		fmt.Fprintf(&b, "🚂 <b>%s</b>\n", html.EscapeString(t.Number))
		if t.DepartureTime != "" || t.ArrivalTime != "" {
			fmt.Fprintf(&b, "⏰ %s → %s\n", html.EscapeString(t.DepartureTime), html.EscapeString(t.ArrivalTime))
		}
		if t.Duration != "" {
			fmt.Fprintf(&b, "⏱ В пути: %s\n", html.EscapeString(t.Duration))
		}
		b.WriteString("\n")
		markup.InlineKeyboard = append(markup.InlineKeyboard,
			[]telebot.InlineButton{{Text: "Выбрать " + t.Number, Data: cbSelectTrain + t.Number}})
	}
	markup.InlineKeyboard = append(markup.InlineKeyboard,
		[]telebot.InlineButton{{Text: "🔙 Начать заново", Data: cbBackToStart}})
	log.WithField("trains", len(trains)).Info("Trains offered")
	return Reply{Text: b.String(), Markup: markup}
}

// SelectTrain handles a train button.
func (c *Conversation) SelectTrain(userID int64, number string) Reply {
	sess := c.sessions.Get(userID)
	if sess.State != StateAwaitingTrain {
		return staleReply()
	}
	var picked *availability.Train
	for i := range sess.Trains {
		if sess.Trains[i].Number == number {
			picked = &sess.Trains[i]
			break
		}
	}
	if picked == nil {
		return Reply{Text: "❌ Такого поезда нет в результатах поиска. Начать заново: /start"}
	}
	sess.TrainNumber = picked.Number
	sess.State = StateAwaitingClass
	c.sessions.Put(userID, sess)

	markup := &telebot.ReplyMarkup{}
	markup.InlineKeyboard = [][]telebot.InlineButton{
		{{Text: "🛏 Плацкарт", Data: cbSelectSeat + string(subscription.SeatClassReserved)}},
		{{Text: "🚪 Купе", Data: cbSelectSeat + string(subscription.SeatClassCompartment)}},
		{{Text: "🏠 СВ", Data: cbSelectSeat + string(subscription.SeatClassSleeper)}},
		{{Text: "🔙 Назад", Data: cbBackToStart}},
	}
	text := fmt.Sprintf("🚂 Выбран поезд %s\n", html.EscapeString(picked.Number))
	if picked.DepartureTime != "" {
		text += fmt.Sprintf("⏰ %s → %s\n", html.EscapeString(picked.DepartureTime), html.EscapeString(picked.ArrivalTime))
	}
	return Reply{Text: text + "\nВыберите тип места:", Markup: markup}
}

// SelectClass handles a seat class button. For купе it asks for the berth,
// for the other classes the subscription is created right away.
func (c *Conversation) SelectClass(ctx context.Context, userID int64, class string) Reply {
	sess := c.sessions.Get(userID)
	if sess.State != StateAwaitingClass {
		return staleReply()
	}
	switch subscription.SeatClass(class) {
	case subscription.SeatClassCompartment:
		sess.SeatClass = class
		sess.State = StateAwaitingBerth
		c.sessions.Put(userID, sess)
		markup := &telebot.ReplyMarkup{}
		markup.InlineKeyboard = [][]telebot.InlineButton{
			{{Text: "⬆️ Верхняя полка", Data: cbSelectBerth + string(subscription.BerthUpper)}},
			{{Text: "⬇️ Нижняя полка", Data: cbSelectBerth + string(subscription.BerthLower)}},
			{{Text: "↕️ Любая", Data: cbSelectBerth + string(subscription.BerthAny)}},
			{{Text: "🔙 Назад", Data: cbBackToStart}},
		}
		return Reply{Text: "🛏 Выбран тип места: купе\n\nВыберите полку:", Markup: markup}
	case subscription.SeatClassReserved, subscription.SeatClassSleeper:
		sess.SeatClass = class
		return c.complete(ctx, userID, sess, string(subscription.BerthAny))
	default:
		return Reply{Text: "❌ Неизвестный тип места. Начать заново: /start"}
	}
}

// SelectBerth handles a berth button and creates the subscription.
func (c *Conversation) SelectBerth(ctx context.Context, userID int64, berth string) Reply {
	sess := c.sessions.Get(userID)
	if sess.State != StateAwaitingBerth {
		return staleReply()
	}
	switch subscription.BerthPreference(berth) {
	case subscription.BerthUpper, subscription.BerthLower, subscription.BerthAny:
	default:
		return Reply{Text: "❌ Неизвестный тип полки. Начать заново: /start"}
	}
	return c.complete(ctx, userID, sess, berth)
}

func (c *Conversation) complete(ctx context.Context, userID int64, sess Session, berth string) Reply {
	log := c.logger.WithFields(logrus.Fields{"user_id": userID, "train": sess.TrainNumber})
	draft := app.SubscriptionDraft{
		UserID:           userID,
		DepartureStation: sess.DepartureStation,
		ArrivalStation:   sess.ArrivalStation,
		DepartureDate:    sess.DepartureDate,
		TrainNumber:      sess.TrainNumber,
		SeatClass:        sess.SeatClass,
		Berth:            berth,
	}
	sub, created, err := c.subscriptions.CreateSubscription(ctx, draft)
	c.sessions.Reset(userID)
	if err != nil {
		switch {
		case errors.Is(err, app.ErrDateInPast):
			return Reply{Text: "❌ Дата поездки уже прошла. Начать заново: /start"}
		case errors.Is(err, app.ErrUserNotRegistered):
			return Reply{Text: "❌ Сначала выполните /start"}
		case errors.Is(err, app.ErrInvalidDraft):
			log.WithError(err).Warn("Invalid subscription draft")
			return Reply{Text: "❌ Ошибка: не все данные заполнены. Начать заново: /start"}
		default:
			log.WithError(err).Error("Failed to create subscription")
			return Reply{Text: "❌ Не удалось сохранить подписку, попробуйте позже."}
		}
	}

	log = log.WithField("subscription_id", sub.ID)
	if created {
		log.Info("Subscription created")
		c.async(func() {
			if err := c.monitor.StartMonitoring(context.Background(), sub.ID); err != nil {
				log.WithError(err).Error("Immediate check failed")
			}
		})
	} else {
		log.Info("Subscription already exists")
	}

	var b strings.Builder
	if created {
		b.WriteString("✅ Подписка создана!\n\n")
	} else {
		b.WriteString("ℹ️ Такая подписка уже есть.\n\n")
	}
	b.WriteString(describeSubscription(sub))
	if created {
		b.WriteString("\n🔍 Мониторинг запущен! Я уведомлю вас, когда найду свободные места.\n")
	}
	b.WriteString("\n💡 Для создания новой подписки используйте /start")
	return Reply{Text: b.String()}
}

func describeSubscription(sub *subscription.Subscription) string {
	var b strings.Builder
	fmt.Fprintf(&b, "🚂 Поезд: %s\n", html.EscapeString(sub.TrainNumber))
	fmt.Fprintf(&b, "📍 Маршрут: %s → %s\n", html.EscapeString(sub.DepartureStation), html.EscapeString(sub.ArrivalStation))
	fmt.Fprintf(&b, "📅 Дата: %s\n", sub.DepartureDate.Format(inputDateLayout))
	fmt.Fprintf(&b, "🛏 Место: %s (%s)\n", html.EscapeString(string(sub.SeatClass)), html.EscapeString(string(sub.Berth)))
	return b.String()
}

func staleReply() Reply {
	return Reply{Text: "Эта кнопка устарела. Начните заново: /start"}
}

func startOfDay(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, t.Location())
}
