package telegram

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"rzd_seat_bot/internal/app"
	"rzd_seat_bot/internal/domain/subscription"

	"github.com/sirupsen/logrus"
	"gopkg.in/telebot.v3"
)

// Handlers holds the dependencies of the bot commands.
type Handlers struct {
	Conversation  *Conversation
	Subscriptions *app.SubscriptionService
	Monitoring    *app.MonitoringService
	Logger        *logrus.Entry
}

// Register wires commands, text and callbacks into the bot.
func (h *Handlers) Register(ctx context.Context, b *telebot.Bot) {
	b.Handle("/start", func(c telebot.Context) error { return h.start(ctx, c) })
	b.Handle("/help", func(c telebot.Context) error { return h.help(c) })
	b.Handle("/cancel", func(c telebot.Context) error {
		return send(c, h.Conversation.Cancel(c.Sender().ID))
	})
	b.Handle("/my_subscriptions", func(c telebot.Context) error { return h.mySubscriptions(ctx, c) })
	b.Handle("/stats", func(c telebot.Context) error { return h.stats(ctx, c) })
	b.Handle("/test_notify", func(c telebot.Context) error { return h.testNotify(ctx, c) })
	b.Handle("/interval", func(c telebot.Context) error { return h.interval(c) })

	b.Handle(telebot.OnText, func(c telebot.Context) error {
		return send(c, h.Conversation.HandleText(ctx, c.Sender().ID, c.Text()))
	})
	b.Handle(telebot.OnCallback, func(c telebot.Context) error { return h.callback(ctx, c) })
}

func (h *Handlers) log(c telebot.Context, command string) *logrus.Entry {
	return h.Logger.WithFields(logrus.Fields{
		"command":   command,
		"sender_id": c.Sender().ID,
	})
}

func (h *Handlers) start(ctx context.Context, c telebot.Context) error {
	sender := c.Sender()
	logCtx := h.log(c, "/start")
	logCtx.Info("Processing /start command")

	if _, err := h.Subscriptions.RegisterUser(ctx, sender.ID, sender.Username, sender.FirstName, sender.LastName); err != nil {
		logCtx.WithError(err).Error("Failed to register user")
		return c.Send("Произошла ошибка при регистрации. Пожалуйста, попробуйте позже.")
	}
	return send(c, h.Conversation.Begin(sender.ID, sender.FirstName))
}

func (h *Handlers) help(c telebot.Context) error {
	var b strings.Builder
	b.WriteString("🚂 <b>Помощь по использованию бота</b>\n\n")
	b.WriteString("1. Введите станцию отправления\n")
	b.WriteString("2. Введите станцию прибытия\n")
	b.WriteString("3. Введите дату поездки (ДД.ММ.ГГГГ)\n")
	b.WriteString("4. Выберите поезд и тип места\n")
	b.WriteString("5. Бот начнет мониторинг и уведомит о свободных местах\n\n")
	b.WriteString("/start - новая подписка\n")
	b.WriteString("/my_subscriptions - мои подписки\n")
	b.WriteString("/stats - статистика мониторинга\n")
	b.WriteString("/cancel - сбросить диалог\n")
	b.WriteString("/help - эта справка\n")
	if h.Subscriptions.IsAdmin(c.Sender().ID) {
		b.WriteString("\n<b>Администратор:</b>\n")
		b.WriteString("/test_notify - тестовое уведомление\n")
		b.WriteString("/interval &lt;сек&gt; - интервал проверки (не меньше 60)\n")
	}
	b.WriteString("\n💡 Используйте полные названия станций для лучших результатов")

	markup := &telebot.ReplyMarkup{}
	markup.InlineKeyboard = [][]telebot.InlineButton{{{Text: "🔙 Назад", Data: cbBackToStart}}}
	return send(c, Reply{Text: b.String(), Markup: markup})
}

func (h *Handlers) mySubscriptions(ctx context.Context, c telebot.Context) error {
	logCtx := h.log(c, "/my_subscriptions")
	subs, err := h.Subscriptions.ListUserSubscriptions(ctx, c.Sender().ID)
	if err != nil {
		logCtx.WithError(err).Error("Failed to list subscriptions")
		return c.Send("❌ Не удалось получить подписки, попробуйте позже.")
	}
	return send(c, subscriptionsReply(subs))
}

func subscriptionsReply(subs []*subscription.Subscription) Reply {
	markup := &telebot.ReplyMarkup{}
	if len(subs) == 0 {
		markup.InlineKeyboard = [][]telebot.InlineButton{{{Text: "🔙 Назад", Data: cbBackToStart}}}
		return Reply{Text: "📋 У вас пока нет активных подписок", Markup: markup}
	}
	var b strings.Builder
	b.WriteString("📋 <b>Ваши активные подписки:</b>\n\n")
	for _, sub := range subs {
		b.WriteString(describeSubscription(sub))
		fmt.Fprintf(&b, "⏰ Создана: %s\n\n", sub.CreatedAt.Format("02.01.2006 15:04"))
		markup.InlineKeyboard = append(markup.InlineKeyboard, []telebot.InlineButton{{
			Text: "❌ Удалить " + sub.TrainNumber + " " + sub.DepartureDate.Format("02.01"),
			Data: cbDeleteSub + strconv.FormatInt(sub.ID, 10),
		}})
	}
	markup.InlineKeyboard = append(markup.InlineKeyboard, []telebot.InlineButton{{Text: "🔙 Назад", Data: cbBackToStart}})
	return Reply{Text: b.String(), Markup: markup}
}

func (h *Handlers) stats(ctx context.Context, c telebot.Context) error {
	st, err := h.Monitoring.GetMonitoringStats(ctx)
	if err != nil {
		h.log(c, "/stats").WithError(err).Error("Failed to get stats")
		return c.Send("❌ Ошибка при получении статистики")
	}
	return send(c, Reply{Text: formatStats(st)})
}

func formatStats(st *app.MonitoringStats) string {
	running := "❌ Нет"
	if st.IsRunning {
		running = "✅ Да"
	}
	return fmt.Sprintf("📊 <b>Статистика мониторинга:</b>\n\n"+
		"👥 Всего пользователей: %d\n"+
		"📋 Активных подписок: %d\n"+
		"🔔 Уведомлений за 24ч: %d\n"+
		"🔄 Мониторинг работает: %s\n"+
		"⏰ Интервал проверки: %d сек",
		st.TotalUsers, st.ActiveSubscriptions, st.NotificationsLast24h, running, st.CheckIntervalSeconds)
}

func (h *Handlers) testNotify(ctx context.Context, c telebot.Context) error {
	logCtx := h.log(c, "/test_notify")
	if err := h.Subscriptions.RequireAdmin(c.Sender().ID); err != nil {
		logCtx.Warn("Unauthorized access attempt")
		return c.Send("Ошибка: У вас нет прав для выполнения этой команды.")
	}
	if err := h.Monitoring.TestNotification(ctx, c.Sender().ID); err != nil {
		logCtx.WithError(err).Error("Test notification failed")
		return c.Send("❌ Тестовое уведомление не доставлено: " + err.Error())
	}
	return nil
}

func (h *Handlers) interval(c telebot.Context) error {
	logCtx := h.log(c, "/interval")
	if err := h.Subscriptions.RequireAdmin(c.Sender().ID); err != nil {
		logCtx.Warn("Unauthorized access attempt")
		return c.Send("Ошибка: У вас нет прав для выполнения этой команды.")
	}
	args := c.Args()
	if len(args) != 1 {
		return c.Send(fmt.Sprintf("Текущий интервал: %d сек. Использование: /interval <секунды>",
			int(h.Monitoring.CheckInterval().Seconds())))
	}
	seconds, err := strconv.Atoi(args[0])
	if err != nil || seconds <= 0 {
		return c.Send("Ошибка: интервал должен быть положительным числом секунд.")
	}
	applied := h.Monitoring.UpdateCheckInterval(seconds)
	logCtx.WithField("interval", applied).Info("Check interval changed")
	msg := fmt.Sprintf("✅ Интервал проверки: %d сек", int(applied.Seconds()))
	if int(applied.Seconds()) != seconds {
		msg += fmt.Sprintf(" (минимум %d сек)", int(app.MinCheckInterval.Seconds()))
	}
	return c.Send(msg)
}

func (h *Handlers) callback(ctx context.Context, c telebot.Context) error {
	data := c.Callback().Data
	userID := c.Sender().ID
	logCtx := h.log(c, "callback").WithField("data", data)

	switch {
	case data == cbBackToStart:
		_ = c.Respond()
		return h.start(ctx, c)
	case data == cbHelp:
		_ = c.Respond()
		return h.help(c)
	case data == cbMySubscriptions:
		_ = c.Respond()
		return h.mySubscriptions(ctx, c)

	case strings.HasPrefix(data, cbDeleteSub):
		id, err := strconv.ParseInt(strings.TrimPrefix(data, cbDeleteSub), 10, 64)
		if err != nil {
			c.Bot().OnError(fmt.Errorf("invalid subscription id in callback %q: %w", data, err), c)
			return c.Respond(&telebot.CallbackResponse{Text: "Ошибка ID подписки."})
		}
		if err := h.Subscriptions.DeleteSubscription(ctx, userID, id); err != nil {
			switch {
			case errors.Is(err, subscription.ErrNotFound):
				return c.Respond(&telebot.CallbackResponse{Text: "Подписка уже удалена."})
			case errors.Is(err, app.ErrNotOwner):
				logCtx.Warn("Attempt to delete another user's subscription")
				return c.Respond(&telebot.CallbackResponse{Text: "Это не ваша подписка."})
			default:
				logCtx.WithError(err).Error("Failed to delete subscription")
				return c.Respond(&telebot.CallbackResponse{Text: "Произошла ошибка."})
			}
		}
		logCtx.WithField("subscription_id", id).Info("Subscription deleted")
		_ = c.Respond(&telebot.CallbackResponse{Text: "Подписка удалена"})
		return edit(c, Reply{Text: "✅ Подписка удалена"})

	case strings.HasPrefix(data, cbSelectTrain):
		_ = c.Respond()
		return edit(c, h.Conversation.SelectTrain(userID, strings.TrimPrefix(data, cbSelectTrain)))
	case strings.HasPrefix(data, cbSelectSeat):
		_ = c.Respond()
		return edit(c, h.Conversation.SelectClass(ctx, userID, strings.TrimPrefix(data, cbSelectSeat)))
	case strings.HasPrefix(data, cbSelectBerth):
		_ = c.Respond()
		return edit(c, h.Conversation.SelectBerth(ctx, userID, strings.TrimPrefix(data, cbSelectBerth)))
	}

	c.Bot().OnError(fmt.Errorf("unhandled callback data: %q", data), c)
	return c.Respond(&telebot.CallbackResponse{Text: "Неизвестное действие."})
}

func options(r Reply) *telebot.SendOptions {
	return &telebot.SendOptions{
		ParseMode:             telebot.ModeHTML,
		ReplyMarkup:           r.Markup,
		DisableWebPagePreview: true,
	}
}

func send(c telebot.Context, r Reply) error {
	return c.Send(r.Text, options(r))
}

// edit replaces the message the pressed button belongs to. Falls back to a
// new message when the original cannot be edited.
func edit(c telebot.Context, r Reply) error {
	if err := c.Edit(r.Text, options(r)); err != nil {
		return send(c, r)
	}
	return nil
}
