package app

import (
	"fmt"
	"html"
	"strings"
	"time"

	"rzd_seat_bot/internal/domain/availability"
	"rzd_seat_bot/internal/domain/subscription"
)

// BookingURL is where the user goes to actually buy the ticket.
const BookingURL = "https://pass.rzd.ru/tickets/public/ru"

const (
	displayDateLayout     = "02.01.2006"
	displayDateTimeLayout = "02.01.2006 15:04"
)

// FormatNotificationMessage renders the seat alert in Telegram HTML.
// Verdict fields that are empty are left out.
func FormatNotificationMessage(sub *subscription.Subscription, v *availability.Verdict, now time.Time) string {
	if sub == nil {
		sub = &subscription.Subscription{}
	}
	var b strings.Builder
	b.WriteString("🎉 <b>Найдены свободные места!</b>\n\n")
	fmt.Fprintf(&b, "🚂 <b>Поезд:</b> %s\n", html.EscapeString(sub.TrainNumber))
	fmt.Fprintf(&b, "📍 <b>Маршрут:</b> %s → %s\n",
		html.EscapeString(sub.DepartureStation), html.EscapeString(sub.ArrivalStation))
	fmt.Fprintf(&b, "📅 <b>Дата:</b> %s\n", sub.DepartureDate.Format(displayDateLayout))
	fmt.Fprintf(&b, "💺 <b>Тип места:</b> %s\n", html.EscapeString(string(sub.SeatClass)))
	if sub.Berth != "" && sub.Berth != subscription.BerthAny {
		fmt.Fprintf(&b, "🛏 <b>Полка:</b> %s\n", html.EscapeString(string(sub.Berth)))
	}
	if v != nil {
		if v.Price != "" {
			fmt.Fprintf(&b, "💰 <b>Цена:</b> %s\n", html.EscapeString(v.Price))
		}
		if v.CarNumber != "" {
			fmt.Fprintf(&b, "🚃 <b>Вагон:</b> %s\n", html.EscapeString(v.CarNumber))
		}
		if v.SeatNumber != "" {
			fmt.Fprintf(&b, "🪑 <b>Место:</b> %s\n", html.EscapeString(v.SeatNumber))
		}
	}
	fmt.Fprintf(&b, "\n⏰ <b>Время уведомления:</b> %s\n\n", now.Format(displayDateTimeLayout))
	fmt.Fprintf(&b, "🔗 <a href=\"%s\">Забронировать билет</a>", BookingURL)
	return b.String()
}

// FormatTestMessage is the probe sent by /test_notify.
func FormatTestMessage(now time.Time) string {
	return fmt.Sprintf("🧪 <b>Тестовое уведомление</b>\n\nБот работает, уведомления доставляются.\n⏰ %s",
		now.Format(displayDateTimeLayout))
}
