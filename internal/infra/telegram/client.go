// internal/infra/telegram/client.go
package telegram

import (
	"context"
	"errors"
	"fmt"

	domainTelegram "rzd_seat_bot/internal/domain/telegram"

	"gopkg.in/telebot.v3"
)

// Sender is the subset of *telebot.Bot the adapter needs.
type Sender interface {
	Send(to telebot.Recipient, what interface{}, opts ...interface{}) (*telebot.Message, error)
}

// TelebotAdapter implements domain telegram.Client on top of telebot.
type TelebotAdapter struct {
	bot Sender
}

func NewTelebotAdapter(b Sender) *TelebotAdapter {
	return &TelebotAdapter{bot: b}
}

// SendHTML sends text in HTML parse mode to a private chat. Failures are
// classified so callers know whether a resend can succeed.
func (tba *TelebotAdapter) SendHTML(ctx context.Context, chatID int64, text string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	recipient := &telebot.User{ID: chatID}
	_, err := tba.bot.Send(recipient, text, &telebot.SendOptions{
		ParseMode:             telebot.ModeHTML,
		DisableWebPagePreview: true,
	})
	if err != nil {
		return classifySendError(chatID, err)
	}
	return nil
}

func classifySendError(chatID int64, err error) error {
	wrapped := fmt.Errorf("send to chat %d: %w", chatID, err)

	var flood telebot.FloodError
	var floodPtr *telebot.FloodError
	if errors.As(err, &flood) || errors.As(err, &floodPtr) {
		return domainTelegram.NewRetryableError(wrapped)
	}
	switch {
	case errors.Is(err, telebot.ErrBlockedByUser),
		errors.Is(err, telebot.ErrUserIsDeactivated),
		errors.Is(err, telebot.ErrChatNotFound),
		errors.Is(err, telebot.ErrNotStartedByUser):
		return domainTelegram.NewPermanentError(wrapped)
	}

	var apiErr *telebot.Error
	if errors.As(err, &apiErr) && (apiErr.Code == 400 || apiErr.Code == 403) {
		// Bad request or forbidden: the same message will be rejected again.
		return domainTelegram.NewPermanentError(wrapped)
	}
	return domainTelegram.NewRetryableError(wrapped)
}
