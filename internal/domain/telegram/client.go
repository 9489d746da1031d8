package telegram

import "context"

// Client delivers messages to Telegram chats. Callers pass HTML-formatted
// text; parse mode and other transport options stay inside the adapter.
type Client interface {
	SendHTML(ctx context.Context, chatID int64, text string) error
}
