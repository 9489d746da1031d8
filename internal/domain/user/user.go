package user

import (
	"database/sql"
	"time"
)

// User is a Telegram user who talked to the bot.
type User struct {
	ID         int64
	TelegramID int64
	Username   sql.NullString
	FirstName  string
	LastName   sql.NullString
	CreatedAt  time.Time
}
