package user

import (
	"context"
	"errors"
)

var ErrNotFound = errors.New("user not found")

// Repository defines the operations for persisting and retrieving users.
type Repository interface {
	// Register inserts u if its TelegramID is unknown. Returns true when a row was created.
	Register(ctx context.Context, u *User) (bool, error)
	GetByTelegramID(ctx context.Context, telegramID int64) (*User, error)
}
