package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"rzd_seat_bot/internal/domain/user"
)

type PostgresUserRepository struct {
	db *sql.DB
}

func NewPostgresUserRepository(db *sql.DB) *PostgresUserRepository {
	return &PostgresUserRepository{db: db}
}

// Register upserts the user by telegram id, refreshing the profile fields.
// created is true only for a brand new row.
func (r *PostgresUserRepository) Register(ctx context.Context, u *user.User) (bool, error) {
	query := `INSERT INTO users (telegram_id, username, first_name, last_name)
               VALUES ($1, $2, $3, $4)
               ON CONFLICT (telegram_id) DO UPDATE
                 SET username = EXCLUDED.username,
                     first_name = EXCLUDED.first_name,
                     last_name = EXCLUDED.last_name
               RETURNING id, created_at, (xmax = 0)`
	var created bool
	err := r.db.QueryRowContext(ctx, query, u.TelegramID, u.Username, u.FirstName, u.LastName).Scan(&u.ID, &u.CreatedAt, &created)
	if err != nil {
		return false, fmt.Errorf("error registering user: %w", err)
	}
	return created, nil
}

func (r *PostgresUserRepository) GetByTelegramID(ctx context.Context, telegramID int64) (*user.User, error) {
	query := `SELECT id, telegram_id, username, first_name, last_name, created_at
               FROM users WHERE telegram_id = $1`
	u := &user.User{}
	err := r.db.QueryRowContext(ctx, query, telegramID).Scan(&u.ID, &u.TelegramID, &u.Username, &u.FirstName, &u.LastName, &u.CreatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, user.ErrNotFound
		}
		return nil, fmt.Errorf("error getting user by Telegram ID: %w", err)
	}
	return u, nil
}
