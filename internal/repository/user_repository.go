package repository

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/go-sql-driver/mysql"
	"github.com/oklog/ulid/v2"

	"github.com/iliyamo/phone-signin/internal/model"
)

// UserRepo resolves identities. A user is keyed either by Telegram user id
// or by phone; both columns carry unique indexes.
type UserRepo struct{ DB *sql.DB }

func NewUserRepo(db *sql.DB) *UserRepo { return &UserRepo{DB: db} }

const userColumns = "id,telegram_user_id,phone,name,username,created_at,updated_at"

func scanUser(row interface{ Scan(...any) error }) (model.User, error) {
	var (
		u                        model.User
		tgID, phone, name, uname sql.NullString
	)
	err := row.Scan(&u.ID, &tgID, &phone, &name, &uname, &u.CreatedAt, &u.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return model.User{}, ErrNotFound
	}
	if err != nil {
		return model.User{}, err
	}
	u.TelegramUserID = tgID.String
	u.Phone = phone.String
	u.Name = name.String
	u.Username = uname.String
	return u, nil
}

func isDuplicate(err error) bool {
	var me *mysql.MySQLError
	return errors.As(err, &me) && me.Number == 1062
}

// GetUser fetches a user by id.
func (r *UserRepo) GetUser(ctx context.Context, id string) (model.User, error) {
	return scanUser(r.DB.QueryRowContext(ctx,
		"SELECT "+userColumns+" FROM users WHERE id=? LIMIT 1", id))
}

// UpsertByPhone returns the user owning phone, creating it on first login.
func (r *UserRepo) UpsertByPhone(ctx context.Context, phone string, now time.Time) (model.User, error) {
	_, err := r.DB.ExecContext(ctx,
		"INSERT INTO users (id, phone, created_at, updated_at) VALUES (?,?,?,?) ON DUPLICATE KEY UPDATE updated_at=VALUES(updated_at)",
		ulid.Make().String(), phone, now.UTC(), now.UTC())
	if err != nil {
		return model.User{}, err
	}
	return scanUser(r.DB.QueryRowContext(ctx,
		"SELECT "+userColumns+" FROM users WHERE phone=? LIMIT 1", phone))
}

// UpsertByTelegramID creates or refreshes the user bound to a Telegram id.
// Non-empty profile fields overwrite stored ones. A phone already owned by a
// different user is left with that user.
func (r *UserRepo) UpsertByTelegramID(ctx context.Context, telegramID string, p model.Profile, now time.Time) (model.User, error) {
	_, err := r.DB.ExecContext(ctx,
		`INSERT INTO users (id, telegram_user_id, name, username, created_at, updated_at) VALUES (?,?,?,?,?,?)
		 ON DUPLICATE KEY UPDATE
		   name=COALESCE(VALUES(name), name),
		   username=COALESCE(VALUES(username), username),
		   updated_at=VALUES(updated_at)`,
		ulid.Make().String(), telegramID, nullIfEmpty(p.Name), nullIfEmpty(p.Username), now.UTC(), now.UTC())
	if err != nil {
		return model.User{}, err
	}
	if p.Phone != "" {
		_, err = r.DB.ExecContext(ctx,
			"UPDATE users SET phone=?, updated_at=? WHERE telegram_user_id=?",
			p.Phone, now.UTC(), telegramID)
		if err != nil && !isDuplicate(err) {
			return model.User{}, err
		}
	}
	return scanUser(r.DB.QueryRowContext(ctx,
		"SELECT "+userColumns+" FROM users WHERE telegram_user_id=? LIMIT 1", telegramID))
}
