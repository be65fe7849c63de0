package repository

import (
	"context"
	"database/sql"

	"github.com/oklog/ulid/v2"

	"github.com/iliyamo/phone-signin/internal/model"
)

// LoginEventRepo appends rows to the login audit trail.
type LoginEventRepo struct{ DB *sql.DB }

func NewLoginEventRepo(db *sql.DB) *LoginEventRepo { return &LoginEventRepo{DB: db} }

func (r *LoginEventRepo) AppendLoginEvent(ctx context.Context, ev model.LoginEvent) error {
	if ev.ID == "" {
		ev.ID = ulid.Make().String()
	}
	_, err := r.DB.ExecContext(ctx,
		"INSERT INTO login_events (id, user_id, channel, ip, user_agent, created_at) VALUES (?,?,?,?,?,?)",
		ev.ID, ev.UserID, string(ev.Channel), nullIfEmpty(ev.IP), nullIfEmpty(ev.UserAgent), ev.CreatedAt.UTC())
	return err
}

// ListLoginEvents returns the most recent events for userID, newest first.
func (r *LoginEventRepo) ListLoginEvents(ctx context.Context, userID string, limit int) ([]model.LoginEvent, error) {
	if limit <= 0 || limit > 100 {
		limit = 20
	}
	rows, err := r.DB.QueryContext(ctx,
		"SELECT id, user_id, channel, ip, user_agent, created_at FROM login_events WHERE user_id=? ORDER BY created_at DESC LIMIT ?",
		userID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []model.LoginEvent
	for rows.Next() {
		var (
			ev      model.LoginEvent
			channel string
			ip, ua  sql.NullString
		)
		if err := rows.Scan(&ev.ID, &ev.UserID, &channel, &ip, &ua, &ev.CreatedAt); err != nil {
			return nil, err
		}
		ev.Channel = model.Channel(channel)
		ev.IP = ip.String
		ev.UserAgent = ua.String
		out = append(out, ev)
	}
	return out, rows.Err()
}
