package repository

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/iliyamo/phone-signin/internal/model"
)

// SessionRepo persists auth sessions in MySQL. Every state transition is a
// conditional UPDATE guarded by state='pending', so concurrent requests can
// never confirm or expire the same session twice.
type SessionRepo struct{ DB *sql.DB }

func NewSessionRepo(db *sql.DB) *SessionRepo { return &SessionRepo{DB: db} }

const sessionColumns = "id,channel,phone,code_hash,attempts,state,expires_at,correlation_token,external_chat_ref,external_user_ref,user_id,created_at,updated_at"

func scanSession(row interface{ Scan(...any) error }) (model.AuthSession, error) {
	var (
		s                                          model.AuthSession
		channel, state                             string
		phone, codeHash, corr, chatRef, userRef, u sql.NullString
	)
	err := row.Scan(&s.ID, &channel, &phone, &codeHash, &s.Attempts, &state, &s.ExpiresAt,
		&corr, &chatRef, &userRef, &u, &s.CreatedAt, &s.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return model.AuthSession{}, ErrNotFound
	}
	if err != nil {
		return model.AuthSession{}, err
	}
	s.Channel = model.Channel(channel)
	s.State = model.SessionState(state)
	s.Phone = phone.String
	s.CodeHash = codeHash.String
	s.CorrelationToken = corr.String
	s.ExternalChatRef = chatRef.String
	s.ExternalUserRef = userRef.String
	s.UserID = u.String
	return s, nil
}

func nullIfEmpty(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

// CreateSession inserts s. An empty ID is replaced with a fresh ULID.
func (r *SessionRepo) CreateSession(ctx context.Context, s model.AuthSession) error {
	if s.ID == "" {
		s.ID = ulid.Make().String()
	}
	if s.UpdatedAt.IsZero() {
		s.UpdatedAt = s.CreatedAt
	}
	_, err := r.DB.ExecContext(ctx,
		"INSERT INTO auth_sessions ("+sessionColumns+") VALUES (?,?,?,?,?,?,?,?,?,?,?,?,?)",
		s.ID, string(s.Channel), nullIfEmpty(s.Phone), nullIfEmpty(s.CodeHash), s.Attempts, string(s.State),
		s.ExpiresAt.UTC(), nullIfEmpty(s.CorrelationToken), nullIfEmpty(s.ExternalChatRef),
		nullIfEmpty(s.ExternalUserRef), nullIfEmpty(s.UserID), s.CreatedAt.UTC(), s.UpdatedAt.UTC())
	return err
}

func (r *SessionRepo) GetSession(ctx context.Context, id string) (model.AuthSession, error) {
	return scanSession(r.DB.QueryRowContext(ctx,
		"SELECT "+sessionColumns+" FROM auth_sessions WHERE id=? LIMIT 1", id))
}

// LatestPending returns the newest pending session for (channel, phone).
func (r *SessionRepo) LatestPending(ctx context.Context, channel model.Channel, phone string) (model.AuthSession, error) {
	return scanSession(r.DB.QueryRowContext(ctx,
		"SELECT "+sessionColumns+" FROM auth_sessions WHERE channel=? AND phone=? AND state='pending' ORDER BY created_at DESC, id DESC LIMIT 1",
		string(channel), phone))
}

// LatestSession returns the newest session for (channel, phone) in any state.
func (r *SessionRepo) LatestSession(ctx context.Context, channel model.Channel, phone string) (model.AuthSession, error) {
	return scanSession(r.DB.QueryRowContext(ctx,
		"SELECT "+sessionColumns+" FROM auth_sessions WHERE channel=? AND phone=? ORDER BY created_at DESC, id DESC LIMIT 1",
		string(channel), phone))
}

func (r *SessionRepo) PendingByCorrelation(ctx context.Context, token string) (model.AuthSession, error) {
	if token == "" {
		return model.AuthSession{}, ErrNotFound
	}
	return scanSession(r.DB.QueryRowContext(ctx,
		"SELECT "+sessionColumns+" FROM auth_sessions WHERE correlation_token=? AND state='pending' LIMIT 1", token))
}

// PendingByChat returns the newest pending bot session bound to chatRef.
func (r *SessionRepo) PendingByChat(ctx context.Context, chatRef string) (model.AuthSession, error) {
	if chatRef == "" {
		return model.AuthSession{}, ErrNotFound
	}
	return scanSession(r.DB.QueryRowContext(ctx,
		"SELECT "+sessionColumns+" FROM auth_sessions WHERE channel=? AND external_chat_ref=? AND state='pending' ORDER BY created_at DESC, id DESC LIMIT 1",
		string(model.ChannelBotOTP), chatRef))
}

// casExec runs a conditional update and maps "no rows affected" to
// ErrNotFound or ErrStateConflict depending on whether the row exists.
func (r *SessionRepo) casExec(ctx context.Context, id, query string, args ...any) error {
	res, err := r.DB.ExecContext(ctx, query, args...)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n > 0 {
		return nil
	}
	var one int
	err = r.DB.QueryRowContext(ctx, "SELECT 1 FROM auth_sessions WHERE id=? LIMIT 1", id).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return ErrNotFound
	}
	if err != nil {
		return err
	}
	return ErrStateConflict
}

func (r *SessionRepo) Expire(ctx context.Context, id string, now time.Time) error {
	return r.casExec(ctx, id,
		"UPDATE auth_sessions SET state='expired', code_hash=NULL, updated_at=? WHERE id=? AND state='pending'",
		now.UTC(), id)
}

// Confirm moves a pending session to confirmed only while its stored digest
// still equals codeHash and the attempt budget was not overrun, which makes
// every code single-use.
func (r *SessionRepo) Confirm(ctx context.Context, id, codeHash, userID string, now time.Time) error {
	return r.casExec(ctx, id,
		"UPDATE auth_sessions SET state='confirmed', code_hash=NULL, user_id=?, updated_at=? WHERE id=? AND state='pending' AND code_hash=? AND attempts<=?",
		userID, now.UTC(), id, codeHash, model.MaxAttempts)
}

// ReserveAttempt spends one verification attempt before the code is checked
// and returns the new count. Once model.MaxAttempts are spent it returns
// ErrStateConflict, so concurrent guesses cannot overrun the budget.
func (r *SessionRepo) ReserveAttempt(ctx context.Context, id string, now time.Time) (int, error) {
	tx, err := r.DB.BeginTx(ctx, nil)
	if err != nil {
		return 0, err
	}
	defer func() { _ = tx.Rollback() }()

	res, err := tx.ExecContext(ctx,
		"UPDATE auth_sessions SET attempts=attempts+1, updated_at=? WHERE id=? AND state='pending' AND attempts<?",
		now.UTC(), id, model.MaxAttempts)
	if err != nil {
		return 0, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, err
	}
	var attempts int
	err = tx.QueryRowContext(ctx, "SELECT attempts FROM auth_sessions WHERE id=?", id).Scan(&attempts)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		return 0, ErrNotFound
	case err != nil:
		return 0, err
	case n == 0:
		return attempts, ErrStateConflict
	}
	return attempts, tx.Commit()
}

// Reissue stores a fresh code on a pending session and resets its budget.
func (r *SessionRepo) Reissue(ctx context.Context, id, phone, codeHash string, expiresAt, now time.Time) error {
	return r.casExec(ctx, id,
		"UPDATE auth_sessions SET phone=?, code_hash=?, attempts=0, expires_at=?, updated_at=? WHERE id=? AND state='pending'",
		phone, codeHash, expiresAt.UTC(), now.UTC(), id)
}

// AttachEndpoint binds the bot chat to a pending session. Re-attaching the
// same chat is a no-op success; a different chat is a conflict.
func (r *SessionRepo) AttachEndpoint(ctx context.Context, id, chatRef, userRef string, now time.Time) error {
	return r.casExec(ctx, id,
		"UPDATE auth_sessions SET external_chat_ref=?, external_user_ref=?, updated_at=? WHERE id=? AND state='pending' AND (external_chat_ref IS NULL OR external_chat_ref=?)",
		chatRef, nullIfEmpty(userRef), now.UTC(), id, chatRef)
}

// ExpireStale moves every pending session past its deadline to expired.
func (r *SessionRepo) ExpireStale(ctx context.Context, now time.Time) (int64, error) {
	res, err := r.DB.ExecContext(ctx,
		"UPDATE auth_sessions SET state='expired', code_hash=NULL, updated_at=? WHERE state='pending' AND expires_at < ?",
		now.UTC(), now.UTC())
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}
