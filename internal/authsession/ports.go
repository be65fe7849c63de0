package authsession

import (
	"context"
	"time"

	"github.com/iliyamo/phone-signin/internal/model"
)

// SessionStore persists AuthSession rows. Every mutating method is a
// conditional update that only applies while the session is pending and
// returns repository.ErrStateConflict otherwise.
type SessionStore interface {
	CreateSession(ctx context.Context, s model.AuthSession) error
	GetSession(ctx context.Context, id string) (model.AuthSession, error)
	LatestPending(ctx context.Context, channel model.Channel, phone string) (model.AuthSession, error)
	LatestSession(ctx context.Context, channel model.Channel, phone string) (model.AuthSession, error)
	PendingByCorrelation(ctx context.Context, token string) (model.AuthSession, error)
	PendingByChat(ctx context.Context, chatRef string) (model.AuthSession, error)
	Expire(ctx context.Context, id string, now time.Time) error
	Confirm(ctx context.Context, id, codeHash, userID string, now time.Time) error
	ReserveAttempt(ctx context.Context, id string, now time.Time) (int, error)
	Reissue(ctx context.Context, id, phone, codeHash string, expiresAt, now time.Time) error
	AttachEndpoint(ctx context.Context, id, chatRef, userRef string, now time.Time) error
}

// UserStore resolves identities with upsert-on-success semantics.
type UserStore interface {
	UpsertByPhone(ctx context.Context, phone string, now time.Time) (model.User, error)
	UpsertByTelegramID(ctx context.Context, telegramID string, p model.Profile, now time.Time) (model.User, error)
}

// EventStore appends to the login audit trail.
type EventStore interface {
	AppendLoginEvent(ctx context.Context, ev model.LoginEvent) error
}

// Deliverer transmits a code to a phone. It reports the outcome as a bool
// and never returns transport faults.
type Deliverer interface {
	Send(ctx context.Context, phone, code string) bool
}

// Publisher fans login events out to other services. Failures are logged.
type Publisher interface {
	PublishLogin(ctx context.Context, ev model.LoginEvent) error
}

// Caller describes the origin of an inbound request.
type Caller struct {
	Addr      string
	UserAgent string
	Origin    string
}
