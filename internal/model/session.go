package model

import "time"

// Channel identifies the verification pathway that produced a session or a
// credential.
type Channel string

const (
	ChannelCodedMessage Channel = "coded-message"
	ChannelWidget       Channel = "widget"
	ChannelBotOTP       Channel = "bot-otp"
)

// Valid reports whether c is one of the known channels.
func (c Channel) Valid() bool {
	switch c {
	case ChannelCodedMessage, ChannelWidget, ChannelBotOTP:
		return true
	}
	return false
}

// SessionState is the lifecycle position of an AuthSession. Transitions are
// forward only: pending to confirmed or pending to expired.
type SessionState string

const (
	StatePending   SessionState = "pending"
	StateConfirmed SessionState = "confirmed"
	StateExpired   SessionState = "expired"
)

// Verification limits shared by every code-based channel.
const (
	MaxAttempts = 5
	SessionTTL  = 5 * time.Minute
)

// AuthSession mirrors the `auth_sessions` table: one verification attempt.
//
// Fields:
//  ID               – ULID primary key.
//  Channel          – coded-message or bot-otp; the widget channel never creates rows.
//  Phone            – E.164 number; empty until a bot conversation supplies it.
//  CodeHash         – argon2id digest of the outstanding code; empty once confirmed.
//  Attempts         – failed verification count.
//  State            – pending, confirmed or expired.
//  ExpiresAt        – re-derived every time a code is issued.
//  CorrelationToken – bot handshake token presented via the start link.
//  ExternalChatRef  – conversational endpoint (chat id) bound at handshake.
//  ExternalUserRef  – conversational user id bound at handshake.
//  UserID           – resolved identity, set on confirmation.
type AuthSession struct {
	ID               string
	Channel          Channel
	Phone            string
	CodeHash         string
	Attempts         int
	State            SessionState
	ExpiresAt        time.Time
	CorrelationToken string
	ExternalChatRef  string
	ExternalUserRef  string
	UserID           string
	CreatedAt        time.Time
	UpdatedAt        time.Time
}

// Pending reports whether the session can still be acted upon.
func (s AuthSession) Pending() bool { return s.State == StatePending }

// ExpiredAt reports whether the session's TTL has lapsed at now.
func (s AuthSession) ExpiredAt(now time.Time) bool { return now.After(s.ExpiresAt) }

// HasCode reports whether a code is outstanding for the session.
func (s AuthSession) HasCode() bool { return s.CodeHash != "" }
