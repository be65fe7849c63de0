// Package queue defines message payloads exchanged over the message broker.
package queue

import (
    "time"

    "github.com/iliyamo/phone-signin/internal/model"
)

// LoginQueueName carries one message per issued credential.
const LoginQueueName = "auth.login"

// LoginEvent is published whenever a credential is issued. It mirrors the
// login_events audit row so downstream consumers can log, notify, or trigger
// analytics without querying the primary database.
type LoginEvent struct {
    EventID   string `json:"event_id"`
    UserID    string `json:"user_id"`
    Channel   string `json:"channel"`
    IP        string `json:"ip,omitempty"`
    UserAgent string `json:"user_agent,omitempty"`
    LoggedAt  string `json:"logged_at"` // RFC 3339, UTC
}

// NewLoginEvent builds the message for an audit row.
func NewLoginEvent(ev model.LoginEvent) LoginEvent {
    return LoginEvent{
        EventID:   ev.ID,
        UserID:    ev.UserID,
        Channel:   string(ev.Channel),
        IP:        ev.IP,
        UserAgent: ev.UserAgent,
        LoggedAt:  ev.CreatedAt.UTC().Format(time.RFC3339),
    }
}
