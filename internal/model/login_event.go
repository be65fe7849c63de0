package model

import "time"

// LoginEvent is an append-only audit row written for every issued credential.
type LoginEvent struct {
	ID        string
	UserID    string
	Channel   Channel
	IP        string
	UserAgent string
	CreatedAt time.Time
}
