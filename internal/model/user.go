package model

import "time"

// User represents a resolved identity as stored in the `users` table. A user
// is keyed by the messaging-widget user id, by phone, or by both once a bot
// conversation links them.
//
// Fields:
//  ID             – ULID primary key.
//  TelegramUserID – external widget/bot user id (unique, optional).
//  Phone          – E.164 phone (unique, optional).
//  Name           – display name refreshed on every successful sign-in.
//  Username       – external handle refreshed on every successful sign-in.
//  CreatedAt      – timestamp of creation.
//  UpdatedAt      – timestamp of last update.
type User struct {
	ID             string
	TelegramUserID string
	Phone          string
	Name           string
	Username       string
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// Profile carries the mutable fields refreshed on upsert. Empty values leave
// the stored field untouched.
type Profile struct {
	Name     string
	Username string
	Phone    string
}
