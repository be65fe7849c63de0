// Package repository persists sessions, users and login events. Sentinel
// values let the session engine distinguish a missing row from a lost race:
// ErrNotFound means no row matched, while ErrStateConflict means a
// conditional update found the row no longer in the expected state (another
// request confirmed or expired it first).
package repository

import "errors"

// ErrNotFound is returned when no row matches the lookup.
var ErrNotFound = errors.New("not found")

// ErrStateConflict is returned when a compare-and-set update affects no
// rows because the session already left the pending state.
var ErrStateConflict = errors.New("state conflict")
