package authsession

import (
	"errors"
	"fmt"
)

// Kind is the stable, machine-readable failure code surfaced to callers.
type Kind string

const (
	KindInvalidInput     Kind = "invalid_input"
	KindRateLimited      Kind = "rate_limited"
	KindNotFound         Kind = "not_found"
	KindExpired          Kind = "expired"
	KindInvalidCode      Kind = "invalid_code"
	KindDeliveryFailed   Kind = "delivery_failed"
	KindNotReady         Kind = "not_ready"
	KindSignatureInvalid Kind = "signature_invalid"
	KindMisconfigured    Kind = "misconfigured"
	KindInternal         Kind = "internal"
)

// Error pairs a Kind with an optional underlying cause. Only the Kind is ever
// shown to callers; Err is for logs.
type Error struct {
	Kind Kind
	Err  error
}

func (e *Error) Error() string {
	if e.Err == nil {
		return string(e.Kind)
	}
	return fmt.Sprintf("%s: %v", e.Kind, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// Is matches another *Error by Kind, so errors.Is(err, ErrExpired) works.
func (e *Error) Is(target error) bool {
	var t *Error
	if !errors.As(target, &t) {
		return false
	}
	return t.Kind == e.Kind && t.Err == nil
}

// Sentinels for errors.Is checks.
var (
	ErrInvalidInput     = &Error{Kind: KindInvalidInput}
	ErrRateLimited      = &Error{Kind: KindRateLimited}
	ErrNotFound         = &Error{Kind: KindNotFound}
	ErrExpired          = &Error{Kind: KindExpired}
	ErrInvalidCode      = &Error{Kind: KindInvalidCode}
	ErrDeliveryFailed   = &Error{Kind: KindDeliveryFailed}
	ErrNotReady         = &Error{Kind: KindNotReady}
	ErrSignatureInvalid = &Error{Kind: KindSignatureInvalid}
	ErrMisconfigured    = &Error{Kind: KindMisconfigured}
)

func fail(k Kind, err error) error { return &Error{Kind: k, Err: err} }

// KindOf extracts the Kind from err. Unrecognized errors are internal.
func KindOf(err error) Kind {
	if err == nil {
		return ""
	}
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindInternal
}
