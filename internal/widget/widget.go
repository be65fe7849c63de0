// Package widget verifies login-widget assertions: flat key/value payloads
// signed with HMAC-SHA-256 under a key derived from the bot credential.
package widget

import (
	"bytes"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"time"
)

// MaxAge is the default freshness window for auth_date.
const MaxAge = 60 * time.Second

const (
	fieldHash     = "hash"
	fieldID       = "id"
	fieldAuthDate = "auth_date"
)

var hexKeyPattern = regexp.MustCompile(`^[0-9a-fA-F]{64}$`)

// ErrMalformed is returned by ParsePayload for bodies that are not a flat
// JSON object.
var ErrMalformed = errors.New("malformed widget payload")

// Payload is an assertion as received: every field rendered to the string
// form that enters the data-check string.
type Payload map[string]string

// ParsePayload decodes a flat JSON object. Numbers keep their literal
// spelling so that large ids survive unchanged; nulls are dropped.
func ParsePayload(data []byte) (Payload, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()

	var raw map[string]any
	if err := dec.Decode(&raw); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	if raw == nil {
		return nil, ErrMalformed
	}

	p := make(Payload, len(raw))
	for k, v := range raw {
		switch t := v.(type) {
		case nil:
			continue
		case string:
			p[k] = t
		case json.Number:
			p[k] = t.String()
		case bool:
			p[k] = strconv.FormatBool(t)
		default:
			return nil, fmt.Errorf("%w: field %q is not a scalar", ErrMalformed, k)
		}
	}
	return p, nil
}

// ID returns the numeric identity carried by the assertion.
func (p Payload) ID() (int64, bool) { return p.int(fieldID) }

// AuthDate returns the issue timestamp (unix seconds).
func (p Payload) AuthDate() (int64, bool) { return p.int(fieldAuthDate) }

// Username returns the external handle, if any.
func (p Payload) Username() string { return p["username"] }

// DisplayName joins first and last name.
func (p Payload) DisplayName() string {
	return strings.TrimSpace(p["first_name"] + " " + p["last_name"])
}

func (p Payload) int(key string) (int64, bool) {
	v, ok := p[key]
	if !ok {
		return 0, false
	}
	n, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		return 0, false
	}
	return n, true
}

// DataCheckString renders every field but hash as key=value lines sorted by
// key and joined with a newline.
func DataCheckString(p Payload) string {
	keys := make([]string, 0, len(p))
	for k := range p {
		if k == fieldHash {
			continue
		}
		keys = append(keys, k)
	}
	sort.Strings(keys)

	lines := make([]string, len(keys))
	for i, k := range keys {
		lines[i] = k + "=" + p[k]
	}
	return strings.Join(lines, "\n")
}

// DeriveKey turns the shared secret into the HMAC key: PEM-style credentials
// are used verbatim, a 64-character hex string is decoded to raw bytes, and
// anything else is hashed with SHA-256.
func DeriveKey(secret string) []byte {
	if strings.HasPrefix(secret, "-----") {
		return []byte(secret)
	}
	if hexKeyPattern.MatchString(secret) {
		if b, err := hex.DecodeString(secret); err == nil {
			return b
		}
	}
	sum := sha256.Sum256([]byte(secret))
	return sum[:]
}

// Sign returns the hex HMAC of p's data-check string under key.
func Sign(p Payload, key []byte) string {
	mac := hmac.New(sha256.New, key)
	mac.Write([]byte(DataCheckString(p)))
	return hex.EncodeToString(mac.Sum(nil))
}

// Verifier checks assertions against one shared secret.
type Verifier struct {
	key    []byte
	maxAge time.Duration
}

// NewVerifier derives the key once. maxAge <= 0 selects MaxAge.
func NewVerifier(secret string, maxAge time.Duration) *Verifier {
	if maxAge <= 0 {
		maxAge = MaxAge
	}
	return &Verifier{key: DeriveKey(secret), maxAge: maxAge}
}

// Verify reports whether p carries a valid signature and an auth_date within
// the freshness window of now, in either direction. Missing hash, id or
// auth_date is a rejection.
func (v *Verifier) Verify(p Payload, now time.Time) bool {
	received, ok := p[fieldHash]
	if !ok || received == "" {
		return false
	}
	if _, ok := p.ID(); !ok {
		return false
	}
	authDate, ok := p.AuthDate()
	if !ok {
		return false
	}

	expected := Sign(p, v.key)
	if !hmac.Equal([]byte(expected), []byte(strings.ToLower(received))) {
		return false
	}

	age := now.Sub(time.Unix(authDate, 0))
	if age < 0 {
		age = -age
	}
	return age <= v.maxAge
}
