package otp

import (
	"crypto/rand"
	"crypto/subtle"
	"encoding/base64"
	"fmt"
	"strings"

	"github.com/samber/oops"
	"golang.org/x/crypto/argon2"
)

// Argon2id parameters. A 6-digit space has only 1,000,000 candidates, so the
// digest must be expensive to brute force offline while a single verify stays
// interactive.
const (
	argon2Time    = 2
	argon2Memory  = 15 * 1024 // KiB
	argon2Threads = 1
	argon2SaltLen = 16
	argon2KeyLen  = 32
)

// maxVerifyMemory bounds the memory cost accepted from a stored digest.
const maxVerifyMemory = 256 * 1024

// Hash returns a PHC-formatted argon2id digest of code:
// $argon2id$v=19$m=15360,t=2,p=1$<salt>$<hash>
func Hash(code string) (string, error) {
	if code == "" {
		return "", oops.Code("OTP_EMPTY_CODE").Errorf("code cannot be empty")
	}

	salt := make([]byte, argon2SaltLen)
	if _, err := rand.Read(salt); err != nil {
		return "", oops.Code("OTP_SALT_FAILED").Wrap(err)
	}

	key := argon2.IDKey([]byte(code), salt, argon2Time, argon2Memory, argon2Threads, argon2KeyLen)

	return fmt.Sprintf(
		"$argon2id$v=%d$m=%d,t=%d,p=%d$%s$%s",
		argon2.Version,
		argon2Memory,
		argon2Time,
		argon2Threads,
		base64.RawStdEncoding.EncodeToString(salt),
		base64.RawStdEncoding.EncodeToString(key),
	), nil
}

// Verify recomputes the digest of candidate with the parameters embedded in
// digest and compares in constant time. A malformed digest is a mismatch.
func Verify(digest, candidate string) bool {
	parts := strings.Split(digest, "$")
	if len(parts) != 6 || parts[1] != "argon2id" {
		return false
	}

	var version int
	if _, err := fmt.Sscanf(parts[2], "v=%d", &version); err != nil || version != argon2.Version {
		return false
	}

	var memory, iterations, threads uint32
	if _, err := fmt.Sscanf(parts[3], "m=%d,t=%d,p=%d", &memory, &iterations, &threads); err != nil {
		return false
	}
	if memory == 0 || memory > maxVerifyMemory || iterations == 0 || iterations > 16 || threads == 0 || threads > 255 {
		return false
	}

	salt, err := base64.RawStdEncoding.DecodeString(parts[4])
	if err != nil || len(salt) == 0 {
		return false
	}
	expected, err := base64.RawStdEncoding.DecodeString(parts[5])
	if err != nil || len(expected) == 0 || len(expected) > 1024 {
		return false
	}

	computed := argon2.IDKey([]byte(candidate), salt, iterations, memory, uint8(threads), uint32(len(expected)))
	return subtle.ConstantTimeCompare(computed, expected) == 1
}
