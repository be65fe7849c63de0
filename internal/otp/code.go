// Package otp generates numeric one-time codes and stores them as salted,
// memory-hard digests.
package otp

import (
	"crypto/rand"
	"fmt"
	"math/big"
	"regexp"

	"github.com/samber/oops"
)

// CodeLength is the number of decimal digits in a code.
const CodeLength = 6

var (
	codeSpace   = big.NewInt(1_000_000)
	codePattern = regexp.MustCompile(`^\d{6}$`)
)

// Generate returns a uniformly distributed 6-digit code drawn from
// crypto/rand. Leading zeros are kept.
func Generate() (string, error) {
	n, err := rand.Int(rand.Reader, codeSpace)
	if err != nil {
		return "", oops.Code("OTP_RANDOM_FAILED").Wrap(err)
	}
	return fmt.Sprintf("%0*d", CodeLength, n.Int64()), nil
}

// WellFormed reports whether s has the shape of a code.
func WellFormed(s string) bool { return codePattern.MatchString(s) }
