package authsession

import (
	"regexp"
	"strings"
)

var e164 = regexp.MustCompile(`^\+\d{8,15}$`)

// ValidPhone reports whether s is an E.164 number: '+' then 8 to 15 digits.
func ValidPhone(s string) bool { return e164.MatchString(s) }

// NormalizeContactPhone prepares a phone shared from a messenger contact
// card, which may omit the leading '+' or carry spaces and dashes.
func NormalizeContactPhone(s string) string {
	s = strings.Map(func(r rune) rune {
		switch r {
		case ' ', '-', '(', ')':
			return -1
		}
		return r
	}, strings.TrimSpace(s))
	if s != "" && !strings.HasPrefix(s, "+") {
		s = "+" + s
	}
	return s
}
