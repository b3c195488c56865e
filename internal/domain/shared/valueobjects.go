package shared

import (
	"strings"
	"unicode"
)

// ═══════════════════════════════════════════════════════════════════════════
// Identity Value Objects
// ═══════════════════════════════════════════════════════════════════════════

// Phone is the messaging identity of a student. It holds digits only.
type Phone string

// IsValid checks that the phone has a plausible number of digits.
func (p Phone) IsValid() bool {
	s := string(p)
	if len(s) < 8 || len(s) > 15 {
		return false
	}
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}

// String returns the string representation.
func (p Phone) String() string {
	return string(p)
}

// NewPhone extracts the digits of raw and validates the result.
// Gateways deliver identities like "+55 (11) 98765-4321" or "5511987654321@c.us".
func NewPhone(raw string) (Phone, error) {
	if at := strings.IndexByte(raw, '@'); at >= 0 {
		raw = raw[:at]
	}
	var b strings.Builder
	for _, r := range raw {
		if unicode.IsDigit(r) {
			b.WriteRune(r)
		}
	}
	p := Phone(b.String())
	if !p.IsValid() {
		return "", ErrInvalidPhone
	}
	return p, nil
}
