// Package card holds the canonical normalization for card identifiers.
//
// Every component that compares card identifiers (directory construction, scan
// processing, dedup keys) must go through the same Normalizer, otherwise the same
// physical card read with and without a prefix, or with leading zeros, ends up
// as two different people.
package card

import (
	"strings"
	"unicode"
)

// Normalizer canonicalizes raw card identifiers.
type Normalizer struct {
	// DigitsOnly drops every non-digit rune after upper-casing.
	DigitsOnly bool
	// TrimLeadingZeros drops leading '0' runes, keeping a single "0" for all-zero ids.
	TrimLeadingZeros bool
}

// Normalize trims whitespace, upper-cases and applies the optional filters.
// An empty result means the identifier carries no usable value.
func (n Normalizer) Normalize(raw string) string {
	id := strings.ToUpper(strings.TrimSpace(raw))
	if n.DigitsOnly {
		id = strings.Map(func(r rune) rune {
			if unicode.IsDigit(r) {
				return r
			}
			return -1
		}, id)
	}
	if n.TrimLeadingZeros && id != "" {
		trimmed := strings.TrimLeft(id, "0")
		if trimmed == "" {
			trimmed = "0"
		}
		id = trimmed
	}
	return id
}
