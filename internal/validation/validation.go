// Package validation contains input validation helpers.
package validation

import "unicode"

// IsValidCurrencyCode reports whether code is a three-letter ISO 4217 code.
func IsValidCurrencyCode(code string) bool {
	if len(code) != 3 {
		return false
	}
	for _, ch := range code {
		if ch < 'A' || ch > 'Z' {
			return false
		}
	}
	return true
}

// IsValidReference reports whether a transaction reference is well formed:
// non-empty, at most 128 characters, and limited to letters, digits and the
// separators providers actually use.
func IsValidReference(ref string) bool {
	if ref == "" || len(ref) > 128 {
		return false
	}
	for _, ch := range ref {
		if unicode.IsLetter(ch) || unicode.IsDigit(ch) {
			continue
		}
		switch ch {
		case '-', '_', '.', ':':
			continue
		}
		return false
	}
	return true
}
