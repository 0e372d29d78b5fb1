// Package rut validates Chilean national identification numbers (RUT/RUN).
//
// A RUT is a numeric body followed by a check character computed with a
// weighted modulo-11 sum. Stored values are normalized: separators removed and
// the check character uppercased, e.g. "12.345.678-5" becomes "123456785".
package rut

import (
	"strings"

	"github.com/ehr/imaging/internal/platform/apperr"
)

// MinLength is the shortest normalized RUT accepted, check character included.
const MinLength = 8

// Normalize strips dots, dashes and surrounding spaces and uppercases the
// check character. It does not validate.
func Normalize(raw string) string {
	r := strings.NewReplacer(".", "", "-", "", " ", "")
	return strings.ToUpper(r.Replace(strings.TrimSpace(raw)))
}

// CheckDigit computes the check character for a numeric body. Weights 2..7
// cycle from the rightmost digit. ok is false when body is empty or has a
// non-digit.
func CheckDigit(body string) (check byte, ok bool) {
	if body == "" {
		return 0, false
	}
	sum, weight := 0, 2
	for i := len(body) - 1; i >= 0; i-- {
		d := body[i]
		if d < '0' || d > '9' {
			return 0, false
		}
		sum += int(d-'0') * weight
		weight++
		if weight == 8 {
			weight = 2
		}
	}
	switch v := 11 - sum%11; v {
	case 11:
		return '0', true
	case 10:
		return 'K', true
	default:
		return byte('0' + v), true
	}
}

// Valid reports whether raw is a well-formed RUT with a matching check character.
func Valid(raw string) bool {
	n := Normalize(raw)
	if len(n) < MinLength {
		return false
	}
	want, ok := CheckDigit(n[:len(n)-1])
	return ok && want == n[len(n)-1]
}

// Parse normalizes raw and returns it, or a validation error.
func Parse(raw string) (string, error) {
	if !Valid(raw) {
		return "", apperr.Validation("invalid RUT %q", raw)
	}
	return Normalize(raw), nil
}

// Format renders a RUT as "body-check", e.g. "12345678-5".
func Format(raw string) string {
	n := Normalize(raw)
	if len(n) < 2 {
		return n
	}
	return n[:len(n)-1] + "-" + n[len(n)-1:]
}
