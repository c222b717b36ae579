// Package timestamp normalizes the ISO-8601 variants produced by action
// events into absolute UTC times.
//
// Accepted shape: YYYY-MM-DDTHH:MM:SS[.f{0,6}](Z|±HH:MM). The fraction is a
// prefix of a microsecond value and is right-padded to six digits before
// parsing; "Z" is an alias for "+00:00".
package timestamp

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

const (
	// canonicalLayout is the single layout every accepted input is rewritten into.
	canonicalLayout = "2006-01-02T15:04:05.000000-07:00"

	dateTimeLen  = len("2006-01-02T15:04:05")
	offsetLen    = len("+00:00")
	maxFraction  = 6
	utcOffset    = "+00:00"
	fractionMark = '.'
)

// ErrParse is returned when text cannot be interpreted as a timestamp.
var ErrParse = errors.New("unparseable timestamp")

// Parse converts text into an absolute time in UTC.
func Parse(text string) (time.Time, error) {
	normalized, err := Normalize(text)
	if err != nil {
		return time.Time{}, err
	}
	t, err := time.Parse(canonicalLayout, normalized)
	if err != nil {
		return time.Time{}, fmt.Errorf("%w: %q: %v", ErrParse, text, err)
	}
	return t.UTC(), nil
}

// Normalize rewrites text into the canonical microsecond layout without
// interpreting the calendar fields.
func Normalize(text string) (string, error) {
	s := text
	if strings.HasSuffix(s, "Z") {
		s = strings.TrimSuffix(s, "Z") + utcOffset
	}
	if len(s) < dateTimeLen+offsetLen {
		return "", fmt.Errorf("%w: %q: too short", ErrParse, text)
	}

	offset := s[len(s)-offsetLen:]
	if !validOffset(offset) {
		return "", fmt.Errorf("%w: %q: missing or malformed utc offset", ErrParse, text)
	}
	body := s[:len(s)-offsetLen]
	if len(body) < dateTimeLen {
		return "", fmt.Errorf("%w: %q: too short", ErrParse, text)
	}
	if body[10] != 'T' {
		return "", fmt.Errorf("%w: %q: date and time must be separated by 'T'", ErrParse, text)
	}

	dateTime, fraction := body[:dateTimeLen], body[dateTimeLen:]
	if fraction != "" {
		if fraction[0] != fractionMark {
			return "", fmt.Errorf("%w: %q: unexpected %q after seconds", ErrParse, text, fraction)
		}
		fraction = fraction[1:]
	}
	if len(fraction) > maxFraction {
		return "", fmt.Errorf("%w: %q: more than %d fractional digits", ErrParse, text, maxFraction)
	}
	if !allDigits(fraction) {
		return "", fmt.Errorf("%w: %q: fractional seconds must be digits", ErrParse, text)
	}
	fraction += strings.Repeat("0", maxFraction-len(fraction))

	return dateTime + string(fractionMark) + fraction + offset, nil
}

func validOffset(o string) bool {
	if len(o) != offsetLen || (o[0] != '+' && o[0] != '-') || o[3] != ':' {
		return false
	}
	return allDigits(o[1:3]) && allDigits(o[4:])
}

func allDigits(s string) bool {
	for i := 0; i < len(s); i++ {
		if s[i] < '0' || s[i] > '9' {
			return false
		}
	}
	return true
}
