// Package durationfmt converts between human-readable clip durations
// ("H:MM:SS", "M:SS", bare seconds) and numeric seconds.
//
// Parsing never fails the caller: malformed text degrades to zero so a single
// bad catalog row cannot stop a batch. Callers that want to report the
// problem use ParseStrict, which returns the same degraded value alongside
// the reason.
package durationfmt

import (
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"
)

// ErrMalformed marks duration text that could not be interpreted.
var ErrMalformed = errors.New("malformed duration")

// Parse returns the number of seconds represented by text, or 0 when the
// text is malformed.
func Parse(text string) float64 {
	seconds, _ := ParseStrict(text)
	return seconds
}

// ParseStrict behaves like Parse but also reports why text was rejected.
// The returned seconds are always 0 when err is non-nil.
//
// Text without a colon is read as seconds and may carry a fraction, so a
// feed cell of "12.5" is 12.5s rather than being rejected. Colon fields must
// be whole numbers.
func ParseStrict(text string) (float64, error) {
	trimmed := strings.TrimSpace(text)
	if trimmed == "" {
		return 0, fmt.Errorf("%w: empty value", ErrMalformed)
	}

	if !strings.Contains(trimmed, ":") {
		value, err := strconv.ParseFloat(trimmed, 64)
		if err != nil || math.IsNaN(value) || math.IsInf(value, 0) {
			return 0, fmt.Errorf("%w: %q is not a number", ErrMalformed, text)
		}
		return value, nil
	}

	parts := strings.Split(trimmed, ":")
	if len(parts) > 3 {
		return 0, fmt.Errorf("%w: %q has %d fields", ErrMalformed, text, len(parts))
	}
	fields := make([]int, len(parts))
	for i, part := range parts {
		n, err := strconv.Atoi(strings.TrimSpace(part))
		if err != nil {
			return 0, fmt.Errorf("%w: field %q in %q", ErrMalformed, part, text)
		}
		fields[i] = n
	}

	var total int
	for _, n := range fields {
		total = total*60 + n
	}
	return float64(total), nil
}

// ParseValue accepts values decoded from tabular feeds. Numbers are already
// seconds; strings go through Parse; anything else is 0.
func ParseValue(v any) float64 {
	switch value := v.(type) {
	case nil:
		return 0
	case float64:
		return value
	case float32:
		return float64(value)
	case int:
		return float64(value)
	case int64:
		return float64(value)
	case int32:
		return float64(value)
	case uint:
		return float64(value)
	case uint64:
		return float64(value)
	case string:
		return Parse(value)
	case []byte:
		return Parse(string(value))
	case fmt.Stringer:
		return Parse(value.String())
	default:
		return 0
	}
}

// Format renders seconds as "M:SS", truncating fractional seconds toward
// zero. Minutes are not wrapped into hours.
func Format(seconds float64) string {
	total, negative := wholeSeconds(seconds)
	out := fmt.Sprintf("%d:%02d", total/60, total%60)
	if negative {
		return "-" + out
	}
	return out
}

// FormatClock renders seconds as "MM:SS" with zero-padded minutes, the form
// used in result tables.
func FormatClock(seconds float64) string {
	total, negative := wholeSeconds(seconds)
	out := fmt.Sprintf("%02d:%02d", total/60, total%60)
	if negative {
		return "-" + out
	}
	return out
}

func wholeSeconds(seconds float64) (int64, bool) {
	if math.IsNaN(seconds) || math.IsInf(seconds, 0) {
		return 0, false
	}
	total := int64(math.Trunc(seconds))
	if total < 0 {
		return -total, true
	}
	return total, false
}
