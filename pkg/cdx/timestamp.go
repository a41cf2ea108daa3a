package cdx

import (
	"fmt"
	"strings"
	"time"
)

const (
	// TimestampLayout is the 14-digit form used in index keys.
	TimestampLayout = "20060102150405"

	// ISOLayout is the form used in page lists and WARC headers.
	ISOLayout = "2006-01-02T15:04:05Z"
)

// Timestamp renders t as a 14-digit UTC timestamp.
func Timestamp(t time.Time) string {
	return t.UTC().Format(TimestampLayout)
}

// ParseTimestamp accepts a 14-digit timestamp or an ISO-8601 time with
// optional fractional seconds and zone.
func ParseTimestamp(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	if isDigits(s) {
		if len(s) > len(TimestampLayout) {
			s = s[:len(TimestampLayout)]
		}
		// Short forms such as "2020" or "202010" are padded with the
		// earliest value of each missing field.
		if len(s) < len(TimestampLayout) {
			s += "00000101000000"[len(s):]
		}
		t, err := time.Parse(TimestampLayout, s)
		if err != nil {
			return time.Time{}, fmt.Errorf("invalid timestamp %q: %w", s, err)
		}
		return t, nil
	}
	for _, layout := range []string{time.RFC3339Nano, "2006-01-02T15:04:05.999999999", "2006-01-02T15:04:05"} {
		if t, err := time.Parse(layout, s); err == nil {
			return t.UTC(), nil
		}
	}
	return time.Time{}, fmt.Errorf("invalid timestamp %q", s)
}

// TimestampFromISO converts an ISO-8601 or 14-digit time to its 14-digit
// form.
func TimestampFromISO(s string) (string, error) {
	t, err := ParseTimestamp(s)
	if err != nil {
		return "", err
	}
	return Timestamp(t), nil
}

// ISOFromTimestamp converts a 14-digit or ISO time to
// 2006-01-02T15:04:05Z.
func ISOFromTimestamp(ts string) (string, error) {
	t, err := ParseTimestamp(ts)
	if err != nil {
		return "", err
	}
	return t.UTC().Format(ISOLayout), nil
}

func isDigits(s string) bool {
	if s == "" {
		return false
	}
	for i := 0; i < len(s); i++ {
		if s[i] < '0' || s[i] > '9' {
			return false
		}
	}
	return true
}
