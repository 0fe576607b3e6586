package cloudevents

import (
	"time"
)

// TimeFormat is the CloudEvents time format with nanosecond precision.
const TimeFormat = time.RFC3339Nano

// ParseTime parses an RFC3339 timestamp, with or without fractional seconds.
func ParseTime(s string) (time.Time, error) {
	if t, err := time.Parse(TimeFormat, s); err == nil {
		return t, nil
	}
	return time.Parse(time.RFC3339, s)
}

// FormatTime formats a time value for CloudEvents.
func FormatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(TimeFormat)
}
