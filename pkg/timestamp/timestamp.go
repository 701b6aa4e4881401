// Package timestamp converts between time.Time, Unix milliseconds and
// fractional Unix seconds.
//
// Sample bundles carry int64 milliseconds; beat events carry float64
// seconds since the Unix epoch. A value of 0 means "not set".
package timestamp

import (
	"fmt"
	"math"
	"time"
)

// Now returns the current time as Unix milliseconds.
func Now() int64 {
	return time.Now().UnixMilli()
}

// ToUnixMs converts a time.Time to Unix milliseconds. The zero time maps to 0.
func ToUnixMs(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.UnixMilli()
}

// FromUnixMs converts Unix milliseconds to time.Time. 0 maps to the zero time.
func FromUnixMs(ms int64) time.Time {
	if ms == 0 {
		return time.Time{}
	}
	return time.UnixMilli(ms)
}

// ToUnixSeconds converts a time.Time to fractional Unix seconds with
// microsecond resolution. The zero time maps to 0.
func ToUnixSeconds(t time.Time) float64 {
	if t.IsZero() {
		return 0
	}
	return float64(t.UnixMicro()) / 1e6
}

// FromUnixSeconds converts fractional Unix seconds to time.Time. 0 maps to the zero time.
func FromUnixSeconds(s float64) time.Time {
	if s == 0 {
		return time.Time{}
	}
	return time.UnixMicro(int64(math.Round(s * 1e6)))
}

// Format renders Unix milliseconds as RFC3339 with milliseconds. 0 renders as "".
func Format(ms int64) string {
	if ms == 0 {
		return ""
	}
	return time.UnixMilli(ms).UTC().Format("2006-01-02T15:04:05.000Z07:00")
}

// Between returns end minus start as a duration. Either being 0 yields 0.
func Between(start, end int64) time.Duration {
	if start == 0 || end == 0 {
		return 0
	}
	return time.Duration(end-start) * time.Millisecond
}

// Validate rejects negative timestamps and values past year 3000.
func Validate(ms int64) error {
	if ms < 0 {
		return fmt.Errorf("timestamp cannot be negative: %d", ms)
	}
	if ms > 32503680000000 {
		return fmt.Errorf("timestamp too far in future: %d", ms)
	}
	return nil
}
