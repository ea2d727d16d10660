// Package timeutil holds the timestamp arithmetic used by the estimators.
// Timestamps are unsigned nanoseconds; elapsed time is a signed time.Duration,
// so the difference of two timestamps can be negative.
package timeutil

import "time"

// Timestamp is nanoseconds since an arbitrary epoch (Unix epoch for live data).
type Timestamp uint64

// Year is the 365-day year used to annualize volatility.
const Year = 365 * 24 * time.Hour

// AsDuration reinterprets ts as elapsed nanoseconds since the epoch.
func AsDuration(ts Timestamp) time.Duration {
	return time.Duration(ts)
}

// AddTime offsets ts by d.
func AddTime(ts Timestamp, d time.Duration) Timestamp {
	return Timestamp(AsDuration(ts) + d)
}

// DiffTimes returns a - b.
func DiffTimes(a, b Timestamp) time.Duration {
	return AsDuration(a) - AsDuration(b)
}

// FloorTime rounds ts down to a multiple of d. d must be positive.
func FloorTime(ts Timestamp, d time.Duration) Timestamp {
	return Timestamp(AsDuration(ts) / d * d)
}

// FromTime converts a wall-clock time to a Timestamp.
func FromTime(t time.Time) Timestamp {
	return Timestamp(t.UnixNano())
}

// Time converts ts back to a UTC wall-clock time.
func (ts Timestamp) Time() time.Time {
	return time.Unix(0, int64(ts)).UTC()
}

// Seconds builds a Timestamp n seconds after the epoch. Mostly for tests and fixtures.
func Seconds(n int64) Timestamp {
	return Timestamp(time.Duration(n) * time.Second)
}
