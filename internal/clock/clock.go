// Package clock supplies wall-clock time to the data layer.
//
// Stored timestamps are integer unix microseconds, so every time handed out
// here is UTC and already truncated to the microsecond. A value read back from
// the database is then identical to the value written.
package clock

import "time"

// Clock returns the current time.
type Clock interface {
	Now() time.Time
}

// System is the real clock.
type System struct{}

// Now returns time.Now in UTC, truncated to microseconds.
func (System) Now() time.Time {
	return Normalize(time.Now())
}

// Func adapts a function to Clock.
type Func func() time.Time

// Now calls f and normalizes the result.
func (f Func) Now() time.Time {
	return Normalize(f())
}

// Normalize converts t to UTC with microsecond precision.
func Normalize(t time.Time) time.Time {
	return t.UTC().Truncate(time.Microsecond)
}

// FromMicros converts stored unix microseconds to a time.
func FromMicros(us int64) time.Time {
	return time.UnixMicro(us).UTC()
}
