package media

import (
	"fmt"
	"time"
)

// ClockTime is a time value in nanoseconds. ClockTimeNone marks an unknown
// time and is distinct from zero.
type ClockTime uint64

// Time units and the unknown sentinel.
const (
	Nanosecond  ClockTime = 1
	Microsecond           = 1000 * Nanosecond
	Millisecond           = 1000 * Microsecond
	Second                = 1000 * Millisecond

	ClockTimeNone ClockTime = ^ClockTime(0)
)

// IsValid reports whether t is a known time.
func (t ClockTime) IsValid() bool { return t != ClockTimeNone }

// Duration converts t to a time.Duration. ClockTimeNone maps to the largest
// representable duration.
func (t ClockTime) Duration() time.Duration {
	if !t.IsValid() || t > ClockTime(1<<63-1) {
		return time.Duration(1<<63 - 1)
	}
	return time.Duration(t)
}

// FromDuration converts a non-negative duration to ClockTime. Negative
// durations clamp to zero.
func FromDuration(d time.Duration) ClockTime {
	if d < 0 {
		return 0
	}
	return ClockTime(d)
}

// Seconds builds a ClockTime from whole seconds.
func Seconds(s int) ClockTime { return ClockTime(s) * Second }

// String formats t as H:MM:SS.nnnnnnnnn, or 99:99:99.999999999 when unknown.
func (t ClockTime) String() string {
	if !t.IsValid() {
		return "99:99:99.999999999"
	}
	h := uint64(t / (3600 * Second))
	m := uint64((t / (60 * Second)) % 60)
	s := uint64((t / Second) % 60)
	ns := uint64(t % Second)
	return fmt.Sprintf("%d:%02d:%02d.%09d", h, m, s, ns)
}

// ClockTimeDiff is a signed difference between two ClockTimes.
type ClockTimeDiff int64

// Diff returns b - a.
func Diff(a, b ClockTime) ClockTimeDiff { return ClockTimeDiff(int64(b) - int64(a)) }
