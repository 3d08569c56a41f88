package media

import "fmt"

// SegmentFlags annotate a Segment.
type SegmentFlags uint32

const (
	// SegmentReset marks a segment produced by a flushing seek; running time
	// restarts at zero.
	SegmentReset SegmentFlags = 1 << iota
	// SegmentNoEOS marks a segment seek: the producer posts segment-done
	// instead of EOS when it reaches Stop.
	SegmentNoEOS
	// SegmentSkip marks a segment that may drop data to reach Start fast.
	SegmentSkip
)

// Segment describes the time base of the buffers that follow it on a link:
// which part of the stream is being played and how stream timestamps map to
// running time.
type Segment struct {
	Flags    SegmentFlags
	Rate     float64
	Format   Format
	Base     ClockTime
	Start    ClockTime
	Stop     ClockTime
	Time     ClockTime
	Position ClockTime
	Duration ClockTime
}

// NewSegment returns an open-ended time segment starting at zero.
func NewSegment() Segment {
	return Segment{
		Rate:     1.0,
		Format:   FormatTime,
		Stop:     ClockTimeNone,
		Duration: ClockTimeNone,
	}
}

// Contains reports whether pos falls inside [Start, Stop).
func (s *Segment) Contains(pos ClockTime) bool {
	if !pos.IsValid() || pos < s.Start {
		return false
	}
	return !s.Stop.IsValid() || pos < s.Stop
}

// ToRunningTime maps a stream position to running time, or ClockTimeNone
// when pos lies outside the segment.
func (s *Segment) ToRunningTime(pos ClockTime) ClockTime {
	if !pos.IsValid() || pos < s.Start {
		return ClockTimeNone
	}
	if s.Stop.IsValid() && pos > s.Stop {
		return ClockTimeNone
	}
	d := pos - s.Start
	rate := s.Rate
	if rate < 0 {
		rate = -rate
	}
	if rate != 0 && rate != 1 {
		d = ClockTime(float64(d) / rate)
	}
	return d + s.Base
}

// ToStreamTime maps a stream position to stream time.
func (s *Segment) ToStreamTime(pos ClockTime) ClockTime {
	if !pos.IsValid() || pos < s.Start {
		return ClockTimeNone
	}
	return pos - s.Start + s.Time
}

func (s Segment) String() string {
	return fmt.Sprintf("segment rate=%g format=%s base=%s start=%s stop=%s time=%s",
		s.Rate, s.Format, s.Base, s.Start, s.Stop, s.Time)
}
