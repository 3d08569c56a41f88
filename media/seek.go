package media

import "strings"

// SeekFlags modify how a seek is performed.
type SeekFlags uint32

const (
	SeekFlagNone SeekFlags = 0
	// SeekFlagFlush discards in-flight data before repositioning.
	SeekFlagFlush SeekFlags = 1 << (iota - 1)
	// SeekFlagAccurate demands exact positioning.
	SeekFlagAccurate
	// SeekFlagKeyUnit allows snapping to the nearest key unit at or before
	// the target.
	SeekFlagKeyUnit
	// SeekFlagSegment posts segment-done at the end of the segment instead
	// of EOS.
	SeekFlagSegment
)

// Has reports whether all of f are set.
func (s SeekFlags) Has(f SeekFlags) bool { return s&f == f }

func (s SeekFlags) String() string {
	if s == SeekFlagNone {
		return "none"
	}
	var parts []string
	for _, f := range []struct {
		flag SeekFlags
		name string
	}{
		{SeekFlagFlush, "flush"},
		{SeekFlagAccurate, "accurate"},
		{SeekFlagKeyUnit, "key-unit"},
		{SeekFlagSegment, "segment"},
	} {
		if s.Has(f.flag) {
			parts = append(parts, f.name)
		}
	}
	return strings.Join(parts, "+")
}

// SeekType says how a seek position is interpreted.
type SeekType int

const (
	// SeekTypeNone leaves the position unchanged.
	SeekTypeNone SeekType = iota
	// SeekTypeSet is an absolute position.
	SeekTypeSet
	// SeekTypeEnd is relative to the end of the stream.
	SeekTypeEnd
)

// SeekParams carries a seek request through the graph.
type SeekParams struct {
	Rate      float64
	Format    Format
	Flags     SeekFlags
	StartType SeekType
	Start     int64
	StopType  SeekType
	Stop      int64
}
