package media

// Format selects the unit of a position, duration or seek value.
type Format int

const (
	FormatUndefined Format = iota
	// FormatDefault counts buffers (frames or samples, depending on media).
	FormatDefault
	FormatBytes
	// FormatTime is nanoseconds.
	FormatTime
	// FormatPercent is 0..PercentMax.
	FormatPercent
)

// PercentMax is 100% in FormatPercent units.
const PercentMax = 1_000_000

func (f Format) String() string {
	switch f {
	case FormatDefault:
		return "default"
	case FormatBytes:
		return "bytes"
	case FormatTime:
		return "time"
	case FormatPercent:
		return "percent"
	default:
		return "undefined"
	}
}
