package media

import (
	"sync/atomic"

	"github.com/zsiec/mediagraph/caps"
)

// EventType identifies an in-band event.
type EventType int

const (
	EventFlushStart EventType = iota + 1
	EventFlushStop
	EventStreamStart
	EventCaps
	EventSegment
	EventTag
	EventSegmentDone
	EventEOS
	EventSeek
)

func (t EventType) String() string {
	switch t {
	case EventFlushStart:
		return "flush-start"
	case EventFlushStop:
		return "flush-stop"
	case EventStreamStart:
		return "stream-start"
	case EventCaps:
		return "caps"
	case EventSegment:
		return "segment"
	case EventTag:
		return "tag"
	case EventSegmentDone:
		return "segment-done"
	case EventEOS:
		return "eos"
	case EventSeek:
		return "seek"
	default:
		return "unknown"
	}
}

// IsUpstream reports whether the event travels against the data flow.
func (t EventType) IsUpstream() bool {
	return t == EventSeek || t == EventFlushStart || t == EventFlushStop
}

// IsDownstream reports whether the event travels with the data flow.
func (t EventType) IsDownstream() bool { return t != EventSeek }

// IsSerialized reports whether the event is ordered with buffers on a link.
// Flush-start and seek are delivered out of band.
func (t EventType) IsSerialized() bool {
	return t != EventFlushStart && t != EventSeek
}

// IsSticky reports whether the event is retained on a pad and replayed to
// peers linked later.
func (t EventType) IsSticky() bool { return t.StickyOrder() > 0 }

// StickyOrder is the position of a sticky event in replay order, or 0 for
// non-sticky events.
func (t EventType) StickyOrder() int {
	switch t {
	case EventStreamStart:
		return 1
	case EventCaps:
		return 2
	case EventSegment:
		return 3
	case EventTag:
		return 4
	case EventEOS:
		return 5
	}
	return 0
}

var seqnum atomic.Uint32

// NextSeqnum returns a sequence number used to correlate an event with the
// messages and events it causes. Numbers are unique across the process
// rather than per pipeline, so an element that is moved to another pipeline
// never mistakes a new seek for the last one it handled.
func NextSeqnum() uint32 { return seqnum.Add(1) }

// Event is an in-band control signal. Only the fields that belong to Type
// are set.
type Event struct {
	Type   EventType
	Seqnum uint32

	StreamID  string
	Caps      *caps.Caps
	Segment   *Segment
	Tags      TagList
	ResetTime bool
	Seek      *SeekParams
	Position  ClockTime
}

func newEvent(t EventType) *Event {
	return &Event{Type: t, Seqnum: NextSeqnum(), Position: ClockTimeNone}
}

// NewFlushStartEvent starts a flush: pads refuse data until flush-stop.
func NewFlushStartEvent() *Event { return newEvent(EventFlushStart) }

// NewFlushStopEvent ends a flush. With resetTime the pipeline restarts its
// running time at zero.
func NewFlushStopEvent(resetTime bool) *Event {
	e := newEvent(EventFlushStop)
	e.ResetTime = resetTime
	return e
}

// NewStreamStartEvent announces a new stream.
func NewStreamStartEvent(streamID string) *Event {
	e := newEvent(EventStreamStart)
	e.StreamID = streamID
	return e
}

// NewCapsEvent announces the fixed format of the buffers that follow.
func NewCapsEvent(c *caps.Caps) *Event {
	e := newEvent(EventCaps)
	e.Caps = c
	return e
}

// NewSegmentEvent announces the time base of the buffers that follow.
func NewSegmentEvent(s Segment) *Event {
	e := newEvent(EventSegment)
	e.Segment = &s
	return e
}

// NewTagEvent carries stream metadata.
func NewTagEvent(tags TagList) *Event {
	e := newEvent(EventTag)
	e.Tags = tags
	return e
}

// NewSegmentDoneEvent marks the end of a segment seek.
func NewSegmentDoneEvent(position ClockTime) *Event {
	e := newEvent(EventSegmentDone)
	e.Position = position
	return e
}

// NewEOSEvent marks the end of the stream.
func NewEOSEvent() *Event { return newEvent(EventEOS) }

// NewSeekEvent requests a reposition.
func NewSeekEvent(p SeekParams) *Event {
	e := newEvent(EventSeek)
	e.Seek = &p
	return e
}

// WithSeqnum sets the sequence number, linking e to the event that caused
// it, and returns e.
func (e *Event) WithSeqnum(n uint32) *Event {
	e.Seqnum = n
	return e
}

// Copy returns a shallow copy of e.
func (e *Event) Copy() *Event {
	ne := *e
	return &ne
}
