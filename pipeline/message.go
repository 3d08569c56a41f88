package pipeline

import (
	"fmt"
	"strings"
	"time"

	"github.com/zsiec/mediagraph/caps"
	"github.com/zsiec/mediagraph/media"
)

// MessageType is a bit in a message mask.
type MessageType uint32

const (
	MessageEOS MessageType = 1 << iota
	MessageError
	MessageWarning
	MessageInfo
	MessageTag
	MessageStateChanged
	MessageDurationChanged
	MessageAsyncDone
	MessageStreamStatus
	MessageSegmentDone
	MessageStreamStart
	MessageElement
	messageResetTime

	MessageUnknown MessageType = 0
	// MessageAny matches every public message type.
	MessageAny MessageType = messageResetTime - 1
)

var messageNames = []struct {
	t    MessageType
	name string
}{
	{MessageEOS, "eos"},
	{MessageError, "error"},
	{MessageWarning, "warning"},
	{MessageInfo, "info"},
	{MessageTag, "tag"},
	{MessageStateChanged, "state-changed"},
	{MessageDurationChanged, "duration-changed"},
	{MessageAsyncDone, "async-done"},
	{MessageStreamStatus, "stream-status"},
	{MessageSegmentDone, "segment-done"},
	{MessageStreamStart, "stream-start"},
	{MessageElement, "element"},
	{messageResetTime, "reset-time"},
}

func (t MessageType) String() string {
	var parts []string
	for _, n := range messageNames {
		if t&n.t != 0 {
			parts = append(parts, n.name)
		}
	}
	if len(parts) == 0 {
		return "unknown"
	}
	return strings.Join(parts, "+")
}

// StreamStatus reports a streaming thread lifecycle event.
type StreamStatus int

const (
	StreamStatusCreate StreamStatus = iota
	StreamStatusEnter
	StreamStatusLeave
	StreamStatusDestroy
)

func (s StreamStatus) String() string {
	switch s {
	case StreamStatusCreate:
		return "create"
	case StreamStatusEnter:
		return "enter"
	case StreamStatusLeave:
		return "leave"
	case StreamStatusDestroy:
		return "destroy"
	default:
		return "unknown"
	}
}

// Message is a control-plane notification delivered on a Bus. Only the
// fields belonging to Type are set.
type Message struct {
	Type   MessageType
	Source *Element
	// Seqnum is assigned by the bus in posting order.
	Seqnum    uint64
	Timestamp time.Time

	Err   error
	Debug string

	OldState     State
	NewState     State
	PendingState State

	Tags      media.TagList
	Format    media.Format
	Position  int64
	Status    StreamStatus
	Structure *caps.Structure

	// EventSeqnum links the message to the event that caused it.
	EventSeqnum uint32
}

func newMessage(t MessageType, src *Element) *Message {
	return &Message{Type: t, Source: src, Timestamp: time.Now()}
}

// SourceName returns the name of the posting element, or "" when unknown.
func (m *Message) SourceName() string {
	if m.Source == nil {
		return ""
	}
	return m.Source.Name()
}

func (m *Message) String() string {
	switch m.Type {
	case MessageError, MessageWarning, MessageInfo:
		return fmt.Sprintf("%s from %s: %v", m.Type, m.SourceName(), m.Err)
	case MessageStateChanged:
		return fmt.Sprintf("state-changed from %s: %s -> %s (pending %s)",
			m.SourceName(), m.OldState, m.NewState, m.PendingState)
	}
	return fmt.Sprintf("%s from %s", m.Type, m.SourceName())
}

// NewErrorMessage reports a fatal error. err is wrapped in an ElementError
// of the given domain unless it already is one.
func NewErrorMessage(src *Element, domain ErrorDomain, err error, debug string) *Message {
	return newErrorLike(MessageError, src, domain, err, debug)
}

// NewWarningMessage reports a recoverable problem.
func NewWarningMessage(src *Element, domain ErrorDomain, err error, debug string) *Message {
	return newErrorLike(MessageWarning, src, domain, err, debug)
}

// NewInfoMessage reports something worth telling the application.
func NewInfoMessage(src *Element, domain ErrorDomain, err error, debug string) *Message {
	return newErrorLike(MessageInfo, src, domain, err, debug)
}

func newErrorLike(t MessageType, src *Element, domain ErrorDomain, err error, debug string) *Message {
	m := newMessage(t, src)
	if _, ok := err.(*ElementError); !ok {
		name := ""
		if src != nil {
			name = src.Name()
		}
		err = &ElementError{Element: name, Domain: domain, Err: err, Debug: debug}
	}
	m.Err = err
	m.Debug = debug
	return m
}

// NewEOSMessage reports that src (a sink or a bin of sinks) finished.
func NewEOSMessage(src *Element) *Message { return newMessage(MessageEOS, src) }

// NewStateChangedMessage reports a committed state step.
func NewStateChangedMessage(src *Element, old, cur, pending State) *Message {
	m := newMessage(MessageStateChanged, src)
	m.OldState, m.NewState, m.PendingState = old, cur, pending
	return m
}

// NewDurationChangedMessage tells the application to query the duration
// again.
func NewDurationChangedMessage(src *Element) *Message {
	return newMessage(MessageDurationChanged, src)
}

// NewAsyncDoneMessage reports completion of an asynchronous transition.
func NewAsyncDoneMessage(src *Element) *Message { return newMessage(MessageAsyncDone, src) }

// NewTagMessage carries stream metadata found by src.
func NewTagMessage(src *Element, tags media.TagList) *Message {
	m := newMessage(MessageTag, src)
	m.Tags = tags
	return m
}

// NewSegmentDoneMessage reports the end of a segment seek.
func NewSegmentDoneMessage(src *Element, format media.Format, position int64) *Message {
	m := newMessage(MessageSegmentDone, src)
	m.Format, m.Position = format, position
	return m
}

// NewStreamStatusMessage reports a streaming thread lifecycle event.
func NewStreamStatusMessage(src *Element, status StreamStatus) *Message {
	m := newMessage(MessageStreamStatus, src)
	m.Status = status
	return m
}

// NewStreamStartMessage reports that a new stream started playing.
func NewStreamStartMessage(src *Element) *Message {
	return newMessage(MessageStreamStart, src)
}

// NewElementMessage carries an element-specific structure.
func NewElementMessage(src *Element, s *caps.Structure) *Message {
	m := newMessage(MessageElement, src)
	m.Structure = s
	return m
}

func newResetTimeMessage(src *Element) *Message {
	return newMessage(messageResetTime, src)
}

// ParseStateChanged returns the states of a state-changed message.
func (m *Message) ParseStateChanged() (old, cur, pending State) {
	return m.OldState, m.NewState, m.PendingState
}
