package pipeline

import (
	"fmt"
	"strings"
)

// State is an element lifecycle state. States are totally ordered and a
// transition moves one step at a time.
type State int

const (
	// StateVoidPending means no transition is pending.
	StateVoidPending State = iota
	StateNull
	StateReady
	StatePaused
	StatePlaying
)

func (s State) String() string {
	switch s {
	case StateVoidPending:
		return "VOID_PENDING"
	case StateNull:
		return "NULL"
	case StateReady:
		return "READY"
	case StatePaused:
		return "PAUSED"
	case StatePlaying:
		return "PLAYING"
	default:
		return fmt.Sprintf("State(%d)", int(s))
	}
}

// ParseState converts a state name (case-insensitive) to a State.
func ParseState(s string) (State, error) {
	switch strings.ToLower(s) {
	case "null":
		return StateNull, nil
	case "ready":
		return StateReady, nil
	case "paused":
		return StatePaused, nil
	case "playing":
		return StatePlaying, nil
	}
	return StateVoidPending, fmt.Errorf("pipeline: unknown state %q", s)
}

// StateChange is a single step between adjacent states.
type StateChange struct {
	From State
	To   State
}

// Upward reports whether the step moves towards PLAYING.
func (c StateChange) Upward() bool { return c.To > c.From }

func (c StateChange) String() string { return c.From.String() + "->" + c.To.String() }

// Well-known steps, for switch statements in element implementations.
var (
	NullToReady     = StateChange{StateNull, StateReady}
	ReadyToPaused   = StateChange{StateReady, StatePaused}
	PausedToPlaying = StateChange{StatePaused, StatePlaying}
	PlayingToPaused = StateChange{StatePlaying, StatePaused}
	PausedToReady   = StateChange{StatePaused, StateReady}
	ReadyToNull     = StateChange{StateReady, StateNull}
)

// nextState returns the state one step from cur towards target.
func nextState(cur, target State) State {
	switch {
	case target > cur:
		return cur + 1
	case target < cur:
		return cur - 1
	}
	return cur
}

// StateChangeReturn is the result of a state transition request.
type StateChangeReturn int

const (
	StateChangeFailure StateChangeReturn = iota
	StateChangeSuccess
	// StateChangeAsync means the element completes the transition later and
	// posts async-done when it does.
	StateChangeAsync
	// StateChangeNoPreroll means the element is live and produces no data
	// in PAUSED.
	StateChangeNoPreroll
)

func (r StateChangeReturn) String() string {
	switch r {
	case StateChangeFailure:
		return "failure"
	case StateChangeSuccess:
		return "success"
	case StateChangeAsync:
		return "async"
	case StateChangeNoPreroll:
		return "no-preroll"
	default:
		return fmt.Sprintf("StateChangeReturn(%d)", int(r))
	}
}

// FlowReturn is the result of pushing a buffer across a link.
type FlowReturn int

const (
	FlowOK FlowReturn = iota
	// FlowNotLinked means the pad has no peer.
	FlowNotLinked
	// FlowFlushing means the pad is flushing or inactive.
	FlowFlushing
	// FlowEOS means the peer has already received end-of-stream.
	FlowEOS
	// FlowNotNegotiated means the format was rejected.
	FlowNotNegotiated
	// FlowError is a generic fatal error; an error message was posted.
	FlowError
	// FlowNotSupported means the operation is not supported.
	FlowNotSupported
)

// IsFatal reports whether the flow return stops the stream and must be
// turned into an error message by the element driving the stream.
func (f FlowReturn) IsFatal() bool {
	return f == FlowNotNegotiated || f == FlowError || f == FlowNotSupported
}

func (f FlowReturn) String() string {
	switch f {
	case FlowOK:
		return "ok"
	case FlowNotLinked:
		return "not-linked"
	case FlowFlushing:
		return "flushing"
	case FlowEOS:
		return "eos"
	case FlowNotNegotiated:
		return "not-negotiated"
	case FlowError:
		return "error"
	case FlowNotSupported:
		return "not-supported"
	default:
		return fmt.Sprintf("FlowReturn(%d)", int(f))
	}
}

// PadDirection is the direction data flows through a pad.
type PadDirection int

const (
	PadUnknown PadDirection = iota
	// PadSrc produces data.
	PadSrc
	// PadSink consumes data.
	PadSink
)

func (d PadDirection) String() string {
	switch d {
	case PadSrc:
		return "src"
	case PadSink:
		return "sink"
	default:
		return "unknown"
	}
}

// PadPresence is the availability of pads created from a template.
type PadPresence int

const (
	// PadAlways pads exist for the whole life of the element.
	PadAlways PadPresence = iota
	// PadSometimes pads appear once the element discovers its streams.
	PadSometimes
	// PadRequest pads are created on application request.
	PadRequest
)

func (p PadPresence) String() string {
	switch p {
	case PadAlways:
		return "always"
	case PadSometimes:
		return "sometimes"
	case PadRequest:
		return "request"
	default:
		return "unknown"
	}
}
