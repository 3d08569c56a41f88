package pipeline

import (
	"errors"
	"fmt"
)

// Sentinel errors for graph construction and control. These enable callers
// to distinguish failure modes using errors.Is.
var (
	ErrUnknownFactory        = errors.New("pipeline: unknown element factory")
	ErrDuplicateFactory      = errors.New("pipeline: factory already registered")
	ErrNegotiationImpossible = errors.New("pipeline: no common format")
	ErrFixationFailed        = errors.New("pipeline: format fixation failed")
	ErrWrongHierarchy        = errors.New("pipeline: elements do not share a container")
	ErrWasLinked             = errors.New("pipeline: pad already linked")
	ErrWrongDirection        = errors.New("pipeline: pads have wrong direction")
	ErrNoCompatiblePads      = errors.New("pipeline: no compatible pads")
	ErrNoSuchTemplate        = errors.New("pipeline: no such pad template")
	ErrNotRequestPad         = errors.New("pipeline: pad was not requested")
	ErrNotFloating           = errors.New("pipeline: element already has a parent")
	ErrNotChild              = errors.New("pipeline: element is not a child of this bin")
	ErrNotInNull             = errors.New("pipeline: element is not in NULL state")
	ErrDuplicateName         = errors.New("pipeline: duplicate element name")
	ErrDuplicatePad          = errors.New("pipeline: duplicate pad name")
	ErrUnknownProperty       = errors.New("pipeline: unknown property")
	ErrPropertyType          = errors.New("pipeline: property value has wrong type")
	ErrPropertyRange         = errors.New("pipeline: property value out of range")
	ErrPropertyState         = errors.New("pipeline: property not writable in current state")
	ErrNotSeekable           = errors.New("pipeline: stream is not seekable")
	ErrStateChange           = errors.New("pipeline: state change failed")
)

// LinkError records which pads a link attempt involved.
type LinkError struct {
	Src  string
	Sink string
	Err  error
}

func (e *LinkError) Error() string {
	return fmt.Sprintf("pipeline: link %s -> %s: %v", e.Src, e.Sink, e.Err)
}

func (e *LinkError) Unwrap() error {
	return e.Err
}

// ErrorDomain classifies errors posted on the bus.
type ErrorDomain int

const (
	// DomainCore covers misuse of the runtime itself.
	DomainCore ErrorDomain = iota
	// DomainLibrary covers failures in supporting libraries.
	DomainLibrary
	// DomainResource covers devices, files and other external resources.
	DomainResource
	// DomainStream covers dataflow: negotiation, decoding, format errors.
	DomainStream
)

func (d ErrorDomain) String() string {
	switch d {
	case DomainCore:
		return "core"
	case DomainLibrary:
		return "library"
	case DomainResource:
		return "resource"
	case DomainStream:
		return "stream"
	default:
		return "unknown"
	}
}

// ElementError is the payload of error, warning and info messages.
type ElementError struct {
	Element string
	Domain  ErrorDomain
	Err     error
	Debug   string
}

func (e *ElementError) Error() string {
	return fmt.Sprintf("%s error from %s: %v", e.Domain, e.Element, e.Err)
}

func (e *ElementError) Unwrap() error {
	return e.Err
}

// PropertyError indicates a rejected property access.
type PropertyError struct {
	Element  string
	Property string
	Err      error
}

func (e *PropertyError) Error() string {
	return fmt.Sprintf("pipeline: property %s.%s: %v", e.Element, e.Property, e.Err)
}

func (e *PropertyError) Unwrap() error {
	return e.Err
}
