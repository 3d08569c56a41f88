// Package media defines the data that flows through a pipeline graph:
// buffers, in-band events, segments and the nanosecond time base shared by
// every element.
package media

import (
	"sync/atomic"
)

// Default queue limits. Sized to decouple a producer from a consumer by a
// few seconds of typical video without unbounded memory growth.
const (
	DefaultQueueBuffers = 200
	DefaultQueueBytes   = 10 * 1024 * 1024
	DefaultQueueTime    = Second
)

// BufferFlags annotate a Buffer.
type BufferFlags uint32

const (
	// FlagDeltaUnit marks a buffer that cannot be decoded on its own.
	FlagDeltaUnit BufferFlags = 1 << iota
	// FlagDiscont marks the first buffer after a discontinuity (flush, seek).
	FlagDiscont
	// FlagHeader marks stream headers.
	FlagHeader
	// FlagGap marks a buffer with no meaningful payload.
	FlagGap
)

// OffsetNone marks an unset buffer offset.
const OffsetNone = ^uint64(0)

// Buffer is a chunk of produced data plus timing metadata. Buffers are shared
// by reference between branches; a holder that needs to mutate the payload
// must call MakeWritable first.
type Buffer struct {
	PTS      ClockTime
	Duration ClockTime
	Offset   uint64
	Flags    BufferFlags

	data []byte
	refs *atomic.Int32
}

// NewBuffer wraps data in a buffer with unknown timing.
func NewBuffer(data []byte) *Buffer {
	b := &Buffer{
		PTS:      ClockTimeNone,
		Duration: ClockTimeNone,
		Offset:   OffsetNone,
		data:     data,
		refs:     new(atomic.Int32),
	}
	b.refs.Store(1)
	return b
}

// Data returns the payload. Callers must not modify it unless IsWritable.
func (b *Buffer) Data() []byte { return b.data }

// Size returns the payload length in bytes.
func (b *Buffer) Size() int { return len(b.data) }

// IsKeyframe reports whether the buffer is independently decodable.
func (b *Buffer) IsKeyframe() bool { return b.Flags&FlagDeltaUnit == 0 }

// HasFlags reports whether all of f are set.
func (b *Buffer) HasFlags(f BufferFlags) bool { return b.Flags&f == f }

// End returns PTS+Duration, or ClockTimeNone when either is unknown.
func (b *Buffer) End() ClockTime {
	if !b.PTS.IsValid() || !b.Duration.IsValid() {
		return ClockTimeNone
	}
	return b.PTS + b.Duration
}

// Ref returns a new handle sharing b's payload. Metadata is copied so each
// receiver may retime its handle independently.
func (b *Buffer) Ref() *Buffer {
	b.refs.Add(1)
	nb := *b
	return &nb
}

// Unref releases this handle's claim on the payload.
func (b *Buffer) Unref() {
	b.refs.Add(-1)
}

// IsWritable reports whether this handle is the only one sharing the payload.
func (b *Buffer) IsWritable() bool { return b.refs.Load() <= 1 }

// Copy returns a deep copy with its own payload.
func (b *Buffer) Copy() *Buffer {
	data := make([]byte, len(b.data))
	copy(data, b.data)
	nb := NewBuffer(data)
	nb.PTS, nb.Duration, nb.Offset, nb.Flags = b.PTS, b.Duration, b.Offset, b.Flags
	return nb
}

// MakeWritable returns b if it is exclusively held, otherwise a deep copy;
// in the latter case b's claim is released.
func (b *Buffer) MakeWritable() *Buffer {
	if b.IsWritable() {
		return b
	}
	nb := b.Copy()
	b.Unref()
	return nb
}
