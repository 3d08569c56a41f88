package media

import (
	"bufio"
	"errors"
	"fmt"
	"io"

	"github.com/quic-go/quic-go/quicvarint"
)

// Record types of the wire framing written by frame sinks. Every field is
// a QUIC variable-length integer; timestamps are stored plus one so that
// zero encodes ClockTimeNone.
const (
	RecordCaps   uint64 = 0x01 // len, caps string
	RecordBuffer uint64 = 0x02 // flags, pts+1, duration+1, offset+1, len, payload
	RecordEOS    uint64 = 0x03
)

const maxRecordPayload = 64 << 20

// ErrValueTooLarge is returned when a field exceeds the varint range.
var ErrValueTooLarge = errors.New("media: value exceeds varint range")

// ErrUnknownRecord is returned by RecordReader.Next for an unknown record type.
var ErrUnknownRecord = errors.New("media: unknown record type")

// Record is one decoded wire record.
type Record struct {
	Type   uint64
	Caps   string
	Buffer *Buffer
}

func encodeTime(t ClockTime) (uint64, error) {
	v := uint64(t) + 1
	if v > quicvarint.Max {
		return 0, ErrValueTooLarge
	}
	return v, nil
}

func decodeTime(v uint64) ClockTime {
	return ClockTime(v - 1)
}

// AppendCaps appends a caps record.
func AppendCaps(b []byte, capsStr string) []byte {
	b = quicvarint.Append(b, RecordCaps)
	b = quicvarint.Append(b, uint64(len(capsStr)))
	return append(b, capsStr...)
}

// AppendBuffer appends a buffer record.
func AppendBuffer(b []byte, buf *Buffer) ([]byte, error) {
	pts, err := encodeTime(buf.PTS)
	if err != nil {
		return nil, fmt.Errorf("pts: %w", err)
	}
	dur, err := encodeTime(buf.Duration)
	if err != nil {
		return nil, fmt.Errorf("duration: %w", err)
	}
	off := buf.Offset + 1
	if off > quicvarint.Max {
		return nil, fmt.Errorf("offset: %w", ErrValueTooLarge)
	}
	b = quicvarint.Append(b, RecordBuffer)
	b = quicvarint.Append(b, uint64(buf.Flags))
	b = quicvarint.Append(b, pts)
	b = quicvarint.Append(b, dur)
	b = quicvarint.Append(b, off)
	b = quicvarint.Append(b, uint64(buf.Size()))
	return append(b, buf.Data()...), nil
}

// AppendEOS appends an end-of-stream record.
func AppendEOS(b []byte) []byte {
	return quicvarint.Append(b, RecordEOS)
}

// RecordReader decodes records from a stream.
type RecordReader struct {
	r *bufio.Reader
}

// NewRecordReader wraps r for record decoding.
func NewRecordReader(r io.Reader) *RecordReader {
	if br, ok := r.(*bufio.Reader); ok {
		return &RecordReader{r: br}
	}
	return &RecordReader{r: bufio.NewReader(r)}
}

// Next decodes the next record. It returns io.EOF at a clean end of input.
func (rr *RecordReader) Next() (*Record, error) {
	typ, err := quicvarint.Read(rr.r)
	if err != nil {
		return nil, err
	}
	switch typ {
	case RecordCaps:
		data, err := rr.bytes("caps length")
		if err != nil {
			return nil, err
		}
		return &Record{Type: typ, Caps: string(data)}, nil
	case RecordBuffer:
		var fields [4]uint64
		for i, name := range []string{"flags", "pts", "duration", "offset"} {
			if fields[i], err = quicvarint.Read(rr.r); err != nil {
				return nil, fmt.Errorf("read %s: %w", name, noEOF(err))
			}
		}
		data, err := rr.bytes("payload length")
		if err != nil {
			return nil, err
		}
		buf := NewBuffer(data)
		buf.Flags = BufferFlags(fields[0])
		buf.PTS = decodeTime(fields[1])
		buf.Duration = decodeTime(fields[2])
		buf.Offset = fields[3] - 1
		return &Record{Type: typ, Buffer: buf}, nil
	case RecordEOS:
		return &Record{Type: typ}, nil
	}
	return nil, fmt.Errorf("%w: 0x%x", ErrUnknownRecord, typ)
}

func (rr *RecordReader) bytes(field string) ([]byte, error) {
	n, err := quicvarint.Read(rr.r)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", field, noEOF(err))
	}
	if n > maxRecordPayload {
		return nil, fmt.Errorf("read %s: %w", field, ErrValueTooLarge)
	}
	data := make([]byte, n)
	if _, err := io.ReadFull(rr.r, data); err != nil {
		return nil, fmt.Errorf("read %s data: %w", field, noEOF(err))
	}
	return data, nil
}

func noEOF(err error) error {
	if errors.Is(err, io.EOF) {
		return io.ErrUnexpectedEOF
	}
	return err
}
