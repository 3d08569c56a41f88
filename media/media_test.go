package media

import (
	"bytes"
	"errors"
	"io"
	"testing"
	"time"

	"github.com/zsiec/mediagraph/caps"
)

func TestClockTimeString(t *testing.T) {
	t.Parallel()
	tests := []struct {
		in   ClockTime
		want string
	}{
		{0, "0:00:00.000000000"},
		{30 * Second, "0:00:30.000000000"},
		{3661*Second + 5*Millisecond, "1:01:01.005000000"},
		{ClockTimeNone, "99:99:99.999999999"},
	}
	for _, tt := range tests {
		if got := tt.in.String(); got != tt.want {
			t.Errorf("String(%d): got %q, want %q", uint64(tt.in), got, tt.want)
		}
	}
	if ClockTimeNone.IsValid() {
		t.Error("ClockTimeNone should not be valid")
	}
	if FromDuration(1500*time.Millisecond) != 1500*Millisecond {
		t.Error("FromDuration mismatch")
	}
	if FromDuration(-time.Second) != 0 {
		t.Error("negative duration should clamp to zero")
	}
}

func TestSegmentRunningTime(t *testing.T) {
	t.Parallel()
	s := NewSegment()
	s.Start = 30 * Second
	s.Time = 30 * Second
	s.Base = 2 * Second

	if got := s.ToRunningTime(31 * Second); got != 3*Second {
		t.Errorf("running time: got %v, want %v", got, 3*Second)
	}
	if got := s.ToRunningTime(10 * Second); got != ClockTimeNone {
		t.Errorf("before start: got %v, want none", got)
	}
	if got := s.ToStreamTime(31 * Second); got != 31*Second {
		t.Errorf("stream time: got %v, want %v", got, 31*Second)
	}

	s.Stop = 40 * Second
	if s.Contains(40 * Second) {
		t.Error("stop is exclusive")
	}
	if got := s.ToRunningTime(41 * Second); got != ClockTimeNone {
		t.Errorf("after stop: got %v, want none", got)
	}
}

func TestBufferSharing(t *testing.T) {
	t.Parallel()
	b := NewBuffer([]byte{1, 2, 3})
	if !b.IsWritable() {
		t.Fatal("fresh buffer should be writable")
	}
	if !b.IsKeyframe() {
		t.Error("buffer without delta flag should be a keyframe")
	}

	r := b.Ref()
	if b.IsWritable() || r.IsWritable() {
		t.Fatal("shared buffer should not be writable")
	}
	if &r.Data()[0] != &b.Data()[0] {
		t.Error("Ref should share the payload")
	}

	w := r.MakeWritable()
	if w == r {
		t.Fatal("MakeWritable on shared buffer should copy")
	}
	w.Data()[0] = 9
	if b.Data()[0] != 1 {
		t.Error("writable copy must not alias the original")
	}
	if !b.IsWritable() {
		t.Error("original should be writable once the other handle was released")
	}
}

func TestEventProperties(t *testing.T) {
	t.Parallel()
	if !EventCaps.IsSticky() || !EventSegment.IsSticky() || !EventTag.IsSticky() || !EventEOS.IsSticky() {
		t.Error("caps, segment, tag and eos must be sticky")
	}
	if EventFlushStart.IsSerialized() {
		t.Error("flush-start is out of band")
	}
	if !EventFlushStop.IsSerialized() {
		t.Error("flush-stop is serialized")
	}
	if EventSeek.IsDownstream() || !EventSeek.IsUpstream() {
		t.Error("seek travels upstream only")
	}
	if EventCaps.StickyOrder() >= EventSegment.StickyOrder() {
		t.Error("caps must replay before segment")
	}

	a, b := NewEOSEvent(), NewEOSEvent()
	if a.Seqnum == b.Seqnum {
		t.Error("seqnums should be unique")
	}
	if c := NewFlushStopEvent(true).WithSeqnum(a.Seqnum); c.Seqnum != a.Seqnum || !c.ResetTime {
		t.Error("WithSeqnum should keep the payload and set the seqnum")
	}
}

func TestSeekFlagsString(t *testing.T) {
	t.Parallel()
	f := SeekFlagFlush | SeekFlagKeyUnit
	if got, want := f.String(), "flush+key-unit"; got != want {
		t.Errorf("got %q, want %q", got, want)
	}
	if !f.Has(SeekFlagFlush) || f.Has(SeekFlagSegment) {
		t.Error("Has mismatch")
	}
}

func TestTagMerge(t *testing.T) {
	t.Parallel()
	a := TagList{TagTitle: "a", TagBitrate: 100}
	m := a.Merge(TagList{TagTitle: "b"})
	if m[TagTitle] != "b" || m[TagBitrate] != 100 {
		t.Errorf("merge: got %v", m)
	}
	if a[TagTitle] != "a" {
		t.Error("merge must not modify the receiver")
	}
}

func TestWireRoundTrip(t *testing.T) {
	t.Parallel()
	c := caps.MustParse("video/x-raw, width=(int)320")

	b1 := NewBuffer([]byte("hello"))
	b1.PTS = 40 * Millisecond
	b1.Duration = 40 * Millisecond
	b1.Offset = 1
	b1.Flags = FlagDeltaUnit
	b2 := NewBuffer(nil)

	var out []byte
	out = AppendCaps(out, c.String())
	var err error
	if out, err = AppendBuffer(out, b1); err != nil {
		t.Fatal(err)
	}
	if out, err = AppendBuffer(out, b2); err != nil {
		t.Fatal(err)
	}
	out = AppendEOS(out)

	rr := NewRecordReader(bytes.NewReader(out))
	rec, err := rr.Next()
	if err != nil || rec.Type != RecordCaps || rec.Caps != c.String() {
		t.Fatalf("caps record: got %+v, %v", rec, err)
	}

	rec, err = rr.Next()
	if err != nil || rec.Type != RecordBuffer {
		t.Fatalf("buffer record: got %+v, %v", rec, err)
	}
	got := rec.Buffer
	if got.PTS != b1.PTS || got.Duration != b1.Duration || got.Offset != 1 || got.Flags != FlagDeltaUnit {
		t.Errorf("metadata: got %+v", got)
	}
	if string(got.Data()) != "hello" {
		t.Errorf("payload: got %q, want %q", got.Data(), "hello")
	}

	rec, err = rr.Next()
	if err != nil {
		t.Fatal(err)
	}
	if rec.Buffer.PTS != ClockTimeNone || rec.Buffer.Offset != OffsetNone || rec.Buffer.Size() != 0 {
		t.Errorf("unknown timing should survive the round trip: got %+v", rec.Buffer)
	}

	rec, err = rr.Next()
	if err != nil || rec.Type != RecordEOS {
		t.Fatalf("eos record: got %+v, %v", rec, err)
	}
	if _, err := rr.Next(); !errors.Is(err, io.EOF) {
		t.Errorf("end of input: got %v, want io.EOF", err)
	}
}

func TestWireTruncated(t *testing.T) {
	t.Parallel()
	b := NewBuffer([]byte("payload"))
	out, err := AppendBuffer(nil, b)
	if err != nil {
		t.Fatal(err)
	}
	rr := NewRecordReader(bytes.NewReader(out[:len(out)-3]))
	if _, err := rr.Next(); !errors.Is(err, io.ErrUnexpectedEOF) {
		t.Errorf("got %v, want io.ErrUnexpectedEOF", err)
	}

	rr = NewRecordReader(bytes.NewReader([]byte{0x3f}))
	if _, err := rr.Next(); !errors.Is(err, ErrUnknownRecord) {
		t.Errorf("got %v, want ErrUnknownRecord", err)
	}
}
