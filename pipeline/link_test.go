package pipeline

import (
	"errors"
	"slices"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zsiec/mediagraph/caps"
	"github.com/zsiec/mediagraph/media"
)

func TestLinkNegotiatesFixedFormat(t *testing.T) {
	t.Parallel()
	p := NewPipeline("p")
	src, _ := newStepper(t, "src", nil, srcTmpl("video/x-raw, width=(int)[16, 4096], framerate=(fraction){30/1, 25/1}"))
	sink, _ := newStepper(t, "sink", nil, sinkTmpl("video/x-raw, width=(int)[320, 640]"))
	require.NoError(t, p.Add(src, sink))

	require.NoError(t, src.Link(sink))

	got := src.StaticPad("src").CurrentCaps()
	require.NotNil(t, got)
	assert.True(t, got.IsFixed(), "negotiated caps %v not fixed", got)
	w, _ := got.Structure(0).Int("width")
	assert.Equal(t, int64(320), w)
	fr, _ := got.Structure(0).Fraction("framerate")
	assert.Equal(t, caps.NewFraction(30, 1), fr)
	assert.Equal(t, got, sink.StaticPad("sink").CurrentCaps())
}

type preferring struct {
	*stepper
	pref *caps.Caps
}

func (p *preferring) PreferredCaps(*Pad) *caps.Caps { return p.pref }

func TestLinkUsesPreferredCaps(t *testing.T) {
	t.Parallel()
	p := NewPipeline("p")
	s := &stepper{ret: map[StateChange]StateChangeReturn{}, pads: []*PadTemplate{srcTmpl("video/x-raw, width=(int)[16, 4096]")}}
	src, err := NewElement("src", &preferring{stepper: s, pref: caps.MustParse("video/x-raw, width=(int)640")})
	require.NoError(t, err)
	sink, _ := newStepper(t, "sink", nil, sinkTmpl("video/x-raw"))
	require.NoError(t, p.Add(src, sink))

	require.NoError(t, src.Link(sink))
	w, _ := src.StaticPad("src").CurrentCaps().Structure(0).Int("width")
	assert.Equal(t, int64(640), w)
}

func TestLinkErrors(t *testing.T) {
	t.Parallel()
	p := NewPipeline("p")
	video, _ := newStepper(t, "video", nil, srcTmpl("video/x-raw"))
	audio, _ := newStepper(t, "audio", nil, sinkTmpl("audio/x-raw"))
	other, _ := newStepper(t, "other", nil, sinkTmpl(""))
	require.NoError(t, p.Add(video, audio))

	err := video.Link(audio)
	require.ErrorIs(t, err, ErrNegotiationImpossible)
	var le *LinkError
	require.ErrorAs(t, err, &le)
	assert.Equal(t, "video:src", le.Src)
	assert.False(t, video.StaticPad("src").IsLinked())

	_, err = LinkPads(audio.StaticPad("sink"), video.StaticPad("src"))
	assert.ErrorIs(t, err, ErrWrongDirection)

	_, err = LinkPads(video.StaticPad("src"), other.StaticPad("sink"))
	assert.ErrorIs(t, err, ErrWrongHierarchy, "unparented element")

	p2 := NewPipeline("p2")
	require.NoError(t, p2.Add(other))
	_, err = LinkPads(video.StaticPad("src"), other.StaticPad("sink"))
	assert.ErrorIs(t, err, ErrWrongHierarchy, "different pipelines")

	any1, _ := newStepper(t, "any1", nil, sinkTmpl(""))
	any2, _ := newStepper(t, "any2", nil, sinkTmpl(""))
	require.NoError(t, p.Add(any1, any2))
	require.NoError(t, video.Link(any1))
	_, err = LinkPads(video.StaticPad("src"), any2.StaticPad("sink"))
	assert.ErrorIs(t, err, ErrWasLinked)

	err = any1.Link(any2)
	assert.ErrorIs(t, err, ErrNoCompatiblePads)
}

// fanout has request source pads.
type fanout struct {
	e        *Element
	released []string
}

func (f *fanout) Init(e *Element) error {
	f.e = e
	e.AddPadTemplate(NewPadTemplate("sink", PadSink, PadAlways, nil))
	e.AddPadTemplate(NewPadTemplate("src_%u", PadSrc, PadRequest, nil))
	return e.AddPad(NewPadFromTemplate(e.PadTemplate("sink"), "sink"))
}

func (f *fanout) RequestPad(tmpl *PadTemplate, name string) (*Pad, error) {
	return NewPadFromTemplate(tmpl, name), nil
}

func (f *fanout) ReleasePad(p *Pad) {
	f.released = append(f.released, p.Name())
}

func TestRequestPads(t *testing.T) {
	t.Parallel()
	p := NewPipeline("p")
	f := &fanout{}
	tee, err := NewElement("tee", f)
	require.NoError(t, err)
	a, _ := newStepper(t, "a", nil, sinkTmpl("video/x-raw"))
	b, _ := newStepper(t, "b", nil, sinkTmpl("video/x-raw"))
	require.NoError(t, p.Add(tee, a, b))

	var added, removed []string
	tee.OnPadAdded(func(_ *Element, pad *Pad) { added = append(added, pad.Name()) })
	tee.OnPadRemoved(func(_ *Element, pad *Pad) { removed = append(removed, pad.Name()) })

	require.NoError(t, tee.Link(a))
	require.NoError(t, tee.Link(b))
	assert.Equal(t, []string{"src_0", "src_1"}, added)
	assert.Equal(t, "a", tee.StaticPad("src_0").Peer().Parent().Name())

	pad, err := tee.RequestPad("src_7")
	require.NoError(t, err)
	assert.Equal(t, "src_7", pad.Name())
	_, err = tee.RequestPad("src_7")
	assert.ErrorIs(t, err, ErrDuplicatePad)
	_, err = tee.RequestPad("video_%u")
	assert.ErrorIs(t, err, ErrNoSuchTemplate)

	require.NoError(t, tee.ReleaseRequestPad(tee.StaticPad("src_0")))
	assert.Nil(t, tee.StaticPad("src_0"))
	assert.False(t, a.StaticPad("sink").IsLinked())
	assert.Equal(t, []string{"src_0"}, removed)
	assert.Equal(t, []string{"src_0"}, f.released)

	assert.ErrorIs(t, tee.ReleaseRequestPad(tee.StaticPad("sink")), ErrNotRequestPad)

	pad, err = tee.RequestPad("src_%u")
	require.NoError(t, err)
	assert.Equal(t, "src_2", pad.Name())
}

func TestPushDeliversStickyEventsFirst(t *testing.T) {
	t.Parallel()
	p := NewPipeline("p")
	src, _ := newStepper(t, "src", nil, srcTmpl("video/x-raw, width=(int)[1, 100]"))
	sink, _ := newStepper(t, "sink", nil, sinkTmpl(""))
	require.NoError(t, p.Add(src, sink))
	c := &collector{}
	c.attach(sink.StaticPad("sink"))
	require.Equal(t, StateChangeSuccess, p.SetState(StatePaused))

	out := src.StaticPad("src")
	assert.Equal(t, FlowNotLinked, out.Push(media.NewBuffer([]byte{1})))

	// Events pushed before the link are kept and replayed.
	assert.True(t, out.PushEvent(media.NewStreamStartEvent("s")))
	assert.True(t, out.PushEvent(media.NewCapsEvent(caps.MustParse("video/x-raw, width=(int)10"))))
	assert.True(t, out.PushEvent(media.NewSegmentEvent(media.NewSegment())))
	require.NoError(t, src.Link(sink))
	assert.Empty(t, c.eventTypes())

	assert.Equal(t, FlowOK, out.Push(media.NewBuffer([]byte{1, 2, 3})))
	assert.Equal(t, []media.EventType{media.EventStreamStart, media.EventCaps, media.EventSegment}, c.eventTypes())
	assert.Equal(t, 1, c.bufferCount())

	w, _ := out.CurrentCaps().Structure(0).Int("width")
	assert.Equal(t, int64(10), w, "link follows the caps already pushed")

	assert.True(t, out.PushEvent(media.NewEOSEvent()))
	assert.Equal(t, FlowEOS, out.Push(media.NewBuffer(nil)))

	out.PushEvent(media.NewFlushStartEvent())
	assert.Equal(t, FlowFlushing, out.Push(media.NewBuffer(nil)))
	out.PushEvent(media.NewFlushStopEvent(false))
	assert.Nil(t, out.StickyEvent(media.EventSegment), "flush-stop clears the segment")
	assert.NotNil(t, out.StickyEvent(media.EventCaps))
	assert.Equal(t, FlowOK, out.Push(media.NewBuffer(nil)))

	p.SetState(StateNull)
	assert.Equal(t, FlowFlushing, out.Push(media.NewBuffer(nil)))
}

func TestDeferredNegotiation(t *testing.T) {
	t.Parallel()
	p := NewPipeline("p")
	src, _ := newStepper(t, "src", nil, srcTmpl(""))
	sink, _ := newStepper(t, "sink", nil, sinkTmpl(""))
	require.NoError(t, p.Add(src, sink))
	require.NoError(t, src.Link(sink))
	link := src.StaticPad("src").Link()
	require.NotNil(t, link)
	assert.Nil(t, link.Caps(), "ANY to ANY leaves the format open")
	assert.Nil(t, sink.StaticPad("sink").CurrentCaps())

	p.SetState(StatePaused)

	// An unfixed proposal is fixated before it crosses.
	open := caps.MustParse("audio/x-raw, rate=(int){48000, 44100}")
	require.True(t, src.StaticPad("src").PushEvent(media.NewCapsEvent(open)))
	got := link.Caps()
	require.NotNil(t, got)
	assert.True(t, got.IsFixed(), "got %s", got)
	rate, _ := got.Structure(0).Int("rate")
	assert.Equal(t, int64(48000), rate)

	fixed := caps.MustParse("audio/x-raw, rate=(int)44100")
	require.True(t, src.StaticPad("src").PushEvent(media.NewCapsEvent(fixed)))
	assert.True(t, fixed.Equal(link.Caps()))
	assert.True(t, fixed.Equal(sink.StaticPad("sink").CurrentCaps()))
	p.SetState(StateNull)
}

func TestRenegotiationFailurePostsError(t *testing.T) {
	t.Parallel()
	p := NewPipeline("p")
	src, _ := newStepper(t, "src", nil, srcTmpl("video/x-raw, width=(int)[1, 1000]"))
	sink, _ := newStepper(t, "sink", nil, sinkTmpl("video/x-raw, width=(int)[300, 400]"))
	require.NoError(t, p.Add(src, sink))
	require.NoError(t, src.Link(sink))
	p.SetState(StatePaused)
	out := src.StaticPad("src")

	// Inside the sink's range: renegotiated.
	require.True(t, out.PushEvent(media.NewCapsEvent(caps.MustParse("video/x-raw, width=(int)350"))))
	w, _ := out.CurrentCaps().Structure(0).Int("width")
	assert.Equal(t, int64(350), w)

	// Outside: rejected with an error on the bus.
	assert.False(t, out.PushEvent(media.NewCapsEvent(caps.MustParse("video/x-raw, width=(int)800"))))
	m := p.Bus().TimedPopFiltered(0, MessageError)
	require.NotNil(t, m)
	assert.True(t, errors.Is(m.Err, ErrNegotiationImpossible))
	assert.Equal(t, src, m.Source)
	p.SetState(StateNull)
}

func TestUnlinkElements(t *testing.T) {
	t.Parallel()
	p := NewPipeline("p")
	src, _ := newStepper(t, "src", nil, srcTmpl(""))
	sink, _ := newStepper(t, "sink", nil, sinkTmpl(""))
	require.NoError(t, p.Add(src, sink))
	require.NoError(t, src.Link(sink))

	assert.True(t, src.Unlink(sink))
	assert.False(t, src.Unlink(sink))
	assert.Nil(t, sink.StaticPad("sink").Peer())
}

func TestPadTemplateMatches(t *testing.T) {
	t.Parallel()
	tmpl := NewPadTemplate("video_%u", PadSrc, PadSometimes, nil)
	tests := []struct {
		name string
		n    uint
		ok   bool
	}{
		{"video_0", 0, true},
		{"video_12", 12, true},
		{"video_", 0, false},
		{"audio_0", 0, false},
		{"video_x", 0, false},
	}
	for _, tt := range tests {
		n, ok := tmpl.Matches(tt.name)
		if ok != tt.ok || (ok && n != tt.n) {
			t.Errorf("Matches(%q): got %d, %v, want %d, %v", tt.name, n, ok, tt.n, tt.ok)
		}
	}
	if got := tmpl.PadName(3); got != "video_3" {
		t.Errorf("PadName: got %q", got)
	}
	names := []string{}
	for i := range uint(3) {
		names = append(names, tmpl.PadName(i))
	}
	if !slices.Equal(names, []string{"video_0", "video_1", "video_2"}) {
		t.Errorf("names: got %v", names)
	}
}
