package elements

import (
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zsiec/mediagraph/caps"
	"github.com/zsiec/mediagraph/media"
	"github.com/zsiec/mediagraph/pipeline"
)

func popPipelineSteps(bus *pipeline.Bus, p *pipeline.Pipeline) [][2]pipeline.State {
	var out [][2]pipeline.State
	for {
		m := bus.TimedPopFiltered(0, pipeline.MessageStateChanged)
		if m == nil {
			return out
		}
		if m.Source == p.Element {
			old, cur, _ := m.ParseStateChanged()
			out = append(out, [2]pipeline.State{old, cur})
		}
	}
}

func TestStaticPipelineEndsWithEOS(t *testing.T) {
	t.Parallel()
	reg := newTestRegistry(t)
	p := pipeline.NewPipeline("linear")
	src := mk(t, reg, "test-source", "src", map[string]any{"num-buffers": 10})
	sink := mk(t, reg, "auto-sink", "sink", nil)
	require.NoError(t, p.Add(src, sink))
	require.NoError(t, src.Link(sink))

	link := src.StaticPad("src").Link()
	require.NotNil(t, link)
	negotiated := link.Caps()
	require.NotNil(t, negotiated)
	assert.True(t, negotiated.IsFixed(), "negotiated caps %s not fixed", negotiated)
	assert.True(t, negotiated.IsSubset(src.StaticPad("src").TemplateCaps()))
	assert.True(t, negotiated.IsSubset(sink.StaticPad("sink").TemplateCaps()))

	// Run twice: going back to NULL must leave the graph as it was built.
	for run := range 2 {
		require.NotEqual(t, pipeline.StateChangeFailure, p.SetState(pipeline.StatePlaying), "run %d", run)
		m := waitMessage(t, p.Bus(), pipeline.MessageEOS)
		assert.Equal(t, p.Element, m.Source)

		want := [][2]pipeline.State{
			{pipeline.StateNull, pipeline.StateReady},
			{pipeline.StateReady, pipeline.StatePaused},
			{pipeline.StatePaused, pipeline.StatePlaying},
		}
		assert.Equal(t, want, popPipelineSteps(p.Bus(), p), "run %d", run)
		sticky := p.Bus().StickyFrom(pipeline.MessageStateChanged, p.Element)
		require.NotNil(t, sticky)
		assert.Equal(t, pipeline.StatePlaying, sticky.NewState)

		stats, _ := AsSink(sink)
		assert.Equal(t, int64(10), stats.Stats().Buffers, "run %d", run)
		assert.True(t, stats.Stats().EOS)

		require.Equal(t, pipeline.StateChangeSuccess, p.SetState(pipeline.StateNull))
		assert.Equal(t, pipeline.StateNull, src.State())
		assert.Equal(t, pipeline.StateNull, sink.State())
		assert.True(t, src.StaticPad("src").IsLinked())
		popPipelineSteps(p.Bus(), p)
	}
}

// checkSMPTE verifies that every row of a frame shows the seven color bars.
func checkSMPTE(c *caps.Caps, data []byte) error {
	s := c.Structure(0)
	format, _ := s.Str("format")
	w64, _ := s.Int("width")
	h64, _ := s.Int("height")
	w, h := int(w64), int(h64)

	for y := range h {
		for x := range w {
			want := smpteBarColor(x, w)
			wantY, _, _ := want.yuv()
			switch format {
			case "RGB":
				i := (y*w + x) * 3
				if got := (rgb{data[i], data[i+1], data[i+2]}); got != want {
					return fmt.Errorf("pixel (%d,%d): got %v, want %v", x, y, got, want)
				}
			case "I420", "GRAY8":
				if got := data[y*w+x]; got != wantY {
					return fmt.Errorf("luma (%d,%d): got %d, want %d", x, y, got, wantY)
				}
			default:
				return fmt.Errorf("unexpected format %q", format)
			}
		}
	}
	return nil
}

func TestPatternPropertyShapesPayload(t *testing.T) {
	t.Parallel()
	reg := newTestRegistry(t)
	p := pipeline.NewPipeline("pattern")
	src := mk(t, reg, "test-source", "src", map[string]any{"num-buffers": 5})
	sink := mk(t, reg, "auto-sink", "sink", map[string]any{"sync": false})
	require.NoError(t, p.Add(src, sink))
	require.NoError(t, src.Link(sink))
	require.NoError(t, src.SetProperty("pattern", 0))
	rec := record(t, sink)
	shutdown(t, p)

	require.NotEqual(t, pipeline.StateChangeFailure, p.SetState(pipeline.StatePlaying))
	waitMessage(t, p.Bus(), pipeline.MessageEOS)

	c := sink.StaticPad("sink").CurrentCaps()
	require.NotNil(t, c)
	bufs := rec.all()
	require.Len(t, bufs, 5)
	for i, buf := range bufs {
		assert.NoError(t, checkSMPTE(c, buf.Data()), "buffer %d", i)
		assert.Equal(t, uint64(i), buf.Offset)
	}
}

func TestSeekOnSeekableSource(t *testing.T) {
	t.Parallel()
	reg := newTestRegistry(t)
	clock := pipeline.NewManualClock()
	p := pipeline.NewPipeline("seek", pipeline.WithClock(clock))
	src := mk(t, reg, "auto-source", "src", map[string]any{
		"uri": "test://video?duration=60s&key-interval=4s&framerate=25",
	})
	sink := mk(t, reg, "auto-sink", "sink", nil)
	require.NoError(t, p.Add(src, sink))
	src.OnPadAdded(func(_ *pipeline.Element, pad *pipeline.Pad) {
		if _, err := pipeline.LinkPads(pad, sink.StaticPad("sink")); err != nil {
			t.Errorf("link %s: %v", pad.FullName(), err)
		}
	})
	rec := record(t, sink)
	require.NoError(t, sink.SetProperty("signal-handoffs", false))
	shutdown(t, p)

	require.NotEqual(t, pipeline.StateChangeFailure, p.SetState(pipeline.StatePlaying))
	waitMessage(t, p.Bus(), pipeline.MessageStateChanged)
	waitState(t, p.Element, pipeline.StatePlaying)

	info, ok := p.QuerySeeking(media.FormatTime)
	require.True(t, ok)
	assert.True(t, info.Seekable)
	assert.Equal(t, int64(0), info.Start)
	assert.Equal(t, int64(media.Seconds(60)), info.End)

	clock.Advance(media.Seconds(11))
	require.Eventually(t, func() bool {
		pos, ok := p.QueryPosition(media.FormatTime)
		return ok && pos >= int64(media.Seconds(10))
	}, waitTimeout, 5*time.Millisecond)

	keyInterval := media.Seconds(4)
	target := media.Seconds(30)
	var positions []int64
	for i := range 2 {
		require.True(t, p.SeekSimple(media.FormatTime, media.SeekFlagFlush|media.SeekFlagKeyUnit, int64(target)))
		assert.Equal(t, i+1, rec.countEvents(media.EventFlushStart))
		assert.Equal(t, i+1, rec.countEvents(media.EventFlushStop))

		pos, ok := p.QueryPosition(media.FormatTime)
		require.True(t, ok)
		assert.GreaterOrEqual(t, pos, int64(target-keyInterval))
		assert.LessOrEqual(t, pos, int64(target))

		// Once the sink has the new segment it reports its start while the
		// clock stands still.
		require.Eventually(t, func() bool {
			pos, ok = p.QueryPosition(media.FormatTime)
			return ok && pos == int64(media.Seconds(28))
		}, waitTimeout, time.Millisecond)
		positions = append(positions, pos)
	}
	assert.Equal(t, int64(media.Seconds(28)), positions[0])
	assert.Equal(t, positions[0], positions[1])
}

func TestDurationBecomesKnown(t *testing.T) {
	t.Parallel()
	reg := newTestRegistry(t)
	p := pipeline.NewPipeline("duration")
	src := mk(t, reg, "auto-source", "src", map[string]any{"uri": "test://audio?duration=2s"})
	sink := mk(t, reg, "fake-sink", "sink", nil)
	require.NoError(t, p.Add(src, sink))
	src.OnPadAdded(func(_ *pipeline.Element, pad *pipeline.Pad) {
		if _, err := pipeline.LinkPads(pad, sink.StaticPad("sink")); err != nil {
			t.Errorf("link %s: %v", pad.FullName(), err)
		}
	})
	shutdown(t, p)

	_, ok := p.QueryDuration(media.FormatTime)
	assert.False(t, ok, "duration known before the source started")

	require.NotEqual(t, pipeline.StateChangeFailure, p.SetState(pipeline.StatePaused))
	m := waitMessage(t, p.Bus(), pipeline.MessageDurationChanged)
	assert.Equal(t, src, m.Source)
	waitState(t, p.Element, pipeline.StatePaused)

	d, ok := p.QueryDuration(media.FormatTime)
	require.True(t, ok)
	assert.Equal(t, int64(media.Seconds(2)), d)
}

func TestTeeBranchesAreDecoupled(t *testing.T) {
	t.Parallel()
	const n = 60

	for _, leaky := range []string{"no", "downstream"} {
		t.Run("leaky="+leaky, func(t *testing.T) {
			t.Parallel()
			reg := newTestRegistry(t)
			p := pipeline.NewPipeline("fanout")
			src := mk(t, reg, "test-source", "src", map[string]any{"num-buffers": n})
			filter := mk(t, reg, "caps-filter", "filter", map[string]any{"caps": smallGray})
			tee := mk(t, reg, "tee", "t", nil)
			qa := mk(t, reg, "queue", "qa", map[string]any{"max-size-buffers": 5, "leaky": leaky})
			qb := mk(t, reg, "queue", "qb", nil)
			a := mk(t, reg, "fake-sink", "a", nil)
			b := mk(t, reg, "fake-sink", "b", nil)
			require.NoError(t, p.Add(src, filter, tee, qa, qb, a, b))
			require.NoError(t, pipeline.LinkMany(src, filter, tee, qa, a))
			require.NoError(t, pipeline.LinkMany(tee, qb, b))
			ra, rb := record(t, a), record(t, b)
			shutdown(t, p)
			release := ra.hold()
			t.Cleanup(release)

			require.NotEqual(t, pipeline.StateChangeFailure, p.SetState(pipeline.StatePlaying))
			waitState(t, p.Element, pipeline.StatePlaying)

			require.Eventually(t, func() bool {
				return qa.PropUint64("current-level-buffers") == 5 && rb.count() >= 5
			}, waitTimeout, 5*time.Millisecond, "branch B starved while A is held")

			if leaky == "downstream" {
				bs, _ := AsSink(b)
				require.Eventually(t, func() bool { return bs.Stats().EOS }, waitTimeout, 5*time.Millisecond)
				assert.Equal(t, n, rb.count())
			}

			release()
			waitMessage(t, p.Bus(), pipeline.MessageEOS)
			assert.Equal(t, n, rb.count())

			qs, ok := QueueStatsOf(qa)
			require.True(t, ok)
			if leaky == "no" {
				assert.Equal(t, n, ra.count())
				assert.Zero(t, qs.Dropped)
			} else {
				assert.Positive(t, qs.Dropped)
				assert.Equal(t, int64(n), int64(ra.count())+qs.Dropped)
			}

			ts, ok := TeeStatsOf(tee)
			require.True(t, ok)
			assert.Equal(t, int64(n), ts.Received)
			require.Len(t, ts.Branches, 2)
			for _, br := range ts.Branches {
				assert.Equal(t, int64(n), br.Sent, br.Pad)
			}
		})
	}
}

type fixedPads struct {
	tmpl *pipeline.PadTemplate
}

func (f *fixedPads) Init(e *pipeline.Element) error {
	e.AddPadTemplate(f.tmpl)
	return e.AddPad(pipeline.NewPadFromTemplate(f.tmpl, f.tmpl.NameTemplate))
}

func TestIncompatibleLinkFailsWithoutMessages(t *testing.T) {
	t.Parallel()
	p := pipeline.NewPipeline("mismatch")
	src, err := pipeline.NewElement("a", &fixedPads{
		tmpl: pipeline.NewPadTemplate("src", pipeline.PadSrc, pipeline.PadAlways, caps.MustParse("media/a")),
	})
	require.NoError(t, err)
	sink, err := pipeline.NewElement("b", &fixedPads{
		tmpl: pipeline.NewPadTemplate("sink", pipeline.PadSink, pipeline.PadAlways, caps.MustParse("media/b")),
	})
	require.NoError(t, err)
	require.NoError(t, p.Add(src, sink))

	err = src.Link(sink)
	require.ErrorIs(t, err, pipeline.ErrNegotiationImpossible)
	var le *pipeline.LinkError
	assert.ErrorAs(t, err, &le)
	assert.False(t, src.StaticPad("src").IsLinked())
	assert.Zero(t, p.Bus().Len())
}
