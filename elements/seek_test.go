package elements

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zsiec/mediagraph/media"
	"github.com/zsiec/mediagraph/pipeline"
)

func TestSegmentSeekPostsSegmentDone(t *testing.T) {
	t.Parallel()
	reg := newTestRegistry(t)
	p := pipeline.NewPipeline("segment")
	src := mk(t, reg, "test-source", "src", map[string]any{"num-buffers": 30})
	filter := mk(t, reg, "caps-filter", "filter", map[string]any{"caps": smallGray})
	sink := mk(t, reg, "fake-sink", "sink", map[string]any{"sync": false})
	require.NoError(t, p.Add(src, filter, sink))
	require.NoError(t, pipeline.LinkMany(src, filter, sink))
	rec := record(t, sink)
	shutdown(t, p)

	require.NotEqual(t, pipeline.StateChangeFailure, p.SetState(pipeline.StatePaused))
	waitState(t, p.Element, pipeline.StatePaused)

	stop := 200 * media.Millisecond
	require.True(t, p.Seek(1.0, media.FormatTime, media.SeekFlagFlush|media.SeekFlagSegment,
		media.SeekTypeSet, 0, media.SeekTypeSet, int64(stop)))
	waitState(t, p.Element, pipeline.StatePaused)
	require.NotEqual(t, pipeline.StateChangeFailure, p.SetState(pipeline.StatePlaying))

	m := waitMessage(t, p.Bus(), pipeline.MessageSegmentDone|pipeline.MessageEOS)
	require.Equal(t, pipeline.MessageSegmentDone, m.Type)
	assert.Equal(t, media.FormatTime, m.Format)
	assert.Equal(t, int64(stop), m.Position)

	require.Eventually(t, func() bool { return rec.countEvents(media.EventSegmentDone) == 1 },
		waitTimeout, time.Millisecond)
	assert.Zero(t, rec.countEvents(media.EventEOS))
	for _, buf := range rec.all() {
		assert.Less(t, buf.PTS, stop)
	}
}

func TestAccurateKeyUnitSeekKeepsTarget(t *testing.T) {
	t.Parallel()
	reg := newTestRegistry(t)
	p := pipeline.NewPipeline("accurate")
	src := mk(t, reg, "auto-source", "src", map[string]any{
		"uri": "test://video?duration=60s&key-interval=4s&framerate=25",
	})
	sink := mk(t, reg, "fake-sink", "sink", map[string]any{"sync": false})
	require.NoError(t, p.Add(src, sink))
	src.OnPadAdded(func(_ *pipeline.Element, pad *pipeline.Pad) {
		if _, err := pipeline.LinkPads(pad, sink.StaticPad("sink")); err != nil {
			t.Errorf("link %s: %v", pad.FullName(), err)
		}
	})
	rec := record(t, sink)
	shutdown(t, p)

	require.NotEqual(t, pipeline.StateChangeFailure, p.SetState(pipeline.StatePaused))
	waitState(t, p.Element, pipeline.StatePaused)

	target, stop := media.Seconds(30), media.Seconds(31)
	require.True(t, p.Seek(1.0, media.FormatTime,
		media.SeekFlagFlush|media.SeekFlagKeyUnit|media.SeekFlagAccurate,
		media.SeekTypeSet, int64(target), media.SeekTypeSet, int64(stop)))

	// Decoding restarts at the 28s key unit, but the segment and so the
	// reported position stay at the target.
	require.Eventually(t, func() bool {
		pos, ok := p.QueryPosition(media.FormatTime)
		return ok && pos == int64(target)
	}, waitTimeout, time.Millisecond)

	require.NotEqual(t, pipeline.StateChangeFailure, p.SetState(pipeline.StatePlaying))
	waitMessage(t, p.Bus(), pipeline.MessageEOS)

	bufs := rec.all()
	require.Len(t, bufs, 25)
	assert.Equal(t, target, bufs[0].PTS)
	assert.Equal(t, stop-40*media.Millisecond, bufs[len(bufs)-1].PTS)
	sk, _ := AsSink(sink)
	assert.Equal(t, int64(50), sk.Stats().Dropped, "lead-in from the key unit is clipped")
}

func TestLiveSourceSkipsPreroll(t *testing.T) {
	t.Parallel()
	reg := newTestRegistry(t)
	p := pipeline.NewPipeline("live")
	src := mk(t, reg, "test-source", "src", map[string]any{"is-live": true})
	filter := mk(t, reg, "caps-filter", "filter", map[string]any{"caps": smallGray})
	sink := mk(t, reg, "fake-sink", "sink", nil)
	require.NoError(t, p.Add(src, filter, sink))
	require.NoError(t, pipeline.LinkMany(src, filter, sink))
	rec := record(t, sink)
	shutdown(t, p)

	assert.Equal(t, pipeline.StateChangeNoPreroll, p.SetState(pipeline.StatePaused))
	cur, pending, ret := p.GetState(0)
	assert.Equal(t, pipeline.StatePaused, cur)
	assert.Equal(t, pipeline.StateVoidPending, pending)
	assert.Equal(t, pipeline.StateChangeNoPreroll, ret)
	assert.Zero(t, rec.count(), "a live source produces nothing in PAUSED")

	info, _ := p.QuerySeeking(media.FormatTime)
	assert.False(t, info.Seekable)

	require.NotEqual(t, pipeline.StateChangeFailure, p.SetState(pipeline.StatePlaying))
	require.Eventually(t, func() bool { return rec.count() > 0 }, waitTimeout, 5*time.Millisecond)
}
