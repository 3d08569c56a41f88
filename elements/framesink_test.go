package elements

import (
	"bytes"
	"context"
	"errors"
	"io"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zsiec/mediagraph/media"
	"github.com/zsiec/mediagraph/pipeline"
)

func runPipeline(t *testing.T, p *pipeline.Pipeline) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), waitTimeout)
	defer cancel()
	require.NoError(t, p.Run(ctx))
}

func TestFrameSinkWritesRecords(t *testing.T) {
	t.Parallel()
	reg := newTestRegistry(t)
	p := pipeline.NewPipeline("record")
	src := mk(t, reg, "test-source", "src", map[string]any{"num-buffers": 4})
	filter := mk(t, reg, "caps-filter", "filter", map[string]any{"caps": smallGray})
	sink := mk(t, reg, "frame-sink", "sink", nil)
	require.NoError(t, p.Add(src, filter, sink))
	require.NoError(t, pipeline.LinkMany(src, filter, sink))

	var out bytes.Buffer
	require.NoError(t, SetFrameSinkWriter(sink, &out))
	runPipeline(t, p)

	rr := media.NewRecordReader(&out)
	var types []uint64
	var offsets []uint64
	for {
		r, err := rr.Next()
		if errors.Is(err, io.EOF) {
			break
		}
		require.NoError(t, err)
		types = append(types, r.Type)
		if r.Type == media.RecordBuffer {
			offsets = append(offsets, r.Buffer.Offset)
			assert.Equal(t, 16*16, r.Buffer.Size())
		}
		if r.Type == media.RecordCaps {
			assert.Contains(t, r.Caps, "GRAY8")
		}
	}
	require.NotEmpty(t, types)
	assert.Equal(t, media.RecordCaps, types[0])
	assert.Equal(t, media.RecordEOS, types[len(types)-1])
	assert.Equal(t, []uint64{0, 1, 2, 3}, offsets)
}

func TestSetFrameSinkWriterNeedsFrameSink(t *testing.T) {
	t.Parallel()
	reg := newTestRegistry(t)
	fake := mk(t, reg, "fake-sink", "fake", nil)
	assert.Error(t, SetFrameSinkWriter(fake, io.Discard))
}

func TestRecordingPlaysBack(t *testing.T) {
	t.Parallel()
	reg := newTestRegistry(t)
	path := filepath.Join(t.TempDir(), "bars.mgf")

	rec := pipeline.NewPipeline("record")
	src := mk(t, reg, "test-source", "src", map[string]any{"num-buffers": 6, "pattern": "snow"})
	filter := mk(t, reg, "caps-filter", "filter", map[string]any{"caps": smallGray})
	fs := mk(t, reg, "frame-sink", "out", map[string]any{"location": path})
	require.NoError(t, rec.Add(src, filter, fs))
	require.NoError(t, pipeline.LinkMany(src, filter, fs))
	written := record(t, fs)
	runPipeline(t, rec)
	want := written.all()
	require.Len(t, want, 6)

	play := pipeline.NewPipeline("play")
	in := mk(t, reg, "auto-source", "in", map[string]any{"uri": "file://" + path})
	sink := mk(t, reg, "fake-sink", "sink", nil)
	require.NoError(t, play.Add(in, sink))
	in.OnPadAdded(func(_ *pipeline.Element, pad *pipeline.Pad) {
		assert.Equal(t, "video_0", pad.Name())
		if _, err := pipeline.LinkPads(pad, sink.StaticPad("sink")); err != nil {
			t.Errorf("link %s: %v", pad.FullName(), err)
		}
	})
	got := record(t, sink)
	runPipeline(t, play)

	bufs := got.all()
	require.Len(t, bufs, len(want))
	for i := range want {
		assert.Equal(t, want[i].PTS, bufs[i].PTS, "buffer %d", i)
		assert.Equal(t, want[i].Offset, bufs[i].Offset, "buffer %d", i)
		assert.Equal(t, want[i].IsKeyframe(), bufs[i].IsKeyframe(), "buffer %d", i)
		assert.True(t, bytes.Equal(want[i].Data(), bufs[i].Data()), "buffer %d payload", i)
	}
	c := got.lastCaps()
	require.NotNil(t, c)
	assert.Contains(t, c.String(), "GRAY8")
}
