package elements

import (
	"github.com/zsiec/mediagraph/caps"
	"github.com/zsiec/mediagraph/media"
	"github.com/zsiec/mediagraph/pipeline"
)

// fakeSink discards what it receives. The auto sinks are fake sinks that
// synchronize against the clock by default and log what they would show.
type fakeSink struct {
	baseSink
}

func newFakeSink() pipeline.Impl { return &fakeSink{} }

func (f *fakeSink) Init(e *pipeline.Element) error {
	return f.setup(e, f)
}

func (f *fakeSink) render(buf *media.Buffer) pipeline.FlowReturn {
	if !f.e.PropBool("silent") {
		f.log.Debug("render", "pts", buf.PTS, "duration", buf.Duration, "size", buf.Size(),
			"keyframe", buf.IsKeyframe())
	}
	return pipeline.FlowOK
}

func (f *fakeSink) setCaps(c *caps.Caps) error {
	f.log.Debug("caps", "caps", c)
	return nil
}

func (f *fakeSink) eos() {}
