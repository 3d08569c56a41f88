package elements

import (
	"github.com/zsiec/mediagraph/caps"
	"github.com/zsiec/mediagraph/media"
	"github.com/zsiec/mediagraph/pipeline"
)

// testSource produces raw video test patterns. With num-buffers set it has
// a known duration and ends with EOS; with is-live it paces itself against
// the pipeline clock and only produces in PLAYING.
type testSource struct {
	e     *pipeline.Element
	core  srcCore
	video *videoGen
}

func newTestSource() pipeline.Impl { return &testSource{} }

func (t *testSource) Init(e *pipeline.Element) error {
	t.e = e
	t.video = newVideoGen(func() int { return e.PropEnum("pattern") }, 0, nil)
	t.core.setup(e, t)
	return t.core.addStream(pipeline.NewPadFromTemplate(e.PadTemplate("src"), "src"), t.video)
}

func (t *testSource) ChangeState(tr pipeline.StateChange) pipeline.StateChangeReturn {
	return t.core.changeState(tr)
}

// PreferredCaps picks 320x240 at 30 fps when downstream leaves it open.
func (t *testSource) PreferredCaps(*pipeline.Pad) *caps.Caps {
	return caps.MustParse("video/x-raw, width=(int)320, height=(int)240, framerate=(fraction)30/1")
}

func (t *testSource) prepare() error { return nil }

func (t *testSource) duration() media.ClockTime {
	n := t.e.PropInt("num-buffers")
	if n < 0 {
		return media.ClockTimeNone
	}
	return media.ClockTime(n) * t.video.frameDuration()
}

func (t *testSource) live() bool { return t.e.PropBool("is-live") }

func (t *testSource) reset() {}
