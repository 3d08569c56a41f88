package elements

import (
	"errors"
	"fmt"
	"io"
	"net/url"
	"os"
	"sort"
	"strings"
	"sync"

	"github.com/spf13/cast"

	"github.com/zsiec/mediagraph/caps"
	"github.com/zsiec/mediagraph/media"
	"github.com/zsiec/mediagraph/pipeline"
)

// autoSource opens a URI and exposes one sometimes pad per stream it
// finds: video_%u and audio_%u. Streams are discovered on the streaming
// thread after READY to PAUSED, so the duration is unknown until then and
// a duration-changed message is posted once it is.
//
// Supported URIs:
//
//	test://video|audio|av?duration=60s&key-interval=4s&framerate=25
//	file:///path/to/recording (written by frame-sink)
type autoSource struct {
	e    *pipeline.Element
	core srcCore

	mu    sync.Mutex
	dur   media.ClockTime
	prefs map[*pipeline.Pad]*caps.Caps
}

func newAutoSource() pipeline.Impl { return &autoSource{} }

func (a *autoSource) Init(e *pipeline.Element) error {
	a.e = e
	a.dur = media.ClockTimeNone
	a.core.setup(e, a)
	return nil
}

func (a *autoSource) ChangeState(tr pipeline.StateChange) pipeline.StateChangeReturn {
	if tr == pipeline.NullToReady {
		if _, err := parseSourceURI(a.e.PropString("uri")); err != nil {
			a.e.PostError(pipeline.DomainResource, err, "cannot open uri")
			return pipeline.StateChangeFailure
		}
	}
	return a.core.changeState(tr)
}

// PreferredCaps returns the format of the stream behind pad.
func (a *autoSource) PreferredCaps(pad *pipeline.Pad) *caps.Caps {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.prefs[pad]
}

type sourceURI struct {
	scheme      string
	kinds       []string
	path        string
	duration    media.ClockTime
	keyInterval media.ClockTime
	framerate   int
}

func parseSourceURI(raw string) (sourceURI, error) {
	u, err := url.Parse(raw)
	if err != nil || raw == "" {
		return sourceURI{}, fmt.Errorf("%w: %q", ErrBadURI, raw)
	}
	src := sourceURI{scheme: u.Scheme}
	switch u.Scheme {
	case "file":
		src.path = u.Path
		if src.path == "" {
			return src, fmt.Errorf("%w: %q has no path", ErrBadURI, raw)
		}
		return src, nil
	case "test":
	default:
		return src, fmt.Errorf("%w: scheme %q", ErrBadURI, u.Scheme)
	}

	switch u.Host {
	case "video", "audio":
		src.kinds = []string{u.Host}
	case "av", "":
		src.kinds = []string{"video", "audio"}
	default:
		return src, fmt.Errorf("%w: unknown test stream %q", ErrBadURI, u.Host)
	}
	q := u.Query()
	src.duration = media.ClockTimeNone
	if v := q.Get("duration"); v != "" {
		d, err := cast.ToDurationE(v)
		if err != nil {
			return src, fmt.Errorf("%w: duration %q", ErrBadURI, v)
		}
		src.duration = media.FromDuration(d)
	}
	src.keyInterval = media.Seconds(1)
	if v := q.Get("key-interval"); v != "" {
		d, err := cast.ToDurationE(v)
		if err != nil {
			return src, fmt.Errorf("%w: key-interval %q", ErrBadURI, v)
		}
		src.keyInterval = media.FromDuration(d)
	}
	src.framerate = 30
	if v := q.Get("framerate"); v != "" {
		n, err := cast.ToIntE(v)
		if err != nil || n <= 0 {
			return src, fmt.Errorf("%w: framerate %q", ErrBadURI, v)
		}
		src.framerate = n
	}
	return src, nil
}

// prepare discovers the streams of the URI and adds their pads.
func (a *autoSource) prepare() error {
	src, err := parseSourceURI(a.e.PropString("uri"))
	if err != nil {
		return err
	}
	a.mu.Lock()
	a.prefs = make(map[*pipeline.Pad]*caps.Caps)
	a.mu.Unlock()

	var dur media.ClockTime
	switch src.scheme {
	case "file":
		dur, err = a.openRecording(src.path)
		if err != nil {
			return err
		}
	default:
		dur = src.duration
		limit := func() media.ClockTime { return src.duration }
		for _, kind := range src.kinds {
			var gen streamer
			var pref *caps.Caps
			switch kind {
			case "video":
				gen = newVideoGen(func() int { return PatternSMPTE }, src.keyInterval, limit)
				pref = caps.MustParse(fmt.Sprintf(
					"video/x-raw, format=(string)I420, width=(int)320, height=(int)240, framerate=(fraction)%d/1", src.framerate))
			case "audio":
				gen = newAudioGen(defaultTone, limit)
				pref = caps.MustParse("audio/x-raw, rate=(int)48000, channels=(int)2")
			}
			if err := a.addStream(kind, gen, pref); err != nil {
				return err
			}
		}
	}

	a.mu.Lock()
	a.dur = dur
	a.mu.Unlock()
	a.e.NoMorePads()
	if dur.IsValid() {
		a.e.PostMessage(pipeline.NewDurationChangedMessage(a.e))
	}
	return nil
}

func (a *autoSource) addStream(kind string, gen streamer, pref *caps.Caps) error {
	tmpl := a.e.PadTemplate(kind + "_%u")
	pad := pipeline.NewPadFromTemplate(tmpl, tmpl.PadName(0))
	a.mu.Lock()
	a.prefs[pad] = pref
	a.mu.Unlock()
	a.e.Log().Debug("stream found", "pad", pad.Name(), "caps", pref)
	return a.core.addStream(pad, gen)
}

// openRecording loads a frame-sink recording and returns its length.
func (a *autoSource) openRecording(path string) (media.ClockTime, error) {
	f, err := os.Open(path)
	if err != nil {
		return 0, fmt.Errorf("open recording: %w", err)
	}
	defer f.Close()

	rec := &recordStream{}
	rr := media.NewRecordReader(f)
	for {
		r, err := rr.Next()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return 0, fmt.Errorf("read recording %s: %w", path, err)
		}
		switch r.Type {
		case media.RecordCaps:
			if rec.caps == nil {
				c, err := caps.Parse(r.Caps)
				if err != nil {
					return 0, fmt.Errorf("recording caps: %w", err)
				}
				rec.caps = c
			}
		case media.RecordBuffer:
			rec.buffers = append(rec.buffers, r.Buffer)
		}
	}
	if rec.caps == nil {
		return 0, fmt.Errorf("%w: %s has no caps record", ErrBadURI, path)
	}
	sort.SliceStable(rec.buffers, func(i, j int) bool { return rec.buffers[i].PTS < rec.buffers[j].PTS })

	kind := "video"
	if strings.HasPrefix(rec.caps.Structure(0).Name(), "audio/") {
		kind = "audio"
	}
	if err := a.addStream(kind, rec, rec.caps); err != nil {
		return 0, err
	}
	return rec.duration(), nil
}

func (a *autoSource) duration() media.ClockTime {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.dur
}

func (a *autoSource) live() bool { return false }

func (a *autoSource) reset() {
	a.core.removeStreams()
	a.mu.Lock()
	a.dur = media.ClockTimeNone
	a.prefs = nil
	a.mu.Unlock()
}

// recordStream replays buffers loaded from a recording.
type recordStream struct {
	caps    *caps.Caps
	buffers []*media.Buffer
}

func (r *recordStream) setCaps(c *caps.Caps) error {
	if !c.CanIntersect(r.caps) {
		return fmt.Errorf("recording is %s, asked for %s", r.caps, c)
	}
	return nil
}

func (r *recordStream) next(pos media.ClockTime) (*media.Buffer, pipeline.FlowReturn) {
	i := sort.Search(len(r.buffers), func(i int) bool {
		pts := r.buffers[i].PTS
		return !pts.IsValid() || pts >= pos
	})
	if i == len(r.buffers) {
		return nil, pipeline.FlowEOS
	}
	return r.buffers[i].Ref(), pipeline.FlowOK
}

func (r *recordStream) keyUnit(pos media.ClockTime) media.ClockTime {
	best := media.ClockTime(0)
	for _, b := range r.buffers {
		if !b.PTS.IsValid() || b.PTS > pos {
			break
		}
		if b.IsKeyframe() {
			best = b.PTS
		}
	}
	return best
}

func (r *recordStream) duration() media.ClockTime {
	if len(r.buffers) == 0 {
		return 0
	}
	last := r.buffers[len(r.buffers)-1]
	if end := last.End(); end.IsValid() {
		return end
	}
	return last.PTS
}
