package elements

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/zsiec/mediagraph/caps"
	"github.com/zsiec/mediagraph/media"
	"github.com/zsiec/mediagraph/pipeline"
)

var (
	// ErrStreamStopped is posted when a source stops on a fatal flow return.
	ErrStreamStopped = errors.New("elements: streaming stopped")
	// ErrNotNegotiated is posted when a source finds no format its peer accepts.
	ErrNotNegotiated = errors.New("elements: not negotiated")
	// ErrBadURI is returned for URIs auto-source cannot open.
	ErrBadURI = errors.New("elements: unsupported uri")
)

// streamer produces the buffers of one source output.
type streamer interface {
	// setCaps configures the output for the negotiated format.
	setCaps(c *caps.Caps) error
	// next returns the buffer starting at or after pos. FlowEOS ends the
	// output.
	next(pos media.ClockTime) (*media.Buffer, pipeline.FlowReturn)
	// keyUnit returns the start of the key unit containing pos.
	keyUnit(pos media.ClockTime) media.ClockTime
}

// sourceHooks is the part of a source that differs between kinds.
type sourceHooks interface {
	// prepare runs on the streaming thread before the first buffer after
	// READY to PAUSED. Sources with sometimes pads add them here.
	prepare() error
	// duration returns the stream length, or ClockTimeNone.
	duration() media.ClockTime
	// live reports whether the source captures in real time.
	live() bool
	// reset undoes prepare on PAUSED to READY.
	reset()
}

// srcStream is one output pad of a source and its progress.
type srcStream struct {
	pad     *pipeline.Pad
	gen     streamer
	pos     media.ClockTime
	started bool
	needSeg bool
	discont bool
	done    bool
}

// srcCore drives one or more source pads from a single streaming task: it
// starts streams, negotiates their formats, pushes segments, interleaves
// buffers by timestamp, paces live output against the clock and handles
// seeks.
type srcCore struct {
	e     *pipeline.Element
	log   *slog.Logger
	hooks sourceHooks
	task  *pipeline.Task

	streamLock sync.Mutex // held by the task for each iteration

	mu        sync.Mutex
	streams   []*srcStream
	segment   media.Segment
	lastSeek  uint32
	produced  int64
	prepared  bool
	isLive    bool
	segDone   bool
	cancel    chan struct{} // closed to wake a live source waiting on the clock
}

func (s *srcCore) setup(e *pipeline.Element, hooks sourceHooks) {
	s.e = e
	s.log = e.Log()
	s.hooks = hooks
	s.segment = media.NewSegment()
	s.cancel = make(chan struct{})
	s.task = pipeline.NewTask(e.Name(), &s.streamLock, s.loop, func(st pipeline.StreamStatus) {
		e.PostMessage(pipeline.NewStreamStatusMessage(e, st))
	})
	e.SetFlags(pipeline.FlagSource)
}

// addStream installs the source handlers on pad and adds it to the element
// unless it already belongs to it.
func (s *srcCore) addStream(pad *pipeline.Pad, gen streamer) error {
	pad.SetEventFunc(s.srcEvent)
	pad.SetQueryFunc(s.srcQuery)
	s.mu.Lock()
	s.streams = append(s.streams, &srcStream{pad: pad, gen: gen, pos: s.segment.Start, needSeg: true})
	s.mu.Unlock()
	if pad.Parent() == nil {
		return s.e.AddPad(pad)
	}
	return nil
}

func (s *srcCore) removeStreams() {
	s.mu.Lock()
	streams := s.streams
	s.streams = nil
	s.mu.Unlock()
	for _, st := range streams {
		if st.pad.Presence() != pipeline.PadAlways {
			s.e.RemovePad(st.pad)
		}
	}
}

func (s *srcCore) changeState(tr pipeline.StateChange) pipeline.StateChangeReturn {
	switch tr {
	case pipeline.ReadyToPaused:
		s.mu.Lock()
		s.segment = media.NewSegment()
		s.produced = 0
		s.prepared = false
		s.segDone = false
		s.lastSeek = 0
		s.cancel = make(chan struct{})
		s.isLive = s.hooks.live()
		for _, st := range s.streams {
			*st = srcStream{pad: st.pad, gen: st.gen, needSeg: true}
		}
		live := s.isLive
		s.mu.Unlock()
		if live {
			s.e.SetFlags(pipeline.FlagLive)
			return pipeline.StateChangeNoPreroll
		}
		s.e.ClearFlags(pipeline.FlagLive)
		s.task.Start()
	case pipeline.PausedToPlaying:
		if s.isLiveNow() {
			s.task.Start()
		}
	case pipeline.PlayingToPaused:
		if s.isLiveNow() {
			s.task.Pause()
			s.interrupt()
			return pipeline.StateChangeNoPreroll
		}
	case pipeline.PausedToReady:
		s.interrupt()
		s.task.Stop()
		s.task.Join()
		s.hooks.reset()
	}
	return pipeline.StateChangeSuccess
}

func (s *srcCore) interrupt() {
	s.mu.Lock()
	close(s.cancel)
	s.cancel = make(chan struct{})
	s.mu.Unlock()
}

func (s *srcCore) isLiveNow() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.isLive
}

// loop is one iteration of the streaming task.
func (s *srcCore) loop() {
	s.mu.Lock()
	prepared := s.prepared
	s.mu.Unlock()
	if !prepared {
		if err := s.hooks.prepare(); err != nil {
			s.e.PostError(pipeline.DomainResource, err, "could not start source")
			s.stop(pipeline.FlowError, false)
			return
		}
		s.mu.Lock()
		s.prepared = true
		s.mu.Unlock()
	}

	st := s.pick()
	if st == nil {
		s.finish()
		return
	}
	if !st.started {
		if ret := s.startStream(st); ret != pipeline.FlowOK {
			s.stop(ret, true)
			return
		}
	}

	s.mu.Lock()
	seg := s.segment
	needSeg := st.needSeg
	st.needSeg = false
	limit := s.e.PropInt("num-buffers")
	exhausted := limit >= 0 && s.produced >= limit
	pastStop := seg.Stop.IsValid() && st.pos >= seg.Stop
	s.mu.Unlock()

	if needSeg {
		st.pad.PushEvent(media.NewSegmentEvent(seg))
	}
	if exhausted || pastStop {
		s.endStream(st)
		return
	}

	buf, ret := st.gen.next(st.pos)
	switch {
	case ret == pipeline.FlowEOS:
		s.endStream(st)
		return
	case ret != pipeline.FlowOK:
		s.stop(ret, true)
		return
	}
	if s.isLiveNow() && !s.waitLive(seg, buf.PTS) {
		return
	}

	s.mu.Lock()
	if st.discont {
		buf.Flags |= media.FlagDiscont
		st.discont = false
	}
	if end := buf.End(); end.IsValid() {
		st.pos = end
	} else if buf.PTS.IsValid() {
		st.pos = buf.PTS + 1
	}
	s.produced++
	s.mu.Unlock()

	switch ret = st.pad.Push(buf); ret {
	case pipeline.FlowOK:
	case pipeline.FlowNotLinked:
		s.log.Debug("output not linked, skipping", "pad", st.pad.Name())
		s.mu.Lock()
		st.done = true
		s.mu.Unlock()
		if !s.anyLinked() {
			s.stop(ret, true)
		}
	default:
		s.stop(ret, true)
	}
}

func (s *srcCore) anyLinked() bool {
	s.mu.Lock()
	streams := append([]*srcStream(nil), s.streams...)
	s.mu.Unlock()
	for _, st := range streams {
		if st.pad.IsLinked() {
			return true
		}
	}
	return false
}

// pick returns the unfinished stream furthest behind, or nil when all are
// done.
func (s *srcCore) pick() *srcStream {
	s.mu.Lock()
	defer s.mu.Unlock()
	var best *srcStream
	for _, st := range s.streams {
		if st.done {
			continue
		}
		if best == nil || st.pos < best.pos {
			best = st
		}
	}
	return best
}

func (s *srcCore) startStream(st *srcStream) pipeline.FlowReturn {
	id := fmt.Sprintf("%s/%s", s.e.ID(), st.pad.Name())
	st.pad.PushEvent(media.NewStreamStartEvent(id))

	c := st.pad.CurrentCaps()
	if c == nil {
		c = st.pad.PeerQueryCaps(st.pad.TemplateCaps())
		if pref, ok := s.e.Impl().(pipeline.CapsPreferrer); ok {
			if pc := pref.PreferredCaps(st.pad); !pc.IsEmpty() {
				if x := pc.Intersect(c); !x.IsEmpty() {
					c = x
				}
			}
		}
		c = c.Fixate()
	}
	if c.IsEmpty() || !c.IsFixed() {
		s.e.PostError(pipeline.DomainStream, fmt.Errorf("%w: %s", ErrNotNegotiated, st.pad.FullName()), "no fixed format")
		return pipeline.FlowNotNegotiated
	}
	if err := st.gen.setCaps(c); err != nil {
		s.e.PostError(pipeline.DomainStream, fmt.Errorf("%w: %v", ErrNotNegotiated, err), c.String())
		return pipeline.FlowNotNegotiated
	}
	if !st.pad.PushEvent(media.NewCapsEvent(c)) {
		if peer := st.pad.Peer(); st.pad.IsFlushing() || (peer != nil && peer.IsFlushing()) {
			return pipeline.FlowFlushing
		}
		return pipeline.FlowNotNegotiated
	}
	s.mu.Lock()
	st.started = true
	s.mu.Unlock()
	return pipeline.FlowOK
}

// endStream finishes one output: EOS normally, segment-done after a
// segment seek.
func (s *srcCore) endStream(st *srcStream) {
	s.mu.Lock()
	st.done = true
	segmentSeek := s.segment.Flags&media.SegmentNoEOS != 0
	pos := st.pos
	s.mu.Unlock()
	if segmentSeek {
		st.pad.PushEvent(media.NewSegmentDoneEvent(pos))
		return
	}
	st.pad.PushEvent(media.NewEOSEvent())
}

// finish runs when every output is done.
func (s *srcCore) finish() {
	s.mu.Lock()
	post := s.segment.Flags&media.SegmentNoEOS != 0 && !s.segDone
	s.segDone = true
	stop := s.segment.Stop
	if !stop.IsValid() {
		stop = s.hooks.duration()
	}
	s.mu.Unlock()
	if post {
		s.e.PostMessage(pipeline.NewSegmentDoneMessage(s.e, media.FormatTime, int64(stop)))
	}
	s.log.Debug("all outputs done, pausing task")
	s.task.Pause()
}

// stop pauses the task after a flow return that ends streaming. Fatal
// returns are posted as errors; outputs then get EOS so sinks drain.
func (s *srcCore) stop(ret pipeline.FlowReturn, post bool) {
	s.log.Debug("pausing task", "reason", ret)
	s.task.Pause()
	s.mu.Lock()
	streams := append([]*srcStream(nil), s.streams...)
	s.mu.Unlock()
	if ret == pipeline.FlowFlushing {
		return
	}
	if post && (ret.IsFatal() || ret == pipeline.FlowNotLinked) {
		s.e.Metrics().FlowError(s.e.Name(), ret.String())
		s.e.PostError(pipeline.DomainStream, fmt.Errorf("%w: reason %s", ErrStreamStopped, ret), "streaming task paused")
	}
	for _, st := range streams {
		st.pad.PushEvent(media.NewEOSEvent())
	}
}

// waitLive blocks until the running time reaches pts. It returns false if
// woken by a flush or shutdown.
func (s *srcCore) waitLive(seg media.Segment, pts media.ClockTime) bool {
	rt := seg.ToRunningTime(pts)
	clock := s.e.Clock()
	base, playing := s.e.BaseTime()
	if !rt.IsValid() || clock == nil || !playing {
		return true
	}
	s.mu.Lock()
	cancel := s.cancel
	s.mu.Unlock()
	return clock.WaitUntil(base+rt, cancel)
}

func (s *srcCore) srcEvent(pad *pipeline.Pad, ev *media.Event) bool {
	if ev.Type == media.EventSeek {
		return s.seek(ev)
	}
	return true
}

// seek repositions every output. A flushing seek sends flush-start, waits
// for the streaming thread to let go, installs the new segment and sends
// flush-stop; the task then resumes from the new position. Seeks with the
// sequence number of the previous one are already done.
func (s *srcCore) seek(ev *media.Event) bool {
	p := ev.Seek
	if p == nil || p.Format != media.FormatTime {
		return false
	}
	if s.e.TargetState() < pipeline.StatePaused {
		return false
	}
	s.mu.Lock()
	if s.isLive || len(s.streams) == 0 {
		s.mu.Unlock()
		return false
	}
	if ev.Seqnum == s.lastSeek {
		s.mu.Unlock()
		return true
	}
	s.lastSeek = ev.Seqnum
	streams := append([]*srcStream(nil), s.streams...)
	s.mu.Unlock()

	flush := p.Flags.Has(media.SeekFlagFlush)
	if flush {
		for _, st := range streams {
			st.pad.PushEvent(media.NewFlushStartEvent().WithSeqnum(ev.Seqnum))
		}
	} else {
		s.task.Pause()
	}

	s.streamLock.Lock()
	dur := s.hooks.duration()
	s.mu.Lock()
	old := s.segment
	seg := old
	seg.Rate = p.Rate
	if seg.Rate == 0 {
		seg.Rate = 1
	}
	start := resolveSeekPos(p.StartType, p.Start, s.position(), dur)
	// Generation resumes at from. An accurate key-unit seek still starts at
	// the key unit but keeps the segment at the target, so sinks clip the
	// lead-in.
	from := start
	if p.Flags.Has(media.SeekFlagKeyUnit) {
		for _, st := range s.streams {
			from = min(from, st.gen.keyUnit(start))
		}
		if !p.Flags.Has(media.SeekFlagAccurate) {
			start = from
		}
	}
	if p.StopType != media.SeekTypeNone {
		seg.Stop = resolveSeekPos(p.StopType, p.Stop, old.Stop, dur)
	}
	seg.Flags = 0
	if flush {
		seg.Flags |= media.SegmentReset
		seg.Base = 0
	} else if rt := old.ToRunningTime(s.position()); rt.IsValid() {
		seg.Base = rt
	}
	if p.Flags.Has(media.SeekFlagSegment) {
		seg.Flags |= media.SegmentNoEOS
	}
	seg.Start, seg.Time, seg.Position = start, start, start
	s.segment = seg
	s.segDone = false
	for _, st := range s.streams {
		st.pos = from
		st.needSeg = true
		st.discont = true
		st.done = false
	}
	s.mu.Unlock()
	s.log.Debug("seek", "flags", p.Flags, "target", media.ClockTime(p.Start), "start", start, "from", from)

	if flush {
		for _, st := range streams {
			st.pad.PushEvent(media.NewFlushStopEvent(true).WithSeqnum(ev.Seqnum))
		}
	}
	s.streamLock.Unlock()
	s.task.Start()
	return true
}

// position is the stream time reached by the slowest output. Callers hold
// s.mu.
func (s *srcCore) position() media.ClockTime {
	pos := media.ClockTimeNone
	for _, st := range s.streams {
		if !st.done && (pos == media.ClockTimeNone || st.pos < pos) {
			pos = st.pos
		}
	}
	if pos == media.ClockTimeNone {
		pos = s.segment.Start
		for _, st := range s.streams {
			pos = max(pos, st.pos)
		}
	}
	return pos
}

func resolveSeekPos(t media.SeekType, v int64, cur, dur media.ClockTime) media.ClockTime {
	var pos int64
	switch t {
	case media.SeekTypeSet:
		pos = v
	case media.SeekTypeEnd:
		if !dur.IsValid() {
			return cur
		}
		pos = int64(dur) + v
	default:
		return cur
	}
	if pos < 0 {
		pos = 0
	}
	if dur.IsValid() && pos > int64(dur) {
		pos = int64(dur)
	}
	return media.ClockTime(pos)
}

func (s *srcCore) srcQuery(pad *pipeline.Pad, q *pipeline.Query) bool {
	switch q.Type {
	case pipeline.QueryPosition:
		if q.Format != media.FormatTime {
			return false
		}
		s.mu.Lock()
		pos := s.position()
		seg := s.segment
		s.mu.Unlock()
		if st := seg.ToStreamTime(pos); st.IsValid() {
			pos = st
		}
		q.Value = int64(pos)
		return true
	case pipeline.QueryDuration:
		if q.Format != media.FormatTime {
			return false
		}
		if d := s.hooks.duration(); d.IsValid() {
			q.Value = int64(d)
			return true
		}
		return false
	case pipeline.QuerySeeking:
		s.mu.Lock()
		live := s.isLive
		s.mu.Unlock()
		q.Seekable = !live && !s.hooks.live() && q.Format == media.FormatTime
		q.SeekStart = 0
		q.SeekEnd = -1
		if d := s.hooks.duration(); d.IsValid() {
			q.SeekEnd = int64(d)
		}
		return true
	}
	return pipeline.QueryDefault(pad, q)
}
