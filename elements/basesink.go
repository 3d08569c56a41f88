package elements

import (
	"log/slog"
	"sync"

	"github.com/zsiec/mediagraph/caps"
	"github.com/zsiec/mediagraph/media"
	"github.com/zsiec/mediagraph/pipeline"
)

// lateThreshold is how far past its running time a buffer may be rendered
// before it counts as late.
const lateThreshold = 20 * media.Millisecond

// Sink is implemented by the Impl of every sink element.
type Sink interface {
	// OnHandoff registers fn to be called with every rendered buffer when
	// the signal-handoffs property is set.
	OnHandoff(fn func(pad *pipeline.Pad, buf *media.Buffer))
	// OnEvent registers fn to be called with every event reaching the sink
	// pad, before the sink handles it.
	OnEvent(fn func(ev *media.Event))
	Stats() SinkStats
}

// AsSink returns the Sink behind e, if e is a sink element.
func AsSink(e *pipeline.Element) (Sink, bool) {
	s, ok := e.Impl().(Sink)
	return s, ok
}

// sinkRenderer is what a concrete sink adds to baseSink.
type sinkRenderer interface {
	render(buf *media.Buffer) pipeline.FlowReturn
	setCaps(c *caps.Caps) error
	eos()
}

// baseSink prerolls, synchronizes buffers against the pipeline clock and
// posts EOS. In PAUSED the first buffer completes the asynchronous state
// change and is then held until PLAYING.
type baseSink struct {
	e     *pipeline.Element
	log   *slog.Logger
	pad   *pipeline.Pad
	r     sinkRenderer
	stats sinkCounters

	mu         sync.Mutex
	cond       *sync.Cond
	flushing   bool
	playing    bool
	prerolled  bool
	eosPending bool
	segment    media.Segment
	haveSeg    bool
	lastPTS    media.ClockTime
	cancel     chan struct{} // closed to wake a clock wait

	hookMu    sync.Mutex
	onHandoff []func(*pipeline.Pad, *media.Buffer)
	onEvent   []func(*media.Event)
}

func (b *baseSink) setup(e *pipeline.Element, r sinkRenderer) error {
	b.e = e
	b.log = e.Log()
	b.r = r
	b.cond = sync.NewCond(&b.mu)
	b.resetLocked()
	b.pad = pipeline.NewPadFromTemplate(e.PadTemplate("sink"), "sink")
	b.pad.SetChainFunc(b.chain)
	b.pad.SetEventFunc(b.event)
	b.pad.SetQueryFunc(b.query)
	e.SetFlags(pipeline.FlagSink)
	return e.AddPad(b.pad)
}

func (b *baseSink) resetLocked() {
	b.flushing = false
	b.playing = false
	b.prerolled = false
	b.eosPending = false
	b.segment = media.NewSegment()
	b.haveSeg = false
	b.lastPTS = media.ClockTimeNone
	b.cancel = make(chan struct{})
}

func (b *baseSink) interruptLocked() {
	close(b.cancel)
	b.cancel = make(chan struct{})
	b.cond.Broadcast()
}

// OnHandoff implements Sink.
func (b *baseSink) OnHandoff(fn func(*pipeline.Pad, *media.Buffer)) {
	b.hookMu.Lock()
	b.onHandoff = append(b.onHandoff, fn)
	b.hookMu.Unlock()
}

// OnEvent implements Sink.
func (b *baseSink) OnEvent(fn func(*media.Event)) {
	b.hookMu.Lock()
	b.onEvent = append(b.onEvent, fn)
	b.hookMu.Unlock()
}

// Stats implements Sink.
func (b *baseSink) Stats() SinkStats { return b.stats.snapshot(b.e.Name()) }

func (b *baseSink) ChangeState(tr pipeline.StateChange) pipeline.StateChangeReturn {
	switch tr {
	case pipeline.ReadyToPaused:
		b.stats.reset()
		b.mu.Lock()
		b.flushing = false
		prerolled := b.prerolled
		b.mu.Unlock()
		if !prerolled && b.e.PropBool("async") {
			return pipeline.StateChangeAsync
		}
	case pipeline.PausedToPlaying:
		b.mu.Lock()
		b.playing = true
		eos := b.eosPending
		b.eosPending = false
		b.cond.Broadcast()
		b.mu.Unlock()
		if eos {
			b.log.Debug("posting pending eos")
			b.e.PostMessage(pipeline.NewEOSMessage(b.e))
		}
	case pipeline.PlayingToPaused:
		b.mu.Lock()
		b.playing = false
		b.interruptLocked()
		b.mu.Unlock()
	case pipeline.PausedToReady:
		b.mu.Lock()
		b.interruptLocked()
		b.resetLocked()
		b.flushing = true
		b.mu.Unlock()
	}
	return pipeline.StateChangeSuccess
}

func (b *baseSink) chain(pad *pipeline.Pad, buf *media.Buffer) pipeline.FlowReturn {
	b.mu.Lock()
	if b.flushing {
		b.mu.Unlock()
		return pipeline.FlowFlushing
	}
	if b.haveSeg && !clipped(&b.segment, buf) {
		b.mu.Unlock()
		b.stats.dropped.Add(1)
		return pipeline.FlowOK
	}
	first := !b.prerolled
	b.prerolled = true
	seg := b.segment
	b.mu.Unlock()

	if first {
		b.log.Debug("prerolled", "pts", buf.PTS)
		b.e.CompleteAsync()
	}

	for {
		b.mu.Lock()
		for !b.playing && !b.flushing {
			b.cond.Wait()
		}
		if b.flushing {
			b.mu.Unlock()
			return pipeline.FlowFlushing
		}
		cancel := b.cancel
		b.mu.Unlock()

		if !b.e.PropBool("sync") || b.waitClock(seg, buf.PTS, cancel) {
			break
		}
	}

	b.mu.Lock()
	if buf.PTS.IsValid() {
		b.lastPTS = buf.PTS
	}
	b.mu.Unlock()

	ret := b.r.render(buf)
	if ret != pipeline.FlowOK {
		return ret
	}
	b.stats.record(buf)
	if b.e.PropBool("signal-handoffs") {
		b.hookMu.Lock()
		hooks := b.onHandoff
		b.hookMu.Unlock()
		for _, fn := range hooks {
			fn(pad, buf)
		}
	}
	return pipeline.FlowOK
}

// clipped reports whether any part of buf lies inside seg.
func clipped(seg *media.Segment, buf *media.Buffer) bool {
	if !buf.PTS.IsValid() {
		return true
	}
	if seg.Stop.IsValid() && buf.PTS >= seg.Stop {
		return false
	}
	if end := buf.End(); end.IsValid() {
		return end > seg.Start
	}
	return buf.PTS >= seg.Start
}

// waitClock blocks until the running time of pts. It returns false when
// woken early by a flush or a pause.
func (b *baseSink) waitClock(seg media.Segment, pts media.ClockTime, cancel <-chan struct{}) bool {
	rt := seg.ToRunningTime(pts)
	if !rt.IsValid() {
		return true
	}
	clock := b.e.Clock()
	base, playing := b.e.BaseTime()
	if clock == nil {
		return true
	}
	if !playing {
		return false
	}
	target := base + rt
	if !clock.WaitUntil(target, cancel) {
		return false
	}
	if now := clock.Now(); now > target+lateThreshold {
		b.stats.late.Add(1)
	}
	return true
}

func (b *baseSink) event(pad *pipeline.Pad, ev *media.Event) bool {
	b.hookMu.Lock()
	hooks := b.onEvent
	b.hookMu.Unlock()
	for _, fn := range hooks {
		fn(ev)
	}

	switch ev.Type {
	case media.EventFlushStart:
		b.mu.Lock()
		b.flushing = true
		b.interruptLocked()
		b.mu.Unlock()
		b.stats.flushes.Add(1)
	case media.EventFlushStop:
		b.mu.Lock()
		b.flushing = false
		b.eosPending = false
		b.haveSeg = false
		b.lastPTS = media.ClockTimeNone
		if !b.playing {
			b.prerolled = false
		}
		b.mu.Unlock()
		b.stats.eos.Store(false)
		if ev.ResetTime {
			b.e.RequestResetTime()
		}
	case media.EventCaps:
		if err := b.r.setCaps(ev.Caps); err != nil {
			b.log.Warn("caps refused", "caps", ev.Caps, "error", err)
			return false
		}
		b.stats.setCaps(ev.Caps.String())
	case media.EventSegment:
		b.mu.Lock()
		b.segment = *ev.Segment
		b.haveSeg = true
		b.mu.Unlock()
	case media.EventTag:
		b.e.PostMessage(pipeline.NewTagMessage(b.e, ev.Tags))
	case media.EventStreamStart:
		b.e.PostMessage(pipeline.NewStreamStartMessage(b.e))
	case media.EventEOS:
		b.r.eos()
		b.stats.eos.Store(true)
		b.mu.Lock()
		first := !b.prerolled
		b.prerolled = true
		playing := b.playing
		if !playing {
			b.eosPending = true
		}
		b.mu.Unlock()
		if first {
			b.e.CompleteAsync()
		}
		if playing {
			b.log.Debug("eos")
			b.e.PostMessage(pipeline.NewEOSMessage(b.e))
		}
	}
	return true
}

func (b *baseSink) query(pad *pipeline.Pad, q *pipeline.Query) bool {
	if q.Type != pipeline.QueryPosition || q.Format != media.FormatTime {
		if q.Type.IsDataQuery() {
			return pad.PeerQuery(q)
		}
		return pipeline.QueryDefault(pad, q)
	}

	b.mu.Lock()
	seg, have, playing, last := b.segment, b.haveSeg, b.playing, b.lastPTS
	b.mu.Unlock()
	if !have {
		return pad.PeerQuery(q)
	}
	pos := seg.Start
	switch {
	case playing && b.e.PropBool("sync"):
		if rt := b.e.RunningTime(); rt.IsValid() && rt > seg.Base {
			pos += rt - seg.Base
		}
		if seg.Stop.IsValid() && pos > seg.Stop {
			pos = seg.Stop
		}
	case last.IsValid():
		pos = last
	}
	if st := seg.ToStreamTime(pos); st.IsValid() {
		q.Value = int64(st)
	} else {
		q.Value = int64(pos)
	}
	return true
}

// Query implements pipeline.ElementQuerier so that queries sent to the
// element are answered by its sink pad.
func (b *baseSink) Query(q *pipeline.Query) bool {
	return b.query(b.pad, q)
}
