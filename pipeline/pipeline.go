package pipeline

import (
	"context"
	"fmt"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/zsiec/mediagraph/media"
	"github.com/zsiec/mediagraph/metrics"
)

type seekability int

const (
	seekUnknown seekability = iota
	seekYes
	seekNo
)

// Pipeline is the top-level bin. It owns the bus every descendant posts to
// and the clock that running time is measured against.
type Pipeline struct {
	*Bin

	bus     *Bus
	busOpts []BusOption
	clock   runningClock
	metrics *metrics.Metrics

	latchMu  sync.Mutex
	latched  error
	seekable seekability
}

// Option configures a Pipeline.
type Option func(*Pipeline)

// WithClock replaces the default system clock.
func WithClock(c Clock) Option {
	return func(p *Pipeline) { p.clock.setClock(c) }
}

// WithMetrics records pipeline activity in m.
func WithMetrics(m *metrics.Metrics) Option {
	return func(p *Pipeline) { p.metrics = m }
}

// WithBusOptions configures the pipeline's bus.
func WithBusOptions(opts ...BusOption) Option {
	return func(p *Pipeline) { p.busOpts = append(p.busOpts, opts...) }
}

// NewPipeline creates an empty pipeline in the NULL state.
func NewPipeline(name string, opts ...Option) *Pipeline {
	p := &Pipeline{}
	p.clock.setClock(NewSystemClock())
	for _, o := range opts {
		o(p)
	}
	if _, err := newElement(name, nil, p); err != nil {
		panic(err) // Init cannot fail
	}
	p.bus = NewBus(append(p.busOpts, WithBusMetrics(p.metrics))...)
	p.busOpts = nil
	return p
}

// Init implements Impl.
func (p *Pipeline) Init(e *Element) error {
	p.Bin = &Bin{hook: p.intercept}
	if err := p.Bin.Init(e); err != nil {
		return err
	}
	e.pipe = p
	return nil
}

// Bus returns the pipeline's bus.
func (p *Pipeline) Bus() *Bus { return p.bus }

// Clock returns the pipeline's clock.
func (p *Pipeline) Clock() Clock { return p.clock.get() }

// UseClock replaces the pipeline clock. It takes effect at the next
// PAUSED to PLAYING transition.
func (p *Pipeline) UseClock(c Clock) {
	p.clock.setClock(c)
}

// RunningTime returns the time spent in PLAYING since the last reset.
func (p *Pipeline) RunningTime() media.ClockTime { return p.clock.runningTime() }

// Metrics returns the pipeline's collectors, possibly nil.
func (p *Pipeline) Metrics() *metrics.Metrics { return p.metrics }

func (p *Pipeline) postToBus(m *Message) bool {
	return p.bus.Post(m)
}

// Err returns the error that suspended the pipeline, if any.
func (p *Pipeline) Err() error {
	p.latchMu.Lock()
	defer p.latchMu.Unlock()
	return p.latched
}

func (p *Pipeline) intercept(child *Element, m *Message) bool {
	switch m.Type {
	case messageResetTime:
		p.log.Debug("running time reset", "by", m.SourceName())
		p.clock.reset()
		return true
	case MessageError:
		p.latchMu.Lock()
		first := p.latched == nil
		if first {
			p.latched = m.Err
		}
		p.latchMu.Unlock()
		if first {
			go p.suspend()
		}
	}
	return false
}

// suspend pauses a playing pipeline after an error. The error stays
// latched, refusing PLAYING, until the pipeline goes back to READY.
func (p *Pipeline) suspend() {
	ret := p.setStateIf(StatePaused, func() bool {
		return p.Err() != nil && p.TargetState() == StatePlaying
	})
	if ret != StateChangeFailure {
		p.log.Warn("pipeline suspended after error", "error", p.Err())
	}
}

// ChangeState implements StateChanger. The clock runs only while PLAYING.
func (p *Pipeline) ChangeState(tr StateChange) StateChangeReturn {
	switch tr {
	case ReadyToPaused:
		p.clock.reset()
		p.latchMu.Lock()
		p.seekable = seekUnknown
		p.latchMu.Unlock()
	case PausedToPlaying:
		if err := p.Err(); err != nil {
			p.log.Warn("refusing PLAYING with latched error", "error", err)
			return StateChangeFailure
		}
		p.clock.play()
	case PlayingToPaused:
		p.clock.pause()
	case PausedToReady:
		p.latchMu.Lock()
		p.latched = nil
		p.latchMu.Unlock()
	}
	ret := p.changeChildren(tr)
	if ret == StateChangeFailure && tr == PausedToPlaying {
		p.clock.pause()
	}
	return ret
}

// Query implements ElementQuerier and remembers whether the stream was
// found seekable.
func (p *Pipeline) Query(q *Query) bool {
	ok := p.Bin.Query(q)
	if q.Type == QuerySeeking && ok {
		p.latchMu.Lock()
		p.seekable = seekNo
		if q.Seekable {
			p.seekable = seekYes
		}
		p.latchMu.Unlock()
	}
	return ok
}

// SendEvent implements ElementEventHandler. A seek is refused unless the
// last seeking query answered true; when no query was made one is made
// on the seek's behalf.
func (p *Pipeline) SendEvent(ev *media.Event) bool {
	if ev.Type == media.EventSeek {
		p.latchMu.Lock()
		s := p.seekable
		p.latchMu.Unlock()
		if s == seekUnknown {
			format := media.FormatTime
			if ev.Seek != nil {
				format = ev.Seek.Format
			}
			p.Query(NewSeekingQuery(format))
			p.latchMu.Lock()
			s = p.seekable
			p.latchMu.Unlock()
		}
		if s != seekYes {
			p.log.Warn("seek refused", "error", ErrNotSeekable)
			return false
		}
		p.resetEOS()
	}
	return p.Bin.SendEvent(ev)
}

// Run plays the pipeline until EOS, an error message, or ctx is done, then
// shuts it down to NULL. An error message is returned as an error; EOS and
// cancellation return nil.
func (p *Pipeline) Run(ctx context.Context) error {
	if p.SetState(StatePlaying) == StateChangeFailure {
		p.SetState(StateNull)
		return fmt.Errorf("%w: %s to PLAYING", ErrStateChange, p.Name())
	}
	defer p.SetState(StateNull)

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		for {
			m, err := p.bus.PopFiltered(ctx, MessageEOS|MessageError)
			if err != nil {
				return nil
			}
			switch m.Type {
			case MessageEOS:
				p.log.Info("end of stream")
				return nil
			case MessageError:
				return m.Err
			}
		}
	})
	return g.Wait()
}

// Dispose sets the pipeline to NULL, removes its children and stops the
// bus.
func (p *Pipeline) Dispose() {
	p.SetState(StateNull)
	for _, c := range p.Children() {
		if err := p.Remove(c); err != nil {
			p.log.Warn("dispose: remove child", "child", c.Name(), "error", err)
		}
	}
	p.bus.SetFlushing(true)
}
