package elements

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/zsiec/mediagraph/caps"
	"github.com/zsiec/mediagraph/media"
	"github.com/zsiec/mediagraph/pipeline"
)

const waitTimeout = 10 * time.Second

// smallGray fixes raw video to tiny frames so tests stay fast.
const smallGray = "video/x-raw, format=(string)GRAY8, width=(int)16, height=(int)16, framerate=(fraction)30/1"

func newTestRegistry(t *testing.T) *pipeline.Registry {
	t.Helper()
	reg := pipeline.NewRegistry(nil)
	require.NoError(t, Register(reg))
	return reg
}

// mk makes an element and sets the given properties.
func mk(t *testing.T, reg *pipeline.Registry, factory, name string, props map[string]any) *pipeline.Element {
	t.Helper()
	e, err := reg.Make(factory, name)
	require.NoError(t, err)
	for k, v := range props {
		require.NoError(t, e.SetProperty(k, v), "%s.%s", name, k)
	}
	return e
}

// waitMessage pops the first message matching mask, failing the test on
// timeout or on an error message when errors are not asked for.
func waitMessage(t *testing.T, bus *pipeline.Bus, mask pipeline.MessageType) *pipeline.Message {
	t.Helper()
	m := bus.TimedPopFiltered(media.FromDuration(waitTimeout), mask|pipeline.MessageError)
	require.NotNil(t, m, "no %v message within %v", mask, waitTimeout)
	if m.Type == pipeline.MessageError && mask&pipeline.MessageError == 0 {
		t.Fatalf("error from %s: %v (%s)", m.SourceName(), m.Err, m.Debug)
	}
	return m
}

// waitState waits for e to settle in want.
func waitState(t *testing.T, e *pipeline.Element, want pipeline.State) {
	t.Helper()
	cur, _, ret := e.GetState(media.FromDuration(waitTimeout))
	require.NotEqual(t, pipeline.StateChangeFailure, ret)
	require.Equal(t, want, cur)
}

// shutdown returns the pipeline to NULL when the test ends.
func shutdown(t *testing.T, p *pipeline.Pipeline) {
	t.Helper()
	t.Cleanup(func() {
		if ret := p.SetState(pipeline.StateNull); ret == pipeline.StateChangeFailure {
			t.Errorf("SetState(NULL): got %v", ret)
		}
	})
}

// recorder collects what a sink renders through its handoff hook.
type recorder struct {
	mu      sync.Mutex
	buffers []*media.Buffer
	events  []media.EventType
	caps    *caps.Caps
	block   chan struct{}
}

func record(t *testing.T, e *pipeline.Element) *recorder {
	t.Helper()
	s, ok := AsSink(e)
	require.True(t, ok, "%s is not a sink", e.Name())
	require.NoError(t, e.SetProperty("signal-handoffs", true))
	r := &recorder{}
	s.OnHandoff(func(_ *pipeline.Pad, buf *media.Buffer) {
		r.mu.Lock()
		r.buffers = append(r.buffers, buf)
		block := r.block
		r.mu.Unlock()
		if block != nil {
			<-block
		}
	})
	s.OnEvent(func(ev *media.Event) {
		r.mu.Lock()
		r.events = append(r.events, ev.Type)
		if ev.Type == media.EventCaps {
			r.caps = ev.Caps
		}
		r.mu.Unlock()
	})
	return r
}

// hold makes the sink's streaming thread stop in the next handoff until
// release is called.
func (r *recorder) hold() (release func()) {
	ch := make(chan struct{})
	r.mu.Lock()
	r.block = ch
	r.mu.Unlock()
	var once sync.Once
	return func() {
		once.Do(func() {
			r.mu.Lock()
			r.block = nil
			r.mu.Unlock()
			close(ch)
		})
	}
}

func (r *recorder) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.buffers)
}

func (r *recorder) all() []*media.Buffer {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]*media.Buffer(nil), r.buffers...)
}

// lastCaps returns the caps of the latest caps event the sink saw.
func (r *recorder) lastCaps() *caps.Caps {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.caps
}

func (r *recorder) countEvents(t media.EventType) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, e := range r.events {
		if e == t {
			n++
		}
	}
	return n
}

// resultSink is a sink element whose pad answers every buffer with ret.
type resultSink struct {
	ret pipeline.FlowReturn
}

func (r *resultSink) Init(e *pipeline.Element) error {
	tmpl := pipeline.NewPadTemplate("sink", pipeline.PadSink, pipeline.PadAlways, nil)
	pad := pipeline.NewPadFromTemplate(tmpl, "sink")
	pad.SetChainFunc(func(_ *pipeline.Pad, buf *media.Buffer) pipeline.FlowReturn {
		buf.Unref()
		return r.ret
	})
	return e.AddPad(pad)
}

func newResultSink(t *testing.T, name string, ret pipeline.FlowReturn) (*pipeline.Element, *resultSink) {
	t.Helper()
	r := &resultSink{ret: ret}
	e, err := pipeline.NewElement(name, r)
	require.NoError(t, err)
	return e, r
}
