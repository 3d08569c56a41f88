package pipeline

import (
	"errors"
	"slices"
	"testing"
	"time"

	"github.com/zsiec/mediagraph/media"
)

func popStateChanges(b *Bus, src *Element) [][3]State {
	var out [][3]State
	for {
		m := b.TimedPopFiltered(0, MessageStateChanged)
		if m == nil {
			return out
		}
		if m.Source == src {
			old, cur, pending := m.ParseStateChanged()
			out = append(out, [3]State{old, cur, pending})
		}
	}
}

func TestSetStateStepsAndMessages(t *testing.T) {
	t.Parallel()
	log := &callLog{}
	p := NewPipeline("p")
	e, _ := newStepper(t, "e", log)
	if err := p.Add(e); err != nil {
		t.Fatal(err)
	}

	if ret := p.SetState(StatePlaying); ret != StateChangeSuccess {
		t.Fatalf("SetState: got %v, want success", ret)
	}
	if got := e.State(); got != StatePlaying {
		t.Errorf("element state: got %v, want PLAYING", got)
	}

	want := []string{"e:NULL->READY", "e:READY->PAUSED", "e:PAUSED->PLAYING"}
	if got := log.list(); !slices.Equal(got, want) {
		t.Errorf("transitions: got %v, want %v", got, want)
	}

	changes := popStateChanges(p.Bus(), p.Element)
	wantChanges := [][3]State{
		{StateNull, StateReady, StatePlaying},
		{StateReady, StatePaused, StatePlaying},
		{StatePaused, StatePlaying, StateVoidPending},
	}
	if !slices.Equal(changes, wantChanges) {
		t.Errorf("pipeline state-changed: got %v, want %v", changes, wantChanges)
	}

	sticky := p.Bus().StickyFrom(MessageStateChanged, p.Element)
	if sticky == nil || sticky.NewState != StatePlaying {
		t.Errorf("sticky state: got %v, want PLAYING", sticky)
	}

	if ret := p.SetState(StateNull); ret != StateChangeSuccess {
		t.Fatalf("SetState(NULL): got %v", ret)
	}
	if got := e.State(); got != StateNull {
		t.Errorf("after NULL: got %v", got)
	}
}

func TestSetStateFailureStops(t *testing.T) {
	t.Parallel()
	e, s := newStepper(t, "e", nil)
	s.ret[ReadyToPaused] = StateChangeFailure

	if ret := e.SetState(StatePlaying); ret != StateChangeFailure {
		t.Fatalf("got %v, want failure", ret)
	}
	cur, pending, ret := e.GetState(0)
	if cur != StateReady || pending != StateVoidPending || ret != StateChangeFailure {
		t.Errorf("GetState: got (%v, %v, %v), want (READY, VOID_PENDING, failure)", cur, pending, ret)
	}
}

func TestAsyncStateCompletes(t *testing.T) {
	t.Parallel()
	log := &callLog{}
	e, s := newStepper(t, "e", log)
	s.ret[ReadyToPaused] = StateChangeAsync

	if ret := e.SetState(StatePlaying); ret != StateChangeAsync {
		t.Fatalf("got %v, want async", ret)
	}
	cur, pending, ret := e.GetState(0)
	if cur != StateReady || pending != StatePlaying || ret != StateChangeAsync {
		t.Errorf("GetState: got (%v, %v, %v), want (READY, PLAYING, async)", cur, pending, ret)
	}

	go e.CompleteAsync()

	cur, pending, ret = e.GetState(media.ClockTimeNone)
	if cur != StatePlaying || pending != StateVoidPending || ret != StateChangeSuccess {
		t.Errorf("GetState after completion: got (%v, %v, %v)", cur, pending, ret)
	}
	if got := log.list(); got[len(got)-1] != "e:PAUSED->PLAYING" {
		t.Errorf("last transition: got %v", got)
	}
}

func TestAsyncCompletedDuringStep(t *testing.T) {
	t.Parallel()
	e, s := newStepper(t, "e", nil)
	s.ret[ReadyToPaused] = StateChangeAsync
	// Completing before ChangeState returns behaves like success.
	e.impl = &earlyCompleter{stepper: s}

	if ret := e.SetState(StatePaused); ret != StateChangeSuccess {
		t.Fatalf("got %v, want success", ret)
	}
	if e.State() != StatePaused {
		t.Errorf("state: got %v, want PAUSED", e.State())
	}
}

type earlyCompleter struct{ *stepper }

func (c *earlyCompleter) ChangeState(tr StateChange) StateChangeReturn {
	ret := c.stepper.ChangeState(tr)
	if ret == StateChangeAsync {
		c.e.CompleteAsync()
	}
	return ret
}

func TestAsyncAbortedByDownwardRequest(t *testing.T) {
	t.Parallel()
	log := &callLog{}
	e, s := newStepper(t, "e", log)
	s.ret[ReadyToPaused] = StateChangeAsync

	e.SetState(StatePaused)
	if ret := e.SetState(StateNull); ret != StateChangeSuccess {
		t.Fatalf("got %v, want success", ret)
	}
	if e.State() != StateNull {
		t.Errorf("state: got %v, want NULL", e.State())
	}
	want := []string{"e:NULL->READY", "e:READY->PAUSED", "e:PAUSED->READY", "e:READY->NULL"}
	if got := log.list(); !slices.Equal(got, want) {
		t.Errorf("transitions: got %v, want %v", got, want)
	}
}

func TestGetStateTimeout(t *testing.T) {
	t.Parallel()
	e, s := newStepper(t, "e", nil)
	s.ret[ReadyToPaused] = StateChangeAsync
	e.SetState(StatePaused)

	start := time.Now()
	cur, pending, ret := e.GetState(20 * media.Millisecond)
	if ret != StateChangeAsync || cur != StateReady || pending != StatePaused {
		t.Errorf("got (%v, %v, %v), want (READY, PAUSED, async)", cur, pending, ret)
	}
	if time.Since(start) < 20*time.Millisecond {
		t.Error("GetState returned before the timeout")
	}
}

func TestBinOrdersChildren(t *testing.T) {
	t.Parallel()
	log := &callLog{}
	p := NewPipeline("p")
	src, _ := newStepper(t, "src", log, srcTmpl(""))
	mid, _ := newStepper(t, "mid", log, sinkTmpl(""), srcTmpl(""))
	sink, _ := newStepper(t, "sink", log, sinkTmpl(""))
	// Added in an order unrelated to the graph.
	if err := p.Add(mid, sink, src); err != nil {
		t.Fatal(err)
	}
	if err := LinkMany(src, mid, sink); err != nil {
		t.Fatal(err)
	}

	p.SetState(StatePaused)
	up := log.filter(":READY->PAUSED")
	if want := []string{"sink", "mid", "src"}; !slices.Equal(up, want) {
		t.Errorf("upward order: got %v, want %v", up, want)
	}

	p.SetState(StateNull)
	down := log.filter(":PAUSED->READY")
	if want := []string{"src", "mid", "sink"}; !slices.Equal(down, want) {
		t.Errorf("downward order: got %v, want %v", down, want)
	}
}

func TestBinAggregatesAsync(t *testing.T) {
	t.Parallel()
	p := NewPipeline("p")
	a, sa := newStepper(t, "a", nil, sinkTmpl(""))
	b, _ := newStepper(t, "b", nil, sinkTmpl(""))
	sa.ret[ReadyToPaused] = StateChangeAsync
	if err := p.Add(a, b); err != nil {
		t.Fatal(err)
	}

	if ret := p.SetState(StatePlaying); ret != StateChangeAsync {
		t.Fatalf("got %v, want async", ret)
	}
	if _, _, ret := p.GetState(0); ret != StateChangeAsync {
		t.Errorf("GetState: got %v, want async", ret)
	}

	a.CompleteAsync()
	cur, _, ret := p.GetState(media.Second)
	if cur != StatePlaying || ret != StateChangeSuccess {
		t.Fatalf("GetState: got (%v, %v), want (PLAYING, success)", cur, ret)
	}

	var done []*Message
	for m := p.Bus().TimedPopFiltered(0, MessageAsyncDone); m != nil; m = p.Bus().TimedPopFiltered(0, MessageAsyncDone) {
		done = append(done, m)
	}
	if len(done) != 1 || done[0].Source != p.Element {
		t.Errorf("async-done: got %v, want one from the pipeline", done)
	}
	p.SetState(StateNull)
}

func TestBinAggregatesEOS(t *testing.T) {
	t.Parallel()
	p := NewPipeline("p")
	a, _ := newStepper(t, "a", nil, sinkTmpl(""))
	b, _ := newStepper(t, "b", nil, sinkTmpl(""))
	if err := p.Add(a, b); err != nil {
		t.Fatal(err)
	}

	a.PostMessage(NewEOSMessage(a))
	if m := p.Bus().TimedPopFiltered(0, MessageEOS); m != nil {
		t.Fatalf("EOS before every sink finished: %v", m)
	}
	b.PostMessage(NewEOSMessage(b))
	m := p.Bus().TimedPopFiltered(0, MessageEOS)
	if m == nil || m.Source != p.Element {
		t.Fatalf("EOS: got %v, want one from the pipeline", m)
	}
	b.PostMessage(NewEOSMessage(b))
	if m := p.Bus().TimedPopFiltered(0, MessageEOS); m != nil {
		t.Errorf("second EOS posted: %v", m)
	}
}

func TestErrorSuspendsPipeline(t *testing.T) {
	t.Parallel()
	p := NewPipeline("p")
	e, _ := newStepper(t, "e", nil)
	if err := p.Add(e); err != nil {
		t.Fatal(err)
	}
	p.SetState(StatePlaying)

	boom := errors.New("boom")
	e.PostError(DomainStream, boom, "test")

	m := p.Bus().TimedPopFiltered(media.Second, MessageError)
	if m == nil {
		t.Fatal("no error message")
	}
	if m.Source != e || !errors.Is(m.Err, boom) {
		t.Errorf("error message: got %v from %s", m.Err, m.SourceName())
	}
	var ee *ElementError
	if !errors.As(m.Err, &ee) || ee.Domain != DomainStream {
		t.Errorf("error domain: got %v", m.Err)
	}

	deadline := time.Now().Add(time.Second)
	for p.State() != StatePaused && time.Now().Before(deadline) {
		time.Sleep(time.Millisecond)
	}
	if p.State() != StatePaused {
		t.Fatalf("pipeline state: got %v, want PAUSED", p.State())
	}
	if !errors.Is(p.Err(), boom) {
		t.Errorf("latched error: got %v", p.Err())
	}
	if ret := p.SetState(StatePlaying); ret != StateChangeFailure {
		t.Errorf("PLAYING with latched error: got %v, want failure", ret)
	}

	p.SetState(StateReady)
	if p.Err() != nil {
		t.Errorf("error still latched in READY: %v", p.Err())
	}
	if ret := p.SetState(StatePlaying); ret != StateChangeSuccess {
		t.Errorf("PLAYING after reset: got %v", ret)
	}
	p.SetState(StateNull)
}

func TestSyncStateWithParent(t *testing.T) {
	t.Parallel()
	p := NewPipeline("p")
	p.SetState(StatePlaying)

	e, _ := newStepper(t, "late", nil)
	if err := p.Add(e); err != nil {
		t.Fatal(err)
	}
	if !e.SyncStateWithParent() {
		t.Fatal("SyncStateWithParent failed")
	}
	if e.State() != StatePlaying {
		t.Errorf("state: got %v, want PLAYING", e.State())
	}
	p.SetState(StateNull)
}

func TestBinAddRemove(t *testing.T) {
	t.Parallel()
	p := NewPipeline("p")
	e, _ := newStepper(t, "e", nil)
	dup, _ := newStepper(t, "e", nil)

	if err := p.Add(e); err != nil {
		t.Fatal(err)
	}
	if err := p.Add(dup); !errors.Is(err, ErrDuplicateName) {
		t.Errorf("duplicate name: got %v", err)
	}
	other := NewBin("other")
	if err := other.Add(e); !errors.Is(err, ErrNotFloating) {
		t.Errorf("second parent: got %v", err)
	}
	if got := p.ByName("e"); got != e {
		t.Errorf("ByName: got %v", got)
	}

	p.SetState(StateReady)
	if err := p.Remove(e); !errors.Is(err, ErrNotInNull) {
		t.Errorf("remove in READY: got %v", err)
	}
	p.SetState(StateNull)
	if err := p.Remove(e); err != nil {
		t.Fatalf("remove: %v", err)
	}
	if err := p.Remove(e); !errors.Is(err, ErrNotChild) {
		t.Errorf("remove twice: got %v", err)
	}
	if e.Parent() != nil {
		t.Error("removed element still has a parent")
	}
}

func TestStateStrings(t *testing.T) {
	t.Parallel()
	tests := []struct {
		in   string
		want State
	}{
		{"null", StateNull},
		{"READY", StateReady},
		{"Paused", StatePaused},
		{"playing", StatePlaying},
	}
	for _, tt := range tests {
		got, err := ParseState(tt.in)
		if err != nil || got != tt.want {
			t.Errorf("ParseState(%q): got %v, %v, want %v", tt.in, got, err, tt.want)
		}
	}
	if _, err := ParseState("bogus"); err == nil {
		t.Error("ParseState(bogus) should fail")
	}
	if got := PausedToPlaying.String(); got != "PAUSED->PLAYING" {
		t.Errorf("transition string: got %q", got)
	}
}
