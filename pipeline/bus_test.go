package pipeline

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/zsiec/mediagraph/media"
)

func TestBusOrder(t *testing.T) {
	t.Parallel()
	b := NewBus()
	b.Post(NewEOSMessage(nil))
	b.Post(NewAsyncDoneMessage(nil))
	b.Post(NewDurationChangedMessage(nil))

	want := []MessageType{MessageEOS, MessageAsyncDone, MessageDurationChanged}
	for i, w := range want {
		m := b.TimedPop(0)
		if m == nil {
			t.Fatalf("message %d: got nil", i)
		}
		if m.Type != w {
			t.Errorf("message %d: got %v, want %v", i, m.Type, w)
		}
	}
	if m := b.TimedPop(0); m != nil {
		t.Errorf("expected empty bus, got %v", m)
	}
}

func TestBusFilteredLeavesOthersQueued(t *testing.T) {
	t.Parallel()
	b := NewBus()
	b.Post(NewAsyncDoneMessage(nil))
	b.Post(NewEOSMessage(nil))
	b.Post(NewDurationChangedMessage(nil))

	if m := b.TimedPopFiltered(0, MessageEOS); m == nil || m.Type != MessageEOS {
		t.Fatalf("filtered pop: got %v", m)
	}
	if b.Len() != 2 {
		t.Fatalf("len: got %d, want 2", b.Len())
	}
	if m := b.Pop(); m.Type != MessageAsyncDone {
		t.Errorf("head: got %v, want async-done", m.Type)
	}
}

func TestBusWaitsForMatch(t *testing.T) {
	t.Parallel()
	b := NewBus()
	go func() {
		time.Sleep(20 * time.Millisecond)
		b.Post(NewWarningMessage(nil, DomainCore, errors.New("ignored"), ""))
		b.Post(NewEOSMessage(nil))
	}()
	m := b.TimedPopFiltered(media.Second, MessageEOS|MessageError)
	if m == nil || m.Type != MessageEOS {
		t.Fatalf("got %v, want eos", m)
	}
	if b.Len() != 1 {
		t.Errorf("warning should stay queued, len %d", b.Len())
	}
}

func TestBusTimeout(t *testing.T) {
	t.Parallel()
	b := NewBus()
	start := time.Now()
	if m := b.TimedPop(30 * media.Millisecond); m != nil {
		t.Fatalf("got %v, want nil", m)
	}
	if d := time.Since(start); d < 25*time.Millisecond {
		t.Errorf("returned after %v, before the timeout", d)
	}
}

func TestBusPopFilteredContext(t *testing.T) {
	t.Parallel()
	b := NewBus()
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err := b.PopFiltered(ctx, MessageAny)
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("got %v, want deadline exceeded", err)
	}
}

func TestBusFullDropsOldestNonError(t *testing.T) {
	t.Parallel()
	b := NewBus(WithBusCapacity(3), WithBusPostTimeout(0))
	b.Post(NewErrorMessage(nil, DomainCore, errors.New("boom"), ""))
	b.Post(NewAsyncDoneMessage(nil))
	b.Post(NewDurationChangedMessage(nil))
	if !b.Post(NewEOSMessage(nil)) {
		t.Fatal("post on full bus should displace an older message")
	}

	var got []MessageType
	for m := b.TimedPop(0); m != nil; m = b.TimedPop(0) {
		got = append(got, m.Type)
	}
	want := []MessageType{MessageError, MessageDurationChanged, MessageEOS}
	if len(got) != len(want) {
		t.Fatalf("got %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("message %d: got %v, want %v", i, got[i], want[i])
		}
	}
}

func TestBusErrorsNeverDropped(t *testing.T) {
	t.Parallel()
	b := NewBus(WithBusCapacity(2), WithBusPostTimeout(0))
	for range 4 {
		if !b.Post(NewErrorMessage(nil, DomainCore, errors.New("boom"), "")) {
			t.Fatal("error message refused")
		}
	}
	if b.Len() != 4 {
		t.Errorf("len: got %d, want 4", b.Len())
	}
	if b.Post(NewEOSMessage(nil)) {
		t.Error("non-error message should be dropped when only errors are queued")
	}
}

func TestBusFullWaitsForConsumer(t *testing.T) {
	t.Parallel()
	b := NewBus(WithBusCapacity(1), WithBusPostTimeout(time.Second))
	b.Post(NewAsyncDoneMessage(nil))
	go func() {
		time.Sleep(20 * time.Millisecond)
		b.Pop()
	}()
	if !b.Post(NewEOSMessage(nil)) {
		t.Fatal("post should succeed once the consumer makes room")
	}
	if m := b.Pop(); m.Type != MessageEOS {
		t.Errorf("got %v, want eos", m.Type)
	}
}

func TestBusFlushing(t *testing.T) {
	t.Parallel()
	b := NewBus()
	b.Post(NewEOSMessage(nil))
	b.SetFlushing(true)
	if b.Len() != 0 {
		t.Errorf("flushing should discard, len %d", b.Len())
	}
	if b.Post(NewEOSMessage(nil)) {
		t.Error("post while flushing should fail")
	}
	b.SetFlushing(false)
	if !b.Post(NewEOSMessage(nil)) {
		t.Error("post after flushing should succeed")
	}
}

func TestBusStickyMessages(t *testing.T) {
	t.Parallel()
	e, _ := newStepper(t, "e", nil)
	b := NewBus()
	b.Post(NewStateChangedMessage(e, StateNull, StateReady, StatePlaying))
	b.Post(NewStateChangedMessage(e, StateReady, StatePaused, StateVoidPending))
	b.Post(NewDurationChangedMessage(e))
	for b.Drop() {
	}

	m := b.StickyFrom(MessageStateChanged, e)
	if m == nil {
		t.Fatal("terminal state change not remembered")
	}
	if _, cur, _ := m.ParseStateChanged(); cur != StatePaused {
		t.Errorf("sticky state: got %v, want PAUSED", cur)
	}
	if got := b.Sticky(MessageStateChanged | MessageDurationChanged); len(got) != 2 {
		t.Errorf("sticky: got %d messages, want 2", len(got))
	}
}

func TestBusPeekAndDrop(t *testing.T) {
	t.Parallel()
	b := NewBus()
	if b.Peek() != nil || b.Drop() {
		t.Fatal("empty bus should have nothing to peek or drop")
	}
	b.Post(NewEOSMessage(nil))
	if m := b.Peek(); m == nil || m.Type != MessageEOS {
		t.Fatalf("peek: got %v", m)
	}
	if b.Len() != 1 {
		t.Error("peek should not remove")
	}
	if !b.Drop() || b.Len() != 0 {
		t.Error("drop should remove the head")
	}
}
