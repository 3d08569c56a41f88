package pipeline

import (
	"context"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/zsiec/mediagraph/media"
	"github.com/zsiec/mediagraph/metrics"
)

// Bus defaults.
const (
	DefaultBusCapacity    = 1024
	DefaultBusPostTimeout = 50 * time.Millisecond
)

type stickyKey struct {
	t   MessageType
	src *Element
}

// Bus is a bounded FIFO of messages with a single consumer. Posting is safe
// from any goroutine. Filtered waits leave non-matching messages in place so
// a later, wider wait still sees them in posting order.
type Bus struct {
	log         *slog.Logger
	metrics     *metrics.Metrics
	capacity    int
	postTimeout time.Duration

	mu       sync.Mutex
	queue    []*Message
	seq      uint64
	flushing bool
	wake     chan struct{} // closed when a message is queued
	space    chan struct{} // closed when a message is removed
	sticky   map[stickyKey]*Message
}

// BusOption configures a Bus.
type BusOption func(*Bus)

// WithBusCapacity bounds the number of queued messages.
func WithBusCapacity(n int) BusOption {
	return func(b *Bus) {
		if n > 0 {
			b.capacity = n
		}
	}
}

// WithBusPostTimeout sets how long a post waits for space on a full bus
// before dropping the oldest non-error message.
func WithBusPostTimeout(d time.Duration) BusOption {
	return func(b *Bus) { b.postTimeout = d }
}

// WithBusMetrics records posts and drops.
func WithBusMetrics(m *metrics.Metrics) BusOption {
	return func(b *Bus) { b.metrics = m }
}

// NewBus creates an empty bus.
func NewBus(opts ...BusOption) *Bus {
	b := &Bus{
		log:         slog.With("component", "bus"),
		capacity:    DefaultBusCapacity,
		postTimeout: DefaultBusPostTimeout,
		wake:        make(chan struct{}),
		space:       make(chan struct{}),
		sticky:      make(map[stickyKey]*Message),
	}
	for _, o := range opts {
		o(b)
	}
	return b
}

// Post queues m. Errors are always queued. Other messages wait briefly for
// space on a full bus, then displace the oldest non-error message. It
// returns false if m was not queued.
func (b *Bus) Post(m *Message) bool {
	b.mu.Lock()
	if b.flushing {
		b.mu.Unlock()
		return false
	}

	if m.Type != MessageError && len(b.queue) >= b.capacity {
		deadline := time.Now().Add(b.postTimeout)
		for len(b.queue) >= b.capacity {
			remaining := time.Until(deadline)
			if remaining <= 0 {
				break
			}
			space := b.space
			b.mu.Unlock()
			timer := time.NewTimer(remaining)
			select {
			case <-space:
			case <-timer.C:
			}
			timer.Stop()
			b.mu.Lock()
			if b.flushing {
				b.mu.Unlock()
				return false
			}
		}
		if len(b.queue) >= b.capacity && !b.dropOldestLocked() {
			b.mu.Unlock()
			b.metrics.BusDropped()
			b.log.Warn("bus full of errors, dropping message", "type", m.Type, "source", m.SourceName())
			return false
		}
	}

	b.seq++
	m.Seqnum = b.seq
	b.queue = append(b.queue, m)
	b.rememberLocked(m)
	close(b.wake)
	b.wake = make(chan struct{})
	b.mu.Unlock()

	b.metrics.BusPosted(m.Type.String())
	return true
}

func (b *Bus) dropOldestLocked() bool {
	for i, q := range b.queue {
		if q.Type == MessageError {
			continue
		}
		b.queue = append(b.queue[:i], b.queue[i+1:]...)
		b.metrics.BusDropped()
		b.log.Warn("bus full, dropped oldest message", "type", q.Type, "source", q.SourceName())
		return true
	}
	return false
}

func (b *Bus) rememberLocked(m *Message) {
	switch m.Type {
	case MessageStateChanged:
		if m.PendingState == StateVoidPending {
			b.sticky[stickyKey{m.Type, m.Source}] = m
		}
	case MessageDurationChanged:
		b.sticky[stickyKey{m.Type, m.Source}] = m
	case MessageTag:
		key := stickyKey{m.Type, m.Source}
		if prev, ok := b.sticky[key]; ok {
			merged := *m
			merged.Tags = prev.Tags.Merge(m.Tags)
			b.sticky[key] = &merged
			return
		}
		b.sticky[key] = m
	}
}

func (b *Bus) removeLocked(i int) *Message {
	m := b.queue[i]
	b.queue = append(b.queue[:i], b.queue[i+1:]...)
	close(b.space)
	b.space = make(chan struct{})
	return m
}

func (b *Bus) findLocked(mask MessageType) int {
	for i, m := range b.queue {
		if m.Type&mask != 0 {
			return i
		}
	}
	return -1
}

// TimedPopFiltered removes and returns the first queued message matching
// mask, waiting up to timeout for one to arrive. media.ClockTimeNone waits
// forever; zero does not wait. It returns nil on timeout.
func (b *Bus) TimedPopFiltered(timeout media.ClockTime, mask MessageType) *Message {
	forever := !timeout.IsValid()
	var deadline time.Time
	if !forever {
		deadline = time.Now().Add(timeout.Duration())
	}
	for {
		b.mu.Lock()
		if i := b.findLocked(mask); i >= 0 {
			m := b.removeLocked(i)
			b.mu.Unlock()
			return m
		}
		wake := b.wake
		b.mu.Unlock()

		if forever {
			<-wake
			continue
		}
		remaining := time.Until(deadline)
		if remaining <= 0 {
			return nil
		}
		timer := time.NewTimer(remaining)
		select {
		case <-wake:
			timer.Stop()
		case <-timer.C:
		}
	}
}

// TimedPop is TimedPopFiltered with every message type.
func (b *Bus) TimedPop(timeout media.ClockTime) *Message {
	return b.TimedPopFiltered(timeout, MessageAny)
}

// Pop blocks until any message is available.
func (b *Bus) Pop() *Message {
	return b.TimedPopFiltered(media.ClockTimeNone, MessageAny)
}

// PopFiltered waits for a message matching mask until ctx is done.
func (b *Bus) PopFiltered(ctx context.Context, mask MessageType) (*Message, error) {
	for {
		b.mu.Lock()
		if i := b.findLocked(mask); i >= 0 {
			m := b.removeLocked(i)
			b.mu.Unlock()
			return m, nil
		}
		wake := b.wake
		b.mu.Unlock()

		select {
		case <-wake:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
}

// Peek returns the head of the queue without removing it.
func (b *Bus) Peek() *Message {
	b.mu.Lock()
	defer b.mu.Unlock()
	if len(b.queue) == 0 {
		return nil
	}
	return b.queue[0]
}

// Drop discards the head of the queue. It reports whether a message was
// removed.
func (b *Bus) Drop() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	if len(b.queue) == 0 {
		return false
	}
	b.removeLocked(0)
	return true
}

// Len returns the number of queued messages.
func (b *Bus) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.queue)
}

// SetFlushing discards queued messages and, while flushing, refuses posts.
func (b *Bus) SetFlushing(flushing bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.flushing = flushing
	if flushing {
		b.queue = nil
		close(b.space)
		b.space = make(chan struct{})
	}
}

// Sticky returns the remembered messages of type t, oldest first. The bus
// remembers terminal state changes, duration changes and merged tags per
// source, even after they were popped.
func (b *Bus) Sticky(t MessageType) []*Message {
	b.mu.Lock()
	defer b.mu.Unlock()
	var out []*Message
	for k, m := range b.sticky {
		if k.t&t != 0 {
			out = append(out, m)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Seqnum < out[j].Seqnum })
	return out
}

// StickyFrom returns the remembered message of type t posted by src.
func (b *Bus) StickyFrom(t MessageType, src *Element) *Message {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.sticky[stickyKey{t, src}]
}
