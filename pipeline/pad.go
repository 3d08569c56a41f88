package pipeline

import (
	"fmt"
	"strconv"
	"strings"
	"sync"

	"github.com/zsiec/mediagraph/caps"
	"github.com/zsiec/mediagraph/media"
)

// PadTemplate describes the pads an element can have.
type PadTemplate struct {
	// NameTemplate is the pad name, or a pattern with a %u placeholder for
	// sometimes and request pads ("src_%u").
	NameTemplate string
	Direction    PadDirection
	Presence     PadPresence
	Caps         *caps.Caps
}

// NewPadTemplate builds a template. A nil caps means ANY.
func NewPadTemplate(name string, dir PadDirection, presence PadPresence, c *caps.Caps) *PadTemplate {
	if c == nil {
		c = caps.NewAny()
	}
	return &PadTemplate{NameTemplate: name, Direction: dir, Presence: presence, Caps: c}
}

func (t *PadTemplate) String() string {
	return fmt.Sprintf("%s (%s, %s): %s", t.NameTemplate, t.Direction, t.Presence, t.Caps)
}

// IsPattern reports whether the template name has a %u placeholder.
func (t *PadTemplate) IsPattern() bool {
	return strings.Contains(t.NameTemplate, "%u")
}

// PadName expands the template for index n.
func (t *PadTemplate) PadName(n uint) string {
	return strings.Replace(t.NameTemplate, "%u", strconv.FormatUint(uint64(n), 10), 1)
}

// Matches reports whether name could have been produced by the template,
// returning the index when it has a placeholder.
func (t *PadTemplate) Matches(name string) (uint, bool) {
	if !t.IsPattern() {
		return 0, name == t.NameTemplate
	}
	prefix, suffix, _ := strings.Cut(t.NameTemplate, "%u")
	if !strings.HasPrefix(name, prefix) || !strings.HasSuffix(name, suffix) {
		return 0, false
	}
	digits := name[len(prefix) : len(name)-len(suffix)]
	n, err := strconv.ParseUint(digits, 10, 32)
	if err != nil {
		return 0, false
	}
	return uint(n), true
}

// ChainFunc receives a buffer on a sink pad.
type ChainFunc func(pad *Pad, buf *media.Buffer) FlowReturn

// EventFunc receives an event on a pad.
type EventFunc func(pad *Pad, ev *media.Event) bool

// QueryFunc answers a query on a pad.
type QueryFunc func(pad *Pad, q *Query) bool

type stickySlot struct {
	ev      *media.Event
	pending bool // not yet delivered to the current peer
}

const stickySlots = 6

// Pad is a typed endpoint of an element. Source pads push buffers and
// downstream events to their peer; sink pads receive them and send
// upstream events back.
type Pad struct {
	name string
	dir  PadDirection
	tmpl *PadTemplate

	mu       sync.Mutex
	parent   *Element
	peer     *Pad
	link     *Link
	active   bool
	flushing bool
	eos      bool
	sticky   [stickySlots]stickySlot
	chain    ChainFunc
	event    EventFunc
	query    QueryFunc

	streamLock sync.Mutex
}

// NewPad creates a pad with ANY template caps. Pads start flushing and
// become active with their element's READY to PAUSED transition.
func NewPad(name string, dir PadDirection) *Pad {
	return NewPadFromTemplate(NewPadTemplate(name, dir, PadAlways, nil), name)
}

// NewPadFromTemplate creates a pad named name from tmpl.
func NewPadFromTemplate(tmpl *PadTemplate, name string) *Pad {
	if name == "" {
		name = tmpl.NameTemplate
	}
	return &Pad{name: name, dir: tmpl.Direction, tmpl: tmpl, flushing: true}
}

func (p *Pad) Name() string { return p.name }

func (p *Pad) Direction() PadDirection { return p.dir }

func (p *Pad) Template() *PadTemplate { return p.tmpl }

func (p *Pad) Presence() PadPresence { return p.tmpl.Presence }

// TemplateCaps returns the formats the pad's template allows.
func (p *Pad) TemplateCaps() *caps.Caps { return p.tmpl.Caps }

// StreamLock serializes dataflow through the pad. Tasks hold it for each
// iteration.
func (p *Pad) StreamLock() *sync.Mutex { return &p.streamLock }

// SetChainFunc installs the buffer handler of a sink pad.
func (p *Pad) SetChainFunc(fn ChainFunc) {
	p.mu.Lock()
	p.chain = fn
	p.mu.Unlock()
}

// SetEventFunc installs the event handler; without one EventDefault runs.
func (p *Pad) SetEventFunc(fn EventFunc) {
	p.mu.Lock()
	p.event = fn
	p.mu.Unlock()
}

// SetQueryFunc installs the query handler; without one QueryDefault runs.
func (p *Pad) SetQueryFunc(fn QueryFunc) {
	p.mu.Lock()
	p.query = fn
	p.mu.Unlock()
}

// FullName is "element:pad".
func (p *Pad) FullName() string {
	if e := p.Parent(); e != nil {
		return e.Name() + ":" + p.name
	}
	return p.name
}

func (p *Pad) String() string { return p.FullName() }

// Parent returns the owning element, or nil before AddPad.
func (p *Pad) Parent() *Element {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.parent
}

// Peer returns the linked pad, or nil.
func (p *Pad) Peer() *Pad {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.peer
}

// Link returns the link this pad belongs to, or nil.
func (p *Pad) Link() *Link {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.link
}

// IsLinked reports whether the pad has a peer.
func (p *Pad) IsLinked() bool { return p.Peer() != nil }

// CurrentCaps returns the negotiated format of the pad's link, or nil.
func (p *Pad) CurrentCaps() *caps.Caps {
	if l := p.Link(); l != nil {
		return l.Caps()
	}
	return nil
}

// IsFlushing reports whether the pad refuses data.
func (p *Pad) IsFlushing() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.flushing
}

// IsActive reports whether the pad was activated by its element.
func (p *Pad) IsActive() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.active
}

// IsEOS reports whether end-of-stream passed through the pad since the last
// flush.
func (p *Pad) IsEOS() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.eos
}

// StickyEvent returns the stored sticky event of type t, or nil.
func (p *Pad) StickyEvent(t media.EventType) *media.Event {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.sticky[t.StickyOrder()].ev
}

// StickyEvents returns the stored sticky events in stream order.
func (p *Pad) StickyEvents() []*media.Event {
	p.mu.Lock()
	defer p.mu.Unlock()
	var out []*media.Event
	for _, s := range p.sticky {
		if s.ev != nil {
			out = append(out, s.ev)
		}
	}
	return out
}

func (p *Pad) storeStickyLocked(ev *media.Event, pending bool) {
	i := ev.Type.StickyOrder()
	if i == 0 {
		return
	}
	p.sticky[i] = stickySlot{ev: ev, pending: pending}
}

func (p *Pad) clearStickyLocked(types ...media.EventType) {
	if len(types) == 0 {
		p.sticky = [stickySlots]stickySlot{}
		return
	}
	for _, t := range types {
		p.sticky[t.StickyOrder()] = stickySlot{}
	}
}

// markStickyPending schedules every stored sticky event for delivery to a
// new peer.
func (p *Pad) markStickyPending() {
	p.mu.Lock()
	defer p.mu.Unlock()
	for i := range p.sticky {
		if p.sticky[i].ev != nil {
			p.sticky[i].pending = true
		}
	}
}

func (p *Pad) takePendingLocked() []*media.Event {
	var out []*media.Event
	for i := range p.sticky {
		if p.sticky[i].pending {
			out = append(out, p.sticky[i].ev)
			p.sticky[i].pending = false
		}
	}
	return out
}

func (p *Pad) repend(ev *media.Event) {
	p.mu.Lock()
	defer p.mu.Unlock()
	i := ev.Type.StickyOrder()
	if p.sticky[i].ev == ev {
		p.sticky[i].pending = true
	}
}

// sendPending delivers queued sticky events to peer and reports whether
// want, if given, was accepted. A rejected caps event stays pending and
// fails the stream as not negotiated; other sticky events are
// informational.
func (p *Pad) sendPending(peer *Pad, pending []*media.Event, want *media.Event) (FlowReturn, bool) {
	wantOK := want == nil
	for i, ev := range pending {
		if peer.receiveEvent(ev) {
			if ev == want {
				wantOK = true
			}
			continue
		}
		flushing := p.IsFlushing() || peer.IsFlushing()
		if flushing || ev.Type == media.EventCaps {
			for _, rest := range pending[i:] {
				p.repend(rest)
			}
			if flushing {
				return FlowFlushing, false
			}
			return FlowNotNegotiated, false
		}
	}
	return FlowOK, wantOK
}

// setActive switches the pad between streaming and flushing. A source pad
// being deactivated flushes its peer so a blocked downstream element lets
// go; one being reactivated ends that flush.
func (p *Pad) setActive(active bool) {
	p.mu.Lock()
	if p.active == active {
		p.mu.Unlock()
		return
	}
	p.active = active
	p.flushing = !active
	if !active {
		p.eos = false
		p.clearStickyLocked()
	}
	peer := p.peer
	p.mu.Unlock()

	if p.dir != PadSrc || peer == nil {
		return
	}
	if !active {
		peer.receiveEvent(media.NewFlushStartEvent())
		return
	}
	if peer.IsActive() && peer.IsFlushing() {
		peer.receiveEvent(media.NewFlushStopEvent(false))
	}
}

// Push sends buf to the peer of a source pad. Pending sticky events are
// delivered first.
func (p *Pad) Push(buf *media.Buffer) FlowReturn {
	p.mu.Lock()
	switch {
	case p.flushing:
		p.mu.Unlock()
		return FlowFlushing
	case p.eos:
		p.mu.Unlock()
		return FlowEOS
	case p.peer == nil:
		p.mu.Unlock()
		return FlowNotLinked
	}
	peer := p.peer
	parent := p.parent
	pending := p.takePendingLocked()
	p.mu.Unlock()

	if len(pending) > 0 {
		if ret, _ := p.sendPending(peer, pending, nil); ret != FlowOK {
			return ret
		}
	}
	ret := peer.chainBuffer(buf)
	if parent != nil && ret == FlowOK {
		parent.Metrics().BufferPushed(parent.Name(), p.name, buf.Size())
	}
	return ret
}

func (p *Pad) chainBuffer(buf *media.Buffer) FlowReturn {
	p.mu.Lock()
	switch {
	case p.flushing:
		p.mu.Unlock()
		return FlowFlushing
	case p.eos:
		p.mu.Unlock()
		return FlowEOS
	}
	fn := p.chain
	p.mu.Unlock()
	if fn == nil {
		return FlowNotSupported
	}
	return fn(p, buf)
}

// PushEvent sends ev out of the pad: downstream from a source pad, upstream
// from a sink pad. Sticky events pushed on a source pad are stored and
// replayed to any later peer.
func (p *Pad) PushEvent(ev *media.Event) bool {
	if p.dir == PadSink {
		if !ev.Type.IsUpstream() {
			return false
		}
		peer := p.Peer()
		if peer == nil {
			return false
		}
		return peer.receiveEvent(ev)
	}
	if ev.Type == media.EventSeek {
		return false
	}

	switch ev.Type {
	case media.EventFlushStart:
		p.mu.Lock()
		p.flushing = true
		peer := p.peer
		p.mu.Unlock()
		if peer == nil {
			return true
		}
		return peer.receiveEvent(ev)
	case media.EventFlushStop:
		p.mu.Lock()
		p.flushing = !p.active
		p.eos = false
		p.clearStickyLocked(media.EventSegment, media.EventEOS)
		peer := p.peer
		p.mu.Unlock()
		if peer == nil {
			return true
		}
		return peer.receiveEvent(ev)
	case media.EventCaps:
		var ok bool
		if ev, ok = p.checkRenegotiate(ev); !ok {
			return false
		}
	}

	p.mu.Lock()
	if p.flushing {
		p.mu.Unlock()
		return false
	}
	if ev.Type.IsSticky() {
		p.storeStickyLocked(ev, true)
		if ev.Type == media.EventEOS {
			p.eos = true
		}
	}
	peer := p.peer
	if peer == nil {
		p.mu.Unlock()
		return ev.Type.IsSticky()
	}
	pending := p.takePendingLocked()
	p.mu.Unlock()

	if !ev.Type.IsSticky() {
		if ret, _ := p.sendPending(peer, pending, nil); ret != FlowOK {
			return false
		}
		return peer.receiveEvent(ev)
	}
	_, ok := p.sendPending(peer, pending, ev)
	return ok
}

// checkRenegotiate handles a caps event leaving a linked source pad. A
// format outside the negotiated one reruns negotiation; failure is posted
// as an error.
func (p *Pad) checkRenegotiate(ev *media.Event) (*media.Event, bool) {
	l := p.Link()
	if l == nil || ev.Caps == nil {
		return ev, true
	}
	cur := l.Caps()
	if cur != nil && ev.Caps.IsFixed() && ev.Caps.IsSubset(cur) {
		l.setCaps(ev.Caps)
		return ev, true
	}
	fixed, err := l.renegotiate(ev.Caps)
	if err != nil {
		if e := p.Parent(); e != nil {
			e.PostError(DomainStream, err, fmt.Sprintf("renegotiation failed on %s", p.FullName()))
		}
		return ev, false
	}
	if !fixed.Equal(ev.Caps) {
		ev = ev.Copy()
		ev.Caps = fixed
	}
	return ev, true
}

// SendEvent delivers ev into the pad as if it came from the peer.
func (p *Pad) SendEvent(ev *media.Event) bool { return p.receiveEvent(ev) }

func (p *Pad) receiveEvent(ev *media.Event) bool {
	if ev.Type == media.EventCaps && p.dir == PadSink && ev.Caps != nil {
		if !p.AcceptCaps(ev.Caps) {
			return false
		}
	}

	p.mu.Lock()
	switch ev.Type {
	case media.EventFlushStart:
		p.flushing = true
	case media.EventFlushStop:
		p.flushing = !p.active
		p.eos = false
		p.clearStickyLocked(media.EventSegment, media.EventEOS)
	default:
		if p.flushing && ev.Type.IsSerialized() {
			p.mu.Unlock()
			return false
		}
		if p.dir == PadSink && p.eos && ev.Type.IsSerialized() && ev.Type != media.EventStreamStart {
			p.mu.Unlock()
			return false
		}
		if p.dir == PadSink && ev.Type.IsSticky() {
			p.storeStickyLocked(ev, false)
		}
		if p.dir == PadSink && ev.Type == media.EventStreamStart {
			p.eos = false
		}
		if p.dir == PadSink && ev.Type == media.EventEOS {
			p.eos = true
		}
	}
	fn := p.event
	p.mu.Unlock()

	if fn != nil {
		return fn(p, ev)
	}
	return EventDefault(p, ev)
}

// EventDefault forwards ev through the pad's element: events arriving on a
// sink pad go out of every source pad and vice versa. It reports whether
// any pad accepted the event; with no pads to forward to the event is
// considered handled.
func EventDefault(pad *Pad, ev *media.Event) bool {
	e := pad.Parent()
	if e == nil {
		return false
	}
	var targets []*Pad
	if pad.dir == PadSink {
		targets = e.SrcPads()
	} else {
		targets = e.SinkPads()
	}
	if len(targets) == 0 {
		return true
	}
	ok := false
	for _, t := range targets {
		if t.PushEvent(ev) {
			ok = true
		}
	}
	return ok
}

// Query answers q on this pad.
func (p *Pad) Query(q *Query) bool {
	p.mu.Lock()
	fn := p.query
	p.mu.Unlock()
	if fn != nil {
		return fn(p, q)
	}
	return QueryDefault(p, q)
}

// PeerQuery sends q to the peer of the pad.
func (p *Pad) PeerQuery(q *Query) bool {
	peer := p.Peer()
	if peer == nil {
		return false
	}
	return peer.Query(q)
}

// QueryDefault answers caps queries with the negotiated format, or the
// template when the pad is not negotiated, and accept-caps queries against
// that. Data queries are forwarded through the element to the next peer
// upstream (from a source pad) or downstream (from a sink pad).
func QueryDefault(pad *Pad, q *Query) bool {
	switch q.Type {
	case QueryCaps:
		if cur := pad.CurrentCaps(); cur != nil && pad.dir == PadSrc {
			q.SetCapsResult(cur)
		} else {
			q.SetCapsResult(pad.TemplateCaps())
		}
		return true
	case QueryAcceptCaps:
		q.Accepted = q.Caps.IsSubset(pad.QueryCaps(nil))
		return true
	}
	e := pad.Parent()
	if e == nil {
		return false
	}
	var targets []*Pad
	if pad.dir == PadSrc {
		targets = e.SinkPads()
	} else {
		targets = e.SrcPads()
	}
	for _, t := range targets {
		if t.PeerQuery(q) {
			return true
		}
	}
	return false
}

// ProxyQueryCaps answers a caps query on pad with what the peers on the
// other side of its element accept, restricted by the pad template. Elements
// that pass data through unchanged install it on their pads.
func ProxyQueryCaps(pad *Pad, q *Query) bool {
	e := pad.Parent()
	if e == nil {
		return QueryDefault(pad, q)
	}
	var others []*Pad
	if pad.dir == PadSrc {
		others = e.SinkPads()
	} else {
		others = e.SrcPads()
	}
	result := pad.TemplateCaps()
	for _, o := range others {
		peer := o.Peer()
		if peer == nil {
			continue
		}
		result = result.Intersect(peer.QueryCaps(q.Filter)).Intersect(o.TemplateCaps())
	}
	q.SetCapsResult(result)
	return true
}

// QueryCaps returns the formats the pad can handle, restricted to filter.
func (p *Pad) QueryCaps(filter *caps.Caps) *caps.Caps {
	q := NewCapsQuery(filter)
	if !p.Query(q) || q.Result == nil {
		q.SetCapsResult(p.TemplateCaps())
	}
	return q.Result.Intersect(p.TemplateCaps())
}

// PeerQueryCaps asks the peer which formats it can handle.
func (p *Pad) PeerQueryCaps(filter *caps.Caps) *caps.Caps {
	peer := p.Peer()
	if peer == nil {
		if filter != nil {
			return filter.Copy()
		}
		return caps.NewAny()
	}
	return peer.QueryCaps(filter)
}

// AcceptCaps reports whether the pad accepts the fixed format c.
func (p *Pad) AcceptCaps(c *caps.Caps) bool {
	q := NewAcceptCapsQuery(c)
	if !p.Query(q) {
		return false
	}
	return q.Accepted
}

// preferredCaps asks the pad's element which format it would choose, or nil
// when it has no preference.
func (p *Pad) preferredCaps() *caps.Caps {
	e := p.Parent()
	if e == nil {
		return nil
	}
	if pref, ok := e.impl.(CapsPreferrer); ok {
		return pref.PreferredCaps(p)
	}
	return nil
}
