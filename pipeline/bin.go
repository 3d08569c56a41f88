package pipeline

import (
	"fmt"
	"slices"
	"sync"

	"github.com/zsiec/mediagraph/media"
)

// Bin is an element that contains other elements. It drives its children
// through state changes in dependency order, aggregates their asynchronous
// transitions and end-of-stream, and relays their messages outwards.
type Bin struct {
	*Element

	childMu   sync.Mutex
	children  []*Element
	eosSeen   map[*Element]bool
	eosPosted bool

	// hook lets the owning pipeline intercept messages before they are
	// relayed. It returns true when it consumed the message.
	hook func(child *Element, m *Message) bool
}

// NewBin creates an empty bin.
func NewBin(name string) *Bin {
	b := &Bin{}
	if _, err := newElement(name, nil, b); err != nil {
		panic(err) // Init cannot fail
	}
	return b
}

// Init implements Impl.
func (b *Bin) Init(e *Element) error {
	b.Element = e
	b.eosSeen = make(map[*Element]bool)
	e.bin = b
	return nil
}

// Add puts elements into the bin. An element can only have one parent and
// names are unique within a bin.
func (b *Bin) Add(elems ...*Element) error {
	for _, c := range elems {
		if err := b.add(c); err != nil {
			return err
		}
	}
	return nil
}

func (b *Bin) add(c *Element) error {
	if c == b.Element {
		return fmt.Errorf("%w: %s cannot contain itself", ErrWrongHierarchy, c.Name())
	}
	b.childMu.Lock()
	defer b.childMu.Unlock()
	for _, o := range b.children {
		if o.Name() == c.Name() {
			return fmt.Errorf("%w: %s in %s", ErrDuplicateName, c.Name(), b.Name())
		}
	}
	c.mu.Lock()
	if c.parent != nil || c.pipe != nil {
		c.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrNotFloating, c.Name())
	}
	c.parent = b
	c.mu.Unlock()
	b.children = append(b.children, c)
	b.log.Debug("element added", "child", c.Name())
	return nil
}

// Remove takes a child in NULL state out of the bin, unlinking it and
// releasing request pads it held on its neighbours.
func (b *Bin) Remove(c *Element) error {
	b.childMu.Lock()
	i := slices.Index(b.children, c)
	if i < 0 {
		b.childMu.Unlock()
		return fmt.Errorf("%w: %s in %s", ErrNotChild, c.Name(), b.Name())
	}
	if st := c.State(); st != StateNull {
		b.childMu.Unlock()
		return fmt.Errorf("%w: %s is %s", ErrNotInNull, c.Name(), st)
	}
	b.children = slices.Delete(b.children, i, i+1)
	delete(b.eosSeen, c)
	b.childMu.Unlock()

	for _, p := range c.Pads() {
		peer := p.Peer()
		if peer == nil {
			continue
		}
		p.Unlink()
		if peer.Presence() == PadRequest {
			if owner := peer.Parent(); owner != nil {
				owner.ReleaseRequestPad(peer)
			}
		}
	}
	c.mu.Lock()
	c.parent = nil
	c.mu.Unlock()
	b.log.Debug("element removed", "child", c.Name())
	b.checkAsyncDone()
	return nil
}

// Children returns the direct children in the order they were added.
func (b *Bin) Children() []*Element {
	b.childMu.Lock()
	defer b.childMu.Unlock()
	return slices.Clone(b.children)
}

// ByName finds a descendant by name.
func (b *Bin) ByName(name string) *Element {
	for _, c := range b.Children() {
		if c.Name() == name {
			return c
		}
		if c.bin != nil {
			if found := c.bin.ByName(name); found != nil {
				return found
			}
		}
	}
	return nil
}

func (b *Bin) hasSink() bool {
	for _, c := range b.Children() {
		if c.IsSink() {
			return true
		}
	}
	return false
}

func (b *Bin) sinks() []*Element {
	var out []*Element
	for _, c := range b.Children() {
		if c.IsSink() {
			out = append(out, c)
		}
	}
	return out
}

func (b *Bin) sources() []*Element {
	var out []*Element
	for _, c := range b.Children() {
		if len(c.SinkPads()) == 0 && (c.bin == nil || !c.bin.hasSink()) {
			out = append(out, c)
		}
	}
	return out
}

// childOf maps a descendant to the direct child containing it.
func (b *Bin) childOf(e *Element) *Element {
	for e != nil {
		p := e.Parent()
		if p == b {
			return e
		}
		if p == nil {
			return nil
		}
		e = p.Element
	}
	return nil
}

// downstream returns the direct children c links into.
func (b *Bin) downstream(c *Element) []*Element {
	elems := []*Element{c}
	if c.bin != nil {
		elems = c.bin.Children()
	}
	var out []*Element
	for _, e := range elems {
		for _, p := range e.SrcPads() {
			peer := p.Peer()
			if peer == nil {
				continue
			}
			if d := b.childOf(peer.Parent()); d != nil && d != c && !slices.Contains(out, d) {
				out = append(out, d)
			}
		}
	}
	return out
}

// sortedChildren orders children so that every element comes before the
// elements linking into it: sinks first, sources last. Cycles keep their
// insertion order.
func (b *Bin) sortedChildren() []*Element {
	children := b.Children()
	slices.SortStableFunc(children, func(x, y *Element) int { return b.rank(x) - b.rank(y) })
	remaining := make(map[*Element]int, len(children))
	upstream := make(map[*Element][]*Element, len(children))
	for _, c := range children {
		ds := b.downstream(c)
		remaining[c] = len(ds)
		for _, d := range ds {
			upstream[d] = append(upstream[d], c)
		}
	}

	out := make([]*Element, 0, len(children))
	placed := make(map[*Element]bool, len(children))
	for len(out) < len(children) {
		progressed := false
		for _, c := range children {
			if placed[c] || remaining[c] > 0 {
				continue
			}
			placed[c] = true
			out = append(out, c)
			progressed = true
			for _, u := range upstream[c] {
				remaining[u]--
			}
		}
		if !progressed {
			for _, c := range children {
				if !placed[c] {
					placed[c] = true
					out = append(out, c)
				}
			}
		}
	}
	return out
}

// rank breaks ties between unlinked children: sinks, then filters, then
// sources.
func (b *Bin) rank(c *Element) int {
	switch {
	case c.IsSink():
		return 0
	case len(c.SinkPads()) == 0:
		return 2
	}
	return 1
}

// ChangeState implements StateChanger.
func (b *Bin) ChangeState(tr StateChange) StateChangeReturn {
	return b.changeChildren(tr)
}

// changeChildren moves every child to tr.To: sinks first going up, sources
// first going down.
func (b *Bin) changeChildren(tr StateChange) StateChangeReturn {
	switch tr {
	case ReadyToPaused, PausedToReady:
		b.resetEOS()
	}
	order := b.sortedChildren()
	if !tr.Upward() {
		slices.Reverse(order)
	}
	ret := StateChangeSuccess
	noPreroll := false
	for _, c := range order {
		switch r := c.SetState(tr.To); r {
		case StateChangeFailure:
			b.log.Warn("child failed to change state", "child", c.Name(), "transition", tr)
			if tr.Upward() {
				return StateChangeFailure
			}
		case StateChangeAsync:
			ret = StateChangeAsync
		case StateChangeNoPreroll:
			noPreroll = true
		}
	}
	if noPreroll {
		return StateChangeNoPreroll
	}
	return ret
}

func (b *Bin) resetEOS() {
	b.childMu.Lock()
	defer b.childMu.Unlock()
	clear(b.eosSeen)
	b.eosPosted = false
}

// collectEOS records EOS from child and reports whether every sink child
// has now finished.
func (b *Bin) collectEOS(child *Element) bool {
	b.childMu.Lock()
	defer b.childMu.Unlock()
	b.eosSeen[child] = true
	if b.eosPosted {
		return false
	}
	for _, c := range b.children {
		if c.IsSink() && !b.eosSeen[c] {
			return false
		}
	}
	b.eosPosted = true
	return true
}

// checkAsyncDone completes the bin's own asynchronous step once every
// child reached the step's target.
func (b *Bin) checkAsyncDone() {
	b.Element.mu.Lock()
	waiting := b.asyncPending || b.inStep
	next := b.next
	b.Element.mu.Unlock()
	if !waiting || next == StateVoidPending {
		return
	}
	for _, c := range b.Children() {
		c.mu.Lock()
		done := c.current == next && !c.asyncPending && c.pending == StateVoidPending
		c.mu.Unlock()
		if !done {
			return
		}
	}
	b.CompleteAsync()
}

func (b *Bin) handleChildMessage(child *Element, m *Message) bool {
	switch m.Type {
	case MessageAsyncDone:
		b.checkAsyncDone()
		return true
	case MessageStateChanged:
		if m.Source == child {
			defer b.checkAsyncDone()
		}
	case MessageEOS:
		if !b.collectEOS(child) {
			return true
		}
		m = NewEOSMessage(b.Element)
	}
	if b.hook != nil && b.hook(child, m) {
		return true
	}
	return b.Element.PostMessage(m)
}

// Query implements ElementQuerier. Position and duration come from the
// sinks, taking the largest answer; seeking succeeds if any sink can seek.
func (b *Bin) Query(q *Query) bool {
	if !q.Type.IsDataQuery() {
		return false
	}
	targets := b.sinks()
	if len(targets) == 0 {
		targets = b.Children()
	}
	answered := false
	switch q.Type {
	case QueryPosition, QueryDuration:
		best := int64(-1)
		for _, c := range targets {
			sub := &Query{Type: q.Type, Format: q.Format, Value: -1}
			if c.Query(sub) && sub.Value >= 0 {
				answered = true
				best = max(best, sub.Value)
			}
		}
		q.Value = best
	case QuerySeeking:
		for _, c := range targets {
			sub := NewSeekingQuery(q.Format)
			if !c.Query(sub) {
				continue
			}
			answered = true
			q.Seekable, q.SeekStart, q.SeekEnd = sub.Seekable, sub.SeekStart, sub.SeekEnd
			if sub.Seekable {
				break
			}
		}
	}
	return answered
}

// SendEvent implements ElementEventHandler. Upstream events go to every
// sink and succeed only if all of them accepted; downstream events go to
// the sources.
func (b *Bin) SendEvent(ev *media.Event) bool {
	var targets []*Element
	if ev.Type.IsUpstream() {
		targets = b.sinks()
	} else {
		targets = b.sources()
	}
	if len(targets) == 0 {
		return false
	}
	ok := true
	for _, c := range targets {
		if !c.SendEvent(ev) {
			b.log.Debug("child rejected event", "child", c.Name(), "event", ev.Type)
			ok = false
		}
	}
	return ok
}
