package pipeline

import (
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/zsiec/mediagraph/caps"
	"github.com/zsiec/mediagraph/media"
)

const maxNegotiationRounds = 8

// Link connects a source pad to a sink pad and carries the fixed format
// they agreed on.
type Link struct {
	src  *Pad
	sink *Pad
	caps atomic.Pointer[caps.Caps]
	mu   sync.Mutex // serializes negotiation
}

func (l *Link) Src() *Pad  { return l.src }
func (l *Link) Sink() *Pad { return l.sink }

// Caps returns the negotiated format. It is nil while both sides accept
// anything; the first caps event crossing the link fixes it.
func (l *Link) Caps() *caps.Caps { return l.caps.Load() }

func (l *Link) setCaps(c *caps.Caps) { l.caps.Store(c) }

func (l *Link) String() string {
	return fmt.Sprintf("%s -> %s [%v]", l.src.FullName(), l.sink.FullName(), l.Caps())
}

func (l *Link) wrap(err error) error {
	return &LinkError{Src: l.src.FullName(), Sink: l.sink.FullName(), Err: err}
}

// negotiate computes the fixed format for the link. With a nil proposal
// it starts from what the source pad can produce, otherwise from the
// proposal alone. It returns nil caps when both sides are unconstrained.
func (l *Link) negotiate(proposal *caps.Caps) (*caps.Caps, error) {
	var offer *caps.Caps
	if proposal != nil {
		offer = proposal.Intersect(l.src.TemplateCaps())
	} else {
		offer = l.src.QueryCaps(nil)
	}
	common := offer.Intersect(l.sink.QueryCaps(nil))
	if common.IsEmpty() {
		return nil, ErrNegotiationImpossible
	}

	if proposal == nil {
		if ev := l.src.StickyEvent(media.EventCaps); ev != nil && ev.Caps != nil {
			common = ev.Caps.Intersect(common)
			if common.IsEmpty() {
				return nil, ErrNegotiationImpossible
			}
		} else if pref := l.src.preferredCaps(); !pref.IsEmpty() {
			if c := pref.Intersect(common); !c.IsEmpty() {
				common = c
			}
		}
	}
	if common.IsAny() {
		return nil, nil
	}

	for round := 0; round < maxNegotiationRounds; round++ {
		restricted := l.sink.QueryCaps(common)
		if proposal == nil && !restricted.IsEmpty() {
			restricted = l.src.QueryCaps(restricted)
		}
		if restricted.IsEmpty() {
			return nil, ErrNegotiationImpossible
		}
		if restricted.Equal(common) {
			break
		}
		common = restricted
	}

	fixed := common.Fixate()
	if fixed.IsEmpty() || !fixed.IsFixed() {
		return nil, ErrFixationFailed
	}
	if !l.sink.AcceptCaps(fixed) {
		return nil, ErrNegotiationImpossible
	}
	return fixed, nil
}

// renegotiate reruns negotiation for a new upstream format.
func (l *Link) renegotiate(proposal *caps.Caps) (*caps.Caps, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	fixed, err := l.negotiate(proposal)
	if err != nil {
		return nil, l.wrap(err)
	}
	if fixed == nil {
		return nil, l.wrap(ErrFixationFailed)
	}
	slog.Debug("link renegotiated", "component", "link", "link", l.src.FullName()+"->"+l.sink.FullName(), "caps", fixed)
	l.setCaps(fixed)
	return fixed, nil
}

// LinkPads links src to sink and negotiates their format. Both pads must be
// unlinked and belong to elements in the same top-level container.
func LinkPads(src, sink *Pad) (*Link, error) {
	l := &Link{src: src, sink: sink}
	if src.Direction() != PadSrc || sink.Direction() != PadSink {
		return nil, l.wrap(ErrWrongDirection)
	}
	se, ke := src.Parent(), sink.Parent()
	if se == nil || ke == nil || se == ke || se.root() != ke.root() || se.Parent() == nil {
		return nil, l.wrap(ErrWrongHierarchy)
	}
	if src.IsLinked() || sink.IsLinked() {
		return nil, l.wrap(ErrWasLinked)
	}

	l.mu.Lock()
	fixed, err := l.negotiate(nil)
	l.mu.Unlock()
	if err != nil {
		return nil, l.wrap(err)
	}
	if fixed != nil {
		l.setCaps(fixed)
	}

	src.mu.Lock()
	sink.mu.Lock()
	if src.peer != nil || sink.peer != nil {
		sink.mu.Unlock()
		src.mu.Unlock()
		return nil, l.wrap(ErrWasLinked)
	}
	src.peer, src.link = sink, l
	sink.peer, sink.link = src, l
	sink.mu.Unlock()
	src.mu.Unlock()

	src.markStickyPending()
	se.log.Debug("linked", "link", l.String())
	return l, nil
}

// UnlinkPads removes the link between src and sink. It reports whether the
// pads were linked to each other.
func UnlinkPads(src, sink *Pad) bool {
	src.mu.Lock()
	sink.mu.Lock()
	defer sink.mu.Unlock()
	defer src.mu.Unlock()
	if src.peer != sink || sink.peer != src {
		return false
	}
	src.peer, src.link = nil, nil
	sink.peer, sink.link = nil, nil
	return true
}

// Unlink removes the pad's link, if any.
func (p *Pad) Unlink() bool {
	peer := p.Peer()
	if peer == nil {
		return false
	}
	if p.dir == PadSrc {
		return UnlinkPads(p, peer)
	}
	return UnlinkPads(peer, p)
}

type padCandidate struct {
	pad  *Pad
	tmpl *PadTemplate
}

func (c padCandidate) caps() *caps.Caps {
	if c.pad != nil {
		return c.pad.QueryCaps(nil)
	}
	return c.tmpl.Caps
}

func (e *Element) padCandidates(name string, dir PadDirection) ([]padCandidate, error) {
	if name != "" {
		if p := e.StaticPad(name); p != nil {
			if p.Direction() != dir {
				return nil, ErrWrongDirection
			}
			return []padCandidate{{pad: p}}, nil
		}
		for _, t := range e.PadTemplates() {
			if t.Presence != PadRequest || t.Direction != dir {
				continue
			}
			if _, ok := t.Matches(name); ok || t.NameTemplate == name {
				return []padCandidate{{tmpl: t}}, nil
			}
		}
		return nil, fmt.Errorf("%w: %s has no pad %q", ErrNoSuchTemplate, e.Name(), name)
	}

	var out []padCandidate
	for _, p := range e.Pads() {
		if p.Direction() == dir && !p.IsLinked() {
			out = append(out, padCandidate{pad: p})
		}
	}
	for _, t := range e.PadTemplates() {
		if t.Presence == PadRequest && t.Direction == dir {
			out = append(out, padCandidate{tmpl: t})
		}
	}
	return out, nil
}

func (e *Element) materialize(c padCandidate, name string) (*Pad, bool, error) {
	if c.pad != nil {
		return c.pad, false, nil
	}
	if name == "" {
		name = c.tmpl.NameTemplate
	}
	p, err := e.RequestPad(name)
	return p, err == nil, err
}

// Link links e to dst through the first pair of compatible pads: unlinked
// always and sometimes pads first, then newly requested pads.
func (e *Element) Link(dst *Element) error {
	return e.LinkPads("", dst, "")
}

// LinkPads links the named source pad of e to the named sink pad of dst.
// An empty name selects a compatible pad as Link does; a name matching a
// request template requests that pad.
func (e *Element) LinkPads(srcName string, dst *Element, sinkName string) error {
	srcs, err := e.padCandidates(srcName, PadSrc)
	if err != nil {
		return &LinkError{Src: e.Name() + ":" + srcName, Sink: dst.Name() + ":" + sinkName, Err: err}
	}
	sinks, err := dst.padCandidates(sinkName, PadSink)
	if err != nil {
		return &LinkError{Src: e.Name() + ":" + srcName, Sink: dst.Name() + ":" + sinkName, Err: err}
	}
	if len(srcs) == 0 || len(sinks) == 0 {
		return &LinkError{Src: e.Name(), Sink: dst.Name(), Err: ErrNoCompatiblePads}
	}

	src, sink := srcs[0], sinks[0]
	found := false
	for _, s := range srcs {
		for _, k := range sinks {
			if s.caps().CanIntersect(k.caps()) {
				src, sink, found = s, k, true
				break
			}
		}
		if found {
			break
		}
	}
	if !found {
		e.log.Debug("no pads with a common format, trying first pair", "dst", dst.Name())
	}

	sp, srcReq, err := e.materialize(src, srcName)
	if err != nil {
		return &LinkError{Src: e.Name(), Sink: dst.Name(), Err: err}
	}
	kp, sinkReq, err := dst.materialize(sink, sinkName)
	if err != nil {
		if srcReq {
			e.ReleaseRequestPad(sp)
		}
		return &LinkError{Src: sp.FullName(), Sink: dst.Name(), Err: err}
	}
	if _, err := LinkPads(sp, kp); err != nil {
		if srcReq {
			e.ReleaseRequestPad(sp)
		}
		if sinkReq {
			dst.ReleaseRequestPad(kp)
		}
		return err
	}
	return nil
}

// LinkMany links each element to the next.
func LinkMany(elems ...*Element) error {
	for i := 0; i+1 < len(elems); i++ {
		if err := elems[i].Link(elems[i+1]); err != nil {
			return err
		}
	}
	return nil
}

// Unlink removes every link from a source pad of e to a sink pad of dst.
// Request pads freed this way are released.
func (e *Element) Unlink(dst *Element) bool {
	unlinked := false
	for _, p := range e.SrcPads() {
		peer := p.Peer()
		if peer == nil || peer.Parent() != dst {
			continue
		}
		if UnlinkPads(p, peer) {
			unlinked = true
			if p.Presence() == PadRequest {
				e.ReleaseRequestPad(p)
			}
			if peer.Presence() == PadRequest {
				dst.ReleaseRequestPad(peer)
			}
		}
	}
	return unlinked
}
