package pipeline

import (
	"fmt"
	"log/slog"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/zsiec/mediagraph/caps"
	"github.com/zsiec/mediagraph/media"
	"github.com/zsiec/mediagraph/metrics"
)

// Impl is the behaviour behind an Element. Init is called once when the
// element is made and usually adds the always pads. The optional
// interfaces below extend it.
type Impl interface {
	Init(e *Element) error
}

// StateChanger handles one step of a state transition.
type StateChanger interface {
	ChangeState(tr StateChange) StateChangeReturn
}

// PadRequester creates and releases request pads.
type PadRequester interface {
	RequestPad(tmpl *PadTemplate, name string) (*Pad, error)
	ReleasePad(pad *Pad)
}

// ElementQuerier answers queries sent to the element itself.
type ElementQuerier interface {
	Query(q *Query) bool
}

// ElementEventHandler handles events sent to the element itself, such as
// seeks from the application.
type ElementEventHandler interface {
	SendEvent(ev *media.Event) bool
}

// CapsPreferrer picks a preferred format during negotiation of a pad.
type CapsPreferrer interface {
	PreferredCaps(pad *Pad) *caps.Caps
}

// PropertyObserver is told when a property value changes.
type PropertyObserver interface {
	PropertyChanged(name string, value any)
}

// ElementFlags describe an element's role in its container.
type ElementFlags uint32

const (
	// FlagSource marks elements that produce data without sink pads.
	FlagSource ElementFlags = 1 << iota
	// FlagSink marks elements that consume data and post EOS.
	FlagSink
	// FlagLive marks sources that produce data only in PLAYING.
	FlagLive
)

// Element is a node of the media graph. Its behaviour comes from an Impl;
// the Element provides pads, properties, the state machine and access to
// the bus and clock of the pipeline it lives in.
type Element struct {
	id      uuid.UUID
	name    string
	factory *Factory
	impl    Impl
	log     *slog.Logger

	mu           sync.Mutex
	flags        ElementFlags
	parent       *Bin
	bin          *Bin
	pipe         *Pipeline
	pads         []*Pad
	templates    []*PadTemplate
	padsActive   bool
	requestIndex map[*PadTemplate]uint
	props        map[string]any
	specs        map[string]PropertySpec
	onPadAdded   []func(*Element, *Pad)
	onPadRemoved []func(*Element, *Pad)
	onNoMorePads []func(*Element)

	stateLock    sync.Mutex
	current      State
	next         State
	pending      State
	target       State
	lastReturn   StateChangeReturn
	inStep       bool
	asyncPending bool
	asyncEarly   bool
	stateCh      chan struct{}
}

// NewElement creates an element driven by impl and calls its Init.
func NewElement(name string, impl Impl) (*Element, error) {
	return newElement(name, nil, impl)
}

func newElement(name string, f *Factory, impl Impl) (*Element, error) {
	e := &Element{
		id:           uuid.New(),
		name:         name,
		factory:      f,
		impl:         impl,
		current:      StateNull,
		next:         StateVoidPending,
		pending:      StateVoidPending,
		target:       StateNull,
		lastReturn:   StateChangeSuccess,
		requestIndex: make(map[*PadTemplate]uint),
		props:        make(map[string]any),
		stateCh:      make(chan struct{}),
	}
	logAttrs := []any{"component", "element", "element", name}
	if f != nil {
		logAttrs = append(logAttrs, "factory", f.Name)
		e.templates = slices.Clone(f.Templates)
		for _, spec := range f.Properties {
			if v, err := spec.Coerce(spec.Default); err == nil {
				e.props[spec.Name] = v
			}
		}
	}
	e.log = slog.With(logAttrs...)
	if err := impl.Init(e); err != nil {
		return nil, fmt.Errorf("pipeline: init %s: %w", name, err)
	}
	return e, nil
}

// ID returns the element's unique identity.
func (e *Element) ID() uuid.UUID { return e.id }

// Name returns the element's name, unique within its parent.
func (e *Element) Name() string { return e.name }

// String returns the name, for logging.
func (e *Element) String() string { return e.name }

// Factory returns the factory that made the element, or nil.
func (e *Element) Factory() *Factory { return e.factory }

// Impl returns the element's behaviour.
func (e *Element) Impl() Impl { return e.impl }

// Log returns the element's logger.
func (e *Element) Log() *slog.Logger { return e.log }

// Flags returns the element's role flags.
func (e *Element) Flags() ElementFlags {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.flags
}

// SetFlags adds flags.
func (e *Element) SetFlags(f ElementFlags) {
	e.mu.Lock()
	e.flags |= f
	e.mu.Unlock()
}

// ClearFlags removes flags.
func (e *Element) ClearFlags(f ElementFlags) {
	e.mu.Lock()
	e.flags &^= f
	e.mu.Unlock()
}

// IsSink reports whether the element is a sink or a bin containing one.
func (e *Element) IsSink() bool {
	if e.bin != nil {
		return e.bin.hasSink()
	}
	return e.Flags()&FlagSink != 0
}

// Parent returns the containing bin, or nil.
func (e *Element) Parent() *Bin {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.parent
}

func (e *Element) root() *Element {
	r := e
	for p := r.Parent(); p != nil; p = r.Parent() {
		r = p.Element
	}
	return r
}

// Pipeline returns the top-level pipeline containing e, or nil.
func (e *Element) Pipeline() *Pipeline {
	r := e.root()
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.pipe
}

// Bus returns the bus of the containing pipeline, or nil.
func (e *Element) Bus() *Bus {
	if p := e.Pipeline(); p != nil {
		return p.bus
	}
	return nil
}

// Metrics returns the collectors of the containing pipeline. The result may
// be nil; its methods are nil-safe.
func (e *Element) Metrics() *metrics.Metrics {
	if p := e.Pipeline(); p != nil {
		return p.metrics
	}
	return nil
}

// Clock returns the clock of the containing pipeline, or nil.
func (e *Element) Clock() Clock {
	if p := e.Pipeline(); p != nil {
		return p.clock.get()
	}
	return nil
}

// BaseTime returns the clock time at which running time zero was, and
// whether the pipeline is PLAYING so that it is meaningful.
func (e *Element) BaseTime() (media.ClockTime, bool) {
	if p := e.Pipeline(); p != nil {
		return p.clock.baseTime()
	}
	return 0, false
}

// RunningTime returns the pipeline's running time.
func (e *Element) RunningTime() media.ClockTime {
	if p := e.Pipeline(); p != nil {
		return p.clock.runningTime()
	}
	return media.ClockTimeNone
}

// --- messages ---

// PostMessage sends m towards the bus through the element's containers.
// It reports false when there is no bus or the bus dropped m.
func (e *Element) PostMessage(m *Message) bool {
	if parent := e.Parent(); parent != nil {
		return parent.handleChildMessage(e, m)
	}
	e.mu.Lock()
	pipe := e.pipe
	e.mu.Unlock()
	if pipe != nil {
		return pipe.postToBus(m)
	}
	e.log.Debug("message without bus", "type", m.Type)
	return false
}

// PostError posts a fatal error.
func (e *Element) PostError(domain ErrorDomain, err error, debug string) {
	e.log.Error("element error", "domain", domain, "error", err, "debug", debug)
	e.PostMessage(NewErrorMessage(e, domain, err, debug))
}

// PostWarning posts a recoverable problem.
func (e *Element) PostWarning(domain ErrorDomain, err error, debug string) {
	e.log.Warn("element warning", "domain", domain, "error", err, "debug", debug)
	e.PostMessage(NewWarningMessage(e, domain, err, debug))
}

// RequestResetTime asks the pipeline to restart its running time at zero,
// as sinks do after a flushing seek.
func (e *Element) RequestResetTime() {
	e.PostMessage(newResetTimeMessage(e))
}

// --- pads ---

// PadTemplates returns the element's pad templates.
func (e *Element) PadTemplates() []*PadTemplate {
	e.mu.Lock()
	defer e.mu.Unlock()
	return slices.Clone(e.templates)
}

// PadTemplate returns the template with the given name template, or nil.
func (e *Element) PadTemplate(name string) *PadTemplate {
	for _, t := range e.PadTemplates() {
		if t.NameTemplate == name {
			return t
		}
	}
	return nil
}

// AddPadTemplate adds a template to an element made without a factory.
func (e *Element) AddPadTemplate(t *PadTemplate) {
	e.mu.Lock()
	e.templates = append(e.templates, t)
	e.mu.Unlock()
}

// AddPad adds p to the element and announces it to pad-added listeners.
// Pads added while the element is PAUSED or PLAYING are activated.
func (e *Element) AddPad(p *Pad) error {
	e.mu.Lock()
	for _, q := range e.pads {
		if q.name == p.name {
			e.mu.Unlock()
			return fmt.Errorf("%w: %s:%s", ErrDuplicatePad, e.name, p.name)
		}
	}
	p.mu.Lock()
	if p.parent != nil {
		p.mu.Unlock()
		e.mu.Unlock()
		return fmt.Errorf("%w: pad %s", ErrNotFloating, p.name)
	}
	p.parent = e
	p.mu.Unlock()
	e.pads = append(e.pads, p)
	active := e.padsActive
	listeners := slices.Clone(e.onPadAdded)
	e.mu.Unlock()

	if active {
		p.setActive(true)
	}
	e.log.Debug("pad added", "pad", p.name, "direction", p.dir)
	for _, fn := range listeners {
		fn(e, p)
	}
	return nil
}

// RemovePad unlinks and removes p, announcing it to pad-removed listeners.
func (e *Element) RemovePad(p *Pad) error {
	e.mu.Lock()
	i := slices.Index(e.pads, p)
	if i < 0 {
		e.mu.Unlock()
		return fmt.Errorf("pipeline: %s has no pad %s", e.name, p.name)
	}
	e.pads = slices.Delete(e.pads, i, i+1)
	listeners := slices.Clone(e.onPadRemoved)
	e.mu.Unlock()

	p.setActive(false)
	p.Unlink()
	p.mu.Lock()
	p.parent = nil
	p.mu.Unlock()
	e.log.Debug("pad removed", "pad", p.name)
	for _, fn := range listeners {
		fn(e, p)
	}
	return nil
}

// NoMorePads tells listeners that the element will not add further
// sometimes pads.
func (e *Element) NoMorePads() {
	e.mu.Lock()
	listeners := slices.Clone(e.onNoMorePads)
	e.mu.Unlock()
	for _, fn := range listeners {
		fn(e)
	}
}

// OnPadAdded registers fn to run whenever a pad is added.
func (e *Element) OnPadAdded(fn func(*Element, *Pad)) {
	e.mu.Lock()
	e.onPadAdded = append(e.onPadAdded, fn)
	e.mu.Unlock()
}

// OnPadRemoved registers fn to run whenever a pad is removed.
func (e *Element) OnPadRemoved(fn func(*Element, *Pad)) {
	e.mu.Lock()
	e.onPadRemoved = append(e.onPadRemoved, fn)
	e.mu.Unlock()
}

// OnNoMorePads registers fn to run when the element has added all its
// sometimes pads.
func (e *Element) OnNoMorePads(fn func(*Element)) {
	e.mu.Lock()
	e.onNoMorePads = append(e.onNoMorePads, fn)
	e.mu.Unlock()
}

// Pads returns the element's pads in the order they were added.
func (e *Element) Pads() []*Pad {
	e.mu.Lock()
	defer e.mu.Unlock()
	return slices.Clone(e.pads)
}

func (e *Element) padsOf(dir PadDirection) []*Pad {
	e.mu.Lock()
	defer e.mu.Unlock()
	var out []*Pad
	for _, p := range e.pads {
		if p.dir == dir {
			out = append(out, p)
		}
	}
	return out
}

// SrcPads returns the source pads.
func (e *Element) SrcPads() []*Pad { return e.padsOf(PadSrc) }

// SinkPads returns the sink pads.
func (e *Element) SinkPads() []*Pad { return e.padsOf(PadSink) }

// StaticPad returns the existing pad called name, or nil.
func (e *Element) StaticPad(name string) *Pad {
	e.mu.Lock()
	defer e.mu.Unlock()
	for _, p := range e.pads {
		if p.name == name {
			return p
		}
	}
	return nil
}

// RequestPad creates a pad from a request template. name is either the
// template name, which picks the next free index ("src_%u" gives src_0,
// src_1, ...), or a concrete name the template can produce.
func (e *Element) RequestPad(name string) (*Pad, error) {
	req, ok := e.impl.(PadRequester)
	if !ok {
		return nil, fmt.Errorf("%w: %s has no request pads", ErrNoSuchTemplate, e.name)
	}
	var tmpl *PadTemplate
	padName := ""
	for _, t := range e.PadTemplates() {
		if t.Presence != PadRequest {
			continue
		}
		if t.NameTemplate == name {
			tmpl = t
			break
		}
		if _, ok := t.Matches(name); ok {
			tmpl, padName = t, name
			break
		}
	}
	if tmpl == nil {
		return nil, fmt.Errorf("%w: %s has no request template for %q", ErrNoSuchTemplate, e.name, name)
	}
	if padName == "" {
		padName = e.nextRequestName(tmpl)
	} else if e.StaticPad(padName) != nil {
		return nil, fmt.Errorf("%w: %s:%s", ErrDuplicatePad, e.name, padName)
	}

	p, err := req.RequestPad(tmpl, padName)
	if err != nil {
		return nil, err
	}
	if p.Parent() == nil {
		if err := e.AddPad(p); err != nil {
			return nil, err
		}
	}
	return p, nil
}

func (e *Element) nextRequestName(tmpl *PadTemplate) string {
	if !tmpl.IsPattern() {
		return tmpl.NameTemplate
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	for {
		n := e.requestIndex[tmpl]
		e.requestIndex[tmpl] = n + 1
		name := tmpl.PadName(n)
		taken := false
		for _, p := range e.pads {
			if p.name == name {
				taken = true
				break
			}
		}
		if !taken {
			return name
		}
	}
}

// ReleaseRequestPad unlinks and removes a pad obtained with RequestPad.
func (e *Element) ReleaseRequestPad(p *Pad) error {
	if p.Presence() != PadRequest || p.Parent() != e {
		return fmt.Errorf("%w: %s", ErrNotRequestPad, p.FullName())
	}
	p.Unlink()
	if req, ok := e.impl.(PadRequester); ok {
		req.ReleasePad(p)
	}
	if p.Parent() == e {
		return e.RemovePad(p)
	}
	return nil
}

func (e *Element) activatePads(active bool) {
	e.mu.Lock()
	e.padsActive = active
	pads := slices.Clone(e.pads)
	e.mu.Unlock()
	for _, dir := range []PadDirection{PadSrc, PadSink} {
		for _, p := range pads {
			if p.dir == dir {
				p.setActive(active)
			}
		}
	}
}

// --- events and queries ---

// SendEvent sends ev to the element. Upstream events such as seeks go out
// of its sink pads and downstream events out of its source pads unless the
// implementation handles them.
func (e *Element) SendEvent(ev *media.Event) bool {
	if h, ok := e.impl.(ElementEventHandler); ok {
		return h.SendEvent(ev)
	}
	return e.sendEventDefault(ev)
}

func (e *Element) sendEventDefault(ev *media.Event) bool {
	var pads []*Pad
	if ev.Type.IsUpstream() {
		pads = e.SinkPads()
	} else {
		pads = e.SrcPads()
	}
	ok := false
	for _, p := range pads {
		if p.PushEvent(ev) {
			ok = true
		}
	}
	return ok
}

// Query asks the element q. Data queries go upstream through its sink
// pads unless the implementation answers them.
func (e *Element) Query(q *Query) bool {
	if h, ok := e.impl.(ElementQuerier); ok {
		return h.Query(q)
	}
	return e.queryDefault(q)
}

func (e *Element) queryDefault(q *Query) bool {
	for _, p := range e.SinkPads() {
		if p.PeerQuery(q) {
			return true
		}
	}
	return false
}

// QueryPosition returns the current position in format.
func (e *Element) QueryPosition(format media.Format) (int64, bool) {
	q := NewPositionQuery(format)
	if !e.Query(q) || q.Value < 0 {
		return -1, false
	}
	return q.Value, true
}

// QueryDuration returns the total stream length in format.
func (e *Element) QueryDuration(format media.Format) (int64, bool) {
	q := NewDurationQuery(format)
	if !e.Query(q) || q.Value < 0 {
		return -1, false
	}
	return q.Value, true
}

// SeekingInfo is the answer to a seeking query.
type SeekingInfo struct {
	Seekable bool
	Start    int64
	End      int64
}

// QuerySeeking asks whether the stream is seekable in format and over
// which range.
func (e *Element) QuerySeeking(format media.Format) (SeekingInfo, bool) {
	q := NewSeekingQuery(format)
	if !e.Query(q) {
		return SeekingInfo{}, false
	}
	return SeekingInfo{Seekable: q.Seekable, Start: q.SeekStart, End: q.SeekEnd}, true
}

// Seek sends a seek event built from the arguments.
func (e *Element) Seek(rate float64, format media.Format, flags media.SeekFlags,
	startType media.SeekType, start int64, stopType media.SeekType, stop int64) bool {
	return e.SendEvent(media.NewSeekEvent(media.SeekParams{
		Rate:      rate,
		Format:    format,
		Flags:     flags,
		StartType: startType,
		Start:     start,
		StopType:  stopType,
		Stop:      stop,
	}))
}

// SeekSimple seeks to pos at normal rate, leaving the stop position
// unchanged.
func (e *Element) SeekSimple(format media.Format, flags media.SeekFlags, pos int64) bool {
	return e.Seek(1.0, format, flags, media.SeekTypeSet, pos, media.SeekTypeNone, -1)
}

// --- state machine ---

// State returns the current state without waiting.
func (e *Element) State() State {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.current
}

// TargetState returns the state the element is heading for.
func (e *Element) TargetState() State {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.target
}

// SetState moves the element towards target, one step at a time. Success
// and NoPreroll mean target was reached; Async means an element still
// prerolls and the transition continues in the background; Failure means
// the element stays in the last state it reached.
func (e *Element) SetState(target State) StateChangeReturn {
	if target < StateNull || target > StatePlaying {
		return StateChangeFailure
	}
	e.stateLock.Lock()
	defer e.stateLock.Unlock()
	return e.setStateLocked(target)
}

func (e *Element) setStateLocked(target State) StateChangeReturn {
	e.mu.Lock()
	e.target = target
	if e.asyncPending {
		up := e.next > e.current
		if (up && target >= e.next) || (!up && target <= e.next) {
			e.pending = target
			e.mu.Unlock()
			return StateChangeAsync
		}
		// Reverse direction: the step already ran, commit it and walk back.
		old := e.current
		e.current = e.next
		e.asyncPending = false
		e.pending = target
		cur := e.current
		e.notifyLocked()
		e.mu.Unlock()
		e.log.Debug("async state change aborted", "from", old, "to", cur, "target", target)
		e.PostMessage(NewStateChangedMessage(e, old, cur, target))
	} else {
		e.pending = target
		e.mu.Unlock()
	}
	return e.runTransitions()
}

func (e *Element) runTransitions() StateChangeReturn {
	noPreroll := false
	for {
		e.mu.Lock()
		cur, target := e.current, e.target
		if cur == target {
			ret := StateChangeSuccess
			if noPreroll || (e.lastReturn == StateChangeNoPreroll && cur == StatePaused) {
				ret = StateChangeNoPreroll
			}
			e.pending = StateVoidPending
			e.next = StateVoidPending
			e.lastReturn = ret
			e.notifyLocked()
			e.mu.Unlock()
			return ret
		}
		next := nextState(cur, target)
		e.next = next
		e.inStep = true
		e.asyncEarly = false
		e.mu.Unlock()

		tr := StateChange{From: cur, To: next}
		ret := e.changeState(tr)

		e.mu.Lock()
		e.inStep = false
		switch ret {
		case StateChangeFailure:
			e.target = cur
			e.pending = StateVoidPending
			e.next = StateVoidPending
			e.lastReturn = StateChangeFailure
			e.notifyLocked()
			e.mu.Unlock()
			e.log.Warn("state change failed", "transition", tr)
			return StateChangeFailure
		case StateChangeAsync:
			if !e.asyncEarly {
				e.asyncPending = true
				e.lastReturn = StateChangeAsync
				e.notifyLocked()
				e.mu.Unlock()
				e.log.Debug("state change async", "transition", tr)
				return StateChangeAsync
			}
			e.asyncEarly = false
		case StateChangeNoPreroll:
			noPreroll = true
		}
		e.current = next
		pending := e.target
		if pending == next {
			pending = StateVoidPending
			e.pending = StateVoidPending
			e.next = StateVoidPending
			e.lastReturn = StateChangeSuccess
			if noPreroll {
				e.lastReturn = StateChangeNoPreroll
			}
		}
		e.notifyLocked()
		e.mu.Unlock()
		e.PostMessage(NewStateChangedMessage(e, cur, next, pending))
	}
}

func (e *Element) changeState(tr StateChange) StateChangeReturn {
	switch tr {
	case ReadyToPaused:
		e.activatePads(true)
	case PausedToReady:
		e.activatePads(false)
	}
	ret := StateChangeSuccess
	if sc, ok := e.impl.(StateChanger); ok {
		ret = sc.ChangeState(tr)
	}
	if ret == StateChangeFailure && tr == ReadyToPaused {
		e.activatePads(false)
	}
	e.Metrics().StateChange(e.name, tr.String(), ret.String())
	return ret
}

// notifyLocked wakes GetState waiters.
func (e *Element) notifyLocked() {
	close(e.stateCh)
	e.stateCh = make(chan struct{})
}

// CompleteAsync finishes the asynchronous step the element's ChangeState
// started by returning StateChangeAsync. It commits the step, posts
// state-changed and async-done, and continues towards the target state.
// Calls while no step is pending are ignored.
func (e *Element) CompleteAsync() {
	e.mu.Lock()
	if e.inStep && !e.asyncPending {
		e.asyncEarly = true
		e.mu.Unlock()
		return
	}
	if !e.asyncPending {
		e.mu.Unlock()
		return
	}
	old := e.current
	e.current = e.next
	e.asyncPending = false
	e.lastReturn = StateChangeSuccess
	cur, target := e.current, e.target
	pending := target
	if pending == cur {
		pending = StateVoidPending
		e.pending = StateVoidPending
		e.next = StateVoidPending
	}
	e.notifyLocked()
	e.mu.Unlock()

	e.log.Debug("async state change done", "state", cur)
	e.PostMessage(NewStateChangedMessage(e, old, cur, pending))
	e.PostMessage(NewAsyncDoneMessage(e))
	if cur != target {
		go e.continueState()
	}
}

func (e *Element) continueState() {
	e.stateLock.Lock()
	defer e.stateLock.Unlock()
	e.mu.Lock()
	busy := e.asyncPending
	e.mu.Unlock()
	if busy {
		return
	}
	e.runTransitions()
}

// setStateIf runs SetState(target) only if cond holds once the state lock
// is held.
func (e *Element) setStateIf(target State, cond func() bool) StateChangeReturn {
	e.stateLock.Lock()
	defer e.stateLock.Unlock()
	if !cond() {
		return StateChangeFailure
	}
	return e.setStateLocked(target)
}

// GetState waits up to timeout for a pending transition to finish and
// returns the current and pending states. media.ClockTimeNone waits
// forever, zero does not wait. The result is Async when the transition is
// still running at the deadline.
func (e *Element) GetState(timeout media.ClockTime) (cur, pending State, ret StateChangeReturn) {
	var deadline <-chan time.Time
	if timeout.IsValid() {
		timer := time.NewTimer(timeout.Duration())
		defer timer.Stop()
		deadline = timer.C
	}
	for {
		e.mu.Lock()
		done := !e.asyncPending && (e.pending == StateVoidPending || e.lastReturn == StateChangeFailure)
		if done {
			cur, ret = e.current, e.lastReturn
			e.mu.Unlock()
			return cur, StateVoidPending, ret
		}
		cur, pending = e.current, e.pending
		ch := e.stateCh
		e.mu.Unlock()

		if timeout == 0 {
			return cur, pending, StateChangeAsync
		}
		select {
		case <-ch:
		case <-deadline:
			return cur, pending, StateChangeAsync
		}
	}
}

// SyncStateWithParent brings the element to its parent's target state, for
// elements added to a running bin.
func (e *Element) SyncStateWithParent() bool {
	parent := e.Parent()
	if parent == nil {
		return false
	}
	target := parent.TargetState()
	e.log.Debug("syncing state with parent", "parent", parent.Name(), "state", target)
	return e.SetState(target) != StateChangeFailure
}
