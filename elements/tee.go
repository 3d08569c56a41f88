package elements

import (
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"sync/atomic"

	"github.com/zsiec/mediagraph/media"
	"github.com/zsiec/mediagraph/pipeline"
)

// branch is one requested output of a tee.
type branch struct {
	pad    *pipeline.Pad
	sent   atomic.Int64
	errors atomic.Int64

	mu      sync.Mutex
	lastErr pipeline.FlowReturn
}

func (b *branch) stats() BranchStats {
	s := BranchStats{Pad: b.pad.Name(), Sent: b.sent.Load(), Errors: b.errors.Load()}
	b.mu.Lock()
	if b.lastErr != pipeline.FlowOK {
		s.LastErr = b.lastErr.String()
	}
	b.mu.Unlock()
	return s
}

// tee is the fan-out hub of a graph. Every buffer arriving on its sink pad
// goes to each requested src pad. A branch that is not linked or flushing
// is skipped without starving the others; a fatal branch result is returned
// upstream.
type tee struct {
	e    *pipeline.Element
	log  *slog.Logger
	sink *pipeline.Pad

	received atomic.Int64

	mu       sync.RWMutex
	branches map[*pipeline.Pad]*branch
}

func newTee() pipeline.Impl { return &tee{branches: make(map[*pipeline.Pad]*branch)} }

func (t *tee) Init(e *pipeline.Element) error {
	t.e = e
	t.log = e.Log()
	t.sink = pipeline.NewPadFromTemplate(e.PadTemplate("sink"), "sink")
	t.sink.SetChainFunc(t.chain)
	t.sink.SetQueryFunc(proxyQuery)
	return e.AddPad(t.sink)
}

// RequestPad implements pipeline.PadRequester. The new pad receives the
// sticky events already seen on the sink pad so a branch added while
// streaming starts with the current caps and segment.
func (t *tee) RequestPad(tmpl *pipeline.PadTemplate, name string) (*pipeline.Pad, error) {
	if tmpl.Direction != pipeline.PadSrc {
		return nil, fmt.Errorf("%w: %s", pipeline.ErrNoSuchTemplate, tmpl.NameTemplate)
	}
	pad := pipeline.NewPadFromTemplate(tmpl, name)
	pad.SetQueryFunc(proxyQuery)
	if err := t.e.AddPad(pad); err != nil {
		return nil, err
	}
	for _, ev := range t.sink.StickyEvents() {
		if ev.Type != media.EventEOS {
			pad.PushEvent(ev)
		}
	}

	t.mu.Lock()
	t.branches[pad] = &branch{pad: pad}
	n := len(t.branches)
	t.mu.Unlock()

	t.log.Info("branch added", "pad", name, "branches", n)
	return pad, nil
}

// ReleasePad implements pipeline.PadRequester.
func (t *tee) ReleasePad(pad *pipeline.Pad) {
	t.mu.Lock()
	delete(t.branches, pad)
	n := len(t.branches)
	t.mu.Unlock()

	t.log.Info("branch removed", "pad", pad.Name(), "branches", n)
}

func (t *tee) snapshot() []*branch {
	t.mu.RLock()
	defer t.mu.RUnlock()
	out := make([]*branch, 0, len(t.branches))
	for _, b := range t.branches {
		out = append(out, b)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].pad.Name() < out[j].pad.Name() })
	return out
}

// chain pushes buf to every branch. A fatal branch result is returned
// upstream; otherwise the result is OK when any branch took the buffer and
// NotLinked when none is linked.
func (t *tee) chain(_ *pipeline.Pad, buf *media.Buffer) pipeline.FlowReturn {
	t.received.Add(1)
	defer buf.Unref()

	branches := t.snapshot()
	if len(branches) == 0 {
		return t.notLinked()
	}

	anyOK := false
	result := pipeline.FlowNotLinked
	for _, b := range branches {
		ret := b.pad.Push(buf.Ref())
		switch {
		case ret == pipeline.FlowOK:
			b.sent.Add(1)
			anyOK = true
		case ret == pipeline.FlowNotLinked:
		default:
			b.errors.Add(1)
			b.mu.Lock()
			first := b.lastErr != ret
			b.lastErr = ret
			b.mu.Unlock()
			if first {
				t.log.Debug("branch returned", "pad", b.pad.Name(), "result", ret)
			}
			if result == pipeline.FlowNotLinked || (ret.IsFatal() && !result.IsFatal()) {
				result = ret
			}
		}
	}
	switch {
	case result.IsFatal():
		return result
	case anyOK:
		return pipeline.FlowOK
	case result == pipeline.FlowNotLinked:
		return t.notLinked()
	}
	return result
}

func (t *tee) notLinked() pipeline.FlowReturn {
	if t.e.PropBool("allow-not-linked") {
		return pipeline.FlowOK
	}
	return pipeline.FlowNotLinked
}

// Stats returns per-branch counters.
func (t *tee) Stats() TeeStats {
	branches := t.snapshot()
	s := TeeStats{
		Element:  t.e.Name(),
		Received: t.received.Load(),
		Branches: make([]BranchStats, 0, len(branches)),
	}
	for _, b := range branches {
		s.Branches = append(s.Branches, b.stats())
	}
	return s
}

// TeeStatsOf returns the statistics of a tee element.
func TeeStatsOf(e *pipeline.Element) (TeeStats, bool) {
	t, ok := e.Impl().(*tee)
	if !ok {
		return TeeStats{}, false
	}
	return t.Stats(), true
}
