package pipeline

import (
	"sync"
	"testing"

	"github.com/zsiec/mediagraph/caps"
	"github.com/zsiec/mediagraph/media"
)

// callLog collects calls from several elements in order.
type callLog struct {
	mu      sync.Mutex
	entries []string
}

func (l *callLog) add(s string) {
	l.mu.Lock()
	l.entries = append(l.entries, s)
	l.mu.Unlock()
}

func (l *callLog) list() []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]string(nil), l.entries...)
}

// filter returns the entries ending with suffix, with the suffix removed.
func (l *callLog) filter(suffix string) []string {
	var out []string
	for _, s := range l.list() {
		if len(s) > len(suffix) && s[len(s)-len(suffix):] == suffix {
			out = append(out, s[:len(s)-len(suffix)])
		}
	}
	return out
}

// stepper records state transitions and returns canned results.
type stepper struct {
	e    *Element
	log  *callLog
	ret  map[StateChange]StateChangeReturn
	pads []*PadTemplate
}

func (s *stepper) Init(e *Element) error {
	s.e = e
	for _, t := range s.pads {
		if err := e.AddPad(NewPadFromTemplate(t, t.NameTemplate)); err != nil {
			return err
		}
	}
	return nil
}

func (s *stepper) ChangeState(tr StateChange) StateChangeReturn {
	if s.log != nil {
		s.log.add(s.e.Name() + ":" + tr.String())
	}
	if r, ok := s.ret[tr]; ok {
		return r
	}
	return StateChangeSuccess
}

func newStepper(t *testing.T, name string, log *callLog, pads ...*PadTemplate) (*Element, *stepper) {
	t.Helper()
	s := &stepper{log: log, ret: make(map[StateChange]StateChangeReturn), pads: pads}
	e, err := NewElement(name, s)
	if err != nil {
		t.Fatalf("NewElement(%s): %v", name, err)
	}
	hasSink, hasSrc := false, false
	for _, p := range pads {
		hasSink = hasSink || p.Direction == PadSink
		hasSrc = hasSrc || p.Direction == PadSrc
	}
	if hasSink && !hasSrc {
		e.SetFlags(FlagSink)
	}
	if hasSrc && !hasSink {
		e.SetFlags(FlagSource)
	}
	return e, s
}

func srcTmpl(c string) *PadTemplate {
	return NewPadTemplate("src", PadSrc, PadAlways, parseOrAny(c))
}

func sinkTmpl(c string) *PadTemplate {
	return NewPadTemplate("sink", PadSink, PadAlways, parseOrAny(c))
}

func parseOrAny(c string) *caps.Caps {
	if c == "" {
		return caps.NewAny()
	}
	return caps.MustParse(c)
}

// collector is a sink pad handler recording what reaches it.
type collector struct {
	mu      sync.Mutex
	buffers []*media.Buffer
	events  []media.EventType
	ret     FlowReturn
}

func (c *collector) attach(p *Pad) {
	p.SetChainFunc(func(_ *Pad, buf *media.Buffer) FlowReturn {
		c.mu.Lock()
		defer c.mu.Unlock()
		c.buffers = append(c.buffers, buf)
		return c.ret
	})
	p.SetEventFunc(func(_ *Pad, ev *media.Event) bool {
		c.mu.Lock()
		c.events = append(c.events, ev.Type)
		c.mu.Unlock()
		return true
	})
}

func (c *collector) eventTypes() []media.EventType {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]media.EventType(nil), c.events...)
}

func (c *collector) bufferCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.buffers)
}
