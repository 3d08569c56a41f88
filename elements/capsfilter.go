package elements

import (
	"github.com/zsiec/mediagraph/caps"
	"github.com/zsiec/mediagraph/media"
	"github.com/zsiec/mediagraph/pipeline"
)

// capsFilter passes data through unchanged and restricts negotiation on
// both pads to its caps property.
type capsFilter struct {
	e   *pipeline.Element
	src *pipeline.Pad
}

func newCapsFilter() pipeline.Impl { return &capsFilter{} }

func (c *capsFilter) Init(e *pipeline.Element) error {
	c.e = e
	sink := pipeline.NewPadFromTemplate(e.PadTemplate("sink"), "sink")
	sink.SetChainFunc(c.chain)
	sink.SetQueryFunc(c.query)
	c.src = pipeline.NewPadFromTemplate(e.PadTemplate("src"), "src")
	c.src.SetQueryFunc(c.query)
	if err := e.AddPad(sink); err != nil {
		return err
	}
	return e.AddPad(c.src)
}

func (c *capsFilter) filter() *caps.Caps {
	if f := c.e.PropCaps("caps"); f != nil {
		return f
	}
	return caps.NewAny()
}

func (c *capsFilter) query(pad *pipeline.Pad, q *pipeline.Query) bool {
	if q.Type != pipeline.QueryCaps {
		return pipeline.QueryDefault(pad, q)
	}
	pipeline.ProxyQueryCaps(pad, q)
	q.SetCapsResult(q.Result.Intersect(c.filter()))
	return true
}

func (c *capsFilter) chain(_ *pipeline.Pad, buf *media.Buffer) pipeline.FlowReturn {
	return c.src.Push(buf)
}
