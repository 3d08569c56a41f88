package elements

import (
	"github.com/zsiec/mediagraph/media"
	"github.com/zsiec/mediagraph/pipeline"
)

// passthrough stands in for the format converters. Raw data of its media
// type flows through unchanged and caps queries are proxied, so a converter
// placed between two elements never narrows what they can agree on.
type passthrough struct {
	src *pipeline.Pad
}

func newPassthrough() pipeline.Impl { return &passthrough{} }

func (p *passthrough) Init(e *pipeline.Element) error {
	sink := pipeline.NewPadFromTemplate(e.PadTemplate("sink"), "sink")
	sink.SetChainFunc(func(_ *pipeline.Pad, buf *media.Buffer) pipeline.FlowReturn {
		return p.src.Push(buf)
	})
	sink.SetQueryFunc(proxyQuery)
	p.src = pipeline.NewPadFromTemplate(e.PadTemplate("src"), "src")
	p.src.SetQueryFunc(proxyQuery)
	if err := e.AddPad(sink); err != nil {
		return err
	}
	return e.AddPad(p.src)
}
