package launch

import (
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync/atomic"

	"github.com/zsiec/mediagraph/pipeline"
)

// ErrUnknownElement is returned when a link names an element that the
// description does not create.
var ErrUnknownElement = errors.New("launch: unknown element")

// Build creates the pipeline described by d with elements from reg.
// Links from elements whose pads appear later (sometimes pads) are made
// when a matching pad is added.
func Build(reg *pipeline.Registry, d *Description, opts ...pipeline.Option) (*pipeline.Pipeline, error) {
	d, err := d.expand()
	if err != nil {
		return nil, err
	}
	name := d.Name
	if name == "" {
		name = "pipeline"
	}
	b := &builder{
		reg:      reg,
		p:        pipeline.NewPipeline(name, opts...),
		log:      slog.With("component", "launch", "pipeline", name),
		named:    make(map[string]*pipeline.Element),
		reserved: make(map[string]bool),
	}
	if err := b.build(d); err != nil {
		b.p.Dispose()
		return nil, err
	}
	return b.p, nil
}

// ParseLaunch parses s and builds its pipeline.
func ParseLaunch(reg *pipeline.Registry, s string, opts ...pipeline.Option) (*pipeline.Pipeline, error) {
	d, err := Parse(s)
	if err != nil {
		return nil, err
	}
	return Build(reg, d, opts...)
}

// expand merges the launch string of d, if any, into its element and link
// lists.
func (d *Description) expand() (*Description, error) {
	if d.Launch == "" {
		return d, nil
	}
	parsed, err := Parse(d.Launch)
	if err != nil {
		return nil, err
	}
	out := &Description{Name: d.Name}
	out.Elements = append(append(out.Elements, d.Elements...), parsed.Elements...)
	out.Links = append(append(out.Links, d.Links...), parsed.Links...)
	return out, nil
}

type builder struct {
	reg   *pipeline.Registry
	p     *pipeline.Pipeline
	log   *slog.Logger
	named map[string]*pipeline.Element

	// reserved holds every name taken or claimed by the description.
	reserved map[string]bool
}

// unique returns the first free name made of base and a counter.
func (b *builder) unique(base string) string {
	for i := 0; ; i++ {
		if n := fmt.Sprintf("%s%d", base, i); !b.reserved[n] {
			b.reserved[n] = true
			return n
		}
	}
}

func (b *builder) build(d *Description) error {
	for _, ed := range d.Elements {
		if ed.Name != "" {
			b.reserved[ed.Name] = true
		}
	}
	for _, ed := range d.Elements {
		name := ed.Name
		if name == "" {
			name = b.unique(ed.Factory)
		}
		e, err := b.reg.Make(ed.Factory, name)
		if err != nil {
			return err
		}
		keys := make([]string, 0, len(ed.Properties))
		for k := range ed.Properties {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			if err := e.SetProperty(k, ed.Properties[k]); err != nil {
				return err
			}
		}
		if err := b.p.Add(e); err != nil {
			return err
		}
		b.named[e.Name()] = e
		b.reserved[e.Name()] = true
	}
	for _, l := range d.Links {
		if err := b.link(l); err != nil {
			return err
		}
	}
	return nil
}

func (b *builder) resolve(ref string) (*pipeline.Element, string, error) {
	name, pad := splitRef(ref)
	e, ok := b.named[name]
	if !ok {
		return nil, "", fmt.Errorf("%w: %q", ErrUnknownElement, name)
	}
	return e, pad, nil
}

func (b *builder) link(l Link) error {
	src, srcPad, err := b.resolve(l.From)
	if err != nil {
		return err
	}
	dst, sinkPad, err := b.resolve(l.To)
	if err != nil {
		return err
	}
	if l.Caps == "" {
		return b.linkPads(src, srcPad, dst, sinkPad)
	}

	filter, err := b.reg.Make("caps-filter", b.unique("caps-filter"))
	if err != nil {
		return err
	}
	if err := filter.SetProperty("caps", l.Caps); err != nil {
		return err
	}
	if err := b.p.Add(filter); err != nil {
		return err
	}
	if err := filter.LinkPads("", dst, sinkPad); err != nil {
		return err
	}
	return b.linkPads(src, srcPad, filter, "")
}

// linkPads links now or, when src will only expose the pad later, once it
// does.
func (b *builder) linkPads(src *pipeline.Element, srcPad string, dst *pipeline.Element, sinkPad string) error {
	err := src.LinkPads(srcPad, dst, sinkPad)
	if err == nil {
		return nil
	}
	if !errors.Is(err, pipeline.ErrNoCompatiblePads) && !errors.Is(err, pipeline.ErrNoSuchTemplate) {
		return err
	}
	if !hasSometimesSrc(src, srcPad) {
		return err
	}
	b.log.Debug("delaying link", "src", src.Name(), "pad", srcPad, "dst", dst.Name())
	dl := &delayedLink{dst: dst, srcPad: srcPad, sinkPad: sinkPad, log: b.log}
	src.OnPadAdded(dl.padAdded)
	return nil
}

func hasSometimesSrc(e *pipeline.Element, pad string) bool {
	for _, t := range e.PadTemplates() {
		if t.Direction != pipeline.PadSrc || t.Presence != pipeline.PadSometimes {
			continue
		}
		if pad == "" || t.NameTemplate == pad {
			return true
		}
		if _, ok := t.Matches(pad); ok {
			return true
		}
	}
	return false
}

// delayedLink links the first suitable pad its source adds.
type delayedLink struct {
	dst     *pipeline.Element
	srcPad  string
	sinkPad string
	log     *slog.Logger
	done    atomic.Bool
}

func (d *delayedLink) matches(p *pipeline.Pad) bool {
	if p.Direction() != pipeline.PadSrc || p.IsLinked() {
		return false
	}
	if d.srcPad == "" || p.Name() == d.srcPad {
		return true
	}
	return p.Template() != nil && p.Template().NameTemplate == d.srcPad
}

func (d *delayedLink) padAdded(e *pipeline.Element, p *pipeline.Pad) {
	if d.done.Load() || !d.matches(p) {
		return
	}
	if err := e.LinkPads(p.Name(), d.dst, d.sinkPad); err != nil {
		d.log.Debug("pad not linked", "pad", p.FullName(), "dst", d.dst.Name(), "error", err)
		return
	}
	d.done.Store(true)
	d.log.Info("linked delayed pad", "pad", p.FullName(), "dst", d.dst.Name())
}
