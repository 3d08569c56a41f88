package launch

import (
	"errors"
	"fmt"
	"io"
	"os"

	"gopkg.in/yaml.v3"
)

// Load reads a YAML pipeline file:
//
//	name: fanout
//	elements:
//	  - factory: test-source
//	    name: src
//	    properties:
//	      num-buffers: 100
//	  - factory: tee
//	    name: t
//	launch: "queue name=qa ! fake-sink  queue name=qb ! auto-sink"
//	links:
//	  - from: src
//	    to: t
//	    caps: video/x-raw, format=(string)GRAY8
//	  - from: t.src_%u
//	    to: qa
//	  - from: t.src_%u
//	    to: qb
//
// Elements and links listed in the file come before those of the launch
// string; links may refer to elements from either.
func Load(r io.Reader) (*Description, error) {
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	var d Description
	if err := dec.Decode(&d); err != nil {
		if errors.Is(err, io.EOF) {
			return nil, fmt.Errorf("%w: empty pipeline file", ErrSyntax)
		}
		return nil, fmt.Errorf("launch: decode pipeline file: %w", err)
	}
	if err := d.validate(); err != nil {
		return nil, err
	}
	return &d, nil
}

// LoadFile reads the YAML pipeline file at path.
func LoadFile(path string) (*Description, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("launch: open pipeline file: %w", err)
	}
	defer f.Close()
	return Load(f)
}

func (d *Description) validate() error {
	if len(d.Elements) == 0 && d.Launch == "" {
		return fmt.Errorf("%w: no elements", ErrSyntax)
	}
	for i, e := range d.Elements {
		if e.Factory == "" {
			return fmt.Errorf("%w: element %d has no factory", ErrSyntax, i)
		}
		if e.Name == "" && len(d.Links) > 0 {
			return fmt.Errorf("%w: element %d (%s) needs a name to be linked", ErrSyntax, i, e.Factory)
		}
	}
	for i, l := range d.Links {
		if l.From == "" || l.To == "" {
			return fmt.Errorf("%w: link %d needs from and to", ErrSyntax, i)
		}
	}
	return nil
}
