package caps

import (
	"strings"
)

// Caps is a set of alternative structures, or the special ANY value that
// matches every format. A nil *Caps behaves as EMPTY.
type Caps struct {
	any        bool
	structures []*Structure
}

// NewAny returns caps matching every format.
func NewAny() *Caps { return &Caps{any: true} }

// NewEmpty returns caps matching no format.
func NewEmpty() *Caps { return &Caps{} }

// New returns caps made of the given alternatives, in preference order.
func New(structures ...*Structure) *Caps {
	c := &Caps{}
	for _, s := range structures {
		c.Append(s)
	}
	return c
}

// NewSimple returns caps holding a single structure.
func NewSimple(name string, fields ...Field) *Caps {
	return New(NewStructure(name, fields...))
}

// IsAny reports whether c matches every format.
func (c *Caps) IsAny() bool { return c != nil && c.any }

// IsEmpty reports whether c matches no format.
func (c *Caps) IsEmpty() bool { return c == nil || (!c.any && len(c.structures) == 0) }

// IsFixed reports whether c has exactly one structure and every field of it
// is a fixed scalar.
func (c *Caps) IsFixed() bool {
	return c != nil && !c.any && len(c.structures) == 1 && c.structures[0].IsFixed()
}

// Len returns the number of alternatives.
func (c *Caps) Len() int {
	if c == nil {
		return 0
	}
	return len(c.structures)
}

// Structure returns the i-th alternative.
func (c *Caps) Structure(i int) *Structure { return c.structures[i] }

// Structures returns the alternatives.
func (c *Caps) Structures() []*Structure {
	if c == nil {
		return nil
	}
	out := make([]*Structure, len(c.structures))
	copy(out, c.structures)
	return out
}

// Append adds s unless an equal alternative is already present. Appending
// to ANY is a no-op.
func (c *Caps) Append(s *Structure) {
	if c.any || s == nil {
		return
	}
	for _, e := range c.structures {
		if e.Equal(s) {
			return
		}
	}
	c.structures = append(c.structures, s)
}

// Copy returns a deep copy.
func (c *Caps) Copy() *Caps {
	if c == nil {
		return NewEmpty()
	}
	out := &Caps{any: c.any, structures: make([]*Structure, len(c.structures))}
	for i, s := range c.structures {
		out.structures[i] = s.Copy()
	}
	return out
}

// Intersect returns the formats described by both c and o, keeping the
// alternative order of c.
func (c *Caps) Intersect(o *Caps) *Caps {
	switch {
	case c.IsEmpty() || o.IsEmpty():
		return NewEmpty()
	case c.IsAny():
		return o.Copy()
	case o.IsAny():
		return c.Copy()
	}
	out := NewEmpty()
	for _, a := range c.structures {
		for _, b := range o.structures {
			if s, ok := a.Intersect(b); ok {
				out.Append(s)
			}
		}
	}
	return out
}

// CanIntersect reports whether c and o share at least one format.
func (c *Caps) CanIntersect(o *Caps) bool {
	return !c.Intersect(o).IsEmpty()
}

// IsSubset reports whether every alternative of c is contained in some
// alternative of o.
func (c *Caps) IsSubset(o *Caps) bool {
	switch {
	case c.IsEmpty():
		return true
	case o.IsAny():
		return true
	case c.IsAny() || o.IsEmpty():
		return false
	}
	for _, a := range c.structures {
		found := false
		for _, b := range o.structures {
			if a.IsSubset(b) {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	return true
}

// Equal reports whether c and o describe the same formats.
func (c *Caps) Equal(o *Caps) bool {
	return c.IsSubset(o) && o.IsSubset(c)
}

// Fixate reduces c to a single fixed structure: the first alternative with
// every range replaced by its minimum and every list by its first element.
// ANY and EMPTY cannot be fixated and yield EMPTY.
func (c *Caps) Fixate() *Caps {
	if c.IsEmpty() || c.IsAny() {
		return NewEmpty()
	}
	return New(c.structures[0].Fixate())
}

// String serializes c; the result parses back with Parse.
func (c *Caps) String() string {
	switch {
	case c.IsAny():
		return "ANY"
	case c.IsEmpty():
		return "EMPTY"
	}
	parts := make([]string, len(c.structures))
	for i, s := range c.structures {
		parts[i] = s.String()
	}
	return strings.Join(parts, "; ")
}
