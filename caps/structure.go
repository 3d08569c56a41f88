package caps

import (
	"strings"
)

// Field is a named Value inside a Structure.
type Field struct {
	Name  string
	Value Value
}

// Structure is one alternative of a Caps: a media type name plus fields.
// Field order is preserved for printing; lookups are by name.
type Structure struct {
	name   string
	fields []Field
}

// NewStructure creates a structure with the given media type and fields.
// Later fields replace earlier ones with the same name.
func NewStructure(name string, fields ...Field) *Structure {
	s := &Structure{name: name}
	for _, f := range fields {
		s.Set(f.Name, f.Value)
	}
	return s
}

// Name returns the media type, e.g. "video/x-raw".
func (s *Structure) Name() string { return s.name }

// Len returns the number of fields.
func (s *Structure) Len() int { return len(s.fields) }

// Get returns the named field value.
func (s *Structure) Get(name string) (Value, bool) {
	for _, f := range s.fields {
		if f.Name == name {
			return f.Value, true
		}
	}
	return Value{}, false
}

// Has reports whether the field exists.
func (s *Structure) Has(name string) bool {
	_, ok := s.Get(name)
	return ok
}

// Set adds or replaces a field.
func (s *Structure) Set(name string, v Value) {
	for i := range s.fields {
		if s.fields[i].Name == name {
			s.fields[i].Value = v
			return
		}
	}
	s.fields = append(s.fields, Field{Name: name, Value: v})
}

// Remove deletes a field if present.
func (s *Structure) Remove(name string) {
	for i := range s.fields {
		if s.fields[i].Name == name {
			s.fields = append(s.fields[:i], s.fields[i+1:]...)
			return
		}
	}
}

// Each calls fn for every field in order until fn returns false.
func (s *Structure) Each(fn func(name string, v Value) bool) {
	for _, f := range s.fields {
		if !fn(f.Name, f.Value) {
			return
		}
	}
}

// Fields returns a copy of the fields.
func (s *Structure) Fields() []Field {
	out := make([]Field, len(s.fields))
	copy(out, s.fields)
	return out
}

// Int returns a fixed integer field.
func (s *Structure) Int(name string) (int64, bool) {
	v, ok := s.Get(name)
	if !ok {
		return 0, false
	}
	return v.AsInt()
}

// Str returns a fixed string field.
func (s *Structure) Str(name string) (string, bool) {
	v, ok := s.Get(name)
	if !ok {
		return "", false
	}
	return v.AsString()
}

// Fraction returns a fixed fraction field.
func (s *Structure) Fraction(name string) (Fraction, bool) {
	v, ok := s.Get(name)
	if !ok {
		return Fraction{}, false
	}
	return v.AsFraction()
}

// IsFixed reports whether every field holds a single scalar.
func (s *Structure) IsFixed() bool {
	for _, f := range s.fields {
		if !f.Value.IsFixed() {
			return false
		}
	}
	return true
}

// Copy returns a deep copy.
func (s *Structure) Copy() *Structure {
	return &Structure{name: s.name, fields: s.Fields()}
}

// IsSubset reports whether every format s describes is described by o.
// A field absent from o is unconstrained there.
func (s *Structure) IsSubset(o *Structure) bool {
	if s.name != o.name {
		return false
	}
	for _, of := range o.fields {
		v, ok := s.Get(of.Name)
		if !ok || !subsetValue(v, of.Value) {
			return false
		}
	}
	return true
}

// Equal reports mutual inclusion.
func (s *Structure) Equal(o *Structure) bool {
	return s.IsSubset(o) && o.IsSubset(s)
}

// Intersect returns the formats described by both s and o. Fields present
// on only one side are carried over unchanged.
func (s *Structure) Intersect(o *Structure) (*Structure, bool) {
	if s.name != o.name {
		return nil, false
	}
	out := &Structure{name: s.name}
	for _, f := range s.fields {
		ov, ok := o.Get(f.Name)
		if !ok {
			out.fields = append(out.fields, f)
			continue
		}
		v, ok := intersectValue(f.Value, ov)
		if !ok {
			return nil, false
		}
		out.fields = append(out.fields, Field{Name: f.Name, Value: v})
	}
	for _, f := range o.fields {
		if !s.Has(f.Name) {
			out.fields = append(out.fields, f)
		}
	}
	return out, true
}

// Fixate returns a copy with every field fixated.
func (s *Structure) Fixate() *Structure {
	out := &Structure{name: s.name, fields: make([]Field, len(s.fields))}
	for i, f := range s.fields {
		out.fields[i] = Field{Name: f.Name, Value: f.Value.Fixate()}
	}
	return out
}

// String serializes the structure as "name, field=(type)value, ...".
func (s *Structure) String() string {
	var b strings.Builder
	b.WriteString(s.name)
	for _, f := range s.fields {
		b.WriteString(", ")
		b.WriteString(f.Name)
		b.WriteString("=(")
		b.WriteString(f.Value.typeName())
		b.WriteString(")")
		b.WriteString(f.Value.String())
	}
	return b.String()
}
