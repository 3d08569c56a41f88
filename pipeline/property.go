package pipeline

import (
	"errors"
	"fmt"
	"strconv"

	"github.com/spf13/cast"

	"github.com/zsiec/mediagraph/caps"
)

// PropertyKind is the value type of a property.
type PropertyKind int

const (
	PropertyInt PropertyKind = iota
	PropertyUint64
	PropertyBool
	PropertyString
	PropertyEnum
	PropertyFloat
	PropertyCaps
)

func (k PropertyKind) String() string {
	switch k {
	case PropertyInt:
		return "int"
	case PropertyUint64:
		return "uint64"
	case PropertyBool:
		return "bool"
	case PropertyString:
		return "string"
	case PropertyEnum:
		return "enum"
	case PropertyFloat:
		return "float"
	case PropertyCaps:
		return "caps"
	default:
		return "unknown"
	}
}

// EnumValue is one choice of an enum property.
type EnumValue struct {
	Value int
	Nick  string
}

// PropertySpec declares a property. Values are stored as int64, uint64,
// bool, string, int (enums), float64 or *caps.Caps according to Kind.
type PropertySpec struct {
	Name    string
	Blurb   string
	Kind    PropertyKind
	Default any
	// Min and Max bound int and uint64 properties when Max > Min.
	Min, Max int64
	Enum     []EnumValue
	ReadOnly bool
	// ReadyOnly properties can only change in NULL or READY.
	ReadyOnly bool
}

// Coerce converts v to the property's storage type. Strings are parsed, so
// values from the command line or YAML work unchanged.
func (s PropertySpec) Coerce(v any) (any, error) {
	switch s.Kind {
	case PropertyInt:
		n, err := cast.ToInt64E(v)
		if err != nil {
			return nil, err
		}
		if s.Max > s.Min && (n < s.Min || n > s.Max) {
			return nil, fmt.Errorf("%w: %d not in [%d, %d]", ErrPropertyRange, n, s.Min, s.Max)
		}
		return n, nil
	case PropertyUint64:
		n, err := cast.ToUint64E(v)
		if err != nil {
			return nil, err
		}
		if s.Max > s.Min && (n < uint64(max(s.Min, 0)) || n > uint64(s.Max)) {
			return nil, fmt.Errorf("%w: %d not in [%d, %d]", ErrPropertyRange, n, s.Min, s.Max)
		}
		return n, nil
	case PropertyBool:
		return cast.ToBoolE(v)
	case PropertyString:
		return cast.ToStringE(v)
	case PropertyFloat:
		return cast.ToFloat64E(v)
	case PropertyEnum:
		return s.coerceEnum(v)
	case PropertyCaps:
		switch c := v.(type) {
		case *caps.Caps:
			return c, nil
		case string:
			return caps.Parse(c)
		}
		return nil, fmt.Errorf("%w: %T is not caps", ErrPropertyType, v)
	}
	return nil, fmt.Errorf("%w: unknown kind %v", ErrPropertyType, s.Kind)
}

func (s PropertySpec) coerceEnum(v any) (any, error) {
	if str, ok := v.(string); ok {
		for _, e := range s.Enum {
			if e.Nick == str {
				return e.Value, nil
			}
		}
		if _, err := strconv.Atoi(str); err != nil {
			return nil, fmt.Errorf("%w: %q is not one of %v", ErrPropertyRange, str, s.Nicks())
		}
	}
	n, err := cast.ToIntE(v)
	if err != nil {
		return nil, err
	}
	for _, e := range s.Enum {
		if e.Value == n {
			return n, nil
		}
	}
	return nil, fmt.Errorf("%w: %d is not one of %v", ErrPropertyRange, n, s.Nicks())
}

// Nicks lists the names of an enum property's choices.
func (s PropertySpec) Nicks() []string {
	out := make([]string, len(s.Enum))
	for i, e := range s.Enum {
		out[i] = e.Nick
	}
	return out
}

// Nick returns the name of an enum value, or its number.
func (s PropertySpec) Nick(v int) string {
	for _, e := range s.Enum {
		if e.Value == v {
			return e.Nick
		}
	}
	return strconv.Itoa(v)
}

// InstallProperty declares a property on an element made without a
// factory, setting it to its default.
func (e *Element) InstallProperty(spec PropertySpec) {
	v, err := spec.Coerce(spec.Default)
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.specs == nil {
		e.specs = make(map[string]PropertySpec)
	}
	e.specs[spec.Name] = spec
	if err == nil {
		e.props[spec.Name] = v
	}
}

func (e *Element) spec(name string) (PropertySpec, bool) {
	if e.factory != nil {
		if s, ok := e.factory.Property(name); ok {
			return s, true
		}
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	s, ok := e.specs[name]
	return s, ok
}

// PropertySpecs returns the element's property declarations.
func (e *Element) PropertySpecs() []PropertySpec {
	var out []PropertySpec
	if e.factory != nil {
		out = append(out, e.factory.Properties...)
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	for _, s := range e.specs {
		out = append(out, s)
	}
	return out
}

// SetProperty validates and stores a property value.
func (e *Element) SetProperty(name string, value any) error {
	spec, ok := e.spec(name)
	if !ok {
		return &PropertyError{Element: e.name, Property: name, Err: ErrUnknownProperty}
	}
	if spec.ReadOnly {
		return &PropertyError{Element: e.name, Property: name, Err: ErrPropertyState}
	}
	v, err := spec.Coerce(value)
	if err != nil {
		if !errors.Is(err, ErrPropertyRange) && !errors.Is(err, ErrPropertyType) && !errors.Is(err, caps.ErrSyntax) {
			err = fmt.Errorf("%w: %v", ErrPropertyType, err)
		}
		return &PropertyError{Element: e.name, Property: name, Err: err}
	}

	e.mu.Lock()
	if spec.ReadyOnly && e.current > StateReady {
		e.mu.Unlock()
		return &PropertyError{Element: e.name, Property: name, Err: ErrPropertyState}
	}
	e.props[name] = v
	e.mu.Unlock()

	e.log.Debug("property set", "property", name, "value", v)
	if obs, ok := e.impl.(PropertyObserver); ok {
		obs.PropertyChanged(name, v)
	}
	return nil
}

// SetReadOnlyProperty lets an implementation update a property the
// application can only read.
func (e *Element) SetReadOnlyProperty(name string, value any) {
	e.mu.Lock()
	e.props[name] = value
	e.mu.Unlock()
}

// Property returns a property value.
func (e *Element) Property(name string) (any, error) {
	if _, ok := e.spec(name); !ok {
		return nil, &PropertyError{Element: e.name, Property: name, Err: ErrUnknownProperty}
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.props[name], nil
}

func (e *Element) prop(name string) any {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.props[name]
}

// PropInt returns an int property, or 0 when unset.
func (e *Element) PropInt(name string) int64 { return cast.ToInt64(e.prop(name)) }

// PropUint64 returns a uint64 property, or 0 when unset.
func (e *Element) PropUint64(name string) uint64 { return cast.ToUint64(e.prop(name)) }

// PropBool returns a bool property.
func (e *Element) PropBool(name string) bool { return cast.ToBool(e.prop(name)) }

// PropString returns a string property.
func (e *Element) PropString(name string) string { return cast.ToString(e.prop(name)) }

// PropFloat returns a float property.
func (e *Element) PropFloat(name string) float64 { return cast.ToFloat64(e.prop(name)) }

// PropEnum returns the value of an enum property.
func (e *Element) PropEnum(name string) int { return cast.ToInt(e.prop(name)) }

// PropCaps returns a caps property, or nil.
func (e *Element) PropCaps(name string) *caps.Caps {
	c, _ := e.prop(name).(*caps.Caps)
	return c
}
