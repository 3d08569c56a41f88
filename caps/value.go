// Package caps describes the data formats a pad can carry. A Caps value is a
// set of alternative Structures; each Structure has a media type name and a
// set of named fields whose values are fixed scalars, ranges, or lists of
// alternatives. Caps support intersection, subset tests and fixation, which
// the pipeline uses to negotiate a single concrete format on every link.
package caps

import (
	"fmt"
	"strconv"
	"strings"
)

// Kind identifies the shape of a field Value.
type Kind int

// Value kinds. Int, Fraction, String and Bool are fixed; the rest are not.
const (
	KindInvalid Kind = iota
	KindInt
	KindFraction
	KindString
	KindBool
	KindIntRange
	KindFractionRange
	KindList
)

func (k Kind) String() string {
	switch k {
	case KindInt, KindIntRange:
		return "int"
	case KindFraction, KindFractionRange:
		return "fraction"
	case KindString:
		return "string"
	case KindBool:
		return "boolean"
	case KindList:
		return "list"
	default:
		return "invalid"
	}
}

// maxEnumerate bounds how many integers a range may span before subset tests
// against lists stop enumerating members.
const maxEnumerate = 4096

// Fraction is a rational number, always stored with a positive denominator
// and reduced to lowest terms.
type Fraction struct {
	Num int
	Den int
}

// NewFraction returns num/den reduced. A zero denominator yields 0/1.
func NewFraction(num, den int) Fraction {
	if den == 0 {
		return Fraction{Num: 0, Den: 1}
	}
	if den < 0 {
		num, den = -num, -den
	}
	g := gcd(abs(num), den)
	if g > 1 {
		num /= g
		den /= g
	}
	return Fraction{Num: num, Den: den}
}

// Cmp returns -1, 0 or +1 comparing f to g.
func (f Fraction) Cmp(g Fraction) int {
	l := int64(f.Num) * int64(g.Den)
	r := int64(g.Num) * int64(f.Den)
	switch {
	case l < r:
		return -1
	case l > r:
		return 1
	default:
		return 0
	}
}

// Float64 returns the fraction as a float.
func (f Fraction) Float64() float64 {
	if f.Den == 0 {
		return 0
	}
	return float64(f.Num) / float64(f.Den)
}

func (f Fraction) String() string {
	return strconv.Itoa(f.Num) + "/" + strconv.Itoa(f.Den)
}

// Value is a single field value inside a Structure.
type Value struct {
	kind Kind
	i    int64
	s    string
	b    bool
	f    Fraction
	lo   int64
	hi   int64
	flo  Fraction
	fhi  Fraction
	list []Value
}

// Int returns a fixed integer value.
func Int(v int) Value { return Value{kind: KindInt, i: int64(v)} }

// Int64 returns a fixed integer value.
func Int64(v int64) Value { return Value{kind: KindInt, i: v} }

// String returns a fixed string value.
func String(v string) Value { return Value{kind: KindString, s: v} }

// Bool returns a fixed boolean value.
func Bool(v bool) Value { return Value{kind: KindBool, b: v} }

// Frac returns a fixed fraction value.
func Frac(num, den int) Value { return Value{kind: KindFraction, f: NewFraction(num, den)} }

// IntRange returns the closed range [lo, hi]. A degenerate range collapses
// to a fixed Int; reversed bounds are swapped.
func IntRange(lo, hi int) Value {
	return intRange(int64(lo), int64(hi))
}

func intRange(lo, hi int64) Value {
	if lo > hi {
		lo, hi = hi, lo
	}
	if lo == hi {
		return Int64(lo)
	}
	return Value{kind: KindIntRange, lo: lo, hi: hi}
}

// FractionRange returns the closed range [lo, hi] of fractions.
func FractionRange(lo, hi Fraction) Value {
	lo = NewFraction(lo.Num, lo.Den)
	hi = NewFraction(hi.Num, hi.Den)
	switch lo.Cmp(hi) {
	case 0:
		return Value{kind: KindFraction, f: lo}
	case 1:
		lo, hi = hi, lo
	}
	return Value{kind: KindFractionRange, flo: lo, fhi: hi}
}

// List returns a list of alternatives. Nested lists are flattened and
// duplicates removed; a single alternative collapses to that value.
func List(vs ...Value) Value {
	out := make([]Value, 0, len(vs))
	var add func(v Value)
	add = func(v Value) {
		if v.kind == KindList {
			for _, e := range v.list {
				add(e)
			}
			return
		}
		if v.kind == KindInvalid {
			return
		}
		for _, e := range out {
			if e.Equal(v) {
				return
			}
		}
		out = append(out, v)
	}
	for _, v := range vs {
		add(v)
	}
	switch len(out) {
	case 0:
		return Value{}
	case 1:
		return out[0]
	}
	return Value{kind: KindList, list: out}
}

// Kind reports the value's kind.
func (v Value) Kind() Kind { return v.kind }

// IsValid reports whether v holds anything.
func (v Value) IsValid() bool { return v.kind != KindInvalid }

// IsFixed reports whether v is a single scalar.
func (v Value) IsFixed() bool {
	switch v.kind {
	case KindInt, KindFraction, KindString, KindBool:
		return true
	}
	return false
}

// AsInt returns the integer of a fixed Int value.
func (v Value) AsInt() (int64, bool) { return v.i, v.kind == KindInt }

// AsString returns the string of a fixed String value.
func (v Value) AsString() (string, bool) { return v.s, v.kind == KindString }

// AsBool returns the boolean of a fixed Bool value.
func (v Value) AsBool() (bool, bool) { return v.b, v.kind == KindBool }

// AsFraction returns the fraction of a fixed Fraction value.
func (v Value) AsFraction() (Fraction, bool) { return v.f, v.kind == KindFraction }

// IntBounds returns the bounds of an IntRange value.
func (v Value) IntBounds() (lo, hi int64, ok bool) { return v.lo, v.hi, v.kind == KindIntRange }

// FractionBounds returns the bounds of a FractionRange value.
func (v Value) FractionBounds() (lo, hi Fraction, ok bool) {
	return v.flo, v.fhi, v.kind == KindFractionRange
}

// Alternatives returns the members of a List value.
func (v Value) Alternatives() []Value {
	if v.kind != KindList {
		return nil
	}
	out := make([]Value, len(v.list))
	copy(out, v.list)
	return out
}

// Equal reports whether v and o describe the same set of scalars.
func (v Value) Equal(o Value) bool {
	if v.IsFixed() && o.IsFixed() {
		return fixedEqual(v, o)
	}
	return subsetValue(v, o) && subsetValue(o, v)
}

// Intersect returns the values contained in both v and o.
func (v Value) Intersect(o Value) (Value, bool) {
	return intersectValue(v, o)
}

// IsSubset reports whether every scalar in v is also in o.
func (v Value) IsSubset(o Value) bool {
	return subsetValue(v, o)
}

// Fixate picks the canonical representative of v: the minimum of a range
// and the first alternative of a list. Fixed values are returned unchanged.
func (v Value) Fixate() Value {
	switch v.kind {
	case KindIntRange:
		return Int64(v.lo)
	case KindFractionRange:
		return Value{kind: KindFraction, f: v.flo}
	case KindList:
		return v.list[0].Fixate()
	}
	return v
}

// String serializes v without a type annotation.
func (v Value) String() string {
	switch v.kind {
	case KindInt:
		return strconv.FormatInt(v.i, 10)
	case KindFraction:
		return v.f.String()
	case KindString:
		return quoteIfNeeded(v.s)
	case KindBool:
		return strconv.FormatBool(v.b)
	case KindIntRange:
		return fmt.Sprintf("[ %d, %d ]", v.lo, v.hi)
	case KindFractionRange:
		return fmt.Sprintf("[ %s, %s ]", v.flo, v.fhi)
	case KindList:
		parts := make([]string, len(v.list))
		for i, e := range v.list {
			parts[i] = e.String()
		}
		return "{ " + strings.Join(parts, ", ") + " }"
	}
	return "(invalid)"
}

// typeName is the annotation used when serializing v inside a structure.
func (v Value) typeName() string {
	if v.kind == KindList {
		return v.list[0].kind.String()
	}
	return v.kind.String()
}

func fixedEqual(a, b Value) bool {
	if a.kind != b.kind {
		return false
	}
	switch a.kind {
	case KindInt:
		return a.i == b.i
	case KindFraction:
		return a.f.Cmp(b.f) == 0
	case KindString:
		return a.s == b.s
	case KindBool:
		return a.b == b.b
	}
	return false
}

func intersectValue(a, b Value) (Value, bool) {
	if a.kind == KindInvalid || b.kind == KindInvalid {
		return Value{}, false
	}
	if a.kind == KindList || b.kind == KindList {
		outer, inner := a, b
		if outer.kind != KindList {
			outer, inner = b, a
		}
		var out []Value
		for _, e := range outer.list {
			if v, ok := intersectValue(e, inner); ok {
				out = append(out, v)
			}
		}
		if len(out) == 0 {
			return Value{}, false
		}
		return List(out...), true
	}

	switch {
	case a.IsFixed() && b.IsFixed():
		if fixedEqual(a, b) {
			return a, true
		}
	case a.kind == KindInt && b.kind == KindIntRange:
		if a.i >= b.lo && a.i <= b.hi {
			return a, true
		}
	case a.kind == KindIntRange && b.kind == KindInt:
		return intersectValue(b, a)
	case a.kind == KindIntRange && b.kind == KindIntRange:
		lo, hi := max(a.lo, b.lo), min(a.hi, b.hi)
		if lo <= hi {
			return intRange(lo, hi), true
		}
	case a.kind == KindFraction && b.kind == KindFractionRange:
		if a.f.Cmp(b.flo) >= 0 && a.f.Cmp(b.fhi) <= 0 {
			return a, true
		}
	case a.kind == KindFractionRange && b.kind == KindFraction:
		return intersectValue(b, a)
	case a.kind == KindFractionRange && b.kind == KindFractionRange:
		lo, hi := a.flo, a.fhi
		if b.flo.Cmp(lo) > 0 {
			lo = b.flo
		}
		if b.fhi.Cmp(hi) < 0 {
			hi = b.fhi
		}
		if lo.Cmp(hi) <= 0 {
			return FractionRange(lo, hi), true
		}
	}
	return Value{}, false
}

func subsetValue(a, b Value) bool {
	if a.kind == KindInvalid {
		return true
	}
	if b.kind == KindInvalid {
		return false
	}
	if a.kind == KindList {
		for _, e := range a.list {
			if !subsetValue(e, b) {
				return false
			}
		}
		return true
	}
	if b.kind == KindList {
		for _, e := range b.list {
			if subsetValue(a, e) {
				return true
			}
		}
		// A range may be covered by several alternatives together.
		if a.kind == KindIntRange && a.hi-a.lo < maxEnumerate {
			for i := a.lo; i <= a.hi; i++ {
				if !subsetValue(Int64(i), b) {
					return false
				}
			}
			return true
		}
		return false
	}

	switch a.kind {
	case KindInt, KindFraction, KindString, KindBool:
		v, ok := intersectValue(a, b)
		return ok && v.IsFixed() && fixedEqual(v, a)
	case KindIntRange:
		return b.kind == KindIntRange && b.lo <= a.lo && a.hi <= b.hi
	case KindFractionRange:
		return b.kind == KindFractionRange && b.flo.Cmp(a.flo) <= 0 && a.fhi.Cmp(b.fhi) <= 0
	}
	return false
}

func quoteIfNeeded(s string) string {
	if s == "" || strings.ContainsAny(s, " ,;=[]{}()\"") {
		return strconv.Quote(s)
	}
	return s
}

func gcd(a, b int) int {
	for b != 0 {
		a, b = b, a%b
	}
	if a == 0 {
		return 1
	}
	return a
}

func abs(v int) int {
	if v < 0 {
		return -v
	}
	return v
}
