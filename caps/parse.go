package caps

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
)

// ErrSyntax is returned by Parse for malformed caps strings.
var ErrSyntax = errors.New("caps: syntax error")

// ParseError locates a syntax error inside a caps string.
type ParseError struct {
	Input  string
	Offset int
	Msg    string
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("caps: %s at offset %d in %q", e.Msg, e.Offset, e.Input)
}

func (e *ParseError) Unwrap() error { return ErrSyntax }

// Parse reads the textual caps form produced by Caps.String, e.g.
//
//	video/x-raw, format=(string){ I420, RGB }, width=(int)[ 1, 4096 ]; audio/x-raw
//
// Type annotations are optional; without one, integers, fractions ("30/1")
// and booleans are inferred and everything else is a string.
func Parse(s string) (*Caps, error) {
	trimmed := strings.TrimSpace(s)
	switch strings.ToUpper(trimmed) {
	case "ANY":
		return NewAny(), nil
	case "EMPTY", "NONE", "":
		return NewEmpty(), nil
	}
	p := &parser{in: s}
	c := NewEmpty()
	for {
		st, err := p.structure()
		if err != nil {
			return nil, err
		}
		c.Append(st)
		p.skipSpace()
		if p.eof() {
			return c, nil
		}
		if p.peek() != ';' {
			return nil, p.errorf("expected ';'")
		}
		p.pos++
		p.skipSpace()
		if p.eof() {
			return c, nil
		}
	}
}

// MustParse is like Parse but panics on error. It is meant for templates
// declared at package level.
func MustParse(s string) *Caps {
	c, err := Parse(s)
	if err != nil {
		panic(err)
	}
	return c
}

type parser struct {
	in  string
	pos int
}

func (p *parser) eof() bool  { return p.pos >= len(p.in) }
func (p *parser) peek() byte { return p.in[p.pos] }

func (p *parser) errorf(format string, args ...any) error {
	return &ParseError{Input: p.in, Offset: p.pos, Msg: fmt.Sprintf(format, args...)}
}

func (p *parser) skipSpace() {
	for !p.eof() && (p.peek() == ' ' || p.peek() == '\t' || p.peek() == '\n' || p.peek() == '\r') {
		p.pos++
	}
}

// token reads a bare word up to the next delimiter.
func (p *parser) token() string {
	start := p.pos
	for !p.eof() && !strings.ContainsRune(" \t\r\n,;=[]{}()\"", rune(p.peek())) {
		p.pos++
	}
	return p.in[start:p.pos]
}

func (p *parser) structure() (*Structure, error) {
	p.skipSpace()
	name := p.token()
	if name == "" {
		return nil, p.errorf("expected media type")
	}
	st := NewStructure(name)
	for {
		p.skipSpace()
		if p.eof() || p.peek() == ';' {
			return st, nil
		}
		if p.peek() != ',' {
			return nil, p.errorf("expected ','")
		}
		p.pos++
		p.skipSpace()
		field := p.token()
		if field == "" {
			return nil, p.errorf("expected field name")
		}
		p.skipSpace()
		if p.eof() || p.peek() != '=' {
			return nil, p.errorf("expected '=' after %q", field)
		}
		p.pos++
		v, err := p.value()
		if err != nil {
			return nil, err
		}
		st.Set(field, v)
	}
}

func (p *parser) value() (Value, error) {
	p.skipSpace()
	typ := ""
	if !p.eof() && p.peek() == '(' {
		p.pos++
		typ = p.token()
		if p.eof() || p.peek() != ')' {
			return Value{}, p.errorf("unterminated type annotation")
		}
		p.pos++
		p.skipSpace()
	}
	if p.eof() {
		return Value{}, p.errorf("expected value")
	}
	switch p.peek() {
	case '[':
		p.pos++
		lo, err := p.scalar(typ)
		if err != nil {
			return Value{}, err
		}
		p.skipSpace()
		if p.eof() || p.peek() != ',' {
			return Value{}, p.errorf("expected ',' in range")
		}
		p.pos++
		hi, err := p.scalar(typ)
		if err != nil {
			return Value{}, err
		}
		p.skipSpace()
		if p.eof() || p.peek() != ']' {
			return Value{}, p.errorf("expected ']'")
		}
		p.pos++
		return makeRange(lo, hi, p)
	case '{':
		p.pos++
		var alts []Value
		for {
			v, err := p.scalar(typ)
			if err != nil {
				return Value{}, err
			}
			alts = append(alts, v)
			p.skipSpace()
			if p.eof() {
				return Value{}, p.errorf("unterminated list")
			}
			if p.peek() == '}' {
				p.pos++
				return List(alts...), nil
			}
			if p.peek() != ',' {
				return Value{}, p.errorf("expected ',' or '}' in list")
			}
			p.pos++
		}
	}
	return p.scalar(typ)
}

func makeRange(lo, hi Value, p *parser) (Value, error) {
	switch {
	case lo.kind == KindInt && hi.kind == KindInt:
		return intRange(lo.i, hi.i), nil
	case lo.kind == KindFraction && hi.kind == KindFraction:
		return FractionRange(lo.f, hi.f), nil
	}
	return Value{}, p.errorf("range bounds must both be int or fraction")
}

func (p *parser) scalar(typ string) (Value, error) {
	p.skipSpace()
	if p.eof() {
		return Value{}, p.errorf("expected value")
	}
	var raw string
	quoted := false
	if p.peek() == '"' {
		end := p.pos + 1
		for end < len(p.in) && p.in[end] != '"' {
			if p.in[end] == '\\' {
				end++
			}
			end++
		}
		if end >= len(p.in) {
			return Value{}, p.errorf("unterminated string")
		}
		s, err := strconv.Unquote(p.in[p.pos : end+1])
		if err != nil {
			return Value{}, p.errorf("bad string literal")
		}
		raw, quoted = s, true
		p.pos = end + 1
	} else {
		start := p.pos
		for !p.eof() && !strings.ContainsRune(" \t\r\n,;[]{}()\"", rune(p.peek())) {
			p.pos++
		}
		raw = p.in[start:p.pos]
		if raw == "" {
			return Value{}, p.errorf("expected value")
		}
	}

	switch typ {
	case "int", "i":
		n, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			return Value{}, p.errorf("bad int %q", raw)
		}
		return Int64(n), nil
	case "fraction":
		f, ok := parseFraction(raw)
		if !ok {
			return Value{}, p.errorf("bad fraction %q", raw)
		}
		return Value{kind: KindFraction, f: f}, nil
	case "string", "s":
		return String(raw), nil
	case "boolean", "bool", "b":
		b, ok := parseBool(raw)
		if !ok {
			return Value{}, p.errorf("bad boolean %q", raw)
		}
		return Bool(b), nil
	case "":
	default:
		return Value{}, p.errorf("unknown type %q", typ)
	}

	if quoted {
		return String(raw), nil
	}
	if n, err := strconv.ParseInt(raw, 10, 64); err == nil {
		return Int64(n), nil
	}
	if f, ok := parseFraction(raw); ok {
		return Value{kind: KindFraction, f: f}, nil
	}
	if raw == "true" || raw == "false" {
		return Bool(raw == "true"), nil
	}
	return String(raw), nil
}

func parseFraction(s string) (Fraction, bool) {
	num, den, ok := strings.Cut(s, "/")
	if !ok {
		return Fraction{}, false
	}
	n, err := strconv.Atoi(num)
	if err != nil {
		return Fraction{}, false
	}
	d, err := strconv.Atoi(den)
	if err != nil || d == 0 {
		return Fraction{}, false
	}
	return NewFraction(n, d), true
}

func parseBool(s string) (bool, bool) {
	switch strings.ToLower(s) {
	case "true", "yes", "1":
		return true, true
	case "false", "no", "0":
		return false, true
	}
	return false, false
}
