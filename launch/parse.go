// Package launch builds pipelines from text descriptions and YAML files.
//
// A description is a list of chains. Inside a chain, elements are joined
// with "!"; a chain ends where two items follow each other without "!".
//
//	test-source num-buffers=100 ! tee name=t  t. ! queue ! fake-sink  t. ! queue ! auto-sink
//
// An element is a factory name followed by name=value properties; the name
// property names the element. "t." refers to the element named t and
// "t.src_%u" to one of its pads. A caps string between two "!" inserts a
// caps-filter:
//
//	test-source ! video/x-raw,format=GRAY8,width=64,height=48 ! auto-sink
//
// Double quotes group text with spaces into one word.
package launch

import (
	"errors"
	"fmt"
	"strings"
	"unicode"
)

// ErrSyntax is returned for malformed descriptions.
var ErrSyntax = errors.New("launch: syntax error")

// ParseError locates a syntax error inside a description.
type ParseError struct {
	Input  string
	Offset int
	Msg    string
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("launch: %s at offset %d in %q", e.Msg, e.Offset, e.Input)
}

func (e *ParseError) Unwrap() error { return ErrSyntax }

// Element describes one element to create.
type Element struct {
	Factory    string         `yaml:"factory"`
	Name       string         `yaml:"name,omitempty"`
	Properties map[string]any `yaml:"properties,omitempty"`
}

// Link joins two endpoints. An endpoint is an element name, optionally
// followed by "." and a pad name or request template. Caps, when set,
// restricts the link through a caps-filter.
type Link struct {
	From string `yaml:"from"`
	To   string `yaml:"to"`
	Caps string `yaml:"caps,omitempty"`
}

// Description is a parsed pipeline.
type Description struct {
	Name     string    `yaml:"name,omitempty"`
	Launch   string    `yaml:"launch,omitempty"`
	Elements []Element `yaml:"elements,omitempty"`
	Links    []Link    `yaml:"links,omitempty"`
}

type token struct {
	text   string
	offset int
}

// tokenize splits s into words and "!" separators.
func tokenize(s string) ([]token, error) {
	var (
		out   []token
		cur   strings.Builder
		start = -1
		quote = false
	)
	flush := func() {
		if start >= 0 {
			out = append(out, token{text: cur.String(), offset: start})
			cur.Reset()
			start = -1
		}
	}
	for i := 0; i < len(s); i++ {
		c := s[i]
		switch {
		case quote && c == '\\' && i+1 < len(s):
			i++
			cur.WriteByte(s[i])
		case c == '"':
			if start < 0 {
				start = i
			}
			quote = !quote
		case quote:
			cur.WriteByte(c)
		case c == '!':
			flush()
			out = append(out, token{text: "!", offset: i})
		case unicode.IsSpace(rune(c)):
			flush()
		default:
			if start < 0 {
				start = i
			}
			cur.WriteByte(c)
		}
	}
	if quote {
		return nil, &ParseError{Input: s, Offset: len(s), Msg: "unterminated quote"}
	}
	flush()
	return out, nil
}

func isCaps(w string) bool {
	slash := strings.IndexByte(w, '/')
	eq := strings.IndexByte(w, '=')
	return slash > 0 && (eq < 0 || slash < eq)
}

func isRef(w string) bool {
	return !strings.ContainsAny(w, "=/") && strings.IndexByte(w, '.') > 0
}

func isProp(w string) bool {
	return strings.IndexByte(w, '=') > 0 && !isCaps(w)
}

// Parse reads a launch description. Elements without a name property get
// one made of the factory name and a per-factory counter.
func Parse(s string) (*Description, error) {
	toks, err := tokenize(s)
	if err != nil {
		return nil, err
	}
	if len(toks) == 0 {
		return nil, &ParseError{Input: s, Msg: "empty description"}
	}

	d := &Description{}
	counters := make(map[string]int)
	var (
		prev     string // endpoint the next "!" links from
		linking  bool   // a "!" is waiting for its right side
		capsStr  string // caps of the pending link
		needBang bool   // caps were read, "!" must follow
	)
	fail := func(t token, format string, args ...any) error {
		return &ParseError{Input: s, Offset: t.offset, Msg: fmt.Sprintf(format, args...)}
	}

	for i := 0; i < len(toks); i++ {
		t := toks[i]
		if t.text == "!" {
			if prev == "" || (linking && !needBang) {
				return nil, fail(t, "unexpected !")
			}
			linking, needBang = true, false
			continue
		}
		if needBang {
			return nil, fail(t, "expected ! after caps")
		}

		var cur string
		switch {
		case isCaps(t.text):
			if !linking {
				return nil, fail(t, "caps %q outside a link", t.text)
			}
			capsStr, needBang = t.text, true
			continue
		case isRef(t.text):
			cur = strings.TrimSuffix(t.text, ".")
		case isProp(t.text):
			return nil, fail(t, "property %q without an element", t.text)
		default:
			el := Element{Factory: t.text}
			for i+1 < len(toks) && isProp(toks[i+1].text) {
				i++
				k, v, _ := strings.Cut(toks[i].text, "=")
				if k == "name" {
					el.Name = v
					continue
				}
				if el.Properties == nil {
					el.Properties = make(map[string]any)
				}
				el.Properties[k] = v
			}
			if el.Name == "" {
				el.Name = fmt.Sprintf("%s%d", el.Factory, counters[el.Factory])
				counters[el.Factory]++
			}
			d.Elements = append(d.Elements, el)
			cur = el.Name
		}

		if linking {
			d.Links = append(d.Links, Link{From: prev, To: cur, Caps: capsStr})
			linking, capsStr = false, ""
		}
		prev = cur
	}
	if linking || needBang {
		return nil, &ParseError{Input: s, Offset: len(s), Msg: "dangling !"}
	}
	return d, nil
}

// splitRef splits an endpoint into element and pad name.
func splitRef(ref string) (elem, pad string) {
	elem, pad, _ = strings.Cut(ref, ".")
	return elem, pad
}
