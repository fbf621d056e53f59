// Package feed turns an Atom document into a generic tree and resolves dotted
// path expressions against it.
//
// Element names keep the prefix used in the document ("arxiv:primary_category").
// Attributes are stored under "@name", the text of an element that also has
// attributes or children under "#text". Repeated child elements become a List,
// a single child stays a scalar Map or Text, so callers use EnsureList when a
// field may repeat.
package feed

import (
	"bytes"
	"encoding/xml"
	"errors"
	"fmt"
	"io"
	"strings"
)

// Value is one node of the tree: Text, List or Map. A nil Value is an empty
// element or a missing key.
type Value interface {
	isValue()
}

// Text is the character content of a leaf element or an attribute value.
type Text string

// List holds repeated sibling elements in document order.
type List []Value

// Map holds attributes, child elements and mixed text of an element.
type Map map[string]Value

func (Text) isValue() {}
func (List) isValue() {}
func (Map) isValue()  {}

const (
	AttrPrefix = "@"
	TextKey    = "#text"
)

var ErrMalformed = errors.New("malformed XML")

// Parse decodes an XML document into a Map holding the root element.
func Parse(data []byte) (Map, error) {
	dec := xml.NewDecoder(bytes.NewReader(data))
	dec.Strict = true

	var (
		stack []*element
		root  Map
	)

	for {
		tok, err := dec.RawToken()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
		}

		switch t := tok.(type) {
		case xml.StartElement:
			if root != nil && len(stack) == 0 {
				return nil, fmt.Errorf("%w: multiple root elements", ErrMalformed)
			}
			f := &element{name: qualifiedName(t.Name), node: Map{}}
			for _, attr := range t.Attr {
				f.node[AttrPrefix+qualifiedName(attr.Name)] = Text(attr.Value)
			}
			stack = append(stack, f)

		case xml.CharData:
			if len(stack) > 0 {
				stack[len(stack)-1].text.Write(t)
			} else if len(bytes.TrimSpace(t)) > 0 {
				return nil, fmt.Errorf("%w: text outside root element", ErrMalformed)
			}

		case xml.EndElement:
			if len(stack) == 0 {
				return nil, fmt.Errorf("%w: unexpected </%s>", ErrMalformed, qualifiedName(t.Name))
			}
			f := stack[len(stack)-1]
			if name := qualifiedName(t.Name); name != f.name {
				return nil, fmt.Errorf("%w: element <%s> closed by </%s>", ErrMalformed, f.name, name)
			}
			stack = stack[:len(stack)-1]

			value := f.finish()
			if len(stack) == 0 {
				root = Map{f.name: value}
				continue
			}
			parent := stack[len(stack)-1]
			addChild(parent.node, f.name, value)
		}
	}

	if len(stack) > 0 {
		return nil, fmt.Errorf("%w: unclosed element <%s>", ErrMalformed, stack[len(stack)-1].name)
	}
	if root == nil {
		return nil, fmt.Errorf("%w: no root element", ErrMalformed)
	}
	return root, nil
}

type element struct {
	name string
	node Map
	text strings.Builder
}

// finish collapses an element into its Value: nil when empty, Text when it
// only carries text, Map otherwise. Surrounding whitespace is trimmed.
func (e *element) finish() Value {
	text := strings.TrimSpace(e.text.String())
	if len(e.node) == 0 {
		if text == "" {
			return nil
		}
		return Text(text)
	}
	if text != "" {
		e.node[TextKey] = Text(text)
	}
	return e.node
}

func addChild(parent Map, name string, value Value) {
	existing, ok := parent[name]
	if !ok {
		parent[name] = value
		return
	}
	if list, isList := existing.(List); isList {
		parent[name] = append(list, value)
		return
	}
	parent[name] = List{existing, value}
}

func qualifiedName(n xml.Name) string {
	if n.Space == "" {
		return n.Local
	}
	return n.Space + ":" + n.Local
}

// EnsureList returns v as a list: nil becomes empty, a List is returned as is
// and any other value is wrapped.
func EnsureList(v Value) List {
	switch t := v.(type) {
	case nil:
		return nil
	case List:
		return t
	default:
		return List{t}
	}
}

// Entries returns feed.entry of an Atom document as a list.
func Entries(doc Map) List {
	root, ok := doc["feed"].(Map)
	if !ok {
		return nil
	}
	return EnsureList(root["entry"])
}
