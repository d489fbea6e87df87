package pubmed

import (
	"bytes"
	"encoding/xml"
	"strings"
)

// node is a document-ordered element tree. Character data and child
// elements are kept interleaved so mixed content flattens correctly.
type node struct {
	name    string
	attrs   map[string]string
	content []any // string or *node, in document order
}

func parseTree(data []byte) (*node, error) {
	dec := xml.NewDecoder(bytes.NewReader(data))
	// Article XML declares entities from its DTD; resolve the common
	// ones and pass the rest through.
	dec.Strict = false
	for {
		tok, err := dec.Token()
		if err != nil {
			return nil, err
		}
		if start, ok := tok.(xml.StartElement); ok {
			root := &node{}
			if err := root.decode(dec, start); err != nil {
				return nil, err
			}
			return root, nil
		}
	}
}

func (n *node) decode(dec *xml.Decoder, start xml.StartElement) error {
	n.name = start.Name.Local
	if len(start.Attr) > 0 {
		n.attrs = make(map[string]string, len(start.Attr))
		for _, a := range start.Attr {
			n.attrs[a.Name.Local] = a.Value
		}
	}
	for {
		tok, err := dec.Token()
		if err != nil {
			return err
		}
		switch t := tok.(type) {
		case xml.StartElement:
			child := &node{}
			if err := child.decode(dec, t); err != nil {
				return err
			}
			n.content = append(n.content, child)
		case xml.CharData:
			if text := string(t); text != "" {
				n.content = append(n.content, text)
			}
		case xml.EndElement:
			return nil
		}
	}
}

func (n *node) attr(name string) string { return n.attrs[name] }

// elements returns the direct child elements in document order.
func (n *node) elements() []*node {
	var out []*node
	for _, c := range n.content {
		if child, ok := c.(*node); ok {
			out = append(out, child)
		}
	}
	return out
}

// child returns the first direct child element with the given name.
func (n *node) child(name string) *node {
	for _, child := range n.elements() {
		if child.name == name {
			return child
		}
	}
	return nil
}

// childText returns the flattened text of a direct child, or "".
func (n *node) childText(name string) string {
	if child := n.child(name); child != nil {
		return child.allText()
	}
	return ""
}

// find returns the first descendant element with the given name,
// depth-first in document order.
func (n *node) find(name string) *node {
	for _, child := range n.elements() {
		if child.name == name {
			return child
		}
		if found := child.find(name); found != nil {
			return found
		}
	}
	return nil
}

// findAll returns every descendant element with the given name.
func (n *node) findAll(name string) []*node {
	var out []*node
	for _, child := range n.elements() {
		if child.name == name {
			out = append(out, child)
		}
		out = append(out, child.findAll(name)...)
	}
	return out
}

// findText returns the flattened text of the first matching descendant.
func (n *node) findText(name string) string {
	if found := n.find(name); found != nil {
		return found.allText()
	}
	return ""
}

// allText flattens the node's text content in document order, including
// text inside nested markup, trimmed at the edges.
func (n *node) allText() string {
	var b strings.Builder
	n.appendText(&b)
	return strings.TrimSpace(b.String())
}

func (n *node) appendText(b *strings.Builder) {
	for _, c := range n.content {
		switch t := c.(type) {
		case string:
			b.WriteString(t)
		case *node:
			t.appendText(b)
		}
	}
}
