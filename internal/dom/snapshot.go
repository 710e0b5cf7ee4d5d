// Package dom holds the sanitized, parsed form of an email body: the tree the
// resolver walks, the locator reads, and the renderer clones.
package dom

import (
	"fmt"
	"strings"

	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"

	"github.com/hpungsan/evlens/internal/document"
)

// RootAttr marks the rendering root element.
const RootAttr = "data-evlens-root"

// NodeAttr carries an element's ordinal in rendered output.
const NodeAttr = "data-evlens-node"

const shell = `<!DOCTYPE html><html><head></head><body><div ` + RootAttr + `=""></div></body></html>`

// Snapshot is an immutable parsed body. Doc is the whole document; Root is the
// rendering root the body content lives under, one level deeper than the body
// of the document the upstream paths were captured against.
type Snapshot struct {
	Doc         *html.Node
	Root        *html.Node
	ContentType document.ContentType
	// Plain is the raw content of a plain-text body.
	Plain string

	elements []*html.Node
	ordinals map[*html.Node]int
}

// NewSnapshot sanitizes and parses doc. Plain bodies become a single text
// node under the rendering root.
func NewSnapshot(doc document.EmailDocument) (*Snapshot, error) {
	top, err := html.Parse(strings.NewReader(shell))
	if err != nil {
		return nil, fmt.Errorf("parse shell: %w", err)
	}
	root := findRoot(top)
	if root == nil {
		return nil, fmt.Errorf("rendering root missing from shell")
	}

	s := &Snapshot{Doc: top, Root: root, ContentType: doc.ContentType}

	if doc.ContentType == document.ContentHTML {
		nodes, err := html.ParseFragment(strings.NewReader(Sanitize(doc.Content)), root)
		if err != nil {
			return nil, fmt.Errorf("parse body: %w", err)
		}
		for _, n := range nodes {
			root.AppendChild(n)
		}
	} else {
		s.Plain = doc.Content
		root.AppendChild(&html.Node{Type: html.TextNode, Data: doc.Content})
	}

	s.index()
	return s, nil
}

func findRoot(n *html.Node) *html.Node {
	if n.Type == html.ElementNode && n.DataAtom == atom.Div && hasAttr(n, RootAttr) {
		return n
	}
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		if r := findRoot(c); r != nil {
			return r
		}
	}
	return nil
}

func hasAttr(n *html.Node, key string) bool {
	for _, a := range n.Attr {
		if a.Key == key {
			return true
		}
	}
	return false
}

// index assigns pre-order ordinals to the elements below the rendering root.
func (s *Snapshot) index() {
	s.elements = s.elements[:0]
	s.ordinals = make(map[*html.Node]int)
	Walk(s.Root, func(n *html.Node) bool {
		if n != s.Root && n.Type == html.ElementNode {
			s.ordinals[n] = len(s.elements)
			s.elements = append(s.elements, n)
		}
		return true
	})
}

// Element returns the element with the given ordinal, or nil. Ordinal -1 is the
// rendering root itself.
func (s *Snapshot) Element(ordinal int) *html.Node {
	if ordinal == -1 {
		return s.Root
	}
	if ordinal < 0 || ordinal >= len(s.elements) {
		return nil
	}
	return s.elements[ordinal]
}

// Ordinal returns n's ordinal; -1 for the rendering root, false for anything else
// outside the body.
func (s *Snapshot) Ordinal(n *html.Node) (int, bool) {
	if n == s.Root {
		return -1, true
	}
	i, ok := s.ordinals[n]
	return i, ok
}

// Len is the number of indexed elements.
func (s *Snapshot) Len() int {
	return len(s.elements)
}

// Clone returns a deep copy. Ordinals are preserved, so Clone().Element(i)
// is the copy of Element(i). Rendering always mutates a clone.
func (s *Snapshot) Clone() *Snapshot {
	c, _ := s.CloneWithMap()
	return c
}

// CloneWithMap is Clone plus the original-to-copy node mapping, used to carry
// node references computed against s over to the copy.
func (s *Snapshot) CloneWithMap() (*Snapshot, map[*html.Node]*html.Node) {
	mapping := make(map[*html.Node]*html.Node)
	doc := cloneTree(s.Doc, mapping)
	out := &Snapshot{
		Doc:         doc,
		Root:        mapping[s.Root],
		ContentType: s.ContentType,
		Plain:       s.Plain,
		elements:    make([]*html.Node, len(s.elements)),
		ordinals:    make(map[*html.Node]int, len(s.elements)),
	}
	for i, el := range s.elements {
		c := mapping[el]
		out.elements[i] = c
		out.ordinals[c] = i
	}
	return out, mapping
}

func cloneTree(n *html.Node, mapping map[*html.Node]*html.Node) *html.Node {
	c := &html.Node{
		Type:      n.Type,
		DataAtom:  n.DataAtom,
		Data:      n.Data,
		Namespace: n.Namespace,
	}
	if len(n.Attr) > 0 {
		c.Attr = append([]html.Attribute(nil), n.Attr...)
	}
	mapping[n] = c
	for ch := n.FirstChild; ch != nil; ch = ch.NextSibling {
		c.AppendChild(cloneTree(ch, mapping))
	}
	return c
}

// InnerHTML serializes the children of n.
func InnerHTML(n *html.Node) (string, error) {
	var b strings.Builder
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		if err := html.Render(&b, c); err != nil {
			return "", err
		}
	}
	return b.String(), nil
}
