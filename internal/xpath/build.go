package xpath

import (
	"fmt"
	"slices"
	"strings"

	"golang.org/x/net/html"
)

// BuildPath returns the canonical path of n. Below root the path is written
// as if root were the document body ("/html/body/table/tbody/tr[2]/td[2]"),
// matching how upstream paths address the original message. A positional
// index is emitted whenever the element has siblings with the same tag.
// Text nodes are addressed through their parent element.
//
// For an unmutated tree, Resolve(BuildPath(n, root), root, doc) returns n first.
func BuildPath(n, root *html.Node) string {
	if n == nil {
		return ""
	}
	if n.Type == html.TextNode {
		n = n.Parent
	}

	var steps []string
	cur := n
	for cur != nil && cur != root && cur.Type == html.ElementNode {
		steps = append(steps, step(cur))
		cur = cur.Parent
	}
	slices.Reverse(steps)

	if cur == root && root != nil {
		if len(steps) == 0 {
			return "/html/body"
		}
		return "/html/body/" + strings.Join(steps, "/")
	}
	return "/" + strings.Join(steps, "/")
}

func step(n *html.Node) string {
	if n.Parent == nil {
		return n.Data
	}
	pos, total := 0, 0
	for s := n.Parent.FirstChild; s != nil; s = s.NextSibling {
		if s.Type != html.ElementNode || s.Data != n.Data {
			continue
		}
		total++
		if s == n {
			pos = total
		}
	}
	if total > 1 {
		return fmt.Sprintf("%s[%d]", n.Data, pos)
	}
	return n.Data
}
