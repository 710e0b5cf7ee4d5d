package dom

import (
	"strings"
	"unicode/utf8"

	"golang.org/x/net/html"
)

// Walk visits n and its descendants in depth-first pre-order. Returning false
// from fn skips the node's children.
func Walk(n *html.Node, fn func(*html.Node) bool) {
	if !fn(n) {
		return
	}
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		Walk(c, fn)
	}
}

// IsBlankText reports whether n is a text node holding only whitespace.
func IsBlankText(n *html.Node) bool {
	return n.Type == html.TextNode && strings.TrimSpace(n.Data) == ""
}

// FirstText returns n itself when it is a non-empty text node, otherwise the
// first non-empty text descendant in pre-order, or nil.
func FirstText(n *html.Node) *html.Node {
	var found *html.Node
	Walk(n, func(c *html.Node) bool {
		if found != nil {
			return false
		}
		if c.Type == html.TextNode && !IsBlankText(c) {
			found = c
			return false
		}
		return true
	})
	return found
}

// TextNodes returns the non-empty text descendants of n in pre-order.
func TextNodes(n *html.Node) []*html.Node {
	var out []*html.Node
	Walk(n, func(c *html.Node) bool {
		if c.Type == html.TextNode && !IsBlankText(c) {
			out = append(out, c)
		}
		return true
	})
	return out
}

// AllTextNodes returns every text descendant of n, blank ones included, in pre-order.
func AllTextNodes(n *html.Node) []*html.Node {
	var out []*html.Node
	Walk(n, func(c *html.Node) bool {
		if c.Type == html.TextNode {
			out = append(out, c)
		}
		return true
	})
	return out
}

// TextContent concatenates all text under n.
func TextContent(n *html.Node) string {
	var b strings.Builder
	for _, t := range AllTextNodes(n) {
		b.WriteString(t.Data)
	}
	return b.String()
}

// RuneLen is the length of s in characters.
func RuneLen(s string) int {
	return utf8.RuneCountInString(s)
}

// Substr returns the characters [start, end) of s. Out-of-range bounds are clamped.
func Substr(s string, start, end int) string {
	r := []rune(s)
	if start < 0 {
		start = 0
	}
	if end > len(r) {
		end = len(r)
	}
	if start >= end {
		return ""
	}
	return string(r[start:end])
}

// IndexRunes returns the character index of the first occurrence of sub in s, or -1.
func IndexRunes(s, sub string) int {
	i := strings.Index(s, sub)
	if i < 0 {
		return -1
	}
	return utf8.RuneCountInString(s[:i])
}
