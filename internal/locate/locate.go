// Package locate finds the exact character range an evidence span claims
// inside a resolved node, trusting declared offsets only as far as the
// rendered text agrees with them.
package locate

import (
	"strings"

	"golang.org/x/net/html"

	"github.com/hpungsan/evlens/internal/document"
	"github.com/hpungsan/evlens/internal/dom"
	"github.com/hpungsan/evlens/internal/xpath"
)

// Strategy records which rule produced a location.
type Strategy string

const (
	StrategyOffsets  Strategy = "offsets"
	StrategyVerbatim Strategy = "verbatim"
	StrategyTrimmed  Strategy = "trimmed"
	StrategyPrefix   Strategy = "prefix"
	StrategySkipped  Strategy = "skipped"
)

const (
	// minPrefixSource is the trimmed length a text must exceed before a prefix search is tried.
	minPrefixSource = 5
	// maxPrefixLen bounds the prefix used for the partial match.
	maxPrefixLen = 15
)

// Location is where a span's evidence lies: characters [Start, End) of
// TextNode, whose parent element is Parent.
type Location struct {
	Parent   *html.Node
	TextNode *html.Node
	Start    int
	End      int
	Strategy Strategy
	// Partial is set when only a prefix of the declared text was found.
	Partial bool
}

// Text returns the located characters.
func (l Location) Text() string {
	if l.TextNode == nil {
		return ""
	}
	return dom.Substr(l.TextNode.Data, l.Start, l.End)
}

// Locate finds span inside node. Rules, in order:
//  1. declared offsets, when they bound a range of the first non-empty text
//     node and (if text is given) that range reads exactly as text;
//  2. the first verbatim occurrence of text;
//  3. the first occurrence of the whitespace-trimmed text;
//  4. for trimmed text longer than 5 characters, its first 15 characters (partial);
//  5. declared offsets again, if valid at all.
//
// Text searches scan the first non-empty text node, then the remaining text
// descendants in pre-order. A degenerate final range reports false.
func Locate(node *html.Node, span document.EvidenceSpan) (Location, bool) {
	skipped := Location{Parent: node, Strategy: StrategySkipped}
	if node == nil {
		return skipped, false
	}
	texts := dom.TextNodes(node)
	if len(texts) == 0 {
		return skipped, false
	}

	first := texts[0]
	start, end := span.Offsets()
	offsetsValid := 0 <= start && start < end && end <= dom.RuneLen(first.Data)

	if offsetsValid && (span.Text == "" || dom.Substr(first.Data, start, end) == span.Text) {
		return finish(first, start, end, StrategyOffsets, false)
	}

	if span.Text != "" {
		if loc, ok := search(texts, span.Text, StrategyVerbatim, false); ok {
			return loc, true
		}
		trimmed := strings.TrimSpace(span.Text)
		if trimmed != "" && trimmed != span.Text {
			if loc, ok := search(texts, trimmed, StrategyTrimmed, false); ok {
				return loc, true
			}
		}
		if n := dom.RuneLen(trimmed); n > minPrefixSource {
			prefix := dom.Substr(trimmed, 0, min(n, maxPrefixLen))
			if loc, ok := search(texts, prefix, StrategyPrefix, n > maxPrefixLen); ok {
				return loc, true
			}
		}
	}

	if offsetsValid {
		return finish(first, start, end, StrategyOffsets, false)
	}
	return skipped, false
}

func search(texts []*html.Node, term string, strategy Strategy, partial bool) (Location, bool) {
	for _, t := range texts {
		if i := dom.IndexRunes(t.Data, term); i >= 0 {
			return finish(t, i, i+dom.RuneLen(term), strategy, partial)
		}
	}
	return Location{}, false
}

func finish(t *html.Node, start, end int, strategy Strategy, partial bool) (Location, bool) {
	if start >= end || end <= 0 || end > dom.RuneLen(t.Data) {
		return Location{Parent: t.Parent, Strategy: StrategySkipped}, false
	}
	return Location{
		Parent:   t.Parent,
		TextNode: t,
		Start:    start,
		End:      end,
		Strategy: strategy,
		Partial:  partial,
	}, true
}

// Result is the outcome of locating one span in a snapshot.
type Result struct {
	Span       document.EvidenceSpan
	Resolution xpath.Resolution
	// Target is the node the span resolved to (the rendering root for flat spans).
	Target   *html.Node
	Location Location
	Found    bool
}

// Locator resolves and locates spans against one snapshot.
type Locator struct {
	snap     *dom.Snapshot
	resolver *xpath.Resolver
}

// NewLocator binds a resolver to a snapshot.
func NewLocator(snap *dom.Snapshot, resolver *xpath.Resolver) *Locator {
	return &Locator{snap: snap, resolver: resolver}
}

// Snapshot returns the snapshot the locator reads.
func (l *Locator) Snapshot() *dom.Snapshot {
	return l.snap
}

// LocateSpan resolves span's path (structural spans) or uses the rendering
// root (flat spans) and locates the evidence inside the first match.
func (l *Locator) LocateSpan(span document.EvidenceSpan) Result {
	res := Result{Span: span}
	if span.IsStructural() {
		res.Resolution = l.resolver.ResolveDetailed(span.XPath, l.snap.Root, l.snap.Doc)
		if len(res.Resolution.Nodes) == 0 {
			res.Location = Location{Strategy: StrategySkipped}
			return res
		}
		res.Target = res.Resolution.Nodes[0]
	} else {
		res.Target = l.snap.Root
	}
	res.Location, res.Found = Locate(res.Target, span)
	return res
}
