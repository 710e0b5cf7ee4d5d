// Package overlay turns located evidence into render instructions and draws
// them. Planning is pure: (snapshot, spans) -> instructions. Drawing is a thin
// adapter that applies instructions to a fresh clone of the snapshot.
package overlay

import (
	"golang.org/x/net/html"

	"github.com/hpungsan/evlens/internal/document"
	"github.com/hpungsan/evlens/internal/dom"
	"github.com/hpungsan/evlens/internal/locate"
)

// Kind selects how an instruction is drawn.
type Kind string

const (
	// KindInline splits the text node and wraps the match in an interactive element.
	KindInline Kind = "inline"
	// KindOverlay lays a positioned layer over an element without touching its text.
	KindOverlay Kind = "overlay"
)

// SpanRef is an evidence span plus the identity the view addresses it by.
type SpanRef struct {
	ID   string
	Span document.EvidenceSpan
}

// Options control interactivity of the plan.
type Options struct {
	EditMode     bool
	ReadOnly     bool
	ActiveSpanID string
}

// Instruction describes one highlight.
type Instruction struct {
	SpanID    string            `json:"span_id"`
	Kind      Kind              `json:"kind"`
	Type      document.SpanType `json:"type"`
	Field     string            `json:"field,omitempty"`
	Tooltip   string            `json:"tooltip"`
	Clickable bool              `json:"clickable"`
	Active    bool              `json:"active"`
	Handles   bool              `json:"handles"`
	Style     Style             `json:"style"`
	Text      string            `json:"text"`
	Start     int               `json:"start"`
	End       int               `json:"end"`
	Strategy  locate.Strategy   `json:"strategy"`
	// TargetOrdinal is the element the highlight sits in (-1: rendering root).
	TargetOrdinal int `json:"target_ordinal"`

	// TextNode is the located text node (inline) and Target the covered element (overlay).
	TextNode *html.Node `json:"-"`
	Target   *html.Node `json:"-"`
}

// Skip records a span that produced no instruction. Skips are expected
// (content drift), never errors.
type Skip struct {
	SpanID string `json:"span_id"`
	Reason string `json:"reason"`
}

// Plan is the full set of instructions for one render.
type Plan struct {
	Instructions []Instruction `json:"instructions"`
	Skipped      []Skip        `json:"skipped,omitempty"`
}

// Active returns the active instruction, if any.
func (p Plan) Active() (Instruction, bool) {
	for _, in := range p.Instructions {
		if in.Active {
			return in, true
		}
	}
	return Instruction{}, false
}

// Find returns the instruction for spanID.
func (p Plan) Find(spanID string) (Instruction, bool) {
	for _, in := range p.Instructions {
		if in.SpanID == spanID {
			return in, true
		}
	}
	return Instruction{}, false
}

type textRange struct{ start, end int }

// Build computes the plan for spans. Each span is located independently, so a
// miss on one never affects the others. Inline ranges that overlap an earlier
// span's range within the same text node are skipped.
func Build(loc *locate.Locator, spans []SpanRef, opts Options) Plan {
	var plan Plan
	snap := loc.Snapshot()
	taken := make(map[*html.Node][]textRange)
	activeSeen := false

	for _, ref := range spans {
		res := loc.LocateSpan(ref.Span)

		in := Instruction{
			SpanID:    ref.ID,
			Type:      ref.Span.Type,
			Field:     ref.Span.Field,
			Tooltip:   Tooltip(ref.Span),
			Clickable: opts.EditMode && !opts.ReadOnly,
			Style:     StyleFor(ref.Span.Type),
			Strategy:  res.Location.Strategy,
		}

		switch {
		case res.Target != nil && elementGranular(ref.Span, res):
			in.Kind = KindOverlay
			in.Target = res.Target
			in.Text = dom.TextContent(res.Target)
			in.TargetOrdinal = ordinalOf(snap, res.Target)
		case res.Found:
			r := textRange{res.Location.Start, res.Location.End}
			if overlaps(taken[res.Location.TextNode], r) {
				plan.Skipped = append(plan.Skipped, Skip{SpanID: ref.ID, Reason: "overlaps another highlight"})
				continue
			}
			taken[res.Location.TextNode] = append(taken[res.Location.TextNode], r)
			in.Kind = KindInline
			in.TextNode = res.Location.TextNode
			in.Start, in.End = r.start, r.end
			in.Text = res.Location.Text()
			in.TargetOrdinal = ordinalOf(snap, res.Location.Parent)
		default:
			plan.Skipped = append(plan.Skipped, Skip{SpanID: ref.ID, Reason: skipReason(ref.Span, res)})
			continue
		}

		if opts.EditMode && !opts.ReadOnly && !activeSeen && ref.ID != "" && ref.ID == opts.ActiveSpanID {
			in.Active = true
			in.Handles = in.Kind == KindInline
			activeSeen = true
		}
		plan.Instructions = append(plan.Instructions, in)
	}
	return plan
}

// elementGranular reports whether a span addresses a whole element rather than
// text: a structural span with no text and no offsets, or a target with no text.
func elementGranular(span document.EvidenceSpan, res locate.Result) bool {
	if !span.IsStructural() {
		return false
	}
	if span.Text == "" && span.RelativeStart == 0 && span.RelativeEnd == 0 {
		return true
	}
	return dom.FirstText(res.Target) == nil && res.Target.Type == html.ElementNode
}

func overlaps(ranges []textRange, r textRange) bool {
	for _, o := range ranges {
		if r.start < o.end && o.start < r.end {
			return true
		}
	}
	return false
}

func ordinalOf(snap *dom.Snapshot, n *html.Node) int {
	for cur := n; cur != nil; cur = cur.Parent {
		if i, ok := snap.Ordinal(cur); ok {
			return i
		}
	}
	return -1
}

func skipReason(span document.EvidenceSpan, res locate.Result) string {
	switch {
	case res.Resolution.Malformed:
		return "malformed path"
	case span.IsStructural() && res.Target == nil:
		return "path matched nothing"
	default:
		return "text not found"
	}
}
