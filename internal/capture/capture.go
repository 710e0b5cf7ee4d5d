// Package capture turns reviewer gestures (a text selection or a boundary
// handle drag) into a candidate replacement span.
package capture

import (
	"fmt"
	"strings"

	"github.com/hpungsan/evlens/internal/document"
	"github.com/hpungsan/evlens/internal/dom"
	"github.com/hpungsan/evlens/internal/errors"
	"github.com/hpungsan/evlens/internal/xpath"
)

// Candidate is a proposed span location, pending review.
type Candidate struct {
	Text        string `json:"text"`
	XPath       string `json:"xpath,omitempty"`
	StartOffset int    `json:"startOffset"`
	EndOffset   int    `json:"endOffset"`
	// Flat candidates carry absolute offsets into a plain-text body.
	Flat bool `json:"flat,omitempty"`
	// CrossNode marks a selection spanning several text nodes; its offsets
	// are the 0..len(text) floor, not positions in the document.
	CrossNode bool `json:"crossNode,omitempty"`
}

// ToSpan builds the replacement span, keeping base's type and field.
func (c Candidate) ToSpan(base document.EvidenceSpan) document.EvidenceSpan {
	out := document.EvidenceSpan{Text: c.Text, Type: base.Type, Field: base.Field}
	if c.Flat {
		out.Start, out.End = c.StartOffset, c.EndOffset
		return out
	}
	out.XPath = c.XPath
	out.RelativeStart, out.RelativeEnd = c.StartOffset, c.EndOffset
	return out
}

// SelectionEvent is a completed, non-collapsed browser selection. Node is the
// ordinal of the element containing it (-1 for the rendering root); Start and
// End are character offsets into that element's text content.
type SelectionEvent struct {
	Node  int    `json:"node"`
	Start int    `json:"start"`
	End   int    `json:"end"`
	Text  string `json:"text"`
}

// FromSelection converts a selection into a candidate. Inside a single text
// node the candidate addresses that node's parent with node-relative offsets.
// A selection crossing text nodes degrades to the container element with
// offsets 0..len(text).
func FromSelection(snap *dom.Snapshot, ev SelectionEvent) (Candidate, error) {
	if ev.Start == ev.End && strings.TrimSpace(ev.Text) == "" {
		return Candidate{}, errors.NewInvalidRequest("selection is collapsed")
	}
	if ev.Start < 0 || ev.End < ev.Start {
		return Candidate{}, errors.NewInvalidRequest(fmt.Sprintf("invalid selection offsets %d..%d", ev.Start, ev.End))
	}

	el := snap.Element(ev.Node)
	if el == nil {
		return Candidate{}, errors.NewNotFound("node", fmt.Sprint(ev.Node))
	}

	if snap.ContentType == document.ContentPlain {
		return flatSelection(snap.Plain, ev)
	}

	pos := 0
	for _, tn := range dom.AllTextNodes(el) {
		n := dom.RuneLen(tn.Data)
		if pos <= ev.Start && ev.End <= pos+n && ev.Start < ev.End {
			start, end := ev.Start-pos, ev.End-pos
			return Candidate{
				Text:        dom.Substr(tn.Data, start, end),
				XPath:       xpath.BuildPath(tn, snap.Root),
				StartOffset: start,
				EndOffset:   end,
			}, nil
		}
		pos += n
	}

	if strings.TrimSpace(ev.Text) == "" {
		return Candidate{}, errors.NewInvalidRequest("selection text is required for multi-node selections")
	}
	return Candidate{
		Text:        ev.Text,
		XPath:       xpath.BuildPath(el, snap.Root),
		StartOffset: 0,
		EndOffset:   dom.RuneLen(ev.Text),
		CrossNode:   true,
	}, nil
}

func flatSelection(content string, ev SelectionEvent) (Candidate, error) {
	if ev.Start < ev.End && ev.End <= dom.RuneLen(content) {
		return Candidate{
			Text:        dom.Substr(content, ev.Start, ev.End),
			StartOffset: ev.Start,
			EndOffset:   ev.End,
			Flat:        true,
		}, nil
	}
	if i := dom.IndexRunes(content, ev.Text); ev.Text != "" && i >= 0 {
		return Candidate{
			Text:        ev.Text,
			StartOffset: i,
			EndOffset:   i + dom.RuneLen(ev.Text),
			Flat:        true,
		}, nil
	}
	return Candidate{}, errors.NewInvalidRequest(fmt.Sprintf("selection %d..%d is outside the document", ev.Start, ev.End))
}
