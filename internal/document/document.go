// Package document defines the review data model: the upstream analysis
// (email + predictions + evidence spans) and the correction records the
// reviewer produces from it.
package document

import (
	"encoding/json"
	"maps"
	"slices"
)

// ContentType is the rendering mode of an email body.
type ContentType string

const (
	ContentPlain ContentType = "plain"
	ContentHTML  ContentType = "html"
)

// SpanType is the prediction facet an evidence span justifies.
type SpanType string

const (
	SpanIntent         SpanType = "intent"
	SpanAction         SpanType = "action"
	SpanArtefactType   SpanType = "artefact_type"
	SpanArtefactDetail SpanType = "artefact_detail"
)

// SpanTypes lists the four evidence categories in display order.
var SpanTypes = []SpanType{SpanIntent, SpanAction, SpanArtefactType, SpanArtefactDetail}

// Valid reports whether t is one of the four known categories.
func (t SpanType) Valid() bool {
	return slices.Contains(SpanTypes, t)
}

// EmailDocument is the body under review. Immutable for the life of a session.
type EmailDocument struct {
	Content     string      `json:"content" yaml:"content"`
	ContentType ContentType `json:"contentType" yaml:"contentType"`
}

// Artefact is the structured object a prediction extracted.
type Artefact struct {
	Type    string            `json:"type" yaml:"type"`
	Details map[string]string `json:"details,omitempty" yaml:"details,omitempty"`
}

// Prediction is one intent/action/artefact triple with its evidence.
type Prediction struct {
	ID            string         `json:"id" yaml:"id"`
	Intent        string         `json:"intent" yaml:"intent"`
	Action        string         `json:"action" yaml:"action"`
	Artefact      Artefact       `json:"artefact" yaml:"artefact"`
	EvidenceSpans []EvidenceSpan `json:"evidenceSpans" yaml:"evidenceSpans"`
}

// Clone returns a deep copy of p.
func (p Prediction) Clone() Prediction {
	out := p
	out.Artefact.Details = maps.Clone(p.Artefact.Details)
	out.EvidenceSpans = slices.Clone(p.EvidenceSpans)
	return out
}

// EvidenceSpan is one justification snippet. Structural spans (HTML bodies)
// carry XPath with offsets into the first non-empty text node under the
// resolved node; flat spans (plain bodies) carry absolute Start/End.
// Offsets count characters (runes), not bytes.
type EvidenceSpan struct {
	XPath         string   `json:"xpath,omitempty" yaml:"xpath,omitempty"`
	RelativeStart int      `json:"relativeStart,omitempty" yaml:"relativeStart,omitempty"`
	RelativeEnd   int      `json:"relativeEnd,omitempty" yaml:"relativeEnd,omitempty"`
	Start         int      `json:"start,omitempty" yaml:"start,omitempty"`
	End           int      `json:"end,omitempty" yaml:"end,omitempty"`
	Text          string   `json:"text" yaml:"text"`
	Type          SpanType `json:"type" yaml:"type"`
	Field         string   `json:"field,omitempty" yaml:"field,omitempty"`
}

// IsStructural reports whether the span is addressed by path + relative offsets.
func (s EvidenceSpan) IsStructural() bool {
	return s.XPath != ""
}

// Offsets returns the span's declared offsets in whichever encoding it uses.
func (s EvidenceSpan) Offsets() (int, int) {
	if s.IsStructural() {
		return s.RelativeStart, s.RelativeEnd
	}
	return s.Start, s.End
}

// WithOffsets returns a copy of s with its offsets replaced in its own encoding.
func (s EvidenceSpan) WithOffsets(start, end int) EvidenceSpan {
	if s.IsStructural() {
		s.RelativeStart, s.RelativeEnd = start, end
	} else {
		s.Start, s.End = start, end
	}
	return s
}

// SpanIdentity is the comparable identity of an evidence span:
// xpath+relative offsets for structural spans, start+end for flat ones.
type SpanIdentity struct {
	XPath      string
	Start, End int
}

// Identity returns the span's identity key.
func (s EvidenceSpan) Identity() SpanIdentity {
	start, end := s.Offsets()
	return SpanIdentity{XPath: s.XPath, Start: start, End: end}
}

// fields renders the span in its own encoding, so offsets of zero survive
// and the other encoding's offsets never appear.
func (s EvidenceSpan) fields() map[string]any {
	m := map[string]any{
		"text": s.Text,
		"type": s.Type,
	}
	if s.IsStructural() {
		m["xpath"] = s.XPath
		m["relativeStart"] = s.RelativeStart
		m["relativeEnd"] = s.RelativeEnd
	} else {
		m["start"] = s.Start
		m["end"] = s.End
	}
	if s.Field != "" {
		m["field"] = s.Field
	}
	return m
}

// MarshalJSON implements json.Marshaler.
func (s EvidenceSpan) MarshalJSON() ([]byte, error) {
	return json.Marshal(s.fields())
}

// CorrectedSpan is an EvidenceSpan inside a correction record. When it
// replaces existing evidence it carries the original span's identity; spans
// added fresh carry no Original* fields at all.
type CorrectedSpan struct {
	EvidenceSpan

	CorrectionID string `json:"id,omitempty" yaml:"id,omitempty"`

	OriginalXPath         *string `json:"originalXpath,omitempty" yaml:"originalXpath,omitempty"`
	OriginalRelativeStart *int    `json:"originalRelativeStart,omitempty" yaml:"originalRelativeStart,omitempty"`
	OriginalRelativeEnd   *int    `json:"originalRelativeEnd,omitempty" yaml:"originalRelativeEnd,omitempty"`
	OriginalStart         *int    `json:"originalStart,omitempty" yaml:"originalStart,omitempty"`
	OriginalEnd           *int    `json:"originalEnd,omitempty" yaml:"originalEnd,omitempty"`
}

// HasOriginal reports whether the span links back to evidence it replaces.
func (c CorrectedSpan) HasOriginal() bool {
	return c.OriginalXPath != nil || c.OriginalStart != nil
}

// OriginalIdentity returns the identity of the replaced span.
func (c CorrectedSpan) OriginalIdentity() (SpanIdentity, bool) {
	switch {
	case c.OriginalXPath != nil:
		return SpanIdentity{XPath: *c.OriginalXPath, Start: derefInt(c.OriginalRelativeStart), End: derefInt(c.OriginalRelativeEnd)}, true
	case c.OriginalStart != nil:
		return SpanIdentity{Start: *c.OriginalStart, End: derefInt(c.OriginalEnd)}, true
	}
	return SpanIdentity{}, false
}

// LinkOriginal sets the back-reference fields from the replaced span.
func (c *CorrectedSpan) LinkOriginal(orig EvidenceSpan) {
	if orig.IsStructural() {
		xp, rs, re := orig.XPath, orig.RelativeStart, orig.RelativeEnd
		c.OriginalXPath, c.OriginalRelativeStart, c.OriginalRelativeEnd = &xp, &rs, &re
		return
	}
	s, e := orig.Start, orig.End
	c.OriginalStart, c.OriginalEnd = &s, &e
}

// Clone returns a deep copy of c; back-reference pointers are not shared.
func (c CorrectedSpan) Clone() CorrectedSpan {
	out := c
	out.OriginalXPath = clonePtr(c.OriginalXPath)
	out.OriginalRelativeStart = clonePtr(c.OriginalRelativeStart)
	out.OriginalRelativeEnd = clonePtr(c.OriginalRelativeEnd)
	out.OriginalStart = clonePtr(c.OriginalStart)
	out.OriginalEnd = clonePtr(c.OriginalEnd)
	return out
}

// MarshalJSON implements json.Marshaler.
func (c CorrectedSpan) MarshalJSON() ([]byte, error) {
	m := c.EvidenceSpan.fields()
	if c.CorrectionID != "" {
		m["id"] = c.CorrectionID
	}
	if c.OriginalXPath != nil {
		m["originalXpath"] = *c.OriginalXPath
		m["originalRelativeStart"] = derefInt(c.OriginalRelativeStart)
		m["originalRelativeEnd"] = derefInt(c.OriginalRelativeEnd)
	}
	if c.OriginalStart != nil {
		m["originalStart"] = *c.OriginalStart
		m["originalEnd"] = derefInt(c.OriginalEnd)
	}
	return json.Marshal(m)
}

// CorrectedPrediction is the reviewer's version of a prediction.
type CorrectedPrediction struct {
	ID            string          `json:"id" yaml:"id"`
	Intent        string          `json:"intent" yaml:"intent"`
	Action        string          `json:"action" yaml:"action"`
	Artefact      Artefact        `json:"artefact" yaml:"artefact"`
	EvidenceSpans []CorrectedSpan `json:"evidenceSpans" yaml:"evidenceSpans"`
}

// CorrectionRecord accumulates every edit made to one prediction.
type CorrectionRecord struct {
	PredictionID   string              `json:"predictionId" yaml:"predictionId"`
	CorrectedValue CorrectedPrediction `json:"correctedValue" yaml:"correctedValue"`
}

// Clone returns a deep copy of r.
func (r CorrectionRecord) Clone() CorrectionRecord {
	out := r
	out.CorrectedValue.Artefact.Details = maps.Clone(r.CorrectedValue.Artefact.Details)
	spans := make([]CorrectedSpan, len(r.CorrectedValue.EvidenceSpans))
	for i, s := range r.CorrectedValue.EvidenceSpans {
		spans[i] = s.Clone()
	}
	out.CorrectedValue.EvidenceSpans = spans
	return out
}

func derefInt(p *int) int {
	if p == nil {
		return 0
	}
	return *p
}

func clonePtr[T any](p *T) *T {
	if p == nil {
		return nil
	}
	v := *p
	return &v
}
