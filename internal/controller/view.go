package controller

import (
	"fmt"

	"github.com/hpungsan/evlens/internal/document"
	"github.com/hpungsan/evlens/internal/locate"
	"github.com/hpungsan/evlens/internal/overlay"
)

// SpanID is the view identity of a prediction's i-th source evidence span.
func SpanID(predictionID string, i int) string {
	return fmt.Sprintf("%s:%d", predictionID, i)
}

// displaySpans lists what the selected prediction currently shows: each
// source span, replaced by its corrected version when the ledger has one,
// followed by net-new evidence. Source spans keep their positional ids so
// re-editing always targets the same original.
func (c *Controller) displaySpans(pred document.Prediction) []ActiveSpan {
	rec, hasRec := c.ledger.Record(pred.ID)

	corrected := make(map[document.SpanIdentity]document.CorrectedSpan)
	var added []document.CorrectedSpan
	if hasRec {
		for _, cs := range rec.CorrectedValue.EvidenceSpans {
			if id, ok := cs.OriginalIdentity(); ok {
				corrected[id] = cs
			} else if cs.CorrectionID != "" {
				added = append(added, cs)
			}
		}
	}

	out := make([]ActiveSpan, 0, len(pred.EvidenceSpans)+len(added))
	for i, s := range pred.EvidenceSpans {
		orig := s
		ds := ActiveSpan{ID: SpanID(pred.ID, i), Span: s, Original: &orig}
		if cs, ok := corrected[s.Identity()]; ok {
			ds.Span = cs.EvidenceSpan
			ds.CorrectionID = cs.CorrectionID
		}
		out = append(out, ds)
	}
	for _, cs := range added {
		out = append(out, ActiveSpan{ID: cs.CorrectionID, Span: cs.EvidenceSpan, CorrectionID: cs.CorrectionID})
	}
	return out
}

func (c *Controller) findDisplaySpan(id string) (ActiveSpan, bool) {
	pred, ok := c.analysis.Prediction(c.selectedID)
	if !ok {
		return ActiveSpan{}, false
	}
	for _, ds := range c.displaySpans(pred) {
		if ds.ID == id {
			return ds, true
		}
	}
	return ActiveSpan{}, false
}

// Card is the summary of one prediction in the list.
type Card struct {
	ID        string            `json:"id"`
	Intent    string            `json:"intent"`
	Action    string            `json:"action"`
	Artefact  document.Artefact `json:"artefact"`
	Spans     int               `json:"spans"`
	Corrected bool              `json:"corrected"`
	Selected  bool              `json:"selected"`
}

// View is everything a surface needs to draw the session. It is computed
// from controller state on every call.
type View struct {
	State       State           `json:"state"`
	Header      document.Header `json:"header"`
	ContentType string          `json:"content_type"`
	Cards       []Card          `json:"cards"`
	SelectedID  string          `json:"selected_id,omitempty"`
	Active      *ActiveSpan     `json:"active,omitempty"`
	Pending     *Pending        `json:"pending,omitempty"`
	DragPreview string          `json:"drag_preview,omitempty"`
	LedgerSize  int             `json:"ledger_size"`
	CanSubmit   bool            `json:"can_submit"`
	ReadOnly    bool            `json:"read_only"`
	Plan        overlay.Plan    `json:"plan"`
	BodyHTML    string          `json:"-"`
}

// View renders the current state. Highlights are recomputed from scratch on
// a fresh clone of the body every time, so repeated calls are identical.
func (c *Controller) View() (View, error) {
	if err := c.requireDocument("view"); err != nil {
		return View{}, err
	}
	v := View{
		State:       c.state,
		Header:      c.analysis.Email.Header,
		ContentType: string(c.snap.ContentType),
		SelectedID:  c.selectedID,
		Active:      c.active,
		Pending:     c.pending,
		LedgerSize:  c.ledger.Len(),
		ReadOnly:    c.opts.ReadOnly,
	}
	v.CanSubmit = v.LedgerSize > 0 && (c.state == Viewing || c.state == Selected)
	if c.drag.Active() {
		v.DragPreview = c.drag.Preview()
	}

	for _, p := range c.analysis.Predictions() {
		_, corrected := c.ledger.Record(p.ID)
		v.Cards = append(v.Cards, Card{
			ID:        p.ID,
			Intent:    p.Intent,
			Action:    p.Action,
			Artefact:  p.Artefact,
			Spans:     len(p.EvidenceSpans),
			Corrected: corrected,
			Selected:  p.ID == c.selectedID,
		})
	}

	v.Plan = c.Plan()
	body, err := c.renderer.Render(c.snap, v.Plan)
	if err != nil {
		return View{}, err
	}
	v.BodyHTML = body
	return v, nil
}

// Plan computes the render instructions for the current state: none while
// Viewing, the selected prediction's evidence otherwise.
func (c *Controller) Plan() overlay.Plan {
	if c.analysis == nil || c.selectedID == "" {
		return overlay.Plan{}
	}
	pred, ok := c.analysis.Prediction(c.selectedID)
	if !ok {
		return overlay.Plan{}
	}

	spans := c.displaySpans(pred)
	refs := make([]overlay.SpanRef, len(spans))
	for i, ds := range spans {
		refs[i] = overlay.SpanRef{ID: ds.ID, Span: ds.Span}
	}

	opts := overlay.Options{
		EditMode: c.state == Editing || c.state == Selecting,
		ReadOnly: c.opts.ReadOnly,
	}
	if c.active != nil {
		opts.ActiveSpanID = c.active.ID
	}

	plan := overlay.Build(c.locator, refs, opts)
	for _, s := range plan.Skipped {
		c.logger.Debug("evidence span not highlighted", "span", s.SpanID, "reason", s.Reason)
	}
	return plan
}

// Locate reports where span lands in the loaded body.
func (c *Controller) Locate(span document.EvidenceSpan) (locate.Report, error) {
	if err := c.requireDocument("locate"); err != nil {
		return locate.Report{}, err
	}
	return c.locator.Report(span), nil
}
