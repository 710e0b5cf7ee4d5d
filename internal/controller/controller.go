// Package controller runs one review session: which prediction is selected,
// whether evidence is being edited, which span is active, and what the
// reviewer has proposed but not yet applied.
//
// All state lives on the Controller value and is passed explicitly to the
// pieces it drives; nothing is shared through package state.
package controller

import (
	"context"
	"fmt"

	"github.com/charmbracelet/log"

	"github.com/hpungsan/evlens/internal/capture"
	"github.com/hpungsan/evlens/internal/document"
	"github.com/hpungsan/evlens/internal/dom"
	"github.com/hpungsan/evlens/internal/errors"
	"github.com/hpungsan/evlens/internal/ledger"
	"github.com/hpungsan/evlens/internal/locate"
	"github.com/hpungsan/evlens/internal/logging"
	"github.com/hpungsan/evlens/internal/overlay"
	"github.com/hpungsan/evlens/internal/xpath"
)

// State is the controller's interaction state.
type State string

const (
	Viewing   State = "viewing"
	Selected  State = "selected"
	Editing   State = "editing"
	Selecting State = "selecting"
)

// Options configure a controller.
type Options struct {
	CharWidthPx float64
	ReadOnly    bool
	Logger      *log.Logger
}

// ActiveSpan is the evidence span targeted for editing.
type ActiveSpan struct {
	ID   string                `json:"id"`
	Span document.EvidenceSpan `json:"span"`
	// Original is the source evidence this span stands for; nil for net-new evidence.
	Original *document.EvidenceSpan `json:"original,omitempty"`
	// CorrectionID is set once the span has a corrected version in the ledger.
	CorrectionID string `json:"correction_id,omitempty"`
}

// Pending is a proposed replacement awaiting Apply.
type Pending struct {
	Span      document.EvidenceSpan `json:"span"`
	Candidate capture.Candidate     `json:"candidate"`
}

// Controller is one review session. It is not safe for concurrent use.
type Controller struct {
	opts     Options
	logger   *log.Logger
	resolver *xpath.Resolver
	renderer *overlay.Renderer

	analysis *document.Analysis
	snap     *dom.Snapshot
	locator  *locate.Locator
	ledger   *ledger.Ledger

	state      State
	selectedID string
	active     *ActiveSpan
	pending    *Pending
	drag       *capture.Drag
	dragFrom   locate.Result
}

// New creates a controller with no document loaded.
func New(opts Options) *Controller {
	if opts.CharWidthPx <= 0 {
		opts.CharWidthPx = 8
	}
	logger := logging.OrDiscard(opts.Logger)
	return &Controller{
		opts:     opts,
		logger:   logger,
		resolver: xpath.NewResolver(logger),
		renderer: overlay.NewRenderer(logger),
		ledger:   ledger.New(),
		state:    Viewing,
	}
}

// Load replaces the document under review. It always resets to Viewing and
// drops the active span, any drag, and every correction tied to the old document.
func (c *Controller) Load(a *document.Analysis) error {
	if a == nil {
		return errors.NewInvalidRequest("analysis is required")
	}
	snap, err := dom.NewSnapshot(a.Document())
	if err != nil {
		return errors.NewMalformedDocument(err)
	}

	c.endDrag()
	c.analysis = a
	c.snap = snap
	c.locator = locate.NewLocator(snap, c.resolver)
	c.ledger.Clear()
	c.state = Viewing
	c.selectedID = ""
	c.active = nil
	c.pending = nil
	c.logger.Info("document loaded", "predictions", len(a.Predictions()), "content_type", snap.ContentType)
	return nil
}

// State returns the current state.
func (c *Controller) State() State {
	return c.state
}

// Ledger exposes the correction ledger read-only callers can inspect.
func (c *Controller) Ledger() *ledger.Ledger {
	return c.ledger
}

// Analysis returns the loaded analysis, or nil.
func (c *Controller) Analysis() *document.Analysis {
	return c.analysis
}

// Snapshot returns the parsed body, or nil.
func (c *Controller) Snapshot() *dom.Snapshot {
	return c.snap
}

func (c *Controller) reject(op string) error {
	return errors.NewInvalidState(op, string(c.state))
}

func (c *Controller) requireDocument(op string) error {
	if c.analysis == nil {
		return errors.NewInvalidState(op, "empty")
	}
	return nil
}

// SelectPrediction makes id the selected prediction. Allowed from any state;
// an in-progress edit is discarded.
func (c *Controller) SelectPrediction(id string) error {
	if err := c.requireDocument("select"); err != nil {
		return err
	}
	if _, ok := c.analysis.Prediction(id); !ok {
		return errors.NewNotFound("prediction", id)
	}
	c.discardEdit()
	c.selectedID = id
	c.state = Selected
	return nil
}

// Deselect returns to Viewing.
func (c *Controller) Deselect() error {
	if err := c.requireDocument("deselect"); err != nil {
		return err
	}
	c.discardEdit()
	c.selectedID = ""
	c.state = Viewing
	return nil
}

// EnterEdit switches the selected prediction's evidence to edit mode.
func (c *Controller) EnterEdit() error {
	if c.state != Selected {
		return c.reject("edit")
	}
	if c.opts.ReadOnly {
		return errors.NewInvalidRequest("viewer is read-only")
	}
	c.state = Editing
	return nil
}

// ExitEdit leaves edit mode without committing anything.
func (c *Controller) ExitEdit() error {
	if c.state != Editing && c.state != Selecting {
		return c.reject("exit-edit")
	}
	c.discardEdit()
	c.state = Selected
	return nil
}

// ClickSpan makes spanID the active span and opens the edit surface.
func (c *Controller) ClickSpan(spanID string) error {
	if c.state != Editing {
		return c.reject("click")
	}
	ds, ok := c.findDisplaySpan(spanID)
	if !ok {
		return errors.NewNotFound("span", spanID)
	}
	c.endDrag()
	c.active = &ds
	c.pending = nil
	return nil
}

// BeginSelecting arms free selection. With an active span the next selection
// replaces it; without one it becomes net-new evidence.
func (c *Controller) BeginSelecting() error {
	if c.state != Editing {
		return c.reject("selecting")
	}
	c.endDrag()
	c.state = Selecting
	return nil
}

// CaptureSelection turns a completed selection into the pending candidate and
// returns to Editing.
func (c *Controller) CaptureSelection(ev capture.SelectionEvent) (*Pending, error) {
	if c.state != Selecting {
		return nil, c.reject("selection")
	}
	cand, err := capture.FromSelection(c.snap, ev)
	if err != nil {
		return nil, err
	}
	if cand.CrossNode {
		c.logger.Debug("selection spans several text nodes; using 0..len offsets", "text_len", dom.RuneLen(cand.Text))
	}
	c.setPending(cand)
	c.state = Editing
	return c.pending, nil
}

// BeginDrag starts dragging a boundary handle of the active span.
func (c *Controller) BeginDrag(handle capture.Handle) error {
	if c.state != Editing && c.state != Selecting {
		return c.reject("drag")
	}
	if c.active == nil {
		return errors.NewInvalidRequest("no active span to drag")
	}
	base := c.active.Span
	if c.pending != nil {
		base = c.pending.Span
	}
	res := c.locator.LocateSpan(base)
	if !res.Found {
		return errors.NewInvalidRequest("active span is not located in the document")
	}
	c.endDrag()
	d, err := capture.BeginDrag(handle, base, res.Location.TextNode.Data, res.Location.Start, res.Location.End, c.opts.CharWidthPx)
	if err != nil {
		return err
	}
	c.drag = d
	c.dragFrom = res
	return nil
}

// MoveDrag updates the drag preview with the total displacement in pixels.
func (c *Controller) MoveDrag(dxPixels float64) (string, error) {
	if !c.drag.Active() {
		return "", errors.NewInvalidRequest("no drag in progress")
	}
	return c.drag.Move(dxPixels), nil
}

// ReleaseDrag ends the drag. A moved boundary becomes the pending candidate;
// a release with no net change leaves everything as it was.
func (c *Controller) ReleaseDrag() (*Pending, error) {
	if !c.drag.Active() {
		return nil, errors.NewInvalidRequest("no drag in progress")
	}
	cand, changed := c.drag.Release()
	c.drag = nil
	if !changed {
		return c.pending, nil
	}
	if cand.XPath != "" {
		cand.XPath = c.rebasePath(cand.XPath)
	}
	c.setPending(cand)
	c.state = Editing
	return c.pending, nil
}

// SetLabel changes the type (and field) of the pending or active span.
func (c *Controller) SetLabel(t document.SpanType, field string) error {
	if c.state != Editing {
		return c.reject("label")
	}
	if !t.Valid() {
		return errors.NewInvalidRequest(fmt.Sprintf("unknown evidence type %q", t))
	}
	if t == document.SpanArtefactDetail && field == "" {
		return errors.NewInvalidRequest("artefact_detail evidence requires a field")
	}
	if t != document.SpanArtefactDetail {
		field = ""
	}
	if c.pending == nil {
		if c.active == nil {
			return errors.NewInvalidRequest("nothing to relabel")
		}
		c.pending = &Pending{Span: c.active.Span}
	}
	c.pending.Span.Type = t
	c.pending.Span.Field = field
	return nil
}

// Apply commits the pending candidate to the ledger and returns to Selected.
func (c *Controller) Apply() error {
	if c.state != Editing {
		return c.reject("apply")
	}
	if c.pending == nil {
		return errors.NewInvalidRequest("nothing to apply")
	}
	pred, _ := c.analysis.Prediction(c.selectedID)
	span := c.pending.Span

	switch {
	case c.active == nil:
		c.ledger.ApplyEdit(pred, nil, span)
	case c.active.Original == nil:
		if !c.ledger.ReplaceCorrection(pred.ID, c.active.CorrectionID, span) {
			c.ledger.ApplyEdit(pred, nil, span)
		}
	default:
		c.ledger.ApplyEdit(pred, c.active.Original, span)
	}
	c.logger.Debug("correction applied", "prediction", pred.ID, "records", c.ledger.Len())

	c.discardEdit()
	c.state = Selected
	return nil
}

// Cancel discards the pending candidate and any drag and returns to Selected.
func (c *Controller) Cancel() error {
	if c.state != Editing && c.state != Selecting {
		return c.reject("cancel")
	}
	c.discardEdit()
	c.state = Selected
	return nil
}

// CorrectField relabels intent, action or artefact_type of the selected prediction.
func (c *Controller) CorrectField(field, value string) error {
	if c.state != Selected && c.state != Editing {
		return c.reject("correct-field")
	}
	pred, _ := c.analysis.Prediction(c.selectedID)
	return c.ledger.ApplyFieldEdit(pred, field, value)
}

// Submit hands the ledger to sink. Allowed while not editing. On success the
// ledger is empty; on failure it is untouched and the error says why.
func (c *Controller) Submit(ctx context.Context, sink ledger.Sink) error {
	if c.state != Viewing && c.state != Selected {
		return c.reject("submit")
	}
	if err := c.ledger.Submit(ctx, sink); err != nil {
		c.logger.Warn("feedback submission failed", "err", err, "records", c.ledger.Len())
		return err
	}
	c.active = nil
	c.logger.Info("feedback submitted")
	return nil
}

// Close tears the session down, ending any drag in flight.
func (c *Controller) Close() {
	c.endDrag()
}

func (c *Controller) setPending(cand capture.Candidate) {
	base := document.EvidenceSpan{Type: document.SpanIntent}
	if c.active != nil {
		base = c.active.Span
	}
	if c.pending != nil {
		base.Type, base.Field = c.pending.Span.Type, c.pending.Span.Field
	}
	c.pending = &Pending{Span: cand.ToSpan(base), Candidate: cand}
}

// rebasePath keeps structural offsets relative to the first non-empty text
// node under the path. A drag made on a later text descendant is re-addressed
// through that node's own element when it is that element's first text.
func (c *Controller) rebasePath(path string) string {
	loc := c.dragFrom.Location
	if loc.TextNode == nil || dom.FirstText(c.dragFrom.Target) == loc.TextNode {
		return path
	}
	if dom.FirstText(loc.Parent) != loc.TextNode {
		c.logger.Debug("dragged text is not addressable by path; keeping xpath", "xpath", path)
		return path
	}
	rebased := xpath.BuildPath(loc.Parent, c.snap.Root)
	c.logger.Debug("rebased dragged span", "from", path, "to", rebased)
	return rebased
}

func (c *Controller) endDrag() {
	if c.drag != nil {
		c.drag.Cancel()
		c.drag = nil
	}
}

func (c *Controller) discardEdit() {
	c.endDrag()
	c.active = nil
	c.pending = nil
}
