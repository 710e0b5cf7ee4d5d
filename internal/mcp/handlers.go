package mcp

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/charmbracelet/log"
	"github.com/mark3labs/mcp-go/mcp"

	"github.com/hpungsan/evlens/internal/capture"
	"github.com/hpungsan/evlens/internal/config"
	"github.com/hpungsan/evlens/internal/controller"
	"github.com/hpungsan/evlens/internal/document"
	"github.com/hpungsan/evlens/internal/errors"
	"github.com/hpungsan/evlens/internal/feedback"
	"github.com/hpungsan/evlens/internal/ledger"
	"github.com/hpungsan/evlens/internal/locate"
	"github.com/hpungsan/evlens/internal/logging"
	"github.com/hpungsan/evlens/internal/session"
)

// review_edit actions.
const (
	editEnter  = "enter"
	editExit   = "exit"
	editClick  = "click"
	editSelect = "select"
)

// Handlers holds dependencies for MCP tool handlers.
type Handlers struct {
	sessions *session.Manager
	cfg      *config.Config
	sink     ledger.Sink
	logger   *log.Logger
}

// NewHandlers creates a new Handlers instance.
func NewHandlers(sessions *session.Manager, cfg *config.Config, sink ledger.Sink, logger *log.Logger) *Handlers {
	return &Handlers{sessions: sessions, cfg: cfg, sink: sink, logger: logging.OrDiscard(logger)}
}

// Request types for each tool

// LoadRequest represents the arguments for review_load.
type LoadRequest struct {
	Document    string `json:"document"`
	Format      string `json:"format,omitempty"`
	IncludeHTML bool   `json:"include_html,omitempty"`
}

func (r *LoadRequest) validate() error { return required("document", r.Document) }

// SelectRequest represents the arguments for review_select.
type SelectRequest struct {
	SessionID    string `json:"session_id"`
	PredictionID string `json:"prediction_id,omitempty"`
	IncludeHTML  bool   `json:"include_html,omitempty"`
}

func (r *SelectRequest) validate() error { return required("session_id", r.SessionID) }

// EditRequest represents the arguments for review_edit.
type EditRequest struct {
	SessionID   string `json:"session_id"`
	Action      string `json:"action"`
	SpanID      string `json:"span_id,omitempty"`
	IncludeHTML bool   `json:"include_html,omitempty"`
}

func (r *EditRequest) validate() error {
	if err := required("session_id", r.SessionID); err != nil {
		return err
	}
	switch r.Action {
	case editEnter, editExit, editSelect:
		return nil
	case editClick:
		return required("span_id", r.SpanID)
	}
	return fmt.Errorf("action must be one of enter, exit, click, select (got %q)", r.Action)
}

// SelectionRequest represents the arguments for review_selection.
type SelectionRequest struct {
	SessionID string `json:"session_id"`
	Node      int    `json:"node"`
	Start     int    `json:"start"`
	End       int    `json:"end"`
	Text      string `json:"text"`
}

func (r *SelectionRequest) validate() error { return required("session_id", r.SessionID) }

// DragRequest represents the arguments for review_drag.
type DragRequest struct {
	SessionID string  `json:"session_id"`
	Handle    string  `json:"handle"`
	DxPixels  float64 `json:"dx_pixels"`
}

func (r *DragRequest) validate() error { return required("session_id", r.SessionID) }

// ApplyRequest represents the arguments for review_apply.
type ApplyRequest struct {
	SessionID string `json:"session_id"`
	Type      string `json:"type,omitempty"`
	Field     string `json:"field,omitempty"`
}

func (r *ApplyRequest) validate() error { return required("session_id", r.SessionID) }

// SessionRequest represents the arguments for tools that only address a session.
type SessionRequest struct {
	SessionID string `json:"session_id"`
}

func (r *SessionRequest) validate() error { return required("session_id", r.SessionID) }

// FeedbackRequest represents the arguments for review_feedback.
type FeedbackRequest struct {
	SessionID string `json:"session_id"`
	Field     string `json:"field,omitempty"`
	Value     string `json:"value,omitempty"`
}

func (r *FeedbackRequest) validate() error {
	if err := required("session_id", r.SessionID); err != nil {
		return err
	}
	if r.Field != "" {
		return required("value", r.Value)
	}
	return nil
}

// SubmitRequest represents the arguments for review_submit.
type SubmitRequest struct {
	SessionID string `json:"session_id"`
	Close     bool   `json:"close,omitempty"`
}

func (r *SubmitRequest) validate() error { return required("session_id", r.SessionID) }

// LocateRequest represents the arguments for evidence_locate.
type LocateRequest struct {
	SessionID    string                 `json:"session_id"`
	PredictionID string                 `json:"prediction_id,omitempty"`
	Span         *document.EvidenceSpan `json:"span,omitempty"`
}

func (r *LocateRequest) validate() error {
	if err := required("session_id", r.SessionID); err != nil {
		return err
	}
	if r.Span == nil && r.PredictionID == "" {
		return fmt.Errorf("span or prediction_id is required")
	}
	return nil
}

// Response types

// ViewOutput is the session view returned by the review tools.
type ViewOutput struct {
	SessionID string          `json:"session_id"`
	View      controller.View `json:"view"`
	BodyHTML  string          `json:"body_html,omitempty"`
	Warnings  []string        `json:"warnings,omitempty"`
}

// PendingOutput is returned by tools that propose a replacement.
type PendingOutput struct {
	SessionID string              `json:"session_id"`
	Pending   *controller.Pending `json:"pending"`
	State     controller.State    `json:"state"`
}

// FeedbackOutput lists the corrections recorded in a session.
type FeedbackOutput struct {
	SessionID string                               `json:"session_id"`
	Records   map[string]document.CorrectionRecord `json:"records"`
	Summary   string                               `json:"summary"`
}

// SubmitOutput reports a successful submit.
type SubmitOutput struct {
	SessionID string `json:"session_id"`
	Submitted int    `json:"submitted"`
	Closed    bool   `json:"closed,omitempty"`
}

// LocateOutput lists where each span landed.
type LocateOutput struct {
	SessionID string          `json:"session_id"`
	Reports   []locate.Report `json:"reports"`
}

// Handler implementations

// HandleLoad handles the review_load tool call.
func (h *Handlers) HandleLoad(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	input, err := decode[LoadRequest](req)
	if err != nil {
		return errorResult(errors.NewInvalidRequest(err.Error())), nil
	}

	a, warnings, err := document.LoadLimited([]byte(input.Document), input.Format, h.cfg.MaxDocumentBytes)
	if err != nil {
		return errorResult(err), nil
	}
	for _, w := range warnings {
		h.logger.Debug("document repaired", "note", w)
	}

	sess, err := h.sessions.Create(a)
	if err != nil {
		return errorResult(err), nil
	}
	return h.view(sess, input.IncludeHTML, warnings, nil)
}

// HandleSelect handles the review_select tool call.
func (h *Handlers) HandleSelect(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	input, err := decode[SelectRequest](req)
	if err != nil {
		return errorResult(errors.NewInvalidRequest(err.Error())), nil
	}
	return h.viewAfter(input.SessionID, input.IncludeHTML, func(c *controller.Controller) error {
		if input.PredictionID == "" {
			return c.Deselect()
		}
		return c.SelectPrediction(input.PredictionID)
	})
}

// HandleEdit handles the review_edit tool call.
func (h *Handlers) HandleEdit(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	input, err := decode[EditRequest](req)
	if err != nil {
		return errorResult(errors.NewInvalidRequest(err.Error())), nil
	}
	return h.viewAfter(input.SessionID, input.IncludeHTML, func(c *controller.Controller) error {
		switch input.Action {
		case editEnter:
			return c.EnterEdit()
		case editExit:
			return c.ExitEdit()
		case editClick:
			return c.ClickSpan(input.SpanID)
		default:
			return c.BeginSelecting()
		}
	})
}

// HandleSelection handles the review_selection tool call.
func (h *Handlers) HandleSelection(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	input, err := decode[SelectionRequest](req)
	if err != nil {
		return errorResult(errors.NewInvalidRequest(err.Error())), nil
	}
	return h.pendingAfter(input.SessionID, func(c *controller.Controller) (*controller.Pending, error) {
		return c.CaptureSelection(capture.SelectionEvent{
			Node:  input.Node,
			Start: input.Start,
			End:   input.End,
			Text:  input.Text,
		})
	})
}

// HandleDrag handles the review_drag tool call. The whole gesture (press,
// move, release) happens in one call.
func (h *Handlers) HandleDrag(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	input, err := decode[DragRequest](req)
	if err != nil {
		return errorResult(errors.NewInvalidRequest(err.Error())), nil
	}
	handle, err := capture.ParseHandle(input.Handle)
	if err != nil {
		return errorResult(err), nil
	}
	return h.pendingAfter(input.SessionID, func(c *controller.Controller) (*controller.Pending, error) {
		if err := c.BeginDrag(handle); err != nil {
			return nil, err
		}
		if _, err := c.MoveDrag(input.DxPixels); err != nil {
			return nil, err
		}
		return c.ReleaseDrag()
	})
}

// HandleApply handles the review_apply tool call.
func (h *Handlers) HandleApply(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	input, err := decode[ApplyRequest](req)
	if err != nil {
		return errorResult(errors.NewInvalidRequest(err.Error())), nil
	}
	return h.viewAfter(input.SessionID, false, func(c *controller.Controller) error {
		if input.Type != "" {
			if err := c.SetLabel(document.SpanType(input.Type), input.Field); err != nil {
				return err
			}
		}
		return c.Apply()
	})
}

// HandleCancel handles the review_cancel tool call.
func (h *Handlers) HandleCancel(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	input, err := decode[SessionRequest](req)
	if err != nil {
		return errorResult(errors.NewInvalidRequest(err.Error())), nil
	}
	return h.viewAfter(input.SessionID, false, func(c *controller.Controller) error {
		return c.Cancel()
	})
}

// HandleFeedback handles the review_feedback tool call.
func (h *Handlers) HandleFeedback(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	input, err := decode[FeedbackRequest](req)
	if err != nil {
		return errorResult(errors.NewInvalidRequest(err.Error())), nil
	}
	sess, err := h.sessions.Get(input.SessionID)
	if err != nil {
		return errorResult(err), nil
	}

	out := FeedbackOutput{SessionID: sess.ID}
	err = sess.Do(func(c *controller.Controller) error {
		if input.Field != "" {
			if err := c.CorrectField(input.Field, input.Value); err != nil {
				return err
			}
		}
		out.Records = c.Ledger().Records()
		out.Summary = feedback.Summary(out.Records, c.Analysis().Prediction)
		return nil
	})
	if err != nil {
		return errorResult(err), nil
	}
	return successResult(out)
}

// HandleSubmit handles the review_submit tool call.
func (h *Handlers) HandleSubmit(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	input, err := decode[SubmitRequest](req)
	if err != nil {
		return errorResult(errors.NewInvalidRequest(err.Error())), nil
	}
	sess, err := h.sessions.Get(input.SessionID)
	if err != nil {
		return errorResult(err), nil
	}

	out := SubmitOutput{SessionID: sess.ID}
	err = sess.Do(func(c *controller.Controller) error {
		out.Submitted = c.Ledger().Len()
		hdr := c.Analysis().Email.Header
		return c.Submit(ctx, feedback.Labeled(h.sink, hdr.From, hdr.Subject))
	})
	if err != nil {
		return errorResult(err), nil
	}
	if input.Close {
		if err := h.sessions.Delete(sess.ID); err != nil {
			return errorResult(err), nil
		}
		out.Closed = true
	}
	return successResult(out)
}

// HandleLocate handles the evidence_locate tool call.
func (h *Handlers) HandleLocate(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	input, err := decode[LocateRequest](req)
	if err != nil {
		return errorResult(errors.NewInvalidRequest(err.Error())), nil
	}
	sess, err := h.sessions.Get(input.SessionID)
	if err != nil {
		return errorResult(err), nil
	}

	out := LocateOutput{SessionID: sess.ID}
	err = sess.Do(func(c *controller.Controller) error {
		spans := []document.EvidenceSpan{}
		if input.Span != nil {
			spans = append(spans, *input.Span)
		} else {
			pred, ok := c.Analysis().Prediction(input.PredictionID)
			if !ok {
				return errors.NewNotFound("prediction", input.PredictionID)
			}
			spans = pred.EvidenceSpans
		}
		for _, span := range spans {
			r, err := c.Locate(span)
			if err != nil {
				return err
			}
			out.Reports = append(out.Reports, r)
		}
		return nil
	})
	if err != nil {
		return errorResult(err), nil
	}
	return successResult(out)
}

// Session helpers

// viewAfter runs fn on the session's controller and returns the resulting view.
func (h *Handlers) viewAfter(id string, includeHTML bool, fn func(c *controller.Controller) error) (*mcp.CallToolResult, error) {
	sess, err := h.sessions.Get(id)
	if err != nil {
		return errorResult(err), nil
	}
	return h.view(sess, includeHTML, nil, fn)
}

func (h *Handlers) view(sess *session.Session, includeHTML bool, warnings []string, fn func(c *controller.Controller) error) (*mcp.CallToolResult, error) {
	out := ViewOutput{SessionID: sess.ID, Warnings: warnings}
	err := sess.Do(func(c *controller.Controller) error {
		if fn != nil {
			if err := fn(c); err != nil {
				return err
			}
		}
		v, err := c.View()
		if err != nil {
			return err
		}
		out.View = v
		if includeHTML {
			out.BodyHTML = v.BodyHTML
		}
		return nil
	})
	if err != nil {
		return errorResult(err), nil
	}
	return successResult(out)
}

func (h *Handlers) pendingAfter(id string, fn func(c *controller.Controller) (*controller.Pending, error)) (*mcp.CallToolResult, error) {
	sess, err := h.sessions.Get(id)
	if err != nil {
		return errorResult(err), nil
	}
	out := PendingOutput{SessionID: sess.ID}
	err = sess.Do(func(c *controller.Controller) error {
		p, err := fn(c)
		if err != nil {
			return err
		}
		out.Pending = p
		out.State = c.State()
		return nil
	})
	if err != nil {
		return errorResult(err), nil
	}
	return successResult(out)
}

// Result helpers

// errorResult creates an MCP error result from any error.
// Uses IsError: true so MCP clients recognize failures properly.
// Internal error details are never exposed.
func errorResult(err error) *mcp.CallToolResult {
	var payload map[string]any

	if lErr, ok := errors.As(err); ok {
		msg := lErr.Message
		if err != error(lErr) {
			// keep the wrapper's context around the message
			msg = strings.Replace(err.Error(), lErr.Error(), lErr.Message, 1)
		}
		errorObj := map[string]any{
			"code":    lErr.Code,
			"message": msg,
			"status":  lErr.Status,
		}
		if lErr.Code != errors.ErrInternal && lErr.Details != nil {
			errorObj["details"] = lErr.Details
		}
		payload = map[string]any{"error": errorObj}
	} else {
		payload = map[string]any{
			"error": map[string]any{
				"code":    errors.ErrInternal,
				"message": "an internal error occurred",
				"status":  500,
			},
		}
	}

	content, _ := json.Marshal(payload)
	return &mcp.CallToolResult{
		Content: []mcp.Content{mcp.TextContent{Type: "text", Text: string(content)}},
		IsError: true,
	}
}

// successResult creates an MCP success result from any data.
func successResult(data any) (*mcp.CallToolResult, error) {
	return mcp.NewToolResultJSON(data)
}
