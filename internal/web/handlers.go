package web

import (
	"database/sql"
	stderrors "errors"
	"fmt"
	"html/template"
	"io"
	"net/http"
	"strconv"
	"strings"

	"github.com/charmbracelet/log"

	"github.com/hpungsan/evlens/internal/capture"
	"github.com/hpungsan/evlens/internal/config"
	"github.com/hpungsan/evlens/internal/controller"
	"github.com/hpungsan/evlens/internal/document"
	"github.com/hpungsan/evlens/internal/errors"
	"github.com/hpungsan/evlens/internal/feedback"
	"github.com/hpungsan/evlens/internal/ledger"
	"github.com/hpungsan/evlens/internal/session"
)

// Handlers contains HTTP route handlers for the web UI.
type Handlers struct {
	sessions *session.Manager
	cfg      *config.Config
	sink     ledger.Sink
	db       *sql.DB
	logger   *log.Logger
	renderer *Renderer
}

// IndexPageData is the template data for the upload page.
type IndexPageData struct {
	PageData
	MaxBytes int
}

// ReviewPageData is the template data for the review page.
type ReviewPageData struct {
	PageData
	SessionID string
	View      controller.View
	Body      template.HTML
	Selected  *controller.Card
}

// FeedbackPageData is the template data for a session's feedback summary.
type FeedbackPageData struct {
	PageData
	SessionID string
	Records   int
	Summary   template.HTML
}

// SubmissionsPageData is the template data for the stored submissions list.
type SubmissionsPageData struct {
	PageData
	Result *feedback.ListOutput
}

// SubmissionPageData is the template data for one stored submission.
type SubmissionPageData struct {
	PageData
	Submission *feedback.Submission
	Summary    template.HTML
}

// ViewResponse is the JSON form of a session view.
type ViewResponse struct {
	SessionID string          `json:"session_id"`
	View      controller.View `json:"view"`
	BodyHTML  string          `json:"body_html"`
}

// HandleIndex handles GET / (the upload form).
func (h *Handlers) HandleIndex(w http.ResponseWriter, r *http.Request) {
	h.renderer.renderPage(w, r, "index", IndexPageData{
		PageData: h.renderer.page("Review an email", "review"),
		MaxBytes: h.cfg.MaxDocumentBytes,
	})
}

// HandleCreate handles POST /sessions. It loads an analysis document into a new review session.
// The document comes from the "file" upload, the "document" form field, or a raw JSON/YAML body.
func (h *Handlers) HandleCreate(w http.ResponseWriter, r *http.Request) {
	data, format, err := h.readDocument(w, r)
	if err != nil {
		h.renderer.renderError(w, r, err)
		return
	}

	a, warnings, err := document.LoadLimited(data, format, h.cfg.MaxDocumentBytes)
	if err != nil {
		h.renderer.renderError(w, r, err)
		return
	}
	for _, note := range warnings {
		h.logger.Debug("document repaired", "note", note)
	}

	sess, err := h.sessions.Create(a)
	if err != nil {
		h.renderer.renderError(w, r, err)
		return
	}

	if wantsJSON(r) {
		renderJSON(w, http.StatusCreated, map[string]any{
			"session_id": sess.ID,
			"warnings":   warnings,
		})
		return
	}
	http.Redirect(w, r, "/sessions/"+sess.ID, http.StatusSeeOther)
}

func (h *Handlers) readDocument(w http.ResponseWriter, r *http.Request) ([]byte, string, error) {
	limit := int64(h.cfg.MaxDocumentBytes)
	if limit > 0 {
		// room for multipart framing; LoadLimited enforces the exact cap
		r.Body = http.MaxBytesReader(w, r.Body, limit+64<<10)
	}

	ct := r.Header.Get("Content-Type")
	switch {
	case strings.HasPrefix(ct, "multipart/form-data"):
		if err := r.ParseMultipartForm(1 << 20); err != nil {
			return nil, "", tooLargeOr(err, limit, "invalid form data")
		}
		if f, hdr, err := r.FormFile("file"); err == nil {
			defer f.Close()
			data, err := io.ReadAll(f)
			if err != nil {
				return nil, "", tooLargeOr(err, limit, "could not read upload")
			}
			return data, formatFromName(hdr.Filename, r.FormValue("format")), nil
		}
		return []byte(r.FormValue("document")), r.FormValue("format"), nil
	case strings.HasPrefix(ct, "application/x-www-form-urlencoded"):
		if err := r.ParseForm(); err != nil {
			return nil, "", tooLargeOr(err, limit, "invalid form data")
		}
		return []byte(r.FormValue("document")), r.FormValue("format"), nil
	}

	data, err := io.ReadAll(r.Body)
	if err != nil {
		return nil, "", tooLargeOr(err, limit, "could not read request body")
	}
	format := ""
	if strings.Contains(ct, "yaml") {
		format = "yaml"
	} else if strings.Contains(ct, "json") {
		format = "json"
	}
	return data, format, nil
}

func tooLargeOr(err error, limit int64, msg string) error {
	var mbErr *http.MaxBytesError
	if stderrors.As(err, &mbErr) {
		return errors.NewDocumentTooLarge(int(limit), int(mbErr.Limit))
	}
	return errors.NewInvalidRequest(msg)
}

func formatFromName(name, explicit string) string {
	if explicit != "" {
		return explicit
	}
	lower := strings.ToLower(name)
	switch {
	case strings.HasSuffix(lower, ".yaml"), strings.HasSuffix(lower, ".yml"):
		return "yaml"
	case strings.HasSuffix(lower, ".json"):
		return "json"
	}
	return ""
}

// HandleReview handles GET /sessions/{id} (the review page).
func (h *Handlers) HandleReview(w http.ResponseWriter, r *http.Request) {
	sess, err := h.sessions.Get(r.PathValue("id"))
	if err != nil {
		h.renderer.renderError(w, r, err)
		return
	}
	h.respondView(w, r, sess, http.StatusOK)
}

// HandleAction handles POST /sessions/{id}/{action} (one reviewer gesture).
func (h *Handlers) HandleAction(w http.ResponseWriter, r *http.Request) {
	sess, err := h.sessions.Get(r.PathValue("id"))
	if err != nil {
		h.renderer.renderError(w, r, err)
		return
	}
	if err := r.ParseForm(); err != nil {
		h.renderer.renderError(w, r, errors.NewInvalidRequest("invalid form data"))
		return
	}

	action := r.PathValue("action")
	if action == "submit" {
		h.handleSubmit(w, r, sess)
		return
	}
	if action == "drag" && r.FormValue("phase") == "move" {
		h.handleDragMove(w, r, sess)
		return
	}

	err = sess.Do(func(c *controller.Controller) error {
		return h.apply(c, action, r)
	})
	if err != nil {
		h.renderer.renderError(w, r, err)
		return
	}
	h.respondAfterAction(w, r, sess)
}

// apply runs one state-machine operation named by action.
func (h *Handlers) apply(c *controller.Controller, action string, r *http.Request) error {
	switch action {
	case "select":
		if id := r.FormValue("prediction_id"); id != "" {
			return c.SelectPrediction(id)
		}
		return c.Deselect()
	case "edit":
		return c.EnterEdit()
	case "exit-edit":
		return c.ExitEdit()
	case "click":
		return c.ClickSpan(r.FormValue("span_id"))
	case "selecting":
		return c.BeginSelecting()
	case "selection":
		ev, err := selectionEvent(r)
		if err != nil {
			return err
		}
		_, err = c.CaptureSelection(ev)
		return err
	case "drag":
		return dragPhase(c, r)
	case "label":
		return c.SetLabel(document.SpanType(r.FormValue("type")), r.FormValue("field"))
	case "apply":
		if t := r.FormValue("type"); t != "" {
			if err := c.SetLabel(document.SpanType(t), r.FormValue("field")); err != nil {
				return err
			}
		}
		return c.Apply()
	case "cancel":
		return c.Cancel()
	case "correct":
		return c.CorrectField(r.FormValue("field"), r.FormValue("value"))
	}
	return errors.NewNotFound("action", action)
}

func selectionEvent(r *http.Request) (capture.SelectionEvent, error) {
	node, err := formInt(r, "node")
	if err != nil {
		return capture.SelectionEvent{}, err
	}
	start, err := formInt(r, "start")
	if err != nil {
		return capture.SelectionEvent{}, err
	}
	end, err := formInt(r, "end")
	if err != nil {
		return capture.SelectionEvent{}, err
	}
	return capture.SelectionEvent{Node: node, Start: start, End: end, Text: r.FormValue("text")}, nil
}

// dragPhase handles begin and release; with no phase the whole gesture runs at once.
func dragPhase(c *controller.Controller, r *http.Request) error {
	switch r.FormValue("phase") {
	case "begin":
		handle, err := capture.ParseHandle(r.FormValue("handle"))
		if err != nil {
			return err
		}
		return c.BeginDrag(handle)
	case "release":
		if dx := r.FormValue("dx"); dx != "" {
			px, err := strconv.ParseFloat(dx, 64)
			if err != nil {
				return errors.NewInvalidRequest("dx must be a number")
			}
			if _, err := c.MoveDrag(px); err != nil {
				return err
			}
		}
		_, err := c.ReleaseDrag()
		return err
	case "":
		handle, err := capture.ParseHandle(r.FormValue("handle"))
		if err != nil {
			return err
		}
		px, err := strconv.ParseFloat(r.FormValue("dx"), 64)
		if err != nil {
			return errors.NewInvalidRequest("dx must be a number")
		}
		if err := c.BeginDrag(handle); err != nil {
			return err
		}
		if _, err := c.MoveDrag(px); err != nil {
			return err
		}
		_, err = c.ReleaseDrag()
		return err
	}
	return errors.NewInvalidRequest(fmt.Sprintf("unknown drag phase %q", r.FormValue("phase")))
}

// handleDragMove updates the drag preview. It answers with the preview text only,
// since the page is not re-rendered until release.
func (h *Handlers) handleDragMove(w http.ResponseWriter, r *http.Request, sess *session.Session) {
	px, err := strconv.ParseFloat(r.FormValue("dx"), 64)
	if err != nil {
		h.renderer.renderError(w, r, errors.NewInvalidRequest("dx must be a number"))
		return
	}
	var preview string
	err = sess.Do(func(c *controller.Controller) error {
		var err error
		preview, err = c.MoveDrag(px)
		return err
	})
	if err != nil {
		h.renderer.renderError(w, r, err)
		return
	}
	renderJSON(w, http.StatusOK, map[string]any{"preview": preview})
}

func (h *Handlers) handleSubmit(w http.ResponseWriter, r *http.Request, sess *session.Session) {
	var submitted int
	err := sess.Do(func(c *controller.Controller) error {
		submitted = c.Ledger().Len()
		hdr := c.Analysis().Email.Header
		return c.Submit(r.Context(), feedback.Labeled(h.sink, hdr.From, hdr.Subject))
	})
	if err != nil {
		h.renderer.renderError(w, r, err)
		return
	}
	if wantsJSON(r) && !isFragment(r) {
		renderJSON(w, http.StatusOK, map[string]any{"session_id": sess.ID, "submitted": submitted})
		return
	}
	h.respondAfterAction(w, r, sess)
}

// respondAfterAction answers a gesture: the re-rendered review for fragment
// requests, the view as JSON, or a redirect back to the page.
func (h *Handlers) respondAfterAction(w http.ResponseWriter, r *http.Request, sess *session.Session) {
	if isFragment(r) || wantsJSON(r) {
		h.respondView(w, r, sess, http.StatusOK)
		return
	}
	http.Redirect(w, r, "/sessions/"+sess.ID, http.StatusSeeOther)
}

func (h *Handlers) respondView(w http.ResponseWriter, r *http.Request, sess *session.Session, status int) {
	var v controller.View
	err := sess.Do(func(c *controller.Controller) error {
		var err error
		v, err = c.View()
		return err
	})
	if err != nil {
		h.renderer.renderError(w, r, err)
		return
	}

	if wantsJSON(r) && !isFragment(r) {
		renderJSON(w, status, ViewResponse{SessionID: sess.ID, View: v, BodyHTML: v.BodyHTML})
		return
	}

	data := ReviewPageData{
		PageData:  h.renderer.page(reviewTitle(v), "review"),
		SessionID: sess.ID,
		View:      v,
		// the body was sanitized on load and re-serialized by the overlay renderer
		Body: template.HTML(v.BodyHTML),
	}
	for i := range v.Cards {
		if v.Cards[i].Selected {
			data.Selected = &v.Cards[i]
		}
	}
	h.renderer.renderPageStatus(w, r, status, "review", data)
}

func reviewTitle(v controller.View) string {
	if v.Header.Subject != "" {
		return v.Header.Subject
	}
	return document.FallbackSubject
}

// HandleFeedback handles GET /sessions/{id}/feedback (the corrections recorded so far).
func (h *Handlers) HandleFeedback(w http.ResponseWriter, r *http.Request) {
	sess, err := h.sessions.Get(r.PathValue("id"))
	if err != nil {
		h.renderer.renderError(w, r, err)
		return
	}

	var (
		records map[string]document.CorrectionRecord
		summary string
	)
	_ = sess.Do(func(c *controller.Controller) error {
		records = c.Ledger().Records()
		summary = feedback.Summary(records, c.Analysis().Prediction)
		return nil
	})

	if wantsJSON(r) {
		renderJSON(w, http.StatusOK, map[string]any{
			"session_id": sess.ID,
			"records":    records,
			"summary":    summary,
		})
		return
	}
	h.renderer.renderPage(w, r, "feedback", FeedbackPageData{
		PageData:  h.renderer.page("Feedback", "review"),
		SessionID: sess.ID,
		Records:   len(records),
		Summary:   h.renderer.renderMarkdown(summary),
	})
}

// HandleClose handles DELETE /sessions/{id}. Unsubmitted corrections are dropped.
func (h *Handlers) HandleClose(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if err := h.sessions.Delete(id); err != nil {
		h.renderer.renderError(w, r, err)
		return
	}
	if isFragment(r) {
		w.Header().Set("HX-Redirect", "/")
		w.WriteHeader(http.StatusOK)
		return
	}
	if wantsJSON(r) {
		renderJSON(w, http.StatusOK, map[string]any{"closed": true, "session_id": id})
		return
	}
	http.Redirect(w, r, "/", http.StatusSeeOther)
}

// HandleSubmissions handles GET /submissions (stored feedback, newest first).
func (h *Handlers) HandleSubmissions(w http.ResponseWriter, r *http.Request) {
	if h.db == nil {
		h.renderer.renderError(w, r, errors.NewNotFound("page", "submissions"))
		return
	}
	result, err := feedback.List(r.Context(), h.db, feedback.ListInput{
		Limit:  parseIntParam(r, "limit", feedback.DefaultListLimit),
		Offset: parseIntParam(r, "offset", 0),
	})
	if err != nil {
		h.renderer.renderError(w, r, err)
		return
	}
	if wantsJSON(r) {
		renderJSON(w, http.StatusOK, result)
		return
	}
	h.renderer.renderPage(w, r, "submissions", SubmissionsPageData{
		PageData: h.renderer.page("Submissions", "submissions"),
		Result:   result,
	})
}

// HandleSubmission handles GET /submissions/{id} (one stored submission).
func (h *Handlers) HandleSubmission(w http.ResponseWriter, r *http.Request) {
	if h.db == nil {
		h.renderer.renderError(w, r, errors.NewNotFound("page", "submissions"))
		return
	}
	sub, err := feedback.Get(r.Context(), h.db, r.PathValue("id"))
	if err != nil {
		h.renderer.renderError(w, r, err)
		return
	}
	if wantsJSON(r) {
		renderJSON(w, http.StatusOK, sub)
		return
	}
	h.renderer.renderPage(w, r, "submission", SubmissionPageData{
		PageData:   h.renderer.page("Submission "+sub.ID, "submissions"),
		Submission: sub,
		Summary:    h.renderer.renderMarkdown(feedback.Summary(sub.Records, nil)),
	})
}

// parseIntParam parses an integer query parameter with a default value.
func parseIntParam(r *http.Request, name string, defaultVal int) int {
	s := r.URL.Query().Get(name)
	if s == "" {
		return defaultVal
	}
	v, err := strconv.Atoi(s)
	if err != nil {
		return defaultVal
	}
	return v
}

// formInt parses a required integer form value.
func formInt(r *http.Request, name string) (int, error) {
	v, err := strconv.Atoi(strings.TrimSpace(r.FormValue(name)))
	if err != nil {
		return 0, errors.NewInvalidRequest(fmt.Sprintf("%s must be an integer", name))
	}
	return v, nil
}
