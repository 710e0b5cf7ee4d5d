package web

import (
	"bytes"
	"database/sql"
	"encoding/json"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"

	"github.com/hpungsan/evlens/internal/config"
	"github.com/hpungsan/evlens/internal/controller"
	"github.com/hpungsan/evlens/internal/db"
	"github.com/hpungsan/evlens/internal/feedback"
	"github.com/hpungsan/evlens/internal/session"
)

// "please provide an update" sits at characters 13..37.
const analysisJSON = `{
  "email": {
    "header": {"from": "ops@example.com", "to": "team@example.com", "subject": "Order 42"},
    "body": {"content": "Hi team, can please provide an update on the order?", "document_type": "text"}
  },
  "intent_parser_result": {
    "predictions": [
      {
        "id": "p1",
        "intent": "request_update",
        "action": "reply",
        "artefact": {"type": "order"},
        "evidenceSpans": [
          {"start": 13, "end": 37, "text": "please provide an update", "type": "intent"}
        ]
      },
      {"id": "p2", "intent": "other", "action": "none", "artefact": {"type": "none"}}
    ]
  }
}`

type testEnv struct {
	handler  http.Handler
	db       *sql.DB
	sessions *session.Manager
	cfg      *config.Config
}

func setupTest(t *testing.T) *testEnv {
	t.Helper()
	database, err := db.Init(t.TempDir())
	if err != nil {
		t.Fatalf("db.Init: %v", err)
	}
	t.Cleanup(func() { database.Close() })

	cfg := config.DefaultConfig()
	sessions := session.NewManager(controller.Options{CharWidthPx: cfg.CharWidthPx}, 0, nil)
	t.Cleanup(sessions.Close)

	handler, err := NewHandler(Deps{
		Sessions: sessions,
		Config:   cfg,
		Sink:     feedback.NewSQLiteSink(database, nil),
		DB:       database,
	}, "test")
	if err != nil {
		t.Fatalf("NewHandler: %v", err)
	}
	return &testEnv{handler: handler, db: database, sessions: sessions, cfg: cfg}
}

func (e *testEnv) do(req *http.Request) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	e.handler.ServeHTTP(rec, req)
	return rec
}

// createSession posts analysisJSON and returns the new session id.
func (e *testEnv) createSession(t *testing.T) string {
	t.Helper()
	req := httptest.NewRequest("POST", "/sessions", strings.NewReader(analysisJSON))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	rec := e.do(req)
	if rec.Code != http.StatusCreated {
		t.Fatalf("create: status = %d, body = %s", rec.Code, rec.Body.String())
	}
	var out struct {
		SessionID string `json:"session_id"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &out); err != nil {
		t.Fatalf("decode create response: %v", err)
	}
	if out.SessionID == "" {
		t.Fatal("create returned no session_id")
	}
	return out.SessionID
}

// act posts a form action and returns the response. accept picks the answer form.
func (e *testEnv) act(id, action string, form url.Values, accept string) *httptest.ResponseRecorder {
	req := httptest.NewRequest("POST", "/sessions/"+id+"/"+action, strings.NewReader(form.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	switch accept {
	case "json":
		req.Header.Set("Accept", "application/json")
	case "fragment":
		req.Header.Set(fragmentHeader, "true")
	}
	return e.do(req)
}

// actJSON runs an action that must succeed and decodes the view it returns.
func (e *testEnv) actJSON(t *testing.T, id, action string, form url.Values) ViewResponse {
	t.Helper()
	rec := e.act(id, action, form, "json")
	if rec.Code != http.StatusOK {
		t.Fatalf("%s: status = %d, body = %s", action, rec.Code, rec.Body.String())
	}
	var out ViewResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &out); err != nil {
		t.Fatalf("%s: decode: %v", action, err)
	}
	return out
}

func errorCode(t *testing.T, rec *httptest.ResponseRecorder) string {
	t.Helper()
	var out struct {
		Error struct {
			Code string `json:"code"`
		} `json:"error"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &out); err != nil {
		t.Fatalf("decode error body %q: %v", rec.Body.String(), err)
	}
	return out.Error.Code
}

// --- HandleIndex ---

func TestHandleIndex(t *testing.T) {
	e := setupTest(t)

	rec := e.do(httptest.NewRequest("GET", "/", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	body := rec.Body.String()
	if !strings.Contains(body, "<!DOCTYPE html>") {
		t.Error("expected full layout")
	}
	if !strings.Contains(body, `action="/sessions"`) {
		t.Error("expected upload form")
	}
}

func TestSecurityHeaders(t *testing.T) {
	e := setupTest(t)

	rec := e.do(httptest.NewRequest("GET", "/", nil))
	if csp := rec.Header().Get("Content-Security-Policy"); !strings.Contains(csp, "script-src 'self'") {
		t.Errorf("Content-Security-Policy = %q", csp)
	}
	if got := rec.Header().Get("X-Frame-Options"); got != "DENY" {
		t.Errorf("X-Frame-Options = %q, want DENY", got)
	}
	if got := rec.Header().Get("X-Content-Type-Options"); got != "nosniff" {
		t.Errorf("X-Content-Type-Options = %q, want nosniff", got)
	}
}

func TestStaticAssets(t *testing.T) {
	e := setupTest(t)

	rec := e.do(httptest.NewRequest("GET", "/evidence.css", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("evidence.css: status = %d", rec.Code)
	}
	if ct := rec.Header().Get("Content-Type"); !strings.HasPrefix(ct, "text/css") {
		t.Errorf("Content-Type = %q", ct)
	}
	if !strings.Contains(rec.Body.String(), "mark.evlens-intent") {
		t.Error("expected per-type highlight rules")
	}

	for _, path := range []string{"/static/app.js", "/static/evlens.css"} {
		if rec := e.do(httptest.NewRequest("GET", path, nil)); rec.Code != http.StatusOK {
			t.Errorf("%s: status = %d", path, rec.Code)
		}
	}
}

func TestStaticAppJS_DragListenersScopedToGesture(t *testing.T) {
	e := setupTest(t)

	rec := e.do(httptest.NewRequest("GET", "/static/app.js", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	js := rec.Body.String()

	// move/up listeners are attached on pointerdown and detached on release
	down := strings.Index(js, `addEventListener("pointerdown"`)
	if down < 0 {
		t.Fatal("missing pointerdown handler")
	}
	for _, want := range []string{
		`document.addEventListener("pointermove", onDragMove)`,
		`document.addEventListener("pointerup", onDragEnd)`,
	} {
		if i := strings.Index(js, want); i < down {
			t.Errorf("%s should only be registered inside the pointerdown handler", want)
		}
	}
	for _, want := range []string{
		`document.removeEventListener("pointermove", onDragMove)`,
		`document.removeEventListener("pointerup", onDragEnd)`,
	} {
		if !strings.Contains(js, want) {
			t.Errorf("missing %s", want)
		}
	}
	if !strings.Contains(js, `if (ok) action("drag", { phase: "release", dx: dx })`) {
		t.Error("release should wait for a successful begin")
	}
}

// A release that reaches the server before any begin is rejected, so the
// client must order the two.
func TestHandleDrag_ReleaseWithoutBegin(t *testing.T) {
	e := setupTest(t)
	id := e.createSession(t)
	e.act(id, "select", url.Values{"prediction_id": {"p1"}}, "json")
	e.act(id, "edit", nil, "json")

	rec := e.act(id, "drag", url.Values{"phase": {"release"}, "dx": {"24"}}, "json")
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", rec.Code)
	}
	if code := errorCode(t, rec); code != "INVALID_REQUEST" {
		t.Errorf("code = %q", code)
	}
}

// --- HandleCreate ---

func TestHandleCreate_FormRedirects(t *testing.T) {
	e := setupTest(t)

	form := url.Values{"document": {analysisJSON}}
	req := httptest.NewRequest("POST", "/sessions", strings.NewReader(form.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	rec := e.do(req)

	if rec.Code != http.StatusSeeOther {
		t.Fatalf("status = %d, want 303", rec.Code)
	}
	loc := rec.Header().Get("Location")
	if !strings.HasPrefix(loc, "/sessions/") {
		t.Fatalf("Location = %q", loc)
	}
	if e.sessions.Len() != 1 {
		t.Errorf("sessions = %d, want 1", e.sessions.Len())
	}
}

func TestHandleCreate_MultipartUpload(t *testing.T) {
	e := setupTest(t)

	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	fw, err := mw.CreateFormFile("file", "analysis.yaml")
	if err != nil {
		t.Fatal(err)
	}
	yamlDoc := `email:
  header: {from: a@example.com, subject: Hello}
  body: {content: "Hello there", document_type: text}
intent_parser_result:
  predictions:
    - id: p1
      intent: greeting
      action: none
      artefact: {type: none}
`
	if _, err := fw.Write([]byte(yamlDoc)); err != nil {
		t.Fatal(err)
	}
	mw.Close()

	req := httptest.NewRequest("POST", "/sessions", &buf)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	req.Header.Set("Accept", "application/json")
	rec := e.do(req)

	if rec.Code != http.StatusCreated {
		t.Fatalf("status = %d, body = %s", rec.Code, rec.Body.String())
	}
}

func TestHandleCreate_Errors(t *testing.T) {
	tests := []struct {
		name     string
		body     string
		maxBytes int
		status   int
		code     string
	}{
		{"malformed", "{not json", 0, http.StatusUnprocessableEntity, "MALFORMED_DOCUMENT"},
		{"empty", "", 0, http.StatusUnprocessableEntity, "MALFORMED_DOCUMENT"},
		{"too large", analysisJSON, 100, http.StatusRequestEntityTooLarge, "DOCUMENT_TOO_LARGE"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e := setupTest(t)
			if tt.maxBytes > 0 {
				e.cfg.MaxDocumentBytes = tt.maxBytes
			}

			req := httptest.NewRequest("POST", "/sessions", strings.NewReader(tt.body))
			req.Header.Set("Content-Type", "application/json")
			req.Header.Set("Accept", "application/json")
			rec := e.do(req)

			if rec.Code != tt.status {
				t.Fatalf("status = %d, want %d (body %s)", rec.Code, tt.status, rec.Body.String())
			}
			if got := errorCode(t, rec); got != tt.code {
				t.Errorf("code = %q, want %q", got, tt.code)
			}
			if e.sessions.Len() != 0 {
				t.Errorf("sessions = %d, want 0", e.sessions.Len())
			}
		})
	}
}

// --- HandleReview ---

func TestHandleReview(t *testing.T) {
	e := setupTest(t)
	id := e.createSession(t)

	rec := e.do(httptest.NewRequest("GET", "/sessions/"+id, nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	body := rec.Body.String()
	for _, want := range []string{"Order 42", "request_update", `data-state="viewing"`, "data-evlens-root"} {
		if !strings.Contains(body, want) {
			t.Errorf("expected %q in review page", want)
		}
	}
	if strings.Contains(body, "<mark") {
		t.Error("no highlights expected before a prediction is selected")
	}
}

func TestHandleReview_UnknownSession(t *testing.T) {
	e := setupTest(t)

	rec := e.do(httptest.NewRequest("GET", "/sessions/nope", nil))
	if rec.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), "Error 404") {
		t.Error("expected the error page")
	}
}

// --- HandleAction ---

func TestHandleAction_SelectHighlights(t *testing.T) {
	e := setupTest(t)
	id := e.createSession(t)

	out := e.actJSON(t, id, "select", url.Values{"prediction_id": {"p1"}})
	if out.View.State != controller.Selected {
		t.Errorf("state = %q, want selected", out.View.State)
	}
	if !strings.Contains(out.BodyHTML, `data-evlens-span="p1:0"`) {
		t.Errorf("body missing highlight: %s", out.BodyHTML)
	}
	if !strings.Contains(out.BodyHTML, ">please provide an update</mark>") {
		t.Errorf("highlight does not wrap the evidence text: %s", out.BodyHTML)
	}

	// an empty id deselects
	out = e.actJSON(t, id, "select", url.Values{"prediction_id": {""}})
	if out.View.State != controller.Viewing {
		t.Errorf("state = %q, want viewing", out.View.State)
	}
}

func TestHandleAction_ResponseForms(t *testing.T) {
	e := setupTest(t)
	id := e.createSession(t)
	form := url.Values{"prediction_id": {"p1"}}

	rec := e.act(id, "select", form, "")
	if rec.Code != http.StatusSeeOther || rec.Header().Get("Location") != "/sessions/"+id {
		t.Errorf("plain form: status = %d, Location = %q", rec.Code, rec.Header().Get("Location"))
	}

	rec = e.act(id, "select", form, "fragment")
	if rec.Code != http.StatusOK {
		t.Fatalf("fragment: status = %d", rec.Code)
	}
	body := rec.Body.String()
	if strings.Contains(body, "<!DOCTYPE html>") {
		t.Error("fragment response should not contain full layout")
	}
	if !strings.Contains(body, `id="review"`) {
		t.Error("fragment response should contain the review block")
	}
}

func TestHandleAction_Errors(t *testing.T) {
	e := setupTest(t)
	id := e.createSession(t)

	rec := e.act(id, "edit", nil, "json")
	if rec.Code != http.StatusConflict || errorCode(t, rec) != "INVALID_STATE" {
		t.Errorf("edit while viewing: status = %d, body = %s", rec.Code, rec.Body.String())
	}

	rec = e.act(id, "frobnicate", nil, "json")
	if rec.Code != http.StatusNotFound {
		t.Errorf("unknown action: status = %d, want 404", rec.Code)
	}

	rec = e.act(id, "select", url.Values{"prediction_id": {"p9"}}, "json")
	if rec.Code != http.StatusNotFound {
		t.Errorf("unknown prediction: status = %d, want 404", rec.Code)
	}

	rec = e.act(id, "select", url.Values{"prediction_id": {"p9"}}, "fragment")
	if !strings.Contains(rec.Body.String(), `class="error-message"`) {
		t.Errorf("fragment error should be an inline message: %s", rec.Body.String())
	}

	rec = e.act("missing", "select", url.Values{"prediction_id": {"p1"}}, "json")
	if rec.Code != http.StatusNotFound {
		t.Errorf("unknown session: status = %d, want 404", rec.Code)
	}
}

func TestReviewFlow_DragApplySubmit(t *testing.T) {
	e := setupTest(t)
	id := e.createSession(t)

	e.actJSON(t, id, "select", url.Values{"prediction_id": {"p1"}})
	e.actJSON(t, id, "edit", nil)
	out := e.actJSON(t, id, "click", url.Values{"span_id": {"p1:0"}})
	if out.View.Active == nil || out.View.Active.ID != "p1:0" {
		t.Fatalf("active = %+v, want p1:0", out.View.Active)
	}
	if !strings.Contains(out.BodyHTML, `data-evlens-handle="end"`) {
		t.Error("active highlight should carry drag handles")
	}

	e.actJSON(t, id, "drag", url.Values{"phase": {"begin"}, "handle": {"end"}})

	// 24px at 8px per character moves the end handle three characters right
	rec := e.act(id, "drag", url.Values{"phase": {"move"}, "dx": {"24"}}, "json")
	if rec.Code != http.StatusOK {
		t.Fatalf("move: status = %d, body = %s", rec.Code, rec.Body.String())
	}
	var preview struct {
		Preview string `json:"preview"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &preview); err != nil {
		t.Fatal(err)
	}
	if preview.Preview != "please provide an update on" {
		t.Errorf("preview = %q", preview.Preview)
	}

	out = e.actJSON(t, id, "drag", url.Values{"phase": {"release"}})
	if out.View.Pending == nil {
		t.Fatal("expected a pending candidate after release")
	}
	if s := out.View.Pending.Span; s.Start != 13 || s.End != 40 {
		t.Errorf("pending = %d..%d, want 13..40", s.Start, s.End)
	}

	out = e.actJSON(t, id, "apply", nil)
	if out.View.State != controller.Selected || out.View.LedgerSize != 1 || !out.View.CanSubmit {
		t.Errorf("after apply: state=%q ledger=%d can_submit=%v", out.View.State, out.View.LedgerSize, out.View.CanSubmit)
	}

	// feedback page renders the markdown summary
	rec = e.do(httptest.NewRequest("GET", "/sessions/"+id+"/feedback", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("feedback: status = %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), "<h1>Feedback summary</h1>") {
		t.Error("expected rendered summary heading")
	}

	rec = e.act(id, "submit", nil, "json")
	if rec.Code != http.StatusOK {
		t.Fatalf("submit: status = %d, body = %s", rec.Code, rec.Body.String())
	}

	list, err := feedback.List(t.Context(), e.db, feedback.ListInput{})
	if err != nil {
		t.Fatal(err)
	}
	if list.Pagination.Total != 1 {
		t.Fatalf("stored submissions = %d, want 1", list.Pagination.Total)
	}
	sub := list.Items[0]
	if sub.Subject == nil || *sub.Subject != "Order 42" {
		t.Errorf("subject = %v, want Order 42", sub.Subject)
	}

	// the ledger is empty after submitting
	rec = e.act(id, "submit", nil, "json")
	if rec.Code != http.StatusBadRequest {
		t.Errorf("second submit: status = %d, want 400", rec.Code)
	}

	// stored submissions are browsable
	rec = e.do(httptest.NewRequest("GET", "/submissions", nil))
	if rec.Code != http.StatusOK || !strings.Contains(rec.Body.String(), "/submissions/"+sub.ID) {
		t.Errorf("submissions list: status = %d", rec.Code)
	}
	rec = e.do(httptest.NewRequest("GET", "/submissions/"+sub.ID, nil))
	if rec.Code != http.StatusOK || !strings.Contains(rec.Body.String(), "please provide an update on") {
		t.Errorf("submission page: status = %d", rec.Code)
	}
}

func TestReviewFlow_NetNewSelection(t *testing.T) {
	e := setupTest(t)
	id := e.createSession(t)

	e.actJSON(t, id, "select", url.Values{"prediction_id": {"p2"}})
	e.actJSON(t, id, "edit", nil)
	out := e.actJSON(t, id, "selecting", nil)
	if out.View.State != controller.Selecting {
		t.Fatalf("state = %q, want selecting", out.View.State)
	}

	out = e.actJSON(t, id, "selection", url.Values{
		"node": {"-1"}, "start": {"45"}, "end": {"50"}, "text": {"order"},
	})
	if out.View.Pending == nil || out.View.Pending.Span.Text != "order" {
		t.Fatalf("pending = %+v", out.View.Pending)
	}

	out = e.actJSON(t, id, "apply", url.Values{"type": {"artefact_detail"}, "field": {"subject"}})
	if out.View.LedgerSize != 1 {
		t.Errorf("ledger = %d, want 1", out.View.LedgerSize)
	}
	if !strings.Contains(out.BodyHTML, `data-evlens-field="subject"`) {
		t.Errorf("net-new span not highlighted: %s", out.BodyHTML)
	}
}

func TestHandleAction_SelectionValidation(t *testing.T) {
	e := setupTest(t)
	id := e.createSession(t)
	e.actJSON(t, id, "select", url.Values{"prediction_id": {"p1"}})
	e.actJSON(t, id, "edit", nil)
	e.actJSON(t, id, "selecting", nil)

	rec := e.act(id, "selection", url.Values{"node": {"x"}, "start": {"0"}, "end": {"1"}}, "json")
	if rec.Code != http.StatusBadRequest {
		t.Errorf("bad node: status = %d, want 400", rec.Code)
	}
	rec = e.act(id, "drag", url.Values{"handle": {"middle"}, "dx": {"8"}}, "json")
	if rec.Code != http.StatusBadRequest && rec.Code != http.StatusConflict {
		t.Errorf("bad handle: status = %d", rec.Code)
	}
}

func TestHandleAction_CorrectField(t *testing.T) {
	e := setupTest(t)
	id := e.createSession(t)
	e.actJSON(t, id, "select", url.Values{"prediction_id": {"p1"}})

	out := e.actJSON(t, id, "correct", url.Values{"field": {"intent"}, "value": {"complaint"}})
	if out.View.LedgerSize != 1 {
		t.Errorf("ledger = %d, want 1", out.View.LedgerSize)
	}

	rec := e.act(id, "correct", url.Values{"field": {"subject"}, "value": {"x"}}, "json")
	if rec.Code != http.StatusBadRequest {
		t.Errorf("unknown field: status = %d, want 400", rec.Code)
	}
}

// --- HandleFeedback ---

func TestHandleFeedback_JSON(t *testing.T) {
	e := setupTest(t)
	id := e.createSession(t)

	req := httptest.NewRequest("GET", "/sessions/"+id+"/feedback", nil)
	req.Header.Set("Accept", "application/json")
	rec := e.do(req)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	var out struct {
		Records map[string]any `json:"records"`
		Summary string         `json:"summary"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &out); err != nil {
		t.Fatal(err)
	}
	if len(out.Records) != 0 {
		t.Errorf("records = %v, want none", out.Records)
	}
	if !strings.HasPrefix(out.Summary, "# Feedback summary") {
		t.Errorf("summary = %q", out.Summary)
	}
}

// --- HandleClose ---

func TestHandleClose(t *testing.T) {
	e := setupTest(t)
	id := e.createSession(t)

	req := httptest.NewRequest("DELETE", "/sessions/"+id, nil)
	req.Header.Set(fragmentHeader, "true")
	rec := e.do(req)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	if got := rec.Header().Get("HX-Redirect"); got != "/" {
		t.Errorf("HX-Redirect = %q, want /", got)
	}
	if e.sessions.Len() != 0 {
		t.Errorf("sessions = %d, want 0", e.sessions.Len())
	}

	rec = e.do(httptest.NewRequest("DELETE", "/sessions/"+id, nil))
	if rec.Code != http.StatusNotFound {
		t.Errorf("second close: status = %d, want 404", rec.Code)
	}
}

// --- HandleSubmissions ---

func TestHandleSubmissions_Empty(t *testing.T) {
	e := setupTest(t)

	rec := e.do(httptest.NewRequest("GET", "/submissions?limit=bad", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), "No feedback has been submitted yet") {
		t.Error("expected empty state message")
	}
}

func TestHandleSubmissions_NoDatabase(t *testing.T) {
	cfg := config.DefaultConfig()
	sessions := session.NewManager(controller.Options{CharWidthPx: cfg.CharWidthPx}, 0, nil)
	t.Cleanup(sessions.Close)
	handler, err := NewHandler(Deps{Sessions: sessions, Config: cfg}, "test")
	if err != nil {
		t.Fatal(err)
	}

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest("GET", "/submissions", nil))
	if rec.Code != http.StatusNotFound {
		t.Errorf("status = %d, want 404", rec.Code)
	}
}

func TestHandleSubmission_NotFound(t *testing.T) {
	e := setupTest(t)

	req := httptest.NewRequest("GET", "/submissions/nope", nil)
	req.Header.Set("Accept", "application/json")
	rec := e.do(req)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", rec.Code)
	}
	if got := errorCode(t, rec); got != "NOT_FOUND" {
		t.Errorf("code = %q", got)
	}
}
