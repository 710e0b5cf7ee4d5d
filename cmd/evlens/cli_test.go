package main

import (
	"bytes"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/hpungsan/evlens/internal/config"
	"github.com/hpungsan/evlens/internal/controller"
	"github.com/hpungsan/evlens/internal/db"
	"github.com/hpungsan/evlens/internal/document"
	"github.com/hpungsan/evlens/internal/feedback"
	"github.com/hpungsan/evlens/internal/locate"
)

// "please provide an update" sits at characters 13..37.
const plainAnalysis = `{
  "email": {
    "header": {"from": "ops@example.com", "subject": "Order 42"},
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
          {"start": 13, "end": 37, "text": "please provide an update", "type": "intent"},
          {"start": 90, "end": 95, "text": "refund", "type": "action"}
        ]
      }
    ]
  }
}`

const htmlAnalysis = `email:
  header: {from: billing@example.com, subject: Invoice}
  body:
    document_type: html
    content: "<table><tr><td>Invoice</td><td>INV-7</td></tr></table>"
intent_parser_result:
  predictions:
    - id: p1
      intent: invoice
      action: file
      artefact: {type: invoice}
      evidenceSpans:
        - {xpath: "/html/body/table/tr[1]/td[2]", relativeStart: 0, relativeEnd: 5, text: INV-7, type: artefact_detail, field: invoice_number}
`

// setupTestEnv creates a temporary database and CLI environment for testing.
func setupTestEnv(t *testing.T) *cliEnv {
	t.Helper()
	tmpDir := t.TempDir()
	database, err := db.Init(tmpDir)
	if err != nil {
		t.Fatalf("failed to init test db: %v", err)
	}
	t.Cleanup(func() { database.Close() })
	return &cliEnv{
		db:         database,
		cfg:        config.DefaultConfig(),
		exportsDir: filepath.Join(tmpDir, "exports"),
	}
}

// writeDoc writes content to a temp file with the given name.
func writeDoc(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte(content), 0600); err != nil {
		t.Fatalf("write %s: %v", name, err)
	}
	return path
}

// run executes the CLI with args and returns what it printed.
func run(t *testing.T, env *cliEnv, args ...string) (string, error) {
	t.Helper()
	app := newCLIApp(env)
	var out bytes.Buffer
	app.Writer = &out
	err := app.Run(append([]string{"evlens"}, args...))
	return out.String(), err
}

func TestCLICommandsAreRouted(t *testing.T) {
	for _, cmd := range newCLIApp(nil).Commands {
		if !cliCommands[cmd.Name] {
			t.Errorf("command %q is not in cliCommands; it would start the MCP server", cmd.Name)
		}
	}
}

func TestFormatFor(t *testing.T) {
	tests := []struct {
		path, explicit, expected string
	}{
		{"a.json", "", "json"},
		{"a.YAML", "", "yaml"},
		{"a.yml", "", "yaml"},
		{"a.txt", "", ""},
		{"-", "", ""},
		{"a.json", "yaml", "yaml"},
	}
	for _, tt := range tests {
		if got := formatFor(tt.path, tt.explicit); got != tt.expected {
			t.Errorf("formatFor(%q, %q) = %q, want %q", tt.path, tt.explicit, got, tt.expected)
		}
	}
}

// TestCLIInspect tests the inspect command.
func TestCLIInspect(t *testing.T) {
	env := setupTestEnv(t)
	path := writeDoc(t, "analysis.json", plainAnalysis)

	out, err := run(t, env, "inspect", path)
	if err != nil {
		t.Fatalf("inspect failed: %v", err)
	}

	var result inspectOutput
	if err := json.Unmarshal([]byte(out), &result); err != nil {
		t.Fatalf("failed to parse output: %v\n%s", err, out)
	}
	if result.ContentType != string(document.ContentPlain) {
		t.Errorf("content_type = %q, want plain", result.ContentType)
	}
	if len(result.Predictions) != 1 {
		t.Fatalf("predictions = %d, want 1", len(result.Predictions))
	}
	p := result.Predictions[0]
	if p.Resolved != 1 || len(p.Spans) != 2 {
		t.Errorf("resolved %d of %d spans, want 1 of 2", p.Resolved, len(p.Spans))
	}
	if s := p.Spans[0]; s.Start != 13 || s.End != 37 || s.Strategy != locate.StrategyOffsets {
		t.Errorf("span 0 = %d..%d via %s", s.Start, s.End, s.Strategy)
	}
	if p.Spans[1].Found {
		t.Error("span with text absent from the body should not be found")
	}
}

func TestCLIInspect_Stdin(t *testing.T) {
	env := setupTestEnv(t)

	oldStdin := os.Stdin
	stdinR, stdinW, _ := os.Pipe()
	os.Stdin = stdinR
	defer func() { os.Stdin = oldStdin }()

	go func() {
		_, _ = stdinW.WriteString(htmlAnalysis)
		stdinW.Close()
	}()

	out, err := run(t, env, "inspect", "-")
	if err != nil {
		t.Fatalf("inspect failed: %v", err)
	}
	var result inspectOutput
	if err := json.Unmarshal([]byte(out), &result); err != nil {
		t.Fatalf("failed to parse output: %v", err)
	}
	if result.ContentType != string(document.ContentHTML) {
		t.Errorf("content_type = %q, want html", result.ContentType)
	}
	if result.Predictions[0].Resolved != 1 {
		t.Errorf("structural span should resolve through the tbody twin: %+v", result.Predictions[0].Spans)
	}
}

// TestCLILocate tests the locate command.
func TestCLILocate(t *testing.T) {
	env := setupTestEnv(t)
	path := writeDoc(t, "analysis.yaml", htmlAnalysis)

	t.Run("by prediction", func(t *testing.T) {
		out, err := run(t, env, "locate", "--prediction=p1", "--index=0", path)
		if err != nil {
			t.Fatalf("locate failed: %v", err)
		}
		var r locate.Report
		if err := json.Unmarshal([]byte(out), &r); err != nil {
			t.Fatalf("failed to parse output: %v", err)
		}
		if !r.Found || r.Text != "INV-7" {
			t.Errorf("report = %+v", r)
		}
		if r.TargetPath != "/html/body/table/tbody/tr/td[2]" {
			t.Errorf("target_path = %q", r.TargetPath)
		}
	})

	t.Run("ad hoc span", func(t *testing.T) {
		out, err := run(t, env, "locate", "--xpath=//td[1]", "--text=voice", path)
		if err != nil {
			t.Fatalf("locate failed: %v", err)
		}
		var r locate.Report
		if err := json.Unmarshal([]byte(out), &r); err != nil {
			t.Fatalf("failed to parse output: %v", err)
		}
		if !r.Found || r.Start != 2 || r.End != 7 {
			t.Errorf("report = %+v, want voice at 2..7", r)
		}
	})

	t.Run("errors", func(t *testing.T) {
		tests := []struct {
			name string
			args []string
			want string
		}{
			{"unknown prediction", []string{"locate", "--prediction=p9", path}, "NOT_FOUND"},
			{"index out of range", []string{"locate", "--prediction=p1", "--index=3", path}, "INVALID_REQUEST"},
			{"no span", []string{"locate", path}, "INVALID_REQUEST"},
			{"no document", []string{"locate", "--text=x"}, "INVALID_REQUEST"},
			{"missing file", []string{"locate", "--text=x", filepath.Join(t.TempDir(), "nope.json")}, "NOT_FOUND"},
		}
		for _, tt := range tests {
			t.Run(tt.name, func(t *testing.T) {
				_, err := run(t, env, tt.args...)
				if err == nil || !strings.Contains(err.Error(), tt.want) {
					t.Errorf("err = %v, want %s", err, tt.want)
				}
			})
		}
	})
}

func TestCLILocate_MalformedDocument(t *testing.T) {
	env := setupTestEnv(t)
	path := writeDoc(t, "broken.json", "{not json")

	_, err := run(t, env, "inspect", path)
	if err == nil || !strings.Contains(err.Error(), "MALFORMED_DOCUMENT") {
		t.Errorf("err = %v, want MALFORMED_DOCUMENT", err)
	}
}

// TestCLIShow tests the show command.
func TestCLIShow(t *testing.T) {
	env := setupTestEnv(t)
	path := writeDoc(t, "analysis.json", plainAnalysis)

	out, err := run(t, env, "show", "--prediction=p1", path)
	if err != nil {
		t.Fatalf("show failed: %v", err)
	}
	if !strings.Contains(out, "please provide an update") {
		t.Errorf("expected body text in output:\n%s", out)
	}
	if !strings.Contains(out, "not shown: p1:1") {
		t.Errorf("expected the unresolved span to be reported:\n%s", out)
	}

	if _, err := run(t, env, "show", "--prediction=p9", path); err == nil {
		t.Error("expected error for unknown prediction")
	}
}

// seedSubmission stores one correction through the full controller path.
func seedSubmission(t *testing.T, env *cliEnv) {
	t.Helper()
	a, _, err := document.Load([]byte(plainAnalysis), "json")
	if err != nil {
		t.Fatal(err)
	}
	ctl := controller.New(controller.Options{})
	if err := ctl.Load(a); err != nil {
		t.Fatal(err)
	}
	if err := ctl.SelectPrediction("p1"); err != nil {
		t.Fatal(err)
	}
	if err := ctl.CorrectField("intent", "complaint"); err != nil {
		t.Fatal(err)
	}
	sink := feedback.Labeled(feedback.NewSQLiteSink(env.db, nil), "cli-test", "Order 42")
	if err := ctl.Submit(context.Background(), sink); err != nil {
		t.Fatalf("submit: %v", err)
	}
}

// TestCLIFeedback tests the feedback list, show and export commands.
func TestCLIFeedback(t *testing.T) {
	env := setupTestEnv(t)

	out, err := run(t, env, "feedback", "list")
	if err != nil {
		t.Fatalf("list failed: %v", err)
	}
	var list feedback.ListOutput
	if err := json.Unmarshal([]byte(out), &list); err != nil {
		t.Fatalf("failed to parse output: %v", err)
	}
	if list.Pagination.Total != 0 {
		t.Errorf("total = %d, want 0", list.Pagination.Total)
	}

	seedSubmission(t, env)

	out, err = run(t, env, "feedback", "list", "--limit=5")
	if err != nil {
		t.Fatalf("list failed: %v", err)
	}
	if err := json.Unmarshal([]byte(out), &list); err != nil {
		t.Fatalf("failed to parse output: %v", err)
	}
	if len(list.Items) != 1 || list.Items[0].RecordCount != 1 {
		t.Fatalf("items = %+v, want one submission with one record", list.Items)
	}
	id := list.Items[0].ID

	out, err = run(t, env, "feedback", "show", id)
	if err != nil {
		t.Fatalf("show failed: %v", err)
	}
	if !strings.HasPrefix(out, "# Feedback summary") || !strings.Contains(out, "complaint") {
		t.Errorf("summary = %q", out)
	}

	out, err = run(t, env, "feedback", "export")
	if err != nil {
		t.Fatalf("export failed: %v", err)
	}
	var exported feedback.ExportOutput
	if err := json.Unmarshal([]byte(out), &exported); err != nil {
		t.Fatalf("failed to parse output: %v", err)
	}
	if exported.Count != 1 || filepath.Dir(exported.Path) != env.exportsDir {
		t.Errorf("export = %+v", exported)
	}

	if _, err := run(t, env, "feedback", "export", "--path=/tmp/../etc/evil.jsonl"); err == nil {
		t.Error("expected traversal path to be rejected")
	}
	if _, err := run(t, env, "feedback", "show", "missing"); err == nil || !strings.Contains(err.Error(), "NOT_FOUND") {
		t.Errorf("err = %v, want NOT_FOUND", err)
	}
}
