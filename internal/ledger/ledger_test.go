package ledger

import (
	"context"
	"encoding/json"
	stderrors "errors"
	"fmt"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hpungsan/evlens/internal/document"
	"github.com/hpungsan/evlens/internal/errors"
)

func testPrediction() document.Prediction {
	return document.Prediction{
		ID:       "p1",
		Intent:   "request_update",
		Action:   "reply",
		Artefact: document.Artefact{Type: "order", Details: map[string]string{"order_id": "42"}},
		EvidenceSpans: []document.EvidenceSpan{
			{XPath: "/html/body/p", RelativeStart: 0, RelativeEnd: 5, Text: "Hello", Type: document.SpanIntent},
			{XPath: "/html/body/table/tr[1]/td[2]", RelativeStart: 8, RelativeEnd: 10, Text: "42", Type: document.SpanArtefactDetail, Field: "order_id"},
		},
	}
}

func newTestLedger() *Ledger {
	l := New()
	n := 0
	l.newID = func() string {
		n++
		return fmt.Sprintf("corr-%d", n)
	}
	return l
}

func linked(spans []document.CorrectedSpan) []document.CorrectedSpan {
	var out []document.CorrectedSpan
	for _, s := range spans {
		if s.HasOriginal() {
			out = append(out, s)
		}
	}
	return out
}

func TestApplyEdit_FirstEditCopiesEvidence(t *testing.T) {
	l := newTestLedger()
	p := testPrediction()
	orig := p.EvidenceSpans[0]

	l.ApplyEdit(p, &orig, orig.WithOffsets(0, 3))

	rec, ok := l.Record("p1")
	require.True(t, ok)
	assert.Equal(t, "p1", rec.PredictionID)
	assert.Equal(t, "request_update", rec.CorrectedValue.Intent)

	spans := rec.CorrectedValue.EvidenceSpans
	require.Len(t, spans, 3)
	assert.False(t, spans[0].HasOriginal())
	assert.False(t, spans[1].HasOriginal())
	assert.Equal(t, p.EvidenceSpans[1], spans[1].EvidenceSpan)

	c := spans[2]
	assert.Equal(t, "corr-1", c.CorrectionID)
	id, ok := c.OriginalIdentity()
	require.True(t, ok)
	assert.Equal(t, orig.Identity(), id)
}

func TestApplyEdit_RepeatedEditsUpdateInPlace(t *testing.T) {
	l := newTestLedger()
	p := testPrediction()
	orig := p.EvidenceSpans[0]

	first := orig.WithOffsets(0, 3)
	first.Text = "Hel"
	second := orig.WithOffsets(1, 5)
	second.Text = "ello"

	l.ApplyEdit(p, &orig, first)
	l.ApplyEdit(p, &orig, second)

	rec, _ := l.Record("p1")
	got := linked(rec.CorrectedValue.EvidenceSpans)
	require.Len(t, got, 1)
	assert.Equal(t, "ello", got[0].Text)
	assert.Equal(t, 1, got[0].RelativeStart)
	assert.Equal(t, "corr-1", got[0].CorrectionID)
	assert.Equal(t, 1, l.Len())
}

func TestApplyEdit_NeverMutatesPrediction(t *testing.T) {
	l := newTestLedger()
	p := testPrediction()
	before := p.Clone()
	orig := p.EvidenceSpans[1]

	l.ApplyEdit(p, &orig, document.EvidenceSpan{XPath: orig.XPath, RelativeStart: 0, RelativeEnd: 7, Text: "Invoice", Type: document.SpanArtefactType})
	require.NoError(t, l.ApplyFieldEdit(p, FieldArtefactType, "invoice"))

	assert.Equal(t, before, p)
}

func TestApplyEdit_NetNewHasNoBackReference(t *testing.T) {
	l := newTestLedger()
	p := testPrediction()

	l.ApplyEdit(p, nil, document.EvidenceSpan{XPath: "/html/body/p", RelativeStart: 6, RelativeEnd: 11, Text: "world", Type: document.SpanAction})

	rec, _ := l.Record("p1")
	spans := rec.CorrectedValue.EvidenceSpans
	require.Len(t, spans, 3)
	added := spans[2]
	assert.Equal(t, "corr-1", added.CorrectionID)
	assert.Nil(t, added.OriginalXPath)
	assert.Nil(t, added.OriginalRelativeStart)
	assert.Nil(t, added.OriginalRelativeEnd)
	assert.Nil(t, added.OriginalStart)
	assert.Nil(t, added.OriginalEnd)

	data, err := json.Marshal(rec)
	require.NoError(t, err)
	assert.NotContains(t, string(data), "original")
	assert.Contains(t, string(data), `"predictionId":"p1"`)
	assert.Contains(t, string(data), `"correctedValue"`)
}

func TestApplyEdit_FlatOriginal(t *testing.T) {
	l := newTestLedger()
	p := document.Prediction{
		ID:            "p2",
		EvidenceSpans: []document.EvidenceSpan{{Start: 13, End: 37, Text: "please provide an update", Type: document.SpanIntent}},
	}
	orig := p.EvidenceSpans[0]
	l.ApplyEdit(p, &orig, orig.WithOffsets(13, 40))

	rec, _ := l.Record("p2")
	c := rec.CorrectedValue.EvidenceSpans[1]
	require.NotNil(t, c.OriginalStart)
	assert.Equal(t, 13, *c.OriginalStart)
	assert.Equal(t, 37, *c.OriginalEnd)
	assert.Nil(t, c.OriginalXPath)
	assert.Equal(t, 40, c.End)
}

func TestApplyFieldEdit(t *testing.T) {
	l := newTestLedger()
	p := testPrediction()

	require.NoError(t, l.ApplyFieldEdit(p, FieldIntent, "complaint"))
	require.NoError(t, l.ApplyFieldEdit(p, FieldAction, "escalate"))

	rec, _ := l.Record("p1")
	assert.Equal(t, "complaint", rec.CorrectedValue.Intent)
	assert.Equal(t, "escalate", rec.CorrectedValue.Action)
	assert.Len(t, rec.CorrectedValue.EvidenceSpans, 2)

	err := l.ApplyFieldEdit(p, "artefact_details", "x")
	assert.True(t, errors.Is(err, errors.ErrInvalidRequest))
}

func TestReplaceCorrection(t *testing.T) {
	l := newTestLedger()
	p := testPrediction()
	l.ApplyEdit(p, nil, document.EvidenceSpan{Start: 1, End: 2, Text: "e", Type: document.SpanAction})

	ok := l.ReplaceCorrection("p1", "corr-1", document.EvidenceSpan{Start: 1, End: 4, Text: "ell", Type: document.SpanAction})
	require.True(t, ok)
	rec, _ := l.Record("p1")
	require.Len(t, rec.CorrectedValue.EvidenceSpans, 3)
	assert.Equal(t, "ell", rec.CorrectedValue.EvidenceSpans[2].Text)
	assert.Equal(t, "corr-1", rec.CorrectedValue.EvidenceSpans[2].CorrectionID)

	assert.False(t, l.ReplaceCorrection("p1", "corr-9", document.EvidenceSpan{}))
	assert.False(t, l.ReplaceCorrection("p9", "corr-1", document.EvidenceSpan{}))
}

func TestRecords_AreCopies(t *testing.T) {
	l := newTestLedger()
	p := testPrediction()
	orig := p.EvidenceSpans[0]
	l.ApplyEdit(p, &orig, orig.WithOffsets(0, 3))

	recs := l.Records()
	r := recs["p1"]
	r.CorrectedValue.EvidenceSpans[0].Text = "mutated"
	*r.CorrectedValue.EvidenceSpans[2].OriginalRelativeEnd = 99

	again, _ := l.Record("p1")
	assert.Equal(t, "Hello", again.CorrectedValue.EvidenceSpans[0].Text)
	assert.Equal(t, 5, *again.CorrectedValue.EvidenceSpans[2].OriginalRelativeEnd)
}

func TestSubmit_SuccessClears(t *testing.T) {
	l := newTestLedger()
	p := testPrediction()
	orig := p.EvidenceSpans[0]
	l.ApplyEdit(p, &orig, orig.WithOffsets(0, 3))

	var got map[string]document.CorrectionRecord
	sink := SinkFunc(func(ctx context.Context, records map[string]document.CorrectionRecord) error {
		got = records
		return nil
	})

	require.NoError(t, l.Submit(context.Background(), sink))
	assert.Contains(t, got, "p1")
	assert.Equal(t, 0, l.Len())
	assert.Empty(t, l.IDs())
}

func TestSubmit_FailureLeavesLedgerUntouched(t *testing.T) {
	l := newTestLedger()
	p := testPrediction()
	orig := p.EvidenceSpans[0]
	l.ApplyEdit(p, &orig, orig.WithOffsets(0, 3))
	l.ApplyEdit(p, nil, document.EvidenceSpan{Start: 1, End: 2, Text: "e", Type: document.SpanAction})
	before := l.Records()

	sink := SinkFunc(func(context.Context, map[string]document.CorrectionRecord) error {
		return stderrors.New("connection refused")
	})

	err := l.Submit(context.Background(), sink)
	require.Error(t, err)
	assert.True(t, errors.Is(err, errors.ErrSubmitFailed))
	assert.True(t, strings.Contains(err.Error(), "connection refused"))
	assert.Equal(t, before, l.Records())
	assert.Equal(t, []string{"p1"}, l.IDs())
}

func TestSubmit_Rejects(t *testing.T) {
	l := newTestLedger()
	err := l.Submit(context.Background(), SinkFunc(func(context.Context, map[string]document.CorrectionRecord) error { return nil }))
	assert.True(t, errors.Is(err, errors.ErrInvalidRequest), "empty ledger")

	p := testPrediction()
	require.NoError(t, l.ApplyFieldEdit(p, FieldIntent, "x"))
	err = l.Submit(context.Background(), nil)
	assert.True(t, errors.Is(err, errors.ErrInvalidRequest), "nil sink")
	assert.Equal(t, 1, l.Len())
}

func TestNewCorrectionID_Monotonic(t *testing.T) {
	a := NewCorrectionID()
	b := NewCorrectionID()
	assert.Len(t, a, 26)
	assert.Less(t, a, b)
}
