// Package ledger accumulates a review session's corrections, one record per
// edited prediction, until they are handed to a feedback sink.
package ledger

import (
	"context"
	"crypto/rand"
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/hpungsan/evlens/internal/document"
	"github.com/hpungsan/evlens/internal/errors"
)

// Sink receives finished correction records, keyed by prediction id, in one
// call. Transport, retries and persistence are the sink's business.
type Sink interface {
	Submit(ctx context.Context, records map[string]document.CorrectionRecord) error
}

// SinkFunc adapts a function to Sink.
type SinkFunc func(ctx context.Context, records map[string]document.CorrectionRecord) error

// Submit implements Sink.
func (f SinkFunc) Submit(ctx context.Context, records map[string]document.CorrectionRecord) error {
	return f(ctx, records)
}

// Ledger holds the correction records of one session. It is not safe for
// concurrent use; the owning controller serializes access.
type Ledger struct {
	records map[string]*document.CorrectionRecord
	order   []string
	newID   func() string
}

// New creates an empty ledger.
func New() *Ledger {
	return &Ledger{
		records: make(map[string]*document.CorrectionRecord),
		newID:   NewCorrectionID,
	}
}

var (
	entropyMu sync.Mutex
	entropy   = ulid.Monotonic(rand.Reader, 0)
)

// NewCorrectionID returns a fresh ULID.
func NewCorrectionID() string {
	entropyMu.Lock()
	defer entropyMu.Unlock()
	return ulid.MustNew(ulid.Timestamp(time.Now()), entropy).String()
}

// record returns the record for p, creating it from a deep copy of p's
// current evidence on first use.
func (l *Ledger) record(p document.Prediction) *document.CorrectionRecord {
	if r, ok := l.records[p.ID]; ok {
		return r
	}
	src := p.Clone()
	spans := make([]document.CorrectedSpan, len(src.EvidenceSpans))
	for i, s := range src.EvidenceSpans {
		spans[i] = document.CorrectedSpan{EvidenceSpan: s}
	}
	r := &document.CorrectionRecord{
		PredictionID: p.ID,
		CorrectedValue: document.CorrectedPrediction{
			ID:            src.ID,
			Intent:        src.Intent,
			Action:        src.Action,
			Artefact:      src.Artefact,
			EvidenceSpans: spans,
		},
	}
	l.records[p.ID] = r
	l.order = append(l.order, p.ID)
	return r
}

// ApplyEdit folds one candidate into p's record.
//
// With an original span, a corrected span already linked to the same original
// identity is updated in place; otherwise a new corrected span is appended
// with the back-reference and a fresh correction id. Without an original the
// candidate is appended as net-new evidence with no back-reference. The
// prediction itself is never modified.
func (l *Ledger) ApplyEdit(p document.Prediction, original *document.EvidenceSpan, candidate document.EvidenceSpan) *Ledger {
	r := l.record(p)
	spans := r.CorrectedValue.EvidenceSpans

	if original == nil {
		r.CorrectedValue.EvidenceSpans = append(spans, document.CorrectedSpan{
			EvidenceSpan: candidate,
			CorrectionID: l.newID(),
		})
		return l
	}

	want := original.Identity()
	for i := range spans {
		if id, ok := spans[i].OriginalIdentity(); ok && id == want {
			spans[i].EvidenceSpan = candidate
			return l
		}
	}

	cs := document.CorrectedSpan{EvidenceSpan: candidate, CorrectionID: l.newID()}
	cs.LinkOriginal(*original)
	r.CorrectedValue.EvidenceSpans = append(spans, cs)
	return l
}

// Prediction fields a reviewer can relabel.
const (
	FieldIntent       = "intent"
	FieldAction       = "action"
	FieldArtefactType = "artefact_type"
)

// ApplyFieldEdit relabels intent, action or artefact_type in p's record.
func (l *Ledger) ApplyFieldEdit(p document.Prediction, field, value string) error {
	switch field {
	case FieldIntent, FieldAction, FieldArtefactType:
	default:
		return errors.NewInvalidRequest(fmt.Sprintf("field %q cannot be corrected (want intent, action or artefact_type)", field))
	}
	r := l.record(p)
	switch field {
	case FieldIntent:
		r.CorrectedValue.Intent = value
	case FieldAction:
		r.CorrectedValue.Action = value
	case FieldArtefactType:
		r.CorrectedValue.Artefact.Type = value
	}
	return nil
}

// Record returns a copy of the record for predictionID.
func (l *Ledger) Record(predictionID string) (document.CorrectionRecord, bool) {
	r, ok := l.records[predictionID]
	if !ok {
		return document.CorrectionRecord{}, false
	}
	return r.Clone(), true
}

// Records returns a deep copy of every record, keyed by prediction id.
func (l *Ledger) Records() map[string]document.CorrectionRecord {
	out := make(map[string]document.CorrectionRecord, len(l.records))
	for id, r := range l.records {
		out[id] = r.Clone()
	}
	return out
}

// IDs returns the prediction ids with records, in first-edit order.
func (l *Ledger) IDs() []string {
	return slices.Clone(l.order)
}

// Len is the number of records.
func (l *Ledger) Len() int {
	return len(l.records)
}

// Clear drops every record.
func (l *Ledger) Clear() {
	clear(l.records)
	l.order = l.order[:0]
}

// Submit hands a copy of every record to sink in one call. The ledger is
// cleared only when the sink accepts; on failure it is left exactly as it was
// so the submission can be retried.
func (l *Ledger) Submit(ctx context.Context, sink Sink) error {
	if l.Len() == 0 {
		return errors.NewInvalidRequest("no corrections to submit")
	}
	if sink == nil {
		return errors.NewInvalidRequest("no feedback sink configured")
	}
	if err := sink.Submit(ctx, l.Records()); err != nil {
		return errors.NewSubmitFailed(err)
	}
	l.Clear()
	return nil
}

// ReplaceCorrection overwrites the corrected span with the given correction
// id in predictionID's record. Used to re-edit net-new evidence, which has no
// original identity to match on.
func (l *Ledger) ReplaceCorrection(predictionID, correctionID string, span document.EvidenceSpan) bool {
	r, ok := l.records[predictionID]
	if !ok || correctionID == "" {
		return false
	}
	for i := range r.CorrectedValue.EvidenceSpans {
		if r.CorrectedValue.EvidenceSpans[i].CorrectionID == correctionID {
			r.CorrectedValue.EvidenceSpans[i].EvidenceSpan = span
			return true
		}
	}
	return false
}
