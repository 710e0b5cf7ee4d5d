// Package feedback stores and exports submitted correction records.
package feedback

import (
	"context"
	"crypto/rand"
	"database/sql"
	"encoding/json"
	"fmt"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/charmbracelet/log"
	"github.com/oklog/ulid/v2"

	"github.com/hpungsan/evlens/internal/config"
	"github.com/hpungsan/evlens/internal/db"
	"github.com/hpungsan/evlens/internal/document"
	"github.com/hpungsan/evlens/internal/errors"
	"github.com/hpungsan/evlens/internal/ledger"
	"github.com/hpungsan/evlens/internal/logging"
)

// Sink kinds selectable through config.
const (
	SinkSQLite = "sqlite"
	SinkFile   = "file"
)

var (
	entropyMu sync.Mutex
	entropy   = ulid.Monotonic(rand.Reader, 0)
)

func newSubmissionID(now time.Time) string {
	entropyMu.Lock()
	defer entropyMu.Unlock()
	return ulid.MustNew(ulid.Timestamp(now), entropy).String()
}

// sortedIDs returns the prediction ids of records in a stable order.
func sortedIDs(records map[string]document.CorrectionRecord) []string {
	ids := make([]string, 0, len(records))
	for id := range records {
		ids = append(ids, id)
	}
	slices.Sort(ids)
	return ids
}

// SQLiteSink stores each submission as one row plus one row per correction
// record, in a single transaction.
type SQLiteSink struct {
	db      *sql.DB
	source  string
	subject string
	logger  *log.Logger
	now     func() time.Time
}

// NewSQLiteSink creates a sink writing to database.
func NewSQLiteSink(database *sql.DB, logger *log.Logger) *SQLiteSink {
	return &SQLiteSink{db: database, logger: logging.OrDiscard(logger), now: time.Now}
}

// For returns a copy of the sink that labels submissions with source (the
// surface that submitted them) and subject (the reviewed email).
func (s *SQLiteSink) For(source, subject string) *SQLiteSink {
	c := *s
	c.source, c.subject = source, subject
	return &c
}

// Submit implements ledger.Sink.
func (s *SQLiteSink) Submit(ctx context.Context, records map[string]document.CorrectionRecord) error {
	if len(records) == 0 {
		return errors.NewInvalidRequest("no corrections to submit")
	}
	now := s.now()
	sub := &db.Submission{
		ID:          newSubmissionID(now),
		Source:      optional(s.source),
		Subject:     optional(s.subject),
		RecordCount: len(records),
		SubmittedAt: now.Unix(),
	}

	rows := make([]db.Correction, 0, len(records))
	for _, id := range sortedIDs(records) {
		rec := records[id]
		data, err := json.Marshal(rec)
		if err != nil {
			return errors.NewInternal(err)
		}
		rows = append(rows, db.Correction{
			PredictionID: id,
			RecordJSON:   string(data),
			SpanCount:    len(rec.CorrectedValue.EvidenceSpans),
		})
	}

	if err := db.InsertSubmission(ctx, s.db, sub, rows); err != nil {
		return err
	}
	s.logger.Info("feedback stored", "submission", sub.ID, "records", len(rows))
	return nil
}

func optional(s string) *string {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil
	}
	return &s
}

// Open picks the sink named by cfg.FeedbackSink. exportsDir is where the file
// sink writes.
func Open(cfg *config.Config, database *sql.DB, exportsDir string, logger *log.Logger) (ledger.Sink, error) {
	kind := SinkSQLite
	if cfg != nil && cfg.FeedbackSink != "" {
		kind = strings.ToLower(cfg.FeedbackSink)
	}
	switch kind {
	case SinkSQLite:
		if database == nil {
			return nil, errors.NewInternal(fmt.Errorf("sqlite feedback sink needs a database"))
		}
		return NewSQLiteSink(database, logger), nil
	case SinkFile:
		return NewFileSink(exportsDir, cfg, logger), nil
	}
	return nil, errors.NewInvalidRequest(fmt.Sprintf("unknown feedback sink %q (want sqlite or file)", kind))
}

// Labeled applies source and subject labels when sink supports them.
func Labeled(sink ledger.Sink, source, subject string) ledger.Sink {
	switch s := sink.(type) {
	case *SQLiteSink:
		return s.For(source, subject)
	case *FileSink:
		return s.For(source, subject)
	}
	return sink
}
