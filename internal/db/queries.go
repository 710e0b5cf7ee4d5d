package db

import (
	"context"
	"database/sql"
	"strings"

	"github.com/hpungsan/evlens/internal/errors"
)

// Submission is one accepted batch of correction records.
type Submission struct {
	ID          string  `json:"id"`
	Source      *string `json:"source,omitempty"`
	Subject     *string `json:"subject,omitempty"`
	RecordCount int     `json:"record_count"`
	SubmittedAt int64   `json:"submitted_at"`
}

// Correction is one stored correction record, still in its JSON form.
type Correction struct {
	SubmissionID string `json:"submission_id"`
	PredictionID string `json:"prediction_id"`
	RecordJSON   string `json:"record"`
	SpanCount    int    `json:"span_count"`
}

// ErrUniqueConstraint is returned when an insert violates a UNIQUE constraint.
var ErrUniqueConstraint = &errors.LensError{
	Code:    "UNIQUE_CONSTRAINT",
	Status:  409,
	Message: "unique constraint violation",
}

// InsertSubmission stores a submission and all its corrections in one
// transaction: either every record lands or none does.
func InsertSubmission(ctx context.Context, db *sql.DB, s *Submission, corrections []Correction) error {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return errors.NewInternal(err)
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx, `
		INSERT INTO submissions (id, source, subject, record_count, submitted_at)
		VALUES (?, ?, ?, ?, ?)
	`, s.ID, toNullString(s.Source), toNullString(s.Subject), s.RecordCount, s.SubmittedAt)
	if err != nil {
		if isUniqueConstraintError(err) {
			return ErrUniqueConstraint
		}
		return errors.NewInternal(err)
	}

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO corrections (submission_id, prediction_id, record_json, span_count)
		VALUES (?, ?, ?, ?)
	`)
	if err != nil {
		return errors.NewInternal(err)
	}
	defer stmt.Close()

	for _, c := range corrections {
		if _, err := stmt.ExecContext(ctx, s.ID, c.PredictionID, c.RecordJSON, c.SpanCount); err != nil {
			if isUniqueConstraintError(err) {
				return ErrUniqueConstraint
			}
			return errors.NewInternal(err)
		}
	}

	if err := tx.Commit(); err != nil {
		return errors.NewInternal(err)
	}
	return nil
}

// isUniqueConstraintError checks if the error is a SQLite UNIQUE constraint violation.
func isUniqueConstraintError(err error) bool {
	if err == nil {
		return false
	}
	return strings.Contains(err.Error(), "UNIQUE constraint failed")
}

// GetSubmission retrieves a submission by id.
func GetSubmission(ctx context.Context, db *sql.DB, id string) (*Submission, error) {
	row := db.QueryRowContext(ctx, `
		SELECT id, source, subject, record_count, submitted_at
		FROM submissions
		WHERE id = ?
	`, id)

	s, err := scanSubmission(row)
	if err == sql.ErrNoRows {
		return nil, errors.NewNotFound("submission", id)
	}
	if err != nil {
		return nil, errors.NewInternal(err)
	}
	return s, nil
}

// ListSubmissions returns submissions newest first, with the total count.
func ListSubmissions(ctx context.Context, db *sql.DB, limit, offset int) ([]Submission, int, error) {
	var total int
	if err := db.QueryRowContext(ctx, `SELECT COUNT(*) FROM submissions`).Scan(&total); err != nil {
		return nil, 0, errors.NewInternal(err)
	}

	rows, err := db.QueryContext(ctx, `
		SELECT id, source, subject, record_count, submitted_at
		FROM submissions
		ORDER BY submitted_at DESC, id DESC
		LIMIT ? OFFSET ?
	`, limit, offset)
	if err != nil {
		return nil, 0, errors.NewInternal(err)
	}
	defer rows.Close()

	var out []Submission
	for rows.Next() {
		s, err := scanSubmission(rows)
		if err != nil {
			return nil, 0, errors.NewInternal(err)
		}
		out = append(out, *s)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, errors.NewInternal(err)
	}
	return out, total, nil
}

// GetCorrections returns the correction records of one submission.
func GetCorrections(ctx context.Context, db *sql.DB, submissionID string) ([]Correction, error) {
	rows, err := db.QueryContext(ctx, `
		SELECT submission_id, prediction_id, record_json, span_count
		FROM corrections
		WHERE submission_id = ?
		ORDER BY prediction_id
	`, submissionID)
	if err != nil {
		return nil, errors.NewInternal(err)
	}
	defer rows.Close()
	return collectCorrections(rows)
}

// StreamForExport returns every stored correction, oldest submission first.
// The caller must close the returned rows and scan them with ScanCorrection.
func StreamForExport(ctx context.Context, db *sql.DB) (*sql.Rows, error) {
	rows, err := db.QueryContext(ctx, `
		SELECT c.submission_id, c.prediction_id, c.record_json, c.span_count
		FROM corrections c
		JOIN submissions s ON s.id = c.submission_id
		ORDER BY s.submitted_at ASC, s.id ASC, c.prediction_id ASC
	`)
	if err != nil {
		return nil, errors.NewInternal(err)
	}
	return rows, nil
}

// ScanCorrection scans the current row of rows into a Correction.
func ScanCorrection(rows *sql.Rows) (*Correction, error) {
	var c Correction
	if err := rows.Scan(&c.SubmissionID, &c.PredictionID, &c.RecordJSON, &c.SpanCount); err != nil {
		return nil, err
	}
	return &c, nil
}

func collectCorrections(rows *sql.Rows) ([]Correction, error) {
	var out []Correction
	for rows.Next() {
		c, err := ScanCorrection(rows)
		if err != nil {
			return nil, errors.NewInternal(err)
		}
		out = append(out, *c)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.NewInternal(err)
	}
	return out, nil
}

// DeleteSubmission removes a submission and its corrections.
func DeleteSubmission(ctx context.Context, db *sql.DB, id string) error {
	result, err := db.ExecContext(ctx, `DELETE FROM submissions WHERE id = ?`, id)
	if err != nil {
		return errors.NewInternal(err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return errors.NewInternal(err)
	}
	if n == 0 {
		return errors.NewNotFound("submission", id)
	}
	return nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanSubmission(row scanner) (*Submission, error) {
	var (
		s       Submission
		source  sql.NullString
		subject sql.NullString
	)
	if err := row.Scan(&s.ID, &source, &subject, &s.RecordCount, &s.SubmittedAt); err != nil {
		return nil, err
	}
	s.Source = fromNullString(source)
	s.Subject = fromNullString(subject)
	return &s, nil
}

// toNullString converts a *string to sql.NullString.
func toNullString(s *string) sql.NullString {
	if s == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: *s, Valid: true}
}

// fromNullString converts a sql.NullString to *string.
func fromNullString(ns sql.NullString) *string {
	if !ns.Valid {
		return nil
	}
	return &ns.String
}
