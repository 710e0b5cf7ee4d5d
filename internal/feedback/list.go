package feedback

import (
	"context"
	"database/sql"
	"encoding/json"

	"github.com/hpungsan/evlens/internal/db"
	"github.com/hpungsan/evlens/internal/document"
	"github.com/hpungsan/evlens/internal/errors"
)

// Pagination limits
const (
	DefaultListLimit = 20
	MaxListLimit     = 100
)

// Pagination contains pagination metadata for list operations.
type Pagination struct {
	Limit   int  `json:"limit"`
	Offset  int  `json:"offset"`
	HasMore bool `json:"has_more"`
	Total   int  `json:"total"`
}

// ListInput contains parameters for List.
type ListInput struct {
	Limit  int // default: 20, max: 100
	Offset int // default: 0
}

// ListOutput contains the result of List.
type ListOutput struct {
	Items      []db.Submission `json:"items"`
	Pagination Pagination      `json:"pagination"`
	Sort       string          `json:"sort"`
}

// List returns stored submissions, newest first.
func List(ctx context.Context, database *sql.DB, input ListInput) (*ListOutput, error) {
	limit := input.Limit
	if limit <= 0 {
		limit = DefaultListLimit
	}
	if limit > MaxListLimit {
		limit = MaxListLimit
	}
	offset := max(input.Offset, 0)

	items, total, err := db.ListSubmissions(ctx, database, limit, offset)
	if err != nil {
		return nil, err
	}
	if items == nil {
		items = []db.Submission{}
	}

	return &ListOutput{
		Items: items,
		Pagination: Pagination{
			Limit:   limit,
			Offset:  offset,
			HasMore: offset+len(items) < total,
			Total:   total,
		},
		Sort: "submitted_at_desc",
	}, nil
}

// Submission is a stored submission with its decoded records.
type Submission struct {
	db.Submission
	Records map[string]document.CorrectionRecord `json:"records"`
}

// Get loads one submission and decodes its records.
func Get(ctx context.Context, database *sql.DB, id string) (*Submission, error) {
	sub, err := db.GetSubmission(ctx, database, id)
	if err != nil {
		return nil, err
	}
	rows, err := db.GetCorrections(ctx, database, id)
	if err != nil {
		return nil, err
	}
	out := &Submission{Submission: *sub, Records: make(map[string]document.CorrectionRecord, len(rows))}
	for _, r := range rows {
		var rec document.CorrectionRecord
		if err := json.Unmarshal([]byte(r.RecordJSON), &rec); err != nil {
			return nil, errors.NewInternal(err)
		}
		out.Records[r.PredictionID] = rec
	}
	return out, nil
}
