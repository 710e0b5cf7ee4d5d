package feedback

import (
	"context"
	"crypto/rand"
	"database/sql"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"time"

	"github.com/charmbracelet/log"

	"github.com/hpungsan/evlens/internal/config"
	"github.com/hpungsan/evlens/internal/db"
	"github.com/hpungsan/evlens/internal/document"
	"github.com/hpungsan/evlens/internal/errors"
	"github.com/hpungsan/evlens/internal/logging"
)

// SchemaVersion is written in the header line of every JSONL file.
const SchemaVersion = "1.0"

// FileHeader is the first line of a feedback JSONL file.
type FileHeader struct {
	EvlensFeedback bool    `json:"_evlens_feedback"`
	SchemaVersion  string  `json:"schema_version"`
	SubmissionID   string  `json:"submission_id,omitempty"`
	Source         *string `json:"source,omitempty"`
	Subject        *string `json:"subject,omitempty"`
	WrittenAt      int64   `json:"written_at"`
}

// FileSink writes each submission to its own JSONL file: a header line, then
// one correction record per line.
type FileSink struct {
	dir     string
	cfg     *config.Config
	source  string
	subject string
	logger  *log.Logger
	now     func() time.Time
}

// NewFileSink creates a sink writing into dir, which must be the exports
// directory or one of cfg.AllowedPaths.
func NewFileSink(dir string, cfg *config.Config, logger *log.Logger) *FileSink {
	return &FileSink{dir: dir, cfg: cfg, logger: logging.OrDiscard(logger), now: time.Now}
}

// For returns a copy of the sink that labels submissions.
func (f *FileSink) For(source, subject string) *FileSink {
	c := *f
	c.source, c.subject = source, subject
	return &c
}

// Submit implements ledger.Sink.
func (f *FileSink) Submit(ctx context.Context, records map[string]document.CorrectionRecord) error {
	if len(records) == 0 {
		return errors.NewInvalidRequest("no corrections to submit")
	}
	now := f.now()
	id := newSubmissionID(now)
	path := filepath.Join(f.dir, fmt.Sprintf("feedback-%s.jsonl", id))

	header := FileHeader{
		EvlensFeedback: true,
		SchemaVersion:  SchemaVersion,
		SubmissionID:   id,
		Source:         optional(f.source),
		Subject:        optional(f.subject),
		WrittenAt:      now.Unix(),
	}

	ids := sortedIDs(records)
	i := 0
	err := writeJSONL(ctx, path, f.dir, f.cfg, header, func() (any, bool, error) {
		if i >= len(ids) {
			return nil, false, nil
		}
		rec := records[ids[i]]
		i++
		return rec, true, nil
	})
	if err != nil {
		return err
	}
	f.logger.Info("feedback written", "path", path, "records", len(ids))
	return nil
}

// ExportInput contains parameters for Export.
type ExportInput struct {
	Path       string // optional, default: <exports>/feedback-export-<timestamp>.jsonl
	ExportsDir string // required
}

// ExportOutput contains the result of Export.
type ExportOutput struct {
	Path       string `json:"path"`
	Count      int    `json:"count"`
	ExportedAt int64  `json:"exported_at"`
}

// ExportLine is one exported correction record.
type ExportLine struct {
	SubmissionID string          `json:"submission_id"`
	PredictionID string          `json:"prediction_id"`
	Record       json.RawMessage `json:"record"`
}

// Export writes every stored correction record to a JSONL file.
func Export(ctx context.Context, database *sql.DB, cfg *config.Config, input ExportInput) (*ExportOutput, error) {
	now := time.Now()
	path := input.Path
	if path == "" {
		path = filepath.Join(input.ExportsDir, fmt.Sprintf("feedback-export-%s.jsonl", now.Format("2006-01-02T150405")))
	}

	rows, err := db.StreamForExport(ctx, database)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	count := 0
	header := FileHeader{EvlensFeedback: true, SchemaVersion: SchemaVersion, WrittenAt: now.Unix()}
	err = writeJSONL(ctx, path, input.ExportsDir, cfg, header, func() (any, bool, error) {
		if !rows.Next() {
			if err := rows.Err(); err != nil {
				return nil, false, errors.NewInternal(err)
			}
			return nil, false, nil
		}
		c, err := db.ScanCorrection(rows)
		if err != nil {
			return nil, false, errors.NewInternal(err)
		}
		count++
		return ExportLine{SubmissionID: c.SubmissionID, PredictionID: c.PredictionID, Record: json.RawMessage(c.RecordJSON)}, true, nil
	})
	if err != nil {
		return nil, err
	}

	return &ExportOutput{Path: path, Count: count, ExportedAt: now.Unix()}, nil
}

// writeJSONL validates path, then writes header and every value next yields
// to a temp file that is renamed into place, so an existing file survives any
// failure.
func writeJSONL(ctx context.Context, path, exportsDir string, cfg *config.Config, header any, next func() (any, bool, error)) error {
	if err := ValidatePath(path, exportsDir, cfg); err != nil {
		return err
	}

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0700); err != nil {
		return errors.NewInternal(fmt.Errorf("failed to create export directory: %w", err))
	}

	randBytes := make([]byte, 8)
	if _, err := rand.Read(randBytes); err != nil {
		return errors.NewInternal(fmt.Errorf("failed to generate temp file name: %w", err))
	}
	tempPath := path + "." + hex.EncodeToString(randBytes) + ".tmp"
	file, err := openFileNoFollow(tempPath, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0600)
	if err != nil {
		return errors.NewInternal(fmt.Errorf("failed to create export file: %w", err))
	}

	success := false
	defer func() {
		if file != nil {
			file.Close()
		}
		if !success {
			os.Remove(tempPath)
		}
	}()

	enc := json.NewEncoder(file)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(header); err != nil {
		return errors.NewInternal(err)
	}
	for {
		if err := ctx.Err(); err != nil {
			return errors.NewInternal(fmt.Errorf("export cancelled: %w", err))
		}
		v, ok, err := next()
		if err != nil {
			return err
		}
		if !ok {
			break
		}
		if err := enc.Encode(v); err != nil {
			return errors.NewInternal(err)
		}
	}

	if err := file.Sync(); err != nil {
		return errors.NewInternal(err)
	}
	if err := file.Close(); err != nil {
		return errors.NewInternal(fmt.Errorf("failed to close export file: %w", err))
	}
	file = nil

	// os.Rename would follow a symlinked destination.
	if info, err := os.Lstat(path); err == nil && info.Mode()&os.ModeSymlink != 0 {
		return errors.NewInternal(fmt.Errorf("export path is a symlink"))
	}

	if err := os.Rename(tempPath, path); err != nil {
		if runtime.GOOS == "windows" {
			if _, statErr := os.Stat(path); statErr == nil {
				return errors.NewInvalidRequest("export destination already exists; overwriting is not supported on Windows (choose a new path or delete the existing file)")
			}
		}
		return errors.NewInternal(fmt.Errorf("failed to finalize export: %w", err))
	}

	success = true
	return nil
}
