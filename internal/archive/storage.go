// Package archive keeps finished job results in PostgreSQL after their queue records expire.
package archive

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/cuongbtq/media-vetting/internal/domain"
	"github.com/jmoiron/sqlx"
	"github.com/jmoiron/sqlx/types"
)

// ErrResultNotFound is returned when no archived result exists for a job
var ErrResultNotFound = errors.New("result not found")

// Schema creates the archive table. It is safe to run on every start.
const Schema = `
CREATE TABLE IF NOT EXISTS job_results (
	kind               TEXT        NOT NULL,
	job_id             TEXT        NOT NULL,
	batch_id           TEXT        NOT NULL DEFAULT '',
	success            BOOLEAN     NOT NULL,
	error              TEXT        NOT NULL DEFAULT '',
	attempts           INTEGER     NOT NULL DEFAULT 0,
	processing_time_ms BIGINT      NOT NULL DEFAULT 0,
	payload            JSONB       NOT NULL DEFAULT '{}',
	result             JSONB       NOT NULL DEFAULT '{}',
	finished_at        TIMESTAMPTZ NOT NULL,
	PRIMARY KEY (kind, job_id)
);
CREATE INDEX IF NOT EXISTS job_results_finished_idx ON job_results (finished_at DESC, job_id DESC);
CREATE INDEX IF NOT EXISTS job_results_batch_idx ON job_results (batch_id) WHERE batch_id <> '';
`

// Record is one archived job result
type Record struct {
	Kind             string         `db:"kind" json:"kind"`
	JobID            string         `db:"job_id" json:"job_id"`
	BatchID          string         `db:"batch_id" json:"batch_id,omitempty"`
	Success          bool           `db:"success" json:"success"`
	Error            string         `db:"error" json:"error,omitempty"`
	Attempts         int            `db:"attempts" json:"attempts"`
	ProcessingTimeMs int64          `db:"processing_time_ms" json:"processing_time_ms"`
	Payload          types.JSONText `db:"payload" json:"payload"`
	Result           types.JSONText `db:"result" json:"result"`
	FinishedAt       time.Time      `db:"finished_at" json:"finished_at"`
}

// NewRecord builds the archive row of a finished job
func NewRecord(result *domain.JobResult, payload json.RawMessage, attempts int, finishedAt time.Time) (*Record, error) {
	body, err := json.Marshal(result)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal result: %w", err)
	}

	batchID := domain.BatchIDOf(payload)
	if len(payload) == 0 {
		payload = json.RawMessage("{}")
	}

	return &Record{
		Kind:             string(result.Kind),
		JobID:            result.JobID,
		BatchID:          batchID,
		Success:          result.Success,
		Error:            result.Error,
		Attempts:         attempts,
		ProcessingTimeMs: result.ProcessingTimeMs,
		Payload:          types.JSONText(payload),
		Result:           types.JSONText(body),
		FinishedAt:       finishedAt.UTC(),
	}, nil
}

// JobResult decodes the stored result
func (r *Record) JobResult() (*domain.JobResult, error) {
	var res domain.JobResult
	if err := r.Result.Unmarshal(&res); err != nil {
		return nil, fmt.Errorf("failed to decode archived result: %w", err)
	}
	return &res, nil
}

// Storage handles all archive database operations
type Storage struct {
	db     *sqlx.DB
	logger *slog.Logger
}

// NewStorage creates a new Storage instance
func NewStorage(db *sqlx.DB, logger *slog.Logger) *Storage {
	return &Storage{
		db:     db,
		logger: logger,
	}
}

// EnsureSchema creates the archive table and its indexes when missing
func (s *Storage) EnsureSchema(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, Schema); err != nil {
		return fmt.Errorf("failed to create archive schema: %w", err)
	}
	return nil
}

// SaveResult upserts a result. A job retried after an archived failure overwrites it.
func (s *Storage) SaveResult(ctx context.Context, rec *Record) error {
	query := `
		INSERT INTO job_results (
			kind, job_id, batch_id, success, error,
			attempts, processing_time_ms, payload, result, finished_at
		) VALUES (
			$1, $2, $3, $4, $5,
			$6, $7, $8, $9, $10
		)
		ON CONFLICT (kind, job_id) DO UPDATE SET
			batch_id = EXCLUDED.batch_id,
			success = EXCLUDED.success,
			error = EXCLUDED.error,
			attempts = EXCLUDED.attempts,
			processing_time_ms = EXCLUDED.processing_time_ms,
			payload = EXCLUDED.payload,
			result = EXCLUDED.result,
			finished_at = EXCLUDED.finished_at
	`

	_, err := s.db.ExecContext(ctx, query,
		rec.Kind,
		rec.JobID,
		rec.BatchID,
		rec.Success,
		rec.Error,
		rec.Attempts,
		rec.ProcessingTimeMs,
		rec.Payload,
		rec.Result,
		rec.FinishedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to save result: %w", err)
	}

	s.logger.Debug("Job result archived",
		slog.String("kind", rec.Kind),
		slog.String("job_id", rec.JobID),
		slog.Bool("success", rec.Success),
	)

	return nil
}

// GetResult retrieves one archived result
func (s *Storage) GetResult(ctx context.Context, kind domain.Kind, jobID string) (*Record, error) {
	query := `
		SELECT
			kind, job_id, batch_id, success, error,
			attempts, processing_time_ms, payload, result, finished_at
		FROM job_results
		WHERE kind = $1 AND job_id = $2
	`

	var rec Record
	err := s.db.GetContext(ctx, &rec, query, string(kind), jobID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("%w: %s/%s", ErrResultNotFound, kind, jobID)
		}
		return nil, fmt.Errorf("failed to get result: %w", err)
	}

	return &rec, nil
}

// Filter narrows ListResults
type Filter struct {
	Kind     string
	BatchID  string
	Success  *bool
	PageSize int
	Cursor   *Cursor
}

// Cursor is the keyset position of the last row of a page
type Cursor struct {
	FinishedAt time.Time
	JobID      string
}

// ListResults returns up to PageSize+1 rows, newest first. The extra row tells the
// caller whether another page exists.
func (s *Storage) ListResults(ctx context.Context, filter Filter) ([]Record, error) {
	query := `
		SELECT
			kind, job_id, batch_id, success, error,
			attempts, processing_time_ms, payload, result, finished_at
		FROM job_results
		WHERE 1=1
	`
	args := []interface{}{}
	argIdx := 1

	if filter.Kind != "" {
		query += fmt.Sprintf(" AND kind = $%d", argIdx)
		args = append(args, filter.Kind)
		argIdx++
	}

	if filter.BatchID != "" {
		query += fmt.Sprintf(" AND batch_id = $%d", argIdx)
		args = append(args, filter.BatchID)
		argIdx++
	}

	if filter.Success != nil {
		query += fmt.Sprintf(" AND success = $%d", argIdx)
		args = append(args, *filter.Success)
		argIdx++
	}

	if filter.Cursor != nil {
		query += fmt.Sprintf(" AND (finished_at, job_id) < ($%d, $%d)", argIdx, argIdx+1)
		args = append(args, filter.Cursor.FinishedAt, filter.Cursor.JobID)
		argIdx += 2
	}

	query += " ORDER BY finished_at DESC, job_id DESC"

	query += fmt.Sprintf(" LIMIT $%d", argIdx)
	args = append(args, filter.PageSize+1)

	var records []Record
	if err := s.db.SelectContext(ctx, &records, query, args...); err != nil {
		return nil, fmt.Errorf("failed to list results: %w", err)
	}

	return records, nil
}
