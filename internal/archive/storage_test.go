package archive

import (
	"context"
	"database/sql/driver"
	"encoding/json"
	"errors"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/cuongbtq/media-vetting/internal/domain"
	"github.com/cuongbtq/media-vetting/shared/redisstore/redistest"
	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var columns = []string{
	"kind", "job_id", "batch_id", "success", "error",
	"attempts", "processing_time_ms", "payload", "result", "finished_at",
}

func newMockStorage(t *testing.T) (*Storage, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return NewStorage(sqlx.NewDb(db, "postgres"), redistest.Logger()), mock
}

func TestNewRecord(t *testing.T) {
	finished := time.Date(2026, 3, 1, 12, 0, 0, 0, time.FixedZone("ICT", 7*3600))
	result := &domain.JobResult{
		JobID:            "b1:c1:tiktok:p1",
		Kind:             domain.KindVideoAnalysis,
		Success:          true,
		ProcessingTimeMs: 1500,
		Video:            &domain.VideoAnalysisResult{Tier: domain.TierStandard},
	}

	rec, err := NewRecord(result, json.RawMessage(`{"batch_id":"b1","video_id":"p1"}`), 2, finished)
	require.NoError(t, err)
	assert.Equal(t, "video-analysis", rec.Kind)
	assert.Equal(t, "b1", rec.BatchID)
	assert.Equal(t, 2, rec.Attempts)
	assert.Equal(t, time.UTC, rec.FinishedAt.Location())

	back, err := rec.JobResult()
	require.NoError(t, err)
	assert.Equal(t, result.JobID, back.JobID)
	require.NotNil(t, back.Video)
	assert.Equal(t, domain.TierStandard, back.Video.Tier)

	bare, err := NewRecord(&domain.JobResult{JobID: "x", Kind: domain.KindScrape}, nil, 1, finished)
	require.NoError(t, err)
	assert.Empty(t, bare.BatchID)
	assert.Equal(t, "{}", bare.Payload.String())
}

func TestStorage_SaveResult(t *testing.T) {
	storage, mock := newMockStorage(t)
	finished := time.Now().UTC()

	rec, err := NewRecord(&domain.JobResult{
		JobID:            "b1:c1:tiktok",
		Kind:             domain.KindScrape,
		Success:          false,
		Error:            "profile is private",
		ProcessingTimeMs: 120,
	}, json.RawMessage(`{"batch_id":"b1"}`), 3, finished)
	require.NoError(t, err)

	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO job_results")).
		WithArgs("scrape", "b1:c1:tiktok", "b1", false, "profile is private", 3, int64(120),
			sqlmock.AnyArg(), sqlmock.AnyArg(), finished).
		WillReturnResult(sqlmock.NewResult(0, 1))

	require.NoError(t, storage.SaveResult(context.Background(), rec))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestStorage_SaveResultError(t *testing.T) {
	storage, mock := newMockStorage(t)

	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO job_results")).
		WillReturnError(errors.New("connection reset"))

	rec, err := NewRecord(&domain.JobResult{JobID: "j", Kind: domain.KindScrape}, nil, 1, time.Now())
	require.NoError(t, err)

	err = storage.SaveResult(context.Background(), rec)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to save result")
}

func TestStorage_GetResult(t *testing.T) {
	storage, mock := newMockStorage(t)
	finished := time.Now().UTC().Truncate(time.Second)

	mock.ExpectQuery(regexp.QuoteMeta("FROM job_results")).
		WithArgs("image-analysis", "i1").
		WillReturnRows(sqlmock.NewRows(columns).AddRow(
			"image-analysis", "i1", "b1", true, "", 1, int64(42),
			[]byte(`{"image_id":"i1"}`), []byte(`{"job_id":"i1","kind":"image-analysis","success":true}`), finished,
		))

	rec, err := storage.GetResult(context.Background(), domain.KindImageAnalysis, "i1")
	require.NoError(t, err)
	assert.Equal(t, "i1", rec.JobID)
	assert.True(t, rec.Success)
	assert.Equal(t, int64(42), rec.ProcessingTimeMs)
	assert.Equal(t, finished, rec.FinishedAt)

	res, err := rec.JobResult()
	require.NoError(t, err)
	assert.Equal(t, domain.KindImageAnalysis, res.Kind)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestStorage_GetResultNotFound(t *testing.T) {
	storage, mock := newMockStorage(t)

	mock.ExpectQuery(regexp.QuoteMeta("FROM job_results")).
		WithArgs("scrape", "missing").
		WillReturnRows(sqlmock.NewRows(columns))

	_, err := storage.GetResult(context.Background(), domain.KindScrape, "missing")
	assert.ErrorIs(t, err, ErrResultNotFound)
}

func TestStorage_ListResults(t *testing.T) {
	success := true
	cursorAt := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)

	tests := []struct {
		name   string
		filter Filter
		args   []interface{}
	}{
		{
			name:   "no filters",
			filter: Filter{PageSize: 20},
			args:   []interface{}{21},
		},
		{
			name:   "kind and batch",
			filter: Filter{Kind: "scrape", BatchID: "b1", PageSize: 10},
			args:   []interface{}{"scrape", "b1", 11},
		},
		{
			name:   "success with cursor",
			filter: Filter{Success: &success, PageSize: 5, Cursor: &Cursor{FinishedAt: cursorAt, JobID: "j9"}},
			args:   []interface{}{true, cursorAt, "j9", 6},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			storage, mock := newMockStorage(t)

			driverArgs := make([]driver.Value, 0, len(tt.args))
			for _, a := range tt.args {
				driverArgs = append(driverArgs, a)
			}

			mock.ExpectQuery(regexp.QuoteMeta("ORDER BY finished_at DESC, job_id DESC")).
				WithArgs(driverArgs...).
				WillReturnRows(sqlmock.NewRows(columns).
					AddRow("scrape", "j2", "b1", true, "", 1, int64(5), []byte(`{}`), []byte(`{}`), cursorAt).
					AddRow("scrape", "j1", "b1", true, "", 1, int64(5), []byte(`{}`), []byte(`{}`), cursorAt))

			records, err := storage.ListResults(context.Background(), tt.filter)
			require.NoError(t, err)
			require.Len(t, records, 2)
			assert.Equal(t, "j2", records[0].JobID)
			assert.NoError(t, mock.ExpectationsWereMet())
		})
	}
}

func TestStorage_EnsureSchema(t *testing.T) {
	storage, mock := newMockStorage(t)

	mock.ExpectExec(regexp.QuoteMeta("CREATE TABLE IF NOT EXISTS job_results")).
		WillReturnResult(sqlmock.NewResult(0, 0))

	require.NoError(t, storage.EnsureSchema(context.Background()))
	assert.NoError(t, mock.ExpectationsWereMet())
}
