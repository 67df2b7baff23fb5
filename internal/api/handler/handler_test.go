package handler

import (
	"errors"
	"fmt"
	"net/http"
	"testing"
	"time"

	"github.com/cuongbtq/media-vetting/internal/archive"
	"github.com/cuongbtq/media-vetting/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStatusFor(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want int
	}{
		{"validation", domain.NewValidationError("batch_id", "is required"), http.StatusBadRequest},
		{"invalid status", fmt.Errorf("%w: %q", domain.ErrInvalidStatus, "done"), http.StatusBadRequest},
		{"batch missing", fmt.Errorf("%w: b1", domain.ErrBatchNotFound), http.StatusNotFound},
		{"creator missing", domain.ErrCreatorNotFound, http.StatusNotFound},
		{"job missing", domain.ErrJobNotFound, http.StatusNotFound},
		{"unknown kind", domain.ErrUnknownKind, http.StatusNotFound},
		{"result missing", archive.ErrResultNotFound, http.StatusNotFound},
		{"broker down", fmt.Errorf("enqueue: %w", domain.ErrBrokerUnavailable), http.StatusServiceUnavailable},
		{"anything else", errors.New("boom"), http.StatusInternalServerError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, statusFor(tt.err))
		})
	}
}

func TestResultCursor(t *testing.T) {
	at := time.Date(2026, 8, 1, 12, 30, 0, 123, time.UTC)

	t.Run("round trip keeps job ids with separators", func(t *testing.T) {
		encoded := EncodeResultCursor(&archive.Cursor{FinishedAt: at, JobID: "b1:c1|x:tiktok"})
		got, err := DecodeResultCursor(encoded)
		require.NoError(t, err)
		assert.True(t, got.FinishedAt.Equal(at))
		assert.Equal(t, "b1:c1|x:tiktok", got.JobID)
	})

	t.Run("empty cursor", func(t *testing.T) {
		got, err := DecodeResultCursor("")
		require.NoError(t, err)
		assert.Nil(t, got)
	})

	invalid := []struct {
		name   string
		cursor string
	}{
		{"not base64", "%%%"},
		{"no separator", "MTIz"},
		{"bad timestamp", "YWJjfGpvYg=="},
		{"empty job id", "MTIzfA=="},
	}
	for _, tt := range invalid {
		t.Run(tt.name, func(t *testing.T) {
			_, err := DecodeResultCursor(tt.cursor)
			assert.Error(t, err)
		})
	}
}
