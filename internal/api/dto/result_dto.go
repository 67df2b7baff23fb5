package dto

import (
	"encoding/json"
	"time"

	"github.com/cuongbtq/media-vetting/internal/archive"
)

type ListResultsRequest struct {
	Kind     string `form:"kind"`
	BatchID  string `form:"batch_id"`
	Success  *bool  `form:"success"`
	PageSize int    `form:"page_size"`
	Cursor   string `form:"cursor"`
}

type ListResultsResponse struct {
	Results    []ResultDTO `json:"results"`
	NextCursor string      `json:"next_cursor,omitempty"`
}

type ResultDTO struct {
	Kind             string          `json:"kind"`
	JobID            string          `json:"job_id"`
	BatchID          string          `json:"batch_id,omitempty"`
	Success          bool            `json:"success"`
	Error            string          `json:"error,omitempty"`
	Attempts         int             `json:"attempts"`
	ProcessingTimeMs int64           `json:"processing_time_ms"`
	Payload          json.RawMessage `json:"payload,omitempty"`
	Result           json.RawMessage `json:"result,omitempty"`
	FinishedAt       string          `json:"finished_at"`
}

func NewResultDTO(r *archive.Record) ResultDTO {
	return ResultDTO{
		Kind:             r.Kind,
		JobID:            r.JobID,
		BatchID:          r.BatchID,
		Success:          r.Success,
		Error:            r.Error,
		Attempts:         r.Attempts,
		ProcessingTimeMs: r.ProcessingTimeMs,
		Payload:          json.RawMessage(r.Payload),
		Result:           json.RawMessage(r.Result),
		FinishedAt:       r.FinishedAt.Format(time.RFC3339),
	}
}
