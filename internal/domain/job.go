package domain

import (
	"encoding/json"
	"time"
)

// JobState is where a job sits in its queue
type JobState string

const (
	JobStateWaiting   JobState = "waiting"
	JobStateDelayed   JobState = "delayed"
	JobStateActive    JobState = "active"
	JobStateCompleted JobState = "completed"
	JobStateFailed    JobState = "failed"
)

// Stage is a step of the per-job execution state machine
type Stage string

const (
	StageQueued       Stage = "queued"
	StagePreScreening Stage = "pre-screening"
	StageIndexing     Stage = "indexing"
	StageAnalyzing    Stage = "analyzing"
	StageComplete     Stage = "complete"
	StageFailed       Stage = "failed"
)

// Tier is a cost/quality level for media analysis
type Tier string

const (
	TierLight    Tier = "light"
	TierStandard Tier = "standard"
	TierFull     Tier = "full"
)

// Valid reports whether t is a known tier. The empty tier means "let pre-screening decide".
func (t Tier) Valid() bool {
	switch t {
	case "", TierLight, TierStandard, TierFull:
		return true
	}
	return false
}

// JobSpec is what a caller submits for admission. ID is caller-chosen and idempotent per kind.
type JobSpec struct {
	ID       string
	Payload  any
	Priority int
	Delay    time.Duration
	Attempts int
}

// Job is an admitted unit of work as stored in its queue
type Job struct {
	ID           string          `json:"id"`
	Kind         Kind            `json:"kind"`
	Payload      json.RawMessage `json:"payload"`
	State        JobState        `json:"state"`
	AttemptsMade int             `json:"attempts_made"`
	MaxAttempts  int             `json:"max_attempts"`
	Priority     int             `json:"priority"`
	Delay        time.Duration   `json:"delay"`
	EnqueuedAt   time.Time       `json:"enqueued_at"`
	ProcessedAt  *time.Time      `json:"processed_at,omitempty"`
	FinishedAt   *time.Time      `json:"finished_at,omitempty"`
	FailedReason string          `json:"failed_reason,omitempty"`
	Progress     *JobProgress    `json:"progress,omitempty"`
	Result       *JobResult      `json:"result,omitempty"`
}

// Attempt returns the 1-based number of the attempt currently running
func (j *Job) Attempt() int {
	if j.AttemptsMade < 1 {
		return 1
	}
	return j.AttemptsMade
}

// DecodePayload unmarshals the job payload into v
func (j *Job) DecodePayload(v any) error {
	if len(j.Payload) == 0 {
		return NewValidationError("payload", "is empty")
	}
	if err := json.Unmarshal(j.Payload, v); err != nil {
		return NewValidationError("payload", "is not valid JSON: "+err.Error())
	}
	return nil
}

// JobProgress is an in-flight status record emitted during execution
type JobProgress struct {
	Stage      Stage  `json:"stage"`
	Percentage int    `json:"percentage"`
	Message    string `json:"message,omitempty"`
	ETAMs      *int64 `json:"eta_ms,omitempty"`
}
