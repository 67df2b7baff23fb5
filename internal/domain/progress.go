package domain

import "time"

// BatchStatus is the derived status of a batch
type BatchStatus string

const (
	BatchPending    BatchStatus = "pending"
	BatchProcessing BatchStatus = "processing"
	BatchCompleted  BatchStatus = "completed"
	BatchFailed     BatchStatus = "failed"
)

// Terminal reports whether the batch will not change status any more
func (s BatchStatus) Terminal() bool {
	return s == BatchCompleted || s == BatchFailed
}

// ItemStatus is the status of a creator or of one of its platforms
type ItemStatus string

const (
	StatusPending    ItemStatus = "pending"
	StatusProcessing ItemStatus = "processing"
	StatusCompleted  ItemStatus = "completed"
	StatusFailed     ItemStatus = "failed"
)

// Valid reports whether s is one of the four known statuses
func (s ItemStatus) Valid() bool {
	switch s {
	case StatusPending, StatusProcessing, StatusCompleted, StatusFailed:
		return true
	}
	return false
}

// Terminal reports whether s is completed or failed
func (s ItemStatus) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

// BatchProgress is the aggregate state of one batch.
// Pending+Processing+Completed+Failed always equals TotalCreators.
type BatchProgress struct {
	BatchID            string      `json:"batch_id"`
	Status             BatchStatus `json:"status"`
	TotalCreators      int         `json:"total_creators"`
	PendingCreators    int         `json:"pending_creators"`
	ProcessingCreators int         `json:"processing_creators"`
	CompletedCreators  int         `json:"completed_creators"`
	FailedCreators     int         `json:"failed_creators"`
	TotalVideos        int         `json:"total_videos"`
	CompletedVideos    int         `json:"completed_videos"`
	FailedVideos       int         `json:"failed_videos"`
	Error              string      `json:"error,omitempty"`
	StartedAt          time.Time   `json:"started_at"`
	UpdatedAt          time.Time   `json:"updated_at"`
	CompletedAt        *time.Time  `json:"completed_at,omitempty"`
}

// Percentage is the share of creators in a terminal state
func (p *BatchProgress) Percentage() int {
	if p.TotalCreators == 0 {
		return 100
	}
	return (p.CompletedCreators + p.FailedCreators) * 100 / p.TotalCreators
}

// ProgressEntry is the state of one platform of a creator
type ProgressEntry struct {
	Status      ItemStatus `json:"status"`
	StartedAt   *time.Time `json:"started_at,omitempty"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
	Error       string     `json:"error,omitempty"`
}

// VideoTally counts media items of a creator
type VideoTally struct {
	Total     int `json:"total"`
	Completed int `json:"completed"`
	Failed    int `json:"failed"`
}

// Settled reports whether every known video has reached a terminal state
func (t VideoTally) Settled() bool {
	return t.Completed+t.Failed >= t.Total
}

// CreatorProgress is the per-creator state nested under a batch
type CreatorProgress struct {
	CreatorID     string                   `json:"creator_id"`
	BatchID       string                   `json:"batch_id"`
	Status        ItemStatus               `json:"status"`
	Error         string                   `json:"error,omitempty"`
	Platforms     map[string]ProgressEntry `json:"platforms"`
	VideoProgress VideoTally               `json:"video_progress"`
	UpdatedAt     time.Time                `json:"updated_at"`
}

// VideoDelta is an additive change to video counters
type VideoDelta struct {
	Total     int `json:"total,omitempty"`
	Completed int `json:"completed,omitempty"`
	Failed    int `json:"failed,omitempty"`
}

// IsZero reports whether the delta changes nothing
func (d VideoDelta) IsZero() bool {
	return d.Total == 0 && d.Completed == 0 && d.Failed == 0
}
