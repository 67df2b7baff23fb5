package events

import (
	"context"
	"fmt"
	"time"

	"github.com/cuongbtq/media-vetting/internal/domain"
	"github.com/cuongbtq/media-vetting/internal/queue"
	"github.com/google/uuid"
)

// Message is one outbound job event
type Message struct {
	RoutingKey string
	Key        string
	Body       []byte
}

// Sink delivers messages to an external broker
type Sink interface {
	Name() string
	Publish(ctx context.Context, msg Message) error
	Close() error
}

// JobEvent is the wire form of a terminal job event
type JobEvent struct {
	EventID          string            `json:"event_id"`
	Type             queue.EventType   `json:"type"`
	Kind             domain.Kind       `json:"kind"`
	JobID            string            `json:"job_id"`
	BatchID          string            `json:"batch_id,omitempty"`
	Attempt          int               `json:"attempt"`
	Success          bool              `json:"success"`
	Error            string            `json:"error,omitempty"`
	ProcessingTimeMs int64             `json:"processing_time_ms,omitempty"`
	Result           *domain.JobResult `json:"result,omitempty"`
	OccurredAt       time.Time         `json:"occurred_at"`
}

// RoutingKey returns "job.{kind}.{type}"
func RoutingKey(kind domain.Kind, t queue.EventType) string {
	return fmt.Sprintf("job.%s.%s", kind, t)
}

// NewJobEvent converts a queue event into its wire form
func NewJobEvent(ev queue.Event) *JobEvent {
	out := &JobEvent{
		EventID:    uuid.NewString(),
		Type:       ev.Type,
		Kind:       ev.Kind,
		JobID:      ev.JobID,
		BatchID:    domain.BatchIDOf(ev.Data),
		Attempt:    ev.Attempt,
		Success:    ev.Type == queue.EventCompleted,
		Error:      ev.Error,
		Result:     ev.Result,
		OccurredAt: ev.Timestamp.UTC(),
	}
	if ev.Result != nil {
		out.Success = ev.Result.Success
		out.ProcessingTimeMs = ev.Result.ProcessingTimeMs
		if out.Error == "" {
			out.Error = ev.Result.Error
		}
	}
	return out
}
