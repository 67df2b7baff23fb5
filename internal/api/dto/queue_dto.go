package dto

import (
	"github.com/cuongbtq/media-vetting/internal/domain"
	"github.com/cuongbtq/media-vetting/internal/queue"
)

type QueueDTO struct {
	Kind         domain.Kind `json:"kind"`
	QueueName    string      `json:"queue_name"`
	Concurrency  int         `json:"concurrency"`
	MaxAttempts  int         `json:"max_attempts"`
	Backoff      string      `json:"backoff"`
	RateLimitMax int         `json:"rate_limit_max,omitempty"`
	RateWindowMs int64       `json:"rate_limit_window_ms,omitempty"`
	queue.Counts
}

// NewQueueDTO merges a kind's policy with its live counts
func NewQueueDTO(spec domain.KindSpec, counts queue.Counts) QueueDTO {
	return QueueDTO{
		Kind:         spec.Kind,
		QueueName:    spec.QueueName,
		Concurrency:  spec.Concurrency,
		MaxAttempts:  spec.Policy.Attempts,
		Backoff:      string(spec.Policy.Backoff.Type),
		RateLimitMax: spec.RateLimit.Max,
		RateWindowMs: spec.RateLimit.Duration.Milliseconds(),
		Counts:       counts,
	}
}

type ListQueuesResponse struct {
	Queues []QueueDTO `json:"queues"`
}

type QueueActionResponse struct {
	Kind      domain.Kind `json:"kind"`
	Action    string      `json:"action"`
	Paused    bool        `json:"paused"`
	Discarded int         `json:"discarded,omitempty"`
}
