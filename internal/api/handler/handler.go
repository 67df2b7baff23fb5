package handler

import (
	"context"
	"log/slog"

	"github.com/cuongbtq/media-vetting/internal/archive"
	"github.com/cuongbtq/media-vetting/internal/coordinator"
	"github.com/cuongbtq/media-vetting/internal/domain"
	"github.com/cuongbtq/media-vetting/internal/progress"
	"github.com/cuongbtq/media-vetting/internal/queue"
)

// HealthChecker reports whether a backing store is reachable
type HealthChecker interface {
	Health(ctx context.Context) error
}

// ResultReader reads archived job results
type ResultReader interface {
	GetResult(ctx context.Context, kind domain.Kind, jobID string) (*archive.Record, error)
	ListResults(ctx context.Context, filter archive.Filter) ([]archive.Record, error)
}

// Dependencies holds all dependencies needed by handlers
type Dependencies struct {
	Logger      *slog.Logger
	Store       HealthChecker
	Queue       *queue.Queue
	Tracker     *progress.Tracker
	Coordinator *coordinator.Coordinator
	// Archive is nil when the result archive is disabled
	Archive ResultReader
	// Database is checked by /health when the archive is enabled
	Database HealthChecker
}

// BatchHandler handles batch and creator progress requests
type BatchHandler struct {
	logger      *slog.Logger
	tracker     *progress.Tracker
	coordinator *coordinator.Coordinator
}

// NewBatchHandler creates a new BatchHandler instance
func NewBatchHandler(deps *Dependencies) *BatchHandler {
	return &BatchHandler{
		logger:      deps.Logger,
		tracker:     deps.Tracker,
		coordinator: deps.Coordinator,
	}
}

// QueueHandler handles queue introspection and control requests
type QueueHandler struct {
	logger *slog.Logger
	queue  *queue.Queue
}

// NewQueueHandler creates a new QueueHandler instance
func NewQueueHandler(deps *Dependencies) *QueueHandler {
	return &QueueHandler{
		logger: deps.Logger,
		queue:  deps.Queue,
	}
}

// ResultHandler handles archived result requests
type ResultHandler struct {
	logger  *slog.Logger
	archive ResultReader
}

// NewResultHandler creates a new ResultHandler instance
func NewResultHandler(deps *Dependencies) *ResultHandler {
	return &ResultHandler{
		logger:  deps.Logger,
		archive: deps.Archive,
	}
}

// HealthHandler reports store reachability
type HealthHandler struct {
	store    HealthChecker
	database HealthChecker
}

// NewHealthHandler creates a new HealthHandler instance
func NewHealthHandler(deps *Dependencies) *HealthHandler {
	return &HealthHandler{
		store:    deps.Store,
		database: deps.Database,
	}
}
