// Package coordinator seeds batches into the tracker and fans their work out to the queues.
package coordinator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/cuongbtq/media-vetting/internal/domain"
	"github.com/cuongbtq/media-vetting/internal/progress"
	"github.com/cuongbtq/media-vetting/internal/queue"
	"github.com/google/uuid"
)

// DefaultMonthsBack is used when a batch does not say how far back to scrape
const DefaultMonthsBack = 3

// Config holds coordinator configuration
type Config struct {
	Queue   *queue.Queue
	Tracker *progress.Tracker
	Logger  *slog.Logger
}

// Coordinator sits above the queue manager and the tracker
type Coordinator struct {
	queue   *queue.Queue
	tracker *progress.Tracker
	logger  *slog.Logger
}

// New creates a coordinator
func New(cfg *Config) *Coordinator {
	return &Coordinator{
		queue:   cfg.Queue,
		tracker: cfg.Tracker,
		logger:  cfg.Logger,
	}
}

// ScrapeJobID is the deterministic id of the scrape job for one creator platform
func ScrapeJobID(batchID, creatorID, platform string) string {
	return fmt.Sprintf("%s:%s:%s", batchID, creatorID, strings.ToLower(platform))
}

// MediaJobID is the deterministic id of the analysis job for one scraped post
func MediaJobID(batchID, creatorID, platform, postID string) string {
	return fmt.Sprintf("%s:%s:%s:%s", batchID, creatorID, strings.ToLower(platform), postID)
}

// StartBatch seeds the batch and admits its scrape jobs on the caller's goroutine.
// A missing batch id is generated.
func (c *Coordinator) StartBatch(ctx context.Context, in domain.BatchCoordinateInput) (*domain.BatchCoordinateResult, error) {
	if in.BatchID == "" {
		in.BatchID = uuid.NewString()
	}
	return c.Seed(ctx, in)
}

// Submit admits a batch-coordinate job so seeding happens on a worker.
// It returns the batch id the job will seed.
func (c *Coordinator) Submit(ctx context.Context, in domain.BatchCoordinateInput) (string, error) {
	if in.BatchID == "" {
		in.BatchID = uuid.NewString()
	}
	if err := in.Validate(); err != nil {
		return "", err
	}
	if _, _, err := c.queue.Enqueue(ctx, domain.KindBatchCoordinate, domain.JobSpec{ID: in.BatchID, Payload: in}); err != nil {
		return "", err
	}
	c.logger.Info("Batch submitted for coordination",
		slog.String("batch_id", in.BatchID),
		slog.Int("creators", len(in.Creators)),
	)
	return in.BatchID, nil
}

// Seed creates the batch progress records, marks every creator platform pending and
// admits one scrape job per platform. If the queue cannot take the jobs the batch is
// marked failed and the error is returned.
func (c *Coordinator) Seed(ctx context.Context, in domain.BatchCoordinateInput) (*domain.BatchCoordinateResult, error) {
	if err := in.Validate(); err != nil {
		return nil, err
	}
	monthsBack := in.MonthsBack
	if monthsBack <= 0 {
		monthsBack = DefaultMonthsBack
	}

	creatorIDs := make([]string, 0, len(in.Creators))
	for _, seed := range in.Creators {
		creatorIDs = append(creatorIDs, seed.CreatorID)
	}

	batch, err := c.tracker.InitBatch(ctx, in.BatchID, creatorIDs)
	if err != nil {
		return nil, fmt.Errorf("init batch %s: %w", in.BatchID, err)
	}

	var specs []domain.JobSpec
	seen := make(map[string]bool)
	for _, seed := range in.Creators {
		if seen[seed.CreatorID] {
			continue
		}
		seen[seed.CreatorID] = true

		platforms := make(map[string]bool)
		for _, account := range seed.Accounts {
			platform := strings.ToLower(account.Platform)
			if platforms[platform] {
				continue
			}
			platforms[platform] = true

			if err := c.tracker.UpdatePlatformStatus(ctx, seed.CreatorID, platform, domain.StatusPending, ""); err != nil {
				return nil, c.failAdmission(ctx, in.BatchID, err)
			}
			specs = append(specs, domain.JobSpec{
				ID: ScrapeJobID(in.BatchID, seed.CreatorID, platform),
				Payload: domain.ScrapeInput{
					BatchID:    in.BatchID,
					CreatorID:  seed.CreatorID,
					Platform:   platform,
					Handle:     account.Handle,
					MonthsBack: monthsBack,
					MaxPosts:   in.MaxPosts,
				},
			})
		}

		// nothing to vet
		if len(platforms) == 0 {
			if _, err := c.tracker.UpdateCreatorStatus(ctx, seed.CreatorID, domain.StatusCompleted, ""); err != nil {
				return nil, c.failAdmission(ctx, in.BatchID, err)
			}
		}
	}

	added := 0
	if len(specs) > 0 {
		results, err := c.queue.EnqueueBulk(ctx, domain.KindScrape, specs)
		if err != nil {
			return nil, c.failAdmission(ctx, in.BatchID, err)
		}
		for _, r := range results {
			if r.Added {
				added++
			}
		}
	}

	c.logger.Info("Batch seeded",
		slog.String("batch_id", in.BatchID),
		slog.Int("creators", batch.TotalCreators),
		slog.Int("scrape_jobs", len(specs)),
		slog.Int("scrape_jobs_added", added),
	)

	return &domain.BatchCoordinateResult{
		BatchID:      in.BatchID,
		Creators:     batch.TotalCreators,
		JobsEnqueued: added,
	}, nil
}

func (c *Coordinator) failAdmission(ctx context.Context, batchID string, cause error) error {
	c.logger.Error("Batch admission failed",
		slog.String("batch_id", batchID),
		slog.Bool("broker_unavailable", errors.Is(cause, domain.ErrBrokerUnavailable)),
		slog.Any("error", cause),
	)
	if err := c.tracker.Fail(ctx, batchID, "admission failed: "+cause.Error()); err != nil {
		c.logger.Warn("Failed to mark batch failed",
			slog.String("batch_id", batchID),
			slog.Any("error", err),
		)
	}
	return fmt.Errorf("admit batch %s: %w", batchID, cause)
}

// Abandon fails the batch and discards every job still waiting in the given kinds.
// Draining is queue wide, so it is only meant for total abandonment.
func (c *Coordinator) Abandon(ctx context.Context, batchID, reason string, drain ...domain.Kind) (map[domain.Kind]int, error) {
	if reason == "" {
		reason = "abandoned"
	}
	if err := c.tracker.Fail(ctx, batchID, reason); err != nil {
		return nil, err
	}

	drained := make(map[domain.Kind]int, len(drain))
	for _, kind := range drain {
		n, err := c.queue.Drain(ctx, kind)
		if err != nil {
			return drained, fmt.Errorf("drain %s: %w", kind, err)
		}
		drained[kind] = n
	}

	c.logger.Warn("Batch abandoned",
		slog.String("batch_id", batchID),
		slog.String("reason", reason),
		slog.Any("drained", drained),
	)
	return drained, nil
}
