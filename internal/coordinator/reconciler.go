package coordinator

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/cuongbtq/media-vetting/internal/domain"
	"github.com/cuongbtq/media-vetting/internal/progress"
	"github.com/cuongbtq/media-vetting/internal/queue"
)

// DefaultReconcileInterval is how often unsettled creators are checked against the queues
const DefaultReconcileInterval = 30 * time.Second

// ReconcilerConfig holds reconciler configuration
type ReconcilerConfig struct {
	Queue    *queue.Queue
	Tracker  *progress.Tracker
	Bridge   *Bridge
	Interval time.Duration
	Logger   *slog.Logger
}

// Reconciler catches up on queue events the bridge never saw. Queue events travel over
// pub/sub, so one published while no bridge was subscribed is gone. The reconciler reads
// the jobs of every unsettled creator straight from the queues and hands the outcome of
// finished ones to the bridge.
type Reconciler struct {
	queue    *queue.Queue
	tracker  *progress.Tracker
	bridge   *Bridge
	interval time.Duration
	logger   *slog.Logger
}

// NewReconciler creates a reconciler
func NewReconciler(cfg *ReconcilerConfig) *Reconciler {
	interval := cfg.Interval
	if interval <= 0 {
		interval = DefaultReconcileInterval
	}
	return &Reconciler{
		queue:    cfg.Queue,
		tracker:  cfg.Tracker,
		bridge:   cfg.Bridge,
		interval: interval,
		logger:   cfg.Logger,
	}
}

// Run sweeps once at start and then on every tick until ctx ends
func (r *Reconciler) Run(ctx context.Context) error {
	r.logger.Info("Progress reconciler started",
		slog.Duration("interval", r.interval),
	)

	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	for {
		if _, err := r.Sweep(ctx); err != nil && ctx.Err() == nil {
			r.logger.Error("Progress sweep failed",
				slog.Any("error", err),
			)
		}

		select {
		case <-ctx.Done():
			r.logger.Info("Progress reconciler stopped")
			return nil
		case <-ticker.C:
		}
	}
}

// Sweep replays every finished job of every unsettled creator of the active batches and
// returns how many it replayed. A creator that fails to reconcile is logged and skipped.
func (r *Reconciler) Sweep(ctx context.Context) (int, error) {
	batches, err := r.tracker.ActiveBatches(ctx)
	if err != nil {
		return 0, err
	}

	replayed := 0
	for _, batchID := range batches {
		creators, err := r.tracker.ListCreators(ctx, batchID)
		if ignoreMissing(err) {
			continue
		}
		if err != nil {
			return replayed, err
		}

		for i := range creators {
			creator := &creators[i]
			if creator.Status.Terminal() {
				continue
			}
			n, err := r.reconcileCreator(ctx, batchID, creator)
			replayed += n
			if err != nil && !ignoreMissing(err) {
				if ctx.Err() != nil {
					return replayed, ctx.Err()
				}
				r.logger.Warn("Failed to reconcile creator",
					slog.String("batch_id", batchID),
					slog.String("creator_id", creator.CreatorID),
					slog.Any("error", err),
				)
			}
		}
	}

	if replayed > 0 {
		r.logger.Info("Replayed missed job outcomes",
			slog.Int("jobs", replayed),
			slog.Int("batches", len(batches)),
		)
	}
	return replayed, nil
}

func (r *Reconciler) reconcileCreator(ctx context.Context, batchID string, creator *domain.CreatorProgress) (int, error) {
	replayed := 0

	for platform, entry := range creator.Platforms {
		if entry.Status.Terminal() {
			continue
		}
		ok, err := r.replay(ctx, domain.KindScrape, ScrapeJobID(batchID, creator.CreatorID, platform))
		if err != nil {
			return replayed, err
		}
		if ok {
			replayed++
		}
	}

	// read after the scrapes so media admitted by a replayed fan-out is included
	refs, err := r.tracker.PendingMedia(ctx, creator.CreatorID)
	if err != nil {
		return replayed, err
	}
	for _, ref := range refs {
		ok, err := r.replay(ctx, ref.Kind, ref.JobID)
		if err != nil {
			return replayed, err
		}
		if ok {
			replayed++
		}
	}

	return replayed, r.bridge.settle(ctx, creator.CreatorID)
}

// replay hands the outcome of a finished job to the bridge. Jobs still queued or
// running, and jobs already removed, are left alone.
func (r *Reconciler) replay(ctx context.Context, kind domain.Kind, jobID string) (bool, error) {
	job, err := r.queue.GetJob(ctx, kind, jobID)
	if errors.Is(err, domain.ErrJobNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}

	var typ queue.EventType
	switch job.State {
	case domain.JobStateCompleted:
		typ = queue.EventCompleted
	case domain.JobStateFailed:
		typ = queue.EventFailed
	default:
		return false, nil
	}

	r.logger.Debug("Replaying job outcome",
		slog.String("kind", string(kind)),
		slog.String("job_id", jobID),
		slog.String("state", string(job.State)),
	)
	err = r.bridge.Handle(ctx, queue.Event{
		Type:      typ,
		Kind:      kind,
		JobID:     job.ID,
		Attempt:   job.AttemptsMade,
		Data:      job.Payload,
		Result:    job.Result,
		Error:     job.FailedReason,
		Timestamp: time.Now(),
	})
	return err == nil, err
}
