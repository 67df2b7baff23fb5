package worker

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/cuongbtq/media-vetting/internal/queue"
	"github.com/google/uuid"
)

// startDispatcher claims jobs while pool slots are free and hands them to the pool.
// It returns when ctx is canceled or Stop is called.
func (w *Worker) startDispatcher(ctx context.Context) {
	w.logger.Info("Job dispatcher started",
		slog.String("worker_id", w.workerID),
	)

	for {
		// wait for a free slot before claiming so claimed jobs never sit unprocessed
		select {
		case <-ctx.Done():
			w.logger.Info("Job dispatcher stopped - context canceled")
			return
		case <-w.stopChan:
			w.logger.Info("Job dispatcher stopped - stopChan closed")
			return
		case w.slots <- struct{}{}:
		}

		claimed, wait := w.claimNext(ctx)
		if claimed != nil {
			w.jobsChan <- claimed
			w.logger.Debug("Job dispatched to worker pool",
				slog.String("job_id", claimed.job.ID),
			)
			continue
		}

		<-w.slots
		if !w.sleep(ctx, wait) {
			w.logger.Info("Job dispatcher stopped while idle")
			return
		}
	}
}

// claimNext claims one job. When nothing was claimed it returns how long to wait.
func (w *Worker) claimNext(ctx context.Context) (*claimedJob, time.Duration) {
	token := uuid.NewString()
	job, err := w.queue.Claim(ctx, w.kind, token, w.leaseDuration)
	if err != nil {
		var rateErr *queue.RateLimitError
		if errors.As(err, &rateErr) {
			w.logger.Debug("Rate limit reached, pausing claims",
				slog.Duration("retry_after", rateErr.RetryAfter),
			)
			if rateErr.RetryAfter > 0 {
				return nil, rateErr.RetryAfter
			}
			return nil, w.pollInterval
		}
		if ctx.Err() == nil {
			w.logger.Error("Failed to claim job",
				slog.String("worker_id", w.workerID),
				slog.String("error", err.Error()),
			)
		}
		return nil, w.pollInterval
	}
	if job == nil {
		return nil, w.pollInterval
	}
	return &claimedJob{job: job, token: token}, 0
}

func (w *Worker) sleep(ctx context.Context, d time.Duration) bool {
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return false
	case <-w.stopChan:
		return false
	case <-timer.C:
		return true
	}
}

// recoverStalledLoop periodically returns jobs with an expired lease to the queue
func (w *Worker) recoverStalledLoop(ctx context.Context) {
	defer w.wg.Done()

	ticker := time.NewTicker(w.stalledInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-w.stopChan:
			return
		case <-ticker.C:
			n, err := w.queue.RecoverStalled(ctx, w.kind)
			if err != nil {
				if ctx.Err() == nil {
					w.logger.Warn("Failed to recover stalled jobs",
						slog.String("error", err.Error()),
					)
				}
				continue
			}
			if n > 0 {
				w.logger.Warn("Recovered stalled jobs",
					slog.Int("count", n),
				)
			}
		}
	}
}
