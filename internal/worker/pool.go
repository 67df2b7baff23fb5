package worker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/cuongbtq/media-vetting/internal/domain"
)

// spawnWorkerPool spawns N worker goroutines based on concurrency configuration
func (w *Worker) spawnWorkerPool(ctx context.Context) {
	w.logger.Info("Spawning worker pool",
		slog.Int("concurrency", w.concurrency),
		slog.String("worker_id", w.workerID),
	)

	for i := 0; i < w.concurrency; i++ {
		w.wg.Add(1)
		go w.workerLoop(ctx, i)
	}

	w.logger.Info("Worker pool spawned successfully",
		slog.Int("worker_count", w.concurrency),
	)
}

// workerLoop is the main processing loop for each worker goroutine.
// It drains jobsChan until the dispatcher closes it, releasing one slot per job.
func (w *Worker) workerLoop(ctx context.Context, workerNum int) {
	defer w.wg.Done()

	workerName := fmt.Sprintf("%s-%d", w.workerID, workerNum)
	w.logger.Debug("Worker goroutine started",
		slog.String("worker_name", workerName),
		slog.Int("worker_num", workerNum),
	)

	for claimed := range w.jobsChan {
		w.logger.Debug("Worker received job",
			slog.String("worker_name", workerName),
			slog.String("job_id", claimed.job.ID),
			slog.Int("attempt", claimed.job.Attempt()),
		)

		w.processJob(ctx, claimed)
		<-w.slots
	}

	w.logger.Debug("Worker goroutine stopping - jobsChan closed",
		slog.String("worker_name", workerName),
	)
}

// shouldRetry decides whether a failed attempt goes back to the queue
func (w *Worker) shouldRetry(job *domain.Job, err error) bool {
	// Another worker owns the job now
	if errors.Is(err, domain.ErrLeaseLost) {
		return false
	}

	// Invalid input never gets better
	if !domain.IsRetryable(err) {
		return false
	}

	return job.AttemptsMade < job.MaxAttempts
}
