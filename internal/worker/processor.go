package worker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/cuongbtq/media-vetting/internal/domain"
)

// finalizeTimeout bounds the status write after a job ends, even during shutdown
const finalizeTimeout = 10 * time.Second

// ProgressReporter publishes in-flight progress of the running job.
// Percentages never go backwards: a lower value than the last report is raised to it.
type ProgressReporter interface {
	Report(ctx context.Context, progress domain.JobProgress) error
}

type jobReporter struct {
	w       *Worker
	claimed *claimedJob

	mu   sync.Mutex
	last int
}

func (r *jobReporter) Report(ctx context.Context, progress domain.JobProgress) error {
	r.mu.Lock()
	if progress.Percentage < r.last {
		progress.Percentage = r.last
	}
	if progress.Percentage > 100 {
		progress.Percentage = 100
	}
	r.last = progress.Percentage
	r.mu.Unlock()

	if err := r.w.queue.ReportProgress(ctx, r.claimed.job, r.claimed.token, progress); err != nil {
		r.w.logger.Warn("Failed to report job progress",
			slog.String("job_id", r.claimed.job.ID),
			slog.String("stage", string(progress.Stage)),
			slog.String("error", err.Error()),
		)
		return err
	}
	return nil
}

// processJob runs one claimed job with timeout, lease heartbeat and status update
func (w *Worker) processJob(ctx context.Context, claimed *claimedJob) {
	job := claimed.job
	w.logger.Info("Processing job",
		slog.String("job_id", job.ID),
		slog.String("worker_id", w.workerID),
		slog.Int("attempt", job.Attempt()),
		slog.Int("max_attempts", job.MaxAttempts),
	)

	started := time.Now()

	// the Start ctx ending means "stop claiming", never "stop this job"
	jobCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), w.jobTimeout)
	defer cancel()
	stopAbort := context.AfterFunc(w.abortCtx, cancel)
	defer stopAbort()

	heartbeatDone := make(chan struct{})
	go w.sendJobHeartbeat(jobCtx, cancel, claimed, heartbeatDone)

	result, err := w.executeJob(jobCtx, claimed)
	close(heartbeatDone)

	if claimed.leaseLost.Load() {
		err = domain.ErrLeaseLost
	}

	aborted := w.abortCtx.Err() != nil
	if err != nil && !aborted && errors.Is(jobCtx.Err(), context.DeadlineExceeded) {
		err = fmt.Errorf("%w: job exceeded %s: %v", domain.ErrTimeout, w.jobTimeout, err)
	}

	// status writes must land even if the worker is shutting down
	finalCtx, finalCancel := context.WithTimeout(context.WithoutCancel(ctx), finalizeTimeout)
	defer finalCancel()

	elapsed := time.Since(started)
	if err != nil && aborted && !claimed.leaseLost.Load() {
		w.release(finalCtx, claimed, err)
		return
	}
	if err != nil {
		w.handleFailure(finalCtx, claimed, err, elapsed)
		return
	}

	if result == nil {
		result = &domain.JobResult{}
	}
	result.JobID = job.ID
	result.Kind = job.Kind
	result.Success = true
	result.ProcessingTimeMs = elapsed.Milliseconds()

	if err := w.queue.Complete(finalCtx, job, claimed.token, result); err != nil {
		w.logger.Error("Failed to mark job completed",
			slog.String("job_id", job.ID),
			slog.String("error", err.Error()),
		)
		return
	}

	w.logger.Info("Job completed successfully",
		slog.String("job_id", job.ID),
		slog.Duration("elapsed", elapsed),
	)
}

func (w *Worker) handleFailure(ctx context.Context, claimed *claimedJob, err error, elapsed time.Duration) {
	job := claimed.job

	if errors.Is(err, domain.ErrLeaseLost) {
		w.logger.Warn("Job lease lost, leaving it to its new owner",
			slog.String("job_id", job.ID),
		)
		return
	}

	if w.shouldRetry(job, err) {
		delay := w.spec.Policy.Backoff.Delay(job.Attempt())
		w.logger.Warn("Job will be retried",
			slog.String("job_id", job.ID),
			slog.Int("attempt", job.Attempt()),
			slog.Int("max_attempts", job.MaxAttempts),
			slog.Duration("delay", delay),
			slog.String("error", err.Error()),
		)
		if retryErr := w.queue.Retry(ctx, job, claimed.token, err.Error(), delay); retryErr != nil {
			w.logger.Error("Failed to schedule job retry",
				slog.String("job_id", job.ID),
				slog.String("error", retryErr.Error()),
			)
		}
		return
	}

	w.logger.Error("Job failed permanently",
		slog.String("job_id", job.ID),
		slog.Int("attempt", job.Attempt()),
		slog.Bool("retryable", domain.IsRetryable(err)),
		slog.String("error", err.Error()),
	)
	if failErr := w.queue.Fail(ctx, job, claimed.token, domain.Failure(job.ID, job.Kind, err, elapsed)); failErr != nil {
		w.logger.Error("Failed to mark job failed",
			slog.String("job_id", job.ID),
			slog.String("error", failErr.Error()),
		)
	}
}

// release returns an interrupted job to the queue without charging the attempt
func (w *Worker) release(ctx context.Context, claimed *claimedJob, cause error) {
	job := claimed.job
	w.logger.Warn("Job interrupted by shutdown, releasing it",
		slog.String("job_id", job.ID),
		slog.Int("attempt", job.Attempt()),
		slog.String("error", cause.Error()),
	)
	if err := w.queue.Release(ctx, job, claimed.token, "interrupted by worker shutdown"); err != nil {
		w.logger.Error("Failed to release interrupted job",
			slog.String("job_id", job.ID),
			slog.String("error", err.Error()),
		)
	}
}

// executeJob calls the handler, turning a panic into a permanent failure
func (w *Worker) executeJob(ctx context.Context, claimed *claimedJob) (result *domain.JobResult, err error) {
	defer func() {
		if r := recover(); r != nil {
			w.logger.Error("Job handler panicked",
				slog.String("job_id", claimed.job.ID),
				slog.Any("panic", r),
			)
			err = domain.NewPermanentCapabilityError("handle", fmt.Errorf("panic: %v", r))
		}
	}()

	reporter := &jobReporter{w: w, claimed: claimed}
	return w.handler.Handle(ctx, claimed.job, reporter)
}

// sendJobHeartbeat keeps the job lease alive. If the lease was taken over the job
// context is canceled so the handler stops early.
func (w *Worker) sendJobHeartbeat(ctx context.Context, cancel context.CancelFunc, claimed *claimedJob, done <-chan struct{}) {
	interval := w.leaseDuration / 3
	if interval <= 0 {
		interval = time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	jobID := claimed.job.ID
	for {
		select {
		case <-done:
			return

		case <-ctx.Done():
			return

		case <-ticker.C:
			err := w.queue.ExtendLease(ctx, w.kind, jobID, claimed.token, w.leaseDuration)
			switch {
			case errors.Is(err, domain.ErrLeaseLost):
				w.logger.Warn("Job lease lost, canceling execution",
					slog.String("job_id", jobID),
				)
				claimed.leaseLost.Store(true)
				cancel()
				return
			case err != nil:
				w.logger.Warn("Failed to extend job lease",
					slog.String("job_id", jobID),
					slog.String("error", err.Error()),
				)
			default:
				w.logger.Debug("Job lease extended",
					slog.String("job_id", jobID),
				)
			}
		}
	}
}
