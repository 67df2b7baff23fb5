package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/cuongbtq/media-vetting/internal/domain"
	"github.com/cuongbtq/media-vetting/shared/redisstore"
)

// RateLimitError is returned by Claim when the kind's rate window is used up
type RateLimitError struct {
	RetryAfter time.Duration
}

func (e *RateLimitError) Error() string {
	return fmt.Sprintf("rate limit reached, retry after %s", e.RetryAfter)
}

func (e *RateLimitError) Unwrap() error {
	return domain.ErrRateLimited
}

// Claim moves the next runnable job of the kind to active under the given lock token.
// It returns (nil, nil) when the queue is empty or paused and a *RateLimitError when
// the kind already started its maximum number of jobs in the current window.
func (q *Queue) Claim(ctx context.Context, kind domain.Kind, token string, lease time.Duration) (*domain.Job, error) {
	k, spec, err := q.keysFor(kind)
	if err != nil {
		return nil, err
	}

	now := q.nowFn()
	reply, err := claimScript.Run(ctx, q.client,
		[]string{k.wait(), k.delayed(), k.active(), k.meta(), k.limiter(), k.seq()},
		k.jobPrefix(),
		ms(now),
		lease.Milliseconds(),
		spec.RateLimit.Max,
		spec.RateLimit.Duration.Milliseconds(),
		token,
	).Slice()
	if err != nil {
		return nil, redisstore.Classify(err)
	}
	if len(reply) == 0 {
		return nil, nil
	}

	status, _ := reply[0].(int64)
	switch status {
	case 0:
		return nil, nil
	case -1:
		var retryAfter int64
		if len(reply) > 1 {
			retryAfter, _ = reply[1].(int64)
		}
		return nil, &RateLimitError{RetryAfter: time.Duration(retryAfter) * time.Millisecond}
	}

	if len(reply) < 2 {
		return nil, fmt.Errorf("claim %s: malformed reply", kind)
	}
	flat, ok := reply[1].([]any)
	if !ok {
		return nil, fmt.Errorf("claim %s: malformed job reply", kind)
	}
	job, err := decodeJob(kind, flatToMap(flat))
	if err != nil {
		return nil, err
	}

	q.publish(ctx, k, Event{Type: EventActive, Kind: kind, JobID: job.ID, Attempt: job.AttemptsMade, Data: job.Payload})
	return job, nil
}

// ExtendLease pushes the lease expiry of a running job forward
func (q *Queue) ExtendLease(ctx context.Context, kind domain.Kind, id, token string, lease time.Duration) error {
	k, _, err := q.keysFor(kind)
	if err != nil {
		return err
	}
	ok, err := extendLeaseScript.Run(ctx, q.client,
		[]string{k.job(id), k.active()},
		id, token, ms(q.nowFn().Add(lease)),
	).Int()
	if err != nil {
		return redisstore.Classify(err)
	}
	if ok == 0 {
		return domain.ErrLeaseLost
	}
	return nil
}

// ReportProgress stores and broadcasts an in-flight progress record
func (q *Queue) ReportProgress(ctx context.Context, job *domain.Job, token string, progress domain.JobProgress) error {
	k, _, err := q.keysFor(job.Kind)
	if err != nil {
		return err
	}
	body, err := json.Marshal(progress)
	if err != nil {
		return err
	}
	ok, err := progressScript.Run(ctx, q.client, []string{k.job(job.ID)}, token, string(body)).Int()
	if err != nil {
		return redisstore.Classify(err)
	}
	if ok == 0 {
		return domain.ErrLeaseLost
	}
	q.publish(ctx, k, Event{
		Type:     EventProgress,
		Kind:     job.Kind,
		JobID:    job.ID,
		Attempt:  job.AttemptsMade,
		Data:     job.Payload,
		Progress: &progress,
	})
	return nil
}

// Complete records a successful result and applies the completed retention
func (q *Queue) Complete(ctx context.Context, job *domain.Job, token string, result *domain.JobResult) error {
	return q.finish(ctx, job, token, domain.JobStateCompleted, result)
}

// Fail records a terminal failure and applies the failed retention
func (q *Queue) Fail(ctx context.Context, job *domain.Job, token string, result *domain.JobResult) error {
	return q.finish(ctx, job, token, domain.JobStateFailed, result)
}

func (q *Queue) finish(ctx context.Context, job *domain.Job, token string, state domain.JobState, result *domain.JobResult) error {
	k, spec, err := q.keysFor(job.Kind)
	if err != nil {
		return err
	}

	body, err := json.Marshal(result)
	if err != nil {
		return fmt.Errorf("encode job result: %w", err)
	}

	target := k.completed()
	retention := spec.Policy.CompletedRetention
	evType := EventCompleted
	if state == domain.JobStateFailed {
		target = k.failed()
		retention = spec.Policy.FailedRetention
		evType = EventFailed
	}

	ok, err := finishScript.Run(ctx, q.client,
		[]string{k.job(job.ID), k.active(), target},
		job.ID,
		token,
		string(state),
		ms(q.nowFn()),
		retentionMs(retention),
		string(body),
		result.Error,
	).Int()
	if err != nil {
		return redisstore.Classify(err)
	}
	if ok != 1 {
		q.logger.Warn("Job finished after its lease was lost",
			slog.String("kind", string(job.Kind)),
			slog.String("job_id", job.ID),
			slog.String("state", string(state)),
		)
		return domain.ErrLeaseLost
	}

	q.publish(ctx, k, Event{
		Type:    evType,
		Kind:    job.Kind,
		JobID:   job.ID,
		Attempt: job.AttemptsMade,
		Data:    job.Payload,
		Result:  result,
		Error:   result.Error,
	})
	return nil
}

// Retry sends a failed attempt back to the delayed set to run again after delay
func (q *Queue) Retry(ctx context.Context, job *domain.Job, token, reason string, delay time.Duration) error {
	k, _, err := q.keysFor(job.Kind)
	if err != nil {
		return err
	}
	if delay < 0 {
		delay = 0
	}

	ok, err := retryScript.Run(ctx, q.client,
		[]string{k.job(job.ID), k.active(), k.delayed()},
		job.ID, token, ms(q.nowFn()), delay.Milliseconds(), reason,
	).Int()
	if err != nil {
		return redisstore.Classify(err)
	}
	if ok != 1 {
		return domain.ErrLeaseLost
	}

	q.publish(ctx, k, Event{
		Type:    EventRetrying,
		Kind:    job.Kind,
		JobID:   job.ID,
		Attempt: job.AttemptsMade,
		Data:    job.Payload,
		Error:   reason,
		Delay:   delay,
	})
	return nil
}

// Release hands a running job back to the waiting set without spending an attempt.
// Workers use it when they are aborted during shutdown.
func (q *Queue) Release(ctx context.Context, job *domain.Job, token, reason string) error {
	k, _, err := q.keysFor(job.Kind)
	if err != nil {
		return err
	}

	ok, err := releaseScript.Run(ctx, q.client,
		[]string{k.job(job.ID), k.active(), k.wait(), k.seq()},
		job.ID, token, reason,
	).Int()
	if err != nil {
		return redisstore.Classify(err)
	}
	if ok != 1 {
		return domain.ErrLeaseLost
	}

	q.publish(ctx, k, Event{
		Type:    EventWaiting,
		Kind:    job.Kind,
		JobID:   job.ID,
		Attempt: job.AttemptsMade - 1,
		Data:    job.Payload,
		Error:   reason,
	})
	return nil
}

// RecoverStalled returns jobs whose lease expired to the waiting set, or fails them
// when they have no attempts left. It returns the number of jobs handled.
func (q *Queue) RecoverStalled(ctx context.Context, kind domain.Kind) (int, error) {
	k, spec, err := q.keysFor(kind)
	if err != nil {
		return 0, err
	}

	now := q.nowFn()
	reply, err := recoverStalledScript.Run(ctx, q.client,
		[]string{k.active(), k.wait(), k.failed(), k.seq()},
		k.jobPrefix(), ms(now), retentionMs(spec.Policy.FailedRetention),
	).Slice()
	if err != nil {
		return 0, redisstore.Classify(err)
	}

	var requeued, failed []any
	if len(reply) > 0 {
		requeued, _ = reply[0].([]any)
	}
	if len(reply) > 1 {
		failed, _ = reply[1].([]any)
	}

	for _, raw := range requeued {
		id, _ := raw.(string)
		q.logger.Warn("Stalled job moved back to waiting",
			slog.String("kind", string(kind)),
			slog.String("job_id", id),
		)
		q.publish(ctx, k, Event{Type: EventStalled, Kind: kind, JobID: id})
	}

	for _, raw := range failed {
		id, _ := raw.(string)
		q.logger.Error("Stalled job failed permanently",
			slog.String("kind", string(kind)),
			slog.String("job_id", id),
		)
		ev := Event{Type: EventFailed, Kind: kind, JobID: id}
		if job, err := q.GetJob(ctx, kind, id); err == nil {
			ev.Data = job.Payload
			ev.Attempt = job.AttemptsMade
			ev.Error = job.FailedReason
			ev.Result = &domain.JobResult{JobID: id, Kind: kind, Success: false, Error: job.FailedReason}
		}
		q.publish(ctx, k, ev)
	}

	return len(requeued) + len(failed), nil
}
