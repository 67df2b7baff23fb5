package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/cuongbtq/media-vetting/internal/domain"
	"github.com/cuongbtq/media-vetting/shared/redisstore"
	"github.com/redis/go-redis/v9"
)

// DefaultPrefix namespaces every queue key
const DefaultPrefix = "vq"

// Config holds queue manager configuration
type Config struct {
	Store  *redisstore.Store
	Logger *slog.Logger
	// Specs overrides catalog entries (concurrency, rate limits) per kind
	Specs  map[domain.Kind]domain.KindSpec
	Prefix string
}

// Queue admits, introspects and controls jobs of every kind without executing them
type Queue struct {
	client *redis.Client
	logger *slog.Logger
	specs  map[domain.Kind]domain.KindSpec
	prefix string
	nowFn  func() time.Time
}

// New creates a queue manager on top of the shared store
func New(cfg *Config) *Queue {
	specs := make(map[domain.Kind]domain.KindSpec)
	for _, kind := range domain.Kinds() {
		spec, _ := domain.Lookup(kind)
		specs[kind] = spec
	}
	for kind, spec := range cfg.Specs {
		specs[kind] = spec
	}

	prefix := cfg.Prefix
	if prefix == "" {
		prefix = DefaultPrefix
	}

	return &Queue{
		client: cfg.Store.Client(),
		logger: cfg.Logger,
		specs:  specs,
		prefix: prefix,
		nowFn:  time.Now,
	}
}

// Spec returns the effective catalog entry for a kind
func (q *Queue) Spec(kind domain.Kind) (domain.KindSpec, error) {
	spec, ok := q.specs[kind]
	if !ok {
		return domain.KindSpec{}, fmt.Errorf("%w: %q", domain.ErrUnknownKind, kind)
	}
	return spec, nil
}

func (q *Queue) keysFor(kind domain.Kind) (keys, domain.KindSpec, error) {
	spec, err := q.Spec(kind)
	if err != nil {
		return keys{}, spec, err
	}
	return newKeys(q.prefix, spec.QueueName), spec, nil
}

// EnqueueResult reports the outcome of one job of a bulk admission
type EnqueueResult struct {
	Job   *domain.Job
	Added bool
}

type preparedJob struct {
	spec     domain.JobSpec
	data     []byte
	attempts int
}

func (q *Queue) prepare(kind domain.Kind, spec domain.KindSpec, js domain.JobSpec) (*preparedJob, error) {
	if js.ID == "" {
		return nil, domain.NewValidationError("id", "is required")
	}
	if js.Priority < 0 {
		return nil, domain.NewValidationError("priority", "must not be negative")
	}
	if js.Delay < 0 {
		return nil, domain.NewValidationError("delay", "must not be negative")
	}
	if p, ok := js.Payload.(domain.Payload); ok {
		if err := p.Validate(); err != nil {
			return nil, err
		}
	}

	data, err := json.Marshal(js.Payload)
	if err != nil {
		return nil, domain.NewValidationError("payload", "cannot be encoded: "+err.Error())
	}

	attempts := spec.Policy.Attempts
	if js.Attempts > 0 {
		attempts = js.Attempts
	}
	if attempts < 1 {
		attempts = 1
	}

	return &preparedJob{spec: js, data: data, attempts: attempts}, nil
}

func (q *Queue) enqueueArgs(kind domain.Kind, k keys, p *preparedJob, now time.Time) ([]string, []any) {
	return []string{k.job(p.spec.ID), k.wait(), k.delayed(), k.seq()},
		[]any{
			p.spec.ID,
			string(kind),
			string(p.data),
			p.attempts,
			p.spec.Priority,
			p.spec.Delay.Milliseconds(),
			ms(now),
		}
}

func (q *Queue) admitted(kind domain.Kind, p *preparedJob, now time.Time) *domain.Job {
	state := domain.JobStateWaiting
	if p.spec.Delay > 0 {
		state = domain.JobStateDelayed
	}
	return &domain.Job{
		ID:          p.spec.ID,
		Kind:        kind,
		Payload:     p.data,
		State:       state,
		MaxAttempts: p.attempts,
		Priority:    p.spec.Priority,
		Delay:       p.spec.Delay,
		EnqueuedAt:  now.UTC().Truncate(time.Millisecond),
	}
}

// Enqueue admits one job. Re-admitting an existing id is a no-op that returns
// the stored job with added=false.
func (q *Queue) Enqueue(ctx context.Context, kind domain.Kind, js domain.JobSpec) (*domain.Job, bool, error) {
	k, spec, err := q.keysFor(kind)
	if err != nil {
		return nil, false, err
	}
	p, err := q.prepare(kind, spec, js)
	if err != nil {
		return nil, false, err
	}

	now := q.nowFn()
	keyList, args := q.enqueueArgs(kind, k, p, now)
	added, err := enqueueScript.Run(ctx, q.client, keyList, args...).Int()
	if err != nil {
		q.logger.Error("Failed to enqueue job",
			slog.String("kind", string(kind)),
			slog.String("job_id", js.ID),
			slog.Any("error", err),
		)
		return nil, false, redisstore.Classify(err)
	}

	if added == 0 {
		q.logger.Debug("Job already admitted, skipping",
			slog.String("kind", string(kind)),
			slog.String("job_id", js.ID),
		)
		existing, err := q.GetJob(ctx, kind, js.ID)
		if err != nil {
			return nil, false, err
		}
		return existing, false, nil
	}

	job := q.admitted(kind, p, now)
	q.publish(ctx, k, Event{Type: EventWaiting, Kind: kind, JobID: job.ID, Data: job.Payload})

	q.logger.Debug("Job enqueued",
		slog.String("kind", string(kind)),
		slog.String("job_id", job.ID),
		slog.String("state", string(job.State)),
	)
	return job, true, nil
}

// EnqueueBulk admits many jobs in one MULTI/EXEC round trip. Payloads are validated
// before anything is written. When jobs cannot be submitted a *domain.BulkError names them.
func (q *Queue) EnqueueBulk(ctx context.Context, kind domain.Kind, specs []domain.JobSpec) ([]EnqueueResult, error) {
	k, spec, err := q.keysFor(kind)
	if err != nil {
		return nil, err
	}
	if len(specs) == 0 {
		return nil, nil
	}

	prepared := make([]*preparedJob, len(specs))
	for i, js := range specs {
		p, err := q.prepare(kind, spec, js)
		if err != nil {
			return nil, fmt.Errorf("job %q: %w", js.ID, err)
		}
		prepared[i] = p
	}

	now := q.nowFn()
	cmds := make([]*redis.Cmd, len(prepared))
	_, execErr := q.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		for i, p := range prepared {
			keyList, args := q.enqueueArgs(kind, k, p, now)
			cmds[i] = enqueueScript.Eval(ctx, pipe, keyList, args...)
		}
		return nil
	})

	results := make([]EnqueueResult, len(prepared))
	failed := make(map[string]error)
	for i, p := range prepared {
		added, err := cmds[i].Int()
		if err != nil {
			failed[p.spec.ID] = redisstore.Classify(err)
			continue
		}
		results[i] = EnqueueResult{Job: q.admitted(kind, p, now), Added: added == 1}
	}

	if len(failed) > 0 {
		q.logger.Error("Bulk enqueue failed",
			slog.String("kind", string(kind)),
			slog.Int("failed", len(failed)),
			slog.Int("total", len(prepared)),
			slog.Any("error", execErr),
		)
		return results, &domain.BulkError{Failed: failed}
	}

	addedCount := 0
	for i, r := range results {
		if !r.Added {
			if existing, err := q.GetJob(ctx, kind, r.Job.ID); err == nil {
				results[i].Job = existing
			}
			continue
		}
		addedCount++
		q.publish(ctx, k, Event{Type: EventWaiting, Kind: kind, JobID: r.Job.ID, Data: r.Job.Payload})
	}

	q.logger.Info("Bulk enqueue completed",
		slog.String("kind", string(kind)),
		slog.Int("submitted", len(prepared)),
		slog.Int("added", addedCount),
	)
	return results, nil
}

// Counts is a point-in-time view of a queue
type Counts struct {
	Waiting   int64 `json:"waiting"`
	Active    int64 `json:"active"`
	Completed int64 `json:"completed"`
	Failed    int64 `json:"failed"`
	Delayed   int64 `json:"delayed"`
	Paused    bool  `json:"paused"`
}

// Stats returns job counts by state. Finished jobs past their retention are trimmed first.
func (q *Queue) Stats(ctx context.Context, kind domain.Kind) (Counts, error) {
	k, spec, err := q.keysFor(kind)
	if err != nil {
		return Counts{}, err
	}

	now := ms(q.nowFn())
	pipe := q.client.Pipeline()
	if keep := retentionMs(spec.Policy.CompletedRetention); keep > 0 {
		pipe.ZRemRangeByScore(ctx, k.completed(), "-inf", fmt.Sprintf("(%d", now-keep))
	}
	if keep := retentionMs(spec.Policy.FailedRetention); keep > 0 {
		pipe.ZRemRangeByScore(ctx, k.failed(), "-inf", fmt.Sprintf("(%d", now-keep))
	}
	waiting := pipe.ZCard(ctx, k.wait())
	active := pipe.ZCard(ctx, k.active())
	completed := pipe.ZCard(ctx, k.completed())
	failed := pipe.ZCard(ctx, k.failed())
	delayed := pipe.ZCard(ctx, k.delayed())
	paused := pipe.HGet(ctx, k.meta(), "paused")

	if _, err := pipe.Exec(ctx); err != nil && !errors.Is(err, redis.Nil) {
		return Counts{}, redisstore.Classify(err)
	}

	return Counts{
		Waiting:   waiting.Val(),
		Active:    active.Val(),
		Completed: completed.Val(),
		Failed:    failed.Val(),
		Delayed:   delayed.Val(),
		Paused:    paused.Val() == "1",
	}, nil
}

// Pause stops dispatch of new jobs. Admitted and running jobs are kept.
func (q *Queue) Pause(ctx context.Context, kind domain.Kind) error {
	k, _, err := q.keysFor(kind)
	if err != nil {
		return err
	}
	if err := q.client.HSet(ctx, k.meta(), "paused", "1").Err(); err != nil {
		return redisstore.Classify(err)
	}
	q.publish(ctx, k, Event{Type: EventPaused, Kind: kind})
	q.logger.Info("Queue paused", slog.String("kind", string(kind)))
	return nil
}

// Resume restarts dispatch after Pause
func (q *Queue) Resume(ctx context.Context, kind domain.Kind) error {
	k, _, err := q.keysFor(kind)
	if err != nil {
		return err
	}
	if err := q.client.HDel(ctx, k.meta(), "paused").Err(); err != nil {
		return redisstore.Classify(err)
	}
	q.publish(ctx, k, Event{Type: EventResumed, Kind: kind})
	q.logger.Info("Queue resumed", slog.String("kind", string(kind)))
	return nil
}

// IsPaused reports whether dispatch is paused for the kind
func (q *Queue) IsPaused(ctx context.Context, kind domain.Kind) (bool, error) {
	k, _, err := q.keysFor(kind)
	if err != nil {
		return false, err
	}
	v, err := q.client.HGet(ctx, k.meta(), "paused").Result()
	if errors.Is(err, redis.Nil) {
		return false, nil
	}
	if err != nil {
		return false, redisstore.Classify(err)
	}
	return v == "1", nil
}

// Drain irrecoverably discards every waiting and delayed job of the kind.
// Jobs already running are not affected.
func (q *Queue) Drain(ctx context.Context, kind domain.Kind) (int, error) {
	k, _, err := q.keysFor(kind)
	if err != nil {
		return 0, err
	}
	n, err := drainScript.Run(ctx, q.client, []string{k.wait(), k.delayed()}, k.jobPrefix()).Int()
	if err != nil {
		return 0, redisstore.Classify(err)
	}
	q.publish(ctx, k, Event{Type: EventDrained, Kind: kind, Count: n})
	q.logger.Warn("Queue drained",
		slog.String("kind", string(kind)),
		slog.Int("discarded", n),
	)
	return n, nil
}

// GetJob returns one job with its current state, progress and result
func (q *Queue) GetJob(ctx context.Context, kind domain.Kind, id string) (*domain.Job, error) {
	k, _, err := q.keysFor(kind)
	if err != nil {
		return nil, err
	}
	fields, err := q.client.HGetAll(ctx, k.job(id)).Result()
	if err != nil {
		return nil, redisstore.Classify(err)
	}
	if len(fields) == 0 {
		return nil, fmt.Errorf("%w: %s/%s", domain.ErrJobNotFound, kind, id)
	}
	return decodeJob(kind, fields)
}
