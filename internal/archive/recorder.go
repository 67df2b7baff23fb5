package archive

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/cuongbtq/media-vetting/internal/domain"
	"github.com/cuongbtq/media-vetting/internal/queue"
	"golang.org/x/sync/errgroup"
)

// ResultSaver persists archive records
type ResultSaver interface {
	SaveResult(ctx context.Context, rec *Record) error
}

// RecorderConfig holds recorder configuration
type RecorderConfig struct {
	Queue  *queue.Queue
	Saver  ResultSaver
	Kinds  []domain.Kind
	Logger *slog.Logger
}

// Recorder archives every terminal job of the configured kinds
type Recorder struct {
	queue  *queue.Queue
	saver  ResultSaver
	kinds  []domain.Kind
	logger *slog.Logger
	nowFn  func() time.Time
}

// NewRecorder creates a recorder. No kinds means every catalog kind.
func NewRecorder(cfg *RecorderConfig) *Recorder {
	kinds := cfg.Kinds
	if len(kinds) == 0 {
		kinds = domain.Kinds()
	}
	return &Recorder{
		queue:  cfg.Queue,
		saver:  cfg.Saver,
		kinds:  kinds,
		logger: cfg.Logger,
		nowFn:  time.Now,
	}
}

// Run archives terminal events until ctx ends
func (r *Recorder) Run(ctx context.Context) error {
	subs := make([]*queue.Subscription, 0, len(r.kinds))
	for _, kind := range r.kinds {
		sub, err := r.queue.Subscribe(ctx, kind, queue.EventCompleted, queue.EventFailed)
		if err != nil {
			for _, s := range subs {
				s.Close()
			}
			return fmt.Errorf("subscribe %s: %w", kind, err)
		}
		subs = append(subs, sub)
	}

	r.logger.Info("Result recorder started", slog.Int("kinds", len(r.kinds)))

	var g errgroup.Group
	for _, sub := range subs {
		sub := sub
		g.Go(func() error {
			defer sub.Close()
			for ev := range sub.C {
				if err := r.Record(ctx, ev); err != nil {
					r.logger.Error("Failed to archive job result",
						slog.String("kind", string(ev.Kind)),
						slog.String("job_id", ev.JobID),
						slog.Any("error", err),
					)
				}
			}
			return nil
		})
	}

	err := g.Wait()
	r.logger.Info("Result recorder stopped")
	return err
}

// Record archives one terminal event. Other events are ignored.
func (r *Recorder) Record(ctx context.Context, ev queue.Event) error {
	if !ev.Terminal() || ev.JobID == "" {
		return nil
	}

	result := ev.Result
	if result == nil {
		result = &domain.JobResult{Success: ev.Type == queue.EventCompleted, Error: ev.Error}
	}
	if result.JobID == "" {
		result.JobID = ev.JobID
	}
	if result.Kind == "" {
		result.Kind = ev.Kind
	}

	finishedAt := ev.Timestamp
	if finishedAt.IsZero() {
		finishedAt = r.nowFn()
	}

	rec, err := NewRecord(result, ev.Data, ev.Attempt, finishedAt)
	if err != nil {
		return err
	}
	return r.saver.SaveResult(ctx, rec)
}
