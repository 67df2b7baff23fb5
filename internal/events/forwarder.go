package events

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/cuongbtq/media-vetting/internal/domain"
	"github.com/cuongbtq/media-vetting/internal/queue"
	"golang.org/x/sync/errgroup"
)

// ForwarderConfig holds forwarder configuration
type ForwarderConfig struct {
	Queue  *queue.Queue
	Sinks  []Sink
	Kinds  []domain.Kind
	Logger *slog.Logger
}

// Forwarder republishes terminal job events to external sinks
type Forwarder struct {
	queue  *queue.Queue
	sinks  []Sink
	kinds  []domain.Kind
	logger *slog.Logger
}

// NewForwarder creates a forwarder. No kinds means every catalog kind.
func NewForwarder(cfg *ForwarderConfig) *Forwarder {
	kinds := cfg.Kinds
	if len(kinds) == 0 {
		kinds = domain.Kinds()
	}
	return &Forwarder{
		queue:  cfg.Queue,
		sinks:  cfg.Sinks,
		kinds:  kinds,
		logger: cfg.Logger,
	}
}

// Run forwards events until ctx ends
func (f *Forwarder) Run(ctx context.Context) error {
	subs := make([]*queue.Subscription, 0, len(f.kinds))
	for _, kind := range f.kinds {
		sub, err := f.queue.Subscribe(ctx, kind, queue.EventCompleted, queue.EventFailed)
		if err != nil {
			for _, s := range subs {
				s.Close()
			}
			return fmt.Errorf("subscribe %s: %w", kind, err)
		}
		subs = append(subs, sub)
	}

	names := make([]string, 0, len(f.sinks))
	for _, s := range f.sinks {
		names = append(names, s.Name())
	}
	f.logger.Info("Event forwarder started",
		slog.Int("kinds", len(f.kinds)),
		slog.Any("sinks", names),
	)

	var g errgroup.Group
	for _, sub := range subs {
		sub := sub
		g.Go(func() error {
			defer sub.Close()
			for ev := range sub.C {
				if err := f.Forward(ctx, ev); err != nil {
					f.logger.Error("Failed to forward job event",
						slog.String("kind", string(ev.Kind)),
						slog.String("job_id", ev.JobID),
						slog.String("type", string(ev.Type)),
						slog.Any("error", err),
					)
				}
			}
			return nil
		})
	}

	err := g.Wait()
	f.logger.Info("Event forwarder stopped")
	return err
}

// Forward publishes one terminal event to every sink. Other events are ignored.
// A failing sink does not stop delivery to the rest.
func (f *Forwarder) Forward(ctx context.Context, ev queue.Event) error {
	if !ev.Terminal() || ev.JobID == "" {
		return nil
	}

	body, err := json.Marshal(NewJobEvent(ev))
	if err != nil {
		return fmt.Errorf("failed to marshal job event: %w", err)
	}
	msg := Message{
		RoutingKey: RoutingKey(ev.Kind, ev.Type),
		Key:        ev.JobID,
		Body:       body,
	}

	var errs []error
	for _, sink := range f.sinks {
		if err := sink.Publish(ctx, msg); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", sink.Name(), err))
			continue
		}
		f.logger.Debug("Job event forwarded",
			slog.String("sink", sink.Name()),
			slog.String("routing_key", msg.RoutingKey),
			slog.String("job_id", ev.JobID),
		)
	}
	return errors.Join(errs...)
}

// Close closes every sink
func (f *Forwarder) Close() error {
	var errs []error
	for _, sink := range f.sinks {
		if err := sink.Close(); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", sink.Name(), err))
		}
	}
	return errors.Join(errs...)
}
