package queue

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"github.com/cuongbtq/media-vetting/internal/domain"
	"github.com/cuongbtq/media-vetting/shared/redisstore"
	"github.com/redis/go-redis/v9"
)

// EventType names a queue notification
type EventType string

const (
	EventWaiting   EventType = "waiting"
	EventActive    EventType = "active"
	EventProgress  EventType = "progress"
	EventCompleted EventType = "completed"
	EventRetrying  EventType = "retrying"
	EventFailed    EventType = "failed"
	EventStalled   EventType = "stalled"
	EventPaused    EventType = "paused"
	EventResumed   EventType = "resumed"
	EventDrained   EventType = "drained"
)

// Event is published on the kind's channel for every job state change.
// Data carries the job input so subscribers can route without a lookup.
type Event struct {
	Type      EventType           `json:"type"`
	Kind      domain.Kind         `json:"kind"`
	JobID     string              `json:"job_id,omitempty"`
	Attempt   int                 `json:"attempt,omitempty"`
	Data      json.RawMessage     `json:"data,omitempty"`
	Progress  *domain.JobProgress `json:"progress,omitempty"`
	Result    *domain.JobResult   `json:"result,omitempty"`
	Error     string              `json:"error,omitempty"`
	Delay     time.Duration       `json:"delay,omitempty"`
	Count     int                 `json:"count,omitempty"`
	Timestamp time.Time           `json:"timestamp"`
}

// Terminal reports whether the event ends the job's life in the queue
func (e Event) Terminal() bool {
	return e.Type == EventCompleted || e.Type == EventFailed
}

func (q *Queue) publish(ctx context.Context, k keys, ev Event) {
	if ev.Timestamp.IsZero() {
		ev.Timestamp = q.nowFn().UTC()
	}
	body, err := json.Marshal(ev)
	if err != nil {
		q.logger.Error("Failed to encode queue event",
			slog.String("type", string(ev.Type)),
			slog.Any("error", err),
		)
		return
	}
	if err := q.client.Publish(ctx, k.events(), body).Err(); err != nil {
		q.logger.Warn("Failed to publish queue event",
			slog.String("type", string(ev.Type)),
			slog.String("job_id", ev.JobID),
			slog.Any("error", err),
		)
	}
}

// Subscription delivers queue events until closed
type Subscription struct {
	C <-chan Event

	pubsub *redis.PubSub
	cancel context.CancelFunc
	done   chan struct{}
	once   sync.Once
}

// Close stops delivery and closes C
func (s *Subscription) Close() {
	s.once.Do(func() {
		s.cancel()
		_ = s.pubsub.Close()
		<-s.done
	})
}

// Subscribe streams events of one kind. With no types every event is delivered.
// The subscription is active when Subscribe returns.
func (q *Queue) Subscribe(ctx context.Context, kind domain.Kind, types ...EventType) (*Subscription, error) {
	spec, err := q.Spec(kind)
	if err != nil {
		return nil, err
	}
	k := newKeys(q.prefix, spec.QueueName)

	pubsub := q.client.Subscribe(ctx, k.events())
	if _, err := pubsub.Receive(ctx); err != nil {
		_ = pubsub.Close()
		return nil, redisstore.Classify(err)
	}

	want := make(map[EventType]bool, len(types))
	for _, t := range types {
		want[t] = true
	}

	subCtx, cancel := context.WithCancel(ctx)
	out := make(chan Event, 64)
	sub := &Subscription{
		C:      out,
		pubsub: pubsub,
		cancel: cancel,
		done:   make(chan struct{}),
	}

	messages := pubsub.Channel()
	go func() {
		defer close(sub.done)
		defer close(out)

		for {
			select {
			case <-subCtx.Done():
				return
			case msg, ok := <-messages:
				if !ok {
					return
				}
				var ev Event
				if err := json.Unmarshal([]byte(msg.Payload), &ev); err != nil {
					q.logger.Warn("Dropping malformed queue event",
						slog.String("channel", msg.Channel),
						slog.Any("error", err),
					)
					continue
				}
				if len(want) > 0 && !want[ev.Type] {
					continue
				}
				select {
				case out <- ev:
				case <-subCtx.Done():
					return
				}
			}
		}
	}()

	return sub, nil
}

// on runs fn for every matching event on a goroutine of its own, so a slow
// callback never holds up the dispatch loop that published the event.
func (q *Queue) on(ctx context.Context, kind domain.Kind, t EventType, fn func(Event)) (func(), error) {
	sub, err := q.Subscribe(ctx, kind, t)
	if err != nil {
		return nil, err
	}
	go func() {
		for ev := range sub.C {
			fn(ev)
		}
	}()
	return sub.Close, nil
}

// OnCompleted calls fn for every completed job of the kind. The returned func unsubscribes.
func (q *Queue) OnCompleted(ctx context.Context, kind domain.Kind, fn func(Event)) (func(), error) {
	return q.on(ctx, kind, EventCompleted, fn)
}

// OnFailed calls fn for every job of the kind that failed terminally
func (q *Queue) OnFailed(ctx context.Context, kind domain.Kind, fn func(Event)) (func(), error) {
	return q.on(ctx, kind, EventFailed, fn)
}

// OnProgress calls fn for every progress report of the kind
func (q *Queue) OnProgress(ctx context.Context, kind domain.Kind, fn func(Event)) (func(), error) {
	return q.on(ctx, kind, EventProgress, fn)
}
