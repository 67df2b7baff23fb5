package progress

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

// UpdateType names what changed
type UpdateType string

const (
	UpdateCreator  UpdateType = "creator"
	UpdatePlatform UpdateType = "platform"
	UpdateVideo    UpdateType = "video"
	UpdateBatch    UpdateType = "batch"
)

// Update is broadcast after every committed mutation. Subscribers may see duplicates
// or reordering and should overlay updates onto their own copy; GetProgress is authoritative.
type Update struct {
	Type      UpdateType            `json:"type"`
	BatchID   string                `json:"batch_id"`
	CreatorID string                `json:"creator_id,omitempty"`
	Platform  string                `json:"platform,omitempty"`
	Status    string                `json:"status,omitempty"`
	Error     string                `json:"error,omitempty"`
	Delta     *domain.VideoDelta    `json:"delta,omitempty"`
	Batch     *domain.BatchProgress `json:"batch,omitempty"`
	Timestamp time.Time             `json:"timestamp"`
}

func (t *Tracker) publish(ctx context.Context, u Update) {
	if u.BatchID == "" {
		return
	}
	if u.Timestamp.IsZero() {
		u.Timestamp = t.nowFn().UTC()
	}
	body, err := json.Marshal(u)
	if err != nil {
		t.logger.Error("Failed to encode progress update",
			slog.String("type", string(u.Type)),
			slog.Any("error", err),
		)
		return
	}
	if err := t.client.Publish(ctx, t.keys.updates(u.BatchID), body).Err(); err != nil {
		t.logger.Warn("Failed to publish progress update",
			slog.String("batch_id", u.BatchID),
			slog.String("type", string(u.Type)),
			slog.Any("error", err),
		)
	}
}

// Subscription delivers the updates of one batch until closed
type Subscription struct {
	C <-chan Update

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

// Subscribe streams the updates of a batch. The subscription is live when it returns,
// so a GetProgress right after it never misses a later change.
func (t *Tracker) Subscribe(ctx context.Context, batchID string) (*Subscription, error) {
	pubsub := t.client.Subscribe(ctx, t.keys.updates(batchID))
	if _, err := pubsub.Receive(ctx); err != nil {
		_ = pubsub.Close()
		return nil, redisstore.Classify(err)
	}

	subCtx, cancel := context.WithCancel(ctx)
	out := make(chan Update, 64)
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
				var u Update
				if err := json.Unmarshal([]byte(msg.Payload), &u); err != nil {
					t.logger.Warn("Dropping malformed progress update",
						slog.String("channel", msg.Channel),
						slog.Any("error", err),
					)
					continue
				}
				select {
				case out <- u:
				case <-subCtx.Done():
					return
				}
			}
		}
	}()

	return sub, nil
}
