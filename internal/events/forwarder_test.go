package events

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/cuongbtq/media-vetting/internal/domain"
	"github.com/cuongbtq/media-vetting/internal/queue"
	"github.com/cuongbtq/media-vetting/shared/redisstore/redistest"
	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingSink struct {
	name string
	err  error

	mu     sync.Mutex
	msgs   []Message
	closed bool
}

func (s *recordingSink) Name() string { return s.name }

func (s *recordingSink) Publish(_ context.Context, msg Message) error {
	if s.err != nil {
		return s.err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.msgs = append(s.msgs, msg)
	return nil
}

func (s *recordingSink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

func (s *recordingSink) messages() []Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Message(nil), s.msgs...)
}

func TestNewJobEvent(t *testing.T) {
	at := time.Date(2026, 6, 1, 10, 0, 0, 0, time.FixedZone("ICT", 7*3600))

	tests := []struct {
		name    string
		event   queue.Event
		success bool
		errMsg  string
		batchID string
		procMs  int64
	}{
		{
			name: "completed with result",
			event: queue.Event{
				Type: queue.EventCompleted, Kind: domain.KindVideoAnalysis, JobID: "v1", Attempt: 1,
				Data:      json.RawMessage(`{"batch_id":"b1","video_id":"v1"}`),
				Result:    &domain.JobResult{JobID: "v1", Kind: domain.KindVideoAnalysis, Success: true, ProcessingTimeMs: 900},
				Timestamp: at,
			},
			success: true,
			batchID: "b1",
			procMs:  900,
		},
		{
			name: "failed without result",
			event: queue.Event{
				Type: queue.EventFailed, Kind: domain.KindScrape, JobID: "s1", Attempt: 3,
				Error: "profile not found", Timestamp: at,
			},
			errMsg: "profile not found",
		},
		{
			name: "failed result error is carried",
			event: queue.Event{
				Type: queue.EventFailed, Kind: domain.KindImageAnalysis, JobID: "i1", Attempt: 1,
				Result:    &domain.JobResult{JobID: "i1", Success: false, Error: "validation error: media_url is required"},
				Timestamp: at,
			},
			errMsg: "validation error: media_url is required",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := NewJobEvent(tt.event)
			assert.NotEmpty(t, got.EventID)
			assert.Equal(t, tt.event.JobID, got.JobID)
			assert.Equal(t, tt.success, got.Success)
			assert.Equal(t, tt.errMsg, got.Error)
			assert.Equal(t, tt.batchID, got.BatchID)
			assert.Equal(t, tt.procMs, got.ProcessingTimeMs)
			assert.Equal(t, time.UTC, got.OccurredAt.Location())
		})
	}
}

func TestRoutingKey(t *testing.T) {
	assert.Equal(t, "job.scrape.completed", RoutingKey(domain.KindScrape, queue.EventCompleted))
	assert.Equal(t, "job.video-analysis.failed", RoutingKey(domain.KindVideoAnalysis, queue.EventFailed))
}

func TestForwarder_Forward(t *testing.T) {
	ctx := context.Background()

	t.Run("publishes terminal events to every sink", func(t *testing.T) {
		a, b := &recordingSink{name: "a"}, &recordingSink{name: "b"}
		f := NewForwarder(&ForwarderConfig{Sinks: []Sink{a, b}, Logger: redistest.Logger()})

		require.NoError(t, f.Forward(ctx, queue.Event{Type: queue.EventCompleted, Kind: domain.KindScrape, JobID: "b1:c1:tiktok"}))

		for _, sink := range []*recordingSink{a, b} {
			msgs := sink.messages()
			require.Len(t, msgs, 1)
			assert.Equal(t, "job.scrape.completed", msgs[0].RoutingKey)
			assert.Equal(t, "b1:c1:tiktok", msgs[0].Key)

			var body JobEvent
			require.NoError(t, json.Unmarshal(msgs[0].Body, &body))
			assert.Equal(t, queue.EventCompleted, body.Type)
			assert.True(t, body.Success)
		}
	})

	t.Run("ignores non terminal events", func(t *testing.T) {
		sink := &recordingSink{name: "a"}
		f := NewForwarder(&ForwarderConfig{Sinks: []Sink{sink}, Logger: redistest.Logger()})

		require.NoError(t, f.Forward(ctx, queue.Event{Type: queue.EventProgress, Kind: domain.KindScrape, JobID: "j"}))
		require.NoError(t, f.Forward(ctx, queue.Event{Type: queue.EventDrained, Kind: domain.KindScrape}))
		assert.Empty(t, sink.messages())
	})

	t.Run("a failing sink does not block the others", func(t *testing.T) {
		broken := &recordingSink{name: "broken", err: errors.New("broker down")}
		ok := &recordingSink{name: "ok"}
		f := NewForwarder(&ForwarderConfig{Sinks: []Sink{broken, ok}, Logger: redistest.Logger()})

		err := f.Forward(ctx, queue.Event{Type: queue.EventFailed, Kind: domain.KindImageAnalysis, JobID: "i1"})
		require.Error(t, err)
		assert.Contains(t, err.Error(), "broken: broker down")
		assert.Len(t, ok.messages(), 1)
	})
}

func TestForwarder_Close(t *testing.T) {
	a, b := &recordingSink{name: "a"}, &recordingSink{name: "b"}
	f := NewForwarder(&ForwarderConfig{Sinks: []Sink{a, b}, Logger: redistest.Logger()})
	require.NoError(t, f.Close())
	assert.True(t, a.closed)
	assert.True(t, b.closed)
}

func TestForwarder_RunFollowsQueue(t *testing.T) {
	store, mr := redistest.New(t)
	q := queue.New(&queue.Config{Store: store, Logger: redistest.Logger()})
	sink := &recordingSink{name: "memory"}
	f := NewForwarder(&ForwarderConfig{
		Queue:  q,
		Sinks:  []Sink{sink},
		Kinds:  []domain.Kind{domain.KindScrape},
		Logger: redistest.Logger(),
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	done := make(chan error, 1)
	go func() { done <- f.Run(ctx) }()
	require.Eventually(t, func() bool {
		return mr.PubSubNumSub("vq:scrape:events")["vq:scrape:events"] == 1
	}, 2*time.Second, 10*time.Millisecond)

	_, _, err := q.Enqueue(ctx, domain.KindScrape, domain.JobSpec{
		ID:      "b1:c1:tiktok",
		Payload: domain.ScrapeInput{BatchID: "b1", CreatorID: "c1", Platform: "tiktok", Handle: "c1"},
	})
	require.NoError(t, err)
	job, err := q.Claim(ctx, domain.KindScrape, "tok", time.Minute)
	require.NoError(t, err)
	require.NotNil(t, job)
	require.NoError(t, q.Complete(ctx, job, "tok", &domain.JobResult{
		JobID: "b1:c1:tiktok", Kind: domain.KindScrape, Success: true,
		Scrape: &domain.ScrapeResult{Platform: "tiktok", Handle: "c1"},
	}))

	require.Eventually(t, func() bool { return len(sink.messages()) == 1 }, 2*time.Second, 10*time.Millisecond)

	var body JobEvent
	require.NoError(t, json.Unmarshal(sink.messages()[0].Body, &body))
	assert.Equal(t, "b1", body.BatchID)
	assert.Equal(t, 1, body.Attempt)

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("forwarder did not stop")
	}
}

type fakeWriter struct {
	msgs   []kafka.Message
	err    error
	closed bool
}

func (w *fakeWriter) WriteMessages(_ context.Context, msgs ...kafka.Message) error {
	if w.err != nil {
		return w.err
	}
	w.msgs = append(w.msgs, msgs...)
	return nil
}

func (w *fakeWriter) Close() error {
	w.closed = true
	return nil
}

func TestKafkaSink(t *testing.T) {
	at := time.Date(2026, 6, 1, 0, 0, 0, 0, time.UTC)
	w := &fakeWriter{}
	sink := newKafkaSink(w, "vetting.job-events")
	sink.nowFn = func() time.Time { return at }

	require.NoError(t, sink.Publish(context.Background(), Message{
		RoutingKey: "job.scrape.failed",
		Key:        "b1:c1:tiktok",
		Body:       []byte(`{"type":"failed"}`),
	}))
	require.Len(t, w.msgs, 1)
	got := w.msgs[0]
	assert.Equal(t, "vetting.job-events", got.Topic)
	assert.Equal(t, []byte("b1:c1:tiktok"), got.Key)
	assert.Equal(t, at, got.Time)
	require.Len(t, got.Headers, 1)
	assert.Equal(t, "job.scrape.failed", string(got.Headers[0].Value))

	w.err = errors.New("leader not available")
	err := sink.Publish(context.Background(), Message{Key: "k"})
	assert.ErrorContains(t, err, "failed to write kafka message")

	require.NoError(t, sink.Close())
	assert.True(t, w.closed)
}

func TestNewKafkaSink_Validation(t *testing.T) {
	_, err := NewKafkaSink(KafkaConfig{Topic: "t"})
	assert.ErrorContains(t, err, "brokers")

	_, err = NewKafkaSink(KafkaConfig{Brokers: []string{"localhost:9092"}})
	assert.ErrorContains(t, err, "topic")

	sink, err := NewKafkaSink(KafkaConfig{Brokers: []string{"localhost:9092"}, Topic: "t"})
	require.NoError(t, err)
	assert.Equal(t, "kafka", sink.Name())
}

type fakePublisher struct {
	key, contentType string
	body             []byte
}

func (p *fakePublisher) Publish(_ context.Context, routingKey string, body []byte, contentType string) error {
	p.key, p.body, p.contentType = routingKey, body, contentType
	return nil
}

func (p *fakePublisher) Close() error { return nil }

func TestRabbitSink(t *testing.T) {
	pub := &fakePublisher{}
	sink := &RabbitSink{client: pub}

	require.NoError(t, sink.Publish(context.Background(), Message{RoutingKey: "job.scrape.completed", Key: "j", Body: []byte("{}")}))
	assert.Equal(t, "job.scrape.completed", pub.key)
	assert.Equal(t, "application/json", pub.contentType)
	assert.Equal(t, "rabbitmq", sink.Name())
}
