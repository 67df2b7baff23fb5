package queue

import (
	"context"
	"testing"
	"time"

	"github.com/cuongbtq/media-vetting/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func nextEvent(t *testing.T, c <-chan Event) Event {
	t.Helper()
	select {
	case ev, ok := <-c:
		require.True(t, ok, "subscription closed")
		return ev
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for queue event")
		return Event{}
	}
}

func TestSubscribe_DeliversLifecycle(t *testing.T) {
	q, _, _ := newTestQueue(t)
	ctx := context.Background()

	sub, err := q.Subscribe(ctx, domain.KindScrape)
	require.NoError(t, err)
	defer sub.Close()

	_, _, err = q.Enqueue(ctx, domain.KindScrape, scrapeJob("j1"))
	require.NoError(t, err)
	job, err := q.Claim(ctx, domain.KindScrape, "tok", time.Minute)
	require.NoError(t, err)
	require.NoError(t, q.Complete(ctx, job, "tok", &domain.JobResult{JobID: "j1", Kind: domain.KindScrape, Success: true}))

	var types []EventType
	for i := 0; i < 3; i++ {
		ev := nextEvent(t, sub.C)
		assert.Equal(t, "j1", ev.JobID)
		assert.Equal(t, domain.KindScrape, ev.Kind)
		types = append(types, ev.Type)
	}
	assert.Equal(t, []EventType{EventWaiting, EventActive, EventCompleted}, types)
}

func TestSubscribe_FiltersTypes(t *testing.T) {
	q, _, _ := newTestQueue(t)
	ctx := context.Background()

	sub, err := q.Subscribe(ctx, domain.KindScrape, EventFailed)
	require.NoError(t, err)
	defer sub.Close()

	_, _, err = q.Enqueue(ctx, domain.KindScrape, scrapeJob("j1"))
	require.NoError(t, err)
	job, err := q.Claim(ctx, domain.KindScrape, "tok", time.Minute)
	require.NoError(t, err)
	require.NoError(t, q.Fail(ctx, job, "tok", &domain.JobResult{JobID: "j1", Kind: domain.KindScrape, Error: "handle not found"}))

	ev := nextEvent(t, sub.C)
	assert.Equal(t, EventFailed, ev.Type)
	assert.True(t, ev.Terminal())
	assert.Equal(t, "handle not found", ev.Error)
	require.NotNil(t, ev.Result)
	assert.False(t, ev.Result.Success)

	var input domain.ScrapeInput
	require.NoError(t, job.DecodePayload(&input))
	assert.Equal(t, "@creator", input.Handle)
}

func TestOnCompleted(t *testing.T) {
	q, _, _ := newTestQueue(t)
	ctx := context.Background()

	got := make(chan Event, 1)
	unsubscribe, err := q.OnCompleted(ctx, domain.KindScrape, func(ev Event) {
		got <- ev
	})
	require.NoError(t, err)
	defer unsubscribe()

	_, _, err = q.Enqueue(ctx, domain.KindScrape, scrapeJob("j1"))
	require.NoError(t, err)
	job, err := q.Claim(ctx, domain.KindScrape, "tok", time.Minute)
	require.NoError(t, err)

	result := &domain.JobResult{
		JobID:   "j1",
		Kind:    domain.KindScrape,
		Success: true,
		Scrape:  &domain.ScrapeResult{Platform: domain.PlatformTikTok, Handle: "@creator"},
	}
	require.NoError(t, q.Complete(ctx, job, "tok", result))

	ev := nextEvent(t, got)
	assert.Equal(t, EventCompleted, ev.Type)
	require.NotNil(t, ev.Result)
	require.NotNil(t, ev.Result.Scrape)
	assert.Equal(t, "@creator", ev.Result.Scrape.Handle)
}

func TestSubscribe_CloseIsIdempotent(t *testing.T) {
	q, _, _ := newTestQueue(t)

	sub, err := q.Subscribe(context.Background(), domain.KindVideoAnalysis)
	require.NoError(t, err)

	sub.Close()
	sub.Close()

	_, ok := <-sub.C
	assert.False(t, ok)
}
