package progress

import (
	"context"
	"fmt"
	"math/rand"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/cuongbtq/media-vetting/internal/domain"
	"github.com/cuongbtq/media-vetting/shared/redisstore/redistest"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestTracker(t *testing.T) (*Tracker, *miniredis.Miniredis) {
	t.Helper()
	store, mr := redistest.New(t)
	tracker := New(&Config{Store: store, Logger: redistest.Logger(), Retention: time.Hour})
	return tracker, mr
}

func assertBalanced(t *testing.T, p *domain.BatchProgress) {
	t.Helper()
	assert.Equal(t, p.TotalCreators,
		p.PendingCreators+p.ProcessingCreators+p.CompletedCreators+p.FailedCreators,
		"creator buckets must add up to the total: %+v", p)
}

func TestInitBatch(t *testing.T) {
	tracker, _ := newTestTracker(t)
	ctx := context.Background()

	batch, err := tracker.InitBatch(ctx, "b1", []string{"c1", "c2", "c3", "c2", ""})
	require.NoError(t, err)
	assert.Equal(t, domain.BatchProcessing, batch.Status)
	assert.Equal(t, 3, batch.TotalCreators)
	assert.Equal(t, 3, batch.PendingCreators)
	assert.False(t, batch.StartedAt.IsZero())
	assert.Nil(t, batch.CompletedAt)
	assertBalanced(t, batch)

	creator, err := tracker.GetCreatorProgress(ctx, "c2")
	require.NoError(t, err)
	assert.Equal(t, domain.StatusPending, creator.Status)
	assert.Equal(t, "b1", creator.BatchID)
	assert.Empty(t, creator.Platforms)

	creators, err := tracker.ListCreators(ctx, "b1")
	require.NoError(t, err)
	require.Len(t, creators, 3)
	assert.Equal(t, "c1", creators[0].CreatorID)

	// re-initializing keeps the stored state
	_, err = tracker.UpdateCreatorStatus(ctx, "c1", domain.StatusProcessing, "")
	require.NoError(t, err)
	again, err := tracker.InitBatch(ctx, "b1", []string{"c1", "c2", "c3"})
	require.NoError(t, err)
	assert.Equal(t, 1, again.ProcessingCreators)
	assert.Equal(t, 2, again.PendingCreators)
}

func TestInitBatch_NoCreatorsCompletesImmediately(t *testing.T) {
	tracker, mr := newTestTracker(t)

	batch, err := tracker.InitBatch(context.Background(), "empty", nil)
	require.NoError(t, err)
	assert.Equal(t, domain.BatchCompleted, batch.Status)
	assert.Equal(t, 0, batch.TotalCreators)
	assert.NotNil(t, batch.CompletedAt)
	assert.Equal(t, 100, batch.Percentage())
	assert.Greater(t, mr.TTL("vp:batch:empty"), time.Duration(0))
}

func TestInitBatch_RequiresID(t *testing.T) {
	tracker, _ := newTestTracker(t)

	_, err := tracker.InitBatch(context.Background(), "", []string{"c1"})
	var vErr *domain.ValidationError
	assert.ErrorAs(t, err, &vErr)
}

func TestBatchLifecycle(t *testing.T) {
	tracker, mr := newTestTracker(t)
	ctx := context.Background()

	_, err := tracker.InitBatch(ctx, "b1", []string{"c1", "c2", "c3"})
	require.NoError(t, err)

	steps := []struct {
		creator string
		status  domain.ItemStatus
		errMsg  string
		want    [4]int // pending, processing, completed, failed
		done    bool
	}{
		{"c1", domain.StatusProcessing, "", [4]int{2, 1, 0, 0}, false},
		{"c2", domain.StatusProcessing, "", [4]int{1, 2, 0, 0}, false},
		{"c1", domain.StatusCompleted, "", [4]int{1, 1, 1, 0}, false},
		{"c2", domain.StatusFailed, "scrape failed", [4]int{1, 0, 1, 1}, false},
		{"c2", domain.StatusFailed, "scrape failed", [4]int{1, 0, 1, 1}, false},
		{"c3", domain.StatusCompleted, "", [4]int{0, 0, 2, 1}, true},
	}

	for i, step := range steps {
		tr, err := tracker.UpdateCreatorStatus(ctx, step.creator, step.status, step.errMsg)
		require.NoError(t, err, "step %d", i)
		assert.Equal(t, step.done, tr.BatchCompleted, "step %d", i)
		assert.True(t, tr.Applied)

		batch, err := tracker.GetProgress(ctx, "b1")
		require.NoError(t, err)
		got := [4]int{batch.PendingCreators, batch.ProcessingCreators, batch.CompletedCreators, batch.FailedCreators}
		assert.Equal(t, step.want, got, "step %d", i)
		assertBalanced(t, batch)
	}

	batch, err := tracker.GetProgress(ctx, "b1")
	require.NoError(t, err)
	assert.Equal(t, domain.BatchCompleted, batch.Status)
	assert.NotNil(t, batch.CompletedAt)
	assert.Equal(t, 100, batch.Percentage())

	failed, err := tracker.GetCreatorProgress(ctx, "c2")
	require.NoError(t, err)
	assert.Equal(t, "scrape failed", failed.Error)

	// retention is scheduled on completion, records stay readable meanwhile
	for _, key := range []string{"vp:batch:b1", "vp:batch:b1:creators", "vp:creator:c1", "vp:creator:c3"} {
		assert.Greater(t, mr.TTL(key), time.Duration(0), key)
	}
}

func TestUpdateCreatorStatus_ConcurrentKeepsCountersBalanced(t *testing.T) {
	tracker, _ := newTestTracker(t)
	ctx := context.Background()

	const creators = 25
	ids := make([]string, creators)
	for i := range ids {
		ids[i] = fmt.Sprintf("creator-%02d", i)
	}
	_, err := tracker.InitBatch(ctx, "load", ids)
	require.NoError(t, err)

	var completions atomic.Int32
	var wg sync.WaitGroup
	for i, id := range ids {
		wg.Add(1)
		go func(seed int64, id string) {
			defer wg.Done()
			rng := rand.New(rand.NewSource(seed))

			statuses := []domain.ItemStatus{domain.StatusPending, domain.StatusProcessing}
			for n := rng.Intn(6); n > 0; n-- {
				tr, err := tracker.UpdateCreatorStatus(ctx, id, statuses[rng.Intn(len(statuses))], "")
				if assert.NoError(t, err) && tr.BatchCompleted {
					completions.Add(1)
				}
			}

			final := domain.StatusCompleted
			if rng.Intn(3) == 0 {
				final = domain.StatusFailed
			}
			tr, err := tracker.UpdateCreatorStatus(ctx, id, final, "")
			if assert.NoError(t, err) && tr.BatchCompleted {
				completions.Add(1)
			}
		}(int64(i), id)
	}

	stop := make(chan struct{})
	readerDone := make(chan struct{})
	go func() {
		defer close(readerDone)
		for {
			select {
			case <-stop:
				return
			default:
			}
			batch, err := tracker.GetProgress(ctx, "load")
			if assert.NoError(t, err) {
				assertBalanced(t, batch)
			}
		}
	}()

	wg.Wait()
	close(stop)
	<-readerDone

	batch, err := tracker.GetProgress(ctx, "load")
	require.NoError(t, err)
	assertBalanced(t, batch)
	assert.Equal(t, creators, batch.CompletedCreators+batch.FailedCreators)
	assert.Equal(t, domain.BatchCompleted, batch.Status)
	assert.Equal(t, int32(1), completions.Load(), "batch completes exactly once")
}

func TestStartCreator_OnlyFromPending(t *testing.T) {
	tracker, _ := newTestTracker(t)
	ctx := context.Background()

	_, err := tracker.InitBatch(ctx, "b1", []string{"c1", "c2"})
	require.NoError(t, err)

	tr, err := tracker.StartCreator(ctx, "c1")
	require.NoError(t, err)
	assert.True(t, tr.Applied)
	assert.Equal(t, domain.StatusPending, tr.From)

	_, err = tracker.UpdateCreatorStatus(ctx, "c1", domain.StatusCompleted, "")
	require.NoError(t, err)

	tr, err = tracker.StartCreator(ctx, "c1")
	require.NoError(t, err)
	assert.False(t, tr.Applied)
	assert.Equal(t, domain.StatusCompleted, tr.To)

	creator, err := tracker.GetCreatorProgress(ctx, "c1")
	require.NoError(t, err)
	assert.Equal(t, domain.StatusCompleted, creator.Status)
}

func TestUpdateCreatorStatus_Errors(t *testing.T) {
	tracker, _ := newTestTracker(t)
	ctx := context.Background()

	_, err := tracker.UpdateCreatorStatus(ctx, "ghost", domain.StatusCompleted, "")
	assert.ErrorIs(t, err, domain.ErrCreatorNotFound)

	_, err = tracker.UpdateCreatorStatus(ctx, "ghost", "done", "")
	assert.ErrorIs(t, err, domain.ErrInvalidStatus)
}

func TestUpdatePlatformStatus(t *testing.T) {
	tracker, _ := newTestTracker(t)
	ctx := context.Background()
	now := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	tracker.nowFn = func() time.Time { return now }

	_, err := tracker.InitBatch(ctx, "b1", []string{"c1"})
	require.NoError(t, err)

	require.NoError(t, tracker.UpdatePlatformStatus(ctx, "c1", "tiktok", domain.StatusPending, ""))
	require.NoError(t, tracker.UpdatePlatformStatus(ctx, "c1", "youtube", domain.StatusProcessing, ""))
	now = now.Add(time.Minute)
	require.NoError(t, tracker.UpdatePlatformStatus(ctx, "c1", "youtube", domain.StatusFailed, "channel not found"))

	creator, err := tracker.GetCreatorProgress(ctx, "c1")
	require.NoError(t, err)
	require.Len(t, creator.Platforms, 2)

	tiktok := creator.Platforms["tiktok"]
	assert.Equal(t, domain.StatusPending, tiktok.Status)
	assert.Nil(t, tiktok.StartedAt)

	youtube := creator.Platforms["youtube"]
	assert.Equal(t, domain.StatusFailed, youtube.Status)
	assert.Equal(t, "channel not found", youtube.Error)
	require.NotNil(t, youtube.StartedAt)
	require.NotNil(t, youtube.CompletedAt)
	assert.Equal(t, time.Minute, youtube.CompletedAt.Sub(*youtube.StartedAt))

	batch, err := tracker.GetProgress(ctx, "b1")
	require.NoError(t, err)
	assert.Equal(t, 1, batch.PendingCreators, "platform updates leave creator counters alone")

	err = tracker.UpdatePlatformStatus(ctx, "ghost", "tiktok", domain.StatusPending, "")
	assert.ErrorIs(t, err, domain.ErrCreatorNotFound)
}

func TestUpdateVideoProgress_Commutative(t *testing.T) {
	tracker, _ := newTestTracker(t)
	ctx := context.Background()

	_, err := tracker.InitBatch(ctx, "b1", []string{"c1", "c2"})
	require.NoError(t, err)

	var wg sync.WaitGroup
	for i := 0; i < 40; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			creator := "c1"
			if i%2 == 1 {
				creator = "c2"
			}
			delta := domain.VideoDelta{Total: 1}
			switch i % 4 {
			case 0, 1:
				delta.Completed = 1
			case 2:
				delta.Failed = 1
			}
			assert.NoError(t, tracker.UpdateVideoProgress(ctx, creator, delta))
		}(i)
	}
	wg.Wait()

	batch, err := tracker.GetProgress(ctx, "b1")
	require.NoError(t, err)
	assert.Equal(t, 40, batch.TotalVideos)
	assert.Equal(t, 20, batch.CompletedVideos)
	assert.Equal(t, 10, batch.FailedVideos)

	c1, err := tracker.GetCreatorProgress(ctx, "c1")
	require.NoError(t, err)
	c2, err := tracker.GetCreatorProgress(ctx, "c2")
	require.NoError(t, err)
	assert.Equal(t, 40, c1.VideoProgress.Total+c2.VideoProgress.Total)
	assert.Equal(t, batch.CompletedVideos, c1.VideoProgress.Completed+c2.VideoProgress.Completed)

	assert.NoError(t, tracker.UpdateVideoProgress(ctx, "c1", domain.VideoDelta{}))
	assert.ErrorIs(t, tracker.UpdateVideoProgress(ctx, "ghost", domain.VideoDelta{Total: 1}), domain.ErrCreatorNotFound)
}

func TestFailAndComplete(t *testing.T) {
	tracker, mr := newTestTracker(t)
	ctx := context.Background()

	_, err := tracker.InitBatch(ctx, "b1", []string{"c1", "c2"})
	require.NoError(t, err)

	require.NoError(t, tracker.Fail(ctx, "b1", "abandoned by operator"))
	batch, err := tracker.GetProgress(ctx, "b1")
	require.NoError(t, err)
	assert.Equal(t, domain.BatchFailed, batch.Status)
	assert.Equal(t, "abandoned by operator", batch.Error)
	assert.Greater(t, mr.TTL("vp:creator:c1"), time.Duration(0))

	// a late creator completion does not resurrect or re-complete a failed batch
	_, err = tracker.UpdateCreatorStatus(ctx, "c1", domain.StatusCompleted, "")
	require.NoError(t, err)
	tr, err := tracker.UpdateCreatorStatus(ctx, "c2", domain.StatusCompleted, "")
	require.NoError(t, err)
	assert.False(t, tr.BatchCompleted)

	require.NoError(t, tracker.Complete(ctx, "b1"))
	batch, err = tracker.GetProgress(ctx, "b1")
	require.NoError(t, err)
	assert.Equal(t, domain.BatchCompleted, batch.Status)

	assert.ErrorIs(t, tracker.Fail(ctx, "ghost", "x"), domain.ErrBatchNotFound)
}

func TestCleanup(t *testing.T) {
	tracker, mr := newTestTracker(t)
	ctx := context.Background()

	_, err := tracker.InitBatch(ctx, "b1", []string{"c1", "c2"})
	require.NoError(t, err)

	require.NoError(t, tracker.Cleanup(ctx, "b1", 10*time.Minute))

	// still readable until the ttl elapses
	_, err = tracker.GetProgress(ctx, "b1")
	require.NoError(t, err)
	assert.Equal(t, 10*time.Minute, mr.TTL("vp:creator:c2"))

	mr.FastForward(11 * time.Minute)

	_, err = tracker.GetProgress(ctx, "b1")
	assert.ErrorIs(t, err, domain.ErrBatchNotFound)
	_, err = tracker.GetCreatorProgress(ctx, "c1")
	assert.ErrorIs(t, err, domain.ErrCreatorNotFound)

	assert.ErrorIs(t, tracker.Cleanup(ctx, "b1", time.Minute), domain.ErrBatchNotFound)
}

func TestSubscribe(t *testing.T) {
	tracker, _ := newTestTracker(t)
	ctx := context.Background()

	_, err := tracker.InitBatch(ctx, "b1", []string{"c1"})
	require.NoError(t, err)

	sub, err := tracker.Subscribe(ctx, "b1")
	require.NoError(t, err)
	defer sub.Close()

	require.NoError(t, tracker.UpdatePlatformStatus(ctx, "c1", "tiktok", domain.StatusProcessing, ""))
	require.NoError(t, tracker.UpdateVideoProgress(ctx, "c1", domain.VideoDelta{Total: 3}))
	_, err = tracker.UpdateCreatorStatus(ctx, "c1", domain.StatusCompleted, "")
	require.NoError(t, err)

	var got []Update
	for len(got) < 4 {
		select {
		case u := <-sub.C:
			got = append(got, u)
		case <-time.After(2 * time.Second):
			t.Fatalf("timed out after %d updates", len(got))
		}
	}

	assert.Equal(t, UpdatePlatform, got[0].Type)
	assert.Equal(t, "tiktok", got[0].Platform)
	assert.Equal(t, UpdateVideo, got[1].Type)
	require.NotNil(t, got[1].Delta)
	assert.Equal(t, 3, got[1].Delta.Total)
	assert.Equal(t, UpdateCreator, got[2].Type)
	assert.Equal(t, "completed", got[2].Status)
	assert.Equal(t, UpdateBatch, got[3].Type)
	require.NotNil(t, got[3].Batch)
	assert.Equal(t, domain.BatchCompleted, got[3].Batch.Status)
	for _, u := range got {
		assert.Equal(t, "b1", u.BatchID)
		assert.False(t, u.Timestamp.IsZero())
	}
}

func TestUpdatePlatformStatus_TerminalIsFinal(t *testing.T) {
	tracker, _ := newTestTracker(t)
	ctx := context.Background()

	_, err := tracker.InitBatch(ctx, "b1", []string{"c1"})
	require.NoError(t, err)

	tests := []struct {
		name   string
		status domain.ItemStatus
		want   domain.ItemStatus
	}{
		{name: "processing after completed", status: domain.StatusProcessing, want: domain.StatusCompleted},
		{name: "pending after completed", status: domain.StatusPending, want: domain.StatusCompleted},
		{name: "failed after completed", status: domain.StatusFailed, want: domain.StatusFailed},
	}

	require.NoError(t, tracker.UpdatePlatformStatus(ctx, "c1", "tiktok", domain.StatusCompleted, ""))
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			require.NoError(t, tracker.UpdatePlatformStatus(ctx, "c1", "tiktok", tt.status, ""))
			creator, err := tracker.GetCreatorProgress(ctx, "c1")
			require.NoError(t, err)
			assert.Equal(t, tt.want, creator.Platforms["tiktok"].Status)
		})
	}
}

func TestMediaAccounting_Idempotent(t *testing.T) {
	tracker, _ := newTestTracker(t)
	ctx := context.Background()

	_, err := tracker.InitBatch(ctx, "b1", []string{"c1"})
	require.NoError(t, err)

	refs := []MediaRef{
		{Kind: domain.KindVideoAnalysis, JobID: "b1:c1:tiktok:p1"},
		{Kind: domain.KindVideoAnalysis, JobID: "b1:c1:tiktok:p2"},
		{Kind: domain.KindImageAnalysis, JobID: "b1:c1:tiktok:p3"},
	}

	added, err := tracker.AddMedia(ctx, "c1", refs[:2])
	require.NoError(t, err)
	assert.Equal(t, 2, added)
	added, err = tracker.AddMedia(ctx, "c1", refs)
	require.NoError(t, err)
	assert.Equal(t, 1, added, "only the new job is counted")

	counted, err := tracker.FinishMedia(ctx, "c1", refs[0], false)
	require.NoError(t, err)
	assert.True(t, counted)
	counted, err = tracker.FinishMedia(ctx, "c1", refs[0], false)
	require.NoError(t, err)
	assert.False(t, counted, "a repeated outcome is ignored")
	counted, err = tracker.FinishMedia(ctx, "c1", refs[2], true)
	require.NoError(t, err)
	assert.True(t, counted)

	pending, err := tracker.PendingMedia(ctx, "c1")
	require.NoError(t, err)
	assert.Equal(t, []MediaRef{refs[1]}, pending)

	creator, err := tracker.GetCreatorProgress(ctx, "c1")
	require.NoError(t, err)
	assert.Equal(t, domain.VideoTally{Total: 3, Completed: 1, Failed: 1}, creator.VideoProgress)

	batch, err := tracker.GetProgress(ctx, "b1")
	require.NoError(t, err)
	assert.Equal(t, 3, batch.TotalVideos)
	assert.Equal(t, 1, batch.CompletedVideos)
	assert.Equal(t, 1, batch.FailedVideos)

	_, err = tracker.AddMedia(ctx, "ghost", refs)
	assert.ErrorIs(t, err, domain.ErrCreatorNotFound)
	_, err = tracker.FinishMedia(ctx, "ghost", refs[0], false)
	assert.ErrorIs(t, err, domain.ErrCreatorNotFound)
}

func TestActiveBatches(t *testing.T) {
	tracker, mr := newTestTracker(t)
	ctx := context.Background()

	for _, id := range []string{"b1", "b2", "b3"} {
		_, err := tracker.InitBatch(ctx, id, []string{id + "-c1"})
		require.NoError(t, err)
	}
	_, err := tracker.InitBatch(ctx, "empty", nil)
	require.NoError(t, err)

	active, err := tracker.ActiveBatches(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"b1", "b2", "b3"}, active)

	require.NoError(t, tracker.Fail(ctx, "b2", "abandoned"))
	mr.Del("vp:batch:b3")

	active, err = tracker.ActiveBatches(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"b1"}, active)

	members, err := mr.Members("vp:batches:active")
	require.NoError(t, err)
	assert.Equal(t, []string{"b1"}, members, "finished and expired batches are pruned")
}
