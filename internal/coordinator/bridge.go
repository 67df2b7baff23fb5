package coordinator

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/cuongbtq/media-vetting/internal/domain"
	"github.com/cuongbtq/media-vetting/internal/progress"
	"github.com/cuongbtq/media-vetting/internal/queue"
	"golang.org/x/sync/errgroup"
)

// BridgeConfig holds bridge configuration
type BridgeConfig struct {
	Queue   *queue.Queue
	Tracker *progress.Tracker
	Logger  *slog.Logger
}

// Bridge projects queue events onto the progress tracker. Scrape completions fan out
// into analysis jobs, and a creator is settled once all of its platforms and media are.
// Applying an event twice changes nothing, because media is counted once per job id and
// a terminal platform is never reopened. An event whose handling failed half way can be
// applied again, and several bridges may run side by side.
type Bridge struct {
	queue   *queue.Queue
	tracker *progress.Tracker
	logger  *slog.Logger
}

// NewBridge creates a bridge
func NewBridge(cfg *BridgeConfig) *Bridge {
	return &Bridge{
		queue:   cfg.Queue,
		tracker: cfg.Tracker,
		logger:  cfg.Logger,
	}
}

var bridgedKinds = []domain.Kind{domain.KindScrape, domain.KindVideoAnalysis, domain.KindImageAnalysis}

// Run subscribes to the scrape and analysis queues and applies their events until ctx ends
func (b *Bridge) Run(ctx context.Context) error {
	subs := make([]*queue.Subscription, 0, len(bridgedKinds))
	defer func() {
		for _, sub := range subs {
			sub.Close()
		}
	}()

	for _, kind := range bridgedKinds {
		sub, err := b.queue.Subscribe(ctx, kind, queue.EventActive, queue.EventCompleted, queue.EventFailed)
		if err != nil {
			return fmt.Errorf("subscribe %s: %w", kind, err)
		}
		subs = append(subs, sub)
	}

	b.logger.Info("Progress bridge started")

	g, gctx := errgroup.WithContext(ctx)
	for _, sub := range subs {
		sub := sub
		g.Go(func() error {
			for {
				select {
				case <-gctx.Done():
					return nil
				case ev, ok := <-sub.C:
					if !ok {
						return nil
					}
					err := b.Handle(gctx, ev)
					if ignoreMissing(err) {
						b.logger.Debug("Queue event for expired progress ignored",
							slog.String("job_id", ev.JobID),
							slog.Any("error", err),
						)
						continue
					}
					if err != nil {
						b.logger.Error("Failed to apply queue event",
							slog.String("kind", string(ev.Kind)),
							slog.String("type", string(ev.Type)),
							slog.String("job_id", ev.JobID),
							slog.Any("error", err),
						)
					}
				}
			}
		})
	}

	err := g.Wait()
	b.logger.Info("Progress bridge stopped")
	return err
}

// Handle applies one queue event. Events of jobs that belong to no batch are ignored.
func (b *Bridge) Handle(ctx context.Context, ev queue.Event) error {
	if len(ev.Data) == 0 {
		return nil
	}

	switch ev.Kind {
	case domain.KindScrape:
		var in domain.ScrapeInput
		if err := json.Unmarshal(ev.Data, &in); err != nil {
			return fmt.Errorf("decode scrape input: %w", err)
		}
		if in.BatchID == "" {
			return nil
		}
		return b.handleScrape(ctx, ev, in)

	case domain.KindVideoAnalysis:
		var in domain.VideoAnalysisInput
		if err := json.Unmarshal(ev.Data, &in); err != nil {
			return fmt.Errorf("decode video input: %w", err)
		}
		return b.handleMedia(ctx, ev, in.BatchID, in.CreatorID)

	case domain.KindImageAnalysis:
		var in domain.ImageAnalysisInput
		if err := json.Unmarshal(ev.Data, &in); err != nil {
			return fmt.Errorf("decode image input: %w", err)
		}
		return b.handleMedia(ctx, ev, in.BatchID, in.CreatorID)
	}
	return nil
}

func (b *Bridge) handleScrape(ctx context.Context, ev queue.Event, in domain.ScrapeInput) error {
	platform := strings.ToLower(in.Platform)

	switch ev.Type {
	case queue.EventActive:
		if _, err := b.tracker.StartCreator(ctx, in.CreatorID); err != nil {
			return err
		}
		return b.tracker.UpdatePlatformStatus(ctx, in.CreatorID, platform, domain.StatusProcessing, "")

	case queue.EventCompleted:
		var posts []domain.Post
		if ev.Result != nil && ev.Result.Scrape != nil {
			posts = ev.Result.Scrape.Posts
		}
		if err := b.fanOut(ctx, in, posts); err != nil {
			return err
		}
		if err := b.tracker.UpdatePlatformStatus(ctx, in.CreatorID, platform, domain.StatusCompleted, ""); err != nil {
			return err
		}
		return b.settle(ctx, in.CreatorID)

	case queue.EventFailed:
		if err := b.tracker.UpdatePlatformStatus(ctx, in.CreatorID, platform, domain.StatusFailed, ev.Error); err != nil {
			return err
		}
		return b.settle(ctx, in.CreatorID)
	}
	return nil
}

// fanOut admits one analysis job per scraped post and records every one of them on the
// creator. Recording happens after admission and the platform is marked completed after
// that, so a creator never settles before its media is counted.
func (b *Bridge) fanOut(ctx context.Context, in domain.ScrapeInput, posts []domain.Post) error {
	var videos, images []domain.JobSpec
	for _, post := range posts {
		if post.ID == "" || post.MediaURL == "" {
			continue
		}
		id := MediaJobID(in.BatchID, in.CreatorID, in.Platform, post.ID)
		switch post.MediaType {
		case domain.MediaImage:
			images = append(images, domain.JobSpec{ID: id, Payload: domain.ImageAnalysisInput{
				BatchID:   in.BatchID,
				CreatorID: in.CreatorID,
				ImageID:   post.ID,
				Platform:  in.Platform,
				MediaURL:  post.MediaURL,
			}})
		default:
			videos = append(videos, domain.JobSpec{ID: id, Payload: domain.VideoAnalysisInput{
				BatchID:      in.BatchID,
				CreatorID:    in.CreatorID,
				VideoID:      post.ID,
				Platform:     in.Platform,
				MediaURL:     post.MediaURL,
				ThumbnailURL: post.ThumbnailURL,
			}})
		}
	}

	var refs []progress.MediaRef
	for _, group := range []struct {
		kind  domain.Kind
		specs []domain.JobSpec
	}{
		{domain.KindVideoAnalysis, videos},
		{domain.KindImageAnalysis, images},
	} {
		if len(group.specs) == 0 {
			continue
		}
		// ids already in the queue are reported as not added, which is fine on a replay
		if _, err := b.queue.EnqueueBulk(ctx, group.kind, group.specs); err != nil {
			return fmt.Errorf("fan out %s for %s: %w", group.kind, in.CreatorID, err)
		}
		for _, spec := range group.specs {
			refs = append(refs, progress.MediaRef{Kind: group.kind, JobID: spec.ID})
		}
	}

	added, err := b.tracker.AddMedia(ctx, in.CreatorID, refs)
	if err != nil {
		return err
	}

	b.logger.Debug("Scrape fanned out",
		slog.String("batch_id", in.BatchID),
		slog.String("creator_id", in.CreatorID),
		slog.String("platform", in.Platform),
		slog.Int("videos", len(videos)),
		slog.Int("images", len(images)),
		slog.Int("added", added),
	)
	return nil
}

func (b *Bridge) handleMedia(ctx context.Context, ev queue.Event, batchID, creatorID string) error {
	if batchID == "" || creatorID == "" || !ev.Terminal() {
		return nil
	}

	ref := progress.MediaRef{Kind: ev.Kind, JobID: ev.JobID}
	if _, err := b.tracker.FinishMedia(ctx, creatorID, ref, ev.Type == queue.EventFailed); err != nil {
		return err
	}
	// settle even when the outcome was already counted: the earlier pass may have stopped before it
	return b.settle(ctx, creatorID)
}

// settle moves the creator to a terminal status once every platform is terminal and
// all of its media is accounted for. A creator whose platforms all failed is failed.
func (b *Bridge) settle(ctx context.Context, creatorID string) error {
	creator, err := b.tracker.GetCreatorProgress(ctx, creatorID)
	if err != nil {
		return err
	}
	if creator.Status.Terminal() || !creator.VideoProgress.Settled() {
		return nil
	}

	failed := 0
	var reasons []string
	for name, entry := range creator.Platforms {
		if !entry.Status.Terminal() {
			return nil
		}
		if entry.Status == domain.StatusFailed {
			failed++
			reasons = append(reasons, name+": "+entry.Error)
		}
	}

	status, errMsg := domain.StatusCompleted, ""
	if len(creator.Platforms) > 0 && failed == len(creator.Platforms) {
		status, errMsg = domain.StatusFailed, "all platforms failed: "+strings.Join(reasons, "; ")
	}

	tr, err := b.tracker.UpdateCreatorStatus(ctx, creatorID, status, errMsg)
	if err != nil {
		return err
	}
	if tr.Applied && tr.From != tr.To {
		b.logger.Info("Creator settled",
			slog.String("batch_id", tr.BatchID),
			slog.String("creator_id", creatorID),
			slog.String("status", string(status)),
			slog.Int("videos_total", creator.VideoProgress.Total),
			slog.Bool("batch_completed", tr.BatchCompleted),
		)
	}
	return nil
}

// ignoreMissing reports whether err only says the batch or creator is gone
func ignoreMissing(err error) bool {
	return errors.Is(err, domain.ErrCreatorNotFound) || errors.Is(err, domain.ErrBatchNotFound)
}
