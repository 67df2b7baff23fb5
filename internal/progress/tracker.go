// Package progress keeps the per-batch, per-creator and per-platform view of batch
// progress in Redis and broadcasts every change on a per-batch channel.
package progress

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/cuongbtq/media-vetting/internal/domain"
	"github.com/cuongbtq/media-vetting/shared/redisstore"
	"github.com/redis/go-redis/v9"
)

const (
	// DefaultPrefix namespaces every progress key
	DefaultPrefix = "vp"

	// DefaultRetention is how long a finished batch stays readable
	DefaultRetention = 24 * time.Hour
)

var errBatchExists = errors.New("batch already initialized")

// Config holds tracker configuration
type Config struct {
	Store     *redisstore.Store
	Logger    *slog.Logger
	Prefix    string
	Retention time.Duration
}

// Tracker maintains batch progress under concurrent updates from many workers
type Tracker struct {
	client    *redis.Client
	logger    *slog.Logger
	keys      keys
	retention time.Duration
	nowFn     func() time.Time
}

// New creates a tracker on top of the shared store
func New(cfg *Config) *Tracker {
	prefix := cfg.Prefix
	if prefix == "" {
		prefix = DefaultPrefix
	}
	retention := cfg.Retention
	if retention <= 0 {
		retention = DefaultRetention
	}
	return &Tracker{
		client:    cfg.Store.Client(),
		logger:    cfg.Logger,
		keys:      keys{prefix: prefix},
		retention: retention,
		nowFn:     time.Now,
	}
}

// Transition describes the effect of a creator status update
type Transition struct {
	CreatorID string
	BatchID   string
	From      domain.ItemStatus
	To        domain.ItemStatus
	// Applied is false when a conditional update found another status
	Applied bool
	// BatchCompleted is set on the one update that completed the batch
	BatchCompleted bool
}

// InitBatch creates the batch record and one pending creator record per distinct id
// in a single MULTI/EXEC. A batch with no creators is completed at once. Calling it
// again for an existing batch returns the stored progress unchanged.
func (t *Tracker) InitBatch(ctx context.Context, batchID string, creatorIDs []string) (*domain.BatchProgress, error) {
	if batchID == "" {
		return nil, domain.NewValidationError("batch_id", "is required")
	}
	creators := dedupe(creatorIDs)
	now := t.nowFn().UnixMilli()
	batchKey := t.keys.batch(batchID)

	status := domain.BatchProcessing
	if len(creators) == 0 {
		status = domain.BatchCompleted
	}

	err := t.client.Watch(ctx, func(tx *redis.Tx) error {
		n, err := tx.Exists(ctx, batchKey).Result()
		if err != nil {
			return err
		}
		if n > 0 {
			return errBatchExists
		}

		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			fields := map[string]any{
				"batch_id":            batchID,
				"status":              string(status),
				"total_creators":      len(creators),
				"pending_creators":    len(creators),
				"processing_creators": 0,
				"completed_creators":  0,
				"failed_creators":     0,
				"total_videos":        0,
				"completed_videos":    0,
				"failed_videos":       0,
				"started_at":          now,
				"updated_at":          now,
			}
			if status == domain.BatchCompleted {
				fields["completed_at"] = now
			}
			pipe.HSet(ctx, batchKey, fields)

			if status == domain.BatchProcessing {
				pipe.SAdd(ctx, t.keys.active(), batchID)
			}
			for _, id := range creators {
				creatorKey := t.keys.creator(id)
				pipe.Del(ctx, creatorKey, t.keys.media(id), t.keys.mediaDone(id))
				pipe.HSet(ctx, creatorKey, map[string]any{
					"creator_id":       id,
					"batch_id":         batchID,
					"status":           string(domain.StatusPending),
					"videos_total":     0,
					"videos_completed": 0,
					"videos_failed":    0,
					"updated_at":       now,
				})
			}
			if len(creators) > 0 {
				members := make([]any, len(creators))
				for i, id := range creators {
					members[i] = id
				}
				pipe.SAdd(ctx, t.keys.creators(batchID), members...)
			}
			return nil
		})
		return err
	}, batchKey)

	switch {
	case errors.Is(err, errBatchExists):
		t.logger.Debug("Batch already initialized",
			slog.String("batch_id", batchID),
		)
		return t.GetProgress(ctx, batchID)
	case errors.Is(err, redis.TxFailedErr):
		// a concurrent InitBatch for the same id won the race
		return t.GetProgress(ctx, batchID)
	case err != nil:
		t.logger.Error("Failed to initialize batch",
			slog.String("batch_id", batchID),
			slog.Any("error", err),
		)
		return nil, redisstore.Classify(err)
	}

	t.logger.Info("Batch initialized",
		slog.String("batch_id", batchID),
		slog.Int("creators", len(creators)),
	)

	batch, err := t.GetProgress(ctx, batchID)
	if err != nil {
		return nil, err
	}
	t.publish(ctx, Update{Type: UpdateBatch, BatchID: batchID, Status: string(batch.Status), Batch: batch})
	if status == domain.BatchCompleted {
		t.scheduleRetention(ctx, batchID)
	}
	return batch, nil
}

// UpdateCreatorStatus moves a creator to status, adjusting exactly the two batch
// counters involved. The update that leaves every creator terminal completes the batch.
func (t *Tracker) UpdateCreatorStatus(ctx context.Context, creatorID string, status domain.ItemStatus, errMsg string) (*Transition, error) {
	return t.updateCreator(ctx, creatorID, "", status, errMsg)
}

// StartCreator moves a pending creator to processing and leaves any other status alone
func (t *Tracker) StartCreator(ctx context.Context, creatorID string) (*Transition, error) {
	return t.updateCreator(ctx, creatorID, domain.StatusPending, domain.StatusProcessing, "")
}

func (t *Tracker) updateCreator(ctx context.Context, creatorID string, from, status domain.ItemStatus, errMsg string) (*Transition, error) {
	if !status.Valid() {
		return nil, fmt.Errorf("%w: %q", domain.ErrInvalidStatus, status)
	}

	reply, err := creatorStatusScript.Run(ctx, t.client,
		[]string{t.keys.creator(creatorID)},
		string(status), errMsg, t.nowFn().UnixMilli(), t.keys.batchPrefix(), string(from),
	).Slice()
	if err != nil {
		return nil, redisstore.Classify(err)
	}
	if len(reply) < 5 {
		return nil, fmt.Errorf("%w: %s", domain.ErrCreatorNotFound, creatorID)
	}

	batchID, _ := reply[1].(string)
	prev, _ := reply[2].(string)
	flipped, _ := reply[3].(int64)
	applied, _ := reply[4].(int64)

	tr := &Transition{
		CreatorID:      creatorID,
		BatchID:        batchID,
		From:           domain.ItemStatus(prev),
		To:             status,
		Applied:        applied == 1,
		BatchCompleted: flipped == 1,
	}
	if !tr.Applied {
		tr.To = tr.From
		return tr, nil
	}

	t.logger.Debug("Creator status updated",
		slog.String("batch_id", batchID),
		slog.String("creator_id", creatorID),
		slog.String("from", prev),
		slog.String("to", string(status)),
	)
	t.publish(ctx, Update{
		Type:      UpdateCreator,
		BatchID:   batchID,
		CreatorID: creatorID,
		Status:    string(status),
		Error:     errMsg,
	})

	if tr.BatchCompleted {
		t.logger.Info("Batch completed",
			slog.String("batch_id", batchID),
		)
		t.publishBatch(ctx, batchID)
		t.scheduleRetention(ctx, batchID)
	}
	return tr, nil
}

// UpdatePlatformStatus updates one platform entry of a creator. A terminal entry only
// accepts another terminal status. Batch counters are not touched.
func (t *Tracker) UpdatePlatformStatus(ctx context.Context, creatorID, platform string, status domain.ItemStatus, errMsg string) error {
	if !status.Valid() {
		return fmt.Errorf("%w: %q", domain.ErrInvalidStatus, status)
	}
	if platform == "" {
		return domain.NewValidationError("platform", "is required")
	}

	reply, err := platformStatusScript.Run(ctx, t.client,
		[]string{t.keys.creator(creatorID)},
		platform, string(status), errMsg, t.nowFn().UnixMilli(),
	).Slice()
	if errors.Is(err, redis.Nil) {
		return fmt.Errorf("%w: %s", domain.ErrCreatorNotFound, creatorID)
	}
	if err != nil {
		return redisstore.Classify(err)
	}
	batchID, applied := scriptReply(reply)
	if applied == 0 {
		t.logger.Debug("Platform already terminal, update skipped",
			slog.String("creator_id", creatorID),
			slog.String("platform", platform),
			slog.String("status", string(status)),
		)
		return nil
	}

	t.publish(ctx, Update{
		Type:      UpdatePlatform,
		BatchID:   batchID,
		CreatorID: creatorID,
		Platform:  platform,
		Status:    string(status),
		Error:     errMsg,
	})
	return nil
}

// UpdateVideoProgress adds delta to the video counters of the creator and its batch.
// Deltas commute, so concurrent reporters need no coordination.
func (t *Tracker) UpdateVideoProgress(ctx context.Context, creatorID string, delta domain.VideoDelta) error {
	if delta.IsZero() {
		return nil
	}

	batchID, err := videoProgressScript.Run(ctx, t.client,
		[]string{t.keys.creator(creatorID)},
		t.keys.batchPrefix(), delta.Total, delta.Completed, delta.Failed, t.nowFn().UnixMilli(),
	).Text()
	if errors.Is(err, redis.Nil) {
		return fmt.Errorf("%w: %s", domain.ErrCreatorNotFound, creatorID)
	}
	if err != nil {
		return redisstore.Classify(err)
	}

	d := delta
	t.publish(ctx, Update{Type: UpdateVideo, BatchID: batchID, CreatorID: creatorID, Delta: &d})
	return nil
}

// MediaRef points at one analysis job admitted for a creator
type MediaRef struct {
	Kind  domain.Kind
	JobID string
}

// AddMedia records analysis jobs admitted for a creator and raises its video total by
// the number of jobs not seen before. It returns that number.
func (t *Tracker) AddMedia(ctx context.Context, creatorID string, refs []MediaRef) (int, error) {
	if len(refs) == 0 {
		return 0, nil
	}
	args := make([]any, 0, len(refs)+2)
	args = append(args, t.keys.batchPrefix(), t.nowFn().UnixMilli())
	for _, ref := range refs {
		args = append(args, mediaMember(ref.Kind, ref.JobID))
	}

	reply, err := mediaAddScript.Run(ctx, t.client,
		[]string{t.keys.creator(creatorID), t.keys.media(creatorID)},
		args...,
	).Slice()
	if errors.Is(err, redis.Nil) {
		return 0, fmt.Errorf("%w: %s", domain.ErrCreatorNotFound, creatorID)
	}
	if err != nil {
		return 0, redisstore.Classify(err)
	}

	batchID, added := scriptReply(reply)
	if added > 0 {
		t.publish(ctx, Update{Type: UpdateVideo, BatchID: batchID, CreatorID: creatorID, Delta: &domain.VideoDelta{Total: int(added)}})
	}
	return int(added), nil
}

// FinishMedia counts the outcome of one analysis job once. It reports whether this
// call counted it.
func (t *Tracker) FinishMedia(ctx context.Context, creatorID string, ref MediaRef, failed bool) (bool, error) {
	outcome, delta := "completed", domain.VideoDelta{Completed: 1}
	if failed {
		outcome, delta = "failed", domain.VideoDelta{Failed: 1}
	}

	reply, err := mediaFinishScript.Run(ctx, t.client,
		[]string{t.keys.creator(creatorID), t.keys.mediaDone(creatorID)},
		t.keys.batchPrefix(), t.nowFn().UnixMilli(), mediaMember(ref.Kind, ref.JobID), outcome,
	).Slice()
	if errors.Is(err, redis.Nil) {
		return false, fmt.Errorf("%w: %s", domain.ErrCreatorNotFound, creatorID)
	}
	if err != nil {
		return false, redisstore.Classify(err)
	}

	batchID, counted := scriptReply(reply)
	if counted == 0 {
		return false, nil
	}
	t.publish(ctx, Update{Type: UpdateVideo, BatchID: batchID, CreatorID: creatorID, Delta: &delta})
	return true, nil
}

// PendingMedia lists the analysis jobs of a creator whose outcome is not counted yet
func (t *Tracker) PendingMedia(ctx context.Context, creatorID string) ([]MediaRef, error) {
	members, err := t.client.SDiff(ctx, t.keys.media(creatorID), t.keys.mediaDone(creatorID)).Result()
	if err != nil {
		return nil, redisstore.Classify(err)
	}
	sort.Strings(members)

	refs := make([]MediaRef, 0, len(members))
	for _, member := range members {
		if ref, ok := parseMediaMember(member); ok {
			refs = append(refs, ref)
		}
	}
	return refs, nil
}

// ActiveBatches returns the ids of batches still processing. Batches that finished or
// expired are dropped from the index on the way.
func (t *Tracker) ActiveBatches(ctx context.Context) ([]string, error) {
	ids, err := t.client.SMembers(ctx, t.keys.active()).Result()
	if err != nil {
		return nil, redisstore.Classify(err)
	}
	sort.Strings(ids)

	active := make([]string, 0, len(ids))
	var stale []any
	for _, id := range ids {
		batch, err := t.GetProgress(ctx, id)
		switch {
		case errors.Is(err, domain.ErrBatchNotFound):
			stale = append(stale, id)
		case err != nil:
			return nil, err
		case batch.Status.Terminal():
			stale = append(stale, id)
		default:
			active = append(active, id)
		}
	}

	if len(stale) > 0 {
		if err := t.client.SRem(ctx, t.keys.active(), stale...).Err(); err != nil {
			t.logger.Warn("Failed to prune active batch index",
				slog.Int("stale", len(stale)),
				slog.Any("error", err),
			)
		}
	}
	return active, nil
}

// GetProgress returns the current batch record
func (t *Tracker) GetProgress(ctx context.Context, batchID string) (*domain.BatchProgress, error) {
	fields, err := t.client.HGetAll(ctx, t.keys.batch(batchID)).Result()
	if err != nil {
		return nil, redisstore.Classify(err)
	}
	if len(fields) == 0 {
		return nil, fmt.Errorf("%w: %s", domain.ErrBatchNotFound, batchID)
	}
	return decodeBatch(fields), nil
}

// GetCreatorProgress returns the current creator record with its platforms
func (t *Tracker) GetCreatorProgress(ctx context.Context, creatorID string) (*domain.CreatorProgress, error) {
	fields, err := t.client.HGetAll(ctx, t.keys.creator(creatorID)).Result()
	if err != nil {
		return nil, redisstore.Classify(err)
	}
	if len(fields) == 0 {
		return nil, fmt.Errorf("%w: %s", domain.ErrCreatorNotFound, creatorID)
	}
	return decodeCreator(fields), nil
}

// ListCreators returns every creator record of a batch ordered by id
func (t *Tracker) ListCreators(ctx context.Context, batchID string) ([]domain.CreatorProgress, error) {
	if _, err := t.GetProgress(ctx, batchID); err != nil {
		return nil, err
	}

	ids, err := t.client.SMembers(ctx, t.keys.creators(batchID)).Result()
	if err != nil {
		return nil, redisstore.Classify(err)
	}
	ids = dedupe(ids)
	if len(ids) == 0 {
		return []domain.CreatorProgress{}, nil
	}

	pipe := t.client.Pipeline()
	cmds := make([]*redis.MapStringStringCmd, len(ids))
	for i, id := range ids {
		cmds[i] = pipe.HGetAll(ctx, t.keys.creator(id))
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return nil, redisstore.Classify(err)
	}

	out := make([]domain.CreatorProgress, 0, len(ids))
	for _, cmd := range cmds {
		fields := cmd.Val()
		// expired or re-seeded into another batch
		if len(fields) == 0 || fields["batch_id"] != batchID {
			continue
		}
		out = append(out, *decodeCreator(fields))
	}
	return out, nil
}

// Complete forces the batch to completed
func (t *Tracker) Complete(ctx context.Context, batchID string) error {
	return t.override(ctx, batchID, domain.BatchCompleted, "")
}

// Fail forces the batch to failed with a reason
func (t *Tracker) Fail(ctx context.Context, batchID, errMsg string) error {
	return t.override(ctx, batchID, domain.BatchFailed, errMsg)
}

func (t *Tracker) override(ctx context.Context, batchID string, status domain.BatchStatus, errMsg string) error {
	ok, err := batchOverrideScript.Run(ctx, t.client,
		[]string{t.keys.batch(batchID)},
		string(status), errMsg, t.nowFn().UnixMilli(),
	).Int()
	if err != nil {
		return redisstore.Classify(err)
	}
	if ok == 0 {
		return fmt.Errorf("%w: %s", domain.ErrBatchNotFound, batchID)
	}

	t.logger.Info("Batch status overridden",
		slog.String("batch_id", batchID),
		slog.String("status", string(status)),
		slog.String("error", errMsg),
	)
	t.publishBatch(ctx, batchID)
	t.scheduleRetention(ctx, batchID)
	return nil
}

// Cleanup schedules expiry of every record of the batch after retainFor.
// Records stay readable until then. A non-positive retainFor uses the tracker default.
func (t *Tracker) Cleanup(ctx context.Context, batchID string, retainFor time.Duration) error {
	if retainFor <= 0 {
		retainFor = t.retention
	}

	ids, err := t.client.SMembers(ctx, t.keys.creators(batchID)).Result()
	if err != nil {
		return redisstore.Classify(err)
	}

	pipe := t.client.Pipeline()
	batchExpire := pipe.Expire(ctx, t.keys.batch(batchID), retainFor)
	pipe.Expire(ctx, t.keys.creators(batchID), retainFor)
	for _, id := range ids {
		pipe.Expire(ctx, t.keys.creator(id), retainFor)
		pipe.Expire(ctx, t.keys.media(id), retainFor)
		pipe.Expire(ctx, t.keys.mediaDone(id), retainFor)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return redisstore.Classify(err)
	}
	if !batchExpire.Val() {
		return fmt.Errorf("%w: %s", domain.ErrBatchNotFound, batchID)
	}

	t.logger.Debug("Batch retention scheduled",
		slog.String("batch_id", batchID),
		slog.Duration("retain_for", retainFor),
		slog.Int("creators", len(ids)),
	)
	return nil
}

func (t *Tracker) scheduleRetention(ctx context.Context, batchID string) {
	if err := t.Cleanup(ctx, batchID, t.retention); err != nil {
		t.logger.Warn("Failed to schedule batch retention",
			slog.String("batch_id", batchID),
			slog.Any("error", err),
		)
	}
}

func (t *Tracker) publishBatch(ctx context.Context, batchID string) {
	batch, err := t.GetProgress(ctx, batchID)
	if err != nil {
		t.logger.Warn("Failed to read batch for update",
			slog.String("batch_id", batchID),
			slog.Any("error", err),
		)
		return
	}
	t.publish(ctx, Update{Type: UpdateBatch, BatchID: batchID, Status: string(batch.Status), Error: batch.Error, Batch: batch})
}

// scriptReply reads the {batch_id, n} pair returned by the tracker scripts
func scriptReply(reply []any) (string, int64) {
	if len(reply) < 2 {
		return "", 0
	}
	batchID, _ := reply[0].(string)
	n, _ := reply[1].(int64)
	return batchID, n
}
