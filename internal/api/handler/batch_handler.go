package handler

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/cuongbtq/media-vetting/internal/api/dto"
	"github.com/cuongbtq/media-vetting/internal/domain"
	"github.com/cuongbtq/media-vetting/internal/progress"
	"github.com/gin-gonic/gin"
)

// streamHeartbeat keeps idle SSE connections open through proxies
var streamHeartbeat = 15 * time.Second

// CreateBatch handles POST /api/v1/batches
// Seeds a batch inline, or queues a batch-coordinate job when async is set
func (h *BatchHandler) CreateBatch(c *gin.Context) {
	var req dto.CreateBatchRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.logger.Error("Invalid request body", slog.String("error", err.Error()))
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "Invalid request body",
			"details": err.Error(),
		})
		return
	}

	ctx := c.Request.Context()
	in := req.ToInput()

	if req.Async {
		batchID, err := h.coordinator.Submit(ctx, in)
		if err != nil {
			respondError(c, h.logger, "Failed to submit batch", err)
			return
		}
		c.JSON(http.StatusAccepted, dto.CreateBatchResponse{
			BatchID: batchID,
			Queued:  true,
		})
		return
	}

	result, err := h.coordinator.StartBatch(ctx, in)
	if err != nil {
		respondError(c, h.logger, "Failed to start batch", err)
		return
	}

	h.logger.Info("Batch started",
		slog.String("batch_id", result.BatchID),
		slog.Int("creators", result.Creators),
		slog.Int("jobs_enqueued", result.JobsEnqueued),
	)

	c.JSON(http.StatusCreated, dto.CreateBatchResponse{
		BatchID:      result.BatchID,
		Creators:     result.Creators,
		JobsEnqueued: result.JobsEnqueued,
	})
}

// GetBatch handles GET /api/v1/batches/:batch_id
func (h *BatchHandler) GetBatch(c *gin.Context) {
	batchID := c.Param("batch_id")

	batch, err := h.tracker.GetProgress(c.Request.Context(), batchID)
	if err != nil {
		respondError(c, h.logger, "Failed to get batch", err)
		return
	}

	c.JSON(http.StatusOK, dto.NewBatchProgressDTO(batch))
}

// ListCreators handles GET /api/v1/batches/:batch_id/creators
func (h *BatchHandler) ListCreators(c *gin.Context) {
	batchID := c.Param("batch_id")

	creators, err := h.tracker.ListCreators(c.Request.Context(), batchID)
	if err != nil {
		respondError(c, h.logger, "Failed to list creators", err)
		return
	}
	if creators == nil {
		creators = []domain.CreatorProgress{}
	}

	c.JSON(http.StatusOK, dto.ListCreatorsResponse{
		BatchID:  batchID,
		Creators: creators,
	})
}

// FailBatch handles POST /api/v1/batches/:batch_id/fail
// Forces the batch to failed and optionally drains queues
func (h *BatchHandler) FailBatch(c *gin.Context) {
	batchID := c.Param("batch_id")

	var req dto.FailBatchRequest
	if c.Request.ContentLength != 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{
				"error":   "Invalid request body",
				"details": err.Error(),
			})
			return
		}
	}

	kinds := make([]domain.Kind, 0, len(req.Drain))
	for _, s := range req.Drain {
		kind, err := domain.ParseKind(s)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{
				"error":   "Invalid drain kind",
				"details": err.Error(),
			})
			return
		}
		kinds = append(kinds, kind)
	}

	drained, err := h.coordinator.Abandon(c.Request.Context(), batchID, req.Reason, kinds...)
	if err != nil {
		respondError(c, h.logger, "Failed to fail batch", err)
		return
	}

	resp := dto.FailBatchResponse{BatchID: batchID, Status: string(domain.BatchFailed)}
	if len(drained) > 0 {
		resp.Drained = make(map[string]int, len(drained))
		for kind, n := range drained {
			resp.Drained[string(kind)] = n
		}
	}
	c.JSON(http.StatusOK, resp)
}

// GetCreator handles GET /api/v1/creators/:creator_id
func (h *BatchHandler) GetCreator(c *gin.Context) {
	creatorID := c.Param("creator_id")

	creator, err := h.tracker.GetCreatorProgress(c.Request.Context(), creatorID)
	if err != nil {
		respondError(c, h.logger, "Failed to get creator", err)
		return
	}

	c.JSON(http.StatusOK, creator)
}

// StreamBatch handles GET /api/v1/batches/:batch_id/events
// Sends a snapshot, then every tracker update until the batch is terminal or the client leaves
func (h *BatchHandler) StreamBatch(c *gin.Context) {
	batchID := c.Param("batch_id")
	ctx := c.Request.Context()

	// subscribe before reading the snapshot so nothing falls in between
	sub, err := h.tracker.Subscribe(ctx, batchID)
	if err != nil {
		respondError(c, h.logger, "Failed to subscribe to batch", err)
		return
	}
	defer sub.Close()

	snapshot, err := h.tracker.GetProgress(ctx, batchID)
	if err != nil {
		respondError(c, h.logger, "Failed to get batch", err)
		return
	}

	c.Header("Cache-Control", "no-cache")
	c.Header("Connection", "keep-alive")
	c.Header("X-Accel-Buffering", "no")
	c.SSEvent("snapshot", dto.NewBatchProgressDTO(snapshot))
	c.Writer.Flush()
	if snapshot.Status.Terminal() {
		return
	}

	h.logger.Debug("Batch stream opened", slog.String("batch_id", batchID))

	heartbeat := time.NewTicker(streamHeartbeat)
	defer heartbeat.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-heartbeat.C:
			c.SSEvent("ping", gin.H{"timestamp": time.Now().UTC()})
			c.Writer.Flush()
		case u, ok := <-sub.C:
			if !ok {
				return
			}
			c.SSEvent(string(u.Type), u)
			c.Writer.Flush()
			if u.Type == progress.UpdateBatch && u.Batch != nil && u.Batch.Status.Terminal() {
				h.logger.Debug("Batch stream finished", slog.String("batch_id", batchID))
				return
			}
		}
	}
}
