package handler

import (
	"log/slog"
	"net/http"

	"github.com/cuongbtq/media-vetting/internal/api/dto"
	"github.com/cuongbtq/media-vetting/internal/domain"
	"github.com/gin-gonic/gin"
)

// ListQueues handles GET /api/v1/queues
func (h *QueueHandler) ListQueues(c *gin.Context) {
	ctx := c.Request.Context()

	queues := make([]dto.QueueDTO, 0, len(domain.Kinds()))
	for _, kind := range domain.Kinds() {
		spec, err := h.queue.Spec(kind)
		if err != nil {
			respondError(c, h.logger, "Failed to read queue policy", err)
			return
		}
		counts, err := h.queue.Stats(ctx, kind)
		if err != nil {
			respondError(c, h.logger, "Failed to read queue stats", err)
			return
		}
		queues = append(queues, dto.NewQueueDTO(spec, counts))
	}

	c.JSON(http.StatusOK, dto.ListQueuesResponse{Queues: queues})
}

// GetQueue handles GET /api/v1/queues/:kind
func (h *QueueHandler) GetQueue(c *gin.Context) {
	kind, ok := h.kindParam(c)
	if !ok {
		return
	}

	spec, err := h.queue.Spec(kind)
	if err != nil {
		respondError(c, h.logger, "Failed to read queue policy", err)
		return
	}
	counts, err := h.queue.Stats(c.Request.Context(), kind)
	if err != nil {
		respondError(c, h.logger, "Failed to read queue stats", err)
		return
	}

	c.JSON(http.StatusOK, dto.NewQueueDTO(spec, counts))
}

// PauseQueue handles POST /api/v1/queues/:kind/pause
func (h *QueueHandler) PauseQueue(c *gin.Context) {
	kind, ok := h.kindParam(c)
	if !ok {
		return
	}

	if err := h.queue.Pause(c.Request.Context(), kind); err != nil {
		respondError(c, h.logger, "Failed to pause queue", err)
		return
	}

	h.logger.Info("Queue paused via API", slog.String("kind", string(kind)))
	c.JSON(http.StatusOK, dto.QueueActionResponse{Kind: kind, Action: "pause", Paused: true})
}

// ResumeQueue handles POST /api/v1/queues/:kind/resume
func (h *QueueHandler) ResumeQueue(c *gin.Context) {
	kind, ok := h.kindParam(c)
	if !ok {
		return
	}

	if err := h.queue.Resume(c.Request.Context(), kind); err != nil {
		respondError(c, h.logger, "Failed to resume queue", err)
		return
	}

	h.logger.Info("Queue resumed via API", slog.String("kind", string(kind)))
	c.JSON(http.StatusOK, dto.QueueActionResponse{Kind: kind, Action: "resume", Paused: false})
}

// DrainQueue handles POST /api/v1/queues/:kind/drain
// Discards every waiting and delayed job of the kind
func (h *QueueHandler) DrainQueue(c *gin.Context) {
	kind, ok := h.kindParam(c)
	if !ok {
		return
	}

	ctx := c.Request.Context()
	n, err := h.queue.Drain(ctx, kind)
	if err != nil {
		respondError(c, h.logger, "Failed to drain queue", err)
		return
	}
	paused, err := h.queue.IsPaused(ctx, kind)
	if err != nil {
		respondError(c, h.logger, "Failed to read queue state", err)
		return
	}

	h.logger.Warn("Queue drained via API",
		slog.String("kind", string(kind)),
		slog.Int("discarded", n),
	)
	c.JSON(http.StatusOK, dto.QueueActionResponse{Kind: kind, Action: "drain", Paused: paused, Discarded: n})
}

// GetJob handles GET /api/v1/queues/:kind/jobs/:job_id
func (h *QueueHandler) GetJob(c *gin.Context) {
	kind, ok := h.kindParam(c)
	if !ok {
		return
	}

	job, err := h.queue.GetJob(c.Request.Context(), kind, c.Param("job_id"))
	if err != nil {
		respondError(c, h.logger, "Failed to get job", err)
		return
	}

	c.JSON(http.StatusOK, job)
}

func (h *QueueHandler) kindParam(c *gin.Context) (domain.Kind, bool) {
	kind, err := domain.ParseKind(c.Param("kind"))
	if err != nil {
		respondError(c, h.logger, "Unknown queue", err)
		return "", false
	}
	return kind, true
}
