package handler

import (
	"log/slog"
	"net/http"

	"github.com/cuongbtq/media-vetting/internal/api/dto"
	"github.com/cuongbtq/media-vetting/internal/archive"
	"github.com/cuongbtq/media-vetting/internal/domain"
	"github.com/gin-gonic/gin"
)

const (
	defaultPageSize = 20
	maxPageSize     = 100
)

// ListResults handles GET /api/v1/results
// Lists archived results, newest first, with cursor pagination
func (h *ResultHandler) ListResults(c *gin.Context) {
	if !h.enabled(c) {
		return
	}

	var req dto.ListResultsRequest
	if err := c.ShouldBindQuery(&req); err != nil {
		h.logger.Error("Invalid query parameters", slog.String("error", err.Error()))
		c.JSON(http.StatusBadRequest, gin.H{
			"error": "Invalid query parameters",
		})
		return
	}

	if req.PageSize <= 0 {
		req.PageSize = defaultPageSize
	}
	if req.PageSize > maxPageSize {
		req.PageSize = maxPageSize
	}

	if req.Kind != "" {
		if _, err := domain.ParseKind(req.Kind); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{
				"error":   "Invalid kind",
				"details": err.Error(),
			})
			return
		}
	}

	cursor, err := DecodeResultCursor(req.Cursor)
	if err != nil {
		h.logger.Error("Invalid cursor", slog.String("error", err.Error()))
		c.JSON(http.StatusBadRequest, gin.H{
			"error": "Invalid cursor",
		})
		return
	}

	records, err := h.archive.ListResults(c.Request.Context(), archive.Filter{
		Kind:     req.Kind,
		BatchID:  req.BatchID,
		Success:  req.Success,
		PageSize: req.PageSize,
		Cursor:   cursor,
	})
	if err != nil {
		respondError(c, h.logger, "Failed to list results", err)
		return
	}

	hasMore := len(records) > req.PageSize
	if hasMore {
		records = records[:req.PageSize]
	}

	results := make([]dto.ResultDTO, len(records))
	for i := range records {
		results[i] = dto.NewResultDTO(&records[i])
	}

	var nextCursor string
	if hasMore {
		last := records[len(records)-1]
		nextCursor = EncodeResultCursor(&archive.Cursor{
			FinishedAt: last.FinishedAt,
			JobID:      last.JobID,
		})
	}

	c.JSON(http.StatusOK, dto.ListResultsResponse{
		Results:    results,
		NextCursor: nextCursor,
	})
}

// GetResult handles GET /api/v1/results/:kind/:job_id
func (h *ResultHandler) GetResult(c *gin.Context) {
	if !h.enabled(c) {
		return
	}

	kind, err := domain.ParseKind(c.Param("kind"))
	if err != nil {
		respondError(c, h.logger, "Unknown kind", err)
		return
	}

	rec, err := h.archive.GetResult(c.Request.Context(), kind, c.Param("job_id"))
	if err != nil {
		respondError(c, h.logger, "Failed to get result", err)
		return
	}

	c.JSON(http.StatusOK, dto.NewResultDTO(rec))
}

func (h *ResultHandler) enabled(c *gin.Context) bool {
	if h.archive == nil {
		c.JSON(http.StatusNotImplemented, gin.H{
			"error": "Result archive is disabled",
		})
		return false
	}
	return true
}
