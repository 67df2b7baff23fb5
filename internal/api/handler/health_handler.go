package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

// Health handles GET /health
func (h *HealthHandler) Health(c *gin.Context) {
	checks := gin.H{}
	healthy := true

	if err := h.store.Health(c.Request.Context()); err != nil {
		checks["redis"] = err.Error()
		healthy = false
	} else {
		checks["redis"] = "ok"
	}

	if h.database != nil {
		if err := h.database.Health(c.Request.Context()); err != nil {
			checks["postgres"] = err.Error()
			healthy = false
		} else {
			checks["postgres"] = "ok"
		}
	}

	status, code := "healthy", http.StatusOK
	if !healthy {
		status, code = "unhealthy", http.StatusServiceUnavailable
	}
	c.JSON(code, gin.H{
		"status":  status,
		"service": "api-service",
		"checks":  checks,
	})
}
