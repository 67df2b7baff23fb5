package handler

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/cuongbtq/media-vetting/internal/archive"
	"github.com/cuongbtq/media-vetting/internal/domain"
	"github.com/gin-gonic/gin"
)

// statusFor maps domain errors onto HTTP status codes
func statusFor(err error) int {
	var validationErr *domain.ValidationError
	switch {
	case errors.As(err, &validationErr):
		return http.StatusBadRequest
	case errors.Is(err, domain.ErrInvalidStatus):
		return http.StatusBadRequest
	case errors.Is(err, domain.ErrBatchNotFound),
		errors.Is(err, domain.ErrCreatorNotFound),
		errors.Is(err, domain.ErrJobNotFound),
		errors.Is(err, domain.ErrUnknownKind),
		errors.Is(err, archive.ErrResultNotFound):
		return http.StatusNotFound
	case errors.Is(err, domain.ErrBrokerUnavailable):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// respondError logs err and writes the mapped status. Internal errors are not echoed.
func respondError(c *gin.Context, logger *slog.Logger, msg string, err error) {
	status := statusFor(err)
	body := gin.H{"error": msg}
	if status != http.StatusInternalServerError {
		body["details"] = err.Error()
	}

	if status >= http.StatusInternalServerError {
		logger.Error(msg,
			slog.String("path", c.Request.URL.Path),
			slog.Any("error", err),
		)
	} else {
		logger.Warn(msg,
			slog.String("path", c.Request.URL.Path),
			slog.String("error", err.Error()),
		)
	}
	_ = c.Error(err)
	c.AbortWithStatusJSON(status, body)
}
