package router

import (
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

// RequestIDHeader carries the id that ties a request to its log line
const RequestIDHeader = "X-Request-ID"

// routeParams are the path parameters worth a log field of their own
var routeParams = []string{"batch_id", "creator_id", "kind", "job_id"}

// RequestLogger writes one log line per request with the matched route and the ids
// found in its path.
func RequestLogger(logger *slog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()

		requestID := c.GetHeader(RequestIDHeader)
		if requestID == "" {
			requestID = uuid.NewString()
		}
		c.Header(RequestIDHeader, requestID)

		c.Next()

		status := c.Writer.Status()
		route := c.FullPath()
		if route == "" {
			route = "unmatched"
		}

		attrs := []slog.Attr{
			slog.String("request_id", requestID),
			slog.String("method", c.Request.Method),
			slog.String("route", route),
			slog.Int("status", status),
			slog.Duration("latency", time.Since(start)),
		}
		for _, name := range routeParams {
			if v := c.Param(name); v != "" {
				attrs = append(attrs, slog.String(name, v))
			}
		}
		if c.Request.URL.RawQuery != "" {
			attrs = append(attrs, slog.String("query", c.Request.URL.RawQuery))
		}
		if len(c.Errors) > 0 {
			attrs = append(attrs, slog.String("error", c.Errors.String()))
		}

		logger.LogAttrs(c.Request.Context(), requestLevel(route, status), "HTTP request", attrs...)
	}
}

// requestLevel keeps health checks and client mistakes out of the info stream
func requestLevel(route string, status int) slog.Level {
	switch {
	case status >= http.StatusInternalServerError:
		return slog.LevelError
	case route == "/health":
		return slog.LevelDebug
	case status >= http.StatusBadRequest:
		return slog.LevelWarn
	case strings.HasSuffix(route, "/events"):
		// streams are long lived; their end is routine
		return slog.LevelDebug
	default:
		return slog.LevelInfo
	}
}

// CORSMiddleware answers preflight requests for the browser dashboard
func CORSMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		h := c.Writer.Header()
		h.Set("Access-Control-Allow-Origin", "*")
		h.Set("Access-Control-Allow-Headers", "Content-Type, Accept, Cache-Control, Last-Event-ID, "+RequestIDHeader)
		h.Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		h.Set("Access-Control-Expose-Headers", RequestIDHeader)

		if c.Request.Method == http.MethodOptions {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}

		c.Next()
	}
}
