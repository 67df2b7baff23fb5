package router

import (
	"github.com/cuongbtq/media-vetting/internal/api/handler"
	"github.com/gin-gonic/gin"
)

// SetupRouter configures and returns the Gin router with all routes
func SetupRouter(deps *handler.Dependencies) *gin.Engine {
	r := gin.New()

	// Middleware
	r.Use(gin.Recovery())
	r.Use(RequestLogger(deps.Logger))
	r.Use(CORSMiddleware())

	healthHandler := handler.NewHealthHandler(deps)
	batchHandler := handler.NewBatchHandler(deps)
	queueHandler := handler.NewQueueHandler(deps)
	resultHandler := handler.NewResultHandler(deps)

	r.GET("/health", healthHandler.Health)

	// API v1 routes
	v1 := r.Group("/api/v1")
	{
		batches := v1.Group("/batches")
		{
			// POST /api/v1/batches - Start a vetting batch
			batches.POST("", batchHandler.CreateBatch)

			// GET /api/v1/batches/:batch_id - Aggregate batch progress
			batches.GET("/:batch_id", batchHandler.GetBatch)

			// GET /api/v1/batches/:batch_id/creators - Per-creator progress
			batches.GET("/:batch_id/creators", batchHandler.ListCreators)

			// GET /api/v1/batches/:batch_id/events - Live progress (SSE)
			batches.GET("/:batch_id/events", batchHandler.StreamBatch)

			// POST /api/v1/batches/:batch_id/fail - Abandon a batch
			batches.POST("/:batch_id/fail", batchHandler.FailBatch)
		}

		v1.GET("/creators/:creator_id", batchHandler.GetCreator)

		queues := v1.Group("/queues")
		{
			queues.GET("", queueHandler.ListQueues)
			queues.GET("/:kind", queueHandler.GetQueue)
			queues.POST("/:kind/pause", queueHandler.PauseQueue)
			queues.POST("/:kind/resume", queueHandler.ResumeQueue)
			queues.POST("/:kind/drain", queueHandler.DrainQueue)
			queues.GET("/:kind/jobs/:job_id", queueHandler.GetJob)
		}

		results := v1.Group("/results")
		{
			results.GET("", resultHandler.ListResults)
			results.GET("/:kind/:job_id", resultHandler.GetResult)
		}
	}

	return r
}
