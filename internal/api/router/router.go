package router

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/mlplatform/backend/internal/api/handler"
)

// SetupRouter configures and returns the Gin router with all routes
func SetupRouter(deps *handler.Dependencies) *gin.Engine {
	r := gin.New()

	// Middleware
	r.Use(gin.Recovery())
	r.Use(LoggerMiddleware(deps.Logger))
	r.Use(CORSMiddleware())

	// Health check endpoint
	r.GET("/health", func(c *gin.Context) {
		if deps.Health != nil {
			if err := deps.Health.HealthCheck(c.Request.Context()); err != nil {
				c.JSON(http.StatusServiceUnavailable, gin.H{
					"status":  "unhealthy",
					"service": "job-api-service",
					"error":   err.Error(),
				})
				return
			}
		}
		c.JSON(http.StatusOK, gin.H{
			"status":  "healthy",
			"service": "job-api-service",
		})
	})

	jobHandler := handler.NewJobHandler(deps)
	datasetHandler := handler.NewDatasetHandler(deps)
	wsHandler := handler.NewWSHandler(deps)

	// API v1 routes; everything below requires a resolved owner identity.
	v1 := r.Group("/api/v1")
	v1.Use(OwnerMiddleware())
	{
		jobs := v1.Group("/jobs")
		{
			// POST /api/v1/jobs - Submit a new job
			jobs.POST("", jobHandler.SubmitJob)

			// GET /api/v1/jobs - List jobs with filtering and pagination
			jobs.GET("", jobHandler.ListJobs)

			// GET /api/v1/jobs/:job_id - Get job details
			jobs.GET("/:job_id", jobHandler.GetJob)

			// GET /api/v1/jobs/:job_id/result - Get a completed job's result
			jobs.GET("/:job_id/result", jobHandler.GetJobResult)

			// POST /api/v1/jobs/:job_id/cancel - Cancel a running job
			jobs.POST("/:job_id/cancel", jobHandler.CancelJob)
		}

		// POST /api/v1/datasets - Upload a dataset file
		v1.POST("/datasets", datasetHandler.UploadDataset)

		// GET /api/v1/ws - Live job event stream
		v1.GET("/ws", wsHandler.Stream)
	}

	return r
}
