package router

import (
	"log/slog"
	"net/http"

	"github.com/cuongbtq/index-queue/internal/api/handler"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// SetupRouter configures and returns the Gin router with all routes
func SetupRouter(deps *handler.Dependencies) *gin.Engine {
	r := gin.New()

	// Middleware
	r.Use(gin.Recovery())
	r.Use(RequestIDMiddleware())
	r.Use(LoggerMiddleware(deps.Logger))
	r.Use(CORSMiddleware())

	r.GET("/health", func(c *gin.Context) {
		if deps.HealthCheck != nil {
			if err := deps.HealthCheck(c.Request.Context()); err != nil {
				deps.Logger.Error("Health check failed", slog.String("error", err.Error()))
				c.JSON(http.StatusServiceUnavailable, gin.H{
					"status":  "unhealthy",
					"service": "index-queue-api",
				})
				return
			}
		}

		c.JSON(http.StatusOK, gin.H{
			"status":  "healthy",
			"service": "index-queue-api",
		})
	})

	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	documentHandler := handler.NewDocumentHandler(deps)
	workerHandler := handler.NewWorkerHandler(deps)

	v1 := r.Group("/api/v1")
	{
		documents := v1.Group("/documents")
		{
			documents.POST("", documentHandler.EnqueueDocument)
			documents.POST("/batch", documentHandler.EnqueueBatch)
			documents.GET("/stats", documentHandler.Stats)
		}

		workers := v1.Group("/workers/:worker_id")
		{
			workers.GET("/duplicates", workerHandler.ListDuplicates)
			workers.DELETE("/outdated", workerHandler.DeleteOutdated)
		}
	}

	return r
}
