package handler

import (
	"context"
	"errors"
	"log/slog"
	"net/http"

	"github.com/cuongbtq/index-queue/internal/queue"
	"github.com/gin-gonic/gin"
)

// DefaultBatchSize is used for bulk enqueues that do not set one
const DefaultBatchSize = 500

// Dependencies holds all dependencies needed by handlers
type Dependencies struct {
	Logger      *slog.Logger
	Queue       *queue.Service
	HealthCheck func(ctx context.Context) error // optional
}

// DocumentHandler handles producer requests
type DocumentHandler struct {
	logger *slog.Logger
	queue  *queue.Service
}

// NewDocumentHandler creates a new DocumentHandler instance
func NewDocumentHandler(deps *Dependencies) *DocumentHandler {
	return &DocumentHandler{
		logger: deps.Logger,
		queue:  deps.Queue,
	}
}

// WorkerHandler handles operator requests about worker claims
type WorkerHandler struct {
	logger *slog.Logger
	queue  *queue.Service
}

// NewWorkerHandler creates a new WorkerHandler instance
func NewWorkerHandler(deps *Dependencies) *WorkerHandler {
	return &WorkerHandler{
		logger: deps.Logger,
		queue:  deps.Queue,
	}
}

// statusFor maps queue errors to HTTP status codes
func statusFor(err error) int {
	switch {
	case errors.Is(err, queue.ErrInvalidEntry), errors.Is(err, queue.ErrInvalidArgument):
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

func abortWithError(c *gin.Context, logger *slog.Logger, msg string, err error) {
	status := statusFor(err)
	if status >= http.StatusInternalServerError {
		logger.Error(msg, slog.String("error", err.Error()))
		c.JSON(status, gin.H{"error": msg})
		return
	}

	logger.Warn(msg, slog.String("error", err.Error()))
	c.JSON(status, gin.H{"error": err.Error()})
}
