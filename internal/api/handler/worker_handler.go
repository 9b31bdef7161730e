package handler

import (
	"log/slog"
	"net/http"

	"github.com/cuongbtq/index-queue/internal/api/dto"
	"github.com/gin-gonic/gin"
)

// ListDuplicates handles GET /api/v1/workers/:worker_id/duplicates
func (h *WorkerHandler) ListDuplicates(c *gin.Context) {
	workerID := c.Param("worker_id")

	keys, err := h.queue.NonUniqueLogicalKeysLockedBy(c.Request.Context(), workerID)
	if err != nil {
		abortWithError(c, h.logger, "Failed to list duplicated keys", err)
		return
	}

	resp := dto.DuplicatesResponse{
		WorkerID: workerID,
		Keys:     make([]dto.LogicalKeyDTO, len(keys)),
	}
	for i, k := range keys {
		resp.Keys[i] = dto.LogicalKeyDTO{
			ModelName: k.ModelName,
			RecordID:  k.RecordID,
			DocID:     k.DocID(),
		}
	}

	c.JSON(http.StatusOK, resp)
}

// DeleteOutdated handles DELETE /api/v1/workers/:worker_id/outdated
func (h *WorkerHandler) DeleteOutdated(c *gin.Context) {
	workerID := c.Param("worker_id")

	deleted, err := h.queue.DeleteOutdatedLockedEntries(c.Request.Context(), workerID)
	if err != nil {
		abortWithError(c, h.logger, "Failed to delete outdated entries", err)
		return
	}

	h.logger.Info("Outdated entries deleted by operator",
		slog.String("worker_id", workerID),
		slog.Int64("deleted", deleted),
	)

	c.JSON(http.StatusOK, dto.DeleteOutdatedResponse{
		WorkerID: workerID,
		Deleted:  deleted,
	})
}
