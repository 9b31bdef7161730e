package handler

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/cuongbtq/index-queue/internal/api/dto"
	"github.com/cuongbtq/index-queue/internal/index"
	"github.com/cuongbtq/index-queue/internal/queue"
	"github.com/gin-gonic/gin"
)

// EnqueueDocument handles POST /api/v1/documents
func (h *DocumentHandler) EnqueueDocument(c *gin.Context) {
	var req dto.EnqueueDocumentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.logger.Warn("Invalid request body", slog.String("error", err.Error()))
		c.JSON(http.StatusBadRequest, gin.H{
			"error": "Invalid request body",
		})
		return
	}

	key, doc := toKeyedDocument(req)
	entry, err := h.queue.Enqueue(c.Request.Context(), key, doc)
	if err != nil {
		abortWithError(c, h.logger, "Failed to enqueue document", err)
		return
	}

	c.JSON(http.StatusAccepted, toEntryDTO(entry))
}

// EnqueueBatch handles POST /api/v1/documents/batch
func (h *DocumentHandler) EnqueueBatch(c *gin.Context) {
	var req dto.EnqueueBatchRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.logger.Warn("Invalid request body", slog.String("error", err.Error()))
		c.JSON(http.StatusBadRequest, gin.H{
			"error": "Invalid request body",
		})
		return
	}

	batchSize := req.BatchSize
	if batchSize <= 0 {
		batchSize = DefaultBatchSize
	}

	docs := make([]queue.KeyedDocument, len(req.Documents))
	for i, d := range req.Documents {
		key, doc := toKeyedDocument(d)
		docs[i] = queue.KeyedDocument{Key: key, Document: doc}
	}

	n, err := h.queue.EnqueueAll(c.Request.Context(), docs, batchSize)
	if err != nil {
		h.logger.Error("Bulk enqueue stopped early", slog.Int("enqueued", n))
		abortWithError(c, h.logger, "Failed to enqueue documents", err)
		return
	}

	c.JSON(http.StatusAccepted, dto.EnqueueBatchResponse{Enqueued: n})
}

// Stats handles GET /api/v1/documents/stats
func (h *DocumentHandler) Stats(c *gin.Context) {
	stats, err := h.queue.Stats(c.Request.Context())
	if err != nil {
		abortWithError(c, h.logger, "Failed to read queue stats", err)
		return
	}

	c.JSON(http.StatusOK, dto.StatsResponse{
		Pending: stats.Pending,
		Claimed: stats.Claimed,
	})
}

func toKeyedDocument(req dto.EnqueueDocumentRequest) (queue.LogicalKey, index.Document) {
	var recordID int64
	if req.RecordID != nil {
		recordID = *req.RecordID
	}

	key := queue.LogicalKey{ModelName: req.ModelName, RecordID: recordID}
	return key, index.Document{
		DocID:     req.DocID,
		Fields:    req.Fields,
		Variables: req.Variables,
		Text:      req.Text,
	}
}

func toEntryDTO(entry *queue.Entry) dto.EntryDTO {
	docID := entry.Key().DocID()
	if doc, err := entry.Document(); err == nil && doc.DocID != "" {
		docID = doc.DocID
	}

	return dto.EntryDTO{
		ID:        entry.ID,
		ModelName: entry.ModelName,
		RecordID:  entry.RecordID,
		DocID:     docID,
		CreatedAt: entry.CreatedAt.Format(time.RFC3339),
	}
}
