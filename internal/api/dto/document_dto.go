package dto

type EnqueueDocumentRequest struct {
	ModelName string            `json:"model_name" binding:"required"`
	RecordID  *int64            `json:"record_id" binding:"required"`
	DocID     string            `json:"docid"`
	Fields    map[string]string `json:"fields"`
	Variables map[int]float64   `json:"variables"`
	Text      string            `json:"text"`
}

type EnqueueBatchRequest struct {
	Documents []EnqueueDocumentRequest `json:"documents" binding:"required,min=1,dive"`
	BatchSize int                      `json:"batch_size" binding:"omitempty,min=1,max=10000"`
}

type EnqueueBatchResponse struct {
	Enqueued int `json:"enqueued"`
}

type EntryDTO struct {
	ID        int64  `json:"id"`
	ModelName string `json:"model_name"`
	RecordID  int64  `json:"record_id"`
	DocID     string `json:"docid"`
	CreatedAt string `json:"created_at"`
}

type StatsResponse struct {
	Pending int64 `json:"pending"`
	Claimed int64 `json:"claimed"`
}

type LogicalKeyDTO struct {
	ModelName string `json:"model_name"`
	RecordID  int64  `json:"record_id"`
	DocID     string `json:"docid"`
}

type DuplicatesResponse struct {
	WorkerID string          `json:"worker_id"`
	Keys     []LogicalKeyDTO `json:"keys"`
}

type DeleteOutdatedResponse struct {
	WorkerID string `json:"worker_id"`
	Deleted  int64  `json:"deleted"`
}
