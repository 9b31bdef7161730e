package queue

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/cuongbtq/index-queue/internal/index"
)

// LogicalKey identifies the source record an entry represents
type LogicalKey struct {
	ModelName string `db:"model_name" json:"model_name"`
	RecordID  int64  `db:"record_id" json:"record_id"`
}

// DocID returns the search index document id for the key
func (k LogicalKey) DocID() string {
	return fmt.Sprintf("%s:%d", k.ModelName, k.RecordID)
}

// Entry is one pending enqueue attempt in the documents table
type Entry struct {
	ID        int64      `db:"id"`
	ModelName string     `db:"model_name"`
	RecordID  int64      `db:"record_id"`
	Payload   []byte     `db:"document"`
	ClaimedBy *string    `db:"locked_by"`
	ClaimedAt *time.Time `db:"locked_at"`
	CreatedAt time.Time  `db:"created_at"`
	UpdatedAt time.Time  `db:"updated_at"`
}

// Key returns the logical key of the entry
func (e *Entry) Key() LogicalKey {
	return LogicalKey{ModelName: e.ModelName, RecordID: e.RecordID}
}

// Claimed reports whether a worker currently owns the entry
func (e *Entry) Claimed() bool {
	return e.ClaimedBy != nil
}

// Document decodes the serialized payload
func (e *Entry) Document() (index.Document, error) {
	var doc index.Document
	if err := json.Unmarshal(e.Payload, &doc); err != nil {
		return index.Document{}, fmt.Errorf("entry %d: %w", e.ID, err)
	}
	return doc, nil
}

// KeyedDocument pairs a document with the record it was built from
type KeyedDocument struct {
	Key      LogicalKey
	Document index.Document
}

// Stats summarizes the queue table
type Stats struct {
	Pending int64 `db:"pending" json:"pending"`
	Claimed int64 `db:"claimed" json:"claimed"`
}

// ReapResult reports what a reap pass did for one worker identity
type ReapResult struct {
	Deleted  int64 `json:"deleted"`
	Released int64 `json:"released"`
}

// DeliveryResult reports the outcome of a successful delivery
type DeliveryResult struct {
	Delivered int `json:"delivered"`
	Discarded int `json:"discarded"`
}
