package router_test

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/cuongbtq/index-queue/internal/api/dto"
	"github.com/cuongbtq/index-queue/internal/api/handler"
	"github.com/cuongbtq/index-queue/internal/api/router"
	"github.com/cuongbtq/index-queue/internal/index"
	"github.com/cuongbtq/index-queue/internal/queue"
	"github.com/cuongbtq/index-queue/internal/queue/storage"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type brokenStore struct {
	queue.Store
}

func (brokenStore) Stats(context.Context) (queue.Stats, error) {
	return queue.Stats{}, errors.New("connection refused")
}

func (brokenStore) Insert(context.Context, queue.NewEntry) (*queue.Entry, error) {
	return nil, errors.New("connection refused")
}

func setup(t *testing.T, store queue.Store) (*gin.Engine, *queue.Service) {
	t.Helper()
	gin.SetMode(gin.TestMode)

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	svc, err := queue.NewService(&queue.Config{Store: store, Logger: logger})
	require.NoError(t, err)

	return router.SetupRouter(&handler.Dependencies{Logger: logger, Queue: svc}), svc
}

func recordID(id int64) *int64 {
	return &id
}

func doJSON(t *testing.T, r http.Handler, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()

	var reader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(raw)
	}

	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func TestHealth(t *testing.T) {
	r, _ := setup(t, storage.NewMemory())

	w := doJSON(t, r, http.MethodGet, "/health", nil)

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "healthy")
}

func TestHealth_Unhealthy(t *testing.T) {
	gin.SetMode(gin.TestMode)
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	svc, err := queue.NewService(&queue.Config{Store: storage.NewMemory(), Logger: logger})
	require.NoError(t, err)

	r := router.SetupRouter(&handler.Dependencies{
		Logger: logger,
		Queue:  svc,
		HealthCheck: func(context.Context) error {
			return errors.New("database health check failed")
		},
	})

	w := doJSON(t, r, http.MethodGet, "/health", nil)

	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
	assert.Contains(t, w.Body.String(), "unhealthy")
}

func TestMetricsEndpoint(t *testing.T) {
	r, _ := setup(t, storage.NewMemory())

	w := doJSON(t, r, http.MethodGet, "/metrics", nil)

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "go_goroutines")
}

func TestRequestID(t *testing.T) {
	r, _ := setup(t, storage.NewMemory())

	t.Run("assigns a new id", func(t *testing.T) {
		w := doJSON(t, r, http.MethodGet, "/health", nil)

		_, err := uuid.Parse(w.Header().Get(router.RequestIDHeader))
		assert.NoError(t, err)
	})

	t.Run("keeps the caller's id", func(t *testing.T) {
		id := uuid.NewString()
		req := httptest.NewRequest(http.MethodGet, "/health", nil)
		req.Header.Set(router.RequestIDHeader, id)
		w := httptest.NewRecorder()
		r.ServeHTTP(w, req)

		assert.Equal(t, id, w.Header().Get(router.RequestIDHeader))
	})

	t.Run("replaces a malformed id", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/health", nil)
		req.Header.Set(router.RequestIDHeader, "not-a-uuid")
		w := httptest.NewRecorder()
		r.ServeHTTP(w, req)

		assert.NotEqual(t, "not-a-uuid", w.Header().Get(router.RequestIDHeader))
	})
}

func TestCORSPreflight(t *testing.T) {
	r, _ := setup(t, storage.NewMemory())

	w := doJSON(t, r, http.MethodOptions, "/api/v1/documents", nil)

	assert.Equal(t, http.StatusNoContent, w.Code)
	assert.Equal(t, "*", w.Header().Get("Access-Control-Allow-Origin"))
}

func TestEnqueueDocument(t *testing.T) {
	tests := []struct {
		name       string
		body       any
		wantStatus int
		wantDocID  string
	}{
		{
			name: "valid document",
			body: dto.EnqueueDocumentRequest{
				ModelName: "User",
				RecordID:  recordID(42),
				Fields:    map[string]string{"name": "Ada"},
				Text:      "Ada Lovelace",
			},
			wantStatus: http.StatusAccepted,
			wantDocID:  "User:42",
		},
		{
			name: "explicit docid",
			body: dto.EnqueueDocumentRequest{
				ModelName: "User",
				RecordID:  recordID(42),
				DocID:     "people-42",
			},
			wantStatus: http.StatusAccepted,
			wantDocID:  "people-42",
		},
		{
			name:       "missing model name",
			body:       map[string]any{"record_id": 1},
			wantStatus: http.StatusBadRequest,
		},
		{
			name:       "missing record id",
			body:       map[string]any{"model_name": "User"},
			wantStatus: http.StatusBadRequest,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r, _ := setup(t, storage.NewMemory())

			w := doJSON(t, r, http.MethodPost, "/api/v1/documents", tt.body)

			require.Equal(t, tt.wantStatus, w.Code, w.Body.String())
			if tt.wantDocID == "" {
				return
			}

			var resp dto.EntryDTO
			require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
			assert.Equal(t, tt.wantDocID, resp.DocID)
			assert.Equal(t, "User", resp.ModelName)
			assert.Equal(t, int64(42), resp.RecordID)
			assert.NotZero(t, resp.ID)
		})
	}
}

func TestEnqueueDocument_ZeroRecordID(t *testing.T) {
	r, _ := setup(t, storage.NewMemory())

	w := doJSON(t, r, http.MethodPost, "/api/v1/documents", map[string]any{
		"model_name": "Setting",
		"record_id":  0,
	})

	require.Equal(t, http.StatusAccepted, w.Code, w.Body.String())
	var resp dto.EntryDTO
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, "Setting:0", resp.DocID)
	assert.Zero(t, resp.RecordID)
}

func TestEnqueueDocument_StorageFailure(t *testing.T) {
	r, _ := setup(t, brokenStore{})

	w := doJSON(t, r, http.MethodPost, "/api/v1/documents", dto.EnqueueDocumentRequest{
		ModelName: "User",
		RecordID:  recordID(1),
	})

	assert.Equal(t, http.StatusInternalServerError, w.Code)
	assert.NotContains(t, w.Body.String(), "connection refused")
}

func TestEnqueueBatch(t *testing.T) {
	t.Run("enqueues every document", func(t *testing.T) {
		store := storage.NewMemory()
		r, _ := setup(t, store)

		w := doJSON(t, r, http.MethodPost, "/api/v1/documents/batch", dto.EnqueueBatchRequest{
			BatchSize: 2,
			Documents: []dto.EnqueueDocumentRequest{
				{ModelName: "User", RecordID: recordID(1)},
				{ModelName: "User", RecordID: recordID(2)},
				{ModelName: "Robot", RecordID: recordID(1)},
			},
		})

		require.Equal(t, http.StatusAccepted, w.Code, w.Body.String())
		var resp dto.EnqueueBatchResponse
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
		assert.Equal(t, 3, resp.Enqueued)

		stats, err := store.Stats(context.Background())
		require.NoError(t, err)
		assert.Equal(t, int64(3), stats.Pending)
	})

	t.Run("batch size out of range", func(t *testing.T) {
		for _, size := range []int{-1, 10001, 50000} {
			store := storage.NewMemory()
			r, _ := setup(t, store)

			w := doJSON(t, r, http.MethodPost, "/api/v1/documents/batch", dto.EnqueueBatchRequest{
				BatchSize: size,
				Documents: []dto.EnqueueDocumentRequest{{ModelName: "User", RecordID: recordID(1)}},
			})

			assert.Equal(t, http.StatusBadRequest, w.Code, "batch_size %d", size)
			stats, err := store.Stats(context.Background())
			require.NoError(t, err)
			assert.Zero(t, stats.Pending)
		}
	})

	t.Run("empty batch", func(t *testing.T) {
		r, _ := setup(t, storage.NewMemory())

		w := doJSON(t, r, http.MethodPost, "/api/v1/documents/batch", dto.EnqueueBatchRequest{})

		assert.Equal(t, http.StatusBadRequest, w.Code)
	})

	t.Run("invalid document in batch", func(t *testing.T) {
		r, _ := setup(t, storage.NewMemory())

		w := doJSON(t, r, http.MethodPost, "/api/v1/documents/batch", map[string]any{
			"documents": []map[string]any{{"record_id": 1}},
		})

		assert.Equal(t, http.StatusBadRequest, w.Code)
	})
}

func TestStats(t *testing.T) {
	t.Run("reports pending and claimed", func(t *testing.T) {
		store := storage.NewMemory()
		r, svc := setup(t, store)

		for i := int64(1); i <= 3; i++ {
			_, err := svc.Enqueue(context.Background(), queue.LogicalKey{ModelName: "User", RecordID: i}, index.Document{})
			require.NoError(t, err)
		}
		require.True(t, store.Lock(1, "indexer-0", time.Now()))

		w := doJSON(t, r, http.MethodGet, "/api/v1/documents/stats", nil)

		require.Equal(t, http.StatusOK, w.Code)
		var resp dto.StatsResponse
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
		assert.Equal(t, dto.StatsResponse{Pending: 2, Claimed: 1}, resp)
	})

	t.Run("storage failure", func(t *testing.T) {
		r, _ := setup(t, brokenStore{})

		w := doJSON(t, r, http.MethodGet, "/api/v1/documents/stats", nil)

		assert.Equal(t, http.StatusInternalServerError, w.Code)
	})
}

// stageDuplicates leaves an outdated claim of indexer-0 for User:1 and a sole
// claim for User:2.
func stageDuplicates(t *testing.T, store *storage.Memory, svc *queue.Service) {
	t.Helper()
	ctx := context.Background()

	old, err := svc.Enqueue(ctx, queue.LogicalKey{ModelName: "User", RecordID: 1}, index.Document{})
	require.NoError(t, err)
	sole, err := svc.Enqueue(ctx, queue.LogicalKey{ModelName: "User", RecordID: 2}, index.Document{})
	require.NoError(t, err)
	_, err = svc.Enqueue(ctx, queue.LogicalKey{ModelName: "User", RecordID: 1}, index.Document{})
	require.NoError(t, err)

	require.True(t, store.Lock(old.ID, "indexer-0", time.Now()))
	require.True(t, store.Lock(sole.ID, "indexer-0", time.Now()))
}

func TestListDuplicates(t *testing.T) {
	store := storage.NewMemory()
	r, svc := setup(t, store)
	stageDuplicates(t, store, svc)

	w := doJSON(t, r, http.MethodGet, "/api/v1/workers/indexer-0/duplicates", nil)

	require.Equal(t, http.StatusOK, w.Code)
	var resp dto.DuplicatesResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, "indexer-0", resp.WorkerID)
	assert.Equal(t, []dto.LogicalKeyDTO{{ModelName: "User", RecordID: 1, DocID: "User:1"}}, resp.Keys)

	w = doJSON(t, r, http.MethodGet, "/api/v1/workers/indexer-9/duplicates", nil)
	require.Equal(t, http.StatusOK, w.Code)
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Empty(t, resp.Keys)
}

func TestDeleteOutdated(t *testing.T) {
	store := storage.NewMemory()
	r, svc := setup(t, store)
	stageDuplicates(t, store, svc)

	w := doJSON(t, r, http.MethodDelete, "/api/v1/workers/indexer-0/outdated", nil)

	require.Equal(t, http.StatusOK, w.Code)
	var resp dto.DeleteOutdatedResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, dto.DeleteOutdatedResponse{WorkerID: "indexer-0", Deleted: 1}, resp)

	_, ok := store.Get(1)
	assert.False(t, ok)
	_, ok = store.Get(2)
	assert.True(t, ok)
}
