package worker

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/cuongbtq/index-queue/internal/index"
	"github.com/cuongbtq/index-queue/internal/notify"
	"github.com/cuongbtq/index-queue/internal/queue"
	"github.com/cuongbtq/index-queue/internal/queue/storage"
	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingIndex struct {
	mu   sync.Mutex
	docs []index.Document
	err  error
}

func (r *recordingIndex) BatchInsert(_ context.Context, docs []index.Document) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.err != nil {
		return r.err
	}
	r.docs = append(r.docs, docs...)
	return nil
}

func (r *recordingIndex) delivered() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	ids := make([]string, len(r.docs))
	for i, d := range r.docs {
		ids[i] = d.DocID
	}
	return ids
}

type fakeSubscriber struct {
	deliveries chan amqp.Delivery
	err        error
}

func (f *fakeSubscriber) Subscribe(string) (<-chan amqp.Delivery, error) {
	if f.err != nil {
		return nil, f.err
	}
	return f.deliveries, nil
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestWorker(t *testing.T, store queue.Store, idx index.Index, mutate func(cfg *Config)) *Worker {
	t.Helper()

	svc, err := queue.NewService(&queue.Config{
		Store:  store,
		Index:  idx,
		Logger: discardLogger(),
	})
	require.NoError(t, err)

	cfg := &Config{
		Logger:          discardLogger(),
		Queue:           svc,
		WorkerID:        "indexer",
		Concurrency:     2,
		BatchSize:       10,
		PollInterval:    10 * time.Millisecond,
		StaleThreshold:  time.Minute,
		DeliveryTimeout: time.Second,
	}
	if mutate != nil {
		mutate(cfg)
	}
	return NewWorker(cfg)
}

func enqueue(t *testing.T, svc *queue.Service, model string, recordID int64, name string) *queue.Entry {
	t.Helper()
	entry, err := svc.Enqueue(context.Background(),
		queue.LogicalKey{ModelName: model, RecordID: recordID},
		index.Document{Fields: map[string]string{"name": name}},
	)
	require.NoError(t, err)
	return entry
}

func TestNewWorker_Defaults(t *testing.T) {
	w := NewWorker(&Config{WorkerID: "indexer"})

	assert.Equal(t, 1, w.concurrency)
	assert.Len(t, w.wakeChans, 1)
	assert.NotNil(t, w.logger)
}

func TestWorker_GoroutineName(t *testing.T) {
	w := NewWorker(&Config{WorkerID: "indexer", Concurrency: 3})

	assert.Equal(t, "indexer-0", w.goroutineName(0))
	assert.Equal(t, "indexer-2", w.goroutineName(2))
}

func TestWorker_ClaimsUnderWorkerID(t *testing.T) {
	store := storage.NewMemory()
	idx := &recordingIndex{err: errors.New("index unavailable")}
	w := newTestWorker(t, store, idx, func(cfg *Config) { cfg.Concurrency = 3 })

	entry := enqueue(t, w.queue, "User", 1, "Ada")

	errCh := make(chan error, 1)
	go func() {
		errCh <- w.Start(context.Background())
	}()

	assert.Eventually(t, func() bool {
		row, ok := store.Get(entry.ID)
		return ok && row.ClaimedBy != nil && *row.ClaimedBy == "indexer"
	}, 2*time.Second, 10*time.Millisecond)

	w.Stop()
	require.NoError(t, <-errCh)
}

func TestWorker_RecoversClaimAfterConcurrencyChange(t *testing.T) {
	// A previous run with a larger pool crashed holding this claim.
	store := storage.NewMemory()
	idx := &recordingIndex{}
	w := newTestWorker(t, store, idx, func(cfg *Config) { cfg.Concurrency = 1 })

	abandoned := enqueue(t, w.queue, "User", 3, "Grace")
	require.True(t, store.Lock(abandoned.ID, "indexer", time.Now().Add(-24*time.Hour)))

	errCh := make(chan error, 1)
	go func() {
		errCh <- w.Start(context.Background())
	}()

	assert.Eventually(t, func() bool {
		return len(idx.delivered()) == 1
	}, 2*time.Second, 10*time.Millisecond)

	w.Stop()
	require.NoError(t, <-errCh)

	assert.Equal(t, []string{"User:3"}, idx.delivered())
	_, ok := store.Get(abandoned.ID)
	assert.False(t, ok)
}

func TestWorker_ProcessBatch(t *testing.T) {
	t.Run("delivers newest per key and empties the queue", func(t *testing.T) {
		store := storage.NewMemory()
		idx := &recordingIndex{}
		w := newTestWorker(t, store, idx, nil)

		enqueue(t, w.queue, "User", 1, "Ada")
		enqueue(t, w.queue, "User", 2, "Grace")
		enqueue(t, w.queue, "User", 1, "Ada Lovelace")

		claimed, err := w.processBatch(context.Background(), "indexer")
		require.NoError(t, err)
		assert.Equal(t, 3, claimed)
		assert.Equal(t, []string{"User:2", "User:1"}, idx.delivered())

		stats, err := store.Stats(context.Background())
		require.NoError(t, err)
		assert.Equal(t, queue.Stats{}, stats)
	})

	t.Run("empty queue", func(t *testing.T) {
		idx := &recordingIndex{}
		w := newTestWorker(t, storage.NewMemory(), idx, nil)

		claimed, err := w.processBatch(context.Background(), "indexer")
		require.NoError(t, err)
		assert.Zero(t, claimed)
		assert.Empty(t, idx.delivered())
	})

	t.Run("index failure keeps entries claimed", func(t *testing.T) {
		store := storage.NewMemory()
		idx := &recordingIndex{err: errors.New("index unavailable")}
		w := newTestWorker(t, store, idx, nil)

		entry := enqueue(t, w.queue, "User", 1, "Ada")

		claimed, err := w.processBatch(context.Background(), "indexer")
		require.Error(t, err)
		assert.ErrorIs(t, err, queue.ErrDelivery)
		assert.Equal(t, 1, claimed)

		row, ok := store.Get(entry.ID)
		require.True(t, ok)
		require.NotNil(t, row.ClaimedBy)
		assert.Equal(t, "indexer", *row.ClaimedBy)
	})

	t.Run("respects batch size", func(t *testing.T) {
		store := storage.NewMemory()
		idx := &recordingIndex{}
		w := newTestWorker(t, store, idx, func(cfg *Config) { cfg.BatchSize = 2 })

		for i := int64(1); i <= 5; i++ {
			enqueue(t, w.queue, "User", i, "user")
		}

		claimed, err := w.processBatch(context.Background(), "indexer")
		require.NoError(t, err)
		assert.Equal(t, 2, claimed)
		assert.Equal(t, []string{"User:1", "User:2"}, idx.delivered())
	})
}

func TestWorker_RunCycle(t *testing.T) {
	t.Run("drains every batch", func(t *testing.T) {
		store := storage.NewMemory()
		idx := &recordingIndex{}
		w := newTestWorker(t, store, idx, func(cfg *Config) { cfg.BatchSize = 2 })

		for i := int64(1); i <= 5; i++ {
			enqueue(t, w.queue, "User", i, "user")
		}

		w.runCycle(context.Background(), "indexer")

		assert.Len(t, idx.delivered(), 5)
		stats, err := store.Stats(context.Background())
		require.NoError(t, err)
		assert.Zero(t, stats.Pending)
	})

	t.Run("recovers own stale claim before claiming", func(t *testing.T) {
		store := storage.NewMemory()
		idx := &recordingIndex{}
		w := newTestWorker(t, store, idx, nil)

		abandoned := enqueue(t, w.queue, "User", 7, "Ada")
		require.True(t, store.Lock(abandoned.ID, "indexer", time.Now().Add(-time.Hour)))

		w.runCycle(context.Background(), "indexer")

		assert.Equal(t, []string{"User:7"}, idx.delivered())
		_, ok := store.Get(abandoned.ID)
		assert.False(t, ok)
	})

	t.Run("drops superseded claim of own worker id", func(t *testing.T) {
		store := storage.NewMemory()
		idx := &recordingIndex{}
		w := newTestWorker(t, store, idx, nil)

		old := enqueue(t, w.queue, "User", 7, "Ada")
		require.True(t, store.Lock(old.ID, "indexer", time.Now()))
		enqueue(t, w.queue, "User", 7, "Ada Lovelace")

		w.runCycle(context.Background(), "indexer")

		_, ok := store.Get(old.ID)
		assert.False(t, ok)
		assert.Equal(t, []string{"User:7"}, idx.delivered())
	})

	t.Run("leaves other worker ids alone", func(t *testing.T) {
		store := storage.NewMemory()
		idx := &recordingIndex{}
		w := newTestWorker(t, store, idx, nil)

		foreign := enqueue(t, w.queue, "User", 7, "Ada")
		require.True(t, store.Lock(foreign.ID, "reporter", time.Now().Add(-time.Hour)))

		w.runCycle(context.Background(), "indexer")

		assert.Empty(t, idx.delivered())
		row, ok := store.Get(foreign.ID)
		require.True(t, ok)
		require.NotNil(t, row.ClaimedBy)
		assert.Equal(t, "reporter", *row.ClaimedBy)
	})
}

func TestWorker_StartStop(t *testing.T) {
	store := storage.NewMemory()
	idx := &recordingIndex{}
	w := newTestWorker(t, store, idx, nil)

	for i := int64(1); i <= 25; i++ {
		enqueue(t, w.queue, "User", i, "user")
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- w.Start(context.Background())
	}()

	assert.Eventually(t, func() bool {
		return len(idx.delivered()) == 25
	}, 2*time.Second, 10*time.Millisecond)

	w.Stop()
	require.NoError(t, <-errCh)
}

func TestWorker_StartStopsOnContextCancel(t *testing.T) {
	w := newTestWorker(t, storage.NewMemory(), &recordingIndex{}, nil)

	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() {
		errCh <- w.Start(ctx)
	}()

	cancel()

	select {
	case err := <-errCh:
		require.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("worker did not stop after context cancel")
	}
}

func TestWorker_StartSubscribeError(t *testing.T) {
	w := newTestWorker(t, storage.NewMemory(), &recordingIndex{}, func(cfg *Config) {
		cfg.Subscriber = &fakeSubscriber{err: errors.New("not connected")}
	})

	err := w.Start(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to subscribe to wakeups")
}

func TestWorker_WakeupTriggersDelivery(t *testing.T) {
	store := storage.NewMemory()
	idx := &recordingIndex{}
	deliveries := make(chan amqp.Delivery, 1)
	w := newTestWorker(t, store, idx, func(cfg *Config) {
		cfg.PollInterval = time.Hour
		cfg.Subscriber = &fakeSubscriber{deliveries: deliveries}
	})

	errCh := make(chan error, 1)
	go func() {
		errCh <- w.Start(context.Background())
	}()
	defer func() {
		w.Stop()
		require.NoError(t, <-errCh)
	}()

	// Let every goroutine finish its first, empty cycle.
	time.Sleep(50 * time.Millisecond)

	enqueue(t, w.queue, "User", 1, "Ada")

	body, err := json.Marshal(notify.Wakeup{Event: notify.EventDocumentsEnqueued, At: time.Now()})
	require.NoError(t, err)
	deliveries <- amqp.Delivery{Body: body}

	assert.Eventually(t, func() bool {
		return len(idx.delivered()) == 1
	}, 2*time.Second, 10*time.Millisecond)
}

func TestWorker_WakeAllDoesNotBlock(t *testing.T) {
	w := NewWorker(&Config{WorkerID: "indexer", Concurrency: 2})

	w.wakeAll()
	w.wakeAll()

	for _, ch := range w.wakeChans {
		assert.Len(t, ch, 1)
	}
}
