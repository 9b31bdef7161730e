package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/cuongbtq/index-queue/internal/index"
	"github.com/cuongbtq/index-queue/internal/metrics"
	"github.com/prometheus/client_golang/prometheus"
)

// Config holds queue service dependencies
type Config struct {
	Store    Store
	Index    index.Index // nil for enqueue-only services
	Notifier Notifier    // optional
	Logger   *slog.Logger
	Metrics  *metrics.Metrics
	Now      func() time.Time
}

// Service implements the enqueue, claim, dedup, reap and deliver protocol
// on top of a Store and a search Index.
type Service struct {
	store    Store
	index    index.Index
	notifier Notifier
	logger   *slog.Logger
	metrics  *metrics.Metrics
	now      func() time.Time
}

// NewService creates a new queue service
func NewService(cfg *Config) (*Service, error) {
	if cfg.Store == nil {
		return nil, fmt.Errorf("%w: queue store is required", ErrConfiguration)
	}

	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	m := cfg.Metrics
	if m == nil {
		m = metrics.New(prometheus.NewRegistry())
	}

	now := cfg.Now
	if now == nil {
		now = time.Now
	}

	return &Service{
		store:    cfg.Store,
		index:    cfg.Index,
		notifier: cfg.Notifier,
		logger:   logger,
		metrics:  m,
		now:      now,
	}, nil
}

// Enqueue appends one pending document for key. Duplicates are not checked
// here; they are resolved when a worker claims them.
func (s *Service) Enqueue(ctx context.Context, key LogicalKey, doc index.Document) (*Entry, error) {
	payload, err := encodeDocument(key, doc)
	if err != nil {
		return nil, err
	}

	entry, err := s.store.Insert(ctx, NewEntry{Key: key, Payload: payload})
	if err != nil {
		return nil, fmt.Errorf("%w: failed to enqueue %s: %w", ErrStorage, key.DocID(), err)
	}

	s.metrics.AddEnqueued(1)
	s.logger.Debug("Document enqueued",
		slog.Int64("entry_id", entry.ID),
		slog.String("doc_id", key.DocID()),
	)

	s.notify(ctx)
	return entry, nil
}

// EnqueueAll appends docs in chunks of batchSize and returns how many were
// enqueued. A failed chunk stops the run; earlier chunks stay enqueued.
func (s *Service) EnqueueAll(ctx context.Context, docs []KeyedDocument, batchSize int) (int, error) {
	if batchSize <= 0 {
		return 0, fmt.Errorf("%w: batch size must be greater than 0", ErrInvalidArgument)
	}

	count := 0
	for start := 0; start < len(docs); start += batchSize {
		end := min(start+batchSize, len(docs))

		batch := make([]NewEntry, 0, end-start)
		for _, d := range docs[start:end] {
			payload, err := encodeDocument(d.Key, d.Document)
			if err != nil {
				return count, err
			}
			batch = append(batch, NewEntry{Key: d.Key, Payload: payload})
		}

		n, err := s.store.InsertMany(ctx, batch)
		if err != nil {
			return count, fmt.Errorf("%w: failed to enqueue batch at offset %d: %w", ErrStorage, start, err)
		}
		count += int(n)
		s.metrics.AddEnqueued(int(n))
	}

	if count > 0 {
		s.logger.Info("Documents enqueued in bulk",
			slog.Int("count", count),
			slog.Int("batch_size", batchSize),
		)
		s.notify(ctx)
	}

	return count, nil
}

// ClaimBatch claims up to limit unclaimed entries for workerID. Rows taken by
// a concurrent claimer are left out; an empty queue yields an empty result.
func (s *Service) ClaimBatch(ctx context.Context, workerID string, limit int) ([]Entry, error) {
	if workerID == "" {
		return nil, fmt.Errorf("%w: worker id is required", ErrInvalidArgument)
	}
	if limit <= 0 {
		return nil, fmt.Errorf("%w: limit must be greater than 0", ErrInvalidArgument)
	}

	entries, err := s.store.ClaimBatch(ctx, workerID, limit, s.now())
	if err != nil {
		return nil, fmt.Errorf("%w: failed to claim batch: %w", ErrStorage, err)
	}

	if len(entries) > 0 {
		s.metrics.AddClaimed(len(entries))
		s.logger.Debug("Batch claimed",
			slog.String("worker_id", workerID),
			slog.Int("claimed", len(entries)),
			slog.Int("limit", limit),
		)
	}

	return entries, nil
}

// NonUniqueLogicalKeysLockedBy lists the keys locked by workerID that also
// have another row in the queue.
func (s *Service) NonUniqueLogicalKeysLockedBy(ctx context.Context, workerID string) ([]LogicalKey, error) {
	if workerID == "" {
		return nil, fmt.Errorf("%w: worker id is required", ErrInvalidArgument)
	}

	keys, err := s.store.NonUniqueKeysLockedBy(ctx, workerID)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to list duplicated locked keys: %w", ErrStorage, err)
	}
	return keys, nil
}

// DeleteOutdatedLockedEntries removes entries locked by workerID that are
// older than an unlocked entry for the same key. The sole copy of a key is
// never removed.
func (s *Service) DeleteOutdatedLockedEntries(ctx context.Context, workerID string) (int64, error) {
	if workerID == "" {
		return 0, fmt.Errorf("%w: worker id is required", ErrInvalidArgument)
	}

	deleted, err := s.store.DeleteOutdatedLocked(ctx, workerID)
	if err != nil {
		return 0, fmt.Errorf("%w: failed to delete outdated locked entries: %w", ErrStorage, err)
	}

	if deleted > 0 {
		s.logger.Info("Outdated locked entries deleted",
			slog.String("worker_id", workerID),
			slog.Int64("deleted", deleted),
		)
	}
	return deleted, nil
}

// Reap recovers the claims workerID left behind. Locked entries superseded by
// a newer unlocked twin are deleted; remaining claims older than threshold
// are released so they can be claimed again.
func (s *Service) Reap(ctx context.Context, workerID string, threshold time.Duration) (ReapResult, error) {
	if threshold < 0 {
		return ReapResult{}, fmt.Errorf("%w: staleness threshold must not be negative", ErrInvalidArgument)
	}

	deleted, err := s.DeleteOutdatedLockedEntries(ctx, workerID)
	if err != nil {
		return ReapResult{}, err
	}

	released, err := s.store.ReleaseStale(ctx, workerID, s.now().Add(-threshold))
	if err != nil {
		return ReapResult{Deleted: deleted}, fmt.Errorf("%w: failed to release stale claims: %w", ErrStorage, err)
	}

	s.metrics.AddReaped(deleted, released)
	if released > 0 {
		s.logger.Warn("Stale claims released",
			slog.String("worker_id", workerID),
			slog.Int64("released", released),
			slog.Duration("threshold", threshold),
		)
	}

	return ReapResult{Deleted: deleted, Released: released}, nil
}

// IsNewest reports whether entry is the most recent row for its key.
func (s *Service) IsNewest(ctx context.Context, entry Entry) (bool, error) {
	newest, err := s.store.IsNewest(ctx, entry)
	if err != nil {
		return false, fmt.Errorf("%w: failed to check entry %d: %w", ErrStorage, entry.ID, err)
	}
	return newest, nil
}

// Deliver sends the newest entry per key to the index and then deletes every
// input entry its claimant still holds. Entries must come from ClaimBatch.
// When the index call fails nothing is deleted; the claims stay in place
// until the reaper releases them.
func (s *Service) Deliver(ctx context.Context, entries []Entry) (DeliveryResult, error) {
	if len(entries) == 0 {
		return DeliveryResult{}, nil
	}
	if s.index == nil {
		return DeliveryResult{}, fmt.Errorf("%w: search index is not configured", ErrConfiguration)
	}

	survivors, discarded := ResolveDuplicates(entries)

	docs := make([]index.Document, 0, len(survivors))
	for i := range survivors {
		doc, err := survivors[i].Document()
		if err != nil {
			return DeliveryResult{}, fmt.Errorf("%w: %w", ErrDelivery, err)
		}
		docs = append(docs, doc)
	}

	for i := range entries {
		if !entries[i].Claimed() {
			return DeliveryResult{}, fmt.Errorf("%w: entry %d is not claimed", ErrInvalidArgument, entries[i].ID)
		}
	}

	start := time.Now()
	if err := s.index.BatchInsert(ctx, docs); err != nil {
		s.metrics.IncrementDeliveryFailure()
		s.logger.Error("Search index rejected batch",
			slog.Int("documents", len(docs)),
			slog.Any("error", err),
		)
		return DeliveryResult{}, fmt.Errorf("%w: %w", ErrDelivery, err)
	}

	for workerID, ids := range idsByClaimant(entries) {
		if _, err := s.store.DeleteClaimed(ctx, workerID, ids); err != nil {
			return DeliveryResult{}, fmt.Errorf("%w: delivered batch but failed to delete entries of %s: %w", ErrStorage, workerID, err)
		}
	}

	result := DeliveryResult{Delivered: len(survivors), Discarded: len(discarded)}
	s.metrics.ObserveDelivery(start, result.Delivered, result.Discarded)
	s.logger.Info("Batch delivered",
		slog.Int("delivered", result.Delivered),
		slog.Int("discarded", result.Discarded),
	)

	return result, nil
}

// Stats returns queue counts and refreshes the depth gauges.
func (s *Service) Stats(ctx context.Context) (Stats, error) {
	stats, err := s.store.Stats(ctx)
	if err != nil {
		return Stats{}, fmt.Errorf("%w: failed to read queue stats: %w", ErrStorage, err)
	}
	s.metrics.SetDepth(stats.Pending, stats.Claimed)
	return stats, nil
}

func (s *Service) notify(ctx context.Context) {
	if s.notifier == nil {
		return
	}
	if err := s.notifier.Notify(ctx); err != nil {
		s.logger.Warn("Failed to notify workers",
			slog.Any("error", err),
		)
	}
}

func encodeDocument(key LogicalKey, doc index.Document) ([]byte, error) {
	if key.ModelName == "" {
		return nil, fmt.Errorf("%w: model name is required", ErrInvalidEntry)
	}
	if doc.DocID == "" {
		doc.DocID = key.DocID()
	}

	payload, err := json.Marshal(doc)
	if err != nil {
		return nil, errors.Join(ErrInvalidEntry, err)
	}
	return payload, nil
}
