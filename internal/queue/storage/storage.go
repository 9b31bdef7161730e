package storage

import (
	"context"
	_ "embed"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/cuongbtq/index-queue/internal/queue"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
)

//go:embed schema.sql
var schemaSQL string

const entryColumns = `id, model_name, record_id, document, locked_by, locked_at, created_at, updated_at`

// Storage is the Postgres-backed queue table
type Storage struct {
	db     *sqlx.DB
	logger *slog.Logger
}

var _ queue.Store = (*Storage)(nil)

// NewStorage creates a new Storage instance
func NewStorage(db *sqlx.DB, logger *slog.Logger) *Storage {
	return &Storage{
		db:     db,
		logger: logger,
	}
}

// EnsureSchema creates the documents table and its indexes if missing
func (s *Storage) EnsureSchema(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, schemaSQL); err != nil {
		return fmt.Errorf("failed to apply schema: %w", err)
	}
	return nil
}

// Insert appends one unclaimed row
func (s *Storage) Insert(ctx context.Context, entry queue.NewEntry) (*queue.Entry, error) {
	query := `
		INSERT INTO documents (model_name, record_id, document, created_at, updated_at)
		VALUES ($1, $2, $3::jsonb, NOW(), NOW())
		RETURNING ` + entryColumns

	var created queue.Entry
	err := s.db.GetContext(ctx, &created, query, entry.Key.ModelName, entry.Key.RecordID, string(entry.Payload))
	if err != nil {
		return nil, fmt.Errorf("failed to insert document: %w", err)
	}

	return &created, nil
}

type insertRow struct {
	ModelName string    `db:"model_name"`
	RecordID  int64     `db:"record_id"`
	Document  string    `db:"document"`
	CreatedAt time.Time `db:"created_at"`
	UpdatedAt time.Time `db:"updated_at"`
}

// InsertMany appends unclaimed rows with one multi-row insert
func (s *Storage) InsertMany(ctx context.Context, entries []queue.NewEntry) (int64, error) {
	if len(entries) == 0 {
		return 0, nil
	}

	now := time.Now().UTC()
	rows := make([]insertRow, len(entries))
	for i, e := range entries {
		rows[i] = insertRow{
			ModelName: e.Key.ModelName,
			RecordID:  e.Key.RecordID,
			Document:  string(e.Payload),
			CreatedAt: now,
			UpdatedAt: now,
		}
	}

	query := `
		INSERT INTO documents (model_name, record_id, document, created_at, updated_at)
		VALUES (:model_name, :record_id, :document, :created_at, :updated_at)
	`

	result, err := s.db.NamedExecContext(ctx, query, rows)
	if err != nil {
		return 0, fmt.Errorf("failed to insert documents: %w", err)
	}

	inserted, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to get rows affected: %w", err)
	}

	return inserted, nil
}

// ClaimBatch claims up to limit unclaimed rows using optimistic locking.
// The outer locked_by IS NULL guard is re-evaluated against the latest row
// version, so a row won by a concurrent claimer drops out of the result.
func (s *Storage) ClaimBatch(ctx context.Context, workerID string, limit int, now time.Time) ([]queue.Entry, error) {
	query := `
		WITH candidates AS (
			SELECT id
			FROM documents
			WHERE locked_by IS NULL
			ORDER BY id ASC
			LIMIT $2
		)
		UPDATE documents d
		SET locked_by = $1,
		    locked_at = $3,
		    updated_at = $3
		FROM candidates c
		WHERE d.id = c.id
		  AND d.locked_by IS NULL
		RETURNING d.id, d.model_name, d.record_id, d.document, d.locked_by, d.locked_at, d.created_at, d.updated_at
	`

	var entries []queue.Entry
	if err := s.db.SelectContext(ctx, &entries, query, workerID, limit, now.UTC()); err != nil {
		return nil, fmt.Errorf("failed to claim documents: %w", err)
	}

	sort.Slice(entries, func(i, j int) bool {
		return entries[i].ID < entries[j].ID
	})

	if len(entries) < limit {
		s.logger.Debug("Claimed fewer documents than requested",
			slog.String("worker_id", workerID),
			slog.Int("claimed", len(entries)),
			slog.Int("limit", limit),
		)
	}

	return entries, nil
}

// DeleteClaimed removes the rows with the given ids still locked by workerID
func (s *Storage) DeleteClaimed(ctx context.Context, workerID string, ids []int64) (int64, error) {
	if len(ids) == 0 {
		return 0, nil
	}

	result, err := s.db.ExecContext(ctx,
		`DELETE FROM documents WHERE locked_by = $1 AND id = ANY($2)`,
		workerID, pq.Array(ids),
	)
	if err != nil {
		return 0, fmt.Errorf("failed to delete documents: %w", err)
	}

	deleted, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to get rows affected: %w", err)
	}

	if deleted != int64(len(ids)) {
		s.logger.Warn("Deleted fewer documents than requested",
			slog.String("worker_id", workerID),
			slog.Int("requested", len(ids)),
			slog.Int64("deleted", deleted),
		)
	}

	return deleted, nil
}

// NonUniqueKeysLockedBy lists keys locked by workerID that occur more than
// once in the whole table
func (s *Storage) NonUniqueKeysLockedBy(ctx context.Context, workerID string) ([]queue.LogicalKey, error) {
	query := `
		SELECT model_name, record_id
		FROM documents
		WHERE (model_name, record_id) IN (
			SELECT model_name, record_id
			FROM documents
			WHERE locked_by = $1
		)
		GROUP BY model_name, record_id
		HAVING COUNT(*) > 1
		ORDER BY model_name, record_id
	`

	var keys []queue.LogicalKey
	if err := s.db.SelectContext(ctx, &keys, query, workerID); err != nil {
		return nil, fmt.Errorf("failed to select non-unique locked keys: %w", err)
	}

	return keys, nil
}

// DeleteOutdatedLocked removes rows locked by workerID that have a newer
// unlocked twin
func (s *Storage) DeleteOutdatedLocked(ctx context.Context, workerID string) (int64, error) {
	query := `
		DELETE FROM documents locked
		WHERE locked.locked_by = $1
		  AND EXISTS (
			SELECT 1
			FROM documents twin
			WHERE twin.model_name = locked.model_name
			  AND twin.record_id = locked.record_id
			  AND twin.locked_by IS NULL
			  AND twin.id > locked.id
		  )
	`

	result, err := s.db.ExecContext(ctx, query, workerID)
	if err != nil {
		return 0, fmt.Errorf("failed to delete outdated locked documents: %w", err)
	}

	deleted, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to get rows affected: %w", err)
	}

	return deleted, nil
}

// ReleaseStale clears the claim on rows locked by workerID before olderThan
func (s *Storage) ReleaseStale(ctx context.Context, workerID string, olderThan time.Time) (int64, error) {
	query := `
		UPDATE documents
		SET locked_by = NULL,
		    locked_at = NULL,
		    updated_at = NOW()
		WHERE locked_by = $1
		  AND locked_at < $2
	`

	result, err := s.db.ExecContext(ctx, query, workerID, olderThan.UTC())
	if err != nil {
		return 0, fmt.Errorf("failed to release stale documents: %w", err)
	}

	released, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to get rows affected: %w", err)
	}

	return released, nil
}

// IsNewest reports whether no row with the same key has a greater id
func (s *Storage) IsNewest(ctx context.Context, entry queue.Entry) (bool, error) {
	query := `
		SELECT NOT EXISTS (
			SELECT 1
			FROM documents
			WHERE model_name = $1
			  AND record_id = $2
			  AND id > $3
		)
	`

	var newest bool
	if err := s.db.GetContext(ctx, &newest, query, entry.ModelName, entry.RecordID, entry.ID); err != nil {
		return false, fmt.Errorf("failed to check newest document: %w", err)
	}

	return newest, nil
}

// Stats counts pending and claimed rows
func (s *Storage) Stats(ctx context.Context) (queue.Stats, error) {
	query := `
		SELECT
			COUNT(*) FILTER (WHERE locked_by IS NULL) AS pending,
			COUNT(*) FILTER (WHERE locked_by IS NOT NULL) AS claimed
		FROM documents
	`

	var stats queue.Stats
	if err := s.db.GetContext(ctx, &stats, query); err != nil {
		return queue.Stats{}, fmt.Errorf("failed to count documents: %w", err)
	}

	return stats, nil
}
