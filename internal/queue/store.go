package queue

import (
	"context"
	"time"
)

// NewEntry is an unclaimed row to append to the queue
type NewEntry struct {
	Key     LogicalKey
	Payload []byte
}

// Store is the durable queue table. Every mutation is a conditional
// statement scoped by id or locked_by, never an in-memory lock.
type Store interface {
	// Insert appends one unclaimed row.
	Insert(ctx context.Context, entry NewEntry) (*Entry, error)

	// InsertMany appends unclaimed rows in a single statement.
	InsertMany(ctx context.Context, entries []NewEntry) (int64, error)

	// ClaimBatch marks up to limit unclaimed rows, oldest first, as owned by
	// workerID and returns only the rows this call won.
	ClaimBatch(ctx context.Context, workerID string, limit int, now time.Time) ([]Entry, error)

	// DeleteClaimed removes the rows with the given ids that workerID still
	// holds. Rows released or reclaimed in the meantime are left alone.
	DeleteClaimed(ctx context.Context, workerID string, ids []int64) (int64, error)

	// NonUniqueKeysLockedBy lists keys locked by workerID that occur more
	// than once in the table.
	NonUniqueKeysLockedBy(ctx context.Context, workerID string) ([]LogicalKey, error)

	// DeleteOutdatedLocked removes rows locked by workerID that have a newer
	// unlocked row with the same key.
	DeleteOutdatedLocked(ctx context.Context, workerID string) (int64, error)

	// ReleaseStale clears the claim on rows locked by workerID before olderThan.
	ReleaseStale(ctx context.Context, workerID string, olderThan time.Time) (int64, error)

	// IsNewest reports whether no row with the same key has a greater id.
	IsNewest(ctx context.Context, entry Entry) (bool, error)

	// Stats counts pending and claimed rows.
	Stats(ctx context.Context) (Stats, error)
}

// Notifier wakes idle workers after new entries are appended
type Notifier interface {
	Notify(ctx context.Context) error
}
