package storage

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/cuongbtq/index-queue/internal/queue"
)

// Memory is an in-process queue table with the same claim semantics as
// Storage. Rows live only as long as the process.
type Memory struct {
	mu     sync.Mutex
	nextID int64
	rows   map[int64]*queue.Entry
	now    func() time.Time
}

var _ queue.Store = (*Memory)(nil)

// NewMemory creates an empty in-memory queue table
func NewMemory() *Memory {
	return &Memory{
		rows: make(map[int64]*queue.Entry),
		now:  time.Now,
	}
}

// Insert appends one unclaimed row
func (m *Memory) Insert(_ context.Context, entry queue.NewEntry) (*queue.Entry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	created := m.insertLocked(entry)
	return copyEntry(created), nil
}

// InsertMany appends unclaimed rows
func (m *Memory) InsertMany(_ context.Context, entries []queue.NewEntry) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, e := range entries {
		m.insertLocked(e)
	}
	return int64(len(entries)), nil
}

// ClaimBatch claims up to limit unclaimed rows, oldest first
func (m *Memory) ClaimBatch(_ context.Context, workerID string, limit int, now time.Time) ([]queue.Entry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var claimed []queue.Entry
	for _, row := range m.sortedLocked() {
		if len(claimed) >= limit {
			break
		}
		if row.ClaimedBy != nil {
			continue
		}

		owner := workerID
		at := now
		row.ClaimedBy = &owner
		row.ClaimedAt = &at
		row.UpdatedAt = now
		claimed = append(claimed, *copyEntry(row))
	}

	return claimed, nil
}

// DeleteClaimed removes the rows with the given ids still locked by workerID
func (m *Memory) DeleteClaimed(_ context.Context, workerID string, ids []int64) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var deleted int64
	for _, id := range ids {
		if row, ok := m.rows[id]; ok && lockedBy(row, workerID) {
			delete(m.rows, id)
			deleted++
		}
	}
	return deleted, nil
}

// NonUniqueKeysLockedBy lists keys locked by workerID that occur more than
// once in the table
func (m *Memory) NonUniqueKeysLockedBy(_ context.Context, workerID string) ([]queue.LogicalKey, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	counts := make(map[queue.LogicalKey]int)
	locked := make(map[queue.LogicalKey]bool)
	for _, row := range m.rows {
		key := row.Key()
		counts[key]++
		if lockedBy(row, workerID) {
			locked[key] = true
		}
	}

	var keys []queue.LogicalKey
	for key := range locked {
		if counts[key] > 1 {
			keys = append(keys, key)
		}
	}

	sort.Slice(keys, func(i, j int) bool {
		if keys[i].ModelName != keys[j].ModelName {
			return keys[i].ModelName < keys[j].ModelName
		}
		return keys[i].RecordID < keys[j].RecordID
	})
	return keys, nil
}

// DeleteOutdatedLocked removes rows locked by workerID that have a newer
// unlocked twin
func (m *Memory) DeleteOutdatedLocked(_ context.Context, workerID string) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	newestUnlocked := make(map[queue.LogicalKey]int64)
	for _, row := range m.rows {
		if row.ClaimedBy == nil && row.ID > newestUnlocked[row.Key()] {
			newestUnlocked[row.Key()] = row.ID
		}
	}

	var deleted int64
	for id, row := range m.rows {
		if lockedBy(row, workerID) && newestUnlocked[row.Key()] > row.ID {
			delete(m.rows, id)
			deleted++
		}
	}
	return deleted, nil
}

// ReleaseStale clears the claim on rows locked by workerID before olderThan
func (m *Memory) ReleaseStale(_ context.Context, workerID string, olderThan time.Time) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var released int64
	for _, row := range m.rows {
		if lockedBy(row, workerID) && row.ClaimedAt.Before(olderThan) {
			row.ClaimedBy = nil
			row.ClaimedAt = nil
			row.UpdatedAt = m.now()
			released++
		}
	}
	return released, nil
}

// IsNewest reports whether no row with the same key has a greater id
func (m *Memory) IsNewest(_ context.Context, entry queue.Entry) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, row := range m.rows {
		if row.Key() == entry.Key() && row.ID > entry.ID {
			return false, nil
		}
	}
	return true, nil
}

// Stats counts pending and claimed rows
func (m *Memory) Stats(_ context.Context) (queue.Stats, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var stats queue.Stats
	for _, row := range m.rows {
		if row.ClaimedBy == nil {
			stats.Pending++
		} else {
			stats.Claimed++
		}
	}
	return stats, nil
}

// Lock claims the row with id for workerID at the given time. It lets
// callers stage claims directly, e.g. to simulate a crashed worker.
func (m *Memory) Lock(id int64, workerID string, at time.Time) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	row, ok := m.rows[id]
	if !ok {
		return false
	}
	owner := workerID
	row.ClaimedBy = &owner
	row.ClaimedAt = &at
	return true
}

// Get returns a copy of the row with id
func (m *Memory) Get(id int64) (queue.Entry, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	row, ok := m.rows[id]
	if !ok {
		return queue.Entry{}, false
	}
	return *copyEntry(row), true
}

func (m *Memory) insertLocked(entry queue.NewEntry) *queue.Entry {
	m.nextID++
	now := m.now()
	row := &queue.Entry{
		ID:        m.nextID,
		ModelName: entry.Key.ModelName,
		RecordID:  entry.Key.RecordID,
		Payload:   append([]byte(nil), entry.Payload...),
		CreatedAt: now,
		UpdatedAt: now,
	}
	m.rows[row.ID] = row
	return row
}

func (m *Memory) sortedLocked() []*queue.Entry {
	rows := make([]*queue.Entry, 0, len(m.rows))
	for _, row := range m.rows {
		rows = append(rows, row)
	}
	sort.Slice(rows, func(i, j int) bool {
		return rows[i].ID < rows[j].ID
	})
	return rows
}

func lockedBy(row *queue.Entry, workerID string) bool {
	return row.ClaimedBy != nil && *row.ClaimedBy == workerID
}

func copyEntry(row *queue.Entry) *queue.Entry {
	c := *row
	c.Payload = append([]byte(nil), row.Payload...)
	if row.ClaimedBy != nil {
		owner := *row.ClaimedBy
		c.ClaimedBy = &owner
	}
	if row.ClaimedAt != nil {
		at := *row.ClaimedAt
		c.ClaimedAt = &at
	}
	return &c
}
