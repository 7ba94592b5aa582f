package ledger

import (
	"context"
	"fmt"
	"sync"

	"github.com/google/uuid"
)

// DefaultMaxEntries bounds the in-memory ring when no limit is given.
const DefaultMaxEntries = 10000

// MemoryLedger is a process-local ledger with count-based retention: once
// the ring is full, each append overwrites the oldest slot in place, so
// appends stay O(1) at steady state. Lost on restart.
type MemoryLedger struct {
	mu         sync.RWMutex
	entries    []*Entry // fixed-size ring; oldest at head
	head       int
	count      int
	maxEntries int
	nextSeq    int64
}

// NewMemoryLedger creates a memory ledger retaining at most maxEntries
// entries. A non-positive maxEntries selects DefaultMaxEntries.
func NewMemoryLedger(maxEntries int) *MemoryLedger {
	if maxEntries <= 0 {
		maxEntries = DefaultMaxEntries
	}
	return &MemoryLedger{
		entries:    make([]*Entry, maxEntries),
		maxEntries: maxEntries,
		nextSeq:    1,
	}
}

// at returns the i-th retained entry, oldest first. Callers hold the lock.
func (m *MemoryLedger) at(i int) *Entry {
	return m.entries[(m.head+i)%m.maxEntries]
}

// Append records one entry, assigning its sequence number and ID.
func (m *MemoryLedger) Append(ctx context.Context, entry *Entry) error {
	if entry == nil {
		return NewLedgerError("memory", "append", fmt.Errorf("entry cannot be nil"))
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	stored := *entry
	stored.Seq = m.nextSeq
	m.nextSeq++
	if stored.ID == "" {
		stored.ID = uuid.NewString()
	}

	if m.count == m.maxEntries {
		// Retention by count: overwrite the oldest slot.
		m.entries[m.head] = &stored
		m.head = (m.head + 1) % m.maxEntries
	} else {
		m.entries[(m.head+m.count)%m.maxEntries] = &stored
		m.count++
	}

	entry.Seq = stored.Seq
	entry.ID = stored.ID
	return nil
}

// Query returns entries matching the filters. Cost is bounded by the
// retention limit, never by total history.
func (m *MemoryLedger) Query(ctx context.Context, q *Query) ([]*Entry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var matched []*Entry
	if q != nil && q.Ascending {
		for i := 0; i < m.count; i++ {
			if e := m.at(i); q.matches(e) {
				c := *e
				matched = append(matched, &c)
			}
		}
	} else {
		for i := m.count - 1; i >= 0; i-- {
			if e := m.at(i); q.matches(e) {
				c := *e
				matched = append(matched, &c)
			}
		}
	}

	return paginate(matched, q), nil
}

// Count returns the number of entries matching the filters.
func (m *MemoryLedger) Count(ctx context.Context, q *Query) (int64, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var n int64
	for i := 0; i < m.count; i++ {
		if q.matches(m.at(i)) {
			n++
		}
	}
	return n, nil
}

// Delete removes matching entries. Survivors are compacted to the front
// of a fresh ring.
func (m *MemoryLedger) Delete(ctx context.Context, q *Query) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	kept := make([]*Entry, m.maxEntries)
	var survivors int
	var deleted int64
	for i := 0; i < m.count; i++ {
		e := m.at(i)
		if q.matches(e) {
			deleted++
			continue
		}
		kept[survivors] = e
		survivors++
	}

	m.entries = kept
	m.head = 0
	m.count = survivors
	return deleted, nil
}

// Close is a no-op for the memory backend.
func (m *MemoryLedger) Close() error {
	return nil
}

// Size returns the number of retained entries, for monitoring and tests.
func (m *MemoryLedger) Size() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.count
}

// paginate applies offset and limit to an already-ordered result set.
func paginate(entries []*Entry, q *Query) []*Entry {
	if q == nil {
		return entries
	}
	if q.Offset > 0 {
		if q.Offset >= len(entries) {
			return []*Entry{}
		}
		entries = entries[q.Offset:]
	}
	if q.Limit > 0 && q.Limit < len(entries) {
		entries = entries[:q.Limit]
	}
	return entries
}
