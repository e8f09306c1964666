package testutils

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/rickgao/tickvault/internal/model"
)

type rowKey struct {
	key model.InstrumentKey
	ltt uint32
}

// MemoryStore is an in-memory writer.Store. Rows are keyed like the real
// tables, so repeated upserts of the same (key, ltt) keep one row.
type MemoryStore struct {
	Mu     sync.Mutex
	tables map[string]map[rowKey]model.QuoteEvent
	calls  int

	// failure injection
	failNext   int
	failErr    error
	failTables map[string]error
	delay      time.Duration
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		tables:     make(map[string]map[rowKey]model.QuoteEvent),
		failTables: make(map[string]error),
	}
}

func (m *MemoryStore) Upsert(ctx context.Context, table string, quotes []model.QuoteEvent) error {
	m.Mu.Lock()
	m.calls++
	delay := m.delay
	if m.failNext > 0 {
		m.failNext--
		err := m.failErr
		m.Mu.Unlock()
		return err
	}
	if err, ok := m.failTables[table]; ok {
		m.Mu.Unlock()
		return err
	}
	m.Mu.Unlock()

	if delay > 0 {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(delay):
		}
	}

	m.Mu.Lock()
	defer m.Mu.Unlock()
	rows, ok := m.tables[table]
	if !ok {
		rows = make(map[rowKey]model.QuoteEvent)
		m.tables[table] = rows
	}
	for _, q := range quotes {
		rows[rowKey{key: q.Key, ltt: q.LTT}] = q
	}
	return nil
}

// FailNext makes the next n Upsert calls return err.
func (m *MemoryStore) FailNext(n int, err error) {
	m.Mu.Lock()
	defer m.Mu.Unlock()
	m.failNext = n
	m.failErr = err
}

// FailTable makes every Upsert into table return err until cleared with a nil err.
func (m *MemoryStore) FailTable(table string, err error) {
	m.Mu.Lock()
	defer m.Mu.Unlock()
	if err == nil {
		delete(m.failTables, table)
		return
	}
	m.failTables[table] = err
}

// SetDelay makes every Upsert wait d, or until its context ends.
func (m *MemoryStore) SetDelay(d time.Duration) {
	m.Mu.Lock()
	defer m.Mu.Unlock()
	m.delay = d
}

// Rows returns the rows of table ordered by key then ltt.
func (m *MemoryStore) Rows(table string) []model.QuoteEvent {
	m.Mu.Lock()
	defer m.Mu.Unlock()

	out := make([]model.QuoteEvent, 0, len(m.tables[table]))
	for _, q := range m.tables[table] {
		out = append(out, q)
	}
	sort.Slice(out, func(i, j int) bool {
		a, b := out[i], out[j]
		if a.Key.Segment != b.Key.Segment {
			return a.Key.Segment < b.Key.Segment
		}
		if a.Key.SecurityID != b.Key.SecurityID {
			return a.Key.SecurityID < b.Key.SecurityID
		}
		return a.LTT < b.LTT
	})
	return out
}

// Count returns the number of rows in table.
func (m *MemoryStore) Count(table string) int {
	m.Mu.Lock()
	defer m.Mu.Unlock()
	return len(m.tables[table])
}

// Calls returns how many times Upsert was called.
func (m *MemoryStore) Calls() int {
	m.Mu.Lock()
	defer m.Mu.Unlock()
	return m.calls
}
