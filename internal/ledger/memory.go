package ledger

import (
	"context"
	"sync"
	"time"

	"agendacal/internal/model"
)

// Memory is an in-process ledger. It satisfies the same contract as the
// SQLite store and backs tests and dry runs; records do not survive the
// process.
type Memory struct {
	mu      sync.Mutex
	passMu  sync.Mutex
	records map[string]memoryRecord
}

type memoryRecord struct {
	occurrenceEnd time.Time
	remindedAt    time.Time
}

// NewMemory returns an empty in-memory ledger.
func NewMemory() *Memory {
	return &Memory{records: make(map[string]memoryRecord)}
}

// Exclusive serializes remind passes; the in-process counterpart of the
// SQLite store's lock file.
func (m *Memory) Exclusive(_ context.Context) (func() error, error) {
	m.passMu.Lock()
	var once sync.Once
	return func() error {
		once.Do(m.passMu.Unlock)
		return nil
	}, nil
}

func (m *Memory) HasReminded(_ context.Context, id model.Identity) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.records[id.Key()]
	return ok, nil
}

func (m *Memory) MarkReminded(_ context.Context, id model.Identity, occurrenceEnd, remindedAt time.Time) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	key := id.Key()
	if _, ok := m.records[key]; ok {
		return false, nil
	}
	m.records[key] = memoryRecord{occurrenceEnd: occurrenceEnd, remindedAt: remindedAt}
	return true, nil
}

// Prune deletes records whose occurrence ended before the cutoff.
func (m *Memory) Prune(_ context.Context, before time.Time) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var n int64
	for key, rec := range m.records {
		if rec.occurrenceEnd.Before(before) {
			delete(m.records, key)
			n++
		}
	}
	return n, nil
}
