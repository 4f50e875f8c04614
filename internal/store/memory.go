package store

import (
	"context"
	"sync"
	"time"
)

// Memory keeps records in process. Ids start at 1.
type Memory struct {
	mu      sync.RWMutex
	records []Record
	now     func() time.Time
}

// NewMemory returns an empty in-memory store.
func NewMemory() *Memory {
	return &Memory{now: time.Now}
}

func (m *Memory) SaveAnalysis(_ context.Context, a Analysis) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	r := newRecord(a, m.now())
	r.ID = int64(len(m.records) + 1)
	m.records = append(m.records, r)
	return r.ID, nil
}

func (m *Memory) GetAnalysis(_ context.Context, id int64) (*Record, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if id < 1 || id > int64(len(m.records)) {
		return nil, ErrNotFound
	}
	r := m.records[id-1]
	r.Tags = append([]string(nil), r.Tags...)
	return &r, nil
}

// Len reports how many records were saved.
func (m *Memory) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.records)
}

func (m *Memory) Close() error { return nil }
