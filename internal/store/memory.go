package store

import (
	"context"
	"sync"
)

const defaultMemoryCapacity = 1000

// Memory is a bounded in-process history; the oldest records are dropped
// first once capacity is reached.
type Memory struct {
	mu       sync.RWMutex
	records  []MatchRecord
	nextID   uint
	capacity int
}

func NewMemory(capacity int) *Memory {
	if capacity <= 0 {
		capacity = defaultMemoryCapacity
	}
	return &Memory{capacity: capacity}
}

func (m *Memory) SaveMatch(_ context.Context, rec *MatchRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.nextID++
	rec.ID = m.nextID
	m.records = append(m.records, *rec)
	if over := len(m.records) - m.capacity; over > 0 {
		m.records = append(m.records[:0:0], m.records[over:]...)
	}
	return nil
}

func (m *Memory) RecentMatches(_ context.Context, limit int) ([]MatchRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if limit <= 0 || limit > len(m.records) {
		limit = len(m.records)
	}
	out := make([]MatchRecord, 0, limit)
	for i := len(m.records) - 1; i >= 0 && len(out) < limit; i-- {
		out = append(out, m.records[i])
	}
	return out, nil
}

func (m *Memory) Close() error { return nil }
