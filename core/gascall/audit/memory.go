package audit

import (
	"context"
	"sync"
	"time"
)

// Memory is an in-memory call record store, used when no DSN is configured
// and in tests.
type Memory struct {
	mu      sync.RWMutex
	records []*CallRecord
	nextID  int64
}

// NewMemory initializes and returns a new instance of Memory storage.
func NewMemory() *Memory {
	return &Memory{}
}

// AddCallRecord appends a call record.
func (m *Memory) AddCallRecord(ctx context.Context, record *CallRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.nextID++
	record.ID = m.nextID
	if record.CreatedAt.IsZero() {
		record.CreatedAt = time.Now()
	}
	m.records = append(m.records, record)
	return nil
}

// RecentCalls returns up to limit records, newest first.
func (m *Memory) RecentCalls(ctx context.Context, limit int) ([]*CallRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if limit <= 0 || limit > len(m.records) {
		limit = len(m.records)
	}
	recent := make([]*CallRecord, 0, limit)
	for i := len(m.records) - 1; i >= 0 && len(recent) < limit; i-- {
		recent = append(recent, m.records[i])
	}
	return recent, nil
}

// Ping is a no-operation for memory storage but conforms to the storage interface.
func (m *Memory) Ping(ctx context.Context) error {
	return nil
}
