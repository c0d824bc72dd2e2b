package usage

import (
	"context"
	"sync"
)

// MemoryStore is an in-memory usage store for demo/development mode.
type MemoryStore struct {
	mu     sync.RWMutex
	counts map[counterKey]int64
}

type counterKey struct {
	userID string
	kind   Kind
	period string
}

// NewMemoryStore creates a new in-memory usage store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{counts: make(map[counterKey]int64)}
}

func (m *MemoryStore) Increment(ctx context.Context, userID string, kind Kind, period string) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	k := counterKey{userID: userID, kind: kind, period: period}
	m.counts[k]++
	return m.counts[k], nil
}

func (m *MemoryStore) Get(ctx context.Context, userID string, kind Kind, period string) (int64, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	// Absent counter means zero usage, not an error.
	return m.counts[counterKey{userID: userID, kind: kind, period: period}], nil
}

func (m *MemoryStore) TotalForPeriod(ctx context.Context, kind Kind, period string) (int64, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var total int64
	for k, v := range m.counts {
		if k.kind == kind && k.period == period {
			total += v
		}
	}
	return total, nil
}
