package entitlement

import (
	"context"
	"sync"
	"time"

	"deepsentinel/internal/tier"
)

// Compile-time check that MemoryStore implements Store.
var _ Store = (*MemoryStore)(nil)

// MemoryStore implements Store with an in-memory map. Suitable for tests
// and for running without a database.
type MemoryStore struct {
	mu    sync.RWMutex
	users map[string]UserEntitlement
}

// NewMemoryStore creates a new in-memory entitlement store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{users: make(map[string]UserEntitlement)}
}

// Get retrieves a user's entitlement.
func (m *MemoryStore) Get(_ context.Context, userID string) (*UserEntitlement, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	e, ok := m.users[userID]
	if !ok {
		return nil, ErrUserNotFound
	}
	cp := e
	if e.ExpiresAt != nil {
		t := *e.ExpiresAt
		cp.ExpiresAt = &t
	}
	return &cp, nil
}

// Upsert stores a user's entitlement, replacing any existing record.
func (m *MemoryStore) Upsert(_ context.Context, e *UserEntitlement) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	cp := *e
	if e.ExpiresAt != nil {
		t := *e.ExpiresAt
		cp.ExpiresAt = &t
	}
	m.users[e.UserID] = cp
	return nil
}

// ListByTier returns all entitlement records currently assigned the tier,
// active or not.
func (m *MemoryStore) ListByTier(_ context.Context, id tier.ID) ([]*UserEntitlement, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var result []*UserEntitlement
	for _, e := range m.users {
		if e.Tier != id {
			continue
		}
		cp := e
		if e.ExpiresAt != nil {
			t := *e.ExpiresAt
			cp.ExpiresAt = &t
		}
		result = append(result, &cp)
	}
	return result, nil
}

// CountActiveByTier counts unexpired active entitlements grouped by tier.
func (m *MemoryStore) CountActiveByTier(_ context.Context, now time.Time) (map[tier.ID]int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	counts := make(map[tier.ID]int)
	for _, e := range m.users {
		if e.EffectiveAt(now) {
			counts[e.Tier]++
		}
	}
	return counts, nil
}
