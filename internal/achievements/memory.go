package achievements

import (
	"context"
	"sort"
	"sync"
	"time"
)

// MemoryStore is an in-process Catalog and UnlockStore, used when no database
// is configured and in tests.
type MemoryStore struct {
	mu       sync.RWMutex
	catalog  map[string]Achievement
	unlocked map[string]map[string]time.Time // identity -> achievementID -> unlockedAt
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		catalog:  make(map[string]Achievement),
		unlocked: make(map[string]map[string]time.Time),
	}
}

func (m *MemoryStore) GetAchievement(_ context.Context, id string) (Achievement, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	a, ok := m.catalog[id]
	if !ok {
		return Achievement{}, ErrUnknownAchievement
	}
	return a, nil
}

func (m *MemoryStore) PutAchievement(_ context.Context, a Achievement) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.catalog[a.ID] = a
	return nil
}

func (m *MemoryStore) ListAchievements(_ context.Context) ([]Achievement, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]Achievement, 0, len(m.catalog))
	for _, a := range m.catalog {
		out = append(out, a)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (m *MemoryStore) RecordUnlock(_ context.Context, identity, achievementID string, at time.Time) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	set, ok := m.unlocked[identity]
	if !ok {
		set = make(map[string]time.Time)
		m.unlocked[identity] = set
	}
	if _, exists := set[achievementID]; exists {
		return false, nil
	}
	set[achievementID] = at
	return true, nil
}

func (m *MemoryStore) ListUnlocks(_ context.Context, identity string) ([]Unlock, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	set := m.unlocked[identity]
	out := make([]Unlock, 0, len(set))
	for id, at := range set {
		out = append(out, Unlock{Identity: identity, AchievementID: id, UnlockedAt: at})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].UnlockedAt.Before(out[j].UnlockedAt) })
	return out, nil
}

var (
	_ Catalog     = (*MemoryStore)(nil)
	_ UnlockStore = (*MemoryStore)(nil)
)
