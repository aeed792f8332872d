package dashboard

import (
	"context"
	"sort"
	"sync"
)

// MemoryStore is an in-process Reader used by tests and local runs.
type MemoryStore struct {
	mu            sync.RWMutex
	stats         map[int64]Stats
	activity      map[int64][]Activity
	insights      map[int64][]Insight
	notifications map[int64][]Notification
	nextID        int64
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		stats:         make(map[int64]Stats),
		activity:      make(map[int64][]Activity),
		insights:      make(map[int64][]Insight),
		notifications: make(map[int64][]Notification),
	}
}

func (m *MemoryStore) SetStats(userID int64, st Stats) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.stats[userID] = st
}

func (m *MemoryStore) AddActivity(userID int64, a Activity) int64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.nextID++
	a.ID = m.nextID
	m.activity[userID] = append(m.activity[userID], a)
	return a.ID
}

func (m *MemoryStore) AddInsight(userID int64, in Insight) int64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.nextID++
	in.ID = m.nextID
	m.insights[userID] = append(m.insights[userID], in)
	return in.ID
}

func (m *MemoryStore) AddNotification(userID int64, n Notification) int64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.nextID++
	n.ID = m.nextID
	m.notifications[userID] = append(m.notifications[userID], n)
	return n.ID
}

func (m *MemoryStore) Stats(_ context.Context, userID int64) (Stats, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	st, ok := m.stats[userID]
	if !ok {
		return Stats{}, ErrNotFound
	}
	return st, nil
}

func (m *MemoryStore) Activity(_ context.Context, userID int64, limit int) ([]Activity, error) {
	m.mu.RLock()
	out := append([]Activity{}, m.activity[userID]...)
	m.mu.RUnlock()
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Time.Equal(out[j].Time) {
			return out[i].ID > out[j].ID
		}
		return out[i].Time.After(out[j].Time)
	})
	return capped(out, limit), nil
}

func (m *MemoryStore) Insights(_ context.Context, userID int64, limit int) ([]Insight, error) {
	m.mu.RLock()
	out := append([]Insight{}, m.insights[userID]...)
	m.mu.RUnlock()
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Date.Equal(out[j].Date) {
			return out[i].ID > out[j].ID
		}
		return out[i].Date.After(out[j].Date)
	})
	return capped(out, limit), nil
}

func (m *MemoryStore) Notifications(_ context.Context, userID int64) ([]Notification, error) {
	m.mu.RLock()
	out := append([]Notification{}, m.notifications[userID]...)
	m.mu.RUnlock()
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Time.Equal(out[j].Time) {
			return out[i].ID > out[j].ID
		}
		return out[i].Time.After(out[j].Time)
	})
	return out, nil
}

func capped[T any](items []T, limit int) []T {
	if limit > 0 && len(items) > limit {
		return items[:limit]
	}
	return items
}

var (
	_ Reader = (*MemoryStore)(nil)
	_ Reader = (*PGStore)(nil)
)
