package store

import (
	"context"
	"sync"
	"time"

	"github.com/ashureev/vulndash/internal/domain"
)

// MemoryStore is a process-local Repository. Entries do not survive restarts.
type MemoryStore struct {
	mu      sync.RWMutex
	entries map[string]domain.Suggestion
}

// NewMemory creates an empty in-memory repository.
func NewMemory() *MemoryStore {
	return &MemoryStore{entries: make(map[string]domain.Suggestion)}
}

func (m *MemoryStore) GetSuggestion(_ context.Context, alertID string) (*domain.Suggestion, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	sg, ok := m.entries[alertID]
	if !ok {
		return nil, nil
	}
	return &sg, nil
}

func (m *MemoryStore) PutSuggestion(_ context.Context, sg *domain.Suggestion) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.entries[sg.AlertID] = *sg
	return nil
}

func (m *MemoryStore) ClearSuggestions(context.Context) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := int64(len(m.entries))
	m.entries = make(map[string]domain.Suggestion)
	return n, nil
}

func (m *MemoryStore) DeleteExpired(_ context.Context, cutoff time.Time) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var n int64
	for id, sg := range m.entries {
		if sg.CreatedAt.Before(cutoff) {
			delete(m.entries, id)
			n++
		}
	}
	return n, nil
}

func (m *MemoryStore) Ping(context.Context) error { return nil }
func (m *MemoryStore) Close() error               { return nil }
