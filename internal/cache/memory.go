package cache

import (
	"context"
	"sync"

	"NewsDigest/internal/domain"
	"NewsDigest/internal/ports"
)

// MemoryStore is a process-local CacheStore.
type MemoryStore struct {
	mu      sync.RWMutex
	entries map[string]domain.CacheEntry
}

var _ ports.CacheStore = (*MemoryStore)(nil)

// NewMemoryStore builds an empty store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{entries: map[string]domain.CacheEntry{}}
}

// Lookup returns the entry for key.
func (m *MemoryStore) Lookup(_ context.Context, key string) (domain.CacheEntry, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	entry, ok := m.entries[key]
	return entry, ok, nil
}

// Insert stores entry unless the key already exists.
func (m *MemoryStore) Insert(_ context.Context, entry domain.CacheEntry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, exists := m.entries[entry.Key]; !exists {
		m.entries[entry.Key] = entry
	}
	return nil
}
