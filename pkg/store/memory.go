package store

import (
	"context"
	"sync"
)

// MemoryStore provides an in-memory Store implementation for tests and for
// running without durability.
type MemoryStore struct {
	mu    sync.RWMutex
	names []string
	saves int
}

// NewMemory creates an empty MemoryStore.
func NewMemory() *MemoryStore {
	return &MemoryStore{names: []string{}}
}

// NewMemoryWith creates a MemoryStore pre-populated with names.
func NewMemoryWith(names ...string) *MemoryStore {
	m := NewMemory()
	m.names = append(m.names, names...)
	return m
}

// Load returns a copy of the stored names.
func (m *MemoryStore) Load(_ context.Context) ([]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]string, len(m.names))
	copy(out, m.names)
	return out, nil
}

// Save replaces the stored names.
func (m *MemoryStore) Save(_ context.Context, names []string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.names = append(m.names[:0:0], names...)
	m.saves++
	return nil
}

// Saves reports how many times Save has been called.
func (m *MemoryStore) Saves() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.saves
}

// Close is a no-op.
func (m *MemoryStore) Close() error { return nil }
