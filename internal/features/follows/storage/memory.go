package storage

import (
	"context"
	"encoding/json"
	"maps"
	"slices"
	"sync"
)

// MemoryStore is a Backend kept entirely in memory
type MemoryStore struct {
	mu    sync.RWMutex
	files map[string][]byte
	local map[string][]byte
	items map[string]json.RawMessage
}

// NewMemoryStore returns an empty in-memory backend
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		files: map[string][]byte{},
		local: map[string][]byte{},
		items: map[string]json.RawMessage{},
	}
}

func (m *MemoryStore) ReadFile(_ context.Context, path string) ([]byte, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	data, ok := m.files[path]
	if !ok {
		return nil, ErrNotFound
	}
	return slices.Clone(data), nil
}

func (m *MemoryStore) WriteFile(_ context.Context, path string, data []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.files[path] = slices.Clone(data)
	return nil
}

func (m *MemoryStore) DeleteFile(_ context.Context, path string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.files, path)
	return nil
}

func (m *MemoryStore) LocalGet(_ context.Context, key string) ([]byte, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	v, ok := m.local[key]
	if !ok {
		return nil, ErrNotFound
	}
	return slices.Clone(v), nil
}

func (m *MemoryStore) LocalSet(_ context.Context, key string, value []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.local[key] = slices.Clone(value)
	return nil
}

func (m *MemoryStore) SyncItems(_ context.Context) (map[string]json.RawMessage, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return maps.Clone(m.items), nil
}

func (m *MemoryStore) SetSyncItems(_ context.Context, items map[string]json.RawMessage) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for k, v := range items {
		m.items[k] = slices.Clone(v)
	}
	return nil
}

// HasFile reports whether path exists; used by tests
func (m *MemoryStore) HasFile(path string) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	_, ok := m.files[path]
	return ok
}
