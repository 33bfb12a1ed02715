// Package persistence stores the ledger's four state documents behind a
// minimal key-value interface with pluggable backends.
package persistence

import (
	"context"
	"sync"
)

// KeyValueStore is the minimal persistence contract: whole documents in,
// whole documents out. Backends must be safe for use from the flush worker
// goroutine concurrently with loads.
type KeyValueStore interface {
	// Get returns the stored document and whether it exists.
	Get(ctx context.Context, key string) (string, bool, error)

	// Set stores a document, replacing any previous value.
	Set(ctx context.Context, key, value string) error
}

// MemoryStore is an in-memory KeyValueStore used in tests and as a
// fallback backend.
type MemoryStore struct {
	mu   sync.RWMutex
	docs map[string]string
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{docs: make(map[string]string)}
}

func (m *MemoryStore) Get(ctx context.Context, key string) (string, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	v, ok := m.docs[key]
	return v, ok, nil
}

func (m *MemoryStore) Set(ctx context.Context, key, value string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.docs[key] = value
	return nil
}

// Keys returns all stored keys. Test helper.
func (m *MemoryStore) Keys() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]string, 0, len(m.docs))
	for k := range m.docs {
		out = append(out, k)
	}
	return out
}
