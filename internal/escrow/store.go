package escrow

import (
	"context"
	"sync"
)

// Store persists one Entry per key. Update runs fn against the current entry
// and commits the result atomically; if fn returns an error nothing changes.
// Concurrent updates of the same key are serialized.
type Store interface {
	Get(ctx context.Context, key Key) (Entry, error)
	Update(ctx context.Context, key Key, fn func(*Entry) error) error
}

// MemoryStore is mostly for testing.
type MemoryStore struct {
	mu   sync.Mutex
	data map[string]Entry
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{data: make(map[string]Entry)}
}

func (m *MemoryStore) Get(_ context.Context, key Key) (Entry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.data[key.String()], nil
}

func (m *MemoryStore) Update(_ context.Context, key Key, fn func(*Entry) error) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	id := key.String()
	entry := m.data[id]
	if err := fn(&entry); err != nil {
		return err
	}
	if entry.IsZero() {
		delete(m.data, id)
		return nil
	}
	m.data[id] = entry
	return nil
}
