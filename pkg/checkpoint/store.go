// Package checkpoint persists small named tokens between sync runs.
//
// Connectors use checkpoints for incremental cursors (the last consumed
// activity ID) and cached OAuth bearer tokens. The Store interface is
// injected so callers decide where state lives; tests use MemoryStore,
// deployments use RedisStore.
package checkpoint

import (
	"context"
	"errors"
	"sync"
)

// ErrNotFound indicates no checkpoint exists under the given name.
var ErrNotFound = errors.New("checkpoint not found")

// Store loads and saves named checkpoint tokens.
type Store interface {
	// Load returns the value stored under name, or ErrNotFound.
	Load(ctx context.Context, name string) (string, error)

	// Save stores value under name, replacing any previous value.
	Save(ctx context.Context, name string, value string) error
}

// MemoryStore is an in-process Store for tests and one-shot runs.
type MemoryStore struct {
	mu     sync.RWMutex
	values map[string]string
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		values: make(map[string]string),
	}
}

// Load implements Store.
func (m *MemoryStore) Load(_ context.Context, name string) (string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	value, ok := m.values[name]
	if !ok {
		return "", ErrNotFound
	}
	return value, nil
}

// Save implements Store.
func (m *MemoryStore) Save(_ context.Context, name string, value string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.values[name] = value
	return nil
}
