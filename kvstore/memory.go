// Package kvstore provides cache.Durable implementations: an in-memory map for tests
// and ephemeral setups, a SQL table (sqlkv) and Redis (rediskv).
package kvstore

import (
	"context"
	"sort"
	"sync"

	"github.com/goliatone/go-query-cache/cache"
)

var _ cache.Durable = (*Memory)(nil)

// Memory is a goroutine-safe map backed cache.Durable. Its contents survive a new
// cache.Manager built over the same instance, which is how restarts are simulated.
type Memory struct {
	mu    sync.RWMutex
	blobs map[string]string
}

// NewMemory returns an empty Memory store.
func NewMemory() *Memory {
	return &Memory{blobs: make(map[string]string)}
}

func (m *Memory) Get(_ context.Context, key string) (string, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	blob, ok := m.blobs[key]
	return blob, ok, nil
}

func (m *Memory) Set(_ context.Context, key, blob string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.blobs[key] = blob
	return nil
}

func (m *Memory) Remove(_ context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.blobs, key)
	return nil
}

// Keys returns every key in lexical order.
func (m *Memory) Keys(_ context.Context) ([]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	keys := make([]string, 0, len(m.blobs))
	for k := range m.blobs {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys, nil
}
