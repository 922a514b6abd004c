package kv

import (
	"context"
	"sync"
)

// MemoryStore implements Store using an in-memory map.
// All data is lost when the process exits.
//
// When Capacity is positive the store behaves like a quota-limited host
// store: a Set that would push the total entry size past Capacity fails with
// ErrQuotaExceeded and leaves the store unchanged.
type MemoryStore struct {
	mu       sync.RWMutex
	entries  map[string]string
	used     int64
	capacity int64
	closed   bool
}

// NewMemoryStore creates a memory store. A capacity of zero or less means
// unlimited.
func NewMemoryStore(capacity int64) *MemoryStore {
	return &MemoryStore{
		entries:  make(map[string]string),
		capacity: capacity,
	}
}

// Get returns the value for key.
func (m *MemoryStore) Get(ctx context.Context, key string) (string, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.closed {
		return "", false, ErrClosed
	}

	v, ok := m.entries[key]
	return v, ok, nil
}

// Set writes value under key.
func (m *MemoryStore) Set(ctx context.Context, key, value string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return ErrClosed
	}

	next := m.used + EntrySize(key, value)
	if old, ok := m.entries[key]; ok {
		next -= EntrySize(key, old)
	}
	if m.capacity > 0 && next > m.capacity {
		return ErrQuotaExceeded
	}

	m.entries[key] = value
	m.used = next
	return nil
}

// Delete removes key.
func (m *MemoryStore) Delete(ctx context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return ErrClosed
	}

	if old, ok := m.entries[key]; ok {
		m.used -= EntrySize(key, old)
		delete(m.entries, key)
	}
	return nil
}

// Keys returns every key.
func (m *MemoryStore) Keys(ctx context.Context) ([]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.closed {
		return nil, ErrClosed
	}

	keys := make([]string, 0, len(m.entries))
	for k := range m.entries {
		keys = append(keys, k)
	}
	return keys, nil
}

// Range iterates over a snapshot of the entries, so fn may modify the store.
func (m *MemoryStore) Range(ctx context.Context, fn func(key, value string) bool) error {
	m.mu.RLock()
	if m.closed {
		m.mu.RUnlock()
		return ErrClosed
	}
	snapshot := make(map[string]string, len(m.entries))
	for k, v := range m.entries {
		snapshot[k] = v
	}
	m.mu.RUnlock()

	for k, v := range snapshot {
		if err := ctx.Err(); err != nil {
			return err
		}
		if !fn(k, v) {
			return nil
		}
	}
	return nil
}

// Used returns the accounted size of all entries.
func (m *MemoryStore) Used() int64 {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.used
}

// Capacity returns the configured capacity, or zero for unlimited.
func (m *MemoryStore) Capacity() int64 {
	return m.capacity
}

// Close marks the store closed. Close is idempotent.
func (m *MemoryStore) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.closed = true
	m.entries = nil
	m.used = 0
	return nil
}
