package kv

import (
	"context"
	"errors"
)

// ErrQuotaExceeded is returned by Set when the host store has no room left
// for the write.
var ErrQuotaExceeded = errors.New("storage quota exceeded")

// ErrClosed is returned by operations on a closed store.
var ErrClosed = errors.New("store is closed")

// Store is a persistent string key-value store.
type Store interface {
	// Get returns the value for key and whether it exists.
	Get(ctx context.Context, key string) (string, bool, error)

	// Set writes value under key, replacing any previous value.
	// Returns ErrQuotaExceeded if the store is full.
	Set(ctx context.Context, key, value string) error

	// Delete removes key. Deleting a missing key is not an error.
	Delete(ctx context.Context, key string) error

	// Keys returns every key in the store, in no particular order.
	Keys(ctx context.Context) ([]string, error)

	// Range calls fn for every entry until fn returns false.
	Range(ctx context.Context, fn func(key, value string) bool) error

	// Close releases resources held by the store.
	Close() error
}

// EntrySize is the accounted size of one entry.
func EntrySize(key, value string) int64 {
	return int64(len(key) + len(value))
}
