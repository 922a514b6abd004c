package quota

import (
	"context"

	"mercator-hq/relayguard/pkg/storage/kv"
)

// GuardedStore is a kv.Store whose writes go through a Guard.
// It does not own the underlying store: Close is a no-op.
type GuardedStore struct {
	guard *Guard
}

var _ kv.Store = (*GuardedStore)(nil)

// Store returns a kv.Store view of the guarded store. Set returns a
// *WriteError wrapping ErrItemTooLarge or ErrQuotaExceeded on refusal.
func (g *Guard) Store() *GuardedStore {
	return &GuardedStore{guard: g}
}

// Get reads from the underlying store.
func (s *GuardedStore) Get(ctx context.Context, key string) (string, bool, error) {
	return s.guard.store.Get(ctx, key)
}

// Set writes through Guard.SetItem.
func (s *GuardedStore) Set(ctx context.Context, key, value string) error {
	return s.guard.SetItem(ctx, key, value)
}

// Delete removes key from the underlying store.
func (s *GuardedStore) Delete(ctx context.Context, key string) error {
	return s.guard.store.Delete(ctx, key)
}

// Keys lists the underlying store's keys.
func (s *GuardedStore) Keys(ctx context.Context) ([]string, error) {
	return s.guard.store.Keys(ctx)
}

// Range iterates over the underlying store.
func (s *GuardedStore) Range(ctx context.Context, fn func(key, value string) bool) error {
	return s.guard.store.Range(ctx, fn)
}

// Close is a no-op.
func (s *GuardedStore) Close() error {
	return nil
}
