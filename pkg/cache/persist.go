package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"time"
)

// persistedItem is the on-disk form of an entry. Times are unix milliseconds.
type persistedItem struct {
	Data      json.RawMessage `json:"data"`
	Timestamp int64           `json:"timestamp"`
	ExpiresAt int64           `json:"expiresAt"`
}

// restore loads the persisted blob. Expired entries are dropped and a
// corrupt blob is ignored.
func (c *Cache) restore(ctx context.Context) {
	blob, ok, err := c.store.Get(ctx, c.storageKey)
	if err != nil {
		c.logger.Warn("failed to load persisted cache", "key", c.storageKey, "error", err)
		return
	}
	if !ok || blob == "" {
		return
	}

	var persisted map[string]persistedItem
	if err := json.Unmarshal([]byte(blob), &persisted); err != nil {
		c.logger.Warn("persisted cache is corrupt, ignoring", "key", c.storageKey, "error", err)
		return
	}

	now := c.clock.Now()
	restored, dropped := 0, 0

	c.mu.Lock()
	for key, p := range persisted {
		expiresAt := time.UnixMilli(p.ExpiresAt)
		if !now.Before(expiresAt) || len(p.Data) == 0 {
			dropped++
			continue
		}
		c.items[key] = &Item{
			Data:      p.Data,
			Timestamp: time.UnixMilli(p.Timestamp),
			ExpiresAt: expiresAt,
		}
		c.persistent[key] = struct{}{}
		restored++
	}
	c.observer.ObserveSize(len(c.items))
	c.mu.Unlock()

	c.logger.Debug("persisted cache restored", "restored", restored, "dropped_expired", dropped)
}

// snapshot collects the live persistent entries.
func (c *Cache) snapshot() map[string]*Item {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.clock.Now()
	out := make(map[string]*Item, len(c.persistent))
	for key := range c.persistent {
		it, ok := c.items[key]
		if !ok || it.expired(now) {
			continue
		}
		cp := *it
		out[key] = &cp
	}
	return out
}

// Persist writes every live persistent entry to the store as one blob. An
// empty persisted set removes the blob. Without a store Persist is a no-op.
func (c *Cache) Persist(ctx context.Context) error {
	if c.store == nil {
		return nil
	}

	c.persistMu.Lock()
	defer c.persistMu.Unlock()

	entries := c.snapshot()

	if len(entries) == 0 {
		err := c.store.Delete(ctx, c.storageKey)
		if err != nil {
			err = fmt.Errorf("failed to delete persisted cache: %w", err)
		}
		c.observer.ObservePersist(0, err)
		return err
	}

	persisted := make(map[string]persistedItem, len(entries))
	for key, it := range entries {
		data, err := json.Marshal(it.Data)
		if err != nil {
			c.logger.Warn("cache entry is not serializable, skipping", "key", key, "error", err)
			continue
		}
		persisted[key] = persistedItem{
			Data:      data,
			Timestamp: it.Timestamp.UnixMilli(),
			ExpiresAt: it.ExpiresAt.UnixMilli(),
		}
	}

	blob, err := json.Marshal(persisted)
	if err != nil {
		err = fmt.Errorf("failed to encode persisted cache: %w", err)
		c.observer.ObservePersist(len(persisted), err)
		return err
	}

	if err := c.store.Set(ctx, c.storageKey, string(blob)); err != nil {
		err = fmt.Errorf("failed to write persisted cache: %w", err)
		c.observer.ObservePersist(len(persisted), err)
		return err
	}

	c.observer.ObservePersist(len(persisted), nil)
	return nil
}

// persistBestEffort persists and logs failures. Callers never see the error.
func (c *Cache) persistBestEffort() {
	if err := c.Persist(c.ctx); err != nil {
		c.logger.Warn("cache persistence failed", "error", err)
	}
}
