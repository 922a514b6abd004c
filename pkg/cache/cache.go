package cache

import (
	"context"
	"encoding/json"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/filecoin-project/go-clock"
	"golang.org/x/sync/singleflight"

	"mercator-hq/relayguard/pkg/storage/kv"
)

// Defaults.
const (
	DefaultTTL             = 5 * time.Minute
	DefaultGCInterval      = 60 * time.Second
	DefaultPersistInterval = 30 * time.Second
	DefaultStorageKey      = "relayguard:cache"
)

// Item is a cached value with its write and expiry times.
type Item struct {
	Data      any
	Timestamp time.Time
	ExpiresAt time.Time
}

func (it *Item) expired(now time.Time) bool {
	return !now.Before(it.ExpiresAt)
}

// Observer receives cache events. Implementations must be safe for
// concurrent use.
type Observer interface {
	ObserveGet(hit bool)
	ObserveExpired(n int)
	ObservePersist(entries int, err error)
	ObserveSize(n int)
}

type noopObserver struct{}

func (noopObserver) ObserveGet(bool) {}
func (noopObserver) ObserveExpired(int) {}
func (noopObserver) ObservePersist(int, error) {}
func (noopObserver) ObserveSize(int) {}

// Cache is a TTL cache. It is safe for concurrent use.
type Cache struct {
	mu         sync.Mutex
	items      map[string]*Item
	persistent map[string]struct{}

	// persistMu serializes blob writes so a slow write cannot overwrite a
	// newer one.
	persistMu sync.Mutex

	store           kv.Store
	storageKey      string
	defaultTTL      time.Duration
	gcInterval      time.Duration
	persistInterval time.Duration
	clock           clock.Clock
	logger          *slog.Logger
	observer        Observer

	// ctx is used for persistence triggered by writes.
	ctx context.Context

	flights singleflight.Group

	done      chan struct{}
	wg        sync.WaitGroup
	closeOnce sync.Once
	closeErr  error
}

// Option configures a Cache.
type Option func(*Cache)

// WithStore enables persistence to store.
func WithStore(store kv.Store) Option {
	return func(c *Cache) { c.store = store }
}

// WithStorageKey sets the store key holding the persisted blob.
func WithStorageKey(key string) Option {
	return func(c *Cache) {
		if key != "" {
			c.storageKey = key
		}
	}
}

// WithDefaultTTL sets the TTL used when a write passes ttl <= 0.
func WithDefaultTTL(d time.Duration) Option {
	return func(c *Cache) {
		if d > 0 {
			c.defaultTTL = d
		}
	}
}

// WithGCInterval sets the expiry sweep period.
func WithGCInterval(d time.Duration) Option {
	return func(c *Cache) {
		if d > 0 {
			c.gcInterval = d
		}
	}
}

// WithPersistInterval sets the periodic persistence period.
func WithPersistInterval(d time.Duration) Option {
	return func(c *Cache) {
		if d > 0 {
			c.persistInterval = d
		}
	}
}

// WithClock sets the time source.
func WithClock(clk clock.Clock) Option {
	return func(c *Cache) {
		if clk != nil {
			c.clock = clk
		}
	}
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(c *Cache) {
		if l != nil {
			c.logger = l
		}
	}
}

// WithObserver sets the metrics observer.
func WithObserver(o Observer) Option {
	return func(c *Cache) {
		if o != nil {
			c.observer = o
		}
	}
}

// New creates a cache, restores persisted entries from the store if one is
// configured, and starts the background sweep and persistence loop.
// Call Close to stop it.
func New(ctx context.Context, opts ...Option) *Cache {
	c := &Cache{
		items:           make(map[string]*Item),
		persistent:      make(map[string]struct{}),
		storageKey:      DefaultStorageKey,
		defaultTTL:      DefaultTTL,
		gcInterval:      DefaultGCInterval,
		persistInterval: DefaultPersistInterval,
		clock:           clock.New(),
		logger:          slog.Default().With("component", "cache"),
		observer:        noopObserver{},
		ctx:             context.WithoutCancel(ctx),
		done:            make(chan struct{}),
	}
	for _, opt := range opts {
		opt(c)
	}

	if c.store != nil {
		c.restore(ctx)
	}

	gc := c.clock.Ticker(c.gcInterval)
	var persist *clock.Ticker
	if c.store != nil {
		persist = c.clock.Ticker(c.persistInterval)
	}

	c.wg.Add(1)
	go c.loop(gc, persist)

	return c
}

func (c *Cache) loop(gc, persist *clock.Ticker) {
	defer c.wg.Done()
	defer gc.Stop()

	var persistC <-chan time.Time
	if persist != nil {
		defer persist.Stop()
		persistC = persist.C
	}

	for {
		select {
		case <-gc.C:
			if n := c.Sweep(); n > 0 {
				c.logger.Debug("expired cache entries removed", "count", n)
			}
		case <-persistC:
			if err := c.Persist(c.ctx); err != nil {
				c.logger.Warn("periodic cache persistence failed", "error", err)
			}
		case <-c.done:
			return
		}
	}
}

func (c *Cache) ttlOrDefault(ttl time.Duration) time.Duration {
	if ttl <= 0 {
		return c.defaultTTL
	}
	return ttl
}

// lookupLocked returns the live item for key, deleting it if expired.
// Must be called with c.mu held.
func (c *Cache) lookupLocked(key string) (*Item, bool) {
	it, ok := c.items[key]
	if !ok {
		return nil, false
	}
	if it.expired(c.clock.Now()) {
		c.removeLocked(key)
		c.observer.ObserveExpired(1)
		return nil, false
	}
	return it, true
}

// removeLocked deletes key and reports whether it was persistent.
func (c *Cache) removeLocked(key string) bool {
	delete(c.items, key)
	_, wasPersistent := c.persistent[key]
	delete(c.persistent, key)
	return wasPersistent
}

// Get returns the value stored under key if it has not expired. A value
// restored from the store comes back in its generic JSON form (string,
// float64, map[string]any, []any).
func (c *Cache) Get(key string) (any, bool) {
	c.mu.Lock()
	it, ok := c.lookupLocked(key)
	var v any
	if ok {
		v = it.Data
	}
	c.mu.Unlock()

	if raw, restored := v.(json.RawMessage); ok && restored {
		v, ok = decodeRestored[any](c, key, it, raw)
	}
	c.observer.ObserveGet(ok)
	return v, ok
}

// Item returns a copy of the live item for key.
func (c *Cache) Item(key string) (Item, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	it, ok := c.lookupLocked(key)
	if !ok {
		return Item{}, false
	}
	return *it, true
}

// Has reports whether key holds a live value. An expired entry is deleted.
func (c *Cache) Has(key string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	_, ok := c.lookupLocked(key)
	return ok
}

// Set stores value under key for ttl (the default TTL when ttl <= 0).
// If key is already persistent it stays persistent.
func (c *Cache) Set(key string, value any, ttl time.Duration) {
	c.set(key, value, ttl)
}

// SetPersistent stores value and persists the cache immediately.
func (c *Cache) SetPersistent(key string, value any, ttl time.Duration) {
	c.mu.Lock()
	c.setLocked(key, value, ttl)
	c.persistent[key] = struct{}{}
	c.mu.Unlock()

	c.persistBestEffort()
}

func (c *Cache) set(key string, value any, ttl time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.setLocked(key, value, ttl)
}

func (c *Cache) setLocked(key string, value any, ttl time.Duration) {
	now := c.clock.Now()
	c.items[key] = &Item{
		Data:      value,
		Timestamp: now,
		ExpiresAt: now.Add(c.ttlOrDefault(ttl)),
	}
	c.observer.ObserveSize(len(c.items))
}

// Delete removes key and its persisted copy.
func (c *Cache) Delete(key string) {
	c.mu.Lock()
	wasPersistent := c.removeLocked(key)
	c.observer.ObserveSize(len(c.items))
	c.mu.Unlock()

	if wasPersistent {
		c.persistBestEffort()
	}
}

// Clear removes every entry and deletes the persisted blob.
func (c *Cache) Clear() {
	c.mu.Lock()
	c.items = make(map[string]*Item)
	c.persistent = make(map[string]struct{})
	c.observer.ObserveSize(0)
	c.mu.Unlock()

	if c.store == nil {
		return
	}

	c.persistMu.Lock()
	defer c.persistMu.Unlock()
	if err := c.store.Delete(c.ctx, c.storageKey); err != nil {
		c.logger.Warn("failed to delete persisted cache", "error", err)
	}
}

// KeysWithPrefix returns the live keys starting with prefix, sorted.
func (c *Cache) KeysWithPrefix(prefix string) []string {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.clock.Now()
	var keys []string
	for k, it := range c.items {
		if strings.HasPrefix(k, prefix) && !it.expired(now) {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)
	return keys
}

// DeleteKeysWithPrefix removes every key starting with prefix and returns
// how many were removed.
func (c *Cache) DeleteKeysWithPrefix(prefix string) int {
	c.mu.Lock()
	removed := 0
	repersist := false
	for k := range c.items {
		if strings.HasPrefix(k, prefix) {
			if c.removeLocked(k) {
				repersist = true
			}
			removed++
		}
	}
	c.observer.ObserveSize(len(c.items))
	c.mu.Unlock()

	if repersist {
		c.persistBestEffort()
	}
	return removed
}

// RefreshExpiry moves the expiry of a live key to now+ttl without touching
// its value. Returns false if key is absent or expired.
func (c *Cache) RefreshExpiry(key string, ttl time.Duration) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	it, ok := c.lookupLocked(key)
	if !ok {
		return false
	}
	it.ExpiresAt = c.clock.Now().Add(c.ttlOrDefault(ttl))
	return true
}

// MarkAsPersistent adds a live key to the persisted set and persists the
// cache. Returns false if key is absent or expired.
func (c *Cache) MarkAsPersistent(key string) bool {
	c.mu.Lock()
	_, ok := c.lookupLocked(key)
	if ok {
		c.persistent[key] = struct{}{}
	}
	c.mu.Unlock()

	if ok {
		c.persistBestEffort()
	}
	return ok
}

// IsPersistent reports whether key is in the persisted set.
func (c *Cache) IsPersistent(key string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.persistent[key]
	return ok
}

// Sweep removes every expired entry and returns how many were removed.
func (c *Cache) Sweep() int {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.clock.Now()
	removed := 0
	for k, it := range c.items {
		if it.expired(now) {
			c.removeLocked(k)
			removed++
		}
	}
	if removed > 0 {
		c.observer.ObserveExpired(removed)
		c.observer.ObserveSize(len(c.items))
	}
	return removed
}

// Len returns the number of entries, including expired ones not yet swept.
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.items)
}

// Close stops the background loop and persists the cache one last time.
// Close is idempotent.
func (c *Cache) Close() error {
	c.closeOnce.Do(func() {
		close(c.done)
		c.wg.Wait()
		c.closeErr = c.Persist(c.ctx)
	})
	return c.closeErr
}

// typedValue returns data as a T. Restored values are decoded first, so an
// interface T never sees the raw JSON.
func typedValue[T any](c *Cache, key string, it *Item, data any) (T, bool) {
	switch v := data.(type) {
	case json.RawMessage:
		return decodeRestored[T](c, key, it, v)
	case T:
		return v, true
	default:
		var zero T
		return zero, false
	}
}

// decodeRestored decodes a value loaded from the store into T and keeps the
// decoded form on the item if it is still current.
func decodeRestored[T any](c *Cache, key string, it *Item, raw json.RawMessage) (T, bool) {
	var decoded T
	if err := json.Unmarshal(raw, &decoded); err != nil {
		c.logger.Debug("cached value does not decode into requested type", "key", key, "error", err)
		var zero T
		return zero, false
	}
	c.mu.Lock()
	if cur, ok := c.items[key]; ok && cur == it {
		it.Data = decoded
	}
	c.mu.Unlock()
	return decoded, true
}

// Get returns the value under key as a T. Values restored from the store
// are decoded from JSON on first access.
func Get[T any](c *Cache, key string) (T, bool) {
	c.mu.Lock()
	it, ok := c.lookupLocked(key)
	var data any
	if ok {
		data = it.Data
	}
	c.mu.Unlock()

	if !ok {
		c.observer.ObserveGet(false)
		var zero T
		return zero, false
	}

	v, ok := typedValue[T](c, key, it, data)
	c.observer.ObserveGet(ok)
	return v, ok
}
