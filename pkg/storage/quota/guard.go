package quota

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"

	"golang.org/x/sync/singleflight"

	"mercator-hq/relayguard/pkg/storage/kv"
)

// Guard protects a kv.Store from writes beyond its estimated capacity.
//
// Guard is safe for concurrent use.
type Guard struct {
	store      kv.Store
	limits     Limits
	thresholds Thresholds
	markers    Markers
	logger     *slog.Logger
	observer   Observer
	probe      Probe

	// cleanups collapses concurrent ClearSpaceIfNeeded calls into one pass.
	cleanups singleflight.Group

	// pending tracks asynchronous cleanup passes.
	pending sync.WaitGroup
}

// Option configures a Guard.
type Option func(*Guard)

// WithProbe sets the capacity probe. Default: StaticProbe(DefaultLimits()).
func WithProbe(p Probe) Option {
	return func(g *Guard) { g.probe = p }
}

// WithThresholds sets the tier thresholds.
func WithThresholds(t Thresholds) Option {
	return func(g *Guard) { g.thresholds = t }
}

// WithMarkers sets the key classification markers.
func WithMarkers(m Markers) Option {
	return func(g *Guard) { g.markers = m }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(g *Guard) {
		if l != nil {
			g.logger = l
		}
	}
}

// WithObserver sets the metrics observer.
func WithObserver(o Observer) Option {
	return func(g *Guard) {
		if o != nil {
			g.observer = o
		}
	}
}

// New creates a Guard for store and estimates its limits. A failing probe
// is logged and the default limits are used instead.
func New(ctx context.Context, store kv.Store, opts ...Option) (*Guard, error) {
	if store == nil {
		return nil, fmt.Errorf("store cannot be nil")
	}

	g := &Guard{
		store:      store,
		thresholds: DefaultThresholds(),
		markers:    DefaultMarkers(),
		logger:     slog.Default().With("component", "storage.quota"),
		observer:   noopObserver{},
		probe:      StaticProbe(DefaultLimits()),
	}
	for _, opt := range opts {
		opt(g)
	}

	if err := g.thresholds.Validate(); err != nil {
		return nil, err
	}

	limits, err := g.probe.Estimate(ctx, store)
	if err != nil || limits.StorageLimit <= 0 {
		g.logger.Warn("storage probe failed, using default limits",
			"error", err,
			"storage_limit", DefaultStorageLimit,
			"item_size_limit", DefaultItemSizeLimit,
		)
		limits = DefaultLimits()
	}
	if limits.ItemSizeLimit <= 0 {
		limits.ItemSizeLimit = min(DefaultItemSizeLimit, limits.StorageLimit)
	}
	g.limits = limits

	g.logger.Debug("storage limits estimated",
		"storage_limit", limits.StorageLimit,
		"item_size_limit", limits.ItemSizeLimit,
	)

	return g, nil
}

// Limits returns the estimated limits.
func (g *Guard) Limits() Limits {
	return g.limits
}

// Thresholds returns the tier thresholds.
func (g *Guard) Thresholds() Thresholds {
	return g.thresholds
}

// CurrentUsage sums len(key)+len(value) over every entry in the store.
func (g *Guard) CurrentUsage(ctx context.Context) (int64, error) {
	used, err := usageOf(ctx, g.store)
	if err != nil {
		return 0, err
	}
	g.observer.ObserveUsage(used, g.limits.StorageLimit)
	return used, nil
}

// WouldExceedQuota reports whether writing value under key would push usage
// past the storage limit. An existing entry for key is credited back.
func (g *Guard) WouldExceedQuota(ctx context.Context, key, value string) (bool, error) {
	used, err := g.CurrentUsage(ctx)
	if err != nil {
		return false, err
	}

	var existing int64
	if old, ok, err := g.store.Get(ctx, key); err != nil {
		return false, fmt.Errorf("failed to read %q: %w", key, err)
	} else if ok {
		existing = kv.EntrySize(key, old)
	}

	return used+kv.EntrySize(key, value)-existing > g.limits.StorageLimit, nil
}

// QuotaPercentage returns usage as a percentage of the storage limit.
func (g *Guard) QuotaPercentage(ctx context.Context) (float64, error) {
	used, err := g.CurrentUsage(ctx)
	if err != nil {
		return 0, err
	}
	return g.percentOf(used), nil
}

// IsApproachingQuota reports whether usage is at or above thresholdPercent.
func (g *Guard) IsApproachingQuota(ctx context.Context, thresholdPercent float64) (bool, error) {
	pct, err := g.QuotaPercentage(ctx)
	if err != nil {
		return false, err
	}
	return pct >= thresholdPercent, nil
}

func (g *Guard) percentOf(used int64) float64 {
	if g.limits.StorageLimit <= 0 {
		return 100
	}
	return float64(used) / float64(g.limits.StorageLimit) * 100
}

// SetItem writes value under key if it fits. It returns a *WriteError
// wrapping ErrItemTooLarge or ErrQuotaExceeded when the write is refused;
// a quota refusal also schedules an asynchronous cleanup pass. The write is
// never retried.
func (g *Guard) SetItem(ctx context.Context, key, value string) error {
	size := int64(len(value))
	if size > g.limits.ItemSizeLimit {
		g.observer.ObserveRejected(ReasonItemTooLarge)
		return &WriteError{Key: key, Size: size, Limit: g.limits.ItemSizeLimit, Reason: ErrItemTooLarge}
	}

	exceed, err := g.WouldExceedQuota(ctx, key, value)
	if err != nil {
		g.observer.ObserveRejected(ReasonStoreError)
		return err
	}
	if exceed {
		g.observer.ObserveRejected(ReasonQuotaExceeded)
		g.cleanupAsync(ctx)
		return &WriteError{Key: key, Size: kv.EntrySize(key, value), Limit: g.limits.StorageLimit, Reason: ErrQuotaExceeded}
	}

	if err := g.store.Set(ctx, key, value); err != nil {
		if errors.Is(err, kv.ErrQuotaExceeded) {
			g.observer.ObserveRejected(ReasonQuotaExceeded)
			g.cleanupAsync(ctx)
			return &WriteError{Key: key, Size: kv.EntrySize(key, value), Limit: g.limits.StorageLimit, Reason: ErrQuotaExceeded}
		}
		g.observer.ObserveRejected(ReasonStoreError)
		return fmt.Errorf("failed to write %q: %w", key, err)
	}

	return nil
}

// SafeSetItem is SetItem with a boolean result. Refusals are logged, never
// returned.
func (g *Guard) SafeSetItem(ctx context.Context, key, value string) bool {
	err := g.SetItem(ctx, key, value)
	if err == nil {
		return true
	}

	switch {
	case errors.Is(err, ErrItemTooLarge):
		g.logger.Warn("item too large, not stored", "key", key, "size", len(value), "limit", g.limits.ItemSizeLimit)
	case errors.Is(err, ErrQuotaExceeded):
		g.logger.Warn("storage quota exceeded, not stored", "key", key, "size", len(value))
	default:
		g.logger.Error("storage write failed", "key", key, "error", err)
	}
	return false
}

func (g *Guard) cleanupAsync(ctx context.Context) {
	ctx = context.WithoutCancel(ctx)

	g.pending.Add(1)
	go func() {
		defer g.pending.Done()
		if _, err := g.ClearSpaceIfNeeded(ctx); err != nil {
			g.logger.Error("async storage cleanup failed", "error", err)
		}
	}()
}

// Wait blocks until every asynchronous cleanup pass has finished.
func (g *Guard) Wait() {
	g.pending.Wait()
}

// ClearSpaceIfNeeded runs the eviction tier matching current usage and
// returns the tier that ran. Concurrent calls share one pass.
func (g *Guard) ClearSpaceIfNeeded(ctx context.Context) (Tier, error) {
	v, err, _ := g.cleanups.Do("cleanup", func() (any, error) {
		return g.clearSpace(ctx)
	})
	if err != nil {
		return TierNone, err
	}
	return v.(Tier), nil
}

func (g *Guard) clearSpace(ctx context.Context) (Tier, error) {
	pct, err := g.QuotaPercentage(ctx)
	if err != nil {
		return TierNone, err
	}

	tier := g.thresholds.TierFor(pct)
	if tier == TierNone {
		return TierNone, nil
	}

	keys, err := g.store.Keys(ctx)
	if err != nil {
		return tier, fmt.Errorf("failed to list keys: %w", err)
	}

	var deleted int
	switch tier {
	case TierLight:
		deleted, err = g.lightCleanup(ctx, keys)
	case TierStandard:
		deleted, err = g.standardCleanup(ctx, keys)
	case TierEmergency:
		deleted, err = g.emergencyCleanup(ctx, keys)
	}

	g.observer.ObserveCleanup(tier, deleted)
	g.logger.Info("storage cleanup completed",
		"tier", tier.String(),
		"usage_percent", pct,
		"deleted_count", deleted,
	)

	return tier, err
}

func (g *Guard) lightCleanup(ctx context.Context, keys []string) (int, error) {
	var victims []string
	for _, k := range keys {
		if g.markers.IsTemporary(k) {
			victims = append(victims, k)
		}
	}
	return g.deleteKeys(ctx, victims)
}

func (g *Guard) standardCleanup(ctx context.Context, keys []string) (int, error) {
	var candidates []string
	for _, k := range keys {
		if g.markers.IsEvictableCache(k) {
			candidates = append(candidates, k)
		}
	}
	sort.Strings(candidates)
	return g.deleteKeys(ctx, candidates[:len(candidates)/2])
}

func (g *Guard) emergencyCleanup(ctx context.Context, keys []string) (int, error) {
	var low, medium []string
	for _, k := range keys {
		switch g.markers.classify(k) {
		case priorityLow:
			low = append(low, k)
		case priorityMedium:
			medium = append(medium, k)
		}
	}
	sort.Strings(low)
	sort.Strings(medium)

	deleted, err := g.deleteKeys(ctx, low)
	if err != nil {
		return deleted, err
	}

	pct, err := g.QuotaPercentage(ctx)
	if err != nil {
		return deleted, err
	}
	if pct < g.thresholds.High {
		return deleted, nil
	}

	g.logger.Warn("usage still critical after removing low priority keys, removing medium priority keys",
		"usage_percent", pct,
		"medium_priority_keys", len(medium),
	)

	n, err := g.deleteKeys(ctx, medium)
	return deleted + n, err
}

func (g *Guard) deleteKeys(ctx context.Context, keys []string) (int, error) {
	deleted := 0
	for _, k := range keys {
		if err := g.store.Delete(ctx, k); err != nil {
			return deleted, fmt.Errorf("failed to delete %q: %w", k, err)
		}
		deleted++
	}
	return deleted, nil
}
