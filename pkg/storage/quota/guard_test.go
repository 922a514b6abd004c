package quota

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"

	"mercator-hq/relayguard/pkg/storage/kv"
)

// recordingObserver captures guard events for assertions.
type recordingObserver struct {
	mu       sync.Mutex
	rejected map[string]int
	cleanups map[Tier]int
}

func newRecordingObserver() *recordingObserver {
	return &recordingObserver{rejected: map[string]int{}, cleanups: map[Tier]int{}}
}

func (o *recordingObserver) ObserveUsage(usage, limit int64) {}

func (o *recordingObserver) ObserveCleanup(tier Tier, deleted int) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.cleanups[tier] += deleted
}

func (o *recordingObserver) ObserveRejected(reason string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.rejected[reason]++
}

func newTestGuard(t *testing.T, store kv.Store, limit int64, opts ...Option) *Guard {
	t.Helper()

	opts = append([]Option{WithProbe(StaticProbe{StorageLimit: limit, ItemSizeLimit: limit})}, opts...)
	g, err := New(context.Background(), store, opts...)
	if err != nil {
		t.Fatalf("Failed to create guard: %v", err)
	}
	return g
}

// fill writes key with a value sized so the entry accounts for exactly size bytes.
func fill(t *testing.T, store kv.Store, key string, size int) {
	t.Helper()
	if err := store.Set(context.Background(), key, strings.Repeat("x", size-len(key))); err != nil {
		t.Fatalf("Failed to write %s: %v", key, err)
	}
}

func has(t *testing.T, store kv.Store, key string) bool {
	t.Helper()
	_, ok, err := store.Get(context.Background(), key)
	if err != nil {
		t.Fatalf("Get %s failed: %v", key, err)
	}
	return ok
}

func TestNew_ProbeFailureUsesDefaults(t *testing.T) {
	probe := ProbeFunc(func(ctx context.Context, store kv.Store) (Limits, error) {
		return Limits{}, errors.New("probe exploded")
	})

	g, err := New(context.Background(), kv.NewMemoryStore(0), WithProbe(probe))
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	if g.Limits() != DefaultLimits() {
		t.Errorf("Expected default limits, got %+v", g.Limits())
	}
}

func TestNew_InvalidThresholds(t *testing.T) {
	_, err := New(context.Background(), kv.NewMemoryStore(0),
		WithThresholds(Thresholds{Low: 80, Medium: 70, High: 90}))
	if err == nil {
		t.Error("Expected error for unordered thresholds")
	}
}

func TestGuard_CurrentUsageAndPercentage(t *testing.T) {
	ctx := context.Background()
	store := kv.NewMemoryStore(0)
	g := newTestGuard(t, store, 200)

	fill(t, store, "a", 50)
	fill(t, store, "bb", 70)

	used, err := g.CurrentUsage(ctx)
	if err != nil {
		t.Fatalf("CurrentUsage failed: %v", err)
	}
	if used != 120 {
		t.Errorf("Expected usage 120, got %d", used)
	}

	pct, _ := g.QuotaPercentage(ctx)
	if pct != 60 {
		t.Errorf("Expected 60%%, got %v", pct)
	}

	if ok, _ := g.IsApproachingQuota(ctx, 60); !ok {
		t.Error("Expected approaching quota at inclusive threshold")
	}
	if ok, _ := g.IsApproachingQuota(ctx, 61); ok {
		t.Error("Expected not approaching quota above usage")
	}
}

func TestGuard_WouldExceedQuota(t *testing.T) {
	ctx := context.Background()

	tests := []struct {
		name     string
		existing string // value already stored under "k", empty for absent
		value    string
		want     bool
	}{
		// base usage is 90 bytes from "other", limit 100
		{name: "absent key fits exactly", value: "123456789", want: false},
		{name: "absent key one over", value: "1234567890", want: true},
		{name: "present key replaced by same size", existing: "12345", value: "abcde", want: false},
		{name: "present key grows within limit", existing: "1", value: "12345", want: false},
		{name: "present key grows past limit", existing: "1", value: "12345678901", want: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			store := kv.NewMemoryStore(0)
			fill(t, store, "other", 90)
			if tt.existing != "" {
				_ = store.Set(ctx, "k", tt.existing)
			}
			g := newTestGuard(t, store, 100)

			used, _ := g.CurrentUsage(ctx)
			var oldSize int64
			if tt.existing != "" {
				oldSize = kv.EntrySize("k", tt.existing)
			}
			arithmetic := used+kv.EntrySize("k", tt.value)-oldSize > 100

			got, err := g.WouldExceedQuota(ctx, "k", tt.value)
			if err != nil {
				t.Fatalf("WouldExceedQuota failed: %v", err)
			}
			if got != tt.want || got != arithmetic {
				t.Errorf("WouldExceedQuota = %v, want %v (arithmetic %v)", got, tt.want, arithmetic)
			}
		})
	}
}

func TestGuard_SafeSetItem(t *testing.T) {
	ctx := context.Background()

	t.Run("stores item that fits", func(t *testing.T) {
		store := kv.NewMemoryStore(0)
		g := newTestGuard(t, store, 1000)

		if !g.SafeSetItem(ctx, "profile:a", "data") {
			t.Fatal("Expected write to succeed")
		}
		if !has(t, store, "profile:a") {
			t.Error("Expected item to be stored")
		}
	})

	t.Run("refuses item over item limit", func(t *testing.T) {
		store := kv.NewMemoryStore(0)
		obs := newRecordingObserver()
		g, err := New(ctx, store,
			WithProbe(StaticProbe{StorageLimit: 1000, ItemSizeLimit: 10}),
			WithObserver(obs))
		if err != nil {
			t.Fatalf("New failed: %v", err)
		}

		if g.SafeSetItem(ctx, "k", strings.Repeat("x", 11)) {
			t.Fatal("Expected oversized item to be refused")
		}
		if has(t, store, "k") {
			t.Error("Refused item must not be written")
		}
		if obs.rejected[ReasonItemTooLarge] != 1 {
			t.Errorf("Expected one item_too_large rejection, got %v", obs.rejected)
		}
	})

	t.Run("refuses write over estimated limit and cleans up", func(t *testing.T) {
		store := kv.NewMemoryStore(0)
		g := newTestGuard(t, store, 100)
		fill(t, store, "tmp:scratch", 50)
		fill(t, store, "settings", 20)

		if g.SafeSetItem(ctx, "profile:new", strings.Repeat("x", 40)) {
			t.Fatal("Expected write to be refused")
		}
		g.Wait()

		if has(t, store, "profile:new") {
			t.Error("Refused write must not be applied")
		}
		// 70% usage runs the light tier.
		if has(t, store, "tmp:scratch") {
			t.Error("Expected async cleanup to remove temporary key")
		}
		if !has(t, store, "settings") {
			t.Error("Expected settings to survive")
		}
	})

	t.Run("host quota failure returns false", func(t *testing.T) {
		store := kv.NewMemoryStore(50)
		obs := newRecordingObserver()
		g := newTestGuard(t, store, 10000, WithObserver(obs))

		err := g.SetItem(ctx, "k", strings.Repeat("x", 60))
		if !errors.Is(err, ErrQuotaExceeded) {
			t.Fatalf("Expected ErrQuotaExceeded, got %v", err)
		}
		var werr *WriteError
		if !errors.As(err, &werr) || werr.Key != "k" {
			t.Errorf("Expected *WriteError for k, got %v", err)
		}
		g.Wait()

		if g.SafeSetItem(ctx, "k", strings.Repeat("x", 60)) {
			t.Error("Expected SafeSetItem to return false")
		}
		g.Wait()

		if obs.rejected[ReasonQuotaExceeded] != 2 {
			t.Errorf("Expected two quota rejections, got %v", obs.rejected)
		}
	})
}

func TestGuard_ClearSpaceIfNeeded_Tiers(t *testing.T) {
	ctx := context.Background()

	t.Run("below low threshold does nothing", func(t *testing.T) {
		store := kv.NewMemoryStore(0)
		g := newTestGuard(t, store, 1000)
		fill(t, store, "tmp:a", 100)

		tier, err := g.ClearSpaceIfNeeded(ctx)
		if err != nil {
			t.Fatalf("ClearSpaceIfNeeded failed: %v", err)
		}
		if tier != TierNone {
			t.Errorf("Expected TierNone, got %s", tier)
		}
		if !has(t, store, "tmp:a") {
			t.Error("Expected no deletion below threshold")
		}
	})

	t.Run("light removes temporary keys", func(t *testing.T) {
		store := kv.NewMemoryStore(0)
		g := newTestGuard(t, store, 1000)
		fill(t, store, "Temp:upload", 100)
		fill(t, store, "draft-tmp", 100)
		fill(t, store, "scratchpad", 100)
		fill(t, store, "profile:a", 300)

		tier, err := g.ClearSpaceIfNeeded(ctx)
		if err != nil {
			t.Fatalf("ClearSpaceIfNeeded failed: %v", err)
		}
		if tier != TierLight {
			t.Errorf("Expected TierLight, got %s", tier)
		}
		for _, k := range []string{"Temp:upload", "draft-tmp", "scratchpad"} {
			if has(t, store, k) {
				t.Errorf("Expected %s to be deleted", k)
			}
		}
		if !has(t, store, "profile:a") {
			t.Error("Expected profile:a to survive")
		}
	})

	t.Run("standard removes first half of sorted cache keys", func(t *testing.T) {
		store := kv.NewMemoryStore(0)
		g := newTestGuard(t, store, 1000)
		fill(t, store, "cache:d", 150)
		fill(t, store, "cache:a", 150)
		fill(t, store, "cache:c", 150)
		fill(t, store, "cache:b", 150)
		fill(t, store, "cache:important", 100)
		fill(t, store, "notes", 100)

		tier, err := g.ClearSpaceIfNeeded(ctx)
		if err != nil {
			t.Fatalf("ClearSpaceIfNeeded failed: %v", err)
		}
		if tier != TierStandard {
			t.Fatalf("Expected TierStandard, got %s", tier)
		}

		want := map[string]bool{
			"cache:a":         false,
			"cache:b":         false,
			"cache:c":         true,
			"cache:d":         true,
			"cache:important": true,
			"notes":           true,
		}
		for k, survive := range want {
			if has(t, store, k) != survive {
				t.Errorf("Key %s: expected survive=%v", k, survive)
			}
		}
	})

	t.Run("emergency keeps medium when low removal suffices", func(t *testing.T) {
		store := kv.NewMemoryStore(0)
		g := newTestGuard(t, store, 1000)
		fill(t, store, "important:keys", 200)
		fill(t, store, "profile:a", 100)
		fill(t, store, "user:b", 100)
		fill(t, store, "feed:a", 300)
		fill(t, store, "feed:b", 200)

		tier, err := g.ClearSpaceIfNeeded(ctx)
		if err != nil {
			t.Fatalf("ClearSpaceIfNeeded failed: %v", err)
		}
		if tier != TierEmergency {
			t.Fatalf("Expected TierEmergency at 90%%, got %s", tier)
		}
		for k, survive := range map[string]bool{
			"important:keys": true,
			"profile:a":      true,
			"user:b":         true,
			"feed:a":         false,
			"feed:b":         false,
		} {
			if has(t, store, k) != survive {
				t.Errorf("Key %s: expected survive=%v", k, survive)
			}
		}
	})

	t.Run("emergency removes medium when still critical", func(t *testing.T) {
		store := kv.NewMemoryStore(0)
		g := newTestGuard(t, store, 1000)
		fill(t, store, "important:keys", 700)
		fill(t, store, "credentials", 150)
		fill(t, store, "profile:a", 25)
		fill(t, store, "user:b", 25)
		fill(t, store, "feed:a", 50)

		if _, err := g.ClearSpaceIfNeeded(ctx); err != nil {
			t.Fatalf("ClearSpaceIfNeeded failed: %v", err)
		}
		for k, survive := range map[string]bool{
			"important:keys": true,
			"credentials":    true,
			"profile:a":      false,
			"user:b":         false,
			"feed:a":         false,
		} {
			if has(t, store, k) != survive {
				t.Errorf("Key %s: expected survive=%v", k, survive)
			}
		}
	})
}

func TestGuard_ClearSpaceIfNeeded_Concurrent(t *testing.T) {
	ctx := context.Background()
	store := kv.NewMemoryStore(0)
	g := newTestGuard(t, store, 1000)
	for i := 0; i < 10; i++ {
		fill(t, store, "tmp:"+string(rune('a'+i)), 65)
	}

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := g.ClearSpaceIfNeeded(ctx); err != nil {
				t.Errorf("ClearSpaceIfNeeded failed: %v", err)
			}
		}()
	}
	wg.Wait()

	keys, _ := store.Keys(ctx)
	if len(keys) != 0 {
		t.Errorf("Expected all temporary keys removed, got %v", keys)
	}
}

func TestGuard_LogStorageMetrics(t *testing.T) {
	ctx := context.Background()
	store := kv.NewMemoryStore(0)
	g := newTestGuard(t, store, 1000)

	fill(t, store, "tmp:a", 100)
	fill(t, store, "cache:feed", 100)
	fill(t, store, "settings", 100)
	fill(t, store, "profile:a", 100)
	fill(t, store, "misc", 400)

	m, err := g.LogStorageMetrics(ctx)
	if err != nil {
		t.Fatalf("LogStorageMetrics failed: %v", err)
	}

	if m.Usage != 800 || m.Percentage != 80 {
		t.Errorf("Expected 800 bytes at 80%%, got %d at %v", m.Usage, m.Percentage)
	}
	if m.TotalKeys != 5 || m.TemporaryKeys != 1 || m.CacheKeys != 1 {
		t.Errorf("Unexpected key counts: %+v", m)
	}
	if m.HighPriority != 1 || m.MediumPriority != 1 || m.LowPriority != 3 {
		t.Errorf("Unexpected priority counts: %+v", m)
	}
	if !strings.Contains(m.String(), "80.0%") {
		t.Errorf("Expected percentage in %q", m.String())
	}
}

func TestGuardedStore(t *testing.T) {
	ctx := context.Background()
	store := kv.NewMemoryStore(0)
	g, err := New(ctx, store, WithProbe(StaticProbe{StorageLimit: 100, ItemSizeLimit: 20}))
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	guarded := g.Store()

	if err := guarded.Set(ctx, "k", "v"); err != nil {
		t.Fatalf("Set failed: %v", err)
	}
	if v, ok, _ := guarded.Get(ctx, "k"); !ok || v != "v" {
		t.Errorf("Expected v, got %q", v)
	}

	if err := guarded.Set(ctx, "big", strings.Repeat("x", 21)); !errors.Is(err, ErrItemTooLarge) {
		t.Errorf("Expected ErrItemTooLarge, got %v", err)
	}
	if err := guarded.Close(); err != nil {
		t.Errorf("Close failed: %v", err)
	}
	// Closing the view leaves the underlying store open.
	if _, _, err := store.Get(ctx, "k"); err != nil {
		t.Errorf("Underlying store should stay open: %v", err)
	}
}

func TestThresholds_TierFor(t *testing.T) {
	th := DefaultThresholds()

	tests := []struct {
		pct  float64
		want Tier
	}{
		{0, TierNone},
		{59.9, TierNone},
		{60, TierLight},
		{74.9, TierLight},
		{75, TierStandard},
		{85, TierEmergency},
		{120, TierEmergency},
	}
	for _, tt := range tests {
		if got := th.TierFor(tt.pct); got != tt.want {
			t.Errorf("TierFor(%v) = %s, want %s", tt.pct, got, tt.want)
		}
	}
}
