package health

import (
	"context"
	"strings"
	"testing"
	"time"

	"mercator-hq/relayguard/pkg/limits/admission"
	"mercator-hq/relayguard/pkg/relay"
	"mercator-hq/relayguard/pkg/storage/kv"
	"mercator-hq/relayguard/pkg/storage/quota"
)

func TestStoreCheck(t *testing.T) {
	store := kv.NewMemoryStore(0)
	check := StoreCheck(store)

	if err := check(context.Background()); err != nil {
		t.Fatalf("open store: %v", err)
	}

	store.Close()
	if err := check(context.Background()); err == nil {
		t.Error("expected error from closed store")
	}
}

func TestQuotaCheck(t *testing.T) {
	ctx := context.Background()
	store := kv.NewMemoryStore(0)
	guard, err := quota.New(ctx, store, quota.WithProbe(quota.StaticProbe{StorageLimit: 1000, ItemSizeLimit: 1000}))
	if err != nil {
		t.Fatalf("quota.New: %v", err)
	}
	check := QuotaCheck(guard)

	if err := store.Set(ctx, "profile:a", strings.Repeat("x", 491)); err != nil {
		t.Fatal(err)
	}
	if err := check(ctx); err != nil {
		t.Errorf("50%% usage should be healthy: %v", err)
	}

	if err := store.Set(ctx, "profile:b", strings.Repeat("x", 391)); err != nil {
		t.Fatal(err)
	}
	err = check(ctx)
	if err == nil || !strings.Contains(err.Error(), "of quota") {
		t.Errorf("90%% usage should be unhealthy, got %v", err)
	}
}

func TestAdmissionCheck(t *testing.T) {
	limiter := admission.New(admission.Config{
		GlobalMaxConcurrent:   10,
		EndpointMaxConcurrent: 1,
		MaxQueueSize:          1,
		QueueTimeout:          time.Minute,
	})
	t.Cleanup(func() { limiter.Close() })

	transport := func([]relay.Filter, admission.EventHandler, []string) (string, error) {
		return "sub", nil
	}
	req := admission.Request{
		Filters:   []relay.Filter{{Kinds: []int{relay.KindTextNote}}},
		Endpoints: []string{"wss://relay.example.com"},
		Transport: transport,
	}
	check := AdmissionCheck(limiter)

	if _, err := limiter.Submit(req).Result(); err != nil {
		t.Fatalf("first request: %v", err)
	}
	if err := check(context.Background()); err != nil {
		t.Errorf("empty queue should be healthy: %v", err)
	}

	limiter.Submit(req)
	if err := check(context.Background()); err == nil {
		t.Error("full queue should be unhealthy")
	}
}
