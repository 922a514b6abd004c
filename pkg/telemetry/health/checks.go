package health

import (
	"context"
	"fmt"

	"mercator-hq/relayguard/pkg/limits/admission"
	"mercator-hq/relayguard/pkg/storage/kv"
	"mercator-hq/relayguard/pkg/storage/quota"
)

// probeKey is read, never written, by StoreCheck.
const probeKey = "relayguard:health"

// StoreCheck fails when the host store cannot serve a read.
func StoreCheck(store kv.Store) CheckFunc {
	return func(ctx context.Context) error {
		if _, _, err := store.Get(ctx, probeKey); err != nil {
			return fmt.Errorf("store read: %w", err)
		}
		return nil
	}
}

// QuotaCheck fails once storage usage reaches the guard's high threshold.
func QuotaCheck(guard *quota.Guard) CheckFunc {
	return func(ctx context.Context) error {
		pct, err := guard.QuotaPercentage(ctx)
		if err != nil {
			return err
		}
		if high := guard.Thresholds().High; pct >= high {
			return fmt.Errorf("storage at %.1f%% of quota (threshold %.0f%%)", pct, high)
		}
		return nil
	}
}

// AdmissionCheck fails while any endpoint queue is full, since new requests
// to that endpoint are rejected until it drains.
func AdmissionCheck(limiter *admission.Limiter) CheckFunc {
	return func(ctx context.Context) error {
		maxQueue := limiter.Config().MaxQueueSize
		for url, ep := range limiter.Stats().Endpoints {
			if ep.Queued >= maxQueue {
				return fmt.Errorf("queue for %s is full (%d)", url, ep.Queued)
			}
		}
		return nil
	}
}
