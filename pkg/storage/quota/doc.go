// Package quota guards writes to a persistent key-value store against the
// host's storage ceiling and relieves pressure through tiered eviction.
//
// # Overview
//
// The Guard estimates a storage limit and a per-item limit through a Probe.
// Estimates are soft hints: the host store stays authoritative, and a
// host-reported quota failure is handled the same way as a predicted one.
//
// Writes go through SafeSetItem (boolean result) or through the kv.Store
// returned by Store (typed errors). A refused write is never retried; it
// triggers an asynchronous ClearSpaceIfNeeded pass instead.
//
// # Eviction Tiers
//
// ClearSpaceIfNeeded picks a tier from the usage percentage, each tier
// inclusive at its lower bound:
//
//	below 60%   none
//	60% - 75%   light:     delete temporary keys
//	75% - 85%   standard:  delete the first half of the sorted cache keys
//	85% and up  emergency: delete low priority keys, then medium priority
//	                       keys if usage is still at or above 85%
//
// Keys are classified by case-insensitive substring markers (see Markers).
// High priority keys are never deleted.
//
// # Usage
//
//	guard, err := quota.New(ctx, store,
//	    quota.WithProbe(quota.DiskProbe{Path: dataDir, Fraction: 0.1}),
//	)
//	if err != nil {
//	    return err
//	}
//	defer guard.Wait()
//
//	if !guard.SafeSetItem(ctx, "profile:abc", payload) {
//	    // not stored; cleanup already scheduled
//	}
package quota
