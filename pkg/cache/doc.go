// Package cache provides an in-memory TTL cache with optional persistence
// to a kv.Store.
//
// # Overview
//
// Every entry carries an expiry time. Reads validate expiry and delete stale
// entries on the spot; a background sweep removes entries nobody reads.
//
// Entries written with SetPersistent (or promoted with MarkAsPersistent) are
// serialized as one JSON blob under a single store key, immediately on write,
// periodically, and on Close. New restores the blob, keeping only entries
// that have not expired. Persistence is best-effort: an in-memory write
// always succeeds and persistence failures are only logged.
//
// # Usage
//
//	c := cache.New(ctx,
//	    cache.WithStore(guard.Store()),
//	    cache.WithDefaultTTL(10*time.Minute),
//	)
//	defer c.Close()
//
//	c.SetPersistent("profile:"+pubkey, meta, 0)
//
//	meta, ok := cache.Get[relay.Metadata](c, "profile:"+pubkey)
//
//	// Read-through: concurrent callers for one key share a single fetch.
//	meta, err := cache.GetOrCreate(ctx, c, "profile:"+pubkey, fetchProfile, 0, true)
//
// # Restored Values
//
// Values restored from the store are held as json.RawMessage until the first
// typed read through Get[T], which decodes and keeps the typed value.
package cache
