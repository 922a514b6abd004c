// Package kv provides the host persistent key-value store used by the cache
// and the storage quota guard.
//
// # Overview
//
// A Store holds string keys and string values. Two implementations exist:
//
//   - Memory: in-process map with an optional byte capacity
//   - SQLite: file-backed persistence in WAL mode
//
// Both report host capacity failures as ErrQuotaExceeded so callers can tell
// a full store apart from an I/O failure.
//
// # Usage
//
//	store, err := kv.NewSQLiteStore(kv.SQLiteConfig{
//	    Path:     "/var/lib/relayguard/store.db",
//	    MaxBytes: 50 << 20,
//	})
//	if err != nil {
//	    return err
//	}
//	defer store.Close()
//
//	if err := store.Set(ctx, "profile:abc", payload); errors.Is(err, kv.ErrQuotaExceeded) {
//	    // make room and try again later
//	}
//
// # Thread Safety
//
// All stores are safe for concurrent use.
package kv
