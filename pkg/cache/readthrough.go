package cache

import (
	"context"
	"fmt"
	"reflect"
	"time"
)

// FetchFunc produces the value for a missing key.
type FetchFunc[T any] func(ctx context.Context) (T, error)

// BatchFetchFunc produces values for a set of missing keys. Keys absent from
// the returned map are treated as not found.
type BatchFetchFunc[T any] func(ctx context.Context, missing []string) (map[string]T, error)

// GetOrCreate returns the cached value for key, or calls fetch, stores its
// result and returns it. fetch is called at most once per call; concurrent
// callers for the same key and type share one fetch. A fetch error is
// returned and nothing is stored.
func GetOrCreate[T any](ctx context.Context, c *Cache, key string, fetch FetchFunc[T], ttl time.Duration, persistent bool) (T, error) {
	if v, ok := Get[T](c, key); ok {
		return v, nil
	}

	res, err, _ := c.flights.Do(flightKey[T](key), func() (any, error) {
		// A caller that finished while we waited may have filled it.
		if v, ok := Get[T](c, key); ok {
			return v, nil
		}

		v, err := fetch(ctx)
		if err != nil {
			return nil, err
		}
		store(c, key, v, ttl, persistent)
		return v, nil
	})
	if err != nil {
		var zero T
		return zero, fmt.Errorf("fetch %q: %w", key, err)
	}

	if res == nil {
		// nil interface value
		var zero T
		return zero, nil
	}
	v, ok := res.(T)
	if !ok {
		var zero T
		return zero, fmt.Errorf("fetch %q: shared result has type %T", key, res)
	}
	return v, nil
}

// flightKey scopes a fetch to the requested type so callers asking for
// different types never share a result.
func flightKey[T any](key string) string {
	return reflect.TypeFor[T]().String() + "\x00" + key
}

// BatchGetOrCreate returns the values for keys, calling fetch once with the
// keys that are not cached. Fetched values are stored. The result holds the
// cached and fetched values keyed by the requested keys.
func BatchGetOrCreate[T any](ctx context.Context, c *Cache, keys []string, fetch BatchFetchFunc[T], ttl time.Duration, persistent bool) (map[string]T, error) {
	out := make(map[string]T, len(keys))
	seen := make(map[string]struct{}, len(keys))
	var missing []string

	for _, k := range keys {
		if _, dup := seen[k]; dup {
			continue
		}
		seen[k] = struct{}{}

		if v, ok := Get[T](c, k); ok {
			out[k] = v
			continue
		}
		missing = append(missing, k)
	}

	if len(missing) == 0 {
		return out, nil
	}

	fetched, err := fetch(ctx, missing)
	if err != nil {
		return out, fmt.Errorf("batch fetch of %d keys: %w", len(missing), err)
	}

	anyPersistent := false
	for _, k := range missing {
		v, ok := fetched[k]
		if !ok {
			continue
		}
		if persistent {
			c.mu.Lock()
			c.setLocked(k, v, ttl)
			c.persistent[k] = struct{}{}
			c.mu.Unlock()
			anyPersistent = true
		} else {
			c.Set(k, v, ttl)
		}
		out[k] = v
	}

	if anyPersistent {
		c.persistBestEffort()
	}
	return out, nil
}

func store[T any](c *Cache, key string, v T, ttl time.Duration, persistent bool) {
	if persistent {
		c.SetPersistent(key, v, ttl)
		return
	}
	c.Set(key, v, ttl)
}
