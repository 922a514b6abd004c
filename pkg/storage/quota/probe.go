package quota

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"mercator-hq/relayguard/pkg/storage/kv"
)

// Probe estimates the capacity of a store.
type Probe interface {
	Estimate(ctx context.Context, store kv.Store) (Limits, error)
}

// ProbeFunc adapts a function to Probe.
type ProbeFunc func(ctx context.Context, store kv.Store) (Limits, error)

// Estimate calls f.
func (f ProbeFunc) Estimate(ctx context.Context, store kv.Store) (Limits, error) {
	return f(ctx, store)
}

// StaticProbe returns fixed limits.
type StaticProbe Limits

// Estimate returns the configured limits.
func (p StaticProbe) Estimate(ctx context.Context, store kv.Store) (Limits, error) {
	if p.StorageLimit <= 0 {
		return Limits{}, fmt.Errorf("static storage limit must be positive, got %d", p.StorageLimit)
	}
	l := Limits(p)
	if l.ItemSizeLimit <= 0 || l.ItemSizeLimit > l.StorageLimit {
		l.ItemSizeLimit = min(DefaultItemSizeLimit, l.StorageLimit)
	}
	return l, nil
}

// probeKey is written and removed by WriteProbe.
const probeKey = "relayguard:quota-probe:tmp"

// WriteProbe measures the store by writing a doubling payload until the
// store reports ErrQuotaExceeded or the payload reaches Max. The probe key is
// always removed afterwards.
type WriteProbe struct {
	// Start is the first payload size. Default: 64 KiB
	Start int64

	// Max caps the payload size. Default: DefaultStorageLimit
	Max int64
}

// Estimate runs the probe.
func (p WriteProbe) Estimate(ctx context.Context, store kv.Store) (Limits, error) {
	start, ceiling := p.Start, p.Max
	if start <= 0 {
		start = 64 * 1024
	}
	if ceiling <= 0 {
		ceiling = DefaultStorageLimit
	}

	used, err := usageOf(ctx, store)
	if err != nil {
		return Limits{}, err
	}

	defer func() {
		_ = store.Delete(context.WithoutCancel(ctx), probeKey)
	}()

	var largest int64
	hitQuota := false
	for size := start; size <= ceiling; size *= 2 {
		if err := ctx.Err(); err != nil {
			return Limits{}, err
		}
		err := store.Set(ctx, probeKey, strings.Repeat("x", int(size)))
		if errors.Is(err, kv.ErrQuotaExceeded) {
			hitQuota = true
			break
		}
		if err != nil {
			return Limits{}, fmt.Errorf("probe write of %d bytes failed: %w", size, err)
		}
		largest = size
	}

	if largest == 0 {
		return Limits{}, fmt.Errorf("probe could not write %d bytes: %w", start, kv.ErrQuotaExceeded)
	}

	if !hitQuota {
		// The store accepted everything up to the cap, so the cap is the
		// best lower bound we have.
		return Limits{
			StorageLimit:  used + ceiling,
			ItemSizeLimit: min(DefaultItemSizeLimit, ceiling),
		}, nil
	}

	return Limits{
		StorageLimit:  used + kv.EntrySize(probeKey, "") + largest,
		ItemSizeLimit: largest,
	}, nil
}

// DiskProbe derives the limit from the free space of the filesystem holding
// Path, scaled by Fraction.
type DiskProbe struct {
	Path string

	// Fraction of the available space granted to the store. Default: 0.1
	Fraction float64
}

// Estimate runs the probe.
func (p DiskProbe) Estimate(ctx context.Context, store kv.Store) (Limits, error) {
	fraction := p.Fraction
	if fraction <= 0 || fraction > 1 {
		fraction = 0.1
	}

	free, err := availableBytes(p.Path)
	if err != nil {
		return Limits{}, fmt.Errorf("disk probe on %q: %w", p.Path, err)
	}

	used, err := usageOf(ctx, store)
	if err != nil {
		return Limits{}, err
	}

	limit := used + int64(float64(free)*fraction)
	if limit <= 0 {
		return Limits{}, fmt.Errorf("disk probe on %q: no space available", p.Path)
	}

	return Limits{
		StorageLimit:  limit,
		ItemSizeLimit: min(DefaultItemSizeLimit, limit),
	}, nil
}

func usageOf(ctx context.Context, store kv.Store) (int64, error) {
	var total int64
	err := store.Range(ctx, func(key, value string) bool {
		total += kv.EntrySize(key, value)
		return true
	})
	if err != nil {
		return 0, fmt.Errorf("failed to compute usage: %w", err)
	}
	return total, nil
}
