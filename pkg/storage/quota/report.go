package quota

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/dustin/go-humanize"

	"mercator-hq/relayguard/pkg/storage/kv"
)

// Report computes usage and per-category key counts without logging.
func (g *Guard) Report(ctx context.Context) (Metrics, error) {
	m := Metrics{
		Limit:     g.limits.StorageLimit,
		ItemLimit: g.limits.ItemSizeLimit,
	}

	err := g.store.Range(ctx, func(key, value string) bool {
		m.Usage += kv.EntrySize(key, value)
		m.TotalKeys++

		if g.markers.IsTemporary(key) {
			m.TemporaryKeys++
		}
		if g.markers.IsEvictableCache(key) {
			m.CacheKeys++
		}
		switch g.markers.classify(key) {
		case priorityHigh:
			m.HighPriority++
		case priorityMedium:
			m.MediumPriority++
		default:
			m.LowPriority++
		}
		return true
	})
	if err != nil {
		return Metrics{}, fmt.Errorf("failed to compute storage metrics: %w", err)
	}

	m.Percentage = g.percentOf(m.Usage)
	g.observer.ObserveUsage(m.Usage, m.Limit)

	return m, nil
}

// LogStorageMetrics logs the current usage report. The record is logged at
// warn level at or above the medium threshold and at error level at or
// above the high threshold.
func (g *Guard) LogStorageMetrics(ctx context.Context) (Metrics, error) {
	m, err := g.Report(ctx)
	if err != nil {
		return m, err
	}

	level := slog.LevelInfo
	msg := "storage usage"
	switch {
	case m.Percentage >= g.thresholds.High:
		level = slog.LevelError
		msg = "storage usage critical"
	case m.Percentage >= g.thresholds.Medium:
		level = slog.LevelWarn
		msg = "storage usage high"
	}

	g.logger.Log(ctx, level, msg,
		"usage", humanize.IBytes(uint64(m.Usage)),
		"limit", humanize.IBytes(uint64(m.Limit)),
		"usage_bytes", m.Usage,
		"usage_percent", fmt.Sprintf("%.1f", m.Percentage),
		"total_keys", m.TotalKeys,
		"temporary_keys", m.TemporaryKeys,
		"cache_keys", m.CacheKeys,
		"high_priority_keys", m.HighPriority,
		"medium_priority_keys", m.MediumPriority,
		"low_priority_keys", m.LowPriority,
	)

	return m, nil
}

// String renders the report for terminals.
func (m Metrics) String() string {
	return fmt.Sprintf("%s of %s (%.1f%%), %d keys: %d temporary, %d cache, %d high / %d medium / %d low priority",
		humanize.IBytes(uint64(m.Usage)),
		humanize.IBytes(uint64(m.Limit)),
		m.Percentage,
		m.TotalKeys,
		m.TemporaryKeys,
		m.CacheKeys,
		m.HighPriority,
		m.MediumPriority,
		m.LowPriority,
	)
}
