package metrics

import (
	"github.com/prometheus/client_golang/prometheus"

	"mercator-hq/relayguard/pkg/cache"
)

// CacheMetrics tracks the TTL cache.
//
// Metrics:
//   - relayguard_cache_lookups_total{result}: hit or miss
//   - relayguard_cache_expired_total: entries removed by expiry
//   - relayguard_cache_persist_total{result}: ok or error
//   - relayguard_cache_persisted_entries: entries in the last successful persist
//   - relayguard_cache_entries: live entry count
type CacheMetrics struct {
	enabled bool

	lookupsTotal     *prometheus.CounterVec
	expiredTotal     prometheus.Counter
	persistTotal     *prometheus.CounterVec
	persistedEntries prometheus.Gauge
	entries          prometheus.Gauge
}

var _ cache.Observer = (*CacheMetrics)(nil)

// NewCacheMetrics creates and registers cache metrics.
func NewCacheMetrics(cfg Config, registry *prometheus.Registry) *CacheMetrics {
	cm := &CacheMetrics{
		enabled: cfg.Enabled,

		lookupsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: cfg.Namespace,
				Subsystem: "cache",
				Name:      "lookups_total",
				Help:      "Total number of cache lookups by result",
			},
			[]string{"result"},
		),

		expiredTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: cfg.Namespace,
			Subsystem: "cache",
			Name:      "expired_total",
			Help:      "Total number of entries removed because their TTL elapsed",
		}),

		persistTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: cfg.Namespace,
				Subsystem: "cache",
				Name:      "persist_total",
				Help:      "Total number of persist attempts by result",
			},
			[]string{"result"},
		),

		persistedEntries: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: cfg.Namespace,
			Subsystem: "cache",
			Name:      "persisted_entries",
			Help:      "Entries written by the last successful persist",
		}),

		entries: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: cfg.Namespace,
			Subsystem: "cache",
			Name:      "entries",
			Help:      "Current number of entries in the cache",
		}),
	}

	registry.MustRegister(
		cm.lookupsTotal,
		cm.expiredTotal,
		cm.persistTotal,
		cm.persistedEntries,
		cm.entries,
	)

	return cm
}

// ObserveGet records a lookup.
func (cm *CacheMetrics) ObserveGet(hit bool) {
	if !cm.enabled {
		return
	}
	result := "miss"
	if hit {
		result = "hit"
	}
	cm.lookupsTotal.WithLabelValues(result).Inc()
}

// ObserveExpired records entries dropped by expiry.
func (cm *CacheMetrics) ObserveExpired(n int) {
	if !cm.enabled || n <= 0 {
		return
	}
	cm.expiredTotal.Add(float64(n))
}

// ObservePersist records a persist attempt.
func (cm *CacheMetrics) ObservePersist(entries int, err error) {
	if !cm.enabled {
		return
	}
	if err != nil {
		cm.persistTotal.WithLabelValues("error").Inc()
		return
	}
	cm.persistTotal.WithLabelValues("ok").Inc()
	cm.persistedEntries.Set(float64(entries))
}

// ObserveSize updates the entry gauge.
func (cm *CacheMetrics) ObserveSize(n int) {
	if !cm.enabled {
		return
	}
	cm.entries.Set(float64(n))
}
