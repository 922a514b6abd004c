package metrics

import (
	"github.com/prometheus/client_golang/prometheus"

	"mercator-hq/relayguard/pkg/storage/quota"
)

// QuotaMetrics tracks the storage quota guard.
//
// Metrics:
//   - relayguard_storage_usage_bytes
//   - relayguard_storage_limit_bytes
//   - relayguard_storage_usage_ratio
//   - relayguard_storage_cleanup_runs_total{tier}
//   - relayguard_storage_cleanup_deleted_keys_total{tier}
//   - relayguard_storage_write_rejected_total{reason}
type QuotaMetrics struct {
	enabled bool

	usageBytes    prometheus.Gauge
	limitBytes    prometheus.Gauge
	usageRatio    prometheus.Gauge
	cleanupRuns   *prometheus.CounterVec
	cleanupKeys   *prometheus.CounterVec
	rejectedTotal *prometheus.CounterVec
}

var _ quota.Observer = (*QuotaMetrics)(nil)

// NewQuotaMetrics creates and registers storage quota metrics.
func NewQuotaMetrics(cfg Config, registry *prometheus.Registry) *QuotaMetrics {
	qm := &QuotaMetrics{
		enabled: cfg.Enabled,

		usageBytes: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: cfg.Namespace,
			Subsystem: "storage",
			Name:      "usage_bytes",
			Help:      "Estimated bytes used in the host store",
		}),

		limitBytes: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: cfg.Namespace,
			Subsystem: "storage",
			Name:      "limit_bytes",
			Help:      "Estimated storage limit of the host store",
		}),

		usageRatio: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: cfg.Namespace,
			Subsystem: "storage",
			Name:      "usage_ratio",
			Help:      "Usage as a fraction of the limit",
		}),

		cleanupRuns: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: cfg.Namespace,
				Subsystem: "storage",
				Name:      "cleanup_runs_total",
				Help:      "Total number of cleanup passes by tier",
			},
			[]string{"tier"},
		),

		cleanupKeys: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: cfg.Namespace,
				Subsystem: "storage",
				Name:      "cleanup_deleted_keys_total",
				Help:      "Total number of keys deleted by cleanup by tier",
			},
			[]string{"tier"},
		),

		rejectedTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: cfg.Namespace,
				Subsystem: "storage",
				Name:      "write_rejected_total",
				Help:      "Total number of refused writes by reason",
			},
			[]string{"reason"},
		),
	}

	registry.MustRegister(
		qm.usageBytes,
		qm.limitBytes,
		qm.usageRatio,
		qm.cleanupRuns,
		qm.cleanupKeys,
		qm.rejectedTotal,
	)

	return qm
}

// ObserveUsage updates the usage gauges.
func (qm *QuotaMetrics) ObserveUsage(usage, limit int64) {
	if !qm.enabled {
		return
	}
	qm.usageBytes.Set(float64(usage))
	qm.limitBytes.Set(float64(limit))
	if limit > 0 {
		qm.usageRatio.Set(float64(usage) / float64(limit))
	}
}

// ObserveCleanup records a cleanup pass.
func (qm *QuotaMetrics) ObserveCleanup(tier quota.Tier, deleted int) {
	if !qm.enabled {
		return
	}
	qm.cleanupRuns.WithLabelValues(tier.String()).Inc()
	qm.cleanupKeys.WithLabelValues(tier.String()).Add(float64(deleted))
}

// ObserveRejected records a refused write.
func (qm *QuotaMetrics) ObserveRejected(reason string) {
	if !qm.enabled {
		return
	}
	qm.rejectedTotal.WithLabelValues(reason).Inc()
}
