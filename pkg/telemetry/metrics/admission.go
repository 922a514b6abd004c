package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"mercator-hq/relayguard/pkg/limits/admission"
)

// AdmissionMetrics tracks the subscription limiter.
//
// Metrics:
//   - relayguard_admission_admitted_total{priority}
//   - relayguard_admission_wait_seconds{priority}
//   - relayguard_admission_queued_total{endpoint}
//   - relayguard_admission_rejected_total{reason}
//   - relayguard_admission_active_subscriptions
//   - relayguard_admission_queued_requests
type AdmissionMetrics struct {
	enabled   bool
	endpoints *CardinalityLimiter

	admittedTotal *prometheus.CounterVec
	waitSeconds   *prometheus.HistogramVec
	queuedTotal   *prometheus.CounterVec
	rejectedTotal *prometheus.CounterVec
	active        prometheus.Gauge
	queued        prometheus.Gauge
}

var _ admission.Observer = (*AdmissionMetrics)(nil)

// NewAdmissionMetrics creates and registers admission metrics.
func NewAdmissionMetrics(cfg Config, registry *prometheus.Registry) *AdmissionMetrics {
	am := &AdmissionMetrics{
		enabled:   cfg.Enabled,
		endpoints: NewCardinalityLimiter(cfg.MaxEndpointLabels),

		admittedTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: cfg.Namespace,
				Subsystem: "admission",
				Name:      "admitted_total",
				Help:      "Total number of admitted subscription requests",
			},
			[]string{"priority"},
		),

		waitSeconds: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: cfg.Namespace,
				Subsystem: "admission",
				Name:      "wait_seconds",
				Help:      "Time between submission and admission",
				Buckets:   cfg.WaitBuckets,
			},
			[]string{"priority"},
		),

		queuedTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: cfg.Namespace,
				Subsystem: "admission",
				Name:      "queued_total",
				Help:      "Total number of requests placed on an endpoint queue",
			},
			[]string{"endpoint"},
		),

		rejectedTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: cfg.Namespace,
				Subsystem: "admission",
				Name:      "rejected_total",
				Help:      "Total number of failed subscription requests by reason",
			},
			[]string{"reason"},
		),

		active: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: cfg.Namespace,
			Subsystem: "admission",
			Name:      "active_subscriptions",
			Help:      "Subscriptions currently holding a global slot",
		}),

		queued: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: cfg.Namespace,
			Subsystem: "admission",
			Name:      "queued_requests",
			Help:      "Requests waiting across all endpoint queues",
		}),
	}

	registry.MustRegister(
		am.admittedTotal,
		am.waitSeconds,
		am.queuedTotal,
		am.rejectedTotal,
		am.active,
		am.queued,
	)

	return am
}

// ObserveAdmitted records an admission and how long it waited.
func (am *AdmissionMetrics) ObserveAdmitted(priority admission.Priority, waited time.Duration) {
	if !am.enabled {
		return
	}
	am.admittedTotal.WithLabelValues(string(priority)).Inc()
	am.waitSeconds.WithLabelValues(string(priority)).Observe(waited.Seconds())
}

// ObserveQueued records a request joining an endpoint queue. Endpoints past
// the label limit are folded into "other".
func (am *AdmissionMetrics) ObserveQueued(endpoint string, _ admission.Priority) {
	if !am.enabled {
		return
	}
	if !am.endpoints.Allow(endpoint) {
		endpoint = otherLabel
	}
	am.queuedTotal.WithLabelValues(endpoint).Inc()
}

// ObserveRejected records a failed request.
func (am *AdmissionMetrics) ObserveRejected(reason string) {
	if !am.enabled {
		return
	}
	am.rejectedTotal.WithLabelValues(reason).Inc()
}

// ObserveState updates the active and queued gauges.
func (am *AdmissionMetrics) ObserveState(active, queued int) {
	if !am.enabled {
		return
	}
	am.active.Set(float64(active))
	am.queued.Set(float64(queued))
}
