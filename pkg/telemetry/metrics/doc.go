// Package metrics exposes Prometheus metrics for relayguard.
//
// A Collector registers three metric sets on a private registry, one per
// guarded component. Each set implements that component's observer
// interface and is handed over at construction:
//
//	collector := metrics.NewCollector(metrics.DefaultConfig(), nil)
//	limiter := admission.New(cfg, admission.WithObserver(collector.Admission()))
//	c, err := cache.New(ctx, cache.WithObserver(collector.Cache()))
//	guard, err := quota.New(ctx, store, quota.WithObserver(collector.Quota()))
//
//	http.Handle("/metrics", collector.Handler())
//
// Endpoint labels are bounded by a CardinalityLimiter; values beyond the
// limit are recorded as "other".
package metrics
