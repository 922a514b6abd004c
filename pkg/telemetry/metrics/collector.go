package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"mercator-hq/relayguard/pkg/cache"
	"mercator-hq/relayguard/pkg/limits/admission"
	"mercator-hq/relayguard/pkg/storage/quota"
)

// Config controls metric registration.
type Config struct {
	// Enabled turns recording on. A disabled collector still registers its
	// metrics so the scrape surface stays stable.
	Enabled bool `yaml:"enabled"`

	// Namespace prefixes every metric name.
	Namespace string `yaml:"namespace"`

	// WaitBuckets are the histogram buckets for admission wait time, in seconds.
	WaitBuckets []float64 `yaml:"wait_buckets"`

	// MaxEndpointLabels bounds the number of distinct endpoint label values.
	MaxEndpointLabels int `yaml:"max_endpoint_labels"`

	// RuntimeMetrics registers the Go runtime and process collectors.
	RuntimeMetrics bool `yaml:"runtime_metrics"`
}

// DefaultConfig returns the metric settings used when none are configured.
func DefaultConfig() Config {
	return Config{
		Enabled:           true,
		Namespace:         "relayguard",
		WaitBuckets:       []float64{0.01, 0.05, 0.1, 0.5, 1, 5, 10, 30},
		MaxEndpointLabels: 256,
		RuntimeMetrics:    true,
	}
}

// Collector owns the metric sets for the admission limiter, the TTL cache
// and the storage quota guard. Each set implements the observer interface
// of its package.
type Collector struct {
	config   Config
	registry *prometheus.Registry

	admission *AdmissionMetrics
	cache     *CacheMetrics
	quota     *QuotaMetrics
}

// NewCollector registers all metric sets on registry. A nil registry gets a
// fresh private one.
func NewCollector(cfg Config, registry *prometheus.Registry) *Collector {
	if registry == nil {
		registry = prometheus.NewRegistry()
	}

	defaults := DefaultConfig()
	if cfg.Namespace == "" {
		cfg.Namespace = defaults.Namespace
	}
	if len(cfg.WaitBuckets) == 0 {
		cfg.WaitBuckets = defaults.WaitBuckets
	}
	if cfg.MaxEndpointLabels <= 0 {
		cfg.MaxEndpointLabels = defaults.MaxEndpointLabels
	}

	if cfg.RuntimeMetrics {
		registry.MustRegister(
			collectors.NewGoCollector(),
			collectors.NewProcessCollector(collectors.ProcessCollectorOpts{Namespace: cfg.Namespace}),
		)
	}

	return &Collector{
		config:    cfg,
		registry:  registry,
		admission: NewAdmissionMetrics(cfg, registry),
		cache:     NewCacheMetrics(cfg, registry),
		quota:     NewQuotaMetrics(cfg, registry),
	}
}

// Admission returns the observer for admission.WithObserver.
func (c *Collector) Admission() admission.Observer {
	return c.admission
}

// Cache returns the observer for cache.WithObserver.
func (c *Collector) Cache() cache.Observer {
	return c.cache
}

// Quota returns the observer for quota.WithObserver.
func (c *Collector) Quota() quota.Observer {
	return c.quota
}

// Registry returns the Prometheus registry used by this collector.
func (c *Collector) Registry() *prometheus.Registry {
	return c.registry
}

// Config returns the effective configuration.
func (c *Collector) Config() Config {
	return c.config
}

// CardinalityLimiter prevents metric cardinality explosion by limiting
// the number of unique label values per metric.
type CardinalityLimiter struct {
	maxCardinality int
	current        map[string]struct{}
	mu             sync.RWMutex
}

// NewCardinalityLimiter creates a new cardinality limiter with the specified
// maximum cardinality.
func NewCardinalityLimiter(maxCardinality int) *CardinalityLimiter {
	return &CardinalityLimiter{
		maxCardinality: maxCardinality,
		current:        make(map[string]struct{}),
	}
}

// Allow checks if a label value is allowed. Returns true if it has been seen
// before or if there is still room for it.
func (cl *CardinalityLimiter) Allow(label string) bool {
	cl.mu.RLock()
	if _, exists := cl.current[label]; exists {
		cl.mu.RUnlock()
		return true
	}
	cl.mu.RUnlock()

	cl.mu.Lock()
	defer cl.mu.Unlock()

	if _, exists := cl.current[label]; exists {
		return true
	}

	if len(cl.current) >= cl.maxCardinality {
		return false
	}

	cl.current[label] = struct{}{}
	return true
}

// Count returns the current cardinality.
func (cl *CardinalityLimiter) Count() int {
	cl.mu.RLock()
	defer cl.mu.RUnlock()
	return len(cl.current)
}

// otherLabel replaces label values once a limiter is full.
const otherLabel = "other"
