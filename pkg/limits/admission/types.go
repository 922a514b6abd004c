package admission

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"mercator-hq/relayguard/pkg/relay"
)

// Priority orders queued requests.
type Priority string

const (
	// PriorityHigh requests are served before any queued normal or low request.
	PriorityHigh Priority = "high"

	// PriorityNormal is the default.
	PriorityNormal Priority = "normal"

	// PriorityLow requests are queued like normal ones.
	PriorityLow Priority = "low"
)

// EventHandler receives events for a subscription.
type EventHandler func(ev relay.Event)

// Transport opens a subscription and returns its handle. It is invoked
// synchronously, exactly once per admitted request, and must not block
// indefinitely.
type Transport func(filters []relay.Filter, onEvent EventHandler, endpoints []string) (string, error)

// Request is a subscription request.
type Request struct {
	Filters   []relay.Filter
	OnEvent   EventHandler
	Endpoints []string
	Transport Transport

	// Priority defaults to PriorityNormal.
	Priority Priority
}

// EndpointConfig overrides the limits of one endpoint.
type EndpointConfig struct {
	// MaxConcurrent overrides Config.EndpointMaxConcurrent when positive.
	MaxConcurrent int `yaml:"max_concurrent"`

	// MinInterval overrides Config.EndpointMinInterval when positive.
	MinInterval time.Duration `yaml:"min_interval"`
}

// Config configures a Limiter.
type Config struct {
	// GlobalMaxConcurrent caps admitted, not yet ended subscriptions.
	// Default: 20
	GlobalMaxConcurrent int `yaml:"global_max_concurrent"`

	// EndpointMaxConcurrent caps subscriptions per endpoint.
	// Default: 5
	EndpointMaxConcurrent int `yaml:"endpoint_max_concurrent"`

	// EndpointMinInterval is the minimum gap between two admissions on one
	// endpoint. Default: 0
	EndpointMinInterval time.Duration `yaml:"endpoint_min_interval"`

	// Endpoints holds per-URL overrides.
	Endpoints map[string]EndpointConfig `yaml:"endpoints"`

	// MaxQueueSize caps each endpoint queue.
	// Default: 50
	MaxQueueSize int `yaml:"max_queue_size"`

	// QueueTimeout is how long a request may wait for admission.
	// Default: 30 seconds
	QueueTimeout time.Duration `yaml:"queue_timeout"`

	// SweepInterval is the period of the stale queue sweep.
	// Default: 30 seconds
	SweepInterval time.Duration `yaml:"sweep_interval"`

	// ProfileBatchSize is the number of authors per profile sub-batch.
	// Default: 20
	ProfileBatchSize int `yaml:"profile_batch_size"`
}

// Defaults.
const (
	DefaultGlobalMaxConcurrent   = 20
	DefaultEndpointMaxConcurrent = 5
	DefaultMaxQueueSize          = 50
	DefaultQueueTimeout          = 30 * time.Second
	DefaultSweepInterval         = 30 * time.Second
	DefaultProfileBatchSize      = 20
)

// DefaultConfig returns the default configuration.
func DefaultConfig() Config {
	return Config{
		GlobalMaxConcurrent:   DefaultGlobalMaxConcurrent,
		EndpointMaxConcurrent: DefaultEndpointMaxConcurrent,
		MaxQueueSize:          DefaultMaxQueueSize,
		QueueTimeout:          DefaultQueueTimeout,
		SweepInterval:         DefaultSweepInterval,
		ProfileBatchSize:      DefaultProfileBatchSize,
	}
}

// withDefaults fills zero or negative fields.
func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.GlobalMaxConcurrent <= 0 {
		c.GlobalMaxConcurrent = d.GlobalMaxConcurrent
	}
	if c.EndpointMaxConcurrent <= 0 {
		c.EndpointMaxConcurrent = d.EndpointMaxConcurrent
	}
	if c.EndpointMinInterval < 0 {
		c.EndpointMinInterval = 0
	}
	if c.MaxQueueSize <= 0 {
		c.MaxQueueSize = d.MaxQueueSize
	}
	if c.QueueTimeout <= 0 {
		c.QueueTimeout = d.QueueTimeout
	}
	if c.SweepInterval <= 0 {
		c.SweepInterval = d.SweepInterval
	}
	if c.ProfileBatchSize <= 0 {
		c.ProfileBatchSize = d.ProfileBatchSize
	}

	overrides := make(map[string]EndpointConfig, len(c.Endpoints))
	for url, ec := range c.Endpoints {
		overrides[relay.NormalizeURL(url)] = ec
	}
	c.Endpoints = overrides

	return c
}

// Error types for admission failures.
var (
	// ErrAdmissionTimeout is returned when a queued request was not admitted
	// within the queue timeout.
	ErrAdmissionTimeout = errors.New("admission timeout")

	// ErrQueueFull is returned when the chosen endpoint queue is at capacity.
	ErrQueueFull = errors.New("admission queue full")

	// ErrSubscriptionFailed is returned when the transport failed for an
	// admitted request.
	ErrSubscriptionFailed = errors.New("subscription failed")

	// ErrNoEndpoints is returned for a request without endpoints.
	ErrNoEndpoints = errors.New("request has no endpoints")

	// ErrNilTransport is returned for a request without a transport.
	ErrNilTransport = errors.New("request has no transport")

	// ErrLimiterClosed is returned for requests failed by Close or submitted
	// after it.
	ErrLimiterClosed = errors.New("limiter closed")

	// ErrLimiterReset is returned for queued requests dropped by Reset.
	ErrLimiterReset = errors.New("limiter reset")

	// ErrPending is returned by Pending.Result while the request is queued.
	ErrPending = errors.New("request still pending")
)

// RequestError provides context about a failed request.
type RequestError struct {
	// RequestID is the id assigned at submission.
	RequestID uint64

	// Endpoints are the request's target endpoints.
	Endpoints []string

	// Waited is how long the request spent queued.
	Waited time.Duration

	// Err is one of the package's sentinel errors.
	Err error

	// Cause is the transport failure, if any.
	Cause error
}

// Error implements the error interface.
func (e *RequestError) Error() string {
	var b strings.Builder
	fmt.Fprintf(&b, "request %d to [%s]: %v", e.RequestID, strings.Join(e.Endpoints, ", "), e.Err)
	if e.Waited > 0 {
		fmt.Fprintf(&b, " after %s", e.Waited)
	}
	if e.Cause != nil {
		fmt.Fprintf(&b, ": %v", e.Cause)
	}
	return b.String()
}

// Unwrap returns the sentinel error and the cause.
func (e *RequestError) Unwrap() []error {
	if e.Cause == nil {
		return []error{e.Err}
	}
	return []error{e.Err, e.Cause}
}

// Stats is a snapshot of limiter state.
type Stats struct {
	Active    int                      `json:"active"`
	Max       int                      `json:"max"`
	Available int                      `json:"available"`
	Queued    int                      `json:"queued"`
	Endpoints map[string]EndpointStats `json:"endpoints"`
}

// EndpointStats is a snapshot of one endpoint.
type EndpointStats struct {
	Active    int `json:"active"`
	Queued    int `json:"queued"`
	Max       int `json:"max"`
	Available int `json:"available"`
}

// Rejection reasons passed to Observer.ObserveRejected.
const (
	ReasonQueueFull      = "queue_full"
	ReasonTimeout        = "timeout"
	ReasonTransportError = "transport_error"
	ReasonInvalid        = "invalid"
	ReasonClosed         = "closed"
	ReasonReset          = "reset"
)

// Observer receives limiter events. Calls are made without the limiter lock
// held, except ObserveState. Implementations must be safe for concurrent use
// and must not call back into the Limiter.
type Observer interface {
	// ObserveAdmitted is called for every admission. waited is zero for
	// immediate admissions.
	ObserveAdmitted(priority Priority, waited time.Duration)

	// ObserveQueued is called when a request joins an endpoint queue.
	ObserveQueued(endpoint string, priority Priority)

	// ObserveRejected is called when a request fails.
	ObserveRejected(reason string)

	// ObserveState reports the global active and total queued counts.
	ObserveState(active, queued int)
}

type noopObserver struct{}

func (noopObserver) ObserveAdmitted(Priority, time.Duration) {}
func (noopObserver) ObserveQueued(string, Priority) {}
func (noopObserver) ObserveRejected(string) {}
func (noopObserver) ObserveState(int, int) {}
