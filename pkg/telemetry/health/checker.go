package health

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"
)

// CheckFunc reports whether one relayguard component can do its job.
// A nil error means healthy.
type CheckFunc func(ctx context.Context) error

// Severity decides what a failing check does to readiness.
type Severity int

const (
	// Critical failures make the process unavailable: without the host
	// store nothing can be cached or guarded.
	Critical Severity = iota
	// Advisory failures only mark the process degraded. Quota pressure and
	// saturated admission queues clear on their own as the guard evicts and
	// subscriptions end.
	Advisory
)

// String returns the severity name.
func (s Severity) String() string {
	switch s {
	case Critical:
		return "critical"
	case Advisory:
		return "advisory"
	default:
		return fmt.Sprintf("severity(%d)", int(s))
	}
}

// MarshalText encodes the severity by name.
func (s Severity) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// UnmarshalText decodes a severity name.
func (s *Severity) UnmarshalText(text []byte) error {
	switch string(text) {
	case "critical":
		*s = Critical
	case "advisory":
		*s = Advisory
	default:
		return fmt.Errorf("unknown severity %q", text)
	}
	return nil
}

// Check and overall statuses.
const (
	StatusOK          = "ok"
	StatusUnhealthy   = "unhealthy"
	StatusReady       = "ready"
	StatusDegraded    = "degraded"
	StatusUnavailable = "unavailable"
)

// CheckResult is the outcome of one check.
type CheckResult struct {
	Status     string   `json:"status"`
	Severity   Severity `json:"severity"`
	Message    string   `json:"message,omitempty"`
	DurationMS float64  `json:"duration_ms"`
}

// HealthStatus is the body of /healthz and /readyz.
type HealthStatus struct {
	// Status is "ok" for liveness; "ready", "degraded" or "unavailable"
	// for readiness.
	Status string `json:"status"`

	Checks map[string]CheckResult `json:"checks,omitempty"`

	// Failing lists the unhealthy checks, sorted.
	Failing []string `json:"failing,omitempty"`

	Timestamp time.Time `json:"timestamp"`
}

// ErrCheckTimeout is reported when a check does not finish in time.
var ErrCheckTimeout = errors.New("health check timeout")

type registered struct {
	severity Severity
	check    CheckFunc
}

// Checker runs the registered component checks.
type Checker struct {
	mu     sync.RWMutex
	checks map[string]registered

	checkTimeout time.Duration
}

// New creates a checker. Each check gets checkTimeout (5s when <= 0).
func New(checkTimeout time.Duration) *Checker {
	if checkTimeout <= 0 {
		checkTimeout = 5 * time.Second
	}
	return &Checker{
		checks:       make(map[string]registered),
		checkTimeout: checkTimeout,
	}
}

// RegisterCheck adds or replaces the check for a component.
func (c *Checker) RegisterCheck(name string, severity Severity, check CheckFunc) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.checks[name] = registered{severity: severity, check: check}
}

// ListChecks returns the registered component names, sorted.
func (c *Checker) ListChecks() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()

	names := make([]string, 0, len(c.checks))
	for name := range c.checks {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// CheckLiveness reports that the process is running. It runs no checks.
func (c *Checker) CheckLiveness(ctx context.Context) HealthStatus {
	return HealthStatus{Status: StatusOK, Timestamp: time.Now()}
}

// CheckReadiness runs every check concurrently. A failing critical check
// makes the status "unavailable"; failing advisory checks alone make it
// "degraded".
func (c *Checker) CheckReadiness(ctx context.Context) HealthStatus {
	c.mu.RLock()
	names := make([]string, 0, len(c.checks))
	regs := make([]registered, 0, len(c.checks))
	for name, reg := range c.checks {
		names = append(names, name)
		regs = append(regs, reg)
	}
	c.mu.RUnlock()

	results := make([]CheckResult, len(regs))
	var wg sync.WaitGroup
	for i, reg := range regs {
		wg.Add(1)
		go func() {
			defer wg.Done()
			results[i] = c.run(ctx, reg)
		}()
	}
	wg.Wait()

	status := HealthStatus{
		Status:    StatusReady,
		Checks:    make(map[string]CheckResult, len(results)),
		Timestamp: time.Now(),
	}
	for i, res := range results {
		status.Checks[names[i]] = res
		if res.Status != StatusUnhealthy {
			continue
		}
		status.Failing = append(status.Failing, names[i])
		switch {
		case res.Severity == Critical:
			status.Status = StatusUnavailable
		case status.Status == StatusReady:
			status.Status = StatusDegraded
		}
	}
	sort.Strings(status.Failing)
	return status
}

// run executes one check. A check that ignores its context is abandoned
// once the timeout passes.
func (c *Checker) run(ctx context.Context, reg registered) CheckResult {
	ctx, cancel := context.WithTimeout(ctx, c.checkTimeout)
	defer cancel()

	start := time.Now()
	done := make(chan error, 1)
	go func() { done <- reg.check(ctx) }()

	res := CheckResult{Status: StatusOK, Severity: reg.severity}
	select {
	case err := <-done:
		if err != nil {
			res.Status = StatusUnhealthy
			res.Message = err.Error()
		}
	case <-ctx.Done():
		res.Status = StatusUnhealthy
		res.Message = ErrCheckTimeout.Error()
	}
	res.DurationMS = float64(time.Since(start)) / float64(time.Millisecond)
	return res
}
