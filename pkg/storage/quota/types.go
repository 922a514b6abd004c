package quota

import (
	"errors"
	"fmt"

	"mercator-hq/relayguard/pkg/storage/kv"
)

// Default limits used when the probe fails.
const (
	DefaultStorageLimit  int64 = 5 * 1024 * 1024
	DefaultItemSizeLimit int64 = 1024 * 1024
)

// Default thresholds in percent of the storage limit.
const (
	DefaultLowThreshold    = 60.0
	DefaultMediumThreshold = 75.0
	DefaultHighThreshold   = 85.0
)

var (
	// ErrItemTooLarge indicates a single value exceeds the per-item limit.
	ErrItemTooLarge = errors.New("item exceeds size limit")

	// ErrQuotaExceeded indicates a write would exceed, or did exceed, the
	// storage limit. It matches kv.ErrQuotaExceeded under errors.Is.
	ErrQuotaExceeded = kv.ErrQuotaExceeded
)

// WriteError describes a refused write.
type WriteError struct {
	Key    string
	Size   int64
	Limit  int64
	Reason error
}

// Error implements the error interface.
func (e *WriteError) Error() string {
	return fmt.Sprintf("write %q refused (%d bytes, limit %d): %v", e.Key, e.Size, e.Limit, e.Reason)
}

// Unwrap returns the underlying reason.
func (e *WriteError) Unwrap() error {
	return e.Reason
}

// Limits is an estimate of the host store's capacity.
type Limits struct {
	// StorageLimit is the estimated total capacity in bytes.
	StorageLimit int64

	// ItemSizeLimit is the estimated largest single value in bytes.
	ItemSizeLimit int64
}

// DefaultLimits returns the fallback limits.
func DefaultLimits() Limits {
	return Limits{StorageLimit: DefaultStorageLimit, ItemSizeLimit: DefaultItemSizeLimit}
}

// Thresholds are the tier boundaries in percent.
type Thresholds struct {
	Low    float64 `yaml:"low"`
	Medium float64 `yaml:"medium"`
	High   float64 `yaml:"high"`
}

// DefaultThresholds returns 60/75/85.
func DefaultThresholds() Thresholds {
	return Thresholds{
		Low:    DefaultLowThreshold,
		Medium: DefaultMediumThreshold,
		High:   DefaultHighThreshold,
	}
}

// Validate checks that the thresholds are ordered and within (0, 100].
func (t Thresholds) Validate() error {
	if t.Low <= 0 || t.High > 100 {
		return fmt.Errorf("thresholds must be within (0, 100], got %v/%v/%v", t.Low, t.Medium, t.High)
	}
	if !(t.Low < t.Medium && t.Medium < t.High) {
		return fmt.Errorf("thresholds must be increasing, got %v/%v/%v", t.Low, t.Medium, t.High)
	}
	return nil
}

// Tier is an eviction tier.
type Tier int

const (
	TierNone Tier = iota
	TierLight
	TierStandard
	TierEmergency
)

// String returns the tier name.
func (t Tier) String() string {
	switch t {
	case TierNone:
		return "none"
	case TierLight:
		return "light"
	case TierStandard:
		return "standard"
	case TierEmergency:
		return "emergency"
	default:
		return fmt.Sprintf("tier(%d)", int(t))
	}
}

// TierFor returns the tier for a usage percentage.
func (t Thresholds) TierFor(percent float64) Tier {
	switch {
	case percent >= t.High:
		return TierEmergency
	case percent >= t.Medium:
		return TierStandard
	case percent >= t.Low:
		return TierLight
	default:
		return TierNone
	}
}

// Metrics is a storage usage report.
type Metrics struct {
	Usage      int64   `json:"usage_bytes"`
	Limit      int64   `json:"limit_bytes"`
	ItemLimit  int64   `json:"item_limit_bytes"`
	Percentage float64 `json:"percentage"`

	TotalKeys      int `json:"total_keys"`
	TemporaryKeys  int `json:"temporary_keys"`
	CacheKeys      int `json:"cache_keys"`
	HighPriority   int `json:"high_priority_keys"`
	MediumPriority int `json:"medium_priority_keys"`
	LowPriority    int `json:"low_priority_keys"`
}

// Observer receives guard events. Implementations must be safe for
// concurrent use.
type Observer interface {
	ObserveUsage(usage, limit int64)
	ObserveCleanup(tier Tier, deleted int)
	ObserveRejected(reason string)
}

type noopObserver struct{}

func (noopObserver) ObserveUsage(int64, int64) {}
func (noopObserver) ObserveCleanup(Tier, int) {}
func (noopObserver) ObserveRejected(string) {}

// Rejection reasons passed to Observer.ObserveRejected.
const (
	ReasonItemTooLarge  = "item_too_large"
	ReasonQuotaExceeded = "quota_exceeded"
	ReasonStoreError    = "store_error"
)
