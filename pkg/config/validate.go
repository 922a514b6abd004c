package config

import (
	"fmt"
	"net"
	"net/url"
	"sort"
	"strings"

	"github.com/robfig/cron/v3"

	"mercator-hq/relayguard/pkg/limits/admission"
	"mercator-hq/relayguard/pkg/storage/kv"
	"mercator-hq/relayguard/pkg/telemetry/logging"
	"mercator-hq/relayguard/pkg/telemetry/metrics"
)

// FieldError represents a validation error for a specific configuration field.
type FieldError struct {
	// Field is the dotted path to the configuration field (e.g., "server.listen_address").
	Field string

	// Message is a human-readable error message.
	Message string
}

// Error returns the error message for this field error.
func (e FieldError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// ValidationError represents one or more validation errors in a configuration.
type ValidationError struct {
	// Errors contains all validation errors found in the configuration.
	Errors []FieldError
}

// Error returns a formatted string containing all validation errors.
func (e ValidationError) Error() string {
	if len(e.Errors) == 0 {
		return "configuration validation failed"
	}
	if len(e.Errors) == 1 {
		return fmt.Sprintf("configuration validation failed: %s", e.Errors[0].Error())
	}

	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("configuration validation failed with %d errors:\n", len(e.Errors)))
	for _, err := range e.Errors {
		sb.WriteString(fmt.Sprintf("  - %s\n", err.Error()))
	}
	return sb.String()
}

// Validate validates the entire configuration. All field errors are
// collected and returned together as a ValidationError.
func Validate(cfg *Config) error {
	var errs []FieldError

	errs = append(errs, validateLogging(&cfg.Logging)...)
	errs = append(errs, validateAdmission(&cfg.Admission)...)
	errs = append(errs, validateCache(&cfg.Cache)...)
	errs = append(errs, validateStorage(&cfg.Storage)...)
	errs = append(errs, validateServer(&cfg.Server)...)
	errs = append(errs, validateMetrics(&cfg.Metrics)...)
	errs = append(errs, validateMaintenance(&cfg.Maintenance)...)

	if cfg.Health.CheckTimeout < 0 {
		errs = append(errs, FieldError{Field: "health.check_timeout", Message: "check timeout must be positive"})
	}
	if cfg.Reload.Debounce < 0 {
		errs = append(errs, FieldError{Field: "reload.debounce", Message: "debounce must be positive"})
	}

	if len(errs) > 0 {
		return ValidationError{Errors: errs}
	}

	return nil
}

func validateLogging(cfg *LoggingConfig) []FieldError {
	var errs []FieldError

	if _, err := logging.ParseLevel(cfg.Level); err != nil {
		errs = append(errs, FieldError{
			Field:   "logging.level",
			Message: fmt.Sprintf("invalid level %q (must be debug, info, warn or error)", cfg.Level),
		})
	}

	validFormats := map[string]bool{"json": true, "text": true, "console": true}
	if !validFormats[strings.ToLower(cfg.Format)] {
		errs = append(errs, FieldError{
			Field:   "logging.format",
			Message: fmt.Sprintf("invalid format %q (must be json, text or console)", cfg.Format),
		})
	}

	if _, err := logging.NewRedactor(cfg.RedactPatterns); err != nil {
		errs = append(errs, FieldError{
			Field:   "logging.redact_patterns",
			Message: err.Error(),
		})
	}

	return errs
}

func validateAdmission(cfg *admission.Config) []FieldError {
	var errs []FieldError

	positive := []struct {
		field string
		value int
	}{
		{"admission.global_max_concurrent", cfg.GlobalMaxConcurrent},
		{"admission.endpoint_max_concurrent", cfg.EndpointMaxConcurrent},
		{"admission.max_queue_size", cfg.MaxQueueSize},
		{"admission.profile_batch_size", cfg.ProfileBatchSize},
	}
	for _, p := range positive {
		if p.value <= 0 {
			errs = append(errs, FieldError{Field: p.field, Message: "must be positive"})
		}
	}

	if cfg.EndpointMaxConcurrent > cfg.GlobalMaxConcurrent && cfg.GlobalMaxConcurrent > 0 {
		errs = append(errs, FieldError{
			Field:   "admission.endpoint_max_concurrent",
			Message: fmt.Sprintf("endpoint limit %d exceeds global limit %d", cfg.EndpointMaxConcurrent, cfg.GlobalMaxConcurrent),
		})
	}
	if cfg.EndpointMinInterval < 0 {
		errs = append(errs, FieldError{Field: "admission.endpoint_min_interval", Message: "must not be negative"})
	}
	if cfg.QueueTimeout <= 0 {
		errs = append(errs, FieldError{Field: "admission.queue_timeout", Message: "must be positive"})
	}
	if cfg.SweepInterval <= 0 {
		errs = append(errs, FieldError{Field: "admission.sweep_interval", Message: "must be positive"})
	}

	urls := make([]string, 0, len(cfg.Endpoints))
	for u := range cfg.Endpoints {
		urls = append(urls, u)
	}
	sort.Strings(urls)
	for _, u := range urls {
		prefix := fmt.Sprintf("admission.endpoints[%q]", u)
		parsed, err := url.Parse(u)
		if err != nil || parsed.Host == "" || (parsed.Scheme != "ws" && parsed.Scheme != "wss") {
			errs = append(errs, FieldError{Field: prefix, Message: "endpoint must be a ws:// or wss:// URL"})
		}
		ep := cfg.Endpoints[u]
		if ep.MaxConcurrent < 0 {
			errs = append(errs, FieldError{Field: prefix + ".max_concurrent", Message: "must not be negative"})
		}
		if ep.MinInterval < 0 {
			errs = append(errs, FieldError{Field: prefix + ".min_interval", Message: "must not be negative"})
		}
	}

	return errs
}

func validateCache(cfg *CacheConfig) []FieldError {
	var errs []FieldError

	if cfg.DefaultTTL <= 0 {
		errs = append(errs, FieldError{Field: "cache.default_ttl", Message: "must be positive"})
	}
	if cfg.GCInterval <= 0 {
		errs = append(errs, FieldError{Field: "cache.gc_interval", Message: "must be positive"})
	}
	if cfg.PersistInterval <= 0 {
		errs = append(errs, FieldError{Field: "cache.persist_interval", Message: "must be positive"})
	}
	if strings.TrimSpace(cfg.StorageKey) == "" {
		errs = append(errs, FieldError{Field: "cache.storage_key", Message: "storage key is required"})
	}

	return errs
}

func validateStorage(cfg *StorageConfig) []FieldError {
	var errs []FieldError

	switch cfg.Backend {
	case BackendMemory:
		if cfg.MemoryCapacity < 0 {
			errs = append(errs, FieldError{Field: "storage.memory_capacity", Message: "must not be negative"})
		}
	case BackendSQLite:
		if cfg.SQLite.Path == "" {
			errs = append(errs, FieldError{Field: "storage.sqlite.path", Message: "path is required for the sqlite backend"})
		}
		if cfg.SQLite.Driver != kv.DriverModernc && cfg.SQLite.Driver != kv.DriverCgo {
			errs = append(errs, FieldError{
				Field:   "storage.sqlite.driver",
				Message: fmt.Sprintf("invalid driver %q (must be %s or %s)", cfg.SQLite.Driver, kv.DriverModernc, kv.DriverCgo),
			})
		}
		if cfg.SQLite.MaxBytes < 0 {
			errs = append(errs, FieldError{Field: "storage.sqlite.max_bytes", Message: "must not be negative"})
		}
		if cfg.SQLite.BusyTimeout < 0 {
			errs = append(errs, FieldError{Field: "storage.sqlite.busy_timeout", Message: "must not be negative"})
		}
		if cfg.SQLite.CheckpointInterval < 0 {
			errs = append(errs, FieldError{Field: "storage.sqlite.checkpoint_interval", Message: "must not be negative"})
		}
	default:
		errs = append(errs, FieldError{
			Field:   "storage.backend",
			Message: fmt.Sprintf("invalid backend %q (must be memory or sqlite)", cfg.Backend),
		})
	}

	switch cfg.Probe {
	case ProbeStatic, ProbeWrite:
	case ProbeDisk:
		if cfg.Backend != BackendSQLite {
			errs = append(errs, FieldError{Field: "storage.probe", Message: "disk probe requires the sqlite backend"})
		}
	default:
		errs = append(errs, FieldError{
			Field:   "storage.probe",
			Message: fmt.Sprintf("invalid probe %q (must be static, write or disk)", cfg.Probe),
		})
	}

	if cfg.StorageLimit <= 0 {
		errs = append(errs, FieldError{Field: "storage.storage_limit", Message: "must be positive"})
	}
	if cfg.ItemSizeLimit <= 0 {
		errs = append(errs, FieldError{Field: "storage.item_size_limit", Message: "must be positive"})
	} else if cfg.StorageLimit > 0 && cfg.ItemSizeLimit > cfg.StorageLimit {
		errs = append(errs, FieldError{Field: "storage.item_size_limit", Message: "must not exceed storage_limit"})
	}
	if cfg.DiskFraction <= 0 || cfg.DiskFraction > 1 {
		errs = append(errs, FieldError{Field: "storage.disk_fraction", Message: "must be within (0, 1]"})
	}
	if err := cfg.Thresholds.Validate(); err != nil {
		errs = append(errs, FieldError{Field: "storage.thresholds", Message: err.Error()})
	}

	return errs
}

func validateServer(cfg *ServerConfig) []FieldError {
	var errs []FieldError

	if !cfg.Enabled {
		return nil
	}

	if cfg.ListenAddress == "" {
		errs = append(errs, FieldError{Field: "server.listen_address", Message: "listen address is required"})
	} else if _, _, err := net.SplitHostPort(cfg.ListenAddress); err != nil {
		errs = append(errs, FieldError{
			Field:   "server.listen_address",
			Message: fmt.Sprintf("invalid address: %v", err),
		})
	}
	if cfg.ReadTimeout < 0 {
		errs = append(errs, FieldError{Field: "server.read_timeout", Message: "read timeout must be positive"})
	}
	if cfg.WriteTimeout < 0 {
		errs = append(errs, FieldError{Field: "server.write_timeout", Message: "write timeout must be positive"})
	}
	if cfg.ShutdownTimeout < 0 {
		errs = append(errs, FieldError{Field: "server.shutdown_timeout", Message: "shutdown timeout must be positive"})
	}

	return errs
}

func validateMetrics(cfg *metrics.Config) []FieldError {
	var errs []FieldError

	if cfg.Namespace == "" {
		errs = append(errs, FieldError{Field: "metrics.namespace", Message: "namespace is required"})
	}
	for i := 1; i < len(cfg.WaitBuckets); i++ {
		if cfg.WaitBuckets[i] <= cfg.WaitBuckets[i-1] {
			errs = append(errs, FieldError{Field: "metrics.wait_buckets", Message: "buckets must be strictly increasing"})
			break
		}
	}
	if cfg.MaxEndpointLabels < 0 {
		errs = append(errs, FieldError{Field: "metrics.max_endpoint_labels", Message: "must not be negative"})
	}

	return errs
}

func validateMaintenance(cfg *MaintenanceConfig) []FieldError {
	if !cfg.Enabled {
		return nil
	}
	if _, err := cron.ParseStandard(cfg.Schedule); err != nil {
		return []FieldError{{
			Field:   "maintenance.schedule",
			Message: fmt.Sprintf("invalid cron schedule %q: %v", cfg.Schedule, err),
		}}
	}
	return nil
}
