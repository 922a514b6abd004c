package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// EnvPrefix prefixes every environment override.
const EnvPrefix = "RELAYGUARD_"

// LoadConfig loads configuration from a YAML file at the specified path.
// File values are decoded over Default, zero values are defaulted and the
// result is validated. Environment variables are not consulted; use
// LoadConfigWithEnvOverrides for that.
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read configuration file %q: %w", path, err)
	}

	cfg, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("failed to parse configuration file %q: %w", path, err)
	}

	if err := Validate(cfg); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return cfg, nil
}

// Parse decodes YAML over the defaults without validating. Unknown fields
// are an error. Empty input yields the defaults.
func Parse(data []byte) (*Config, error) {
	cfg := Default()

	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, err
	}

	ApplyDefaults(cfg)
	return cfg, nil
}

// LoadConfigWithEnvOverrides loads configuration from a YAML file and applies
// environment variable overrides. Environment variables follow the naming
// convention RELAYGUARD_SECTION_FIELD (e.g., RELAYGUARD_SERVER_LISTEN_ADDRESS)
// and take precedence over the file. An empty path loads the defaults.
//
// The loading sequence is:
// 1. Load YAML from file over the defaults
// 2. Apply environment variable overrides
// 3. Validate final configuration
func LoadConfigWithEnvOverrides(path string) (*Config, error) {
	cfg := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read configuration file %q: %w", path, err)
		}
		if cfg, err = Parse(data); err != nil {
			return nil, fmt.Errorf("failed to parse configuration file %q: %w", path, err)
		}
	}

	errs := applyEnvOverrides(cfg, os.LookupEnv)
	if verr := Validate(cfg); verr != nil {
		var ve ValidationError
		if errors.As(verr, &ve) {
			errs = append(errs, ve.Errors...)
		}
	}
	if len(errs) > 0 {
		return nil, fmt.Errorf("configuration validation failed after environment overrides: %w", ValidationError{Errors: errs})
	}

	return cfg, nil
}

// envOverrides collects typed overrides and the fields that failed to parse.
type envOverrides struct {
	lookup func(string) (string, bool)
	errs   []FieldError
}

func (e *envOverrides) get(name string) (string, bool) {
	val, ok := e.lookup(EnvPrefix + name)
	if !ok || val == "" {
		return "", false
	}
	return val, true
}

func (e *envOverrides) fail(name, val, kind string) {
	e.errs = append(e.errs, FieldError{
		Field:   EnvPrefix + name,
		Message: fmt.Sprintf("%q is not a valid %s", val, kind),
	})
}

func (e *envOverrides) str(name string, dst *string) {
	if val, ok := e.get(name); ok {
		*dst = val
	}
}

func (e *envOverrides) boolean(name string, dst *bool) {
	if val, ok := e.get(name); ok {
		b, err := strconv.ParseBool(val)
		if err != nil {
			e.fail(name, val, "boolean")
			return
		}
		*dst = b
	}
}

func (e *envOverrides) integer(name string, dst *int) {
	if val, ok := e.get(name); ok {
		i, err := strconv.Atoi(val)
		if err != nil {
			e.fail(name, val, "integer")
			return
		}
		*dst = i
	}
}

func (e *envOverrides) int64(name string, dst *int64) {
	if val, ok := e.get(name); ok {
		i, err := strconv.ParseInt(val, 10, 64)
		if err != nil {
			e.fail(name, val, "integer")
			return
		}
		*dst = i
	}
}

func (e *envOverrides) duration(name string, dst *time.Duration) {
	if val, ok := e.get(name); ok {
		d, err := time.ParseDuration(val)
		if err != nil {
			e.fail(name, val, "duration")
			return
		}
		*dst = d
	}
}

// applyEnvOverrides applies RELAYGUARD_* variables to cfg and returns the
// variables that could not be parsed.
func applyEnvOverrides(cfg *Config, lookup func(string) (string, bool)) []FieldError {
	env := &envOverrides{lookup: lookup}

	// Logging overrides
	env.str("LOGGING_LEVEL", &cfg.Logging.Level)
	env.str("LOGGING_FORMAT", &cfg.Logging.Format)
	env.boolean("LOGGING_ADD_SOURCE", &cfg.Logging.AddSource)
	env.boolean("LOGGING_REDACT", &cfg.Logging.Redact)

	// Admission overrides
	env.integer("ADMISSION_GLOBAL_MAX_CONCURRENT", &cfg.Admission.GlobalMaxConcurrent)
	env.integer("ADMISSION_ENDPOINT_MAX_CONCURRENT", &cfg.Admission.EndpointMaxConcurrent)
	env.duration("ADMISSION_ENDPOINT_MIN_INTERVAL", &cfg.Admission.EndpointMinInterval)
	env.integer("ADMISSION_MAX_QUEUE_SIZE", &cfg.Admission.MaxQueueSize)
	env.duration("ADMISSION_QUEUE_TIMEOUT", &cfg.Admission.QueueTimeout)
	env.duration("ADMISSION_SWEEP_INTERVAL", &cfg.Admission.SweepInterval)
	env.integer("ADMISSION_PROFILE_BATCH_SIZE", &cfg.Admission.ProfileBatchSize)

	// Cache overrides
	env.duration("CACHE_DEFAULT_TTL", &cfg.Cache.DefaultTTL)
	env.duration("CACHE_GC_INTERVAL", &cfg.Cache.GCInterval)
	env.duration("CACHE_PERSIST_INTERVAL", &cfg.Cache.PersistInterval)
	env.str("CACHE_STORAGE_KEY", &cfg.Cache.StorageKey)
	env.boolean("CACHE_PERSIST", &cfg.Cache.Persist)

	// Storage overrides
	env.str("STORAGE_BACKEND", &cfg.Storage.Backend)
	env.str("STORAGE_SQLITE_PATH", &cfg.Storage.SQLite.Path)
	env.str("STORAGE_SQLITE_DRIVER", &cfg.Storage.SQLite.Driver)
	env.int64("STORAGE_SQLITE_MAX_BYTES", &cfg.Storage.SQLite.MaxBytes)
	env.int64("STORAGE_MEMORY_CAPACITY", &cfg.Storage.MemoryCapacity)
	env.str("STORAGE_PROBE", &cfg.Storage.Probe)
	env.int64("STORAGE_STORAGE_LIMIT", &cfg.Storage.StorageLimit)
	env.int64("STORAGE_ITEM_SIZE_LIMIT", &cfg.Storage.ItemSizeLimit)

	// Server overrides
	env.boolean("SERVER_ENABLED", &cfg.Server.Enabled)
	env.str("SERVER_LISTEN_ADDRESS", &cfg.Server.ListenAddress)
	env.duration("SERVER_SHUTDOWN_TIMEOUT", &cfg.Server.ShutdownTimeout)

	// Metrics overrides
	env.boolean("METRICS_ENABLED", &cfg.Metrics.Enabled)
	env.str("METRICS_NAMESPACE", &cfg.Metrics.Namespace)

	// Maintenance overrides
	env.boolean("MAINTENANCE_ENABLED", &cfg.Maintenance.Enabled)
	env.str("MAINTENANCE_SCHEDULE", &cfg.Maintenance.Schedule)

	// Reload overrides
	env.boolean("RELOAD_WATCH", &cfg.Reload.Watch)

	return env.errs
}
