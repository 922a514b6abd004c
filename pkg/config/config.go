package config

import (
	"time"

	"mercator-hq/relayguard/pkg/limits/admission"
	"mercator-hq/relayguard/pkg/storage/quota"
	"mercator-hq/relayguard/pkg/telemetry/logging"
	"mercator-hq/relayguard/pkg/telemetry/metrics"
)

// Config is the root configuration structure for relayguard.
type Config struct {
	// Logging configures the process logger.
	Logging LoggingConfig `yaml:"logging"`

	// Admission configures the subscription limiter.
	Admission admission.Config `yaml:"admission"`

	// Cache configures the TTL cache and its persistence.
	Cache CacheConfig `yaml:"cache"`

	// Storage configures the host store and the quota guard in front of it.
	Storage StorageConfig `yaml:"storage"`

	// Server configures the diagnostics HTTP server.
	Server ServerConfig `yaml:"server"`

	// Metrics configures Prometheus collection.
	Metrics metrics.Config `yaml:"metrics"`

	// Health configures the readiness checks.
	Health HealthConfig `yaml:"health"`

	// Maintenance configures the periodic storage cleanup job.
	Maintenance MaintenanceConfig `yaml:"maintenance"`

	// Reload configures watching the configuration file.
	Reload ReloadConfig `yaml:"reload"`
}

// LoggingConfig configures structured logging.
type LoggingConfig struct {
	// Level is the minimum log level to emit.
	// Options: "debug", "info", "warn", "error"
	// Default: "info"
	Level string `yaml:"level"`

	// Format controls the log output format.
	// Options: "json", "text", "console"
	// Default: "json"
	Format string `yaml:"format"`

	// AddSource includes file and line number in log entries.
	// Default: false
	AddSource bool `yaml:"add_source"`

	// Redact masks secret key material in log fields.
	// Default: true
	Redact bool `yaml:"redact"`

	// RedactPatterns are appended to the built-in patterns.
	RedactPatterns []logging.RedactPattern `yaml:"redact_patterns"`
}

// CacheConfig configures the TTL cache.
type CacheConfig struct {
	// DefaultTTL applies when a caller passes no TTL.
	// Default: 5m
	DefaultTTL time.Duration `yaml:"default_ttl"`

	// GCInterval is the period of the expiry sweep.
	// Default: 60s
	GCInterval time.Duration `yaml:"gc_interval"`

	// PersistInterval is the period of the persistence flush.
	// Default: 30s
	PersistInterval time.Duration `yaml:"persist_interval"`

	// StorageKey is the store key holding the persisted entries.
	// Default: "relayguard:cache"
	StorageKey string `yaml:"storage_key"`

	// Persist enables persistence of entries marked persistent.
	// Default: true
	Persist bool `yaml:"persist"`
}

// Storage backends.
const (
	BackendMemory = "memory"
	BackendSQLite = "sqlite"
)

// Quota probe modes.
const (
	ProbeStatic = "static"
	ProbeWrite  = "write"
	ProbeDisk   = "disk"
)

// StorageConfig configures the host key-value store and quota guard.
type StorageConfig struct {
	// Backend selects the store: "memory" or "sqlite".
	// Default: "sqlite"
	Backend string `yaml:"backend"`

	// SQLite configures the sqlite backend.
	SQLite SQLiteConfig `yaml:"sqlite"`

	// MemoryCapacity caps the memory backend in bytes. Zero means unlimited.
	MemoryCapacity int64 `yaml:"memory_capacity"`

	// Probe selects how the guard estimates the store's limits:
	// "static", "write" or "disk".
	// Default: "static"
	Probe string `yaml:"probe"`

	// StorageLimit is the total budget for the static probe, and the
	// probe ceiling for the write probe.
	// Default: 5 MiB
	StorageLimit int64 `yaml:"storage_limit"`

	// ItemSizeLimit caps a single entry.
	// Default: 1 MiB
	ItemSizeLimit int64 `yaml:"item_size_limit"`

	// DiskFraction is the share of free disk space granted by the disk probe.
	// Default: 0.1
	DiskFraction float64 `yaml:"disk_fraction"`

	// Thresholds are the cleanup tier boundaries in percent.
	// Default: 60/75/85
	Thresholds quota.Thresholds `yaml:"thresholds"`

	// Markers override the key classification used by cleanup.
	Markers *quota.Markers `yaml:"markers"`
}

// SQLiteConfig configures the sqlite backend.
type SQLiteConfig struct {
	// Path is the database file.
	// Default: "data/relayguard.db"
	Path string `yaml:"path"`

	// Driver is "sqlite" (pure Go) or "sqlite3" (cgo).
	// Default: "sqlite"
	Driver string `yaml:"driver"`

	// MaxBytes is a hard cap enforced by the store itself. Zero means none.
	MaxBytes int64 `yaml:"max_bytes"`

	// BusyTimeout is the SQLite busy timeout.
	// Default: 5s
	BusyTimeout time.Duration `yaml:"busy_timeout"`

	// CheckpointInterval is the period of WAL checkpoints.
	// Default: 5m
	CheckpointInterval time.Duration `yaml:"checkpoint_interval"`
}

// ServerConfig configures the diagnostics HTTP server.
type ServerConfig struct {
	// Enabled starts the server with the run command.
	// Default: true
	Enabled bool `yaml:"enabled"`

	// ListenAddress is the address and port to listen on.
	// Default: "127.0.0.1:9464"
	ListenAddress string `yaml:"listen_address"`

	// ReadTimeout is the maximum duration for reading a request.
	// Default: 10s
	ReadTimeout time.Duration `yaml:"read_timeout"`

	// WriteTimeout is the maximum duration for writing a response.
	// Default: 30s
	WriteTimeout time.Duration `yaml:"write_timeout"`

	// ShutdownTimeout bounds graceful shutdown.
	// Default: 15s
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
}

// HealthConfig configures readiness checks.
type HealthConfig struct {
	// CheckTimeout bounds each check.
	// Default: 2s
	CheckTimeout time.Duration `yaml:"check_timeout"`
}

// MaintenanceConfig configures the cleanup job.
type MaintenanceConfig struct {
	// Enabled runs the job with the run command.
	// Default: true
	Enabled bool `yaml:"enabled"`

	// Schedule is a cron expression or descriptor such as "@every 5m".
	// Default: "@every 5m"
	Schedule string `yaml:"schedule"`
}

// ReloadConfig configures configuration file watching.
type ReloadConfig struct {
	// Watch reloads the file on change.
	// Default: false
	Watch bool `yaml:"watch"`

	// Debounce collapses bursts of file events.
	// Default: 250ms
	Debounce time.Duration `yaml:"debounce"`
}
