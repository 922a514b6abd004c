package config

import (
	"time"

	"mercator-hq/relayguard/pkg/cache"
	"mercator-hq/relayguard/pkg/limits/admission"
	"mercator-hq/relayguard/pkg/storage/kv"
	"mercator-hq/relayguard/pkg/storage/quota"
	"mercator-hq/relayguard/pkg/telemetry/metrics"
)

// Default values for configuration fields.
const (
	DefaultLoggingLevel  = "info"
	DefaultLoggingFormat = "json"

	DefaultStorageBackend      = BackendSQLite
	DefaultSQLitePath          = "data/relayguard.db"
	DefaultSQLiteDriver        = kv.DriverModernc
	DefaultSQLiteBusyTimeout   = 5 * time.Second
	DefaultSQLiteCheckpoint    = 5 * time.Minute
	DefaultStorageProbe        = ProbeStatic
	DefaultStorageDiskFraction = 0.1

	DefaultListenAddress   = "127.0.0.1:9464"
	DefaultReadTimeout     = 10 * time.Second
	DefaultWriteTimeout    = 30 * time.Second
	DefaultShutdownTimeout = 15 * time.Second

	DefaultHealthCheckTimeout = 2 * time.Second

	DefaultReloadDebounce = 250 * time.Millisecond
)

// Default returns a configuration with every default applied. LoadConfig
// decodes the file on top of it so that booleans left out of the file keep
// their default.
func Default() *Config {
	cfg := &Config{
		Logging: LoggingConfig{Redact: true},
		Cache:   CacheConfig{Persist: true},
		Server:  ServerConfig{Enabled: true},
		Metrics: metrics.DefaultConfig(),
		Maintenance: MaintenanceConfig{
			Enabled: true,
		},
	}
	ApplyDefaults(cfg)
	return cfg
}

// ApplyDefaults fills zero-valued fields with their defaults.
func ApplyDefaults(cfg *Config) {
	applyLoggingDefaults(&cfg.Logging)
	applyAdmissionDefaults(&cfg.Admission)
	applyCacheDefaults(&cfg.Cache)
	applyStorageDefaults(&cfg.Storage)
	applyServerDefaults(&cfg.Server)
	applyMetricsDefaults(&cfg.Metrics)

	if cfg.Health.CheckTimeout == 0 {
		cfg.Health.CheckTimeout = DefaultHealthCheckTimeout
	}
	if cfg.Maintenance.Schedule == "" {
		cfg.Maintenance.Schedule = quota.DefaultSchedule
	}
	if cfg.Reload.Debounce == 0 {
		cfg.Reload.Debounce = DefaultReloadDebounce
	}
}

func applyLoggingDefaults(cfg *LoggingConfig) {
	if cfg.Level == "" {
		cfg.Level = DefaultLoggingLevel
	}
	if cfg.Format == "" {
		cfg.Format = DefaultLoggingFormat
	}
}

func applyAdmissionDefaults(cfg *admission.Config) {
	d := admission.DefaultConfig()
	if cfg.GlobalMaxConcurrent == 0 {
		cfg.GlobalMaxConcurrent = d.GlobalMaxConcurrent
	}
	if cfg.EndpointMaxConcurrent == 0 {
		cfg.EndpointMaxConcurrent = d.EndpointMaxConcurrent
	}
	if cfg.MaxQueueSize == 0 {
		cfg.MaxQueueSize = d.MaxQueueSize
	}
	if cfg.QueueTimeout == 0 {
		cfg.QueueTimeout = d.QueueTimeout
	}
	if cfg.SweepInterval == 0 {
		cfg.SweepInterval = d.SweepInterval
	}
	if cfg.ProfileBatchSize == 0 {
		cfg.ProfileBatchSize = d.ProfileBatchSize
	}
}

func applyCacheDefaults(cfg *CacheConfig) {
	if cfg.DefaultTTL == 0 {
		cfg.DefaultTTL = cache.DefaultTTL
	}
	if cfg.GCInterval == 0 {
		cfg.GCInterval = cache.DefaultGCInterval
	}
	if cfg.PersistInterval == 0 {
		cfg.PersistInterval = cache.DefaultPersistInterval
	}
	if cfg.StorageKey == "" {
		cfg.StorageKey = cache.DefaultStorageKey
	}
}

func applyStorageDefaults(cfg *StorageConfig) {
	if cfg.Backend == "" {
		cfg.Backend = DefaultStorageBackend
	}
	if cfg.SQLite.Path == "" {
		cfg.SQLite.Path = DefaultSQLitePath
	}
	if cfg.SQLite.Driver == "" {
		cfg.SQLite.Driver = DefaultSQLiteDriver
	}
	if cfg.SQLite.BusyTimeout == 0 {
		cfg.SQLite.BusyTimeout = DefaultSQLiteBusyTimeout
	}
	if cfg.SQLite.CheckpointInterval == 0 {
		cfg.SQLite.CheckpointInterval = DefaultSQLiteCheckpoint
	}
	if cfg.Probe == "" {
		cfg.Probe = DefaultStorageProbe
	}
	if cfg.StorageLimit == 0 {
		cfg.StorageLimit = quota.DefaultStorageLimit
	}
	if cfg.ItemSizeLimit == 0 {
		cfg.ItemSizeLimit = quota.DefaultItemSizeLimit
	}
	if cfg.DiskFraction == 0 {
		cfg.DiskFraction = DefaultStorageDiskFraction
	}
	if cfg.Thresholds == (quota.Thresholds{}) {
		cfg.Thresholds = quota.DefaultThresholds()
	}
}

func applyServerDefaults(cfg *ServerConfig) {
	if cfg.ListenAddress == "" {
		cfg.ListenAddress = DefaultListenAddress
	}
	if cfg.ReadTimeout == 0 {
		cfg.ReadTimeout = DefaultReadTimeout
	}
	if cfg.WriteTimeout == 0 {
		cfg.WriteTimeout = DefaultWriteTimeout
	}
	if cfg.ShutdownTimeout == 0 {
		cfg.ShutdownTimeout = DefaultShutdownTimeout
	}
}

func applyMetricsDefaults(cfg *metrics.Config) {
	d := metrics.DefaultConfig()
	if cfg.Namespace == "" {
		cfg.Namespace = d.Namespace
	}
	if len(cfg.WaitBuckets) == 0 {
		cfg.WaitBuckets = d.WaitBuckets
	}
	if cfg.MaxEndpointLabels == 0 {
		cfg.MaxEndpointLabels = d.MaxEndpointLabels
	}
}
