package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/prometheus/client_golang/prometheus"

	"mercator-hq/relayguard/pkg/cache"
	"mercator-hq/relayguard/pkg/config"
	"mercator-hq/relayguard/pkg/limits/admission"
	"mercator-hq/relayguard/pkg/storage/kv"
	"mercator-hq/relayguard/pkg/storage/quota"
	"mercator-hq/relayguard/pkg/telemetry/health"
	"mercator-hq/relayguard/pkg/telemetry/logging"
	"mercator-hq/relayguard/pkg/telemetry/metrics"
)

// Services holds every long-lived component built from one configuration.
type Services struct {
	Config    *config.Config
	Logger    *logging.Logger
	Metrics   *metrics.Collector
	Store     kv.Store
	Guard     *quota.Guard
	Cache     *cache.Cache
	Limiter   *admission.Limiter
	Health    *health.Checker
	Scheduler *quota.Scheduler

	closers []func() error
}

// NewLogger builds the structured logger described by cfg.
func NewLogger(cfg config.LoggingConfig) (*logging.Logger, error) {
	return logging.New(logging.Config{
		Level:          cfg.Level,
		Format:         cfg.Format,
		AddSource:      cfg.AddSource,
		Redact:         cfg.Redact,
		RedactPatterns: cfg.RedactPatterns,
	})
}

// Build opens the store and wires the guard, cache, limiter and health
// checks on top of it. A nil registry gets a fresh one. On error every
// component built so far is closed.
func Build(ctx context.Context, cfg *config.Config, logger *logging.Logger, registry *prometheus.Registry) (*Services, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config cannot be nil")
	}
	if logger == nil {
		var err error
		if logger, err = NewLogger(cfg.Logging); err != nil {
			return nil, fmt.Errorf("failed to create logger: %w", err)
		}
	}

	s := &Services{
		Config:  cfg,
		Logger:  logger,
		Metrics: metrics.NewCollector(cfg.Metrics, registry),
	}

	store, err := OpenStore(cfg.Storage)
	if err != nil {
		return nil, err
	}
	s.Store = store
	s.closers = append(s.closers, store.Close)

	guardOpts := []quota.Option{
		quota.WithProbe(NewProbe(cfg.Storage)),
		quota.WithThresholds(cfg.Storage.Thresholds),
		quota.WithLogger(logger.Component("storage.quota")),
		quota.WithObserver(s.Metrics.Quota()),
	}
	if cfg.Storage.Markers != nil {
		guardOpts = append(guardOpts, quota.WithMarkers(*cfg.Storage.Markers))
	}
	s.Guard, err = quota.New(ctx, store, guardOpts...)
	if err != nil {
		_ = s.Close()
		return nil, fmt.Errorf("failed to create storage guard: %w", err)
	}
	s.closers = append(s.closers, func() error {
		s.Guard.Wait()
		return nil
	})

	cacheOpts := []cache.Option{
		cache.WithDefaultTTL(cfg.Cache.DefaultTTL),
		cache.WithGCInterval(cfg.Cache.GCInterval),
		cache.WithPersistInterval(cfg.Cache.PersistInterval),
		cache.WithStorageKey(cfg.Cache.StorageKey),
		cache.WithLogger(logger.Component("cache")),
		cache.WithObserver(s.Metrics.Cache()),
	}
	if cfg.Cache.Persist {
		cacheOpts = append(cacheOpts, cache.WithStore(s.Guard.Store()))
	}
	s.Cache = cache.New(ctx, cacheOpts...)
	s.closers = append(s.closers, s.Cache.Close)

	s.Limiter = admission.New(cfg.Admission,
		admission.WithLogger(logger.Component("admission")),
		admission.WithObserver(s.Metrics.Admission()),
	)
	s.closers = append(s.closers, s.Limiter.Close)

	s.Health = health.New(cfg.Health.CheckTimeout)
	s.Health.RegisterCheck("store", health.Critical, health.StoreCheck(store))
	s.Health.RegisterCheck("storage_quota", health.Advisory, health.QuotaCheck(s.Guard))
	s.Health.RegisterCheck("admission", health.Advisory, health.AdmissionCheck(s.Limiter))

	if cfg.Maintenance.Enabled {
		s.Scheduler = quota.NewScheduler(s.Guard, cfg.Maintenance.Schedule)
	}

	logger.Info("services initialized",
		"backend", cfg.Storage.Backend,
		"storage_limit", s.Guard.Limits().StorageLimit,
		"item_size_limit", s.Guard.Limits().ItemSizeLimit,
		"cache_persist", cfg.Cache.Persist,
		"global_max_concurrent", s.Limiter.Config().GlobalMaxConcurrent,
	)

	return s, nil
}

// Start launches background maintenance. It stops when ctx is cancelled or
// Close is called.
func (s *Services) Start(ctx context.Context) error {
	if s.Scheduler == nil {
		return nil
	}
	if err := s.Scheduler.Start(ctx); err != nil {
		return fmt.Errorf("failed to start storage maintenance: %w", err)
	}
	return nil
}

// Reload applies the parts of a new configuration that can change at
// runtime. Only the log level is applied; other sections require a restart
// and are reported.
func (s *Services) Reload(cfg *config.Config) {
	if err := s.Logger.SetLevel(cfg.Logging.Level); err != nil {
		s.Logger.Warn("ignoring invalid log level", "level", cfg.Logging.Level, "error", err)
	} else {
		s.Logger.Info("log level updated", "level", cfg.Logging.Level)
	}

	if cfg.Storage.Backend != s.Config.Storage.Backend ||
		cfg.Storage.SQLite.Path != s.Config.Storage.SQLite.Path {
		s.Logger.Warn("storage changes take effect after restart")
	}
	if cfg.Admission.GlobalMaxConcurrent != s.Config.Admission.GlobalMaxConcurrent ||
		cfg.Admission.EndpointMaxConcurrent != s.Config.Admission.EndpointMaxConcurrent {
		s.Logger.Warn("admission limit changes take effect after restart")
	}
}

// Close stops every component in reverse construction order.
func (s *Services) Close() error {
	if s.Scheduler != nil {
		s.Scheduler.Stop()
	}

	var errs []error
	for i := len(s.closers) - 1; i >= 0; i-- {
		if err := s.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	s.closers = nil
	return errors.Join(errs...)
}

// OpenStore opens the key-value backend selected by cfg. The parent
// directory of a SQLite file is created when missing.
func OpenStore(cfg config.StorageConfig) (kv.Store, error) {
	switch cfg.Backend {
	case config.BackendMemory:
		return kv.NewMemoryStore(cfg.MemoryCapacity), nil

	case config.BackendSQLite:
		if cfg.SQLite.Path != ":memory:" {
			if err := os.MkdirAll(filepath.Dir(cfg.SQLite.Path), 0o755); err != nil {
				return nil, fmt.Errorf("failed to create storage directory: %w", err)
			}
		}
		store, err := kv.NewSQLiteStore(kv.SQLiteConfig{
			Path:               cfg.SQLite.Path,
			Driver:             cfg.SQLite.Driver,
			MaxBytes:           cfg.SQLite.MaxBytes,
			BusyTimeout:        cfg.SQLite.BusyTimeout,
			CheckpointInterval: cfg.SQLite.CheckpointInterval,
		})
		if err != nil {
			return nil, fmt.Errorf("failed to open sqlite store: %w", err)
		}
		return store, nil

	default:
		return nil, fmt.Errorf("unsupported storage backend: %s", cfg.Backend)
	}
}

// NewProbe returns the capacity probe selected by cfg.
func NewProbe(cfg config.StorageConfig) quota.Probe {
	switch cfg.Probe {
	case config.ProbeWrite:
		return quota.WriteProbe{Max: cfg.StorageLimit}
	case config.ProbeDisk:
		return quota.DiskProbe{Path: filepath.Dir(cfg.SQLite.Path), Fraction: cfg.DiskFraction}
	default:
		return quota.StaticProbe{StorageLimit: cfg.StorageLimit, ItemSizeLimit: cfg.ItemSizeLimit}
	}
}

// SetDefault installs logger as the process-wide slog default so that
// components created without an explicit logger share its handler.
func SetDefault(logger *logging.Logger) {
	slog.SetDefault(logger.Slog())
}
