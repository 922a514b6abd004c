package config

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "relayguard.yaml")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("failed to write config file: %v", err)
	}
	return path
}

func TestLoadConfig_ValidFile(t *testing.T) {
	path := writeConfig(t, `
logging:
  level: debug
  format: text
admission:
  global_max_concurrent: 40
  endpoint_max_concurrent: 4
  queue_timeout: 45s
  endpoints:
    wss://relay.damus.io:
      max_concurrent: 2
      min_interval: 250ms
cache:
  default_ttl: 10m
storage:
  backend: memory
  storage_limit: 2097152
  item_size_limit: 65536
  thresholds:
    low: 50
    medium: 70
    high: 90
server:
  listen_address: "0.0.0.0:9000"
`)

	cfg, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("failed to load config: %v", err)
	}

	if cfg.Logging.Level != "debug" || cfg.Logging.Format != "text" {
		t.Errorf("logging = %+v", cfg.Logging)
	}
	if !cfg.Logging.Redact {
		t.Error("expected redact to keep its default of true")
	}
	if cfg.Admission.GlobalMaxConcurrent != 40 || cfg.Admission.EndpointMaxConcurrent != 4 {
		t.Errorf("admission limits = %d/%d", cfg.Admission.GlobalMaxConcurrent, cfg.Admission.EndpointMaxConcurrent)
	}
	if cfg.Admission.QueueTimeout != 45*time.Second {
		t.Errorf("queue timeout = %v", cfg.Admission.QueueTimeout)
	}
	if cfg.Admission.MaxQueueSize != 50 {
		t.Errorf("expected default max queue size, got %d", cfg.Admission.MaxQueueSize)
	}
	override, ok := cfg.Admission.Endpoints["wss://relay.damus.io"]
	if !ok || override.MaxConcurrent != 2 || override.MinInterval != 250*time.Millisecond {
		t.Errorf("endpoint override = %+v, ok=%v", override, ok)
	}
	if cfg.Cache.DefaultTTL != 10*time.Minute {
		t.Errorf("cache ttl = %v", cfg.Cache.DefaultTTL)
	}
	if cfg.Cache.GCInterval != 60*time.Second {
		t.Errorf("expected default gc interval, got %v", cfg.Cache.GCInterval)
	}
	if cfg.Storage.Backend != BackendMemory || cfg.Storage.StorageLimit != 2097152 {
		t.Errorf("storage = %+v", cfg.Storage)
	}
	if cfg.Storage.Thresholds.High != 90 {
		t.Errorf("thresholds = %+v", cfg.Storage.Thresholds)
	}
	if cfg.Server.ListenAddress != "0.0.0.0:9000" || !cfg.Server.Enabled {
		t.Errorf("server = %+v", cfg.Server)
	}
	if !cfg.Metrics.Enabled || cfg.Metrics.Namespace != "relayguard" {
		t.Errorf("metrics = %+v", cfg.Metrics)
	}
}

func TestLoadConfig_EmptyFileUsesDefaults(t *testing.T) {
	cfg, err := LoadConfig(writeConfig(t, ""))
	if err != nil {
		t.Fatalf("failed to load config: %v", err)
	}
	if cfg.Storage.Backend != BackendSQLite || cfg.Storage.SQLite.Path != DefaultSQLitePath {
		t.Errorf("storage defaults = %+v", cfg.Storage)
	}
	if cfg.Maintenance.Schedule != "@every 5m" || !cfg.Maintenance.Enabled {
		t.Errorf("maintenance defaults = %+v", cfg.Maintenance)
	}
}

func TestLoadConfig_ExplicitFalseOverridesDefault(t *testing.T) {
	cfg, err := LoadConfig(writeConfig(t, `
logging:
  redact: false
metrics:
  enabled: false
`))
	if err != nil {
		t.Fatalf("failed to load config: %v", err)
	}
	if cfg.Logging.Redact {
		t.Error("expected redact to be disabled")
	}
	if cfg.Metrics.Enabled {
		t.Error("expected metrics to be disabled")
	}
}

func TestLoadConfig_FileNotFound(t *testing.T) {
	_, err := LoadConfig(filepath.Join(t.TempDir(), "missing.yaml"))
	if !errors.Is(err, os.ErrNotExist) {
		t.Errorf("expected not-exist error, got: %v", err)
	}
}

func TestLoadConfig_MalformedYAML(t *testing.T) {
	_, err := LoadConfig(writeConfig(t, "logging:\n  level: [\n"))
	if err == nil {
		t.Error("expected error for malformed YAML")
	}
}

func TestLoadConfig_UnknownField(t *testing.T) {
	_, err := LoadConfig(writeConfig(t, "admission:\n  global_max: 3\n"))
	if err == nil || !strings.Contains(err.Error(), "global_max") {
		t.Errorf("expected unknown field error, got %v", err)
	}
}

func TestLoadConfig_ValidationFailure(t *testing.T) {
	_, err := LoadConfig(writeConfig(t, `
logging:
  level: loud
storage:
  backend: redis
`))
	if err == nil {
		t.Fatal("expected validation error")
	}

	var validationErr ValidationError
	if !errors.As(err, &validationErr) {
		t.Fatalf("expected ValidationError, got %T", err)
	}
	if len(validationErr.Errors) != 2 {
		t.Errorf("expected 2 field errors, got %v", validationErr.Errors)
	}
}

func TestLoadConfigWithEnvOverrides(t *testing.T) {
	path := writeConfig(t, `
logging:
  level: info
storage:
  backend: memory
`)

	t.Setenv("RELAYGUARD_LOGGING_LEVEL", "warn")
	t.Setenv("RELAYGUARD_ADMISSION_GLOBAL_MAX_CONCURRENT", "64")
	t.Setenv("RELAYGUARD_ADMISSION_QUEUE_TIMEOUT", "1m")
	t.Setenv("RELAYGUARD_CACHE_PERSIST", "false")
	t.Setenv("RELAYGUARD_STORAGE_STORAGE_LIMIT", "1048576")
	t.Setenv("RELAYGUARD_SERVER_LISTEN_ADDRESS", "127.0.0.1:7000")
	t.Setenv("RELAYGUARD_MAINTENANCE_SCHEDULE", "*/10 * * * *")

	cfg, err := LoadConfigWithEnvOverrides(path)
	if err != nil {
		t.Fatalf("failed to load config: %v", err)
	}

	if cfg.Logging.Level != "warn" {
		t.Errorf("level = %q, want warn", cfg.Logging.Level)
	}
	if cfg.Admission.GlobalMaxConcurrent != 64 {
		t.Errorf("global max = %d, want 64", cfg.Admission.GlobalMaxConcurrent)
	}
	if cfg.Admission.QueueTimeout != time.Minute {
		t.Errorf("queue timeout = %v, want 1m", cfg.Admission.QueueTimeout)
	}
	if cfg.Cache.Persist {
		t.Error("expected cache persistence disabled")
	}
	if cfg.Storage.StorageLimit != 1048576 {
		t.Errorf("storage limit = %d", cfg.Storage.StorageLimit)
	}
	if cfg.Server.ListenAddress != "127.0.0.1:7000" {
		t.Errorf("listen address = %q", cfg.Server.ListenAddress)
	}
	if cfg.Maintenance.Schedule != "*/10 * * * *" {
		t.Errorf("schedule = %q", cfg.Maintenance.Schedule)
	}
}

func TestLoadConfigWithEnvOverrides_NoFile(t *testing.T) {
	t.Setenv("RELAYGUARD_STORAGE_BACKEND", "memory")

	cfg, err := LoadConfigWithEnvOverrides("")
	if err != nil {
		t.Fatalf("failed to load defaults: %v", err)
	}
	if cfg.Storage.Backend != BackendMemory {
		t.Errorf("backend = %q, want memory", cfg.Storage.Backend)
	}
}

func TestLoadConfigWithEnvOverrides_InvalidEnvValues(t *testing.T) {
	tests := []struct {
		name  string
		env   string
		value string
	}{
		{name: "integer", env: "RELAYGUARD_ADMISSION_MAX_QUEUE_SIZE", value: "lots"},
		{name: "duration", env: "RELAYGUARD_CACHE_DEFAULT_TTL", value: "5 minutes"},
		{name: "boolean", env: "RELAYGUARD_METRICS_ENABLED", value: "maybe"},
		{name: "int64", env: "RELAYGUARD_STORAGE_ITEM_SIZE_LIMIT", value: "1MB"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Setenv(tt.env, tt.value)

			_, err := LoadConfigWithEnvOverrides("")
			var validationErr ValidationError
			if !errors.As(err, &validationErr) {
				t.Fatalf("expected ValidationError, got %v", err)
			}
			found := false
			for _, fe := range validationErr.Errors {
				if fe.Field == tt.env {
					found = true
				}
			}
			if !found {
				t.Errorf("expected field error for %s, got %v", tt.env, validationErr.Errors)
			}
		})
	}
}

func TestApplyEnvOverrides_EmptyValuesIgnored(t *testing.T) {
	cfg := Default()
	lookup := func(name string) (string, bool) {
		if name == "RELAYGUARD_LOGGING_LEVEL" {
			return "", true
		}
		return "", false
	}

	if errs := applyEnvOverrides(cfg, lookup); len(errs) != 0 {
		t.Fatalf("unexpected errors: %v", errs)
	}
	if cfg.Logging.Level != DefaultLoggingLevel {
		t.Errorf("empty variable changed level to %q", cfg.Logging.Level)
	}
}
