// Package config loads and validates relayguard configuration.
//
// Configuration comes from a YAML file decoded over the defaults, followed
// by environment variable overrides, followed by validation:
//
//	cfg, err := config.LoadConfigWithEnvOverrides("relayguard.yaml")
//
// # Environment Variable Overrides
//
// Variables follow the convention RELAYGUARD_SECTION_FIELD:
//
//   - RELAYGUARD_LOGGING_LEVEL overrides logging.level
//   - RELAYGUARD_ADMISSION_GLOBAL_MAX_CONCURRENT overrides admission.global_max_concurrent
//   - RELAYGUARD_STORAGE_SQLITE_PATH overrides storage.sqlite.path
//
// A variable that cannot be parsed is reported as a FieldError alongside
// the validation errors.
//
// # Validation
//
// Validate collects every problem into a single ValidationError:
//
//	configuration validation failed with 2 errors:
//	  - admission.max_queue_size: must be positive
//	  - maintenance.schedule: invalid cron schedule "every day": ...
//
// # Reloading
//
// There is no package-level configuration. The composition root owns the
// *Config; a Watcher reloads the file on change and hands each valid result
// to a callback, which today applies the new log level.
//
// # Example File
//
//	logging:
//	  level: info
//	  format: json
//	admission:
//	  global_max_concurrent: 20
//	  endpoint_max_concurrent: 5
//	  queue_timeout: 30s
//	  endpoints:
//	    wss://relay.damus.io:
//	      max_concurrent: 3
//	      min_interval: 250ms
//	cache:
//	  default_ttl: 5m
//	storage:
//	  backend: sqlite
//	  sqlite:
//	    path: data/relayguard.db
//	  thresholds: {low: 60, medium: 75, high: 85}
//	maintenance:
//	  schedule: "@every 5m"
package config
