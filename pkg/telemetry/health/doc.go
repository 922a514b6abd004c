// Package health provides liveness and readiness endpoints for relayguard.
//
// A Checker runs named CheckFunc values concurrently, each bounded by a
// per-check timeout. Every check has a Severity: a failing Critical check
// makes /readyz answer 503 "unavailable", while failing Advisory checks only
// report "degraded" with a 200.
//
//	checker := health.New(2 * time.Second)
//	checker.RegisterCheck("store", health.Critical, health.StoreCheck(store))
//	checker.RegisterCheck("storage_quota", health.Advisory, health.QuotaCheck(guard))
//	checker.RegisterCheck("admission", health.Advisory, health.AdmissionCheck(limiter))
//	health.Register(mux, checker, version, commit, buildTime)
//
// QuotaCheck reports unhealthy at the guard's high threshold and
// AdmissionCheck while any endpoint queue is full.
package health
