// Package server exposes relayguard diagnostics over HTTP.
//
// # Routes
//
//   - GET /healthz - Liveness probe (always returns 200)
//   - GET /readyz - Readiness probe over the store, quota and admission checks
//   - GET /version - Build information
//   - GET /metrics - Prometheus exposition
//   - GET /stats - Admission limiter snapshot
//   - GET /storage - Storage usage report
//   - POST /storage/cleanup - Run the eviction tier matching current usage
//
// # Middleware Chain
//
// Requests pass through the following middleware (innermost to outermost):
//  1. Logging: Logs method, path, status and latency
//  2. RequestID: Propagates or generates an X-Request-ID
//  3. Recovery: Recovers from panics and returns 500
//
// The server listens only while its context is live; cancelling the context
// drains in-flight requests for up to the shutdown timeout.
package server
