// Relayguard protects a client of public Nostr relays from overloading them
// and from exhausting its own local storage.
//
// It combines:
//   - Subscription admission with global and per-relay concurrency limits
//   - A TTL cache persisted through a quota-guarded key-value store
//   - Tiered storage cleanup on a cron schedule
//   - Prometheus metrics and health probes over HTTP
//
// Usage:
//
//	# Start the services and the diagnostics server
//	relayguard run --config relayguard.yaml
//
//	# Drive the limiter with synthetic subscriptions
//	relayguard simulate --requests 500 --endpoints wss://a.example,wss://b.example
//
//	# Inspect and clean up storage
//	relayguard storage metrics
//	relayguard storage cleanup
//
//	# Check a configuration file
//	relayguard validate --config relayguard.yaml
package main

import (
	"context"
	"fmt"
	"os"

	"mercator-hq/relayguard/pkg/cli"
)

func main() {
	if err := rootCmd.ExecuteContext(context.Background()); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(cli.ExitCode(err))
	}
}
