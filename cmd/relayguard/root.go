package main

import (
	"github.com/spf13/cobra"

	"mercator-hq/relayguard/pkg/app"
	"mercator-hq/relayguard/pkg/cli"
	"mercator-hq/relayguard/pkg/config"
	"mercator-hq/relayguard/pkg/telemetry/logging"
)

var (
	// Global flags
	cfgFile string
	verbose bool
)

var rootCmd = &cobra.Command{
	Use:   "relayguard",
	Short: "Relayguard - relay subscription limiter and storage guard",
	Long: `Relayguard keeps a Nostr client within the limits of the relays it talks to
and of the storage it runs on.

It provides:
  - Global and per-relay subscription admission with priority queues
  - Batched profile metadata requests
  - A TTL cache with best-effort persistence
  - Storage quota estimation, guarded writes and tiered cleanup
  - Prometheus metrics, health probes and structured logging

Configuration is read from the file given with --config and from
RELAYGUARD_* environment variables, which take precedence.`,
	Version:       Version,
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&cfgFile, "config", "c", "", "config file path (defaults and environment only when empty)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "verbose output (debug logging)")
}

// loadConfig loads the file named by --config with environment overrides
// and applies --verbose.
func loadConfig() (*config.Config, error) {
	cfg, err := config.LoadConfigWithEnvOverrides(cfgFile)
	if err != nil {
		return nil, cli.NewConfigError(cfgFile, err)
	}
	if verbose {
		cfg.Logging.Level = "debug"
	}
	return cfg, nil
}

// newLogger builds the process logger and installs it as the slog default.
func newLogger(cfg *config.Config) (*logging.Logger, error) {
	logger, err := app.NewLogger(cfg.Logging)
	if err != nil {
		return nil, cli.NewConfigError(cfgFile, err)
	}
	app.SetDefault(logger)
	return logger, nil
}
