package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"mercator-hq/relayguard/pkg/app"
	"mercator-hq/relayguard/pkg/cli"
	"mercator-hq/relayguard/pkg/config"
	"mercator-hq/relayguard/pkg/server"
)

var runFlags struct {
	listenAddress string
	logLevel      string
	dryRun        bool
}

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Start relayguard services and the diagnostics server",
	Long: `Start the storage guard, cache, admission limiter and maintenance scheduler,
and serve metrics and health probes until interrupted.

SIGHUP reloads the configuration file. With reload.watch enabled the file is
also reloaded whenever it changes. Only the log level is applied at runtime.

Examples:
  # Start with defaults and environment overrides
  relayguard run

  # Start with a config file
  relayguard run --config /etc/relayguard/relayguard.yaml

  # Override listen address
  relayguard run --listen 0.0.0.0:9464

  # Validate config and build services without serving
  relayguard run --dry-run`,
	RunE: runServices,
}

func init() {
	rootCmd.AddCommand(runCmd)

	runCmd.Flags().StringVarP(&runFlags.listenAddress, "listen", "l", "", "override listen address")
	runCmd.Flags().StringVar(&runFlags.logLevel, "log-level", "", "override log level (debug, info, warn, error)")
	runCmd.Flags().BoolVar(&runFlags.dryRun, "dry-run", false, "build services and exit")
}

func runServices(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if runFlags.listenAddress != "" {
		cfg.Server.ListenAddress = runFlags.listenAddress
	}
	if runFlags.logLevel != "" {
		cfg.Logging.Level = runFlags.logLevel
	}
	if err := config.Validate(cfg); err != nil {
		return cli.NewConfigError(cfgFile, err)
	}

	logger, err := newLogger(cfg)
	if err != nil {
		return err
	}

	ctx, stop := cli.SetupSignalHandler(cmd.Context())
	defer stop()

	svc, err := app.Build(ctx, cfg, logger, nil)
	if err != nil {
		return cli.NewCommandError("run", err)
	}
	defer func() {
		if err := svc.Close(); err != nil {
			logger.Error("shutdown failed", "error", err)
		}
	}()

	if runFlags.dryRun {
		fmt.Fprintln(cmd.OutOrStdout(), "✓ Configuration valid, services built")
		return nil
	}

	if err := svc.Start(ctx); err != nil {
		return cli.NewCommandError("run", err)
	}

	g, gctx := errgroup.WithContext(ctx)

	if cfg.Server.Enabled {
		srv := server.NewServer(cfg.Server, server.Options{
			Checker:   svc.Health,
			Metrics:   svc.Metrics.Handler(),
			Limiter:   svc.Limiter,
			Storage:   svc.Guard,
			Logger:    logger.Component("server"),
			Version:   Version,
			Commit:    GitCommit,
			BuildTime: BuildDate,
		})
		g.Go(func() error { return srv.Start(gctx) })
	}

	if cfg.Reload.Watch && cfgFile != "" {
		watcher, err := config.NewWatcher(cfgFile, cfg.Reload.Debounce, logger.Component("config.watcher"))
		if err != nil {
			return cli.NewCommandError("run", err)
		}
		defer watcher.Stop()
		g.Go(func() error { return watcher.Watch(gctx, svc.Reload) })
	}

	g.Go(func() error {
		reloadWatch(gctx, svc)
		return nil
	})

	logger.Info("relayguard running",
		"version", Version,
		"config", cfgFile,
		"diagnostics", cfg.Server.Enabled,
		"listen_address", cfg.Server.ListenAddress,
	)

	if err := g.Wait(); err != nil {
		return cli.NewCommandError("run", err)
	}
	logger.Info("relayguard stopped")
	return nil
}

// reloadWatch reloads the configuration on SIGHUP until ctx is done.
func reloadWatch(ctx context.Context, svc *app.Services) {
	sigs, stop := cli.ReloadSignals()
	defer stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-sigs:
			cfg, err := loadConfig()
			if err != nil {
				svc.Logger.Error("config reload failed, keeping previous configuration", "error", err)
				continue
			}
			svc.Reload(cfg)
		}
	}
}
