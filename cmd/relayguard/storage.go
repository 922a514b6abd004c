package main

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"mercator-hq/relayguard/pkg/app"
	"mercator-hq/relayguard/pkg/cli"
	"mercator-hq/relayguard/pkg/config"
	"mercator-hq/relayguard/pkg/storage/quota"
)

var storageFlags struct {
	format string
}

var storageCmd = &cobra.Command{
	Use:   "storage",
	Short: "Inspect and maintain the local store",
	Long: `Report storage usage against the estimated quota and run tiered cleanup.

Examples:
  # Show usage and key classification
  relayguard storage metrics

  # Run the cleanup tier matching current usage
  relayguard storage cleanup --format json`,
}

var storageMetricsCmd = &cobra.Command{
	Use:   "metrics",
	Short: "Show storage usage",
	RunE: func(cmd *cobra.Command, args []string) error {
		return withGuard(cmd, "storage metrics", func(ctx context.Context, guard *quota.Guard) (storageReport, error) {
			m, err := guard.LogStorageMetrics(ctx)
			return storageReport{Metrics: m, Thresholds: guard.Thresholds()}, err
		})
	},
}

var storageCleanupCmd = &cobra.Command{
	Use:   "cleanup",
	Short: "Free space according to the current usage tier",
	RunE: func(cmd *cobra.Command, args []string) error {
		return withGuard(cmd, "storage cleanup", func(ctx context.Context, guard *quota.Guard) (storageReport, error) {
			tier, err := guard.ClearSpaceIfNeeded(ctx)
			if err != nil {
				return storageReport{}, err
			}
			m, err := guard.Report(ctx)
			return storageReport{Metrics: m, Thresholds: guard.Thresholds(), Tier: tier.String()}, err
		})
	},
}

func init() {
	rootCmd.AddCommand(storageCmd)
	storageCmd.AddCommand(storageMetricsCmd)
	storageCmd.AddCommand(storageCleanupCmd)

	storageCmd.PersistentFlags().StringVar(&storageFlags.format, "format", "text", "output format: text, json")
}

// storageReport is printed by the storage subcommands.
type storageReport struct {
	quota.Metrics
	Thresholds quota.Thresholds `json:"thresholds"`
	Tier       string           `json:"tier,omitempty"`
}

// TextFields implements cli.Texter.
func (r storageReport) TextFields() []cli.Field {
	fields := []cli.Field{
		{Name: "Usage", Value: fmt.Sprintf("%s (%d bytes)", humanize.IBytes(uint64(r.Usage)), r.Usage)},
		{Name: "Limit", Value: humanize.IBytes(uint64(r.Limit))},
		{Name: "Item limit", Value: humanize.IBytes(uint64(r.ItemLimit))},
		{Name: "Used", Value: fmt.Sprintf("%.1f%%", r.Percentage)},
		{Name: "Thresholds", Value: fmt.Sprintf("%.0f/%.0f/%.0f", r.Thresholds.Low, r.Thresholds.Medium, r.Thresholds.High)},
		{Name: "Keys", Value: humanize.Comma(int64(r.TotalKeys))},
		{Name: "Temporary", Value: r.TemporaryKeys},
		{Name: "Cache", Value: r.CacheKeys},
		{Name: "Priority high/medium/low", Value: fmt.Sprintf("%d/%d/%d", r.HighPriority, r.MediumPriority, r.LowPriority)},
	}
	if r.Tier != "" {
		fields = append(fields, cli.Field{Name: "Cleanup tier", Value: r.Tier})
	}
	return fields
}

// withGuard opens the configured store behind a quota guard, runs fn and
// prints its report.
func withGuard(cmd *cobra.Command, name string, fn func(ctx context.Context, guard *quota.Guard) (storageReport, error)) error {
	format, err := cli.ParseOutputFormat(storageFlags.format)
	if err != nil {
		return err
	}
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	logger, err := newLogger(cfg)
	if err != nil {
		return err
	}

	report, err := runGuard(cmd.Context(), cfg, logger.Component("storage"), fn)
	if err != nil {
		return cli.NewCommandError(name, err)
	}
	return cli.Write(cmd.OutOrStdout(), format, report)
}

func runGuard(ctx context.Context, cfg *config.Config, logger *slog.Logger, fn func(ctx context.Context, guard *quota.Guard) (storageReport, error)) (storageReport, error) {
	store, err := app.OpenStore(cfg.Storage)
	if err != nil {
		return storageReport{}, err
	}
	defer store.Close()

	opts := []quota.Option{
		quota.WithProbe(app.NewProbe(cfg.Storage)),
		quota.WithThresholds(cfg.Storage.Thresholds),
		quota.WithLogger(logger),
	}
	if cfg.Storage.Markers != nil {
		opts = append(opts, quota.WithMarkers(*cfg.Storage.Markers))
	}
	guard, err := quota.New(ctx, store, opts...)
	if err != nil {
		return storageReport{}, err
	}
	defer guard.Wait()

	return fn(ctx, guard)
}
