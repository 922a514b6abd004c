package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"math/rand/v2"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"mercator-hq/relayguard/pkg/app"
	"mercator-hq/relayguard/pkg/cli"
	"mercator-hq/relayguard/pkg/config"
	"mercator-hq/relayguard/pkg/limits/admission"
	"mercator-hq/relayguard/pkg/relay"
	"mercator-hq/relayguard/pkg/storage/quota"
)

var simulateFlags struct {
	requests    int
	profiles    int
	endpoints   []string
	hold        time.Duration
	failureRate float64
	memory      bool
	format      string
	progress    bool
}

var simulateCmd = &cobra.Command{
	Use:   "simulate",
	Short: "Drive the limiter with synthetic subscriptions",
	Long: `Submit synthetic subscription requests and profile batches through the
configured limiter, cache and storage guard, then print a summary.

The synthetic transport assigns each subscription a random handle, holds it
open for --hold and then reports its end. A fraction of opens fail when
--failure-rate is set.

Examples:
  # 200 subscriptions spread over the default endpoints
  relayguard simulate --requests 200

  # Profile batches only, against two relays
  relayguard simulate --requests 0 --profiles 95 --endpoints wss://a.example,wss://b.example

  # JSON summary with 10% transport failures
  relayguard simulate --failure-rate 0.1 --format json`,
	RunE: runSimulate,
}

func init() {
	rootCmd.AddCommand(simulateCmd)

	simulateCmd.Flags().IntVar(&simulateFlags.requests, "requests", 100, "number of subscription requests")
	simulateCmd.Flags().IntVar(&simulateFlags.profiles, "profiles", 40, "number of authors to fetch profiles for")
	simulateCmd.Flags().StringSliceVar(&simulateFlags.endpoints, "endpoints", []string{
		"wss://relay.damus.io",
		"wss://nos.lol",
		"wss://relay.nostr.band",
	}, "relay endpoints")
	simulateCmd.Flags().DurationVar(&simulateFlags.hold, "hold", 50*time.Millisecond, "how long each synthetic subscription stays open")
	simulateCmd.Flags().Float64Var(&simulateFlags.failureRate, "failure-rate", 0, "fraction of subscription opens that fail")
	simulateCmd.Flags().BoolVar(&simulateFlags.memory, "memory", true, "use an in-memory store instead of the configured backend")
	simulateCmd.Flags().StringVar(&simulateFlags.format, "format", "text", "output format: text, json")
	simulateCmd.Flags().BoolVar(&simulateFlags.progress, "progress", true, "show a progress bar on stderr")
}

func runSimulate(cmd *cobra.Command, args []string) error {
	format, err := cli.ParseOutputFormat(simulateFlags.format)
	if err != nil {
		return err
	}

	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if simulateFlags.memory {
		cfg.Storage.Backend = config.BackendMemory
		if cfg.Storage.Probe == config.ProbeDisk {
			cfg.Storage.Probe = config.ProbeStatic
		}
	}
	cfg.Maintenance.Enabled = false

	logger, err := newLogger(cfg)
	if err != nil {
		return err
	}

	ctx, stop := cli.SetupSignalHandler(cmd.Context())
	defer stop()

	svc, err := app.Build(ctx, cfg, logger, nil)
	if err != nil {
		return cli.NewCommandError("simulate", err)
	}
	defer svc.Close()

	var progressOut io.Writer = io.Discard
	if simulateFlags.progress {
		progressOut = cmd.ErrOrStderr()
	}

	report, err := simulate(ctx, svc, simulation{
		requests:    simulateFlags.requests,
		profiles:    simulateFlags.profiles,
		endpoints:   simulateFlags.endpoints,
		hold:        simulateFlags.hold,
		failureRate: simulateFlags.failureRate,
	}, progressOut)
	if err != nil {
		return cli.NewCommandError("simulate", err)
	}

	return cli.Write(cmd.OutOrStdout(), format, report)
}

// simulation parameterizes one synthetic run.
type simulation struct {
	requests    int
	profiles    int
	endpoints   []string
	hold        time.Duration
	failureRate float64
}

// simulationReport summarizes a run.
type simulationReport struct {
	Requests       int             `json:"requests"`
	Admitted       int             `json:"admitted"`
	Failed         map[string]int  `json:"failed"`
	ProfileBatches int             `json:"profile_batches"`
	ProfilesCached int             `json:"profiles_cached"`
	CacheEntries   int             `json:"cache_entries"`
	Elapsed        string          `json:"elapsed"`
	Limiter        admission.Stats `json:"limiter"`
	Storage        quota.Metrics   `json:"storage"`
}

// TextFields implements cli.Texter.
func (r simulationReport) TextFields() []cli.Field {
	reasons := make([]string, 0, len(r.Failed))
	for reason, n := range r.Failed {
		reasons = append(reasons, fmt.Sprintf("%s=%d", reason, n))
	}
	slices.Sort(reasons)
	failed := "none"
	if len(reasons) > 0 {
		failed = strings.Join(reasons, " ")
	}

	return []cli.Field{
		{Name: "Requests", Value: humanize.Comma(int64(r.Requests))},
		{Name: "Admitted", Value: humanize.Comma(int64(r.Admitted))},
		{Name: "Failed", Value: failed},
		{Name: "Profile batches", Value: r.ProfileBatches},
		{Name: "Profiles cached", Value: r.ProfilesCached},
		{Name: "Cache entries", Value: r.CacheEntries},
		{Name: "Active subscriptions", Value: fmt.Sprintf("%d/%d", r.Limiter.Active, r.Limiter.Max)},
		{Name: "Queued", Value: r.Limiter.Queued},
		{Name: "Storage", Value: fmt.Sprintf("%s of %s (%.1f%%)",
			humanize.IBytes(uint64(r.Storage.Usage)), humanize.IBytes(uint64(r.Storage.Limit)), r.Storage.Percentage)},
		{Name: "Elapsed", Value: r.Elapsed},
	}
}

var errSyntheticFailure = errors.New("synthetic transport failure")

// syntheticTransport opens nothing: it assigns a random handle, answers
// metadata filters with one document per author and reports the end of the
// subscription after hold.
func syntheticTransport(limiter *admission.Limiter, hold time.Duration, failureRate float64) admission.Transport {
	return func(filters []relay.Filter, onEvent admission.EventHandler, endpoints []string) (string, error) {
		if failureRate > 0 && rand.Float64() < failureRate {
			return "", errSyntheticFailure
		}

		handle := uuid.NewString()
		if onEvent != nil {
			for _, f := range filters {
				if !slices.Contains(f.Kinds, relay.KindMetadata) {
					continue
				}
				for _, author := range f.Authors {
					onEvent(relay.Event{
						ID:        uuid.NewString(),
						PubKey:    author,
						CreatedAt: time.Now().Unix(),
						Kind:      relay.KindMetadata,
						Content:   fmt.Sprintf(`{"name":"user-%s"}`, author[:min(8, len(author))]),
					})
				}
			}
		}

		ended := slices.Clone(endpoints)
		time.AfterFunc(hold, func() { limiter.NotifySubscriptionEnd(ended) })
		return handle, nil
	}
}

// reasonOf maps a request error to its rejection reason.
func reasonOf(err error) string {
	switch {
	case errors.Is(err, admission.ErrQueueFull):
		return admission.ReasonQueueFull
	case errors.Is(err, admission.ErrAdmissionTimeout):
		return admission.ReasonTimeout
	case errors.Is(err, admission.ErrSubscriptionFailed):
		return admission.ReasonTransportError
	case errors.Is(err, admission.ErrLimiterClosed):
		return admission.ReasonClosed
	case errors.Is(err, admission.ErrLimiterReset):
		return admission.ReasonReset
	default:
		return admission.ReasonInvalid
	}
}

func simulate(ctx context.Context, svc *app.Services, sim simulation, progressOut io.Writer) (simulationReport, error) {
	if len(sim.endpoints) == 0 {
		return simulationReport{}, fmt.Errorf("at least one endpoint is required")
	}

	start := time.Now()
	transport := syntheticTransport(svc.Limiter, sim.hold, sim.failureRate)
	priorities := []admission.Priority{admission.PriorityNormal, admission.PriorityLow, admission.PriorityNormal, admission.PriorityHigh}

	pendings := make([]*admission.Pending, 0, sim.requests)
	for i := 0; i < sim.requests; i++ {
		endpoints := []string{sim.endpoints[i%len(sim.endpoints)]}
		if i%3 == 0 && len(sim.endpoints) > 1 {
			endpoints = append(endpoints, sim.endpoints[(i+1)%len(sim.endpoints)])
		}
		pendings = append(pendings, svc.Limiter.Submit(admission.Request{
			Filters:   []relay.Filter{{Kinds: []int{relay.KindTextNote}, Limit: 50}},
			Endpoints: endpoints,
			Transport: transport,
			Priority:  priorities[i%len(priorities)],
		}))
	}

	var mu sync.Mutex
	cached := 0
	authors := make([]string, sim.profiles)
	for i := range authors {
		authors[i] = fmt.Sprintf("%064x", i+1)
	}
	batches := svc.Limiter.BatchProfileRequests(authors, func(pubkey string, meta relay.Metadata) {
		svc.Cache.SetPersistent("profile:"+pubkey, meta.Name(), 0)
		mu.Lock()
		cached++
		mu.Unlock()
	}, sim.endpoints, transport)

	all := append(slices.Clone(pendings), batches...)
	progress := cli.NewProgress(progressOut, "subscriptions", int64(len(all)))

	report := simulationReport{
		Requests:       sim.requests,
		Failed:         make(map[string]int),
		ProfileBatches: len(batches),
	}
	for _, p := range all {
		_, err := p.Wait(ctx)
		if ctx.Err() != nil {
			return simulationReport{}, ctx.Err()
		}
		progress.Done(err != nil)
		if err != nil {
			report.Failed[reasonOf(err)]++
			continue
		}
		report.Admitted++
	}
	progress.Finish()

	if err := svc.Cache.Persist(ctx); err != nil {
		svc.Logger.Warn("cache persistence failed", "error", err)
	}
	storage, err := svc.Guard.Report(ctx)
	if err != nil {
		return simulationReport{}, err
	}

	mu.Lock()
	report.ProfilesCached = cached
	mu.Unlock()
	report.CacheEntries = svc.Cache.Len()
	report.Limiter = svc.Limiter.Stats()
	report.Storage = storage
	report.Elapsed = time.Since(start).Round(time.Millisecond).String()

	return report, nil
}
