// Package app is the composition root of relayguard.
//
// Build turns a validated configuration into running services: the
// key-value store, the storage quota guard in front of it, the TTL cache
// persisting through the guard, the subscription admission limiter and the
// health checks over all three. Every component reports to one metrics
// collector.
//
//	cfg, err := config.LoadConfigWithEnvOverrides(path)
//	logger, err := app.NewLogger(cfg.Logging)
//	svc, err := app.Build(ctx, cfg, logger, nil)
//	defer svc.Close()
//	_ = svc.Start(ctx)
package app
