package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/platinummonkey/tenancy/pkg/accounts"
	"github.com/platinummonkey/tenancy/pkg/async"
	"github.com/platinummonkey/tenancy/pkg/billing"
	"github.com/platinummonkey/tenancy/pkg/config"
	"github.com/platinummonkey/tenancy/pkg/observability"
	"github.com/platinummonkey/tenancy/pkg/orgs"
	"github.com/platinummonkey/tenancy/pkg/payments"
	"github.com/platinummonkey/tenancy/pkg/plans"
	"github.com/platinummonkey/tenancy/pkg/storage/postgres"
)

var (
	configPath = flag.String("config", os.Getenv("TENANCY_CONFIG"), "Path to a YAML config file (environment variables override it)")
	schedule   = flag.String("schedule", "", "Cron schedule for the sweep (overrides sweeper.schedule)")
	runOnce    = flag.Bool("run-once", false, "Run one expiry and renewal sweep and exit")
	timeout    = flag.Duration("timeout", 10*time.Minute, "Upper bound for a single sweep")
)

func main() {
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		observability.NewLogger(observability.ErrorLevel, os.Stderr).WithError(err).Error("Failed to load configuration")
		os.Exit(1)
	}
	if *schedule != "" {
		cfg.Sweeper.Schedule = *schedule
	}
	logger := observability.NewLogger(cfg.Observability.Level(), os.Stdout).WithField("component", "sweeper")

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	db, err := postgres.Open(ctx, postgres.ConnectionConfig{
		URL:         cfg.Database.URL,
		MaxConns:    cfg.Database.MaxConns,
		MinConns:    cfg.Database.MinConns,
		Timeout:     cfg.Database.Timeout,
		MaxLifetime: cfg.Database.MaxLifetime,
		MaxIdleTime: cfg.Database.MaxIdleTime,
	})
	if err != nil {
		logger.WithError(err).Error("Failed to connect to database")
		os.Exit(1)
	}
	defer db.Close()

	// The sweeper reads plans straight from the store; an L1-only cache is enough
	catalog := plans.NewEngine(plans.NewPostgresStore(db), plans.NewCache(plans.CacheConfig{
		L1Size: cfg.Cache.L1Size,
		L1TTL:  cfg.Cache.L1TTL,
	}, nil, nil, logger), logger)

	instruments, err := observability.NewLifecycleInstruments()
	if err != nil {
		logger.WithError(err).Error("Failed to create lifecycle instruments")
		os.Exit(1)
	}

	manager := billing.NewManager(
		billing.NewPostgresStore(db),
		catalog,
		orgs.NewAuthorizer(orgs.NewPostgresService(db)),
		accounts.NewPostgresService(db),
		payments.NewMockGateway(cfg.Payments.CheckoutBaseURL),
		logger,
		billing.WithInstruments(instruments),
		billing.WithPendingTimeout(cfg.Sweeper.PendingTimeout),
	)

	if *runOnce {
		if err := async.Run(ctx, logger, *timeout, "sweep", sweeper(manager, logger)); err != nil {
			os.Exit(1)
		}
		return
	}

	c := cron.New(cron.WithLogger(cron.PrintfLogger(logger)), cron.WithChain(cron.SkipIfStillRunning(cron.PrintfLogger(logger))))
	if _, err := c.AddFunc(cfg.Sweeper.Schedule, func() {
		_ = async.Run(ctx, logger, *timeout, "sweep", sweeper(manager, logger))
	}); err != nil {
		logger.WithError(err).Errorf("Failed to schedule sweep %q", cfg.Sweeper.Schedule)
		os.Exit(1)
	}

	if cfg.Sweeper.RunOnStart {
		async.SafeGo(ctx, logger, *timeout, "initial sweep", sweeper(manager, logger))
	}

	c.Start()
	logger.Infof("Sweeper started with schedule %s", cfg.Sweeper.Schedule)

	<-ctx.Done()
	logger.Info("Shutting down gracefully...")

	stopped := c.Stop()
	<-stopped.Done()

	logger.Info("Sweeper stopped")
}

// sweeper expires lapsed subscriptions and then renews the auto-renewing ones that came due
func sweeper(manager *billing.Manager, logger *observability.Logger) func(context.Context) error {
	return func(ctx context.Context) error {
		start := time.Now()

		expired, err := manager.ExpireDue(ctx)
		if err != nil {
			return err
		}
		renewed, err := manager.RenewDue(ctx)
		if err != nil {
			return err
		}

		logger.WithFields(map[string]interface{}{
			"expired":     len(expired.Expired),
			"renewed":     len(renewed.Renewed),
			"failed":      len(expired.Failed) + len(renewed.Failed),
			"duration_ms": time.Since(start).Milliseconds(),
		}).Info("Sweep completed")
		return nil
	}
}
