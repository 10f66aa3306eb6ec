package main

import (
	"context"
	"database/sql"
	"errors"
	"flag"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/prometheus/client_golang/prometheus"
	"golang.org/x/sync/errgroup"

	"github.com/platinummonkey/tenancy/pkg/accounts"
	"github.com/platinummonkey/tenancy/pkg/api"
	"github.com/platinummonkey/tenancy/pkg/auth"
	"github.com/platinummonkey/tenancy/pkg/billing"
	"github.com/platinummonkey/tenancy/pkg/config"
	"github.com/platinummonkey/tenancy/pkg/middleware"
	"github.com/platinummonkey/tenancy/pkg/migrations"
	"github.com/platinummonkey/tenancy/pkg/observability"
	"github.com/platinummonkey/tenancy/pkg/orgs"
	"github.com/platinummonkey/tenancy/pkg/payments"
	"github.com/platinummonkey/tenancy/pkg/plans"
	"github.com/platinummonkey/tenancy/pkg/storage/postgres"
)

func main() {
	configPath := flag.String("config", os.Getenv("TENANCY_CONFIG"), "Path to a YAML config file (environment variables override it)")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		observability.NewLogger(observability.ErrorLevel, os.Stderr).WithError(err).Error("Failed to load configuration")
		os.Exit(1)
	}

	logger := observability.NewLogger(cfg.Observability.Level(), os.Stdout)
	if err := run(cfg, *configPath, logger); err != nil {
		logger.WithError(err).Error("tenancy server exited")
		os.Exit(1)
	}
}

func run(cfg *config.Config, configPath string, logger *observability.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	providers, err := observability.InitOTel(ctx, cfg.Observability.OTel(), logger)
	if err != nil {
		return err
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer cancel()
		_ = observability.ShutdownOTel(shutdownCtx, providers, logger)
	}()

	db, err := postgres.Open(ctx, postgres.ConnectionConfig{
		URL:         cfg.Database.URL,
		MaxConns:    cfg.Database.MaxConns,
		MinConns:    cfg.Database.MinConns,
		Timeout:     cfg.Database.Timeout,
		MaxLifetime: cfg.Database.MaxLifetime,
		MaxIdleTime: cfg.Database.MaxIdleTime,
	})
	if err != nil {
		return err
	}
	defer db.Close()
	logger.Info("Connected to PostgreSQL")

	if cfg.Database.MigrateOnStart {
		if err := migrations.Apply(ctx, db, logger); err != nil {
			return err
		}
	}

	var redisClient *redis.Client
	if cfg.Redis.URL != "" {
		redisClient, err = postgres.NewRedisClient(ctx, postgres.RedisConfig{
			URL:        cfg.Redis.URL,
			Password:   cfg.Redis.Password,
			DB:         cfg.Redis.DB,
			MaxRetries: cfg.Redis.MaxRetries,
			PoolSize:   cfg.Redis.PoolSize,
		})
		if err != nil {
			return err
		}
		defer redisClient.Close()
		logger.Info("Connected to Redis")
	} else {
		logger.Warn("Redis is not configured; plan cache is per instance and rate limits are local")
	}

	var metrics *observability.Metrics
	if cfg.Observability.MetricsEnabled {
		metrics = observability.NewMetrics(prometheus.DefaultRegisterer)
	}

	manager, catalog, err := buildServices(db, redisClient, cfg, metrics, logger)
	if err != nil {
		return err
	}

	verifier, err := auth.NewOIDCVerifier(ctx, auth.OIDCConfig{
		IssuerURL:   cfg.Auth.IssuerURL,
		ClientID:    cfg.Auth.ClientID,
		UserIDClaim: cfg.Auth.UserIDClaim,
	})
	if err != nil {
		return err
	}

	var rateLimit func(http.Handler) http.Handler
	if redisClient != nil {
		rateLimit = middleware.NewDistributedRateLimitMiddleware(redisClient, logger, metrics).Handler
	} else {
		rateLimit = middleware.NewRateLimitMiddleware(metrics).Handler
	}

	server := api.NewServer(api.Dependencies{
		Plans:         catalog,
		Subscriptions: manager,
		Addresses:     accounts.NewPostgresService(db),
		Authenticate:  middleware.NewAuthMiddleware(verifier, logger, false).Handler,
		RateLimit:     rateLimit,
		Admin:         middleware.RequireAdmin(cfg.Auth.AdminUserIDs),
		WebhookSecret: cfg.Payments.WebhookSecret,
		MaxBodyBytes:  cfg.Server.MaxBodyBytes,
		Logger:        logger,
		Metrics:       metrics,
	})

	apiServer := &http.Server{
		Addr:         net.JoinHostPort(cfg.Server.Host, cfg.Server.Port),
		Handler:      server,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	// Probes and metrics stay off the authenticated API port
	healthMux := http.NewServeMux()
	observability.RegisterHealthRoutes(healthMux, observability.NewHealthChecker(db, redisClient))
	if metrics != nil {
		observability.RegisterMetricsEndpoint(healthMux, prometheus.DefaultGatherer)
	}
	healthServer := &http.Server{
		Addr:              net.JoinHostPort(cfg.Server.Host, cfg.Server.HealthPort),
		Handler:           healthMux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.Infof("Starting tenancy API on %s", apiServer.Addr)
		return serve(apiServer)
	})
	g.Go(func() error {
		logger.Infof("Starting health server on %s", healthServer.Addr)
		return serve(healthServer)
	})
	if configPath != "" {
		g.Go(func() error {
			return config.Watch(gctx, configPath, logger, func(updated *config.Config) {
				logger.SetLevel(updated.Observability.Level())
				logger.Infof("Log level set to %s", updated.Observability.Level())
			})
		})
	}
	g.Go(func() error {
		<-gctx.Done()
		logger.Info("Shutting down gracefully...")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer cancel()
		return errors.Join(apiServer.Shutdown(shutdownCtx), healthServer.Shutdown(shutdownCtx))
	})

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	logger.Info("Server stopped")
	return nil
}

func serve(server *http.Server) error {
	if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func buildServices(db *sql.DB, redisClient *redis.Client, cfg *config.Config, metrics *observability.Metrics, logger *observability.Logger) (*billing.Manager, *plans.Engine, error) {
	cache := plans.NewCache(plans.CacheConfig{
		L1Size: cfg.Cache.L1Size,
		L1TTL:  cfg.Cache.L1TTL,
		L2TTL:  cfg.Cache.L2TTL,
		Prefix: "tenancy:plan:",
	}, redisClient, metrics, logger)
	catalog := plans.NewEngine(plans.NewPostgresStore(db), cache, logger)

	instruments, err := observability.NewLifecycleInstruments()
	if err != nil {
		return nil, nil, err
	}

	manager := billing.NewManager(
		billing.NewPostgresStore(db),
		catalog,
		orgs.NewAuthorizer(orgs.NewPostgresService(db)),
		accounts.NewPostgresService(db),
		payments.NewMockGateway(cfg.Payments.CheckoutBaseURL),
		logger,
		billing.WithMetrics(metrics),
		billing.WithInstruments(instruments),
		billing.WithPendingTimeout(cfg.Sweeper.PendingTimeout),
	)
	return manager, catalog, nil
}
