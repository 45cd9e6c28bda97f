package main

import (
	"context"
	"database/sql"
	"fmt"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/robfig/cron/v3"
	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/platinummonkey/idlink/pkg/auth"
	"github.com/platinummonkey/idlink/pkg/config"
	"github.com/platinummonkey/idlink/pkg/httputil"
	"github.com/platinummonkey/idlink/pkg/middleware"
	"github.com/platinummonkey/idlink/pkg/observability"
	"github.com/platinummonkey/idlink/pkg/sso"
	"github.com/platinummonkey/idlink/pkg/storage"
)

// version is set at build time via -ldflags
var version = "dev"

func main() {
	// Startup logging before the structured logger is configured
	startupLog := logrus.New()
	startupLog.SetFormatter(&logrus.JSONFormatter{})

	cfg, err := config.LoadConfig()
	if err != nil {
		startupLog.WithError(err).Fatal("failed to load configuration")
	}

	logger := observability.NewLogger(cfg.Observability.LogLevel, os.Stdout)
	ctx := context.Background()

	// OpenTelemetry
	otelProviders, err := observability.InitOTel(ctx, observability.OTelConfig{
		Enabled:        cfg.Observability.OTelEnabled,
		Endpoint:       cfg.Observability.OTelEndpoint,
		ServiceName:    cfg.Observability.OTelServiceName,
		ServiceVersion: cfg.Observability.OTelServiceVersion,
		Insecure:       cfg.Observability.OTelInsecure,
	}, logger)
	if err != nil {
		startupLog.WithError(err).Fatal("failed to initialize OpenTelemetry")
	}

	// Account store
	store, db, err := openStore(cfg)
	if err != nil {
		startupLog.WithError(err).Fatal("failed to open account store")
	}
	startupLog.WithField("backend", cfg.Storage.Type).Info("account store ready")

	// Redis (distributed rate limiting)
	var redisClient *redis.Client
	if cfg.Redis.Enabled {
		redisClient = redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
			PoolSize: cfg.Redis.PoolSize,
		})
		if err := redisClient.Ping(ctx).Err(); err != nil {
			// Rate limiting fails open, so a Redis outage at boot is
			// not fatal
			startupLog.WithError(err).Warn("redis unreachable, distributed rate limiting degraded")
		}
	}

	// Identity providers
	catalog, err := config.LoadProviderCatalog(cfg.Identity.ProvidersFile)
	if err != nil {
		startupLog.WithError(err).Fatal("failed to load provider catalog")
	}

	registryCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	registry, err := catalog.BuildRegistry(registryCtx, cfg.Identity.PublicBaseURL)
	cancel()
	if err != nil {
		startupLog.WithError(err).Fatal("failed to build provider registry")
	}
	if registry.Len() == 0 {
		startupLog.Warn("no identity providers configured, all logins will fail")
	}

	// Metrics
	promRegistry := prometheus.NewRegistry()
	metrics := observability.NewMetrics(promRegistry)

	// Login flow
	sessions := sso.NewSessionStore()
	registrar := sso.NewRegistrar(store, store, cfg.Identity.ServerDomain, logger, metrics)
	issuer := auth.NewTokenIssuer(logger, metrics)
	auditor := auth.NewAuditRecorder(ctx, store, logger)

	flow := sso.NewFlow(sso.FlowConfig{
		Registry:  registry,
		Links:     store,
		Registrar: registrar,
		Sessions:  sessions,
		Completer: issuer,
		Domain:    cfg.Identity.ServerDomain,
		Logger:    logger,
		Metrics:   metrics,
		Auditor:   auditor,
	})

	// Main router
	router := mux.NewRouter()
	sso.NewHandlers(flow, logger).RegisterRoutes(router)
	router.HandleFunc("/login/token", issuer.HandleExchange).Methods(http.MethodPost)

	handler := httputil.Chain(
		httputil.RequestIDMiddleware,
		httputil.RecoveryMiddleware(logger),
		httputil.LoggingMiddleware(logger),
		observability.HTTPMetricsMiddleware(metrics),
		rateLimitMiddleware(redisClient, logger),
	)(router)
	if cfg.Observability.OTelEnabled {
		handler = otelhttp.NewHandler(handler, "idlink")
	}

	server := &http.Server{
		Addr:         cfg.Server.Host + ":" + cfg.Server.Port,
		Handler:      handler,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	// Health and metrics on a separate port for probes
	healthRouter := mux.NewRouter()
	checker := observability.NewHealthChecker(store, db, redisClient, version)
	observability.RegisterHealthRoutes(healthRouter, checker)
	if cfg.Observability.MetricsEnabled {
		observability.RegisterMetricsEndpoint(healthRouter, promRegistry)
	}
	healthServer := &http.Server{
		Addr:    cfg.Server.Host + ":" + cfg.Server.HealthPort,
		Handler: healthRouter,
	}

	// Periodic gauge refresh
	scheduler := cron.New()
	_, err = scheduler.AddFunc("@every 30s", func() {
		refreshGauges(ctx, metrics, store, db, redisClient, sessions, issuer, logger)
	})
	if err != nil {
		startupLog.WithError(err).Fatal("failed to schedule gauge refresh")
	}
	scheduler.Start()

	go func() {
		logger.Infof("health server listening on %s", healthServer.Addr)
		if err := healthServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			startupLog.WithError(err).Fatal("health server failed")
		}
	}()

	go func() {
		logger.Infof("idlink %s listening on %s (domain %s, %d providers)",
			version, server.Addr, cfg.Identity.ServerDomain, registry.Len())
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			startupLog.WithError(err).Fatal("server failed")
		}
	}()

	// Graceful shutdown
	shutdown := observability.NewShutdownManager(logger, server, cfg.Server.ShutdownTimeout)
	shutdown.RegisterShutdownFunc(func(ctx context.Context) error {
		return healthServer.Shutdown(ctx)
	})
	shutdown.RegisterShutdownFunc(func(ctx context.Context) error {
		cronCtx := scheduler.Stop()
		select {
		case <-cronCtx.Done():
		case <-ctx.Done():
		}
		return nil
	})
	shutdown.RegisterShutdownFunc(func(ctx context.Context) error {
		return auditor.Close(10 * time.Second)
	})
	shutdown.RegisterShutdownFunc(func(ctx context.Context) error {
		return store.Close()
	})
	if redisClient != nil {
		shutdown.RegisterShutdownFunc(func(ctx context.Context) error {
			return redisClient.Close()
		})
	}
	if otelProviders != nil {
		shutdown.RegisterShutdownFunc(func(ctx context.Context) error {
			return observability.ShutdownOTel(ctx, otelProviders, logger)
		})
	}

	if err := shutdown.WaitForShutdown(); err != nil {
		startupLog.WithError(err).Error("shutdown finished with errors")
		os.Exit(1)
	}
}

// openStore builds the configured store. The returned *sql.DB is nil for
// the in-memory backend and feeds connection pool gauges otherwise.
func openStore(cfg *config.Config) (storage.Store, *sql.DB, error) {
	domain := cfg.Identity.ServerDomain

	switch cfg.Storage.Type {
	case "memory":
		return storage.NewMemoryStore(domain), nil, nil
	case "sqlite":
		store, err := storage.NewSQLiteStore(cfg.Storage.SQLitePath, domain)
		if err != nil {
			return nil, nil, err
		}
		return store, store.DB(), nil
	case "postgres":
		store, err := storage.NewPostgresStore(cfg.Storage.PostgresConfig(), domain)
		if err != nil {
			return nil, nil, err
		}
		return store, store.DB(), nil
	default:
		return nil, nil, fmt.Errorf("unknown storage type %q", cfg.Storage.Type)
	}
}

// rateLimitMiddleware wires per-IP rate limiting, Redis-backed when a
// client is configured. The username picker endpoints get the tighter
// budget.
func rateLimitMiddleware(redisClient *redis.Client, logger *observability.Logger) func(http.Handler) http.Handler {
	var login, username func(http.Handler) http.Handler

	if redisClient != nil {
		login = middleware.NewDistributedRateLimitMiddleware(
			redisClient, middleware.LoginRateLimitConfig(), "idlink:ratelimit:login", logger).Handler
		username = middleware.NewDistributedRateLimitMiddleware(
			redisClient, middleware.UsernameRateLimitConfig(), "idlink:ratelimit:username", logger).Handler
	} else {
		login = middleware.NewRateLimitMiddleware(middleware.LoginRateLimitConfig()).Handler
		username = middleware.NewRateLimitMiddleware(middleware.UsernameRateLimitConfig()).Handler
	}

	return func(next http.Handler) http.Handler {
		loginLimited := login(next)
		usernameLimited := username(next)

		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if strings.HasPrefix(r.URL.Path, "/sso/username") {
				usernameLimited.ServeHTTP(w, r)
				return
			}
			loginLimited.ServeHTTP(w, r)
		})
	}
}

// refreshGauges copies current state onto the business gauges.
func refreshGauges(ctx context.Context, metrics *observability.Metrics, store storage.Store, db *sql.DB, redisClient *redis.Client, sessions *sso.SessionStore, issuer *auth.TokenIssuer, logger *observability.Logger) {
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	metrics.PickerSessionsPending.Set(float64(sessions.Pending()))
	metrics.ActiveLoginTokens.Set(float64(issuer.Pending()))

	if users, err := store.CountAccounts(ctx); err != nil {
		logger.WithError(err).Warn("failed to count accounts")
	} else {
		metrics.UsersTotal.Set(float64(users))
	}

	if links, err := store.CountExternalIDs(ctx); err != nil {
		logger.WithError(err).Warn("failed to count identity links")
	} else {
		metrics.LinkedIdentities.Set(float64(links))
	}

	if db != nil {
		metrics.ObserveDBStats(db.Stats())
	}
	if redisClient != nil {
		metrics.RedisConnectionsActive.Set(float64(redisClient.PoolStats().TotalConns))
	}
}
