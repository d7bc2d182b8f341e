package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"tidegate/internal/api"
	"tidegate/internal/bonus"
	"tidegate/internal/clock"
	"tidegate/internal/config"
	"tidegate/internal/entitlement"
	"tidegate/internal/gate"
	"tidegate/internal/ledger"
	"tidegate/internal/logger"
	"tidegate/internal/models"
	"tidegate/internal/observability"
	"tidegate/internal/ratelimit"
	"tidegate/internal/tide"
	"tidegate/internal/version"
)

var (
	configFile  = flag.String("config", "", "Path to configuration file")
	showVersion = flag.Bool("version", false, "Print version and exit")
)

func main() {
	flag.Parse()

	if *showVersion {
		fmt.Println(version.GetInfo().String())
		return
	}

	// Load configuration
	cfg, err := config.Load(*configFile)
	if err != nil {
		slog.Error("Failed to load configuration", "error", err)
		os.Exit(1)
	}

	ver := version.GetInfo()

	// Initialize structured logging
	log, closer, err := logger.Setup(cfg.Logging, ver)
	if err != nil {
		slog.Error("Failed to initialize logger", "error", err)
		os.Exit(1)
	}
	if closer != nil {
		defer closer.Close()
	}
	slog.SetDefault(log)

	// Initialize observability (OpenTelemetry)
	otelProvider, err := observability.Setup(cfg.Metrics, cfg.Observability, ver)
	if err != nil {
		slog.Error("Failed to initialize observability", "error", err)
		os.Exit(1)
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := otelProvider.Shutdown(shutdownCtx); err != nil {
			slog.Error("Failed to shutdown observability", "error", err)
		}
	}()

	ts := clock.System

	// Initialize the quota ledger
	quotaLedger, err := initializeLedger(cfg, ts)
	if err != nil {
		slog.Error("Failed to initialize quota ledger", "error", err)
		os.Exit(1)
	}
	defer quotaLedger.Close()

	activeLedger := quotaLedger
	if cfg.Metrics.Enabled {
		instrumented, err := observability.NewInstrumentedLedger(quotaLedger)
		if err != nil {
			slog.Error("Failed to create instrumented ledger", "error", err)
			os.Exit(1)
		}
		activeLedger = instrumented
	}

	// Initialize the bonus token store
	bonusStore, err := bonus.NewStore(cfg.BonusStore, cfg.Bonus, ts)
	if err != nil {
		slog.Error("Failed to initialize bonus store", "error", err)
		os.Exit(1)
	}
	defer bonusStore.Close()

	activeBonusStore := bonusStore
	if cfg.Metrics.Enabled {
		instrumented, err := observability.NewInstrumentedBonusStore(bonusStore)
		if err != nil {
			slog.Error("Failed to create instrumented bonus store", "error", err)
			os.Exit(1)
		}
		activeBonusStore = instrumented
	}

	// Initialize the entitlement cache
	entitlements, err := initializeEntitlements(cfg, ts, log)
	if err != nil {
		slog.Error("Failed to initialize entitlement cache", "error", err)
		os.Exit(1)
	}
	defer entitlements.Close()

	// Assemble the quota gate
	quotaGate := gate.New(activeLedger, activeBonusStore, entitlements, cfg.Quota, log)

	// Initialize HTTP handlers
	tides := tide.NewHTTPProvider(cfg.Upstream)
	handlers := api.NewHandlers(activeBonusStore, tides)

	// Setup routes with middleware
	routeOpts := []api.RouteOption{}
	if cfg.Observability.Tracing.Enabled {
		routeOpts = append(routeOpts, api.WithOTelMiddleware(cfg.Observability.ServiceName))
	}

	var rateLimitMiddleware func(http.Handler) http.Handler
	if cfg.RateLimit.Enabled {
		limiter := ratelimit.NewMemoryLimiter(
			cfg.RateLimit.RequestsPerMinute, cfg.RateLimit.BurstSize, cfg.RateLimit.CleanupInterval)
		defer limiter.Close()
		rateLimitMiddleware = ratelimit.Middleware(limiter, log)
	}

	router := api.SetupRoutes(handlers, gate.Middleware(quotaGate, log), rateLimitMiddleware, routeOpts...)

	// Start metrics server if enabled
	var metricsServer *observability.MetricsServer
	if cfg.Metrics.Enabled {
		metricsServer = observability.NewMetricsServer(cfg.Metrics.Port, cfg.Metrics.Path, otelProvider)
		go func() {
			if err := metricsServer.Start(); err != nil && err != http.ErrServerClosed {
				slog.Error("Metrics server failed", "error", err)
			}
		}()
	}

	// Create HTTP server
	server := &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	// Start server in a goroutine
	go func() {
		slog.Info("Starting server", "addr", server.Addr, "version", ver.Version)

		var err error
		if cfg.Server.TLSEnabled {
			if cfg.Server.TLSCertFile == "" || cfg.Server.TLSKeyFile == "" {
				slog.Error("TLS is enabled but cert file or key file is not specified")
				os.Exit(1)
			}
			slog.Info("Starting HTTPS server with TLS")
			err = server.ListenAndServeTLS(cfg.Server.TLSCertFile, cfg.Server.TLSKeyFile)
		} else {
			slog.Info("Starting HTTP server")
			err = server.ListenAndServe()
		}

		if err != nil && err != http.ErrServerClosed {
			slog.Error("Server failed to start", "error", err)
			os.Exit(1)
		}
	}()

	// Wait for interrupt signal to gracefully shutdown the server
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	slog.Info("Shutting down server")

	// Create a deadline to wait for shutdown
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	// Shutdown metrics server
	if metricsServer != nil {
		if err := metricsServer.Shutdown(ctx); err != nil {
			slog.Error("Metrics server forced to shutdown", "error", err)
		}
	}

	// Attempt graceful shutdown
	if err := server.Shutdown(ctx); err != nil {
		slog.Error("Server forced to shutdown", "error", err)
	}

	slog.Info("Server shutdown complete")
}

// initializeLedger creates the quota ledger backend based on configuration
func initializeLedger(cfg *models.Config, ts clock.TimeSource) (ledger.Ledger, error) {
	switch cfg.Ledger.Type {
	case "memory":
		return ledger.NewMemoryLedger(ts, time.Hour), nil
	case "redis":
		client := ledger.NewRedisClient(
			cfg.Ledger.Redis.Addr, cfg.Ledger.Redis.Password,
			cfg.Ledger.Redis.DB, cfg.Ledger.Redis.PoolSize)
		if err := ledger.Ping(context.Background(), client, 5*time.Second); err != nil {
			return nil, fmt.Errorf("redis ping: %w", err)
		}
		return ledger.NewRedisLedger(client,
			ledger.WithKeyPrefix(cfg.Ledger.KeyPrefix),
			ledger.WithTimeSource(ts)), nil
	default:
		return nil, fmt.Errorf("unsupported ledger type: %s", cfg.Ledger.Type)
	}
}

// initializeEntitlements builds the verifier and the cache fronting it based
// on configuration
func initializeEntitlements(cfg *models.Config, ts clock.TimeSource, log *slog.Logger) (*entitlement.Cache, error) {
	verifier := entitlement.NewHTTPVerifier(cfg.Entitlement, ts)

	var store entitlement.CacheStore
	switch cfg.Entitlement.CacheType {
	case "memory":
		store = entitlement.NewMemoryCacheStore(ts)
	case "redis":
		client := ledger.NewRedisClient(
			cfg.Ledger.Redis.Addr, cfg.Ledger.Redis.Password,
			cfg.Ledger.Redis.DB, cfg.Ledger.Redis.PoolSize)
		if err := ledger.Ping(context.Background(), client, 5*time.Second); err != nil {
			return nil, fmt.Errorf("redis ping: %w", err)
		}
		store = entitlement.NewRedisCacheStore(client, "tidegate:entitled:")
	default:
		return nil, fmt.Errorf("unsupported entitlement cache type: %s", cfg.Entitlement.CacheType)
	}

	return entitlement.NewCache(store, verifier, cfg.Entitlement.CacheTTL, log), nil
}
