// Package main is the entry point for the boardwalk server.
// It wires all dependencies together and starts the HTTP server.
package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/bucketworks/boardwalk/internal/backfill"
	"github.com/bucketworks/boardwalk/internal/collab"
	"github.com/bucketworks/boardwalk/internal/config"
	"github.com/bucketworks/boardwalk/internal/descriptor"
	"github.com/bucketworks/boardwalk/internal/draft"
	"github.com/bucketworks/boardwalk/internal/member"
	"github.com/bucketworks/boardwalk/internal/observability"
	"github.com/bucketworks/boardwalk/internal/transition"
	"github.com/bucketworks/boardwalk/internal/transport"
	"github.com/bucketworks/boardwalk/internal/upstream"
	"github.com/bucketworks/boardwalk/internal/viewstate"
)

// Build-time variables set via ldflags:
//
//	go build -ldflags "-X main.version=1.0.0 -X main.commit=abc1234"
var (
	version = "dev"
	commit  = "unknown"
)

func main() {
	os.Exit(run())
}

func run() int {
	// Step 1: Parse CLI flags.
	configPath := flag.String("config", "config.yaml", "path to configuration file")
	flag.Parse()

	// Step 2: Load configuration.
	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "configuration error: %v\n", err)
		return 1
	}

	// Step 3: Initialize telemetry (logger, tracer, metrics).
	observability.Version = version
	observability.Commit = commit

	logger, err := observability.NewLogger(cfg.Observability)
	if err != nil {
		fmt.Fprintf(os.Stderr, "logger error: %v\n", err)
		return 1
	}
	defer logger.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGTERM, syscall.SIGINT)
	defer stop()

	tracingShutdown, err := observability.InitTracing(ctx, cfg.Observability.Tracing, "boardwalk", version)
	if err != nil {
		logger.Error("tracing initialization failed", zap.Error(err))
		return 1
	}

	metrics := observability.InitMetrics(prometheus.DefaultRegisterer)

	// Step 4: Connect the action store client.
	store := upstream.NewClient(cfg.Upstream, logger, metrics)

	// Step 5: Build the domain services.
	descriptors := descriptor.NewResolver(store, cfg.Descriptor.CacheTTL, logger, metrics)
	machine := transition.NewMachine(store, logger, metrics)
	backfills := backfill.NewCoordinator(store, logger, metrics)
	members := member.NewDirectory(store, cfg.Members.CacheTTL, logger, metrics)

	// Step 6: Initialize the view state store.
	viewStore, viewCloser, err := buildViewStateStore(ctx, cfg.ViewState, logger)
	if err != nil {
		logger.Error("view state store initialization failed", zap.Error(err))
		return 1
	}
	views := viewstate.NewResolver(viewStore, logger, metrics)

	// Step 7: Initialize the draft store.
	draftStore, draftCloser, err := buildDraftStore(ctx, cfg.Drafts, logger)
	if err != nil {
		logger.Error("draft store initialization failed", zap.Error(err))
		return 1
	}

	// Step 8: Build the orchestrator.
	orch := collab.NewOrchestrator(collab.Deps{
		Store:        store,
		Descriptors:  descriptors,
		Machine:      machine,
		Backfill:     backfills,
		Members:      members,
		Views:        views,
		Drafts:       draftStore,
		AutoBackfill: cfg.Backfill.Auto,
		Logger:       logger,
		Metrics:      metrics,
	})

	// Step 9: Build the HTTP router.
	jwks := transport.NewJWKSClient(cfg.Identity.JWKSURL, cfg.Identity.JWKSCacheTTL, logger)

	readiness := observability.ReadinessChecks{Upstream: store}
	if hc, ok := viewStore.(observability.HealthChecker); ok {
		readiness.ViewStateStore = hc
	}
	if hc, ok := draftStore.(observability.HealthChecker); ok {
		readiness.DraftStore = hc
	}

	router := transport.NewRouter(transport.Dependencies{
		Config:       cfg,
		Orchestrator: orch,
		Authenticate: transport.JWTAuthenticator(cfg.Identity, jwks),
		Readiness:    readiness,
		Logger:       logger,
		Metrics:      metrics,
	})

	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	// Step 10: Start the HTTP server.
	logger.Info("server started",
		zap.Int("port", cfg.Server.Port),
		zap.String("version", version),
		zap.String("commit", commit),
		zap.String("upstream", cfg.Upstream.BaseURL),
	)

	errCh := make(chan error, 1)
	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
		close(errCh)
	}()

	// Wait for shutdown signal or server error.
	select {
	case <-ctx.Done():
		logger.Info("shutdown initiated")
	case err := <-errCh:
		logger.Error("server error", zap.Error(err))
		return 1
	}

	// Graceful shutdown sequence.
	shutdownTimeout := cfg.Server.ShutdownTimeout
	if shutdownTimeout == 0 {
		shutdownTimeout = 30 * time.Second
	}
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer shutdownCancel()

	// Stop accepting new connections and drain in-flight requests.
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("HTTP server shutdown error", zap.Error(err))
	}

	// Close stores.
	if viewCloser != nil {
		viewCloser()
	}
	if draftCloser != nil {
		draftCloser()
	}

	// Flush telemetry.
	if err := tracingShutdown(shutdownCtx); err != nil {
		logger.Error("tracing shutdown error", zap.Error(err))
	}

	logger.Info("shutdown complete")
	return 0
}

// buildViewStateStore creates the view state store based on config.
func buildViewStateStore(ctx context.Context, cfg config.ViewStateConfig, logger *zap.Logger) (viewstate.Store, func(), error) {
	switch cfg.Driver {
	case "memory", "":
		logger.Info("using in-memory view state store")
		return viewstate.NewMemoryStore(), nil, nil
	case "redis":
		addr := os.Getenv(cfg.Redis.AddrEnv)
		if addr == "" && cfg.Redis.AddrEnv != "" {
			return nil, nil, fmt.Errorf("view state store: %s environment variable not set", cfg.Redis.AddrEnv)
		}
		if addr == "" {
			logger.Warn("view state store address not configured, using in-memory store")
			return viewstate.NewMemoryStore(), nil, nil
		}

		client := redis.NewClient(&redis.Options{
			Addr: addr,
			DB:   cfg.Redis.DB,
		})
		if err := client.Ping(ctx).Err(); err != nil {
			client.Close()
			return nil, nil, fmt.Errorf("view state store: ping: %w", err)
		}

		store := viewstate.NewRedisStore(client, cfg.Redis.TTL)
		return store, func() { client.Close() }, nil
	default:
		return nil, nil, fmt.Errorf("unsupported view state store driver: %q", cfg.Driver)
	}
}

// buildDraftStore creates the draft store based on config.
func buildDraftStore(ctx context.Context, cfg config.DraftsConfig, logger *zap.Logger) (draft.Store, func(), error) {
	switch cfg.Driver {
	case "memory", "":
		logger.Info("using in-memory draft store")
		return draft.NewMemoryStore(), nil, nil
	case "postgres":
		dsn := os.Getenv(cfg.Postgres.DSNEnv)
		if dsn == "" && cfg.Postgres.DSNEnv != "" {
			return nil, nil, fmt.Errorf("draft store: %s environment variable not set", cfg.Postgres.DSNEnv)
		}
		if dsn == "" {
			logger.Warn("draft store DSN not configured, using in-memory store")
			return draft.NewMemoryStore(), nil, nil
		}

		poolCfg, err := pgxpool.ParseConfig(dsn)
		if err != nil {
			return nil, nil, fmt.Errorf("draft store: parse DSN: %w", err)
		}
		if cfg.Postgres.MaxConns > 0 {
			poolCfg.MaxConns = int32(cfg.Postgres.MaxConns)
		}
		poolCfg.MaxConnLifetime = cfg.Postgres.ConnMaxLifetime

		pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
		if err != nil {
			return nil, nil, fmt.Errorf("draft store: connect: %w", err)
		}

		if err := pool.Ping(ctx); err != nil {
			pool.Close()
			return nil, nil, fmt.Errorf("draft store: ping: %w", err)
		}

		store := draft.NewPgStore(pool)
		return store, pool.Close, nil
	default:
		return nil, nil, fmt.Errorf("unsupported draft store driver: %q", cfg.Driver)
	}
}
