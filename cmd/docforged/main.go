// Package main is the entry point for the docforge orchestration server.
// It wires all dependencies together and starts the operational HTTP server.
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
	"golang.org/x/sync/errgroup"

	"github.com/docforge/docforge/internal/actor"
	"github.com/docforge/docforge/internal/config"
	"github.com/docforge/docforge/internal/dedup"
	"github.com/docforge/docforge/internal/dispatch"
	"github.com/docforge/docforge/internal/notify"
	"github.com/docforge/docforge/internal/observability"
	"github.com/docforge/docforge/internal/orchestration"
	"github.com/docforge/docforge/internal/store"
	"github.com/docforge/docforge/internal/transport"
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
	configPath := flag.String("config", "", "path to configuration file (optional)")
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

	tracingShutdown, err := observability.InitTracing(ctx, cfg.Observability.Tracing, "docforged", version)
	if err != nil {
		logger.Error("tracing initialization failed", zap.Error(err))
		return 1
	}

	metrics := observability.InitMetrics(prometheus.DefaultRegisterer)

	// Step 4: Build the aggregate store.
	aggregates, storeCloser, err := buildAggregateStore(ctx, cfg.Store, logger)
	if err != nil {
		logger.Error("aggregate store initialization failed", zap.Error(err))
		return 1
	}
	if storeCloser != nil {
		defer storeCloser()
	}

	// Step 5: Build the completion store.
	completions, completionsCloser, err := buildCompletionStore(cfg.Dedup, logger)
	if err != nil {
		logger.Error("completion store initialization failed", zap.Error(err))
		return 1
	}
	if completionsCloser != nil {
		defer completionsCloser()
	}

	// Step 6: Build dispatcher and notifier.
	dispatcher, dispatcherCloser, err := buildDispatcher(cfg.Dispatcher, logger)
	if err != nil {
		logger.Error("dispatcher initialization failed", zap.Error(err))
		return 1
	}
	if dispatcherCloser != nil {
		defer dispatcherCloser()
	}

	notifier, notifierCloser, err := buildNotifier(cfg.Notifier, logger)
	if err != nil {
		logger.Error("notifier initialization failed", zap.Error(err))
		return 1
	}
	if notifierCloser != nil {
		defer notifierCloser()
	}

	// Step 7: Build the orchestrators on a shared actor runtime.
	runtime := actor.NewRuntime()
	orchestrators := transport.Orchestrators{
		Generation: orchestration.NewGenerationOrchestrator(aggregates, completions, dispatcher, notifier, runtime, logger, metrics),
		Validation: orchestration.NewValidationOrchestrator(aggregates, completions, dispatcher, notifier, runtime, logger, metrics),
		Review:     orchestration.NewReviewOrchestrator(aggregates, completions, dispatcher, notifier, runtime, logger, metrics),
	}

	// Step 8: Build the operational HTTP router.
	readinessChecks := observability.ReadinessChecks{}
	if hc, ok := aggregates.(observability.HealthChecker); ok {
		readinessChecks.AggregateStore = hc
	}
	if hc, ok := completions.(observability.HealthChecker); ok {
		readinessChecks.CompletionStore = hc
	}
	if hc, ok := dispatcher.(observability.HealthChecker); ok {
		readinessChecks.Dispatcher = hc
	}

	router := transport.NewRouter(transport.Dependencies{
		Logger:         logger,
		Orchestrators:  orchestrators,
		HealthHandler:  observability.HandleHealth(),
		ReadyHandler:   observability.HandleReady(readinessChecks),
		MetricsHandler: observability.Handler(),
	})

	handler := metrics.MetricsMiddleware(observability.TracingMiddleware(router))

	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      handler,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	// Step 9: Start the server and background tasks.
	logger.Info("server started",
		zap.Int("port", cfg.Server.Port),
		zap.String("version", version),
		zap.String("commit", commit),
		zap.String("store_driver", cfg.Store.Driver),
		zap.String("dedup_driver", cfg.Dedup.Driver),
	)

	g, gCtx := errgroup.WithContext(ctx)

	g.Go(func() error {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			return err
		}
		return nil
	})

	g.Go(func() error {
		<-gCtx.Done()
		shutdownTimeout := cfg.Server.ShutdownTimeout
		if shutdownTimeout == 0 {
			shutdownTimeout = 30 * time.Second
		}
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	if sweeper, ok := completions.(*dedup.MemoryCompletionStore); ok {
		g.Go(func() error {
			runCompletionSweeper(gCtx, sweeper, cfg.Dedup.SweepInterval, logger)
			return nil
		})
	}

	err = g.Wait()
	if err != nil {
		logger.Error("server error", zap.Error(err))
	} else {
		logger.Info("shutdown initiated")
	}

	// Flush telemetry.
	flushCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if terr := tracingShutdown(flushCtx); terr != nil {
		logger.Error("tracing shutdown error", zap.Error(terr))
	}

	if err != nil {
		return 1
	}
	logger.Info("shutdown complete")
	return 0
}

// buildAggregateStore creates the workflow state store based on config.
func buildAggregateStore(ctx context.Context, cfg config.StoreConfig, logger *zap.Logger) (store.AggregateStore, func(), error) {
	switch cfg.Driver {
	case "memory", "":
		logger.Info("using in-memory aggregate store")
		return store.NewMemoryAggregateStore(), nil, nil
	case "postgres":
		dsn := os.Getenv(cfg.DSNEnv)
		if dsn == "" {
			return nil, nil, fmt.Errorf("aggregate store: %s environment variable not set", cfg.DSNEnv)
		}

		poolCfg, err := pgxpool.ParseConfig(dsn)
		if err != nil {
			return nil, nil, fmt.Errorf("aggregate store: parse DSN: %w", err)
		}
		poolCfg.MaxConns = int32(cfg.MaxConns)
		poolCfg.MaxConnLifetime = cfg.ConnMaxLifetime

		pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
		if err != nil {
			return nil, nil, fmt.Errorf("aggregate store: connect: %w", err)
		}
		if err := pool.Ping(ctx); err != nil {
			pool.Close()
			return nil, nil, fmt.Errorf("aggregate store: ping: %w", err)
		}

		return store.NewPgAggregateStore(pool), pool.Close, nil
	default:
		return nil, nil, fmt.Errorf("unsupported aggregate store driver: %q", cfg.Driver)
	}
}

// buildCompletionStore creates the event completion store based on config.
func buildCompletionStore(cfg config.DedupConfig, logger *zap.Logger) (dedup.CompletionStore, func(), error) {
	switch cfg.Driver {
	case "memory", "":
		logger.Info("using in-memory completion store", zap.Duration("ttl", cfg.TTL))
		return dedup.NewMemoryCompletionStore(cfg.TTL), nil, nil
	case "redis":
		client, closer, err := newRedisClient(cfg.AddrEnv, cfg.DB)
		if err != nil {
			return nil, nil, fmt.Errorf("completion store: %w", err)
		}
		return dedup.NewRedisCompletionStore(client, cfg.TTL), closer, nil
	default:
		return nil, nil, fmt.Errorf("unsupported completion store driver: %q", cfg.Driver)
	}
}

// buildDispatcher creates the outbound command dispatcher based on config.
func buildDispatcher(cfg config.DispatcherConfig, logger *zap.Logger) (dispatch.Dispatcher, func(), error) {
	switch cfg.Driver {
	case "log", "":
		logger.Info("using log dispatcher")
		return dispatch.NewLogDispatcher(logger), nil, nil
	case "redis":
		client, closer, err := newRedisClient(cfg.AddrEnv, cfg.DB)
		if err != nil {
			return nil, nil, fmt.Errorf("dispatcher: %w", err)
		}
		return dispatch.NewRedisStreamDispatcher(client, cfg.StreamPrefix), closer, nil
	default:
		return nil, nil, fmt.Errorf("unsupported dispatcher driver: %q", cfg.Driver)
	}
}

// buildNotifier creates the state-change notifier based on config.
func buildNotifier(cfg config.NotifierConfig, logger *zap.Logger) (notify.Notifier, func(), error) {
	switch cfg.Driver {
	case "log", "":
		logger.Info("using log notifier")
		return notify.NewLogNotifier(logger), nil, nil
	case "redis":
		client, closer, err := newRedisClient(cfg.AddrEnv, cfg.DB)
		if err != nil {
			return nil, nil, fmt.Errorf("notifier: %w", err)
		}
		return notify.NewRedisNotifier(client, cfg.ChannelPrefix), closer, nil
	default:
		return nil, nil, fmt.Errorf("unsupported notifier driver: %q", cfg.Driver)
	}
}

// newRedisClient builds a Redis client from an address environment variable.
func newRedisClient(addrEnv string, db int) (*redis.Client, func(), error) {
	addr := os.Getenv(addrEnv)
	if addr == "" {
		return nil, nil, fmt.Errorf("%s environment variable not set", addrEnv)
	}
	client := redis.NewClient(&redis.Options{Addr: addr, DB: db})
	return client, func() { _ = client.Close() }, nil
}

// runCompletionSweeper periodically evicts expired completion entries from
// the in-memory store. Redis evicts by key TTL on its own.
func runCompletionSweeper(ctx context.Context, cs *dedup.MemoryCompletionStore, interval time.Duration, logger *zap.Logger) {
	if interval <= 0 {
		interval = 10 * time.Minute
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if n := cs.Sweep(); n > 0 {
				logger.Debug("swept expired completion entries", zap.Int("count", n))
			}
		}
	}
}
