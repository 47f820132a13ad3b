package main

import (
	"context"
	"database/sql"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/V4T54L/postbus/internal/adapter/api"
	"github.com/V4T54L/postbus/internal/adapter/metrics"
	"github.com/V4T54L/postbus/internal/adapter/redact"
	"github.com/V4T54L/postbus/internal/adapter/repository/wal"
	"github.com/V4T54L/postbus/internal/bootstrap"
	"github.com/V4T54L/postbus/internal/pkg/config"
	"github.com/V4T54L/postbus/internal/pkg/logger"
	"github.com/V4T54L/postbus/internal/usecase"
)

const healthCheckInterval = 5 * time.Second

func main() {
	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	logger := logger.New(cfg.LogLevel)
	slog.SetDefault(logger)

	m := metrics.NewPostBusMetrics(prometheus.DefaultRegisterer)

	// --- Graceful Shutdown Context ---
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// --- Database and Redis Connections ---
	redisClient, err := bootstrap.OpenRedis(ctx, cfg.RedisAddr)
	if err != nil {
		if redisClient == nil {
			logger.Error("failed to configure redis", "error", err)
			os.Exit(1)
		}
		logger.Warn("could not connect to redis, will proceed in WAL-only mode", "error", err)
	}
	defer redisClient.Close()

	var db *sql.DB
	if cfg.PostgresURL != "" {
		db, err = bootstrap.OpenPostgres(ctx, cfg.PostgresURL)
		if err != nil {
			logger.Error("failed to connect to postgres", "error", err)
			os.Exit(1)
		}
		defer db.Close()
	}

	// --- Initialize Repositories ---
	jobLog, err := wal.NewJobLog(cfg.WALPath, cfg.WALSegmentSize, cfg.WALMaxDiskSize, logger)
	if err != nil {
		logger.Error("failed to initialize WAL", "error", err)
		os.Exit(1)
	}
	defer jobLog.Close()

	stores, err := bootstrap.NewStores(cfg, redisClient, db, m, logger)
	if err != nil {
		logger.Error("failed to initialize stores", "error", err)
		os.Exit(1)
	}

	queue := bootstrap.NewQueue(cfg, redisClient, bootstrap.QueueOptions{WAL: jobLog}, m, logger)
	defer queue.Close()
	if err := queue.ReplayWAL(ctx); err != nil {
		logger.Warn("could not replay WAL on startup, will retry once redis is healthy", "error", err)
	}

	// Start Redis health check and WAL replay loop
	go queue.StartHealthCheck(ctx, healthCheckInterval)

	// --- Initialize Use Cases ---
	idem := usecase.NewIdempotencyCache(stores.KV, cfg.IdempotencyTTL)
	admitUseCase := usecase.NewAdmitPostUseCase(queue, idem, m, logger)
	redactor := redact.NewRedactor(cfg.CredentialRedactionFields, logger)

	// --- Start Admin and Metrics Server ---
	adminServer := &http.Server{
		Addr: cfg.AdminServerAddr,
		Handler: api.NewAdminRouter(api.AdminDeps{
			Streams:  usecase.NewAdminStreamUseCase(stores.StreamAdmin, stores.DeadLetters),
			Tenants:  usecase.NewTenantConfigResolver(stores.Tenants, logger),
			Keys:     stores.Keys,
			Redactor: redactor,
		}, logger),
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 10 * time.Second,
	}

	go func() {
		logger.Info("starting admin & metrics server", "addr", adminServer.Addr)
		if err := adminServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("admin & metrics server failed", "error", err)
		}
	}()

	// --- Initialize Public Server ---
	apiServer := &http.Server{
		Addr:         cfg.APIServerAddr,
		Handler:      api.NewRouter(cfg, logger, admitUseCase),
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  15 * time.Second,
	}

	go func() {
		logger.Info("starting api server", "addr", apiServer.Addr)
		if err := apiServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("api server failed", "error", err)
			stop() // Trigger shutdown on server error
		}
	}()

	// --- Wait for shutdown signal ---
	<-ctx.Done()
	logger.Info("shutting down servers...")

	shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancelShutdown()

	if err := apiServer.Shutdown(shutdownCtx); err != nil {
		logger.Error("api server shutdown failed", "error", err)
	}
	if err := adminServer.Shutdown(shutdownCtx); err != nil {
		logger.Error("admin server shutdown failed", "error", err)
	}

	logger.Info("servers shut down gracefully")
}
