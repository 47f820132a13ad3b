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
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/V4T54L/postbus/internal/adapter/channel"
	"github.com/V4T54L/postbus/internal/adapter/metrics"
	"github.com/V4T54L/postbus/internal/adapter/notifier"
	"github.com/V4T54L/postbus/internal/bootstrap"
	"github.com/V4T54L/postbus/internal/pkg/config"
	"github.com/V4T54L/postbus/internal/pkg/logger"
	"github.com/V4T54L/postbus/internal/usecase"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	log := logger.New(cfg.LogLevel)
	slog.SetDefault(log)
	log.Info("starting dispatcher")

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	m := metrics.NewPostBusMetrics(prometheus.DefaultRegisterer)

	redisClient, err := bootstrap.OpenRedis(ctx, cfg.RedisAddr)
	if err != nil {
		log.Error("failed to connect to redis", "error", err)
		os.Exit(1)
	}
	defer redisClient.Close()
	log.Info("connected to redis")

	var db *sql.DB
	if cfg.PostgresURL != "" {
		db, err = bootstrap.OpenPostgres(ctx, cfg.PostgresURL)
		if err != nil {
			log.Error("failed to connect to postgres", "error", err)
			os.Exit(1)
		}
		defer db.Close()
		log.Info("connected to postgres")
	}

	// Create a unique consumer name for this instance
	consumerName, err := os.Hostname()
	if err != nil {
		log.Warn("could not get hostname for consumer name, using default", "error", err)
		consumerName = "dispatcher-default"
	}

	ceilings, err := cfg.Ceilings()
	if err != nil {
		log.Error("invalid channel quota ceilings", "error", err)
		os.Exit(1)
	}
	endpoints, err := cfg.Endpoints()
	if err != nil {
		log.Error("invalid channel endpoints", "error", err)
		os.Exit(1)
	}

	stores, err := bootstrap.NewStores(cfg, redisClient, db, m, log)
	if err != nil {
		log.Error("failed to initialize stores", "error", err)
		os.Exit(1)
	}
	queue := bootstrap.NewQueue(cfg, redisClient, bootstrap.QueueOptions{Consumer: consumerName}, m, log)
	defer queue.Close()

	execCfg := channel.DefaultExecutorConfig()
	execCfg.MaxRetries = cfg.AdapterMaxRetries

	alerter := notifier.NewWebhookAlerter(cfg.AlertWebhookURL, cfg.AlertRatePerMinute, log)
	dispatchUseCase := usecase.NewDispatchJobsUseCase(usecase.DispatchDeps{
		Queue:       queue,
		Tenants:     usecase.NewTenantConfigResolver(stores.Tenants, log),
		Quota:       usecase.NewQuotaTracker(stores.KV, ceilings, cfg.QuotaCounterTTL),
		Idempotency: usecase.NewIdempotencyCache(stores.KV, cfg.IdempotencyTTL),
		Adapters:    channel.NewAdapterSet(endpoints, execCfg, log),
		DeadLetters: stores.DeadLetters,
		Alerter:     alerter,
		Metrics:     m,
		Logger:      log,
	}, cfg.DispatchBatchSize, cfg.AdapterTimeout)

	metricsMux := http.NewServeMux()
	metricsMux.Handle("/metrics", promhttp.Handler())
	metricsServer := &http.Server{Addr: cfg.MetricsAddr, Handler: metricsMux}
	go func() {
		log.Info("starting metrics server", "addr", metricsServer.Addr)
		if err := metricsServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error("metrics server failed", "error", err)
		}
	}()

	ticker := time.NewTicker(cfg.DispatchInterval)
	defer ticker.Stop()

	log.Info("dispatcher started, processing jobs...", "backend", cfg.QueueBackend, "group", cfg.ConsumerGroup, "consumer", consumerName)

Loop:
	for {
		select {
		case <-ticker.C:
			// Drain while batches come back full so a backlog is not paced by the ticker.
			for {
				n, err := dispatchUseCase.ProcessBatch(ctx)
				if err != nil {
					log.Error("error processing batch", "error", err)
				}
				if err != nil || n < cfg.DispatchBatchSize || ctx.Err() != nil {
					break
				}
			}
		case <-ctx.Done():
			log.Info("context cancelled, shutting down dispatcher loop")
			break Loop
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := metricsServer.Shutdown(shutdownCtx); err != nil {
		log.Error("metrics server shutdown failed", "error", err)
	}
	alerter.Wait()

	log.Info("dispatcher shut down gracefully")
}
