package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"time"

	"github.com/hibiken/asynq"
	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/odyssey-erp/unitstock/internal/app"
	"github.com/odyssey-erp/unitstock/internal/inventory"
	jobmetrics "github.com/odyssey-erp/unitstock/internal/jobs"
	"github.com/odyssey-erp/unitstock/internal/platform/cache"
	"github.com/odyssey-erp/unitstock/internal/platform/db"
	"github.com/odyssey-erp/unitstock/internal/platform/events"
	"github.com/odyssey-erp/unitstock/internal/shared"
	"github.com/odyssey-erp/unitstock/jobs"
)

func main() {
	if app.InTestMode() {
		slog.Default().Info("test mode detected, skipping worker startup")
		return
	}
	_ = godotenv.Load()

	ctx, stop := app.SignalContext(context.Background())
	defer stop()

	cfg, err := app.LoadConfig()
	if err != nil {
		slog.Default().Error("load config", slog.Any("error", err))
		os.Exit(1)
	}

	logger := app.NewLogger(cfg)

	pool, err := db.New(ctx, cfg.PGDSN, cfg.PoolOptions("unitstock-worker"))
	if err != nil {
		logger.Error("connect database", slog.Any("error", err))
		os.Exit(1)
	}
	defer pool.Close()

	redisClient, err := cache.New(ctx, cfg.RedisOptions())
	if err != nil {
		logger.Error("connect redis", slog.Any("error", err))
		os.Exit(1)
	}
	defer func() {
		if err := redisClient.Close(); err != nil {
			logger.Warn("redis close", slog.Any("error", err))
		}
	}()

	var publisher events.Publisher = events.Discard{}
	if len(cfg.KafkaBrokers) > 0 {
		kafkaPublisher := events.NewKafkaPublisher(cfg.KafkaBrokers, "unitstock-worker")
		defer func() {
			if err := kafkaPublisher.Close(); err != nil {
				logger.Warn("kafka close", slog.Any("error", err))
			}
		}()
		publisher = kafkaPublisher
	}

	metrics := jobmetrics.NewMetrics(nil)

	inventoryRepo := inventory.NewRepository(pool)
	units := inventory.NewUnitManager(inventoryRepo, inventory.CodeGenerator{}, logger)
	stock := inventory.NewStockCalculator(inventoryRepo)
	checker := inventory.NewIntegrityChecker(inventoryRepo, logger)
	repairer := inventory.NewRepairer(inventoryRepo, units, stock, shared.NewAuditLogger(pool), logger)

	scanJob := jobs.NewIntegrityScanJob(checker, repairer, redisClient, cfg.IntegrityLockTTL, logger, metrics)
	scanJob.Events = publisher
	cleanupJob := &jobs.IdempotencyCleanupJob{
		Store:   shared.NewIdempotencyStore(pool),
		Logger:  logger,
		Metrics: metrics,
	}

	scanTask, err := jobs.NewIntegrityScanTask(jobs.IntegrityScanPayload{AutoRepair: cfg.IntegrityAutoRepair})
	if err != nil {
		logger.Error("build integrity scan task", slog.Any("error", err))
		os.Exit(1)
	}
	cleanupTask, err := jobs.NewIdempotencyCleanupTask(cfg.IdempotencyRetention)
	if err != nil {
		logger.Error("build idempotency cleanup task", slog.Any("error", err))
		os.Exit(1)
	}

	worker, err := jobs.NewWorker(jobs.WorkerConfig{
		RedisOpts: cfg.AsynqRedis(),
		Logger:    logger,
		Handlers: []jobs.TaskHandler{
			{Type: jobs.TaskInventoryIntegrityScan, Handler: scanJob.Handle},
			{Type: jobs.TaskIdempotencyCleanup, Handler: cleanupJob.Handle},
		},
		Cron: []jobs.CronRegistration{
			{Spec: cfg.IntegrityCron, Task: scanTask},
			{Spec: "30 3 * * *", Task: cleanupTask, Options: []asynq.Option{asynq.MaxRetry(3)}},
		},
	})
	if err != nil {
		logger.Error("init worker", slog.Any("error", err))
		os.Exit(1)
	}

	metricsServer := &http.Server{
		Addr:              cfg.WorkerMetricsAddr,
		Handler:           promhttp.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		logger.Info("serving worker metrics", slog.String("addr", cfg.WorkerMetricsAddr))
		if err := metricsServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Warn("worker metrics server", slog.Any("error", err))
		}
	}()
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = metricsServer.Shutdown(shutdownCtx)
	}()

	if err := worker.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		logger.Error("worker run", slog.Any("error", err))
		os.Exit(1)
	}
}
