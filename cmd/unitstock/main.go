package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"time"

	"github.com/hibiken/asynq"
	"github.com/joho/godotenv"

	"github.com/odyssey-erp/unitstock/cmd/unitstock/cli"
	"github.com/odyssey-erp/unitstock/internal/app"
	"github.com/odyssey-erp/unitstock/internal/inventory"
	"github.com/odyssey-erp/unitstock/internal/observability"
	"github.com/odyssey-erp/unitstock/internal/platform/cache"
	"github.com/odyssey-erp/unitstock/internal/platform/db"
	"github.com/odyssey-erp/unitstock/internal/platform/events"
	"github.com/odyssey-erp/unitstock/internal/procurement"
	"github.com/odyssey-erp/unitstock/internal/shared"
	"github.com/odyssey-erp/unitstock/jobs"
)

func main() {
	if app.InTestMode() {
		slog.Default().Info("test mode detected, skipping runtime startup")
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

	if len(os.Args) > 1 && os.Args[1] == "jobs" {
		if err := runJobs(ctx, cfg, os.Args[2:]); err != nil {
			fmt.Fprintln(os.Stderr, err)
			os.Exit(1)
		}
		return
	}

	if err := serve(ctx, stop, cfg, logger); err != nil {
		logger.Error("unitstock", slog.Any("error", err))
		os.Exit(1)
	}
}

func runJobs(ctx context.Context, cfg *app.Config, args []string) error {
	jobsCLI, err := cli.NewJobsCLI(cfg.AsynqRedis())
	if err != nil {
		return err
	}
	defer jobsCLI.Close()
	return jobsCLI.Run(ctx, args, os.Stdout)
}

func serve(ctx context.Context, stop context.CancelFunc, cfg *app.Config, logger *slog.Logger) error {
	dbpool, err := db.New(ctx, cfg.PGDSN, cfg.PoolOptions("unitstock-api"))
	if err != nil {
		return err
	}
	defer dbpool.Close()

	redisClient, err := cache.New(ctx, cfg.RedisOptions())
	if err != nil {
		return err
	}
	defer func() {
		if err := redisClient.Close(); err != nil {
			logger.Warn("redis close", slog.Any("error", err))
		}
	}()

	var publisher events.Publisher = events.Discard{}
	if len(cfg.KafkaBrokers) > 0 {
		kafkaPublisher := events.NewKafkaPublisher(cfg.KafkaBrokers, "unitstock-api")
		defer func() {
			if err := kafkaPublisher.Close(); err != nil {
				logger.Warn("kafka close", slog.Any("error", err))
			}
		}()
		publisher = kafkaPublisher
	}

	auditLogger := shared.NewAuditLogger(dbpool)
	idempotencyStore := shared.NewIdempotencyStore(dbpool)

	inventoryRepo := inventory.NewRepository(dbpool)
	units := inventory.NewUnitManager(inventoryRepo, inventory.CodeGenerator{}, logger)
	stock := inventory.NewStockCalculator(inventoryRepo)
	checker := inventory.NewIntegrityChecker(inventoryRepo, logger)
	repairer := inventory.NewRepairer(inventoryRepo, units, stock, auditLogger, logger)
	inventoryHandler := inventory.NewHandler(logger, inventoryRepo, units, stock, checker, repairer)

	procurementRepo := procurement.NewRepository(dbpool)
	procurementService := procurement.NewService(procurementRepo, inventoryRepo, units, stock, auditLogger, idempotencyStore, logger).
		WithEvents(publisher)
	procurementHandler := procurement.NewHandler(logger, procurementService)

	inspector := asynq.NewInspector(cfg.AsynqRedis())
	defer func() {
		if err := inspector.Close(); err != nil {
			logger.Warn("inspector close", slog.Any("error", err))
		}
	}()
	jobHandler := jobs.NewHandler(inspector, logger)

	metrics := observability.NewMetrics()
	router := app.NewRouter(app.RouterParams{
		Logger:             logger,
		Config:             cfg,
		InventoryHandler:   inventoryHandler,
		ProcurementHandler: procurementHandler,
		JobHandler:         jobHandler,
		Metrics:            metrics,
		Readiness: map[string]app.Pinger{
			"postgres": dbpool.Ping,
			"redis": func(ctx context.Context) error {
				return redisClient.Ping(ctx).Err()
			},
		},
	})

	server := &http.Server{
		Addr:         cfg.AppAddr,
		Handler:      router,
		ReadTimeout:  cfg.AppReadTimeout,
		WriteTimeout: cfg.AppWriteTimeout,
	}

	go func() {
		logger.Info("starting http server", slog.String("addr", cfg.AppAddr))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("http server", slog.Any("error", err))
			stop()
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("graceful shutdown: %w", err)
	}
	return nil
}
