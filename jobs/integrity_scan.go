package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"time"

	"github.com/hibiken/asynq"
	"github.com/redis/go-redis/v9"

	"github.com/odyssey-erp/unitstock/internal/inventory"
	jobmetrics "github.com/odyssey-erp/unitstock/internal/jobs"
	"github.com/odyssey-erp/unitstock/internal/platform/events"
	"github.com/odyssey-erp/unitstock/internal/shared"
)

var defaultJobMetrics = jobmetrics.NewMetrics(nil)

const defaultIntegrityLockTTL = 10 * time.Minute

// IntegrityScanJob runs the integrity checker on a schedule, records drift
// metrics and optionally repairs what has a single correct value.
type IntegrityScanJob struct {
	Checker  *inventory.IntegrityChecker
	Repairer *inventory.Repairer
	Redis    *redis.Client
	LockTTL  time.Duration
	Logger   *slog.Logger
	Metrics  *jobmetrics.Metrics
	// Events receives a drift summary for every scan that found drift.
	Events events.Publisher
}

// DriftSummary is the payload of the drift event.
type DriftSummary struct {
	StockMismatches      int  `json:"stock_mismatches"`
	InconsistentStatuses int  `json:"inconsistent_statuses"`
	OrphanedUnits        int  `json:"orphaned_units"`
	InvalidSerialSales   int  `json:"invalid_serial_sales"`
	PassErrors           int  `json:"pass_errors"`
	AutoRepair           bool `json:"auto_repair"`
	StockRepaired        int  `json:"stock_repaired"`
	StatusRepaired       int  `json:"status_repaired"`
}

// NewIntegrityScanJob initialises the integrity scan handler.
func NewIntegrityScanJob(checker *inventory.IntegrityChecker, repairer *inventory.Repairer, client *redis.Client, lockTTL time.Duration, logger *slog.Logger, metrics *jobmetrics.Metrics) *IntegrityScanJob {
	return &IntegrityScanJob{
		Checker:  checker,
		Repairer: repairer,
		Redis:    client,
		LockTTL:  lockTTL,
		Logger:   logger,
		Metrics:  metrics,
	}
}

// Handle executes one scan. A run already holding the lock makes this one a
// no-op.
func (j *IntegrityScanJob) Handle(ctx context.Context, t *asynq.Task) error {
	if j == nil || j.Checker == nil {
		return errors.New("integrity scan: handler not configured")
	}
	var payload IntegrityScanPayload
	if len(t.Payload()) > 0 {
		if err := json.Unmarshal(t.Payload(), &payload); err != nil {
			return asynq.SkipRetry
		}
	}
	logger := j.logger().With(slog.Bool("auto_repair", payload.AutoRepair))

	lock, err := shared.AcquireLock(ctx, j.Redis, shared.IntegrityLockKey, j.lockTTL())
	if err != nil {
		if errors.Is(err, shared.ErrLockHeld) {
			logger.Info("integrity scan already running, skipping")
			return nil
		}
		return err
	}
	defer func() {
		if err := lock.Release(context.WithoutCancel(ctx)); err != nil {
			logger.Warn("release integrity lock", slog.Any("error", err))
		}
	}()

	tracker := j.metrics().Track(TaskInventoryIntegrityScan)
	_, err = j.run(ctx, payload, logger)
	return tracker.End(err)
}

// run performs the scan. The caller holds the lock.
func (j *IntegrityScanJob) run(ctx context.Context, payload IntegrityScanPayload, logger *slog.Logger) (inventory.IntegrityReport, error) {
	start := time.Now()
	logger.Info("starting integrity scan")
	report, err := j.Checker.Check(ctx)
	if err != nil {
		logger.Error("integrity scan failed", slog.Any("error", err))
		return report, err
	}
	j.recordFindings(report, logger)

	drift := DriftSummary{
		StockMismatches:      len(report.StockMismatches),
		InconsistentStatuses: len(report.InconsistentStatuses),
		OrphanedUnits:        len(report.OrphanedUnits),
		InvalidSerialSales:   len(report.InvalidSerialSales),
		PassErrors:           len(report.PassErrors),
		AutoRepair:           payload.AutoRepair,
	}
	if payload.AutoRepair && !report.Clean() && j.Repairer != nil {
		summary := j.Repairer.RepairAll(ctx, report)
		drift.StockRepaired = summary.Stock.Repaired
		drift.StatusRepaired = summary.Status.Repaired
		j.metrics().AddRepaired("stock", summary.Stock.Repaired)
		j.metrics().AddRepaired("status", summary.Status.Repaired)
		for _, msg := range append(summary.Status.Errors, summary.Stock.Errors...) {
			logger.Warn("repair item failed", slog.String("detail", msg))
		}
		logger.Info("auto repair completed",
			slog.Int("stock_repaired", summary.Stock.Repaired),
			slog.Int("status_repaired", summary.Status.Repaired),
		)
	}

	if !report.Clean() && j.Events != nil {
		err := j.Events.Publish(ctx, events.Event{
			Topic:   events.TopicIntegrityDrift,
			Type:    events.EventDriftDetected,
			Key:     report.CheckedAt.UTC().Format(time.RFC3339),
			Payload: drift,
		})
		if err != nil {
			logger.Warn("publish drift event", slog.Any("error", err))
		}
	}

	logger.Info("completed integrity scan",
		slog.Int("drift", report.DriftCount()),
		slog.Int("pass_errors", len(report.PassErrors)),
		slog.Duration("duration", time.Since(start)),
	)
	return report, nil
}

func (j *IntegrityScanJob) recordFindings(report inventory.IntegrityReport, logger *slog.Logger) {
	m := j.metrics()
	for _, s := range report.StockMismatches {
		logger.Warn("stock mismatch",
			slog.String("product_id", s.ProductID.String()),
			slog.Int("stored", s.StoredStock),
			slog.Int("actual", s.ActualStock),
		)
	}
	for _, s := range report.InconsistentStatuses {
		logger.Warn("inconsistent unit status",
			slog.String("unit_id", s.UnitID.String()),
			slog.String("serial", s.SerialNumber),
			slog.String("issue", s.Issue),
		)
	}
	for _, o := range report.OrphanedUnits {
		logger.Warn("orphaned unit", slog.String("unit_id", o.UnitID.String()), slog.String("product_id", o.ProductID.String()))
	}
	for _, s := range report.InvalidSerialSales {
		logger.Warn("invalid serial sale",
			slog.String("sale_id", s.SaleID.String()),
			slog.String("serial", s.SerialNumber),
			slog.String("reason", s.Reason),
		)
	}
	for _, pe := range report.PassErrors {
		logger.Error("integrity pass failed", slog.String("pass", pe.Pass), slog.String("error", pe.Message))
	}
	m.AddDrift(inventory.PassStockMismatch, len(report.StockMismatches))
	m.AddDrift(inventory.PassStatusConsistency, len(report.InconsistentStatuses))
	m.AddDrift(inventory.PassOrphanedUnits, len(report.OrphanedUnits))
	m.AddDrift(inventory.PassInvalidSerialSales, len(report.InvalidSerialSales))
}

func (j *IntegrityScanJob) lockTTL() time.Duration {
	if j.LockTTL > 0 {
		return j.LockTTL
	}
	return defaultIntegrityLockTTL
}

func (j *IntegrityScanJob) logger() *slog.Logger {
	if j.Logger != nil {
		return j.Logger.With(slog.String("job", TaskInventoryIntegrityScan))
	}
	return slog.Default().With(slog.String("job", TaskInventoryIntegrityScan))
}

func (j *IntegrityScanJob) metrics() *jobmetrics.Metrics {
	if j.Metrics != nil {
		return j.Metrics
	}
	return defaultJobMetrics
}
