package inventory

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/google/uuid"

	"github.com/odyssey-erp/unitstock/internal/shared"
)

// AuditPort abstracts audit logging functionality.
type AuditPort interface {
	Record(ctx context.Context, log shared.AuditLog) error
}

// RepairResult counts repaired items and collects per-item failures.
type RepairResult struct {
	Repaired int      `json:"repaired"`
	Errors   []string `json:"errors"`
}

// RepairSummary groups the results of RepairAll.
type RepairSummary struct {
	Stock  RepairResult `json:"stock"`
	Status RepairResult `json:"status"`
}

// Repaired returns the total number of repaired items.
func (s RepairSummary) Repaired() int {
	return s.Stock.Repaired + s.Status.Repaired
}

// Repairer resolves the drift that has a single correct value.
type Repairer struct {
	store  Store
	units  *UnitManager
	stock  *StockCalculator
	audit  AuditPort
	logger *slog.Logger
}

// NewRepairer constructs Repairer. audit may be nil.
func NewRepairer(store Store, units *UnitManager, stock *StockCalculator, audit AuditPort, logger *slog.Logger) *Repairer {
	if logger == nil {
		logger = slog.Default()
	}
	return &Repairer{store: store, units: units, stock: stock, audit: audit, logger: logger}
}

// RepairStock recomputes the stored stock of every mismatched product. The
// value is counted again at repair time rather than taken from the report.
func (r *Repairer) RepairStock(ctx context.Context, mismatches []StockMismatch) RepairResult {
	result := RepairResult{Errors: []string{}}
	for _, m := range mismatches {
		value, changed, err := r.stock.recompute(ctx, m.ProductID)
		if err != nil {
			result.Errors = append(result.Errors, fmt.Sprintf("product %s: %v", m.ProductID, err))
			r.logger.Warn("stock repair failed", slog.String("product_id", m.ProductID.String()), slog.Any("error", err))
			continue
		}
		if !changed {
			continue
		}
		result.Repaired++
		r.logger.Info("stock repaired",
			slog.String("product_id", m.ProductID.String()),
			slog.Int("stored", m.StoredStock),
			slog.Int("actual", value),
		)
	}
	return result
}

// RepairStatuses returns sold units without a completed sale to available.
// Available units that do have a completed sale are left for manual review.
func (r *Repairer) RepairStatuses(ctx context.Context, items []InconsistentStatus) RepairResult {
	result, _ := r.repairStatuses(ctx, items)
	return result
}

func (r *Repairer) repairStatuses(ctx context.Context, items []InconsistentStatus) (RepairResult, []uuid.UUID) {
	result := RepairResult{Errors: []string{}}
	var touched []uuid.UUID
	for _, item := range items {
		if item.Issue != IssueSoldWithoutSale {
			continue
		}
		logger := r.logger.With(slog.String("unit_id", item.UnitID.String()), slog.String("serial", item.SerialNumber))
		sales, err := r.store.QuerySalesBySerial(ctx, item.ProductID, item.SerialNumber)
		if err != nil {
			result.Errors = append(result.Errors, fmt.Sprintf("unit %s: query sales: %v", item.UnitID, err))
			logger.Warn("status repair failed", slog.Any("error", err))
			continue
		}
		if hasCompletedSale(sales) {
			result.Errors = append(result.Errors, fmt.Sprintf("unit %s: completed sale found, left as sold", item.UnitID))
			continue
		}
		unit, err := r.units.revertSold(ctx, item.UnitID)
		if err != nil {
			if errors.Is(err, ErrInvalidTransition) {
				// already moved on since the report was taken
				continue
			}
			result.Errors = append(result.Errors, fmt.Sprintf("unit %s: %v", item.UnitID, err))
			logger.Warn("status repair failed", slog.Any("error", err))
			continue
		}
		result.Repaired++
		touched = append(touched, unit.ProductID)
		logger.Info("unit status repaired", slog.String("from", string(UnitStatusSold)), slog.String("to", string(unit.Status)))
		if err := r.recordReversal(ctx, item); err != nil {
			result.Errors = append(result.Errors, fmt.Sprintf("unit %s: audit: %v", item.UnitID, err))
			logger.Warn("audit status repair", slog.Any("error", err))
		}
	}
	return result, touched
}

// RepairAll repairs statuses, then recomputes stock for the mismatched
// products and for every product whose units were just returned to available.
func (r *Repairer) RepairAll(ctx context.Context, report IntegrityReport) RepairSummary {
	status, touched := r.repairStatuses(ctx, report.InconsistentStatuses)
	mismatches := append([]StockMismatch(nil), report.StockMismatches...)
	seen := make(map[uuid.UUID]struct{}, len(mismatches))
	for _, m := range mismatches {
		seen[m.ProductID] = struct{}{}
	}
	for _, id := range touched {
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		mismatches = append(mismatches, StockMismatch{ProductID: id})
	}
	return RepairSummary{
		Stock:  r.RepairStock(ctx, mismatches),
		Status: status,
	}
}

func (r *Repairer) recordReversal(ctx context.Context, item InconsistentStatus) error {
	if r.audit == nil {
		return nil
	}
	return r.audit.Record(ctx, shared.AuditLog{
		Action:   "inventory:unit_status_repair",
		Entity:   "product_unit",
		EntityID: item.UnitID.String(),
		Meta: map[string]any{
			"product_id": item.ProductID.String(),
			"serial":     item.SerialNumber,
			"from":       string(UnitStatusSold),
			"to":         string(UnitStatusAvailable),
			"issue":      item.Issue,
		},
	})
}

func hasCompletedSale(sales []SaleReference) bool {
	for _, s := range sales {
		if s.Status == SaleStatusCompleted {
			return true
		}
	}
	return false
}
