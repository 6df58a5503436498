package inventory

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
)

// Drift descriptions attached to report entries.
const (
	IssueSoldWithoutSale        = "sold but no active sale found"
	IssueAvailableWithSale      = "available but has a completed sale"
	ReasonProductMissing        = "product no longer exists"
	ReasonSerialOnNonSerialized = "serial assigned to non-serialized product"
	ReasonSerialWithoutUnit     = "serial does not exist as a unit"
)

// Integrity pass names.
const (
	PassStockMismatch      = "stock_mismatch"
	PassStatusConsistency  = "status_consistency"
	PassOrphanedUnits      = "orphaned_units"
	PassInvalidSerialSales = "invalid_serial_sales"
)

// SuggestionAllClear is emitted when no drift was found.
const SuggestionAllClear = "All clear: stock, units and sales are consistent."

// ErrIntegrityUnavailable is returned when no pass could read its data.
var ErrIntegrityUnavailable = errors.New("inventory: integrity check could not read any data")

// StockMismatch is a serialized product whose stored stock drifted.
type StockMismatch struct {
	ProductID   uuid.UUID `json:"product_id"`
	Brand       string    `json:"brand"`
	Model       string    `json:"model"`
	StoredStock int       `json:"stored_stock"`
	ActualStock int       `json:"actual_stock"`
	Difference  int       `json:"difference"`
}

// OrphanedUnit is a unit whose product is gone.
type OrphanedUnit struct {
	UnitID       uuid.UUID `json:"unit_id"`
	ProductID    uuid.UUID `json:"product_id"`
	SerialNumber string    `json:"serial_number"`
	Reason       string    `json:"reason"`
}

// InvalidSerialSale is a sale item pointing at a serial that is not a unit.
type InvalidSerialSale struct {
	SaleID       uuid.UUID `json:"sale_id"`
	ProductID    uuid.UUID `json:"product_id"`
	SerialNumber string    `json:"serial_number"`
	Reason       string    `json:"reason"`
}

// InconsistentStatus is a unit whose status contradicts sale records.
type InconsistentStatus struct {
	UnitID       uuid.UUID  `json:"unit_id"`
	ProductID    uuid.UUID  `json:"product_id"`
	SerialNumber string     `json:"serial_number"`
	Status       UnitStatus `json:"status"`
	Issue        string     `json:"issue"`
}

// PassError records a pass that could not complete.
type PassError struct {
	Pass    string `json:"pass"`
	Message string `json:"message"`
	Err     error  `json:"-"`
}

// IntegrityReport is the result of one check run. It is never persisted.
type IntegrityReport struct {
	StockMismatches      []StockMismatch      `json:"stock_mismatches"`
	OrphanedUnits        []OrphanedUnit       `json:"orphaned_units"`
	InvalidSerialSales   []InvalidSerialSale  `json:"invalid_serial_sales"`
	InconsistentStatuses []InconsistentStatus `json:"inconsistent_statuses"`
	Suggestions          []string             `json:"suggestions"`
	PassErrors           []PassError          `json:"pass_errors,omitempty"`
	CheckedAt            time.Time            `json:"checked_at"`
}

// Clean reports whether the four drift lists are empty.
func (r IntegrityReport) Clean() bool {
	return len(r.StockMismatches) == 0 && len(r.OrphanedUnits) == 0 &&
		len(r.InvalidSerialSales) == 0 && len(r.InconsistentStatuses) == 0
}

// DriftCount sums the entries of every list.
func (r IntegrityReport) DriftCount() int {
	return len(r.StockMismatches) + len(r.OrphanedUnits) + len(r.InvalidSerialSales) + len(r.InconsistentStatuses)
}

// IntegrityChecker cross-references products, units and sales.
type IntegrityChecker struct {
	store  Store
	logger *slog.Logger
	clock  func() time.Time
}

// NewIntegrityChecker constructs IntegrityChecker.
func NewIntegrityChecker(store Store, logger *slog.Logger) *IntegrityChecker {
	if logger == nil {
		logger = slog.Default()
	}
	return &IntegrityChecker{store: store, logger: logger, clock: func() time.Time { return time.Now().UTC() }}
}

// Check runs the four passes. A failing pass is recorded in PassErrors and
// does not stop the others; an error is returned only when all of them failed.
func (c *IntegrityChecker) Check(ctx context.Context) (IntegrityReport, error) {
	report := IntegrityReport{
		StockMismatches:      []StockMismatch{},
		OrphanedUnits:        []OrphanedUnit{},
		InvalidSerialSales:   []InvalidSerialSale{},
		InconsistentStatuses: []InconsistentStatus{},
		CheckedAt:            c.clock(),
	}
	var errs []error
	record := func(pass string, err error) {
		if err == nil {
			return
		}
		c.logger.Error("integrity pass failed", slog.String("pass", pass), slog.Any("error", err))
		report.PassErrors = append(report.PassErrors, PassError{Pass: pass, Message: err.Error(), Err: err})
		errs = append(errs, fmt.Errorf("%s: %w", pass, err))
	}

	mismatches, err := c.stockMismatches(ctx)
	record(PassStockMismatch, err)
	if err == nil {
		report.StockMismatches = mismatches
	}
	statuses, err := c.inconsistentStatuses(ctx)
	record(PassStatusConsistency, err)
	if err == nil {
		report.InconsistentStatuses = statuses
	}
	orphans, err := c.orphanedUnits(ctx)
	record(PassOrphanedUnits, err)
	if err == nil {
		report.OrphanedUnits = orphans
	}
	invalid, err := c.invalidSerialSales(ctx)
	record(PassInvalidSerialSales, err)
	if err == nil {
		report.InvalidSerialSales = invalid
	}

	report.Suggestions = suggestions(report)
	if len(errs) == 4 {
		return report, errors.Join(append([]error{ErrIntegrityUnavailable}, errs...)...)
	}
	return report, nil
}

func (c *IntegrityChecker) stockMismatches(ctx context.Context) ([]StockMismatch, error) {
	products, err := c.store.ListSerializedProducts(ctx)
	if err != nil {
		return nil, err
	}
	counts, err := c.store.CountAvailableUnitsByProduct(ctx)
	if err != nil {
		return nil, err
	}
	out := []StockMismatch{}
	for _, p := range products {
		if !p.HasSerial {
			continue
		}
		actual := counts[p.ID]
		if p.Stock == actual {
			continue
		}
		out = append(out, StockMismatch{
			ProductID:   p.ID,
			Brand:       p.Brand,
			Model:       p.Model,
			StoredStock: p.Stock,
			ActualStock: actual,
			Difference:  p.Stock - actual,
		})
	}
	return out, nil
}

// inconsistentStatuses checks both directions: sold units need a completed
// sale, available units must not have one.
func (c *IntegrityChecker) inconsistentStatuses(ctx context.Context) ([]InconsistentStatus, error) {
	units, err := c.store.ListUnitsByStatus(ctx, UnitStatusSold, UnitStatusAvailable)
	if err != nil {
		return nil, err
	}
	raw, err := c.store.CompletedSaleKeys(ctx)
	if err != nil {
		return nil, err
	}
	completed := make(map[SerialKey]struct{}, len(raw))
	for k := range raw {
		completed[SerialKey{ProductID: k.ProductID, Serial: NormalizeSerial(k.Serial)}] = struct{}{}
	}
	out := []InconsistentStatus{}
	for _, u := range units {
		_, hasSale := completed[SerialKey{ProductID: u.ProductID, Serial: NormalizeSerial(u.SerialNumber)}]
		var issue string
		switch {
		case u.Status == UnitStatusSold && !hasSale:
			issue = IssueSoldWithoutSale
		case u.Status == UnitStatusAvailable && hasSale:
			issue = IssueAvailableWithSale
		default:
			continue
		}
		out = append(out, InconsistentStatus{
			UnitID:       u.ID,
			ProductID:    u.ProductID,
			SerialNumber: u.SerialNumber,
			Status:       u.Status,
			Issue:        issue,
		})
	}
	return out, nil
}

func (c *IntegrityChecker) orphanedUnits(ctx context.Context) ([]OrphanedUnit, error) {
	units, err := c.store.ListOrphanedUnits(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]OrphanedUnit, 0, len(units))
	for _, u := range units {
		out = append(out, OrphanedUnit{UnitID: u.ID, ProductID: u.ProductID, SerialNumber: u.SerialNumber, Reason: ReasonProductMissing})
	}
	return out, nil
}

func (c *IntegrityChecker) invalidSerialSales(ctx context.Context) ([]InvalidSerialSale, error) {
	refs, err := c.store.ListSerialSales(ctx)
	if err != nil {
		return nil, err
	}
	out := []InvalidSerialSale{}
	for _, ref := range refs {
		var reason string
		switch {
		case ref.ProductExists && !ref.HasSerial:
			reason = ReasonSerialOnNonSerialized
		case !ref.UnitExists:
			reason = ReasonSerialWithoutUnit
		default:
			continue
		}
		out = append(out, InvalidSerialSale{
			SaleID:       ref.SaleID,
			ProductID:    ref.ProductID,
			SerialNumber: ref.SerialNumber,
			Reason:       reason,
		})
	}
	return out, nil
}

func suggestions(r IntegrityReport) []string {
	out := []string{}
	if n := len(r.StockMismatches); n > 0 {
		out = append(out, fmt.Sprintf("%d serialized product(s) store a stock that differs from their available units; run stock repair.", n))
	}
	if n := len(r.InconsistentStatuses); n > 0 {
		out = append(out, fmt.Sprintf("%d unit(s) have a status that contradicts sale records; sold units without a sale can be repaired automatically, the rest need manual review.", n))
	}
	if n := len(r.OrphanedUnits); n > 0 {
		out = append(out, fmt.Sprintf("%d unit(s) reference deleted products; reassign or delete them.", n))
	}
	if n := len(r.InvalidSerialSales); n > 0 {
		out = append(out, fmt.Sprintf("%d sale item(s) reference serial numbers that are not valid units; review those sales.", n))
	}
	for _, pe := range r.PassErrors {
		out = append(out, fmt.Sprintf("Pass %s could not complete; rerun the check.", pe.Pass))
	}
	if r.Clean() && len(r.PassErrors) == 0 {
		out = append(out, SuggestionAllClear)
	}
	return out
}
