package inventory

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
)

// allowedTransitions lists the status moves open to ordinary callers.
// sold -> available is absent on purpose: only the repairer may reverse a sale.
var allowedTransitions = map[UnitStatus][]UnitStatus{
	UnitStatusAvailable: {UnitStatusReserved, UnitStatusSold, UnitStatusDamaged},
	UnitStatusReserved:  {UnitStatusAvailable, UnitStatusSold},
	UnitStatusDamaged:   {UnitStatusAvailable},
}

// CanTransition reports whether from -> to is an ordinary transition.
func CanTransition(from, to UnitStatus) bool {
	for _, next := range allowedTransitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// CreateUnitsResult reports a partially successful creation batch.
type CreateUnitsResult struct {
	Created []ProductUnit `json:"created"`
	Errors  []string      `json:"errors"`
}

// UnitManager is the only writer of product unit rows.
type UnitManager struct {
	store    Store
	barcodes BarcodeGenerator
	logger   *slog.Logger
}

// NewUnitManager builds UnitManager. A nil generator falls back to CodeGenerator.
func NewUnitManager(store Store, barcodes BarcodeGenerator, logger *slog.Logger) *UnitManager {
	if barcodes == nil {
		barcodes = CodeGenerator{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &UnitManager{store: store, barcodes: barcodes, logger: logger}
}

// CreateUnits inserts one available unit per entry and assigns its barcode.
// Entries fail independently; the caller decides whether partial creation is
// acceptable.
func (m *UnitManager) CreateUnits(ctx context.Context, productID uuid.UUID, entries []UnitEntry, defaults Pricing) (CreateUnitsResult, error) {
	if productID == uuid.Nil {
		return CreateUnitsResult{}, validationErr("create units", nil, "product id required")
	}
	result := CreateUnitsResult{Created: []ProductUnit{}, Errors: []string{}}
	logger := m.logger.With(slog.String("product_id", productID.String()))
	for i, entry := range entries {
		serial := NormalizeSerial(entry.SerialNumber)
		if serial == "" {
			result.Errors = append(result.Errors, fmt.Sprintf("entry %d: serial number required", i+1))
			continue
		}
		now := time.Now().UTC()
		unit := ProductUnit{
			ID:           uuid.New(),
			ProductID:    productID,
			SerialNumber: serial,
			Pricing:      entry.Pricing.Resolve(defaults),
			Specs:        entry.Specs,
			Status:       UnitStatusAvailable,
			CreatedAt:    now,
			UpdatedAt:    now,
		}
		inserted, err := m.store.InsertProductUnit(ctx, unit)
		if err != nil {
			if errors.Is(err, ErrDuplicateSerial) {
				result.Errors = append(result.Errors, fmt.Sprintf("serial %s: duplicate serial number for product", serial))
			} else {
				result.Errors = append(result.Errors, fmt.Sprintf("serial %s: insert failed: %v", serial, err))
			}
			logger.Warn("unit insert failed", slog.String("serial", serial), slog.Any("error", err))
			continue
		}

		code, err := m.barcodes.Generate(inserted.ID, BarcodeMetadata{ProductID: productID, Serial: serial, Specs: entry.Specs})
		if err != nil {
			result.Created = append(result.Created, inserted)
			result.Errors = append(result.Errors, fmt.Sprintf("serial %s: barcode generation failed: %v", serial, err))
			logger.Warn("barcode generation failed", slog.String("unit_id", inserted.ID.String()), slog.Any("error", err))
			continue
		}
		withCode, err := m.store.UpdateProductUnit(ctx, inserted.ID, UnitUpdate{Barcode: &code})
		if err != nil {
			result.Created = append(result.Created, inserted)
			result.Errors = append(result.Errors, fmt.Sprintf("serial %s: barcode persistence failed: %v", serial, err))
			logger.Warn("barcode persistence failed", slog.String("unit_id", inserted.ID.String()), slog.Any("error", err))
			continue
		}
		result.Created = append(result.Created, withCode)
	}
	return result, nil
}

// UpdateStatus moves a unit through the ordinary state machine.
func (m *UnitManager) UpdateStatus(ctx context.Context, unitID uuid.UUID, status UnitStatus) (ProductUnit, error) {
	if !status.Valid() {
		return ProductUnit{}, validationErr("update status", nil, "unknown status %q", status)
	}
	unit, err := m.GetUnit(ctx, unitID)
	if err != nil {
		return ProductUnit{}, err
	}
	if unit.Status == status {
		return unit, nil
	}
	if !CanTransition(unit.Status, status) {
		return ProductUnit{}, validationErr("update status", ErrInvalidTransition, "unit %s cannot move from %s to %s", unitID, unit.Status, status)
	}
	updated, err := m.store.UpdateUnitStatus(ctx, unitID, status)
	if err != nil {
		return ProductUnit{}, fmt.Errorf("inventory: update status unit %s: %w", unitID, err)
	}
	return updated, nil
}

// revertSold returns a sold unit to available. Callers must first confirm that
// no completed sale references the unit.
func (m *UnitManager) revertSold(ctx context.Context, unitID uuid.UUID) (ProductUnit, error) {
	unit, err := m.GetUnit(ctx, unitID)
	if err != nil {
		return ProductUnit{}, err
	}
	if unit.Status != UnitStatusSold {
		return ProductUnit{}, validationErr("revert sold", ErrInvalidTransition, "unit %s is %s, not sold", unitID, unit.Status)
	}
	updated, err := m.store.UpdateUnitStatus(ctx, unitID, UnitStatusAvailable)
	if err != nil {
		return ProductUnit{}, fmt.Errorf("inventory: revert sold unit %s: %w", unitID, err)
	}
	return updated, nil
}

// TransferToProduct moves a unit under another serialized product. Nothing is
// written unless every check passes.
func (m *UnitManager) TransferToProduct(ctx context.Context, unitID, targetProductID uuid.UUID) (ProductUnit, error) {
	const op = "transfer unit"
	unit, err := m.GetUnit(ctx, unitID)
	if err != nil {
		return ProductUnit{}, err
	}
	target, err := m.store.GetProduct(ctx, targetProductID)
	if err != nil {
		if errors.Is(err, ErrProductNotFound) {
			return ProductUnit{}, validationErr(op, ErrProductNotFound, "target product %s does not exist", targetProductID)
		}
		return ProductUnit{}, fmt.Errorf("inventory: %s: load product %s: %w", op, targetProductID, err)
	}
	if unit.ProductID == target.ID {
		return ProductUnit{}, validationErr(op, nil, "unit %s already belongs to product %s", unitID, target.ID)
	}
	if !target.HasSerial {
		return ProductUnit{}, validationErr(op, ErrNotSerialized, "target product %s does not track serial numbers", target.ID)
	}
	if unit.Status == UnitStatusSold {
		return ProductUnit{}, validationErr(op, ErrUnitSold, "unit %s is sold", unitID)
	}
	_, err = m.store.FindUnitBySerial(ctx, target.ID, unit.SerialNumber)
	switch {
	case err == nil:
		return ProductUnit{}, validationErr(op, ErrDuplicateSerial, "product %s already has serial %s", target.ID, unit.SerialNumber)
	case !errors.Is(err, ErrUnitNotFound):
		return ProductUnit{}, fmt.Errorf("inventory: %s: lookup serial %s: %w", op, unit.SerialNumber, err)
	}
	moved, err := m.store.UpdateProductUnit(ctx, unitID, UnitUpdate{ProductID: &target.ID})
	if err != nil {
		if errors.Is(err, ErrDuplicateSerial) {
			return ProductUnit{}, validationErr(op, ErrDuplicateSerial, "product %s already has serial %s", target.ID, unit.SerialNumber)
		}
		return ProductUnit{}, fmt.Errorf("inventory: %s %s: %w", op, unitID, err)
	}
	return moved, nil
}

// DeleteUnit hard-deletes a unit. The caller must have verified that the unit
// never appeared in a sale; this method does not re-check.
func (m *UnitManager) DeleteUnit(ctx context.Context, unitID uuid.UUID) error {
	if err := m.store.DeleteProductUnit(ctx, unitID); err != nil {
		return fmt.Errorf("inventory: delete unit %s: %w", unitID, err)
	}
	return nil
}

// GetUnit loads a single unit.
func (m *UnitManager) GetUnit(ctx context.Context, unitID uuid.UUID) (ProductUnit, error) {
	unit, err := m.store.GetUnit(ctx, unitID)
	if err != nil {
		return ProductUnit{}, fmt.Errorf("inventory: load unit %s: %w", unitID, err)
	}
	return unit, nil
}

// ListUnits returns every unit of a product.
func (m *UnitManager) ListUnits(ctx context.Context, productID uuid.UUID) ([]ProductUnit, error) {
	units, err := m.store.GetProductUnits(ctx, productID)
	if err != nil {
		return nil, fmt.Errorf("inventory: list units product %s: %w", productID, err)
	}
	return units, nil
}
