package procurement

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/unitstock/internal/inventory"
	"github.com/odyssey-erp/unitstock/internal/platform/events"
	"github.com/odyssey-erp/unitstock/internal/saga"
	"github.com/odyssey-erp/unitstock/internal/shared"
)

const idempotencyModule = "procurement.acquisition"

// ProductStore persists what an acquisition adds beyond units.
type ProductStore interface {
	CreateProduct(ctx context.Context, p inventory.Product) (inventory.Product, error)
	DeleteProduct(ctx context.Context, id uuid.UUID) error
	FindCrossProductSerials(ctx context.Context, productID uuid.UUID, serials []string) ([]SerialConflict, error)
	InsertSupplierTransaction(ctx context.Context, st SupplierTransaction) (SupplierTransaction, error)
	DeleteSupplierTransaction(ctx context.Context, id uuid.UUID) error
}

// AuditPort reused from shared.
type AuditPort interface {
	Record(ctx context.Context, log shared.AuditLog) error
}

// IdempotencyPort guards acquisition codes.
type IdempotencyPort interface {
	CheckAndInsert(ctx context.Context, key, module string) error
	Delete(ctx context.Context, key string) error
}

// Service orchestrates supplier acquisitions.
type Service struct {
	products    ProductStore
	inventory   inventory.Store
	units       *inventory.UnitManager
	stock       *inventory.StockCalculator
	saga        *saga.Orchestrator
	audit       AuditPort
	idempotency IdempotencyPort
	events      events.Publisher
	validator   *validator.Validate
	logger      *slog.Logger
}

// NewService constructs procurement service. audit and idem may be nil.
func NewService(products ProductStore, store inventory.Store, units *inventory.UnitManager, stock *inventory.StockCalculator, audit AuditPort, idem IdempotencyPort, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		products:    products,
		inventory:   store,
		units:       units,
		stock:       stock,
		saga:        saga.New(logger),
		audit:       audit,
		idempotency: idem,
		events:      events.Discard{},
		validator:   validator.New(),
		logger:      logger,
	}
}

// WithEvents publishes committed acquisitions to p.
func (s *Service) WithEvents(p events.Publisher) *Service {
	if p != nil {
		s.events = p
	}
	return s
}

// acquisition carries state between saga steps.
type acquisition struct {
	input   AcquisitionInput
	product inventory.Product
	created inventory.CreateUnitsResult
	tx      SupplierTransaction
	stock   int
}

// Acquire records a supplier intake. Every write runs as a saga step so a
// failure unwinds the product, units, stock and transaction it created.
func (s *Service) Acquire(ctx context.Context, input AcquisitionInput) (AcquisitionResult, error) {
	input.Code = strings.TrimSpace(input.Code)
	if err := s.validate(input); err != nil {
		return AcquisitionResult{}, err
	}
	acq := &acquisition{input: input}
	if input.ProductID != nil {
		product, err := s.inventory.GetProduct(ctx, *input.ProductID)
		if err != nil {
			return AcquisitionResult{}, fmt.Errorf("procurement: acquire %s: %w", input.Code, err)
		}
		acq.product = product
	} else {
		acq.product = newProduct(input)
	}
	if err := s.validateQuantities(acq); err != nil {
		return AcquisitionResult{}, err
	}

	key := "ACQ:" + shared.NormalizeIdempotencyKey(input.Code)
	inserted := false
	if s.idempotency != nil {
		if err := s.idempotency.CheckAndInsert(ctx, key, idempotencyModule); err != nil {
			if errors.Is(err, shared.ErrIdempotencyConflict) {
				return AcquisitionResult{}, fmt.Errorf("%w: %s", ErrDuplicateAcquisition, input.Code)
			}
			return AcquisitionResult{}, err
		}
		inserted = true
	}

	logger := s.logger.With(slog.String("code", input.Code), slog.String("product_id", acq.product.ID.String()))
	warnings := s.serialWarnings(ctx, acq, logger)

	run := s.saga.Run(ctx, s.steps(acq)...)
	result := AcquisitionResult{
		Product:  acq.product,
		Units:    acq.created.Created,
		Errors:   acq.created.Errors,
		Warnings: warnings,
	}
	if result.Units == nil {
		result.Units = []inventory.ProductUnit{}
	}
	if result.Errors == nil {
		result.Errors = []string{}
	}
	if err := run.Err(); err != nil {
		if inserted {
			_ = s.idempotency.Delete(ctx, key)
		}
		result.Units = []inventory.ProductUnit{}
		logger.Warn("acquisition rolled back", slog.Bool("partial_rollback", run.PartiallyRolledBack()), slog.Any("error", err))
		return result, err
	}

	result.Transaction = acq.tx
	result.Stock = acq.stock
	if product, err := s.inventory.GetProduct(ctx, acq.product.ID); err == nil {
		result.Product = product
	}
	s.recordAudit(ctx, acq)
	s.publish(ctx, acq, logger)
	logger.Info("acquisition recorded",
		slog.Int("units", len(acq.created.Created)),
		slog.Int("unit_errors", len(acq.created.Errors)),
		slog.Int("stock", acq.stock),
	)
	return result, nil
}

func (s *Service) steps(acq *acquisition) []saga.Step {
	var steps []saga.Step
	if acq.input.NewProduct != nil {
		steps = append(steps, saga.Step{
			Name: "create-product",
			Execute: func(ctx context.Context) (any, error) {
				created, err := s.products.CreateProduct(ctx, acq.product)
				if err != nil {
					return nil, err
				}
				acq.product = created
				return created.ID, nil
			},
			Rollback: func(ctx context.Context, result any) error {
				return s.products.DeleteProduct(ctx, result.(uuid.UUID))
			},
		})
	}
	if acq.product.HasSerial {
		steps = append(steps, saga.Step{
			Name:     "create-units",
			Execute:  func(ctx context.Context) (any, error) { return s.createUnits(ctx, acq) },
			Rollback: func(ctx context.Context, result any) error { return s.deleteUnits(ctx, result.([]uuid.UUID)) },
		})
	} else {
		steps = append(steps, saga.Step{
			Name: "increase-stock",
			Execute: func(ctx context.Context) (any, error) {
				current, err := s.inventory.GetProduct(ctx, acq.product.ID)
				if err != nil {
					return nil, err
				}
				acq.stock = current.Stock + acq.input.Quantity
				if err := s.inventory.UpdateProductStock(ctx, acq.product.ID, acq.stock); err != nil {
					return nil, err
				}
				return current.Stock, nil
			},
			Rollback: func(ctx context.Context, result any) error {
				return s.inventory.UpdateProductStock(ctx, acq.product.ID, result.(int))
			},
		})
	}
	steps = append(steps, saga.Step{
		Name: "record-supplier-transaction",
		Execute: func(ctx context.Context) (any, error) {
			st := SupplierTransaction{
				ID:         uuid.New(),
				Code:       acq.input.Code,
				SupplierID: acq.input.SupplierID,
				ProductID:  acq.product.ID,
				Quantity:   acq.input.Quantity,
				UnitCost:   acq.input.UnitCost,
				ActorID:    acq.input.ActorID,
			}
			if acq.product.HasSerial {
				st.Quantity = len(acq.created.Created)
				for _, u := range acq.created.Created {
					st.UnitIDs = append(st.UnitIDs, u.ID)
				}
			}
			st.Total = st.UnitCost.Mul(decimal.NewFromInt(int64(st.Quantity)))
			recorded, err := s.products.InsertSupplierTransaction(ctx, st)
			if err != nil {
				return nil, err
			}
			acq.tx = recorded
			return recorded.ID, nil
		},
		Rollback: func(ctx context.Context, result any) error {
			return s.products.DeleteSupplierTransaction(ctx, result.(uuid.UUID))
		},
	})
	if acq.product.HasSerial {
		steps = append(steps, saga.Step{
			Name: "recompute-stock",
			Execute: func(ctx context.Context) (any, error) {
				value, err := s.stock.RecomputeStock(ctx, acq.product.ID)
				if err != nil {
					return nil, err
				}
				acq.stock = value
				return value, nil
			},
		})
	}
	return steps
}

// createUnits fails the step when nothing was created, or when any entry
// failed and partial intake is off. In both cases created units are removed
// here since the saga does not roll back a failed step.
func (s *Service) createUnits(ctx context.Context, acq *acquisition) (any, error) {
	res, err := s.units.CreateUnits(ctx, acq.product.ID, acq.input.Units, acq.product.Pricing)
	if err != nil {
		return nil, err
	}
	acq.created = res
	ids := make([]uuid.UUID, 0, len(res.Created))
	for _, u := range res.Created {
		ids = append(ids, u.ID)
	}
	var fail error
	switch {
	case len(res.Created) == 0:
		fail = fmt.Errorf("%w: no unit created: %s", ErrPartialUnits, strings.Join(res.Errors, "; "))
	case len(res.Errors) > 0 && !acq.input.AllowPartial:
		fail = fmt.Errorf("%w: %s", ErrPartialUnits, strings.Join(res.Errors, "; "))
	}
	if fail != nil {
		if err := s.deleteUnits(ctx, ids); err != nil {
			return nil, errors.Join(fail, err)
		}
		return nil, fail
	}
	return ids, nil
}

func (s *Service) deleteUnits(ctx context.Context, ids []uuid.UUID) error {
	var errs []error
	for _, id := range ids {
		if err := s.units.DeleteUnit(ctx, id); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// serialWarnings reports incoming serials already used by other products.
// Lookup failures only cost the warnings.
func (s *Service) serialWarnings(ctx context.Context, acq *acquisition, logger *slog.Logger) []string {
	warnings := []string{}
	if !acq.product.HasSerial || len(acq.input.Units) == 0 {
		return warnings
	}
	serials := make([]string, 0, len(acq.input.Units))
	for _, e := range acq.input.Units {
		if serial := inventory.NormalizeSerial(e.SerialNumber); serial != "" {
			serials = append(serials, serial)
		}
	}
	conflicts, err := s.products.FindCrossProductSerials(ctx, acq.product.ID, serials)
	if err != nil {
		logger.Warn("cross-product serial lookup failed", slog.Any("error", err))
		return warnings
	}
	for _, c := range conflicts {
		warnings = append(warnings, fmt.Sprintf("serial %s is already registered under product %s", c.Serial, c.ProductID))
	}
	return warnings
}

func (s *Service) validate(input AcquisitionInput) error {
	if err := s.validator.Struct(input); err != nil {
		var fieldErrs validator.ValidationErrors
		if errors.As(err, &fieldErrs) && len(fieldErrs) > 0 {
			return fmt.Errorf("%w: %s failed on %s", ErrValidation, fieldErrs[0].Namespace(), fieldErrs[0].Tag())
		}
		return fmt.Errorf("%w: %v", ErrValidation, err)
	}
	if (input.ProductID == nil) == (input.NewProduct == nil) {
		return fmt.Errorf("%w: exactly one of product_id and new_product is required", ErrValidation)
	}
	if input.UnitCost.IsNegative() {
		return fmt.Errorf("%w: unit cost must not be negative", ErrValidation)
	}
	return nil
}

func (s *Service) validateQuantities(acq *acquisition) error {
	if acq.product.HasSerial {
		if len(acq.input.Units) == 0 {
			return fmt.Errorf("%w: serialized product needs at least one unit", ErrValidation)
		}
		if acq.input.Quantity != 0 && acq.input.Quantity != len(acq.input.Units) {
			return fmt.Errorf("%w: quantity %d does not match %d units", ErrValidation, acq.input.Quantity, len(acq.input.Units))
		}
		return nil
	}
	if len(acq.input.Units) > 0 {
		return fmt.Errorf("%w: %w", ErrValidation, inventory.ErrNotSerialized)
	}
	if acq.input.Quantity <= 0 {
		return fmt.Errorf("%w: quantity must be positive", ErrValidation)
	}
	return nil
}

func (s *Service) recordAudit(ctx context.Context, acq *acquisition) {
	if s.audit == nil {
		return
	}
	err := s.audit.Record(ctx, shared.AuditLog{
		ActorID:  acq.input.ActorID,
		Action:   "procurement:acquisition",
		Entity:   "supplier_transaction",
		EntityID: acq.tx.ID.String(),
		Meta: map[string]any{
			"code":        acq.input.Code,
			"product_id":  acq.product.ID.String(),
			"quantity":    acq.tx.Quantity,
			"total":       acq.tx.Total.String(),
			"new_product": acq.input.NewProduct != nil,
		},
	})
	if err != nil {
		s.logger.Warn("audit acquisition", slog.String("code", acq.input.Code), slog.Any("error", err))
	}
}

// AcquisitionEvent is the payload published after a committed acquisition.
type AcquisitionEvent struct {
	TransactionID uuid.UUID       `json:"transaction_id"`
	Code          string          `json:"code"`
	SupplierID    uuid.UUID       `json:"supplier_id"`
	ProductID     uuid.UUID       `json:"product_id"`
	Quantity      int             `json:"quantity"`
	Total         decimal.Decimal `json:"total"`
	Stock         int             `json:"stock"`
}

func (s *Service) publish(ctx context.Context, acq *acquisition, logger *slog.Logger) {
	err := s.events.Publish(ctx, events.Event{
		Topic: events.TopicAcquisitionRecorded,
		Type:  events.EventAcquisitionRecorded,
		Key:   acq.product.ID.String(),
		Payload: AcquisitionEvent{
			TransactionID: acq.tx.ID,
			Code:          acq.input.Code,
			SupplierID:    acq.input.SupplierID,
			ProductID:     acq.product.ID,
			Quantity:      acq.tx.Quantity,
			Total:         acq.tx.Total,
			Stock:         acq.stock,
		},
	})
	if err != nil {
		logger.Warn("publish acquisition event", slog.Any("error", err))
	}
}

func newProduct(input AcquisitionInput) inventory.Product {
	np := input.NewProduct
	supplier := input.SupplierID
	return inventory.Product{
		ID:         uuid.New(),
		Brand:      strings.TrimSpace(np.Brand),
		Model:      strings.TrimSpace(np.Model),
		Category:   strings.TrimSpace(np.Category),
		Threshold:  np.Threshold,
		HasSerial:  np.HasSerial,
		Pricing:    np.Pricing,
		SupplierID: &supplier,
	}
}
