package procurement

import (
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/unitstock/internal/inventory"
)

var (
	// ErrValidation indicates invalid acquisition input.
	ErrValidation = errors.New("procurement: invalid input")
	// ErrDuplicateAcquisition signals the acquisition code was already processed.
	ErrDuplicateAcquisition = errors.New("procurement: acquisition already processed")
	// ErrPartialUnits is returned when some units failed and partial intake is not allowed.
	ErrPartialUnits = errors.New("procurement: not every unit could be created")
	// ErrTransactionNotFound indicates a missing supplier transaction.
	ErrTransactionNotFound = errors.New("procurement: supplier transaction not found")
)

// NewProductInput describes a catalogue entry created by an acquisition.
type NewProductInput struct {
	Brand     string            `json:"brand" validate:"required,max=80"`
	Model     string            `json:"model" validate:"required,max=120"`
	Category  string            `json:"category" validate:"max=60"`
	Threshold int               `json:"threshold" validate:"min=0"`
	HasSerial bool              `json:"has_serial"`
	Pricing   inventory.Pricing `json:"pricing"`
}

// AcquisitionInput is one supplier intake. Exactly one of ProductID and
// NewProduct is set. Serialized products take Units, others take Quantity.
type AcquisitionInput struct {
	Code         string                `json:"code" validate:"required,max=64"`
	SupplierID   uuid.UUID             `json:"supplier_id" validate:"required"`
	ProductID    *uuid.UUID            `json:"product_id,omitempty"`
	NewProduct   *NewProductInput      `json:"new_product,omitempty"`
	Units        []inventory.UnitEntry `json:"units,omitempty" validate:"omitempty,max=500,dive"`
	Quantity     int                   `json:"quantity" validate:"min=0"`
	UnitCost     decimal.Decimal       `json:"unit_cost"`
	AllowPartial bool                  `json:"allow_partial"`
	ActorID      int64                 `json:"actor_id"`
}

// SupplierTransaction is the purchase record of one acquisition.
type SupplierTransaction struct {
	ID         uuid.UUID       `json:"id"`
	Code       string          `json:"code"`
	SupplierID uuid.UUID       `json:"supplier_id"`
	ProductID  uuid.UUID       `json:"product_id"`
	Quantity   int             `json:"quantity"`
	UnitCost   decimal.Decimal `json:"unit_cost"`
	Total      decimal.Decimal `json:"total"`
	UnitIDs    []uuid.UUID     `json:"unit_ids,omitempty"`
	ActorID    int64           `json:"actor_id"`
	CreatedAt  time.Time       `json:"created_at"`
}

// SerialConflict is an incoming serial already registered under another product.
type SerialConflict struct {
	Serial    string    `json:"serial"`
	ProductID uuid.UUID `json:"product_id"`
	UnitID    uuid.UUID `json:"unit_id"`
}

// AcquisitionResult reports what an acquisition wrote.
type AcquisitionResult struct {
	Product     inventory.Product       `json:"product"`
	Units       []inventory.ProductUnit `json:"units"`
	Errors      []string                `json:"errors"`
	Warnings    []string                `json:"warnings"`
	Transaction SupplierTransaction     `json:"transaction"`
	Stock       int                     `json:"stock"`
}
