package inventory

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"golang.org/x/text/unicode/norm"
)

// UnitStatus enumerates the lifecycle states of a serialized unit.
type UnitStatus string

const (
	// UnitStatusAvailable marks a unit that can be sold.
	UnitStatusAvailable UnitStatus = "available"
	// UnitStatusReserved marks a unit held for a pending sale.
	UnitStatusReserved UnitStatus = "reserved"
	// UnitStatusSold marks a unit that left the shop.
	UnitStatusSold UnitStatus = "sold"
	// UnitStatusDamaged marks a unit pulled from sale.
	UnitStatusDamaged UnitStatus = "damaged"
)

// Valid reports whether s is a known status.
func (s UnitStatus) Valid() bool {
	switch s {
	case UnitStatusAvailable, UnitStatusReserved, UnitStatusSold, UnitStatusDamaged:
		return true
	}
	return false
}

// SaleStatus is the lifecycle state of a sale referencing a serial.
type SaleStatus string

const (
	SaleStatusPending   SaleStatus = "pending"
	SaleStatusCompleted SaleStatus = "completed"
	SaleStatusCancelled SaleStatus = "cancelled"
	SaleStatusRefunded  SaleStatus = "refunded"
)

// Pricing carries optional price bounds. Unit values override product defaults.
type Pricing struct {
	Price    *decimal.Decimal `json:"price,omitempty"`
	MinPrice *decimal.Decimal `json:"min_price,omitempty"`
	MaxPrice *decimal.Decimal `json:"max_price,omitempty"`
}

// Resolve fills every unset field of p from defaults.
func (p Pricing) Resolve(defaults Pricing) Pricing {
	out := p
	if out.Price == nil {
		out.Price = defaults.Price
	}
	if out.MinPrice == nil {
		out.MinPrice = defaults.MinPrice
	}
	if out.MaxPrice == nil {
		out.MaxPrice = defaults.MaxPrice
	}
	return out
}

// Product is the catalogue record owning units.
type Product struct {
	ID         uuid.UUID  `json:"id"`
	Brand      string     `json:"brand"`
	Model      string     `json:"model"`
	Category   string     `json:"category"`
	Stock      int        `json:"stock"`
	Threshold  int        `json:"threshold"`
	HasSerial  bool       `json:"has_serial"`
	Pricing    Pricing    `json:"pricing"`
	SupplierID *uuid.UUID `json:"supplier_id,omitempty"`
	CreatedAt  time.Time  `json:"created_at"`
	UpdatedAt  time.Time  `json:"updated_at"`
}

// UnitSpecs holds optional device attributes.
type UnitSpecs struct {
	Color        string `json:"color,omitempty" validate:"max=40"`
	Storage      string `json:"storage,omitempty" validate:"max=20"`
	RAM          string `json:"ram,omitempty" validate:"max=20"`
	BatteryLevel *int   `json:"battery_level,omitempty" validate:"omitempty,min=0,max=100"`
}

// ProductUnit is one individually tracked device.
type ProductUnit struct {
	ID           uuid.UUID  `json:"id"`
	ProductID    uuid.UUID  `json:"product_id"`
	SerialNumber string     `json:"serial_number"`
	Barcode      string     `json:"barcode,omitempty"`
	Pricing      Pricing    `json:"pricing"`
	Specs        UnitSpecs  `json:"specs"`
	Status       UnitStatus `json:"status"`
	CreatedAt    time.Time  `json:"created_at"`
	UpdatedAt    time.Time  `json:"updated_at"`
}

// UnitEntry is one requested unit in a creation batch.
type UnitEntry struct {
	SerialNumber string    `json:"serial_number" validate:"required,max=64"`
	Specs        UnitSpecs `json:"specs"`
	Pricing      Pricing   `json:"pricing"`
}

// UnitUpdate lists the non-status fields a store may rewrite.
type UnitUpdate struct {
	ProductID *uuid.UUID
	Barcode   *string
}

// SaleReference links a serial to a sale.
type SaleReference struct {
	SaleID       uuid.UUID
	ProductID    uuid.UUID
	SerialNumber string
	Status       SaleStatus
	SoldAt       time.Time
}

// SerialKey identifies a serial within a product.
type SerialKey struct {
	ProductID uuid.UUID
	Serial    string
}

// SaleSerialRef is a sale item carrying a serial, joined with what the store
// knows about the referenced product and unit.
type SaleSerialRef struct {
	SaleID        uuid.UUID
	ProductID     uuid.UUID
	SerialNumber  string
	ProductExists bool
	HasSerial     bool
	UnitExists    bool
}

// NormalizeSerial folds scanner and keyboard variants of a serial into one form.
func NormalizeSerial(serial string) string {
	return strings.ToUpper(strings.TrimSpace(norm.NFKC.String(serial)))
}

var (
	// ErrValidation tags caller errors that performed no mutation.
	ErrValidation = errors.New("inventory: validation failed")
	// ErrProductNotFound indicates a missing product row.
	ErrProductNotFound = errors.New("inventory: product not found")
	// ErrUnitNotFound indicates a missing unit row.
	ErrUnitNotFound = errors.New("inventory: unit not found")
	// ErrDuplicateSerial is returned by stores on the (product_id, serial_number) unique constraint.
	ErrDuplicateSerial = errors.New("inventory: serial number already exists for product")
	// ErrInvalidTransition rejects a status change outside the state machine.
	ErrInvalidTransition = errors.New("inventory: status transition not allowed")
	// ErrNotSerialized indicates the product does not track units.
	ErrNotSerialized = errors.New("inventory: product is not serialized")
	// ErrUnitSold indicates the unit already left the shop.
	ErrUnitSold = errors.New("inventory: unit already sold")
)

// ValidationError describes rejected caller input.
type ValidationError struct {
	Op     string
	Reason string
	Err    error
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("inventory: %s: %s", e.Op, e.Reason)
}

// Unwrap exposes both ErrValidation and the specific cause.
func (e *ValidationError) Unwrap() []error {
	if e.Err == nil {
		return []error{ErrValidation}
	}
	return []error{ErrValidation, e.Err}
}

func validationErr(op string, cause error, format string, args ...any) error {
	return &ValidationError{Op: op, Reason: fmt.Sprintf(format, args...), Err: cause}
}
