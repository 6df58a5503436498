package inventory

import (
	"context"

	"github.com/google/uuid"
)

// Store abstracts the persistence of products, units and sale references.
// Implementations map the (product_id, serial_number) unique constraint to
// ErrDuplicateSerial and missing rows to ErrProductNotFound/ErrUnitNotFound.
type Store interface {
	GetProduct(ctx context.Context, id uuid.UUID) (Product, error)
	ListSerializedProducts(ctx context.Context) ([]Product, error)
	UpdateProductStock(ctx context.Context, productID uuid.UUID, value int) error

	GetProductUnits(ctx context.Context, productID uuid.UUID) ([]ProductUnit, error)
	GetUnit(ctx context.Context, id uuid.UUID) (ProductUnit, error)
	FindUnitBySerial(ctx context.Context, productID uuid.UUID, serial string) (ProductUnit, error)
	InsertProductUnit(ctx context.Context, unit ProductUnit) (ProductUnit, error)
	UpdateProductUnit(ctx context.Context, id uuid.UUID, update UnitUpdate) (ProductUnit, error)
	UpdateUnitStatus(ctx context.Context, id uuid.UUID, status UnitStatus) (ProductUnit, error)
	DeleteProductUnit(ctx context.Context, id uuid.UUID) error

	CountAvailableUnits(ctx context.Context, productID uuid.UUID) (int, error)
	CountAvailableUnitsByProduct(ctx context.Context) (map[uuid.UUID]int, error)
	ListUnitsByStatus(ctx context.Context, statuses ...UnitStatus) ([]ProductUnit, error)
	ListOrphanedUnits(ctx context.Context) ([]ProductUnit, error)

	QuerySalesBySerial(ctx context.Context, productID uuid.UUID, serial string) ([]SaleReference, error)
	CompletedSaleKeys(ctx context.Context) (map[SerialKey]struct{}, error)
	ListSerialSales(ctx context.Context) ([]SaleSerialRef, error)
}
