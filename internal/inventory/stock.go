package inventory

import (
	"context"
	"fmt"

	"github.com/google/uuid"
)

// EffectiveStock returns the sellable quantity of an already loaded product.
// Serialized products count available units; the stored counter is ignored.
func EffectiveStock(product Product, units []ProductUnit) int {
	if !product.HasSerial {
		return product.Stock
	}
	available := 0
	for _, u := range units {
		if u.Status == UnitStatusAvailable {
			available++
		}
	}
	return available
}

// IsLowStock reports whether effective stock reached the product threshold.
func IsLowStock(product Product, effective int) bool {
	return effective <= product.Threshold
}

// StockCalculator resolves effective stock against the store.
type StockCalculator struct {
	store Store
}

// NewStockCalculator constructs StockCalculator.
func NewStockCalculator(store Store) *StockCalculator {
	return &StockCalculator{store: store}
}

// FetchEffectiveStock loads the product and, when serialized, asks the store
// for an aggregate count instead of loading unit rows.
func (c *StockCalculator) FetchEffectiveStock(ctx context.Context, productID uuid.UUID) (int, error) {
	product, err := c.store.GetProduct(ctx, productID)
	if err != nil {
		return 0, fmt.Errorf("inventory: effective stock product %s: %w", productID, err)
	}
	if !product.HasSerial {
		return product.Stock, nil
	}
	count, err := c.store.CountAvailableUnits(ctx, productID)
	if err != nil {
		return 0, fmt.Errorf("inventory: count available product %s: %w", productID, err)
	}
	return count, nil
}

// FetchEffectiveStockBatch resolves each id with one FetchEffectiveStock call.
// TODO: fold into a single grouped count once batches grow past a page.
func (c *StockCalculator) FetchEffectiveStockBatch(ctx context.Context, productIDs []uuid.UUID) (map[uuid.UUID]int, error) {
	out := make(map[uuid.UUID]int, len(productIDs))
	for _, id := range productIDs {
		if _, seen := out[id]; seen {
			continue
		}
		qty, err := c.FetchEffectiveStock(ctx, id)
		if err != nil {
			return nil, err
		}
		out[id] = qty
	}
	return out, nil
}

// RecomputeStock overwrites the stored counter of a serialized product with
// its available unit count and returns the new value. Non-serialized products
// are left untouched.
func (c *StockCalculator) RecomputeStock(ctx context.Context, productID uuid.UUID) (int, error) {
	value, _, err := c.recompute(ctx, productID)
	return value, err
}

func (c *StockCalculator) recompute(ctx context.Context, productID uuid.UUID) (int, bool, error) {
	product, err := c.store.GetProduct(ctx, productID)
	if err != nil {
		return 0, false, fmt.Errorf("inventory: recompute stock product %s: %w", productID, err)
	}
	if !product.HasSerial {
		return product.Stock, false, nil
	}
	count, err := c.store.CountAvailableUnits(ctx, productID)
	if err != nil {
		return 0, false, fmt.Errorf("inventory: count available product %s: %w", productID, err)
	}
	if count == product.Stock {
		return count, false, nil
	}
	if err := c.store.UpdateProductStock(ctx, productID, count); err != nil {
		return 0, false, fmt.Errorf("inventory: update stock product %s: %w", productID, err)
	}
	return count, true, nil
}

// StockLevel is the effective stock of one product with its threshold.
type StockLevel struct {
	ProductID  uuid.UUID `json:"product_id"`
	Serialized bool      `json:"serialized"`
	Stock      int       `json:"stock"`
	Threshold  int       `json:"threshold"`
	LowStock   bool      `json:"low_stock"`
}

// FetchStockLevel resolves effective stock and the low-stock flag.
func (c *StockCalculator) FetchStockLevel(ctx context.Context, productID uuid.UUID) (StockLevel, error) {
	product, err := c.store.GetProduct(ctx, productID)
	if err != nil {
		return StockLevel{}, fmt.Errorf("inventory: stock level product %s: %w", productID, err)
	}
	stock := product.Stock
	if product.HasSerial {
		stock, err = c.store.CountAvailableUnits(ctx, productID)
		if err != nil {
			return StockLevel{}, fmt.Errorf("inventory: count available product %s: %w", productID, err)
		}
	}
	return StockLevel{
		ProductID:  product.ID,
		Serialized: product.HasSerial,
		Stock:      stock,
		Threshold:  product.Threshold,
		LowStock:   IsLowStock(product, stock),
	}, nil
}
