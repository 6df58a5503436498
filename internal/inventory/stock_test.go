package inventory_test

import (
	"context"
	"errors"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/odyssey-erp/unitstock/internal/inventory"
	"github.com/odyssey-erp/unitstock/internal/inventory/inventorytest"
)

func TestEffectiveStock(t *testing.T) {
	serialized := inventory.Product{ID: uuid.New(), HasSerial: true, Stock: 99}
	units := []inventory.ProductUnit{
		{Status: inventory.UnitStatusAvailable},
		{Status: inventory.UnitStatusAvailable},
		{Status: inventory.UnitStatusReserved},
		{Status: inventory.UnitStatusSold},
		{Status: inventory.UnitStatusDamaged},
	}
	require.Equal(t, 2, inventory.EffectiveStock(serialized, units))
	require.Equal(t, 0, inventory.EffectiveStock(serialized, nil))

	plain := inventory.Product{ID: uuid.New(), Stock: 7}
	require.Equal(t, 7, inventory.EffectiveStock(plain, units))

	require.True(t, inventory.IsLowStock(inventory.Product{Threshold: 2}, 2))
	require.False(t, inventory.IsLowStock(inventory.Product{Threshold: 2}, 3))
}

func TestFetchEffectiveStockUsesAggregateCount(t *testing.T) {
	store := inventorytest.New()
	ctx := context.Background()
	phone := store.PutProduct(inventory.Product{HasSerial: true, Stock: 5})
	cable := store.PutProduct(inventory.Product{Stock: 12})
	store.PutUnit(inventory.ProductUnit{ProductID: phone.ID, SerialNumber: "X1", Status: inventory.UnitStatusAvailable})
	store.PutUnit(inventory.ProductUnit{ProductID: phone.ID, SerialNumber: "X2", Status: inventory.UnitStatusSold})

	calc := inventory.NewStockCalculator(store)
	qty, err := calc.FetchEffectiveStock(ctx, phone.ID)
	require.NoError(t, err)
	require.Equal(t, 1, qty)
	require.Zero(t, store.Calls(inventorytest.OpGetProductUnits))

	qty, err = calc.FetchEffectiveStock(ctx, cable.ID)
	require.NoError(t, err)
	require.Equal(t, 12, qty)

	batch, err := calc.FetchEffectiveStockBatch(ctx, []uuid.UUID{phone.ID, cable.ID, phone.ID})
	require.NoError(t, err)
	require.Equal(t, map[uuid.UUID]int{phone.ID: 1, cable.ID: 12}, batch)

	_, err = calc.FetchEffectiveStockBatch(ctx, []uuid.UUID{phone.ID, uuid.New()})
	require.ErrorIs(t, err, inventory.ErrProductNotFound)
}

func TestRecomputeStock(t *testing.T) {
	store := inventorytest.New()
	ctx := context.Background()
	phone := store.PutProduct(inventory.Product{HasSerial: true, Stock: 4})
	store.PutUnit(inventory.ProductUnit{ProductID: phone.ID, SerialNumber: "R1", Status: inventory.UnitStatusAvailable})
	calc := inventory.NewStockCalculator(store)

	qty, err := calc.RecomputeStock(ctx, phone.ID)
	require.NoError(t, err)
	require.Equal(t, 1, qty)
	stored, _ := store.Product(phone.ID)
	require.Equal(t, 1, stored.Stock)

	_, err = calc.RecomputeStock(ctx, phone.ID)
	require.NoError(t, err)
	require.Equal(t, 1, store.Calls(inventorytest.OpUpdateProductStock))

	cable := store.PutProduct(inventory.Product{Stock: 3})
	qty, err = calc.RecomputeStock(ctx, cable.ID)
	require.NoError(t, err)
	require.Equal(t, 3, qty)

	store.FailOn(inventorytest.OpCountAvailableUnits, errors.New("timeout"))
	_, err = calc.RecomputeStock(ctx, phone.ID)
	require.ErrorContains(t, err, "timeout")
}
