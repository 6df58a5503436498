package inventory_test

import (
	"context"
	"errors"
	"testing"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/odyssey-erp/unitstock/internal/inventory"
	"github.com/odyssey-erp/unitstock/internal/inventory/inventorytest"
)

type failingGenerator struct{ fail string }

func (g failingGenerator) Generate(unitID uuid.UUID, meta inventory.BarcodeMetadata) (string, error) {
	if meta.Serial == g.fail {
		return "", errors.New("printer offline")
	}
	return inventory.CodeGenerator{}.Generate(unitID, meta)
}

func newSerialized(store *inventorytest.Store) inventory.Product {
	return store.PutProduct(inventory.Product{Brand: "Apple", Model: "iPhone 13", Category: "phone", HasSerial: true, Threshold: 1})
}

func dec(v string) *decimal.Decimal {
	d := decimal.RequireFromString(v)
	return &d
}

func TestCreateUnitsRejectsDuplicateSerial(t *testing.T) {
	store := inventorytest.New()
	product := newSerialized(store)
	mgr := inventory.NewUnitManager(store, nil, nil)
	ctx := context.Background()

	res, err := mgr.CreateUnits(ctx, product.ID, []inventory.UnitEntry{
		{SerialNumber: "A1"}, {SerialNumber: "A2"}, {SerialNumber: "a1 "},
	}, inventory.Pricing{})
	require.NoError(t, err)
	require.Len(t, res.Created, 2)
	require.Equal(t, "A1", res.Created[0].SerialNumber)
	require.Equal(t, "A2", res.Created[1].SerialNumber)
	require.Len(t, res.Errors, 1)
	require.Contains(t, res.Errors[0], "A1")
	require.Contains(t, res.Errors[0], "duplicate")

	units := store.UnitsOf(product.ID)
	require.Len(t, units, 2)

	qty, err := inventory.NewStockCalculator(store).FetchEffectiveStock(ctx, product.ID)
	require.NoError(t, err)
	require.Equal(t, 2, qty)
}

func TestCreateUnitsAssignsBarcodeAndResolvesPricing(t *testing.T) {
	store := inventorytest.New()
	product := newSerialized(store)
	mgr := inventory.NewUnitManager(store, nil, nil)

	defaults := inventory.Pricing{Price: dec("500"), MinPrice: dec("450"), MaxPrice: dec("550")}
	res, err := mgr.CreateUnits(context.Background(), product.ID, []inventory.UnitEntry{
		{SerialNumber: "imei-1", Specs: inventory.UnitSpecs{Color: "Midnight", Storage: "128GB"}, Pricing: inventory.Pricing{Price: dec("520")}},
	}, defaults)
	require.NoError(t, err)
	require.Empty(t, res.Errors)
	require.Len(t, res.Created, 1)

	unit := res.Created[0]
	require.Equal(t, inventory.UnitStatusAvailable, unit.Status)
	require.Equal(t, "IMEI-1", unit.SerialNumber)
	require.True(t, unit.Pricing.Price.Equal(decimal.RequireFromString("520")))
	require.True(t, unit.Pricing.MinPrice.Equal(decimal.RequireFromString("450")))
	require.True(t, unit.Pricing.MaxPrice.Equal(decimal.RequireFromString("550")))

	data, err := inventory.ParseBarcode(unit.Barcode)
	require.NoError(t, err)
	require.Equal(t, unit.ID, data.UnitID)
	require.Equal(t, "IMEI-1", data.Serial)
	require.Equal(t, "Midnight", data.Color)
}

func TestCreateUnitsContinuesAfterBarcodeFailure(t *testing.T) {
	store := inventorytest.New()
	product := newSerialized(store)
	mgr := inventory.NewUnitManager(store, failingGenerator{fail: "B2"}, nil)

	res, err := mgr.CreateUnits(context.Background(), product.ID, []inventory.UnitEntry{
		{SerialNumber: "B1"}, {SerialNumber: "B2"}, {SerialNumber: "B3"}, {SerialNumber: "  "},
	}, inventory.Pricing{})
	require.NoError(t, err)
	require.Len(t, res.Created, 3)
	require.Len(t, res.Errors, 2)
	require.Contains(t, res.Errors[0], "barcode generation failed")
	require.Contains(t, res.Errors[1], "serial number required")
	require.Empty(t, res.Created[1].Barcode)
	require.NotEmpty(t, res.Created[2].Barcode)
}

func TestCreateUnitsRecordsInsertFailures(t *testing.T) {
	store := inventorytest.New()
	product := newSerialized(store)
	store.FailOn(inventorytest.OpInsertProductUnit, errors.New("connection reset"))
	mgr := inventory.NewUnitManager(store, nil, nil)

	res, err := mgr.CreateUnits(context.Background(), product.ID, []inventory.UnitEntry{{SerialNumber: "C1"}, {SerialNumber: "C2"}}, inventory.Pricing{})
	require.NoError(t, err)
	require.Empty(t, res.Created)
	require.Len(t, res.Errors, 2)
	require.Contains(t, res.Errors[0], "connection reset")

	_, err = mgr.CreateUnits(context.Background(), uuid.Nil, nil, inventory.Pricing{})
	require.ErrorIs(t, err, inventory.ErrValidation)
}

func TestUpdateStatusTransitions(t *testing.T) {
	store := inventorytest.New()
	product := newSerialized(store)
	mgr := inventory.NewUnitManager(store, nil, nil)
	ctx := context.Background()
	unit := store.PutUnit(inventory.ProductUnit{ProductID: product.ID, SerialNumber: "S1", Status: inventory.UnitStatusAvailable})

	updated, err := mgr.UpdateStatus(ctx, unit.ID, inventory.UnitStatusReserved)
	require.NoError(t, err)
	require.Equal(t, inventory.UnitStatusReserved, updated.Status)

	updated, err = mgr.UpdateStatus(ctx, unit.ID, inventory.UnitStatusSold)
	require.NoError(t, err)
	require.Equal(t, inventory.UnitStatusSold, updated.Status)

	for _, next := range []inventory.UnitStatus{inventory.UnitStatusReserved, inventory.UnitStatusAvailable, inventory.UnitStatusDamaged} {
		_, err = mgr.UpdateStatus(ctx, unit.ID, next)
		require.ErrorIs(t, err, inventory.ErrValidation)
		require.ErrorIs(t, err, inventory.ErrInvalidTransition)
		stored, _ := store.Unit(unit.ID)
		require.Equal(t, inventory.UnitStatusSold, stored.Status)
	}

	same, err := mgr.UpdateStatus(ctx, unit.ID, inventory.UnitStatusSold)
	require.NoError(t, err)
	require.Equal(t, inventory.UnitStatusSold, same.Status)

	_, err = mgr.UpdateStatus(ctx, unit.ID, inventory.UnitStatus("lost"))
	require.ErrorIs(t, err, inventory.ErrValidation)

	_, err = mgr.UpdateStatus(ctx, uuid.New(), inventory.UnitStatusSold)
	require.ErrorIs(t, err, inventory.ErrUnitNotFound)
}

func TestCanTransition(t *testing.T) {
	cases := []struct {
		from, to inventory.UnitStatus
		ok       bool
	}{
		{inventory.UnitStatusAvailable, inventory.UnitStatusReserved, true},
		{inventory.UnitStatusAvailable, inventory.UnitStatusSold, true},
		{inventory.UnitStatusAvailable, inventory.UnitStatusDamaged, true},
		{inventory.UnitStatusReserved, inventory.UnitStatusAvailable, true},
		{inventory.UnitStatusReserved, inventory.UnitStatusSold, true},
		{inventory.UnitStatusDamaged, inventory.UnitStatusAvailable, true},
		{inventory.UnitStatusSold, inventory.UnitStatusAvailable, false},
		{inventory.UnitStatusSold, inventory.UnitStatusReserved, false},
		{inventory.UnitStatusDamaged, inventory.UnitStatusSold, false},
		{inventory.UnitStatusReserved, inventory.UnitStatusDamaged, false},
	}
	for _, tc := range cases {
		require.Equal(t, tc.ok, inventory.CanTransition(tc.from, tc.to), "%s -> %s", tc.from, tc.to)
	}
}

func TestTransferToProductValidation(t *testing.T) {
	store := inventorytest.New()
	ctx := context.Background()
	source := newSerialized(store)
	target := newSerialized(store)
	plain := store.PutProduct(inventory.Product{Brand: "Anker", Model: "Cable", HasSerial: false, Stock: 10})
	mgr := inventory.NewUnitManager(store, nil, nil)

	unit := store.PutUnit(inventory.ProductUnit{ProductID: source.ID, SerialNumber: "T1", Status: inventory.UnitStatusAvailable})
	sold := store.PutUnit(inventory.ProductUnit{ProductID: source.ID, SerialNumber: "T2", Status: inventory.UnitStatusSold})
	store.PutUnit(inventory.ProductUnit{ProductID: target.ID, SerialNumber: "T3", Status: inventory.UnitStatusAvailable})
	clash := store.PutUnit(inventory.ProductUnit{ProductID: source.ID, SerialNumber: "T3", Status: inventory.UnitStatusAvailable})

	_, err := mgr.TransferToProduct(ctx, unit.ID, plain.ID)
	require.ErrorIs(t, err, inventory.ErrNotSerialized)

	_, err = mgr.TransferToProduct(ctx, sold.ID, target.ID)
	require.ErrorIs(t, err, inventory.ErrUnitSold)

	_, err = mgr.TransferToProduct(ctx, clash.ID, target.ID)
	require.ErrorIs(t, err, inventory.ErrDuplicateSerial)
	require.ErrorIs(t, err, inventory.ErrValidation)

	_, err = mgr.TransferToProduct(ctx, unit.ID, uuid.New())
	require.ErrorIs(t, err, inventory.ErrProductNotFound)

	require.Zero(t, store.Calls(inventorytest.OpUpdateProductUnit))

	moved, err := mgr.TransferToProduct(ctx, unit.ID, target.ID)
	require.NoError(t, err)
	require.Equal(t, target.ID, moved.ProductID)
	require.Len(t, store.UnitsOf(target.ID), 2)
}

func TestDeleteUnit(t *testing.T) {
	store := inventorytest.New()
	product := newSerialized(store)
	mgr := inventory.NewUnitManager(store, nil, nil)
	unit := store.PutUnit(inventory.ProductUnit{ProductID: product.ID, SerialNumber: "D1", Status: inventory.UnitStatusAvailable})

	require.NoError(t, mgr.DeleteUnit(context.Background(), unit.ID))
	_, ok := store.Unit(unit.ID)
	require.False(t, ok)

	err := mgr.DeleteUnit(context.Background(), unit.ID)
	require.ErrorIs(t, err, inventory.ErrUnitNotFound)
}
