package procurement

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/odyssey-erp/unitstock/internal/inventory"
	"github.com/odyssey-erp/unitstock/internal/inventory/inventorytest"
	"github.com/odyssey-erp/unitstock/internal/platform/events"
	"github.com/odyssey-erp/unitstock/internal/saga"
	"github.com/odyssey-erp/unitstock/internal/shared"
)

type memoryProductStore struct {
	inv          *inventorytest.Store
	transactions map[uuid.UUID]SupplierTransaction
	insertErr    error
	deleted      []uuid.UUID
}

func newMemoryProductStore(inv *inventorytest.Store) *memoryProductStore {
	return &memoryProductStore{inv: inv, transactions: map[uuid.UUID]SupplierTransaction{}}
}

func (m *memoryProductStore) CreateProduct(ctx context.Context, p inventory.Product) (inventory.Product, error) {
	return m.inv.PutProduct(p), nil
}

func (m *memoryProductStore) DeleteProduct(ctx context.Context, id uuid.UUID) error {
	if _, ok := m.inv.Product(id); !ok {
		return inventory.ErrProductNotFound
	}
	m.inv.RemoveProduct(id)
	m.deleted = append(m.deleted, id)
	return nil
}

func (m *memoryProductStore) FindCrossProductSerials(ctx context.Context, productID uuid.UUID, serials []string) ([]SerialConflict, error) {
	want := map[string]bool{}
	for _, s := range serials {
		want[s] = true
	}
	var out []SerialConflict
	for _, u := range m.inv.AllUnits() {
		if u.ProductID != productID && want[u.SerialNumber] {
			out = append(out, SerialConflict{Serial: u.SerialNumber, ProductID: u.ProductID, UnitID: u.ID})
		}
	}
	return out, nil
}

func (m *memoryProductStore) InsertSupplierTransaction(ctx context.Context, st SupplierTransaction) (SupplierTransaction, error) {
	if m.insertErr != nil {
		return SupplierTransaction{}, m.insertErr
	}
	m.transactions[st.ID] = st
	return st, nil
}

func (m *memoryProductStore) DeleteSupplierTransaction(ctx context.Context, id uuid.UUID) error {
	if _, ok := m.transactions[id]; !ok {
		return ErrTransactionNotFound
	}
	delete(m.transactions, id)
	return nil
}

type memoryIdempotency struct {
	mu   sync.Mutex
	keys map[string]bool
}

func (m *memoryIdempotency) CheckAndInsert(ctx context.Context, key, module string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.keys == nil {
		m.keys = map[string]bool{}
	}
	if m.keys[key] {
		return shared.ErrIdempotencyConflict
	}
	m.keys[key] = true
	return nil
}

func (m *memoryIdempotency) Delete(ctx context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.keys, key)
	return nil
}

type memoryAudit struct {
	logs []shared.AuditLog
}

func (a *memoryAudit) Record(ctx context.Context, log shared.AuditLog) error {
	a.logs = append(a.logs, log)
	return nil
}

type fixture struct {
	inv      *inventorytest.Store
	products *memoryProductStore
	idem     *memoryIdempotency
	audit    *memoryAudit
	events   *memoryPublisher
	service  *Service
}

type memoryPublisher struct {
	published []events.Event
}

func (p *memoryPublisher) Publish(ctx context.Context, evs ...events.Event) error {
	p.published = append(p.published, evs...)
	return nil
}

func newFixture() fixture {
	inv := inventorytest.New()
	products := newMemoryProductStore(inv)
	idem := &memoryIdempotency{}
	audit := &memoryAudit{}
	units := inventory.NewUnitManager(inv, nil, nil)
	pub := &memoryPublisher{}
	svc := NewService(products, inv, units, inventory.NewStockCalculator(inv), audit, idem, nil).WithEvents(pub)
	return fixture{inv: inv, products: products, idem: idem, audit: audit, events: pub, service: svc}
}

func entries(serials ...string) []inventory.UnitEntry {
	out := make([]inventory.UnitEntry, 0, len(serials))
	for _, s := range serials {
		out = append(out, inventory.UnitEntry{SerialNumber: s})
	}
	return out
}

func TestAcquireKeepsDistinctSerialsWhenPartialAllowed(t *testing.T) {
	f := newFixture()
	price := decimal.RequireFromString("899.00")
	res, err := f.service.Acquire(context.Background(), AcquisitionInput{
		Code:         "ACQ-1",
		SupplierID:   uuid.New(),
		NewProduct:   &NewProductInput{Brand: "Apple", Model: "iPhone 13", HasSerial: true, Pricing: inventory.Pricing{Price: &price}},
		Units:        entries("A1", "A2", "A1"),
		UnitCost:     decimal.RequireFromString("650.50"),
		AllowPartial: true,
		ActorID:      7,
	})
	require.NoError(t, err)
	require.Len(t, res.Units, 2)
	require.Len(t, res.Errors, 1)
	require.Contains(t, res.Errors[0], "A1")
	require.Equal(t, 2, res.Stock)
	require.Equal(t, 2, res.Product.Stock)

	require.Equal(t, 2, res.Transaction.Quantity)
	require.True(t, res.Transaction.Total.Equal(decimal.RequireFromString("1301")))
	require.Len(t, res.Transaction.UnitIDs, 2)

	for _, u := range res.Units {
		require.NotNil(t, u.Pricing.Price)
		require.True(t, u.Pricing.Price.Equal(price))
	}
	require.Len(t, f.audit.logs, 1)
	require.Equal(t, "procurement:acquisition", f.audit.logs[0].Action)
	require.Equal(t, int64(7), f.audit.logs[0].ActorID)

	require.Len(t, f.events.published, 1)
	ev := f.events.published[0]
	require.Equal(t, events.TopicAcquisitionRecorded, ev.Topic)
	require.Equal(t, res.Product.ID.String(), ev.Key)
	payload, ok := ev.Payload.(AcquisitionEvent)
	require.True(t, ok)
	require.Equal(t, "ACQ-1", payload.Code)
	require.Equal(t, 2, payload.Stock)
}

func TestAcquireRollsBackWhenPartialNotAllowed(t *testing.T) {
	f := newFixture()
	ctx := context.Background()
	input := AcquisitionInput{
		Code:       "ACQ-2",
		SupplierID: uuid.New(),
		NewProduct: &NewProductInput{Brand: "Samsung", Model: "S22", HasSerial: true},
		Units:      entries("B1", "B1"),
	}
	res, err := f.service.Acquire(ctx, input)
	require.ErrorIs(t, err, saga.ErrTransactionFailed)
	require.ErrorIs(t, err, ErrPartialUnits)
	require.Empty(t, res.Units)

	require.Len(t, f.products.deleted, 1)
	_, ok := f.inv.Product(f.products.deleted[0])
	require.False(t, ok)
	require.Empty(t, f.inv.AllUnits())
	require.Empty(t, f.products.transactions)
	require.Empty(t, f.audit.logs)
	require.Empty(t, f.events.published)

	// the code is released so a corrected retry can run
	input.Units = entries("B1", "B2")
	res, err = f.service.Acquire(ctx, input)
	require.NoError(t, err)
	require.Len(t, res.Units, 2)
}

func TestAcquireRollsBackProductWhenUnitsFail(t *testing.T) {
	f := newFixture()
	f.inv.FailOn(inventorytest.OpInsertProductUnit, errors.New("disk full"))

	_, err := f.service.Acquire(context.Background(), AcquisitionInput{
		Code:         "ACQ-3",
		SupplierID:   uuid.New(),
		NewProduct:   &NewProductInput{Brand: "Google", Model: "Pixel 7", HasSerial: true},
		Units:        entries("C1"),
		AllowPartial: true,
	})
	require.ErrorIs(t, err, saga.ErrTransactionFailed)
	require.Len(t, f.products.deleted, 1)
	require.Empty(t, f.products.transactions)
}

func TestAcquireRestoresStockWhenTransactionFails(t *testing.T) {
	f := newFixture()
	cable := f.inv.PutProduct(inventory.Product{Brand: "Anker", Model: "USB-C", Stock: 4})
	f.products.insertErr = errors.New("constraint violated")

	_, err := f.service.Acquire(context.Background(), AcquisitionInput{
		Code:       "ACQ-4",
		SupplierID: uuid.New(),
		ProductID:  &cable.ID,
		Quantity:   10,
		UnitCost:   decimal.NewFromInt(3),
	})
	require.ErrorIs(t, err, saga.ErrTransactionFailed)
	stored, _ := f.inv.Product(cable.ID)
	require.Equal(t, 4, stored.Stock)
	require.Empty(t, f.products.deleted)
}

func TestAcquireIncreasesNonSerializedStock(t *testing.T) {
	f := newFixture()
	cable := f.inv.PutProduct(inventory.Product{Brand: "Anker", Model: "USB-C", Stock: 4})

	res, err := f.service.Acquire(context.Background(), AcquisitionInput{
		Code:       "ACQ-5",
		SupplierID: uuid.New(),
		ProductID:  &cable.ID,
		Quantity:   10,
		UnitCost:   decimal.RequireFromString("2.25"),
	})
	require.NoError(t, err)
	require.Equal(t, 14, res.Stock)
	require.Equal(t, 14, res.Product.Stock)
	require.True(t, res.Transaction.Total.Equal(decimal.RequireFromString("22.5")))
	require.Empty(t, res.Units)
}

func TestAcquireRejectsReusedCode(t *testing.T) {
	f := newFixture()
	cable := f.inv.PutProduct(inventory.Product{Stock: 1})
	input := AcquisitionInput{Code: "ACQ-6", SupplierID: uuid.New(), ProductID: &cable.ID, Quantity: 1}

	_, err := f.service.Acquire(context.Background(), input)
	require.NoError(t, err)
	input.Code = " acq-6 "
	_, err = f.service.Acquire(context.Background(), input)
	require.ErrorIs(t, err, ErrDuplicateAcquisition)

	stored, _ := f.inv.Product(cable.ID)
	require.Equal(t, 2, stored.Stock)
}

func TestAcquireWarnsAboutSerialsOfOtherProducts(t *testing.T) {
	f := newFixture()
	other := f.inv.PutProduct(inventory.Product{HasSerial: true})
	f.inv.PutUnit(inventory.ProductUnit{ProductID: other.ID, SerialNumber: "SHARED", Status: inventory.UnitStatusAvailable})
	phone := f.inv.PutProduct(inventory.Product{HasSerial: true})

	res, err := f.service.Acquire(context.Background(), AcquisitionInput{
		Code:       "ACQ-7",
		SupplierID: uuid.New(),
		ProductID:  &phone.ID,
		Units:      entries("shared", "OWN"),
	})
	require.NoError(t, err)
	require.Len(t, res.Units, 2)
	require.Len(t, res.Warnings, 1)
	require.Contains(t, res.Warnings[0], "SHARED")
	require.Contains(t, res.Warnings[0], other.ID.String())
}

func TestAcquireValidatesInput(t *testing.T) {
	f := newFixture()
	phone := f.inv.PutProduct(inventory.Product{HasSerial: true})
	cable := f.inv.PutProduct(inventory.Product{})
	supplier := uuid.New()

	cases := map[string]AcquisitionInput{
		"missing code":         {SupplierID: supplier, ProductID: &phone.ID, Units: entries("X")},
		"missing supplier":     {Code: "V1", ProductID: &phone.ID, Units: entries("X")},
		"no product":           {Code: "V2", SupplierID: supplier, Units: entries("X")},
		"both products":        {Code: "V3", SupplierID: supplier, ProductID: &phone.ID, NewProduct: &NewProductInput{Brand: "a", Model: "b"}, Units: entries("X")},
		"serialized no units":  {Code: "V4", SupplierID: supplier, ProductID: &phone.ID, Quantity: 3},
		"units on plain stock": {Code: "V5", SupplierID: supplier, ProductID: &cable.ID, Units: entries("X")},
		"zero quantity":        {Code: "V6", SupplierID: supplier, ProductID: &cable.ID},
		"negative cost":        {Code: "V7", SupplierID: supplier, ProductID: &cable.ID, Quantity: 1, UnitCost: decimal.NewFromInt(-1)},
		"blank brand":          {Code: "V8", SupplierID: supplier, NewProduct: &NewProductInput{Model: "b"}, Quantity: 1},
	}
	for name, input := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := f.service.Acquire(context.Background(), input)
			require.ErrorIs(t, err, ErrValidation)
		})
	}
	require.Empty(t, f.idem.keys)
}

func TestAcquireUnknownProduct(t *testing.T) {
	f := newFixture()
	missing := uuid.New()
	_, err := f.service.Acquire(context.Background(), AcquisitionInput{Code: "N1", SupplierID: uuid.New(), ProductID: &missing, Quantity: 1})
	require.ErrorIs(t, err, inventory.ErrProductNotFound)
}
