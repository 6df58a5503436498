// Package inventorytest provides an in-memory inventory.Store for tests.
package inventorytest

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/odyssey-erp/unitstock/internal/inventory"
)

// Store operation names passed to FailFn.
const (
	OpGetProduct             = "GetProduct"
	OpListSerializedProducts = "ListSerializedProducts"
	OpUpdateProductStock     = "UpdateProductStock"
	OpGetProductUnits        = "GetProductUnits"
	OpGetUnit                = "GetUnit"
	OpFindUnitBySerial       = "FindUnitBySerial"
	OpInsertProductUnit      = "InsertProductUnit"
	OpUpdateProductUnit      = "UpdateProductUnit"
	OpUpdateUnitStatus       = "UpdateUnitStatus"
	OpDeleteProductUnit      = "DeleteProductUnit"
	OpCountAvailableUnits    = "CountAvailableUnits"
	OpCountAvailableByProd   = "CountAvailableUnitsByProduct"
	OpListUnitsByStatus      = "ListUnitsByStatus"
	OpListOrphanedUnits      = "ListOrphanedUnits"
	OpQuerySalesBySerial     = "QuerySalesBySerial"
	OpCompletedSaleKeys      = "CompletedSaleKeys"
	OpListSerialSales        = "ListSerialSales"
)

// SaleItem is one line of a recorded sale.
type SaleItem struct {
	ProductID    uuid.UUID
	SerialNumber string
}

// Sale is a recorded sale with its status.
type Sale struct {
	ID     uuid.UUID
	Status inventory.SaleStatus
	SoldAt time.Time
	Items  []SaleItem
}

// Store keeps products, units and sales in maps guarded by a mutex.
type Store struct {
	mu       sync.Mutex
	products map[uuid.UUID]inventory.Product
	units    map[uuid.UUID]inventory.ProductUnit
	sales    []Sale

	// FailFn, when set, is consulted before every operation; a non-nil
	// return value is returned by the operation without touching state.
	FailFn func(op string, id uuid.UUID) error

	calls map[string]int
}

// New returns an empty Store.
func New() *Store {
	return &Store{
		products: map[uuid.UUID]inventory.Product{},
		units:    map[uuid.UUID]inventory.ProductUnit{},
		calls:    map[string]int{},
	}
}

var _ inventory.Store = (*Store)(nil)

// FailOn makes op fail with err for every id.
func (s *Store) FailOn(op string, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	prev := s.FailFn
	s.FailFn = func(o string, id uuid.UUID) error {
		if o == op {
			return err
		}
		if prev != nil {
			return prev(o, id)
		}
		return nil
	}
}

// Calls reports how many times op was invoked.
func (s *Store) Calls(op string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls[op]
}

// PutProduct inserts or replaces a product. A nil id is assigned.
func (s *Store) PutProduct(p inventory.Product) inventory.Product {
	s.mu.Lock()
	defer s.mu.Unlock()
	if p.ID == uuid.Nil {
		p.ID = uuid.New()
	}
	s.products[p.ID] = p
	return p
}

// RemoveProduct deletes a product without touching its units.
func (s *Store) RemoveProduct(id uuid.UUID) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.products, id)
}

// PutUnit inserts or replaces a unit bypassing constraints.
func (s *Store) PutUnit(u inventory.ProductUnit) inventory.ProductUnit {
	s.mu.Lock()
	defer s.mu.Unlock()
	if u.ID == uuid.Nil {
		u.ID = uuid.New()
	}
	u.SerialNumber = inventory.NormalizeSerial(u.SerialNumber)
	s.units[u.ID] = u
	return u
}

// AddSale records a sale.
func (s *Store) AddSale(sale Sale) Sale {
	s.mu.Lock()
	defer s.mu.Unlock()
	if sale.ID == uuid.Nil {
		sale.ID = uuid.New()
	}
	s.sales = append(s.sales, sale)
	return sale
}

// Product returns the stored product.
func (s *Store) Product(id uuid.UUID) (inventory.Product, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.products[id]
	return p, ok
}

// Unit returns the stored unit.
func (s *Store) Unit(id uuid.UUID) (inventory.ProductUnit, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.units[id]
	return u, ok
}

// UnitsOf returns the units of a product sorted by serial.
func (s *Store) UnitsOf(productID uuid.UUID) []inventory.ProductUnit {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.unitsOf(productID)
}

// AllUnits returns every unit sorted by serial.
func (s *Store) AllUnits() []inventory.ProductUnit {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]inventory.ProductUnit, 0, len(s.units))
	for _, u := range s.units {
		out = append(out, u)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].SerialNumber < out[j].SerialNumber })
	return out
}

func (s *Store) unitsOf(productID uuid.UUID) []inventory.ProductUnit {
	out := []inventory.ProductUnit{}
	for _, u := range s.units {
		if u.ProductID == productID {
			out = append(out, u)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].SerialNumber < out[j].SerialNumber })
	return out
}

func (s *Store) enter(op string, id uuid.UUID) error {
	s.calls[op]++
	if s.FailFn != nil {
		return s.FailFn(op, id)
	}
	return nil
}

func (s *Store) GetProduct(ctx context.Context, id uuid.UUID) (inventory.Product, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.enter(OpGetProduct, id); err != nil {
		return inventory.Product{}, err
	}
	p, ok := s.products[id]
	if !ok {
		return inventory.Product{}, inventory.ErrProductNotFound
	}
	return p, nil
}

func (s *Store) ListSerializedProducts(ctx context.Context) ([]inventory.Product, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.enter(OpListSerializedProducts, uuid.Nil); err != nil {
		return nil, err
	}
	out := []inventory.Product{}
	for _, p := range s.products {
		if p.HasSerial {
			out = append(out, p)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID.String() < out[j].ID.String() })
	return out, nil
}

func (s *Store) UpdateProductStock(ctx context.Context, productID uuid.UUID, value int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.enter(OpUpdateProductStock, productID); err != nil {
		return err
	}
	p, ok := s.products[productID]
	if !ok {
		return inventory.ErrProductNotFound
	}
	p.Stock = value
	p.UpdatedAt = time.Now().UTC()
	s.products[productID] = p
	return nil
}

func (s *Store) GetProductUnits(ctx context.Context, productID uuid.UUID) ([]inventory.ProductUnit, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.enter(OpGetProductUnits, productID); err != nil {
		return nil, err
	}
	return s.unitsOf(productID), nil
}

func (s *Store) GetUnit(ctx context.Context, id uuid.UUID) (inventory.ProductUnit, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.enter(OpGetUnit, id); err != nil {
		return inventory.ProductUnit{}, err
	}
	u, ok := s.units[id]
	if !ok {
		return inventory.ProductUnit{}, inventory.ErrUnitNotFound
	}
	return u, nil
}

func (s *Store) FindUnitBySerial(ctx context.Context, productID uuid.UUID, serial string) (inventory.ProductUnit, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.enter(OpFindUnitBySerial, productID); err != nil {
		return inventory.ProductUnit{}, err
	}
	if u, ok := s.findSerial(productID, serial); ok {
		return u, nil
	}
	return inventory.ProductUnit{}, inventory.ErrUnitNotFound
}

func (s *Store) findSerial(productID uuid.UUID, serial string) (inventory.ProductUnit, bool) {
	want := inventory.NormalizeSerial(serial)
	for _, u := range s.units {
		if u.ProductID == productID && u.SerialNumber == want {
			return u, true
		}
	}
	return inventory.ProductUnit{}, false
}

func (s *Store) InsertProductUnit(ctx context.Context, unit inventory.ProductUnit) (inventory.ProductUnit, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.enter(OpInsertProductUnit, unit.ProductID); err != nil {
		return inventory.ProductUnit{}, err
	}
	unit.SerialNumber = inventory.NormalizeSerial(unit.SerialNumber)
	if _, dup := s.findSerial(unit.ProductID, unit.SerialNumber); dup {
		return inventory.ProductUnit{}, inventory.ErrDuplicateSerial
	}
	if unit.ID == uuid.Nil {
		unit.ID = uuid.New()
	}
	now := time.Now().UTC()
	unit.CreatedAt, unit.UpdatedAt = now, now
	s.units[unit.ID] = unit
	return unit, nil
}

func (s *Store) UpdateProductUnit(ctx context.Context, id uuid.UUID, update inventory.UnitUpdate) (inventory.ProductUnit, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.enter(OpUpdateProductUnit, id); err != nil {
		return inventory.ProductUnit{}, err
	}
	u, ok := s.units[id]
	if !ok {
		return inventory.ProductUnit{}, inventory.ErrUnitNotFound
	}
	if update.ProductID != nil && *update.ProductID != u.ProductID {
		if _, dup := s.findSerial(*update.ProductID, u.SerialNumber); dup {
			return inventory.ProductUnit{}, inventory.ErrDuplicateSerial
		}
		u.ProductID = *update.ProductID
	}
	if update.Barcode != nil && u.Barcode == "" {
		u.Barcode = *update.Barcode
	}
	u.UpdatedAt = time.Now().UTC()
	s.units[id] = u
	return u, nil
}

func (s *Store) UpdateUnitStatus(ctx context.Context, id uuid.UUID, status inventory.UnitStatus) (inventory.ProductUnit, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.enter(OpUpdateUnitStatus, id); err != nil {
		return inventory.ProductUnit{}, err
	}
	u, ok := s.units[id]
	if !ok {
		return inventory.ProductUnit{}, inventory.ErrUnitNotFound
	}
	u.Status = status
	u.UpdatedAt = time.Now().UTC()
	s.units[id] = u
	return u, nil
}

func (s *Store) DeleteProductUnit(ctx context.Context, id uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.enter(OpDeleteProductUnit, id); err != nil {
		return err
	}
	if _, ok := s.units[id]; !ok {
		return inventory.ErrUnitNotFound
	}
	delete(s.units, id)
	return nil
}

func (s *Store) CountAvailableUnits(ctx context.Context, productID uuid.UUID) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.enter(OpCountAvailableUnits, productID); err != nil {
		return 0, err
	}
	n := 0
	for _, u := range s.units {
		if u.ProductID == productID && u.Status == inventory.UnitStatusAvailable {
			n++
		}
	}
	return n, nil
}

func (s *Store) CountAvailableUnitsByProduct(ctx context.Context) (map[uuid.UUID]int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.enter(OpCountAvailableByProd, uuid.Nil); err != nil {
		return nil, err
	}
	out := map[uuid.UUID]int{}
	for _, u := range s.units {
		if u.Status == inventory.UnitStatusAvailable {
			out[u.ProductID]++
		}
	}
	return out, nil
}

func (s *Store) ListUnitsByStatus(ctx context.Context, statuses ...inventory.UnitStatus) ([]inventory.ProductUnit, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.enter(OpListUnitsByStatus, uuid.Nil); err != nil {
		return nil, err
	}
	want := map[inventory.UnitStatus]bool{}
	for _, st := range statuses {
		want[st] = true
	}
	out := []inventory.ProductUnit{}
	for _, u := range s.units {
		if want[u.Status] {
			out = append(out, u)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].SerialNumber < out[j].SerialNumber })
	return out, nil
}

func (s *Store) ListOrphanedUnits(ctx context.Context) ([]inventory.ProductUnit, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.enter(OpListOrphanedUnits, uuid.Nil); err != nil {
		return nil, err
	}
	out := []inventory.ProductUnit{}
	for _, u := range s.units {
		if _, ok := s.products[u.ProductID]; !ok {
			out = append(out, u)
		}
	}
	return out, nil
}

func (s *Store) QuerySalesBySerial(ctx context.Context, productID uuid.UUID, serial string) ([]inventory.SaleReference, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.enter(OpQuerySalesBySerial, productID); err != nil {
		return nil, err
	}
	want := inventory.NormalizeSerial(serial)
	out := []inventory.SaleReference{}
	for _, sale := range s.sales {
		for _, item := range sale.Items {
			if item.ProductID == productID && inventory.NormalizeSerial(item.SerialNumber) == want {
				out = append(out, inventory.SaleReference{
					SaleID:       sale.ID,
					ProductID:    item.ProductID,
					SerialNumber: item.SerialNumber,
					Status:       sale.Status,
					SoldAt:       sale.SoldAt,
				})
			}
		}
	}
	return out, nil
}

func (s *Store) CompletedSaleKeys(ctx context.Context) (map[inventory.SerialKey]struct{}, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.enter(OpCompletedSaleKeys, uuid.Nil); err != nil {
		return nil, err
	}
	out := map[inventory.SerialKey]struct{}{}
	for _, sale := range s.sales {
		if sale.Status != inventory.SaleStatusCompleted {
			continue
		}
		for _, item := range sale.Items {
			if item.SerialNumber == "" {
				continue
			}
			out[inventory.SerialKey{ProductID: item.ProductID, Serial: inventory.NormalizeSerial(item.SerialNumber)}] = struct{}{}
		}
	}
	return out, nil
}

func (s *Store) ListSerialSales(ctx context.Context) ([]inventory.SaleSerialRef, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.enter(OpListSerialSales, uuid.Nil); err != nil {
		return nil, err
	}
	out := []inventory.SaleSerialRef{}
	for _, sale := range s.sales {
		for _, item := range sale.Items {
			if item.SerialNumber == "" {
				continue
			}
			p, exists := s.products[item.ProductID]
			_, unitExists := s.findSerial(item.ProductID, item.SerialNumber)
			out = append(out, inventory.SaleSerialRef{
				SaleID:        sale.ID,
				ProductID:     item.ProductID,
				SerialNumber:  item.SerialNumber,
				ProductExists: exists,
				HasSerial:     exists && p.HasSerial,
				UnitExists:    unitExists,
			})
		}
	}
	return out, nil
}
