package inventory

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"
)

const (
	uniqueViolation      = "23505"
	uniqueUnitSerialName = "uq_product_units_serial"
)

const productColumns = `id, brand, model, category, stock, threshold, has_serial, price, min_price, max_price, supplier_id, created_at, updated_at`

const unitColumns = `u.id, u.product_id, u.serial_number, COALESCE(u.barcode, ''), u.price, u.min_price, u.max_price,
COALESCE(u.color, ''), COALESCE(u.storage, ''), COALESCE(u.ram, ''), u.battery_level, u.status, u.created_at, u.updated_at`

// Repository persists products, units and sale lookups in PostgreSQL.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs Repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

var _ Store = (*Repository)(nil)

func (r *Repository) GetProduct(ctx context.Context, id uuid.UUID) (Product, error) {
	row := r.pool.QueryRow(ctx, `SELECT `+productColumns+` FROM products WHERE id=$1`, id)
	p, err := scanProduct(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Product{}, ErrProductNotFound
		}
		return Product{}, err
	}
	return p, nil
}

func (r *Repository) ListSerializedProducts(ctx context.Context) ([]Product, error) {
	rows, err := r.pool.Query(ctx, `SELECT `+productColumns+` FROM products WHERE has_serial ORDER BY brand, model`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	products := []Product{}
	for rows.Next() {
		p, err := scanProduct(rows)
		if err != nil {
			return nil, err
		}
		products = append(products, p)
	}
	return products, rows.Err()
}

func (r *Repository) UpdateProductStock(ctx context.Context, productID uuid.UUID, value int) error {
	tag, err := r.pool.Exec(ctx, `UPDATE products SET stock=$2, updated_at=NOW() WHERE id=$1`, productID, value)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrProductNotFound
	}
	return nil
}

func (r *Repository) GetProductUnits(ctx context.Context, productID uuid.UUID) ([]ProductUnit, error) {
	return r.queryUnits(ctx, `SELECT `+unitColumns+` FROM product_units u WHERE u.product_id=$1 ORDER BY u.created_at, u.serial_number`, productID)
}

func (r *Repository) GetUnit(ctx context.Context, id uuid.UUID) (ProductUnit, error) {
	unit, err := scanUnit(r.pool.QueryRow(ctx, `SELECT `+unitColumns+` FROM product_units u WHERE u.id=$1`, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return ProductUnit{}, ErrUnitNotFound
		}
		return ProductUnit{}, err
	}
	return unit, nil
}

func (r *Repository) FindUnitBySerial(ctx context.Context, productID uuid.UUID, serial string) (ProductUnit, error) {
	unit, err := scanUnit(r.pool.QueryRow(ctx, `SELECT `+unitColumns+` FROM product_units u WHERE u.product_id=$1 AND u.serial_number=$2`, productID, NormalizeSerial(serial)))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return ProductUnit{}, ErrUnitNotFound
		}
		return ProductUnit{}, err
	}
	return unit, nil
}

func (r *Repository) InsertProductUnit(ctx context.Context, unit ProductUnit) (ProductUnit, error) {
	if unit.ID == uuid.Nil {
		unit.ID = uuid.New()
	}
	row := r.pool.QueryRow(ctx, `INSERT INTO product_units AS u (id, product_id, serial_number, price, min_price, max_price, color, storage, ram, battery_level, status, created_at, updated_at)
VALUES ($1,$2,$3,$4,$5,$6,NULLIF($7,''),NULLIF($8,''),NULLIF($9,''),$10,$11,NOW(),NOW())
RETURNING `+unitColumns,
		unit.ID, unit.ProductID, NormalizeSerial(unit.SerialNumber),
		nullDecimal(unit.Pricing.Price), nullDecimal(unit.Pricing.MinPrice), nullDecimal(unit.Pricing.MaxPrice),
		unit.Specs.Color, unit.Specs.Storage, unit.Specs.RAM, unit.Specs.BatteryLevel, string(unit.Status))
	inserted, err := scanUnit(row)
	if err != nil {
		return ProductUnit{}, mapUnitWriteError(err)
	}
	return inserted, nil
}

// UpdateProductUnit rewrites barcode and owning product. A barcode, once set,
// is never overwritten.
func (r *Repository) UpdateProductUnit(ctx context.Context, id uuid.UUID, update UnitUpdate) (ProductUnit, error) {
	row := r.pool.QueryRow(ctx, `UPDATE product_units AS u SET
	product_id = COALESCE($2, u.product_id),
	barcode = COALESCE(u.barcode, $3),
	updated_at = NOW()
WHERE u.id=$1
RETURNING `+unitColumns, id, update.ProductID, update.Barcode)
	unit, err := scanUnit(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return ProductUnit{}, ErrUnitNotFound
		}
		return ProductUnit{}, mapUnitWriteError(err)
	}
	return unit, nil
}

func (r *Repository) UpdateUnitStatus(ctx context.Context, id uuid.UUID, status UnitStatus) (ProductUnit, error) {
	unit, err := scanUnit(r.pool.QueryRow(ctx, `UPDATE product_units AS u SET status=$2, updated_at=NOW() WHERE u.id=$1 RETURNING `+unitColumns, id, string(status)))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return ProductUnit{}, ErrUnitNotFound
		}
		return ProductUnit{}, err
	}
	return unit, nil
}

func (r *Repository) DeleteProductUnit(ctx context.Context, id uuid.UUID) error {
	tag, err := r.pool.Exec(ctx, `DELETE FROM product_units WHERE id=$1`, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrUnitNotFound
	}
	return nil
}

func (r *Repository) CountAvailableUnits(ctx context.Context, productID uuid.UUID) (int, error) {
	var count int
	err := r.pool.QueryRow(ctx, `SELECT COUNT(*) FROM product_units WHERE product_id=$1 AND status=$2`, productID, string(UnitStatusAvailable)).Scan(&count)
	return count, err
}

func (r *Repository) CountAvailableUnitsByProduct(ctx context.Context) (map[uuid.UUID]int, error) {
	rows, err := r.pool.Query(ctx, `SELECT product_id, COUNT(*) FROM product_units WHERE status=$1 GROUP BY product_id`, string(UnitStatusAvailable))
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	counts := map[uuid.UUID]int{}
	for rows.Next() {
		var id uuid.UUID
		var count int
		if err := rows.Scan(&id, &count); err != nil {
			return nil, err
		}
		counts[id] = count
	}
	return counts, rows.Err()
}

func (r *Repository) ListUnitsByStatus(ctx context.Context, statuses ...UnitStatus) ([]ProductUnit, error) {
	values := make([]string, 0, len(statuses))
	for _, s := range statuses {
		values = append(values, string(s))
	}
	return r.queryUnits(ctx, `SELECT `+unitColumns+` FROM product_units u WHERE u.status = ANY($1) ORDER BY u.product_id, u.serial_number`, values)
}

func (r *Repository) ListOrphanedUnits(ctx context.Context) ([]ProductUnit, error) {
	return r.queryUnits(ctx, `SELECT `+unitColumns+` FROM product_units u
LEFT JOIN products p ON p.id = u.product_id
WHERE p.id IS NULL
ORDER BY u.product_id, u.serial_number`)
}

func (r *Repository) QuerySalesBySerial(ctx context.Context, productID uuid.UUID, serial string) ([]SaleReference, error) {
	rows, err := r.pool.Query(ctx, `SELECT s.id, si.product_id, si.serial_number, s.status, s.sold_at
FROM sale_items si
JOIN sales s ON s.id = si.sale_id
WHERE si.product_id=$1 AND UPPER(TRIM(si.serial_number))=$2
ORDER BY s.sold_at DESC`, productID, NormalizeSerial(serial))
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	refs := []SaleReference{}
	for rows.Next() {
		var ref SaleReference
		var status string
		if err := rows.Scan(&ref.SaleID, &ref.ProductID, &ref.SerialNumber, &status, &ref.SoldAt); err != nil {
			return nil, err
		}
		ref.Status = SaleStatus(status)
		refs = append(refs, ref)
	}
	return refs, rows.Err()
}

func (r *Repository) CompletedSaleKeys(ctx context.Context) (map[SerialKey]struct{}, error) {
	rows, err := r.pool.Query(ctx, `SELECT DISTINCT si.product_id, UPPER(TRIM(si.serial_number))
FROM sale_items si
JOIN sales s ON s.id = si.sale_id
WHERE s.status=$1 AND si.serial_number IS NOT NULL AND si.serial_number <> ''`, string(SaleStatusCompleted))
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	keys := map[SerialKey]struct{}{}
	for rows.Next() {
		var k SerialKey
		if err := rows.Scan(&k.ProductID, &k.Serial); err != nil {
			return nil, err
		}
		keys[k] = struct{}{}
	}
	return keys, rows.Err()
}

func (r *Repository) ListSerialSales(ctx context.Context) ([]SaleSerialRef, error) {
	rows, err := r.pool.Query(ctx, `SELECT si.sale_id, si.product_id, si.serial_number,
	p.id IS NOT NULL AS product_exists,
	COALESCE(p.has_serial, FALSE) AS has_serial,
	EXISTS (SELECT 1 FROM product_units u WHERE u.product_id = si.product_id AND u.serial_number = UPPER(TRIM(si.serial_number))) AS unit_exists
FROM sale_items si
LEFT JOIN products p ON p.id = si.product_id
WHERE si.serial_number IS NOT NULL AND si.serial_number <> ''`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	refs := []SaleSerialRef{}
	for rows.Next() {
		var ref SaleSerialRef
		if err := rows.Scan(&ref.SaleID, &ref.ProductID, &ref.SerialNumber, &ref.ProductExists, &ref.HasSerial, &ref.UnitExists); err != nil {
			return nil, err
		}
		refs = append(refs, ref)
	}
	return refs, rows.Err()
}

func (r *Repository) queryUnits(ctx context.Context, query string, args ...any) ([]ProductUnit, error) {
	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	units := []ProductUnit{}
	for rows.Next() {
		u, err := scanUnit(rows)
		if err != nil {
			return nil, err
		}
		units = append(units, u)
	}
	return units, rows.Err()
}

// ScanProduct reads a row laid out as productColumns. Exported for stores in
// sibling packages that share the products table.
func ScanProduct(row pgx.Row) (Product, error) {
	return scanProduct(row)
}

// ProductColumns is the select list understood by ScanProduct.
const ProductColumns = productColumns

func scanProduct(row pgx.Row) (Product, error) {
	var (
		p                    Product
		price, minP, maxP    decimal.NullDecimal
		supplierID           *uuid.UUID
		createdAt, updatedAt time.Time
	)
	if err := row.Scan(&p.ID, &p.Brand, &p.Model, &p.Category, &p.Stock, &p.Threshold, &p.HasSerial, &price, &minP, &maxP, &supplierID, &createdAt, &updatedAt); err != nil {
		return Product{}, err
	}
	p.Pricing = Pricing{Price: fromNullDecimal(price), MinPrice: fromNullDecimal(minP), MaxPrice: fromNullDecimal(maxP)}
	p.SupplierID = supplierID
	p.CreatedAt = createdAt
	p.UpdatedAt = updatedAt
	return p, nil
}

func scanUnit(row pgx.Row) (ProductUnit, error) {
	var (
		u                 ProductUnit
		price, minP, maxP decimal.NullDecimal
		battery           *int
		status            string
	)
	if err := row.Scan(&u.ID, &u.ProductID, &u.SerialNumber, &u.Barcode, &price, &minP, &maxP,
		&u.Specs.Color, &u.Specs.Storage, &u.Specs.RAM, &battery, &status, &u.CreatedAt, &u.UpdatedAt); err != nil {
		return ProductUnit{}, err
	}
	u.Pricing = Pricing{Price: fromNullDecimal(price), MinPrice: fromNullDecimal(minP), MaxPrice: fromNullDecimal(maxP)}
	u.Specs.BatteryLevel = battery
	u.Status = UnitStatus(status)
	return u, nil
}

func mapUnitWriteError(err error) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation && pgErr.ConstraintName == uniqueUnitSerialName {
		return fmt.Errorf("%w: %s", ErrDuplicateSerial, pgErr.Detail)
	}
	return err
}

// NullDecimal converts an optional amount into a query argument.
func NullDecimal(d *decimal.Decimal) decimal.NullDecimal {
	return nullDecimal(d)
}

func nullDecimal(d *decimal.Decimal) decimal.NullDecimal {
	if d == nil {
		return decimal.NullDecimal{}
	}
	return decimal.NullDecimal{Decimal: *d, Valid: true}
}

func fromNullDecimal(d decimal.NullDecimal) *decimal.Decimal {
	if !d.Valid {
		return nil
	}
	v := d.Decimal
	return &v
}
