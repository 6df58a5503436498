package procurement

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/odyssey-erp/unitstock/internal/inventory"
	"github.com/odyssey-erp/unitstock/internal/platform/db"
)

// Repository provides PostgreSQL backed persistence.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs a repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

var _ ProductStore = (*Repository)(nil)

// CreateProduct inserts a catalogue product.
func (r *Repository) CreateProduct(ctx context.Context, p inventory.Product) (inventory.Product, error) {
	if p.ID == uuid.Nil {
		p.ID = uuid.New()
	}
	row := r.pool.QueryRow(ctx, `INSERT INTO products (id, brand, model, category, stock, threshold, has_serial, price, min_price, max_price, supplier_id)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11)
RETURNING `+inventory.ProductColumns,
		p.ID, p.Brand, p.Model, p.Category, p.Stock, p.Threshold, p.HasSerial,
		inventory.NullDecimal(p.Pricing.Price), inventory.NullDecimal(p.Pricing.MinPrice), inventory.NullDecimal(p.Pricing.MaxPrice),
		p.SupplierID)
	created, err := inventory.ScanProduct(row)
	if err != nil {
		return inventory.Product{}, fmt.Errorf("procurement: create product: %w", err)
	}
	return created, nil
}

// DeleteProduct removes a product row.
func (r *Repository) DeleteProduct(ctx context.Context, id uuid.UUID) error {
	tag, err := r.pool.Exec(ctx, `DELETE FROM products WHERE id=$1`, id)
	if err != nil {
		return fmt.Errorf("procurement: delete product %s: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return inventory.ErrProductNotFound
	}
	return nil
}

// FindCrossProductSerials lists units of other products carrying one of serials.
func (r *Repository) FindCrossProductSerials(ctx context.Context, productID uuid.UUID, serials []string) ([]SerialConflict, error) {
	if len(serials) == 0 {
		return nil, nil
	}
	rows, err := r.pool.Query(ctx, `SELECT serial_number, product_id, id FROM product_units
WHERE serial_number = ANY($1) AND product_id <> $2
ORDER BY serial_number, product_id`, serials, productID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []SerialConflict
	for rows.Next() {
		var c SerialConflict
		if err := rows.Scan(&c.Serial, &c.ProductID, &c.UnitID); err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

// InsertSupplierTransaction writes the transaction header and its unit lines.
func (r *Repository) InsertSupplierTransaction(ctx context.Context, st SupplierTransaction) (SupplierTransaction, error) {
	if st.ID == uuid.Nil {
		st.ID = uuid.New()
	}
	err := db.WithTx(ctx, r.pool, func(tx pgx.Tx) error {
		var createdAt time.Time
		err := tx.QueryRow(ctx, `INSERT INTO supplier_transactions (id, code, supplier_id, product_id, quantity, unit_cost, total, actor_id)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8) RETURNING created_at`,
			st.ID, st.Code, st.SupplierID, st.ProductID, st.Quantity, st.UnitCost, st.Total, st.ActorID).Scan(&createdAt)
		if err != nil {
			return err
		}
		st.CreatedAt = createdAt
		for _, unitID := range st.UnitIDs {
			if _, err := tx.Exec(ctx, `INSERT INTO supplier_transaction_units (transaction_id, unit_id) VALUES ($1,$2)`, st.ID, unitID); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return SupplierTransaction{}, fmt.Errorf("procurement: insert supplier transaction %s: %w", st.Code, err)
	}
	return st, nil
}

// DeleteSupplierTransaction removes a transaction and its unit lines.
func (r *Repository) DeleteSupplierTransaction(ctx context.Context, id uuid.UUID) error {
	return db.WithTx(ctx, r.pool, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx, `DELETE FROM supplier_transaction_units WHERE transaction_id=$1`, id); err != nil {
			return err
		}
		tag, err := tx.Exec(ctx, `DELETE FROM supplier_transactions WHERE id=$1`, id)
		if err != nil {
			return err
		}
		if tag.RowsAffected() == 0 {
			return ErrTransactionNotFound
		}
		return nil
	})
}
