package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/erazemk/predaja/internal/model"
)

// ProductSeqCounter names the counter row that hands out product sequence numbers.
const ProductSeqCounter = "product_seq"

const productColumns = `id, seq, name, description, sku, category,
	quantity, min_stock, max_stock, last_restocked, created_by, created_at, updated_at`

// NewProduct holds the fields supplied when creating a product.
type NewProduct struct {
	Name        string
	Description string
	SKU         string
	Category    string
	Quantity    int
	MinStock    int
	MaxStock    int
	CreatedBy   *int64
}

// ProductUpdate holds the editable metadata of a product. Quantity is only
// changed through the stock ledger.
type ProductUpdate struct {
	Name        string
	Description string
	SKU         string
	Category    string
	MinStock    int
	MaxStock    int
}

// ProductFilter narrows ListProducts.
type ProductFilter struct {
	Search   string
	LowStock bool
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanProduct(row rowScanner) (*model.Product, error) {
	p := &model.Product{}
	var description, sku, category sql.NullString
	err := row.Scan(&p.ID, &p.Seq, &p.Name, &description, &sku, &category,
		&p.Stock.Quantity, &p.Stock.MinStock, &p.Stock.MaxStock, &p.Stock.LastRestocked,
		&p.CreatedBy, &p.CreatedAt, &p.UpdatedAt)
	if err != nil {
		return nil, err
	}
	p.Description = description.String
	p.SKU = sku.String
	p.Category = category.String
	return p, nil
}

// CreateProduct inserts a product with the next sequence number and a fresh
// UUID handle.
func CreateProduct(ctx context.Context, q DBTX, np NewProduct, now time.Time) (*model.Product, error) {
	if np.Quantity < 0 || np.MinStock < 0 || np.MaxStock < 0 {
		return nil, fmt.Errorf("%w: stock values must not be negative", model.ErrValidation)
	}

	var seq int64
	err := q.QueryRowContext(ctx,
		`UPDATE counters SET value = value + 1 WHERE name = ? RETURNING value`, ProductSeqCounter,
	).Scan(&seq)
	if err != nil {
		return nil, fmt.Errorf("allocating product sequence: %w", err)
	}

	id := uuid.NewString()
	var restocked *time.Time
	if np.Quantity > 0 {
		t := now.UTC()
		restocked = &t
	}

	_, err = q.ExecContext(ctx,
		`INSERT INTO products (id, seq, name, description, sku, category, quantity, min_stock, max_stock,
		                       last_restocked, created_by, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		id, seq, np.Name, np.Description, np.SKU, np.Category, np.Quantity, np.MinStock, np.MaxStock,
		restocked, np.CreatedBy, now.UTC(), now.UTC(),
	)
	if err != nil {
		return nil, fmt.Errorf("creating product: %w", err)
	}

	return GetProduct(ctx, q, id)
}

// GetProduct returns a product by its handle.
func GetProduct(ctx context.Context, q DBTX, id string) (*model.Product, error) {
	p, err := scanProduct(q.QueryRowContext(ctx,
		`SELECT `+productColumns+` FROM products WHERE id = ?`, id,
	))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("getting product: %w", err)
	}
	return p, nil
}

// GetProductBySeq returns a product by its sequence number.
func GetProductBySeq(ctx context.Context, q DBTX, seq int64) (*model.Product, error) {
	p, err := scanProduct(q.QueryRowContext(ctx,
		`SELECT `+productColumns+` FROM products WHERE seq = ?`, seq,
	))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("getting product by seq: %w", err)
	}
	return p, nil
}

// ListProducts returns a page of products ordered by sequence number and the
// total number of matches.
func ListProducts(ctx context.Context, q DBTX, f ProductFilter, page, limit int) ([]model.Product, int, error) {
	where := ` WHERE 1=1`
	var args []any

	if f.Search != "" {
		where += ` AND (name LIKE ? OR sku LIKE ? OR category LIKE ?)`
		pattern := "%" + f.Search + "%"
		args = append(args, pattern, pattern, pattern)
	}
	if f.LowStock {
		where += ` AND quantity <= min_stock`
	}

	var total int
	if err := q.QueryRowContext(ctx, `SELECT COUNT(*) FROM products`+where, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("counting products: %w", err)
	}

	_, limit, offset := pageOffset(page, limit)
	rows, err := q.QueryContext(ctx,
		`SELECT `+productColumns+` FROM products`+where+` ORDER BY seq LIMIT ? OFFSET ?`,
		append(args, limit, offset)...,
	)
	if err != nil {
		return nil, 0, fmt.Errorf("listing products: %w", err)
	}
	defer rows.Close()

	var products []model.Product
	for rows.Next() {
		p, err := scanProduct(rows)
		if err != nil {
			return nil, 0, fmt.Errorf("scanning product: %w", err)
		}
		products = append(products, *p)
	}
	return products, total, rows.Err()
}

// UpdateProduct updates a product's metadata.
func UpdateProduct(ctx context.Context, q DBTX, id string, upd ProductUpdate, now time.Time) error {
	if upd.MinStock < 0 || upd.MaxStock < 0 {
		return fmt.Errorf("%w: stock bounds must not be negative", model.ErrValidation)
	}

	res, err := q.ExecContext(ctx,
		`UPDATE products SET name = ?, description = ?, sku = ?, category = ?, min_stock = ?, max_stock = ?, updated_at = ?
		 WHERE id = ?`,
		upd.Name, upd.Description, upd.SKU, upd.Category, upd.MinStock, upd.MaxStock, now.UTC(), id,
	)
	if err != nil {
		return fmt.Errorf("updating product: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("%w: product %s", model.ErrNotFound, id)
	}
	return nil
}

// DeleteProduct removes a product together with its closed handovers. It
// fails while any handover of the product is still pending or handed over.
func DeleteProduct(ctx context.Context, q DBTX, id string) error {
	var open int
	err := q.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM handovers WHERE product_id = ? AND status IN (?, ?)`,
		id, model.StatusPending, model.StatusHandedOver,
	).Scan(&open)
	if err != nil {
		return fmt.Errorf("checking product handovers: %w", err)
	}
	if open > 0 {
		return fmt.Errorf("%w: product still has %d open handovers", model.ErrConflict, open)
	}

	res, err := q.ExecContext(ctx, `DELETE FROM products WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("deleting product: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("%w: product %s", model.ErrNotFound, id)
	}
	return nil
}

// CompactProducts renumbers all products to 1..N ordered by creation time and
// resets the sequence counter to N. Run it inside a transaction.
func CompactProducts(ctx context.Context, q DBTX) (int, error) {
	rows, err := q.QueryContext(ctx, `SELECT id FROM products ORDER BY created_at, seq`)
	if err != nil {
		return 0, fmt.Errorf("listing products for compaction: %w", err)
	}
	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			rows.Close()
			return 0, fmt.Errorf("scanning product id: %w", err)
		}
		ids = append(ids, id)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return 0, fmt.Errorf("listing products for compaction: %w", err)
	}

	// Move every number out of the way first so the UNIQUE index never sees
	// two rows with the same target.
	if _, err := q.ExecContext(ctx, `UPDATE products SET seq = -seq`); err != nil {
		return 0, fmt.Errorf("clearing product sequence: %w", err)
	}

	for i, id := range ids {
		if _, err := q.ExecContext(ctx, `UPDATE products SET seq = ? WHERE id = ?`, i+1, id); err != nil {
			return 0, fmt.Errorf("renumbering product %s: %w", id, err)
		}
	}

	if _, err := q.ExecContext(ctx,
		`UPDATE counters SET value = ? WHERE name = ?`, len(ids), ProductSeqCounter,
	); err != nil {
		return 0, fmt.Errorf("resetting product sequence: %w", err)
	}

	return len(ids), nil
}
