package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/erazemk/predaja/internal/model"
)

// CommitStock takes qty units of a product out of circulation. The check and
// the decrement are a single conditional UPDATE, so concurrent commits can
// never drive the quantity below zero.
func CommitStock(ctx context.Context, q DBTX, productID string, qty int, now time.Time) error {
	if qty <= 0 {
		return fmt.Errorf("%w: quantity must be positive", model.ErrValidation)
	}

	res, err := q.ExecContext(ctx,
		`UPDATE products SET quantity = quantity - ?, last_restocked = ?, updated_at = ?
		 WHERE id = ? AND quantity >= ?`,
		qty, now.UTC(), now.UTC(), productID, qty,
	)
	if err != nil {
		return fmt.Errorf("committing stock: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("committing stock: %w", err)
	}
	if n == 1 {
		return nil
	}

	var available int
	err = q.QueryRowContext(ctx, `SELECT quantity FROM products WHERE id = ?`, productID).Scan(&available)
	if err == sql.ErrNoRows {
		return fmt.Errorf("%w: product %s", model.ErrNotFound, productID)
	}
	if err != nil {
		return fmt.Errorf("checking available quantity: %w", err)
	}
	return fmt.Errorf("%w: have %d, need %d", model.ErrInsufficientStock, available, qty)
}

// ReleaseStock returns qty units of a product to circulation. MaxStock is
// advisory and not checked.
func ReleaseStock(ctx context.Context, q DBTX, productID string, qty int, now time.Time) error {
	if qty <= 0 {
		return fmt.Errorf("%w: quantity must be positive", model.ErrValidation)
	}

	res, err := q.ExecContext(ctx,
		`UPDATE products SET quantity = quantity + ?, last_restocked = ?, updated_at = ?
		 WHERE id = ?`,
		qty, now.UTC(), now.UTC(), productID,
	)
	if err != nil {
		return fmt.Errorf("releasing stock: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("releasing stock: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("%w: product %s", model.ErrNotFound, productID)
	}
	return nil
}

// ApplyStockDelta commits (negative delta) or releases (positive delta) stock.
// A zero delta is a no-op.
func ApplyStockDelta(ctx context.Context, q DBTX, productID string, delta int, now time.Time) error {
	switch {
	case delta < 0:
		return CommitStock(ctx, q, productID, -delta, now)
	case delta > 0:
		return ReleaseStock(ctx, q, productID, delta, now)
	}
	return nil
}

// AdjustStock applies a direct inventory correction and returns the new
// quantity. Delta can be negative but the result never is.
func AdjustStock(ctx context.Context, q DBTX, productID string, delta int, now time.Time) (int, error) {
	if delta == 0 {
		return 0, fmt.Errorf("%w: delta must be non-zero", model.ErrValidation)
	}

	if err := ApplyStockDelta(ctx, q, productID, delta, now); err != nil {
		return 0, err
	}

	var quantity int
	if err := q.QueryRowContext(ctx, `SELECT quantity FROM products WHERE id = ?`, productID).Scan(&quantity); err != nil {
		return 0, fmt.Errorf("reading adjusted quantity: %w", err)
	}
	return quantity, nil
}
