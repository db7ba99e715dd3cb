package catalog

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/stridekart/checkout/internal/orders"
)

// Inventory owns the per-(product, size) stock counters and the
// reservation rows that track which order holds which decrement.
type Inventory struct{ DB *pgxpool.Pool }

// Validate is the read-only pre-check: classifies every cart line
// against current stock without taking locks or mutating anything. It
// reports ALL failing lines, not just the first, so one response can
// list every shortage. Reserve re-checks under lock regardless, because
// stock can move between this read and the commit.
func (inv *Inventory) Validate(ctx context.Context, lines []orders.CartLine) ([]orders.Shortage, error) {
	var shortages []orders.Shortage
	for _, ln := range lines {
		var stock int
		err := inv.DB.QueryRow(ctx,
			`SELECT stock FROM product_sizes WHERE product_id=$1 AND size=$2`,
			ln.ProductID, ln.Size).Scan(&stock)
		if errors.Is(err, pgx.ErrNoRows) {
			shortages = append(shortages, orders.Shortage{
				ProductID: ln.ProductID, Size: ln.Size, Requested: ln.Qty,
				Reason: orders.ReasonUnknownSize,
			})
			continue
		}
		if err != nil {
			return nil, err
		}
		if stock < ln.Qty {
			shortages = append(shortages, orders.Shortage{
				ProductID: ln.ProductID, Size: ln.Size, Requested: ln.Qty,
				Available: stock, Reason: orders.ReasonOutOfStock,
			})
		}
	}
	return shortages, nil
}

// Reserve decrements every targeted counter as one transaction: each
// (product, size) row is locked, stock is re-checked at write time, and
// if any line falls short nothing is committed. Reservation rows keyed
// by order id record what was taken so Release can undo exactly that.
func (inv *Inventory) Reserve(ctx context.Context, orderID string, lines []orders.CartLine) ([]orders.Shortage, error) {
	tx, err := inv.DB.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return nil, err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	var shortages []orders.Shortage
	for _, ln := range lines {
		var stock int
		err := tx.QueryRow(ctx,
			`SELECT stock FROM product_sizes WHERE product_id=$1 AND size=$2 FOR UPDATE`,
			ln.ProductID, ln.Size).Scan(&stock)
		if errors.Is(err, pgx.ErrNoRows) {
			shortages = append(shortages, orders.Shortage{
				ProductID: ln.ProductID, Size: ln.Size, Requested: ln.Qty,
				Reason: orders.ReasonUnknownSize,
			})
			continue
		}
		if err != nil {
			return nil, err
		}
		if stock < ln.Qty {
			shortages = append(shortages, orders.Shortage{
				ProductID: ln.ProductID, Size: ln.Size, Requested: ln.Qty,
				Available: stock, Reason: orders.ReasonOutOfStock,
			})
			continue
		}

		ct, err := tx.Exec(ctx, `
			UPDATE product_sizes SET stock = stock - $3
			WHERE product_id=$1 AND size=$2 AND stock >= $3`,
			ln.ProductID, ln.Size, ln.Qty)
		if err != nil {
			return nil, err
		}
		if ct.RowsAffected() != 1 {
			shortages = append(shortages, orders.Shortage{
				ProductID: ln.ProductID, Size: ln.Size, Requested: ln.Qty,
				Available: stock, Reason: orders.ReasonOutOfStock,
			})
			continue
		}

		// qty accumulates on conflict so the reservation row always
		// matches the total decremented for this (product, size), even
		// if a caller ever hands in duplicate lines
		if _, err := tx.Exec(ctx, `
			INSERT INTO reservations(order_id, product_id, size, qty, status)
			VALUES ($1,$2,$3,$4,'RESERVED')
			ON CONFLICT (order_id, product_id, size)
			DO UPDATE SET qty = reservations.qty + EXCLUDED.qty`,
			orderID, ln.ProductID, ln.Size, ln.Qty); err != nil {
			return nil, err
		}
	}

	if len(shortages) > 0 {
		return shortages, nil // rollback via defer
	}
	return nil, tx.Commit(ctx)
}

// Release restores the stock a reservation took and flips its rows to
// RELEASED, in one transaction. Only rows still RESERVED are touched, so
// a second call for the same order finds nothing and is a no-op rather
// than fabricating stock.
func (inv *Inventory) Release(ctx context.Context, orderID string) error {
	tx, err := inv.DB.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	rows, err := tx.Query(ctx, `
		SELECT product_id, size, qty FROM reservations
		WHERE order_id=$1 AND status='RESERVED' FOR UPDATE`, orderID)
	if err != nil {
		return err
	}
	type rec struct {
		pid  string
		size int
		qty  int
	}
	var recs []rec
	for rows.Next() {
		var x rec
		if err := rows.Scan(&x.pid, &x.size, &x.qty); err != nil {
			rows.Close()
			return err
		}
		recs = append(recs, x)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return err
	}

	for _, x := range recs {
		if _, err := tx.Exec(ctx, `
			UPDATE product_sizes SET stock = stock + $3
			WHERE product_id=$1 AND size=$2`, x.pid, x.size, x.qty); err != nil {
			return err
		}
	}
	if _, err := tx.Exec(ctx, `
		UPDATE reservations SET status='RELEASED'
		WHERE order_id=$1 AND status='RESERVED'`, orderID); err != nil {
		return err
	}
	return tx.Commit(ctx)
}
