package orders

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

var (
	ErrNotFound          = errors.New("order not found")
	ErrInvalidTransition = errors.New("invalid status transition")
)

// Ledger is the durable order record. Orders are append-only: rows are
// created once and only their status / payment fields ever change.
type Ledger struct{ DB *pgxpool.Pool }

const orderCols = `id, user_id, status, payment_method, total_cents, shipping_cents,
	amount_paid_cents, amount_due_cents,
	ship_name, ship_line1, ship_line2, ship_city, ship_state, ship_pin, ship_phone,
	gateway_order_id, gateway_amount_cents, gateway_payment_id, gateway_signature,
	created_at, updated_at`

func scanOrder(row pgx.Row) (Order, error) {
	var o Order
	err := row.Scan(
		&o.ID, &o.UserID, &o.Status, &o.Method, &o.TotalCents, &o.ShippingCents,
		&o.AmountPaid, &o.AmountDue,
		&o.Address.Name, &o.Address.Line1, &o.Address.Line2, &o.Address.City,
		&o.Address.State, &o.Address.PinCode, &o.Address.Phone,
		&o.GatewayOrderID, &o.GatewayAmount, &o.GatewayPaymentID, &o.GatewaySignature,
		&o.CreatedAt, &o.UpdatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return Order{}, ErrNotFound
	}
	return o, err
}

// Create inserts the order and its item snapshot in one transaction.
// The caller must already hold a committed stock reservation for d.ID.
func (l *Ledger) Create(ctx context.Context, d Draft) (Order, error) {
	tx, err := l.DB.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return Order{}, err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	amountDue := d.TotalCents
	row := tx.QueryRow(ctx, `
		INSERT INTO orders(id, user_id, status, payment_method, total_cents, shipping_cents,
			amount_paid_cents, amount_due_cents,
			ship_name, ship_line1, ship_line2, ship_city, ship_state, ship_pin, ship_phone)
		VALUES ($1,$2,$3,$4,$5,$6,0,$7,$8,$9,$10,$11,$12,$13,$14)
		RETURNING `+orderCols,
		d.ID, d.UserID, StatusPending, d.Method, d.TotalCents, d.ShippingCents, amountDue,
		d.Address.Name, d.Address.Line1, d.Address.Line2, d.Address.City,
		d.Address.State, d.Address.PinCode, d.Address.Phone,
	)
	o, err := scanOrder(row)
	if err != nil {
		return Order{}, err
	}

	for _, it := range d.Items {
		if _, err := tx.Exec(ctx, `
			INSERT INTO order_items(order_id, product_id, size, qty, price_cents)
			VALUES ($1,$2,$3,$4,$5)`,
			d.ID, it.ProductID, it.Size, it.Qty, it.PriceCents,
		); err != nil {
			return Order{}, err
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return Order{}, err
	}
	o.Items = d.Items
	return o, nil
}

func (l *Ledger) Get(ctx context.Context, id string) (Order, error) {
	o, err := scanOrder(l.DB.QueryRow(ctx, `SELECT `+orderCols+` FROM orders WHERE id=$1`, id))
	if err != nil {
		return Order{}, err
	}
	o.Items, err = l.items(ctx, id)
	return o, err
}

func (l *Ledger) items(ctx context.Context, orderID string) ([]Item, error) {
	rows, err := l.DB.Query(ctx, `
		SELECT product_id, size, qty, price_cents FROM order_items WHERE order_id=$1`, orderID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Item
	for rows.Next() {
		var it Item
		if err := rows.Scan(&it.ProductID, &it.Size, &it.Qty, &it.PriceCents); err != nil {
			return nil, err
		}
		out = append(out, it)
	}
	return out, rows.Err()
}

func (l *Ledger) ListForUser(ctx context.Context, userID string) ([]Order, error) {
	rows, err := l.DB.Query(ctx, `
		SELECT `+orderCols+` FROM orders WHERE user_id=$1 ORDER BY created_at DESC`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Order
	for rows.Next() {
		o, err := scanOrder(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, o)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	for i := range out {
		if out[i].Items, err = l.items(ctx, out[i].ID); err != nil {
			return nil, err
		}
	}
	return out, nil
}

// SetGatewayOrder binds the external gateway reference (and the amount it
// was created for) to a pending order.
func (l *Ledger) SetGatewayOrder(ctx context.Context, id, gatewayOrderID string, amountCents int) error {
	ct, err := l.DB.Exec(ctx, `
		UPDATE orders SET gateway_order_id=$2, gateway_amount_cents=$3, updated_at=now()
		WHERE id=$1 AND status=$4`,
		id, gatewayOrderID, amountCents, StatusPending)
	if err != nil {
		return err
	}
	if ct.RowsAffected() != 1 {
		return ErrNotFound
	}
	return nil
}

// ConfirmPayment moves a pending order to CONFIRMED and credits the
// gateway amount, atomically. A repeat call for an already confirmed
// order returns the stored row with already=true and changes nothing, so
// webhook retries never double-credit.
func (l *Ledger) ConfirmPayment(ctx context.Context, id, paymentID, signature string) (o Order, already bool, err error) {
	tx, err := l.DB.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return Order{}, false, err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	o, err = scanOrder(tx.QueryRow(ctx, `SELECT `+orderCols+` FROM orders WHERE id=$1 FOR UPDATE`, id))
	if err != nil {
		return Order{}, false, err
	}
	if o.Status == StatusConfirmed {
		return o, true, tx.Commit(ctx)
	}
	if !CanTransition(o.Status, StatusConfirmed) {
		return o, false, fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, o.Status, StatusConfirmed)
	}

	o, err = scanOrder(tx.QueryRow(ctx, `
		UPDATE orders SET status=$2,
			amount_paid_cents=gateway_amount_cents,
			amount_due_cents=total_cents-gateway_amount_cents,
			gateway_payment_id=$3, gateway_signature=$4, updated_at=now()
		WHERE id=$1
		RETURNING `+orderCols, id, StatusConfirmed, paymentID, signature))
	if err != nil {
		return Order{}, false, err
	}
	return o, false, tx.Commit(ctx)
}

// Cancel drives the order to CANCELLED through the state machine guard.
func (l *Ledger) Cancel(ctx context.Context, id string) (Order, error) {
	return l.UpdateStatus(ctx, id, StatusCancelled)
}

func (l *Ledger) UpdateStatus(ctx context.Context, id string, next Status) (Order, error) {
	tx, err := l.DB.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return Order{}, err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	o, err := scanOrder(tx.QueryRow(ctx, `SELECT `+orderCols+` FROM orders WHERE id=$1 FOR UPDATE`, id))
	if err != nil {
		return Order{}, err
	}
	if !CanTransition(o.Status, next) {
		return o, fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, o.Status, next)
	}

	o, err = scanOrder(tx.QueryRow(ctx, `
		UPDATE orders SET status=$2, updated_at=now() WHERE id=$1
		RETURNING `+orderCols, id, next))
	if err != nil {
		return Order{}, err
	}
	return o, tx.Commit(ctx)
}
