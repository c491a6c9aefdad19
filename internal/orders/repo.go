package orders

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

var ErrNotFound = errors.New("orders: not found")

type Repo struct{ DB *pgxpool.Pool }

// CreateTx persists the order and its lines in one transaction. Prices on
// the lines were already recomputed server-side by the caller.
func (r *Repo) CreateTx(ctx context.Context, o *Order) error {
	tx, err := r.DB.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	_, err = tx.Exec(ctx, `
		INSERT INTO orders(id, user_id, payment_status, order_status, total_cents, shipping_cents, provider_ref, stock_released)
		VALUES ($1,$2,$3,$4,$5,$6,$7,FALSE)
	`, o.ID, o.UserID, string(o.PaymentStatus), string(o.OrderStatus), o.TotalCents, o.ShippingCents, o.ProviderRef)
	if err != nil {
		return err
	}

	for i := range o.Lines {
		ln := &o.Lines[i]
		if ln.ID == "" {
			ln.ID = uuid.NewString()
		}
		ln.OrderID = o.ID
		_, err = tx.Exec(ctx, `
			INSERT INTO order_lines(id, order_id, product_id, color, size, qty, unit_price_cents)
			VALUES ($1,$2,$3,$4,$5,$6,$7)`,
			ln.ID, ln.OrderID, ln.ProductID, ln.Color, ln.Size, ln.Qty, ln.UnitPriceCents,
		)
		if err != nil {
			return err
		}
	}

	return tx.Commit(ctx)
}

func (r *Repo) Get(ctx context.Context, orderID string) (*Order, error) {
	var o Order
	var ps, os string
	err := r.DB.QueryRow(ctx, `
		SELECT id, user_id, payment_status, order_status, total_cents, shipping_cents,
		       COALESCE(provider_ref,''), stock_released, created_at, updated_at
		FROM orders WHERE id=$1`, orderID).
		Scan(&o.ID, &o.UserID, &ps, &os, &o.TotalCents, &o.ShippingCents,
			&o.ProviderRef, &o.StockReleased, &o.CreatedAt, &o.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	o.PaymentStatus = PaymentStatus(ps)
	o.OrderStatus = OrderStatus(os)

	rows, err := r.DB.Query(ctx, `
		SELECT id, order_id, product_id, color, size, qty, unit_price_cents
		FROM order_lines WHERE order_id=$1`, orderID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	for rows.Next() {
		var ln OrderLine
		if err := rows.Scan(&ln.ID, &ln.OrderID, &ln.ProductID, &ln.Color, &ln.Size, &ln.Qty, &ln.UnitPriceCents); err != nil {
			return nil, err
		}
		o.Lines = append(o.Lines, ln)
	}
	return &o, rows.Err()
}

// SetOrderStatus is a compare-and-set: the write only lands while the order
// still holds the status the caller validated against. Losing the race comes
// back as ErrInvalidTransition, same as a stale transition request.
func (r *Repo) SetOrderStatus(ctx context.Context, orderID string, from, to OrderStatus) error {
	ct, err := r.DB.Exec(ctx,
		`UPDATE orders SET order_status=$3, updated_at=now() WHERE id=$1 AND order_status=$2`,
		orderID, string(from), string(to))
	if err != nil {
		return err
	}
	if ct.RowsAffected() == 0 {
		return ErrInvalidTransition
	}
	return nil
}

// MarkPaid claims a still-pending order for payment completion. The guard on
// order_status and the release flag makes a late approval against a cancelled
// order a lost claim instead of a resurrection. Returns whether this call won.
func (r *Repo) MarkPaid(ctx context.Context, orderID, providerRef string) (bool, error) {
	ct, err := r.DB.Exec(ctx, `
		UPDATE orders SET payment_status='paid', order_status='processing',
		       provider_ref=COALESCE(NULLIF($2,''), provider_ref), updated_at=now()
		WHERE id=$1 AND order_status='pending' AND stock_released=FALSE`, orderID, providerRef)
	if err != nil {
		return false, err
	}
	return ct.RowsAffected() == 1, nil
}

// SetPaymentStatus is only ever called from the checkout/callback paths; the
// admin order-edit endpoint never touches payment state.
func (r *Repo) SetPaymentStatus(ctx context.Context, orderID string, ps PaymentStatus, providerRef string) error {
	ct, err := r.DB.Exec(ctx, `
		UPDATE orders SET payment_status=$2, provider_ref=COALESCE(NULLIF($3,''), provider_ref), updated_at=now()
		WHERE id=$1`, orderID, string(ps), providerRef)
	if err != nil {
		return err
	}
	if ct.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// MarkCancelled flips the order to cancelled and claims the one-shot release
// flag in the same transaction. The status write is guarded on the status the
// caller validated, so a racing transition turns into ErrInvalidTransition
// rather than cancelling a delivered order. The returned bool says whether
// this call won the flag, i.e. whether the caller must release the inventory.
// A paid order keeps its payment status; only a still-pending payment is
// marked failed.
func (r *Repo) MarkCancelled(ctx context.Context, orderID string, from OrderStatus) (release bool, err error) {
	tx, err := r.DB.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return false, err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	ct, err := tx.Exec(ctx,
		`UPDATE orders SET order_status='cancelled', updated_at=now() WHERE id=$1 AND order_status=$2`,
		orderID, string(from))
	if err != nil {
		return false, err
	}
	if ct.RowsAffected() == 0 {
		return false, ErrInvalidTransition
	}

	ct, err = tx.Exec(ctx,
		`UPDATE orders SET stock_released=TRUE WHERE id=$1 AND stock_released=FALSE`, orderID)
	if err != nil {
		return false, err
	}
	release = ct.RowsAffected() == 1

	if _, err = tx.Exec(ctx,
		`UPDATE orders SET payment_status='failed' WHERE id=$1 AND payment_status='pending'`, orderID); err != nil {
		return false, err
	}

	if err := tx.Commit(ctx); err != nil {
		return false, err
	}
	return release, nil
}

// ClaimReleaseFlag claims the one-shot flag without changing order status,
// used by the payment-failure paths. Safe to call from redundant sweepers.
func (r *Repo) ClaimReleaseFlag(ctx context.Context, orderID string) (bool, error) {
	ct, err := r.DB.Exec(ctx,
		`UPDATE orders SET stock_released=TRUE, updated_at=now() WHERE id=$1 AND stock_released=FALSE`, orderID)
	if err != nil {
		return false, err
	}
	return ct.RowsAffected() == 1, nil
}
