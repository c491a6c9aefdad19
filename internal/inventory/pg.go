package inventory

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PGLedger implements Ledger on Postgres. Each Reserve call runs in one
// transaction: every affected stock cell is locked FOR UPDATE, decremented,
// and recorded as a reservation row. Any shortage rolls the whole call back,
// so concurrent checkouts against the same last unit cannot both succeed.
type PGLedger struct{ DB *pgxpool.Pool }

const (
	reservationReserved  = "RESERVED"
	reservationCommitted = "COMMITTED"
	reservationReleased  = "RELEASED"
)

func (l *PGLedger) Reserve(ctx context.Context, orderID string, lines []Line) error {
	// duplicate lines against one cell must count as one combined demand
	merged, err := mergeLines(lines)
	if err != nil {
		return err
	}

	tx, err := l.DB.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	for _, it := range merged {
		var hasVariants bool
		if err := tx.QueryRow(ctx,
			`SELECT EXISTS(SELECT 1 FROM variant_stock WHERE product_id=$1)`, it.ProductID).Scan(&hasVariants); err != nil {
			return err
		}

		if hasVariants {
			if it.Color == "" || it.Size == "" {
				return ErrVariantRequired
			}
			var stock int
			err := tx.QueryRow(ctx,
				`SELECT stock FROM variant_stock WHERE product_id=$1 AND color=$2 AND size=$3 FOR UPDATE`,
				it.ProductID, it.Color, it.Size).Scan(&stock)
			if errors.Is(err, pgx.ErrNoRows) {
				// absent cell means zero available
				return &InsufficientStockError{ProductID: it.ProductID, Color: it.Color, Size: it.Size, Requested: it.Qty}
			}
			if err != nil {
				return err
			}
			if stock < it.Qty {
				return &InsufficientStockError{ProductID: it.ProductID, Color: it.Color, Size: it.Size, Requested: it.Qty, Available: stock}
			}
			if _, err := tx.Exec(ctx,
				`UPDATE variant_stock SET stock = stock - $4 WHERE product_id=$1 AND color=$2 AND size=$3`,
				it.ProductID, it.Color, it.Size, it.Qty); err != nil {
				return err
			}
		} else {
			var stock int
			err := tx.QueryRow(ctx, `SELECT total_stock FROM products WHERE id=$1 FOR UPDATE`, it.ProductID).Scan(&stock)
			if errors.Is(err, pgx.ErrNoRows) {
				return ErrUnknownProduct
			}
			if err != nil {
				return err
			}
			if stock < it.Qty {
				return &InsufficientStockError{ProductID: it.ProductID, Requested: it.Qty, Available: stock}
			}
			if _, err := tx.Exec(ctx,
				`UPDATE products SET total_stock = total_stock - $2 WHERE id=$1`, it.ProductID, it.Qty); err != nil {
				return err
			}
		}

		// a repeated reserve for the same order deducts again, so the
		// reservation row must accumulate or Release restores too little
		if _, err := tx.Exec(ctx, `
			INSERT INTO reservations(order_id, product_id, color, size, qty, status)
			VALUES ($1,$2,$3,$4,$5,'RESERVED')
			ON CONFLICT (order_id, product_id, color, size)
			DO UPDATE SET
				qty = CASE WHEN reservations.status = 'RESERVED'
				           THEN reservations.qty + EXCLUDED.qty
				           ELSE EXCLUDED.qty END,
				status = 'RESERVED'
		`, orderID, it.ProductID, it.Color, it.Size, it.Qty); err != nil {
			return err
		}
	}

	return tx.Commit(ctx)
}

// Release restores stock for every still-RESERVED row of the order and flips
// the rows to RELEASED in the same transaction. A second call finds no
// RESERVED rows and changes nothing.
func (l *PGLedger) Release(ctx context.Context, orderID string) error {
	tx, err := l.DB.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	rows, err := tx.Query(ctx,
		`SELECT product_id, color, size, qty FROM reservations
		 WHERE order_id=$1 AND status='RESERVED' FOR UPDATE`, orderID)
	if err != nil {
		return err
	}
	type rec struct {
		pid, color, size string
		qty              int
	}
	var recs []rec
	for rows.Next() {
		var x rec
		if err := rows.Scan(&x.pid, &x.color, &x.size, &x.qty); err != nil {
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
		if x.color != "" || x.size != "" {
			if _, err := tx.Exec(ctx,
				`UPDATE variant_stock SET stock = stock + $4 WHERE product_id=$1 AND color=$2 AND size=$3`,
				x.pid, x.color, x.size, x.qty); err != nil {
				return err
			}
		} else {
			if _, err := tx.Exec(ctx,
				`UPDATE products SET total_stock = total_stock + $2 WHERE id=$1`, x.pid, x.qty); err != nil {
				return err
			}
		}
	}
	if _, err := tx.Exec(ctx,
		`UPDATE reservations SET status='RELEASED' WHERE order_id=$1 AND status='RESERVED'`, orderID); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

// Commit marks the reservation permanent. Stock was already deducted at
// reserve time, so this is bookkeeping only.
func (l *PGLedger) Commit(ctx context.Context, orderID string) error {
	_, err := l.DB.Exec(ctx,
		`UPDATE reservations SET status='COMMITTED' WHERE order_id=$1 AND status='RESERVED'`, orderID)
	return err
}
