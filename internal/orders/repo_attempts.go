package orders

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// AttemptRepo stores payment attempts keyed by provider reference. They live
// in the same Postgres as orders but are ephemeral: the sweeper expires them.
type AttemptRepo struct{ DB *pgxpool.Pool }

func (r *AttemptRepo) Create(ctx context.Context, a *PaymentAttempt) error {
	_, err := r.DB.Exec(ctx, `
		INSERT INTO payment_attempts(provider_ref, order_id, nonce, amount_cents, status)
		VALUES ($1,$2,$3,$4,$5)
		ON CONFLICT (provider_ref) DO NOTHING
	`, a.ProviderRef, a.OrderID, a.Nonce, a.AmountCents, string(a.Status))
	return err
}

func (r *AttemptRepo) Get(ctx context.Context, providerRef string) (*PaymentAttempt, error) {
	var a PaymentAttempt
	var st string
	err := r.DB.QueryRow(ctx, `
		SELECT provider_ref, order_id, nonce, amount_cents, status, created_at, updated_at
		FROM payment_attempts WHERE provider_ref=$1`, providerRef).
		Scan(&a.ProviderRef, &a.OrderID, &a.Nonce, &a.AmountCents, &st, &a.CreatedAt, &a.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	a.Status = AttemptStatus(st)
	return &a, nil
}

func (r *AttemptRepo) SetStatus(ctx context.Context, providerRef string, st AttemptStatus) error {
	ct, err := r.DB.Exec(ctx,
		`UPDATE payment_attempts SET status=$2, updated_at=now() WHERE provider_ref=$1`, providerRef, string(st))
	if err != nil {
		return err
	}
	if ct.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// Expire flips a challenge attempt to expired, but only if no callback beat
// it there. Returns whether this caller won the flip.
func (r *AttemptRepo) Expire(ctx context.Context, providerRef string) (bool, error) {
	ct, err := r.DB.Exec(ctx, `
		UPDATE payment_attempts SET status='expired', updated_at=now()
		WHERE provider_ref=$1 AND status='challenge_issued'`, providerRef)
	if err != nil {
		return false, err
	}
	return ct.RowsAffected() == 1, nil
}

// Stale returns challenge attempts with no callback since before the cutoff.
// The sweep that consumes this list must stay idempotent: several instances
// may observe the same attempt.
func (r *AttemptRepo) Stale(ctx context.Context, cutoff time.Time) ([]PaymentAttempt, error) {
	rows, err := r.DB.Query(ctx, `
		SELECT provider_ref, order_id, nonce, amount_cents, status, created_at, updated_at
		FROM payment_attempts
		WHERE status='challenge_issued' AND created_at < $1`, cutoff)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []PaymentAttempt
	for rows.Next() {
		var a PaymentAttempt
		var st string
		if err := rows.Scan(&a.ProviderRef, &a.OrderID, &a.Nonce, &a.AmountCents, &st, &a.CreatedAt, &a.UpdatedAt); err != nil {
			return nil, err
		}
		a.Status = AttemptStatus(st)
		out = append(out, a)
	}
	return out, rows.Err()
}
