package db

import (
	"context"
	"fmt"
	"time"
)

// ApplyPurchase records the payment event and grants credits in one
// transaction. A replayed event ID leaves the balance untouched.
func (r *UserRepository) ApplyPurchase(ctx context.Context, eventID, email string, credits int64) (int64, bool, error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, false, fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx,
		`INSERT INTO payment_events (event_id, email, credits, created_at) VALUES (?, ?, ?, ?)`,
		eventID, email, credits, time.Now().UTC(),
	)
	if err != nil {
		if !IsUniqueConstraintError(err) {
			return 0, false, fmt.Errorf("recording payment event: %w", err)
		}
		if err := tx.Rollback(); err != nil {
			return 0, false, fmt.Errorf("rolling back duplicate event: %w", err)
		}
		balance, err := r.balance(ctx, email)
		return balance, false, err
	}

	balance, err := applyDelta(ctx, tx, email, credits, "")
	if err != nil {
		return 0, false, err
	}

	if err := tx.Commit(); err != nil {
		return 0, false, fmt.Errorf("committing purchase: %w", err)
	}
	return balance, true, nil
}

func (r *UserRepository) balance(ctx context.Context, email string) (int64, error) {
	var credits int64
	err := r.db.QueryRowContext(ctx, `SELECT COALESCE((SELECT credits FROM users WHERE email = ?), 0)`, email).Scan(&credits)
	if err != nil {
		return 0, fmt.Errorf("reading balance: %w", err)
	}
	return credits, nil
}

type PaymentEventRepository struct {
	db *DB
}

func NewPaymentEventRepository(db *DB) *PaymentEventRepository {
	return &PaymentEventRepository{db: db}
}

// PurgePaymentEvents removes payment events recorded before cutoff.
func (r *PaymentEventRepository) PurgePaymentEvents(ctx context.Context, cutoff time.Time) (int64, error) {
	result, err := r.db.ExecContext(ctx, `DELETE FROM payment_events WHERE created_at < ?`, cutoff.UTC())
	if err != nil {
		return 0, fmt.Errorf("deleting payment events: %w", err)
	}
	return result.RowsAffected()
}

func (r *PaymentEventRepository) exists(ctx context.Context, eventID string) (bool, error) {
	var count int
	if err := r.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM payment_events WHERE event_id = ?`, eventID).Scan(&count); err != nil {
		return false, fmt.Errorf("checking payment event: %w", err)
	}
	return count > 0, nil
}
