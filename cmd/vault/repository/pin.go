package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/lyzr/datavault/cmd/vault/models"
	"github.com/lyzr/datavault/common/db"
)

// PinRepository keeps the per-CID pin reference counts.
// Backend calls run inside the transaction holding the pin row lock, so the
// local count is only committed once the backend agrees.
type PinRepository struct {
	db *db.DB
}

// NewPinRepository creates a new pin repository
func NewPinRepository(db *db.DB) *PinRepository {
	return &PinRepository{db: db}
}

// Acquire increments the count for cid (creating it at 1) and calls pin
// while the row is locked. Returns the new count.
func (r *PinRepository) Acquire(ctx context.Context, cid string, pin func(context.Context) error) (int, error) {
	query := `
		INSERT INTO pin (cid, count)
		VALUES ($1, 1)
		ON CONFLICT (cid) DO UPDATE SET count = pin.count + 1
		RETURNING count
	`

	var count int
	err := r.db.WithTx(ctx, func(tx pgx.Tx) error {
		if err := tx.QueryRow(ctx, query, cid).Scan(&count); err != nil {
			return fmt.Errorf("failed to increment pin: %w", err)
		}
		return pin(ctx)
	})
	if err != nil {
		return 0, err
	}
	return count, nil
}

// Release decrements the count for cid. When the last reference goes, the row
// is deleted and unpin is called before commit; an unpin error rolls back.
// Returns false if cid has no pin record.
func (r *PinRepository) Release(ctx context.Context, cid string, unpin func(context.Context) error) (bool, error) {
	released := false

	err := r.db.WithTx(ctx, func(tx pgx.Tx) error {
		var count int
		err := tx.QueryRow(ctx, `SELECT count FROM pin WHERE cid = $1 FOR UPDATE`, cid).Scan(&count)
		if errors.Is(err, pgx.ErrNoRows) {
			return nil
		}
		if err != nil {
			return fmt.Errorf("failed to lock pin: %w", err)
		}

		switch {
		case count < 1:
			return fmt.Errorf("%w: pin %s has count %d", models.ErrInvariantViolation, cid, count)
		case count > 1:
			if _, err := tx.Exec(ctx, `UPDATE pin SET count = count - 1 WHERE cid = $1`, cid); err != nil {
				return fmt.Errorf("failed to decrement pin: %w", err)
			}
		default:
			if _, err := tx.Exec(ctx, `DELETE FROM pin WHERE cid = $1`, cid); err != nil {
				return fmt.Errorf("failed to delete pin: %w", err)
			}
			if err := unpin(ctx); err != nil {
				return err
			}
		}

		released = true
		return nil
	})
	if err != nil {
		return false, err
	}
	return released, nil
}
