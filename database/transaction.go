package database

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
)

// LedgerLockKey is the advisory lock every ledger writer holds for the
// length of its transaction. Writers touch overlapping ancestor chains, so
// the ledger is single-writer.
const LedgerLockKey int64 = 0x6d617472697866

// AcquireLedgerLock takes the transaction-scoped ledger lock.
// The lock is released by commit or rollback.
func AcquireLedgerLock(ctx context.Context, tx pgx.Tx) error {
	if _, err := tx.Exec(ctx, "SELECT pg_advisory_xact_lock($1)", LedgerLockKey); err != nil {
		return fmt.Errorf("failed to acquire ledger lock: %w", err)
	}
	return nil
}

// WithLedgerTransaction executes fn inside a transaction holding the ledger lock.
// If fn returns an error, the transaction is rolled back; otherwise it is committed.
func (db *DB) WithLedgerTransaction(ctx context.Context, fn func(tx pgx.Tx) error) (err error) {
	tx, err := db.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}

	defer func() {
		if err != nil {
			if rbErr := tx.Rollback(ctx); rbErr != nil && rbErr != pgx.ErrTxClosed {
				err = fmt.Errorf("rollback failed: %v, original error: %w", rbErr, err)
			}
		}
	}()

	if err = AcquireLedgerLock(ctx, tx); err != nil {
		return err
	}

	if err = fn(tx); err != nil {
		return err
	}

	if err = tx.Commit(ctx); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}

	return nil
}
