// Transactional execution for multi-row mutations.
//
// Settlement and cancellation of a timeslot touch the timeslot row and its
// orders together; those writes must be all-or-nothing. InTx gives them a
// single place that enforces the acquisition wait ceiling and the execution
// timeout, and guarantees rollback on any failure path. A timeout here aborts
// the whole transaction with no partial writes, so callers treat it exactly
// like any other failed mutation.
package db

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/user/voltmarket-go/apperror"
)

const (
	// txAcquireWait bounds how long we wait for a connection from the pool.
	txAcquireWait = 5 * time.Second
	// txExecTimeout bounds the execution of the transaction body itself.
	txExecTimeout = 10 * time.Second
)

// InTx acquires a connection, begins a transaction, runs fn, and commits if fn
// returns nil. Any error from fn (or a timeout) rolls the transaction back and
// is returned to the caller.
func (r *Retryer) InTx(ctx context.Context, pool *pgxpool.Pool, op string, fn func(ctx context.Context, tx pgx.Tx) error) error {
	return r.Do(ctx, op, func(ctx context.Context) error {
		acquireCtx, cancelAcquire := context.WithTimeout(ctx, txAcquireWait)
		defer cancelAcquire()

		conn, err := pool.Acquire(acquireCtx)
		if err != nil {
			return apperror.NewTransientStoreError("could not acquire connection for transaction", err)
		}
		defer conn.Release()

		execCtx, cancelExec := context.WithTimeout(ctx, txExecTimeout)
		defer cancelExec()

		tx, err := conn.Begin(execCtx)
		if err != nil {
			return fmt.Errorf("begin transaction: %w", err)
		}

		if err := fn(execCtx, tx); err != nil {
			// Rollback with a fresh context: execCtx may already be done, and a
			// cancelled rollback would leak the transaction until the server
			// times it out.
			rbCtx, cancelRb := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancelRb()
			_ = tx.Rollback(rbCtx)
			return err
		}

		if err := tx.Commit(execCtx); err != nil {
			return fmt.Errorf("commit transaction: %w", err)
		}
		return nil
	})
}
