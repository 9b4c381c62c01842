// This file, `store.go`, holds the persistence contract of the timeslot
// module and its pgx implementation. The settlement, cancellation and sweep
// paths touch multiple rows (and the orders table), so the implementation
// runs them inside transactions via the shared Retryer.
package timeslots

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/user/voltmarket-go/db"
)

// Store is the durable-state contract of the timeslot module.
type Store interface {
	// Insert persists a freshly created timeslot.
	Insert(ctx context.Context, t *Timeslot) error
	// FindByID returns a timeslot by id, or nil when absent.
	FindByID(ctx context.Context, id uuid.UUID) (*Timeslot, error)
	// List returns a page of timeslots, newest first.
	List(ctx context.Context, q ListQuery) ([]Timeslot, int64, error)
	// UpdateStatusIf transitions the timeslot from `from` to `to` atomically;
	// the bool result reports whether the row still carried `from`.
	UpdateStatusIf(ctx context.Context, id uuid.UUID, from, to Status, at time.Time) (bool, error)
	// Settle moves a SEALED timeslot to SETTLED and records the clearing
	// price, atomically.
	Settle(ctx context.Context, id uuid.UUID, clearingPrice float64, at time.Time) (bool, error)
	// CancelWithCascade moves an OPEN or SEALED timeslot to CANCELLED and, in
	// the same transaction, expires its PENDING orders. It reports whether
	// the cancel applied and how many orders it expired.
	CancelWithCascade(ctx context.Context, id uuid.UUID, at time.Time) (bool, int64, error)
	// SweepPastEnd seals OPEN timeslots whose end time passed and expires the
	// PENDING orders of every past-end timeslot, in one transaction. It
	// reports how many timeslots were sealed and how many orders expired.
	SweepPastEnd(ctx context.Context, at time.Time) (int64, int64, error)
}

// PgStore implements Store on top of a pgx connection pool.
type PgStore struct {
	pool    *pgxpool.Pool
	retryer *db.Retryer
}

// NewPgStore creates the pgx-backed Store.
func NewPgStore(pool *pgxpool.Pool, retryer *db.Retryer) *PgStore {
	return &PgStore{pool: pool, retryer: retryer}
}

const timeslotColumns = `id, start_time, end_time, capacity, status, clearing_price,
       created_at, updated_at`

func scanTimeslot(row pgx.Row) (*Timeslot, error) {
	var t Timeslot
	err := row.Scan(
		&t.ID, &t.StartTime, &t.EndTime, &t.Capacity, &t.Status,
		&t.ClearingPrice, &t.CreatedAt, &t.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &t, nil
}

func (s *PgStore) Insert(ctx context.Context, t *Timeslot) error {
	query := `INSERT INTO timeslots (id, start_time, end_time, capacity, status, clearing_price,
                                     created_at, updated_at)
              VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`
	return s.retryer.Do(ctx, "timeslots.insert", func(ctx context.Context) error {
		_, err := s.pool.Exec(ctx, query,
			t.ID, t.StartTime, t.EndTime, t.Capacity, t.Status, t.ClearingPrice,
			t.CreatedAt, t.UpdatedAt,
		)
		return err
	})
}

func (s *PgStore) FindByID(ctx context.Context, id uuid.UUID) (*Timeslot, error) {
	query := `SELECT ` + timeslotColumns + ` FROM timeslots WHERE id = $1`
	var out *Timeslot
	err := s.retryer.Do(ctx, "timeslots.find_by_id", func(ctx context.Context) error {
		t, err := scanTimeslot(s.pool.QueryRow(ctx, query, id))
		if errors.Is(err, pgx.ErrNoRows) {
			out = nil
			return nil
		}
		if err != nil {
			return err
		}
		out = t
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (s *PgStore) List(ctx context.Context, q ListQuery) ([]Timeslot, int64, error) {
	where := `TRUE`
	args := []interface{}{}
	if q.Status != nil {
		where = `status = $1`
		args = append(args, *q.Status)
	}

	countQuery := `SELECT COUNT(*) FROM timeslots WHERE ` + where
	pageQuery := fmt.Sprintf(
		`SELECT %s FROM timeslots WHERE %s ORDER BY start_time DESC LIMIT %d OFFSET %d`,
		timeslotColumns, where, q.Limit, q.Offset(),
	)

	var out []Timeslot
	var total int64
	err := s.retryer.Do(ctx, "timeslots.list", func(ctx context.Context) error {
		if err := s.pool.QueryRow(ctx, countQuery, args...).Scan(&total); err != nil {
			return err
		}

		rows, err := s.pool.Query(ctx, pageQuery, args...)
		if err != nil {
			return err
		}
		defer rows.Close()

		page := make([]Timeslot, 0, q.Limit)
		for rows.Next() {
			t, err := scanTimeslot(rows)
			if err != nil {
				return err
			}
			page = append(page, *t)
		}
		if err := rows.Err(); err != nil {
			return err
		}
		out = page
		return nil
	})
	if err != nil {
		return nil, 0, err
	}
	return out, total, nil
}

func (s *PgStore) UpdateStatusIf(ctx context.Context, id uuid.UUID, from, to Status, at time.Time) (bool, error) {
	query := `UPDATE timeslots SET status = $3, updated_at = $4 WHERE id = $1 AND status = $2`
	var applied bool
	err := s.retryer.Do(ctx, "timeslots.update_status_if", func(ctx context.Context) error {
		tag, err := s.pool.Exec(ctx, query, id, from, to, at)
		if err != nil {
			return err
		}
		applied = tag.RowsAffected() == 1
		return nil
	})
	return applied, err
}

func (s *PgStore) Settle(ctx context.Context, id uuid.UUID, clearingPrice float64, at time.Time) (bool, error) {
	query := `UPDATE timeslots
              SET status = $2, clearing_price = $3, updated_at = $4
              WHERE id = $1 AND status = $5`
	var applied bool
	err := s.retryer.InTx(ctx, s.pool, "timeslots.settle", func(ctx context.Context, tx pgx.Tx) error {
		tag, err := tx.Exec(ctx, query, id, StatusSettled, clearingPrice, at, StatusSealed)
		if err != nil {
			return err
		}
		applied = tag.RowsAffected() == 1
		return nil
	})
	return applied, err
}

func (s *PgStore) CancelWithCascade(ctx context.Context, id uuid.UUID, at time.Time) (bool, int64, error) {
	cancelQuery := `UPDATE timeslots
                    SET status = $2, updated_at = $3
                    WHERE id = $1 AND status IN ($4, $5)`
	expireQuery := `UPDATE orders
                    SET status = 'EXPIRED', updated_at = $2
                    WHERE timeslot_id = $1 AND status = 'PENDING'`

	var applied bool
	var expired int64
	err := s.retryer.InTx(ctx, s.pool, "timeslots.cancel", func(ctx context.Context, tx pgx.Tx) error {
		tag, err := tx.Exec(ctx, cancelQuery, id, StatusCancelled, at, StatusOpen, StatusSealed)
		if err != nil {
			return err
		}
		applied = tag.RowsAffected() == 1
		if !applied {
			// Nothing to cascade; leave the transaction empty-handed.
			expired = 0
			return nil
		}

		expireTag, err := tx.Exec(ctx, expireQuery, id, at)
		if err != nil {
			return err
		}
		expired = expireTag.RowsAffected()
		return nil
	})
	return applied, expired, err
}

func (s *PgStore) SweepPastEnd(ctx context.Context, at time.Time) (int64, int64, error) {
	sealQuery := `UPDATE timeslots
                  SET status = $2, updated_at = $1
                  WHERE status = $3 AND end_time <= $1`
	expireQuery := `UPDATE orders
                    SET status = 'EXPIRED', updated_at = $1
                    WHERE status = 'PENDING'
                      AND timeslot_id IN (SELECT id FROM timeslots WHERE end_time <= $1)`

	var sealed, expired int64
	err := s.retryer.InTx(ctx, s.pool, "timeslots.sweep", func(ctx context.Context, tx pgx.Tx) error {
		sealTag, err := tx.Exec(ctx, sealQuery, at, StatusSealed, StatusOpen)
		if err != nil {
			return err
		}
		sealed = sealTag.RowsAffected()

		expireTag, err := tx.Exec(ctx, expireQuery, at)
		if err != nil {
			return err
		}
		expired = expireTag.RowsAffected()
		return nil
	})
	return sealed, expired, err
}
