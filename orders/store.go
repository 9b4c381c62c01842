// Package orders implements the order lifecycle.
// This file, `store.go`, defines the persistence contract of the module and
// its pgx-backed implementation. All SQL for the orders table lives here;
// the service above it only ever reasons about domain types, and the shared
// Retryer absorbs transient store failures on every operation.
package orders

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/user/voltmarket-go/db"
)

// Store is the durable-state contract of the order module.
type Store interface {
	// Insert persists a freshly placed order.
	Insert(ctx context.Context, o *Order) error
	// FindByID returns an order by id, or nil when absent.
	FindByID(ctx context.Context, id uuid.UUID) (*Order, error)
	// UpdateStatusIf transitions the order from `from` to `to` atomically:
	// the update applies only if the row still carries `from`, and the bool
	// result reports whether it did. A tx signature, when given, is recorded
	// with the transition.
	UpdateStatusIf(ctx context.Context, id uuid.UUID, from, to Status, txSignature *string, at time.Time) (bool, error)
	// ListByUser returns one user's orders of the given side. The owner filter
	// is applied here unconditionally: there is no code path that lists "my
	// orders" without a user id.
	ListByUser(ctx context.Context, userID uuid.UUID, side Side, q ListQuery) ([]Order, int64, error)
	// ListByTimeslot returns a timeslot's orders of the given side (public view).
	ListByTimeslot(ctx context.Context, timeslotID uuid.UUID, side Side, q ListQuery) ([]Order, int64, error)
	// StatsByTimeslot aggregates a timeslot's order book.
	StatsByTimeslot(ctx context.Context, timeslotID uuid.UUID) (*TimeslotStats, error)
	// FindTimeslotRef returns the placement-relevant projection of a timeslot,
	// or nil when it does not exist.
	FindTimeslotRef(ctx context.Context, id uuid.UUID) (*TimeslotRef, error)
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

const orderColumns = `id, side, user_id, timeslot_id, price, quantity, status,
       tx_signature, escrow_account, created_at, updated_at`

func scanOrder(row pgx.Row) (*Order, error) {
	var o Order
	err := row.Scan(
		&o.ID, &o.Side, &o.UserID, &o.TimeslotID, &o.Price, &o.Quantity,
		&o.Status, &o.TxSignature, &o.EscrowAccount, &o.CreatedAt, &o.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &o, nil
}

func (s *PgStore) Insert(ctx context.Context, o *Order) error {
	query := `INSERT INTO orders (id, side, user_id, timeslot_id, price, quantity, status,
                                  tx_signature, escrow_account, created_at, updated_at)
              VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`
	return s.retryer.Do(ctx, "orders.insert", func(ctx context.Context) error {
		_, err := s.pool.Exec(ctx, query,
			o.ID, o.Side, o.UserID, o.TimeslotID, o.Price, o.Quantity, o.Status,
			o.TxSignature, o.EscrowAccount, o.CreatedAt, o.UpdatedAt,
		)
		return err
	})
}

func (s *PgStore) FindByID(ctx context.Context, id uuid.UUID) (*Order, error) {
	query := `SELECT ` + orderColumns + ` FROM orders WHERE id = $1`
	var out *Order
	err := s.retryer.Do(ctx, "orders.find_by_id", func(ctx context.Context) error {
		o, err := scanOrder(s.pool.QueryRow(ctx, query, id))
		if errors.Is(err, pgx.ErrNoRows) {
			out = nil
			return nil
		}
		if err != nil {
			return err
		}
		out = o
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (s *PgStore) UpdateStatusIf(ctx context.Context, id uuid.UUID, from, to Status, txSignature *string, at time.Time) (bool, error) {
	// The status predicate makes the transition atomic under concurrent
	// writers: of two racing updates (say an owner's cancel and a confirmation
	// observer's confirm), row locking lets exactly one see `from` still in
	// place. The loser reports false and the service classifies the conflict.
	query := `UPDATE orders
              SET status = $3, tx_signature = COALESCE($4, tx_signature), updated_at = $5
              WHERE id = $1 AND status = $2`
	var applied bool
	err := s.retryer.Do(ctx, "orders.update_status_if", func(ctx context.Context) error {
		tag, err := s.pool.Exec(ctx, query, id, from, to, txSignature, at)
		if err != nil {
			return err
		}
		applied = tag.RowsAffected() == 1
		return nil
	})
	return applied, err
}

// buildFilters appends optional predicates from the query to a WHERE clause.
// Arguments are always positional parameters; filter values never reach the
// SQL text itself.
func buildFilters(conds []string, args []interface{}, q ListQuery) ([]string, []interface{}) {
	if q.Status != nil {
		args = append(args, *q.Status)
		conds = append(conds, fmt.Sprintf("status = $%d", len(args)))
	}
	if q.TimeslotID != nil {
		args = append(args, *q.TimeslotID)
		conds = append(conds, fmt.Sprintf("timeslot_id = $%d", len(args)))
	}
	if q.MinPrice != nil {
		args = append(args, *q.MinPrice)
		conds = append(conds, fmt.Sprintf("price >= $%d", len(args)))
	}
	if q.MaxPrice != nil {
		args = append(args, *q.MaxPrice)
		conds = append(conds, fmt.Sprintf("price <= $%d", len(args)))
	}
	return conds, args
}

// list runs a count + page query for the given base predicates.
func (s *PgStore) list(ctx context.Context, op string, conds []string, args []interface{}, q ListQuery) ([]Order, int64, error) {
	where := strings.Join(conds, " AND ")
	// Sort column and direction come from the Normalize allow-list, never from
	// raw caller input.
	orderBy := fmt.Sprintf("%s %s", sortColumns[q.SortBy], strings.ToUpper(q.SortDir))

	countQuery := `SELECT COUNT(*) FROM orders WHERE ` + where
	pageQuery := fmt.Sprintf(
		`SELECT %s FROM orders WHERE %s ORDER BY %s LIMIT %d OFFSET %d`,
		orderColumns, where, orderBy, q.Limit, q.Offset(),
	)

	var out []Order
	var total int64
	err := s.retryer.Do(ctx, op, func(ctx context.Context) error {
		if err := s.pool.QueryRow(ctx, countQuery, args...).Scan(&total); err != nil {
			return err
		}

		rows, err := s.pool.Query(ctx, pageQuery, args...)
		if err != nil {
			return err
		}
		defer rows.Close()

		page := make([]Order, 0, q.Limit)
		for rows.Next() {
			o, err := scanOrder(rows)
			if err != nil {
				return err
			}
			page = append(page, *o)
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

func (s *PgStore) ListByUser(ctx context.Context, userID uuid.UUID, side Side, q ListQuery) ([]Order, int64, error) {
	args := []interface{}{userID, side}
	conds := []string{"user_id = $1", "side = $2"}
	conds, args = buildFilters(conds, args, q)
	return s.list(ctx, "orders.list_by_user", conds, args, q)
}

func (s *PgStore) ListByTimeslot(ctx context.Context, timeslotID uuid.UUID, side Side, q ListQuery) ([]Order, int64, error) {
	args := []interface{}{timeslotID, side}
	conds := []string{"timeslot_id = $1", "side = $2"}
	conds, args = buildFilters(conds, args, q)
	return s.list(ctx, "orders.list_by_timeslot", conds, args, q)
}

func (s *PgStore) StatsByTimeslot(ctx context.Context, timeslotID uuid.UUID) (*TimeslotStats, error) {
	countQuery := `SELECT status, COUNT(*) FROM orders WHERE timeslot_id = $1 GROUP BY status`
	aggQuery := `SELECT
                   COALESCE(SUM(quantity) FILTER (WHERE side = 'bid'), 0),
                   COALESCE(SUM(quantity) FILTER (WHERE side = 'supply'), 0),
                   MIN(price), MAX(price), AVG(price)
                 FROM orders
                 WHERE timeslot_id = $1 AND status IN ('CONFIRMED', 'MATCHED')`

	stats := &TimeslotStats{
		TimeslotID:    timeslotID,
		CountByStatus: make(map[Status]int64),
	}
	err := s.retryer.Do(ctx, "orders.stats_by_timeslot", func(ctx context.Context) error {
		rows, err := s.pool.Query(ctx, countQuery, timeslotID)
		if err != nil {
			return err
		}
		defer rows.Close()
		for rows.Next() {
			var status Status
			var count int64
			if err := rows.Scan(&status, &count); err != nil {
				return err
			}
			stats.CountByStatus[status] = count
		}
		if err := rows.Err(); err != nil {
			return err
		}

		return s.pool.QueryRow(ctx, aggQuery, timeslotID).Scan(
			&stats.BidQuantity, &stats.SupplyQuantity,
			&stats.MinPrice, &stats.MaxPrice, &stats.AvgPrice,
		)
	})
	if err != nil {
		return nil, err
	}
	return stats, nil
}

func (s *PgStore) FindTimeslotRef(ctx context.Context, id uuid.UUID) (*TimeslotRef, error) {
	query := `SELECT id, status, end_time FROM timeslots WHERE id = $1`
	var out *TimeslotRef
	err := s.retryer.Do(ctx, "orders.find_timeslot_ref", func(ctx context.Context) error {
		var ref TimeslotRef
		err := s.pool.QueryRow(ctx, query, id).Scan(&ref.ID, &ref.Status, &ref.EndTime)
		if errors.Is(err, pgx.ErrNoRows) {
			out = nil
			return nil
		}
		if err != nil {
			return err
		}
		out = &ref
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}
