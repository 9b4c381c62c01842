// Package auth implements wallet-based authentication.
// This file, `store.go`, is the persistence side of the module: a small Store
// interface the service programs against, and its pgx-backed implementation.
// Keeping the SQL behind an interface lets the protocol logic be tested with
// an in-memory fake, and gives the bounded-retry wrapper one place to apply.
package auth

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/user/voltmarket-go/apperror"
	"github.com/user/voltmarket-go/db"
)

// pgUniqueViolation is the PostgreSQL error code for unique constraint violations.
const pgUniqueViolation = "23505"

// Store is the durable-state contract of the authentication module.
type Store interface {
	// CreateNonce persists a freshly issued nonce record.
	CreateNonce(ctx context.Context, n *AuthNonce) error
	// FindValidNonce returns the nonce record for the given value if it is
	// unused and unexpired at `now`, or nil when no such record exists.
	FindValidNonce(ctx context.Context, nonce string, now time.Time) (*AuthNonce, error)
	// ConsumeNonce marks the nonce used at `now`, atomically with respect to
	// concurrent attempts: it reports true for exactly one caller per nonce.
	ConsumeNonce(ctx context.Context, nonce string, now time.Time) (bool, error)
	// DeleteExpiredNonces removes this wallet's expired, unused nonces and
	// returns how many were deleted.
	DeleteExpiredNonces(ctx context.Context, walletAddress string, now time.Time) (int64, error)
	// PurgeExpiredNonces removes every nonce, used or not, whose expiry lies
	// at or before the cutoff. Used by the background sweeper.
	PurgeExpiredNonces(ctx context.Context, cutoff time.Time) (int64, error)
	// FindUserByWallet returns the user for a wallet address, or nil when absent.
	FindUserByWallet(ctx context.Context, walletAddress string) (*User, error)
	// CreateUser inserts a new user; a duplicate wallet address yields a
	// ConflictError so callers can resolve creation races.
	CreateUser(ctx context.Context, u *User) error
	// UpdateLastLogin bumps the user's last-login timestamp.
	UpdateLastLogin(ctx context.Context, u *User, at time.Time) error
}

// PgStore implements Store on top of a pgx connection pool. Every operation
// runs through the shared Retryer so transient failures are absorbed by the
// persistence gateway rather than by each caller.
type PgStore struct {
	pool    *pgxpool.Pool
	retryer *db.Retryer
}

// NewPgStore creates the pgx-backed Store.
func NewPgStore(pool *pgxpool.Pool, retryer *db.Retryer) *PgStore {
	return &PgStore{pool: pool, retryer: retryer}
}

func (s *PgStore) CreateNonce(ctx context.Context, n *AuthNonce) error {
	query := `INSERT INTO auth_nonces (id, wallet_address, nonce, expires_at)
              VALUES ($1, $2, $3, $4)`
	return s.retryer.Do(ctx, "auth.create_nonce", func(ctx context.Context) error {
		_, err := s.pool.Exec(ctx, query, n.ID, n.WalletAddress, n.Nonce, n.ExpiresAt)
		if err != nil {
			var pgErr *pgconn.PgError
			if errors.As(err, &pgErr) && pgErr.Code == pgUniqueViolation {
				// 32 random bytes colliding means something is deeply wrong
				// with the entropy source; surface it as a conflict either way.
				return apperror.NewConflictError("nonce already exists", err)
			}
			return err
		}
		return nil
	})
}

func (s *PgStore) FindValidNonce(ctx context.Context, nonce string, now time.Time) (*AuthNonce, error) {
	query := `SELECT id, wallet_address, nonce, expires_at, used_at
              FROM auth_nonces
              WHERE nonce = $1 AND used_at IS NULL AND expires_at > $2`
	var out *AuthNonce
	err := s.retryer.Do(ctx, "auth.find_valid_nonce", func(ctx context.Context) error {
		var n AuthNonce
		err := s.pool.QueryRow(ctx, query, nonce, now).Scan(
			&n.ID, &n.WalletAddress, &n.Nonce, &n.ExpiresAt, &n.UsedAt,
		)
		if errors.Is(err, pgx.ErrNoRows) {
			out = nil
			return nil // Absence is a protocol outcome, not a store failure
		}
		if err != nil {
			return err
		}
		out = &n
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (s *PgStore) ConsumeNonce(ctx context.Context, nonce string, now time.Time) (bool, error) {
	// The WHERE clause is the linearization point of the whole protocol: two
	// concurrent verifications racing on the same nonce both reach this
	// statement, but row-level locking guarantees only one sees used_at IS
	// NULL. A read-then-write here would reopen the replay window.
	query := `UPDATE auth_nonces SET used_at = $2
              WHERE nonce = $1 AND used_at IS NULL AND expires_at > $2`
	var consumed bool
	err := s.retryer.Do(ctx, "auth.consume_nonce", func(ctx context.Context) error {
		tag, err := s.pool.Exec(ctx, query, nonce, now)
		if err != nil {
			return err
		}
		consumed = tag.RowsAffected() == 1
		return nil
	})
	return consumed, err
}

func (s *PgStore) DeleteExpiredNonces(ctx context.Context, walletAddress string, now time.Time) (int64, error) {
	query := `DELETE FROM auth_nonces
              WHERE wallet_address = $1 AND used_at IS NULL AND expires_at <= $2`
	var deleted int64
	err := s.retryer.Do(ctx, "auth.delete_expired_nonces", func(ctx context.Context) error {
		tag, err := s.pool.Exec(ctx, query, walletAddress, now)
		if err != nil {
			return err
		}
		deleted = tag.RowsAffected()
		return nil
	})
	return deleted, err
}

func (s *PgStore) PurgeExpiredNonces(ctx context.Context, cutoff time.Time) (int64, error) {
	query := `DELETE FROM auth_nonces WHERE expires_at <= $1`
	var deleted int64
	err := s.retryer.Do(ctx, "auth.purge_expired_nonces", func(ctx context.Context) error {
		tag, err := s.pool.Exec(ctx, query, cutoff)
		if err != nil {
			return err
		}
		deleted = tag.RowsAffected()
		return nil
	})
	return deleted, err
}

func (s *PgStore) FindUserByWallet(ctx context.Context, walletAddress string) (*User, error) {
	query := `SELECT id, wallet_address, role, created_at, last_login_at
              FROM users WHERE wallet_address = $1`
	var out *User
	err := s.retryer.Do(ctx, "auth.find_user_by_wallet", func(ctx context.Context) error {
		var u User
		err := s.pool.QueryRow(ctx, query, walletAddress).Scan(
			&u.ID, &u.WalletAddress, &u.Role, &u.CreatedAt, &u.LastLoginAt,
		)
		if errors.Is(err, pgx.ErrNoRows) {
			out = nil
			return nil
		}
		if err != nil {
			return err
		}
		out = &u
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (s *PgStore) CreateUser(ctx context.Context, u *User) error {
	query := `INSERT INTO users (id, wallet_address, role, created_at, last_login_at)
              VALUES ($1, $2, $3, $4, $5)`
	return s.retryer.Do(ctx, "auth.create_user", func(ctx context.Context) error {
		_, err := s.pool.Exec(ctx, query, u.ID, u.WalletAddress, u.Role, u.CreatedAt, u.LastLoginAt)
		if err != nil {
			var pgErr *pgconn.PgError
			if errors.As(err, &pgErr) && pgErr.Code == pgUniqueViolation {
				return apperror.NewConflictError("user already exists for wallet", err)
			}
			return err
		}
		return nil
	})
}

func (s *PgStore) UpdateLastLogin(ctx context.Context, u *User, at time.Time) error {
	query := `UPDATE users SET last_login_at = $2 WHERE id = $1`
	return s.retryer.Do(ctx, "auth.update_last_login", func(ctx context.Context) error {
		_, err := s.pool.Exec(ctx, query, u.ID, at)
		return err
	})
}
