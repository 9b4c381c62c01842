// Package db is the persistence gateway of the voltmarket application. It owns
// database connectivity (a pgx connection pool with an explicit construct /
// ping / close lifecycle rather than ambient module state), schema migrations,
// the bounded-retry wrapper applied to every durable operation, and the
// transactional helper used by multi-row mutations such as settlement.
// This package centralizes database concerns, similar to how a database module
// would be configured in Nest.js and injected into feature modules.
package db

import (
	"context"
	"fmt"
	// `time` is used for setting timeouts and connection pool configurations.
	"time"

	// `golang-migrate` is a popular library for database migrations in Go.
	"github.com/golang-migrate/migrate/v4"
	// The file source driver is imported for its side effect of registering itself.
	_ "github.com/golang-migrate/migrate/v4/source/file"
	_ "github.com/golang-migrate/migrate/v4/database/postgres"
	// `lib/pq` backs golang-migrate's postgres driver when it is handed a DSN.
	_ "github.com/lib/pq"
	// `pgxpool` is part of the `jackc/pgx` suite, providing a robust connection pool for PostgreSQL.
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/user/voltmarket-go/apperror"
	"github.com/user/voltmarket-go/config"
)

// NewPool establishes a connection pool to PostgreSQL using the provided
// configuration. The pool is the single shared handle to the durable store;
// services receive it (or a store built on it) at construction time.
func NewPool(cfg *config.PoolConfig) (*pgxpool.Pool, error) {
	dsn := fmt.Sprintf(
		"postgres://%s:%s@%s:%d/%s?sslmode=disable&pool_max_conns=%d&pool_max_conn_idle_time=%s&pool_max_conn_lifetime=%s",
		cfg.User, cfg.Password, cfg.Host, cfg.Port, cfg.DBName,
		cfg.MaxSize,
		(10 * time.Minute).String(),
		(30 * time.Minute).String(),
	)

	// `pgxpool.ParseConfig` parses the DSN string into a `pgxpool.Config` struct.
	poolConfig, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, apperror.NewDatabaseError(fmt.Sprintf("error parsing DSN for database %s", cfg.DBName), err)
	}

	poolConfig.MaxConns = int32(cfg.MaxSize)
	poolConfig.MaxConnIdleTime = 10 * time.Minute
	poolConfig.MaxConnLifetime = 30 * time.Minute

	// Use a context with a timeout for the pool creation process so an
	// unreachable database fails the boot instead of hanging it.
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		return nil, apperror.NewDatabaseError(fmt.Sprintf("error creating pgxpool for database %s", cfg.DBName), err)
	}

	// Ping to verify the connection after creating the pool.
	pingCtx, pingCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer pingCancel()
	if err := pool.Ping(pingCtx); err != nil {
		pool.Close() // Clean up on connection failure
		return nil, apperror.NewDatabaseError(fmt.Sprintf("error connecting to the database %s with pgxpool", cfg.DBName), err)
	}

	return pool, nil
}

// getDSN constructs a DSN string from PoolConfig, suitable for golang-migrate.
func getDSN(cfg *config.PoolConfig) string {
	// golang-migrate's postgres driver expects a lib/pq style DSN, which is
	// slightly different from the pgxpool one above (no pool parameters).
	return fmt.Sprintf(
		"postgres://%s:%s@%s:%d/%s?sslmode=disable",
		cfg.User, cfg.Password, cfg.Host, cfg.Port, cfg.DBName,
	)
}

// RunMigrations applies any pending database migrations from the specified
// migrations directory. It uses golang-migrate to handle migration versioning
// and execution; the schema files live under migrations/ at the repo root.
func RunMigrations(cfg *config.PoolConfig, migrationsPath string) error {
	dsn := getDSN(cfg)

	m, err := migrate.New(
		// `file://` specifies that migrations are read from the local filesystem.
		"file://"+migrationsPath,
		dsn,
	)
	if err != nil {
		return apperror.NewMigrationError("failed to create migrator", err)
	}
	// m.Close() returns two errors, one for the source and one for the database
	// handle; neither failing should mask a successful migration run.
	defer func() {
		if srcErr, dbErr := m.Close(); srcErr != nil || dbErr != nil {
			if srcErr != nil {
				fmt.Printf("Warning: error closing migration source: %v\n", srcErr)
			}
			if dbErr != nil {
				fmt.Printf("Warning: error closing migration database instance: %v\n", dbErr)
			}
		}
	}()

	// `migrate.ErrNoChange` is returned when there is nothing to apply, which is
	// not an actual error.
	if err := m.Up(); err != nil && err != migrate.ErrNoChange {
		return apperror.NewMigrationError("failed to run migrations", err)
	}

	return nil
}
