// Bounded retry for durable operations.
//
// Every read or write the feature stores issue against Postgres goes through a
// Retryer. Centralizing the policy here (rather than sprinkling per-call-site
// retry loops) keeps the attempt budget and backoff curve a single auditable
// piece of logic, and guarantees that non-retryable failures keep their
// identity: a unique-constraint violation fails the same way on attempt one as
// it would on attempt three, so the wrapper returns it immediately and
// unchanged.
package db

import (
	"context"
	"errors"
	"net"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/rs/zerolog"

	"github.com/user/voltmarket-go/apperror"
	"github.com/user/voltmarket-go/config"
)

// Retryer applies a bounded exponential-backoff retry policy to a function.
type Retryer struct {
	maxAttempts    int
	initialBackoff time.Duration
	maxBackoff     time.Duration
	log            zerolog.Logger

	// sleep is swappable so tests can observe backoff decisions without
	// actually waiting. It must honor context cancellation.
	sleep func(ctx context.Context, d time.Duration) error
}

// NewRetryer creates a Retryer from the configured policy.
func NewRetryer(cfg config.RetryConfig, log zerolog.Logger) *Retryer {
	return &Retryer{
		maxAttempts:    cfg.MaxAttempts,
		initialBackoff: cfg.InitialBackoff,
		maxBackoff:     cfg.MaxBackoff,
		log:            log,
		sleep:          sleepCtx,
	}
}

// sleepCtx waits for d or until the context is done, whichever comes first.
func sleepCtx(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// Do runs fn, retrying transient failures up to the configured attempt budget
// with exponential backoff (doubling from the initial backoff, capped at the
// maximum). The `op` name is only used for logging. On exhaustion the last
// error is returned unchanged so callers can still classify it.
func (r *Retryer) Do(ctx context.Context, op string, fn func(ctx context.Context) error) error {
	backoff := r.initialBackoff
	var lastErr error

	for attempt := 1; attempt <= r.maxAttempts; attempt++ {
		lastErr = fn(ctx)
		if lastErr == nil {
			return nil
		}

		// Non-transient failures (constraint violations, not-found, bad SQL)
		// would fail identically on every attempt; return them right away with
		// their identity intact.
		if !IsTransient(lastErr) {
			return lastErr
		}

		if attempt == r.maxAttempts {
			break
		}

		r.log.Warn().
			Str("op", op).
			Int("attempt", attempt).
			Dur("backoff", backoff).
			Err(lastErr).
			Msg("transient store failure, retrying")

		if err := r.sleep(ctx, backoff); err != nil {
			// The caller gave up (context cancelled/expired) while we were
			// waiting to retry; surface the store error we were retrying.
			return lastErr
		}

		backoff *= 2
		if backoff > r.maxBackoff {
			backoff = r.maxBackoff
		}
	}

	r.log.Error().
		Str("op", op).
		Int("attempts", r.maxAttempts).
		Err(lastErr).
		Msg("retry budget exhausted")
	return lastErr
}

// Postgres error classes/codes considered transient. Class 08 covers connection
// exceptions; 40001 and 40P01 are serialization failure and deadlock, which are
// safe to replay; 57014 is query_canceled, raised when a statement timeout
// fires; 53300 is too_many_connections.
const (
	pgClassConnection      = "08"
	pgSerializationFailure = "40001"
	pgDeadlockDetected     = "40P01"
	pgQueryCanceled        = "57014"
	pgTooManyConnections   = "53300"
)

// IsTransient reports whether err is a failure class worth retrying: connection
// errors, timeouts, and the designated transient Postgres codes. Everything
// else (constraint violations, no-rows, syntax errors) is deterministic and
// must not be retried.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}

	// Failures already classified as transient by a store layer.
	if apperror.IsTransient(err) {
		return true
	}

	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		if strings.HasPrefix(pgErr.Code, pgClassConnection) {
			return true
		}
		switch pgErr.Code {
		case pgSerializationFailure, pgDeadlockDetected, pgQueryCanceled, pgTooManyConnections:
			return true
		}
		return false
	}

	// Network-level failures between the process and Postgres.
	var netErr net.Error
	if errors.As(err, &netErr) {
		return true
	}

	// pgconn reports broken connections with its own error types; the safe
	// generic check is its SafeToRetry hint.
	if pgconn.SafeToRetry(err) {
		return true
	}

	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}

	return false
}
