package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"stockcore/internal/core/apperror"
	"stockcore/internal/core/tx"
	"stockcore/pkg/logger"
)

var tracer = otel.Tracer("stockcore/tx")

// Compile-time check that TxManager implements tx.ReadOnlyManager.
var _ tx.ReadOnlyManager = (*TxManager)(nil)

// TxOptions configures transaction behavior.
type TxOptions struct {
	// IsolationLevel: pgx.Serializable, pgx.RepeatableRead, pgx.ReadCommitted
	IsolationLevel pgx.TxIsoLevel

	// AccessMode: pgx.ReadWrite, pgx.ReadOnly
	AccessMode pgx.TxAccessMode

	// StatementTimeout protects against long-running queries (default 30s)
	StatementTimeout time.Duration

	// AttemptTimeout is the hard deadline for one attempt including
	// commit. On expiry the transaction rolls back and the attempt
	// counts as a transient failure.
	AttemptTimeout time.Duration

	// MaxRetries is the number of additional attempts after the first
	// for transient failures.
	MaxRetries int

	// BaseDelay seeds the exponential backoff between attempts.
	BaseDelay time.Duration
}

// DefaultTxOptions returns production-safe defaults.
func DefaultTxOptions() TxOptions {
	return TxOptions{
		IsolationLevel:   pgx.ReadCommitted,
		AccessMode:       pgx.ReadWrite,
		StatementTimeout: 30 * time.Second,
		AttemptTimeout:   10 * time.Second,
		MaxRetries:       3,
		BaseDelay:        50 * time.Millisecond,
	}
}

// Result reports how an ExecuteWithRetry call went.
type Result struct {
	Retries  int
	Duration time.Duration
}

// TxManager manages database transactions with support for:
// - Transparent retry of transient failures with exponential backoff
// - Nested transactions (reuse or savepoints)
// - Statement and per-attempt timeout protection
// - Distributed tracing integration
type TxManager struct {
	db   DB
	opts TxOptions
}

// NewTxManager creates a new transaction manager.
func NewTxManager(db DB, opts TxOptions) *TxManager {
	return &TxManager{db: db, opts: opts}
}

// NewDefaultTxManager creates a transaction manager with default options.
func NewDefaultTxManager(db DB) *TxManager {
	return &TxManager{db: db, opts: DefaultTxOptions()}
}

// txKey is the context key for active transaction.
type txKey struct{}

// Tx wraps pgx.Tx with metadata.
type Tx struct {
	pgx.Tx
	nested bool
}

// RunInTransaction executes fn within a retryable transaction.
// If a transaction already exists in ctx it is reused and no retry
// applies: the outermost call owns the retry loop.
func (m *TxManager) RunInTransaction(ctx context.Context, fn func(ctx context.Context) error) error {
	_, err := m.ExecuteWithRetry(ctx, m.opts, fn)
	return err
}

// ReadOnly executes fn in a read-only transaction.
func (m *TxManager) ReadOnly(ctx context.Context, fn func(ctx context.Context) error) error {
	opts := m.opts
	opts.AccessMode = pgx.ReadOnly
	_, err := m.ExecuteWithRetry(ctx, opts, fn)
	return err
}

// ExecuteWithRetry runs fn in a transaction, retrying transient
// failures with a fresh transaction and exponential backoff. fn must
// re-read any state it depends on, since a retry observes a new
// snapshot. Deterministic errors (validation, insufficient stock,
// invalid transition) pass through on the first attempt.
func (m *TxManager) ExecuteWithRetry(ctx context.Context, opts TxOptions, fn func(ctx context.Context) error) (Result, error) {
	ctx, span := tracer.Start(ctx, "transaction",
		trace.WithAttributes(
			attribute.String("tx.isolation", string(opts.IsolationLevel)),
		))
	defer span.End()

	start := time.Now()

	// Nested call: reuse the transaction, the outer loop retries.
	if existing := m.GetTx(ctx); existing != nil {
		return Result{Duration: time.Since(start)}, fn(ctx)
	}

	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = opts.BaseDelay
	bo.RandomizationFactor = 0.2
	bo.Reset()

	var lastErr error
	for attempt := 0; attempt <= opts.MaxRetries; attempt++ {
		if attempt > 0 {
			delay := bo.NextBackOff()
			logger.Warn(ctx, "retrying transaction",
				"attempt", attempt,
				"delay", delay,
				"error", lastErr,
			)
			select {
			case <-ctx.Done():
				return Result{Retries: attempt, Duration: time.Since(start)}, ctx.Err()
			case <-time.After(delay):
			}
		}

		err := m.runAttempt(ctx, opts, fn)
		if err == nil {
			span.SetAttributes(attribute.Int("tx.retries", attempt))
			return Result{Retries: attempt, Duration: time.Since(start)}, nil
		}
		if !IsRetryable(err) {
			return Result{Retries: attempt, Duration: time.Since(start)}, err
		}
		lastErr = err
	}

	return Result{Retries: opts.MaxRetries, Duration: time.Since(start)},
		apperror.NewTransient(lastErr, opts.MaxRetries)
}

// runAttempt executes one transaction attempt under its own deadline.
func (m *TxManager) runAttempt(ctx context.Context, opts TxOptions, fn func(ctx context.Context) error) error {
	if opts.AttemptTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, opts.AttemptTimeout)
		defer cancel()
	}

	dbTx, err := m.db.BeginTx(ctx, pgx.TxOptions{
		IsoLevel:   opts.IsolationLevel,
		AccessMode: opts.AccessMode,
	})
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}

	if opts.StatementTimeout > 0 {
		_, err = dbTx.Exec(ctx, fmt.Sprintf("SET LOCAL statement_timeout = '%dms'", opts.StatementTimeout.Milliseconds()))
		if err != nil {
			_ = dbTx.Rollback(ctx)
			return fmt.Errorf("set statement_timeout: %w", err)
		}
	}

	txCtx := context.WithValue(ctx, txKey{}, &Tx{Tx: dbTx})

	if err := fn(txCtx); err != nil {
		// Use background context for rollback to ensure it completes
		// even if the original context was cancelled
		if rbErr := dbTx.Rollback(context.Background()); rbErr != nil && rbErr != pgx.ErrTxClosed {
			logger.Error(ctx, "rollback failed", "error", rbErr, "original_error", err)
		}
		return err
	}

	if err := dbTx.Commit(ctx); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}
	return nil
}

// WithSavepoint executes fn inside a savepoint on the current
// transaction. On error only the savepoint rolls back, leaving the
// surrounding transaction usable. Requires an active transaction.
func (m *TxManager) WithSavepoint(ctx context.Context, fn func(ctx context.Context) error) error {
	existing := m.GetTx(ctx)
	if existing == nil {
		return fmt.Errorf("savepoint requires an active transaction")
	}

	savepointName := fmt.Sprintf("sp_%d", time.Now().UnixNano())
	if _, err := existing.Exec(ctx, "SAVEPOINT "+savepointName); err != nil {
		return fmt.Errorf("create savepoint: %w", err)
	}

	if err := fn(ctx); err != nil {
		if _, rbErr := existing.Exec(ctx, "ROLLBACK TO SAVEPOINT "+savepointName); rbErr != nil {
			logger.Error(ctx, "rollback to savepoint failed", "savepoint", savepointName, "error", rbErr)
		}
		return err
	}

	if _, err := existing.Exec(ctx, "RELEASE SAVEPOINT "+savepointName); err != nil {
		return fmt.Errorf("release savepoint: %w", err)
	}
	return nil
}

// GetTx returns the current transaction from context, or nil if none.
func (m *TxManager) GetTx(ctx context.Context) *Tx {
	if t, ok := ctx.Value(txKey{}).(*Tx); ok && t != nil {
		return t
	}
	return nil
}

// WithoutTx returns a context detached from any active transaction.
// Best-effort writes use it so they do not join, and roll back with,
// the caller's transaction.
func WithoutTx(ctx context.Context) context.Context {
	if ctx.Value(txKey{}) == nil {
		return ctx
	}
	return context.WithValue(ctx, txKey{}, (*Tx)(nil))
}

// Querier is the query surface shared by pool and transaction.
// Repos work against it so they run both inside and outside
// transactions.
type Querier interface {
	Exec(ctx context.Context, sql string, arguments ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// GetQuerier returns appropriate querier for context.
func (m *TxManager) GetQuerier(ctx context.Context) Querier {
	if t := m.GetTx(ctx); t != nil {
		return t.Tx
	}
	return m.db
}
