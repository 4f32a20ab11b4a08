// Package tx provides transaction management abstractions.
// Domain services depend on these interfaces; the implementation
// (retry loop, isolation, savepoints) lives in
// infrastructure/storage/postgres.
package tx

import (
	"context"
)

// Manager defines the contract for transaction management.
type Manager interface {
	// RunInTransaction executes fn within a database transaction.
	// If fn returns an error, the transaction is rolled back.
	// Transient storage errors (lock contention, deadlock, attempt
	// timeout) are retried with a fresh transaction; fn must therefore
	// re-read any state it depends on.
	//
	// Nested calls reuse the existing transaction from context.
	RunInTransaction(ctx context.Context, fn func(ctx context.Context) error) error

	// WithSavepoint executes fn inside a savepoint on the current
	// transaction. On error only the savepoint is rolled back, leaving
	// the surrounding transaction usable. Used by bulk operations that
	// report per-item failures without aborting the whole batch.
	WithSavepoint(ctx context.Context, fn func(ctx context.Context) error) error
}

// ReadOnlyManager extends Manager with read-only transaction support.
// Use for queries that don't modify data (no row locks taken).
type ReadOnlyManager interface {
	Manager

	// ReadOnly executes fn in a read-only transaction.
	ReadOnly(ctx context.Context, fn func(ctx context.Context) error) error
}
