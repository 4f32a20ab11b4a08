package stock

import (
	"context"

	"stockcore/internal/core/id"
	"stockcore/internal/core/types"
)

// BalanceRepository defines operations on the balance cache.
type BalanceRepository interface {
	// Create inserts a balance row for a newly registered product.
	Create(ctx context.Context, b Balance) error

	// Get returns the balance without locking. Returns a NOT_FOUND
	// AppError when no row exists.
	Get(ctx context.Context, productID, locationID id.ID) (Balance, error)

	// GetForUpdate returns the balance with a row lock held for the
	// duration of the current transaction. Returns NOT_FOUND when no
	// row exists.
	GetForUpdate(ctx context.Context, productID, locationID id.ID) (Balance, error)

	// GetOrCreateForUpdate is GetForUpdate, creating a zero, active row
	// first when none exists (transfer receive at a new destination).
	GetOrCreateForUpdate(ctx context.Context, productID, locationID id.ID) (Balance, error)

	// UpdateCAS writes the new quantity and note with
	// "WHERE version = b.Version", incrementing the version. Zero rows
	// affected means a stale view: a CONCURRENT_MODIFICATION AppError
	// is returned, the write is never forced.
	UpdateCAS(ctx context.Context, b Balance, newQuantity types.Quantity, note string) error

	// ListActive returns active balances, optionally for one location.
	// Used by cycle-count preload and full reconciliation.
	ListActive(ctx context.Context, locationID *id.ID) ([]Balance, error)

	// ListByProduct returns all balance rows for a product.
	ListByProduct(ctx context.Context, productID id.ID) ([]Balance, error)

	// SetActive flips the active flag. Rows are never deleted while
	// ledger entries reference them.
	SetActive(ctx context.Context, productID, locationID id.ID, active bool) error
}
