package ledger

import (
	"context"
	"time"

	"stockcore/internal/core/id"
	"stockcore/internal/core/types"
)

// Repository defines operations on the stock ledger.
type Repository interface {
	// Append inserts a single entry. Must be called inside the same
	// transaction as the balance write it accompanies.
	Append(ctx context.Context, entry Entry) error

	// AppendBatch inserts several entries in one round trip.
	AppendBatch(ctx context.Context, entries []Entry) error

	// Sum returns the signed sum of quantity changes for a product at a
	// location. This is the authoritative balance.
	Sum(ctx context.Context, productID, locationID id.ID) (types.Quantity, error)

	// History returns entries for a product, newest first, with the
	// total count for pagination.
	History(ctx context.Context, productID id.ID, filter HistoryFilter) ([]Entry, int64, error)

	// EntriesByReference returns entries created by a business event.
	EntriesByReference(ctx context.Context, refType string, refID id.ID) ([]Entry, error)
}

// HistoryFilter narrows and pages ledger history queries.
type HistoryFilter struct {
	LocationID *id.ID
	Kind       *EntryKind
	FromDate   *time.Time
	ToDate     *time.Time
	Limit      int
	Offset     int
}
