package counting

import (
	"context"

	"stockcore/internal/core/id"
)

// Repository persists count headers and their items.
type Repository interface {
	Create(ctx context.Context, c Count) error
	Get(ctx context.Context, countID id.ID) (Count, error)
	// GetForUpdate locks the count header row for the transaction.
	GetForUpdate(ctx context.Context, countID id.ID) (Count, error)
	Update(ctx context.Context, c Count) error

	CreateItems(ctx context.Context, items []Item) error
	GetItem(ctx context.Context, itemID id.ID) (Item, error)
	// GetItemForUpdate locks the item row for the transaction, making
	// concurrent adjustment attempts on the same item serialize before
	// either observes the resolved flag.
	GetItemForUpdate(ctx context.Context, itemID id.ID) (Item, error)
	ListItems(ctx context.Context, countID id.ID) ([]Item, error)
	UpdateItem(ctx context.Context, item Item) error
}
