package transfer

import (
	"context"

	"stockcore/internal/core/id"
)

// Repository persists transfers.
type Repository interface {
	Create(ctx context.Context, t Transfer) error
	Get(ctx context.Context, transferID id.ID) (Transfer, error)
	// GetForUpdate locks the transfer row for the transaction, making
	// concurrent ship/receive attempts serialize on the row.
	GetForUpdate(ctx context.Context, transferID id.ID) (Transfer, error)
	Update(ctx context.Context, t Transfer) error
	List(ctx context.Context, filter ListFilter) ([]Transfer, error)
}

// ListFilter narrows transfer listings.
type ListFilter struct {
	ProductID *id.ID
	Status    *Status
	Limit     int
	Offset    int
}
