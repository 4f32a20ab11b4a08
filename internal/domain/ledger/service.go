package ledger

import (
	"context"
	"fmt"

	"stockcore/internal/core/id"
	"stockcore/internal/core/types"
)

// Service provides read operations over the ledger. Writes go through
// the stock movement, counting and transfer services, which append
// entries inside their own transactions.
type Service struct {
	repo Repository
}

// NewService creates a new ledger service.
func NewService(repo Repository) *Service {
	return &Service{repo: repo}
}

// ComputeBalance returns the authoritative balance for a product at a
// location: the signed sum of all ledger entries.
func (s *Service) ComputeBalance(ctx context.Context, productID, locationID id.ID) (types.Quantity, error) {
	sum, err := s.repo.Sum(ctx, productID, locationID)
	if err != nil {
		return 0, fmt.Errorf("sum ledger: %w", err)
	}
	return sum, nil
}

// History returns a paginated view of a product's ledger entries.
func (s *Service) History(ctx context.Context, productID id.ID, filter HistoryFilter) ([]Entry, int64, error) {
	if filter.Limit <= 0 || filter.Limit > 500 {
		filter.Limit = 100
	}
	if filter.Offset < 0 {
		filter.Offset = 0
	}
	return s.repo.History(ctx, productID, filter)
}
