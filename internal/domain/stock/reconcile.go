package stock

import (
	"context"
	"fmt"

	"stockcore/internal/core/id"
	"stockcore/pkg/logger"
)

// Reconcile recomputes a product's balance from the ledger and repairs
// the cached row when it drifted. The ledger is the source of truth;
// the repair is a cache fix, not a stock movement, so no ledger entry
// is written. A negative ledger sum indicates corrupted history and is
// clamped to zero with a warning.
func (s *Service) Reconcile(ctx context.Context, productID, locationID id.ID, actor string) (*ReconcileResult, error) {
	var result *ReconcileResult
	err := s.txm.RunInTransaction(ctx, func(ctx context.Context) error {
		bal, err := s.balances.GetForUpdate(ctx, productID, locationID)
		if err != nil {
			return err
		}
		sum, err := s.entries.Sum(ctx, productID, locationID)
		if err != nil {
			return fmt.Errorf("sum ledger: %w", err)
		}

		res := &ReconcileResult{
			ProductID:    productID,
			LocationID:   locationID,
			LedgerSum:    sum,
			CachedBefore: bal.Quantity,
			CachedAfter:  bal.Quantity,
		}
		target := sum
		if target.IsNegative() {
			logger.Warn(ctx, "negative ledger sum, clamping to zero",
				"productId", productID,
				"locationId", locationID,
				"sum", sum.Int64(),
			)
			target = 0
			res.Clamped = true
		}
		if target != bal.Quantity {
			note := fmt.Sprintf("reconcile %d -> %d", bal.Quantity.Int64(), target.Int64())
			if err := s.balances.UpdateCAS(ctx, bal, target, note); err != nil {
				return err
			}
			res.CachedAfter = target
			res.Repaired = true
		}
		result = res
		return nil
	})

	s.recordAudit(ctx, "stock.reconcile", productID, actor, result, err)

	if err != nil {
		return nil, err
	}
	return result, nil
}

// ReconcileAll reconciles every active balance, optionally scoped to a
// location. Per-product failures are logged and skipped so one bad row
// does not block the sweep.
func (s *Service) ReconcileAll(ctx context.Context, locationID *id.ID, actor string) ([]ReconcileResult, error) {
	rows, err := s.balances.ListActive(ctx, locationID)
	if err != nil {
		return nil, fmt.Errorf("list balances: %w", err)
	}

	results := make([]ReconcileResult, 0, len(rows))
	var repaired int
	for _, b := range rows {
		res, err := s.Reconcile(ctx, b.ProductID, b.LocationID, actor)
		if err != nil {
			logger.Error(ctx, "reconcile failed",
				"productId", b.ProductID,
				"locationId", b.LocationID,
				"error", err,
			)
			continue
		}
		if res.Repaired {
			repaired++
		}
		results = append(results, *res)
	}
	logger.Info(ctx, "reconcile sweep finished",
		"checked", len(rows),
		"repaired", repaired,
	)
	return results, nil
}
