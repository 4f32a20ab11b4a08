package stock

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"stockcore/internal/core/apperror"
	"stockcore/internal/core/id"
	"stockcore/internal/core/tx"
	"stockcore/internal/core/types"
	"stockcore/internal/domain/audit"
	"stockcore/internal/domain/ledger"
	"stockcore/pkg/logger"
)

// Service validates and applies stock movements. Every balance change
// writes its ledger entry in the same transaction; a ledger failure
// aborts the balance update.
type Service struct {
	balances BalanceRepository
	entries  ledger.Repository
	txm      tx.Manager
	sink     audit.Sink
}

// NewService creates a new stock movement service.
func NewService(balances BalanceRepository, entries ledger.Repository, txm tx.Manager, sink audit.Sink) *Service {
	if sink == nil {
		sink = audit.NopSink{}
	}
	return &Service{
		balances: balances,
		entries:  entries,
		txm:      txm,
		sink:     sink,
	}
}

// RegisterProduct creates the balance row for a product at a location.
func (s *Service) RegisterProduct(ctx context.Context, productID, locationID id.ID) (Balance, error) {
	if id.IsNil(productID) {
		return Balance{}, apperror.NewValidation("productId is required")
	}
	b := Balance{
		ProductID:  productID,
		LocationID: locationID,
		Quantity:   0,
		Version:    1,
		Active:     true,
		UpdatedAt:  time.Now().UTC(),
	}
	if err := s.balances.Create(ctx, b); err != nil {
		return Balance{}, fmt.Errorf("create balance: %w", err)
	}
	return b, nil
}

// DeactivateProduct marks a product's balance rows inactive. The rows
// and their ledger entries are kept.
func (s *Service) DeactivateProduct(ctx context.Context, productID id.ID) error {
	rows, err := s.balances.ListByProduct(ctx, productID)
	if err != nil {
		return fmt.Errorf("list balances: %w", err)
	}
	if len(rows) == 0 {
		return apperror.NewNotFound("balance", productID.String())
	}
	for _, b := range rows {
		if err := s.balances.SetActive(ctx, b.ProductID, b.LocationID, false); err != nil {
			return fmt.Errorf("deactivate balance: %w", err)
		}
	}
	return nil
}

// GetBalance returns the cached balance for a product at a location.
func (s *Service) GetBalance(ctx context.Context, productID, locationID id.ID) (Balance, error) {
	return s.balances.Get(ctx, productID, locationID)
}

// ListActiveBalances returns active balances, optionally scoped to a
// location.
func (s *Service) ListActiveBalances(ctx context.Context, locationID *id.ID) ([]Balance, error) {
	return s.balances.ListActive(ctx, locationID)
}

// ApplyMovement applies a single in/out/adjustment movement.
// All-or-nothing: the row lock, validation, ledger append and CAS
// balance update happen in one retryable transaction.
func (s *Service) ApplyMovement(ctx context.Context, req ApplyMovementRequest) (*MovementResult, error) {
	if err := req.Validate(); err != nil {
		s.recordAudit(ctx, "stock.apply_movement", req.ProductID, req.Actor, nil, err)
		return nil, err
	}

	var result *MovementResult
	err := s.txm.RunInTransaction(ctx, func(ctx context.Context) error {
		res, err := s.applyInTx(ctx, req)
		if err != nil {
			return err
		}
		result = res
		return nil
	})

	var details *audit.MovementDetails
	if result != nil {
		details = &audit.MovementDetails{
			ProductID:  result.ProductID,
			LocationID: result.LocationID,
			Before:     result.Before,
			After:      result.After,
			Reason:     req.Reason,
		}
	}
	s.recordAudit(ctx, "stock.apply_movement", req.ProductID, req.Actor, details, err)

	if err != nil {
		return nil, err
	}
	return result, nil
}

// applyInTx performs the movement against a locked balance row.
// Callers own the transaction.
func (s *Service) applyInTx(ctx context.Context, req ApplyMovementRequest) (*MovementResult, error) {
	bal, err := s.balances.GetForUpdate(ctx, req.ProductID, req.LocationID)
	if err != nil {
		return nil, err
	}
	if !bal.Active {
		return nil, apperror.NewValidation("product is deactivated").
			WithDetail("productId", req.ProductID)
	}

	var delta types.Quantity
	switch req.Kind {
	case MovementIn:
		delta = req.Quantity
	case MovementOut:
		if req.Quantity > bal.Quantity {
			return nil, apperror.NewInsufficientStock(
				req.ProductID.String(), req.Quantity.Int64(), bal.Quantity.Int64())
		}
		delta = req.Quantity.Neg()
	case MovementAdjustment:
		delta = req.Quantity - bal.Quantity
	}

	if delta.IsZero() {
		// Absolute adjustment to the current value: nothing to record.
		return &MovementResult{
			ProductID:  bal.ProductID,
			LocationID: bal.LocationID,
			Kind:       req.Kind,
			Before:     bal.Quantity,
			After:      bal.Quantity,
			Version:    bal.Version,
		}, nil
	}

	entry := ledger.NewEntry(req.ProductID, req.LocationID, req.Kind.LedgerKind(), delta, req.Actor)
	if req.Reference != nil {
		entry = entry.WithReference(*req.Reference)
	}
	if req.UnitCost != nil {
		entry = entry.WithUnitCost(*req.UnitCost)
	}
	if err := entry.Validate(); err != nil {
		return nil, err
	}
	if err := s.entries.Append(ctx, entry); err != nil {
		return nil, fmt.Errorf("append ledger entry: %w", err)
	}

	newQty := bal.Quantity + delta
	note := movementNote(req.Kind, delta, req.Reason)
	if err := s.balances.UpdateCAS(ctx, bal, newQty, note); err != nil {
		return nil, err
	}

	return &MovementResult{
		ProductID:  bal.ProductID,
		LocationID: bal.LocationID,
		EntryID:    entry.ID,
		Kind:       req.Kind,
		Delta:      delta,
		Before:     bal.Quantity,
		After:      newQty,
		Version:    bal.Version + 1,
	}, nil
}

// ApplyAdjustmentDelta applies a signed quantity change as an
// adjustment movement. Used by workflows that already know the delta
// (cycle count differences) rather than a target absolute value. The
// resulting quantity must be non-negative.
func (s *Service) ApplyAdjustmentDelta(ctx context.Context, productID, locationID id.ID, delta types.Quantity, reason string, ref *ledger.Reference, actor string) (*MovementResult, error) {
	if delta.IsZero() {
		return nil, apperror.NewValidation("adjustment delta must not be zero")
	}

	var result *MovementResult
	err := s.txm.RunInTransaction(ctx, func(ctx context.Context) error {
		bal, err := s.balances.GetForUpdate(ctx, productID, locationID)
		if err != nil {
			return err
		}
		if !bal.Active {
			return apperror.NewValidation("product is deactivated").
				WithDetail("productId", productID)
		}
		newQty := bal.Quantity + delta
		if newQty.IsNegative() {
			return apperror.NewInsufficientStock(
				productID.String(), delta.Abs().Int64(), bal.Quantity.Int64())
		}

		entry := ledger.NewEntry(productID, locationID, ledger.KindAdjustment, delta, actor)
		if ref != nil {
			entry = entry.WithReference(*ref)
		}
		if err := entry.Validate(); err != nil {
			return err
		}
		if err := s.entries.Append(ctx, entry); err != nil {
			return fmt.Errorf("append ledger entry: %w", err)
		}
		if err := s.balances.UpdateCAS(ctx, bal, newQty, movementNote(MovementAdjustment, delta, reason)); err != nil {
			return err
		}

		result = &MovementResult{
			ProductID:  bal.ProductID,
			LocationID: bal.LocationID,
			EntryID:    entry.ID,
			Kind:       MovementAdjustment,
			Delta:      delta,
			Before:     bal.Quantity,
			After:      newQty,
			Version:    bal.Version + 1,
		}
		return nil
	})

	var details *audit.MovementDetails
	if result != nil {
		details = &audit.MovementDetails{
			ProductID:  result.ProductID,
			LocationID: result.LocationID,
			Before:     result.Before,
			After:      result.After,
			Reason:     reason,
		}
	}
	s.recordAudit(ctx, "stock.apply_adjustment_delta", productID, actor, details, err)

	if err != nil {
		return nil, err
	}
	return result, nil
}

// BulkAdjust sets absolute quantities for a list of products inside one
// transaction. Each item runs in a savepoint: a failed item (not found,
// negative target) is rolled back and reported while the remaining
// items proceed. This partial-success contract is deliberate and
// distinct from the all-or-nothing single-item path.
func (s *Service) BulkAdjust(ctx context.Context, items []BulkAdjustItem, actor string) (*BulkAdjustResult, error) {
	if len(items) == 0 {
		return nil, apperror.NewValidation("empty bulk update")
	}

	result := &BulkAdjustResult{}
	err := s.txm.RunInTransaction(ctx, func(ctx context.Context) error {
		for _, item := range items {
			req := ApplyMovementRequest{
				ProductID:  item.ProductID,
				LocationID: item.LocationID,
				Kind:       MovementAdjustment,
				Quantity:   item.NewQuantity,
				Reason:     item.Reason,
				Actor:      actor,
			}
			if err := req.Validate(); err != nil {
				result.Errors = append(result.Errors, bulkError(item.ProductID, err))
				continue
			}

			var res *MovementResult
			spErr := s.txm.WithSavepoint(ctx, func(ctx context.Context) error {
				r, err := s.applyInTx(ctx, req)
				if err != nil {
					return err
				}
				res = r
				return nil
			})
			if spErr != nil {
				result.Errors = append(result.Errors, bulkError(item.ProductID, spErr))
				continue
			}
			result.Results = append(result.Results, *res)
			result.UpdatedCount++
		}
		return nil
	})

	s.recordAudit(ctx, "stock.bulk_adjust", id.Nil(), actor, map[string]any{
		"items":   len(items),
		"updated": result.UpdatedCount,
		"failed":  len(result.Errors),
	}, err)

	if err != nil {
		return nil, err
	}
	return result, nil
}

// recordAudit mirrors an operation outcome to the audit sink.
// Sink failures are logged and swallowed; they never mask the primary
// outcome.
func (s *Service) recordAudit(ctx context.Context, operation string, entityID id.ID, actor string, details any, opErr error) {
	rec := audit.Record{
		ID:        id.New(),
		Operation: operation,
		EntityID:  entityID,
		Outcome:   audit.OutcomeSuccess,
		Actor:     actor,
		CreatedAt: time.Now().UTC(),
	}
	if opErr != nil {
		rec.Outcome = audit.OutcomeFailure
		if appErr, ok := apperror.AsAppError(opErr); ok {
			rec.ErrorCode = appErr.Code
		} else {
			rec.ErrorCode = apperror.CodeInternal
		}
	}
	if details != nil {
		if payload, err := json.Marshal(details); err == nil {
			rec.Payload = payload
		}
	}
	if err := s.sink.Record(ctx, rec); err != nil {
		logger.Warn(ctx, "audit record failed",
			"operation", operation,
			"error", err,
		)
	}
}

func bulkError(productID id.ID, err error) BulkItemError {
	code := apperror.CodeInternal
	if appErr, ok := apperror.AsAppError(err); ok {
		code = appErr.Code
	}
	return BulkItemError{
		ProductID: productID,
		Code:      code,
		Message:   err.Error(),
	}
}

func movementNote(kind MovementKind, delta types.Quantity, reason string) string {
	note := fmt.Sprintf("%s %+d", kind, delta.Int64())
	if reason != "" {
		note += ": " + reason
	}
	return note
}
