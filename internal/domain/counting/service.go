package counting

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	"stockcore/internal/core/apperror"
	"stockcore/internal/core/id"
	"stockcore/internal/core/tx"
	"stockcore/internal/core/types"
	"stockcore/internal/domain/ledger"
	"stockcore/internal/domain/stock"
	"stockcore/pkg/logger"
)

// ReferenceTypeCycleCount tags ledger entries produced by count adjustments.
const ReferenceTypeCycleCount = "cycle_count"

// errItemAlreadyResolved aborts a per-item transaction when the locked
// read shows another caller already applied the item.
var errItemAlreadyResolved = errors.New("count item already resolved")

// CreateRequest describes a new count header.
type CreateRequest struct {
	LocationID   *id.ID  `json:"locationId,omitempty"`
	Kind         Kind    `json:"kind"`
	TolerancePct float64 `json:"tolerancePct"`
	Note         string  `json:"note,omitempty"`
	CreatedBy    string  `json:"createdBy"`
}

func (r CreateRequest) Validate() error {
	if !r.Kind.Valid() {
		return apperror.NewValidation("unknown count kind").WithDetail("kind", string(r.Kind))
	}
	if r.TolerancePct < 0 || r.TolerancePct > 100 {
		return apperror.NewValidation("tolerance must be between 0 and 100")
	}
	if r.CreatedBy == "" {
		return apperror.NewValidation("createdBy is required")
	}
	return nil
}

// ItemError reports a failed adjustment for one count item.
type ItemError struct {
	ItemID    id.ID  `json:"itemId"`
	ProductID id.ID  `json:"productId"`
	Code      string `json:"code"`
	Message   string `json:"message"`
}

// ApplyResult is the partial-success outcome of ApplyAdjustments.
type ApplyResult struct {
	AppliedCount int         `json:"appliedCount"`
	SkippedCount int         `json:"skippedCount"`
	Errors       []ItemError `json:"errors,omitempty"`
}

// Anomaly is an unresolved non-zero difference left at completion.
type Anomaly struct {
	ItemID       id.ID   `json:"itemId"`
	ProductID    id.ID   `json:"productId"`
	Difference   int64   `json:"difference"`
	OverTolerant bool    `json:"overTolerance"`
	DeviationPct float64 `json:"deviationPct"`
}

// CompletionReport is returned by Complete. Anomalies are reportable,
// not errors.
type CompletionReport struct {
	Count     Count     `json:"count"`
	Anomalies []Anomaly `json:"anomalies,omitempty"`
}

// Service drives the count/adjust state machine. Adjustments are
// delegated to the stock service so they go through the same locked,
// ledger-backed path as every other movement.
type Service struct {
	counts Repository
	stocks *stock.Service
	txm    tx.Manager
}

func NewService(counts Repository, stocks *stock.Service, txm tx.Manager) *Service {
	return &Service{counts: counts, stocks: stocks, txm: txm}
}

// Create persists a count header in pending.
func (s *Service) Create(ctx context.Context, req CreateRequest) (Count, error) {
	if err := req.Validate(); err != nil {
		return Count{}, err
	}
	c := Count{
		ID:           id.New(),
		LocationID:   req.LocationID,
		Kind:         req.Kind,
		Status:       StatusPending,
		TolerancePct: req.TolerancePct,
		Note:         req.Note,
		CreatedBy:    req.CreatedBy,
		CreatedAt:    time.Now().UTC(),
	}
	if err := s.counts.Create(ctx, c); err != nil {
		return Count{}, fmt.Errorf("create count: %w", err)
	}
	return c, nil
}

// Get returns a count header with its items.
func (s *Service) Get(ctx context.Context, countID id.ID) (Count, []Item, error) {
	c, err := s.counts.Get(ctx, countID)
	if err != nil {
		return Count{}, nil, err
	}
	items, err := s.counts.ListItems(ctx, countID)
	if err != nil {
		return Count{}, nil, fmt.Errorf("list items: %w", err)
	}
	return c, items, nil
}

// Start transitions the count to in_progress.
func (s *Service) Start(ctx context.Context, countID id.ID) (Count, error) {
	return s.transition(ctx, countID, func(c *Count) error {
		return c.Start(time.Now().UTC())
	})
}

// Cancel abandons a non-terminal count. No stock effect.
func (s *Service) Cancel(ctx context.Context, countID id.ID) (Count, error) {
	return s.transition(ctx, countID, (*Count).Cancel)
}

func (s *Service) transition(ctx context.Context, countID id.ID, fn func(*Count) error) (Count, error) {
	var out Count
	err := s.txm.RunInTransaction(ctx, func(ctx context.Context) error {
		c, err := s.counts.GetForUpdate(ctx, countID)
		if err != nil {
			return err
		}
		if err := fn(&c); err != nil {
			return err
		}
		if err := s.counts.Update(ctx, c); err != nil {
			return fmt.Errorf("update count: %w", err)
		}
		out = c
		return nil
	})
	return out, err
}

// Preload snapshots every active product's current quantity into count
// items. Requires in_progress; an already-preloaded count is rejected
// so the snapshot stays unambiguous.
func (s *Service) Preload(ctx context.Context, countID id.ID) (int, error) {
	var created int
	err := s.txm.RunInTransaction(ctx, func(ctx context.Context) error {
		c, err := s.counts.GetForUpdate(ctx, countID)
		if err != nil {
			return err
		}
		if !c.Mutable() {
			return apperror.NewInvalidStateTransition("cycle count", string(c.Status), "preload")
		}
		existing, err := s.counts.ListItems(ctx, countID)
		if err != nil {
			return fmt.Errorf("list items: %w", err)
		}
		if len(existing) > 0 {
			return apperror.NewConflict("count already preloaded")
		}

		balances, err := s.stocks.ListActiveBalances(ctx, c.LocationID)
		if err != nil {
			return fmt.Errorf("list balances: %w", err)
		}
		items := make([]Item, 0, len(balances))
		for _, b := range balances {
			items = append(items, Item{
				ID:          id.New(),
				CountID:     countID,
				ProductID:   b.ProductID,
				LocationID:  b.LocationID,
				ExpectedQty: b.Quantity,
				CountedQty:  0,
				Difference:  0,
			})
		}
		if len(items) > 0 {
			if err := s.counts.CreateItems(ctx, items); err != nil {
				return fmt.Errorf("create items: %w", err)
			}
		}
		created = len(items)
		return nil
	})
	return created, err
}

// SetItemCount records a counted quantity for one item and recomputes
// its difference. Allowed any time before its adjustment is applied.
func (s *Service) SetItemCount(ctx context.Context, countID, itemID id.ID, counted int64, reason string) (Item, error) {
	var out Item
	err := s.txm.RunInTransaction(ctx, func(ctx context.Context) error {
		c, err := s.counts.GetForUpdate(ctx, countID)
		if err != nil {
			return err
		}
		if !c.Mutable() {
			return apperror.NewInvalidStateTransition("cycle count", string(c.Status), "set item count")
		}
		item, err := s.counts.GetItem(ctx, itemID)
		if err != nil {
			return err
		}
		if item.CountID != countID {
			return apperror.NewNotFound("count item", itemID.String())
		}
		if err := item.SetCounted(types.Quantity(counted), reason); err != nil {
			return err
		}
		if err := s.counts.UpdateItem(ctx, item); err != nil {
			return fmt.Errorf("update item: %w", err)
		}
		out = item
		return nil
	})
	return out, err
}

// ApplyAdjustments resolves every item with a non-zero difference by
// applying it as an adjustment movement referencing the count. Each
// item is its own transaction: a failure (stock would go negative,
// concurrent modification) aborts only that item and is reported.
func (s *Service) ApplyAdjustments(ctx context.Context, countID id.ID, actor string) (*ApplyResult, error) {
	c, err := s.counts.Get(ctx, countID)
	if err != nil {
		return nil, err
	}
	if !c.Mutable() {
		return nil, apperror.NewInvalidStateTransition("cycle count", string(c.Status), "apply adjustments")
	}
	items, err := s.counts.ListItems(ctx, countID)
	if err != nil {
		return nil, fmt.Errorf("list items: %w", err)
	}

	refID := c.ID
	result := &ApplyResult{}
	for _, item := range items {
		if item.Resolved {
			continue
		}
		if item.Difference.IsZero() {
			result.SkippedCount++
			continue
		}

		applyErr := s.txm.RunInTransaction(ctx, func(ctx context.Context) error {
			cur, err := s.counts.GetItemForUpdate(ctx, item.ID)
			if err != nil {
				return err
			}
			if cur.Resolved {
				// A concurrent caller applied this item after we
				// listed it. The row lock guarantees we see its write.
				return errItemAlreadyResolved
			}
			ref := &ledger.Reference{Type: ReferenceTypeCycleCount, ID: refID}
			if _, err := s.stocks.ApplyAdjustmentDelta(ctx, cur.ProductID, cur.LocationID, cur.Difference, cur.Reason, ref, actor); err != nil {
				return err
			}
			cur.Resolved = true
			return s.counts.UpdateItem(ctx, cur)
		})
		if errors.Is(applyErr, errItemAlreadyResolved) {
			result.SkippedCount++
			continue
		}
		if applyErr != nil {
			logger.Warn(ctx, "count adjustment failed",
				"countId", countID,
				"itemId", item.ID,
				"productId", item.ProductID,
				"error", applyErr,
			)
			result.Errors = append(result.Errors, itemError(item, applyErr))
			continue
		}
		result.AppliedCount++
	}
	return result, nil
}

// Complete transitions the count to completed and reports items still
// carrying unresolved non-zero differences as anomalies.
func (s *Service) Complete(ctx context.Context, countID id.ID) (*CompletionReport, error) {
	c, err := s.transition(ctx, countID, func(c *Count) error {
		return c.Complete(time.Now().UTC())
	})
	if err != nil {
		return nil, err
	}

	items, err := s.counts.ListItems(ctx, countID)
	if err != nil {
		return nil, fmt.Errorf("list items: %w", err)
	}
	report := &CompletionReport{Count: c}
	for _, item := range items {
		if item.Resolved || item.Difference.IsZero() {
			continue
		}
		report.Anomalies = append(report.Anomalies, anomaly(item, c.TolerancePct))
	}
	if len(report.Anomalies) > 0 {
		logger.Warn(ctx, "count completed with unresolved differences",
			"countId", countID,
			"anomalies", len(report.Anomalies),
		)
	}
	return report, nil
}

func anomaly(item Item, tolerancePct float64) Anomaly {
	a := Anomaly{
		ItemID:     item.ID,
		ProductID:  item.ProductID,
		Difference: item.Difference.Int64(),
	}
	if !item.ExpectedQty.IsZero() {
		a.DeviationPct = math.Abs(float64(item.Difference.Int64())) / float64(item.ExpectedQty.Int64()) * 100
	} else {
		a.DeviationPct = 100
	}
	a.OverTolerant = a.DeviationPct > tolerancePct
	return a
}

func itemError(item Item, err error) ItemError {
	code := apperror.CodeInternal
	if appErr, ok := apperror.AsAppError(err); ok {
		code = appErr.Code
	}
	return ItemError{
		ItemID:    item.ID,
		ProductID: item.ProductID,
		Code:      code,
		Message:   err.Error(),
	}
}
