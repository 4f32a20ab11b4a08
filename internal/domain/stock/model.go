// Package stock provides the versioned product balance and the stock
// movement service: the only write path into the balance cache and the
// ledger.
package stock

import (
	"time"

	"stockcore/internal/core/apperror"
	"stockcore/internal/core/id"
	"stockcore/internal/core/types"
	"stockcore/internal/domain/ledger"
)

// Balance is the cached current quantity for a product at a location.
// It is mutated only via compare-and-swap on Version; the ledger is the
// source of truth when the two disagree.
type Balance struct {
	ProductID  id.ID `db:"product_id" json:"productId"`
	LocationID id.ID `db:"location_id" json:"locationId"`

	Quantity types.Quantity `db:"quantity" json:"quantity"`

	// Version increments on every balance-affecting write.
	Version int64 `db:"version" json:"version"`

	// LastMovement is a denormalized note for quick inspection.
	LastMovement string `db:"last_movement" json:"lastMovement,omitempty"`

	Active    bool      `db:"active" json:"active"`
	UpdatedAt time.Time `db:"updated_at" json:"updatedAt"`
}

// MovementKind is the closed set of caller-facing movement kinds.
type MovementKind string

const (
	// MovementIn increases the balance (receipts, returns).
	MovementIn MovementKind = "in"
	// MovementOut decreases the balance (sales); rejected when the
	// result would go negative.
	MovementOut MovementKind = "out"
	// MovementAdjustment sets the balance to an absolute value
	// (manual edits, cycle-count corrections).
	MovementAdjustment MovementKind = "adjustment"
)

// Valid reports whether k is a known movement kind.
func (k MovementKind) Valid() bool {
	switch k {
	case MovementIn, MovementOut, MovementAdjustment:
		return true
	}
	return false
}

// LedgerKind maps the movement kind to the ledger entry kind.
func (k MovementKind) LedgerKind() ledger.EntryKind {
	switch k {
	case MovementIn:
		return ledger.KindReceive
	case MovementOut:
		return ledger.KindSale
	case MovementAdjustment:
		return ledger.KindAdjustment
	}
	// Unreachable for validated requests.
	return ledger.KindAdjustment
}

// ApplyMovementRequest is the typed request for a single movement.
type ApplyMovementRequest struct {
	ProductID  id.ID             `json:"productId"`
	LocationID id.ID             `json:"locationId"`
	Kind       MovementKind      `json:"kind"`
	Quantity   types.Quantity    `json:"quantity"`
	UnitCost   *types.Money      `json:"unitCost,omitempty"`
	Reason     string            `json:"reason,omitempty"`
	Reference  *ledger.Reference `json:"reference,omitempty"`
	Actor      string            `json:"actor"`
}

// Validate checks the request at the service boundary.
func (r ApplyMovementRequest) Validate() error {
	if id.IsNil(r.ProductID) {
		return apperror.NewValidation("productId is required")
	}
	if !r.Kind.Valid() {
		return apperror.NewValidation("unknown movement kind").
			WithDetail("kind", string(r.Kind))
	}
	switch r.Kind {
	case MovementIn, MovementOut:
		if !r.Quantity.IsPositive() {
			return apperror.NewValidation("quantity must be positive").
				WithDetail("quantity", r.Quantity.Int64())
		}
	case MovementAdjustment:
		if r.Quantity.IsNegative() {
			return apperror.NewValidation("adjustment target must be non-negative").
				WithDetail("quantity", r.Quantity.Int64())
		}
	}
	return nil
}

// MovementResult reports an applied movement.
type MovementResult struct {
	ProductID  id.ID          `json:"productId"`
	LocationID id.ID          `json:"locationId"`
	EntryID    id.ID          `json:"entryId"`
	Kind       MovementKind   `json:"kind"`
	Delta      types.Quantity `json:"delta"`
	Before     types.Quantity `json:"before"`
	After      types.Quantity `json:"after"`
	Version    int64          `json:"version"`
}

// BulkAdjustItem targets one product in a bulk absolute update.
type BulkAdjustItem struct {
	ProductID   id.ID          `json:"productId"`
	LocationID  id.ID          `json:"locationId"`
	NewQuantity types.Quantity `json:"newQuantity"`
	Reason      string         `json:"reason,omitempty"`
}

// BulkItemError reports a failed item in a bulk update.
type BulkItemError struct {
	ProductID id.ID  `json:"productId"`
	Code      string `json:"code"`
	Message   string `json:"message"`
}

// BulkAdjustResult is the partial-success result of a bulk update.
// Unlike the single-item path, which is all-or-nothing, failed items
// are reported here while the rest of the batch commits.
type BulkAdjustResult struct {
	UpdatedCount int              `json:"updatedCount"`
	Results      []MovementResult `json:"results"`
	Errors       []BulkItemError  `json:"errors"`
}

// ReconcileResult reports one balance-vs-ledger recheck.
type ReconcileResult struct {
	ProductID    id.ID          `json:"productId"`
	LocationID   id.ID          `json:"locationId"`
	LedgerSum    types.Quantity `json:"ledgerSum"`
	CachedBefore types.Quantity `json:"cachedBefore"`
	CachedAfter  types.Quantity `json:"cachedAfter"`
	Repaired     bool           `json:"repaired"`
	// Clamped is set when the ledger sum was negative and the cache was
	// repaired to zero instead. The discrepancy is surfaced, never hidden.
	Clamped bool `json:"clamped"`
}
