// Package ledger provides the append-only stock ledger, the source of
// truth for reconciliation. Entries are immutable: never updated, never
// deleted.
package ledger

import (
	"time"

	"stockcore/internal/core/apperror"
	"stockcore/internal/core/id"
	"stockcore/internal/core/types"
)

// EntryKind is the closed set of ledger movement kinds.
// Adding a kind is a compile-time-checked change: every switch over
// EntryKind must handle all constants (see Valid and Direction).
type EntryKind string

const (
	KindReceive     EntryKind = "receive"
	KindSale        EntryKind = "sale"
	KindAdjustment  EntryKind = "adjustment"
	KindTransferOut EntryKind = "transfer_out"
	KindTransferIn  EntryKind = "transfer_in"
)

// Valid reports whether k is a known kind.
func (k EntryKind) Valid() bool {
	switch k {
	case KindReceive, KindSale, KindAdjustment, KindTransferOut, KindTransferIn:
		return true
	}
	return false
}

// Direction returns the expected sign of QuantityChange for the kind:
// +1 for inbound kinds, -1 for outbound, 0 for adjustment (either sign).
func (k EntryKind) Direction() int {
	switch k {
	case KindReceive, KindTransferIn:
		return 1
	case KindSale, KindTransferOut:
		return -1
	case KindAdjustment:
		return 0
	}
	return 0
}

// Reference links a ledger entry back to the triggering business event.
// The engine treats it as an opaque correlation identifier.
type Reference struct {
	Type string `db:"reference_type" json:"type"`
	ID   id.ID  `db:"reference_id" json:"id"`
}

// Entry is an immutable record of a signed quantity change for a product.
type Entry struct {
	ID         id.ID `db:"id" json:"id"`
	ProductID  id.ID `db:"product_id" json:"productId"`
	LocationID id.ID `db:"location_id" json:"locationId"`

	Kind           EntryKind      `db:"kind" json:"kind"`
	QuantityChange types.Quantity `db:"quantity_change" json:"quantityChange"`

	// UnitCost is optional; nil when the triggering event carries no cost.
	UnitCost *types.Money `db:"unit_cost" json:"unitCost,omitempty"`

	ReferenceType *string `db:"reference_type" json:"referenceType,omitempty"`
	ReferenceID   *id.ID  `db:"reference_id" json:"referenceId,omitempty"`

	Actor     string    `db:"actor" json:"actor"`
	CreatedAt time.Time `db:"created_at" json:"createdAt"`
}

// NewEntry creates a ledger entry with generated ID and timestamp.
func NewEntry(productID, locationID id.ID, kind EntryKind, change types.Quantity, actor string) Entry {
	return Entry{
		ID:             id.New(),
		ProductID:      productID,
		LocationID:     locationID,
		Kind:           kind,
		QuantityChange: change,
		Actor:          actor,
		CreatedAt:      time.Now().UTC(),
	}
}

// WithReference attaches a business-event reference.
func (e Entry) WithReference(ref Reference) Entry {
	refType := ref.Type
	refID := ref.ID
	e.ReferenceType = &refType
	e.ReferenceID = &refID
	return e
}

// WithUnitCost attaches an optional unit cost.
func (e Entry) WithUnitCost(cost types.Money) Entry {
	e.UnitCost = &cost
	return e
}

// Validate checks entry invariants before append.
func (e Entry) Validate() error {
	if !e.Kind.Valid() {
		return apperror.NewValidation("unknown ledger entry kind").
			WithDetail("kind", string(e.Kind))
	}
	if e.QuantityChange.IsZero() {
		return apperror.NewValidation("quantity change must be non-zero")
	}
	if dir := e.Kind.Direction(); dir > 0 && e.QuantityChange.IsNegative() ||
		dir < 0 && e.QuantityChange.IsPositive() {
		return apperror.NewValidation("quantity change sign does not match entry kind").
			WithDetail("kind", string(e.Kind)).
			WithDetail("quantity_change", e.QuantityChange.Int64())
	}
	if id.IsNil(e.ProductID) {
		return apperror.NewValidation("product is required")
	}
	return nil
}
