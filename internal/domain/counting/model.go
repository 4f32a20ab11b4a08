package counting

import (
	"time"

	"stockcore/internal/core/apperror"
	"stockcore/internal/core/id"
	"stockcore/internal/core/types"
)

// Status is the lifecycle state of a cycle count.
type Status string

const (
	StatusPending    Status = "pending"
	StatusInProgress Status = "in_progress"
	StatusCompleted  Status = "completed"
	StatusCanceled   Status = "canceled"
)

// Kind distinguishes a scoped cyclic count from a full general count.
type Kind string

const (
	KindCyclic  Kind = "cyclic"
	KindGeneral Kind = "general"
)

func (k Kind) Valid() bool {
	return k == KindCyclic || k == KindGeneral
}

// Count is a physical stock audit. Expected quantities are snapshotted
// at preload time; differences are resolved via adjustment movements.
type Count struct {
	ID           id.ID      `db:"id" json:"id"`
	LocationID   *id.ID     `db:"location_id" json:"locationId,omitempty"`
	Kind         Kind       `db:"kind" json:"kind"`
	Status       Status     `db:"status" json:"status"`
	TolerancePct float64    `db:"tolerance_pct" json:"tolerancePct"`
	Note         string     `db:"note" json:"note,omitempty"`
	CreatedBy    string     `db:"created_by" json:"createdBy"`
	CreatedAt    time.Time  `db:"created_at" json:"createdAt"`
	StartedAt    *time.Time `db:"started_at" json:"startedAt,omitempty"`
	CompletedAt  *time.Time `db:"completed_at" json:"completedAt,omitempty"`
}

// Item is one product line of a count. Difference is always
// countedQty - expectedQty.
type Item struct {
	ID          id.ID          `db:"id" json:"id"`
	CountID     id.ID          `db:"count_id" json:"countId"`
	ProductID   id.ID          `db:"product_id" json:"productId"`
	LocationID  id.ID          `db:"location_id" json:"locationId"`
	ExpectedQty types.Quantity `db:"expected_qty" json:"expectedQty"`
	CountedQty  types.Quantity `db:"counted_qty" json:"countedQty"`
	Difference  types.Quantity `db:"difference" json:"difference"`
	Resolved    bool           `db:"resolved" json:"resolved"`
	Reason      string         `db:"reason" json:"reason,omitempty"`
}

// Start transitions pending -> in_progress.
func (c *Count) Start(now time.Time) error {
	if c.Status != StatusPending {
		return apperror.NewInvalidStateTransition("cycle count", string(c.Status), string(StatusInProgress))
	}
	c.Status = StatusInProgress
	c.StartedAt = &now
	return nil
}

// Complete transitions in_progress -> completed.
func (c *Count) Complete(now time.Time) error {
	if c.Status != StatusInProgress {
		return apperror.NewInvalidStateTransition("cycle count", string(c.Status), string(StatusCompleted))
	}
	c.Status = StatusCompleted
	c.CompletedAt = &now
	return nil
}

// Cancel is allowed from any non-terminal state.
func (c *Count) Cancel() error {
	if c.Status == StatusCompleted || c.Status == StatusCanceled {
		return apperror.NewInvalidStateTransition("cycle count", string(c.Status), string(StatusCanceled))
	}
	c.Status = StatusCanceled
	return nil
}

// Mutable reports whether item counts may still be entered.
func (c *Count) Mutable() bool {
	return c.Status == StatusInProgress
}

// SetCounted records a counted quantity and recomputes the difference.
func (i *Item) SetCounted(counted types.Quantity, reason string) error {
	if counted.IsNegative() {
		return apperror.NewValidation("counted quantity must not be negative")
	}
	if i.Resolved {
		return apperror.NewValidation("count item is already resolved")
	}
	i.CountedQty = counted
	i.Difference = counted - i.ExpectedQty
	i.Reason = reason
	return nil
}
