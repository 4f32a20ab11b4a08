package transfer

import (
	"time"

	"stockcore/internal/core/apperror"
	"stockcore/internal/core/id"
	"stockcore/internal/core/types"
)

// Status is the lifecycle state of a transfer.
type Status string

const (
	StatusRequested Status = "requested"
	StatusShipped   Status = "shipped"
	StatusReceived  Status = "received"
	StatusCanceled  Status = "canceled"
)

// Transfer moves a quantity of one product between locations. The
// quantity is fixed at request time; ship and receive only change the
// state and stamp the actor.
type Transfer struct {
	ID          id.ID          `db:"id" json:"id"`
	ProductID   id.ID          `db:"product_id" json:"productId"`
	SourceID    id.ID          `db:"source_id" json:"sourceId"`
	DestID      id.ID          `db:"dest_id" json:"destId"`
	Quantity    types.Quantity `db:"quantity" json:"quantity"`
	Status      Status         `db:"status" json:"status"`
	Note        string         `db:"note" json:"note,omitempty"`
	RequestedBy string         `db:"requested_by" json:"requestedBy"`
	ShippedBy   string         `db:"shipped_by" json:"shippedBy,omitempty"`
	ReceivedBy  string         `db:"received_by" json:"receivedBy,omitempty"`
	CanceledBy  string         `db:"canceled_by" json:"canceledBy,omitempty"`
	RequestedAt time.Time      `db:"requested_at" json:"requestedAt"`
	ShippedAt   *time.Time     `db:"shipped_at" json:"shippedAt,omitempty"`
	ReceivedAt  *time.Time     `db:"received_at" json:"receivedAt,omitempty"`
}

// Ship transitions requested -> shipped.
func (t *Transfer) Ship(actor string, now time.Time) error {
	if t.Status != StatusRequested {
		return apperror.NewInvalidStateTransition("transfer", string(t.Status), string(StatusShipped))
	}
	t.Status = StatusShipped
	t.ShippedBy = actor
	t.ShippedAt = &now
	return nil
}

// Receive transitions shipped -> received.
func (t *Transfer) Receive(actor string, now time.Time) error {
	if t.Status != StatusShipped {
		return apperror.NewInvalidStateTransition("transfer", string(t.Status), string(StatusReceived))
	}
	t.Status = StatusReceived
	t.ReceivedBy = actor
	t.ReceivedAt = &now
	return nil
}

// Cancel is only allowed before shipment, while no stock has moved.
func (t *Transfer) Cancel(actor string) error {
	if t.Status != StatusRequested {
		return apperror.NewInvalidStateTransition("transfer", string(t.Status), string(StatusCanceled))
	}
	t.Status = StatusCanceled
	t.CanceledBy = actor
	return nil
}
