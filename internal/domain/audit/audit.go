// Package audit defines the best-effort observability sink for every
// attempted balance-affecting operation. The ledger is authoritative
// for consistency; audit records exist for forensics only, so a sink
// failure must never abort or reverse the primary operation.
package audit

import (
	"context"
	"time"

	"stockcore/internal/core/id"
	"stockcore/internal/core/types"
)

// Outcome of an attempted operation.
type Outcome string

const (
	OutcomeSuccess Outcome = "success"
	OutcomeFailure Outcome = "failure"
)

// Record captures one attempted operation.
type Record struct {
	ID        id.ID     `db:"id"`
	Operation string    `db:"operation"`
	EntityID  id.ID     `db:"entity_id"`
	Outcome   Outcome   `db:"outcome"`
	ErrorCode string    `db:"error_code"`
	Actor     string    `db:"actor"`
	Payload   []byte    `db:"payload"`
	CreatedAt time.Time `db:"created_at"`
}

// MovementDetails is the payload recorded for stock movements.
type MovementDetails struct {
	ProductID  id.ID          `json:"productId"`
	LocationID id.ID          `json:"locationId"`
	Before     types.Quantity `json:"before"`
	After      types.Quantity `json:"after"`
	Reason     string         `json:"reason,omitempty"`
}

// Sink receives audit records. Implementations must be safe for
// concurrent use and should swallow their own failures.
type Sink interface {
	Record(ctx context.Context, rec Record) error
}

// NopSink discards all records. Useful in tests.
type NopSink struct{}

func (NopSink) Record(context.Context, Record) error { return nil }
