package transfer

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
	"stockcore/internal/domain/stock"
	"stockcore/pkg/logger"
)

// ReferenceTypeTransfer tags ledger entries produced by transfers.
const ReferenceTypeTransfer = "transfer"

// RequestInput describes a new transfer.
type RequestInput struct {
	ProductID id.ID          `json:"productId"`
	SourceID  id.ID          `json:"sourceId"`
	DestID    id.ID          `json:"destId"`
	Quantity  types.Quantity `json:"quantity"`
	Note      string         `json:"note,omitempty"`
	Actor     string         `json:"actor"`
}

func (r RequestInput) Validate() error {
	if id.IsNil(r.ProductID) {
		return apperror.NewValidation("productId is required")
	}
	if r.SourceID == r.DestID {
		return apperror.NewValidation("source and destination must differ")
	}
	if !r.Quantity.IsPositive() {
		return apperror.NewValidation("quantity must be positive")
	}
	if r.Actor == "" {
		return apperror.NewValidation("actor is required")
	}
	return nil
}

// Service drives the transfer state machine. The shipped-out and
// received-in ledger entries for one transfer always sum to zero, so
// total system quantity is conserved; only its location changes.
type Service struct {
	transfers Repository
	balances  stock.BalanceRepository
	entries   ledger.Repository
	txm       tx.Manager
	sink      audit.Sink
}

func NewService(transfers Repository, balances stock.BalanceRepository, entries ledger.Repository, txm tx.Manager, sink audit.Sink) *Service {
	if sink == nil {
		sink = audit.NopSink{}
	}
	return &Service{
		transfers: transfers,
		balances:  balances,
		entries:   entries,
		txm:       txm,
		sink:      sink,
	}
}

// Request persists a transfer in requested. No stock moves yet.
func (s *Service) Request(ctx context.Context, in RequestInput) (Transfer, error) {
	if err := in.Validate(); err != nil {
		return Transfer{}, err
	}
	t := Transfer{
		ID:          id.New(),
		ProductID:   in.ProductID,
		SourceID:    in.SourceID,
		DestID:      in.DestID,
		Quantity:    in.Quantity,
		Status:      StatusRequested,
		Note:        in.Note,
		RequestedBy: in.Actor,
		RequestedAt: time.Now().UTC(),
	}
	if err := s.transfers.Create(ctx, t); err != nil {
		return Transfer{}, fmt.Errorf("create transfer: %w", err)
	}
	return t, nil
}

// Get returns a transfer by id.
func (s *Service) Get(ctx context.Context, transferID id.ID) (Transfer, error) {
	return s.transfers.Get(ctx, transferID)
}

// List returns transfers matching the filter.
func (s *Service) List(ctx context.Context, filter ListFilter) ([]Transfer, error) {
	return s.transfers.List(ctx, filter)
}

// Ship decrements the source balance and transitions the transfer to
// shipped. The transfer row and the source balance row are both locked
// for the transaction; a sufficiency failure leaves no partial effect.
func (s *Service) Ship(ctx context.Context, transferID id.ID, actor string) (Transfer, error) {
	var out Transfer
	err := s.txm.RunInTransaction(ctx, func(ctx context.Context) error {
		t, err := s.transfers.GetForUpdate(ctx, transferID)
		if err != nil {
			return err
		}
		if err := t.Ship(actor, time.Now().UTC()); err != nil {
			return err
		}

		bal, err := s.balances.GetForUpdate(ctx, t.ProductID, t.SourceID)
		if err != nil {
			return err
		}
		if !bal.Active {
			return apperror.NewValidation("product is deactivated").
				WithDetail("productId", t.ProductID)
		}
		if t.Quantity > bal.Quantity {
			return apperror.NewInsufficientStock(
				t.ProductID.String(), t.Quantity.Int64(), bal.Quantity.Int64())
		}

		entry := ledger.NewEntry(t.ProductID, t.SourceID, ledger.KindTransferOut, t.Quantity.Neg(), actor).
			WithReference(ledger.Reference{Type: ReferenceTypeTransfer, ID: t.ID})
		if err := s.entries.Append(ctx, entry); err != nil {
			return fmt.Errorf("append ledger entry: %w", err)
		}
		note := fmt.Sprintf("transfer_out %+d", t.Quantity.Neg().Int64())
		if err := s.balances.UpdateCAS(ctx, bal, bal.Quantity-t.Quantity, note); err != nil {
			return err
		}
		if err := s.transfers.Update(ctx, t); err != nil {
			return fmt.Errorf("update transfer: %w", err)
		}
		out = t
		return nil
	})

	s.recordAudit(ctx, "transfer.ship", transferID, actor, out, err)
	if err != nil {
		return Transfer{}, err
	}
	return out, nil
}

// Receive increments the destination balance and transitions the
// transfer to received. The destination balance row is created on
// first receipt.
func (s *Service) Receive(ctx context.Context, transferID id.ID, actor string) (Transfer, error) {
	var out Transfer
	err := s.txm.RunInTransaction(ctx, func(ctx context.Context) error {
		t, err := s.transfers.GetForUpdate(ctx, transferID)
		if err != nil {
			return err
		}
		if err := t.Receive(actor, time.Now().UTC()); err != nil {
			return err
		}

		bal, err := s.balances.GetOrCreateForUpdate(ctx, t.ProductID, t.DestID)
		if err != nil {
			return err
		}
		entry := ledger.NewEntry(t.ProductID, t.DestID, ledger.KindTransferIn, t.Quantity, actor).
			WithReference(ledger.Reference{Type: ReferenceTypeTransfer, ID: t.ID})
		if err := s.entries.Append(ctx, entry); err != nil {
			return fmt.Errorf("append ledger entry: %w", err)
		}
		note := fmt.Sprintf("transfer_in %+d", t.Quantity.Int64())
		if err := s.balances.UpdateCAS(ctx, bal, bal.Quantity+t.Quantity, note); err != nil {
			return err
		}
		if err := s.transfers.Update(ctx, t); err != nil {
			return fmt.Errorf("update transfer: %w", err)
		}
		out = t
		return nil
	})

	s.recordAudit(ctx, "transfer.receive", transferID, actor, out, err)
	if err != nil {
		return Transfer{}, err
	}
	return out, nil
}

// Cancel abandons a transfer that has not shipped. No stock effect.
func (s *Service) Cancel(ctx context.Context, transferID id.ID, actor string) (Transfer, error) {
	var out Transfer
	err := s.txm.RunInTransaction(ctx, func(ctx context.Context) error {
		t, err := s.transfers.GetForUpdate(ctx, transferID)
		if err != nil {
			return err
		}
		if err := t.Cancel(actor); err != nil {
			return err
		}
		if err := s.transfers.Update(ctx, t); err != nil {
			return fmt.Errorf("update transfer: %w", err)
		}
		out = t
		return nil
	})
	if err != nil {
		return Transfer{}, err
	}
	return out, nil
}

func (s *Service) recordAudit(ctx context.Context, operation string, entityID id.ID, actor string, t Transfer, opErr error) {
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
	} else if payload, err := json.Marshal(t); err == nil {
		rec.Payload = payload
	}
	if err := s.sink.Record(ctx, rec); err != nil {
		logger.Warn(ctx, "audit record failed",
			"operation", operation,
			"error", err,
		)
	}
}
