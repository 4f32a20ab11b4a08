// Package transfer_repo provides the PostgreSQL implementation of the
// transfer repository.
package transfer_repo

import (
	"context"
	"fmt"

	"github.com/Masterminds/squirrel"
	"github.com/georgysavva/scany/v2/pgxscan"

	"stockcore/internal/core/apperror"
	"stockcore/internal/core/id"
	"stockcore/internal/domain/transfer"
	"stockcore/internal/infrastructure/storage/postgres"
)

const transfersTable = "stock_transfers"

// Compile-time check that TransferRepo implements transfer.Repository.
var _ transfer.Repository = (*TransferRepo)(nil)

// TransferRepo implements transfer.Repository.
type TransferRepo struct {
	txManager *postgres.TxManager
	builder   squirrel.StatementBuilderType
}

// NewTransferRepo creates a new transfer repository.
func NewTransferRepo(txManager *postgres.TxManager) *TransferRepo {
	return &TransferRepo{
		txManager: txManager,
		builder:   squirrel.StatementBuilder.PlaceholderFormat(squirrel.Dollar),
	}
}

func transferColumns() []string {
	return []string{
		"id", "product_id", "source_id", "dest_id", "quantity", "status", "note",
		"requested_by", "shipped_by", "received_by", "canceled_by",
		"requested_at", "shipped_at", "received_at",
	}
}

// Create inserts a transfer.
func (r *TransferRepo) Create(ctx context.Context, t transfer.Transfer) error {
	q := r.builder.Insert(transfersTable).
		Columns(transferColumns()...).
		Values(t.ID, t.ProductID, t.SourceID, t.DestID, t.Quantity, t.Status, t.Note,
			t.RequestedBy, t.ShippedBy, t.ReceivedBy, t.CanceledBy,
			t.RequestedAt, t.ShippedAt, t.ReceivedAt)

	sql, args, err := q.ToSql()
	if err != nil {
		return fmt.Errorf("build insert: %w", err)
	}
	if _, err := r.txManager.GetQuerier(ctx).Exec(ctx, sql, args...); err != nil {
		return fmt.Errorf("insert transfer: %w", err)
	}
	return nil
}

// Get returns a transfer by id.
func (r *TransferRepo) Get(ctx context.Context, transferID id.ID) (transfer.Transfer, error) {
	q := r.builder.Select(transferColumns()...).
		From(transfersTable).
		Where(squirrel.Eq{"id": transferID}).
		Limit(1)

	sql, args, err := q.ToSql()
	if err != nil {
		return transfer.Transfer{}, fmt.Errorf("build query: %w", err)
	}

	var t transfer.Transfer
	if err := pgxscan.Get(ctx, r.txManager.GetQuerier(ctx), &t, sql, args...); err != nil {
		if pgxscan.NotFound(err) {
			return transfer.Transfer{}, apperror.NewNotFound("transfer", transferID.String())
		}
		return transfer.Transfer{}, fmt.Errorf("get transfer: %w", err)
	}
	return t, nil
}

// GetForUpdate locks the transfer row for the transaction.
func (r *TransferRepo) GetForUpdate(ctx context.Context, transferID id.ID) (transfer.Transfer, error) {
	sql := `
		SELECT id, product_id, source_id, dest_id, quantity, status, note,
			   requested_by, shipped_by, received_by, canceled_by,
			   requested_at, shipped_at, received_at
		FROM stock_transfers
		WHERE id = $1
		FOR UPDATE
	`

	var t transfer.Transfer
	if err := pgxscan.Get(ctx, r.txManager.GetQuerier(ctx), &t, sql, transferID); err != nil {
		if pgxscan.NotFound(err) {
			return transfer.Transfer{}, apperror.NewNotFound("transfer", transferID.String())
		}
		return transfer.Transfer{}, fmt.Errorf("get transfer for update: %w", err)
	}
	return t, nil
}

// Update writes a transfer. Quantity, product and endpoints are fixed
// at request time and never updated.
func (r *TransferRepo) Update(ctx context.Context, t transfer.Transfer) error {
	q := r.builder.Update(transfersTable).
		Set("status", t.Status).
		Set("note", t.Note).
		Set("shipped_by", t.ShippedBy).
		Set("received_by", t.ReceivedBy).
		Set("canceled_by", t.CanceledBy).
		Set("shipped_at", t.ShippedAt).
		Set("received_at", t.ReceivedAt).
		Where(squirrel.Eq{"id": t.ID})

	sql, args, err := q.ToSql()
	if err != nil {
		return fmt.Errorf("build update: %w", err)
	}
	tag, err := r.txManager.GetQuerier(ctx).Exec(ctx, sql, args...)
	if err != nil {
		return fmt.Errorf("update transfer: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return apperror.NewNotFound("transfer", t.ID.String())
	}
	return nil
}

// List returns transfers matching the filter, newest first.
func (r *TransferRepo) List(ctx context.Context, filter transfer.ListFilter) ([]transfer.Transfer, error) {
	q := r.builder.Select(transferColumns()...).From(transfersTable)
	if filter.ProductID != nil {
		q = q.Where(squirrel.Eq{"product_id": *filter.ProductID})
	}
	if filter.Status != nil {
		q = q.Where(squirrel.Eq{"status": *filter.Status})
	}
	q = q.OrderBy("requested_at DESC")
	if filter.Limit > 0 {
		q = q.Limit(uint64(filter.Limit))
	}
	if filter.Offset > 0 {
		q = q.Offset(uint64(filter.Offset))
	}

	sql, args, err := q.ToSql()
	if err != nil {
		return nil, fmt.Errorf("build query: %w", err)
	}

	var transfers []transfer.Transfer
	if err := pgxscan.Select(ctx, r.txManager.GetQuerier(ctx), &transfers, sql, args...); err != nil {
		return nil, fmt.Errorf("select transfers: %w", err)
	}
	return transfers, nil
}
