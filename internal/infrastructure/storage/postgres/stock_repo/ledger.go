package stock_repo

import (
	"context"
	"fmt"

	"github.com/Masterminds/squirrel"
	"github.com/georgysavva/scany/v2/pgxscan"

	"stockcore/internal/core/id"
	"stockcore/internal/core/types"
	"stockcore/internal/domain/ledger"
	"stockcore/internal/infrastructure/storage/postgres"
)

const ledgerTable = "stock_ledger"

// Compile-time check that LedgerRepo implements ledger.Repository.
var _ ledger.Repository = (*LedgerRepo)(nil)

// LedgerRepo implements the append-only stock ledger. Entries are
// never updated or deleted.
type LedgerRepo struct {
	txManager *postgres.TxManager
	builder   squirrel.StatementBuilderType
}

// NewLedgerRepo creates a new ledger repository.
func NewLedgerRepo(txManager *postgres.TxManager) *LedgerRepo {
	return &LedgerRepo{
		txManager: txManager,
		builder:   squirrel.StatementBuilder.PlaceholderFormat(squirrel.Dollar),
	}
}

func ledgerColumns() []string {
	return []string{
		"id", "product_id", "location_id", "kind", "quantity_change",
		"unit_cost", "reference_type", "reference_id", "actor", "created_at",
	}
}

// Append inserts a single entry.
func (r *LedgerRepo) Append(ctx context.Context, entry ledger.Entry) error {
	return r.AppendBatch(ctx, []ledger.Entry{entry})
}

// AppendBatch inserts several entries in one statement.
func (r *LedgerRepo) AppendBatch(ctx context.Context, entries []ledger.Entry) error {
	if len(entries) == 0 {
		return nil
	}

	q := r.builder.Insert(ledgerTable).Columns(ledgerColumns()...)
	for _, e := range entries {
		q = q.Values(
			e.ID, e.ProductID, e.LocationID, e.Kind, e.QuantityChange,
			e.UnitCost, e.ReferenceType, e.ReferenceID, e.Actor, e.CreatedAt,
		)
	}

	sql, args, err := q.ToSql()
	if err != nil {
		return fmt.Errorf("build insert: %w", err)
	}
	if _, err := r.txManager.GetQuerier(ctx).Exec(ctx, sql, args...); err != nil {
		return fmt.Errorf("insert ledger entries: %w", err)
	}
	return nil
}

// Sum returns the signed sum of quantity changes for a product at a
// location. This is the authoritative balance.
func (r *LedgerRepo) Sum(ctx context.Context, productID, locationID id.ID) (types.Quantity, error) {
	var sum int64
	err := r.txManager.GetQuerier(ctx).QueryRow(ctx, `
		SELECT COALESCE(SUM(quantity_change), 0)
		FROM stock_ledger
		WHERE product_id = $1 AND location_id = $2
	`, productID, locationID).Scan(&sum)
	if err != nil {
		return 0, fmt.Errorf("sum ledger: %w", err)
	}
	return types.Quantity(sum), nil
}

// History returns entries for a product, newest first, with the total
// matching count for pagination.
func (r *LedgerRepo) History(ctx context.Context, productID id.ID, filter ledger.HistoryFilter) ([]ledger.Entry, int64, error) {
	where := squirrel.And{squirrel.Eq{"product_id": productID}}
	if filter.LocationID != nil {
		where = append(where, squirrel.Eq{"location_id": *filter.LocationID})
	}
	if filter.Kind != nil {
		where = append(where, squirrel.Eq{"kind": *filter.Kind})
	}
	if filter.FromDate != nil {
		where = append(where, squirrel.GtOrEq{"created_at": *filter.FromDate})
	}
	if filter.ToDate != nil {
		where = append(where, squirrel.Lt{"created_at": *filter.ToDate})
	}

	countSQL, countArgs, err := r.builder.Select("COUNT(*)").From(ledgerTable).Where(where).ToSql()
	if err != nil {
		return nil, 0, fmt.Errorf("build count: %w", err)
	}
	var total int64
	if err := r.txManager.GetQuerier(ctx).QueryRow(ctx, countSQL, countArgs...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count ledger entries: %w", err)
	}

	q := r.builder.Select(ledgerColumns()...).
		From(ledgerTable).
		Where(where).
		OrderBy("created_at DESC", "id DESC")
	if filter.Limit > 0 {
		q = q.Limit(uint64(filter.Limit))
	}
	if filter.Offset > 0 {
		q = q.Offset(uint64(filter.Offset))
	}

	sql, args, err := q.ToSql()
	if err != nil {
		return nil, 0, fmt.Errorf("build query: %w", err)
	}

	var entries []ledger.Entry
	if err := pgxscan.Select(ctx, r.txManager.GetQuerier(ctx), &entries, sql, args...); err != nil {
		return nil, 0, fmt.Errorf("select ledger entries: %w", err)
	}
	return entries, total, nil
}

// EntriesByReference returns entries created by a business event.
func (r *LedgerRepo) EntriesByReference(ctx context.Context, refType string, refID id.ID) ([]ledger.Entry, error) {
	q := r.builder.Select(ledgerColumns()...).
		From(ledgerTable).
		Where(squirrel.Eq{"reference_type": refType, "reference_id": refID}).
		OrderBy("created_at")

	sql, args, err := q.ToSql()
	if err != nil {
		return nil, fmt.Errorf("build query: %w", err)
	}

	var entries []ledger.Entry
	if err := pgxscan.Select(ctx, r.txManager.GetQuerier(ctx), &entries, sql, args...); err != nil {
		return nil, fmt.Errorf("select ledger entries: %w", err)
	}
	return entries, nil
}
