// Package count_repo provides the PostgreSQL implementation of the
// cycle-count repository.
package count_repo

import (
	"context"
	"fmt"

	"github.com/Masterminds/squirrel"
	"github.com/georgysavva/scany/v2/pgxscan"

	"stockcore/internal/core/apperror"
	"stockcore/internal/core/id"
	"stockcore/internal/domain/counting"
	"stockcore/internal/infrastructure/storage/postgres"
)

const (
	countsTable = "cycle_counts"
	itemsTable  = "cycle_count_items"
)

// Compile-time check that CountRepo implements counting.Repository.
var _ counting.Repository = (*CountRepo)(nil)

// CountRepo implements counting.Repository.
type CountRepo struct {
	txManager *postgres.TxManager
	builder   squirrel.StatementBuilderType
}

// NewCountRepo creates a new cycle-count repository.
func NewCountRepo(txManager *postgres.TxManager) *CountRepo {
	return &CountRepo{
		txManager: txManager,
		builder:   squirrel.StatementBuilder.PlaceholderFormat(squirrel.Dollar),
	}
}

func countColumns() []string {
	return []string{
		"id", "location_id", "kind", "status", "tolerance_pct", "note",
		"created_by", "created_at", "started_at", "completed_at",
	}
}

func itemColumns() []string {
	return []string{
		"id", "count_id", "product_id", "location_id",
		"expected_qty", "counted_qty", "difference", "resolved", "reason",
	}
}

// Create inserts a count header.
func (r *CountRepo) Create(ctx context.Context, c counting.Count) error {
	q := r.builder.Insert(countsTable).
		Columns(countColumns()...).
		Values(c.ID, c.LocationID, c.Kind, c.Status, c.TolerancePct, c.Note,
			c.CreatedBy, c.CreatedAt, c.StartedAt, c.CompletedAt)

	sql, args, err := q.ToSql()
	if err != nil {
		return fmt.Errorf("build insert: %w", err)
	}
	if _, err := r.txManager.GetQuerier(ctx).Exec(ctx, sql, args...); err != nil {
		return fmt.Errorf("insert count: %w", err)
	}
	return nil
}

// Get returns a count header by id.
func (r *CountRepo) Get(ctx context.Context, countID id.ID) (counting.Count, error) {
	q := r.builder.Select(countColumns()...).
		From(countsTable).
		Where(squirrel.Eq{"id": countID}).
		Limit(1)

	sql, args, err := q.ToSql()
	if err != nil {
		return counting.Count{}, fmt.Errorf("build query: %w", err)
	}

	var c counting.Count
	if err := pgxscan.Get(ctx, r.txManager.GetQuerier(ctx), &c, sql, args...); err != nil {
		if pgxscan.NotFound(err) {
			return counting.Count{}, apperror.NewNotFound("cycle count", countID.String())
		}
		return counting.Count{}, fmt.Errorf("get count: %w", err)
	}
	return c, nil
}

// GetForUpdate locks the count header row for the transaction.
func (r *CountRepo) GetForUpdate(ctx context.Context, countID id.ID) (counting.Count, error) {
	sql := `
		SELECT id, location_id, kind, status, tolerance_pct, note,
			   created_by, created_at, started_at, completed_at
		FROM cycle_counts
		WHERE id = $1
		FOR UPDATE
	`

	var c counting.Count
	if err := pgxscan.Get(ctx, r.txManager.GetQuerier(ctx), &c, sql, countID); err != nil {
		if pgxscan.NotFound(err) {
			return counting.Count{}, apperror.NewNotFound("cycle count", countID.String())
		}
		return counting.Count{}, fmt.Errorf("get count for update: %w", err)
	}
	return c, nil
}

// Update writes a count header.
func (r *CountRepo) Update(ctx context.Context, c counting.Count) error {
	q := r.builder.Update(countsTable).
		Set("status", c.Status).
		Set("tolerance_pct", c.TolerancePct).
		Set("note", c.Note).
		Set("started_at", c.StartedAt).
		Set("completed_at", c.CompletedAt).
		Where(squirrel.Eq{"id": c.ID})

	sql, args, err := q.ToSql()
	if err != nil {
		return fmt.Errorf("build update: %w", err)
	}
	tag, err := r.txManager.GetQuerier(ctx).Exec(ctx, sql, args...)
	if err != nil {
		return fmt.Errorf("update count: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return apperror.NewNotFound("cycle count", c.ID.String())
	}
	return nil
}

// CreateItems batch inserts count items.
func (r *CountRepo) CreateItems(ctx context.Context, items []counting.Item) error {
	if len(items) == 0 {
		return nil
	}

	q := r.builder.Insert(itemsTable).Columns(itemColumns()...)
	for _, item := range items {
		q = q.Values(item.ID, item.CountID, item.ProductID, item.LocationID,
			item.ExpectedQty, item.CountedQty, item.Difference, item.Resolved, item.Reason)
	}

	sql, args, err := q.ToSql()
	if err != nil {
		return fmt.Errorf("build insert: %w", err)
	}
	if _, err := r.txManager.GetQuerier(ctx).Exec(ctx, sql, args...); err != nil {
		return fmt.Errorf("insert count items: %w", err)
	}
	return nil
}

// GetItem returns a count item by id.
func (r *CountRepo) GetItem(ctx context.Context, itemID id.ID) (counting.Item, error) {
	q := r.builder.Select(itemColumns()...).
		From(itemsTable).
		Where(squirrel.Eq{"id": itemID}).
		Limit(1)

	sql, args, err := q.ToSql()
	if err != nil {
		return counting.Item{}, fmt.Errorf("build query: %w", err)
	}

	var item counting.Item
	if err := pgxscan.Get(ctx, r.txManager.GetQuerier(ctx), &item, sql, args...); err != nil {
		if pgxscan.NotFound(err) {
			return counting.Item{}, apperror.NewNotFound("count item", itemID.String())
		}
		return counting.Item{}, fmt.Errorf("get count item: %w", err)
	}
	return item, nil
}

// GetItemForUpdate returns a count item with a pessimistic row lock.
// Concurrent adjustment attempts serialize here, so only the first
// sees resolved = false.
func (r *CountRepo) GetItemForUpdate(ctx context.Context, itemID id.ID) (counting.Item, error) {
	sql := `
		SELECT id, count_id, product_id, location_id,
			   expected_qty, counted_qty, difference, resolved, reason
		FROM cycle_count_items
		WHERE id = $1
		FOR UPDATE
	`

	var item counting.Item
	if err := pgxscan.Get(ctx, r.txManager.GetQuerier(ctx), &item, sql, itemID); err != nil {
		if pgxscan.NotFound(err) {
			return counting.Item{}, apperror.NewNotFound("count item", itemID.String())
		}
		return counting.Item{}, fmt.Errorf("get count item for update: %w", err)
	}
	return item, nil
}

// ListItems returns all items of a count.
func (r *CountRepo) ListItems(ctx context.Context, countID id.ID) ([]counting.Item, error) {
	q := r.builder.Select(itemColumns()...).
		From(itemsTable).
		Where(squirrel.Eq{"count_id": countID}).
		OrderBy("product_id")

	sql, args, err := q.ToSql()
	if err != nil {
		return nil, fmt.Errorf("build query: %w", err)
	}

	var items []counting.Item
	if err := pgxscan.Select(ctx, r.txManager.GetQuerier(ctx), &items, sql, args...); err != nil {
		return nil, fmt.Errorf("select count items: %w", err)
	}
	return items, nil
}

// UpdateItem writes a count item.
func (r *CountRepo) UpdateItem(ctx context.Context, item counting.Item) error {
	q := r.builder.Update(itemsTable).
		Set("counted_qty", item.CountedQty).
		Set("difference", item.Difference).
		Set("resolved", item.Resolved).
		Set("reason", item.Reason).
		Where(squirrel.Eq{"id": item.ID})

	sql, args, err := q.ToSql()
	if err != nil {
		return fmt.Errorf("build update: %w", err)
	}
	tag, err := r.txManager.GetQuerier(ctx).Exec(ctx, sql, args...)
	if err != nil {
		return fmt.Errorf("update count item: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return apperror.NewNotFound("count item", item.ID.String())
	}
	return nil
}
