// Package stock_repo provides PostgreSQL implementations for the
// balance cache and the stock ledger.
package stock_repo

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/Masterminds/squirrel"
	"github.com/georgysavva/scany/v2/pgxscan"
	"github.com/jackc/pgx/v5/pgconn"

	"stockcore/internal/core/apperror"
	"stockcore/internal/core/id"
	"stockcore/internal/core/types"
	"stockcore/internal/domain/stock"
	"stockcore/internal/infrastructure/storage/postgres"
)

const balancesTable = "stock_balances"

// Compile-time check that BalanceRepo implements stock.BalanceRepository.
var _ stock.BalanceRepository = (*BalanceRepo)(nil)

// BalanceRepo implements stock.BalanceRepository.
type BalanceRepo struct {
	txManager *postgres.TxManager
	builder   squirrel.StatementBuilderType
}

// NewBalanceRepo creates a new balance repository.
func NewBalanceRepo(txManager *postgres.TxManager) *BalanceRepo {
	return &BalanceRepo{
		txManager: txManager,
		builder:   squirrel.StatementBuilder.PlaceholderFormat(squirrel.Dollar),
	}
}

// Create inserts a balance row for a newly registered product.
func (r *BalanceRepo) Create(ctx context.Context, b stock.Balance) error {
	q := r.builder.Insert(balancesTable).
		Columns("product_id", "location_id", "quantity", "version", "last_movement", "active", "updated_at").
		Values(b.ProductID, b.LocationID, b.Quantity, b.Version, b.LastMovement, b.Active, b.UpdatedAt)

	sql, args, err := q.ToSql()
	if err != nil {
		return fmt.Errorf("build insert: %w", err)
	}

	if _, err := r.txManager.GetQuerier(ctx).Exec(ctx, sql, args...); err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return apperror.NewConflict("balance already exists").
				WithDetail("productId", b.ProductID).
				WithDetail("locationId", b.LocationID)
		}
		return fmt.Errorf("insert balance: %w", err)
	}
	return nil
}

// Get returns the balance without locking.
func (r *BalanceRepo) Get(ctx context.Context, productID, locationID id.ID) (stock.Balance, error) {
	q := r.builder.Select(balanceColumns()...).
		From(balancesTable).
		Where(squirrel.Eq{"product_id": productID, "location_id": locationID}).
		Limit(1)

	sql, args, err := q.ToSql()
	if err != nil {
		return stock.Balance{}, fmt.Errorf("build query: %w", err)
	}

	var b stock.Balance
	if err := pgxscan.Get(ctx, r.txManager.GetQuerier(ctx), &b, sql, args...); err != nil {
		if pgxscan.NotFound(err) {
			return stock.Balance{}, apperror.NewNotFound("balance", productID.String())
		}
		return stock.Balance{}, fmt.Errorf("get balance: %w", err)
	}
	return b, nil
}

// GetForUpdate returns the balance with a pessimistic row lock.
func (r *BalanceRepo) GetForUpdate(ctx context.Context, productID, locationID id.ID) (stock.Balance, error) {
	sql := `
		SELECT product_id, location_id, quantity, version, last_movement, active, updated_at
		FROM stock_balances
		WHERE product_id = $1 AND location_id = $2
		FOR UPDATE
	`

	var b stock.Balance
	if err := pgxscan.Get(ctx, r.txManager.GetQuerier(ctx), &b, sql, productID, locationID); err != nil {
		if pgxscan.NotFound(err) {
			return stock.Balance{}, apperror.NewNotFound("balance", productID.String())
		}
		return stock.Balance{}, fmt.Errorf("get balance for update: %w", err)
	}
	return b, nil
}

// GetOrCreateForUpdate locks the balance row, inserting a zero row
// first when none exists. The upsert no-op arbitrates concurrent
// creators; the follow-up locked read always sees the winner's row.
func (r *BalanceRepo) GetOrCreateForUpdate(ctx context.Context, productID, locationID id.ID) (stock.Balance, error) {
	_, err := r.txManager.GetQuerier(ctx).Exec(ctx, `
		INSERT INTO stock_balances (product_id, location_id, quantity, version, last_movement, active, updated_at)
		VALUES ($1, $2, 0, 1, '', TRUE, $3)
		ON CONFLICT (product_id, location_id) DO NOTHING
	`, productID, locationID, time.Now().UTC())
	if err != nil {
		return stock.Balance{}, fmt.Errorf("ensure balance: %w", err)
	}
	return r.GetForUpdate(ctx, productID, locationID)
}

// UpdateCAS writes quantity and note guarded by the version the caller
// read. Zero rows affected means another writer won; the caller must
// re-read and retry rather than force the write.
func (r *BalanceRepo) UpdateCAS(ctx context.Context, b stock.Balance, newQuantity types.Quantity, note string) error {
	tag, err := r.txManager.GetQuerier(ctx).Exec(ctx, `
		UPDATE stock_balances
		SET quantity = $1, version = version + 1, last_movement = $2, updated_at = $3
		WHERE product_id = $4 AND location_id = $5 AND version = $6
	`, newQuantity, note, time.Now().UTC(), b.ProductID, b.LocationID, b.Version)
	if err != nil {
		return fmt.Errorf("update balance: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return apperror.NewConcurrentModification("balance", b.ProductID.String())
	}
	return nil
}

// ListActive returns active balances, optionally for one location.
func (r *BalanceRepo) ListActive(ctx context.Context, locationID *id.ID) ([]stock.Balance, error) {
	q := r.builder.Select(balanceColumns()...).
		From(balancesTable).
		Where(squirrel.Eq{"active": true})
	if locationID != nil {
		q = q.Where(squirrel.Eq{"location_id": *locationID})
	}
	q = q.OrderBy("product_id", "location_id")

	sql, args, err := q.ToSql()
	if err != nil {
		return nil, fmt.Errorf("build query: %w", err)
	}

	var balances []stock.Balance
	if err := pgxscan.Select(ctx, r.txManager.GetQuerier(ctx), &balances, sql, args...); err != nil {
		return nil, fmt.Errorf("select balances: %w", err)
	}
	return balances, nil
}

// ListByProduct returns all balance rows for a product.
func (r *BalanceRepo) ListByProduct(ctx context.Context, productID id.ID) ([]stock.Balance, error) {
	q := r.builder.Select(balanceColumns()...).
		From(balancesTable).
		Where(squirrel.Eq{"product_id": productID}).
		OrderBy("location_id")

	sql, args, err := q.ToSql()
	if err != nil {
		return nil, fmt.Errorf("build query: %w", err)
	}

	var balances []stock.Balance
	if err := pgxscan.Select(ctx, r.txManager.GetQuerier(ctx), &balances, sql, args...); err != nil {
		return nil, fmt.Errorf("select balances: %w", err)
	}
	return balances, nil
}

// SetActive flips the active flag.
func (r *BalanceRepo) SetActive(ctx context.Context, productID, locationID id.ID, active bool) error {
	tag, err := r.txManager.GetQuerier(ctx).Exec(ctx, `
		UPDATE stock_balances
		SET active = $1, updated_at = $2
		WHERE product_id = $3 AND location_id = $4
	`, active, time.Now().UTC(), productID, locationID)
	if err != nil {
		return fmt.Errorf("set active: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return apperror.NewNotFound("balance", productID.String())
	}
	return nil
}

func balanceColumns() []string {
	return []string{"product_id", "location_id", "quantity", "version", "last_movement", "active", "updated_at"}
}
