package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"stockcore/internal/idempotency"
)

// Compile-time check that IdempotencyStore implements idempotency.Store.
var _ idempotency.Store = (*IdempotencyStore)(nil)

// IdempotencyStore persists request outcomes in sys_idempotency,
// keyed by (idempotency_key, operation, caller_id).
type IdempotencyStore struct {
	txManager *TxManager
}

// NewIdempotencyStore creates a new idempotency store.
func NewIdempotencyStore(txManager *TxManager) *IdempotencyStore {
	return &IdempotencyStore{txManager: txManager}
}

// Acquire claims the key by inserting a pending record. An existing
// record is reclaimed only when expired; a live record is returned
// untouched for the executor to interpret.
func (s *IdempotencyStore) Acquire(ctx context.Context, key idempotency.Key, requestHash string, ttl time.Duration) (*idempotency.Cached, error) {
	now := time.Now().UTC()
	expiresAt := now.Add(ttl)

	// The conditional upsert wins only for a free or expired key.
	// RETURNING yields no row when the key is held by a live record.
	var createdAt time.Time
	err := s.txManager.GetQuerier(ctx).QueryRow(ctx, `
		INSERT INTO sys_idempotency (idempotency_key, operation, caller_id, status, request_hash, created_at, updated_at, expires_at)
		VALUES ($1, $2, $3, $4, $5, $6, $6, $7)
		ON CONFLICT (idempotency_key, operation, caller_id) DO UPDATE SET
			status = $4,
			request_hash = $5,
			response = NULL,
			error_code = '',
			updated_at = $6,
			expires_at = $7
		WHERE sys_idempotency.expires_at < $6
		RETURNING created_at
	`, key.Key, key.Operation, key.CallerID, idempotency.StatusPending, requestHash, now, expiresAt).Scan(&createdAt)

	if err == nil {
		return nil, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("acquire idempotency key: %w", err)
	}

	cached, err := s.Get(ctx, key)
	if err != nil {
		return nil, err
	}
	if cached == nil {
		// Lost a race with the sweeper; treat as a live pending hold.
		return &idempotency.Cached{Status: idempotency.StatusPending, RequestHash: requestHash}, nil
	}
	return cached, nil
}

// Get returns the live record for a key, or nil when absent or expired.
func (s *IdempotencyStore) Get(ctx context.Context, key idempotency.Key) (*idempotency.Cached, error) {
	var cached idempotency.Cached
	err := s.txManager.GetQuerier(ctx).QueryRow(ctx, `
		SELECT status, request_hash, response, error_code, expires_at
		FROM sys_idempotency
		WHERE idempotency_key = $1 AND operation = $2 AND caller_id = $3 AND expires_at >= $4
	`, key.Key, key.Operation, key.CallerID, time.Now().UTC()).Scan(
		&cached.Status, &cached.RequestHash, &cached.Response, &cached.ErrorCode, &cached.ExpiresAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get idempotency key: %w", err)
	}
	return &cached, nil
}

// Complete stores the successful response for a pending key.
func (s *IdempotencyStore) Complete(ctx context.Context, key idempotency.Key, response []byte) error {
	return s.finish(ctx, key, idempotency.StatusSuccess, response, "")
}

// Fail stores the error code for a pending key.
func (s *IdempotencyStore) Fail(ctx context.Context, key idempotency.Key, errorCode string) error {
	return s.finish(ctx, key, idempotency.StatusFailed, nil, errorCode)
}

func (s *IdempotencyStore) finish(ctx context.Context, key idempotency.Key, status idempotency.Status, response []byte, errorCode string) error {
	tag, err := s.txManager.GetQuerier(ctx).Exec(ctx, `
		UPDATE sys_idempotency
		SET status = $1, response = $2, error_code = $3, updated_at = $4
		WHERE idempotency_key = $5 AND operation = $6 AND caller_id = $7 AND status = $8
	`, status, response, errorCode, time.Now().UTC(),
		key.Key, key.Operation, key.CallerID, idempotency.StatusPending)
	if err != nil {
		return fmt.Errorf("finish idempotency key: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("idempotency key %q not pending", key.Key)
	}
	return nil
}

// CleanupExpired removes expired idempotency records.
func (s *IdempotencyStore) CleanupExpired(ctx context.Context) (int64, error) {
	result, err := s.txManager.GetQuerier(ctx).Exec(ctx, `
		DELETE FROM sys_idempotency WHERE expires_at < $1
	`, time.Now().UTC())
	if err != nil {
		return 0, err
	}
	return result.RowsAffected(), nil
}
