package postgres

import (
	"context"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	pgxmock "github.com/pashagolub/pgxmock/v3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"stockcore/internal/idempotency"
)

func setupIdempotencyStore(t *testing.T) (*IdempotencyStore, pgxmock.PgxPoolIface) {
	t.Helper()
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	t.Cleanup(mock.Close)
	return NewIdempotencyStore(NewDefaultTxManager(mock)), mock
}

func testKey() idempotency.Key {
	return idempotency.Key{Key: "k1", Operation: "stock.apply_movement", CallerID: "pos-1"}
}

func cachedColumns() []string {
	return []string{"status", "request_hash", "response", "error_code", "expires_at"}
}

func TestIdempotencyAcquire_ClaimsFreeKey(t *testing.T) {
	store, mock := setupIdempotencyStore(t)
	key := testKey()

	mock.ExpectQuery("INSERT INTO sys_idempotency").
		WithArgs(key.Key, key.Operation, key.CallerID, idempotency.StatusPending,
			"hash-1", pgxmock.AnyArg(), pgxmock.AnyArg()).
		WillReturnRows(pgxmock.NewRows([]string{"created_at"}).AddRow(time.Now().UTC()))

	cached, err := store.Acquire(context.Background(), key, "hash-1", time.Hour)
	require.NoError(t, err)
	assert.Nil(t, cached, "nil means the key was claimed")
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestIdempotencyAcquire_ReturnsLiveRecord(t *testing.T) {
	store, mock := setupIdempotencyStore(t)
	key := testKey()

	// The upsert loses against a live record, then the read returns it.
	mock.ExpectQuery("INSERT INTO sys_idempotency").
		WithArgs(key.Key, key.Operation, key.CallerID, idempotency.StatusPending,
			"hash-1", pgxmock.AnyArg(), pgxmock.AnyArg()).
		WillReturnError(pgx.ErrNoRows)
	mock.ExpectQuery("SELECT status, request_hash, response, error_code, expires_at").
		WithArgs(key.Key, key.Operation, key.CallerID, pgxmock.AnyArg()).
		WillReturnRows(pgxmock.NewRows(cachedColumns()).
			AddRow(idempotency.StatusSuccess, "hash-1", []byte(`{"id":"r1"}`), "", time.Now().Add(time.Hour)))

	cached, err := store.Acquire(context.Background(), key, "hash-1", time.Hour)
	require.NoError(t, err)
	require.NotNil(t, cached)
	assert.Equal(t, idempotency.StatusSuccess, cached.Status)
	assert.Equal(t, []byte(`{"id":"r1"}`), cached.Response)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestIdempotencyAcquire_SweeperRaceTreatedAsPending(t *testing.T) {
	store, mock := setupIdempotencyStore(t)
	key := testKey()

	// The upsert loses, but the record is gone by the time we re-read.
	mock.ExpectQuery("INSERT INTO sys_idempotency").
		WithArgs(key.Key, key.Operation, key.CallerID, idempotency.StatusPending,
			"hash-1", pgxmock.AnyArg(), pgxmock.AnyArg()).
		WillReturnError(pgx.ErrNoRows)
	mock.ExpectQuery("SELECT status, request_hash, response, error_code, expires_at").
		WithArgs(key.Key, key.Operation, key.CallerID, pgxmock.AnyArg()).
		WillReturnError(pgx.ErrNoRows)

	cached, err := store.Acquire(context.Background(), key, "hash-1", time.Hour)
	require.NoError(t, err)
	require.NotNil(t, cached)
	assert.Equal(t, idempotency.StatusPending, cached.Status)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestIdempotencyGet_AbsentKey(t *testing.T) {
	store, mock := setupIdempotencyStore(t)
	key := testKey()

	mock.ExpectQuery("SELECT status, request_hash, response, error_code, expires_at").
		WithArgs(key.Key, key.Operation, key.CallerID, pgxmock.AnyArg()).
		WillReturnError(pgx.ErrNoRows)

	cached, err := store.Get(context.Background(), key)
	require.NoError(t, err)
	assert.Nil(t, cached)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestIdempotencyComplete_GuardedByPendingStatus(t *testing.T) {
	store, mock := setupIdempotencyStore(t)
	key := testKey()

	mock.ExpectExec("UPDATE sys_idempotency").
		WithArgs(idempotency.StatusSuccess, []byte(`{"id":"r1"}`), "", pgxmock.AnyArg(),
			key.Key, key.Operation, key.CallerID, idempotency.StatusPending).
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))

	require.NoError(t, store.Complete(context.Background(), key, []byte(`{"id":"r1"}`)))

	// A second completion finds nothing pending.
	mock.ExpectExec("UPDATE sys_idempotency").
		WithArgs(idempotency.StatusSuccess, []byte(`{"id":"r1"}`), "", pgxmock.AnyArg(),
			key.Key, key.Operation, key.CallerID, idempotency.StatusPending).
		WillReturnResult(pgxmock.NewResult("UPDATE", 0))

	err := store.Complete(context.Background(), key, []byte(`{"id":"r1"}`))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not pending")
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestIdempotencyFail_StoresErrorCode(t *testing.T) {
	store, mock := setupIdempotencyStore(t)
	key := testKey()

	mock.ExpectExec("UPDATE sys_idempotency").
		WithArgs(idempotency.StatusFailed, []byte(nil), "INSUFFICIENT_STOCK", pgxmock.AnyArg(),
			key.Key, key.Operation, key.CallerID, idempotency.StatusPending).
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))

	require.NoError(t, store.Fail(context.Background(), key, "INSUFFICIENT_STOCK"))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestIdempotencyCleanupExpired(t *testing.T) {
	store, mock := setupIdempotencyStore(t)

	mock.ExpectExec("DELETE FROM sys_idempotency").
		WithArgs(pgxmock.AnyArg()).
		WillReturnResult(pgxmock.NewResult("DELETE", 7))

	removed, err := store.CleanupExpired(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(7), removed)
	assert.NoError(t, mock.ExpectationsWereMet())
}
