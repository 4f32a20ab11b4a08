package postgres

import (
	"context"
	"errors"
	"strings"

	"github.com/jackc/pgx/v5/pgconn"
)

// SQLSTATE codes treated as transient. Retrying with a fresh
// transaction can succeed; the caller's fn re-reads all state.
const (
	codeSerializationFailure = "40001"
	codeDeadlockDetected     = "40P01"
	codeLockNotAvailable     = "55P03"
	codeQueryCanceled        = "57014" // statement_timeout fired
)

// IsRetryable classifies storage errors. Lock contention, deadlocks,
// statement timeouts, connection failures and attempt deadlines are
// retryable; everything else (constraint violations, validation
// errors surfaced as SQL errors) is deterministic and is not.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}

	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case codeSerializationFailure, codeDeadlockDetected,
			codeLockNotAvailable, codeQueryCanceled:
			return true
		}
		// Class 08: connection exceptions.
		if strings.HasPrefix(pgErr.Code, "08") {
			return true
		}
		return false
	}

	if pgconn.Timeout(err) {
		return true
	}
	var connErr *pgconn.ConnectError
	return errors.As(err, &connErr)
}
