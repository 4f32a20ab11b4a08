package idempotency

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"time"

	"stockcore/internal/core/apperror"
	"stockcore/pkg/logger"
)

// Status of a cached request.
type Status string

const (
	StatusPending Status = "pending"
	StatusSuccess Status = "success"
	StatusFailed  Status = "failed"
)

// Cached is a stored request outcome.
type Cached struct {
	Status      Status
	RequestHash string
	Response    []byte
	ErrorCode   string
	ExpiresAt   time.Time
}

// Store persists request outcomes keyed by (key, operation, caller).
type Store interface {
	// Acquire claims the key for execution. When the key is free (or
	// its previous record expired) it stores a pending record and
	// returns (nil, nil). When a record exists it is returned untouched.
	Acquire(ctx context.Context, key Key, requestHash string, ttl time.Duration) (*Cached, error)
	// Complete stores the successful response for a pending key.
	Complete(ctx context.Context, key Key, response []byte) error
	// Fail stores the error code for a pending key.
	Fail(ctx context.Context, key Key, errorCode string) error
	Get(ctx context.Context, key Key) (*Cached, error)
}

// Key identifies one logical request. CallerID scopes keys so two
// callers reusing the same key string never collide.
type Key struct {
	Key       string
	Operation string
	CallerID  string
}

// Request describes an execution guarded by an idempotency key.
type Request struct {
	Key       string
	Operation string
	CallerID  string
	// Payload is the request body used for replay-mismatch detection.
	Payload any
	TTL     time.Duration
}

// Executor wraps side-effecting operations with replay protection.
// An empty key means the caller opted out and the operation runs
// unguarded.
type Executor struct {
	store        Store
	pollAttempts int
	pollDelay    time.Duration
	defaultTTL   time.Duration
}

// Option configures an Executor.
type Option func(*Executor)

func WithPendingPoll(attempts int, delay time.Duration) Option {
	return func(e *Executor) {
		e.pollAttempts = attempts
		e.pollDelay = delay
	}
}

func WithDefaultTTL(ttl time.Duration) Option {
	return func(e *Executor) {
		e.defaultTTL = ttl
	}
}

func NewExecutor(store Store, opts ...Option) *Executor {
	e := &Executor{
		store:        store,
		pollAttempts: 5,
		pollDelay:    200 * time.Millisecond,
		defaultTTL:   24 * time.Hour,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Execute runs fn at most once per key. A replayed request with the
// same payload returns the stored response without re-running fn; a
// replay with a different payload is rejected. A concurrent duplicate
// finds the key pending and polls briefly for the first request to
// finish before giving up with a conflict.
func Execute[T any](ctx context.Context, e *Executor, req Request, fn func(ctx context.Context) (T, error)) (T, error) {
	var zero T
	if req.Key == "" {
		return fn(ctx)
	}

	key := Key{Key: req.Key, Operation: req.Operation, CallerID: req.CallerID}
	hash, err := hashPayload(req.Payload)
	if err != nil {
		return zero, apperror.NewInternal(fmt.Errorf("hash request: %w", err))
	}
	ttl := req.TTL
	if ttl <= 0 {
		ttl = e.defaultTTL
	}

	cached, err := e.store.Acquire(ctx, key, hash, ttl)
	if err != nil {
		return zero, fmt.Errorf("acquire idempotency key: %w", err)
	}
	if cached != nil {
		return replay[T](ctx, e, key, hash, cached)
	}

	result, err := fn(ctx)
	if err != nil {
		code := apperror.CodeInternal
		if appErr, ok := apperror.AsAppError(err); ok {
			code = appErr.Code
		}
		if storeErr := e.store.Fail(ctx, key, code); storeErr != nil {
			logger.Error(ctx, "record idempotency failure",
				"key", key.Key,
				"operation", key.Operation,
				"error", storeErr,
			)
		}
		return zero, err
	}

	response, err := json.Marshal(result)
	if err != nil {
		return zero, apperror.NewInternal(fmt.Errorf("marshal response: %w", err))
	}
	if err := e.store.Complete(ctx, key, response); err != nil {
		// The operation already happened; losing the cache entry only
		// weakens replay protection for this key.
		logger.Error(ctx, "record idempotency success",
			"key", key.Key,
			"operation", key.Operation,
			"error", err,
		)
	}
	return result, nil
}

func replay[T any](ctx context.Context, e *Executor, key Key, hash string, cached *Cached) (T, error) {
	var zero T
	if cached.RequestHash != hash {
		return zero, apperror.NewIdempotencyMismatch(key.Key)
	}

	for attempt := 0; cached.Status == StatusPending; attempt++ {
		if attempt >= e.pollAttempts {
			return zero, apperror.NewIdempotencyConflict(key.Key)
		}
		select {
		case <-ctx.Done():
			return zero, ctx.Err()
		case <-time.After(e.pollDelay):
		}
		next, err := e.store.Get(ctx, key)
		if err != nil {
			return zero, fmt.Errorf("poll idempotency key: %w", err)
		}
		if next == nil {
			// Record expired mid-poll.
			return zero, apperror.NewIdempotencyConflict(key.Key)
		}
		cached = next
	}

	switch cached.Status {
	case StatusSuccess:
		var result T
		if err := json.Unmarshal(cached.Response, &result); err != nil {
			return zero, apperror.NewInternal(fmt.Errorf("decode cached response: %w", err))
		}
		return result, nil
	case StatusFailed:
		return zero, apperror.NewIdempotencyPreviousFailed(key.Key).
			WithDetail("errorCode", cached.ErrorCode)
	default:
		return zero, apperror.NewIdempotencyConflict(key.Key)
	}
}

// hashPayload produces a stable digest of the request body. JSON
// marshaling of Go values is deterministic for maps and structs, which
// is enough to detect a key reused with a different payload.
func hashPayload(payload any) (string, error) {
	if payload == nil {
		return "", nil
	}
	raw, err := json.Marshal(payload)
	if err != nil {
		return "", err
	}
	sum := sha256.Sum256(raw)
	return hex.EncodeToString(sum[:]), nil
}
