// Package context provides request-scoped values extraction.
package context

import (
	"context"

	"github.com/google/uuid"
)

// TraceContext contains request tracing information.
type TraceContext struct {
	TraceID   string
	RequestID string
}

type traceContextKey struct{}

// WithTrace adds TraceContext to context.
func WithTrace(ctx context.Context, trace *TraceContext) context.Context {
	return context.WithValue(ctx, traceContextKey{}, trace)
}

// GetTrace returns TraceContext from context.
func GetTrace(ctx context.Context) *TraceContext {
	if v, ok := ctx.Value(traceContextKey{}).(*TraceContext); ok {
		return v
	}
	return nil
}

// NewTraceContext creates a new TraceContext with generated IDs.
func NewTraceContext() *TraceContext {
	return &TraceContext{
		TraceID:   uuid.New().String(),
		RequestID: uuid.New().String(),
	}
}

// CallerContext identifies the external caller of a mutating operation.
// Authentication happens upstream; the engine only scopes audit records
// and idempotency keys with this identity.
type CallerContext struct {
	CallerID string
}

type callerContextKey struct{}

// WithCaller adds CallerContext to context.
func WithCaller(ctx context.Context, caller *CallerContext) context.Context {
	return context.WithValue(ctx, callerContextKey{}, caller)
}

// GetCaller returns CallerContext from context.
func GetCaller(ctx context.Context) *CallerContext {
	if v, ok := ctx.Value(callerContextKey{}).(*CallerContext); ok {
		return v
	}
	return nil
}

// GetCallerID returns the caller ID from context or empty string.
func GetCallerID(ctx context.Context) string {
	if c := GetCaller(ctx); c != nil {
		return c.CallerID
	}
	return ""
}
