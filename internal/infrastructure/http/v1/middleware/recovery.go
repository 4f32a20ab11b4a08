// Package middleware provides HTTP middleware components.
package middleware

import (
	"fmt"
	"runtime/debug"

	"github.com/gin-gonic/gin"

	"stockcore/internal/core/apperror"
	appctx "stockcore/internal/core/context"
	"stockcore/pkg/logger"
)

// Recovery converts a handler panic into an internal error response.
// The stack trace goes to the log only; clients get the generic
// internal-error payload from the error middleware.
func Recovery() gin.HandlerFunc {
	return func(c *gin.Context) {
		defer func() {
			if r := recover(); r != nil {
				logger.Error(c.Request.Context(), "panic recovered",
					"panic", r,
					"method", c.Request.Method,
					"path", c.Request.URL.Path,
					"stack", string(debug.Stack()),
				)

				appErr := apperror.NewInternal(fmt.Errorf("panic: %v", r))
				if tr := appctx.GetTrace(c.Request.Context()); tr != nil {
					appErr = appErr.WithDetail("requestId", tr.RequestID)
				}
				_ = c.Error(appErr)
				c.Abort()
			}
		}()
		c.Next()
	}
}
