package middleware

import (
	"github.com/gin-gonic/gin"

	appctx "stockcore/internal/core/context"
)

// HeaderCallerID carries the caller identity resolved by the upstream
// authentication layer.
const HeaderCallerID = "X-Caller-Id"

// CallerIdentity middleware extracts the caller identity used to scope
// audit records and idempotency keys. Authentication itself happens
// upstream; an absent header means an anonymous caller.
func CallerIdentity() gin.HandlerFunc {
	return func(c *gin.Context) {
		callerID := c.GetHeader(HeaderCallerID)
		if callerID == "" {
			callerID = "anonymous"
		}

		ctx := appctx.WithCaller(c.Request.Context(), &appctx.CallerContext{CallerID: callerID})
		c.Request = c.Request.WithContext(ctx)
		c.Set("caller_id", callerID)

		c.Next()
	}
}
