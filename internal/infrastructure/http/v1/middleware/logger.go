package middleware

import (
	"time"

	"github.com/gin-gonic/gin"

	"stockcore/pkg/logger"
)

// Logger logs one line per request. Trace ids and the caller identity
// that scopes audit records come from the request context. Server
// errors log at error level so failed stock mutations stand out.
func Logger(log *logger.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		path := c.Request.URL.Path
		if raw := c.Request.URL.RawQuery; raw != "" {
			path = path + "?" + raw
		}

		c.Next()

		status := c.Writer.Status()
		fields := []any{
			"method", c.Request.Method,
			"path", path,
			"route", c.FullPath(),
			"status", status,
			"latency_ms", time.Since(start).Milliseconds(),
			"bytes", c.Writer.Size(),
			"client_ip", c.ClientIP(),
		}
		if errs := c.Errors.ByType(gin.ErrorTypePrivate); len(errs) > 0 {
			fields = append(fields, "error", errs.String())
		}

		entry := log.WithContext(c.Request.Context())
		switch {
		case status >= 500:
			entry.Errorw("http request", fields...)
		case status >= 400:
			entry.Warnw("http request", fields...)
		default:
			entry.Infow("http request", fields...)
		}
	}
}
