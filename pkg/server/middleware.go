package server

import (
	"log/slog"
	"time"

	"github.com/gin-gonic/gin"
)

// RequestLogger logs every request once it completes. Stream requests
// complete when the client goes away, so the latency is the session length.
func RequestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		attrs := []any{
			"method", c.Request.Method,
			"path", c.Request.URL.Path,
			"status", c.Writer.Status(),
			"bytes", c.Writer.Size(),
			"duration", time.Since(start).Round(time.Millisecond),
			"remote", c.ClientIP(),
		}
		if len(c.Errors) > 0 {
			slog.Warn("Request failed", append(attrs, "error", c.Errors.String())...)
			return
		}
		slog.Debug("Request completed", attrs...)
	}
}
