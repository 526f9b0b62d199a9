package observability

import (
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
)

// AdminRequests records every admin request under node and logs it.
// Scrapes of /metrics and /health log at trace level so polling stays quiet.
func AdminRequests(logger zerolog.Logger, node string) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		elapsed := time.Since(start)

		route := c.FullPath()
		if route == "" {
			route = "unmatched"
		}
		status := c.Writer.Status()
		RecordHTTPRequest(node, c.Request.Method, route, status, elapsed)

		var event *zerolog.Event
		switch {
		case status >= 500:
			event = logger.Error()
		case status >= 400:
			event = logger.Warn()
		case route == "/metrics" || route == "/health":
			event = logger.Trace()
		default:
			event = logger.Debug()
		}
		event.
			Str("node", node).
			Str("route", route).
			Int("status", status).
			Int("bytes", c.Writer.Size()).
			Dur("elapsed", elapsed).
			Str("remote", c.ClientIP()).
			Msg("observability.AdminRequests served")
	}
}
