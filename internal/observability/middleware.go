package observability

import (
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
)

// AccessLog records one request counter and latency sample per request and
// logs it against service. Websocket upgrades are logged when the session
// ends, so their duration is the session lifetime.
func AccessLog(service string) gin.HandlerFunc {
	logger := ComponentLogger(service)
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		route := c.FullPath()
		if route == "" {
			route = c.Request.URL.Path
		}
		status := c.Writer.Status()
		elapsed := time.Since(start)
		RecordHTTPRequest(service, c.Request.Method, route, status, elapsed)

		levelFor(logger, status).
			Str("method", c.Request.Method).
			Str("route", route).
			Int("status", status).
			Dur("elapsed", elapsed).
			Str("remote", c.ClientIP()).
			Msg("sidecar_request")
	}
}

func levelFor(logger zerolog.Logger, status int) *zerolog.Event {
	switch {
	case status >= 500:
		return logger.Error()
	case status >= 400:
		return logger.Warn()
	default:
		return logger.Debug()
	}
}
