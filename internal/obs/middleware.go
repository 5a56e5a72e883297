package obs

import (
	"log/slog"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"marketplace-chat/internal/observability"
)

const (
	RequestIDHeader = "X-Request-ID"
	RequestIDKey    = "request_id"
)

// RequestID assigns every request an id, echoes it in the response header and
// stores it under RequestIDKey for handlers, audit envelopes and websocket sessions.
func RequestID() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Header(RequestIDHeader, RequestIDFrom(c))
		c.Next()
	}
}

// RequestIDFrom returns the id of the current request. Outside the RequestID
// middleware it adopts the caller's header or generates one, then remembers it.
func RequestIDFrom(c *gin.Context) string {
	if id := c.GetString(RequestIDKey); id != "" {
		return id
	}
	id := strings.TrimSpace(c.GetHeader(RequestIDHeader))
	if id == "" {
		id = uuid.NewString()
	}
	c.Set(RequestIDKey, id)
	return id
}

// AccessLog writes one line per request: server errors at error level, client
// errors at warn, the rest at debug. Paths in quiet are not logged at all.
func AccessLog(logger *slog.Logger, quiet ...string) gin.HandlerFunc {
	skip := make(map[string]struct{}, len(quiet))
	for _, p := range quiet {
		skip[p] = struct{}{}
	}
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		if logger == nil {
			return
		}
		route := c.FullPath()
		if _, ok := skip[route]; ok {
			return
		}

		status := c.Writer.Status()
		level := slog.LevelDebug
		switch {
		case status >= 500:
			level = slog.LevelError
		case status >= 400:
			level = slog.LevelWarn
		}
		logger.LogAttrs(c.Request.Context(), level, "request",
			slog.String("method", c.Request.Method),
			slog.String("route", route),
			slog.Int("status", status),
			slog.Duration("latency", time.Since(start)),
			slog.String("client_ip", observability.ClientIP(c.Request)),
			slog.String(RequestIDKey, c.GetString(RequestIDKey)),
		)
	}
}
