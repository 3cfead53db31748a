package observability

import (
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

const (
	// RunIDKey is the gin context key a handler sets to name the script
	// run the request acted on.
	RunIDKey = "run_id"

	RequestIDHeader = "X-Request-ID"

	unmatchedRoute = "unmatched"
)

// TagRun attaches a script run id to the request's log line.
func TagRun(c *gin.Context, runID string) {
	if runID != "" {
		c.Set(RunIDKey, runID)
	}
}

// HTTPMiddleware logs and times every control API request. Requests keep
// the caller's X-Request-ID or get a fresh one, echoed in the response.
// Metrics are labelled by route pattern so unknown paths share one series.
func HTTPMiddleware(logger zerolog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		reqID := c.GetHeader(RequestIDHeader)
		if reqID == "" {
			reqID = uuid.NewString()
		}
		c.Header(RequestIDHeader, reqID)

		c.Next()

		elapsed := time.Since(start)
		status := c.Writer.Status()
		route := c.FullPath()
		if route == "" {
			route = unmatchedRoute
		}
		RecordHTTPRequest(c.Request.Method, route, status, elapsed)

		ev := eventFor(&logger, status).
			Str("request_id", reqID).
			Str("method", c.Request.Method).
			Str("route", route).
			Int("status", status).
			Dur("duration", elapsed)
		if route == unmatchedRoute {
			ev = ev.Str("path", c.Request.URL.Path)
		}
		if runID := c.GetString(RunIDKey); runID != "" {
			ev = ev.Str(RunIDKey, runID)
		}
		if len(c.Errors) > 0 {
			ev = ev.Str("errors", c.Errors.String())
		}
		ev.Str("client_ip", c.ClientIP()).Msg("api request")
	}
}

func eventFor(logger *zerolog.Logger, status int) *zerolog.Event {
	switch {
	case status >= 500:
		return logger.Error()
	case status >= 400:
		return logger.Warn()
	default:
		return logger.Info()
	}
}
