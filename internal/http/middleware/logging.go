// Package middleware contains shared Gin middleware used by the HTTP layer.
//
// This file provides the correlation ID, panic recovery and the request-scoped
// logger accessor. Install them as RequestID() → RedactingLogger() →
// Recovery() so panics and errors carry the correlation ID.
package middleware

import (
	"net/http"
	"regexp"
	"runtime/debug"
	"unicode/utf8"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

const (
	requestIDKey    = "requestID"
	requestIDHeader = "X-Request-ID"
	ctxKeyLogger    = "logger"

	// maxQueryLogLength caps the number of runes of the raw query string logged.
	maxQueryLogLength = 2048
	maxRequestIDLen   = 128
)

var requestIDPattern = regexp.MustCompile(`^[A-Za-z0-9._~\-:]+$`)

var panics = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Name: "http_panics_total",
		Help: "Handler panics recovered, by route.",
	},
	[]string{"path"},
)

func init() { prometheus.MustRegister(panics) }

// RequestID reuses a well-formed incoming X-Request-ID (at most 128 token
// characters) or generates a UUIDv4. The ID is echoed in the response header,
// stored in the Gin context and recorded on the active span as request.id.
func RequestID() gin.HandlerFunc {
	return func(c *gin.Context) {
		rid := c.GetHeader(requestIDHeader)
		if len(rid) > maxRequestIDLen || !requestIDPattern.MatchString(rid) {
			rid = uuid.NewString()
		}
		c.Set(requestIDKey, rid)
		c.Writer.Header().Set(requestIDHeader, rid)
		trace.SpanFromContext(c.Request.Context()).SetAttributes(attribute.String("request.id", rid))
		c.Next()
	}
}

// RequestIDFrom returns the correlation ID of the request, falling back to
// the response header when RequestID is not installed.
func RequestIDFrom(c *gin.Context) string {
	if v, ok := c.Get(requestIDKey); ok {
		if s, ok := v.(string); ok && s != "" {
			return s
		}
	}
	return c.Writer.Header().Get(requestIDHeader)
}

// Recovery turns panics into
//
//	500 {"request_id": "...", "code": "internal_error", "message": "internal server error"}
//
// unless a response was already written, in which case it only aborts. The
// panic is logged with its stack, route and trace ID, and counted.
func Recovery() gin.HandlerFunc {
	return func(c *gin.Context) {
		defer func() {
			rec := recover()
			if rec == nil {
				return
			}
			rid := RequestIDFrom(c)
			route := c.FullPath()
			if route == "" {
				route = UnmatchedPath
			}
			panics.WithLabelValues(route).Inc()

			ev := log.Error().
				Interface("panic", rec).
				Bytes("stack", debug.Stack()).
				Str("request_id", rid).
				Str("route", route)
			if sc := trace.SpanContextFromContext(c.Request.Context()); sc.HasTraceID() {
				ev = ev.Str("trace_id", sc.TraceID().String())
			}
			ev.Msg("panic recovered")

			if c.Writer.Written() {
				c.AbortWithStatus(http.StatusInternalServerError)
				return
			}
			c.Header(requestIDHeader, rid)
			c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{
				"request_id": rid,
				"code":       "internal_error",
				"message":    "internal server error",
			})
		}()
		c.Next()
	}
}

// LoggerFrom returns the request-scoped zerolog.Logger, or the global logger
// when RedactingLogger is not installed. The result is never nil.
func LoggerFrom(c *gin.Context) *zerolog.Logger {
	if v, ok := c.Get(ctxKeyLogger); ok {
		if lg, ok := v.(*zerolog.Logger); ok {
			return lg
		}
	}
	l := log.With().Logger()
	return &l
}

// truncate caps s at n runes plus an ellipsis; n <= 0 disables it.
func truncate(s string, n int) string {
	if n <= 0 || utf8.RuneCountInString(s) <= n {
		return s
	}
	i := 0
	for pos := range s {
		if i == n {
			return s[:pos] + "…"
		}
		i++
	}
	return s
}
