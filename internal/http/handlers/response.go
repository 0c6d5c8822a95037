// Package handlers provides HTTP handler implementations for the public API.
//
// This file defines the error envelope shared by the marketplace endpoints.
// First-party paid routes use their own {"ok": ...} shape and do not go
// through these helpers.
//
//	HTTP/1.1 404 Not Found
//	{
//	  "request_id": "123e4567-e89b-12d3-a456-426614174000",
//	  "code": "not_found",
//	  "message": "listing not found"
//	}
package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/movemeter/backend/internal/http/middleware"
)

// ErrorResponse is the standard error envelope returned by all endpoints.
type ErrorResponse struct {
	// Correlates server logs and client errors
	RequestID string `json:"request_id,omitempty" example:"123e4567-e89b-12d3-a456-426614174000"`
	// Stable, machine-readable code (see errors.go constants)
	Code string `json:"code" example:"not_found"`
	// Human-readable message (safe to show to users)
	Message string `json:"message" example:"listing not found"`
}

// fail aborts the request with an ErrorResponse.
func fail(c *gin.Context, status int, code, msg string) { failCause(c, status, code, msg, nil) }

// failCause is fail with the underlying error attached to the server-side
// log line. 5xx responses are logged with route and caller; the cause never
// reaches the client.
func failCause(c *gin.Context, status int, code, msg string, cause error) {
	if status >= http.StatusInternalServerError {
		ev := middleware.LoggerFrom(c).Error().
			Int("status", status).
			Str("code", code).
			Str("message", msg).
			Str("route", c.FullPath())
		if uid := middleware.UserID(c); uid != "" {
			ev = ev.Str("user_id", uid)
		}
		if cause != nil {
			ev = ev.Err(cause)
		}
		ev.Msg("api error")
	}

	c.AbortWithStatusJSON(status, ErrorResponse{
		RequestID: middleware.RequestIDFrom(c),
		Code:      code,
		Message:   msg,
	})
}

// Fail is the exported variant of fail, used by the router for NoRoute and
// NoMethod.
func Fail(c *gin.Context, status int, code, msg string) { fail(c, status, code, msg) }

// ok writes a success JSON response.
func ok(c *gin.Context, status int, body any) {
	c.JSON(status, body)
}
