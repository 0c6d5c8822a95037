// Package handlers defines HTTP-layer error codes used across all API endpoints.
//
// This file centralizes symbolic error code constants that are mapped to HTTP
// responses (via the `fail()` helper in this package), and failErr, which
// translates service, egress and relay sentinels into a status and a code.
//
// Conventions:
//   - Codes are lowercase, snake_case, and domain-agnostic unless explicitly noted.
//   - Generic codes (e.g., bad_request, unauthorized, conflict) mirror common HTTP
//     status semantics to aid interoperability.
//   - Domain-specific codes (e.g., forbidden_target, upstream_timeout) are
//     reserved for failures that cannot be conveyed by status alone.
//   - Validation messages produced by services are surfaced verbatim.
//
// Example response:
//
//	{
//	  "request_id": "e1b9be03-4999-4289-9f03-999b042d65d6",
//	  "code": "forbidden_target",
//	  "message": "refusing to fetch from a non-public IP address (private)"
//	}
package handlers

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/movemeter/backend/internal/egress"
	"github.com/movemeter/backend/internal/relay"
	"github.com/movemeter/backend/internal/services"
)

const (
	ErrCodeBadRequest   = "bad_request"
	ErrCodeUnauthorized = "unauthorized"
	ErrCodeForbidden    = "forbidden"
	ErrCodeNotFound     = "not_found"
	ErrCodeConflict     = "conflict"
	ErrCodeRateLimited  = "too_many_requests"
	ErrCodeInternal     = "internal_error"

	// Domain-specific:
	ErrCodeValidation       = "validation_failed"
	ErrCodeInactive         = "listing_inactive"
	ErrCodeSlugExhausted    = "slug_exhausted"
	ErrCodeInvalidPath      = "invalid_path"
	ErrCodeForbiddenTarget  = "forbidden_target"
	ErrCodeInvalidJSON      = "invalid_json"
	ErrCodePayloadTooLarge  = "payload_too_large"
	ErrCodeUpstreamFailed   = "upstream_failed"
	ErrCodeUpstreamTimeout  = "upstream_timeout"
	ErrCodeUpstreamTooLarge = "upstream_too_large"
	ErrCodeCreateFailed     = "create_failed"
	ErrCodeListFailed       = "list_failed"
	ErrCodeMethodNotAllowed = "method_not_allowed"
)

// failErr writes the envelope for a service error. Errors without a mapping
// are answered with the fallback status and code.
func failErr(c *gin.Context, err error, fallbackStatus int, fallbackCode string) {
	var ve *services.ValidationError
	switch {
	case errors.As(err, &ve):
		fail(c, http.StatusBadRequest, ErrCodeValidation, ve.Error())
	case errors.Is(err, services.ErrInvalidInput):
		fail(c, http.StatusBadRequest, ErrCodeValidation, err.Error())
	case errors.Is(err, services.ErrListingNotFound),
		errors.Is(err, services.ErrReportNotFound),
		errors.Is(err, services.ErrUserNotFound):
		fail(c, http.StatusNotFound, ErrCodeNotFound, err.Error())
	case errors.Is(err, services.ErrListingInactive):
		fail(c, http.StatusConflict, ErrCodeInactive, err.Error())
	case errors.Is(err, services.ErrSlugExhausted):
		fail(c, http.StatusConflict, ErrCodeSlugExhausted, err.Error())
	case errors.Is(err, egress.ErrInvalidBaseURL):
		fail(c, http.StatusBadRequest, ErrCodeValidation, err.Error())
	case errors.Is(err, egress.ErrInvalidPath),
		errors.Is(err, egress.ErrPathTraversal),
		errors.Is(err, egress.ErrOriginMismatch):
		fail(c, http.StatusBadRequest, ErrCodeInvalidPath, err.Error())
	case errors.Is(err, egress.ErrBlockedHost), errors.Is(err, egress.ErrBlockedAddress):
		fail(c, http.StatusForbidden, ErrCodeForbiddenTarget, err.Error())
	case errors.Is(err, relay.ErrMethodNotAllowed):
		fail(c, http.StatusBadRequest, ErrCodeMethodNotAllowed, err.Error())
	case errors.Is(err, relay.ErrInvalidJSON):
		fail(c, http.StatusBadRequest, ErrCodeInvalidJSON, err.Error())
	case errors.Is(err, relay.ErrBodyTooLarge):
		fail(c, http.StatusRequestEntityTooLarge, ErrCodePayloadTooLarge, err.Error())
	case errors.Is(err, relay.ErrTimeout):
		fail(c, http.StatusGatewayTimeout, ErrCodeUpstreamTimeout, err.Error())
	case errors.Is(err, relay.ErrResponseTooLarge):
		fail(c, http.StatusBadGateway, ErrCodeUpstreamTooLarge, err.Error())
	case fallbackStatus >= http.StatusInternalServerError:
		failCause(c, fallbackStatus, fallbackCode, http.StatusText(fallbackStatus), err)
	default:
		fail(c, fallbackStatus, fallbackCode, err.Error())
	}
}
