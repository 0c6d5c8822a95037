// User HTTP handlers.
//
//   - POST /me/sync   (upsert the caller, optionally linking a Movement address)
//   - GET  /me        (the caller's user row)
package handlers

import (
	"errors"
	"io"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/movemeter/backend/internal/http/middleware"
)

// SyncUserRequest is the JSON payload for POST /me/sync. The body is optional.
type SyncUserRequest struct {
	MovementAddress string `json:"movementAddress,omitempty" example:"0x1"`
}

// SyncUser godoc
// @ID          syncUser
// @Summary     Sync the current user
// @Description Creates the caller's user row on first use. A given movementAddress is normalized to lowercase and stored; omitting it keeps the stored one.
// @Tags        Users
// @Accept      json
// @Produce     json
// @Security    BearerAuth
// @Param       body  body  handlers.SyncUserRequest  false  "Optional wallet link"
// @Success     200  {object}  domain.User
// @Failure     400  {object}  handlers.ErrorResponse  "Invalid address"
// @Failure     401  {object}  handlers.ErrorResponse  "Missing or invalid token"
// @Failure     500  {object}  handlers.ErrorResponse  "Internal error"
// @Router      /me/sync [post]
func (h *Handlers) SyncUser(c *gin.Context) {
	var req SyncUserRequest
	if err := c.ShouldBindJSON(&req); err != nil && !errors.Is(err, io.EOF) {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "invalid JSON body")
		return
	}

	u, err := h.users.Sync(c.Request.Context(), middleware.UserID(c), strings.TrimSpace(req.MovementAddress))
	if err != nil {
		failErr(c, err, http.StatusInternalServerError, ErrCodeInternal)
		return
	}
	ok(c, http.StatusOK, u)
}

// GetMe godoc
// @ID          getMe
// @Summary     Get the current user
// @Tags        Users
// @Produce     json
// @Security    BearerAuth
// @Success     200  {object}  domain.User
// @Failure     401  {object}  handlers.ErrorResponse  "Missing or invalid token"
// @Failure     404  {object}  handlers.ErrorResponse  "User has not synced yet"
// @Failure     500  {object}  handlers.ErrorResponse  "Internal error"
// @Router      /me [get]
func (h *Handlers) GetMe(c *gin.Context) {
	u, err := h.users.Get(c.Request.Context(), middleware.UserID(c))
	if err != nil {
		failErr(c, err, http.StatusInternalServerError, ErrCodeInternal)
		return
	}
	ok(c, http.StatusOK, u)
}
