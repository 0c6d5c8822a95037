// Usage ledger HTTP handlers.
//
//   - GET /usage/daily    (per-day rollups, oldest first, zero-filled)
//   - GET /usage/events   (newest raw events for one route)
package handlers

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/movemeter/backend/internal/domain"
	"github.com/movemeter/backend/internal/services"
	"github.com/movemeter/backend/internal/utils"
)

// DailySummaryResponse wraps the per-day usage rows.
type DailySummaryResponse struct {
	Days []services.DaySummary `json:"days"`
}

// UsageEventsResponse wraps raw usage events.
type UsageEventsResponse struct {
	Events []domain.UsageEvent `json:"events"`
}

// DailySummary godoc
// @ID          usageDailySummary
// @Summary     Daily usage summary
// @Description Returns one row per day (oldest to newest, today included) with call counts and revenue. Days without calls are zero.
// @Tags        Usage
// @Produce     json
// @Param       days   query  int     false  "Number of days"        minimum(1) maximum(60) default(7)
// @Param       route  query  string  false  "Only count this route" example(/api/v1/paid/meter-report)
// @Success     200  {object}  handlers.DailySummaryResponse
// @Failure     500  {object}  handlers.ErrorResponse  "Internal error"
// @Router      /usage/daily [get]
func (h *Handlers) DailySummary(c *gin.Context) {
	days := utils.AtoiDefault(c.Query("days"), 7)
	route := strings.TrimSpace(c.Query("route"))

	rows, err := h.usage.DailySummary(c.Request.Context(), days, route)
	if err != nil {
		failErr(c, err, http.StatusInternalServerError, ErrCodeListFailed)
		return
	}
	ok(c, http.StatusOK, DailySummaryResponse{Days: rows})
}

// UsageEvents godoc
// @ID          usageEvents
// @Summary     Recent usage events for a route
// @Tags        Usage
// @Produce     json
// @Param       route  query  string  true   "Route"      example(/api/v1/paid/meter-report)
// @Param       limit  query  int     false  "Max events" minimum(1) maximum(100) default(25)
// @Success     200  {object}  handlers.UsageEventsResponse
// @Failure     400  {object}  handlers.ErrorResponse  "Missing route"
// @Failure     500  {object}  handlers.ErrorResponse  "Internal error"
// @Router      /usage/events [get]
func (h *Handlers) UsageEvents(c *gin.Context) {
	limit := utils.AtoiDefault(c.Query("limit"), 25)

	events, err := h.usage.RecentEvents(c.Request.Context(), c.Query("route"), limit)
	if err != nil {
		failErr(c, err, http.StatusInternalServerError, ErrCodeListFailed)
		return
	}
	if events == nil {
		events = []domain.UsageEvent{}
	}
	ok(c, http.StatusOK, UsageEventsResponse{Events: events})
}
