// Portfolio report HTTP handlers.
//
//   - GET /reports/{slug}   (shared report)
//   - GET /reports          (reports generated for an address)
//
// Reports are created by the paid portfolio route only.
package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/movemeter/backend/internal/domain"
	"github.com/movemeter/backend/internal/utils"
)

// ReportsResponse wraps a list of reports.
type ReportsResponse struct {
	Reports []domain.PortfolioReport `json:"reports"`
}

// GetReport godoc
// @ID          getReport
// @Summary     Get a shared portfolio report
// @Tags        Reports
// @Produce     json
// @Param       slug  path  string  true  "Report slug"  example(2dd7a756-3d2c-4d18-a5cb-8eb9a25a3fd2)
// @Success     200  {object}  domain.PortfolioReport
// @Failure     404  {object}  handlers.ErrorResponse  "Report not found"
// @Failure     500  {object}  handlers.ErrorResponse  "Internal error"
// @Router      /reports/{slug} [get]
func (h *Handlers) GetReport(c *gin.Context) {
	r, err := h.reports.Get(c.Request.Context(), c.Param("slug"))
	if err != nil {
		failErr(c, err, http.StatusInternalServerError, ErrCodeInternal)
		return
	}
	// Reports are immutable once stored.
	c.Header("Cache-Control", "public, max-age=300")
	ok(c, http.StatusOK, r)
}

// ListReports godoc
// @ID          listReports
// @Summary     List reports for an address
// @Tags        Reports
// @Produce     json
// @Param       address  query  string  true   "Movement address"  example(0x1)
// @Param       limit    query  int     false  "Max items"         minimum(1) maximum(100) default(20)
// @Success     200  {object}  handlers.ReportsResponse
// @Failure     400  {object}  handlers.ErrorResponse  "Invalid address"
// @Failure     500  {object}  handlers.ErrorResponse  "Internal error"
// @Router      /reports [get]
func (h *Handlers) ListReports(c *gin.Context) {
	limit := utils.AtoiDefault(c.Query("limit"), 20)

	items, err := h.reports.ListForAddress(c.Request.Context(), c.Query("address"), limit)
	if err != nil {
		failErr(c, err, http.StatusInternalServerError, ErrCodeListFailed)
		return
	}
	if items == nil {
		items = []domain.PortfolioReport{}
	}
	ok(c, http.StatusOK, ReportsResponse{Reports: items})
}
