// Free Movement HTTP handlers.
//
//   - GET /health/movement    (fullnode and indexer probes)
//   - GET /movement/balance   (base coin balance, unmetered)
package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/movemeter/backend/internal/services"
)

// HealthResponse is the body of GET /health/movement.
type HealthResponse struct {
	OK       bool `json:"ok"`
	Movement struct {
		Network     string `json:"network"`
		ChainID     int    `json:"chainId"`
		FullnodeURL string `json:"fullnodeUrl"`
		IndexerURL  string `json:"indexerUrl"`
	} `json:"movement"`
	Checks struct {
		FullnodeOK bool `json:"fullnodeOk"`
		IndexerOK  bool `json:"indexerOk"`
	} `json:"checks"`
}

// MovementHealth godoc
// @ID          movementHealth
// @Summary     Movement dependency health
// @Description Probes the fullnode (GET) and the indexer ({ __typename }) concurrently; 503 when either fails.
// @Tags        Health
// @Produce     json
// @Success     200  {object}  handlers.HealthResponse
// @Failure     503  {object}  handlers.HealthResponse
// @Router      /health/movement [get]
func (h *PaidHandlers) MovementHealth(c *gin.Context) {
	ctx := c.Request.Context()

	var resp HealthResponse
	done := make(chan struct{})
	go func() {
		resp.Checks.FullnodeOK = h.chain.Ping(ctx)
		close(done)
	}()
	resp.Checks.IndexerOK = h.chain.PingIndexer(ctx)
	<-done

	resp.OK = resp.Checks.FullnodeOK && resp.Checks.IndexerOK
	resp.Movement.Network = h.mv.Network
	resp.Movement.ChainID = h.mv.ChainID
	resp.Movement.FullnodeURL = h.chain.FullnodeURL()
	resp.Movement.IndexerURL = h.chain.IndexerURL()

	status := http.StatusOK
	if !resp.OK {
		status = http.StatusServiceUnavailable
	}
	c.Header("Cache-Control", "no-store")
	c.JSON(status, resp)
}

// Balance godoc
// @ID          movementBalance
// @Summary     Base coin balance of an address
// @Description Free variant of the paid balance read, without explorer links.
// @Tags        Movement
// @Produce     json
// @Param       address  query  string  true  "Movement address (0x + hex)"  example(0x1)
// @Success     200  {object}  handlers.MoveBalance
// @Failure     400  {object}  handlers.PaidError  "Invalid address"
// @Failure     502  {object}  handlers.PaidError  "Fullnode read failed"
// @Router      /movement/balance [get]
func (h *PaidHandlers) Balance(c *gin.Context) {
	addr, err := services.NormalizeMovementAddress(c.Query("address"))
	if err != nil {
		paidFail(c, http.StatusBadRequest, PaidError{Error: "Invalid address (expected 0x + hex)"})
		return
	}
	bal, err := h.coins.Balance(c.Request.Context(), addr, h.mv.BaseCoinType)
	if err != nil {
		paidFail(c, http.StatusBadGateway, PaidError{
			Error:   "Failed to read MOVE balance from Movement fullnode",
			Details: err.Error(),
		})
		return
	}

	var resp MoveBalance
	resp.OK = true
	resp.Address = addr
	resp.ChainID = h.mv.ChainID
	resp.FullnodeURL = h.mv.FullnodeURL
	resp.Coin.Type = h.mv.BaseCoinType
	resp.Coin.Symbol = bal.Symbol
	resp.Coin.Decimals = bal.Decimals
	resp.Balance.Raw = bal.Raw.String()
	resp.Balance.Formatted = bal.Formatted
	ok(c, http.StatusOK, resp)
}
