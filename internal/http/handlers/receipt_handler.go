// Payment receipt HTTP handlers.
//
//   - POST /receipts   (record a receipt the client holds, authenticated)
//   - GET  /receipts   (receipts paid by a wallet)
//
// Settled server-side payments are recorded by the paywall itself; POST
// /receipts covers clients that keep their own X-PAYMENT-RESPONSE headers.
package handlers

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/movemeter/backend/internal/domain"
	"github.com/movemeter/backend/internal/utils"
	"github.com/movemeter/backend/internal/x402"
)

// RecordReceiptRequest is the JSON payload for storing a receipt.
type RecordReceiptRequest struct {
	Endpoint           string `json:"endpoint"           example:"/api/v1/paid/meter-report"`
	Network            string `json:"network"            example:"eip155:84532"`
	PayTo              string `json:"payTo"              example:"0x1111111111111111111111111111111111111111"`
	PriceUSD           string `json:"priceUsd"           example:"$0.05"`
	PayerWalletAddress string `json:"payerWalletAddress" example:"0x2222222222222222222222222222222222222222"`
	Payer              string `json:"payer,omitempty"`
	Transaction        string `json:"transaction,omitempty"`
	// PaymentResponseHeader is the raw X-PAYMENT-RESPONSE value. When set,
	// payer and transaction are filled from it if missing.
	PaymentResponseHeader string `json:"paymentResponseHeader,omitempty"`
}

// ReceiptsResponse wraps a list of receipts.
type ReceiptsResponse struct {
	Receipts []domain.PaymentReceipt `json:"receipts"`
}

func optional(s string) *string {
	if s = strings.TrimSpace(s); s == "" {
		return nil
	}
	return &s
}

// RecordReceipt godoc
// @ID          recordReceipt
// @Summary     Record a payment receipt
// @Description Stores a receipt for an x402 payment. An undecodable payment response header is kept with its decode error.
// @Tags        Receipts
// @Accept      json
// @Produce     json
// @Security    BearerAuth
// @Param       body  body  handlers.RecordReceiptRequest  true  "Receipt"
// @Success     201  {object}  domain.PaymentReceipt
// @Failure     400  {object}  handlers.ErrorResponse  "Validation failed"
// @Failure     401  {object}  handlers.ErrorResponse  "Missing or invalid token"
// @Failure     500  {object}  handlers.ErrorResponse  "Internal error"
// @Router      /receipts [post]
func (h *Handlers) RecordReceipt(c *gin.Context) {
	var req RecordReceiptRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "invalid JSON body")
		return
	}

	rc := &domain.PaymentReceipt{
		Endpoint:              strings.TrimSpace(req.Endpoint),
		Network:               strings.TrimSpace(req.Network),
		PayTo:                 strings.TrimSpace(req.PayTo),
		PriceUSD:              strings.TrimSpace(req.PriceUSD),
		PayerWalletAddress:    strings.TrimSpace(req.PayerWalletAddress),
		Payer:                 optional(req.Payer),
		Transaction:           optional(req.Transaction),
		PaymentResponseHeader: optional(req.PaymentResponseHeader),
	}
	if rc.PaymentResponseHeader != nil {
		sr, err := x402.DecodeSettlement(*rc.PaymentResponseHeader)
		switch {
		case err != nil:
			msg := utils.Truncate(err.Error(), 1000)
			rc.DecodeError = &msg
		default:
			if rc.Payer == nil {
				rc.Payer = optional(sr.Payer)
			}
			if rc.Transaction == nil {
				rc.Transaction = optional(sr.Transaction)
			}
		}
	}

	if err := h.receipts.Record(c.Request.Context(), rc); err != nil {
		failErr(c, err, http.StatusInternalServerError, ErrCodeCreateFailed)
		return
	}
	ok(c, http.StatusCreated, rc)
}

// ListReceipts godoc
// @ID          listReceipts
// @Summary     List receipts for a wallet
// @Tags        Receipts
// @Produce     json
// @Param       wallet  query  string  true   "Payer wallet (EVM address)"  example(0x2222222222222222222222222222222222222222)
// @Param       limit   query  int     false  "Max items"                   minimum(1) maximum(100) default(25)
// @Success     200  {object}  handlers.ReceiptsResponse
// @Failure     400  {object}  handlers.ErrorResponse  "Invalid wallet"
// @Failure     500  {object}  handlers.ErrorResponse  "Internal error"
// @Router      /receipts [get]
func (h *Handlers) ListReceipts(c *gin.Context) {
	limit := utils.AtoiDefault(c.Query("limit"), 25)

	items, err := h.receipts.ListForWallet(c.Request.Context(), strings.TrimSpace(c.Query("wallet")), limit)
	if err != nil {
		failErr(c, err, http.StatusInternalServerError, ErrCodeListFailed)
		return
	}
	if items == nil {
		items = []domain.PaymentReceipt{}
	}
	ok(c, http.StatusOK, ReceiptsResponse{Receipts: items})
}
