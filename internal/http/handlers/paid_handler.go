// First-party paid HTTP handlers.
//
//   - GET  /paid/meter-report              (ledger snapshot and payment terms)
//   - GET  /paid/movement/move-balance     (base coin balance of an address)
//   - POST /paid/movement/portfolio        (indexer snapshot, stored as a shareable report)
//
// The free Movement reads served by the same handler set live in
// movement_handler.go.
//
// These routes sit behind the x402 paywall, which settles only responses
// below 400. Their bodies follow the {"ok": bool, "error": "..."} shape
// instead of the ErrorResponse envelope. Every attempt is written to the
// usage ledger; ledger failures are logged and never surfaced.
package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/movemeter/backend/internal/config"
	"github.com/movemeter/backend/internal/domain"
	"github.com/movemeter/backend/internal/http/middleware"
	"github.com/movemeter/backend/internal/movement"
	"github.com/movemeter/backend/internal/services"
	"github.com/movemeter/backend/internal/x402"
)

const (
	maxPortfolioBalances = 200
	defaultPortfolioSize = 25
	maxPortfolioSize     = 50
	reportSlugAttempts   = 3

	ctxKeyMoveAddress = "paid.address"
	ctxKeyPortfolio   = "paid.portfolio"
)

// PaidCallLogger writes one usage-ledger entry per paid call attempt.
type PaidCallLogger interface {
	LogPaidCall(ctx context.Context, c services.PaidCall) error
}

// Chain is the Movement read surface the paid and health routes use.
type Chain interface {
	FullnodeURL() string
	IndexerURL() string
	LedgerInfo(ctx context.Context) (*movement.LedgerInfo, error)
	Query(ctx context.Context, query string, vars map[string]any, out any) error
	Ping(ctx context.Context) bool
	PingIndexer(ctx context.Context) bool
}

// BalanceReader resolves a coin balance for an address.
type BalanceReader interface {
	Balance(ctx context.Context, address, coinType string) (*movement.Balance, error)
}

// ReportCreator stores portfolio reports.
type ReportCreator interface {
	Create(ctx context.Context, in services.NewReport) (*domain.PortfolioReport, error)
}

// PaidOptions wires PaidHandlers.
type PaidOptions struct {
	Usage    PaidCallLogger
	Chain    Chain
	Coins    BalanceReader
	Reports  ReportCreator
	Terms    x402.Terms
	Movement config.MovementConfig

	// Now and NewSlug default to time.Now and uuid.NewString.
	Now     func() time.Time
	NewSlug func() string
}

// PaidHandlers serves the paid routes and the Movement health check.
type PaidHandlers struct {
	usage   PaidCallLogger
	chain   Chain
	coins   BalanceReader
	reports ReportCreator
	terms   x402.Terms
	mv      config.MovementConfig
	now     func() time.Time
	newSlug func() string
}

// NewPaid returns PaidHandlers with defaults applied.
func NewPaid(o PaidOptions) *PaidHandlers {
	if o.Now == nil {
		o.Now = time.Now
	}
	if o.NewSlug == nil {
		o.NewSlug = uuid.NewString
	}
	return &PaidHandlers{
		usage:   o.Usage,
		chain:   o.Chain,
		coins:   o.Coins,
		reports: o.Reports,
		terms:   o.Terms,
		mv:      o.Movement,
		now:     o.Now,
		newSlug: o.NewSlug,
	}
}

//
// DTOs
//

// PaidError is the failure body of the paid routes.
type PaidError struct {
	OK      bool   `json:"ok" example:"false"`
	Error   string `json:"error" example:"Failed to query Movement indexer"`
	Status  int    `json:"status,omitempty"`
	Details string `json:"details,omitempty"`
}

// MeterReport is the success body of GET /paid/meter-report.
type MeterReport struct {
	OK       bool `json:"ok" example:"true"`
	Movement struct {
		ChainID         *int    `json:"chainId"`
		LedgerVersion   *string `json:"ledgerVersion"`
		LedgerTimestamp *string `json:"ledgerTimestamp"`
		FullnodeURL     string  `json:"fullnodeUrl"`
	} `json:"movement"`
	X402 struct {
		Network  string `json:"network"`
		PayTo    string `json:"payTo"`
		PriceUSD string `json:"priceUsd"`
	} `json:"x402"`
}

// MoveBalance is the success body of GET /paid/movement/move-balance.
type MoveBalance struct {
	OK          bool   `json:"ok" example:"true"`
	Address     string `json:"address"`
	ChainID     int    `json:"chainId"`
	FullnodeURL string `json:"fullnodeUrl"`
	ExplorerURL string `json:"explorerUrl"`
	FaucetURL   string `json:"faucetUrl"`
	Coin        struct {
		Type     string `json:"type"`
		Symbol   string `json:"symbol"`
		Decimals int    `json:"decimals"`
	} `json:"coin"`
	Balance struct {
		Raw       string `json:"raw"`
		Formatted string `json:"formatted"`
	} `json:"balance"`
}

// PortfolioRequest is the JSON payload of POST /paid/movement/portfolio.
type PortfolioRequest struct {
	Address string `json:"address" example:"0x1"`
	// Limit caps recent activities; 1..50, default 25.
	Limit *int `json:"limit,omitempty" example:"25"`
}

// PortfolioBalance is one fungible asset holding.
type PortfolioBalance struct {
	Amount    string             `json:"amount"`
	AssetType string             `json:"assetType"`
	Metadata  *PortfolioMetadata `json:"metadata"`
}

// PortfolioMetadata describes a fungible asset.
type PortfolioMetadata struct {
	Decimals   *int    `json:"decimals"`
	IconURI    *string `json:"iconUri"`
	Name       *string `json:"name"`
	ProjectURI *string `json:"projectUri"`
	Symbol     *string `json:"symbol"`
}

// PortfolioActivity is one fungible asset activity of a transaction.
type PortfolioActivity struct {
	TransactionVersion   string `json:"transactionVersion"`
	Amount               string `json:"amount"`
	AssetType            string `json:"assetType"`
	Type                 string `json:"type"`
	TransactionTimestamp string `json:"transactionTimestamp"`
}

// PortfolioReport is the stored and returned snapshot.
type PortfolioReport struct {
	Address          string              `json:"address"`
	Balances         []PortfolioBalance  `json:"balances"`
	RecentActivities []PortfolioActivity `json:"recentActivities"`
	GeneratedAt      string              `json:"generatedAt"`
}

// PortfolioResponse is the success body of POST /paid/movement/portfolio.
type PortfolioResponse struct {
	OK    bool `json:"ok" example:"true"`
	Share struct {
		Slug string `json:"slug"`
	} `json:"share"`
	Report PortfolioReport `json:"report"`
}

//
// Indexer queries
//

const getBalancesQuery = `
  query GetAddressTokenBalances($owner_address: String!) {
    current_fungible_asset_balances(where: { owner_address: { _eq: $owner_address } }) {
      amount
      asset_type
      metadata {
        decimals
        icon_uri
        name
        project_uri
        symbol
      }
    }
  }
`

const getHistoryQuery = `
  query GetAddressTokenHistory($account_address: String!, $limit: Int!) {
    account_transactions(
      where: { account_address: { _eq: $account_address } }
      order_by: { transaction_version: desc }
      limit: $limit
    ) {
      transaction_version
      fungible_asset_activities {
        amount
        asset_type
        type
        transaction_timestamp
      }
    }
  }
`

type balancesData struct {
	Balances []struct {
		Amount    string `json:"amount"`
		AssetType string `json:"asset_type"`
		Metadata  *struct {
			Decimals   *int    `json:"decimals"`
			IconURI    *string `json:"icon_uri"`
			Name       *string `json:"name"`
			ProjectURI *string `json:"project_uri"`
			Symbol     *string `json:"symbol"`
		} `json:"metadata"`
	} `json:"current_fungible_asset_balances"`
}

type historyData struct {
	Transactions []struct {
		Version    txVersion `json:"transaction_version"`
		Activities []struct {
			Amount    string `json:"amount"`
			AssetType string `json:"asset_type"`
			Type      string `json:"type"`
			Timestamp string `json:"transaction_timestamp"`
		} `json:"fungible_asset_activities"`
	} `json:"account_transactions"`
}

// txVersion accepts a transaction version sent as a JSON string or number.
type txVersion string

func (v *txVersion) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if len(b) > 0 && b[0] == '"' {
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		*v = txVersion(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(b, &n); err != nil {
		return err
	}
	*v = txVersion(n.String())
	return nil
}

//
// Helpers
//

func paidFail(c *gin.Context, status int, body PaidError) {
	body.OK = false
	c.Header("Cache-Control", "no-store")
	c.AbortWithStatusJSON(status, body)
}

// logCall records the attempt in the usage ledger. Errors are only logged.
func (h *PaidHandlers) logCall(c *gin.Context, success bool) {
	if h.usage == nil {
		return
	}
	err := h.usage.LogPaidCall(context.WithoutCancel(c.Request.Context()), services.PaidCall{
		Route:    c.FullPath(),
		Network:  h.terms.Network,
		PayTo:    h.terms.PayTo,
		PriceUSD: h.terms.PriceUSD,
		OK:       success,
	})
	if err != nil {
		middleware.LoggerFrom(c).Warn().Err(err).Str("route", c.FullPath()).Msg("failed to log paid call")
	}
}

//
// Pre-paywall validation
//

// RequireAddress validates ?address before any payment is requested.
func (h *PaidHandlers) RequireAddress() gin.HandlerFunc {
	return func(c *gin.Context) {
		addr, err := services.NormalizeMovementAddress(c.Query("address"))
		if err != nil {
			paidFail(c, http.StatusBadRequest, PaidError{Error: "Invalid address (expected 0x + hex)"})
			return
		}
		c.Set(ctxKeyMoveAddress, addr)
		c.Next()
	}
}

// RequirePortfolioBody validates the portfolio payload before any payment is
// requested and stashes it for the handler.
func (h *PaidHandlers) RequirePortfolioBody() gin.HandlerFunc {
	return func(c *gin.Context) {
		var req PortfolioRequest
		if err := json.NewDecoder(c.Request.Body).Decode(&req); err != nil {
			paidFail(c, http.StatusBadRequest, PaidError{Error: "Invalid request body"})
			return
		}
		addr, err := services.NormalizeMovementAddress(req.Address)
		if err != nil {
			paidFail(c, http.StatusBadRequest, PaidError{Error: "Invalid request body"})
			return
		}
		limit := defaultPortfolioSize
		if req.Limit != nil {
			if *req.Limit < 1 || *req.Limit > maxPortfolioSize {
				paidFail(c, http.StatusBadRequest, PaidError{Error: "Invalid request body"})
				return
			}
			limit = *req.Limit
		}
		req.Address = addr
		req.Limit = &limit
		c.Set(ctxKeyPortfolio, req)
		c.Next()
	}
}

//
// Handlers
//

// MeterReport godoc
// @ID          paidMeterReport
// @Summary     Movement ledger snapshot (paid)
// @Description Returns the fullnode ledger info and the payment terms. Requires an X-PAYMENT header; answers 402 with payment requirements otherwise. A failed fullnode read is reported in the body with status 200.
// @Tags        Paid
// @Produce     json
// @Param       X-PAYMENT  header  string  false  "Base64 x402 payment payload"
// @Success     200  {object}  handlers.MeterReport
// @Header      200  {string}  X-PAYMENT-RESPONSE  "Base64 settlement"
// @Failure     402  {object}  map[string]interface{}  "Payment required"
// @Failure     429  {object}  handlers.PaidError      "Rate limit exceeded"
// @Failure     500  {object}  handlers.PaidError      "x402 is not configured"
// @Router      /paid/meter-report [get]
func (h *PaidHandlers) MeterReport(c *gin.Context) {
	info, err := h.chain.LedgerInfo(c.Request.Context())
	if err != nil {
		h.logCall(c, false)
		body := PaidError{Error: "Failed to fetch Movement fullnode ledger info"}
		var ae *movement.APIError
		if errors.As(err, &ae) {
			body.Status = ae.Status
			body.Details = ae.Body
		} else {
			body.Details = err.Error()
		}
		paidFail(c, http.StatusOK, body)
		return
	}
	h.logCall(c, true)

	var resp MeterReport
	resp.OK = true
	resp.Movement.ChainID = info.ChainID
	resp.Movement.LedgerVersion = info.LedgerVersion
	resp.Movement.LedgerTimestamp = info.LedgerTimestamp
	resp.Movement.FullnodeURL = h.chain.FullnodeURL()
	resp.X402.Network = h.terms.Network
	resp.X402.PayTo = h.terms.PayTo
	resp.X402.PriceUSD = h.terms.PriceUSD

	c.Header("Cache-Control", "no-store")
	ok(c, http.StatusOK, resp)
}

// MoveBalance godoc
// @ID          paidMoveBalance
// @Summary     MOVE balance of an address (paid)
// @Description Reads the base coin balance of a Movement address. The address is validated before payment is requested.
// @Tags        Paid
// @Produce     json
// @Param       address    query   string  true   "Movement address (0x + hex)"  example(0x1)
// @Param       X-PAYMENT  header  string  false  "Base64 x402 payment payload"
// @Success     200  {object}  handlers.MoveBalance
// @Failure     400  {object}  handlers.PaidError      "Invalid address"
// @Failure     402  {object}  map[string]interface{}  "Payment required"
// @Failure     502  {object}  handlers.PaidError      "Fullnode read failed"
// @Router      /paid/movement/move-balance [get]
func (h *PaidHandlers) MoveBalance(c *gin.Context) {
	addr := c.GetString(ctxKeyMoveAddress)
	if addr == "" {
		var err error
		if addr, err = services.NormalizeMovementAddress(c.Query("address")); err != nil {
			paidFail(c, http.StatusBadRequest, PaidError{Error: "Invalid address (expected 0x + hex)"})
			return
		}
	}
	coinType := h.mv.BaseCoinType

	bal, err := h.coins.Balance(c.Request.Context(), addr, coinType)
	if err != nil {
		h.logCall(c, false)
		paidFail(c, http.StatusBadGateway, PaidError{
			Error:   "Failed to read MOVE balance from Movement fullnode",
			Details: err.Error(),
		})
		return
	}
	h.logCall(c, true)

	var resp MoveBalance
	resp.OK = true
	resp.Address = addr
	resp.ChainID = h.mv.ChainID
	resp.FullnodeURL = h.mv.FullnodeURL
	resp.ExplorerURL = h.mv.ExplorerURL
	resp.FaucetURL = h.mv.FaucetURL
	resp.Coin.Type = coinType
	resp.Coin.Symbol = bal.Symbol
	resp.Coin.Decimals = bal.Decimals
	resp.Balance.Raw = bal.Raw.String()
	resp.Balance.Formatted = bal.Formatted

	c.Header("Cache-Control", "no-store")
	ok(c, http.StatusOK, resp)
}

// Portfolio godoc
// @ID          paidPortfolio
// @Summary     Movement portfolio report (paid)
// @Description Queries balances and recent activity from the indexer and stores the result as a shareable report. Rate limited per client IP; the body is validated before payment is requested.
// @Tags        Paid
// @Accept      json
// @Produce     json
// @Param       X-PAYMENT  header  string                     false  "Base64 x402 payment payload"
// @Param       body       body    handlers.PortfolioRequest  true   "Address and activity limit"
// @Success     200  {object}  handlers.PortfolioResponse
// @Failure     400  {object}  handlers.PaidError      "Invalid request body"
// @Failure     402  {object}  map[string]interface{}  "Payment required"
// @Failure     429  {object}  handlers.PaidError      "Rate limit exceeded"
// @Failure     500  {object}  handlers.PaidError      "Failed to save report"
// @Failure     502  {object}  handlers.PaidError      "Indexer query failed"
// @Router      /paid/movement/portfolio [post]
func (h *PaidHandlers) Portfolio(c *gin.Context) {
	v, found := c.Get(ctxKeyPortfolio)
	req, _ := v.(PortfolioRequest)
	if !found || req.Limit == nil {
		paidFail(c, http.StatusBadRequest, PaidError{Error: "Invalid request body"})
		return
	}
	ctx := c.Request.Context()
	address, limit := req.Address, *req.Limit

	var (
		balances balancesData
		history  historyData
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return h.chain.Query(gctx, getBalancesQuery, map[string]any{"owner_address": address}, &balances)
	})
	g.Go(func() error {
		return h.chain.Query(gctx, getHistoryQuery, map[string]any{"account_address": address, "limit": limit}, &history)
	})
	if err := g.Wait(); err != nil {
		h.logCall(c, false)
		paidFail(c, http.StatusBadGateway, PaidError{Error: "Failed to query Movement indexer", Details: err.Error()})
		return
	}

	report := PortfolioReport{
		Address:          address,
		Balances:         make([]PortfolioBalance, 0, min(len(balances.Balances), maxPortfolioBalances)),
		RecentActivities: make([]PortfolioActivity, 0, limit),
	}
	for _, b := range balances.Balances {
		if len(report.Balances) == maxPortfolioBalances {
			break
		}
		pb := PortfolioBalance{Amount: b.Amount, AssetType: b.AssetType}
		if b.Metadata != nil {
			pb.Metadata = &PortfolioMetadata{
				Decimals:   b.Metadata.Decimals,
				IconURI:    b.Metadata.IconURI,
				Name:       b.Metadata.Name,
				ProjectURI: b.Metadata.ProjectURI,
				Symbol:     b.Metadata.Symbol,
			}
		}
		report.Balances = append(report.Balances, pb)
	}
collect:
	for _, tx := range history.Transactions {
		for _, a := range tx.Activities {
			if len(report.RecentActivities) == limit {
				break collect
			}
			report.RecentActivities = append(report.RecentActivities, PortfolioActivity{
				TransactionVersion:   string(tx.Version),
				Amount:               a.Amount,
				AssetType:            a.AssetType,
				Type:                 a.Type,
				TransactionTimestamp: a.Timestamp,
			})
		}
	}
	generatedAt := h.now().UTC()
	report.GeneratedAt = generatedAt.Format("2006-01-02T15:04:05.000Z07:00")

	stored, err := h.storeReport(ctx, generatedAt, report)
	if err != nil {
		h.logCall(c, false)
		paidFail(c, http.StatusInternalServerError, PaidError{Error: "Failed to save report", Details: err.Error()})
		return
	}
	h.logCall(c, true)

	var resp PortfolioResponse
	resp.OK = true
	resp.Share.Slug = stored.Slug
	resp.Report = report

	c.Header("Cache-Control", "no-store")
	ok(c, http.StatusOK, resp)
}

// storeReport saves report under a fresh random slug, drawing a new one when
// the slug is already taken.
func (h *PaidHandlers) storeReport(ctx context.Context, generatedAt time.Time, report PortfolioReport) (*domain.PortfolioReport, error) {
	in := services.NewReport{
		Address:     report.Address,
		ChainID:     int64(h.mv.ChainID),
		GeneratedAt: generatedAt,
		Data:        report,
	}
	var err error
	for attempt := 0; attempt < reportSlugAttempts; attempt++ {
		in.Slug = h.newSlug()
		var stored *domain.PortfolioReport
		stored, err = h.reports.Create(ctx, in)
		if err == nil {
			return stored, nil
		}
		if !errors.Is(err, services.ErrReportSlugTaken) {
			return nil, err
		}
	}
	return nil, err
}
