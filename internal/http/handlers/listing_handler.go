// Listing HTTP handlers.
//
// This file exposes REST endpoints for the marketplace catalog:
//   - POST   /listings              (create, authenticated, idempotent)
//   - GET    /listings              (public catalog, ETag support)
//   - GET    /listings/{slug}       (single listing)
//   - GET    /me/listings           (caller's listings, ETag support)
//   - POST   /listings/{slug}/try   (try console, authenticated)
//
// Handlers are transport-thin: they validate input, call application services,
// and translate results into HTTP responses (including conditional responses).
//
// Idempotency:
// If the client supplies an Idempotency-Key header and a previous successful
// create exists for (user, scope, key), the handler returns the recorded
// listing id and slug and sets `Idempotency-Replayed: true`.
package handlers

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"

	"github.com/movemeter/backend/internal/domain"
	"github.com/movemeter/backend/internal/http/middleware"
	"github.com/movemeter/backend/internal/relay"
	"github.com/movemeter/backend/internal/repo"
	"github.com/movemeter/backend/internal/services"
	"github.com/movemeter/backend/internal/utils"
)

//
// Service contracts (context-aware)
//

// ListingService defines catalog and try-console operations consumed by HTTP handlers.
//
// Implementations should be safe for concurrent use and must honor the
// provided context for cancellation and timeouts.
type ListingService interface {
	// Create validates input and stores a new active listing owned by providerID.
	Create(ctx context.Context, providerID string, in services.CreateListingInput) (*services.CreatedListing, error)
	// TryCall performs one bounded outbound call against a listing.
	TryCall(ctx context.Context, slug string, in services.TryInput) (*relay.Result, error)
	GetBySlug(ctx context.Context, slug string) (*domain.Listing, error)
	// PublicList returns active listings, optionally ranked by query.
	PublicList(ctx context.Context, limit int, query string) ([]domain.Listing, error)
	ListByProvider(ctx context.Context, providerID string, limit int) ([]domain.Listing, error)
}

// UsageService defines read access to the usage ledger.
type UsageService interface {
	DailySummary(ctx context.Context, days int, route string) ([]services.DaySummary, error)
	RecentEvents(ctx context.Context, route string, limit int) ([]domain.UsageEvent, error)
}

// ReceiptService records and lists x402 payment receipts.
type ReceiptService interface {
	Record(ctx context.Context, r *domain.PaymentReceipt) error
	ListForWallet(ctx context.Context, wallet string, limit int) ([]domain.PaymentReceipt, error)
}

// UserService syncs identity subjects into local user rows.
type UserService interface {
	Sync(ctx context.Context, subject, movementAddress string) (*domain.User, error)
	Get(ctx context.Context, subject string) (*domain.User, error)
}

// ReportService reads shareable portfolio reports.
type ReportService interface {
	Get(ctx context.Context, slug string) (*domain.PortfolioReport, error)
	ListForAddress(ctx context.Context, address string, limit int) ([]domain.PortfolioReport, error)
}

//
// Handler wiring
//

// Services bundles the dependencies of Handlers.
type Services struct {
	Listings ListingService
	Usage    UsageService
	Receipts ReceiptService
	Users    UserService
	Reports  ReportService

	// IdempotencyTTL bounds how long a create can be replayed; <= 0 means 24h.
	IdempotencyTTL time.Duration
}

// Handlers groups the marketplace HTTP endpoints. It depends on abstract
// service interfaces to keep transport concerns separate from business logic.
type Handlers struct {
	listings ListingService
	usage    UsageService
	receipts ReceiptService
	users    UserService
	reports  ReportService
	idemTTL  time.Duration
}

// New constructs and returns a Handlers instance bound to the given services.
func New(s Services) *Handlers {
	ttl := s.IdempotencyTTL
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	return &Handlers{
		listings: s.Listings,
		usage:    s.Usage,
		receipts: s.Receipts,
		users:    s.Users,
		reports:  s.Reports,
		idemTTL:  ttl,
	}
}

// listingDB exposes the store behind the concrete ListingService for ETag
// pre-checks and idempotency records; nil for other implementations.
func (h *Handlers) listingDB() *gorm.DB {
	if svc, ok := h.listings.(*services.ListingService); ok {
		return svc.DB
	}
	return nil
}

//
// DTOs
//

// CreateListingRequest is the JSON payload for creating a listing.
type CreateListingRequest struct {
	Title     string  `json:"title"     example:"Weather API"`
	Summary   string  `json:"summary"   example:"Hourly forecasts for any coordinate, billed per call."`
	Category  string  `json:"category"  example:"devex" enums:"defi,consumer,gaming,devex,x402"`
	BaseURL   string  `json:"baseUrl"   example:"https://api.example.com/v1"`
	PriceMove float64 `json:"priceMove" example:"0.25"`
}

// TryCallRequest is the JSON payload for the try console.
type TryCallRequest struct {
	// Path is resolved against the listing's base URL and must stay on its origin.
	Path   string `json:"path"   example:"/forecast?lat=1&lon=2"`
	Method string `json:"method" example:"GET" enums:"GET,POST"`
	// Body is sent for POST only after JSON validation; empty means {}.
	Body string `json:"body,omitempty" example:"{\"q\":1}"`
}

// ListListingsResponse wraps a page of listings.
type ListListingsResponse struct {
	Listings []domain.Listing `json:"listings"`
}

//
// Helpers
//

// checkETag sets a weak ETag built from (count, latest update) and reports
// whether the client already holds it.
func checkETag(c *gin.Context, prefix string, count int64, maxTS *time.Time) bool {
	var ts int64
	if maxTS != nil {
		ts = maxTS.Unix()
	}
	etag := fmt.Sprintf(`W/"%s:%d:%d"`, prefix, count, ts)
	c.Header("ETag", etag)
	if inm := c.GetHeader("If-None-Match"); inm != "" && inm == etag {
		c.Status(http.StatusNotModified)
		return true
	}
	return false
}

//
// Handlers
//

// CreateListing godoc
// @ID          createListing
// @Summary     Create a listing
// @Description Validates and stores an active listing owned by the caller. Supports idempotency via the Idempotency-Key header.
// @Tags        Listings
// @Accept      json
// @Produce     json
// @Security    BearerAuth
//
// @Param       Idempotency-Key  header  string  false "Idempotency key for safe retries (UUID recommended)"  example(7a8d9f4c-1b2a-4c3d-8e9f-0123456789ab)
// @Param       body             body    handlers.CreateListingRequest  true  "Listing payload"
//
// @Success     201  {object}  services.CreatedListing
// @Header      201  {string}  Idempotency-Replayed  "true when served from a previous identical request"
// @Failure     400  {object}  handlers.ErrorResponse  "Validation failed"
// @Failure     401  {object}  handlers.ErrorResponse  "Missing or invalid token"
// @Failure     403  {object}  handlers.ErrorResponse  "Base URL points at a non-public host"
// @Failure     409  {object}  handlers.ErrorResponse  "No unique slug available"
// @Failure     500  {object}  handlers.ErrorResponse  "Internal error"
// @Router      /listings [post]
func (h *Handlers) CreateListing(c *gin.Context) {
	var req CreateListingRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "invalid JSON body")
		return
	}
	ctx := c.Request.Context()
	uid := middleware.UserID(c)
	db := h.listingDB()

	// Idempotency (replay path).
	idemKey, _ := middleware.GetIdempotencyKey(c)
	scope := middleware.IdempotencyScope(c)
	if idemKey != "" && db != nil {
		if rec, err := repo.GetIdempotency(ctx, db, uid, scope, idemKey, time.Now().UTC()); err == nil {
			if prev, err := repo.GetListing(ctx, db, rec.ResourceID); err == nil {
				c.Header("Idempotency-Replayed", "true")
				ok(c, rec.Status, services.CreatedListing{ID: prev.ID, Slug: prev.Slug})
				return
			}
		}
	}

	created, err := h.listings.Create(ctx, uid, services.CreateListingInput{
		Title:     req.Title,
		Summary:   req.Summary,
		Category:  domain.Category(strings.TrimSpace(req.Category)),
		BaseURL:   req.BaseURL,
		PriceMove: req.PriceMove,
	})
	if err != nil {
		failErr(c, err, http.StatusInternalServerError, ErrCodeCreateFailed)
		return
	}

	// Idempotency (store path), best effort.
	if idemKey != "" && db != nil {
		if _, err := repo.CreateIdempotency(ctx, db, uid, scope, idemKey, created.ID, http.StatusCreated, h.idemTTL); err != nil {
			middleware.LoggerFrom(c).Warn().Err(err).Msg("store idempotency record")
		}
	}
	ok(c, http.StatusCreated, created)
}

// ListListings godoc
// @ID          listListings
// @Summary     List active listings
// @Description Returns active listings newest first. With q the page is ranked by relevance. Supports weak ETag via If-None-Match and may return 304.
// @Tags        Listings
// @Produce     json
//
// @Param       If-None-Match  header  string  false "Return 304 if ETag matches"  example(W/\"listings:12:1760400000\")
// @Param       limit          query   int     false "Max items"                   minimum(1) maximum(100) default(50)
// @Param       q              query   string  false "Free-text relevance query"   example(weather)
//
// @Success     200  {object} handlers.ListListingsResponse
// @Header      200  {string} ETag  "Weak ETag for current result"
// @Success     304  {string} string "Not Modified"
// @Failure     500  {object} handlers.ErrorResponse "Internal error"
// @Router      /listings [get]
func (h *Handlers) ListListings(c *gin.Context) {
	ctx := c.Request.Context()
	query := strings.TrimSpace(c.Query("q"))
	limit := utils.AtoiDefault(c.Query("limit"), 50)

	// ETag pre-check (best effort). Ranked results depend on q, so only the
	// plain catalog is conditional.
	if db := h.listingDB(); db != nil && query == "" {
		if count, maxTS, err := repo.ListingsStats(ctx, db); err == nil {
			if checkETag(c, fmt.Sprintf("listings:%d", utils.Limit(limit, 50, 100)), count, maxTS) {
				return
			}
		}
	}

	items, err := h.listings.PublicList(ctx, limit, query)
	if err != nil {
		failErr(c, err, http.StatusInternalServerError, ErrCodeListFailed)
		return
	}
	if items == nil {
		items = []domain.Listing{}
	}
	ok(c, http.StatusOK, ListListingsResponse{Listings: items})
}

// GetListing godoc
// @ID          getListing
// @Summary     Get a listing
// @Tags        Listings
// @Produce     json
// @Param       slug  path  string  true  "Listing slug"  example(weather-api)
// @Success     200  {object}  domain.Listing
// @Failure     404  {object}  handlers.ErrorResponse  "Listing not found"
// @Failure     500  {object}  handlers.ErrorResponse  "Internal error"
// @Router      /listings/{slug} [get]
func (h *Handlers) GetListing(c *gin.Context) {
	l, err := h.listings.GetBySlug(c.Request.Context(), c.Param("slug"))
	if err != nil {
		failErr(c, err, http.StatusInternalServerError, ErrCodeInternal)
		return
	}
	ok(c, http.StatusOK, l)
}

// MyListings godoc
// @ID          myListings
// @Summary     List the caller's listings
// @Description Returns every listing owned by the caller, active or not. Supports weak ETag via If-None-Match.
// @Tags        Listings
// @Produce     json
// @Security    BearerAuth
// @Param       If-None-Match  header  string  false "Return 304 if ETag matches"
// @Param       limit          query   int     false "Max items"  minimum(1) maximum(100) default(50)
// @Success     200  {object} handlers.ListListingsResponse
// @Success     304  {string} string "Not Modified"
// @Failure     401  {object} handlers.ErrorResponse "Missing or invalid token"
// @Failure     500  {object} handlers.ErrorResponse "Internal error"
// @Router      /me/listings [get]
func (h *Handlers) MyListings(c *gin.Context) {
	ctx := c.Request.Context()
	uid := middleware.UserID(c)
	limit := utils.AtoiDefault(c.Query("limit"), 50)

	if db := h.listingDB(); db != nil {
		if count, maxTS, err := repo.ProviderListingsStats(ctx, db, uid); err == nil {
			if checkETag(c, fmt.Sprintf("my-listings:%s:%d", uid, utils.Limit(limit, 50, 100)), count, maxTS) {
				return
			}
		}
	}

	items, err := h.listings.ListByProvider(ctx, uid, limit)
	if err != nil {
		failErr(c, err, http.StatusInternalServerError, ErrCodeListFailed)
		return
	}
	if items == nil {
		items = []domain.Listing{}
	}
	ok(c, http.StatusOK, ListListingsResponse{Listings: items})
}

// TryCall godoc
// @ID          tryListing
// @Summary     Call a listing from the try console
// @Description Performs one bounded GET or POST against the listing's origin and returns a summary of the upstream response. Private, loopback and link-local targets are refused.
// @Tags        Listings
// @Accept      json
// @Produce     json
// @Security    BearerAuth
// @Param       slug  path  string                   true  "Listing slug"  example(weather-api)
// @Param       body  body  handlers.TryCallRequest  true  "Call parameters"
// @Success     200  {object}  relay.Result
// @Failure     400  {object}  handlers.ErrorResponse  "Invalid path, method or body"
// @Failure     401  {object}  handlers.ErrorResponse  "Missing or invalid token"
// @Failure     403  {object}  handlers.ErrorResponse  "Target is not public"
// @Failure     404  {object}  handlers.ErrorResponse  "Listing not found"
// @Failure     409  {object}  handlers.ErrorResponse  "Listing is inactive"
// @Failure     413  {object}  handlers.ErrorResponse  "Body too large"
// @Failure     502  {object}  handlers.ErrorResponse  "Upstream failure"
// @Failure     504  {object}  handlers.ErrorResponse  "Upstream timed out"
// @Router      /listings/{slug}/try [post]
func (h *Handlers) TryCall(c *gin.Context) {
	var req TryCallRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "invalid JSON body")
		return
	}
	res, err := h.listings.TryCall(c.Request.Context(), c.Param("slug"), services.TryInput{
		Path:   req.Path,
		Method: req.Method,
		Body:   req.Body,
	})
	if err != nil {
		failErr(c, err, http.StatusBadGateway, ErrCodeUpstreamFailed)
		return
	}
	c.Header("Cache-Control", "no-store")
	ok(c, http.StatusOK, res)
}
