// Package httpapi wires the HTTP transport (Gin) to application services,
// middleware, and route handlers. It centralizes cross-cutting concerns such
// as tracing, correlation IDs, logging/redaction, panic recovery, metrics,
// CORS, security headers, idempotency, rate limiting and the x402 paywall.
//
// Outbound collaborators (egress policy, relay, identity verifier, payment
// facilitator, Movement clients, Redis) are built by the caller and passed in
// Deps; services and repositories are assembled here.
package httpapi

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-contrib/gzip"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	swaggerFiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"
	"gorm.io/gorm"

	"github.com/movemeter/backend/docs"
	"github.com/movemeter/backend/internal/config"
	"github.com/movemeter/backend/internal/domain"
	"github.com/movemeter/backend/internal/http/handlers"
	"github.com/movemeter/backend/internal/http/middleware"
	"github.com/movemeter/backend/internal/repo"
	"github.com/movemeter/backend/internal/services"
	"github.com/movemeter/backend/internal/x402"
)

// Deps carries the collaborators RegisterRoutes cannot build from config alone.
type Deps struct {
	DB     *gorm.DB
	Config config.Config

	Hosts    services.HostChecker
	Relay    services.Relayer
	Verifier middleware.TokenVerifier

	// Terms and TermsErr come from x402.NewTerms; a non-nil TermsErr turns
	// the paid routes into 500 "x402 is not configured".
	Terms       x402.Terms
	TermsErr    error
	Facilitator x402.PaymentService

	Chain handlers.Chain
	Coins handlers.BalanceReader

	// Redis is optional.
	Redis *redis.Client
}

//
// Repository shims: free functions in package repo behind the interfaces the
// services declare.
//

type listingRepoShim struct{}

func (listingRepoShim) CreateListing(ctx context.Context, db *gorm.DB, l *domain.Listing) error {
	return repo.CreateListing(ctx, db, l)
}

func (listingRepoShim) GetListingBySlug(ctx context.Context, db *gorm.DB, slug string) (*domain.Listing, error) {
	return repo.GetListingBySlug(ctx, db, slug)
}

func (listingRepoShim) ListActiveListings(ctx context.Context, db *gorm.DB, limit int) ([]domain.Listing, error) {
	return repo.ListActiveListings(ctx, db, limit)
}

func (listingRepoShim) ListListingsByProvider(ctx context.Context, db *gorm.DB, providerID string, limit int) ([]domain.Listing, error) {
	return repo.ListListingsByProvider(ctx, db, providerID, limit)
}

type usageRepoShim struct{}

func (usageRepoShim) InsertUsageEvent(ctx context.Context, db *gorm.DB, ev *domain.UsageEvent) error {
	return repo.InsertUsageEvent(ctx, db, ev)
}

func (usageRepoShim) BumpUsageDaily(ctx context.Context, db *gorm.DB, route, day string, okInc, revenueMicros int64) error {
	return repo.BumpUsageDaily(ctx, db, route, day, okInc, revenueMicros)
}

func (usageRepoShim) ListUsageDailyByDay(ctx context.Context, db *gorm.DB, day string) ([]domain.UsageDaily, error) {
	return repo.ListUsageDailyByDay(ctx, db, day)
}

func (usageRepoShim) ListUsageDailyByRouteDay(ctx context.Context, db *gorm.DB, route, day string) ([]domain.UsageDaily, error) {
	return repo.ListUsageDailyByRouteDay(ctx, db, route, day)
}

func (usageRepoShim) ListUsageEventsByRoute(ctx context.Context, db *gorm.DB, route string, limit int) ([]domain.UsageEvent, error) {
	return repo.ListUsageEventsByRoute(ctx, db, route, limit)
}

type receiptRepoShim struct{}

func (receiptRepoShim) CreateReceipt(ctx context.Context, db *gorm.DB, r *domain.PaymentReceipt) error {
	return repo.CreateReceipt(ctx, db, r)
}

func (receiptRepoShim) ListReceiptsByPayer(ctx context.Context, db *gorm.DB, wallet string, limit int) ([]domain.PaymentReceipt, error) {
	return repo.ListReceiptsByPayer(ctx, db, wallet, limit)
}

type userRepoShim struct{}

func (userRepoShim) GetUserBySubject(ctx context.Context, db *gorm.DB, subject string) (*domain.User, error) {
	return repo.GetUserBySubject(ctx, db, subject)
}

func (userRepoShim) UpsertUser(ctx context.Context, db *gorm.DB, subject string, movementAddress *string) (*domain.User, error) {
	return repo.UpsertUser(ctx, db, subject, movementAddress)
}

type reportRepoShim struct{}

func (reportRepoShim) CreateReport(ctx context.Context, db *gorm.DB, r *domain.PortfolioReport) error {
	return repo.CreateReport(ctx, db, r)
}

func (reportRepoShim) GetReportBySlug(ctx context.Context, db *gorm.DB, slug string) (*domain.PortfolioReport, error) {
	return repo.GetReportBySlug(ctx, db, slug)
}

func (reportRepoShim) ListReportsByAddress(ctx context.Context, db *gorm.DB, address string, limit int) ([]domain.PortfolioReport, error) {
	return repo.ListReportsByAddress(ctx, db, address, limit)
}

// RegisterRoutes attaches all middleware and HTTP endpoints to the given Gin
// engine and mounts the versioned API under cfg.APIBasePath.
//
// Middleware order matters:
//  1. OpenTelemetry: trace everything
//  2. RequestID: generate/propagate correlation id
//  3. RedactingLogger: structured logs with PII scrubbing
//  4. Recovery: capture panics after logger
//  5. Body size limiter
//  6. Metrics
//  7. Rate limiter (per IP here, per identity again on authenticated routes)
//  8. CORS and Security headers
//  9. gzip (not for /metrics)
//
// Identity, idempotency and the paywall are attached per route.
func RegisterRoutes(r *gin.Engine, d Deps) {
	cfg, db := d.Config, d.DB
	r.HandleMethodNotAllowed = true

	// 1) Trace all HTTP requests
	r.Use(otelgin.Middleware(cfg.OTEL.ServiceName))

	// 2) Correlate requests and logs
	r.Use(middleware.RequestID())

	// 3) Structured logging with redaction
	r.Use(middleware.RedactingLogger(middleware.RedactOptions{
		MaskHeaders: []string{x402.HeaderPayment, x402.HeaderPaymentResponse},
	}))

	// 4) Panic recovery to JSON 500 (with request id)
	r.Use(middleware.Recovery())

	// 5) Global body size limit (1 MiB)
	r.Use(limitBody(1 << 20))

	// 6) Prometheus metrics and /metrics endpoint
	r.Use(middleware.Metrics())
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	// 7) Token-bucket rate limiter per user/IP
	rl := middleware.NewRateLimiter(cfg.RateRPS, cfg.RateBurst, middleware.KeyByUserOrIP())
	r.Use(rl.Handler())

	// 8) CORS posture (safe defaults: allow all if none configured)
	allowHeaders := []string{
		"Origin", "Content-Type", "Accept", "Authorization",
		middleware.HeaderIdempotencyKey, x402.HeaderPayment,
	}
	exposeHeaders := []string{"X-Request-ID", "Content-Length", "ETag", "Idempotency-Replayed", x402.HeaderPaymentResponse}
	if len(cfg.CORS.AllowedOrigins) == 0 {
		// Force ACAO: * even for requests without an Origin header (helps tests and simple health checks).
		r.Use(func(c *gin.Context) {
			c.Writer.Header().Set("Access-Control-Allow-Origin", "*")
			c.Next()
		})
		r.Use(cors.New(cors.Config{
			AllowAllOrigins:  true,
			AllowMethods:     []string{"GET", "POST", "OPTIONS"},
			AllowHeaders:     allowHeaders,
			ExposeHeaders:    exposeHeaders,
			AllowCredentials: false, // must remain false with AllowAllOrigins
			MaxAge:           12 * time.Hour,
		}))
	} else {
		// Echo ACAO with the request Origin when it is in the allowlist (in addition to gin-contrib/cors).
		allowed := make(map[string]struct{}, len(cfg.CORS.AllowedOrigins))
		for _, o := range cfg.CORS.AllowedOrigins {
			allowed[o] = struct{}{}
		}
		r.Use(func(c *gin.Context) {
			if origin := c.GetHeader("Origin"); origin != "" {
				if _, ok := allowed[origin]; ok {
					h := c.Writer.Header()
					h.Set("Access-Control-Allow-Origin", origin)
					h.Add("Vary", "Origin")
				}
			}
			c.Next()
		})
		r.Use(cors.New(cors.Config{
			AllowOrigins:     cfg.CORS.AllowedOrigins,
			AllowMethods:     []string{"GET", "POST", "OPTIONS"},
			AllowHeaders:     allowHeaders,
			ExposeHeaders:    exposeHeaders,
			AllowCredentials: false,
			MaxAge:           12 * time.Hour,
		}))
	}

	apiBase := cfg.APIBasePath // e.g. "/api/v1"

	// Security headers (HSTS only when enabled and request is HTTPS)
	r.Use(middleware.SecurityHeaders(middleware.SecurityOptions{
		EnableHSTS:        cfg.Security.EnableHSTS,
		HSTSMaxAge:        cfg.Security.HSTSMaxAge,
		EnablePolicy:      true,
		NoStorePrefixes:   []string{apiBase + "/me", apiBase + "/paid/"},
		CSPExemptPrefixes: []string{"/swagger/"},
	}))

	// 9) Compression
	r.Use(gzip.Gzip(gzip.DefaultCompression, gzip.WithExcludedPaths([]string{"/metrics"})))

	// Fallbacks
	r.NoRoute(func(c *gin.Context) {
		handlers.Fail(c, http.StatusNotFound, handlers.ErrCodeNotFound, "route not found")
	})
	r.NoMethod(func(c *gin.Context) {
		handlers.Fail(c, http.StatusMethodNotAllowed, handlers.ErrCodeMethodNotAllowed, "method not allowed")
	})

	// Liveness/health
	r.GET("/health", func(c *gin.Context) { c.JSON(http.StatusOK, gin.H{"status": "ok"}) })

	if cfg.SwaggerEnabled {
		docs.SwaggerInfo.BasePath = apiBase
		r.GET("/swagger/*any", ginSwagger.WrapHandler(swaggerFiles.Handler))
	}

	// Dependency injection: services ← repo/db
	listingSvc := services.NewListingService(db, listingRepoShim{}, d.Hosts, d.Relay)
	usageSvc := services.NewUsageService(db, usageRepoShim{})
	receiptSvc := services.NewReceiptService(db, receiptRepoShim{})
	userSvc := services.NewUserService(db, userRepoShim{})
	reportSvc := services.NewReportService(db, reportRepoShim{})

	h := handlers.New(handlers.Services{
		Listings:       listingSvc,
		Usage:          usageSvc,
		Receipts:       receiptSvc,
		Users:          userSvc,
		Reports:        reportSvc,
		IdempotencyTTL: cfg.IdempotencyTTL,
	})
	paid := handlers.NewPaid(handlers.PaidOptions{
		Usage:    usageSvc,
		Chain:    d.Chain,
		Coins:    d.Coins,
		Reports:  reportSvc,
		Terms:    d.Terms,
		Movement: cfg.Movement,
	})
	paywall := x402.NewPaywall(d.Terms, d.TermsErr, d.Facilitator, receiptSvc)
	paidLimit := middleware.NewPaidRateLimiter(middleware.PaidRateOptions{
		Limit:  cfg.PaidRate.Limit,
		Window: cfg.PaidRate.Window,
		Prefix: cfg.PaidRate.Prefix,
		Redis:  d.Redis,
	})

	auth := middleware.RequireIdentity(d.Verifier)
	perUser := rl.Handler()
	createIdem := middleware.IdempotencyValidator(
		middleware.IdempotencyOptions{
			MaxLen: 200,
			Scope:  func(*gin.Context) string { return "listings.create" },
		},
		func(ctx context.Context, userID, scope, key string, now time.Time) (bool, error) {
			rec, err := repo.GetIdempotency(ctx, db, userID, scope, key, now)
			if err != nil || rec == nil {
				return false, nil
			}
			return true, nil
		},
	)

	api := groupWithPrefix(r, apiBase)
	{
		// Listings
		api.GET("/listings", h.ListListings)
		api.GET("/listings/:slug", h.GetListing)
		api.POST("/listings", auth, createIdem, perUser, h.CreateListing)
		api.POST("/listings/:slug/try", auth, perUser, h.TryCall)
		api.GET("/me/listings", auth, perUser, h.MyListings)

		// Users
		api.POST("/me/sync", auth, perUser, h.SyncUser)
		api.GET("/me", auth, perUser, h.GetMe)

		// Usage ledger
		api.GET("/usage/daily", h.DailySummary)
		api.GET("/usage/events", h.UsageEvents)

		// Receipts
		api.GET("/receipts", h.ListReceipts)
		api.POST("/receipts", auth, perUser, h.RecordReceipt)

		// Reports
		api.GET("/reports", h.ListReports)
		api.GET("/reports/:slug", h.GetReport)

		// Movement (free)
		api.GET("/health/movement", paid.MovementHealth)
		api.GET("/movement/balance", paid.Balance)

		// Paid: limiter, config check, input validation, then the paywall.
		api.GET("/paid/meter-report",
			paidLimit.Handler("meter-report"),
			paywall.Require(x402.Route{Description: "Movement meter report"}),
			paid.MeterReport)
		api.GET("/paid/movement/move-balance",
			paidLimit.Handler("move-balance"),
			paywall.Configured(),
			paid.RequireAddress(),
			paywall.Require(x402.Route{Description: "Movement MOVE balance"}),
			paid.MoveBalance)
		api.POST("/paid/movement/portfolio",
			paidLimit.Handler("portfolio"),
			paywall.Configured(),
			paid.RequirePortfolioBody(),
			paywall.Require(x402.Route{Description: "Movement portfolio report"}),
			paid.Portfolio)
	}
}

// limitBody returns a Gin middleware that caps the request body size for all
// endpoints to maxBytes using http.MaxBytesReader. Requests exceeding the cap
// will cause downstream body reads to error.
func limitBody(maxBytes int64) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, maxBytes)
		c.Next()
	}
}

// groupWithPrefix mounts a group at prefix, treating "/" (or empty) as root.
func groupWithPrefix(r *gin.Engine, prefix string) *gin.RouterGroup {
	if prefix == "" || prefix == "/" {
		return r.Group("")
	}
	return r.Group(prefix)
}
