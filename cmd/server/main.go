// Command server runs the MoveMeter marketplace API.
//
// @title        MoveMeter API
// @version      1.0
// @description  Marketplace of metered APIs on Movement: listings, the try console, the usage ledger and x402-paid routes.
// @BasePath     /api/v1
//
// @securityDefinitions.apikey  BearerAuth
// @in                          header
// @name                        Authorization
package main

import (
	"context"
	"errors"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"
	"gorm.io/gorm"

	"github.com/movemeter/backend/internal/config"
	"github.com/movemeter/backend/internal/egress"
	httpapi "github.com/movemeter/backend/internal/http"
	"github.com/movemeter/backend/internal/identity"
	"github.com/movemeter/backend/internal/movement"
	"github.com/movemeter/backend/internal/observability"
	"github.com/movemeter/backend/internal/relay"
	"github.com/movemeter/backend/internal/repo"
	"github.com/movemeter/backend/internal/sysutil"
	"github.com/movemeter/backend/internal/x402"
)

// version is set at build time with -ldflags "-X main.version=...".
var version = "dev"

const (
	shutdownTimeout    = 10 * time.Second
	idempotencySweep   = 10 * time.Minute
	facilitatorTimeout = 15 * time.Second
)

func main() {
	if loaded, err := sysutil.LoadEnvFiles(".env.local", ".env"); err != nil {
		log.Fatal().Err(err).Msg("load env file")
	} else if len(loaded) > 0 {
		log.Debug().Strs("files", loaded).Msg("env files loaded")
	}

	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("invalid configuration")
	}

	sysutil.SetLogLevel(cfg.LogLevel)
	log.Logger = sysutil.NewLogger(os.Stdout, cfg.LogPretty, cfg.OTEL.ServiceName, version).
		With().Str("host", sysutil.Hostname()).Logger()
	gin.SetMode(cfg.GinMode)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	shutdownOTel, err := observability.SetupOTel(ctx, cfg.OTEL, version)
	if err != nil {
		log.Fatal().Err(err).Msg("otel setup")
	}

	db, err := repo.OpenSQLite(cfg.DBPath, repo.Options{Silent: cfg.GinMode == gin.ReleaseMode})
	if err != nil {
		log.Fatal().Err(err).Str("path", cfg.DBPath).Msg("open database")
	}
	if err := repo.AutoMigrate(db); err != nil {
		log.Fatal().Err(err).Msg("migrate database")
	}

	rdb := openRedis(ctx, cfg.Redis)

	policy := egress.NewPolicy(net.DefaultResolver)
	rel := relay.New(relay.Options{
		Timeout:          cfg.Relay.Timeout,
		MaxBodyChars:     cfg.Relay.MaxBodyChars,
		MaxResponseBytes: cfg.Relay.MaxResponseBytes,
		Policy:           policy,
	})

	verifier, err := identity.NewVerifier(identity.Options{
		AppID:        cfg.Identity.AppID,
		Issuer:       cfg.Identity.Issuer,
		PublicKeyPEM: cfg.Identity.VerificationKey,
		Leeway:       30 * time.Second,
	})
	if err != nil {
		log.Fatal().Err(err).Msg("identity verifier")
	}
	if !verifier.Configured() {
		log.Warn().Msg("identity verification not configured; authenticated routes answer 503")
	}

	chain := movement.NewClient(movement.Options{
		FullnodeURL: cfg.Movement.FullnodeURL,
		IndexerURL:  cfg.Movement.IndexerURL,
	})
	coins := movement.NewCoins(chain, rdb)

	terms, termsErr := x402.NewTerms(cfg.X402)
	if termsErr != nil {
		log.Warn().Err(termsErr).Msg("x402 disabled; paid routes answer 500")
	} else {
		log.Info().Str("terms", terms.String()).Msg("x402 enabled")
	}
	facilitator := x402.NewFacilitator(terms.FacilitatorURL, &http.Client{Timeout: facilitatorTimeout})

	r := gin.New()
	httpapi.RegisterRoutes(r, httpapi.Deps{
		DB:          db,
		Config:      cfg,
		Hosts:       policy,
		Relay:       rel,
		Verifier:    verifier,
		Terms:       terms,
		TermsErr:    termsErr,
		Facilitator: facilitator,
		Chain:       chain,
		Coins:       coins,
		Redis:       rdb,
	})

	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           r,
		ReadTimeout:       cfg.ReadTimeout,
		ReadHeaderTimeout: cfg.ReadHeaderTimeout,
		WriteTimeout:      cfg.WriteTimeout,
		IdleTimeout:       cfg.IdleTimeout,
		MaxHeaderBytes:    cfg.MaxHeaderBytes,
	}

	go sweepIdempotency(ctx, db)

	errCh := make(chan error, 1)
	go func() {
		log.Info().Str("addr", srv.Addr).Str("base", cfg.APIBasePath).Msg("listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case <-ctx.Done():
		log.Info().Msg("shutting down")
	case err := <-errCh:
		if err != nil {
			log.Error().Err(err).Msg("server failed")
		}
	}

	sctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(sctx); err != nil {
		log.Error().Err(err).Msg("http shutdown")
	}
	if err := shutdownOTel(sctx); err != nil {
		log.Warn().Err(err).Msg("otel shutdown")
	}
	if rdb != nil {
		_ = rdb.Close()
	}
	if sqlDB, err := db.DB(); err == nil {
		_ = sqlDB.Close()
	}
}

// openRedis returns nil when no address is configured. An unreachable server
// is only logged: every Redis user falls back to process memory.
func openRedis(ctx context.Context, c config.RedisConfig) *redis.Client {
	if c.Addr == "" {
		return nil
	}
	rdb := redis.NewClient(&redis.Options{
		Addr:     c.Addr,
		Password: c.Password,
		DB:       c.DB,
	})
	pctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	if err := rdb.Ping(pctx).Err(); err != nil {
		log.Warn().Err(err).Str("addr", c.Addr).Msg("redis unreachable; using in-memory fallbacks")
	}
	return rdb
}

// sweepIdempotency deletes expired idempotency records until ctx ends.
func sweepIdempotency(ctx context.Context, db *gorm.DB) {
	t := time.NewTicker(idempotencySweep)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case now := <-t.C:
			n, err := repo.PurgeExpiredIdempotency(ctx, db, now)
			if err != nil {
				log.Warn().Err(err).Msg("idempotency sweep")
				continue
			}
			if n > 0 {
				log.Debug().Int64("deleted", n).Msg("idempotency sweep")
			}
		}
	}
}
