// Package config provides application configuration loaded from environment
// variables with defaults and validation. It centralizes server timeouts,
// logging, storage, rate limiting, the try-console relay limits, identity
// verification, x402 payment terms, Movement network endpoints and
// observability.
package config

import (
	"errors"
	"os"
	"strconv"
	"strings"
	"time"
)

// CORSConfig defines Cross-Origin Resource Sharing settings.
type CORSConfig struct {
	AllowedOrigins []string
}

// SecurityConfig defines security-related settings such as HSTS.
type SecurityConfig struct {
	EnableHSTS bool
	HSTSMaxAge time.Duration
}

// OTELConfig defines OpenTelemetry observability settings.
type OTELConfig struct {
	Enabled     bool    // OTEL_ENABLED
	Endpoint    string  // OTEL_EXPORTER_OTLP_ENDPOINT (e.g. "otel:4317")
	Insecure    bool    // OTEL_EXPORTER_OTLP_INSECURE (true if no TLS)
	ServiceName string  // OTEL_SERVICE_NAME
	SampleRatio float64 // OTEL_TRACES_SAMPLER_ARG in [0..1]
}

// RelayConfig bounds the try-console outbound call.
type RelayConfig struct {
	Timeout          time.Duration // RELAY_TIMEOUT
	MaxBodyChars     int           // RELAY_MAX_BODY_CHARS
	MaxResponseBytes int64         // RELAY_MAX_RESPONSE_BYTES
}

// IdentityConfig configures bearer-token verification.
type IdentityConfig struct {
	AppID           string // PRIVY_APP_ID (expected audience)
	VerificationKey string // PRIVY_VERIFICATION_KEY (PEM, "\n" escapes allowed)
	Issuer          string // PRIVY_ISSUER
}

// X402Config holds the raw payment terms. Validation happens in package
// x402 so a bad value disables the paid routes instead of the whole server.
type X402Config struct {
	Mode           string // X402_MODE testnet|mainnet
	FacilitatorURL string // X402_FACILITATOR_URL
	Network        string // X402_NETWORK
	PayTo          string // X402_PAY_TO_ADDRESS
	PriceUSD       string // X402_PRICE_USD
	Asset          string // X402_ASSET (USDC contract for the network)
}

// MovementConfig locates the Movement network services.
type MovementConfig struct {
	Network      string // MOVEMENT_NETWORK testnet|mainnet
	ChainID      int    // MOVEMENT_CHAIN_ID
	FullnodeURL  string // MOVEMENT_FULLNODE_URL
	IndexerURL   string // MOVEMENT_INDEXER_URL
	FaucetURL    string // MOVEMENT_FAUCET_URL
	ExplorerURL  string // MOVEMENT_EXPLORER_URL
	BaseCoinType string // MOVEMENT_BASE_COIN_TYPE
}

// RedisConfig is optional; an empty Addr keeps everything in memory.
type RedisConfig struct {
	Addr     string // REDIS_ADDR
	Password string // REDIS_PASSWORD
	DB       int    // REDIS_DB
}

// PaidRateConfig is the fixed-window limit applied to paid routes per client IP.
type PaidRateConfig struct {
	Limit  int           // PAID_RATE_LIMIT
	Window time.Duration // PAID_RATE_WINDOW
	Prefix string        // PAID_RATE_PREFIX
}

// Config holds all configuration values for the application.
type Config struct {
	// Server
	Port              string        // just the number
	ReadTimeout       time.Duration // e.g. 15s
	ReadHeaderTimeout time.Duration // e.g. 10s
	WriteTimeout      time.Duration // e.g. 20s
	IdleTimeout       time.Duration // e.g. 60s
	MaxHeaderBytes    int           // bytes
	GinMode           string        // debug|release|test

	// Logging / Docs
	LogLevel       string // debug|info|warn|error|fatal|panic
	LogPretty      bool   // pretty console logs in dev
	SwaggerEnabled bool   // enable Swagger UI route
	APIBasePath    string // base path for API routes

	// Storage
	DBPath string // SQLite path

	// Rate limiting (per identity or IP, token bucket)
	RateRPS   float64 // tokens per second (>= 0)
	RateBurst int     // bucket size (>= 1)

	// Web protection
	CORS     CORSConfig
	Security SecurityConfig

	// Idempotency
	IdempotencyTTL time.Duration // how long a given Idempotency-Key is valid

	// Domain
	Relay    RelayConfig
	Identity IdentityConfig
	X402     X402Config
	Movement MovementConfig
	Redis    RedisConfig
	PaidRate PaidRateConfig

	// Observability
	OTEL OTELConfig
}

type movementDefaults struct {
	chainID  int
	fullnode string
	indexer  string
	faucet   string
	explorer string
}

var movementByNetwork = map[string]movementDefaults{
	"testnet": {
		chainID:  250,
		fullnode: "https://testnet.movementnetwork.xyz/v1",
		indexer:  "https://hasura.testnet.movementnetwork.xyz/v1/graphql",
		faucet:   "https://faucet.movementnetwork.xyz/",
		explorer: "https://explorer.movementnetwork.xyz/?network=bardock+testnet",
	},
	"mainnet": {
		chainID:  126,
		fullnode: "https://full.mainnet.movementinfra.xyz/v1",
		indexer:  "https://indexer.mainnet.movementnetwork.xyz/v1/graphql",
		faucet:   "https://faucet.movementnetwork.xyz/",
		explorer: "https://explorer.movementnetwork.xyz/?network=mainnet",
	},
}

// MustLoad loads the configuration and panics if validation fails.
func MustLoad() Config {
	cfg, err := Load()
	if err != nil {
		panic(err)
	}
	return cfg
}

// Load reads configuration from environment variables,
// applies defaults, normalizes values, and validates the result.
func Load() (Config, error) {
	// Unknown networks fall back to testnet, like unknown GIN_MODE falls back to release.
	network := strings.ToLower(strings.TrimSpace(getenv("MOVEMENT_NETWORK", "testnet")))
	md, ok := movementByNetwork[network]
	if !ok {
		network, md = "testnet", movementByNetwork["testnet"]
	}

	cfg := Config{
		// Server
		Port:              getenv("PORT", "8080"),
		ReadTimeout:       getdur("READ_TIMEOUT", 15*time.Second),
		ReadHeaderTimeout: getdur("READ_HEADER_TIMEOUT", 10*time.Second),
		WriteTimeout:      getdur("WRITE_TIMEOUT", 20*time.Second),
		IdleTimeout:       getdur("IDLE_TIMEOUT", 60*time.Second),
		MaxHeaderBytes:    getint("MAX_HEADER_BYTES", 1<<20),
		GinMode:           strings.ToLower(getenv("GIN_MODE", "release")),

		// Logging / Docs
		LogLevel:       strings.ToLower(getenv("LOG_LEVEL", "info")),
		LogPretty:      getbool("LOG_PRETTY", false),
		SwaggerEnabled: getbool("SWAGGER_ENABLED", false),
		APIBasePath:    normalizeBasePath(getenv("API_BASE_PATH", "/api/v1")),

		// Storage
		DBPath: getenv("DB_PATH", "movemeter.db"),

		// Rate limiting
		RateRPS:   getfloat("RATE_RPS", 5.0),
		RateBurst: getint("RATE_BURST", 10),

		// Web protection
		CORS: CORSConfig{
			AllowedOrigins: splitCSV(getenv("CORS_ALLOWED_ORIGINS", "")),
		},
		Security: SecurityConfig{
			EnableHSTS: getbool("ENABLE_HSTS", false),
			HSTSMaxAge: getdur("HSTS_MAX_AGE", 180*24*time.Hour),
		},

		// Idempotency
		IdempotencyTTL: getdur("IDEMPOTENCY_TTL", 24*time.Hour),

		Relay: RelayConfig{
			Timeout:          getdur("RELAY_TIMEOUT", 10*time.Second),
			MaxBodyChars:     getint("RELAY_MAX_BODY_CHARS", 50_000),
			MaxResponseBytes: int64(getint("RELAY_MAX_RESPONSE_BYTES", 250_000)),
		},

		Identity: IdentityConfig{
			AppID:           strings.TrimSpace(getenv("PRIVY_APP_ID", "")),
			VerificationKey: strings.ReplaceAll(getenv("PRIVY_VERIFICATION_KEY", ""), `\n`, "\n"),
			Issuer:          getenv("PRIVY_ISSUER", "privy.io"),
		},

		X402: X402Config{
			Mode:           strings.ToLower(strings.TrimSpace(getenv("X402_MODE", ""))),
			FacilitatorURL: strings.TrimSpace(getenv("X402_FACILITATOR_URL", "")),
			Network:        strings.TrimSpace(getenv("X402_NETWORK", "")),
			PayTo:          strings.TrimSpace(getenv("X402_PAY_TO_ADDRESS", "")),
			PriceUSD:       strings.TrimSpace(getenv("X402_PRICE_USD", "")),
			Asset:          strings.TrimSpace(getenv("X402_ASSET", "")),
		},

		Movement: MovementConfig{
			Network:      network,
			ChainID:      getint("MOVEMENT_CHAIN_ID", md.chainID),
			FullnodeURL:  strings.TrimRight(getenv("MOVEMENT_FULLNODE_URL", md.fullnode), "/"),
			IndexerURL:   getenv("MOVEMENT_INDEXER_URL", md.indexer),
			FaucetURL:    getenv("MOVEMENT_FAUCET_URL", md.faucet),
			ExplorerURL:  getenv("MOVEMENT_EXPLORER_URL", md.explorer),
			BaseCoinType: getenv("MOVEMENT_BASE_COIN_TYPE", "0x1::aptos_coin::AptosCoin"),
		},

		Redis: RedisConfig{
			Addr:     strings.TrimSpace(getenv("REDIS_ADDR", "")),
			Password: getenv("REDIS_PASSWORD", ""),
			DB:       getint("REDIS_DB", 0),
		},

		PaidRate: PaidRateConfig{
			Limit:  getint("PAID_RATE_LIMIT", 30),
			Window: getdur("PAID_RATE_WINDOW", 60*time.Second),
			Prefix: getenv("PAID_RATE_PREFIX", "move-meter"),
		},

		// Observability (OpenTelemetry)
		OTEL: OTELConfig{
			Enabled:     getbool("OTEL_ENABLED", false),
			Endpoint:    getenv("OTEL_EXPORTER_OTLP_ENDPOINT", "localhost:4317"),
			Insecure:    getbool("OTEL_EXPORTER_OTLP_INSECURE", true),
			ServiceName: getenv("OTEL_SERVICE_NAME", "movemeter-backend"),
			SampleRatio: getfloat("OTEL_TRACES_SAMPLER_ARG", 1.0),
		},
	}

	// --- normalization ---
	if cfg.LogLevel == "warning" {
		cfg.LogLevel = "warn"
	}
	switch cfg.GinMode {
	case "debug", "release", "test":
	default:
		cfg.GinMode = "release"
	}

	// --- validation ---
	switch cfg.LogLevel {
	case "debug", "info", "warn", "error", "fatal", "panic":
	default:
		return cfg, errors.New("LOG_LEVEL must be one of: debug, info, warn, error, fatal, panic")
	}
	if strings.TrimSpace(cfg.Port) == "" {
		return cfg, errors.New("PORT must not be empty")
	}
	if cfg.ReadTimeout <= 0 || cfg.ReadHeaderTimeout <= 0 || cfg.WriteTimeout <= 0 || cfg.IdleTimeout <= 0 {
		return cfg, errors.New("timeouts must be positive durations")
	}
	if cfg.MaxHeaderBytes <= 0 {
		return cfg, errors.New("MAX_HEADER_BYTES must be > 0")
	}
	if strings.TrimSpace(cfg.DBPath) == "" {
		return cfg, errors.New("DB_PATH must not be empty")
	}
	if cfg.RateRPS < 0 {
		return cfg, errors.New("RATE_RPS must be >= 0")
	}
	if cfg.RateBurst < 1 {
		return cfg, errors.New("RATE_BURST must be >= 1")
	}
	if cfg.Security.HSTSMaxAge < 0 {
		return cfg, errors.New("HSTS_MAX_AGE must be >= 0")
	}
	if cfg.IdempotencyTTL <= 0 {
		return cfg, errors.New("IDEMPOTENCY_TTL must be > 0")
	}
	if cfg.Relay.Timeout <= 0 {
		return cfg, errors.New("RELAY_TIMEOUT must be > 0")
	}
	if cfg.Relay.MaxBodyChars <= 0 || cfg.Relay.MaxResponseBytes <= 0 {
		return cfg, errors.New("RELAY_MAX_BODY_CHARS and RELAY_MAX_RESPONSE_BYTES must be > 0")
	}
	if cfg.Movement.ChainID <= 0 {
		return cfg, errors.New("MOVEMENT_CHAIN_ID must be a positive integer")
	}
	if strings.TrimSpace(cfg.Movement.BaseCoinType) == "" {
		return cfg, errors.New("MOVEMENT_BASE_COIN_TYPE must not be empty")
	}
	for name, u := range map[string]string{
		"MOVEMENT_FULLNODE_URL": cfg.Movement.FullnodeURL,
		"MOVEMENT_INDEXER_URL":  cfg.Movement.IndexerURL,
		"MOVEMENT_FAUCET_URL":   cfg.Movement.FaucetURL,
		"MOVEMENT_EXPLORER_URL": cfg.Movement.ExplorerURL,
	} {
		if !isHTTPURL(u) {
			return cfg, errors.New(name + " must be an http(s) URL")
		}
	}
	if cfg.Redis.DB < 0 {
		return cfg, errors.New("REDIS_DB must be >= 0")
	}
	if cfg.PaidRate.Limit < 1 || cfg.PaidRate.Window <= 0 {
		return cfg, errors.New("PAID_RATE_LIMIT must be >= 1 and PAID_RATE_WINDOW > 0")
	}
	if cfg.OTEL.SampleRatio < 0 || cfg.OTEL.SampleRatio > 1 {
		return cfg, errors.New("OTEL_TRACES_SAMPLER_ARG must be in [0,1]")
	}

	return cfg, nil
}

// ---- helpers (no external deps) ----

func getenv(k, def string) string {
	if v, ok := os.LookupEnv(k); ok && v != "" {
		return v
	}
	return def
}

func getfloat(k string, def float64) float64 {
	if v, ok := os.LookupEnv(k); ok && v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return def
}

func getint(k string, def int) int {
	if v, ok := os.LookupEnv(k); ok && v != "" {
		if i, err := strconv.Atoi(strings.TrimSpace(v)); err == nil {
			return i
		}
	}
	return def
}

func getbool(k string, def bool) bool {
	if v, ok := os.LookupEnv(k); ok && v != "" {
		switch strings.ToLower(strings.TrimSpace(v)) {
		case "1", "true", "yes", "y", "on":
			return true
		case "0", "false", "no", "n", "off":
			return false
		}
	}
	return def
}

func getdur(k string, def time.Duration) time.Duration {
	if v, ok := os.LookupEnv(k); ok && v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return def
}

func splitCSV(s string) []string {
	if s == "" {
		return nil
	}
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		t := strings.TrimSpace(p)
		if t != "" {
			out = append(out, t)
		}
	}
	return out
}

func isHTTPURL(s string) bool {
	s = strings.ToLower(strings.TrimSpace(s))
	for _, p := range []string{"https://", "http://"} {
		if strings.HasPrefix(s, p) && len(s) > len(p) {
			return true
		}
	}
	return false
}

// normalizeBasePath ensures leading '/' and strips trailing '/' (except root).
func normalizeBasePath(p string) string {
	p = strings.TrimSpace(p)
	if p == "" {
		return "/"
	}
	if !strings.HasPrefix(p, "/") {
		p = "/" + p
	}
	if len(p) > 1 && strings.HasSuffix(p, "/") {
		p = strings.TrimRight(p, "/")
	}
	return p
}
