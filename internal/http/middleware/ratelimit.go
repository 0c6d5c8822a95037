// Package middleware contains shared Gin middleware used by the HTTP layer.
//
// This file implements the in-memory token-bucket limiter. The router mounts
// one instance twice: globally, where requests are still anonymous and key by
// client IP, and again after RequireIdentity on authenticated routes, where
// the same limiter keys by identity subject. Paid routes additionally sit
// behind the fixed-window PaidRateLimiter (paid_ratelimit.go).
//
// Idempotent replays flagged by IdempotencyValidator skip the limiter.
package middleware

import (
	"math"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"golang.org/x/time/rate"
)

const (
	visitorTTL   = 10 * time.Minute
	sweepEveryN  = 5000
	keyKindUser  = "user"
	keyKindIP    = "ip"
	keyKindOther = "other"
)

var rateLimited = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Name: "http_rate_limited_total",
		Help: "Requests rejected by the token-bucket limiter, by key kind (user, ip).",
	},
	[]string{"kind"},
)

func init() { prometheus.MustRegister(rateLimited) }

// keyFunc selects the bucket for a request, as "<kind>:<id>".
type keyFunc func(*gin.Context) string

// KeyByUserOrIP prefers the identity subject set by RequireIdentity and falls
// back to the client IP ("user:did:privy:abc" vs "ip:203.0.113.7").
func KeyByUserOrIP() keyFunc {
	return func(c *gin.Context) string {
		if uid := UserID(c); uid != "" {
			return keyKindUser + ":" + uid
		}
		return keyKindIP + ":" + c.ClientIP()
	}
}

type visitor struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// RateLimiter is a per-key token-bucket limiter. Buckets are created on
// demand and idle ones are evicted opportunistically. Safe for concurrent use.
type RateLimiter struct {
	rps        rate.Limit
	burst      int
	keyFn      keyFunc
	retryAfter string

	mu       sync.Mutex
	visitors map[string]*visitor
	ttl      time.Duration
	lookups  uint64
}

// NewRateLimiter constructs a RateLimiter with the given tokens-per-second
// and burst size (coerced to at least 1), keyed by keyFn.
func NewRateLimiter(rps float64, burst int, keyFn keyFunc) *RateLimiter {
	if burst <= 0 {
		burst = 1
	}
	return &RateLimiter{
		rps:        rate.Limit(rps),
		burst:      burst,
		keyFn:      keyFn,
		retryAfter: retryAfterSeconds(rps),
		visitors:   make(map[string]*visitor),
		ttl:        visitorTTL,
	}
}

// retryAfterSeconds is the time one token takes to refill, rounded up.
func retryAfterSeconds(rps float64) string {
	if rps <= 0 {
		return "60"
	}
	return strconv.Itoa(int(math.Max(1, math.Ceil(1/rps))))
}

// getVisitor returns the limiter for key, creating it if absent.
func (rl *RateLimiter) getVisitor(key string) *rate.Limiter {
	now := time.Now()

	rl.mu.Lock()
	defer rl.mu.Unlock()

	rl.lookups++
	if rl.lookups >= sweepEveryN {
		rl.sweepLocked(now)
	}
	if v, ok := rl.visitors[key]; ok {
		v.lastSeen = now
		return v.limiter
	}
	lim := rate.NewLimiter(rl.rps, rl.burst)
	rl.visitors[key] = &visitor{limiter: lim, lastSeen: now}
	return lim
}

// sweepLocked drops buckets idle for at least ttl. rl.mu must be held.
func (rl *RateLimiter) sweepLocked(now time.Time) {
	for k, v := range rl.visitors {
		if now.Sub(v.lastSeen) >= rl.ttl {
			delete(rl.visitors, k)
		}
	}
	rl.lookups = 0
}

// IsRateBypass reports whether IdempotencyValidator marked this request as a
// replay of a completed request.
func IsRateBypass(c *gin.Context) bool {
	v, ok := c.Get(ctxKeyRateBypass)
	if !ok {
		return false
	}
	b, _ := v.(bool)
	return b
}

// Handler enforces per-key limits. Rejected requests get a Retry-After equal
// to one refill interval and:
//
//	HTTP/1.1 429 Too Many Requests
//	{"request_id": "<uuid>", "code": "rate_limited", "message": "rate limit exceeded"}
func (rl *RateLimiter) Handler() gin.HandlerFunc {
	return func(c *gin.Context) {
		if IsRateBypass(c) {
			c.Next()
			return
		}

		key := rl.keyFn(c)
		if rl.getVisitor(key).Allow() {
			c.Next()
			return
		}

		rateLimited.WithLabelValues(keyKind(key)).Inc()
		c.Header("Retry-After", rl.retryAfter)
		abortJSON(c, http.StatusTooManyRequests, "rate_limited", "rate limit exceeded")
	}
}

func keyKind(key string) string {
	kind, _, ok := strings.Cut(key, ":")
	if !ok || (kind != keyKindUser && kind != keyKindIP) {
		return keyKindOther
	}
	return kind
}
