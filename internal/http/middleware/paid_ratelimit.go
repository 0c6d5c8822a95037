package middleware

import (
	"context"
	"math"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"
)

var paidRateRejections = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Name: "paid_rate_limited_total",
		Help: "Paid-route requests rejected by the fixed-window limiter.",
	},
	[]string{"route", "store"},
)

func init() { prometheus.MustRegister(paidRateRejections) }

// PaidRateOptions configures PaidRateLimiter.
type PaidRateOptions struct {
	Limit  int           // requests per window per client IP; <= 0 means 30
	Window time.Duration // <= 0 means 60s
	Prefix string        // Redis key namespace
	Redis  *redis.Client // nil keeps counters in process memory
}

// PaidRateLimiter is a fixed-window counter keyed by route and client IP.
//
// With Redis configured every replica shares one counter per window; if Redis
// errors the process-local window takes over for that request.
type PaidRateLimiter struct {
	limit  int64
	window time.Duration
	prefix string
	rdb    *redis.Client

	mu      sync.Mutex
	windows map[string]*fixedWindow
	seen    uint64
	now     func() time.Time
}

type fixedWindow struct {
	start time.Time
	count int64
}

// NewPaidRateLimiter returns a limiter with defaults applied.
func NewPaidRateLimiter(opts PaidRateOptions) *PaidRateLimiter {
	if opts.Limit <= 0 {
		opts.Limit = 30
	}
	if opts.Window <= 0 {
		opts.Window = time.Minute
	}
	return &PaidRateLimiter{
		limit:   int64(opts.Limit),
		window:  opts.Window,
		prefix:  strings.TrimSuffix(opts.Prefix, ":"),
		rdb:     opts.Redis,
		windows: make(map[string]*fixedWindow),
		now:     time.Now,
	}
}

// Handler limits one paid route. Rejected requests get 429 with Retry-After
// and the paid-route error shape {"ok": false, "error": "..."}.
func (l *PaidRateLimiter) Handler(route string) gin.HandlerFunc {
	return func(c *gin.Context) {
		key := l.key(route, PaidClientIP(c))

		count, reset, store := l.hit(c.Request.Context(), key)
		if count <= l.limit {
			c.Next()
			return
		}

		paidRateRejections.WithLabelValues(route, store).Inc()
		secs := int(math.Ceil(reset.Seconds()))
		if secs < 1 {
			secs = 1
		}
		c.Header("Retry-After", strconv.Itoa(secs))
		c.Header("Cache-Control", "no-store")
		c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{
			"ok":    false,
			"error": "Rate limit exceeded",
		})
	}
}

func (l *PaidRateLimiter) key(route, ip string) string {
	k := "ratelimit:paid:" + route + ":" + ip
	if l.prefix != "" {
		k = l.prefix + ":" + k
	}
	return k
}

// hit counts one request and returns the window's running count, the time
// until it resets, and which store answered.
func (l *PaidRateLimiter) hit(ctx context.Context, key string) (int64, time.Duration, string) {
	if l.rdb != nil {
		count, ttl, err := l.hitRedis(ctx, key)
		if err == nil {
			return count, ttl, "redis"
		}
		log.Warn().Err(err).Str("key", key).Msg("paid rate limit: redis unavailable, using memory window")
	}
	count, ttl := l.hitMemory(key)
	return count, ttl, "memory"
}

func (l *PaidRateLimiter) hitRedis(ctx context.Context, key string) (int64, time.Duration, error) {
	count, err := l.rdb.Incr(ctx, key).Result()
	if err != nil {
		return 0, 0, err
	}
	if count == 1 {
		if err := l.rdb.PExpire(ctx, key, l.window).Err(); err != nil {
			return 0, 0, err
		}
		return count, l.window, nil
	}
	ttl, err := l.rdb.PTTL(ctx, key).Result()
	if err != nil {
		return 0, 0, err
	}
	if ttl < 0 {
		// Key lost its expiry; restore it so the window cannot stick.
		_ = l.rdb.PExpire(ctx, key, l.window).Err()
		ttl = l.window
	}
	return count, ttl, nil
}

func (l *PaidRateLimiter) hitMemory(key string) (int64, time.Duration) {
	now := l.now()

	l.mu.Lock()
	defer l.mu.Unlock()

	l.seen++
	if l.seen >= 5000 {
		for k, w := range l.windows {
			if now.Sub(w.start) >= l.window {
				delete(l.windows, k)
			}
		}
		l.seen = 0
	}

	w, ok := l.windows[key]
	if !ok || now.Sub(w.start) >= l.window {
		w = &fixedWindow{start: now}
		l.windows[key] = w
	}
	w.count++
	return w.count, w.start.Add(l.window).Sub(now)
}

// PaidClientIP is the first X-Forwarded-For entry, else X-Real-IP, else
// "unknown". Paid routes run behind a proxy that sets these headers.
func PaidClientIP(c *gin.Context) string {
	if xff := c.GetHeader("X-Forwarded-For"); xff != "" {
		first, _, _ := strings.Cut(xff, ",")
		if ip := strings.TrimSpace(first); ip != "" {
			return ip
		}
	}
	if ip := strings.TrimSpace(c.GetHeader("X-Real-IP")); ip != "" {
		return ip
	}
	return "unknown"
}
