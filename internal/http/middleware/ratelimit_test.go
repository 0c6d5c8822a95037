package middleware

import (
	"encoding/json"
	"net"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"golang.org/x/time/rate"
)

func TestKeyByUserOrIP(t *testing.T) {
	gin.SetMode(gin.TestMode)
	c, _ := gin.CreateTestContext(httptest.NewRecorder())
	c.Request = httptest.NewRequest(http.MethodGet, "/", nil)
	c.Request.RemoteAddr = net.JoinHostPort("203.0.113.9", "12345")

	if key := KeyByUserOrIP()(c); key != "ip:203.0.113.9" {
		t.Fatalf("anonymous key = %q", key)
	}
	c.Set(ctxKeyUserID, "did:privy:alice")
	if key := KeyByUserOrIP()(c); key != "user:did:privy:alice" {
		t.Fatalf("identity key = %q", key)
	}
}

func TestKeyKind(t *testing.T) {
	cases := map[string]string{
		"user:did:privy:a": "user",
		"ip:10.0.0.1":      "ip",
		"tenant:x":         "other",
		"nocolon":          "other",
	}
	for in, want := range cases {
		if got := keyKind(in); got != want {
			t.Fatalf("keyKind(%q) = %q; want %q", in, got, want)
		}
	}
}

func TestRetryAfterSeconds(t *testing.T) {
	cases := []struct {
		rps  float64
		want string
	}{
		{10, "1"},
		{1, "1"},
		{0.5, "2"},
		{0.3, "4"},
		{0, "60"},
	}
	for _, tc := range cases {
		if got := retryAfterSeconds(tc.rps); got != tc.want {
			t.Fatalf("retryAfterSeconds(%v) = %q; want %q", tc.rps, got, tc.want)
		}
	}
}

func TestNewRateLimiter_BurstCoercion_AndReuse(t *testing.T) {
	rl := NewRateLimiter(2.0, 0, KeyByUserOrIP())
	if rl.burst != 1 {
		t.Fatalf("burst coercion failed, got %d", rl.burst)
	}
	lim := rl.getVisitor("k1")
	if got := rl.getVisitor("k1"); got != lim {
		t.Fatalf("expected the same bucket for the same key")
	}
}

func TestRateLimiter_SweepsIdleBuckets(t *testing.T) {
	rl := NewRateLimiter(1.0, 1, KeyByUserOrIP())
	rl.ttl = time.Nanosecond

	rl.mu.Lock()
	rl.visitors["old"] = &visitor{limiter: rate.NewLimiter(1, 1), lastSeen: time.Now().Add(-time.Hour)}
	rl.lookups = sweepEveryN - 1
	rl.mu.Unlock()

	_ = rl.getVisitor("new")

	rl.mu.Lock()
	_, old := rl.visitors["old"]
	_, fresh := rl.visitors["new"]
	lookups := rl.lookups
	rl.mu.Unlock()
	if old || !fresh {
		t.Fatalf("old=%v new=%v; want old evicted and new kept", old, fresh)
	}
	if lookups != 0 {
		t.Fatalf("lookup counter not reset: %d", lookups)
	}
}

func TestIsRateBypass(t *testing.T) {
	gin.SetMode(gin.TestMode)
	c, _ := gin.CreateTestContext(httptest.NewRecorder())
	c.Request = httptest.NewRequest(http.MethodGet, "/", nil)

	if IsRateBypass(c) {
		t.Fatalf("expected false by default")
	}
	c.Set(ctxKeyRateBypass, true)
	if !IsRateBypass(c) {
		t.Fatalf("expected true when set")
	}
	c.Set(ctxKeyRateBypass, "yes")
	if IsRateBypass(c) {
		t.Fatalf("non-bool values read as false")
	}
}

func TestRateLimiter_Handler_DenyAndBypass(t *testing.T) {
	gin.SetMode(gin.TestMode)

	rl := NewRateLimiter(0.5, 1, KeyByUserOrIP())
	r := gin.New()
	r.Use(func(c *gin.Context) { c.Header(requestIDHeader, "rid-1"); c.Next() })
	r.Use(rl.Handler())
	r.GET("/listings", func(c *gin.Context) { c.String(http.StatusOK, "ok") })

	baseIP := testutil.ToFloat64(rateLimited.WithLabelValues("ip"))

	w1 := httptest.NewRecorder()
	r.ServeHTTP(w1, httptest.NewRequest(http.MethodGet, "/listings", nil))
	if w1.Code != http.StatusOK {
		t.Fatalf("first request should pass, got %d", w1.Code)
	}

	w2 := httptest.NewRecorder()
	r.ServeHTTP(w2, httptest.NewRequest(http.MethodGet, "/listings", nil))
	if w2.Code != http.StatusTooManyRequests {
		t.Fatalf("second request should be limited, got %d", w2.Code)
	}
	if got := w2.Header().Get("Retry-After"); got != "2" {
		t.Fatalf("Retry-After = %q; want 2", got)
	}
	var body map[string]any
	if err := json.Unmarshal(w2.Body.Bytes(), &body); err != nil {
		t.Fatalf("invalid JSON body: %v", err)
	}
	if body["code"] != "rate_limited" || body["request_id"] != "rid-1" {
		t.Fatalf("unexpected body: %v", body)
	}
	if got := testutil.ToFloat64(rateLimited.WithLabelValues("ip")); got != baseIP+1 {
		t.Fatalf("rate_limited{ip} = %v; want %v", got, baseIP+1)
	}

	rBypass := gin.New()
	rBypass.Use(func(c *gin.Context) { c.Set(ctxKeyRateBypass, true); c.Next() })
	rBypass.Use(rl.Handler())
	rBypass.GET("/listings", func(c *gin.Context) { c.String(http.StatusOK, "ok") })
	w3 := httptest.NewRecorder()
	rBypass.ServeHTTP(w3, httptest.NewRequest(http.MethodGet, "/listings", nil))
	if w3.Code != http.StatusOK {
		t.Fatalf("replays must bypass the limiter, got %d", w3.Code)
	}
}

func TestRateLimiter_IdentityGetsOwnBucket(t *testing.T) {
	gin.SetMode(gin.TestMode)

	rl := NewRateLimiter(0.01, 1, KeyByUserOrIP())
	r := gin.New()
	r.Use(func(c *gin.Context) {
		if u := c.GetHeader("X-Test-User"); u != "" {
			c.Set(ctxKeyUserID, u)
		}
		c.Next()
	})
	r.Use(rl.Handler())
	r.GET("/me", func(c *gin.Context) { c.Status(http.StatusOK) })

	call := func(user string) int {
		req := httptest.NewRequest(http.MethodGet, "/me", nil)
		if user != "" {
			req.Header.Set("X-Test-User", user)
		}
		w := httptest.NewRecorder()
		r.ServeHTTP(w, req)
		return w.Code
	}
	if call("") != http.StatusOK || call("") != http.StatusTooManyRequests {
		t.Fatalf("ip bucket should allow exactly one request")
	}
	if call("did:privy:alice") != http.StatusOK || call("did:privy:bob") != http.StatusOK {
		t.Fatalf("each identity should get a fresh bucket")
	}
	if call("did:privy:alice") != http.StatusTooManyRequests {
		t.Fatalf("alice should now be limited")
	}
}
