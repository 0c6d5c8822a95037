package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
)

func TestPaidClientIP(t *testing.T) {
	gin.SetMode(gin.TestMode)
	cases := []struct {
		xff, real, want string
	}{
		{"203.0.113.1, 10.0.0.1", "198.51.100.2", "203.0.113.1"},
		{" , 10.0.0.1", "198.51.100.2", "198.51.100.2"},
		{"", "198.51.100.2", "198.51.100.2"},
		{"", "", "unknown"},
	}
	for _, tc := range cases {
		c, _ := gin.CreateTestContext(httptest.NewRecorder())
		c.Request = httptest.NewRequest(http.MethodGet, "/", nil)
		if tc.xff != "" {
			c.Request.Header.Set("X-Forwarded-For", tc.xff)
		}
		if tc.real != "" {
			c.Request.Header.Set("X-Real-IP", tc.real)
		}
		if got := PaidClientIP(c); got != tc.want {
			t.Fatalf("PaidClientIP(xff=%q, real=%q) = %q; want %q", tc.xff, tc.real, got, tc.want)
		}
	}
}

func paidEngine(l *PaidRateLimiter) *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.POST("/portfolio", l.Handler("movement-portfolio"), func(c *gin.Context) { c.Status(http.StatusOK) })
	return r
}

func hitPaid(r *gin.Engine, ip string) *httptest.ResponseRecorder {
	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/portfolio", nil)
	req.Header.Set("X-Forwarded-For", ip)
	r.ServeHTTP(w, req)
	return w
}

func TestPaidRateLimiter_MemoryWindow(t *testing.T) {
	l := NewPaidRateLimiter(PaidRateOptions{Limit: 2, Window: time.Minute, Prefix: "mm:"})
	now := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	l.now = func() time.Time { return now }
	r := paidEngine(l)

	for i := 0; i < 2; i++ {
		if w := hitPaid(r, "203.0.113.5"); w.Code != http.StatusOK {
			t.Fatalf("request %d: status %d", i+1, w.Code)
		}
	}

	now = now.Add(20 * time.Second)
	w := hitPaid(r, "203.0.113.5")
	if w.Code != http.StatusTooManyRequests {
		t.Fatalf("third request: status %d", w.Code)
	}
	if got := w.Header().Get("Retry-After"); got != "40" {
		t.Fatalf("Retry-After = %q; want 40", got)
	}
	if w.Header().Get("Cache-Control") != "no-store" || w.Body.String() != `{"error":"Rate limit exceeded","ok":false}` {
		t.Fatalf("headers=%v body=%s", w.Header(), w.Body.String())
	}

	// Other clients have their own window.
	if w := hitPaid(r, "198.51.100.9"); w.Code != http.StatusOK {
		t.Fatalf("other ip: status %d", w.Code)
	}

	// A new window starts once the old one has elapsed.
	now = now.Add(40 * time.Second)
	if w := hitPaid(r, "203.0.113.5"); w.Code != http.StatusOK {
		t.Fatalf("after window: status %d", w.Code)
	}
}

func TestPaidRateLimiter_KeyAndDefaults(t *testing.T) {
	l := NewPaidRateLimiter(PaidRateOptions{Prefix: "move-meter:"})
	if l.limit != 30 || l.window != time.Minute {
		t.Fatalf("defaults = %d/%s", l.limit, l.window)
	}
	if got := l.key("movement-portfolio", "1.2.3.4"); got != "move-meter:ratelimit:paid:movement-portfolio:1.2.3.4" {
		t.Fatalf("key = %q", got)
	}
	if got := NewPaidRateLimiter(PaidRateOptions{}).key("r", "ip"); got != "ratelimit:paid:r:ip" {
		t.Fatalf("unprefixed key = %q", got)
	}
}

func TestPaidRateLimiter_RedisDownFallsBackToMemory(t *testing.T) {
	rdb := redis.NewClient(&redis.Options{Addr: "127.0.0.1:1", DialTimeout: 100 * time.Millisecond, MaxRetries: -1})
	defer rdb.Close()

	l := NewPaidRateLimiter(PaidRateOptions{Limit: 1, Window: time.Minute, Redis: rdb})
	r := paidEngine(l)

	if w := hitPaid(r, "203.0.113.7"); w.Code != http.StatusOK {
		t.Fatalf("first: status %d", w.Code)
	}
	if w := hitPaid(r, "203.0.113.7"); w.Code != http.StatusTooManyRequests {
		t.Fatalf("second: status %d", w.Code)
	}
}

func TestPaidRateLimiter_MemoryGC(t *testing.T) {
	l := NewPaidRateLimiter(PaidRateOptions{Limit: 5, Window: time.Second})
	now := time.Now()
	l.now = func() time.Time { return now }

	l.hitMemory("old")
	now = now.Add(2 * time.Second)
	l.seen = 4999
	l.hitMemory("new")

	l.mu.Lock()
	defer l.mu.Unlock()
	if _, ok := l.windows["old"]; ok {
		t.Fatalf("expired window not collected")
	}
	if _, ok := l.windows["new"]; !ok {
		t.Fatalf("new window missing")
	}
}
