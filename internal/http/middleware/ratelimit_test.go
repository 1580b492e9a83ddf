package middleware

import (
	"encoding/json"
	"net"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"golang.org/x/time/rate"
)

func TestKeyFuncs(t *testing.T) {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	var byIP, byRoute string
	r.POST("/api/v1/chat/verify", func(c *gin.Context) {
		byIP = KeyByIP()(c)
		byRoute = KeyByRouteAndIP()(c)
	})

	req := httptest.NewRequest(http.MethodPost, "/api/v1/chat/verify", nil)
	req.RemoteAddr = net.JoinHostPort("203.0.113.9", "12345")
	r.ServeHTTP(httptest.NewRecorder(), req)

	if byIP != "ip:203.0.113.9" {
		t.Fatalf("KeyByIP = %q", byIP)
	}
	if byRoute != "/api/v1/chat/verify|ip:203.0.113.9" {
		t.Fatalf("KeyByRouteAndIP = %q", byRoute)
	}
}

func TestNewRateLimiter_Defaults(t *testing.T) {
	rl := NewRateLimiter(2, 0, nil)
	if rl.burst != 1 || rl.keyFn == nil {
		t.Fatalf("defaults not applied: burst=%d", rl.burst)
	}
	if rl.limiter("k") != rl.limiter("k") {
		t.Fatal("bucket should be reused")
	}
}

func TestRateLimiter_EvictsIdleBuckets(t *testing.T) {
	now := time.Now()
	rl := NewRateLimiter(1, 1, nil)
	rl.now = func() time.Time { return now }
	rl.gcEvery = 2

	_ = rl.limiter("old")
	now = now.Add(rl.ttl)
	_ = rl.limiter("new")

	rl.mu.Lock()
	_, oldOK := rl.buckets["old"]
	_, newOK := rl.buckets["new"]
	rl.mu.Unlock()
	if oldOK || !newOK {
		t.Fatalf("old=%v new=%v; want old evicted, new kept", oldOK, newOK)
	}
}

func TestRateLimiter_Handler429(t *testing.T) {
	gin.SetMode(gin.TestMode)
	rl := NewRateLimiter(0.5, 1, KeyByIP())

	r := gin.New()
	r.Use(RequestID(), rl.Handler())
	r.GET("/x", func(c *gin.Context) { c.Status(http.StatusOK) })

	call := func() *httptest.ResponseRecorder {
		w := httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodGet, "/x", nil)
		req.RemoteAddr = "198.51.100.1:1"
		r.ServeHTTP(w, req)
		return w
	}

	if w := call(); w.Code != http.StatusOK {
		t.Fatalf("first call = %d", w.Code)
	}
	w := call()
	if w.Code != http.StatusTooManyRequests {
		t.Fatalf("second call = %d; want 429", w.Code)
	}
	if w.Header().Get("Retry-After") != "2" {
		t.Fatalf("Retry-After = %q", w.Header().Get("Retry-After"))
	}
	var body map[string]any
	_ = json.Unmarshal(w.Body.Bytes(), &body)
	if body["code"] != "too_many_requests" || body["success"] != false || body["request_id"] == "" {
		t.Fatalf("body = %v", body)
	}
	if rl.Size() != 1 {
		t.Fatalf("Size = %d", rl.Size())
	}
}

func TestRetryAfter(t *testing.T) {
	cases := map[rate.Limit]int{0: 1, rate.Inf: 1, 10: 1, 1: 1, 0.25: 4}
	for rps, want := range cases {
		if got := retryAfter(rps); got != want {
			t.Fatalf("retryAfter(%v) = %d; want %d", rps, got, want)
		}
	}
}
