package httpmiddleware

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func doRequest(h http.Handler, ip string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.RemoteAddr = ip + ":12345"
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestRateLimitEnforcesBudget(t *testing.T) {
	ok := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	h := Wrap(ok, RateLimitWithCleanup(context.Background(), RateLimitConfig{
		Max:    2,
		Window: time.Minute,
	}))

	assert.Equal(t, http.StatusOK, doRequest(h, "10.0.0.1").Code)
	assert.Equal(t, http.StatusOK, doRequest(h, "10.0.0.1").Code)

	rec := doRequest(h, "10.0.0.1")
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.Equal(t, "0", rec.Header().Get("X-RateLimit-Remaining"))
	assert.NotEmpty(t, rec.Header().Get("Retry-After"))

	// Another client has its own budget.
	assert.Equal(t, http.StatusOK, doRequest(h, "10.0.0.2").Code)
}

func TestRateLimitWindowRotation(t *testing.T) {
	rl := &rateLimiter{
		cfg:     RateLimitConfig{Max: 1, Window: time.Minute},
		windows: make(map[string]*window),
	}
	now := time.Now()

	_, _, allowed := rl.take("client", now)
	assert.True(t, allowed)
	_, _, allowed = rl.take("client", now.Add(time.Second))
	assert.False(t, allowed)

	// A new window restores the budget.
	_, _, allowed = rl.take("client", now.Add(time.Minute))
	assert.True(t, allowed)
}

func TestClientIP(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.RemoteAddr = "192.0.2.1:9999"
	assert.Equal(t, "192.0.2.1", clientIP(req))

	req.Header.Set("X-Real-IP", "198.51.100.7")
	assert.Equal(t, "198.51.100.7", clientIP(req))

	req.Header.Set("X-Forwarded-For", "203.0.113.5, 198.51.100.7")
	assert.Equal(t, "203.0.113.5", clientIP(req))
}
