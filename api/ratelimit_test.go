package api

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func okHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
}

func TestRateLimiter_PerClientBudget(t *testing.T) {
	limiter := NewRateLimiter(1, 2)
	now := time.Date(2025, time.January, 1, 0, 0, 0, 0, time.UTC)
	limiter.now = func() time.Time { return now }
	handler := limiter.Middleware(okHandler())

	call := func(caller string) int {
		req := httptest.NewRequest(http.MethodGet, "/v1/pools", nil)
		req.RemoteAddr = "10.0.0.1:5000"
		if caller != "" {
			req.Header.Set(CallerHeader, caller)
		}
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)
		return rec.Code
	}

	assert.Equal(t, http.StatusOK, call("0xa"))
	assert.Equal(t, http.StatusOK, call("0xa"))
	assert.Equal(t, http.StatusTooManyRequests, call("0xa"))

	// other callers and the anonymous bucket are independent
	assert.Equal(t, http.StatusOK, call("0xb"))
	assert.Equal(t, http.StatusOK, call(""))

	now = now.Add(time.Second)
	assert.Equal(t, http.StatusOK, call("0xa"))
}

func TestRateLimiter_DisabledPassesThrough(t *testing.T) {
	handler := NewRateLimiter(0, 0).Middleware(okHandler())
	for i := 0; i < 100; i++ {
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
		assert.Equal(t, http.StatusOK, rec.Code)
	}
}

func TestRateLimiter_SweepDropsIdleClients(t *testing.T) {
	limiter := NewRateLimiter(1, 1)
	now := time.Date(2025, time.January, 1, 0, 0, 0, 0, time.UTC)
	limiter.now = func() time.Time { return now }

	limiter.allow("caller:0xa")
	now = now.Add(5 * time.Minute)
	limiter.allow("caller:0xb")
	now = now.Add(6 * time.Minute)
	limiter.Sweep()

	assert.NotContains(t, limiter.limiters, "caller:0xa")
	assert.Contains(t, limiter.limiters, "caller:0xb")
}

func TestClientKey(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.RemoteAddr = "192.168.1.9:41000"
	assert.Equal(t, "ip:192.168.1.9", clientKey(req))

	req.Header.Set(CallerHeader, "0xabc")
	assert.Equal(t, "caller:0xabc", clientKey(req))
}
