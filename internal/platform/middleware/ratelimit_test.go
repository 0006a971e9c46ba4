package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/villagecare/villagecare/internal/platform/auth"
)

func rateRequest(mw echo.MiddlewareFunc, p *auth.Principal, ip string) (*httptest.ResponseRecorder, error) {
	e := echo.New()
	req := httptest.NewRequest(http.MethodGet, "/api/v1/problems", nil)
	req.RemoteAddr = ip + ":1234"
	if p != nil {
		req = req.WithContext(auth.WithPrincipal(req.Context(), *p))
	}
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)
	return rec, mw(func(c echo.Context) error { return c.String(http.StatusOK, "ok") })(c)
}

func TestRateLimit_RequestsWithinLimit(t *testing.T) {
	mw := RateLimit(RateLimitConfig{RequestsPerSecond: 1, BurstSize: 3})
	for i := 0; i < 3; i++ {
		if _, err := rateRequest(mw, nil, "10.0.0.1"); err != nil {
			t.Fatalf("request %d: unexpected error: %v", i, err)
		}
	}
}

func TestRateLimit_ExceedsLimit(t *testing.T) {
	mw := RateLimit(RateLimitConfig{RequestsPerSecond: 1, BurstSize: 2})
	_, _ = rateRequest(mw, nil, "10.0.0.2")
	_, _ = rateRequest(mw, nil, "10.0.0.2")

	rec, err := rateRequest(mw, nil, "10.0.0.2")
	expectCode(t, err, http.StatusTooManyRequests)
	if rec.Header().Get("Retry-After") == "" {
		t.Error("expected Retry-After header")
	}
	if rec.Header().Get("X-RateLimit-Remaining") != "0" {
		t.Errorf("expected remaining 0, got %q", rec.Header().Get("X-RateLimit-Remaining"))
	}
}

func TestRateLimit_PerKeyIsolation(t *testing.T) {
	mw := RateLimit(RateLimitConfig{RequestsPerSecond: 1, BurstSize: 1})

	if _, err := rateRequest(mw, nil, "10.0.0.3"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, err := rateRequest(mw, nil, "10.0.0.4"); err != nil {
		t.Fatalf("different IP should have its own bucket: %v", err)
	}

	// Two users behind the same IP are limited separately.
	if _, err := rateRequest(mw, &auth.Principal{UserID: 1, Role: auth.RoleVillager}, "10.0.0.3"); err != nil {
		t.Fatalf("user 1 should have its own bucket: %v", err)
	}
	if _, err := rateRequest(mw, &auth.Principal{UserID: 2, Role: auth.RoleVillager}, "10.0.0.3"); err != nil {
		t.Fatalf("user 2 should have its own bucket: %v", err)
	}
}

func TestRateLimit_DefaultConfig(t *testing.T) {
	cfg := DefaultRateLimitConfig()
	if cfg.RequestsPerSecond <= 0 || cfg.BurstSize <= 0 {
		t.Errorf("unexpected default config %+v", cfg)
	}
}

func TestLimiterStore_EvictsIdleKeys(t *testing.T) {
	s := newLimiterStore(RateLimitConfig{RequestsPerSecond: 1, BurstSize: 1, IdleTTL: time.Minute})
	now := time.Now()
	s.now = func() time.Time { return now }

	s.get("ip:a")
	s.get("ip:b")
	if s.size() != 2 {
		t.Fatalf("expected 2 limiters, got %d", s.size())
	}

	now = now.Add(2 * time.Minute)
	s.get("ip:c")
	if s.size() != 1 {
		t.Errorf("expected idle limiters to be evicted, got %d", s.size())
	}
}

func TestLimiterStore_ReusesLimiter(t *testing.T) {
	s := newLimiterStore(DefaultRateLimitConfig())
	if s.get("user:1") != s.get("user:1") {
		t.Error("expected the same limiter for the same key")
	}
}
