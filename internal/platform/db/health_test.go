package db

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/labstack/echo/v4"
)

type stubPinger struct {
	err error
}

func (s stubPinger) Ping(ctx context.Context) error { return s.err }

func runHealth(t *testing.T, p Pinger, stats func() *PoolStats) (int, map[string]interface{}) {
	t.Helper()
	e := echo.New()
	req := httptest.NewRequest(http.MethodGet, "/health/db", nil)
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)

	if err := HealthHandler(p, stats)(c); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	var body map[string]interface{}
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("invalid JSON: %v", err)
	}
	return rec.Code, body
}

func TestHealthHandler_Healthy(t *testing.T) {
	code, body := runHealth(t, stubPinger{}, func() *PoolStats {
		return &PoolStats{TotalConns: 4, MaxConns: 20}
	})
	if code != http.StatusOK {
		t.Errorf("expected 200, got %d", code)
	}
	if body["status"] != "healthy" {
		t.Errorf("expected healthy, got %v", body["status"])
	}
	pool, ok := body["pool"].(map[string]interface{})
	if !ok {
		t.Fatal("expected pool stats in body")
	}
	if pool["max_conns"].(float64) != 20 {
		t.Errorf("expected max_conns 20, got %v", pool["max_conns"])
	}
}

func TestHealthHandler_Unhealthy(t *testing.T) {
	code, body := runHealth(t, stubPinger{err: errors.New("dial tcp: connection refused")}, nil)
	if code != http.StatusServiceUnavailable {
		t.Errorf("expected 503, got %d", code)
	}
	if body["status"] != "unhealthy" {
		t.Errorf("expected unhealthy, got %v", body["status"])
	}
	if _, leaked := body["error"]; leaked {
		t.Error("driver error should not be returned")
	}
}
