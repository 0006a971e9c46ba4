package notification

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"

	"github.com/villagecare/villagecare/internal/platform/apperr"
	"github.com/villagecare/villagecare/internal/platform/auth"
)

func newRequest(method, target string, p *auth.Principal) (echo.Context, *httptest.ResponseRecorder) {
	req := httptest.NewRequest(method, target, nil)
	if p != nil {
		req = req.WithContext(auth.WithPrincipal(req.Context(), *p))
	}
	rec := httptest.NewRecorder()
	return echo.New().NewContext(req, rec), rec
}

func decodeResult(t *testing.T, rec *httptest.ResponseRecorder, data interface{}) apperr.Result {
	t.Helper()
	var res struct {
		apperr.Result
		Data json.RawMessage `json:"data"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &res); err != nil {
		t.Fatalf("decode: %v (%s)", err, rec.Body.String())
	}
	if data != nil {
		if err := json.Unmarshal(res.Data, data); err != nil {
			t.Fatalf("decode data: %v", err)
		}
	}
	return res.Result
}

func TestHandler_CountAndMarkRead(t *testing.T) {
	svc, _, _ := newTestService()
	h := NewHandler(svc)
	n := &Notification{UserID: alice.UserID, Title: "t", Message: "m"}
	svc.Notify(context.Background(), n)

	c, rec := newRequest(http.MethodGet, "/api/v1/notifications/count", &alice)
	if err := h.CountUnread(c); err != nil {
		t.Fatalf("CountUnread: %v", err)
	}
	var count map[string]int
	decodeResult(t, rec, &count)
	if count["unread"] != 1 {
		t.Errorf("expected 1 unread, got %v", count)
	}

	c, rec = newRequest(http.MethodPost, "/", &alice)
	c.SetParamNames("id")
	c.SetParamValues("1")
	if err := h.MarkRead(c); err != nil {
		t.Fatalf("MarkRead: %v", err)
	}
	if res := decodeResult(t, rec, nil); !res.Success {
		t.Errorf("expected success, got %+v", res)
	}
}

func TestHandler_MarkRead_Foreign(t *testing.T) {
	svc, _, _ := newTestService()
	h := NewHandler(svc)
	svc.Notify(context.Background(), &Notification{UserID: alice.UserID, Title: "t", Message: "m"})

	c, rec := newRequest(http.MethodPost, "/", &bob)
	c.SetParamNames("id")
	c.SetParamValues("1")
	if err := h.MarkRead(c); err != nil {
		t.Fatalf("MarkRead: %v", err)
	}
	if rec.Code != http.StatusOK {
		t.Errorf("expected 200, got %d", rec.Code)
	}
	if res := decodeResult(t, rec, nil); res.Success {
		t.Error("expected success=false for a foreign notification")
	}
}

func TestHandler_MarkRead_BadID(t *testing.T) {
	h := NewHandler(NewService(NewMemoryRepo(), nil, zerolog.Nop()))
	c, _ := newRequest(http.MethodPost, "/", &alice)
	c.SetParamNames("id")
	c.SetParamValues("abc")
	if err := h.MarkRead(c); apperr.KindOf(err) != apperr.KindValidation {
		t.Fatalf("expected validation error, got %v", err)
	}
}

func TestHandler_List(t *testing.T) {
	svc, _, _ := newTestService()
	h := NewHandler(svc)
	ctx := context.Background()
	svc.Notify(ctx, &Notification{UserID: alice.UserID, Title: "a", Message: "a", Type: TypeWarning})
	svc.Notify(ctx, &Notification{UserID: alice.UserID, Title: "b", Message: "b"})

	c, rec := newRequest(http.MethodGet, "/api/v1/notifications?type=warning&read=false", &alice)
	if err := h.List(c); err != nil {
		t.Fatalf("List: %v", err)
	}
	var page struct {
		Items []Notification `json:"items"`
		Total int            `json:"total"`
	}
	decodeResult(t, rec, &page)
	if page.Total != 1 || len(page.Items) != 1 || page.Items[0].Title != "a" {
		t.Errorf("unexpected page: %+v", page)
	}

	c, _ = newRequest(http.MethodGet, "/api/v1/notifications?read=maybe", &alice)
	if err := h.List(c); apperr.KindOf(err) != apperr.KindValidation {
		t.Errorf("expected validation error, got %v", err)
	}
}

func TestHandler_MarkAllReadAndUnread(t *testing.T) {
	svc, _, _ := newTestService()
	h := NewHandler(svc)
	ctx := context.Background()
	svc.Notify(ctx, &Notification{UserID: alice.UserID, Title: "a", Message: "a"})
	svc.Notify(ctx, &Notification{UserID: alice.UserID, Title: "b", Message: "b"})

	c, rec := newRequest(http.MethodGet, "/", &alice)
	if err := h.ListUnread(c); err != nil {
		t.Fatalf("ListUnread: %v", err)
	}
	var unread []Notification
	decodeResult(t, rec, &unread)
	if len(unread) != 2 {
		t.Errorf("expected 2 unread, got %d", len(unread))
	}

	c, rec = newRequest(http.MethodPost, "/", &alice)
	if err := h.MarkAllRead(c); err != nil {
		t.Fatalf("MarkAllRead: %v", err)
	}
	var updated map[string]int64
	decodeResult(t, rec, &updated)
	if updated["updated"] != 2 {
		t.Errorf("expected 2 updated, got %v", updated)
	}
}

func TestHandler_Unauthenticated(t *testing.T) {
	h := NewHandler(NewService(NewMemoryRepo(), nil, zerolog.Nop()))
	c, _ := newRequest(http.MethodGet, "/", nil)
	err := h.CountUnread(c)
	he, ok := err.(*echo.HTTPError)
	if !ok || he.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %v", err)
	}
}
