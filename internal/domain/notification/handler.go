package notification

import (
	"net/http"
	"strconv"

	"github.com/labstack/echo/v4"

	"github.com/villagecare/villagecare/internal/platform/apperr"
	"github.com/villagecare/villagecare/internal/platform/auth"
	"github.com/villagecare/villagecare/pkg/pagination"
)

type Handler struct {
	svc *Service
}

func NewHandler(svc *Service) *Handler {
	return &Handler{svc: svc}
}

func (h *Handler) RegisterRoutes(api *echo.Group) {
	g := api.Group("/notifications")
	g.GET("", h.List)
	g.GET("/unread", h.ListUnread)
	g.GET("/count", h.CountUnread)
	g.POST("/read-all", h.MarkAllRead)
	g.POST("/:id/read", h.MarkRead)
}

// List supports ?type=, ?read=true|false, ?q= and the usual pagination
// parameters.
func (h *Handler) List(c echo.Context) error {
	p, err := auth.CurrentPrincipal(c)
	if err != nil {
		return err
	}

	pg := pagination.FromContext(c)
	f := Filter{
		Type:    Type(c.QueryParam("type")),
		Keyword: c.QueryParam("q"),
		Limit:   pg.Limit,
		Offset:  pg.Offset,
	}
	if v := c.QueryParam("read"); v != "" {
		read, err := strconv.ParseBool(v)
		if err != nil {
			return apperr.Validation("read must be true or false", map[string]string{"read": "invalid"})
		}
		f.Read = &read
	}

	items, total, err := h.svc.List(c.Request().Context(), p, f)
	if err != nil {
		return err
	}
	resp := pagination.NewResponse(items, total, pg).WithLinks(c.Path(), pg)
	return c.JSON(http.StatusOK, apperr.OK("notifications", resp))
}

func (h *Handler) ListUnread(c echo.Context) error {
	p, err := auth.CurrentPrincipal(c)
	if err != nil {
		return err
	}
	items, err := h.svc.ListUnread(c.Request().Context(), p)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, apperr.OK("unread notifications", items))
}

func (h *Handler) CountUnread(c echo.Context) error {
	p, err := auth.CurrentPrincipal(c)
	if err != nil {
		return err
	}
	n, err := h.svc.CountUnread(c.Request().Context(), p)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, apperr.OK("unread count", map[string]int{"unread": n}))
}

func (h *Handler) MarkRead(c echo.Context) error {
	p, err := auth.CurrentPrincipal(c)
	if err != nil {
		return err
	}
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		return apperr.Validation("invalid notification id", map[string]string{"id": "must be a number"})
	}

	ok, err := h.svc.MarkRead(c.Request().Context(), p, id)
	if err != nil {
		return err
	}
	msg := "notification marked as read"
	if !ok {
		msg = "notification not found"
	}
	return c.JSON(http.StatusOK, apperr.Result{Success: ok, Message: msg, Data: map[string]bool{"updated": ok}})
}

func (h *Handler) MarkAllRead(c echo.Context) error {
	p, err := auth.CurrentPrincipal(c)
	if err != nil {
		return err
	}
	n, err := h.svc.MarkAllRead(c.Request().Context(), p)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, apperr.OK("all notifications marked as read", map[string]int64{"updated": n}))
}
