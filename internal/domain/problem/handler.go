package problem

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
	api.POST("/problems", h.Create, auth.RequireRole(auth.RoleVillager))
	api.GET("/problems", h.List)
	api.GET("/problems/stats", h.Stats)
	api.GET("/problems/:id", h.Get)
	api.GET("/problems/:id/timeline", h.Timeline)
	api.POST("/problems/:id/assign", h.Assign, auth.RequireRole(auth.RoleAVMS))
	api.POST("/problems/:id/status", h.UpdateStatus, auth.RequireRole(auth.RoleAVMS, auth.RoleDoctor))
	api.POST("/problems/:id/escalate", h.Escalate, auth.RequireRole(auth.RoleAVMS))
	api.POST("/problems/:id/comments", h.Comment)
}

func (h *Handler) Create(c echo.Context) error {
	p, err := auth.CurrentPrincipal(c)
	if err != nil {
		return err
	}
	var in CreateInput
	if err := c.Bind(&in); err != nil {
		return apperr.Validation("invalid request body", nil)
	}
	pr, err := h.svc.Create(c.Request().Context(), p, in)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusCreated, apperr.OK("problem reported", pr))
}

// List supports ?status=, ?priority=, ?category=, ?q=, ?mine=true and
// pagination.
func (h *Handler) List(c echo.Context) error {
	p, err := auth.CurrentPrincipal(c)
	if err != nil {
		return err
	}
	pg := pagination.FromContext(c)
	mine, _ := strconv.ParseBool(c.QueryParam("mine"))
	f := ListFilter{
		Status:   Status(c.QueryParam("status")),
		Priority: Priority(c.QueryParam("priority")),
		Category: c.QueryParam("category"),
		Keyword:  c.QueryParam("q"),
		Mine:     mine,
		Limit:    pg.Limit,
		Offset:   pg.Offset,
	}
	items, total, err := h.svc.List(c.Request().Context(), p, f)
	if err != nil {
		return err
	}
	resp := pagination.NewResponse(items, total, pg).WithLinks(c.Path(), pg)
	return c.JSON(http.StatusOK, apperr.OK("problems", resp))
}

func (h *Handler) Stats(c echo.Context) error {
	p, err := auth.CurrentPrincipal(c)
	if err != nil {
		return err
	}
	mine, _ := strconv.ParseBool(c.QueryParam("mine"))
	st, err := h.svc.Stats(c.Request().Context(), p, mine)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, apperr.OK("problem statistics", st))
}

func (h *Handler) Get(c echo.Context) error {
	p, id, err := principalAndID(c)
	if err != nil {
		return err
	}
	pr, err := h.svc.Get(c.Request().Context(), p, id)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, apperr.OK("problem", pr))
}

func (h *Handler) Timeline(c echo.Context) error {
	p, id, err := principalAndID(c)
	if err != nil {
		return err
	}
	entries, err := h.svc.Timeline(c.Request().Context(), p, id)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, apperr.OK("problem timeline", entries))
}

func (h *Handler) Assign(c echo.Context) error {
	p, id, err := principalAndID(c)
	if err != nil {
		return err
	}
	var body struct {
		OfficerID int64 `json:"officer_id"`
	}
	if c.Request().ContentLength != 0 {
		if err := c.Bind(&body); err != nil {
			return apperr.Validation("invalid request body", nil)
		}
	}
	pr, err := h.svc.Assign(c.Request().Context(), p, id, body.OfficerID)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, apperr.OK("problem assigned", pr))
}

func (h *Handler) UpdateStatus(c echo.Context) error {
	p, id, err := principalAndID(c)
	if err != nil {
		return err
	}
	var in StatusInput
	if err := c.Bind(&in); err != nil {
		return apperr.Validation("invalid request body", nil)
	}
	pr, err := h.svc.UpdateStatus(c.Request().Context(), p, id, in)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, apperr.OK("status updated", pr))
}

func (h *Handler) Escalate(c echo.Context) error {
	p, id, err := principalAndID(c)
	if err != nil {
		return err
	}
	var in EscalateInput
	if err := c.Bind(&in); err != nil {
		return apperr.Validation("invalid request body", nil)
	}
	pr, err := h.svc.Escalate(c.Request().Context(), p, id, in)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, apperr.OK("problem escalated", pr))
}

func (h *Handler) Comment(c echo.Context) error {
	p, id, err := principalAndID(c)
	if err != nil {
		return err
	}
	var body struct {
		Notes string `json:"notes"`
	}
	if err := c.Bind(&body); err != nil {
		return apperr.Validation("invalid request body", nil)
	}
	entry, err := h.svc.Comment(c.Request().Context(), p, id, body.Notes)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusCreated, apperr.OK("comment added", entry))
}

func principalAndID(c echo.Context) (auth.Principal, int64, error) {
	p, err := auth.CurrentPrincipal(c)
	if err != nil {
		return auth.Principal{}, 0, err
	}
	id, err := ParseID(c.Param("id"))
	if err != nil {
		return auth.Principal{}, 0, err
	}
	return p, id, nil
}

// ParseID parses a problem id path parameter.
func ParseID(raw string) (int64, error) {
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || id <= 0 {
		return 0, apperr.Validation("invalid problem id", map[string]string{"id": "must be a positive number"})
	}
	return id, nil
}
