package consultation

import (
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/villagecare/villagecare/internal/domain/problem"
	"github.com/villagecare/villagecare/internal/platform/apperr"
	"github.com/villagecare/villagecare/internal/platform/auth"
)

type Handler struct {
	svc *Service
}

func NewHandler(svc *Service) *Handler {
	return &Handler{svc: svc}
}

func (h *Handler) RegisterRoutes(api *echo.Group) {
	api.POST("/problems/:id/responses", h.Submit, auth.RequireRole(auth.RoleDoctor))
	api.GET("/problems/:id/responses", h.List)
}

func (h *Handler) Submit(c echo.Context) error {
	p, err := auth.CurrentPrincipal(c)
	if err != nil {
		return err
	}
	id, err := problem.ParseID(c.Param("id"))
	if err != nil {
		return err
	}
	var in SubmitInput
	if err := c.Bind(&in); err != nil {
		return apperr.Validation("invalid request body", nil)
	}
	res, err := h.svc.Submit(c.Request().Context(), p, id, in)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusCreated, apperr.OK(res.Message, res))
}

func (h *Handler) List(c echo.Context) error {
	p, err := auth.CurrentPrincipal(c)
	if err != nil {
		return err
	}
	id, err := problem.ParseID(c.Param("id"))
	if err != nil {
		return err
	}
	items, err := h.svc.ListForProblem(c.Request().Context(), p, id)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, apperr.OK("medical responses", items))
}
