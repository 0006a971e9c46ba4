package user

import (
	"errors"
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

// RegisterRoutes mounts sign-up and login on public and the account
// endpoints on api.
func (h *Handler) RegisterRoutes(public *echo.Group, api *echo.Group) {
	public.POST("/register", h.Register)
	public.POST("/login", h.Login)

	api.GET("/me", h.Me)
	api.GET("/users", h.List, auth.RequireRole(auth.RoleAVMS))
	api.GET("/users/:id", h.Get)
	api.PATCH("/users/:id", h.UpdateProfile)
	api.POST("/users", h.Create, auth.RequireRole(auth.RoleAdmin))
	api.PUT("/users/:id/status", h.SetStatus, auth.RequireRole(auth.RoleAdmin))
}

func (h *Handler) Register(c echo.Context) error {
	var in RegisterInput
	if err := c.Bind(&in); err != nil {
		return apperr.Validation("invalid request body", nil)
	}
	u, err := h.svc.Register(c.Request().Context(), nil, in)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusCreated, apperr.OK("registration successful", u))
}

// Create lets an admin create an account with any role.
func (h *Handler) Create(c echo.Context) error {
	p, err := auth.CurrentPrincipal(c)
	if err != nil {
		return err
	}
	var in RegisterInput
	if err := c.Bind(&in); err != nil {
		return apperr.Validation("invalid request body", nil)
	}
	u, err := h.svc.Register(c.Request().Context(), &p, in)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusCreated, apperr.OK("user created", u))
}

func (h *Handler) Login(c echo.Context) error {
	var in LoginInput
	if err := c.Bind(&in); err != nil {
		return apperr.Validation("invalid request body", nil)
	}
	res, err := h.svc.Login(c.Request().Context(), in)
	if err != nil {
		var appErr *apperr.Error
		if errors.As(err, &appErr) && appErr.Kind == apperr.KindPermission {
			return echo.NewHTTPError(http.StatusUnauthorized, appErr.Message)
		}
		return err
	}
	return c.JSON(http.StatusOK, apperr.OK("login successful", res))
}

func (h *Handler) Me(c echo.Context) error {
	p, err := auth.CurrentPrincipal(c)
	if err != nil {
		return err
	}
	u, err := h.svc.Lookup(c.Request().Context(), p.UserID)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, apperr.OK("current user", u))
}

func (h *Handler) Get(c echo.Context) error {
	p, err := auth.CurrentPrincipal(c)
	if err != nil {
		return err
	}
	id, err := parseID(c)
	if err != nil {
		return err
	}
	u, err := h.svc.Get(c.Request().Context(), p, id)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, apperr.OK("user", u))
}

// List supports ?role=, ?status=, ?village=, ?q= and pagination.
func (h *Handler) List(c echo.Context) error {
	p, err := auth.CurrentPrincipal(c)
	if err != nil {
		return err
	}
	pg := pagination.FromContext(c)
	f := ListFilter{
		Role:    c.QueryParam("role"),
		Status:  Status(c.QueryParam("status")),
		Village: c.QueryParam("village"),
		Keyword: c.QueryParam("q"),
	}
	users, total, err := h.svc.List(c.Request().Context(), p, f, pg.Limit, pg.Offset)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, apperr.OK("users", pagination.NewResponse(users, total, pg)))
}

func (h *Handler) UpdateProfile(c echo.Context) error {
	p, err := auth.CurrentPrincipal(c)
	if err != nil {
		return err
	}
	id, err := parseID(c)
	if err != nil {
		return err
	}
	var upd ProfileUpdate
	if err := c.Bind(&upd); err != nil {
		return apperr.Validation("invalid request body", nil)
	}
	u, err := h.svc.UpdateProfile(c.Request().Context(), p, id, upd)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, apperr.OK("profile updated", u))
}

func (h *Handler) SetStatus(c echo.Context) error {
	p, err := auth.CurrentPrincipal(c)
	if err != nil {
		return err
	}
	id, err := parseID(c)
	if err != nil {
		return err
	}
	var body struct {
		Status Status `json:"status"`
	}
	if err := c.Bind(&body); err != nil {
		return apperr.Validation("invalid request body", nil)
	}
	u, err := h.svc.SetStatus(c.Request().Context(), p, id, body.Status)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, apperr.OK("status updated", u))
}

func parseID(c echo.Context) (int64, error) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil || id <= 0 {
		return 0, apperr.Validation("invalid user id", map[string]string{"id": "must be a positive number"})
	}
	return id, nil
}
