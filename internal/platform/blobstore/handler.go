package blobstore

import (
	"context"
	"errors"
	"io"
	"net/http"
	"strconv"

	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"

	"github.com/villagecare/villagecare/internal/platform/apperr"
	"github.com/villagecare/villagecare/internal/platform/auth"
)

// PhotoAccess decides whether p may download the photo ref. When nil, any
// authenticated caller may.
type PhotoAccess interface {
	CanViewPhoto(ctx context.Context, p auth.Principal, ref string) (bool, error)
}

// Handler serves photo uploads and downloads.
type Handler struct {
	store  PhotoStore
	access PhotoAccess
	logger zerolog.Logger
}

func NewHandler(store PhotoStore, access PhotoAccess, logger zerolog.Logger) *Handler {
	return &Handler{store: store, access: access, logger: logger}
}

func (h *Handler) RegisterRoutes(g *echo.Group) {
	g.POST("/photos", h.Upload, auth.RequireRole(auth.RoleVillager))
	g.GET("/photos/:ref", h.Download)
}

// Upload accepts a multipart form with a single "photo" field.
func (h *Handler) Upload(c echo.Context) error {
	p, err := auth.CurrentPrincipal(c)
	if err != nil {
		return err
	}

	fh, err := c.FormFile("photo")
	if err != nil {
		return apperr.Validation("photo is required", map[string]string{"photo": "missing file"})
	}
	if fh.Size > MaxPhotoSize {
		return apperr.Validation(ErrFileTooLarge.Error(), map[string]string{"photo": "too large"})
	}

	f, err := fh.Open()
	if err != nil {
		return apperr.Validation("photo could not be read", nil)
	}
	defer f.Close()

	meta, err := h.store.Save(c.Request().Context(), PhotoMeta{
		FileName:   fh.Filename,
		UploadedBy: p.UserID,
	}, f)
	if err != nil {
		return storeError(err)
	}

	h.logger.Info().
		Str("ref", meta.Ref).
		Int64("size", meta.Size).
		Int64("user_id", p.UserID).
		Msg("photo uploaded")

	return c.JSON(http.StatusCreated, apperr.OK("photo uploaded", meta))
}

// Download streams the photo after an access check.
func (h *Handler) Download(c echo.Context) error {
	p, err := auth.CurrentPrincipal(c)
	if err != nil {
		return err
	}

	ref := c.Param("ref")
	if !ValidRef(ref) {
		return apperr.NotFound("photo", ref)
	}

	ctx := c.Request().Context()
	if h.access != nil {
		ok, err := h.access.CanViewPhoto(ctx, p, ref)
		if err != nil {
			return err
		}
		if !ok {
			return apperr.Permission("you do not have access to this photo")
		}
	}

	rc, meta, err := h.store.Open(ctx, ref)
	if err != nil {
		return storeError(err)
	}
	defer rc.Close()

	resp := c.Response()
	resp.Header().Set(echo.HeaderContentType, meta.ContentType)
	if meta.Size > 0 {
		resp.Header().Set(echo.HeaderContentLength, strconv.FormatInt(meta.Size, 10))
	}
	resp.Header().Set("Cache-Control", "private, max-age=3600")
	resp.WriteHeader(http.StatusOK)
	_, err = io.Copy(resp, rc)
	return err
}

func storeError(err error) error {
	switch {
	case errors.Is(err, ErrFileTooLarge):
		return apperr.Validation(err.Error(), map[string]string{"photo": "too large"})
	case errors.Is(err, ErrInvalidContentType):
		return apperr.Validation(err.Error(), map[string]string{"photo": "unsupported type"})
	case errors.Is(err, ErrMissingFileName):
		return apperr.Validation(err.Error(), map[string]string{"photo": "missing file name"})
	case errors.Is(err, ErrPhotoNotFound), errors.Is(err, ErrInvalidRef):
		return apperr.NotFound("photo", "")
	default:
		return apperr.Infrastructure("photo storage failed", err)
	}
}
