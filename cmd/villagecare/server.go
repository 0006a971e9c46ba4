package main

import (
	"context"
	"fmt"
	"net/http"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/labstack/echo/v4"
	echomw "github.com/labstack/echo/v4/middleware"
	"github.com/rs/zerolog"

	"github.com/villagecare/villagecare/internal/config"
	"github.com/villagecare/villagecare/internal/domain/audit"
	"github.com/villagecare/villagecare/internal/domain/consultation"
	"github.com/villagecare/villagecare/internal/domain/notification"
	"github.com/villagecare/villagecare/internal/domain/problem"
	"github.com/villagecare/villagecare/internal/domain/user"
	"github.com/villagecare/villagecare/internal/platform/apperr"
	"github.com/villagecare/villagecare/internal/platform/auth"
	"github.com/villagecare/villagecare/internal/platform/blobstore"
	"github.com/villagecare/villagecare/internal/platform/db"
	"github.com/villagecare/villagecare/internal/platform/metrics"
	"github.com/villagecare/villagecare/internal/platform/middleware"
	"github.com/villagecare/villagecare/internal/platform/reporting"
	"github.com/villagecare/villagecare/internal/platform/websocket"
)

// app bundles the repositories and infrastructure the server is built from.
// Production wires Postgres; tests wire the in-memory repositories.
type app struct {
	users         user.Repository
	audits        audit.Repository
	notifications notification.Repository
	problems      problem.Repository
	responses     consultation.Repository
	tx            db.Transactor
	photos        blobstore.PhotoStore
	pinger        db.Pinger
	poolStats     func() *db.PoolStats
	reports       reporting.Querier
}

func newPostgresApp(pool *pgxpool.Pool, photos blobstore.PhotoStore) *app {
	return &app{
		users:         user.NewRepo(pool),
		audits:        audit.NewRepo(pool),
		notifications: notification.NewRepo(pool),
		problems:      problem.NewRepo(pool),
		responses:     consultation.NewRepo(pool),
		tx:            db.NewTransactor(pool),
		photos:        photos,
		pinger:        pool,
		poolStats:     func() *db.PoolStats { return db.GetPoolStats(pool) },
		reports:       pool,
	}
}

type services struct {
	users         *user.Service
	audit         *audit.Service
	notifications *notification.Service
	problems      *problem.Service
	consultations *consultation.Service
}

// newServices wires the domain services. publisher may be nil when no
// websocket clients can be connected, as in CLI commands.
func newServices(cfg *config.Config, logger zerolog.Logger, a *app, publisher websocket.Publisher) *services {
	issuer := auth.NewTokenIssuer([]byte(cfg.JWTSigningKey), cfg.JWTIssuer, cfg.TokenTTL)
	users := user.NewService(a.users, issuer, cfg.BcryptCost, logger)
	auditSvc := audit.NewService(a.audits, logger)
	notifier := notification.NewService(a.notifications, publisher, logger)
	problems := problem.NewService(a.problems, a.tx, auditSvc, notifier, users, a.responses, logger)
	if a.photos != nil {
		problems.WithPhotoChecker(a.photos)
	}
	return &services{
		users:         users,
		audit:         auditSvc,
		notifications: notifier,
		problems:      problems,
		consultations: consultation.NewService(a.responses, a.tx, problems, auditSvc, notifier, users, logger),
	}
}

func newPhotoStore(ctx context.Context, cfg *config.Config) (blobstore.PhotoStore, error) {
	switch cfg.PhotoStore {
	case "memory":
		return blobstore.NewMemoryStore(), nil
	case "local":
		return blobstore.NewLocalStore(cfg.UploadDir)
	case "s3":
		client, err := blobstore.NewS3Client(ctx, cfg.S3Region, cfg.S3Endpoint)
		if err != nil {
			return nil, err
		}
		return blobstore.NewS3Store(client, cfg.S3Bucket, "photos/"), nil
	default:
		return nil, fmt.Errorf("unknown photo store %q", cfg.PhotoStore)
	}
}

func newServer(cfg *config.Config, logger zerolog.Logger, a *app) *echo.Echo {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.HTTPErrorHandler = apperr.ErrorHandler(logger)

	// Global middleware
	e.Use(middleware.RequestID())
	e.Use(middleware.Recovery(logger))
	e.Use(middleware.Logger(logger))
	e.Use(middleware.SecurityHeaders())
	e.Use(metrics.Middleware())
	e.Use(echomw.CORSWithConfig(echomw.CORSConfig{
		AllowOrigins: cfg.CORSOrigins,
		AllowMethods: []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodPatch, http.MethodDelete, http.MethodOptions},
		AllowHeaders: []string{echo.HeaderOrigin, echo.HeaderContentType, echo.HeaderAccept, echo.HeaderAuthorization, echo.HeaderXRequestID},
	}))
	e.Use(middleware.BodyLimit("1M", cfg.BodyLimit, "/api/v1/photos"))
	if cfg.RequestTimeout > 0 {
		e.Use(middleware.RequestTimeout(cfg.RequestTimeout))
	}
	e.Use(auth.JWTMiddleware(auth.JWTConfig{
		Issuer:     cfg.JWTIssuer,
		SigningKey: []byte(cfg.JWTSigningKey),
		Skipper:    auth.AuthSkipper,
		QueryParam: "access_token",
	}))
	rl := middleware.DefaultRateLimitConfig()
	if cfg.RateLimitRPS > 0 {
		rl.RequestsPerSecond = cfg.RateLimitRPS
	}
	if cfg.RateLimitBurst > 0 {
		rl.BurstSize = cfg.RateLimitBurst
	}
	e.Use(middleware.RateLimit(rl))
	e.Use(middleware.AccessLog(logger, nil))

	hub := websocket.NewHub(logger)
	svc := newServices(cfg, logger, a, hub)

	// Health and metrics
	e.GET("/health", func(c echo.Context) error {
		return c.JSON(http.StatusOK, map[string]string{"status": "ok"})
	})
	e.GET("/health/db", db.HealthHandler(a.pinger, a.poolStats))
	e.GET("/metrics", metrics.Handler())

	public := e.Group("/auth")
	api := e.Group("/api/v1")

	user.NewHandler(svc.users).RegisterRoutes(public, api)
	problem.NewHandler(svc.problems).RegisterRoutes(api)
	consultation.NewHandler(svc.consultations).RegisterRoutes(api)
	notification.NewHandler(svc.notifications).RegisterRoutes(api)
	blobstore.NewHandler(a.photos, svc.problems, logger).RegisterRoutes(api)
	reporting.NewHandler(a.reports).RegisterRoutes(api)
	websocket.NewHandler(hub, cfg.CORSOrigins).RegisterRoutes(e.Group(""))

	return e
}
