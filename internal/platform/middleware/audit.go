package middleware

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"

	"github.com/villagecare/villagecare/internal/platform/auth"
)

// AccessEntry records one request against case data: who touched which
// problem, how, and with what outcome.
type AccessEntry struct {
	UserID     int64
	Role       string
	Resource   string
	ProblemID  int64
	Action     string
	IPAddress  string
	Path       string
	Method     string
	Timestamp  time.Time
	RequestID  string
	StatusCode int
}

// AccessRecorder persists access entries. Failures are logged, never returned.
type AccessRecorder interface {
	RecordAccess(entry AccessEntry) error
}

type AccessRecorderFunc func(entry AccessEntry) error

func (f AccessRecorderFunc) RecordAccess(entry AccessEntry) error {
	return f(entry)
}

// AccessLog emits a structured "case_access" log line for every /api/v1/
// request and forwards it to recorder when one is given.
func AccessLog(logger zerolog.Logger, recorder AccessRecorder) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			req := c.Request()
			path := req.URL.Path
			if !strings.HasPrefix(path, "/api/v1/") {
				return next(c)
			}

			err := next(c)

			entry := AccessEntry{
				Timestamp:  time.Now().UTC(),
				Path:       path,
				Method:     req.Method,
				IPAddress:  c.RealIP(),
				StatusCode: responseStatus(c, err),
				Action:     httpMethodToAction(req.Method),
				Resource:   resourceFromPath(path),
				ProblemID:  problemIDFromPath(path),
			}
			if p, ok := auth.PrincipalFromContext(req.Context()); ok {
				entry.UserID = p.UserID
				entry.Role = p.Role
			}
			if rid, ok := c.Get("request_id").(string); ok {
				entry.RequestID = rid
			}

			if recorder != nil {
				if recErr := recorder.RecordAccess(entry); recErr != nil {
					logger.Error().Err(recErr).
						Str("request_id", entry.RequestID).
						Msg("failed to record access entry")
				}
			}

			evt := logger.Info()
			if entry.StatusCode == http.StatusForbidden {
				evt = logger.Warn()
			}
			evt.
				Str("type", "case_access").
				Str("request_id", entry.RequestID).
				Int64("user_id", entry.UserID).
				Str("role", entry.Role).
				Str("resource", entry.Resource).
				Int64("problem_id", entry.ProblemID).
				Str("action", entry.Action).
				Str("method", entry.Method).
				Str("path", entry.Path).
				Str("remote_ip", entry.IPAddress).
				Int("status", entry.StatusCode).
				Msg("access")

			return err
		}
	}
}

func httpMethodToAction(method string) string {
	switch method {
	case http.MethodPost:
		return "create"
	case http.MethodPut, http.MethodPatch:
		return "update"
	case http.MethodDelete:
		return "delete"
	default:
		return "read"
	}
}

// resourceFromPath returns the first segment under /api/v1/.
func resourceFromPath(path string) string {
	segments := strings.Split(strings.TrimPrefix(path, "/api/v1/"), "/")
	if len(segments) > 0 && segments[0] != "" {
		return segments[0]
	}
	return "unknown"
}

// problemIDFromPath extracts the id from /api/v1/problems/<id>[/...].
func problemIDFromPath(path string) int64 {
	rest, ok := strings.CutPrefix(path, "/api/v1/problems/")
	if !ok {
		return 0
	}
	seg, _, _ := strings.Cut(rest, "/")
	id, err := strconv.ParseInt(seg, 10, 64)
	if err != nil || id <= 0 {
		return 0
	}
	return id
}
