package middleware

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/labstack/echo/v4"
)

// RequestTimeout puts a deadline on the request context. Repositories observe
// it through pgx; if the handler returns after the deadline without having
// written a response, the client gets a 504. Websocket upgrades are exempt.
func RequestTimeout(timeout time.Duration) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			path := c.Request().URL.Path
			if path == "/ws" || strings.HasPrefix(path, "/ws/") {
				return next(c)
			}

			ctx, cancel := context.WithTimeout(c.Request().Context(), timeout)
			defer cancel()
			c.SetRequest(c.Request().WithContext(ctx))

			err := next(c)
			if errors.Is(ctx.Err(), context.DeadlineExceeded) && !c.Response().Committed {
				return echo.NewHTTPError(http.StatusGatewayTimeout, "request processing exceeded the allowed time limit")
			}
			return err
		}
	}
}
