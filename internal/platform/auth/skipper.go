package auth

import (
	"github.com/labstack/echo/v4"
)

// publicPaths bypass authentication.
var publicPaths = map[string]bool{
	"/health":        true,
	"/health/db":     true,
	"/metrics":       true,
	"/auth/register": true,
	"/auth/login":    true,
}

// AuthSkipper returns true for requests whose route should skip
// authentication. Pass it as JWTConfig.Skipper.
func AuthSkipper(c echo.Context) bool {
	return publicPaths[c.Path()]
}

func IsPublicPath(path string) bool {
	return publicPaths[path]
}
