package auth

import (
	"context"
	"net/http"

	"github.com/labstack/echo/v4"
)

const (
	RoleVillager = "villager"
	RoleAVMS     = "avms"
	RoleDoctor   = "doctor"
	RoleAdmin    = "admin"
)

var validRoles = map[string]bool{
	RoleVillager: true,
	RoleAVMS:     true,
	RoleDoctor:   true,
	RoleAdmin:    true,
}

// ValidRole reports whether role is one of the four known roles.
func ValidRole(role string) bool {
	return validRoles[role]
}

// Principal is the authenticated caller. It is passed explicitly to every
// service operation.
type Principal struct {
	UserID  int64  `json:"user_id"`
	Role    string `json:"role"`
	Village string `json:"village,omitempty"`
}

func (p Principal) IsAdmin() bool { return p.Role == RoleAdmin }

// HasRole reports whether p holds any of roles.
func (p Principal) HasRole(roles ...string) bool {
	for _, r := range roles {
		if p.Role == r {
			return true
		}
	}
	return false
}

const PrincipalKey contextKey = "principal"

func WithPrincipal(ctx context.Context, p Principal) context.Context {
	return context.WithValue(ctx, PrincipalKey, p)
}

func PrincipalFromContext(ctx context.Context) (Principal, bool) {
	p, ok := ctx.Value(PrincipalKey).(Principal)
	return p, ok && p.UserID > 0
}

// CurrentPrincipal returns the caller for an authenticated route, or a 401.
func CurrentPrincipal(c echo.Context) (Principal, error) {
	p, ok := PrincipalFromContext(c.Request().Context())
	if !ok {
		return Principal{}, echo.NewHTTPError(http.StatusUnauthorized, "authentication required")
	}
	return p, nil
}
