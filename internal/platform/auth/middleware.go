package auth

import (
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/labstack/echo/v4"
)

type contextKey string

type Claims struct {
	jwt.RegisteredClaims
	Role    string `json:"role"`
	Village string `json:"village,omitempty"`
}

type JWTConfig struct {
	Issuer     string
	SigningKey []byte
	// Skipper bypasses authentication for public routes.
	Skipper func(c echo.Context) bool
	// QueryParam, when set, is consulted if the Authorization header is
	// absent. Browsers cannot set headers on websocket upgrades.
	QueryParam string
}

// ParseToken verifies an HS256 token and returns the principal it carries.
func ParseToken(tokenStr string, key []byte, issuer string) (Principal, error) {
	opts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithExpirationRequired(),
	}
	if issuer != "" {
		opts = append(opts, jwt.WithIssuer(issuer))
	}

	claims := &Claims{}
	token, err := jwt.ParseWithClaims(tokenStr, claims, func(t *jwt.Token) (interface{}, error) {
		return key, nil
	}, opts...)
	if err != nil || !token.Valid {
		return Principal{}, fmt.Errorf("invalid token: %w", err)
	}

	uid, err := strconv.ParseInt(claims.Subject, 10, 64)
	if err != nil || uid <= 0 {
		return Principal{}, fmt.Errorf("invalid subject %q", claims.Subject)
	}
	if !ValidRole(claims.Role) {
		return Principal{}, fmt.Errorf("invalid role %q", claims.Role)
	}

	return Principal{UserID: uid, Role: claims.Role, Village: claims.Village}, nil
}

func JWTMiddleware(cfg JWTConfig) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			if cfg.Skipper != nil && cfg.Skipper(c) {
				return next(c)
			}

			tokenStr, err := bearerToken(c, cfg.QueryParam)
			if err != nil {
				return err
			}

			p, err := ParseToken(tokenStr, cfg.SigningKey, cfg.Issuer)
			if err != nil {
				return echo.NewHTTPError(http.StatusUnauthorized, "invalid token")
			}

			c.Set("user_id", p.UserID)
			c.Set("role", p.Role)
			c.SetRequest(c.Request().WithContext(WithPrincipal(c.Request().Context(), p)))

			return next(c)
		}
	}
}

func bearerToken(c echo.Context, queryParam string) (string, error) {
	authHeader := c.Request().Header.Get("Authorization")
	if authHeader == "" {
		if queryParam != "" {
			if tok := c.QueryParam(queryParam); tok != "" {
				return tok, nil
			}
		}
		return "", echo.NewHTTPError(http.StatusUnauthorized, "missing authorization header")
	}

	parts := strings.SplitN(authHeader, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "bearer") || strings.TrimSpace(parts[1]) == "" {
		return "", echo.NewHTTPError(http.StatusUnauthorized, "invalid authorization format")
	}
	return strings.TrimSpace(parts[1]), nil
}

// TokenIssuer signs session tokens after a successful login.
type TokenIssuer struct {
	key    []byte
	issuer string
	ttl    time.Duration
	now    func() time.Time
}

func NewTokenIssuer(key []byte, issuer string, ttl time.Duration) *TokenIssuer {
	return &TokenIssuer{key: key, issuer: issuer, ttl: ttl, now: time.Now}
}

// Issue returns a signed token for p and its expiry.
func (i *TokenIssuer) Issue(p Principal) (string, time.Time, error) {
	now := i.now()
	exp := now.Add(i.ttl)
	claims := Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   strconv.FormatInt(p.UserID, 10),
			Issuer:    i.issuer,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(exp),
		},
		Role:    p.Role,
		Village: p.Village,
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(i.key)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("sign token: %w", err)
	}
	return signed, exp, nil
}
