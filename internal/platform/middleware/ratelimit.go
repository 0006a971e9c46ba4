package middleware

import (
	"math"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/labstack/echo/v4"
	"golang.org/x/time/rate"

	"github.com/villagecare/villagecare/internal/platform/auth"
)

type RateLimitConfig struct {
	RequestsPerSecond float64
	BurstSize         int
	// IdleTTL evicts limiters for keys not seen within the window.
	IdleTTL time.Duration
}

func DefaultRateLimitConfig() RateLimitConfig {
	return RateLimitConfig{
		RequestsPerSecond: 20,
		BurstSize:         40,
		IdleTTL:           10 * time.Minute,
	}
}

type limiterEntry struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// limiterStore holds one token bucket per client key.
type limiterStore struct {
	mu        sync.Mutex
	limiters  map[string]*limiterEntry
	cfg       RateLimitConfig
	lastSweep time.Time
	now       func() time.Time
}

func newLimiterStore(cfg RateLimitConfig) *limiterStore {
	return &limiterStore{
		limiters: make(map[string]*limiterEntry),
		cfg:      cfg,
		now:      time.Now,
	}
}

func (s *limiterStore) get(key string) *rate.Limiter {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	if s.cfg.IdleTTL > 0 && now.Sub(s.lastSweep) > s.cfg.IdleTTL {
		for k, e := range s.limiters {
			if now.Sub(e.lastSeen) > s.cfg.IdleTTL {
				delete(s.limiters, k)
			}
		}
		s.lastSweep = now
	}

	e, ok := s.limiters[key]
	if !ok {
		e = &limiterEntry{limiter: rate.NewLimiter(rate.Limit(s.cfg.RequestsPerSecond), s.cfg.BurstSize)}
		s.limiters[key] = e
	}
	e.lastSeen = now
	return e.limiter
}

func (s *limiterStore) size() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.limiters)
}

// rateKey limits authenticated callers per user and anonymous callers per IP.
func rateKey(c echo.Context) string {
	if p, ok := auth.PrincipalFromContext(c.Request().Context()); ok {
		return "user:" + strconv.FormatInt(p.UserID, 10)
	}
	return "ip:" + c.RealIP()
}

// RateLimit returns a per-client token bucket rate limiter.
func RateLimit(cfg RateLimitConfig) echo.MiddlewareFunc {
	store := newLimiterStore(cfg)
	limitHeader := strconv.FormatFloat(cfg.RequestsPerSecond, 'f', -1, 64)

	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			limiter := store.get(rateKey(c))
			c.Response().Header().Set("X-RateLimit-Limit", limitHeader)

			res := limiter.Reserve()
			if !res.OK() {
				return echo.NewHTTPError(http.StatusTooManyRequests, "rate limit exceeded")
			}
			if delay := res.Delay(); delay > 0 {
				res.Cancel()
				c.Response().Header().Set("Retry-After", strconv.Itoa(int(math.Ceil(delay.Seconds()))))
				c.Response().Header().Set("X-RateLimit-Remaining", "0")
				return echo.NewHTTPError(http.StatusTooManyRequests, "rate limit exceeded")
			}

			c.Response().Header().Set("X-RateLimit-Remaining", strconv.Itoa(int(limiter.Tokens())))
			return next(c)
		}
	}
}
