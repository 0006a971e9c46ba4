package middleware

import (
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"

	"github.com/labstack/echo/v4"
)

// BodyLimit caps request bodies at defaultLimit, or uploadLimit for POSTs
// to the paths in uploadPaths. Limits use K, M and G suffixes ("1M", "6M");
// a bare number is bytes.
func BodyLimit(defaultLimit, uploadLimit string, uploadPaths ...string) echo.MiddlewareFunc {
	defaultBytes := parseLimit(defaultLimit)
	uploadBytes := parseLimit(uploadLimit)
	uploads := make(map[string]bool, len(uploadPaths))
	for _, p := range uploadPaths {
		uploads[p] = true
	}

	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			req := c.Request()
			if req.Body == nil || req.Body == http.NoBody {
				return next(c)
			}

			limit := defaultBytes
			if req.Method == http.MethodPost && uploads[req.URL.Path] {
				limit = uploadBytes
			}

			if req.ContentLength > limit {
				return payloadTooLarge(limit)
			}

			req.Body = &limitedReadCloser{
				ReadCloser: req.Body,
				remaining:  limit,
				limit:      limit,
			}

			return next(c)
		}
	}
}

// limitedReadCloser fails reads once more than limit bytes were consumed,
// covering bodies with a missing or wrong Content-Length.
type limitedReadCloser struct {
	io.ReadCloser
	remaining int64
	limit     int64
	exceeded  bool
}

func (r *limitedReadCloser) Read(p []byte) (n int, err error) {
	if r.exceeded {
		return 0, payloadTooLarge(r.limit)
	}

	toRead := int64(len(p))
	if toRead > r.remaining+1 {
		toRead = r.remaining + 1
	}

	n, err = r.ReadCloser.Read(p[:toRead])
	r.remaining -= int64(n)

	if r.remaining < 0 {
		r.exceeded = true
		return 0, payloadTooLarge(r.limit)
	}

	return n, err
}

func payloadTooLarge(limit int64) *echo.HTTPError {
	return echo.NewHTTPError(http.StatusRequestEntityTooLarge,
		fmt.Sprintf("request body exceeds maximum allowed size of %d bytes", limit))
}

// parseLimit converts "512K", "6M", "1G" or a byte count into bytes. Unparseable
// input falls back to 1 MB.
func parseLimit(s string) int64 {
	s = strings.ToUpper(strings.TrimSpace(s))
	if s == "" {
		return 1 << 20
	}

	var multiplier int64 = 1
	s = strings.TrimSuffix(s, "B")
	switch {
	case strings.HasSuffix(s, "G"):
		multiplier = 1 << 30
	case strings.HasSuffix(s, "M"):
		multiplier = 1 << 20
	case strings.HasSuffix(s, "K"):
		multiplier = 1 << 10
	}
	if multiplier > 1 {
		s = s[:len(s)-1]
	}

	n, err := strconv.ParseInt(s, 10, 64)
	if err != nil || n <= 0 {
		return 1 << 20
	}
	return n * multiplier
}
