package apperr

import (
	"errors"
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"
)

const genericFailure = "something went wrong, please try again later"

// Result is the envelope every API response is rendered in.
type Result struct {
	Success   bool              `json:"success"`
	ErrorKind Kind              `json:"error_kind,omitempty"`
	Message   string            `json:"message"`
	Fields    map[string]string `json:"fields,omitempty"`
	Data      interface{}       `json:"data,omitempty"`
}

// OK builds a successful result.
func OK(message string, data interface{}) Result {
	return Result{Success: true, Message: message, Data: data}
}

// Failure builds a failed result from err. Infrastructure details are never
// exposed to the caller.
func Failure(err error) Result {
	var appErr *Error
	if !errors.As(err, &appErr) || appErr.Kind == KindInfrastructure {
		return Result{ErrorKind: KindInfrastructure, Message: genericFailure}
	}
	return Result{ErrorKind: appErr.Kind, Message: appErr.Message, Fields: appErr.Fields}
}

// ErrorHandler returns an echo.HTTPErrorHandler that renders errors as Result
// envelopes and logs infrastructure failures.
func ErrorHandler(logger zerolog.Logger) echo.HTTPErrorHandler {
	return func(err error, c echo.Context) {
		if c.Response().Committed {
			return
		}

		status := http.StatusInternalServerError
		var result Result

		var appErr *Error
		var httpErr *echo.HTTPError
		switch {
		case errors.As(err, &appErr):
			status = appErr.HTTPStatus()
			result = Failure(appErr)
		case errors.As(err, &httpErr):
			status = httpErr.Code
			result = Result{ErrorKind: kindForStatus(status), Message: http.StatusText(status)}
			if msg, ok := httpErr.Message.(string); ok && msg != "" {
				result.Message = msg
			}
		default:
			result = Failure(err)
		}

		if status >= http.StatusInternalServerError {
			rid, _ := c.Get("request_id").(string)
			logger.Error().Err(err).
				Str("request_id", rid).
				Str("path", c.Request().URL.Path).
				Msg("request failed")
		}

		if c.Request().Method == http.MethodHead {
			_ = c.NoContent(status)
			return
		}
		_ = c.JSON(status, result)
	}
}

func kindForStatus(status int) Kind {
	switch status {
	case http.StatusBadRequest, http.StatusRequestEntityTooLarge, http.StatusUnsupportedMediaType:
		return KindValidation
	case http.StatusUnauthorized, http.StatusForbidden:
		return KindPermission
	case http.StatusNotFound, http.StatusMethodNotAllowed:
		return KindNotFound
	case http.StatusConflict, http.StatusTooManyRequests:
		return KindConflict
	default:
		return KindInfrastructure
	}
}
