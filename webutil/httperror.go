package webutil

import (
	"errors"
	"fmt"
	"net/http"
)

const (
	msgBadRequest     = "Bad Request"
	msgNotFound       = "Resource not found"
	msgConflict       = "Conflict"
	msgInternalServer = "Internal Server Error"
)

// HTTPError carries an HTTP status code and a user-facing message alongside
// an optional underlying cause.
type HTTPError struct {
	cause   error
	Code    int
	Message string
}

func (he HTTPError) Error() string {
	return he.Message
}

func (he HTTPError) Unwrap() error {
	return he.cause
}

func defaultMessageIfEmpty(initialMsg, defaultVal string) string {
	if initialMsg == "" {
		return defaultVal
	}
	return initialMsg
}

// NewHTTPError creates an HTTPError whose message doubles as its cause.
func NewHTTPError(code int, message string) *HTTPError {
	return &HTTPError{
		cause:   errors.New(message),
		Code:    code,
		Message: message,
	}
}

// NewHTTPErrorWrap creates an HTTPError around an existing cause. The message
// is what the client sees; the cause is what gets logged.
func NewHTTPErrorWrap(code int, message string, cause error) *HTTPError {
	return &HTTPError{
		cause:   cause,
		Code:    code,
		Message: message,
	}
}

func ErrBadRequest(message string) *HTTPError {
	return NewHTTPError(http.StatusBadRequest, defaultMessageIfEmpty(message, msgBadRequest))
}

func ErrBadRequestWrap(message string, cause error) *HTTPError {
	return NewHTTPErrorWrap(http.StatusBadRequest, defaultMessageIfEmpty(message, msgBadRequest), cause)
}

func ErrNotFound(message string) *HTTPError {
	return NewHTTPError(http.StatusNotFound, defaultMessageIfEmpty(message, msgNotFound))
}

func ErrConflict(message string) *HTTPError {
	return NewHTTPError(http.StatusConflict, defaultMessageIfEmpty(message, msgConflict))
}

func ErrInternalServerWrap(message string, cause error) *HTTPError {
	return NewHTTPErrorWrap(http.StatusInternalServerError, msgInternalServer, fmt.Errorf("%s: %w", message, cause))
}
