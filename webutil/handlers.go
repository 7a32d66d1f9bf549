package webutil

import (
	"database/sql"
	"errors"
	"log/slog"
	"net/http"
)

// AppHandler is a handler function that returns an error instead of writing
// error responses itself.
type AppHandler func(w http.ResponseWriter, r *http.Request) error

// MakeHandler adapts an AppHandler to http.HandlerFunc. Returned errors are
// logged and turned into a standardized JSON error body; the status code
// comes from the error when it is an *HTTPError.
func MakeHandler(handler AppHandler) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		err := handler(w, r)
		if err == nil {
			return
		}

		var httpErr *HTTPError
		var publicMessage string
		var statusCode int

		switch {
		case errors.As(err, &httpErr):
			statusCode = httpErr.Code
			publicMessage = httpErr.Message
			logLevel := slog.LevelWarn
			if statusCode >= 500 {
				logLevel = slog.LevelError
			}
			slog.Log(r.Context(), logLevel, "Request failed",
				"code", httpErr.Code,
				"msg", httpErr.Message,
				"cause", errors.Unwrap(httpErr),
				"path", r.URL.Path,
				"method", r.Method,
			)

		case errors.Is(err, sql.ErrNoRows):
			statusCode = http.StatusNotFound
			publicMessage = "Resource not found"
			slog.Info("Resource not found", "path", r.URL.Path, "method", r.Method, "error", err)

		default:
			statusCode = http.StatusInternalServerError
			publicMessage = "Internal Server Error"
			slog.Error("Unhandled internal error", "path", r.URL.Path, "method", r.Method, "error", err)
		}

		if HasResponseWriterSentHeader(w) {
			// The handler already wrote a response; all we can do is log.
			slog.Warn("Handler returned error after writing response header",
				"path", r.URL.Path,
				"method", r.Method,
				"error", err,
			)
			return
		}
		RespondWithJSON(w, statusCode, map[string]string{"error": publicMessage})
	}
}
