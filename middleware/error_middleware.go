package middleware

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"runtime/debug"

	"go-tours/utils/errors"
)

// HandlerFunc is an http handler that reports failure by returning it.
type HandlerFunc func(w http.ResponseWriter, r *http.Request) error

// ErrorHandler is the single place that turns errors into responses.
// Development mode adds the raw error and a stack trace.
type ErrorHandler struct {
	Development bool
}

func NewErrorHandler(env string) *ErrorHandler {
	return &ErrorHandler{Development: env != "production"}
}

// Handle adapts fn so returned errors reach WriteError.
func (e *ErrorHandler) Handle(fn HandlerFunc) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if err := fn(w, r); err != nil {
			e.WriteError(w, r, err)
		}
	})
}

// Recover turns a panic inside the request into an unexpected error response.
func (e *ErrorHandler) Recover(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if rec := recover(); rec != nil {
				if rec == http.ErrAbortHandler {
					panic(rec)
				}
				stack := debug.Stack()
				slog.Error("Panic recovered", "panic", rec, "path", r.URL.Path, "request_id", RequestIDFrom(r.Context()), "stack", string(stack))
				e.write(w, r, fmt.Errorf("panic: %v", rec), stack)
			}
		}()
		next.ServeHTTP(w, r)
	})
}

// WriteError writes err as a JSON error envelope.
func (e *ErrorHandler) WriteError(w http.ResponseWriter, r *http.Request, err error) {
	var stack []byte
	if e.Development {
		stack = debug.Stack()
	}
	e.write(w, r, err, stack)
}

func (e *ErrorHandler) write(w http.ResponseWriter, r *http.Request, err error, stack []byte) {
	translated := errors.Translate(err)
	var appErr *errors.AppError
	operational := errors.As(translated, &appErr) && appErr.Operational
	if !operational {
		appErr = errors.ErrInternal
	}

	// Log server errors
	if appErr.StatusCode >= 500 {
		slog.Error("Server error", "error", err, "path", r.URL.Path, "method", r.Method, "request_id", RequestIDFrom(r.Context()))
	}

	body := map[string]any{
		"status":  appErr.Status,
		"message": appErr.Message,
	}
	if e.Development {
		body["error"] = err.Error()
		body["stack"] = string(stack)
		if !operational {
			body["message"] = err.Error()
		}
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(appErr.StatusCode)
	json.NewEncoder(w).Encode(body)
}

// NotFound answers routes nothing matched.
func (e *ErrorHandler) NotFound() http.Handler {
	return e.Handle(func(w http.ResponseWriter, r *http.Request) error {
		return errors.NotFound(fmt.Sprintf("Can't find %s on this server!", r.URL.Path))
	})
}
