package errors

import (
	stderrors "errors"
	"fmt"
	"net/http"
	"strings"
)

// AppError represents an operational error: an anticipated failure raised by
// application code with a status code and a message that is safe to show.
type AppError struct {
	StatusCode  int    `json:"-"`
	Status      string `json:"status"`
	Message     string `json:"message"`
	Operational bool   `json:"-"`
	Err         error  `json:"-"`
}

// Error returns the error message
func (e *AppError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

func (e *AppError) Unwrap() error {
	return e.Err
}

// New builds an operational error. 4xx codes are reported as "fail", the rest as "error".
func New(message string, statusCode int) *AppError {
	return &AppError{
		StatusCode:  statusCode,
		Status:      statusFor(statusCode),
		Message:     message,
		Operational: true,
	}
}

func statusFor(code int) string {
	if code >= 400 && code < 500 {
		return "fail"
	}
	return "error"
}

// Wrap keeps an existing AppError untouched, otherwise it attaches err as the
// cause of a new operational error.
func Wrap(err error, message string, statusCode int) *AppError {
	var appErr *AppError
	if stderrors.As(err, &appErr) {
		return appErr
	}
	e := New(message, statusCode)
	e.Err = err
	return e
}

func BadRequest(format string, args ...any) *AppError {
	return New(fmt.Sprintf(format, args...), http.StatusBadRequest)
}

func NotFound(message string) *AppError {
	return New(message, http.StatusNotFound)
}

func Unauthorized(message string) *AppError {
	return New(message, http.StatusUnauthorized)
}

func Forbidden(message string) *AppError {
	return New(message, http.StatusForbidden)
}

// CastError reports a value that could not be converted to the type of path.
func CastError(path, value string) *AppError {
	return BadRequest("Invalid %s: %s.", path, value)
}

// ValidationError collects field messages into one operational error.
func ValidationError(messages []string) *AppError {
	return BadRequest("Invalid input data. %s", strings.Join(messages, ". "))
}

var (
	ErrNoDocument      = NotFound("No document found with that ID")
	ErrNotLoggedIn     = Unauthorized("You are not logged in! Please log in to get access.")
	ErrInvalidToken    = Unauthorized("Invalid token. Please log in again!")
	ErrExpiredToken    = Unauthorized("Your token has expired! Please log in again.")
	ErrUserGone        = Unauthorized("The user belonging to this token does no longer exist.")
	ErrPasswordChanged = Unauthorized("User recently changed password! Please log in again.")
	ErrForbidden       = Forbidden("You do not have permission to perform this action.")
	ErrTooManyRequests = New("Too many requests from this IP, please try again in an hour!", http.StatusTooManyRequests)
	ErrInternal        = New("Something went very wrong!", http.StatusInternalServerError)
)

// IsOperational reports whether err (or something it wraps) is an operational AppError.
func IsOperational(err error) bool {
	var appErr *AppError
	return stderrors.As(err, &appErr) && appErr.Operational
}

// As is re-exported so callers importing this package as "errors" keep the stdlib helper.
func As(err error, target any) bool {
	return stderrors.As(err, target)
}

func Is(err, target error) bool {
	return stderrors.Is(err, target)
}
