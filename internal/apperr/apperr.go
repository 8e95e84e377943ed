// Package apperr defines the error taxonomy shared by the source clients, the
// sync orchestrator and the HTTP layer.
package apperr

import (
	"errors"
	"fmt"
	"net/http"
	"time"
)

// Code identifies a class of failure.
type Code string

const (
	CodeInvalidRange      Code = "INVALID_RANGE"      // 400
	CodeInvalidRequest    Code = "INVALID_REQUEST"    // 400
	CodeNotFound          Code = "NOT_FOUND"          // 404
	CodeRateLimited       Code = "RATE_LIMITED"       // 429
	CodeBlocked           Code = "BLOCKED"            // 502
	CodeSourceUnavailable Code = "SOURCE_UNAVAILABLE" // 503
	CodeInternal          Code = "INTERNAL"           // 500
)

// Error is a structured error carrying a code, an HTTP status and the
// upstream source (if any) that produced it.
type Error struct {
	Code    Code
	Status  int
	Source  string
	Message string
	Err     error
}

// Error implements the error interface.
func (e *Error) Error() string {
	prefix := string(e.Code)
	if e.Source != "" {
		prefix = fmt.Sprintf("%s [%s]", e.Code, e.Source)
	}
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", prefix, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", prefix, e.Message)
}

// Unwrap supports errors.Is / errors.As on the underlying cause.
func (e *Error) Unwrap() error {
	return e.Err
}

// NewInvalidRange reports a date span larger than the allowed maximum, or an
// inverted range.
func NewInvalidRange(from, to time.Time, maxDays int) *Error {
	return &Error{
		Code:   CodeInvalidRange,
		Status: http.StatusBadRequest,
		Message: fmt.Sprintf("date range %s..%s is invalid (max %d days)",
			from.Format(time.DateOnly), to.Format(time.DateOnly), maxDays),
	}
}

// NewInvalidRequest reports a malformed caller request.
func NewInvalidRequest(msg string) *Error {
	return &Error{
		Code:    CodeInvalidRequest,
		Status:  http.StatusBadRequest,
		Message: msg,
	}
}

// NewNotFound reports a missing (or not owned) entity.
func NewNotFound(kind, id string) *Error {
	return &Error{
		Code:    CodeNotFound,
		Status:  http.StatusNotFound,
		Message: fmt.Sprintf("%s not found: %s", kind, id),
	}
}

// NewRateLimited reports upstream throttling (HTTP 429).
func NewRateLimited(source string, err error) *Error {
	return &Error{
		Code:    CodeRateLimited,
		Status:  http.StatusTooManyRequests,
		Source:  source,
		Message: "upstream is throttling requests",
		Err:     err,
	}
}

// NewBlocked reports that the upstream rejected our identity (HTTP 403 or a
// missing User-Agent).
func NewBlocked(source string, err error) *Error {
	return &Error{
		Code:    CodeBlocked,
		Status:  http.StatusBadGateway,
		Source:  source,
		Message: "upstream rejected the client identity",
		Err:     err,
	}
}

// NewSourceUnavailable reports a network, timeout, status or parse failure.
func NewSourceUnavailable(source string, err error) *Error {
	return &Error{
		Code:    CodeSourceUnavailable,
		Status:  http.StatusServiceUnavailable,
		Source:  source,
		Message: "upstream unavailable",
		Err:     err,
	}
}

// NewInternal wraps an unexpected local failure.
func NewInternal(err error) *Error {
	msg := "internal error"
	if err != nil {
		msg = err.Error()
	}
	return &Error{
		Code:    CodeInternal,
		Status:  http.StatusInternalServerError,
		Message: msg,
		Err:     err,
	}
}

// CodeOf returns the code of the first *Error in err's chain, or CodeInternal.
func CodeOf(err error) Code {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return CodeInternal
}

// Is reports whether err carries the given code.
func Is(err error, code Code) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.Code == code
	}
	return false
}

// StatusOf maps err to an HTTP status code.
func StatusOf(err error) int {
	var e *Error
	if errors.As(err, &e) && e.Status != 0 {
		return e.Status
	}
	return http.StatusInternalServerError
}

// Retryable reports whether a caller may retry the failed operation later.
// Nothing in this module retries on its own.
func Retryable(err error) bool {
	switch CodeOf(err) {
	case CodeRateLimited, CodeSourceUnavailable:
		return true
	}
	return false
}
