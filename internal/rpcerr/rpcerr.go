// Package rpcerr defines the structured error returned by remote methods and
// live feeds: a machine-readable code, a human-readable reason and, for
// validation failures, the offending field.
package rpcerr

import (
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/go-playground/validator/v10"
)

type Code string

const (
	CodeValidation    Code = "validation-error"
	CodeNotAuthorized Code = "not-authorized"
	CodeForbidden     Code = "forbidden"
	CodeNotFound      Code = "not-found"
	CodeConflict      Code = "conflict"
	CodeRateLimited   Code = "too-many-requests"
	CodeUnavailable   Code = "unavailable"
	CodeInternal      Code = "internal"
)

// Error is safe to serialize to clients.
type Error struct {
	Code   Code   `json:"code"`
	Reason string `json:"reason"`
	Field  string `json:"field,omitempty"`

	cause error
}

func (e *Error) Error() string {
	if e.Field != "" {
		return fmt.Sprintf("%s: %s (%s)", e.Code, e.Reason, e.Field)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Reason)
}

func (e *Error) Unwrap() error { return e.cause }

// Is matches any *Error with the same code, so callers can test the category
// with errors.Is(err, rpcerr.ErrNotFound) regardless of the reason text.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Code == e.Code && (t.Reason == "" || t.Reason == e.Reason)
}

// Category markers for errors.Is.
var (
	ErrValidation    = &Error{Code: CodeValidation}
	ErrNotAuthorized = &Error{Code: CodeNotAuthorized}
	ErrForbidden     = &Error{Code: CodeForbidden}
	ErrNotFound      = &Error{Code: CodeNotFound}
	ErrConflict      = &Error{Code: CodeConflict}
	ErrRateLimited   = &Error{Code: CodeRateLimited}
	ErrUnavailable   = &Error{Code: CodeUnavailable}
)

func Validation(field, reason string) *Error {
	return &Error{Code: CodeValidation, Reason: reason, Field: field}
}

func NotAuthorized(reason string) *Error {
	return &Error{Code: CodeNotAuthorized, Reason: reason}
}

func Forbidden(reason string) *Error {
	return &Error{Code: CodeForbidden, Reason: reason}
}

func NotFound(reason string) *Error {
	return &Error{Code: CodeNotFound, Reason: reason}
}

func Conflict(reason string) *Error {
	return &Error{Code: CodeConflict, Reason: reason}
}

func RateLimited(reason string) *Error {
	return &Error{Code: CodeRateLimited, Reason: reason}
}

// Unavailable wraps a transient infrastructure failure.
func Unavailable(reason string, cause error) *Error {
	return &Error{Code: CodeUnavailable, Reason: reason, cause: cause}
}

// As converts any error into an *Error. Unknown errors become internal errors
// with a generic reason; the original is kept as the cause for logging.
func As(err error) *Error {
	if err == nil {
		return nil
	}
	var e *Error
	if errors.As(err, &e) {
		return e
	}
	var verrs validator.ValidationErrors
	if errors.As(err, &verrs) {
		return FromValidation(verrs)
	}
	return &Error{Code: CodeInternal, Reason: "internal server error", cause: err}
}

// FromValidation reports the first failing field of a validator error.
func FromValidation(verrs validator.ValidationErrors) *Error {
	if len(verrs) == 0 {
		return Validation("", "invalid input")
	}
	fe := verrs[0]
	field := strings.ToLower(fe.Field())
	var reason string
	switch fe.Tag() {
	case "required":
		reason = field + " is required"
	case "min":
		reason = fmt.Sprintf("%s must be at least %s", field, fe.Param())
	case "max":
		reason = fmt.Sprintf("%s must be at most %s", field, fe.Param())
	case "email":
		reason = field + " must be a valid email address"
	case "oneof":
		reason = fmt.Sprintf("%s must be one of [%s]", field, fe.Param())
	default:
		reason = fmt.Sprintf("%s failed %s validation", field, fe.Tag())
	}
	return &Error{Code: CodeValidation, Reason: reason, Field: field, cause: verrs}
}

// HTTPStatus maps an error to the status code the API responds with.
func HTTPStatus(err error) int {
	switch As(err).Code {
	case CodeValidation:
		return http.StatusBadRequest
	case CodeNotAuthorized:
		return http.StatusUnauthorized
	case CodeForbidden:
		return http.StatusForbidden
	case CodeNotFound:
		return http.StatusNotFound
	case CodeConflict:
		return http.StatusConflict
	case CodeRateLimited:
		return http.StatusTooManyRequests
	case CodeUnavailable:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// Retryable reports whether an automatic retry could succeed. Validation and
// authorization failures never are.
func Retryable(err error) bool {
	return As(err).Code == CodeUnavailable
}
