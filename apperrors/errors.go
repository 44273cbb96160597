package apperrors

import (
	"errors"
	"fmt"
	"net/http"
)

type Kind string

const (
	KindValidation     Kind = "ValidationError"
	KindAPI            Kind = "APIError"
	KindDatabase       Kind = "DatabaseError"
	KindAuthentication Kind = "AuthenticationError"
	KindRateLimit      Kind = "RateLimitError"
	KindNotFound       Kind = "NotFoundError"
)

const (
	CodeValidation     = "VALIDATION_ERROR"
	CodeAPI            = "API_ERROR"
	CodeDatabase       = "DB_ERROR"
	CodeAuthentication = "AUTH_ERROR"
	CodeRateLimit      = "RATE_LIMIT_ERROR"
	CodeNotFound       = "NOT_FOUND"
	CodeUnexpected     = "UNEXPECTED_ERROR"
)

// UnexpectedMessage is what clients see for errors outside the hierarchy.
const UnexpectedMessage = "An unexpected error occurred"

// Error is the single application error type. Kind selects the family,
// Status the HTTP status it maps to.
type Error struct {
	Kind    Kind
	Code    string
	Message string
	Status  int
	Err     error
}

func (e *Error) Error() string {
	if e == nil {
		return ""
	}
	if e.Err == nil {
		return fmt.Sprintf("%s: %s", e.Kind, e.Message)
	}
	return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Err)
}

func (e *Error) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

// Is matches another *Error of the same Kind, so errors.Is(err, ErrValidation) works.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok || e == nil {
		return false
	}
	return t.Message == "" && t.Kind == e.Kind
}

// Sentinels for errors.Is checks.
var (
	ErrValidation     = &Error{Kind: KindValidation}
	ErrAPI            = &Error{Kind: KindAPI}
	ErrDatabase       = &Error{Kind: KindDatabase}
	ErrAuthentication = &Error{Kind: KindAuthentication}
	ErrRateLimit      = &Error{Kind: KindRateLimit}
	ErrNotFound       = &Error{Kind: KindNotFound}
)

func Validation(message string) *Error {
	return &Error{Kind: KindValidation, Code: CodeValidation, Message: message, Status: http.StatusBadRequest}
}

func API(message string, err error) *Error {
	return &Error{Kind: KindAPI, Code: CodeAPI, Message: message, Status: http.StatusServiceUnavailable, Err: err}
}

func Database(message string, err error) *Error {
	return &Error{Kind: KindDatabase, Code: CodeDatabase, Message: message, Status: http.StatusInternalServerError, Err: err}
}

func Authentication(message string) *Error {
	return &Error{Kind: KindAuthentication, Code: CodeAuthentication, Message: message, Status: http.StatusUnauthorized}
}

func RateLimit(message string) *Error {
	return &Error{Kind: KindRateLimit, Code: CodeRateLimit, Message: message, Status: http.StatusTooManyRequests}
}

func NotFound(message string) *Error {
	return &Error{Kind: KindNotFound, Code: CodeNotFound, Message: message, Status: http.StatusNotFound}
}

// As extracts the *Error from err's chain.
func As(err error) (*Error, bool) {
	var appErr *Error
	if errors.As(err, &appErr) {
		return appErr, true
	}
	return nil, false
}

// StatusCode returns the HTTP status for err, 500 when err is not an *Error.
func StatusCode(err error) int {
	if appErr, ok := As(err); ok && appErr.Status != 0 {
		return appErr.Status
	}
	return http.StatusInternalServerError
}
