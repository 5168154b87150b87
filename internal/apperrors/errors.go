package apperrors

import (
	"errors"
	"fmt"
	"net/http"
	"time"
)

// ErrorCode identifies a class of failure independently of its message.
type ErrorCode string

const (
	CodeValidation   ErrorCode = "VALIDATION_FAILED"
	CodeNotFound     ErrorCode = "NOT_FOUND"
	CodeUnauthorized ErrorCode = "UNAUTHORIZED"
	CodeForbidden    ErrorCode = "FORBIDDEN"
	CodeExpired      ErrorCode = "EXPIRED"
	CodeRateLimited  ErrorCode = "RATE_LIMITED"
	CodeGateway      ErrorCode = "GATEWAY_ERROR"
	CodeIssuance     ErrorCode = "ISSUANCE_FAILED"
	CodeInternal     ErrorCode = "INTERNAL_ERROR"
)

// AppError is the error type shared by services and handlers.
type AppError struct {
	Code     ErrorCode   `json:"code"`
	Message  string      `json:"message"`
	Details  interface{} `json:"details,omitempty"`
	Err      error       `json:"-"`
	HTTPCode int         `json:"-"`

	// RetryAfter is sent as the Retry-After header when positive.
	RetryAfter time.Duration `json:"-"`
}

func (e *AppError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s (%v)", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *AppError) Unwrap() error {
	return e.Err
}

// Is matches on Code so sentinel values compare equal to any error of the same class.
func (e *AppError) Is(target error) bool {
	var t *AppError
	if !errors.As(target, &t) {
		return false
	}
	return t.Code == e.Code
}

func (e *AppError) WithDetails(details interface{}) *AppError {
	e.Details = details
	return e
}

func (e *AppError) WithRetryAfter(d time.Duration) *AppError {
	e.RetryAfter = d
	return e
}

func New(code ErrorCode, message string, httpCode int) *AppError {
	return &AppError{Code: code, Message: message, HTTPCode: httpCode}
}

func Wrap(err error, code ErrorCode, message string, httpCode int) *AppError {
	return &AppError{Code: code, Message: message, Err: err, HTTPCode: httpCode}
}

func Validation(message string) *AppError {
	return New(CodeValidation, message, http.StatusBadRequest)
}

func NotFound(message string) *AppError {
	return New(CodeNotFound, message, http.StatusNotFound)
}

func Unauthorized(message string) *AppError {
	return New(CodeUnauthorized, message, http.StatusUnauthorized)
}

func Forbidden(message string) *AppError {
	return New(CodeForbidden, message, http.StatusForbidden)
}

func Expired(message string) *AppError {
	return New(CodeExpired, message, http.StatusGone)
}

func RateLimited(message string) *AppError {
	return New(CodeRateLimited, message, http.StatusTooManyRequests)
}

// Gateway wraps an upstream payment provider failure. The message is safe to show
// to clients; the upstream detail stays in Err for the logs.
func Gateway(err error, issue string) *AppError {
	e := Wrap(err, CodeGateway, "Payment provider error", http.StatusInternalServerError)
	if issue != "" {
		e.Details = map[string]string{"issue": issue}
	}
	return e
}

// Issuance marks a key issuance failure after the payment was recorded.
func Issuance(err error) *AppError {
	return Wrap(err, CodeIssuance, "Payment recorded but key issuance failed", http.StatusAccepted)
}

func Internal(err error) *AppError {
	return Wrap(err, CodeInternal, "Internal server error", http.StatusInternalServerError)
}

// Sentinels for errors.Is checks.
var (
	ErrValidation   = Validation("validation failed")
	ErrNotFound     = NotFound("not found")
	ErrUnauthorized = Unauthorized("unauthorized")
	ErrForbidden    = Forbidden("forbidden")
	ErrExpired      = Expired("expired")
	ErrRateLimited  = RateLimited("rate limited")
	ErrGateway      = New(CodeGateway, "gateway error", http.StatusInternalServerError)
	ErrIssuance     = New(CodeIssuance, "issuance failed", http.StatusAccepted)
)

// From converts any error into an AppError, hiding unknown errors behind a 500.
func From(err error) *AppError {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr
	}
	return Internal(err)
}
