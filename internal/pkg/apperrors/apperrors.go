// Package apperrors classifies engine failures into the kinds callers act on.
package apperrors

import (
	"errors"
	"fmt"
	"net/http"
)

type ErrorType string

const (
	ErrValidation    ErrorType = "VALIDATION_ERROR"
	ErrRiskDenied    ErrorType = "RISK_DENIED"
	ErrTransient     ErrorType = "TRANSIENT_INFRA_ERROR"
	ErrConfigInvalid ErrorType = "CONFIG_INVALID"
	ErrFatal         ErrorType = "FATAL"
	ErrNotFound      ErrorType = "NOT_FOUND"
	ErrConflict      ErrorType = "CONFLICT"
	ErrForbidden     ErrorType = "FORBIDDEN"
	ErrUnauthorized  ErrorType = "UNAUTHORIZED"
	ErrRateLimited   ErrorType = "RATE_LIMITED"
	ErrInternal      ErrorType = "INTERNAL_ERROR"
)

// Risk denial reasons.
const (
	ReasonGameDisabled = "game disabled"
	ReasonMaintenance  = "maintenance mode"
	ReasonDailyLimit   = "daily limit exceeded"
	ReasonHourlyLoss   = "hourly loss cap exceeded"
	ReasonHourlyWin    = "hourly win cap exceeded"
	ReasonAutoShutdown = "auto shutdown"
	ReasonTierHalted   = "tier halted"
)

// AppError is the standard error struct for the application.
type AppError struct {
	Type       ErrorType `json:"code"`
	Message    string    `json:"message"`
	Reason     string    `json:"reason,omitempty"`
	Suggestion string    `json:"suggestion,omitempty"`
	HTTPStatus int       `json:"-"`
	Cause      error     `json:"-"`
}

func (e *AppError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Cause)
	}
	return e.Message
}

func (e *AppError) Unwrap() error {
	return e.Cause
}

// Retryable reports whether the caller may retry the same request.
func (e *AppError) Retryable() bool {
	return e.Type == ErrTransient || e.Type == ErrConflict
}

func New(errType ErrorType, msg string, cause error) *AppError {
	return &AppError{
		Type:       errType,
		Message:    msg,
		Cause:      cause,
		HTTPStatus: mapTypeToStatus(errType),
		Suggestion: mapTypeToSuggestion(errType),
	}
}

func NewValidation(msg string, cause error) *AppError {
	return New(ErrValidation, msg, cause)
}

// NewRiskDenied builds a denial whose message is the reason itself.
func NewRiskDenied(reason string) *AppError {
	e := New(ErrRiskDenied, reason, nil)
	e.Reason = reason
	return e
}

func NewTransient(msg string, cause error) *AppError {
	return New(ErrTransient, msg, cause)
}

func NewConfigInvalid(msg string, cause error) *AppError {
	return New(ErrConfigInvalid, msg, cause)
}

func NewFatal(msg string, cause error) *AppError {
	return New(ErrFatal, msg, cause)
}

// Wrap converts any error into an AppError, keeping existing classification.
func Wrap(err error) *AppError {
	if err == nil {
		return nil
	}
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr
	}
	return New(ErrInternal, err.Error(), err)
}

// TypeOf returns the classification of err, or ErrInternal.
func TypeOf(err error) ErrorType {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.Type
	}
	return ErrInternal
}

// Is reports whether err is classified as t.
func Is(err error, t ErrorType) bool {
	return err != nil && TypeOf(err) == t
}

func mapTypeToStatus(t ErrorType) int {
	switch t {
	case ErrValidation, ErrConfigInvalid:
		return http.StatusBadRequest
	case ErrRiskDenied:
		return http.StatusForbidden
	case ErrForbidden:
		return http.StatusForbidden
	case ErrUnauthorized:
		return http.StatusUnauthorized
	case ErrNotFound:
		return http.StatusNotFound
	case ErrConflict:
		return http.StatusConflict
	case ErrRateLimited:
		return http.StatusTooManyRequests
	case ErrTransient, ErrFatal:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func mapTypeToSuggestion(t ErrorType) string {
	switch t {
	case ErrRiskDenied:
		return "Check wager limits or try again later."
	case ErrTransient:
		return "Retry the request with the same idempotency key."
	case ErrConflict:
		return "Wait for the in-flight wager to finish."
	case ErrConfigInvalid:
		return "Fix the settings document and resubmit."
	case ErrFatal:
		return "Contact an operator."
	case ErrRateLimited:
		return "Slow down."
	default:
		return ""
	}
}
