package types

import (
	"errors"
	"fmt"
)

// ErrorCode is a typed string for categorizing application errors.
type ErrorCode string

// Error code constants. All packages MUST use these constants instead of
// hardcoded strings so that workers can route errors by category.
const (
	// Validation / state machine
	ErrCodeValidationNoAreas      ErrorCode = "validation_no_areas"
	ErrCodeValidationSelfApproval ErrorCode = "validation_self_approval"
	ErrCodeTransitionInvalid      ErrorCode = "transition_invalid"

	// Provider (fatal): configuration or payload construction problems that
	// no amount of retrying will fix.
	ErrCodeProviderUnknown ErrorCode = "provider_unknown"
	ErrCodeProviderPayload ErrorCode = "provider_payload_invalid"

	// Provider (retryable): both the primary and failover endpoints failed.
	ErrCodeProviderRetryable ErrorCode = "provider_delivery_retryable"

	// Not found
	ErrCodeNotFoundMessage         ErrorCode = "not_found_broadcast_message"
	ErrCodeNotFoundEvent           ErrorCode = "not_found_broadcast_event"
	ErrCodeNotFoundProviderMessage ErrorCode = "not_found_provider_message"
	ErrCodeNotFoundService         ErrorCode = "not_found_service_settings"

	// Internal
	ErrCodeInternalDB         ErrorCode = "internal_database_error"
	ErrCodeInternalQueue      ErrorCode = "internal_queue_error"
	ErrCodeInternalUnexpected ErrorCode = "internal_unexpected_error"
)

// AppError is the standard application error type used throughout the
// dispatcher. All domain errors should be expressed as AppError to enable
// consistent categorization and error chain support.
type AppError struct {
	Code    ErrorCode      `json:"code"`
	Message string         `json:"message"`
	Err     error          `json:"-"`
	Details map[string]any `json:"details,omitempty"`
}

// Error implements the error interface.
func (e *AppError) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Unwrap returns the underlying error for errors.Is/errors.As support.
func (e *AppError) Unwrap() error {
	return e.Err
}

// NewAppError creates a new AppError with the given code, message, and
// optional underlying error. This is the standard constructor.
func NewAppError(code ErrorCode, message string, err error) *AppError {
	return &AppError{
		Code:    code,
		Message: message,
		Err:     err,
	}
}

// NewAppErrorWithDetails creates a new AppError carrying structured details.
func NewAppErrorWithDetails(code ErrorCode, message string, err error, details map[string]any) *AppError {
	return &AppError{
		Code:    code,
		Message: message,
		Err:     err,
		Details: details,
	}
}

// ErrorCodeOf extracts the ErrorCode from an error chain, or
// ErrCodeInternalUnexpected if the chain contains no AppError.
func ErrorCodeOf(err error) ErrorCode {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.Code
	}
	return ErrCodeInternalUnexpected
}

// IsRetryableDelivery reports whether the error is a transient delivery
// failure: both provider endpoints were tried and neither succeeded. These
// errors trigger the retry-eligibility check rather than escaping to the
// task queue's failure path.
func IsRetryableDelivery(err error) bool {
	return ErrorCodeOf(err) == ErrCodeProviderRetryable
}

// IsFatalProvider reports whether the error is a fatal configuration or
// payload construction failure. Fatal errors are never retried; they escape
// so operational alerting can distinguish "we will never succeed" from
// "we gave up by design".
func IsFatalProvider(err error) bool {
	switch ErrorCodeOf(err) {
	case ErrCodeProviderUnknown, ErrCodeProviderPayload:
		return true
	}
	return false
}
