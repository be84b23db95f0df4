package errors

import (
	"errors"
	"fmt"
)

// ErrorCode represents a category of application error.
type ErrorCode string

const (
	// ErrCodeValidation indicates malformed or missing input.
	ErrCodeValidation ErrorCode = "validation"
	// ErrCodeAuth indicates missing or invalid caller credentials.
	ErrCodeAuth ErrorCode = "auth"
	// ErrCodeForbidden indicates the caller does not own the referenced resource.
	ErrCodeForbidden ErrorCode = "forbidden"
	// ErrCodeSecurity indicates a URL rejected by the download allow-list.
	ErrCodeSecurity ErrorCode = "security"
	// ErrCodeNotFound indicates a resource was not found.
	ErrCodeNotFound ErrorCode = "not_found"
	// ErrCodeConflict indicates a conflict with existing data (e.g., unique constraint violation).
	ErrCodeConflict ErrorCode = "conflict"
	// ErrCodeNetwork indicates a transient outbound fetch failure.
	ErrCodeNetwork ErrorCode = "network"
	// ErrCodeRateLimit indicates the provider rejected a request for throttling reasons.
	ErrCodeRateLimit ErrorCode = "rate_limit"
	// ErrCodeUnavailable indicates the provider reported itself temporarily unavailable.
	ErrCodeUnavailable ErrorCode = "unavailable"
	// ErrCodeStorage indicates an object-storage write failure.
	ErrCodeStorage ErrorCode = "storage"
	// ErrCodeTransaction indicates a durable-record transaction failure.
	ErrCodeTransaction ErrorCode = "transaction"
	// ErrCodeTimeout indicates an operation exceeded its deadline or a generation
	// stayed in flight beyond its stuck threshold.
	ErrCodeTimeout ErrorCode = "timeout"
	// ErrCodeInternal indicates an internal server error.
	ErrCodeInternal ErrorCode = "internal"
)

// AppError represents a structured application error with a code, message, and optional cause.
// It supports error wrapping and unwrapping for use with errors.Is and errors.As.
type AppError struct {
	// Code categorizes the error type
	Code ErrorCode
	// Message is a human-readable error message
	Message string
	// Cause is the underlying error that caused this error (optional)
	Cause error
}

// Error implements the error interface.
func (e *AppError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Cause)
	}
	return e.Message
}

// Unwrap returns the underlying cause, enabling errors.Is and errors.As.
func (e *AppError) Unwrap() error {
	return e.Cause
}

// Validation creates a new Validation error.
func Validation(message string) *AppError {
	return &AppError{Code: ErrCodeValidation, Message: message}
}

// Validationf creates a new Validation error with formatted message.
func Validationf(format string, args ...any) *AppError {
	return &AppError{Code: ErrCodeValidation, Message: fmt.Sprintf(format, args...)}
}

// Auth creates a new Auth error.
func Auth(message string) *AppError {
	return &AppError{Code: ErrCodeAuth, Message: message}
}

// Forbidden creates a new Forbidden error.
func Forbidden(message string) *AppError {
	return &AppError{Code: ErrCodeForbidden, Message: message}
}

// Security creates a new Security error.
func Security(message string) *AppError {
	return &AppError{Code: ErrCodeSecurity, Message: message}
}

// NotFound creates a new NotFound error.
func NotFound(message string) *AppError {
	return &AppError{Code: ErrCodeNotFound, Message: message}
}

// NotFoundf creates a new NotFound error with formatted message.
func NotFoundf(format string, args ...any) *AppError {
	return &AppError{Code: ErrCodeNotFound, Message: fmt.Sprintf(format, args...)}
}

// Conflict creates a new Conflict error.
func Conflict(message string) *AppError {
	return &AppError{Code: ErrCodeConflict, Message: message}
}

// Network creates a new Network error wrapping the transient cause.
func Network(message string, cause error) *AppError {
	return &AppError{Code: ErrCodeNetwork, Message: message, Cause: cause}
}

// RateLimit creates a new RateLimit error.
func RateLimit(message string) *AppError {
	return &AppError{Code: ErrCodeRateLimit, Message: message}
}

// Unavailable creates a new Unavailable error.
func Unavailable(message string) *AppError {
	return &AppError{Code: ErrCodeUnavailable, Message: message}
}

// Storage creates a new Storage error wrapping the cause.
func Storage(message string, cause error) *AppError {
	return &AppError{Code: ErrCodeStorage, Message: message, Cause: cause}
}

// Transaction creates a new Transaction error wrapping the cause.
func Transaction(message string, cause error) *AppError {
	return &AppError{Code: ErrCodeTransaction, Message: message, Cause: cause}
}

// Timeout creates a new Timeout error.
func Timeout(message string) *AppError {
	return &AppError{Code: ErrCodeTimeout, Message: message}
}

// Timeoutf creates a new Timeout error with formatted message.
func Timeoutf(format string, args ...any) *AppError {
	return &AppError{Code: ErrCodeTimeout, Message: fmt.Sprintf(format, args...)}
}

// Internal creates a new Internal error.
func Internal(message string) *AppError {
	return &AppError{Code: ErrCodeInternal, Message: message}
}

// Internalf creates a new Internal error with formatted message.
func Internalf(format string, args ...any) *AppError {
	return &AppError{Code: ErrCodeInternal, Message: fmt.Sprintf(format, args...)}
}

// Wrap wraps an existing error with an AppError, preserving the cause.
func Wrap(err error, code ErrorCode, message string) *AppError {
	if err == nil {
		return nil
	}
	return &AppError{Code: code, Message: message, Cause: err}
}

// Wrapf wraps an existing error with an AppError and formatted message.
func Wrapf(err error, code ErrorCode, format string, args ...any) *AppError {
	if err == nil {
		return nil
	}
	return &AppError{Code: code, Message: fmt.Sprintf(format, args...), Cause: err}
}

// isCode checks if an error has a specific error code.
func isCode(err error, code ErrorCode) bool {
	var appErr *AppError
	return errors.As(err, &appErr) && appErr.Code == code
}

// IsValidation checks if an error is a Validation error.
func IsValidation(err error) bool {
	return isCode(err, ErrCodeValidation)
}

// IsAuth checks if an error is an Auth error.
func IsAuth(err error) bool {
	return isCode(err, ErrCodeAuth)
}

// IsForbidden checks if an error is a Forbidden error.
func IsForbidden(err error) bool {
	return isCode(err, ErrCodeForbidden)
}

// IsSecurity checks if an error is a Security error.
func IsSecurity(err error) bool {
	return isCode(err, ErrCodeSecurity)
}

// IsNotFound checks if an error is a NotFound error.
func IsNotFound(err error) bool {
	return isCode(err, ErrCodeNotFound)
}

// IsConflict checks if an error is a Conflict error.
func IsConflict(err error) bool {
	return isCode(err, ErrCodeConflict)
}

// IsNetwork checks if an error is a Network error.
func IsNetwork(err error) bool {
	return isCode(err, ErrCodeNetwork)
}

// IsStorage checks if an error is a Storage error.
func IsStorage(err error) bool {
	return isCode(err, ErrCodeStorage)
}

// IsTransaction checks if an error is a Transaction error.
func IsTransaction(err error) bool {
	return isCode(err, ErrCodeTransaction)
}

// IsTimeout checks if an error is a Timeout error.
func IsTimeout(err error) bool {
	return isCode(err, ErrCodeTimeout)
}

// retryableCodes is the closed set of transient error kinds. Retryability is a
// property of the code, never of the message text.
var retryableCodes = map[ErrorCode]struct{}{
	ErrCodeNetwork:     {},
	ErrCodeRateLimit:   {},
	ErrCodeUnavailable: {},
	ErrCodeTimeout:     {},
}

// IsRetryable reports whether an error carries one of the transient error codes.
// Errors without an AppError in their chain are never retryable.
func IsRetryable(err error) bool {
	var appErr *AppError
	if !errors.As(err, &appErr) {
		return false
	}
	_, ok := retryableCodes[appErr.Code]
	return ok
}

// GetCode returns the ErrorCode from an error, or empty string if not an AppError.
func GetCode(err error) ErrorCode {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.Code
	}
	return ""
}
