// Package errors defines categorized errors shared by the ledger services and API.
package errors

import (
	stderrors "errors"
	"fmt"
	"net/http"
)

// ErrorCategory represents the category of an error
type ErrorCategory string

const (
	CategoryValidation ErrorCategory = "validation"
	CategoryNotFound   ErrorCategory = "not_found"
	CategoryConflict   ErrorCategory = "conflict"
	CategorySystem     ErrorCategory = "system"
	CategoryDatabase   ErrorCategory = "database"
	CategoryCache      ErrorCategory = "cache"
	CategoryProvider   ErrorCategory = "provider"
)

// Error codes callers match on
const (
	CodeInvalidParameter     = "INVALID_PARAMETER"
	CodeEventNotFound        = "EVENT_NOT_FOUND"
	CodeSyncNotFound         = "SYNC_NOT_FOUND"
	CodeManualEventOverride  = "MANUAL_EVENT_OVERRIDE"
	CodeActiveOverrideExists = "ACTIVE_OVERRIDE_EXISTS"
	CodeNoActiveOverride     = "NO_ACTIVE_OVERRIDE"
	CodeInternal             = "INTERNAL_ERROR"
	CodeDatabase             = "DATABASE_ERROR"
	CodeCache                = "CACHE_ERROR"
	CodeProvider             = "PROVIDER_ERROR"
	CodeProviderRateLimit    = "PROVIDER_RATE_LIMIT"
	CodeBlockRangeTooWide    = "BLOCK_RANGE_TOO_WIDE"
)

// CategorizedError represents an error with category and HTTP status code
type CategorizedError struct {
	Category   ErrorCategory
	StatusCode int
	Code       string
	Message    string
	Details    map[string]interface{}
	Cause      error
}

// Error implements the error interface
func (e *CategorizedError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s (caused by: %v)", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Unwrap returns the underlying cause
func (e *CategorizedError) Unwrap() error {
	return e.Cause
}

// NewInvalidParameterError creates an invalid parameter error
func NewInvalidParameterError(param string, reason string) *CategorizedError {
	return &CategorizedError{
		Category:   CategoryValidation,
		StatusCode: http.StatusBadRequest,
		Code:       CodeInvalidParameter,
		Message:    fmt.Sprintf("invalid parameter '%s': %s", param, reason),
		Details: map[string]interface{}{
			"parameter": param,
			"reason":    reason,
		},
	}
}

// NewEventNotFoundError is returned when an override targets an unknown event
func NewEventNotFoundError(eventID string) *CategorizedError {
	return &CategorizedError{
		Category:   CategoryNotFound,
		StatusCode: http.StatusNotFound,
		Code:       CodeEventNotFound,
		Message:    fmt.Sprintf("economic event not found: %s", eventID),
		Details:    map[string]interface{}{"eventId": eventID},
	}
}

// NewSyncNotFoundError is returned for an unknown (wallet, network) sync
func NewSyncNotFoundError(wallet, network string) *CategorizedError {
	return &CategorizedError{
		Category:   CategoryNotFound,
		StatusCode: http.StatusNotFound,
		Code:       CodeSyncNotFound,
		Message:    fmt.Sprintf("no sync for %s on %s", wallet, network),
		Details:    map[string]interface{}{"wallet": wallet, "network": network},
	}
}

// NewManualEventOverrideError rejects overrides on manually entered events
func NewManualEventOverrideError(eventID string) *CategorizedError {
	return &CategorizedError{
		Category:   CategoryValidation,
		StatusCode: http.StatusUnprocessableEntity,
		Code:       CodeManualEventOverride,
		Message:    "cost basis overrides apply only to on-chain events",
		Details:    map[string]interface{}{"eventId": eventID},
	}
}

// NewActiveOverrideExistsError rejects a second active override for an event
func NewActiveOverrideExistsError(eventID string) *CategorizedError {
	return &CategorizedError{
		Category:   CategoryConflict,
		StatusCode: http.StatusConflict,
		Code:       CodeActiveOverrideExists,
		Message:    "an active override already exists for this event; revert it first",
		Details:    map[string]interface{}{"eventId": eventID},
	}
}

// NewNoActiveOverrideError is returned when reverting an event without an override
func NewNoActiveOverrideError(eventID string) *CategorizedError {
	return &CategorizedError{
		Category:   CategoryNotFound,
		StatusCode: http.StatusNotFound,
		Code:       CodeNoActiveOverride,
		Message:    fmt.Sprintf("no active override for event %s", eventID),
		Details:    map[string]interface{}{"eventId": eventID},
	}
}

// NewInternalError creates an internal server error
func NewInternalError(message string, cause error) *CategorizedError {
	return &CategorizedError{
		Category:   CategorySystem,
		StatusCode: http.StatusInternalServerError,
		Code:       CodeInternal,
		Message:    message,
		Cause:      cause,
	}
}

// NewDatabaseError creates a database error
func NewDatabaseError(operation string, cause error) *CategorizedError {
	return &CategorizedError{
		Category:   CategoryDatabase,
		StatusCode: http.StatusInternalServerError,
		Code:       CodeDatabase,
		Message:    fmt.Sprintf("database error during %s", operation),
		Cause:      cause,
		Details:    map[string]interface{}{"operation": operation},
	}
}

// NewCacheError creates a cache error
func NewCacheError(operation string, cause error) *CategorizedError {
	return &CategorizedError{
		Category:   CategoryCache,
		StatusCode: http.StatusInternalServerError,
		Code:       CodeCache,
		Message:    fmt.Sprintf("cache error during %s", operation),
		Cause:      cause,
		Details:    map[string]interface{}{"operation": operation},
	}
}

// NewProviderError wraps a failed RPC call
func NewProviderError(endpoint string, cause error) *CategorizedError {
	return &CategorizedError{
		Category:   CategoryProvider,
		StatusCode: http.StatusBadGateway,
		Code:       CodeProvider,
		Message:    "rpc provider error",
		Cause:      cause,
		Details:    map[string]interface{}{"endpoint": endpoint},
	}
}

// NewProviderRateLimitError marks an RPC call rejected for rate limiting
func NewProviderRateLimitError(endpoint string, cause error) *CategorizedError {
	return &CategorizedError{
		Category:   CategoryProvider,
		StatusCode: http.StatusTooManyRequests,
		Code:       CodeProviderRateLimit,
		Message:    "rpc provider rate limit exceeded",
		Cause:      cause,
		Details:    map[string]interface{}{"endpoint": endpoint},
	}
}

// NewBlockRangeTooWideError marks a range query the provider refused to serve
func NewBlockRangeTooWideError(from, to uint64, cause error) *CategorizedError {
	return &CategorizedError{
		Category:   CategoryProvider,
		StatusCode: http.StatusBadGateway,
		Code:       CodeBlockRangeTooWide,
		Message:    fmt.Sprintf("block range %d-%d too wide", from, to),
		Cause:      cause,
		Details:    map[string]interface{}{"fromBlock": from, "toBlock": to},
	}
}

// Categorize returns the CategorizedError in err's chain, or wraps err as internal
func Categorize(err error) *CategorizedError {
	if err == nil {
		return nil
	}
	var catErr *CategorizedError
	if stderrors.As(err, &catErr) {
		return catErr
	}
	return NewInternalError("unexpected error", err)
}

// HasCode reports whether err's chain contains a CategorizedError with code
func HasCode(err error, code string) bool {
	var catErr *CategorizedError
	if !stderrors.As(err, &catErr) {
		return false
	}
	return catErr.Code == code
}

// GetHTTPStatusCode returns the HTTP status code for an error
func GetHTTPStatusCode(err error) int {
	if catErr := Categorize(err); catErr != nil {
		return catErr.StatusCode
	}
	return http.StatusInternalServerError
}

// IsRetryable determines if an error is retryable
func IsRetryable(err error) bool {
	catErr := Categorize(err)
	if catErr == nil {
		return false
	}

	switch catErr.Category {
	case CategoryProvider:
		// A too-wide range fails the same way every time; callers bisect instead
		return catErr.Code != CodeBlockRangeTooWide
	case CategoryDatabase, CategoryCache:
		return true
	case CategorySystem:
		return catErr.StatusCode == http.StatusServiceUnavailable ||
			catErr.StatusCode == http.StatusGatewayTimeout
	default:
		return false
	}
}

// IsUserError determines if an error is a user error (4xx)
func IsUserError(err error) bool {
	catErr := Categorize(err)
	return catErr != nil && catErr.StatusCode >= 400 && catErr.StatusCode < 500
}
