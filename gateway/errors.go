package gateway

import (
	"errors"
	"fmt"
)

// Category - the unit downstream retry logic reasons about. The raw
// HTTP status is carried for diagnostics only.
type Category string

const (
	CategoryAuthentication Category = "authentication"
	CategoryRateLimit      Category = "rate_limit"
	CategoryValidation     Category = "validation"
	CategoryServerError    Category = "server_error"
	CategoryNetwork        Category = "network"
	CategoryUnknown        Category = "unknown"
)

// Retryable - transient categories worth another automatic try.
func (c Category) Retryable() bool {
	switch c {
	case CategoryNetwork, CategoryRateLimit, CategoryServerError:
		return true
	}
	return false
}

// APIError - normalized remote failure.
type APIError struct {
	Category   Category
	HTTPStatus int
	Message    string
}

// Error ...
func (e *APIError) Error() string {
	if e.HTTPStatus == 0 {
		return fmt.Sprintf("%s: %s", e.Category, e.Message)
	}
	return fmt.Sprintf("%s: %s (HTTP %d)", e.Category, e.Message, e.HTTPStatus)
}

// Classify maps an HTTP status to an error category.
func Classify(status int) Category {
	switch {
	case status == 401 || status == 403:
		return CategoryAuthentication
	case status == 429:
		return CategoryRateLimit
	case status == 400 || status == 422:
		return CategoryValidation
	case status >= 500:
		return CategoryServerError
	default:
		return CategoryUnknown
	}
}

// CategoryOf extracts the category from any error chain.
func CategoryOf(err error) Category {
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr.Category
	}
	return CategoryUnknown
}

// HTTPStatusOf extracts the raw status, zero when not a remote failure.
func HTTPStatusOf(err error) int {
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr.HTTPStatus
	}
	return 0
}
