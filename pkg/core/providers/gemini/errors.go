package gemini

import (
	"errors"
	"fmt"

	"google.golang.org/genai"
)

// ErrorType categorizes errors.
type ErrorType string

const (
	ErrInvalidRequest ErrorType = "invalid_request_error"
	ErrAuthentication ErrorType = "authentication_error"
	ErrPermission     ErrorType = "permission_error"
	ErrNotFound       ErrorType = "not_found_error"
	ErrRateLimit      ErrorType = "rate_limit_error"
	ErrAPI            ErrorType = "api_error"
	ErrOverloaded     ErrorType = "overloaded_error"
	ErrProvider       ErrorType = "provider_error"
)

// Error represents an API error from Gemini.
type Error struct {
	Type    ErrorType `json:"type"`
	Message string    `json:"message"`
	Code    int       `json:"code,omitempty"`
	Status  string    `json:"status,omitempty"`
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.Status != "" {
		return fmt.Sprintf("gemini: %s: %s (status: %s)", e.Type, e.Message, e.Status)
	}
	return fmt.Sprintf("gemini: %s: %s", e.Type, e.Message)
}

// IsRetryable returns true if the error is retryable.
func (e *Error) IsRetryable() bool {
	switch e.Type {
	case ErrRateLimit, ErrOverloaded, ErrAPI:
		return true
	default:
		return false
	}
}

// mapError translates SDK errors into the package error type. Errors that
// do not come from the API (context cancellation, transport failures) pass
// through unchanged.
func mapError(err error) error {
	var apiErr genai.APIError
	if !errors.As(err, &apiErr) {
		return err
	}

	return &Error{
		Type:    typeForStatus(apiErr.Code, apiErr.Status),
		Message: apiErr.Message,
		Code:    apiErr.Code,
		Status:  apiErr.Status,
	}
}

func typeForStatus(code int, status string) ErrorType {
	switch status {
	case "INVALID_ARGUMENT", "FAILED_PRECONDITION":
		return ErrInvalidRequest
	case "UNAUTHENTICATED":
		return ErrAuthentication
	case "PERMISSION_DENIED":
		return ErrPermission
	case "NOT_FOUND":
		return ErrNotFound
	case "RESOURCE_EXHAUSTED":
		return ErrRateLimit
	case "INTERNAL":
		return ErrAPI
	case "UNAVAILABLE":
		return ErrOverloaded
	}

	switch code {
	case 400:
		return ErrInvalidRequest
	case 401, 403:
		return ErrAuthentication
	case 404:
		return ErrNotFound
	case 429:
		return ErrRateLimit
	case 500:
		return ErrAPI
	case 503:
		return ErrOverloaded
	}

	return ErrProvider
}
