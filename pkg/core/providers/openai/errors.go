package openai

import (
	"errors"
	"fmt"

	openai "github.com/sashabaranov/go-openai"
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

// Error represents an API error from OpenAI.
type Error struct {
	Type    ErrorType `json:"type"`
	Message string    `json:"message"`
	Status  int       `json:"status,omitempty"`
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.Status != 0 {
		return fmt.Sprintf("openai: %s: %s (status: %d)", e.Type, e.Message, e.Status)
	}
	return fmt.Sprintf("openai: %s: %s", e.Type, e.Message)
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

// mapError translates client errors into the package error type. Errors
// that do not come from the API (context cancellation, transport failures)
// pass through unchanged.
func mapError(err error) error {
	var apiErr *openai.APIError
	if !errors.As(err, &apiErr) {
		return err
	}

	return &Error{
		Type:    typeForStatus(apiErr.HTTPStatusCode),
		Message: apiErr.Message,
		Status:  apiErr.HTTPStatusCode,
	}
}

func typeForStatus(status int) ErrorType {
	switch status {
	case 400:
		return ErrInvalidRequest
	case 401:
		return ErrAuthentication
	case 403:
		return ErrPermission
	case 404:
		return ErrNotFound
	case 429:
		return ErrRateLimit
	case 500:
		return ErrAPI
	case 503:
		return ErrOverloaded
	default:
		return ErrProvider
	}
}
