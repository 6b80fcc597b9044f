package types

import (
	"fmt"
	"net/http"
	"strings"
	"time"
)

// ErrorCode categorizes provider errors
type ErrorCode string

const (
	ErrCodeUnknown       ErrorCode = "unknown"
	ErrCodeRateLimit     ErrorCode = "rate_limit"
	ErrCodeConnection    ErrorCode = "connection"
	ErrCodeTimeout       ErrorCode = "timeout"
	ErrCodeServerError   ErrorCode = "server_error"
	ErrCodeAuth          ErrorCode = "authentication"
	ErrCodeModelNotFound ErrorCode = "model_not_found"
	ErrCodeTokenLimit    ErrorCode = "token_limit"
	ErrCodeInvalid       ErrorCode = "invalid_request"
)

// ProviderError is a standardized error from a provider
type ProviderError struct {
	Provider   string
	Code       ErrorCode
	Message    string
	StatusCode int           // HTTP status code (0 if not applicable)
	RetryAfter time.Duration // wait hint for rate limits (0 if absent)
	Err        error         // wrapped original error
}

// Error implements the error interface
func (e *ProviderError) Error() string {
	if e.StatusCode > 0 {
		return fmt.Sprintf("[%s] %s (status=%d, code=%s)", e.Provider, e.Message, e.StatusCode, e.Code)
	}
	return fmt.Sprintf("[%s] %s (code=%s)", e.Provider, e.Message, e.Code)
}

// Unwrap returns the original error for errors.Is/As
func (e *ProviderError) Unwrap() error {
	return e.Err
}

// IsRetryable reports whether the error is potentially recoverable with retry
func (e *ProviderError) IsRetryable() bool {
	switch e.Code {
	case ErrCodeRateLimit, ErrCodeConnection, ErrCodeTimeout, ErrCodeServerError:
		return true
	}
	return false
}

// NewProviderError creates a new ProviderError
func NewProviderError(provider string, code ErrorCode, message string) *ProviderError {
	return &ProviderError{Provider: provider, Code: code, Message: message}
}

// NewRateLimitError creates a rate limit error with an optional retry hint
func NewRateLimitError(provider string, retryAfter time.Duration) *ProviderError {
	return &ProviderError{
		Provider:   provider,
		Code:       ErrCodeRateLimit,
		Message:    "rate limit exceeded",
		RetryAfter: retryAfter,
	}
}

// NewConnectionError creates a connection error
func NewConnectionError(provider, message string) *ProviderError {
	return &ProviderError{Provider: provider, Code: ErrCodeConnection, Message: message}
}

// NewModelNotFoundError creates a model-not-found error
func NewModelNotFoundError(provider, model string) *ProviderError {
	return &ProviderError{
		Provider: provider,
		Code:     ErrCodeModelNotFound,
		Message:  fmt.Sprintf("model %q not found", model),
	}
}

// NewTokenLimitError creates a token limit error
func NewTokenLimitError(provider string, tokens, limit int) *ProviderError {
	return &ProviderError{
		Provider: provider,
		Code:     ErrCodeTokenLimit,
		Message:  fmt.Sprintf("token limit exceeded: %d tokens exceeds limit of %d", tokens, limit),
	}
}

// ClassifyHTTPStatus maps an HTTP status to an error code
func ClassifyHTTPStatus(statusCode int) ErrorCode {
	switch statusCode {
	case http.StatusUnauthorized, http.StatusForbidden:
		return ErrCodeAuth
	case http.StatusTooManyRequests:
		return ErrCodeRateLimit
	case http.StatusNotFound:
		return ErrCodeModelNotFound
	case http.StatusBadRequest:
		return ErrCodeInvalid
	case http.StatusRequestTimeout, http.StatusGatewayTimeout:
		return ErrCodeTimeout
	default:
		if statusCode >= 500 {
			return ErrCodeServerError
		}
		return ErrCodeUnknown
	}
}

// BudgetExceededError reports a projected spend over the configured ceiling
type BudgetExceededError struct {
	Budget        float64
	ProjectedCost float64
	CurrentCost   float64
	EstimatedCost float64
}

func (e *BudgetExceededError) Error() string {
	return fmt.Sprintf("budget exceeded: $%.4f exceeds limit of $%.4f (current=$%.4f, estimated=$%.4f)",
		e.ProjectedCost, e.Budget, e.CurrentCost, e.EstimatedCost)
}

// Overage returns how far the projected cost exceeds the budget.
func (e *BudgetExceededError) Overage() float64 {
	return e.ProjectedCost - e.Budget
}

// ValidationError reports one or more validation failures
type ValidationError struct {
	Message string
	Errors  []string
}

func (e *ValidationError) Error() string {
	if len(e.Errors) == 0 {
		return e.Message
	}
	return fmt.Sprintf("%s: %s", e.Message, strings.Join(e.Errors, "; "))
}

// NewValidationError creates a validation error
func NewValidationError(message string, errs ...string) *ValidationError {
	return &ValidationError{Message: message, Errors: errs}
}

// ConfigurationError reports an invalid or missing configuration
type ConfigurationError struct {
	Message string
	Err     error
}

func (e *ConfigurationError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

func (e *ConfigurationError) Unwrap() error { return e.Err }

// AddonError wraps a failure inside an addon hook. The pipeline never lets
// these propagate; they surface in logs and in the request context.
type AddonError struct {
	Addon string
	Hook  string
	Err   error
}

func (e *AddonError) Error() string {
	return fmt.Sprintf("addon %q %s hook: %v", e.Addon, e.Hook, e.Err)
}

func (e *AddonError) Unwrap() error { return e.Err }
