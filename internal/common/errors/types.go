// Package errors defines the typed error taxonomy shared across the
// integration core. Terminal errors propagate to callers; transient
// provider signals never leave the lifecycle dispatcher.
package errors

import (
	"fmt"
	"net/http"
	"strings"
)

// ErrorType represents the type of error
type ErrorType string

const (
	// ErrTypeUnknownProvider means the provider identifier is not registered
	// or has been administratively disabled. Non-retryable.
	ErrTypeUnknownProvider ErrorType = "unknown_provider"
	// ErrTypeMissingExternalURL means the provider needs an external URL
	// pre-step and the caller supplied none.
	ErrTypeMissingExternalURL ErrorType = "missing_external_url"
	// ErrTypeInvalidState means the callback state is expired, consumed or
	// forged. The flow must be restarted.
	ErrTypeInvalidState ErrorType = "invalid_state"
	// ErrTypeNotEnoughScopes means the provider rejected the grant or the
	// authorized scopes were insufficient. User-actionable.
	ErrTypeNotEnoughScopes ErrorType = "not_enough_scopes"
	// ErrTypeQuotaExceeded means the organization hit its channel allowance.
	ErrTypeQuotaExceeded ErrorType = "quota_exceeded"
	// ErrTypeCapabilityNotFound means a capability was requested that the
	// provider never declared. Programming/configuration error.
	ErrTypeCapabilityNotFound ErrorType = "capability_not_found"
	// ErrTypePaymentRequired means a trial organization tried to reconnect a
	// previously connected account.
	ErrTypePaymentRequired ErrorType = "payment_required"
	// ErrTypeValidation represents caller input validation errors
	ErrTypeValidation ErrorType = "validation"
	// ErrTypeNotFound represents resource not found errors
	ErrTypeNotFound ErrorType = "not_found"
	// ErrTypeConfig represents configuration errors
	ErrTypeConfig ErrorType = "config"
	// ErrTypeInternal represents internal system errors
	ErrTypeInternal ErrorType = "internal"
)

// AppError represents a structured application error
type AppError struct {
	Type    ErrorType              `json:"type"`
	Message string                 `json:"message"`
	Code    string                 `json:"code,omitempty"`
	Cause   error                  `json:"-"`
	Context map[string]interface{} `json:"context,omitempty"`
}

// Error implements the error interface
func (e *AppError) Error() string {
	parts := []string{string(e.Type), e.Message}

	if e.Code != "" {
		parts = append(parts, fmt.Sprintf("code=%s", e.Code))
	}
	if e.Cause != nil {
		parts = append(parts, fmt.Sprintf("cause=%v", e.Cause))
	}
	if len(e.Context) > 0 {
		contextParts := make([]string, 0, len(e.Context))
		for k, v := range e.Context {
			contextParts = append(contextParts, fmt.Sprintf("%s=%v", k, v))
		}
		parts = append(parts, fmt.Sprintf("context={%s}", strings.Join(contextParts, ", ")))
	}

	return strings.Join(parts, ": ")
}

// Unwrap returns the underlying cause
func (e *AppError) Unwrap() error {
	return e.Cause
}

// WithContext adds context to the error
func (e *AppError) WithContext(key string, value interface{}) *AppError {
	if e.Context == nil {
		e.Context = make(map[string]interface{})
	}
	e.Context[key] = value
	return e
}

// HTTPStatus maps the error type to the HTTP status the API surfaces.
func (e *AppError) HTTPStatus() int {
	switch e.Type {
	case ErrTypeUnknownProvider, ErrTypeNotFound:
		return http.StatusNotFound
	case ErrTypeMissingExternalURL, ErrTypeValidation, ErrTypeInvalidState, ErrTypeNotEnoughScopes:
		return http.StatusBadRequest
	case ErrTypeQuotaExceeded:
		return http.StatusConflict
	case ErrTypePaymentRequired:
		return http.StatusPreconditionFailed
	default:
		return http.StatusInternalServerError
	}
}

// UnknownProvider creates an error for an unregistered or disabled provider
func UnknownProvider(identifier string) *AppError {
	return &AppError{
		Type:    ErrTypeUnknownProvider,
		Message: fmt.Sprintf("provider %s is not registered", identifier),
	}
}

// MissingExternalURL creates an error for a missing external URL pre-step
func MissingExternalURL(identifier string) *AppError {
	return &AppError{
		Type:    ErrTypeMissingExternalURL,
		Message: fmt.Sprintf("provider %s requires an external url", identifier),
	}
}

// InvalidState creates an error for an expired or consumed handshake state
func InvalidState() *AppError {
	return &AppError{
		Type:    ErrTypeInvalidState,
		Message: "handshake state is expired or invalid, restart the flow",
	}
}

// NotEnoughScopes creates an error carrying the provider's rejection reason
func NotEnoughScopes(reason string) *AppError {
	return &AppError{
		Type:    ErrTypeNotEnoughScopes,
		Message: reason,
	}
}

// QuotaExceeded creates an error for an exhausted channel allowance
func QuotaExceeded(msg string) *AppError {
	return &AppError{
		Type:    ErrTypeQuotaExceeded,
		Message: msg,
	}
}

// CapabilityNotFound creates an error for a capability the provider lacks
func CapabilityNotFound(identifier, capability string) *AppError {
	return &AppError{
		Type:    ErrTypeCapabilityNotFound,
		Message: fmt.Sprintf("provider %s does not implement %s", identifier, capability),
	}
}

// PaymentRequired creates an error for trial reconnect abuse
func PaymentRequired(msg string) *AppError {
	return &AppError{
		Type:    ErrTypePaymentRequired,
		Message: msg,
	}
}

// ValidationError creates a new validation error
func ValidationError(msg string) *AppError {
	return &AppError{
		Type:    ErrTypeValidation,
		Message: msg,
	}
}

// NotFoundError creates a new not found error
func NotFoundError(resource string) *AppError {
	return &AppError{
		Type:    ErrTypeNotFound,
		Message: fmt.Sprintf("%s not found", resource),
	}
}

// ConfigError creates a new configuration error
func ConfigError(msg string) *AppError {
	return &AppError{
		Type:    ErrTypeConfig,
		Message: msg,
	}
}

// InternalError creates a new internal error
func InternalError(msg string, cause error) *AppError {
	return &AppError{
		Type:    ErrTypeInternal,
		Message: msg,
		Cause:   cause,
	}
}

// IsType checks if an error is of a specific type
func IsType(err error, errType ErrorType) bool {
	if err == nil {
		return false
	}
	appErr, ok := err.(*AppError)
	if !ok {
		return false
	}
	return appErr.Type == errType
}

// GetType returns the error type if it's an AppError, otherwise ErrTypeInternal
func GetType(err error) ErrorType {
	if err == nil {
		return ""
	}
	appErr, ok := err.(*AppError)
	if !ok {
		return ErrTypeInternal
	}
	return appErr.Type
}
