package errors

import (
	"fmt"
)

// TabError is the structured error type for tabsense.
// It provides rich context for error handling, logging, and user presentation.
type TabError struct {
	// Code is the unique error code (e.g., "ERR_301_ENGINE_NOT_READY").
	Code string

	// Message is the human-readable error message.
	Message string

	// Category is the error category (Config, Persistence, Resource, etc.).
	Category Category

	// Severity is the error severity level.
	Severity Severity

	// Details contains additional context as key-value pairs.
	Details map[string]string

	// Cause is the underlying error that caused this error.
	Cause error

	// Retryable indicates if the operation can be retried.
	Retryable bool

	// Suggestion is an actionable suggestion for the user.
	Suggestion string
}

// Error implements the error interface.
func (e *TabError) Error() string {
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// Unwrap returns the underlying cause for error chain support.
func (e *TabError) Unwrap() error {
	return e.Cause
}

// Is checks if this error matches the target error by code.
// This enables errors.Is() to work with TabError.
func (e *TabError) Is(target error) bool {
	if t, ok := target.(*TabError); ok {
		return e.Code == t.Code
	}
	return false
}

// WithDetail adds a key-value detail to the error.
// Returns the error for method chaining.
func (e *TabError) WithDetail(key, value string) *TabError {
	if e.Details == nil {
		e.Details = make(map[string]string)
	}
	e.Details[key] = value
	return e
}

// WithSuggestion adds an actionable suggestion for the user.
// Returns the error for method chaining.
func (e *TabError) WithSuggestion(suggestion string) *TabError {
	e.Suggestion = suggestion
	return e
}

// New creates a new TabError with the given code and message.
// Category, severity, and retryable flag are derived from the code.
func New(code string, message string, cause error) *TabError {
	return &TabError{
		Code:      code,
		Message:   message,
		Category:  categoryFromCode(code),
		Severity:  severityFromCode(code),
		Cause:     cause,
		Retryable: isRetryableCode(code),
	}
}

// Wrap creates a TabError from an existing error.
// The error's message becomes the TabError message.
func Wrap(code string, err error) *TabError {
	if err == nil {
		return nil
	}
	return New(code, err.Error(), err)
}

// ConfigError creates a configuration-related error.
func ConfigError(message string, cause error) *TabError {
	return New(ErrCodeConfigInvalid, message, cause)
}

// PersistError creates a durable-store error.
// Persistence errors degrade durability but never fail the calling operation.
func PersistError(message string, cause error) *TabError {
	return New(ErrCodeStoreWrite, message, cause)
}

// NotReadyError creates a resource-not-ready error.
// These are retryable and trigger the re-initialization handshake in proxies.
func NotReadyError(message string, cause error) *TabError {
	return New(ErrCodeEngineNotReady, message, cause)
}

// ValidationError creates a validation-related error.
func ValidationError(message string, cause error) *TabError {
	return New(ErrCodeInvalidInput, message, cause)
}

// DriftError creates a graph/mapping consistency error.
func DriftError(message string, cause error) *TabError {
	return New(ErrCodeMappingDrift, message, cause)
}

// ExtractionError creates an extraction-failure error for a skipped document.
func ExtractionError(message string, cause error) *TabError {
	return New(ErrCodeExtractionFailed, message, cause)
}

// InternalError creates an internal error.
func InternalError(message string, cause error) *TabError {
	return New(ErrCodeInternal, message, cause)
}

// IsRetryable checks if an error is retryable.
// Returns true if the error is a TabError with Retryable flag set.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	if te, ok := err.(*TabError); ok {
		return te.Retryable
	}
	return false
}

// IsNotReady reports whether the error indicates an uninitialized engine or
// index. Remote proxies use this to force a re-initialization handshake
// before retrying the original request.
func IsNotReady(err error) bool {
	if err == nil {
		return false
	}
	if te, ok := err.(*TabError); ok {
		return te.Code == ErrCodeEngineNotReady
	}
	return false
}

// IsFatal checks if an error has fatal severity.
// Fatal errors should abort the current operation.
func IsFatal(err error) bool {
	if err == nil {
		return false
	}
	if te, ok := err.(*TabError); ok {
		return te.Severity == SeverityFatal
	}
	return false
}

// GetCode extracts the error code from a TabError.
// Returns empty string if not a TabError.
func GetCode(err error) string {
	if te, ok := err.(*TabError); ok {
		return te.Code
	}
	return ""
}

// GetCategory extracts the category from a TabError.
// Returns empty string if not a TabError.
func GetCategory(err error) Category {
	if te, ok := err.(*TabError); ok {
		return te.Category
	}
	return ""
}
