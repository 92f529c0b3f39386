package models

import (
	"errors"
	"fmt"
)

// ErrorCode represents a Corpus error code.
type ErrorCode string

// Error codes for Corpus operations.
const (
	// Input validation errors
	ErrBadInput ErrorCode = "E_BAD_INPUT"

	// Lookup errors
	ErrNotFound ErrorCode = "E_NOT_FOUND"

	// Access errors
	ErrForbidden ErrorCode = "E_FORBIDDEN"

	// Concurrency errors
	ErrConflict ErrorCode = "E_CONFLICT"

	// Upstream source errors (portal, website HTTP)
	ErrUpstream ErrorCode = "E_UPSTREAM"

	// Ingestion errors
	ErrExtraction ErrorCode = "E_EXTRACTION"
	ErrEmbedding  ErrorCode = "E_EMBEDDING"

	// Persistence errors
	ErrStorage ErrorCode = "E_STORAGE"

	// Anything else
	ErrInternal ErrorCode = "E_INTERNAL"
)

// CorpusError represents a structured error with code and context.
type CorpusError struct {
	Code    ErrorCode              `json:"code"`
	Message string                 `json:"message"`
	Details map[string]interface{} `json:"details,omitempty"`
	Cause   error                  `json:"-"`
}

// Error implements the error interface.
func (e *CorpusError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// Unwrap returns the underlying cause for errors.Is/As.
func (e *CorpusError) Unwrap() error {
	return e.Cause
}

// NewError creates a new CorpusError.
func NewError(code ErrorCode, message string) *CorpusError {
	return &CorpusError{
		Code:    code,
		Message: message,
	}
}

// WithDetails adds details to the error.
func (e *CorpusError) WithDetails(key string, value interface{}) *CorpusError {
	if e.Details == nil {
		e.Details = make(map[string]interface{})
	}
	e.Details[key] = value
	return e
}

// WithCause adds a cause to the error.
func (e *CorpusError) WithCause(cause error) *CorpusError {
	e.Cause = cause
	return e
}

// Wrap wraps an error with a CorpusError.
func Wrap(code ErrorCode, message string, cause error) *CorpusError {
	return &CorpusError{
		Code:    code,
		Message: message,
		Cause:   cause,
	}
}

// CodeOf extracts the error code from err, walking the wrap chain.
// Unclassified errors report ErrInternal.
func CodeOf(err error) ErrorCode {
	if err == nil {
		return ""
	}
	var ce *CorpusError
	if errors.As(err, &ce) {
		return ce.Code
	}
	return ErrInternal
}

// IsCode reports whether err carries the given code anywhere in its chain.
func IsCode(err error, code ErrorCode) bool {
	var ce *CorpusError
	if errors.As(err, &ce) {
		return ce.Code == code
	}
	return false
}
