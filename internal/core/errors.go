package core

import (
	"errors"
	"fmt"
)

// ErrorKind is the closed set of failure classes surfaced to callers.
type ErrorKind string

// Failure classes.
const (
	KindValidation        ErrorKind = "validation"
	KindNotFound          ErrorKind = "not_found"
	KindProviderRetryable ErrorKind = "provider_retryable"
	KindProviderFatal     ErrorKind = "provider_fatal"
	KindRetryExhausted    ErrorKind = "retry_exhausted"
)

var (
	// ErrValidation matches every validation failure via errors.Is.
	ErrValidation = errors.New("validation failed")
	// ErrNotFound matches every unknown persona failure via errors.Is.
	ErrNotFound = errors.New("not found")
	// ErrProviderRetryable matches transient provider failures via errors.Is.
	ErrProviderRetryable = errors.New("provider temporarily unavailable")
	// ErrProviderFatal matches non-retryable provider failures via errors.Is.
	ErrProviderFatal = errors.New("provider rejected request")
	// ErrRetryExhausted matches failures that outlived the retry budget via errors.Is.
	ErrRetryExhausted = errors.New("retries exhausted")
)

func (k ErrorKind) sentinel() error {
	switch k {
	case KindValidation:
		return ErrValidation
	case KindNotFound:
		return ErrNotFound
	case KindProviderRetryable:
		return ErrProviderRetryable
	case KindProviderFatal:
		return ErrProviderFatal
	case KindRetryExhausted:
		return ErrRetryExhausted
	default:
		return nil
	}
}

// ClassifiedError is the tagged failure type shared by every component.
type ClassifiedError struct {
	Kind    ErrorKind
	Message string
	// Code is the provider's error name, when one was reported.
	Code string
	// Status is the provider's HTTP status, when one was reported.
	Status int
	Cause  error
}

// NewError creates a ClassifiedError.
func NewError(kind ErrorKind, message string, cause error) *ClassifiedError {
	return &ClassifiedError{
		Kind:    kind,
		Message: message,
		Code:    "",
		Status:  0,
		Cause:   cause,
	}
}

func (e *ClassifiedError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Cause)
	}

	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

// Unwrap returns the underlying cause.
func (e *ClassifiedError) Unwrap() error {
	return e.Cause
}

// Is matches the sentinel error of the same kind.
func (e *ClassifiedError) Is(target error) bool {
	sentinel := e.Kind.sentinel()

	return sentinel != nil && target == sentinel
}

// KindOf returns the kind of the outermost ClassifiedError in err's chain, or
// the empty kind when err is not classified.
func KindOf(err error) ErrorKind {
	var classified *ClassifiedError
	if errors.As(err, &classified) {
		return classified.Kind
	}

	return ""
}

// MessageOf returns the message of the outermost ClassifiedError in err's
// chain, falling back to err.Error().
func MessageOf(err error) string {
	var classified *ClassifiedError
	if errors.As(err, &classified) {
		return classified.Message
	}

	return err.Error()
}
