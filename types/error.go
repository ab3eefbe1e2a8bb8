package types

import (
	"errors"
	"fmt"
)

// ErrorCode represents a unified error code across herd.
type ErrorCode string

// Lookup error codes
const (
	ErrWorkflowNotFound   ErrorCode = "WORKFLOW_NOT_FOUND"
	ErrJobNotFound        ErrorCode = "JOB_NOT_FOUND"
	ErrUnknownDefinition  ErrorCode = "UNKNOWN_DEFINITION"
	ErrUnknownHandler     ErrorCode = "UNKNOWN_HANDLER"
	ErrInvalidJobName     ErrorCode = "INVALID_JOB_NAME"
	ErrInvalidInput       ErrorCode = "INVALID_INPUT"
	ErrInvalidState       ErrorCode = "INVALID_STATE"
	ErrStoreUnavailable   ErrorCode = "STORE_UNAVAILABLE"
	ErrIdentityExhausted  ErrorCode = "IDENTITY_EXHAUSTED"
	ErrInternalError      ErrorCode = "INTERNAL_ERROR"
	ErrDeliveryRejected   ErrorCode = "DELIVERY_REJECTED"
	ErrDefinitionConflict ErrorCode = "DEFINITION_CONFLICT"
)

// Graph construction error codes
const (
	ErrDuplicateJob         ErrorCode = "DUPLICATE_JOB"
	ErrInvalidDependency    ErrorCode = "INVALID_DEPENDENCY"
	ErrCircularDependency   ErrorCode = "CIRCULAR_DEPENDENCY"
	ErrEmptyWorkflow        ErrorCode = "EMPTY_WORKFLOW"
	ErrInvalidConfiguration ErrorCode = "INVALID_CONFIGURATION"
)

// Coordination error codes
const (
	ErrLockAcquisitionTimeout ErrorCode = "LOCK_ACQUISITION_TIMEOUT"
	ErrConcurrentModification ErrorCode = "CONCURRENT_MODIFICATION"
)

// Error represents a structured error with code, message, and metadata.
type Error struct {
	Code      ErrorCode `json:"code"`
	Message   string    `json:"message"`
	Retryable bool      `json:"retryable"`
	Cause     error     `json:"-"`
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// Unwrap returns the underlying cause.
func (e *Error) Unwrap() error {
	return e.Cause
}

// Is reports whether target is an *Error carrying the same code.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Code == e.Code && (t.Message == "" || t.Message == e.Message)
}

// NewError creates a new Error with the given code and message.
func NewError(code ErrorCode, message string) *Error {
	return &Error{Code: code, Message: message}
}

// Errorf creates a new Error with a formatted message.
func Errorf(code ErrorCode, format string, args ...any) *Error {
	return &Error{Code: code, Message: fmt.Sprintf(format, args...)}
}

// WithCause adds a cause to the error.
func (e *Error) WithCause(cause error) *Error {
	e.Cause = cause
	return e
}

// WithRetryable marks the error as retryable.
func (e *Error) WithRetryable(retryable bool) *Error {
	e.Retryable = retryable
	return e
}

// AsError extracts the first *Error in err's chain.
func AsError(err error) (*Error, bool) {
	var e *Error
	if errors.As(err, &e) {
		return e, true
	}
	return nil, false
}

// IsRetryable checks if an error is retryable.
func IsRetryable(err error) bool {
	if e, ok := AsError(err); ok {
		return e.Retryable
	}
	return false
}

// GetErrorCode extracts the error code from an error.
func GetErrorCode(err error) ErrorCode {
	if e, ok := AsError(err); ok {
		return e.Code
	}
	return ""
}

// IsCode reports whether err carries the given code anywhere in its chain.
func IsCode(err error, code ErrorCode) bool {
	return GetErrorCode(err) == code
}

// NewWorkflowNotFoundError builds the lookup error for a missing workflow id.
func NewWorkflowNotFoundError(id string) *Error {
	return Errorf(ErrWorkflowNotFound, "workflow %q not found", id)
}

// NewJobNotFoundError builds the lookup error for a missing job.
func NewJobNotFoundError(workflowID, name string) *Error {
	return Errorf(ErrJobNotFound, "job %q not found in workflow %q", name, workflowID)
}

// NewLockTimeoutError builds the error returned when a lock retry budget is spent.
func NewLockTimeoutError(key string, attempts int) *Error {
	return Errorf(ErrLockAcquisitionTimeout, "could not acquire lock %q after %d attempts", key, attempts).
		WithRetryable(true)
}

// NewConcurrentModificationError builds the optimistic-concurrency conflict error.
func NewConcurrentModificationError(what string, cause error) *Error {
	return Errorf(ErrConcurrentModification, "concurrent modification of %s", what).
		WithCause(cause).
		WithRetryable(true)
}
