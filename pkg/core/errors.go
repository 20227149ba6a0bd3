// Package core contains the soulcore kernel: the per-message orchestration
// pipeline, its configuration, the prompt state, and the response
// post-processor.
package core

import (
	"errors"
	"fmt"
)

// Predefined errors for common failure scenarios.
var (
	// ErrInvalidConfig indicates that the provided configuration is invalid.
	ErrInvalidConfig = errors.New("invalid configuration")

	// ErrEmptyMessage indicates that an incoming request carried no message text.
	ErrEmptyMessage = errors.New("empty message")

	// ErrGenerationFailed indicates that the primary model call failed.
	ErrGenerationFailed = errors.New("generation failed")

	// ErrStorageOperation indicates that a storage operation failed.
	ErrStorageOperation = errors.New("storage operation failed")

	// ErrUnknownProvider indicates an unrecognized backend name in configuration.
	ErrUnknownProvider = errors.New("unknown provider")
)

// CoreError wraps errors with operation context.
//
// It provides additional context about which operation failed,
// making error messages more informative for debugging.
type CoreError struct {
	// Op is the name of the operation that failed.
	Op string

	// Err is the underlying error.
	Err error
}

// Error returns a formatted error message.
//
// The format is: "soulcore: <Op>: <Err>"
func (e *CoreError) Error() string {
	return fmt.Sprintf("soulcore: %s: %v", e.Op, e.Err)
}

// Unwrap returns the underlying error for error unwrapping.
//
// This allows using errors.Is() and errors.As() with CoreError.
func (e *CoreError) Unwrap() error {
	return e.Err
}

// NewCoreError creates a new CoreError wrapping the given error.
//
// If err is nil, returns nil. This allows safe error wrapping:
//
//	if err != nil {
//	    return NewCoreError("ProcessMessage", err)
//	}
//
// Parameters:
//   - op: Name of the operation (e.g., "ProcessMessage", "Reload")
//   - err: The underlying error to wrap
//
// Returns a CoreError, or nil if err is nil.
func NewCoreError(op string, err error) error {
	if err == nil {
		return nil
	}
	return &CoreError{
		Op:  op,
		Err: err,
	}
}
