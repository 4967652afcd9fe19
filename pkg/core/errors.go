// Package core provides the main RecallMem client and memory retrieval functionality.
package core

import (
	"errors"
	"fmt"
)

// Predefined errors for common failure scenarios.
var (
	// ErrInvalidConfig indicates that the provided configuration is invalid.
	ErrInvalidConfig = errors.New("invalid configuration")

	// ErrInvalidInput indicates that the caller supplied invalid input.
	// It is always raised before any storage or embedding I/O.
	ErrInvalidInput = errors.New("invalid input")

	// ErrStorageOperation indicates that a storage operation failed.
	ErrStorageOperation = errors.New("storage operation failed")

	// ErrEmbeddingFailed indicates that embedding generation failed. The
	// client only logs it; AddMemory and QueryMemories degrade instead.
	ErrEmbeddingFailed = errors.New("embedding generation failed")
)

// MemoryError wraps errors with operation context.
//
// Example:
//
//	err := &MemoryError{
//	    Op:  "QueryMemories",
//	    Err: ErrInvalidInput,
//	}
//	// Error() returns: "recallmem: QueryMemories: invalid input"
type MemoryError struct {
	// Op is the name of the operation that failed.
	Op string

	// Err is the underlying error.
	Err error
}

// Error returns "recallmem: <Op>: <Err>".
func (e *MemoryError) Error() string {
	return fmt.Sprintf("recallmem: %s: %v", e.Op, e.Err)
}

// Unwrap returns the underlying error for errors.Is and errors.As.
func (e *MemoryError) Unwrap() error {
	return e.Err
}

// NewMemoryError creates a new MemoryError wrapping the given error.
//
// If err is nil, returns nil, so it is safe to use on any return path:
//
//	return NewMemoryError("AddMemory", err)
func NewMemoryError(op string, err error) error {
	if err == nil {
		return nil
	}
	return &MemoryError{
		Op:  op,
		Err: err,
	}
}

// invalidInput builds a validation error that matches ErrInvalidInput.
func invalidInput(op, format string, args ...interface{}) error {
	return NewMemoryError(op, fmt.Errorf("%w: %s", ErrInvalidInput, fmt.Sprintf(format, args...)))
}

// storageFailure wraps a backend error so that both ErrStorageOperation and
// the original error match with errors.Is.
func storageFailure(op string, err error) error {
	if err == nil {
		return nil
	}
	return NewMemoryError(op, fmt.Errorf("%w: %w", ErrStorageOperation, err))
}
