package database

import (
	"fmt"
)

// DBError represents a backend operation error with context. It covers
// both backend-unreachable failures and partial bulk writes; for the
// latter CommittedChunks carries how many chunks were committed before
// the failing one.
type DBError struct {
	Operation       string
	Timeframe       string
	CommittedChunks int
	Err             error
}

// Error implements the error interface
func (e *DBError) Error() string {
	if e.Timeframe != "" {
		return fmt.Sprintf("database error in %s (timeframe %s): %v", e.Operation, e.Timeframe, e.Err)
	}
	return fmt.Sprintf("database error in %s: %v", e.Operation, e.Err)
}

// Unwrap returns the underlying error
func (e *DBError) Unwrap() error {
	return e.Err
}

// NotFoundError represents a resource not found on any configured backend
type NotFoundError struct {
	Resource  string
	Timeframe string
}

// Error implements the error interface
func (e *NotFoundError) Error() string {
	if e.Timeframe != "" {
		return fmt.Sprintf("%s not found for timeframe %s", e.Resource, e.Timeframe)
	}
	return fmt.Sprintf("%s not found", e.Resource)
}

// ValidationError represents a malformed caller-supplied payload.
// Validation failures are never retried against the fallback backend.
type ValidationError struct {
	Field  string
	Reason string
	Value  interface{}
}

// Error implements the error interface
func (e *ValidationError) Error() string {
	if e.Value != nil {
		return fmt.Sprintf("validation failed for field '%s': %s (value: %v)", e.Field, e.Reason, e.Value)
	}
	return fmt.Sprintf("validation failed for field '%s': %s", e.Field, e.Reason)
}

// WrapDBError wraps a backend error with operation context
func WrapDBError(operation, timeframe string, err error) error {
	if err == nil {
		return nil
	}
	return &DBError{
		Operation: operation,
		Timeframe: timeframe,
		Err:       err,
	}
}

// NewPartialWriteError reports a bulk write that stopped after some
// chunks were already committed.
func NewPartialWriteError(operation, timeframe string, committedChunks int, err error) error {
	return &DBError{
		Operation:       operation,
		Timeframe:       timeframe,
		CommittedChunks: committedChunks,
		Err:             err,
	}
}

// NewNotFoundError creates a new NotFoundError
func NewNotFoundError(resource, timeframe string) error {
	return &NotFoundError{
		Resource:  resource,
		Timeframe: timeframe,
	}
}

// NewValidationError creates a new ValidationError
func NewValidationError(field, reason string) error {
	return &ValidationError{
		Field:  field,
		Reason: reason,
	}
}
