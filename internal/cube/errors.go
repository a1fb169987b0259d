package cube

import (
	"errors"
	"fmt"
)

// Domain errors for the cube registry.
//
// These errors can be checked using errors.Is() for error handling:
//
//	if errors.Is(err, cube.ErrNotFound) {
//	    // handle not found case
//	}
var (
	// ErrNotFound is returned when a cube ID is malformed or does not exist.
	ErrNotFound = errors.New("cube: not found")

	// ErrAlreadyExists is returned when creating a cube whose ID is taken.
	// It reaches callers wrapped in a StorageError.
	ErrAlreadyExists = errors.New("cube: already exists")
)

// ValidationError reports input rejected before any I/O happened.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return "invalid input: " + e.Reason
	}
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

// Invalid builds a ValidationError.
func Invalid(field, reason string) *ValidationError {
	return &ValidationError{Field: field, Reason: reason}
}

// IsValidation reports whether err is or wraps a ValidationError.
func IsValidation(err error) bool {
	var ve *ValidationError
	return errors.As(err, &ve)
}

// StorageError reports a failed database operation.
type StorageError struct {
	Op  string
	Err error
}

func (e *StorageError) Error() string {
	return fmt.Sprintf("storage error during %s: %v", e.Op, e.Err)
}

func (e *StorageError) Unwrap() error { return e.Err }

// storageErr wraps err in a StorageError unless it is already one of the
// caller-facing kinds.
func storageErr(op string, err error) error {
	if err == nil {
		return nil
	}
	var se *StorageError
	if errors.Is(err, ErrNotFound) || IsValidation(err) || errors.As(err, &se) {
		return err
	}
	return &StorageError{Op: op, Err: err}
}
