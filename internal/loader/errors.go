package loader

import (
	"errors"
	"fmt"
)

// Common errors.
var (
	ErrTensorNotFound   = errors.New("tensor not found")
	ErrOutOfBounds      = errors.New("tensor extends beyond data section")
	ErrNegativeOffset   = errors.New("negative offset or size")
	ErrSizeMismatch     = errors.New("tensor byte length does not match dtype and shape")
	ErrInvalidShape     = errors.New("invalid tensor shape")
	ErrHeaderTooLarge   = errors.New("header exceeds maximum size")
	ErrNotFloat         = errors.New("tensor is not floating point")
	ErrUnsupportedInput = errors.New("unsupported input format")
)

// ValidationError provides detailed information about a malformed file.
type ValidationError struct {
	Tensor  string // Tensor name involved
	Err     error  // Sentinel error
	Details string // Additional details
}

// Error implements the error interface.
func (e *ValidationError) Error() string {
	if e.Tensor != "" {
		return fmt.Sprintf("%v: tensor %q: %s", e.Err, e.Tensor, e.Details)
	}
	return fmt.Sprintf("%v: %s", e.Err, e.Details)
}

// Unwrap returns the sentinel error.
func (e *ValidationError) Unwrap() error {
	return e.Err
}
