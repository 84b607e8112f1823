package smooth

import (
	"errors"
	"fmt"
)

// Precondition errors. A smoothing pass aborts on the first one.
var (
	ErrShapeMismatch          = errors.New("shape mismatch")
	ErrUnsupportedLayer       = errors.New("unsupported layer kind")
	ErrNoConsumers            = errors.New("no consumer layers")
	ErrInvalidAlpha           = errors.New("alpha must be within [0, 1]")
	ErrInvalidActivationScale = errors.New("activation scales must be finite and non-negative")
	ErrInvalidFloor           = errors.New("floor must be finite and positive")
	ErrDuplicateConsumer      = errors.New("consumer listed more than once")
	ErrDegenerateScale        = errors.New("smoothing scale is degenerate")
)

// ValidationError provides detailed information about a precondition failure.
type ValidationError struct {
	Err     error  // One of the sentinel errors above
	Layer   string // Parameter name of the offending layer, if any
	Details string
}

// Error implements the error interface.
func (e *ValidationError) Error() string {
	if e.Layer != "" {
		return fmt.Sprintf("%v: layer %q: %s", e.Err, e.Layer, e.Details)
	}
	return fmt.Sprintf("%v: %s", e.Err, e.Details)
}

// Unwrap returns the sentinel error.
func (e *ValidationError) Unwrap() error {
	return e.Err
}

func invalid(err error, layer, format string, args ...any) error {
	return &ValidationError{Err: err, Layer: layer, Details: fmt.Sprintf(format, args...)}
}
