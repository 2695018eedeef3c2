package agent

import (
	"errors"
	"fmt"

	"pulsecheck/internal/domain"
)

var (
	// ErrInvalidInput rejects a turn before any model call.
	ErrInvalidInput = domain.ErrInvalidInput

	// ErrClassificationUnavailable is the single terminal error a turn fails
	// with once the structured invoker has exhausted its attempts.
	ErrClassificationUnavailable = errors.New("classification unavailable")
)

// SchemaError means the model answered but the payload did not satisfy the
// declared schema.
type SchemaError struct {
	Schema string
	Err    error
}

func (e *SchemaError) Error() string {
	return fmt.Sprintf("response does not match %s schema: %v", e.Schema, e.Err)
}

func (e *SchemaError) Unwrap() error { return e.Err }

// TransportError means the generator call itself failed.
type TransportError struct {
	Err error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("model call failed: %v", e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }

// UnavailableError is returned after the last attempt. It matches
// ErrClassificationUnavailable and unwraps to the last cause.
type UnavailableError struct {
	Attempts int
	Err      error
}

func (e *UnavailableError) Error() string {
	return fmt.Sprintf("%s after %d attempt(s): %v", ErrClassificationUnavailable, e.Attempts, e.Err)
}

func (e *UnavailableError) Unwrap() error { return e.Err }

func (e *UnavailableError) Is(target error) bool {
	return target == ErrClassificationUnavailable
}
