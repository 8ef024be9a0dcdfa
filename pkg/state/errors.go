package state

import (
	"errors"
	"fmt"
)

// Sentinel errors for rejected mutations.
var (
	// ErrUnknownField is returned when a mutation names a field the store does not have.
	ErrUnknownField = errors.New("state: unknown field")

	// ErrInvalidValue is returned when a field value has the wrong type or is out of range.
	ErrInvalidValue = errors.New("state: invalid value")

	// ErrEmptyMutation is returned when a mutation changes nothing.
	ErrEmptyMutation = errors.New("state: empty mutation")

	// ErrReadOnlyField is returned when a public mutation targets a controller-owned field.
	ErrReadOnlyField = errors.New("state: field is read-only")

	// ErrDroneWriterClaimed is returned when the drone writer is requested twice.
	ErrDroneWriterClaimed = errors.New("state: drone writer already claimed")

	// ErrDroneMismatch is returned when a drone transition's source state is not current.
	ErrDroneMismatch = errors.New("state: drone status mismatch")
)

// FieldError reports which field of a mutation was rejected.
type FieldError struct {
	Field Field
	Err   error
}

// Error implements the error interface.
func (e *FieldError) Error() string {
	return fmt.Sprintf("state: field %q: %v", e.Field, e.Err)
}

// Unwrap returns the underlying error.
func (e *FieldError) Unwrap() error {
	return e.Err
}

// DroneMismatchError carries the expected and actual drone status of a failed transition.
type DroneMismatchError struct {
	Expected DroneStatus
	Actual   DroneStatus
}

// Error implements the error interface.
func (e *DroneMismatchError) Error() string {
	return fmt.Sprintf("state: drone is %s, expected %s", e.Actual, e.Expected)
}

// Unwrap returns ErrDroneMismatch.
func (e *DroneMismatchError) Unwrap() error {
	return ErrDroneMismatch
}
