// Package persistence provides standardized error types shared by all
// store implementations.
package persistence

import (
	"errors"
	"fmt"
)

var (
	// ErrDefinitionNotFound indicates no definition exists for the given ID.
	ErrDefinitionNotFound = errors.New("workflow definition not found")

	// ErrInstanceNotFound indicates no instance exists for the given ID.
	ErrInstanceNotFound = errors.New("workflow instance not found")

	// ErrInstanceAlreadyExists indicates a create collided with an existing
	// instance ID.
	ErrInstanceAlreadyExists = errors.New("workflow instance already exists")

	// ErrConcurrencyConflict indicates the stored version no longer matches
	// the caller's expectation; reload and retry.
	ErrConcurrencyConflict = errors.New("instance version conflict")

	// ErrHistoryTruncated indicates a save attempted to shrink or rewrite
	// the append-only transition history.
	ErrHistoryTruncated = errors.New("transition history may only grow")
)

// InstanceError wraps instance store failures with operation context.
type InstanceError struct {
	Op         string
	InstanceID string
	Err        error
}

func (e *InstanceError) Error() string {
	return fmt.Sprintf("%s failed for instance %s: %v", e.Op, e.InstanceID, e.Err)
}

func (e *InstanceError) Unwrap() error { return e.Err }

func (e *InstanceError) Is(target error) bool { return errors.Is(e.Err, target) }

func NewInstanceError(op, instanceID string, err error) *InstanceError {
	return &InstanceError{Op: op, InstanceID: instanceID, Err: err}
}

// DefinitionStoreError wraps definition store failures with operation
// context.
type DefinitionStoreError struct {
	Op           string
	DefinitionID string
	Err          error
}

func (e *DefinitionStoreError) Error() string {
	return fmt.Sprintf("%s failed for definition %s: %v", e.Op, e.DefinitionID, e.Err)
}

func (e *DefinitionStoreError) Unwrap() error { return e.Err }

func (e *DefinitionStoreError) Is(target error) bool { return errors.Is(e.Err, target) }
