// Package persistence provides standardized error types for persistence operations.
package persistence

import (
	"errors"
	"fmt"
)

// Standard persistence error types that all implementations should use.
var (
	// ErrNotFound is wrapped by every not-found error below.
	ErrNotFound = errors.New("not found")

	ErrWorkflowNotFound     = fmt.Errorf("workflow %w", ErrNotFound)
	ErrProjectNotFound      = fmt.Errorf("project %w", ErrNotFound)
	ErrTriggerNotFound      = fmt.Errorf("trigger %w", ErrNotFound)
	ErrTriggerEventNotFound = fmt.Errorf("trigger event %w", ErrNotFound)
	ErrWebRequestNotFound   = fmt.Errorf("web request %w", ErrNotFound)
	ErrInstanceNotFound     = fmt.Errorf("workflow instance %w", ErrNotFound)
	ErrTaskNotFound         = fmt.Errorf("task instance %w", ErrNotFound)

	// ErrWorkflowAlreadyExists indicates the (ref, version) pair was already published.
	ErrWorkflowAlreadyExists = errors.New("workflow version already exists")

	// ErrVersionConflict indicates another writer saved the instance since it was loaded.
	ErrVersionConflict = errors.New("workflow instance version conflict")
)

// InstanceError wraps instance-related errors with additional context.
type InstanceError struct {
	Op         string // Operation being performed (e.g., "Get", "Save")
	InstanceID string
	Version    int64 // Version the caller held, for conflicts
	Err        error
}

func (e *InstanceError) Error() string {
	if errors.Is(e.Err, ErrVersionConflict) {
		return fmt.Sprintf("%s operation failed for instance %s at version %d: %v", e.Op, e.InstanceID, e.Version, e.Err)
	}

	return fmt.Sprintf("%s operation failed for instance %s: %v", e.Op, e.InstanceID, e.Err)
}

func (e *InstanceError) Unwrap() error {
	return e.Err
}

// Is implements error comparison for instance errors.
func (e *InstanceError) Is(target error) bool {
	return errors.Is(e.Err, target)
}

func NewInstanceError(op, instanceID string, err error) *InstanceError {
	return &InstanceError{Op: op, InstanceID: instanceID, Err: err}
}

func NewVersionConflict(op, instanceID string, version int64) *InstanceError {
	return &InstanceError{Op: op, InstanceID: instanceID, Version: version, Err: ErrVersionConflict}
}

// IsNotFound checks if an error indicates any missing entity.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}

// IsVersionConflict checks if an error indicates a lost optimistic concurrency race.
func IsVersionConflict(err error) bool {
	return errors.Is(err, ErrVersionConflict)
}

// IsInstanceNotFound checks if an error indicates a workflow instance was not found.
func IsInstanceNotFound(err error) bool {
	return errors.Is(err, ErrInstanceNotFound)
}

// IsTaskNotFound checks if an error indicates a task instance was not found.
func IsTaskNotFound(err error) bool {
	return errors.Is(err, ErrTaskNotFound)
}
