package outbox

import (
	"errors"
	"fmt"
)

// Common errors returned by the engine.
var (
	// ErrConflict marks a remote rejection that must not be retried automatically
	// (unique-key violation, version mismatch). Remote implementations wrap it.
	ErrConflict = errors.New("remote write conflict")

	// ErrOffline is returned when a sync is requested but no remote is configured.
	ErrOffline = errors.New("operation unavailable in offline mode")

	// ErrItemNotFound is returned when a queue item id is unknown.
	ErrItemNotFound = errors.New("queue item not found")

	// ErrConflictNotFound is returned when a conflict id is unknown.
	ErrConflictNotFound = errors.New("conflict not found")

	// ErrInvalidDecision is returned for a resolution that cannot apply to the conflict.
	ErrInvalidDecision = errors.New("invalid conflict decision")

	// ErrInvalidTransition is returned when a queue item cannot move to the requested status.
	ErrInvalidTransition = errors.New("invalid queue status transition")

	// ErrUnknownCollection is returned when no schema is registered for a collection.
	ErrUnknownCollection = errors.New("unknown collection")

	// ErrEmptyTarget is returned when an update or delete names no target id.
	ErrEmptyTarget = errors.New("target id cannot be empty")

	// ErrNoSnapshot is returned by Storage.Load when nothing was saved under a key.
	ErrNoSnapshot = errors.New("snapshot not found")

	// ErrEngineClosed is returned when operating on a closed engine.
	ErrEngineClosed = errors.New("engine is closed")

	// ErrStoreClosed is returned when operating on a closed store.
	ErrStoreClosed = errors.New("store is closed")
)

// ValidationError is returned when configuration or a payload fails validation.
// Extractable via errors.As().
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation: %s: %s", e.Field, e.Message)
}

// RemoteError is returned by Remote implementations with call details.
// Extractable via errors.As(). Supports Unwrap().
type RemoteError struct {
	Operation  string
	Collection string
	StatusCode int
	Code       string
	Err        error
}

func (e *RemoteError) Error() string {
	if e.StatusCode == 0 {
		return fmt.Sprintf("remote: %s %s failed: %v", e.Operation, e.Collection, e.Err)
	}
	return fmt.Sprintf("remote: %s %s failed (status %d): %v", e.Operation, e.Collection, e.StatusCode, e.Err)
}

func (e *RemoteError) Unwrap() error { return e.Err }

// IsConflict reports whether err signals a write conflict.
func IsConflict(err error) bool {
	return errors.Is(err, ErrConflict)
}
