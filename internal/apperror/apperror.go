// Package apperror defines the error taxonomy shared by every layer of the
// collaboration server.
//
// ERROR TAXONOMY:
//   - ErrValidation  → malformed event or request (dropped, never crashes a room)
//   - ErrNotFound    → unknown room or file
//   - ErrPersistence → the Document Store could not read or write
//   - ErrExecution   → the code-execution backend failed or timed out
//
// Transport errors (a dropped WebSocket) are not represented here: they are
// handled as an implicit leave by the gateway and never propagate.
//
// Callers check the category with errors.Is(err, apperror.ErrNotFound) and
// extract the human-readable message with errors.As(err, &appErr).
package apperror

import (
	"errors"
	"fmt"
)

var (
	ErrNotFound    = errors.New("not found")
	ErrValidation  = errors.New("validation error")
	ErrConflict    = errors.New("conflict")
	ErrPersistence = errors.New("persistence error")
	ErrExecution   = errors.New("execution error")
)

type AppError struct {
	Err     error  // sentinel category
	Message string // Human-readable error message
	Field   string // Optional: field causing the error
}

func (e *AppError) Error() string {
	return e.Message
}

func (e *AppError) Unwrap() error {
	return e.Err
}

func NotFound(resource, id string) *AppError {
	return &AppError{
		Err:     ErrNotFound,
		Message: fmt.Sprintf("%s not found with id %s", resource, id),
	}
}

func ValidationFailed(field, message string) *AppError {
	return &AppError{
		Err:     ErrValidation,
		Message: message,
		Field:   field,
	}
}

func Conflict(resource, id string) *AppError {
	return &AppError{
		Err:     ErrConflict,
		Message: fmt.Sprintf("%s conflict with id %s", resource, id),
	}
}

// Persistence wraps a storage failure for the given room.
// Both the category and the driver error stay reachable through errors.Is.
func Persistence(roomID string, cause error) error {
	return fmt.Errorf("%w: %w", &AppError{
		Err:     ErrPersistence,
		Message: fmt.Sprintf("could not persist room %s", roomID),
	}, cause)
}

// Execution returns an AppError describing a failed compile/run request.
// The message is shown to the requesting user as output text.
func Execution(message string) *AppError {
	return &AppError{
		Err:     ErrExecution,
		Message: message,
	}
}
