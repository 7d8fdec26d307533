package domain

import (
	"errors"
	"fmt"
)

var (
	// ErrWorkItemNotFound is returned when a work item cannot be found in the database
	ErrWorkItemNotFound = errors.New("work item not found")

	// ErrDominionTurnJobNotFound is returned when a dominion turn job cannot be found in the database
	ErrDominionTurnJobNotFound = errors.New("dominion turn job not found")

	// ErrNoPendingWorkItem is returned when the queue holds no PENDING work item
	ErrNoPendingWorkItem = errors.New("no pending work item")

	// ErrWorkItemAlreadyClaimed is returned when attempting to claim a work item that's no longer PENDING
	ErrWorkItemAlreadyClaimed = errors.New("work item already claimed or not in PENDING status")

	// ErrInvalidTransition is returned when a status change is not allowed from the current status
	ErrInvalidTransition = errors.New("invalid status transition")

	// ErrInvalidArgument is returned for nil or malformed input
	ErrInvalidArgument = errors.New("invalid argument")

	// ErrUnknownWorkType is returned when no handler is registered for a work type
	ErrUnknownWorkType = errors.New("unknown work type")

	// ErrInvalidPayload is returned when a work item payload cannot be decoded by its handler
	ErrInvalidPayload = errors.New("invalid work item payload")

	// ErrScenariosIncomplete is returned when completing a job that has not processed every scenario
	ErrScenariosIncomplete = errors.New("not all scenarios processed")
)

// HandlerPanicError wraps a value recovered from a panicking handler
type HandlerPanicError struct {
	Value any
}

func (e *HandlerPanicError) Error() string {
	return fmt.Sprintf("handler panicked: %v", e.Value)
}

// NewHandlerPanicError creates a new HandlerPanicError
func NewHandlerPanicError(value any) error {
	return &HandlerPanicError{Value: value}
}

func transitionError(from, to Status) error {
	return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, from, to)
}
