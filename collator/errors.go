package collator

import (
	"errors"
	"fmt"
)

// ErrDuplicateTask is returned when a task name is registered twice.
var ErrDuplicateTask = errors.New("task already registered")

// ErrWriterClosed is returned when a closed writer is written to or closed again.
var ErrWriterClosed = errors.New("writer already closed")

// ErrReentrantDispatch marks a write or close issued from inside an
// OnWriterActive callback.
var ErrReentrantDispatch = errors.New("reentrant call into stream collator")

// InternalError signals a bug in the collator or its host rather than a
// recoverable condition. It is raised with panic, never returned.
type InternalError struct {
	Op  string
	Err error
}

func (e *InternalError) Error() string {
	return fmt.Sprintf("internal error: %s: %v", e.Op, e.Err)
}

func (e *InternalError) Unwrap() error {
	return e.Err
}
