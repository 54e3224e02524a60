package cobuild

import (
	"errors"
	"fmt"
)

var (
	// ErrLockReadback is returned when a lock value is absent right after
	// it was set.
	ErrLockReadback = errors.New("lock value missing after set")
	// ErrLockExpired is returned when renewing a lock whose key is gone.
	ErrLockExpired = errors.New("lock expired")
	// ErrInvalidState is returned for completed states that cannot be
	// published or parsed.
	ErrInvalidState = errors.New("invalid completed state")
	// ErrInvalidContext is returned by NewContext.
	ErrInvalidContext = errors.New("invalid cobuild context")
)

// Store operations, as reported in OperationError.
const (
	OpConnect           = "connect"
	OpDisconnect        = "disconnect"
	OpAcquireLock       = "acquire lock"
	OpRenewLock         = "renew lock"
	OpSetCompletedState = "set completed state"
	OpGetCompletedState = "get completed state"
)

// OperationError is a failed store operation.
type OperationError struct {
	Op      string
	Key     string
	Subject string
	Err     error
}

// NewOperationError builds an OperationError for c. c may be nil for
// connection-level operations.
func NewOperationError(op string, key string, c *Context, err error) *OperationError {
	e := &OperationError{Op: op, Key: key, Err: err}
	if c != nil {
		e.Subject = c.Describe()
	}
	return e
}

func (e *OperationError) Error() string {
	switch {
	case e.Subject != "":
		return fmt.Sprintf("cobuild: %s failed for %s (key %s): %v", e.Op, e.Subject, e.Key, e.Err)
	case e.Key != "":
		return fmt.Sprintf("cobuild: %s failed (key %s): %v", e.Op, e.Key, e.Err)
	default:
		return fmt.Sprintf("cobuild: %s failed: %v", e.Op, e.Err)
	}
}

func (e *OperationError) Unwrap() error {
	return e.Err
}
