package cobuild

import "context"

// LockProvider is a key-value store binding for the cobuild protocol.
type LockProvider interface {
	Connect(ctx context.Context) error
	Disconnect(ctx context.Context) error

	// AcquireLock sets the lock key to the runner id if it is absent and
	// reports whether the key now holds this runner's id. Acquiring a lock
	// the runner already holds succeeds.
	AcquireLock(ctx context.Context, c *Context) (bool, error)

	// RenewLock refreshes the lock TTL without changing its value.
	RenewLock(ctx context.Context, c *Context) error

	// SetCompletedState overwrites the completed state.
	SetCompletedState(ctx context.Context, c *Context, state CompletedState) error

	// GetCompletedState returns nil when no state has been published.
	GetCompletedState(ctx context.Context, c *Context) (*CompletedState, error)
}
