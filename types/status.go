// Package types defines the domain types shared across cobuild packages.
//
//nolint:revive // types is a common Go package naming convention
package types

// OperationStatus is the outcome of a single task execution.
//
// Only Success, SuccessWithWarning and Failure are terminal outcomes that may
// be published as a cobuild completed state. FromCache and RemoteExecuting are
// reported to the local caller only.
type OperationStatus string

const (
	// StatusSuccess indicates the task exited cleanly with no stderr output.
	StatusSuccess OperationStatus = "SUCCESS"
	// StatusSuccessWithWarning indicates the task exited cleanly but wrote to
	// stderr, or its output could not be cached.
	StatusSuccessWithWarning OperationStatus = "SUCCESS_WITH_WARNING"
	// StatusFailure indicates the task exited non-zero or could not start.
	StatusFailure OperationStatus = "FAILURE"
	// StatusFromCache indicates the output was restored from another runner's
	// completed execution.
	StatusFromCache OperationStatus = "FROM_CACHE"
	// StatusRemoteExecuting indicates another runner holds the cobuild lock.
	StatusRemoteExecuting OperationStatus = "REMOTE_EXECUTING"
)

// IsTerminal reports whether the status may be recorded as a completed state.
func (s OperationStatus) IsTerminal() bool {
	switch s {
	case StatusSuccess, StatusSuccessWithWarning, StatusFailure:
		return true
	default:
		return false
	}
}

// Succeeded reports whether the status counts as a successful outcome.
func (s OperationStatus) Succeeded() bool {
	return s == StatusSuccess || s == StatusSuccessWithWarning || s == StatusFromCache
}
