// Package notify publishes task completion events to downstream systems
// after a runner records a completed state.
//
// Notifications are best effort: a failed publish never changes a task's
// outcome.
package notify

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// EventTypeTaskCompleted is the only event type.
const EventTypeTaskCompleted = "task_completed"

// TaskCompletedEvent is published when a runner finishes a task.
type TaskCompletedEvent struct {
	Version    string `json:"version"`
	EventType  string `json:"event_type"` // always "task_completed"
	ContextID  string `json:"context_id,omitempty"`
	RunnerID   string `json:"runner_id,omitempty"`
	Task       string `json:"task"`
	ClusterID  string `json:"cluster_id,omitempty"`
	CacheID    string `json:"cache_id,omitempty"`
	Status     string `json:"status"`
	Restored   bool   `json:"restored"`
	Timestamp  string `json:"timestamp"` // RFC 3339
	DurationMs int64  `json:"duration_ms"`
}

// Notifier publishes task completion events.
type Notifier interface {
	// Publish must respect context cancellation and deadlines.
	Publish(ctx context.Context, event *TaskCompletedEvent) error
	Close() error
}

// Multi publishes to every notifier and joins their errors.
type Multi []Notifier

// Publish sends event to all notifiers, even after a failure.
func (m Multi) Publish(ctx context.Context, event *TaskCompletedEvent) error {
	var errs []error
	for _, n := range m {
		if err := n.Publish(ctx, event); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Close closes all notifiers.
func (m Multi) Close() error {
	var errs []error
	for _, n := range m {
		if err := n.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// RetryBase is the delay before the first retry. Each further retry
// doubles it.
var RetryBase = 500 * time.Millisecond

// Retry calls attempt up to 1+retries times with exponential backoff.
// It stops early when permanent reports true for an error.
func Retry(ctx context.Context, retries int, attempt func(context.Context) error, permanent func(error) bool) error {
	var lastErr error
	// attempts = 1 initial + retries
	attempts := 1 + retries

	for i := range attempts {
		if err := ctx.Err(); err != nil {
			return fmt.Errorf("context canceled: %w", err)
		}

		// Exponential backoff before retries (not before first attempt)
		if i > 0 {
			backoff := time.Duration(1<<uint(i-1)) * RetryBase
			select {
			case <-ctx.Done():
				return fmt.Errorf("context canceled during backoff: %w", ctx.Err())
			case <-time.After(backoff):
			}
		}

		lastErr = attempt(ctx)
		if lastErr == nil {
			return nil
		}
		if permanent != nil && permanent(lastErr) {
			return fmt.Errorf("non-retriable error: %w", lastErr)
		}
	}

	return fmt.Errorf("failed after %d attempts: %w", attempts, lastErr)
}
