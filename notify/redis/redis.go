// Package redis publishes task completion events with Redis PUBLISH.
package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"github.com/pithecene-io/cobuild/notify"
)

// DefaultChannel is the default pub/sub channel name.
const DefaultChannel = "cobuild:task_completed"

// DefaultTimeout is the default per-publish timeout.
const DefaultTimeout = 5 * time.Second

// DefaultRetries is the default number of retry attempts.
const DefaultRetries = 3

// Config configures the Redis pub/sub notifier.
type Config struct {
	// URL is the Redis connection URL (required).
	URL string
	// Channel is the pub/sub channel name (default: cobuild:task_completed).
	Channel string
	// Timeout is the per-publish timeout (default 5s).
	Timeout time.Duration
	// Retries is the number of retry attempts on failure.
	Retries int
}

// Notifier publishes events as JSON on a Redis channel.
type Notifier struct {
	config Config
	client *goredis.Client
}

// New creates a Redis pub/sub notifier.
func New(cfg Config) (*Notifier, error) {
	if cfg.URL == "" {
		return nil, errors.New("redis notifier requires a URL")
	}

	opts, err := goredis.ParseURL(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("redis notifier: invalid URL: %w", err)
	}

	if cfg.Channel == "" {
		cfg.Channel = DefaultChannel
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	if cfg.Retries < 0 {
		return nil, fmt.Errorf("retries must be >= 0, got %d", cfg.Retries)
	}

	return &Notifier{config: cfg, client: goredis.NewClient(opts)}, nil
}

// Publish sends the event, retrying with backoff.
func (n *Notifier) Publish(ctx context.Context, event *notify.TaskCompletedEvent) error {
	body, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("redis notifier: marshal event: %w", err)
	}

	err = notify.Retry(ctx, n.config.Retries, func(ctx context.Context) error {
		publishCtx, cancel := context.WithTimeout(ctx, n.config.Timeout)
		defer cancel()
		return n.client.Publish(publishCtx, n.config.Channel, body).Err()
	}, nil)
	if err != nil {
		return fmt.Errorf("redis notifier: %w", err)
	}
	return nil
}

// Close releases the client.
func (n *Notifier) Close() error {
	return n.client.Close()
}

var _ notify.Notifier = (*Notifier)(nil)
