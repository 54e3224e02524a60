// Package redis implements cobuild.LockProvider on Redis.
//
// Locks are plain string keys holding the owner's runner id, created with
// SET NX PX and kept alive with PEXPIRE. Completed states are plain string
// keys with no expiry.
package redis

import (
	"context"
	"errors"
	"fmt"
	"net"
	"os"
	"sync"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"github.com/pithecene-io/cobuild/cobuild"
	"github.com/pithecene-io/cobuild/log"
)

// DefaultTimeout is the default per-command timeout.
const DefaultTimeout = 5 * time.Second

// DefaultConnectRetries is the default number of connect retries.
const DefaultConnectRetries = 3

// Per-command retry bounds applied to the go-redis client.
const (
	commandRetries     = 3
	minCommandBackoff  = 8 * time.Millisecond
	maxCommandBackoff  = 512 * time.Millisecond
	connectBackoffBase = 500 * time.Millisecond
)

// Config configures the Redis lock provider.
type Config struct {
	// URL is the Redis connection URL (required).
	// Format: redis://[:password@]host:port[/db]
	URL string
	// PasswordEnvVar names an environment variable holding the password.
	// When set, the variable must be present.
	PasswordEnvVar string
	// ConnectRetries is the number of PING retries in Connect (default 3).
	// Zero means the default; use NoRetries to disable.
	ConnectRetries int
	// Timeout bounds each command (default 5s).
	Timeout time.Duration
	// Logger receives connection errors. Optional.
	Logger *log.Logger
}

// NoRetries disables connect retries.
const NoRetries = -1

// Provider is a Redis-backed cobuild.LockProvider.
type Provider struct {
	config Config
	client *goredis.Client

	closeOnce sync.Once
	closeErr  error
}

// New creates a provider from cfg. It does not contact Redis.
func New(cfg Config) (*Provider, error) {
	if cfg.URL == "" {
		return nil, errors.New("redis lock provider requires a URL")
	}

	opts, err := goredis.ParseURL(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("redis lock provider: invalid URL: %w", err)
	}

	if cfg.PasswordEnvVar != "" {
		password, ok := os.LookupEnv(cfg.PasswordEnvVar)
		if !ok {
			return nil, fmt.Errorf("redis lock provider: password environment variable %s is not set", cfg.PasswordEnvVar)
		}
		opts.Password = password
	}

	switch {
	case cfg.ConnectRetries == NoRetries:
		cfg.ConnectRetries = 0
	case cfg.ConnectRetries == 0:
		cfg.ConnectRetries = DefaultConnectRetries
	case cfg.ConnectRetries < 0:
		return nil, fmt.Errorf("connect retries must be >= 0, got %d", cfg.ConnectRetries)
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}

	opts.DialTimeout = cfg.Timeout
	opts.MaxRetries = commandRetries
	opts.MinRetryBackoff = minCommandBackoff
	opts.MaxRetryBackoff = maxCommandBackoff

	client := goredis.NewClient(opts)
	client.AddHook(errorHook{logger: cfg.Logger})

	return &Provider{config: cfg, client: client}, nil
}

// Connect pings Redis, retrying with exponential backoff.
func (p *Provider) Connect(ctx context.Context) error {
	var lastErr error
	// attempts = 1 initial + retries
	attempts := 1 + p.config.ConnectRetries

	for i := range attempts {
		if err := ctx.Err(); err != nil {
			return cobuild.NewOperationError(cobuild.OpConnect, "", nil, err)
		}

		if i > 0 {
			backoff := time.Duration(1<<uint(i-1)) * connectBackoffBase
			select {
			case <-ctx.Done():
				return cobuild.NewOperationError(cobuild.OpConnect, "", nil, ctx.Err())
			case <-time.After(backoff):
			}
		}

		pingCtx, cancel := context.WithTimeout(ctx, p.config.Timeout)
		lastErr = p.client.Ping(pingCtx).Err()
		cancel()

		if lastErr == nil {
			return nil
		}
	}

	return cobuild.NewOperationError(cobuild.OpConnect, "", nil,
		fmt.Errorf("failed after %d attempts: %w", attempts, lastErr))
}

// Disconnect closes the client. Safe to call more than once.
func (p *Provider) Disconnect(context.Context) error {
	p.closeOnce.Do(func() {
		if err := p.client.Close(); err != nil {
			p.closeErr = cobuild.NewOperationError(cobuild.OpDisconnect, "", nil, err)
		}
	})
	return p.closeErr
}

// AcquireLock sets the lock key if absent, then reads it back. The
// read-back makes acquisition reentrant for the current holder.
func (p *Provider) AcquireLock(ctx context.Context, c *cobuild.Context) (bool, error) {
	ctx, cancel := context.WithTimeout(ctx, p.config.Timeout)
	defer cancel()

	if err := p.client.SetNX(ctx, c.LockKey, c.RunnerID, c.LockTTL).Err(); err != nil {
		return false, cobuild.NewOperationError(cobuild.OpAcquireLock, c.LockKey, c, err)
	}

	holder, err := p.client.Get(ctx, c.LockKey).Result()
	if errors.Is(err, goredis.Nil) {
		return false, cobuild.NewOperationError(cobuild.OpAcquireLock, c.LockKey, c, cobuild.ErrLockReadback)
	}
	if err != nil {
		return false, cobuild.NewOperationError(cobuild.OpAcquireLock, c.LockKey, c, err)
	}
	return holder == c.RunnerID, nil
}

// RenewLock resets the lock TTL.
func (p *Provider) RenewLock(ctx context.Context, c *cobuild.Context) error {
	ctx, cancel := context.WithTimeout(ctx, p.config.Timeout)
	defer cancel()

	ok, err := p.client.PExpire(ctx, c.LockKey, c.LockTTL).Result()
	if err != nil {
		return cobuild.NewOperationError(cobuild.OpRenewLock, c.LockKey, c, err)
	}
	if !ok {
		return cobuild.NewOperationError(cobuild.OpRenewLock, c.LockKey, c, cobuild.ErrLockExpired)
	}
	return nil
}

// SetCompletedState overwrites the completed state.
func (p *Provider) SetCompletedState(ctx context.Context, c *cobuild.Context, state cobuild.CompletedState) error {
	if err := state.Validate(); err != nil {
		return cobuild.NewOperationError(cobuild.OpSetCompletedState, c.CompletedStateKey, c, err)
	}

	ctx, cancel := context.WithTimeout(ctx, p.config.Timeout)
	defer cancel()

	if err := p.client.Set(ctx, c.CompletedStateKey, state.Encode(), 0).Err(); err != nil {
		return cobuild.NewOperationError(cobuild.OpSetCompletedState, c.CompletedStateKey, c, err)
	}
	return nil
}

// GetCompletedState returns nil when the key is absent.
func (p *Provider) GetCompletedState(ctx context.Context, c *cobuild.Context) (*cobuild.CompletedState, error) {
	ctx, cancel := context.WithTimeout(ctx, p.config.Timeout)
	defer cancel()

	raw, err := p.client.Get(ctx, c.CompletedStateKey).Result()
	if errors.Is(err, goredis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, cobuild.NewOperationError(cobuild.OpGetCompletedState, c.CompletedStateKey, c, err)
	}

	state, err := cobuild.DecodeCompletedState(raw)
	if err != nil {
		return nil, cobuild.NewOperationError(cobuild.OpGetCompletedState, c.CompletedStateKey, c, err)
	}
	return state, nil
}

// errorHook logs dial failures on the long-lived connection pool. The
// failing command still reports its own error to the caller.
type errorHook struct {
	logger *log.Logger
}

func (h errorHook) DialHook(next goredis.DialHook) goredis.DialHook {
	return func(ctx context.Context, network, addr string) (net.Conn, error) {
		conn, err := next(ctx, network, addr)
		if err != nil {
			h.logger.Warn("redis connection error", map[string]any{
				"addr":  addr,
				"error": err.Error(),
			})
		}
		return conn, err
	}
}

func (h errorHook) ProcessHook(next goredis.ProcessHook) goredis.ProcessHook {
	return next
}

func (h errorHook) ProcessPipelineHook(next goredis.ProcessPipelineHook) goredis.ProcessPipelineHook {
	return next
}

// Verify Provider implements the cobuild interface.
var _ cobuild.LockProvider = (*Provider)(nil)
