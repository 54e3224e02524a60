// Package config loads cobuild.yaml.
//
// All values are optional defaults for `cobuild exec`; CLI flags and the
// COBUILD_* environment variables override them.
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"
)

// Environment overrides.
const (
	EnvContextID = "COBUILD_CONTEXT_ID"
	EnvRunnerID  = "COBUILD_RUNNER_ID"
)

// Defaults.
const (
	DefaultRenewInterval = 10 * time.Second
	DefaultLockTTL       = 3 * DefaultRenewInterval
	DefaultPollInterval  = time.Second
	DefaultCachePath     = ".cobuild/cache"
	DefaultShell         = "/bin/sh"
)

// Config represents a cobuild.yaml file.
type Config struct {
	ContextID   string        `yaml:"context_id"`
	RunnerID    string        `yaml:"runner_id"`
	Parallelism int           `yaml:"parallelism"`
	Shell       string        `yaml:"shell"`
	Cobuild     CobuildConfig `yaml:"cobuild"`
	Cache       CacheConfig   `yaml:"cache"`
	Output      OutputConfig  `yaml:"output"`
	Notify      NotifyList    `yaml:"notify"`
	Tasks       []TaskConfig  `yaml:"tasks"`
}

// CobuildConfig configures the distributed lock. Cobuilds are disabled
// when no Redis URL is set.
type CobuildConfig struct {
	Redis         RedisConfig `yaml:"redis"`
	LockTTL       Duration    `yaml:"lock_ttl"`
	RenewInterval Duration    `yaml:"renew_interval"`
	PollInterval  Duration    `yaml:"poll_interval"`
	// WaitTimeout bounds how long a runner waits on another runner's
	// lock. Zero waits indefinitely.
	WaitTimeout Duration `yaml:"wait_timeout"`
}

// RedisConfig configures the Redis lock provider.
type RedisConfig struct {
	URL            string   `yaml:"url"`
	PasswordEnv    string   `yaml:"password_env"`
	ConnectRetries *int     `yaml:"connect_retries,omitempty"`
	Timeout        Duration `yaml:"timeout"`
}

// CacheConfig configures the build output cache.
type CacheConfig struct {
	// Backend is fs, s3 or none. Empty means none.
	Backend     string `yaml:"backend"`
	Dataset     string `yaml:"dataset"`
	Path        string `yaml:"path"`
	Region      string `yaml:"region"`
	Endpoint    string `yaml:"endpoint"`
	S3PathStyle bool   `yaml:"s3_path_style"`
}

// OutputConfig configures collated terminal output.
type OutputConfig struct {
	// Newlines is lf, crlf or preserve.
	Newlines    string `yaml:"newlines"`
	StripColors bool   `yaml:"strip_colors"`
	NoBanners   bool   `yaml:"no_banners"`
	NoColor     bool   `yaml:"no_color"`
}

// NotifyConfig configures task completion notifications.
type NotifyConfig struct {
	Type    string            `yaml:"type"`
	URL     string            `yaml:"url"`
	Channel string            `yaml:"channel,omitempty"`
	Headers map[string]string `yaml:"headers,omitempty"`
	Timeout Duration          `yaml:"timeout,omitempty"`
	Retries *int              `yaml:"retries,omitempty"`
}

// NotifyList holds the configured notifiers. In YAML it is either a
// single mapping or a sequence of them.
type NotifyList []NotifyConfig

// UnmarshalYAML accepts a mapping or a sequence.
func (l *NotifyList) UnmarshalYAML(unmarshal func(any) error) error {
	var one NotifyConfig
	if err := unmarshal(&one); err == nil {
		*l = NotifyList{one}
		return nil
	}
	var many []NotifyConfig
	if err := unmarshal(&many); err != nil {
		return err
	}
	*l = many
	return nil
}

// TaskConfig is one shell task.
type TaskConfig struct {
	Name    string            `yaml:"name"`
	Command string            `yaml:"command"`
	Dir     string            `yaml:"dir,omitempty"`
	Env     map[string]string `yaml:"env,omitempty"`
	Package string            `yaml:"package,omitempty"`
	Phase   string            `yaml:"phase,omitempty"`
	// ClusterID defaults to Name.
	ClusterID string `yaml:"cluster_id,omitempty"`
	// CacheID defaults to a hash of Name and Command.
	CacheID string `yaml:"cache_id,omitempty"`
	// NoCobuild runs the task locally even when cobuilds are enabled.
	NoCobuild bool `yaml:"no_cobuild,omitempty"`
}

// Duration wraps time.Duration for YAML string parsing (e.g. "10s", "5m").
type Duration struct {
	time.Duration
}

// UnmarshalYAML parses a duration string like "10s" or "5m30s".
func (d *Duration) UnmarshalYAML(unmarshal func(any) error) error {
	var s string
	if err := unmarshal(&s); err != nil {
		return err
	}
	if s == "" {
		return nil
	}
	parsed, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", s, err)
	}
	d.Duration = parsed
	return nil
}

// MarshalYAML renders the duration string.
func (d Duration) MarshalYAML() (any, error) {
	return d.String(), nil
}

// CobuildEnabled reports whether a lock provider is configured.
func (c *Config) CobuildEnabled() bool {
	return c.Cobuild.Redis.URL != ""
}

// ApplyEnv applies COBUILD_CONTEXT_ID and COBUILD_RUNNER_ID.
func (c *Config) ApplyEnv() {
	if v := os.Getenv(EnvContextID); v != "" {
		c.ContextID = v
	}
	if v := os.Getenv(EnvRunnerID); v != "" {
		c.RunnerID = v
	}
}

// ApplyDefaults fills unset values. RunnerID is left to the caller.
func (c *Config) ApplyDefaults() {
	if c.Shell == "" {
		c.Shell = DefaultShell
	}
	if c.Cobuild.RenewInterval.Duration == 0 {
		c.Cobuild.RenewInterval.Duration = DefaultRenewInterval
	}
	if c.Cobuild.LockTTL.Duration == 0 {
		c.Cobuild.LockTTL.Duration = 3 * c.Cobuild.RenewInterval.Duration
	}
	if c.Cobuild.PollInterval.Duration == 0 {
		c.Cobuild.PollInterval.Duration = DefaultPollInterval
	}
	if c.Cache.Backend == "fs" && c.Cache.Path == "" {
		c.Cache.Path = DefaultCachePath
	}
	if c.Output.Newlines == "" {
		c.Output.Newlines = "lf"
	}
}

// Validate checks the configuration after defaults are applied. All
// problems are reported together.
func (c *Config) Validate() error {
	var errs []error

	if c.Parallelism < 0 {
		errs = append(errs, fmt.Errorf("parallelism must be >= 0, got %d", c.Parallelism))
	}

	if c.CobuildEnabled() {
		if strings.TrimSpace(c.ContextID) == "" {
			errs = append(errs, fmt.Errorf("context_id is required when cobuild.redis.url is set (or set %s)", EnvContextID))
		}
		if c.Cobuild.RenewInterval.Duration >= c.Cobuild.LockTTL.Duration {
			errs = append(errs, fmt.Errorf("cobuild.renew_interval (%s) must be shorter than cobuild.lock_ttl (%s)",
				c.Cobuild.RenewInterval.Duration, c.Cobuild.LockTTL.Duration))
		}
		if r := c.Cobuild.Redis.ConnectRetries; r != nil && *r < 0 {
			errs = append(errs, fmt.Errorf("cobuild.redis.connect_retries must be >= 0, got %d", *r))
		}
	}

	switch c.Cache.Backend {
	case "", "none", "fs":
	case "s3":
		if c.Cache.Path == "" {
			errs = append(errs, errors.New("cache.path (bucket[/prefix]) is required for the s3 backend"))
		}
	default:
		errs = append(errs, fmt.Errorf("cache.backend must be fs, s3 or none, got %q", c.Cache.Backend))
	}

	switch c.Output.Newlines {
	case "", "lf", "crlf", "preserve":
	default:
		errs = append(errs, fmt.Errorf("output.newlines must be lf, crlf or preserve, got %q", c.Output.Newlines))
	}

	for i, n := range c.Notify {
		at := "notify"
		if len(c.Notify) > 1 {
			at = fmt.Sprintf("notify[%d]", i)
		}
		switch n.Type {
		case "webhook", "redis":
			if n.URL == "" {
				errs = append(errs, fmt.Errorf("%s.url is required for type %s", at, n.Type))
			}
		default:
			errs = append(errs, fmt.Errorf("%s.type must be webhook or redis, got %q", at, n.Type))
		}
	}

	errs = append(errs, validateTasks(c.Tasks)...)
	return errors.Join(errs...)
}

func validateTasks(tasks []TaskConfig) []error {
	var errs []error
	seen := make(map[string]int, len(tasks))
	for i, t := range tasks {
		if strings.TrimSpace(t.Name) == "" {
			errs = append(errs, fmt.Errorf("tasks[%d]: name is required", i))
		} else if first, dup := seen[t.Name]; dup {
			errs = append(errs, fmt.Errorf("tasks[%d]: duplicate task name %q (first at tasks[%d])", i, t.Name, first))
		} else {
			seen[t.Name] = i
		}
		if strings.TrimSpace(t.Command) == "" {
			errs = append(errs, fmt.Errorf("tasks[%d] (%s): command is required", i, t.Name))
		}
		if strings.ContainsAny(t.CacheID, "/=\\") {
			errs = append(errs, fmt.Errorf("tasks[%d] (%s): cache_id must not contain '/', '=' or '\\'", i, t.Name))
		}
	}
	return errs
}
