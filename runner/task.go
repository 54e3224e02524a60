package runner

import (
	"crypto/sha256"
	"encoding/hex"
	"time"

	"github.com/pithecene-io/cobuild/types"
)

// Task is one shell command to run.
type Task struct {
	Name    string
	Command string
	Dir     string
	Env     map[string]string

	// Package and Phase only label diagnostics.
	Package string
	Phase   string

	// ClusterID names the lock. Defaults to Name.
	ClusterID string
	// CacheID names the completed state and cache entry. Defaults to
	// DefaultCacheID(Name, Command).
	CacheID string

	// NoCobuild runs the task locally even when a lock provider is set.
	NoCobuild bool
}

// DefaultCacheID derives a cache id from the task identity.
func DefaultCacheID(name, command string) string {
	h := sha256.New()
	h.Write([]byte(name))
	h.Write([]byte{0x00})
	h.Write([]byte(command))
	return hex.EncodeToString(h.Sum(nil))
}

// EffectiveClusterID returns ClusterID, defaulting to Name.
func (t Task) EffectiveClusterID() string {
	if t.ClusterID != "" {
		return t.ClusterID
	}
	return t.Name
}

// EffectiveCacheID returns CacheID, defaulting to DefaultCacheID.
func (t Task) EffectiveCacheID() string {
	if t.CacheID != "" {
		return t.CacheID
	}
	return DefaultCacheID(t.Name, t.Command)
}

// Result is the outcome of one task.
type Result struct {
	Task   string                `json:"task"`
	Status types.OperationStatus `json:"status"`
	// Recorded is the completed state a restored result was read from.
	Recorded types.OperationStatus `json:"recorded,omitempty"`
	ExitCode int                   `json:"exit_code"`
	CacheID  string                `json:"cache_id,omitempty"`
	Restored bool                  `json:"restored"`
	Duration time.Duration         `json:"duration"`
	Warnings []string              `json:"warnings,omitempty"`
	Error    string                `json:"error,omitempty"`

	err error
}

// Err returns the error that failed the task, if any.
func (r *Result) Err() error {
	return r.err
}

// Failed reports whether the task counts as failed.
func (r *Result) Failed() bool {
	return !r.Status.Succeeded()
}

func (r *Result) fail(err error) {
	r.Status = types.StatusFailure
	r.err = err
	r.Error = err.Error()
}

// warn downgrades SUCCESS and records why.
func (r *Result) warn(msg string) {
	if r.Status == types.StatusSuccess {
		r.Status = types.StatusSuccessWithWarning
	}
	r.Warnings = append(r.Warnings, msg)
}

// Summary aggregates a run.
type Summary struct {
	Total     int           `json:"total"`
	Succeeded int           `json:"succeeded"`
	Warned    int           `json:"warned"`
	Failed    int           `json:"failed"`
	Restored  int           `json:"restored"`
	Duration  time.Duration `json:"duration"`
}

// Report is the outcome of Runner.Run. Results follow task order.
type Report struct {
	Results  []Result      `json:"results"`
	Duration time.Duration `json:"duration"`
}

// Summary counts results by outcome.
func (r *Report) Summary() Summary {
	s := Summary{Total: len(r.Results), Duration: r.Duration}
	for i := range r.Results {
		res := &r.Results[i]
		if res.Restored {
			s.Restored++
		}
		switch {
		case res.Failed():
			s.Failed++
		case res.Status == types.StatusSuccessWithWarning || res.Recorded == types.StatusSuccessWithWarning:
			s.Warned++
		default:
			s.Succeeded++
		}
	}
	return s
}

// Failed reports whether any task failed.
func (r *Report) Failed() bool {
	for i := range r.Results {
		if r.Results[i].Failed() {
			return true
		}
	}
	return false
}
