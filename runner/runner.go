// Package runner executes shell tasks in parallel behind a stream
// collator, coordinating with other runners through cobuild locks.
//
// For each cobuild task a runner first looks for a completed state
// published by another runner and restores that runner's output from the
// build cache. Otherwise it races for the task's lock: the winner executes,
// caches its output and publishes a completed state; losers wait until a
// state appears or the lock becomes free.
package runner

import (
	"context"
	"errors"
	"fmt"
	"runtime"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/pithecene-io/cobuild/buildcache"
	"github.com/pithecene-io/cobuild/cobuild"
	"github.com/pithecene-io/cobuild/collator"
	"github.com/pithecene-io/cobuild/log"
	"github.com/pithecene-io/cobuild/metrics"
	"github.com/pithecene-io/cobuild/notify"
	"github.com/pithecene-io/cobuild/terminal"
	"github.com/pithecene-io/cobuild/types"
)

// DefaultPollInterval is how often a waiting runner checks for a
// completed state.
const DefaultPollInterval = time.Second

// ErrWaitTimeout is returned when another runner held a lock for longer
// than Options.WaitTimeout.
var ErrWaitTimeout = errors.New("timed out waiting for remote execution")

// Options configure a Runner.
type Options struct {
	// Destination receives the collated output (required).
	Destination terminal.Destination
	// Executor runs task commands. Defaults to ShellExecutor.
	Executor Executor
	// Parallelism bounds concurrent tasks. Zero uses the CPU count.
	Parallelism int

	// Provider enables cobuilds. It is connected at the start of Run and
	// disconnected at the end.
	Provider      cobuild.LockProvider
	ContextID     string
	RunnerID      string
	LockTTL       time.Duration
	RenewInterval time.Duration
	PollInterval  time.Duration
	// WaitTimeout bounds waiting on a remote runner. Zero waits forever.
	WaitTimeout time.Duration

	// Cache stores and restores cobuild output. Optional.
	Cache *buildcache.Cache
	// Notifier receives an event per finished task. Optional.
	Notifier notify.Notifier

	Banners bool
	NoColor bool

	// OnStatus is told about non-final statuses such as REMOTE_EXECUTING.
	OnStatus func(task string, status types.OperationStatus)

	Logger  *log.Logger
	Metrics *metrics.Collector
	Now     func() time.Time
}

// Runner runs task lists. Create with New.
type Runner struct {
	opts Options
}

// New validates opts and fills defaults.
func New(opts Options) (*Runner, error) {
	if opts.Destination == nil {
		return nil, errors.New("runner: destination is required")
	}
	if opts.Parallelism < 0 {
		return nil, fmt.Errorf("runner: parallelism must be >= 0, got %d", opts.Parallelism)
	}
	if opts.Executor == nil {
		opts.Executor = ShellExecutor{}
	}
	if opts.Parallelism == 0 {
		opts.Parallelism = runtime.NumCPU()
	}
	if opts.Provider != nil {
		if opts.ContextID == "" {
			return nil, fmt.Errorf("runner: %w: context id is required", cobuild.ErrInvalidContext)
		}
		if opts.RunnerID == "" {
			opts.RunnerID = uuid.New().String()
		}
		if opts.RenewInterval <= 0 {
			opts.RenewInterval = cobuild.DefaultRenewInterval
		}
		if opts.LockTTL <= 0 {
			opts.LockTTL = 3 * opts.RenewInterval
		}
		if opts.RenewInterval >= opts.LockTTL {
			return nil, fmt.Errorf("runner: renew interval %s must be shorter than lock ttl %s",
				opts.RenewInterval, opts.LockTTL)
		}
	}
	if opts.PollInterval <= 0 {
		opts.PollInterval = DefaultPollInterval
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Runner{opts: opts}, nil
}

// RunnerID returns the runner id used for locks.
func (r *Runner) RunnerID() string {
	return r.opts.RunnerID
}

type job struct {
	index int
	task  Task
	out   *collator.TaskOutput
	lock  *cobuild.Lock
}

// Run executes tasks and returns one result per task, in task order.
//
// A returned error means the run could not start (invalid tasks or an
// unreachable lock provider). Task failures are reported in the Report.
func (r *Runner) Run(ctx context.Context, tasks []Task) (*Report, error) {
	start := r.opts.Now()

	var banner *collator.Banner
	if r.opts.Banners {
		banner = collator.NewBanner(len(tasks), r.opts.NoColor)
	}
	mux := collator.NewMux(collator.Options{
		Destination: r.opts.Destination,
		OnWriterActive: func(w *collator.CollatedWriter) {
			r.opts.Metrics.IncWriterActivation()
			if banner == nil {
				return
			}
			if err := banner.Write(w); err != nil {
				r.opts.Metrics.IncBannerWriteFailure()
				r.opts.Logger.Warn("writing task banner failed", map[string]any{
					"task":  w.TaskName(),
					"error": err.Error(),
				})
			}
		},
	})

	jobs, useCobuild, err := r.prepare(mux, tasks)
	if err != nil {
		return nil, err
	}

	if useCobuild {
		if err := r.opts.Provider.Connect(ctx); err != nil {
			return nil, fmt.Errorf("connecting lock provider: %w", err)
		}
		defer func() {
			if err := r.opts.Provider.Disconnect(context.WithoutCancel(ctx)); err != nil {
				r.opts.Logger.Warn("lock provider disconnect failed", map[string]any{"error": err.Error()})
			}
		}()
	}

	report := &Report{Results: make([]Result, len(jobs))}

	sem := make(chan struct{}, r.opts.Parallelism)
	var wg sync.WaitGroup
	for _, j := range jobs {
		sem <- struct{}{}
		wg.Add(1)
		go func(j job) {
			defer wg.Done()
			defer func() { <-sem }()
			report.Results[j.index] = r.runJob(ctx, j)
		}(j)
	}
	wg.Wait()

	report.Duration = r.opts.Now().Sub(start)
	return report, nil
}

// prepare registers every task output up front, in task order, so
// buffered output drains in that order.
func (r *Runner) prepare(mux *collator.Mux, tasks []Task) ([]job, bool, error) {
	jobs := make([]job, 0, len(tasks))
	useCobuild := false

	for i, t := range tasks {
		if t.Name == "" {
			return nil, false, fmt.Errorf("task %d: name is required", i)
		}

		var lock *cobuild.Lock
		if r.opts.Provider != nil && !t.NoCobuild {
			cctx, err := cobuild.NewContext(cobuild.ContextOptions{
				ContextID:   r.opts.ContextID,
				ClusterID:   t.EffectiveClusterID(),
				CacheID:     t.EffectiveCacheID(),
				RunnerID:    r.opts.RunnerID,
				PackageName: t.Package,
				PhaseName:   t.Phase,
				LockTTL:     r.opts.LockTTL,
			})
			if err != nil {
				return nil, false, fmt.Errorf("task %q: %w", t.Name, err)
			}
			lock = cobuild.NewLock(r.opts.Provider, cctx, cobuild.LockOptions{
				Logger:  r.opts.Logger,
				Metrics: r.opts.Metrics,
			})
			useCobuild = true
		}

		out, err := mux.Register(t.Name, lock != nil && r.opts.Cache != nil)
		if err != nil {
			return nil, false, fmt.Errorf("task %q: %w", t.Name, err)
		}
		jobs = append(jobs, job{index: i, task: t, out: out, lock: lock})
	}
	return jobs, useCobuild, nil
}

func (r *Runner) runJob(ctx context.Context, j job) Result {
	start := r.opts.Now()

	var res Result
	if j.lock == nil {
		res = r.execute(ctx, j)
	} else {
		res = r.coordinate(ctx, j)
	}
	res.Task = j.task.Name
	res.Duration = r.opts.Now().Sub(start)

	if err := j.out.Close(); err != nil {
		r.opts.Logger.Warn("closing task output failed", map[string]any{
			"task":  j.task.Name,
			"error": err.Error(),
		})
	}

	r.record(&res)
	r.notify(ctx, j, &res)
	return res
}

// execute runs the task command and derives its status from the exit
// code and whether it wrote to stderr.
func (r *Runner) execute(ctx context.Context, j job) Result {
	res := Result{Status: types.StatusSuccess}

	code, err := r.opts.Executor.Execute(ctx, j.task, j.out.Stdout(), j.out.Stderr())
	res.ExitCode = code
	switch {
	case err != nil:
		_ = j.out.Terminal().WriteStderrLine(err.Error())
		res.fail(err)
	case code != 0:
		res.Status = types.StatusFailure
		res.Error = fmt.Sprintf("exit status %d", code)
	case j.out.WroteStderr():
		res.Status = types.StatusSuccessWithWarning
	}
	return res
}

func (r *Runner) record(res *Result) {
	m := r.opts.Metrics
	if res.Restored {
		m.IncTaskRestored()
	}
	switch res.Status {
	case types.StatusSuccess:
		m.IncTaskSucceeded()
	case types.StatusSuccessWithWarning:
		m.IncTaskWarned()
	case types.StatusFailure:
		m.IncTaskFailed()
	}

	fields := map[string]any{
		"task":        res.Task,
		"status":      string(res.Status),
		"duration_ms": res.Duration.Milliseconds(),
	}
	if res.Error != "" {
		fields["error"] = res.Error
	}
	r.opts.Logger.Debug("task finished", fields)
}

func (r *Runner) notify(ctx context.Context, j job, res *Result) {
	if r.opts.Notifier == nil {
		return
	}
	event := &notify.TaskCompletedEvent{
		Version:    types.Version,
		EventType:  notify.EventTypeTaskCompleted,
		ContextID:  r.opts.ContextID,
		RunnerID:   r.opts.RunnerID,
		Task:       j.task.Name,
		CacheID:    res.CacheID,
		Status:     string(res.Status),
		Restored:   res.Restored,
		Timestamp:  r.opts.Now().UTC().Format(time.RFC3339),
		DurationMs: res.Duration.Milliseconds(),
	}
	if j.lock != nil {
		event.ClusterID = j.lock.Context().ClusterID
	}
	if err := r.opts.Notifier.Publish(ctx, event); err != nil {
		r.opts.Logger.Warn("task notification failed", map[string]any{
			"task":  j.task.Name,
			"error": err.Error(),
		})
	}
}

func (r *Runner) status(task string, status types.OperationStatus) {
	if r.opts.OnStatus != nil {
		r.opts.OnStatus(task, status)
	}
}
