package runner

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"sort"
	"strings"
	"time"
)

// DefaultWaitDelay bounds how long Execute waits for output pipes after
// a canceled task's process is killed.
const DefaultWaitDelay = 5 * time.Second

// Executor runs one task, streaming its output to stdout and stderr.
//
// A non-zero exit is reported through the exit code with a nil error.
// The error is reserved for tasks that could not run at all.
type Executor interface {
	Execute(ctx context.Context, task Task, stdout, stderr io.Writer) (exitCode int, err error)
}

// ExecutorFunc adapts a function to Executor.
type ExecutorFunc func(ctx context.Context, task Task, stdout, stderr io.Writer) (int, error)

// Execute calls f.
func (f ExecutorFunc) Execute(ctx context.Context, task Task, stdout, stderr io.Writer) (int, error) {
	return f(ctx, task, stdout, stderr)
}

// ShellExecutor runs task commands with `<shell> -c <command>`.
type ShellExecutor struct {
	Shell string
}

// Execute starts the command and waits for it to exit.
func (s ShellExecutor) Execute(ctx context.Context, task Task, stdout, stderr io.Writer) (int, error) {
	shell := s.Shell
	if shell == "" {
		shell = "/bin/sh"
	}

	cmd := exec.CommandContext(ctx, shell, "-c", task.Command)
	cmd.Dir = task.Dir
	cmd.Stdout = stdout
	cmd.Stderr = stderr
	cmd.WaitDelay = DefaultWaitDelay
	if len(task.Env) > 0 {
		cmd.Env = mergeEnv(os.Environ(), task.Env)
	}

	if err := cmd.Start(); err != nil {
		return -1, fmt.Errorf("failed to start %q: %w", task.Name, err)
	}

	err := cmd.Wait()
	if err == nil {
		return 0, nil
	}
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		// Killed by a signal reports -1.
		if code := exitErr.ExitCode(); code >= 0 {
			return code, nil
		}
		if ctx.Err() != nil {
			return -1, fmt.Errorf("task %q canceled: %w", task.Name, ctx.Err())
		}
		return -1, fmt.Errorf("task %q terminated: %w", task.Name, err)
	}
	return -1, fmt.Errorf("task %q wait failed: %w", task.Name, err)
}

// mergeEnv appends overrides to base, keeping only the last entry for
// each key.
func mergeEnv(base []string, overrides map[string]string) []string {
	keys := make([]string, 0, len(overrides))
	for k := range overrides {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	env := append([]string(nil), base...)
	for _, k := range keys {
		env = append(env, k+"="+overrides[k])
	}

	last := make(map[string]int, len(env))
	for i, entry := range env {
		key, _, _ := strings.Cut(entry, "=")
		last[key] = i
	}
	out := make([]string, 0, len(last))
	for i, entry := range env {
		key, _, _ := strings.Cut(entry, "=")
		if last[key] == i {
			out = append(out, entry)
		}
	}
	return out
}
