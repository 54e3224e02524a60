package cmd

import (
	"bytes"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/urfave/cli/v2"

	"github.com/pithecene-io/cobuild/cli/config"
	"github.com/pithecene-io/cobuild/notify"
	"github.com/pithecene-io/cobuild/types"
)

func requireShell(t *testing.T) {
	t.Helper()
	if _, err := os.Stat("/bin/sh"); err != nil {
		t.Skip("no /bin/sh")
	}
}

// runApp runs the CLI with args and returns its output and the error the
// exit handler would have seen.
func runApp(t *testing.T, args ...string) (string, string, error) {
	t.Helper()
	var stdout, stderr bytes.Buffer
	app := &cli.App{
		Name:           "cobuild",
		Writer:         &stdout,
		ErrWriter:      &stderr,
		ExitErrHandler: func(*cli.Context, error) {},
		Commands: []*cli.Command{
			ExecCommand(),
			StatusCommand(),
			ReplayCommand(),
			VersionCommand("test"),
		},
	}
	err := app.Run(append([]string{"cobuild"}, args...))
	return stdout.String(), stderr.String(), err
}

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "cobuild.yaml")
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func exitCode(t *testing.T, err error) int {
	t.Helper()
	if err == nil {
		return 0
	}
	var ec cli.ExitCoder
	if !errors.As(err, &ec) {
		t.Fatalf("error is not an ExitCoder: %v", err)
	}
	return ec.ExitCode()
}

func TestReadOnlyFlags(t *testing.T) {
	names := map[string]bool{}
	for _, f := range ReadOnlyFlags() {
		names[f.Names()[0]] = true
	}
	if !names["format"] || !names["no-color"] {
		t.Errorf("ReadOnlyFlags = %v", names)
	}
}

func TestBuildNotifier(t *testing.T) {
	mr := miniredis.RunT(t)

	none, err := buildNotifier(&config.Config{})
	if err != nil || none != nil {
		t.Fatalf("no notifiers: got %v, %v", none, err)
	}

	single, err := buildNotifier(&config.Config{Notify: config.NotifyList{
		{Type: "webhook", URL: "http://127.0.0.1:1/hook"},
	}})
	if err != nil {
		t.Fatalf("single: %v", err)
	}
	if _, ok := single.(notify.Multi); ok {
		t.Error("single notifier should not be wrapped")
	}
	_ = single.Close()

	both, err := buildNotifier(&config.Config{Notify: config.NotifyList{
		{Type: "webhook", URL: "http://127.0.0.1:1/hook"},
		{Type: "redis", URL: "redis://" + mr.Addr()},
	}})
	if err != nil {
		t.Fatalf("both: %v", err)
	}
	multi, ok := both.(notify.Multi)
	if !ok || len(multi) != 2 {
		t.Errorf("notifier = %T, want notify.Multi of 2", both)
	}
	_ = both.Close()

	if _, err := buildNotifier(&config.Config{Notify: config.NotifyList{
		{Type: "redis", URL: "redis://" + mr.Addr()},
		{Type: "sqs", URL: "x"},
	}}); err == nil {
		t.Error("expected error for unknown notify type")
	}
}

func TestVersionCommand(t *testing.T) {
	stdout, _, err := runApp(t, "version", "--format", "json")
	if err != nil {
		t.Fatalf("version: %v", err)
	}
	var resp VersionResponse
	if err := json.Unmarshal([]byte(stdout), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp.Version != types.Version || resp.Commit != "test" {
		t.Errorf("resp = %+v", resp)
	}
}

func TestExec_LocalTasks(t *testing.T) {
	requireShell(t)
	cfg := writeConfig(t, `
parallelism: 2
tasks:
  - name: first
    command: echo one; echo two
  - name: second
    command: echo three
`)

	stdout, stderr, err := runApp(t, "exec", "--config", cfg, "--no-banners", "--format", "json")
	if code := exitCode(t, err); code != 0 {
		t.Fatalf("exit code = %d (%v), stderr:\n%s", code, err, stderr)
	}

	if stdout != "one\ntwo\nthree\n" && stdout != "three\none\ntwo\n" {
		t.Errorf("stdout = %q", stdout)
	}

	var resp ExecResponse
	if err := json.Unmarshal([]byte(stderr), &resp); err != nil {
		t.Fatalf("decode summary %q: %v", stderr, err)
	}
	if resp.Summary.Total != 2 || resp.Summary.Succeeded != 2 {
		t.Errorf("summary = %+v", resp.Summary)
	}
	if resp.Metrics != nil {
		t.Error("metrics included without --metrics")
	}
}

func TestExec_SelectedTaskAndMetrics(t *testing.T) {
	requireShell(t)
	cfg := writeConfig(t, `
tasks:
  - name: a
    command: echo a
  - name: b
    command: echo b
`)

	stdout, stderr, err := runApp(t, "exec", "--config", cfg, "--no-banners", "--format", "json", "--metrics", "b")
	if exitCode(t, err) != 0 {
		t.Fatalf("exec: %v\n%s", err, stderr)
	}
	if stdout != "b\n" {
		t.Errorf("stdout = %q, want only task b", stdout)
	}
	var resp ExecResponse
	if err := json.Unmarshal([]byte(stderr), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp.Metrics == nil || resp.Metrics.TasksSucceeded != 1 || resp.Metrics.CacheBackend != "none" {
		t.Errorf("metrics = %+v", resp.Metrics)
	}
}

func TestExec_TaskFailureExitCode(t *testing.T) {
	requireShell(t)
	cfg := writeConfig(t, `
tasks:
  - name: broken
    command: exit 3
`)

	_, _, err := runApp(t, "exec", "--config", cfg, "--quiet")
	if code := exitCode(t, err); code != exitTaskFailure {
		t.Errorf("exit code = %d, want %d", code, exitTaskFailure)
	}
}

func TestExec_SetupErrors(t *testing.T) {
	unknownKey := writeConfig(t, "tasks: []\nbogus: true\n")
	noContext := writeConfig(t, `
cobuild:
  redis:
    url: redis://127.0.0.1:1
tasks:
  - name: a
    command: "true"
`)
	valid := writeConfig(t, "tasks:\n  - name: a\n    command: \"true\"\n")

	tests := []struct {
		name string
		args []string
	}{
		{"unknown config key", []string{"--config", unknownKey}},
		{"explicit missing config", []string{"--config", filepath.Join(t.TempDir(), "missing.yaml")}},
		{"default config absent", []string{}},
		{"context id required", []string{"--config", noContext}},
		{"unknown task", []string{"--config", valid, "nope"}},
		{"bad format", []string{"--config", valid, "--format", "xml"}},
		{"bad log level", []string{"--config", valid, "--log-level", "loud"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Setenv("COBUILD_CONTEXT_ID", "")
			_, _, err := runApp(t, append([]string{"exec", "--quiet"}, tt.args...)...)
			if code := exitCode(t, err); code != exitSetupError {
				t.Errorf("exit code = %d (%v), want %d", code, err, exitSetupError)
			}
		})
	}
}

func TestExec_CobuildRestoresAcrossRunners(t *testing.T) {
	requireShell(t)
	mr := miniredis.RunT(t)
	dir := t.TempDir()
	marker := filepath.Join(dir, "runs")

	cfg := writeConfig(t, `
context_id: ctx-test
cobuild:
  redis:
    url: redis://`+mr.Addr()+`
    connect_retries: 0
  poll_interval: 10ms
cache:
  backend: fs
  path: `+filepath.Join(dir, "cache")+`
tasks:
  - name: build
    command: echo built; echo run >> `+marker+`
    cache_id: build-1
`)

	stdout, stderr, err := runApp(t, "exec", "--config", cfg, "--runner-id", "runner-a", "--no-banners", "--quiet")
	if exitCode(t, err) != 0 {
		t.Fatalf("first exec: %v\n%s", err, stderr)
	}
	if stdout != "built\n" {
		t.Errorf("first stdout = %q", stdout)
	}
	if state, _ := mr.Get("cobuild:completed:ctx-test:build-1"); state != "SUCCESS;build-1" {
		t.Errorf("completed state = %q", state)
	}

	stdout, stderr, err = runApp(t, "exec", "--config", cfg, "--runner-id", "runner-b", "--no-banners", "--format", "json")
	if exitCode(t, err) != 0 {
		t.Fatalf("second exec: %v\n%s", err, stderr)
	}
	if stdout != "built\n" {
		t.Errorf("restored stdout = %q", stdout)
	}
	runs, err := os.ReadFile(marker)
	if err != nil {
		t.Fatalf("marker: %v", err)
	}
	if strings.Count(string(runs), "run") != 1 {
		t.Errorf("task executed %d times, want 1", strings.Count(string(runs), "run"))
	}

	var resp ExecResponse
	if err := json.Unmarshal([]byte(stderr), &resp); err != nil {
		t.Fatalf("decode %q: %v", stderr, err)
	}
	if len(resp.Results) != 1 || !resp.Results[0].Restored || resp.Results[0].Status != types.StatusFromCache {
		t.Errorf("results = %+v", resp.Results)
	}

	// status reports the published state and the cache entry.
	stdout, stderr, err = runApp(t, "status", "--config", cfg, "--format", "json")
	if err != nil {
		t.Fatalf("status: %v\n%s", err, stderr)
	}
	var rows []TaskStatus
	if err := json.Unmarshal([]byte(stdout), &rows); err != nil {
		t.Fatalf("decode status %q: %v", stdout, err)
	}
	if len(rows) != 1 {
		t.Fatalf("rows = %+v", rows)
	}
	row := rows[0]
	if row.Status != "SUCCESS" || !row.Cached || row.LockKey != "cobuild:lock:ctx-test:build" ||
		row.CompletedStateKey != "cobuild:completed:ctx-test:build-1" {
		t.Errorf("status row = %+v", row)
	}
}

func TestStatus_RequiresCobuild(t *testing.T) {
	cfg := writeConfig(t, "tasks:\n  - name: a\n    command: \"true\"\n")
	_, _, err := runApp(t, "status", "--config", cfg)
	if code := exitCode(t, err); code != exitSetupError {
		t.Errorf("exit code = %d, want %d", code, exitSetupError)
	}
}

func TestRecordAndReplay(t *testing.T) {
	requireShell(t)
	recording := filepath.Join(t.TempDir(), "run.rec")
	cfg := writeConfig(t, `
context_id: ctx-rec
tasks:
  - name: a
    command: echo out; echo err >&2
`)

	stdout, _, err := runApp(t, "exec", "--config", cfg, "--record", recording, "--quiet")
	if exitCode(t, err) != 0 {
		t.Fatalf("exec: %v", err)
	}

	replayed, replayedErr, err := runApp(t, "replay", recording)
	if err != nil {
		t.Fatalf("replay: %v", err)
	}
	if replayed != stdout {
		t.Errorf("replayed stdout = %q, want %q", replayed, stdout)
	}
	if replayedErr != "err\n" {
		t.Errorf("replayed stderr = %q", replayedErr)
	}

	info, _, err := runApp(t, "replay", "--info", "--format", "json", recording)
	if err != nil {
		t.Fatalf("replay --info: %v", err)
	}
	var ri RecordingInfo
	if err := json.Unmarshal([]byte(info), &ri); err != nil {
		t.Fatalf("decode info %q: %v", info, err)
	}
	if ri.ContextID != "ctx-rec" || ri.Version != types.RecordingVersion || ri.Chunks < 2 {
		t.Errorf("info = %+v", ri)
	}
}

func TestReplay_Errors(t *testing.T) {
	if _, _, err := runApp(t, "replay"); exitCode(t, err) != exitSetupError {
		t.Errorf("missing path: err = %v", err)
	}
	if _, _, err := runApp(t, "replay", filepath.Join(t.TempDir(), "missing")); exitCode(t, err) != exitSetupError {
		t.Errorf("missing file: err = %v", err)
	}

	garbage := filepath.Join(t.TempDir(), "garbage")
	if err := os.WriteFile(garbage, []byte{0, 0, 0, 3, 'a', 'b', 'c'}, 0o644); err != nil {
		t.Fatal(err)
	}
	if _, _, err := runApp(t, "replay", garbage); exitCode(t, err) != exitSetupError {
		t.Errorf("corrupt recording: err = %v", err)
	}
}
