package sandbox

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"io"
	"os"
	"os/exec"
	"strings"
	"sync"
	"syscall"
	"time"

	"golang.org/x/term"

	"github.com/aibozo/code-sub000/internal/sandbox/firecracker"
)

// GodmodeBudget caps the cumulative wall-time a session may spend running
// high-privilege (host-fallback) commands once a microvm wrapper is absent.
// Zero means unlimited.
type GodmodeBudget struct {
	mu    sync.Mutex
	limit time.Duration
	spent time.Duration
}

func NewGodmodeBudget(limit time.Duration) *GodmodeBudget {
	return &GodmodeBudget{limit: limit}
}

// Allow reports whether another high-privilege command may run, and if so
// reserves d against the budget optimistically (charged after the fact via
// Charge, this just gates entry).
func (b *GodmodeBudget) Allow() bool {
	if b == nil || b.limit <= 0 {
		return true
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.spent < b.limit
}

func (b *GodmodeBudget) Charge(d time.Duration) {
	if b == nil {
		return
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	b.spent += d
}

// Executor runs commands under a chosen SandboxKind, applying pre-exec
// policy checks, output caps, and timeout/cancellation handling. Its
// Execute/executeCode split generalizes a fixed Docker-backend language
// sandbox to three distinct isolation kinds.
type Executor struct {
	godmode *GodmodeBudget
	watcher *firecracker.WrapperWatcher
}

// NewExecutor returns an Executor with an optional GODMODE wall-time budget
// for the host-fallback path (nil means unlimited).
func NewExecutor(godmode *GodmodeBudget) *Executor {
	return &Executor{godmode: godmode}
}

// Run executes params.Command under kind/policy. On success (including a
// nonzero but sandbox-unrelated exit code) it returns an *ExecResult. A
// denial, timeout, or signal is classified and returned as a *SandboxErr
// so callers can type-assert and decide whether to retry.
func (e *Executor) Run(ctx context.Context, params ExecParams, kind SandboxKind, policy SandboxPolicy, sink StreamSink) (*ExecResult, error) {
	if warning := policyWarning(params.Cwd, params.Command); warning != "" {
		fmt.Fprintln(os.Stdout, warning)
	}

	runCtx, cancel := context.WithTimeout(ctx, params.timeout())
	defer cancel()

	start := time.Now()

	var (
		result *ExecResult
		err    error
	)
	switch kind {
	case KindNone:
		result, err = e.runDirect(runCtx, params, sink)
	case KindOSLevel:
		result, err = e.runOSLevel(runCtx, params, policy, sink)
	case KindMicroVM:
		result, err = e.runMicroVM(runCtx, params, policy, sink)
	default:
		result, err = e.runDirect(runCtx, params, sink)
	}
	if result != nil {
		result.Duration = time.Since(start)
	}

	if err != nil {
		if sandboxErr, ok := err.(*SandboxErr); ok && kind != KindNone {
			logSandboxViolation(params.Cwd, params.Command, kind)
			return nil, sandboxErr
		}
		return nil, err
	}
	return result, nil
}

func (e *Executor) runDirect(ctx context.Context, params ExecParams, sink StreamSink) (*ExecResult, error) {
	return runCommand(ctx, params.Command, params.Cwd, envSlice(params.Env), sink)
}

// runOSLevel wraps the command with the platform sandbox adapter. Which
// concrete tool backs osLevelWrapArgs is a build-tag decision: the choice
// of tool is encapsulated behind a single "spawn under sandbox" adapter.
func (e *Executor) runOSLevel(ctx context.Context, params ExecParams, policy SandboxPolicy, sink StreamSink) (*ExecResult, error) {
	wrapped := osLevelWrapArgs(params.Command, policy)
	result, err := runCommand(ctx, wrapped, params.Cwd, envSlice(params.Env), sink)
	if err != nil {
		return nil, err
	}
	return classify(result, KindOSLevel)
}

// runMicroVM locates the on-disk wrapper script and invokes it, or falls
// back to the host with a loud warning.
func (e *Executor) runMicroVM(ctx context.Context, params ExecParams, policy SandboxPolicy, sink StreamSink) (*ExecResult, error) {
	wrapperPath, wrapperArgs, found := firecracker.LocateWrapper(params.Cwd)
	if found {
		networkFlag := "off"
		if policy.NetworkAccess {
			networkFlag = "on"
		}
		argv := append([]string{wrapperPath}, wrapperArgs...)
		argv = append(argv, "--cwd", params.Cwd, "--writable", params.Cwd, "--network", networkFlag, "--")
		argv = append(argv, params.Command...)
		result, err := runCommand(ctx, argv, params.Cwd, envSlice(params.Env), sink)
		if err != nil {
			return nil, err
		}
		return classify(result, KindMicroVM)
	}

	if !policy.allowsHostFallback() {
		return nil, &SandboxErr{Kind: ErrKindDenied, ExitCode: 126}
	}
	if e.godmode != nil && !e.godmode.Allow() {
		return nil, &SandboxErr{Kind: ErrKindDenied, ExitCode: 126}
	}

	// No wrapper script: before accepting the host-fallback path, see
	// whether the repo ships an accelerated native boot config and
	// confirm the Firecracker backend can actually start on this host.
	// A successful health-boot doesn't change the command's execution
	// path yet (no guest-exec channel is wired), but it lets operators
	// catch a broken kernel/rootfs pairing before it's needed for real.
	if nativeCfg, ok := firecracker.LocateNativeConfig(params.Cwd); ok {
		if handle, bootErr := firecracker.Boot(ctx, *nativeCfg); bootErr == nil {
			_ = handle.Stop(context.Background())
		}
	}

	fmt.Fprintln(os.Stderr, "[godmode] isolation wrapper not found; running on host")
	appendPolicyLog(params.Cwd, policyLogEntry{
		TSMs: time.Now().UnixMilli(), Command: strings.Join(params.Command, " "),
		Level: string(KindMicroVM), Kind: "wrapper_not_found_host_fallback",
	})
	result, err := runCommand(ctx, params.Command, params.Cwd, envSlice(params.Env), sink)
	if result != nil && e.godmode != nil {
		e.godmode.Charge(result.Duration)
	}
	return result, err
}

func (p SandboxPolicy) allowsHostFallback() bool {
	return p.Kind != PolicyReadOnly
}

// WatchForWrapper arranges for a long-lived Executor to pick up a
// MicroVM wrapper script that's installed into cwd after a prior
// "wrapper not found" host fallback, without needing a process restart.
// It is a no-op if a watch is already active or the sandbox directories
// don't exist yet.
func (e *Executor) WatchForWrapper(cwd string, onFound func(path string)) error {
	if e.watcher != nil {
		return nil
	}
	w, err := firecracker.WatchForWrapper(cwd, onFound)
	if err != nil {
		return err
	}
	e.watcher = w
	return nil
}

// Close releases any wrapper-watch resources held by the executor.
func (e *Executor) Close() error {
	return e.watcher.Close()
}

// classify applies spec §4.7's "Result classification" rules once a
// sandboxed command has finished.
func classify(result *ExecResult, kind SandboxKind) (*ExecResult, error) {
	if result.ExitCode == 0 || result.ExitCode == 127 {
		// 127 (command not found) is never attributed to the sandbox.
		return result, nil
	}
	return nil, &SandboxErr{
		Kind: ErrKindDenied, ExitCode: result.ExitCode,
		Stdout: result.Stdout, Stderr: result.Stderr,
	}
}

// runCommand spawns command, capturing stdout/stderr concurrently up to the
// output caps and streaming deltas to sink if provided. It classifies
// timeout and signal outcomes on exit.
func runCommand(ctx context.Context, command []string, cwd string, env []string, sink StreamSink) (*ExecResult, error) {
	if len(command) == 0 {
		return nil, fmt.Errorf("sandbox: empty command")
	}
	cmd := exec.CommandContext(ctx, command[0], command[1:]...)
	cmd.Dir = cwd
	cmd.Env = env
	cmd.Cancel = func() error { return cmd.Process.Signal(syscall.SIGTERM) }

	stdoutPipe, err := cmd.StdoutPipe()
	if err != nil {
		return nil, err
	}
	stderrPipe, err := cmd.StderrPipe()
	if err != nil {
		return nil, err
	}

	if err := cmd.Start(); err != nil {
		return nil, err
	}

	var wg sync.WaitGroup
	var capture outputCapture
	wg.Add(2)
	go func() { defer wg.Done(); capture.drain("stdout", stdoutPipe, sink) }()
	go func() { defer wg.Done(); capture.drain("stderr", stderrPipe, sink) }()
	wg.Wait()

	runErr := cmd.Wait()

	result := &ExecResult{
		Stdout:              capture.stdout.String(),
		Stderr:              capture.stderr.String(),
		TruncatedAfterLines: capture.truncated,
	}

	if runErr == nil {
		result.ExitCode = 0
		return result, nil
	}

	if ctx.Err() == context.DeadlineExceeded {
		return nil, &SandboxErr{Kind: ErrKindTimeout, ExitCode: timeoutExitCode, Stdout: result.Stdout, Stderr: result.Stderr}
	}

	var exitErr *exec.ExitError
	if ok := errorsAs(runErr, &exitErr); ok {
		if status, ok := exitErr.Sys().(syscall.WaitStatus); ok && status.Signaled() {
			sig := int(status.Signal())
			if sig == 64 {
				return nil, &SandboxErr{Kind: ErrKindTimeout, ExitCode: timeoutExitCode, Stdout: result.Stdout, Stderr: result.Stderr}
			}
			return nil, &SandboxErr{Kind: ErrKindSignal, Signal: sig, Stdout: result.Stdout, Stderr: result.Stderr}
		}
		result.ExitCode = exitErr.ExitCode()
		return result, nil
	}

	return nil, runErr
}

func errorsAs(err error, target **exec.ExitError) bool {
	ee, ok := err.(*exec.ExitError)
	if !ok {
		return false
	}
	*target = ee
	return true
}

// outputCapture accumulates up to maxOutputBytes/maxOutputLines per the
// spec's output cap, but keeps draining to EOF past the cap to avoid
// back-pressuring the child.
type outputCapture struct {
	mu        sync.Mutex
	stdout    bytes.Buffer
	stderr    bytes.Buffer
	lines     int
	truncated bool
}

func (c *outputCapture) drain(stream string, r io.Reader, sink StreamSink) {
	reader := bufio.NewReaderSize(r, 4096)
	for {
		line, err := reader.ReadBytes('\n')
		if len(line) > 0 {
			c.append(stream, line, sink)
		}
		if err != nil {
			return
		}
	}
}

func (c *outputCapture) append(stream string, line []byte, sink StreamSink) {
	if sink != nil {
		sink.OnOutputDelta(OutputDelta{Stream: stream, Chunk: line})
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	buf := &c.stdout
	if stream == "stderr" {
		buf = &c.stderr
	}

	if c.lines >= maxOutputLines || c.stdout.Len()+c.stderr.Len() >= maxOutputBytes {
		c.truncated = true
		return
	}
	c.lines++
	remaining := maxOutputBytes - (c.stdout.Len() + c.stderr.Len())
	if remaining < len(line) {
		buf.Write(line[:remaining])
		c.truncated = true
		return
	}
	buf.Write(line)
}

func envSlice(env map[string]string) []string {
	if len(env) == 0 {
		return os.Environ()
	}
	out := make([]string, 0, len(env))
	for k, v := range env {
		out = append(out, k+"="+v)
	}
	return out
}

// wantsPTY reports whether the OS-level wrapper should allocate a pty for
// the command: only do this when stdout is itself an interactive terminal.
func wantsPTY() bool {
	return term.IsTerminal(int(os.Stdout.Fd()))
}
