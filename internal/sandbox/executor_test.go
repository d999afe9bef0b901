package sandbox

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestRunDirectCapturesStdoutAndExitCode(t *testing.T) {
	e := NewExecutor(nil)
	result, err := e.Run(context.Background(), ExecParams{
		Command: []string{"sh", "-c", "echo hello"},
		Cwd:     t.TempDir(),
	}, KindNone, ReadOnlyPolicy(), nil)
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if result.ExitCode != 0 {
		t.Fatalf("expected exit 0, got %d", result.ExitCode)
	}
	if result.Stdout != "hello\n" {
		t.Fatalf("unexpected stdout: %q", result.Stdout)
	}
}

func TestCommandNotFoundIsNotAttributedToSandbox(t *testing.T) {
	_, err := classify(&ExecResult{ExitCode: 127}, KindOSLevel)
	if err != nil {
		t.Fatalf("exit 127 must not classify as a SandboxErr, got %v", err)
	}
}

func TestNonZeroExitUnderSandboxIsDenied(t *testing.T) {
	_, err := classify(&ExecResult{ExitCode: 3}, KindOSLevel)
	sandboxErr, ok := err.(*SandboxErr)
	if !ok {
		t.Fatalf("expected *SandboxErr, got %v (%T)", err, err)
	}
	if sandboxErr.Kind != ErrKindDenied {
		t.Fatalf("expected ErrKindDenied, got %v", sandboxErr.Kind)
	}
}

func TestRunDirectTimesOutAndSynthesizesExitCode(t *testing.T) {
	e := NewExecutor(nil)
	_, err := e.Run(context.Background(), ExecParams{
		Command:   []string{"sh", "-c", "sleep 5"},
		Cwd:       t.TempDir(),
		TimeoutMs: 50,
	}, KindNone, ReadOnlyPolicy(), nil)
	sandboxErr, ok := err.(*SandboxErr)
	if !ok {
		t.Fatalf("expected *SandboxErr on timeout, got %v", err)
	}
	if sandboxErr.Kind != ErrKindTimeout {
		t.Fatalf("expected ErrKindTimeout, got %v", sandboxErr.Kind)
	}
	if sandboxErr.ExitCode != timeoutExitCode {
		t.Fatalf("expected synthesized exit code %d, got %d", timeoutExitCode, sandboxErr.ExitCode)
	}
}

func TestDefaultTimeoutIsAppliedWhenUnset(t *testing.T) {
	p := ExecParams{}
	if got := p.timeout(); got != defaultTimeoutMs*time.Millisecond {
		t.Fatalf("expected default timeout, got %v", got)
	}
}

func TestPolicyWarningFlagsCommandNotInAllowlist(t *testing.T) {
	dir := t.TempDir()
	policyDir := filepath.Join(dir, ".code")
	if err := os.MkdirAll(policyDir, 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	policyJSON := `{"active_level":"workspace-write","levels":{"workspace-write":["git","ls"]}}`
	if err := os.WriteFile(filepath.Join(policyDir, "sandbox-policy.json"), []byte(policyJSON), 0o644); err != nil {
		t.Fatalf("write policy: %v", err)
	}

	warning := policyWarning(dir, []string{"curl", "https://example.com"})
	if warning == "" {
		t.Fatalf("expected a warning for a command outside the allowlist")
	}

	logRaw, err := os.ReadFile(filepath.Join(policyDir, "sandbox-policy.log.jsonl"))
	if err != nil {
		t.Fatalf("expected a policy log entry: %v", err)
	}
	if len(logRaw) == 0 {
		t.Fatalf("expected non-empty policy log")
	}

	if warning2 := policyWarning(dir, []string{"git", "status"}); warning2 != "" {
		t.Fatalf("expected no warning for an allowlisted command, got %q", warning2)
	}
}

func TestOutputCaptureTruncatesAtLineCap(t *testing.T) {
	e := NewExecutor(nil)
	result, err := e.Run(context.Background(), ExecParams{
		Command: []string{"sh", "-c", "for i in $(seq 1 300); do echo line$i; done"},
		Cwd:     t.TempDir(),
	}, KindNone, ReadOnlyPolicy(), nil)
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if !result.TruncatedAfterLines {
		t.Fatalf("expected truncation past the 256-line cap")
	}
}
