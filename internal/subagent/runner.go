package subagent

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"os/exec"

	"github.com/aibozo/code-sub000/internal/model"
)

// ProcessRunner is the production Runner, spawning the child CLI process
// directly via os/exec (grounded on internal/tools/sandbox/executor.go's
// dockerExecutor.runDockerCommand stdout/stderr capture pattern, minus the
// Docker wrapping since agent child processes run on the host or inside
// the worktree directory, not inside the sandbox executor's own isolation).
type ProcessRunner struct{}

func (ProcessRunner) Run(ctx context.Context, a *model.Agent, cmd []string, env map[string]string) (string, error) {
	if len(cmd) == 0 {
		return "", fmt.Errorf("subagent: empty command for agent %s", a.ID)
	}

	c := exec.CommandContext(ctx, cmd[0], cmd[1:]...)
	if a.WorktreePath != "" {
		c.Dir = a.WorktreePath
	}
	c.Env = os.Environ()
	for k, v := range env {
		c.Env = append(c.Env, k+"="+v)
	}

	var stdout, stderr bytes.Buffer
	c.Stdout = &stdout
	c.Stderr = &stderr

	if err := c.Run(); err != nil {
		msg := stderr.String()
		if msg == "" {
			msg = err.Error()
		}
		return "", fmt.Errorf("subagent: %s", msg)
	}

	return stdout.String(), nil
}
