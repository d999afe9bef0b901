package subagent

import (
	"strings"

	"github.com/aibozo/code-sub000/internal/model"
)

// buildCommand constructs the child process argv and env for an agent
// (which must already have ReadOnly/WorktreePath resolved). The argv
// depends on the model string (case-insensitive) and may be extended by
// per-agent config, but the model choice must never change read/write
// intent — read_only/worktree routing is decided once, in
// Spawn/setupWorktree, never re-derived here from the model name.
func buildCommand(a *model.Agent) ([]string, map[string]string) {
	cmd := baseCommandForModel(a.Model)
	cmd = append(cmd, modeFlags(a)...)
	cmd = append(cmd, a.Prompt)

	env := map[string]string{}
	if !a.ReadOnly && a.WorktreePath != "" {
		env["CODE_AGENT_CWD"] = a.WorktreePath
	}

	if a.Config != nil {
		cmd = append(cmd, a.Config.ExtraArgs...)
		for k, v := range a.Config.ExtraEnv {
			env[k] = v
		}
	}

	return cmd, env
}

// baseCommandForModel resolves the CLI binary and fixed flags for a given
// model string, matching on a case-insensitive prefix.
func baseCommandForModel(modelName string) []string {
	lower := strings.ToLower(modelName)
	switch {
	case strings.HasPrefix(lower, "claude"):
		return []string{"claude", "--print"}
	case strings.HasPrefix(lower, "gpt-5") || strings.HasPrefix(lower, "o"):
		return []string{"codex", "exec"}
	case strings.HasPrefix(lower, "gemini"):
		return []string{"gemini", "--prompt"}
	default:
		return []string{"codex", "exec", "--model", modelName}
	}
}

func modeFlags(a *model.Agent) []string {
	if a.ReadOnly {
		return []string{"--sandbox", "read-only"}
	}
	return []string{"--sandbox", "workspace-write", "--cd", a.WorktreePath}
}
