package subagent

import (
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"

	"github.com/google/uuid"

	"github.com/aibozo/code-sub000/internal/model"
)

var branchStopwords = map[string]bool{
	"the": true, "and": true, "for": true, "with": true, "that": true,
	"this": true, "from": true, "into": true, "have": true, "your": true,
	"about": true, "then": true, "than": true, "will": true,
}

// setupWorktree runs the five-step worktree setup for a write-capable
// agent: locate the repo root, derive a branch name, remove any stale
// worktree at that path, add a fresh worktree on a new branch, and record
// the path/branch on the agent.
func (m *Manager) setupWorktree(a *model.Agent) error {
	repoRoot, err := gitRevParseToplevel()
	if err != nil {
		return fmt.Errorf("subagent: not a git repository: %w", err)
	}

	branchID := branchIDFor(a.Model, a.Prompt)
	worktreePath := filepath.Join(repoRoot, ".code", "branches", branchID)

	if info, err := os.Stat(worktreePath); err == nil && info.IsDir() {
		_ = exec.Command("git", "-C", repoRoot, "worktree", "remove", "--force", worktreePath).Run()
	}

	cmd := exec.Command("git", "-C", repoRoot, "worktree", "add", "-b", branchID, worktreePath)
	if out, err := cmd.CombinedOutput(); err != nil {
		return fmt.Errorf("subagent: git worktree add: %w: %s", err, strings.TrimSpace(string(out)))
	}

	a.WorktreePath = worktreePath
	a.BranchName = branchID
	return nil
}

// gitRevParseToplevel locates the repo root relative to the process's
// current directory by running "git rev-parse --show-toplevel".
func gitRevParseToplevel() (string, error) {
	out, err := exec.Command("git", "rev-parse", "--show-toplevel").Output()
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(string(out)), nil
}

// branchIDFor computes a branch id from the model name plus up to three
// "meaningful" words (length > 2, not a stopword) found in prompt, falling
// back to the first 8 hex chars of a fresh uuid when none qualify.
func branchIDFor(modelName, prompt string) string {
	var words []string
	for _, raw := range strings.Fields(prompt) {
		w := strings.ToLower(strings.Trim(raw, ".,!?:;\"'()[]{}"))
		if len(w) <= 2 || branchStopwords[w] {
			continue
		}
		words = append(words, w)
		if len(words) == 3 {
			break
		}
	}

	suffix := strings.Join(words, "-")
	if suffix == "" {
		suffix = uuid.NewString()[:8]
	}

	slug := strings.ToLower(strings.ReplaceAll(modelName, " ", "-"))
	return fmt.Sprintf("agent-%s-%s", slug, suffix)
}
