package model

import "time"

// AgentStatus is the sub-agent lifecycle status. Chosen as a single
// string-backed wire representation (see DESIGN.md "Open Question
// decisions") rather than mixing string and enum forms across events.
type AgentStatus string

const (
	AgentPending   AgentStatus = "pending"
	AgentRunning   AgentStatus = "running"
	AgentCompleted AgentStatus = "completed"
	AgentFailed    AgentStatus = "failed"
	AgentCancelled AgentStatus = "cancelled"
)

// IsTerminal reports whether this status will never change again.
func (s AgentStatus) IsTerminal() bool {
	switch s {
	case AgentCompleted, AgentFailed, AgentCancelled:
		return true
	default:
		return false
	}
}

// Agent is one spawned sub-agent.
type Agent struct {
	ID         string      `json:"id"`
	BatchID    string      `json:"batch_id,omitempty"`
	Model      string      `json:"model"`
	Prompt     string      `json:"prompt"`
	Context    string      `json:"context,omitempty"`
	OutputGoal string      `json:"output_goal,omitempty"`
	Files      []string    `json:"files,omitempty"`
	ReadOnly   bool        `json:"read_only"`
	Status     AgentStatus `json:"status"`
	Result     string      `json:"result,omitempty"`
	Error      string      `json:"error,omitempty"`

	CreatedAt   time.Time  `json:"created_at"`
	StartedAt   *time.Time `json:"started_at,omitempty"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`

	Progress     []string     `json:"progress,omitempty"`
	WorktreePath string       `json:"worktree_path,omitempty"`
	BranchName   string       `json:"branch_name,omitempty"`
	Config       *AgentConfig `json:"config,omitempty"`
}

// AgentConfig overrides the default argv/env construction for a spawned
// sub-agent process.
type AgentConfig struct {
	ExtraArgs []string          `json:"extra_args,omitempty"`
	ExtraEnv  map[string]string `json:"extra_env,omitempty"`
}

// StatusLine renders this agent as an AgentStatusLine for AgentStatusUpdate,
// keeping only the last three progress lines.
func (a *Agent) StatusLine() AgentStatusLine {
	progress := a.Progress
	if len(progress) > 3 {
		progress = progress[len(progress)-3:]
	}
	return AgentStatusLine{
		ID:           a.ID,
		Model:        a.Model,
		Status:       string(a.Status),
		WorktreePath: a.WorktreePath,
		BranchName:   a.BranchName,
		Error:        a.Error,
		Progress:     progress,
	}
}
