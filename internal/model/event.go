package model

import "time"

// EventKind discriminates the EventMsg union.
type EventKind string

const (
	// Lifecycle
	EventSessionConfigured EventKind = "session_configured"
	EventTaskStarted       EventKind = "task_started"
	EventTaskComplete      EventKind = "task_complete"
	EventShutdownComplete  EventKind = "shutdown_complete"
	EventError             EventKind = "error"
	EventBackground        EventKind = "background_event"

	// Streaming output
	EventAgentMessageDelta          EventKind = "agent_message_delta"
	EventAgentMessage               EventKind = "agent_message"
	EventAgentReasoningDelta        EventKind = "agent_reasoning_delta"
	EventAgentReasoning             EventKind = "agent_reasoning"
	EventAgentReasoningRawDelta     EventKind = "agent_reasoning_raw_content_delta"
	EventAgentReasoningRawContent   EventKind = "agent_reasoning_raw_content"
	EventAgentReasoningSectionBreak EventKind = "agent_reasoning_section_break"

	// Tool telemetry
	EventExecCommandBegin       EventKind = "exec_command_begin"
	EventExecCommandOutputDelta EventKind = "exec_command_output_delta"
	EventExecCommandEnd         EventKind = "exec_command_end"
	EventPatchApplyBegin        EventKind = "patch_apply_begin"
	EventPatchApplyEnd          EventKind = "patch_apply_end"
	EventTurnDiff               EventKind = "turn_diff"
	EventTokenCount             EventKind = "token_count"
	EventTokenContextUpdate     EventKind = "token_context_update"

	// Approvals
	EventExecApprovalRequest       EventKind = "exec_approval_request"
	EventApplyPatchApprovalRequest EventKind = "apply_patch_approval_request"

	// Agents
	EventAgentStatusUpdate EventKind = "agent_status_update"

	// Plan
	EventPlanUpdate EventKind = "plan_update"

	// Custom tools
	EventCustomToolCallBegin EventKind = "custom_tool_call_begin"
	EventCustomToolCallEnd   EventKind = "custom_tool_call_end"

	// Browser
	EventBrowserScreenshotUpdate EventKind = "browser_screenshot_update"
)

// TokenUsage mirrors the provider's reported usage for a single completion.
type TokenUsage struct {
	InputTokens       int `json:"input_tokens"`
	CachedInputTokens int `json:"cached_input_tokens,omitempty"`
	OutputTokens      int `json:"output_tokens"`
	TotalTokens       int `json:"total_tokens"`
}

// AgentStatusLine is one entry of AgentStatusUpdate.agents[].
type AgentStatusLine struct {
	ID           string   `json:"id"`
	Model        string   `json:"model"`
	Status       string   `json:"status"`
	WorktreePath string   `json:"worktree_path,omitempty"`
	BranchName   string   `json:"branch_name,omitempty"`
	Error        string   `json:"error,omitempty"`
	Progress     []string `json:"progress,omitempty"`
}

// PlanStep is one entry of a PlanUpdate.
type PlanStep struct {
	Step   string `json:"step"`
	Status string `json:"status"` // "pending" | "in_progress" | "completed"
}

// ToolCallResult discriminates CustomToolCallEnd's Ok|Err result.
type ToolCallResult struct {
	Ok      bool   `json:"ok"`
	Content string `json:"content,omitempty"`
	Error   string `json:"error,omitempty"`
}

// EventMsg is the tagged union of every outward-facing event. Every field
// below is namespaced to its originating Kind; only the fields relevant to
// Kind are populated for a given value, keeping a single JSON-serializable
// type for the event queue rather than one struct per variant.
type EventMsg struct {
	Kind EventKind `json:"kind"`

	// SessionConfigured
	SessionID         string `json:"session_id,omitempty"`
	Model             string `json:"model,omitempty"`
	HistoryLogID      string `json:"history_log_id,omitempty"`
	HistoryEntryCount int    `json:"history_entry_count,omitempty"`

	// TaskComplete
	LastAgentMessage string `json:"last_agent_message,omitempty"`

	// Error / BackgroundEvent
	Message string `json:"message,omitempty"`

	// AgentMessageDelta / AgentMessage / AgentReasoning*
	Delta string `json:"delta,omitempty"`
	Text  string `json:"text,omitempty"`

	// ExecCommandBegin / End / OutputDelta
	CallID     string   `json:"call_id,omitempty"`
	Command    []string `json:"command,omitempty"`
	Cwd        string   `json:"cwd,omitempty"`
	ParsedCmd  string   `json:"parsed_cmd,omitempty"`
	Stream     string   `json:"stream,omitempty"` // "stdout" | "stderr"
	Chunk      []byte   `json:"chunk,omitempty"`
	Stdout     string   `json:"stdout,omitempty"`
	Stderr     string   `json:"stderr,omitempty"`
	DurationMS int64    `json:"duration_ms,omitempty"`
	ExitCode   int      `json:"exit_code,omitempty"`

	// PatchApplyBegin / End
	AutoApproved bool     `json:"auto_approved,omitempty"`
	Changes      []string `json:"changes,omitempty"`
	Success      bool     `json:"success,omitempty"`

	// TurnDiff
	UnifiedDiff string `json:"unified_diff,omitempty"`

	// TokenCount / TokenContextUpdate
	Usage *TokenUsage `json:"usage,omitempty"`

	// ExecApprovalRequest / ApplyPatchApprovalRequest
	Reason    string `json:"reason,omitempty"`
	GrantRoot string `json:"grant_root,omitempty"`

	// AgentStatusUpdate
	Agents  []AgentStatusLine `json:"agents,omitempty"`
	Context string            `json:"context,omitempty"`
	Task    string            `json:"task,omitempty"`

	// PlanUpdate
	Explanation string     `json:"explanation,omitempty"`
	Plan        []PlanStep `json:"plan,omitempty"`

	// CustomToolCallBegin / End
	ToolName   string          `json:"tool_name,omitempty"`
	Parameters string          `json:"parameters,omitempty"`
	Result     *ToolCallResult `json:"result,omitempty"`

	// BrowserScreenshotUpdate
	ScreenshotPath string `json:"screenshot_path,omitempty"`
	URL            string `json:"url,omitempty"`

	// EmittedAt is not part of the wire contract's required fields but is
	// useful for host-side ordering diagnostics; it is always set.
	EmittedAt time.Time `json:"emitted_at"`
}

// Event is the core-to-host response envelope. The same
// id as the originating Submission is echoed when the event is a direct
// response to one; events with no originating submission (streaming
// deltas, status updates) get a freshly minted id.
type Event struct {
	ID  string   `json:"id"`
	Msg EventMsg `json:"msg"`
}

func newMsg(kind EventKind) EventMsg {
	return EventMsg{Kind: kind, EmittedAt: time.Now()}
}

// Constructors below keep call sites terse and make each variant's required
// fields explicit, rather than constructing EventMsg literals everywhere.

func SessionConfigured(sessionID, model, historyLogID string, historyEntryCount int) EventMsg {
	m := newMsg(EventSessionConfigured)
	m.SessionID, m.Model, m.HistoryLogID, m.HistoryEntryCount = sessionID, model, historyLogID, historyEntryCount
	return m
}

func TaskStarted() EventMsg { return newMsg(EventTaskStarted) }

func TaskComplete(lastAgentMessage string) EventMsg {
	m := newMsg(EventTaskComplete)
	m.LastAgentMessage = lastAgentMessage
	return m
}

func ShutdownComplete() EventMsg { return newMsg(EventShutdownComplete) }

func ErrorMsg(message string) EventMsg {
	m := newMsg(EventError)
	m.Message = message
	return m
}

func BackgroundEvent(message string) EventMsg {
	m := newMsg(EventBackground)
	m.Message = message
	return m
}

func AgentMessageDelta(delta string) EventMsg {
	m := newMsg(EventAgentMessageDelta)
	m.Delta = delta
	return m
}

func AgentMessage(text string) EventMsg {
	m := newMsg(EventAgentMessage)
	m.Text = text
	return m
}

func AgentReasoningDelta(delta string) EventMsg {
	m := newMsg(EventAgentReasoningDelta)
	m.Delta = delta
	return m
}

func AgentReasoning(text string) EventMsg {
	m := newMsg(EventAgentReasoning)
	m.Text = text
	return m
}

func AgentReasoningRawDelta(delta string) EventMsg {
	m := newMsg(EventAgentReasoningRawDelta)
	m.Delta = delta
	return m
}

func AgentReasoningRawContent(text string) EventMsg {
	m := newMsg(EventAgentReasoningRawContent)
	m.Text = text
	return m
}

func AgentReasoningSectionBreak() EventMsg { return newMsg(EventAgentReasoningSectionBreak) }

func ExecCommandBegin(callID string, command []string, cwd, parsedCmd string) EventMsg {
	m := newMsg(EventExecCommandBegin)
	m.CallID, m.Command, m.Cwd, m.ParsedCmd = callID, command, cwd, parsedCmd
	return m
}

func ExecCommandOutputDelta(callID, stream string, chunk []byte) EventMsg {
	m := newMsg(EventExecCommandOutputDelta)
	m.CallID, m.Stream, m.Chunk = callID, stream, chunk
	return m
}

func ExecCommandEnd(callID, stdout, stderr string, duration time.Duration, exitCode int) EventMsg {
	m := newMsg(EventExecCommandEnd)
	m.CallID, m.Stdout, m.Stderr, m.DurationMS, m.ExitCode = callID, stdout, stderr, duration.Milliseconds(), exitCode
	return m
}

func TurnDiff(unifiedDiff string) EventMsg {
	m := newMsg(EventTurnDiff)
	m.UnifiedDiff = unifiedDiff
	return m
}

func TokenCount(usage TokenUsage) EventMsg {
	m := newMsg(EventTokenCount)
	m.Usage = &usage
	return m
}

func TokenContextUpdate(usage TokenUsage) EventMsg {
	m := newMsg(EventTokenContextUpdate)
	m.Usage = &usage
	return m
}

func ExecApprovalRequest(callID string, command []string, cwd, reason string) EventMsg {
	m := newMsg(EventExecApprovalRequest)
	m.CallID, m.Command, m.Cwd, m.Reason = callID, command, cwd, reason
	return m
}

func ApplyPatchApprovalRequest(callID string, changes []string, reason, grantRoot string) EventMsg {
	m := newMsg(EventApplyPatchApprovalRequest)
	m.CallID, m.Changes, m.Reason, m.GrantRoot = callID, changes, reason, grantRoot
	return m
}

func AgentStatusUpdate(agents []AgentStatusLine, context, task string) EventMsg {
	m := newMsg(EventAgentStatusUpdate)
	m.Agents, m.Context, m.Task = agents, context, task
	return m
}

func PlanUpdate(explanation string, plan []PlanStep) EventMsg {
	m := newMsg(EventPlanUpdate)
	m.Explanation, m.Plan = explanation, plan
	return m
}

func BrowserScreenshotUpdate(path, url string) EventMsg {
	m := newMsg(EventBrowserScreenshotUpdate)
	m.ScreenshotPath, m.URL = path, url
	return m
}
