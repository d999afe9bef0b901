package model

// OpKind discriminates the Submission.Op union.
type OpKind string

const (
	OpConfigureSession OpKind = "configure_session"
	OpUserInput        OpKind = "user_input"
	OpInterrupt        OpKind = "interrupt"
	OpExecApproval     OpKind = "exec_approval"
	OpPatchApproval    OpKind = "patch_approval"
	OpAddToHistory     OpKind = "add_to_history"
	OpGetHistoryEntry  OpKind = "get_history_entry"
	OpCompact          OpKind = "compact"
	OpShutdown         OpKind = "shutdown"
)

// ApprovalDecision is the caller's answer to an ExecApprovalRequest or
// ApplyPatchApprovalRequest.
type ApprovalDecision string

const (
	Approved           ApprovalDecision = "approved"
	ApprovedForSession ApprovalDecision = "approved_for_session"
	Denied             ApprovalDecision = "denied"
	AbortDecision      ApprovalDecision = "abort"
)

// ApprovalPolicy gates whether, and when, a shell call needs a human
// decision before it runs.
type ApprovalPolicy string

const (
	// ApprovalNever runs every command unconditionally; a sandbox denial
	// is surfaced to the model as a plain failure with no escalation.
	ApprovalNever ApprovalPolicy = "never"
	// ApprovalOnRequest only asks when the model itself flags a command
	// as needing escalated permissions; a sandbox denial is surfaced
	// directly, same as ApprovalNever.
	ApprovalOnRequest ApprovalPolicy = "on-request"
	// ApprovalUnlessTrusted asks before every command not already on the
	// session's approved list, and escalates a sandbox denial by asking
	// to retry unsandboxed.
	ApprovalUnlessTrusted ApprovalPolicy = "unless-trusted"
	// ApprovalOnFailure runs commands unsandboxed-gated only on failure:
	// it does not ask up front, but escalates a sandbox denial the same
	// way ApprovalUnlessTrusted does.
	ApprovalOnFailure ApprovalPolicy = "on-failure"
)

// SessionConfig carries the ConfigureSession payload.
type SessionConfig struct {
	Cwd             string         `json:"cwd"`
	ApprovalPolicy  ApprovalPolicy `json:"approval_policy"`
	SandboxKind     string         `json:"sandbox_kind"`
	SandboxPolicy   string         `json:"sandbox_policy"`
	Model           string         `json:"model"`
	ResumeRolloutID string         `json:"resume_rollout_id,omitempty"`
	ToolConfig      map[string]any `json:"tool_config,omitempty"`
}

// Op is the tagged union of everything a Submission can carry.
type Op struct {
	Kind OpKind `json:"kind"`

	// ConfigureSession
	Config *SessionConfig `json:"config,omitempty"`

	// UserInput
	Items []ResponseItem `json:"items,omitempty"`

	// ExecApproval / PatchApproval
	ApprovalID string           `json:"approval_id,omitempty"`
	Decision   ApprovalDecision `json:"decision,omitempty"`

	// AddToHistory
	Text string `json:"text,omitempty"`

	// GetHistoryEntry
	Offset int    `json:"offset,omitempty"`
	LogID  string `json:"log_id,omitempty"`
}

// Submission is the host-to-core request envelope.
type Submission struct {
	ID string `json:"id"`
	Op Op     `json:"op"`
}
