package turn

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v5"

	"github.com/aibozo/code-sub000/internal/exec"
	"github.com/aibozo/code-sub000/internal/model"
	"github.com/aibozo/code-sub000/internal/sandbox"
)

// ShellRunner is the narrow slice of sandbox.Executor that dispatch needs,
// so tests can swap in a fake without constructing a real Executor.
type ShellRunner interface {
	Run(ctx context.Context, params sandbox.ExecParams, kind sandbox.SandboxKind, policy sandbox.SandboxPolicy, sink sandbox.StreamSink) (*sandbox.ExecResult, error)
}

// SubAgentManager is the narrow slice of subagent.Manager that dispatch
// needs for agent_* tool calls.
type SubAgentManager interface {
	Spawn(p SpawnRequest) *model.Agent
	ListAgents(status model.AgentStatus, batchID string, recentOnly bool) []*model.Agent
	Get(id string) (*model.Agent, bool)
	CancelAgent(id string) error
	CancelBatch(batchID string)
}

// SpawnRequest mirrors subagent.SpawnParams so this package does not need
// to import internal/subagent for a single struct shape.
type SpawnRequest struct {
	Model      string             `json:"model"`
	Prompt     string             `json:"prompt"`
	Context    string             `json:"context,omitempty"`
	OutputGoal string             `json:"output_goal,omitempty"`
	Files      []string           `json:"files,omitempty"`
	ReadOnly   bool               `json:"read_only,omitempty"`
	BatchID    string             `json:"batch_id,omitempty"`
	Config     *model.AgentConfig `json:"config,omitempty"`
}

// MCPCaller is the narrow slice of mcp.Manager that dispatch needs to route
// a tool call named "server/tool" to the right MCP server.
type MCPCaller interface {
	CallTool(ctx context.Context, serverID, toolName string, arguments map[string]any) (*MCPToolResult, error)
}

// MCPToolResult mirrors mcp.ToolCallResult so this package does not need to
// import internal/mcp for a single struct shape.
type MCPToolResult struct {
	Content []MCPContent
	IsError bool
}

// MCPContent mirrors mcp.ToolResultContent.
type MCPContent struct {
	Type string
	Text string
}

// BrowserDriver is the narrow interface a browser_* tool call is routed to.
// No implementation is wired yet; dispatch fails loudly instead of silently
// dropping the call.
type BrowserDriver interface {
	Execute(ctx context.Context, toolName string, arguments map[string]any) (string, error)
}

// Dependencies bundles everything Dispatch needs to route one tool call.
// Any of ShellRunner, Agents, Browser, or MCP may be nil; Dispatch returns
// an error result (never a panic) when a call needs a dependency that is
// unset.
type Dependencies struct {
	ShellRunner ShellRunner
	SandboxKind sandbox.SandboxKind
	Policy      sandbox.SandboxPolicy

	Agents SubAgentManager
	Plan   *PlanState

	Browser BrowserDriver
	MCP     MCPCaller

	Schemas *SchemaCache

	// Approve, when set, gates every shell/container.exec call on a
	// decision before it reaches ShellRunner. A nil Approve runs every
	// shell call unconditionally, matching an on-request / never
	// approval policy with nothing left to ask.
	Approve ApprovalFunc

	// ApprovalPolicy decides whether a SandboxErr::Denied is escalated
	// into a second approval request asking to retry unsandboxed.
	// UnlessTrusted and OnFailure escalate; Never and OnRequest surface
	// the denial to the model directly.
	ApprovalPolicy model.ApprovalPolicy

	// ApprovedCommands remembers commands the user approved for the rest
	// of the session; a later call matching one skips both the approval
	// prompt and the sandbox. May be nil, in which case nothing is ever
	// pre-approved.
	ApprovedCommands *ApprovedCommandSet

	// Emit reports side-band telemetry (background events) produced
	// while dispatching, outside the single Output/Event a DispatchResult
	// carries. May be nil, in which case those events are dropped.
	Emit EmitFunc
}

// EmitFunc reports one telemetry event as a side effect of dispatch, for
// cases (the sandbox escalation retry) that need to emit more than the one
// event a DispatchResult can carry.
type EmitFunc func(model.EventMsg)

// ApprovalFunc requests a human decision for one shell call and blocks
// until it arrives (or ctx is cancelled).
type ApprovalFunc func(ctx context.Context, command []string, cwd, reason string) (model.ApprovalDecision, error)

// ApprovedCommandSet tracks commands approved for the remainder of a
// session (ApprovalDecision ApprovedForSession, or an escalated retry's
// Approved/ApprovedForSession), so a later identical call runs directly
// with SandboxKind::None instead of asking again.
type ApprovedCommandSet struct {
	mu   sync.Mutex
	seen map[string]bool
}

func (s *ApprovedCommandSet) Add(cmd []string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.seen == nil {
		s.seen = make(map[string]bool)
	}
	s.seen[commandKey(cmd)] = true
}

func (s *ApprovedCommandSet) Contains(cmd []string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.seen[commandKey(cmd)]
}

func commandKey(cmd []string) string { return strings.Join(cmd, "\x00") }

// PlanState holds the most recently reported plan for a session. Dispatch
// mutates it in place on update_plan calls; callers read it for status
// display. Not safe for concurrent use from outside dispatch.
type PlanState struct {
	mu          sync.Mutex
	Explanation string
	Steps       []model.PlanStep
}

func (p *PlanState) set(explanation string, steps []model.PlanStep) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.Explanation, p.Steps = explanation, steps
}

// SchemaCache compiles and caches JSON Schemas for tool argument validation,
// keyed by the raw schema bytes.
type SchemaCache struct {
	compiled sync.Map
}

func (c *SchemaCache) compile(name string, schema []byte) (*jsonschema.Schema, error) {
	key := name + "\x00" + string(schema)
	if cached, ok := c.compiled.Load(key); ok {
		return cached.(*jsonschema.Schema), nil
	}
	compiled, err := jsonschema.CompileString(name+".schema.json", string(schema))
	if err != nil {
		return nil, err
	}
	c.compiled.Store(key, compiled)
	return compiled, nil
}

// Validate checks arguments (a raw JSON object) against schema. A nil cache
// or empty schema skips validation rather than rejecting every call.
func (c *SchemaCache) Validate(name string, schema []byte, arguments json.RawMessage) error {
	if c == nil || len(schema) == 0 {
		return nil
	}
	compiled, err := c.compile(name, schema)
	if err != nil {
		return fmt.Errorf("compile schema for %s: %w", name, err)
	}
	var decoded any
	if err := json.Unmarshal(arguments, &decoded); err != nil {
		return fmt.Errorf("decode arguments for %s: %w", name, err)
	}
	if err := compiled.Validate(decoded); err != nil {
		return fmt.Errorf("arguments for %s: %w", name, err)
	}
	return nil
}

// shellAction is the decoded shape of a LocalShellCall's Action payload.
type shellAction struct {
	Command          []string          `json:"command"`
	WorkingDirectory string            `json:"working_directory,omitempty"`
	TimeoutMs        int               `json:"timeout_ms,omitempty"`
	Env              map[string]string `json:"env,omitempty"`
	Justification    string            `json:"justification,omitempty"`
}

// Dispatch routes one requested tool call (a FunctionCall or LocalShellCall
// ResponseItem) to its handler and returns the matching FunctionCallOutput,
// plus a telemetry event when the call kind produces one.
//
// Routing order: shell/container.exec and LocalShellCall go to the sandbox
// executor; update_plan updates deps.Plan; names prefixed agent_ go to the
// sub-agent manager; names prefixed browser_ go to the browser driver;
// everything else is treated as an MCP call of the form "server/tool".
func Dispatch(ctx context.Context, call model.ResponseItem, deps Dependencies, schemas ToolSchemas) DispatchResult {
	switch call.Kind {
	case model.ItemLocalShellCall:
		return dispatchShellCall(ctx, call, deps)
	case model.ItemFunctionCall:
		return dispatchFunctionCall(ctx, call, deps, schemas)
	default:
		return errorResult(call.CallID, fmt.Sprintf("dispatch: unsupported call kind %q", call.Kind))
	}
}

// ToolSchemas maps a tool name to its JSON Schema parameters, as offered to
// the provider in the request's ToolSpec list.
type ToolSchemas map[string]json.RawMessage

func dispatchFunctionCall(ctx context.Context, call model.ResponseItem, deps Dependencies, schemas ToolSchemas) DispatchResult {
	if err := deps.Schemas.Validate(call.Name, schemas[call.Name], json.RawMessage(call.Arguments)); err != nil {
		return errorResult(call.CallID, err.Error())
	}

	switch {
	case call.Name == "shell" || call.Name == "container.exec":
		return dispatchShellArgs(ctx, call, deps)
	case call.Name == "update_plan":
		return dispatchUpdatePlan(call, deps)
	case strings.HasPrefix(call.Name, "agent_"):
		return dispatchAgentCall(call, deps)
	case strings.HasPrefix(call.Name, "browser_"):
		return dispatchBrowserCall(ctx, call, deps)
	default:
		return dispatchMCPCall(ctx, call, deps)
	}
}

func dispatchShellCall(ctx context.Context, call model.ResponseItem, deps Dependencies) DispatchResult {
	var action shellAction
	if err := json.Unmarshal(call.Action, &action); err != nil {
		return errorResult(call.CallID, fmt.Sprintf("decode shell action: %v", err))
	}
	return runShell(ctx, call.CallID, action, deps)
}

func dispatchShellArgs(ctx context.Context, call model.ResponseItem, deps Dependencies) DispatchResult {
	var action shellAction
	if err := json.Unmarshal([]byte(call.Arguments), &action); err != nil {
		return errorResult(call.CallID, fmt.Sprintf("decode shell arguments: %v", err))
	}
	return runShell(ctx, call.CallID, action, deps)
}

func runShell(ctx context.Context, callID string, action shellAction, deps Dependencies) DispatchResult {
	if deps.ShellRunner == nil {
		return errorResult(callID, "shell execution is not configured for this session")
	}
	if len(action.Command) == 0 {
		return errorResult(callID, "shell call is missing a command")
	}
	if _, err := exec.SanitizeExecutableValue(action.Command[0]); err != nil {
		return errorResult(callID, fmt.Sprintf("unsafe executable %q: %v", action.Command[0], err))
	}

	if deps.ApprovedCommands != nil && deps.ApprovedCommands.Contains(action.Command) {
		return execShell(ctx, callID, action, deps, sandbox.KindNone)
	}

	if deps.Approve != nil {
		decision, err := deps.Approve(ctx, action.Command, action.WorkingDirectory, action.Justification)
		if err != nil {
			return errorResult(callID, err.Error())
		}
		switch decision {
		case model.Denied:
			return errorResult(callID, "command denied by user")
		case model.AbortDecision:
			return errorResult(callID, "turn aborted by user")
		case model.ApprovedForSession:
			if deps.ApprovedCommands != nil {
				deps.ApprovedCommands.Add(action.Command)
			}
		}
	}

	return execShell(ctx, callID, action, deps, deps.SandboxKind)
}

// execShell runs one command under kind and, on a sandbox denial eligible
// for escalation, runs the retry-without-sandbox protocol instead of
// surfacing the denial directly.
func execShell(ctx context.Context, callID string, action shellAction, deps Dependencies, kind sandbox.SandboxKind) DispatchResult {
	params := sandbox.ExecParams{
		Command:   action.Command,
		Cwd:       action.WorkingDirectory,
		TimeoutMs: action.TimeoutMs,
		Env:       action.Env,
	}

	result, err := deps.ShellRunner.Run(ctx, params, kind, deps.Policy, nil)
	if err != nil {
		var sbErr *sandbox.SandboxErr
		if ok := asSandboxErr(err, &sbErr); ok {
			if sbErr.Kind == sandbox.ErrKindDenied && escalates(deps.ApprovalPolicy) {
				return escalateSandboxDenial(ctx, callID, action, deps, sbErr)
			}
			return errorResult(callID, sbErr.Error())
		}
		return errorResult(callID, err.Error())
	}

	content := formatShellResult(result)
	success := result.ExitCode == 0
	return DispatchResult{
		Output: model.FunctionCallOutput(callID, content, model.BoolPtr(success)),
	}
}

// escalates reports whether policy asks to retry a sandbox denial
// unsandboxed rather than surface it to the model directly.
func escalates(policy model.ApprovalPolicy) bool {
	return policy == model.ApprovalUnlessTrusted || policy == model.ApprovalOnFailure
}

// escalateSandboxDenial implements the sandbox-denial escalation protocol:
// notify, ask to retry without sandboxing, and on approval persist the
// command and re-run with SandboxKind::None. Denied/Abort falls through to
// the original failure.
func escalateSandboxDenial(ctx context.Context, callID string, action shellAction, deps Dependencies, sbErr *sandbox.SandboxErr) DispatchResult {
	if deps.Emit != nil {
		deps.Emit(model.BackgroundEvent(fmt.Sprintf("Execution failed: %s", sbErr.Error())))
	}
	if deps.Approve == nil {
		return errorResult(callID, sbErr.Error())
	}

	decision, err := deps.Approve(ctx, action.Command, action.WorkingDirectory, "command failed; retry without sandbox?")
	if err != nil {
		return errorResult(callID, sbErr.Error())
	}

	switch decision {
	case model.Approved, model.ApprovedForSession:
		if deps.ApprovedCommands != nil {
			deps.ApprovedCommands.Add(action.Command)
		}
		if deps.Emit != nil {
			deps.Emit(model.BackgroundEvent("retrying command without sandbox"))
		}
		params := sandbox.ExecParams{
			Command:   action.Command,
			Cwd:       action.WorkingDirectory,
			TimeoutMs: action.TimeoutMs,
			Env:       action.Env,
		}
		result, retryErr := deps.ShellRunner.Run(ctx, params, sandbox.KindNone, deps.Policy, nil)
		if retryErr != nil {
			return errorResult(callID, fmt.Sprintf("retry failed: %v", retryErr))
		}
		return DispatchResult{
			Output: model.FunctionCallOutput(callID, formatShellResult(result), model.BoolPtr(result.ExitCode == 0)),
		}
	default:
		return errorResult(callID, "exec command rejected by user")
	}
}

func asSandboxErr(err error, target **sandbox.SandboxErr) bool {
	if se, ok := err.(*sandbox.SandboxErr); ok {
		*target = se
		return true
	}
	return false
}

func formatShellResult(r *sandbox.ExecResult) string {
	var b strings.Builder
	fmt.Fprintf(&b, "exit code: %d\n", r.ExitCode)
	if r.Stdout != "" {
		b.WriteString("stdout:\n")
		b.WriteString(r.Stdout)
		b.WriteString("\n")
	}
	if r.Stderr != "" {
		b.WriteString("stderr:\n")
		b.WriteString(r.Stderr)
		b.WriteString("\n")
	}
	if r.TruncatedAfterLines {
		b.WriteString("(output truncated)\n")
	}
	return b.String()
}

func dispatchUpdatePlan(call model.ResponseItem, deps Dependencies) DispatchResult {
	var input struct {
		Explanation string           `json:"explanation,omitempty"`
		Plan        []model.PlanStep `json:"plan"`
	}
	if err := json.Unmarshal([]byte(call.Arguments), &input); err != nil {
		return errorResult(call.CallID, fmt.Sprintf("decode update_plan arguments: %v", err))
	}
	if deps.Plan != nil {
		deps.Plan.set(input.Explanation, input.Plan)
	}
	return DispatchResult{
		Output:   model.FunctionCallOutput(call.CallID, "plan updated", model.BoolPtr(true)),
		Event:    model.PlanUpdate(input.Explanation, input.Plan),
		HasEvent: true,
	}
}

func dispatchAgentCall(call model.ResponseItem, deps Dependencies) DispatchResult {
	if deps.Agents == nil {
		return errorResult(call.CallID, "sub-agent spawning is not configured for this session")
	}

	action := strings.TrimPrefix(call.Name, "agent_")
	switch action {
	case "spawn":
		var req SpawnRequest
		if err := json.Unmarshal([]byte(call.Arguments), &req); err != nil {
			return errorResult(call.CallID, fmt.Sprintf("decode agent_spawn arguments: %v", err))
		}
		agent := deps.Agents.Spawn(req)
		return DispatchResult{Output: model.FunctionCallOutput(call.CallID, agent.ID, model.BoolPtr(true))}

	case "list":
		var req struct {
			Status     model.AgentStatus `json:"status"`
			BatchID    string            `json:"batch_id"`
			RecentOnly bool              `json:"recent_only"`
		}
		_ = json.Unmarshal([]byte(call.Arguments), &req)
		agents := deps.Agents.ListAgents(req.Status, req.BatchID, req.RecentOnly)
		payload, err := json.Marshal(agents)
		if err != nil {
			return errorResult(call.CallID, err.Error())
		}
		return DispatchResult{Output: model.FunctionCallOutput(call.CallID, string(payload), model.BoolPtr(true))}

	case "cancel":
		var req struct {
			ID      string `json:"id"`
			BatchID string `json:"batch_id"`
		}
		if err := json.Unmarshal([]byte(call.Arguments), &req); err != nil {
			return errorResult(call.CallID, fmt.Sprintf("decode agent_cancel arguments: %v", err))
		}
		if req.BatchID != "" {
			deps.Agents.CancelBatch(req.BatchID)
			return DispatchResult{Output: model.FunctionCallOutput(call.CallID, "batch cancelled", model.BoolPtr(true))}
		}
		if err := deps.Agents.CancelAgent(req.ID); err != nil {
			return errorResult(call.CallID, err.Error())
		}
		return DispatchResult{Output: model.FunctionCallOutput(call.CallID, "agent cancelled", model.BoolPtr(true))}

	case "status":
		var req struct {
			ID string `json:"id"`
		}
		if err := json.Unmarshal([]byte(call.Arguments), &req); err != nil {
			return errorResult(call.CallID, fmt.Sprintf("decode agent_status arguments: %v", err))
		}
		agent, ok := deps.Agents.Get(req.ID)
		if !ok {
			return errorResult(call.CallID, fmt.Sprintf("no such agent %q", req.ID))
		}
		payload, err := json.Marshal(agent)
		if err != nil {
			return errorResult(call.CallID, err.Error())
		}
		return DispatchResult{Output: model.FunctionCallOutput(call.CallID, string(payload), model.BoolPtr(true))}

	default:
		return errorResult(call.CallID, fmt.Sprintf("unknown agent tool %q", call.Name))
	}
}

func dispatchBrowserCall(ctx context.Context, call model.ResponseItem, deps Dependencies) DispatchResult {
	if deps.Browser == nil {
		return errorResult(call.CallID, "browser automation is not configured for this session")
	}
	var arguments map[string]any
	if err := json.Unmarshal([]byte(call.Arguments), &arguments); err != nil {
		return errorResult(call.CallID, fmt.Sprintf("decode %s arguments: %v", call.Name, err))
	}
	content, err := deps.Browser.Execute(ctx, call.Name, arguments)
	if err != nil {
		return errorResult(call.CallID, err.Error())
	}
	return DispatchResult{Output: model.FunctionCallOutput(call.CallID, content, model.BoolPtr(true))}
}

// dispatchMCPCall routes a tool name of the form "server/tool" to the
// matching MCP server. A name with no "/" separator has no server to route
// to and fails rather than guessing one.
func dispatchMCPCall(ctx context.Context, call model.ResponseItem, deps Dependencies) DispatchResult {
	if deps.MCP == nil {
		return errorResult(call.CallID, fmt.Sprintf("unknown tool %q", call.Name))
	}
	serverID, toolName, ok := strings.Cut(call.Name, "/")
	if !ok {
		return errorResult(call.CallID, fmt.Sprintf("unknown tool %q", call.Name))
	}
	var arguments map[string]any
	if err := json.Unmarshal([]byte(call.Arguments), &arguments); err != nil {
		return errorResult(call.CallID, fmt.Sprintf("decode %s arguments: %v", call.Name, err))
	}

	result, err := deps.MCP.CallTool(ctx, serverID, toolName, arguments)
	if err != nil {
		return errorResult(call.CallID, err.Error())
	}
	return DispatchResult{Output: model.FunctionCallOutput(call.CallID, mcpResultText(result), model.BoolPtr(!result.IsError))}
}

func mcpResultText(r *MCPToolResult) string {
	var b strings.Builder
	for _, c := range r.Content {
		if c.Type == "text" {
			b.WriteString(c.Text)
		}
	}
	return b.String()
}

func errorResult(callID, message string) DispatchResult {
	return DispatchResult{Output: model.FunctionCallOutput(callID, message, model.BoolPtr(false))}
}
