package main

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"gopkg.in/yaml.v3"

	anthropicprovider "github.com/aibozo/code-sub000/internal/agent/providers"
	"github.com/aibozo/code-sub000/internal/backoff"
	"github.com/aibozo/code-sub000/internal/history"
	"github.com/aibozo/code-sub000/internal/mcp"
	"github.com/aibozo/code-sub000/internal/model"
	"github.com/aibozo/code-sub000/internal/observability"
	"github.com/aibozo/code-sub000/internal/sandbox"
	"github.com/aibozo/code-sub000/internal/session"
	"github.com/aibozo/code-sub000/internal/store"
	"github.com/aibozo/code-sub000/internal/subagent"
	"github.com/aibozo/code-sub000/internal/turn"
	turnproviders "github.com/aibozo/code-sub000/internal/turn/providers"
)

var runFlags struct {
	model          string
	cwd            string
	home           string
	approvalPolicy string
	sandboxKind    string
	mcpConfig      string
}

func buildRunCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Start an interactive session against a live Anthropic-backed agent",
		RunE:  runRun,
	}
	cmd.Flags().StringVar(&runFlags.model, "model", "claude-sonnet-4-20250514", "model id to request from the provider")
	cmd.Flags().StringVar(&runFlags.cwd, "cwd", ".", "working directory shell/tool calls run in")
	cmd.Flags().StringVar(&runFlags.home, "home", defaultHomeDir(), "directory the vector/summary store persists to")
	cmd.Flags().StringVar(&runFlags.approvalPolicy, "approval-policy", string(model.ApprovalUnlessTrusted), "never|on-request|unless-trusted|on-failure")
	cmd.Flags().StringVar(&runFlags.sandboxKind, "sandbox", string(sandbox.KindOSLevel), "none|os-level|microvm")
	cmd.Flags().StringVar(&runFlags.mcpConfig, "mcp-config", "", "path to a YAML file listing MCP servers to connect to (optional)")
	return cmd
}

// loadMCPCaller reads an MCP server config file, if one was given, connects
// to every auto_start server, and returns the manager as a turn.MCPCaller.
// Returns (nil, nil) when no config path was supplied.
func loadMCPCaller(ctx context.Context, path string) (turn.MCPCaller, error) {
	if path == "" {
		return nil, nil
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read mcp config: %w", err)
	}
	var cfg mcp.Config
	if err := yaml.Unmarshal(raw, &cfg); err != nil {
		return nil, fmt.Errorf("parse mcp config: %w", err)
	}
	mgr := mcp.NewManager(&cfg, nil)
	if err := mgr.Start(ctx); err != nil {
		return nil, fmt.Errorf("start mcp servers: %w", err)
	}
	return mcp.NewCallerAdapter(mgr), nil
}

func defaultHomeDir() string {
	if dir, err := os.UserHomeDir(); err == nil {
		return filepath.Join(dir, ".code")
	}
	return ".code"
}

func runRun(cmd *cobra.Command, args []string) error {
	apiKey := os.Getenv("ANTHROPIC_API_KEY")
	if apiKey == "" {
		return fmt.Errorf("run: ANTHROPIC_API_KEY must be set")
	}

	backend, err := anthropicprovider.NewAnthropicProvider(anthropicprovider.AnthropicConfig{
		APIKey:       apiKey,
		DefaultModel: runFlags.model,
	})
	if err != nil {
		return fmt.Errorf("run: construct provider: %w", err)
	}
	provider := turnproviders.New(backend)

	vecStore, err := store.New(runFlags.home)
	if err != nil {
		return fmt.Errorf("run: open store at %s: %w", runFlags.home, err)
	}

	agents := subagent.NewManagerAdapter(subagent.NewManager(subagent.DefaultConfig(), subagent.ProcessRunner{}, agentEventSink{}))

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	mcpCaller, err := loadMCPCaller(ctx, runFlags.mcpConfig)
	if err != nil {
		return fmt.Errorf("run: %w", err)
	}

	tracer, shutdownTracer := observability.NewTracer(observability.TraceConfig{
		ServiceName: "code",
		Endpoint:    os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT"),
	})
	defer shutdownTracer(context.Background())

	deps := session.Deps{
		Provider:    provider,
		ToolSpecs:   builtinToolSpecs(),
		ToolSchemas: builtinToolSchemas(),
		ShellRunner: sandbox.NewExecutor(sandbox.NewGodmodeBudget(0)),
		Agents:      agents,
		MCP:         mcpCaller,
		Plan:        &turn.PlanState{},
		Tracer:      tracer,
		Metrics:     observability.NewMetrics(),

		RetryPolicy: backoff.DefaultPolicy(),
		MaxAttempts: 3,

		ContextWindow: provider.ContextWindow(runFlags.model),
		ReserveOutput: 4_000,
		MaxTokens:     4_096,

		Retrieval: history.DefaultConfig(),
		Summaries: history.NewCompactSummarizer(1_200),
		Prune: history.PruneDeps{
			Summaries:    vecStore,
			Vectors:      vecStore,
			RepoKey:      runFlags.cwd,
			SessionID:    "cli",
			EmbeddingDim: 1536,
		},
	}
	if deps.ContextWindow == 0 {
		deps.ContextWindow = 200_000
	}

	ctrl := session.New(ctx, deps)

	if _, err := ctrl.Submit(ctx, model.Op{
		Kind: model.OpConfigureSession,
		Config: &model.SessionConfig{
			Cwd:            runFlags.cwd,
			ApprovalPolicy: model.ApprovalPolicy(runFlags.approvalPolicy),
			SandboxKind:    runFlags.sandboxKind,
			Model:          runFlags.model,
		},
	}); err != nil {
		return fmt.Errorf("run: configure session: %w", err)
	}
	if _, err := drainUntilConfigured(ctx, ctrl); err != nil {
		return err
	}

	go printEvents(ctrl)

	return repl(ctx, ctrl)
}

// drainUntilConfigured blocks until the configure_session round trip
// completes, surfacing a configuration error instead of silently racing
// into the REPL with an unconfigured controller.
func drainUntilConfigured(ctx context.Context, ctrl *session.Controller) (model.Event, error) {
	ev, err := ctrl.NextEvent(ctx)
	if err != nil {
		return ev, err
	}
	if ev.Msg.Kind == model.EventError {
		return ev, fmt.Errorf("run: %s", ev.Msg.Message)
	}
	return ev, nil
}

// repl reads one line of user input at a time from stdin and submits it;
// printEvents runs concurrently and answers any approval request that
// arrives while a turn is in flight.
func repl(ctx context.Context, ctrl *session.Controller) error {
	scanner := bufio.NewScanner(os.Stdin)
	fmt.Fprintln(os.Stderr, "type a message and press enter; Ctrl-D to quit")
	for {
		fmt.Fprint(os.Stderr, "> ")
		if !scanner.Scan() {
			break
		}
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		if _, err := ctrl.Submit(ctx, model.Op{
			Kind:  model.OpUserInput,
			Items: []model.ResponseItem{model.Message(model.RoleUser, model.InputText(line))},
		}); err != nil {
			return fmt.Errorf("run: submit user input: %w", err)
		}
	}

	_, err := ctrl.Submit(ctx, model.Op{Kind: model.OpShutdown})
	return err
}

// printEvents drains every event the controller produces and renders it to
// stdout/stderr, answering exec approval requests by prompting on stdin.
func printEvents(ctrl *session.Controller) {
	approvals := bufio.NewReader(os.Stdin)
	for ev := range ctrl.Events() {
		switch ev.Msg.Kind {
		case model.EventAgentMessageDelta:
			fmt.Fprint(os.Stdout, ev.Msg.Delta)
		case model.EventAgentMessage:
			fmt.Fprintln(os.Stdout)
		case model.EventTaskComplete:
			fmt.Fprintln(os.Stdout)
		case model.EventError:
			fmt.Fprintf(os.Stderr, "\nerror: %s\n", ev.Msg.Message)
		case model.EventBackground:
			fmt.Fprintf(os.Stderr, "\n[%s]\n", ev.Msg.Message)
		case model.EventExecApprovalRequest:
			decision := promptApproval(approvals, ev.Msg)
			bg, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			_, _ = ctrl.Submit(bg, model.Op{
				Kind:       model.OpExecApproval,
				ApprovalID: ev.ID,
				Decision:   decision,
			})
			cancel()
		case model.EventShutdownComplete:
			return
		}
	}
}

func promptApproval(r *bufio.Reader, msg model.EventMsg) model.ApprovalDecision {
	fmt.Fprintf(os.Stderr, "\napprove command %v in %s (%s)? [y/N/a=always] ", msg.Command, msg.Cwd, msg.Reason)
	line, _ := r.ReadString('\n')
	switch strings.ToLower(strings.TrimSpace(line)) {
	case "y", "yes":
		return model.Approved
	case "a", "always":
		return model.ApprovedForSession
	default:
		return model.Denied
	}
}

// agentEventSink discards sub-agent status updates; a fuller host would
// forward them through the same submission/event protocol the way
// sinkAdapter does for history's TokenContextUpdate.
type agentEventSink struct{}

func (agentEventSink) Emit(model.Event) {}

func builtinToolSpecs() []turn.ToolSpec {
	return []turn.ToolSpec{
		{Name: "shell", Description: "Run a shell command.", Parameters: shellSchema},
		{Name: "update_plan", Description: "Replace the current step-by-step plan.", Parameters: updatePlanSchema},
		{Name: "agent_spawn", Description: "Spawn a sub-agent to work on a sub-task.", Parameters: agentSpawnSchema},
	}
}

func builtinToolSchemas() turn.ToolSchemas {
	schemas := turn.ToolSchemas{}
	for _, spec := range builtinToolSpecs() {
		schemas[spec.Name] = spec.Parameters
	}
	return schemas
}

var (
	shellSchema = []byte(`{
		"type": "object",
		"properties": {
			"command": {"type": "array", "items": {"type": "string"}},
			"working_directory": {"type": "string"},
			"timeout_ms": {"type": "integer"},
			"justification": {"type": "string"}
		},
		"required": ["command"]
	}`)

	updatePlanSchema = []byte(`{
		"type": "object",
		"properties": {
			"explanation": {"type": "string"},
			"plan": {
				"type": "array",
				"items": {
					"type": "object",
					"properties": {
						"step": {"type": "string"},
						"status": {"type": "string", "enum": ["pending", "in_progress", "completed"]}
					},
					"required": ["step", "status"]
				}
			}
		},
		"required": ["plan"]
	}`)

	agentSpawnSchema = []byte(`{
		"type": "object",
		"properties": {
			"model": {"type": "string"},
			"prompt": {"type": "string"},
			"context": {"type": "string"},
			"output_goal": {"type": "string"},
			"files": {"type": "array", "items": {"type": "string"}},
			"read_only": {"type": "boolean"},
			"batch_id": {"type": "string"}
		},
		"required": ["model", "prompt"]
	}`)
)
