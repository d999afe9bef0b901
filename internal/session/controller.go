// Package session runs the submission/event protocol a host speaks to
// drive one conversation: Submit queues an Op, NextEvent drains the
// resulting Events, and a single background goroutine serializes every
// submission so configuration, user input, approvals, and shutdown never
// race each other.
package session

import (
	"context"
	"fmt"
	"sync"

	"github.com/google/uuid"

	"github.com/aibozo/code-sub000/internal/backoff"
	"github.com/aibozo/code-sub000/internal/history"
	"github.com/aibozo/code-sub000/internal/model"
	"github.com/aibozo/code-sub000/internal/observability"
	"github.com/aibozo/code-sub000/internal/sandbox"
	"github.com/aibozo/code-sub000/internal/turn"
)

// submissionBufferSize bounds how many pending submissions a host can queue
// before Submit blocks; generous enough that a burst of approvals or
// interrupts never stalls the caller.
const submissionBufferSize = 64

// eventBufferSize bounds how many unconsumed events can queue before the
// run loop blocks on Emit; a slow host backpressures the turn loop rather
// than events being dropped.
const eventBufferSize = 256

// Deps bundles everything a Controller needs beyond the live session
// state: the provider to drive turns with, the tool-dispatch wiring, and
// the retrieval/compaction collaborators. Any optional field left nil
// disables that side effect rather than panicking.
type Deps struct {
	Provider turn.Provider

	ToolSpecs   []turn.ToolSpec
	ToolSchemas turn.ToolSchemas
	ShellRunner turn.ShellRunner
	Agents      turn.SubAgentManager
	Browser     turn.BrowserDriver
	MCP         turn.MCPCaller
	Plan        *turn.PlanState

	RetryPolicy backoff.BackoffPolicy
	MaxAttempts int

	ContextWindow int
	ReserveOutput int
	MaxTokens     int

	Retrieval history.Config
	Summaries history.Summarizer
	Prune     history.PruneDeps

	Tracer  *observability.Tracer
	Metrics *observability.Metrics
}

// Controller owns one conversation's submission queue, history, and
// approval bookkeeping. Zero value is not usable; construct with New.
type Controller struct {
	deps Deps
	hist *history.History

	submissions chan model.Submission
	events      chan model.Event

	approvals        *approvalRegistry
	approvedCommands *turn.ApprovedCommandSet

	mu         sync.Mutex
	cfg        model.SessionConfig
	configured bool
	logID      string

	// cancelTurn/turnDone describe the turn currently running in its own
	// goroutine, if any. Both nil when no turn is in flight. Guarded by mu.
	cancelTurn context.CancelFunc
	turnDone   chan struct{}
	turnWG     sync.WaitGroup

	done chan struct{}
}

// New constructs a Controller and starts its background run loop. Call
// Submit to enqueue work and NextEvent (or Events) to drain results; call
// Submit with an OpShutdown to stop the loop, or cancel ctx.
func New(ctx context.Context, deps Deps) *Controller {
	c := &Controller{
		deps:             deps,
		hist:             history.New(),
		submissions:      make(chan model.Submission, submissionBufferSize),
		events:           make(chan model.Event, eventBufferSize),
		approvals:        newApprovalRegistry(),
		approvedCommands: &turn.ApprovedCommandSet{},
		done:             make(chan struct{}),
	}
	go c.run(ctx)
	return c
}

// Submit enqueues op as a new Submission and returns its freshly minted
// ID, which is echoed on every Event produced in response to it. Submit
// never blocks indefinitely: it returns ctx.Err() if ctx is done first.
func (c *Controller) Submit(ctx context.Context, op model.Op) (string, error) {
	sub := model.Submission{ID: uuid.NewString(), Op: op}
	select {
	case c.submissions <- sub:
		return sub.ID, nil
	case <-ctx.Done():
		return "", ctx.Err()
	case <-c.done:
		return "", fmt.Errorf("session: controller is shut down")
	}
}

// NextEvent blocks until an Event is available or ctx is done.
func (c *Controller) NextEvent(ctx context.Context) (model.Event, error) {
	select {
	case ev, ok := <-c.events:
		if !ok {
			return model.Event{}, fmt.Errorf("session: event stream closed")
		}
		return ev, nil
	case <-ctx.Done():
		return model.Event{}, ctx.Err()
	}
}

// Events exposes the raw event channel for a host that prefers a range
// loop over repeated NextEvent calls. The channel closes once the
// controller has processed an OpShutdown submission.
func (c *Controller) Events() <-chan model.Event { return c.events }

func (c *Controller) emit(submissionID string, msg model.EventMsg) {
	select {
	case c.events <- model.Event{ID: submissionID, Msg: msg}:
	case <-c.done:
	}
}

// run is the single goroutine that serializes every submission against
// this controller's history and configuration. It never blocks on a
// running turn: OpUserInput spawns the turn in its own goroutine (see
// startUserInput) and returns immediately, so a later OpExecApproval or
// OpInterrupt for that same turn is dequeued and processed right away
// instead of queuing up behind it. A failure processing one submission is
// surfaced as an EventError and never stops the loop — only an
// OpShutdown submission (or ctx cancellation) does, and both wait for any
// in-flight turn to fully exit before the event stream closes.
func (c *Controller) run(ctx context.Context) {
	defer close(c.events)
	defer close(c.done)

	for {
		select {
		case sub, ok := <-c.submissions:
			if !ok {
				c.abortRunningTurn()
				return
			}
			if sub.Op.Kind == model.OpShutdown {
				c.abortRunningTurn()
				c.emit(sub.ID, model.ShutdownComplete())
				return
			}
			c.process(ctx, sub)
		case <-ctx.Done():
			c.abortRunningTurn()
			return
		}
	}
}

// abortRunningTurn cancels whatever turn is currently in flight (a no-op
// if none is) and blocks until its goroutine has fully exited, so the
// caller can safely close the event channel next.
func (c *Controller) abortRunningTurn() {
	c.mu.Lock()
	cancel := c.cancelTurn
	c.mu.Unlock()
	if cancel != nil {
		cancel()
	}
	c.turnWG.Wait()
}

func (c *Controller) process(ctx context.Context, sub model.Submission) {
	defer func() {
		if r := recover(); r != nil {
			c.emit(sub.ID, model.ErrorMsg(fmt.Sprintf("session: submission %q panicked: %v", sub.Op.Kind, r)))
		}
	}()

	switch sub.Op.Kind {
	case model.OpConfigureSession:
		c.configureSession(sub)
	case model.OpUserInput:
		c.startUserInput(ctx, sub)
	case model.OpInterrupt:
		c.interrupt(sub)
	case model.OpExecApproval, model.OpPatchApproval:
		c.resolveApproval(sub)
	case model.OpAddToHistory:
		c.addToHistory(sub)
	case model.OpGetHistoryEntry:
		c.getHistoryEntry(sub)
	case model.OpCompact:
		c.compact(ctx, sub)
	default:
		c.emit(sub.ID, model.ErrorMsg(fmt.Sprintf("session: unknown op %q", sub.Op.Kind)))
	}
}

func (c *Controller) configureSession(sub model.Submission) {
	if sub.Op.Config == nil {
		c.emit(sub.ID, model.ErrorMsg("configure_session: missing config"))
		return
	}

	c.mu.Lock()
	c.cfg = *sub.Op.Config
	c.logID = uuid.NewString()
	c.configured = true
	c.mu.Unlock()

	c.emit(sub.ID, model.SessionConfigured(sub.ID, sub.Op.Config.Model, c.logID, c.hist.Len()))
}

func (c *Controller) sessionConfig() (model.SessionConfig, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.cfg, c.configured
}

func (c *Controller) interrupt(sub model.Submission) {
	c.mu.Lock()
	cancel := c.cancelTurn
	c.mu.Unlock()
	if cancel != nil {
		cancel()
	}
	c.approvals.denyAll()
	c.emit(sub.ID, model.ErrorMsg("Turn interrupted"))
}

func (c *Controller) addToHistory(sub model.Submission) {
	c.hist.RecordItems(model.Message(model.RoleUser, model.InputText(sub.Op.Text)))
}

func (c *Controller) getHistoryEntry(sub model.Submission) {
	c.mu.Lock()
	logID := c.logID
	c.mu.Unlock()

	if sub.Op.LogID != "" && sub.Op.LogID != logID {
		c.emit(sub.ID, model.ErrorMsg(fmt.Sprintf("get_history_entry: unknown log id %q", sub.Op.LogID)))
		return
	}
	items := c.hist.Contents()
	if sub.Op.Offset < 0 || sub.Op.Offset >= len(items) {
		c.emit(sub.ID, model.ErrorMsg(fmt.Sprintf("get_history_entry: offset %d out of range (%d entries)", sub.Op.Offset, len(items))))
		return
	}
	c.emit(sub.ID, model.AgentMessage(items[sub.Op.Offset].TextContent()))
}

func (c *Controller) compact(ctx context.Context, sub model.Submission) {
	if c.deps.Summaries == nil {
		return
	}
	deps := c.deps.Prune
	deps.Sink = sinkAdapter{c: c, submissionID: sub.ID}
	if err := c.hist.RunEndOfTurn(ctx, c.deps.Retrieval, c.deps.Summaries, deps); err != nil {
		c.emit(sub.ID, model.ErrorMsg(fmt.Sprintf("compact: %v", err)))
	}
}

// sinkAdapter bridges history.EventSink's Emit(model.Event) to the
// controller's own emit, so RunEndOfTurn's TokenContextUpdate rides the
// same submission/event protocol as everything else instead of a second
// channel shape.
type sinkAdapter struct {
	c            *Controller
	submissionID string
}

func (s sinkAdapter) Emit(ev model.Event) { s.c.emit(s.submissionID, ev.Msg) }

// startUserInput enforces "at most one active turn per session" by
// replacing any turn already in flight, then launches turn.RunTurn in its
// own goroutine and returns immediately. This
// keeps run's submission loop free to dequeue the OpExecApproval or
// OpInterrupt that turn may be waiting on — running it inline here is
// exactly the deadlock a blocking approval would otherwise cause, since
// nothing could ever process the approval that unblocks it.
func (c *Controller) startUserInput(ctx context.Context, sub model.Submission) {
	cfg, ok := c.sessionConfig()
	if !ok {
		c.emit(sub.ID, model.ErrorMsg("user_input: session is not configured"))
		return
	}

	c.mu.Lock()
	prevCancel, prevDone := c.cancelTurn, c.turnDone
	c.mu.Unlock()
	if prevCancel != nil {
		prevCancel()
		<-prevDone
	}

	turnCtx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})
	c.mu.Lock()
	c.cancelTurn = cancel
	c.turnDone = done
	c.mu.Unlock()

	c.turnWG.Add(1)
	go func() {
		defer c.turnWG.Done()
		defer close(done)
		defer cancel()
		c.runTurn(turnCtx, sub, cfg)

		c.mu.Lock()
		if c.turnDone == done {
			c.cancelTurn, c.turnDone = nil, nil
		}
		c.mu.Unlock()
	}()
}

func (c *Controller) runTurn(ctx context.Context, sub model.Submission, cfg model.SessionConfig) {
	sink := turn.SinkFunc(func(msg model.EventMsg) { c.emit(sub.ID, msg) })

	tcfg := turn.Config{
		Model:         cfg.Model,
		ContextWindow: c.deps.ContextWindow,
		ReserveOutput: c.deps.ReserveOutput,
		MaxTokens:     c.deps.MaxTokens,
		Cwd:           cfg.Cwd,
		RetryPolicy:   c.deps.RetryPolicy,
		MaxAttempts:   c.deps.MaxAttempts,
		ToolSpecs:     c.deps.ToolSpecs,
		ToolSchemas:   c.deps.ToolSchemas,
		Tracer:        c.deps.Tracer,
		Metrics:       c.deps.Metrics,
		Dependencies: turn.Dependencies{
			ShellRunner:      c.deps.ShellRunner,
			SandboxKind:      sandbox.SandboxKind(cfg.SandboxKind),
			Agents:           c.deps.Agents,
			Plan:             c.deps.Plan,
			Browser:          c.deps.Browser,
			MCP:              c.deps.MCP,
			Schemas:          &turn.SchemaCache{},
			Approve:          c.approveFunc(cfg.ApprovalPolicy),
			ApprovalPolicy:   cfg.ApprovalPolicy,
			ApprovedCommands: c.approvedCommands,
		},
	}

	c.emit(sub.ID, model.TaskStarted())
	if err := turn.RunTurn(ctx, c.hist, c.deps.Provider, tcfg, sub.Op.Items, nil, sink); err != nil {
		c.emit(sub.ID, model.ErrorMsg(err.Error()))
	}
}

// approveFunc returns an ApprovalFunc that requests a human decision
// through the submission/event protocol, or nil when policy is
// ApprovalNever, which runs every command unconditionally with no
// escalation on a sandbox denial either (see Dependencies.ApprovalPolicy
// in internal/turn).
func (c *Controller) approveFunc(policy model.ApprovalPolicy) turn.ApprovalFunc {
	if policy == model.ApprovalNever {
		return nil
	}
	return func(ctx context.Context, command []string, cwd, reason string) (model.ApprovalDecision, error) {
		approvalID := uuid.NewString()
		decisionCh := c.approvals.register(approvalID)
		defer c.approvals.forget(approvalID)

		c.emit(approvalID, model.ExecApprovalRequest(approvalID, command, cwd, reason))

		select {
		case decision := <-decisionCh:
			return decision, nil
		case <-ctx.Done():
			return model.AbortDecision, ctx.Err()
		}
	}
}

func (c *Controller) resolveApproval(sub model.Submission) {
	if !c.approvals.resolve(sub.Op.ApprovalID, sub.Op.Decision) {
		c.emit(sub.ID, model.ErrorMsg(fmt.Sprintf("%s: unknown approval id %q", sub.Op.Kind, sub.Op.ApprovalID)))
	}
}
