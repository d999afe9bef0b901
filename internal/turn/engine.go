package turn

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"go.opentelemetry.io/otel/trace"

	"github.com/aibozo/code-sub000/internal/backoff"
	"github.com/aibozo/code-sub000/internal/history"
	"github.com/aibozo/code-sub000/internal/model"
	"github.com/aibozo/code-sub000/internal/observability"
	"github.com/aibozo/code-sub000/internal/retrieval"
)

// MaxToolIterations caps how many dispatch rounds RunTurn will run before
// giving up and returning control to the caller, so a model that never
// stops calling tools cannot loop forever inside one turn.
const MaxToolIterations = 50

// Config bundles the knobs RunTurn needs beyond the live history and
// provider: the model name, sampling/context limits, retrieval tunables,
// retry policy, and tool dispatch wiring.
type Config struct {
	Model         string
	System        string
	ContextWindow int
	ReserveOutput int
	MaxTokens     int

	Retrieval retrieval.Config
	Vectors   retrieval.VectorStore
	Embedder  retrieval.EmbeddingClient
	Cwd       string

	RetryPolicy  backoff.BackoffPolicy
	MaxAttempts  int
	ToolSpecs    []ToolSpec
	ToolSchemas  ToolSchemas
	Dependencies Dependencies

	// Tracer and Metrics are optional; when set, every provider request and
	// tool dispatch in this turn is traced and recorded through them.
	Tracer  *observability.Tracer
	Metrics *observability.Metrics
}

// Sink receives every event RunTurn emits along the way, in order.
type Sink interface {
	Emit(model.EventMsg)
}

// SinkFunc adapts a plain function to Sink.
type SinkFunc func(model.EventMsg)

func (f SinkFunc) Emit(m model.EventMsg) { f(m) }

// RunTurn drives one user turn to completion: it assembles the prompt from
// history plus retrieval injection, streams the provider's response,
// dispatches every requested tool call, folds results back into hist, and
// repeats until the provider produces a round with no pending tool calls or
// MaxToolIterations is hit.
//
// extraItems are queued items specific to this turn (typically the new
// user message); they are recorded into hist once, on the first iteration.
// statusItems are freshly rendered status lines (agent status, plan, etc.)
// that ride along in the prompt without being persisted to history.
func RunTurn(ctx context.Context, hist *history.History, provider Provider, cfg Config, extraItems, statusItems []model.ResponseItem, sink Sink) error {
	if sink == nil {
		sink = SinkFunc(func(model.EventMsg) {})
	}

	hist.RecordItems(extraItems...)

	for iteration := 0; iteration < MaxToolIterations; iteration++ {
		historyItems := hist.Contents()

		injection, injected := retrieval.Compose(
			cfg.Retrieval, cfg.Cwd, historyItems,
			cfg.ContextWindow, cfg.ReserveOutput, estimateInputTokens(historyItems),
			cfg.Vectors, cfg.Embedder,
		)

		prompt := BuildPrompt(historyItems, injection, injected, nil, statusItems)
		statusItems = nil

		req := Request{
			Model:     cfg.Model,
			System:    cfg.System,
			Items:     prompt,
			Tools:     cfg.ToolSpecs,
			MaxTokens: cfg.MaxTokens,
		}

		llmStart := time.Now()
		spanCtx := ctx
		var llmSpan trace.Span
		if cfg.Tracer != nil {
			spanCtx, llmSpan = cfg.Tracer.TraceLLMRequest(ctx, provider.Name(), cfg.Model)
		}

		events, err := RunWithRetry(spanCtx, cfg.RetryPolicy, attemptCount(cfg.MaxAttempts), func(ctx context.Context) (<-chan StreamEvent, error) {
			return provider.Stream(ctx, req)
		}, func(nextAttempt int, retryErr error) {
			sink.Emit(model.BackgroundEvent(fmt.Sprintf("retrying model request (attempt %d): %v", nextAttempt, retryErr)))
		})
		if err != nil {
			if cfg.Tracer != nil {
				cfg.Tracer.RecordError(llmSpan, err)
				llmSpan.End()
			}
			if cfg.Metrics != nil {
				cfg.Metrics.RecordLLMRequest(provider.Name(), cfg.Model, "error", time.Since(llmStart).Seconds(), 0, 0)
			}
			sink.Emit(model.ErrorMsg(err.Error()))
			return err
		}

		result, err := processStream(ctx, events, cfg, sink)
		if cfg.Tracer != nil {
			if err != nil {
				cfg.Tracer.RecordError(llmSpan, err)
			}
			llmSpan.End()
		}
		if cfg.Metrics != nil {
			status := "success"
			if err != nil {
				status = "error"
			}
			cfg.Metrics.RecordLLMRequest(provider.Name(), cfg.Model, status, time.Since(llmStart).Seconds(), result.usage.InputTokens, result.usage.OutputTokens)
		}
		if err != nil {
			sink.Emit(model.ErrorMsg(err.Error()))
			return err
		}

		hist.RecordItems(result.newItems...)

		if result.diff != "" {
			sink.Emit(model.TurnDiff(result.diff))
		}
		sink.Emit(model.TokenCount(result.usage))

		if !result.hasToolCall {
			if result.finalMessage != "" {
				sink.Emit(model.TaskComplete(result.finalMessage))
			}
			return nil
		}
	}

	err := fmt.Errorf("turn: exceeded %d tool-dispatch iterations without completing", MaxToolIterations)
	sink.Emit(model.ErrorMsg(err.Error()))
	return err
}

// turnResult accumulates the outcome of draining one provider stream and
// dispatching every OutputItemDone call it produced.
type turnResult struct {
	newItems     []model.ResponseItem
	usage        model.TokenUsage
	diff         string
	hasToolCall  bool
	finalMessage string
}

func processStream(ctx context.Context, events <-chan StreamEvent, cfg Config, sink Sink) (turnResult, error) {
	var result turnResult

	for ev := range events {
		switch ev.Kind {
		case StreamCreated:
			// no-op: marks the provider accepted the request.
		case StreamOutputTextDelta:
			sink.Emit(model.AgentMessageDelta(ev.Delta))
		case StreamReasoningSummaryDelta:
			sink.Emit(model.AgentReasoningDelta(ev.Delta))
		case StreamReasoningContentDelta:
			sink.Emit(model.AgentReasoningRawDelta(ev.Delta))
		case StreamReasoningSummaryPartAdded:
			sink.Emit(model.AgentReasoningSectionBreak())
		case StreamOutputItemDone:
			result.newItems = append(result.newItems, ev.Item)
			if out, dispatched := handleOutputItem(ctx, ev.Item, cfg, sink); dispatched {
				result.hasToolCall = true
				result.newItems = append(result.newItems, out)
			} else if ev.Item.Kind == model.ItemMessage {
				result.finalMessage = ev.Item.TextContent()
			}
		case StreamCompleted:
			result.usage = ev.Usage
		case StreamFailed:
			return result, ev.Err
		}
	}
	return result, nil
}

// handleOutputItem dispatches item if it is a tool call, returning the
// FunctionCallOutput to fold into history and true. Non-call items (plain
// messages, reasoning) return false; the caller records item itself
// unchanged.
func handleOutputItem(ctx context.Context, item model.ResponseItem, cfg Config, sink Sink) (model.ResponseItem, bool) {
	switch item.Kind {
	case model.ItemFunctionCall, model.ItemLocalShellCall:
		sink.Emit(model.ExecCommandBegin(item.CallID, commandOf(item), cfg.Cwd, item.Name))

		start := time.Now()
		toolCtx := ctx
		var toolSpan trace.Span
		if cfg.Tracer != nil {
			toolCtx, toolSpan = cfg.Tracer.TraceToolExecution(ctx, item.Name)
		}

		deps := cfg.Dependencies
		deps.Emit = sink.Emit
		out := Dispatch(toolCtx, item, deps, cfg.ToolSchemas)

		status := "success"
		if p := out.Output.Output; p != nil && p.Success != nil && !*p.Success {
			status = "error"
		}
		if cfg.Tracer != nil {
			if status == "error" && out.Output.Output != nil {
				cfg.Tracer.RecordError(toolSpan, fmt.Errorf("%s", out.Output.Output.Content))
			}
			toolSpan.End()
		}
		if cfg.Metrics != nil {
			cfg.Metrics.RecordToolExecution(item.Name, status, time.Since(start).Seconds())
		}

		if out.HasEvent {
			sink.Emit(out.Event)
		}
		return out.Output, true
	default:
		return model.ResponseItem{}, false
	}
}

// commandOf extracts the argv a call is about to run, for the
// ExecCommandBegin telemetry line. A call whose arguments cannot be decoded
// yet (not all tool calls are shell calls) reports no command rather than
// failing the whole dispatch.
func commandOf(item model.ResponseItem) []string {
	var action shellAction
	switch item.Kind {
	case model.ItemLocalShellCall:
		if json.Unmarshal(item.Action, &action) == nil {
			return action.Command
		}
	case model.ItemFunctionCall:
		if json.Unmarshal([]byte(item.Arguments), &action) == nil {
			return action.Command
		}
	}
	return nil
}

func estimateInputTokens(items []model.ResponseItem) int {
	chars := 0
	for _, it := range items {
		chars += len(it.TextContent())
	}
	return chars / 4
}

func attemptCount(maxAttempts int) int {
	if maxAttempts <= 0 {
		return 1
	}
	return maxAttempts
}
