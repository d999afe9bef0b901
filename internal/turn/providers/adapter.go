// Package providers adapts the LLM backends under internal/agent/providers
// (Anthropic, OpenAI, Bedrock) to turn.Provider, so RunTurn can drive any of
// them through one typed StreamEvent union instead of each package
// reimplementing its own streaming loop.
package providers

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/aibozo/code-sub000/internal/agent"
	"github.com/aibozo/code-sub000/internal/model"
	"github.com/aibozo/code-sub000/internal/turn"
	"github.com/aibozo/code-sub000/pkg/models"
)

// Adapter wraps one agent.LLMProvider backend behind turn.Provider,
// translating CompletionRequest/CompletionChunk (the backend's native wire
// protocol) into turn.Request/turn.StreamEvent on the way in and out.
type Adapter struct {
	backend agent.LLMProvider
}

// New wraps backend (an *providers.AnthropicProvider, *providers.OpenAIProvider,
// or *providers.BedrockProvider) as a turn.Provider.
func New(backend agent.LLMProvider) *Adapter {
	return &Adapter{backend: backend}
}

func (a *Adapter) Name() string { return a.backend.Name() }

// ContextWindow reports the context size of modelName from the backend's
// advertised model list, or 0 if the backend does not know it.
func (a *Adapter) ContextWindow(modelName string) int {
	for _, m := range a.backend.Models() {
		if m.ID == modelName {
			return m.ContextSize
		}
	}
	return 0
}

func (a *Adapter) Stream(ctx context.Context, req turn.Request) (<-chan turn.StreamEvent, error) {
	creq := &agent.CompletionRequest{
		Model:     req.Model,
		System:    req.System,
		Messages:  convertItems(req.Items),
		Tools:     convertTools(req.Tools),
		MaxTokens: req.MaxTokens,
	}

	chunks, err := a.backend.Complete(ctx, creq)
	if err != nil {
		return nil, err
	}

	out := make(chan turn.StreamEvent, 1)
	go translate(chunks, out)
	return out, nil
}

// translate drains a CompletionChunk stream into the StreamEvent union:
// every Text chunk becomes an OutputTextDelta, every ToolCall becomes its
// own OutputItemDone (the backend already delivers one per completed call,
// never partial), and the accumulated text is replayed as a final message
// item once the stream is Done, matching what handleOutputItem expects to
// find for a plain assistant reply.
func translate(chunks <-chan *agent.CompletionChunk, out chan<- turn.StreamEvent) {
	defer close(out)
	out <- turn.StreamEvent{Kind: turn.StreamCreated}

	var text strings.Builder
	var usage model.TokenUsage
	for chunk := range chunks {
		switch {
		case chunk.Error != nil:
			out <- turn.StreamEvent{Kind: turn.StreamFailed, Err: chunk.Error}
			return
		case chunk.ToolCall != nil:
			out <- turn.StreamEvent{
				Kind: turn.StreamOutputItemDone,
				Item: model.FunctionCall(chunk.ToolCall.Name, string(chunk.ToolCall.Input), chunk.ToolCall.ID),
			}
		case chunk.Thinking != "":
			out <- turn.StreamEvent{Kind: turn.StreamReasoningSummaryDelta, Delta: chunk.Thinking}
		case chunk.Text != "":
			text.WriteString(chunk.Text)
			out <- turn.StreamEvent{Kind: turn.StreamOutputTextDelta, Delta: chunk.Text}
		}
		if chunk.Done {
			usage = model.TokenUsage{InputTokens: chunk.InputTokens, OutputTokens: chunk.OutputTokens}
		}
	}

	if text.Len() > 0 {
		out <- turn.StreamEvent{
			Kind: turn.StreamOutputItemDone,
			Item: model.Message(model.RoleAssistant, model.OutputText(text.String())),
		}
	}
	out <- turn.StreamEvent{Kind: turn.StreamCompleted, Usage: usage}
}

// convertItems flattens a turn's ResponseItem prompt into the
// role/content + tool-call/tool-result shape CompletionMessage expects.
// Reasoning items are dropped: the teacher's protocol has nowhere to carry
// a standalone reasoning trace back into the next request.
func convertItems(items []model.ResponseItem) []agent.CompletionMessage {
	messages := make([]agent.CompletionMessage, 0, len(items))
	for _, item := range items {
		switch item.Kind {
		case model.ItemMessage:
			role := string(item.Role)
			messages = append(messages, agent.CompletionMessage{Role: role, Content: item.TextContent()})
		case model.ItemFunctionCall:
			messages = append(messages, agent.CompletionMessage{
				Role:      "assistant",
				ToolCalls: []models.ToolCall{{ID: item.CallID, Name: item.Name, Input: json.RawMessage(item.Arguments)}},
			})
		case model.ItemLocalShellCall:
			messages = append(messages, agent.CompletionMessage{
				Role:      "assistant",
				ToolCalls: []models.ToolCall{{ID: item.CallID, Name: "shell", Input: item.Action}},
			})
		case model.ItemFunctionCallOutput:
			result := models.ToolResult{ToolCallID: item.CallID}
			if item.Output != nil {
				result.Content = item.Output.Content
				result.IsError = item.Output.Success != nil && !*item.Output.Success
			}
			messages = append(messages, agent.CompletionMessage{Role: "tool", ToolResults: []models.ToolResult{result}})
		case model.ItemReasoning, model.ItemOther:
			// no CompletionMessage shape to carry these; dropped.
		}
	}
	return messages
}

// convertTools wraps each ToolSpec as an agent.Tool exposing only its
// schema; Execute is never called because turn.Dispatch handles every
// tool call directly, not the provider.
func convertTools(specs []turn.ToolSpec) []agent.Tool {
	tools := make([]agent.Tool, 0, len(specs))
	for _, spec := range specs {
		tools = append(tools, schemaTool{spec: spec})
	}
	return tools
}

// schemaTool presents a turn.ToolSpec as an agent.Tool for the backend's
// tool-calling request payload. Execute is never invoked: turn.Dispatch
// routes every tool call directly, not the provider.
type schemaTool struct {
	spec turn.ToolSpec
}

func (t schemaTool) Name() string            { return t.spec.Name }
func (t schemaTool) Description() string     { return t.spec.Description }
func (t schemaTool) Schema() json.RawMessage { return t.spec.Parameters }
func (t schemaTool) Execute(ctx context.Context, params json.RawMessage) (*agent.ToolResult, error) {
	return nil, fmt.Errorf("schemaTool %q: execution is routed through turn.Dispatch, not the provider", t.spec.Name)
}
