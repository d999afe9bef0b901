// Package turn runs one model turn: it assembles the prompt from history,
// retrieval injection, and pending items, streams the provider's response
// through a typed event union, dispatches requested tool calls, and folds
// the results back into conversation history for the next iteration.
package turn

import (
	"context"

	"github.com/aibozo/code-sub000/internal/model"
)

// StreamKind discriminates the StreamEvent union emitted while a single
// provider request is in flight.
type StreamKind string

const (
	StreamCreated                   StreamKind = "created"
	StreamOutputTextDelta           StreamKind = "output_text_delta"
	StreamReasoningSummaryDelta     StreamKind = "reasoning_summary_delta"
	StreamReasoningContentDelta     StreamKind = "reasoning_content_delta"
	StreamReasoningSummaryPartAdded StreamKind = "reasoning_summary_part_added"
	StreamOutputItemDone            StreamKind = "output_item_done"
	StreamCompleted                 StreamKind = "completed"
	StreamFailed                    StreamKind = "failed"
)

// DispatchResult is the outcome of routing one tool call to its handler.
// Event is only meaningful when HasEvent is true — not every dispatch
// produces a telemetry event (a plain MCP call, for instance, does not).
type DispatchResult struct {
	Output   model.ResponseItem
	Event    model.EventMsg
	HasEvent bool
}

// StreamEvent is one event of a provider's response stream. Only the fields
// relevant to Kind are populated.
type StreamEvent struct {
	Kind StreamKind

	// OutputTextDelta / ReasoningSummaryDelta / ReasoningContentDelta
	Delta  string
	ItemID string

	// OutputItemDone
	Item model.ResponseItem

	// Completed
	Usage model.TokenUsage

	// Failed
	Err error
}

// Request is one provider completion request: a flattened prompt plus the
// model/sampling knobs a Provider needs. Assembled by BuildPrompt.
type Request struct {
	Model     string
	System    string
	Items     []model.ResponseItem
	Tools     []ToolSpec
	MaxTokens int
}

// ToolSpec is the tool-calling surface offered to the provider for one
// request: name, description, and JSON Schema parameters.
type ToolSpec struct {
	Name        string
	Description string
	Parameters  []byte // JSON Schema
}

// Provider streams one completion for req. Implementations adapt a
// specific backend's wire format into the StreamEvent union; the channel
// is closed after a StreamCompleted or StreamFailed event.
type Provider interface {
	Stream(ctx context.Context, req Request) (<-chan StreamEvent, error)
	Name() string
	ContextWindow(modelName string) int
}
