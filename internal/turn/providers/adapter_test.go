package providers

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/aibozo/code-sub000/internal/agent"
	"github.com/aibozo/code-sub000/internal/model"
	"github.com/aibozo/code-sub000/internal/turn"
	"github.com/aibozo/code-sub000/pkg/models"
)

type fakeBackend struct {
	name   string
	models []agent.Model
	chunks []*agent.CompletionChunk
	err    error
	gotReq *agent.CompletionRequest
}

func (f *fakeBackend) Complete(ctx context.Context, req *agent.CompletionRequest) (<-chan *agent.CompletionChunk, error) {
	f.gotReq = req
	if f.err != nil {
		return nil, f.err
	}
	ch := make(chan *agent.CompletionChunk, len(f.chunks))
	for _, c := range f.chunks {
		ch <- c
	}
	close(ch)
	return ch, nil
}

func (f *fakeBackend) Name() string          { return f.name }
func (f *fakeBackend) Models() []agent.Model { return f.models }
func (f *fakeBackend) SupportsTools() bool   { return true }

func drainStream(t *testing.T, ch <-chan turn.StreamEvent) []turn.StreamEvent {
	t.Helper()
	var events []turn.StreamEvent
	for ev := range ch {
		events = append(events, ev)
	}
	return events
}

func TestAdapterStreamTranslatesTextAndCompletion(t *testing.T) {
	backend := &fakeBackend{
		name: "fake",
		chunks: []*agent.CompletionChunk{
			{Text: "hel"},
			{Text: "lo"},
			{Done: true, InputTokens: 10, OutputTokens: 2},
		},
	}
	a := New(backend)

	events, err := a.Stream(context.Background(), turn.Request{Model: "m"})
	if err != nil {
		t.Fatalf("Stream: %v", err)
	}
	got := drainStream(t, events)

	if got[0].Kind != turn.StreamCreated {
		t.Fatalf("expected first event StreamCreated, got %+v", got[0])
	}
	if got[1].Kind != turn.StreamOutputTextDelta || got[1].Delta != "hel" {
		t.Fatalf("expected delta 'hel', got %+v", got[1])
	}
	last := got[len(got)-1]
	if last.Kind != turn.StreamCompleted || last.Usage.InputTokens != 10 || last.Usage.OutputTokens != 2 {
		t.Fatalf("expected a completed event carrying usage, got %+v", last)
	}
	final := got[len(got)-2]
	if final.Kind != turn.StreamOutputItemDone || final.Item.TextContent() != "hello" {
		t.Fatalf("expected the accumulated text replayed as a message item, got %+v", final)
	}
}

func TestAdapterStreamTranslatesToolCall(t *testing.T) {
	backend := &fakeBackend{chunks: []*agent.CompletionChunk{
		{ToolCall: &models.ToolCall{ID: "call-1", Name: "shell", Input: json.RawMessage(`{"command":["echo","hi"]}`)}},
		{Done: true},
	}}
	a := New(backend)

	events, err := a.Stream(context.Background(), turn.Request{Model: "m"})
	if err != nil {
		t.Fatalf("Stream: %v", err)
	}
	got := drainStream(t, events)

	var found bool
	for _, ev := range got {
		if ev.Kind == turn.StreamOutputItemDone && ev.Item.Kind == model.ItemFunctionCall {
			found = true
			if ev.Item.CallID != "call-1" || ev.Item.Name != "shell" {
				t.Fatalf("expected call-1/shell, got %+v", ev.Item)
			}
		}
	}
	if !found {
		t.Fatal("expected a FunctionCall OutputItemDone event")
	}
}

func TestAdapterStreamTranslatesError(t *testing.T) {
	backend := &fakeBackend{chunks: []*agent.CompletionChunk{
		{Error: errors.New("boom")},
	}}
	a := New(backend)

	events, err := a.Stream(context.Background(), turn.Request{Model: "m"})
	if err != nil {
		t.Fatalf("Stream: %v", err)
	}
	got := drainStream(t, events)
	last := got[len(got)-1]
	if last.Kind != turn.StreamFailed || last.Err == nil {
		t.Fatalf("expected a failed event carrying the error, got %+v", last)
	}
}

func TestAdapterStreamPropagatesCompleteError(t *testing.T) {
	backend := &fakeBackend{err: errors.New("unauthorized")}
	a := New(backend)

	if _, err := a.Stream(context.Background(), turn.Request{Model: "m"}); err == nil {
		t.Fatal("expected Complete's error to propagate")
	}
}

func TestAdapterContextWindowLooksUpModel(t *testing.T) {
	backend := &fakeBackend{models: []agent.Model{{ID: "big-model", ContextSize: 128000}}}
	a := New(backend)

	if got := a.ContextWindow("big-model"); got != 128000 {
		t.Fatalf("ContextWindow = %d, want 128000", got)
	}
	if got := a.ContextWindow("unknown"); got != 0 {
		t.Fatalf("ContextWindow for unknown model = %d, want 0", got)
	}
}

func TestConvertItemsMapsEveryKind(t *testing.T) {
	items := []model.ResponseItem{
		model.Message(model.RoleUser, model.InputText("hi")),
		model.FunctionCall("shell", `{"command":["ls"]}`, "call-1"),
		model.FunctionCallOutput("call-1", "out", model.BoolPtr(true)),
		model.LocalShellCall("call-2", json.RawMessage(`{"command":["pwd"]}`)),
	}
	got := convertItems(items)
	if len(got) != 4 {
		t.Fatalf("expected 4 messages, got %d", len(got))
	}
	if got[0].Role != "user" || got[0].Content != "hi" {
		t.Fatalf("expected user message, got %+v", got[0])
	}
	if got[1].Role != "assistant" || len(got[1].ToolCalls) != 1 || got[1].ToolCalls[0].Name != "shell" {
		t.Fatalf("expected assistant tool call, got %+v", got[1])
	}
	if got[2].Role != "tool" || len(got[2].ToolResults) != 1 || got[2].ToolResults[0].Content != "out" {
		t.Fatalf("expected tool result, got %+v", got[2])
	}
	if got[3].Role != "assistant" || got[3].ToolCalls[0].Name != "shell" {
		t.Fatalf("expected LocalShellCall mapped to a shell tool call, got %+v", got[3])
	}
}
