package history

import (
	"context"
	"testing"

	"github.com/aibozo/code-sub000/internal/model"
)

func userMsg(text string) model.ResponseItem {
	return model.Message(model.RoleUser, model.InputText(text))
}

func asstMsg(text string) model.ResponseItem {
	return model.Message(model.RoleAssistant, model.OutputText(text))
}

func TestRecordItemsAndContents(t *testing.T) {
	h := New()
	h.RecordItems(userMsg("hi"), asstMsg("hello"))

	got := h.Contents()
	if len(got) != 2 {
		t.Fatalf("expected 2 items, got %d", len(got))
	}

	got[0] = userMsg("mutated")
	if h.Contents()[0].TextContent() == "mutated" {
		t.Fatalf("Contents() must return a clone, not the internal slice")
	}
}

func TestKeepLastMessages(t *testing.T) {
	h := New()
	h.RecordItems(userMsg("one"), asstMsg("a1"), userMsg("two"), asstMsg("a2"), userMsg("three"))

	h.KeepLastMessages(2)

	got := h.Contents()
	if len(got) != 2 {
		t.Fatalf("expected 2 items kept, got %d", len(got))
	}
	if got[0].TextContent() != "a2" || got[1].TextContent() != "three" {
		t.Fatalf("unexpected kept items: %+v", got)
	}
}

func TestKeepLastMessagesNoopWhenFewerThanN(t *testing.T) {
	h := New()
	h.RecordItems(userMsg("only"))
	h.KeepLastMessages(5)

	if h.Len() != 1 {
		t.Fatalf("expected no-op, got %d items", h.Len())
	}
}

func TestCleanupKeepsScreenshotAfterLastTwoRealUserMessages(t *testing.T) {
	statusText := userMsg("== System Status ==\nCurrent working directory: /tmp")
	screenshot := model.Message(model.RoleUser, model.InputImage("data:image/png;base64,xx", "auto"))

	items := []model.ResponseItem{
		userMsg("first real message"),
		statusText,
		userMsg("second real message"),
		screenshot,
		asstMsg("reply"),
	}

	h := New()
	h.RecordItems(items...)
	h.CleanupOnNewUserInput()

	got := h.Contents()
	for _, it := range got {
		if it.IsStatusMessage() && !it.HasImage() {
			t.Fatalf("expected plain status messages to be dropped, found one: %+v", it)
		}
	}
	foundScreenshot := false
	for _, it := range got {
		if it.HasImage() {
			foundScreenshot = true
		}
	}
	if !foundScreenshot {
		t.Fatalf("expected screenshot status message to survive cleanup")
	}
}

func TestEstimateTokensCeilingDivision(t *testing.T) {
	it := userMsg("abcdefg") // 7 chars -> ceil(7/4) = 2
	if got := EstimateTokens(it); got != 2 {
		t.Fatalf("expected 2 tokens, got %d", got)
	}
}

type fakeSummarizer struct {
	calls int
}

func (f *fakeSummarizer) Summarize(_ context.Context, items []model.ResponseItem) (Summary, error) {
	f.calls++
	return Summary{Title: "t", Text: "s"}, nil
}

type fakeSummaryStore struct {
	appended []string
}

func (s *fakeSummaryStore) Append(repoKey, sessionID, title, text string, msgIDs []string) error {
	s.appended = append(s.appended, title)
	return nil
}

type fakeSink struct {
	events []model.Event
}

func (s *fakeSink) Emit(e model.Event) { s.events = append(s.events, e) }

func TestRunEndOfTurnNoopUnderKeepLast(t *testing.T) {
	h := New()
	h.RecordItems(userMsg("one"), asstMsg("a1"))

	cfg := DefaultConfig()
	cfg.KeepLastMessages = 20

	sink := &fakeSink{}
	deps := PruneDeps{Sink: sink}
	if err := h.RunEndOfTurn(context.Background(), cfg, &fakeSummarizer{}, deps); err != nil {
		t.Fatalf("RunEndOfTurn: %v", err)
	}
	if h.Len() != 2 {
		t.Fatalf("expected no-op, got %d items", h.Len())
	}
	if len(sink.events) != 0 {
		t.Fatalf("expected no event emitted on no-op, got %d", len(sink.events))
	}
}

func TestRunEndOfTurnSummarizesAndPrunes(t *testing.T) {
	h := New()
	for i := 0; i < 10; i++ {
		h.RecordItems(userMsg("question"), asstMsg("answer"))
	}

	cfg := DefaultConfig()
	cfg.KeepLastMessages = 2

	store := &fakeSummaryStore{}
	sink := &fakeSink{}
	summarizer := &fakeSummarizer{}
	deps := PruneDeps{Summaries: store, Sink: sink, RepoKey: "repo"}

	if err := h.RunEndOfTurn(context.Background(), cfg, summarizer, deps); err != nil {
		t.Fatalf("RunEndOfTurn: %v", err)
	}
	if summarizer.calls != 1 {
		t.Fatalf("expected summarizer invoked once, got %d", summarizer.calls)
	}
	if len(store.appended) != 1 {
		t.Fatalf("expected one summary appended, got %d", len(store.appended))
	}
	if h.Len() >= 20 {
		t.Fatalf("expected history to shrink, still has %d items", h.Len())
	}
	if len(sink.events) != 1 {
		t.Fatalf("expected one TokenContextUpdate event, got %d", len(sink.events))
	}
}

func TestRunPreflightCompactsWhenOverWindow(t *testing.T) {
	h := New()
	big := make([]byte, 5000)
	for i := range big {
		big[i] = 'x'
	}
	for i := 0; i < 8; i++ {
		h.RecordItems(userMsg(string(big)), asstMsg(string(big)))
	}

	cfg := DefaultConfig()
	cfg.ModelContextWindow = 10000
	cfg.ReserveOutputTokens = 0
	cfg.KeepLastMessages = 2

	summarizer := NewCompactSummarizer(200)
	result, err := h.RunPreflight(context.Background(), cfg, "repo", summarizer)
	if err != nil {
		t.Fatalf("RunPreflight: %v", err)
	}
	if result.SummariesUsed == 0 {
		t.Fatalf("expected at least one summary to be used")
	}

	after := EstimateItemsTokens(h.Contents())
	if after >= 4000 {
		t.Fatalf("expected token estimate to shrink substantially, got %d", after)
	}
}

func TestCompactSummarizerTruncatesAtBudget(t *testing.T) {
	s := NewCompactSummarizer(20)
	items := []model.ResponseItem{
		userMsg("a fairly long user question that exceeds the budget easily"),
		asstMsg("a fairly long assistant answer that also exceeds the budget"),
	}
	summary, err := s.Summarize(context.Background(), items)
	if err != nil {
		t.Fatalf("Summarize: %v", err)
	}
	if len(summary.Text) > 20 {
		t.Fatalf("expected text truncated to budget 20, got %d chars: %q", len(summary.Text), summary.Text)
	}
}
