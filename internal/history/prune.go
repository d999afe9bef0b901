package history

import (
	"context"

	"github.com/google/uuid"

	"github.com/aibozo/code-sub000/internal/model"
)

// SummaryStore is the narrow summary-append seam summarize-then-prune needs
// (satisfied by *internal/store.Store).
type SummaryStore interface {
	Append(repoKey, sessionID, title, text string, msgIDs []string) error
}

// VectorStore is the narrow embed-add seam summarize-then-prune needs
// (satisfied by *internal/store.Store).
type VectorStore interface {
	Add(rec model.EmbeddedRecord) error
}

// EmbeddingClient embeds texts for the summary vector, reusing
// internal/store's client interface shape.
type EmbeddingClient interface {
	Embed(texts []string, dim int) ([][]float32, error)
}

// EventSink receives the TokenContextUpdate emitted at the end of
// summarize-then-prune.
type EventSink interface {
	Emit(model.Event)
}

// PruneDeps bundles summarize-then-prune's external collaborators. Any of
// Summaries/Vectors/Embeddings/Sink may be nil to disable that side effect
// (e.g. a session with memory disabled or no embeddings API key).
type PruneDeps struct {
	Summaries  SummaryStore
	Vectors    VectorStore
	Embeddings EmbeddingClient
	Sink       EventSink

	RepoKey      string
	SessionID    string
	EmbeddingDim int
	LastCachedIn int
}

// RunEndOfTurn runs the summarize-then-prune pass, invoked at the end of
// every turn when memory is enabled.
func (h *History) RunEndOfTurn(ctx context.Context, cfg Config, summarizer Summarizer, deps PruneDeps) error {
	if !cfg.Enabled {
		return nil
	}

	h.mu.Lock()
	items := make([]model.ResponseItem, len(h.items))
	copy(items, h.items)
	h.mu.Unlock()

	keepLast := cfg.KeepLastMessages
	if keepLast < 1 {
		keepLast = 1
	}

	volleys := model.SegmentIntoVolleys(items)
	totalMessages := countMessages(items)
	if totalMessages <= keepLast {
		return nil
	}

	keepStart := 0
	messageCount := 0
	firstKeptVolley := len(volleys)
	for i := len(volleys) - 1; i >= 0; i-- {
		messageCount += countMessages(items[volleys[i].Start:volleys[i].End])
		firstKeptVolley = i
		if messageCount >= keepLast {
			break
		}
	}
	if firstKeptVolley < len(volleys) {
		keepStart = volleys[firstKeptVolley].Start
	}
	if keepStart == 0 {
		return nil
	}

	var prunedPrefix []model.ResponseItem
	for _, it := range items[:keepStart] {
		if it.IsMemoryItem() {
			continue
		}
		prunedPrefix = append(prunedPrefix, it)
	}

	if len(prunedPrefix) > 0 && summarizer != nil {
		summary, err := summarizer.Summarize(ctx, prunedPrefix)
		if err == nil {
			if deps.Summaries != nil {
				_ = deps.Summaries.Append(deps.RepoKey, deps.SessionID, summary.Title, summary.Text, nil)
			}
			if deps.Vectors != nil && deps.Embeddings != nil && cfg.EmbeddingsEnabled && cfg.APIKeySet {
				vecs, embErr := deps.Embeddings.Embed([]string{summary.Title + "\n" + summary.Text}, deps.EmbeddingDim)
				if embErr == nil && len(vecs) == 1 {
					_ = deps.Vectors.Add(model.EmbeddedRecord{
						RepoKey: deps.RepoKey,
						ID:      uuid.NewString(),
						Kind:    "summary",
						Title:   summary.Title,
						Text:    summary.Text,
						Dim:     deps.EmbeddingDim,
						Vec:     vecs[0],
					})
				}
			}
		}
	}

	remaining := items[keepStart:]
	h.mu.Lock()
	h.items = remaining
	h.mu.Unlock()

	if deps.Sink != nil {
		estimatedRemaining := EstimateItemsTokens(remaining)
		deps.Sink.Emit(model.Event{
			ID: uuid.NewString(),
			Msg: model.TokenContextUpdate(model.TokenUsage{
				InputTokens: estimatedRemaining + deps.LastCachedIn,
			}),
		})
	}

	return nil
}

func countMessages(items []model.ResponseItem) int {
	n := 0
	for _, it := range items {
		if it.Kind == model.ItemMessage {
			n++
		}
	}
	return n
}
