package retrieval

import (
	"testing"
	"time"

	"github.com/aibozo/code-sub000/internal/model"
	"github.com/aibozo/code-sub000/internal/store"
)

type fakeVectorStore struct {
	kindHits []store.KindHit
	recent   []model.StoredSummary
}

func (f *fakeVectorStore) QueryKind(repoKey, kind string, queryVec []float32, topK int) ([]store.KindHit, error) {
	return f.kindHits, nil
}

func (f *fakeVectorStore) Recent(repoKey string, limit int) ([]model.StoredSummary, error) {
	return f.recent, nil
}

type fakeEmbeddingClient struct{}

func (fakeEmbeddingClient) Embed(texts []string, dim int) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i := range out {
		out[i] = []float32{1, 0, 0}
	}
	return out, nil
}

func TestMemorySectionFallsBackToRecentWithoutEmbeddings(t *testing.T) {
	cfg := DefaultConfig("repo")
	cfg.EmbeddingsOn = false

	vs := &fakeVectorStore{recent: []model.StoredSummary{
		{Title: "t1", Text: "text one"},
		{Title: "t2", Text: "text two"},
	}}

	got := MemorySection(cfg, "query", 1000, vs, nil)
	if len(got) != 2 {
		t.Fatalf("expected 2 bullets from recent fallback, got %d", len(got))
	}
}

func TestMemorySectionBlendsRecencyWithSimilarity(t *testing.T) {
	cfg := DefaultConfig("repo")
	cfg.EmbeddingsOn = true
	cfg.APIKeySet = true

	now := time.Now()
	old := now.Add(-30 * 24 * time.Hour)

	vs := &fakeVectorStore{kindHits: []store.KindHit{
		{Record: model.EmbeddedRecord{Title: "older-but-similar", Text: "x", TSMs: old.UnixMilli()}, Score: 0.95},
		{Record: model.EmbeddedRecord{Title: "newer-less-similar", Text: "y", TSMs: now.UnixMilli()}, Score: 0.80},
	}}

	got := MemorySection(cfg, "query", 1000, vs, fakeEmbeddingClient{})
	if len(got) != 2 {
		t.Fatalf("expected 2 bullets, got %d", len(got))
	}
}

func TestRenderMemoryBulletsTruncatesLastBullet(t *testing.T) {
	summaries := []rankedSummary{
		{summary: model.StoredSummary{Title: "a-long-title-that-will-not-fit-the-remaining-budget", Text: "some long text body that overflows"}},
	}
	got := renderMemoryBullets(summaries, 20)
	if len(got) != 1 {
		t.Fatalf("expected 1 truncated bullet, got %d", len(got))
	}
	if got[0].Rendered[len(got[0].Rendered)-4:] != " ..." {
		t.Fatalf("expected truncation suffix, got %q", got[0].Rendered)
	}
}

func TestRenderMemoryBulletsStopsWhenTooTightToTruncate(t *testing.T) {
	summaries := []rankedSummary{
		{summary: model.StoredSummary{Title: "x", Text: "a very long piece of text indeed"}},
	}
	got := renderMemoryBullets(summaries, 2)
	if len(got) != 0 {
		t.Fatalf("expected no bullets when budget too tight to truncate, got %d", len(got))
	}
}
