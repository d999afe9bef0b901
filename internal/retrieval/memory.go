package retrieval

import (
	"math"
	"sort"
	"time"

	"github.com/aibozo/code-sub000/internal/model"
)

// MemorySection composes the memory bullets: semantic k-NN blended with a
// recency prior when embeddings are available, else the most-recent
// summaries, rendered within budget with the last-bullet truncation rule.
func MemorySection(cfg Config, query string, budget int, vectors VectorStore, client EmbeddingClient) []Bullet {
	if budget <= 0 {
		return nil
	}
	if cfg.MaxChars > 0 && budget > cfg.MaxChars {
		budget = cfg.MaxChars
	}

	var summaries []rankedSummary

	if cfg.EmbeddingsOn && cfg.APIKeySet && client != nil && vectors != nil && query != "" {
		summaries = semanticMemoryHits(cfg, query, vectors, client)
	} else if vectors != nil {
		recent, err := vectors.Recent(cfg.RepoKey, cfg.TopKSemantic)
		if err == nil {
			for _, s := range recent {
				summaries = append(summaries, rankedSummary{summary: s})
			}
		}
	}

	return renderMemoryBullets(summaries, budget)
}

type rankedSummary struct {
	summary model.StoredSummary
	score   float64
}

func semanticMemoryHits(cfg Config, query string, vectors VectorStore, client EmbeddingClient) []rankedSummary {
	vecs, err := client.Embed([]string{query}, cfg.Dim)
	if err != nil || len(vecs) != 1 {
		return nil
	}
	hits, err := vectors.QueryKind(cfg.RepoKey, "summary", vecs[0], cfg.TopKSemantic)
	if err != nil {
		return nil
	}

	alpha := cfg.RecencyAlpha
	halfLife := cfg.RecencyHalfLife
	if halfLife <= 0 {
		halfLife = 7
	}

	now := time.Now()
	out := make([]rankedSummary, 0, len(hits))
	for _, h := range hits {
		ageDays := now.Sub(time.UnixMilli(h.Record.TSMs)).Hours() / 24
		if ageDays < 0 {
			ageDays = 0
		}
		recencyPrior := math.Exp(-math.Ln2 * ageDays / halfLife)
		blended := (1-alpha)*h.Score + alpha*recencyPrior
		out = append(out, rankedSummary{
			summary: model.StoredSummary{
				RepoKey: h.Record.RepoKey,
				TSMs:    h.Record.TSMs,
				Kind:    "summary",
				Title:   h.Record.Title,
				Text:    h.Record.Text,
			},
			score: blended,
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].score > out[j].score })
	return out
}

// renderMemoryBullets renders "- <title>: <text>" lines within budget,
// truncating the last line with " ..." when it doesn't fit whole and
// remaining budget > 4, else stopping.
func renderMemoryBullets(summaries []rankedSummary, budget int) []Bullet {
	var out []Bullet
	remaining := budget
	for _, rs := range summaries {
		line := "- " + rs.summary.Title + ": " + rs.summary.Text
		need := len(line) + 1
		if need <= remaining {
			out = append(out, Bullet{Title: rs.summary.Title, Text: rs.summary.Text, Rendered: line})
			remaining -= need
			continue
		}
		if remaining > 4 {
			trimmed := line
			if len(trimmed) > remaining-4 {
				trimmed = trimmed[:remaining-4]
			}
			out = append(out, Bullet{Title: rs.summary.Title, Text: rs.summary.Text, Rendered: trimmed + " ..."})
		}
		break
	}
	return out
}
