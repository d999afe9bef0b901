package retrieval

import (
	"fmt"
	"strings"

	"github.com/aibozo/code-sub000/internal/model"
)

// Compose builds the single hybrid code+memory user message for this
// turn, or returns (ResponseItem{}, false) when no query or zero budget
// means no injection should occur.
func Compose(cfg Config, cwd string, turnItems []model.ResponseItem, contextWindow, reserveOutput, inputTokens int, vectors VectorStore, client EmbeddingClient) (model.ResponseItem, bool) {
	query := ExtractQuery(turnItems)
	if query == "" {
		return model.ResponseItem{}, false
	}

	total := charBudget(contextWindow, reserveOutput, inputTokens)
	if total <= 0 {
		return model.ResponseItem{}, false
	}

	codeBudget, memoryBudget := split(total)

	codeBullets := CodeSection(cfg, cwd, query, codeBudget, vectors, client)
	memoryBullets := MemorySection(cfg, query, memoryBudget, vectors, client)
	memoryBullets = DedupeMemoryBullets(codeBullets, memoryBullets, cfg.Dedupe)

	if len(codeBullets) == 0 && len(memoryBullets) == 0 {
		return model.ResponseItem{}, false
	}

	var b strings.Builder
	if len(codeBullets) > 0 {
		b.WriteString(fmt.Sprintf(model.MemoryHeaderCode, cfg.RepoKey))
		b.WriteString("\n")
		for _, bullet := range codeBullets {
			b.WriteString(bullet.Rendered)
			b.WriteString("\n")
		}
	}
	if len(memoryBullets) > 0 {
		header := model.MemoryHeaderRetrieval
		b.WriteString(fmt.Sprintf(header, cfg.RepoKey))
		b.WriteString("\n")
		for _, bullet := range memoryBullets {
			b.WriteString(bullet.Rendered)
			b.WriteString("\n")
		}
	}

	return model.Message(model.RoleUser, model.InputText(strings.TrimSuffix(b.String(), "\n"))), true
}
