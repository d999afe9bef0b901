package retrieval

import (
	"github.com/aibozo/code-sub000/internal/model"
	"github.com/aibozo/code-sub000/internal/store"
)

// Bullet is one rendered line of the code or memory section, kept
// structured (rather than a bare string) so dedupe can compare title/text
// independently of final rendering.
type Bullet struct {
	Title string
	Text  string
	// Rendered is the final bullet line as it will appear in the injected
	// message, already including its leading "- " and any path/anchor.
	Rendered string
}

// VectorStore is the narrow k-NN/recent seam retrieval needs (satisfied by
// *internal/store.Store).
type VectorStore interface {
	QueryKind(repoKey, kind string, queryVec []float32, topK int) ([]store.KindHit, error)
	Recent(repoKey string, limit int) ([]model.StoredSummary, error)
}

// EmbeddingClient embeds the query text for semantic code/memory search.
type EmbeddingClient interface {
	Embed(texts []string, dim int) ([][]float32, error)
}

// Config bundles the tunables of the Retrieval Injector.
type Config struct {
	RepoKey         string
	Dim             int
	TopKFiles       int
	TopKSemantic    int
	ChunkBytes      int
	MaxChars        int // inject.max_chars hard cap on the memory section
	EmbeddingsOn    bool
	APIKeySet       bool
	RecencyAlpha    float64
	RecencyHalfLife float64
	Dedupe          DedupeConfig
}

// DefaultConfig returns the documented default tunables.
func DefaultConfig(repoKey string) Config {
	return Config{
		RepoKey:         repoKey,
		Dim:             1536,
		TopKFiles:       8,
		TopKSemantic:    8,
		ChunkBytes:      800,
		MaxChars:        4000,
		RecencyAlpha:    0.15,
		RecencyHalfLife: 7,
		Dedupe:          DefaultDedupeConfig(),
	}
}
