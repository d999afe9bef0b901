package retrieval

import (
	"context"
	"fmt"

	openai "github.com/sashabaranov/go-openai"
)

// OpenAIEmbeddingClient implements EmbeddingClient (and
// internal/store.EmbeddingClient, the identical shape) against an
// OpenAI-compatible embeddings endpoint, grounded on
// internal/memory/embeddings/openai/openai.go's Provider.
type OpenAIEmbeddingClient struct {
	client *openai.Client
	model  string
}

// NewOpenAIEmbeddingClient returns a client for model (e.g.
// "text-embedding-3-small"), optionally against a custom base URL for
// OpenAI-compatible providers.
func NewOpenAIEmbeddingClient(apiKey, baseURL, model string) (*OpenAIEmbeddingClient, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("retrieval: embeddings api key is required")
	}
	if model == "" {
		model = "text-embedding-3-small"
	}
	cfg := openai.DefaultConfig(apiKey)
	if baseURL != "" {
		cfg.BaseURL = baseURL
	}
	return &OpenAIEmbeddingClient{client: openai.NewClientWithConfig(cfg), model: model}, nil
}

// Embed implements EmbeddingClient/store.EmbeddingClient. dim is accepted
// for interface-shape compatibility but the vector dimension is fixed by
// the configured model.
func (c *OpenAIEmbeddingClient) Embed(texts []string, _ int) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}
	resp, err := c.client.CreateEmbeddings(context.Background(), openai.EmbeddingRequest{
		Input: texts,
		Model: openai.EmbeddingModel(c.model),
	})
	if err != nil {
		return nil, fmt.Errorf("retrieval: create embeddings: %w", err)
	}
	out := make([][]float32, len(texts))
	for _, d := range resp.Data {
		if d.Index >= 0 && d.Index < len(out) {
			out[d.Index] = d.Embedding
		}
	}
	return out, nil
}
