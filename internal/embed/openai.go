package embed

import (
	"context"
	"fmt"

	openai "github.com/sashabaranov/go-openai"
)

// DefaultModel is the embedding model used unless configured otherwise.
const DefaultModel = "text-embedding-3-small"

// OpenAI embeds text through the OpenAI embeddings API (or any
// API-compatible endpoint via baseURL).
type OpenAI struct {
	client *openai.Client
	model  string
	dim    int
}

// NewOpenAI creates an OpenAI embedder. baseURL is optional and redirects
// to a compatible endpoint. dim must match the model's output dimension.
func NewOpenAI(apiKey, baseURL, model string, dim int) (*OpenAI, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("openai embedder: api key is required")
	}
	if model == "" {
		model = DefaultModel
	}
	if dim <= 0 {
		return nil, fmt.Errorf("openai embedder: dimension must be positive, got %d", dim)
	}

	cfg := openai.DefaultConfig(apiKey)
	if baseURL != "" {
		cfg.BaseURL = baseURL
	}

	return &OpenAI{
		client: openai.NewClientWithConfig(cfg),
		model:  model,
		dim:    dim,
	}, nil
}

// Embed requests one vector per text and normalizes each to unit length.
func (e *OpenAI) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	resp, err := e.client.CreateEmbeddings(ctx, openai.EmbeddingRequest{
		Model:      openai.EmbeddingModel(e.model),
		Input:      texts,
		Dimensions: e.dim,
	})
	if err != nil {
		return nil, fmt.Errorf("creating embeddings: %w", err)
	}
	if len(resp.Data) != len(texts) {
		return nil, fmt.Errorf("embedding response has %d vectors for %d texts", len(resp.Data), len(texts))
	}

	vectors := make([][]float32, len(texts))
	for _, item := range resp.Data {
		if item.Index < 0 || item.Index >= len(vectors) {
			return nil, fmt.Errorf("embedding response index %d out of range", item.Index)
		}
		v := make([]float32, len(item.Embedding))
		copy(v, item.Embedding)
		Normalize(v)
		vectors[item.Index] = v
	}

	return vectors, nil
}

// Dimension returns the configured vector dimension.
func (e *OpenAI) Dimension() int { return e.dim }

// Model returns the embedding model identifier.
func (e *OpenAI) Model() string { return e.model }
