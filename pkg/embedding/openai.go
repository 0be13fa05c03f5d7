package embedding

import (
	"context"
	"fmt"
	"net/http"

	openai "github.com/sashabaranov/go-openai"
)

// OpenAI calls the OpenAI embeddings API through the go-openai client.
type OpenAI struct {
	client     *openai.Client
	model      string
	dimensions int
}

var _ Provider = (*OpenAI)(nil)

// NewOpenAI creates a provider for the OpenAI API. A non-empty baseURL
// points the client at a proxy or Azure-style gateway.
func NewOpenAI(apiKey, baseURL, model string, dimensions int, httpClient *http.Client) *OpenAI {
	cfg := openai.DefaultConfig(apiKey)
	if baseURL != "" {
		cfg.BaseURL = baseURL
	}
	if httpClient != nil {
		cfg.HTTPClient = httpClient
	}
	return &OpenAI{client: openai.NewClientWithConfig(cfg), model: model, dimensions: dimensions}
}

// Model implements Provider.
func (o *OpenAI) Model() string {
	return o.model
}

// EmbedTexts implements Provider.
func (o *OpenAI) EmbedTexts(ctx context.Context, texts []string) ([][]float32, error) {
	resp, err := o.client.CreateEmbeddings(ctx, openai.EmbeddingRequestStrings{
		Input:      texts,
		Model:      openai.EmbeddingModel(o.model),
		Dimensions: o.dimensions,
	})
	if err != nil {
		return nil, fmt.Errorf("openai embeddings: %w", err)
	}

	vectors := make([][]float32, len(texts))
	for _, d := range resp.Data {
		if d.Index < 0 || d.Index >= len(texts) {
			return nil, fmt.Errorf("openai embeddings: index %d out of range [0, %d)", d.Index, len(texts))
		}
		vectors[d.Index] = d.Embedding
	}
	return vectors, nil
}
