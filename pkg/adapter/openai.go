package adapter

import (
	"context"

	"github.com/m-mizutani/goerr/v2"
	"github.com/sashabaranov/go-openai"
)

// OpenAIEmbedder generates embeddings through the OpenAI API or any
// API-compatible endpoint.
type OpenAIEmbedder struct {
	client     *openai.Client
	model      string
	dimensions int
}

type OpenAIOption func(*OpenAIEmbedder)

func WithOpenAIModel(model string) OpenAIOption {
	return func(o *OpenAIEmbedder) {
		o.model = model
	}
}

func WithOpenAIDimensions(dims int) OpenAIOption {
	return func(o *OpenAIEmbedder) {
		o.dimensions = dims
	}
}

// NewOpenAIEmbedder creates an embedding adapter backed by go-openai.
func NewOpenAIEmbedder(apiKey, baseURL string, opts ...OpenAIOption) *OpenAIEmbedder {
	cfg := openai.DefaultConfig(apiKey)
	if baseURL != "" {
		cfg.BaseURL = baseURL
	}

	o := &OpenAIEmbedder{
		client:     openai.NewClientWithConfig(cfg),
		model:      string(openai.SmallEmbedding3),
		dimensions: 768,
	}

	for _, opt := range opts {
		opt(o)
	}

	return o
}

func (o *OpenAIEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	resp, err := o.client.CreateEmbeddings(ctx, openai.EmbeddingRequest{
		Input:      []string{text},
		Model:      openai.EmbeddingModel(o.model),
		Dimensions: o.dimensions,
	})
	if err != nil {
		return nil, goerr.Wrap(err, "failed to create embeddings")
	}

	if len(resp.Data) == 0 {
		return nil, goerr.New("empty embedding response", goerr.V("model", o.model))
	}

	return resp.Data[0].Embedding, nil
}

func (o *OpenAIEmbedder) Dimensions() int {
	return o.dimensions
}
