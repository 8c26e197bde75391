package embedding

import (
	"context"
	"errors"
	"fmt"

	"github.com/openai/openai-go/v3"
	"github.com/openai/openai-go/v3/option"

	"github.com/pario-ai/stagegate/pkg/config"
)

// OpenAIModel embeds text with the OpenAI embeddings API.
type OpenAIModel struct {
	client openai.Client
	model  string
}

// NewOpenAIModel creates a model from cfg. Requests are not retried.
func NewOpenAIModel(cfg config.OpenAIConfig) (*OpenAIModel, error) {
	if cfg.APIKey == "" {
		return nil, errors.New("openai embedding: api_key is required")
	}
	model := cfg.Model
	if model == "" {
		model = string(openai.EmbeddingModelTextEmbedding3Small)
	}
	opts := []option.RequestOption{
		option.WithAPIKey(cfg.APIKey),
		option.WithMaxRetries(0),
	}
	if cfg.BaseURL != "" {
		opts = append(opts, option.WithBaseURL(cfg.BaseURL))
	}
	return &OpenAIModel{
		client: openai.NewClient(opts...),
		model:  model,
	}, nil
}

// Name implements Model.
func (m *OpenAIModel) Name() string { return "openai/" + m.model }

// Embed implements Model.
func (m *OpenAIModel) Embed(ctx context.Context, text string) ([]float64, error) {
	resp, err := m.client.Embeddings.New(ctx, openai.EmbeddingNewParams{
		Input: openai.EmbeddingNewParamsInputUnion{OfString: openai.String(text)},
		Model: openai.EmbeddingModel(m.model),
	})
	if err != nil {
		return nil, fmt.Errorf("openai embedding: %w", err)
	}
	if len(resp.Data) == 0 || len(resp.Data[0].Embedding) == 0 {
		return nil, ErrEmptyEmbedding
	}
	return resp.Data[0].Embedding, nil
}

// Similarity implements Model.
func (m *OpenAIModel) Similarity(query, stored []float64) float64 {
	return Cosine(query, stored)
}
