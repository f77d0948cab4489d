package ai

import (
	"context"
	"fmt"
)

// OllamaEmbeddings implements EmbeddingModel using the Ollama embeddings API.
// Ollama embeds one prompt per request.
type OllamaEmbeddings struct {
	*embeddingBase
	client HTTPDoer
}

func newOllamaEmbeddings(cfg ModelConfig, client HTTPDoer) (*OllamaEmbeddings, error) {
	base, err := newEmbeddingBase(cfg, true)
	if err != nil {
		return nil, err
	}
	return &OllamaEmbeddings{embeddingBase: base, client: client}, nil
}

type ollamaRequest struct {
	Model  string `json:"model"`
	Prompt string `json:"prompt"`
}

type ollamaResponse struct {
	Embedding []float32 `json:"embedding"`
}

// Embed sends each text to {url}/api/embeddings in order.
func (m *OllamaEmbeddings) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, ErrEmptyInput
	}

	vectors := make([][]float32, 0, len(texts))
	for _, text := range texts {
		var resp ollamaResponse
		req := ollamaRequest{Model: m.model, Prompt: text}
		if err := postJSON(ctx, m.client, m.url+"/api/embeddings", m.apiKey, req, &resp); err != nil {
			return nil, fmt.Errorf("ollama embed %s: %w", m.model, err)
		}
		vectors = append(vectors, resp.Embedding)
	}
	if err := m.checkDimensions(vectors); err != nil {
		return nil, err
	}
	return vectors, nil
}
