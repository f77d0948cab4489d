package ai

import (
	"context"
	"fmt"
)

// TextEmbeddingsInference talks to a Hugging Face text-embeddings-inference server.
type TextEmbeddingsInference struct {
	*embeddingBase
	client HTTPDoer
}

func newTextEmbeddingsInference(cfg ModelConfig, client HTTPDoer) (*TextEmbeddingsInference, error) {
	base, err := newEmbeddingBase(cfg, true)
	if err != nil {
		return nil, err
	}
	return &TextEmbeddingsInference{embeddingBase: base, client: client}, nil
}

type teiRequest struct {
	Inputs   []string `json:"inputs"`
	Truncate bool     `json:"truncate"`
}

// Embed posts texts to {url}/embed and returns one vector per text.
func (m *TextEmbeddingsInference) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, ErrEmptyInput
	}

	var vectors [][]float32
	req := teiRequest{Inputs: texts, Truncate: true}
	if err := postJSON(ctx, m.client, m.url+"/embed", m.apiKey, req, &vectors); err != nil {
		return nil, fmt.Errorf("tei embed %s: %w", m.model, err)
	}
	if len(vectors) != len(texts) {
		return nil, fmt.Errorf("tei embed %s: got %d vectors for %d inputs", m.model, len(vectors), len(texts))
	}
	if err := m.checkDimensions(vectors); err != nil {
		return nil, err
	}
	return vectors, nil
}
