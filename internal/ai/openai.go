package ai

import (
	"context"
	"fmt"
)

const defaultOpenAIURL = "https://api.openai.com/v1"

// OpenAIEmbeddings implements EmbeddingModel against an OpenAI-compatible /embeddings API.
type OpenAIEmbeddings struct {
	*embeddingBase
	client HTTPDoer
}

func newOpenAIEmbeddings(cfg ModelConfig, client HTTPDoer) (*OpenAIEmbeddings, error) {
	base, err := newEmbeddingBase(cfg, false)
	if err != nil {
		return nil, err
	}
	if base.url == "" {
		base.url = defaultOpenAIURL
	}
	return &OpenAIEmbeddings{embeddingBase: base, client: client}, nil
}

type openAIEmbeddingRequest struct {
	Model string   `json:"model"`
	Input []string `json:"input"`
}

type openAIEmbeddingResponse struct {
	Data []struct {
		Index     int       `json:"index"`
		Embedding []float32 `json:"embedding"`
	} `json:"data"`
}

// Embed sends texts to the /embeddings endpoint.
func (m *OpenAIEmbeddings) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, ErrEmptyInput
	}

	var resp openAIEmbeddingResponse
	req := openAIEmbeddingRequest{Model: m.model, Input: texts}
	if err := postJSON(ctx, m.client, m.url+"/embeddings", m.apiKey, req, &resp); err != nil {
		return nil, fmt.Errorf("openai embed %s: %w", m.model, err)
	}
	if len(resp.Data) != len(texts) {
		return nil, fmt.Errorf("openai embed %s: got %d vectors for %d inputs", m.model, len(resp.Data), len(texts))
	}

	vectors := make([][]float32, len(texts))
	for i, d := range resp.Data {
		idx := d.Index
		if idx < 0 || idx >= len(vectors) || vectors[idx] != nil {
			idx = i
		}
		vectors[idx] = d.Embedding
	}
	if err := m.checkDimensions(vectors); err != nil {
		return nil, err
	}
	return vectors, nil
}

// OpenAIChat implements GenerationModel against an OpenAI-compatible /chat/completions API.
type OpenAIChat struct {
	*generationBase
	client HTTPDoer
}

func newOpenAIChat(cfg ModelConfig, client HTTPDoer) (*OpenAIChat, error) {
	base, err := newGenerationBase(cfg, false)
	if err != nil {
		return nil, err
	}
	if base.url == "" {
		base.url = defaultOpenAIURL
	}
	return &OpenAIChat{generationBase: base, client: client}, nil
}

type openAIMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type openAIChatRequest struct {
	Model       string          `json:"model"`
	Messages    []openAIMessage `json:"messages"`
	MaxTokens   int             `json:"max_tokens,omitempty"`
	Temperature float64         `json:"temperature,omitempty"`
}

type openAIChatResponse struct {
	Choices []struct {
		Message      openAIMessage `json:"message"`
		FinishReason string        `json:"finish_reason"`
	} `json:"choices"`
}

// Generate sends the prompt as a single user message.
func (m *OpenAIChat) Generate(ctx context.Context, prompt string, opts GenerateOptions) (string, error) {
	if prompt == "" {
		return "", ErrEmptyInput
	}
	opts = m.options(opts)

	var resp openAIChatResponse
	req := openAIChatRequest{
		Model:       m.model,
		Messages:    []openAIMessage{{Role: "user", Content: prompt}},
		MaxTokens:   opts.MaxNewTokens,
		Temperature: opts.Temperature,
	}
	if err := postJSON(ctx, m.client, m.url+"/chat/completions", m.apiKey, req, &resp); err != nil {
		return "", fmt.Errorf("openai generate %s: %w", m.model, err)
	}
	if len(resp.Choices) == 0 {
		return "", fmt.Errorf("openai generate %s: empty response from provider", m.model)
	}
	return resp.Choices[0].Message.Content, nil
}
