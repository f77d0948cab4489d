package ai

import (
	"context"
	"fmt"
)

// TextGenerationInference talks to a Hugging Face text-generation-inference server.
type TextGenerationInference struct {
	*generationBase
	client HTTPDoer
}

func newTextGenerationInference(cfg ModelConfig, client HTTPDoer) (*TextGenerationInference, error) {
	base, err := newGenerationBase(cfg, true)
	if err != nil {
		return nil, err
	}
	return &TextGenerationInference{generationBase: base, client: client}, nil
}

type tgiParameters struct {
	MaxNewTokens int     `json:"max_new_tokens,omitempty"`
	Temperature  float64 `json:"temperature,omitempty"`
}

type tgiRequest struct {
	Inputs     string        `json:"inputs"`
	Parameters tgiParameters `json:"parameters"`
}

type tgiResponse struct {
	GeneratedText string `json:"generated_text"`
}

// Generate posts the prompt to {url}/generate.
func (m *TextGenerationInference) Generate(ctx context.Context, prompt string, opts GenerateOptions) (string, error) {
	if prompt == "" {
		return "", ErrEmptyInput
	}
	opts = m.options(opts)

	var resp tgiResponse
	req := tgiRequest{
		Inputs: prompt,
		Parameters: tgiParameters{
			MaxNewTokens: opts.MaxNewTokens,
			Temperature:  opts.Temperature,
		},
	}
	if err := postJSON(ctx, m.client, m.url+"/generate", m.apiKey, req, &resp); err != nil {
		return "", fmt.Errorf("tgi generate %s: %w", m.model, err)
	}
	return resp.GeneratedText, nil
}
