package ai

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"strings"
)

// Environment variables holding the JSON model lists.
const (
	EnvEmbeddingModels  = "AI_EMBEDDING_MODELS"
	EnvGenerationModels = "AI_GENERATION_MODELS"
)

// ModelKind distinguishes the two adapter families.
type ModelKind string

const (
	KindEmbedding  ModelKind = "embedding"
	KindGeneration ModelKind = "generation"
)

// ModelConfig identifies one model as "<backendType>:<modelName>" plus an
// optional endpoint and backend-specific parameters.
type ModelConfig struct {
	Model  string
	URL    string
	Params map[string]json.RawMessage
}

// ManagerConfig holds both model lists. A nil list means the list was missing.
type ManagerConfig struct {
	EmbeddingModels  []ModelConfig
	GenerationModels []ModelConfig
}

// Backend splits the model identifier on the first ':' into backend tag and model name.
func (c ModelConfig) Backend() (BackendType, string) {
	backend, name, _ := strings.Cut(c.Model, ":")
	return BackendType(backend), name
}

func (c ModelConfig) stringParam(key string) (string, bool, error) {
	raw, ok := c.Params[key]
	if !ok {
		return "", false, nil
	}
	s, ok := decodeString(raw)
	if !ok {
		return "", true, newConfigError("%s field should be a string", key)
	}
	return s, true, nil
}

func (c ModelConfig) positiveIntParam(key string) (int, bool, error) {
	raw, ok := c.Params[key]
	if !ok {
		return 0, false, nil
	}
	var n int
	if err := json.Unmarshal(raw, &n); err != nil || n <= 0 {
		return 0, true, newConfigError("%s field should be a positive integer", key)
	}
	return n, true, nil
}

func (c ModelConfig) floatParam(key string) (float64, bool, error) {
	raw, ok := c.Params[key]
	if !ok {
		return 0, false, nil
	}
	var f float64
	if err := json.Unmarshal(raw, &f); err != nil {
		return 0, true, newConfigError("%s field should be a number", key)
	}
	return f, true, nil
}

// ParseConfig decodes the raw JSON model lists. A nil or empty input is
// treated as a missing list; the registry rejects it during construction.
// Both lists are checked for shape before any model entry is decoded.
func ParseConfig(embedding, generation []byte) (ManagerConfig, error) {
	embRaw, err := rawList(embedding, "embedding_models")
	if err != nil {
		return ManagerConfig{}, err
	}
	genRaw, err := rawList(generation, "summarization_models")
	if err != nil {
		return ManagerConfig{}, err
	}

	var cfg ManagerConfig
	if cfg.EmbeddingModels, err = parseModelList(embRaw); err != nil {
		return ManagerConfig{}, err
	}
	if cfg.GenerationModels, err = parseModelList(genRaw); err != nil {
		return ManagerConfig{}, err
	}
	return cfg, nil
}

// ConfigFromEnv reads AI_EMBEDDING_MODELS and AI_GENERATION_MODELS.
// Malformed JSON fails with a ConfigError naming the variable.
func ConfigFromEnv() (ManagerConfig, error) {
	embedding, err := envJSON(EnvEmbeddingModels)
	if err != nil {
		return ManagerConfig{}, err
	}
	generation, err := envJSON(EnvGenerationModels)
	if err != nil {
		return ManagerConfig{}, err
	}
	return ParseConfig(embedding, generation)
}

func envJSON(name string) ([]byte, error) {
	v := strings.TrimSpace(os.Getenv(name))
	if v == "" {
		return nil, nil
	}
	var probe any
	if err := json.Unmarshal([]byte(v), &probe); err != nil {
		return nil, &ConfigError{Msg: fmt.Sprintf("invalid %s JSON", name), Err: err}
	}
	return []byte(v), nil
}

func rawList(data []byte, field string) ([]json.RawMessage, error) {
	data = bytes.TrimSpace(data)
	if len(data) == 0 || bytes.Equal(data, []byte("null")) {
		return nil, nil
	}
	var raw []json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, newConfigError("%s missing or not a list", field)
	}
	if raw == nil {
		raw = []json.RawMessage{}
	}
	return raw, nil
}

func parseModelList(raw []json.RawMessage) ([]ModelConfig, error) {
	if raw == nil {
		return nil, nil
	}
	out := make([]ModelConfig, 0, len(raw))
	for _, item := range raw {
		mc, err := parseModelConfig(item)
		if err != nil {
			return nil, err
		}
		out = append(out, mc)
	}
	return out, nil
}

func parseModelConfig(data json.RawMessage) (ModelConfig, error) {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(data, &fields); err != nil || fields == nil {
		return ModelConfig{}, newConfigError("model config should be an object")
	}

	var mc ModelConfig
	var ok bool
	if mc.Model, ok = decodeString(fields["model"]); !ok {
		return ModelConfig{}, newConfigError("model field should be a string")
	}
	delete(fields, "model")

	if raw, present := fields["url"]; present {
		if mc.URL, ok = decodeString(raw); !ok {
			return ModelConfig{}, newConfigError("url field should be a string")
		}
		delete(fields, "url")
	}

	mc.Params = fields
	return mc, nil
}

// decodeString accepts only JSON strings; null, numbers and objects are rejected.
func decodeString(raw json.RawMessage) (string, bool) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || raw[0] != '"' {
		return "", false
	}
	var s string
	if err := json.Unmarshal(raw, &s); err != nil {
		return "", false
	}
	return s, true
}
